package scraper

import (
	"context"
	"fmt"
	"time"
)

// Listing represents one extracted vehicle listing. It is immutable once
// extracted; numeric fields are nil when the source did not provide a
// parsable value, which keeps a genuine zero distinguishable from missing
// data.
type Listing struct {
	URL         string    `json:"url"`
	Source      string    `json:"source"`
	Make        string    `json:"make,omitempty"`
	Model       string    `json:"model,omitempty"`
	Year        *int      `json:"year,omitempty"`
	Price       *int      `json:"price,omitempty"`
	Mileage     *int      `json:"mileage,omitempty"`
	BodyType    string    `json:"body_type,omitempty"`
	Color       string    `json:"color,omitempty"`
	Location    string    `json:"location,omitempty"`
	Category    string    `json:"category,omitempty"`
	Page        int       `json:"page,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}

// Validate checks the listing identity invariant
func (l *Listing) Validate() error {
	if l.URL == "" {
		return fmt.Errorf("listing has empty URL")
	}
	if l.Source == "" {
		return fmt.Errorf("listing %s has empty source", l.URL)
	}
	return nil
}

// CategoryAbort records a category that was cut short mid-run, with the
// rows already collected for it preserved in the sink.
type CategoryAbort struct {
	Category string `json:"category"`
	Page     int    `json:"page"`
	Rows     int    `json:"rows"`
	Reason   string `json:"reason"`
}

// Result is what one full acquisition pass produces
type Result struct {
	Listings []Listing
	Aborts   []CategoryAbort
}

// Scraper interface defines the contract for all source adapters.
// How listings are obtained (browser automation, plain HTTP, a feed) is an
// implementation detail of each adapter.
type Scraper interface {
	// FetchListings runs one full acquisition pass for the source
	FetchListings(ctx context.Context) (*Result, error)

	// GetName returns the adapter's stable identifier
	GetName() string
}
