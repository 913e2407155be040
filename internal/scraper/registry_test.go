package scraper

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errs "recarmend/listingworker/pkg/errors"
)

type stubScraper struct {
	name   string
	result *Result
	err    error
	panics bool
	calls  int
}

var _ Scraper = (*stubScraper)(nil)

func (s *stubScraper) FetchListings(ctx context.Context) (*Result, error) {
	s.calls++
	if s.panics {
		panic("selector exploded")
	}
	if err := ctx.Err(); err != nil {
		return &Result{}, err
	}
	return s.result, s.err
}

func (s *stubScraper) GetName() string {
	return s.name
}

func listingsN(source string, n int) []Listing {
	listings := make([]Listing, 0, n)
	for i := 0; i < n; i++ {
		listings = append(listings, Listing{
			URL:         "https://example.test/v/" + string(rune('a'+i)),
			Source:      source,
			ExtractedAt: time.Now(),
		})
	}
	return listings
}

func TestRunOneSuccess(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &Result{Listings: listingsN("CarPages", 3)}})

	res, err := reg.RunOne(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, "CarPages", res.Source)
	assert.Equal(t, OutcomeSuccess, res.Outcome)
	assert.Equal(t, 3, res.Count)
	assert.NoError(t, res.Err)
	assert.False(t, res.Finished.Before(res.Started))
}

func TestRunOneUnknownSource(t *testing.T) {
	reg := NewRegistry(nil)

	_, err := reg.RunOne(context.Background(), "Kijiji")
	require.Error(t, err)
	assert.Equal(t, errs.ErrorTypeConfiguration, errs.TypeOf(err))
}

func TestRunOnePartialWhenCategoriesAborted(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &Result{
		Listings: listingsN("CarPages", 2),
		Aborts:   []CategoryAbort{{Category: "SUV", Page: 3, Rows: 2, Reason: "bot challenge did not clear"}},
	}})

	res, err := reg.RunOne(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, OutcomePartial, res.Outcome)
	assert.Equal(t, 2, res.Count)
	require.Len(t, res.Aborts, 1)
	assert.NoError(t, res.Err)
}

func TestRunOneAbortedOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reg := NewRegistry(nil)
	reg.Register(&stubScraper{name: "CarPages", result: &Result{}})

	res, err := reg.RunOne(ctx, "CarPages")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAborted, res.Outcome)
	assert.ErrorIs(t, res.Err, context.Canceled)
}

func TestRunAllIsolatesAdapterFailures(t *testing.T) {
	good := &stubScraper{name: "AutoTrader", result: &Result{Listings: listingsN("AutoTrader", 2)}}
	bad := &stubScraper{
		name: "CarPages",
		err:  errs.NewStructural("CarPages", "listing container not found", nil),
	}

	reg := NewRegistry(NewMetrics())
	reg.Register(good)
	reg.Register(bad)

	results := reg.RunAll(context.Background())
	require.Len(t, results, 2)

	// Sorted-name order: AutoTrader before CarPages.
	assert.Equal(t, "AutoTrader", results[0].Source)
	assert.Equal(t, OutcomeSuccess, results[0].Outcome)
	assert.Equal(t, 2, results[0].Count)
	assert.NoError(t, results[0].Err)

	assert.Equal(t, "CarPages", results[1].Source)
	assert.Equal(t, OutcomeFailed, results[1].Outcome)
	assert.Zero(t, results[1].Count)
	assert.Error(t, results[1].Err)

	assert.Equal(t, 1, good.calls)
	assert.Equal(t, 1, bad.calls)
}

func TestRunAllSurvivesPanickingAdapter(t *testing.T) {
	reg := NewRegistry(nil)
	reg.Register(&stubScraper{name: "Broken", panics: true})
	reg.Register(&stubScraper{name: "CarPages", result: &Result{Listings: listingsN("CarPages", 1)}})

	results := reg.RunAll(context.Background())
	require.Len(t, results, 2)

	assert.Equal(t, "Broken", results[0].Source)
	assert.Equal(t, OutcomeFailed, results[0].Outcome)
	require.Error(t, results[0].Err)
	assert.Contains(t, results[0].Err.Error(), "panicked")

	assert.Equal(t, "CarPages", results[1].Source)
	assert.Equal(t, OutcomeSuccess, results[1].Outcome)
}

func TestRunAllDeterministicOrder(t *testing.T) {
	reg := NewRegistry(nil)
	for _, name := range []string{"zeta", "alpha", "midway"} {
		reg.Register(&stubScraper{name: name, result: &Result{}})
	}

	assert.Equal(t, []string{"alpha", "midway", "zeta"}, reg.Names())

	results := reg.RunAll(context.Background())
	require.Len(t, results, 3)
	assert.Equal(t, "alpha", results[0].Source)
	assert.Equal(t, "midway", results[1].Source)
	assert.Equal(t, "zeta", results[2].Source)
}

func TestRegisterReplacesSameName(t *testing.T) {
	first := &stubScraper{name: "CarPages", result: &Result{}}
	second := &stubScraper{name: "CarPages", result: &Result{Listings: listingsN("CarPages", 5)}}

	reg := NewRegistry(nil)
	reg.Register(first)
	reg.Register(second)

	res, err := reg.RunOne(context.Background(), "CarPages")
	require.NoError(t, err)
	assert.Equal(t, 5, res.Count)
	assert.Zero(t, first.calls)
}
