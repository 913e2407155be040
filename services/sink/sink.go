package sink

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/logger"
)

// Sink is the durable append-only destination for extracted listings.
// Append must not return until the batch is durable; a returned error is
// fatal for the calling run.
type Sink interface {
	// Begin prepares a fresh output for one source's run, discarding the
	// previous run's rows for that source
	Begin(source string) error

	// Append durably writes a batch of listings for a source
	Append(source string, listings []scraper.Listing) error

	// Close flushes and closes all outputs
	Close() error
}

var csvHeader = []string{
	"year", "make", "model", "price", "mileage", "color", "url",
	"body_type", "location", "category", "page", "extracted_at",
}

type csvFile struct {
	file   *os.File
	writer *csv.Writer
}

// CSVSink writes one CSV file per source under a data directory.
type CSVSink struct {
	dir   string
	log   *logger.Logger
	mu    sync.Mutex
	files map[string]*csvFile
}

var _ Sink = (*CSVSink)(nil)

// NewCSVSink creates a CSV sink rooted at dir, creating it if needed.
func NewCSVSink(dir string) (*CSVSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create sink dir: %w", err)
	}
	return &CSVSink{
		dir:   dir,
		log:   logger.ForSink(),
		files: make(map[string]*csvFile),
	}, nil
}

// Begin truncates the source's file and writes the header row.
func (s *CSVSink) Begin(source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.files[source]; ok {
		existing.writer.Flush()
		existing.file.Close()
		delete(s.files, source)
	}

	path := filepath.Join(s.dir, fileName(source))
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create csv file: %w", err)
	}

	writer := csv.NewWriter(f)
	if err := writer.Write(csvHeader); err != nil {
		f.Close()
		return fmt.Errorf("write csv header: %w", err)
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		f.Close()
		return fmt.Errorf("flush csv header: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("sync csv header: %w", err)
	}

	s.files[source] = &csvFile{file: f, writer: writer}
	s.log.WithField("path", path).Debug().Msg("Sink started")
	return nil
}

// Append writes listings in the order given and syncs before returning.
func (s *CSVSink) Append(source string, listings []scraper.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out, ok := s.files[source]
	if !ok {
		return fmt.Errorf("sink not started for source %q", source)
	}

	for _, listing := range listings {
		if err := out.writer.Write(encodeRow(listing)); err != nil {
			return fmt.Errorf("write csv record: %w", err)
		}
	}
	out.writer.Flush()
	if err := out.writer.Error(); err != nil {
		return fmt.Errorf("flush csv records: %w", err)
	}
	if err := out.file.Sync(); err != nil {
		return fmt.Errorf("sync csv records: %w", err)
	}
	s.log.WithFields(logger.Fields{"source": source, "rows": len(listings)}).Debug().Msg("Batch written")
	return nil
}

// Close flushes and closes every open file.
func (s *CSVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var firstErr error
	for source, out := range s.files {
		out.writer.Flush()
		if err := out.writer.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("flush %s: %w", source, err)
		}
		if err := out.file.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close %s: %w", source, err)
		}
	}
	s.files = make(map[string]*csvFile)
	return firstErr
}

// Path returns the file a source's rows are written to.
func (s *CSVSink) Path(source string) string {
	return filepath.Join(s.dir, fileName(source))
}

func fileName(source string) string {
	safe := strings.ToLower(strings.ReplaceAll(source, " ", "_"))
	return safe + "_listings.csv"
}

func encodeRow(l scraper.Listing) []string {
	return []string{
		formatIntPtr(l.Year),
		l.Make,
		l.Model,
		formatIntPtr(l.Price),
		formatIntPtr(l.Mileage),
		l.Color,
		l.URL,
		l.BodyType,
		l.Location,
		l.Category,
		strconv.Itoa(l.Page),
		l.ExtractedAt.Format(time.RFC3339),
	}
}

// formatIntPtr renders a missing numeric as an empty cell so it can never
// be mistaken for a real zero downstream.
func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
