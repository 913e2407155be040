// Package uploader pushes a completed run's listings into Postgres,
// replacing the source's previous rows so the query side always sees one
// coherent generation per source.
package uploader

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/logger"
	errs "recarmend/listingworker/pkg/errors"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS car_listings (
	id BIGSERIAL PRIMARY KEY,
	source TEXT NOT NULL,
	url TEXT NOT NULL,
	make TEXT,
	model TEXT,
	year INT,
	price INT,
	mileage INT,
	body_type TEXT,
	color TEXT,
	location TEXT,
	category TEXT,
	page INT,
	extracted_at TIMESTAMPTZ,
	uploaded_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_car_listings_source ON car_listings(source);
CREATE INDEX IF NOT EXISTS idx_car_listings_url ON car_listings(url);
`

const insertSQL = `
INSERT INTO car_listings (source, url, make, model, year, price, mileage, body_type, color, location, category, page, extracted_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13);
`

// PostgresUploader implements the scheduler's Uploader over a pgx pool.
type PostgresUploader struct {
	pool      *pgxpool.Pool
	chunkSize int
	log       *logger.Logger
}

// New connects to Postgres and ensures the listings schema exists.
func New(ctx context.Context, dsn string, chunkSize int) (*PostgresUploader, error) {
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(pingCtx, dsn)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	u := &PostgresUploader{
		pool:      pool,
		chunkSize: chunkSize,
		log:       logger.ForUploader(),
	}
	if err := u.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return u, nil
}

// Close releases the connection pool.
func (u *PostgresUploader) Close() {
	if u.pool != nil {
		u.pool.Close()
	}
}

func (u *PostgresUploader) ensureSchema(ctx context.Context) error {
	schemaCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if _, err := u.pool.Exec(schemaCtx, schemaSQL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// Upload replaces a source's rows with the given listings inside one
// transaction: delete the previous generation, then insert the new set
// in shuffled chunks. Either everything lands or nothing changes.
func (u *PostgresUploader) Upload(ctx context.Context, source string, listings []scraper.Listing) error {
	tx, err := u.pool.Begin(ctx)
	if err != nil {
		return errs.NewUpload(source, "begin upload transaction", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM car_listings WHERE source = $1`, source); err != nil {
		return errs.NewUpload(source, "clear previous generation", err)
	}

	for _, chunk := range chunkListings(shuffledCopy(listings), u.chunkSize) {
		batch := &pgx.Batch{}
		for _, l := range chunk {
			batch.Queue(insertSQL,
				l.Source, l.URL, l.Make, l.Model,
				l.Year, l.Price, l.Mileage,
				l.BodyType, l.Color, l.Location,
				l.Category, l.Page, l.ExtractedAt,
			)
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return errs.NewUpload(source, "insert listings chunk", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return errs.NewUpload(source, "commit upload transaction", err)
	}

	u.log.WithFields(logger.Fields{
		"source":   source,
		"listings": len(listings),
	}).Info().Msg("Upload finished")
	return nil
}

// shuffledCopy returns the listings in random order, leaving the input
// untouched. Presentation order downstream should not mirror crawl
// order.
func shuffledCopy(listings []scraper.Listing) []scraper.Listing {
	out := make([]scraper.Listing, len(listings))
	copy(out, listings)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}

// chunkListings splits listings into consecutive chunks of at most size.
func chunkListings(listings []scraper.Listing, size int) [][]scraper.Listing {
	if size <= 0 {
		size = len(listings)
	}
	var chunks [][]scraper.Listing
	for start := 0; start < len(listings); start += size {
		end := start + size
		if end > len(listings) {
			end = len(listings)
		}
		chunks = append(chunks, listings[start:end])
	}
	return chunks
}
