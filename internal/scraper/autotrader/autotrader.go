// Package autotrader crawls car listings from autotrader.ca over plain
// HTTP. The configured search URL is paged with rcp/rcs offset
// parameters until a short page or the page cap, and each page is
// flushed to the sink as soon as it is extracted.
package autotrader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"time"

	"github.com/PuerkitoBio/goquery"

	"recarmend/listingworker/config"
	"recarmend/listingworker/helpers"
	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/logger"
	errs "recarmend/listingworker/pkg/errors"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/sink"
)

// SourceName identifies this adapter in sinks, run records and metrics.
const SourceName = "AutoTrader"

// Crawler acquires listings from an autotrader.ca search URL. Unlike the
// carpages adapter it needs no browser: results render server-side, so a
// plain GET with browser-like headers is enough.
type Crawler struct {
	baseURL       string
	pageCap       int
	retryAttempts int
	retryBackoff  time.Duration
	cooldown      time.Duration

	sink     sink.Sink
	cacheSvc cache.CacheService
	metrics  *scraper.Metrics

	log *logger.Logger
}

var _ scraper.Scraper = (*Crawler)(nil)

// New creates an autotrader.ca crawler. cacheSvc and metrics may be nil;
// cooldown tracking and instrumentation are then skipped.
func New(cfg config.Config, snk sink.Sink, cacheSvc cache.CacheService, metrics *scraper.Metrics) *Crawler {
	return &Crawler{
		baseURL:       cfg.AutotraderURL,
		pageCap:       cfg.PageCap,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
		cooldown:      cfg.CooldownTime,
		sink:          snk,
		cacheSvc:      cacheSvc,
		metrics:       metrics,
		log:           logger.ForScraper(SourceName),
	}
}

// GetName returns the adapter identifier.
func (c *Crawler) GetName() string {
	return SourceName
}

// FetchListings runs one full acquisition pass over the search results.
// Listings are flushed to the sink page by page, so the returned error
// never invalidates rows already persisted.
func (c *Crawler) FetchListings(ctx context.Context) (*scraper.Result, error) {
	if cache.CooldownActive(c.cacheSvc, SourceName) {
		return nil, errs.New(errs.ErrorTypeRateLimit, SourceName, "source is cooling down after rate limiting", nil)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errs.NewConfiguration(fmt.Sprintf("invalid autotrader URL %q", c.baseURL), err)
	}

	if err := c.sink.Begin(SourceName); err != nil {
		return nil, errs.NewWrite(SourceName, "failed to start sink", err)
	}

	result := &scraper.Result{}
	abort, err := c.crawlSearch(ctx, base, result)
	if err != nil {
		return result, err
	}
	if abort != nil {
		result.Aborts = append(result.Aborts, *abort)
		c.log.WithFields(logger.Fields{
			"category": abort.Category,
			"page":     abort.Page,
			"rows":     abort.Rows,
		}).Warn().Msgf("Search aborted: %s", abort.Reason)
	}

	c.log.WithFields(logger.Fields{
		"listings": len(result.Listings),
		"aborts":   len(result.Aborts),
	}).Info().Msg("Crawl finished")
	return result, nil
}

// crawlSearch pages through the search results. It returns a non-nil
// abort note when pagination ends early with its partial rows preserved,
// and an error only for conditions fatal to the whole run.
func (c *Crawler) crawlSearch(ctx context.Context, base *url.URL, result *scraper.Result) (*scraper.CategoryAbort, error) {
	seen := make(map[string]bool)
	bodyType := ""
	rowsCollected := 0

	for pageNum := 1; ; pageNum++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		pageURL := searchPageURL(base, pageNum)
		body, err := c.fetchWithRetry(ctx, pageURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			if errors.Is(err, helpers.ErrRateLimited) {
				cache.SetCooldown(c.cacheSvc, SourceName, c.cooldown)
				if rowsCollected == 0 {
					return nil, errs.NewRateLimit(SourceName, c.cooldown)
				}
				return &scraper.CategoryAbort{Category: bodyType, Page: pageNum, Rows: rowsCollected, Reason: "rate limited by site"}, nil
			}
			return &scraper.CategoryAbort{Category: bodyType, Page: pageNum, Rows: rowsCollected, Reason: err.Error()}, nil
		}

		doc, err := goquery.NewDocumentFromReader(body)
		if err != nil {
			return nil, errs.NewStructural(SourceName, "failed to parse results page", err)
		}

		if pageNum == 1 {
			bodyType = activeBodyType(doc)
			c.log.WithField("body_type", bodyType).Info().Msg("Crawling search results")
		}

		listings, rowErrs, err := extractResults(doc, base, bodyType, pageNum, time.Now())
		if err != nil {
			return nil, err
		}
		for _, re := range rowErrs {
			c.log.WithFields(logger.Fields{
				"page": pageNum,
				"row":  re.Index,
			}).WithError(re.Err).Warn().Msg("Skipping unparsable result card")
			c.metrics.IncRowSkipped(SourceName)
		}

		var fresh []scraper.Listing
		for _, listing := range listings {
			if seen[listing.URL] {
				continue
			}
			seen[listing.URL] = true
			fresh = append(fresh, listing)
		}

		if len(fresh) > 0 {
			if err := c.sink.Append(SourceName, fresh); err != nil {
				c.metrics.IncWriteFailure()
				return nil, errs.NewWrite(SourceName, "failed to flush page to sink", err)
			}
			result.Listings = append(result.Listings, fresh...)
			rowsCollected += len(fresh)
			c.metrics.AddListings(SourceName, len(fresh))
		}
		c.metrics.IncPageFetch(SourceName)
		c.log.WithFields(logger.Fields{"page": pageNum, "rows": len(fresh)}).Debug().Msg("Results page extracted")

		// A page with fewer cards than requested is the last one.
		if len(listings) < pageSize {
			break
		}
		if pageNum >= c.pageCap {
			c.log.WithField("cap", c.pageCap).Warn().Msg("Page cap reached, stopping pagination")
			break
		}
	}

	c.log.WithField("rows", rowsCollected).Info().Msg("Search finished")
	return nil, nil
}

// fetchWithRetry loads a results page, retrying transient failures with
// a linearly growing backoff. Rate limiting is surfaced immediately so
// the caller can start the cooldown window.
func (c *Crawler) fetchWithRetry(ctx context.Context, pageURL string) (io.Reader, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		body, err := helpers.FetchWithRandomHeaders(ctx, pageURL)
		if err == nil {
			return body, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		if errors.Is(err, helpers.ErrRateLimited) {
			return nil, err
		}
		lastErr = err
		c.log.WithFields(logger.Fields{
			"url":     pageURL,
			"attempt": attempt,
		}).WithError(err).Warn().Msg("Page fetch failed")

		if attempt >= c.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryBackoff * time.Duration(attempt)):
		}
	}
	return nil, errs.NewTransient(SourceName, fmt.Sprintf("page fetch failed after %d attempts: %s", c.retryAttempts, pageURL), lastErr)
}
