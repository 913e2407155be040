// Package carpages crawls car listings from carpages.ca with a headless
// browser, walking every body-type category page by page and flushing
// extracted listings to the durable sink after each page.
package carpages

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"recarmend/listingworker/config"
	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/logger"
	errs "recarmend/listingworker/pkg/errors"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/proxy"
	"recarmend/listingworker/services/sink"
)

// SourceName identifies this adapter in sinks, run records and metrics.
const SourceName = "CarPages"

// Crawler acquires listings from carpages.ca. One crawl walks the
// homepage category links, then pages through each category via the
// pagination arrow, restarting the browser periodically to reset the
// site's per-session tracking.
type Crawler struct {
	baseURL       string
	pageCap       int
	restartEvery  int
	retryAttempts int
	retryBackoff  time.Duration
	challengeWait time.Duration
	challengePoll time.Duration
	cooldown      time.Duration

	sink     sink.Sink
	cacheSvc cache.CacheService
	metrics  *scraper.Metrics
	rot      proxy.Rotator

	// newFetcher is swapped for a stub in tests.
	newFetcher func() (pageFetcher, error)
	proxyAddr  string

	log *logger.Logger
}

var _ scraper.Scraper = (*Crawler)(nil)

// New creates a carpages.ca crawler. cacheSvc, metrics and rot may be
// nil; cooldown tracking, instrumentation and proxying are then skipped.
func New(cfg config.Config, snk sink.Sink, cacheSvc cache.CacheService, metrics *scraper.Metrics, rot proxy.Rotator) *Crawler {
	c := &Crawler{
		baseURL:       cfg.CarpagesURL,
		pageCap:       cfg.PageCap,
		restartEvery:  cfg.RestartEvery,
		retryAttempts: cfg.RetryAttempts,
		retryBackoff:  cfg.RetryBackoff,
		challengeWait: cfg.ChallengeWait,
		challengePoll: time.Second,
		cooldown:      cfg.CooldownTime,
		sink:          snk,
		cacheSvc:      cacheSvc,
		metrics:       metrics,
		rot:           rot,
		log:           logger.ForScraper(SourceName),
	}
	c.newFetcher = func() (pageFetcher, error) {
		c.proxyAddr = ""
		if c.rot != nil {
			if addr, ok := c.rot.Current(); ok {
				c.proxyAddr = addr
			}
		}
		return newBrowserSession(sessionConfig{
			Headless:   cfg.Headless,
			NavTimeout: cfg.NavTimeout,
			ProxyAddr:  c.proxyAddr,
		})
	}
	return c
}

// GetName returns the adapter identifier.
func (c *Crawler) GetName() string {
	return SourceName
}

// FetchListings runs one full acquisition pass. Listings are flushed to
// the sink page by page, so the returned error never invalidates rows
// already persisted; the partial Result reports what made it out.
func (c *Crawler) FetchListings(ctx context.Context) (*scraper.Result, error) {
	if cache.CooldownActive(c.cacheSvc, SourceName) {
		return nil, errs.New(errs.ErrorTypeRateLimit, SourceName, "source is cooling down after a recent challenge", nil)
	}

	base, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errs.NewConfiguration(fmt.Sprintf("invalid carpages URL %q", c.baseURL), err)
	}

	// Open the session before touching the sink: a failed browser
	// launch must keep the previous run's rows intact.
	fetcher, err := c.newFetcher()
	if err != nil {
		return nil, errs.NewTransient(SourceName, "failed to open browser session", err)
	}
	defer fetcher.Close()

	if err := c.sink.Begin(SourceName); err != nil {
		return nil, errs.NewWrite(SourceName, "failed to start sink", err)
	}

	result := &scraper.Result{}
	seen := make(map[string]bool)

	home, err := c.openHomepage(ctx, fetcher)
	if err != nil {
		if c.rot != nil && c.proxyAddr != "" && ctx.Err() == nil {
			c.rot.MarkFailed(c.proxyAddr)
		}
		return result, err
	}

	doc, err := parseDocument(home.HTML)
	if err != nil {
		return result, err
	}

	categories := discoverCategories(doc, base)
	if len(categories) == 0 {
		return result, errs.NewStructural(SourceName, "no category links on homepage", nil)
	}
	c.log.WithField("categories", len(categories)).Info().Msg("Discovered listing categories")

	pagesInSession := 0
	for i, categoryURL := range categories {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		// Restart between categories to reset cache and cookies.
		if i > 0 {
			if err := c.restartSession(ctx, fetcher); err != nil {
				return result, err
			}
			pagesInSession = 0
		}

		abort, err := c.crawlCategory(ctx, fetcher, base, categoryURL, seen, result, &pagesInSession)
		if err != nil {
			return result, err
		}
		if abort != nil {
			result.Aborts = append(result.Aborts, *abort)
			c.log.WithFields(logger.Fields{
				"category": abort.Category,
				"page":     abort.Page,
				"rows":     abort.Rows,
			}).Warn().Msgf("Category aborted: %s", abort.Reason)
		}
	}

	c.log.WithFields(logger.Fields{
		"listings": len(result.Listings),
		"aborts":   len(result.Aborts),
	}).Info().Msg("Crawl finished")
	return result, nil
}

// openHomepage loads the landing page and clears first-visit friction.
func (c *Crawler) openHomepage(ctx context.Context, fetcher pageFetcher) (*Page, error) {
	page, err := c.fetchWithRetry(ctx, fetcher, c.baseURL)
	if err != nil {
		return nil, err
	}

	fetcher.DismissConsent(ctx)
	fetcher.DismissLocationPrompt(ctx)

	page, clear := c.ensureClear(ctx, fetcher, page)
	if !clear {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		cache.SetCooldown(c.cacheSvc, SourceName, c.cooldown)
		return nil, errs.NewFriction(SourceName, "challenge on homepage did not clear", nil)
	}
	return page, nil
}

// restartSession relaunches the browser and repeats the first-visit
// ritual. A failed homepage revisit is not fatal; the next category
// fetch carries its own retries.
func (c *Crawler) restartSession(ctx context.Context, fetcher pageFetcher) error {
	c.log.Debug().Msg("Restarting browser between categories")
	if err := fetcher.Restart(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return errs.NewTransient(SourceName, "browser restart failed", err)
	}

	if _, err := c.fetchWithRetry(ctx, fetcher, c.baseURL); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.log.WithError(err).Warn().Msg("Homepage revisit after restart failed")
		return nil
	}
	fetcher.DismissConsent(ctx)
	fetcher.DismissLocationPrompt(ctx)
	return nil
}

// crawlCategory pages through one category. It returns a non-nil abort
// note when the category ends early with its partial rows preserved,
// and an error only for conditions fatal to the whole run.
func (c *Crawler) crawlCategory(ctx context.Context, fetcher pageFetcher, base *url.URL, categoryURL string, seen map[string]bool, result *scraper.Result, pagesInSession *int) (*scraper.CategoryAbort, error) {
	page, err := c.fetchWithRetry(ctx, fetcher, categoryURL)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return &scraper.CategoryAbort{Category: categoryURL, Reason: err.Error()}, nil
	}
	*pagesInSession++

	page, clear := c.ensureClear(ctx, fetcher, page)
	if !clear {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		cache.SetCooldown(c.cacheSvc, SourceName, c.cooldown)
		return &scraper.CategoryAbort{Category: categoryURL, Reason: "bot challenge did not clear"}, nil
	}

	doc, err := parseDocument(page.HTML)
	if err != nil {
		return nil, err
	}

	heading := pageHeading(doc)
	if heading == "" {
		return nil, errs.NewStructural(SourceName, "category heading not found", nil)
	}
	bodyType := bodyTypeFromHeading(heading)

	catLog := c.log.WithField("category", bodyType)
	catLog.WithField("url", categoryURL).Info().Msg("Crawling category")

	rowsCollected := 0
	justRestarted := false
	for pageNum := 1; ; pageNum++ {
		listings, rowErrs, err := extractPage(doc, base, heading, bodyType, pageNum, time.Now())
		if err != nil {
			return nil, err
		}
		for _, re := range rowErrs {
			catLog.WithFields(logger.Fields{
				"page": pageNum,
				"row":  re.Index,
			}).WithError(re.Err).Warn().Msg("Skipping unparsable listing row")
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
		catLog.WithFields(logger.Fields{"page": pageNum, "rows": len(fresh)}).Debug().Msg("Page extracted")

		if pageNum >= c.pageCap {
			catLog.WithField("cap", c.pageCap).Warn().Msg("Page cap reached, moving on")
			break
		}

		nextURL, ok := findNextURL(doc, base)
		if !ok {
			break
		}

		// Periodic restart within long categories.
		if c.restartEvery > 0 && *pagesInSession >= c.restartEvery {
			catLog.WithField("page", pageNum).Info().Msg("Restarting browser to reset session state")
			if err := fetcher.Restart(ctx); err != nil {
				if ctxErr := ctx.Err(); ctxErr != nil {
					return nil, ctxErr
				}
				return nil, errs.NewTransient(SourceName, "browser restart failed", err)
			}
			*pagesInSession = 0
			justRestarted = true
		}

		page, err = c.fetchWithRetry(ctx, fetcher, nextURL)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			return &scraper.CategoryAbort{Category: bodyType, Page: pageNum + 1, Rows: rowsCollected, Reason: err.Error()}, nil
		}
		*pagesInSession++

		if justRestarted {
			fetcher.DismissConsent(ctx)
			justRestarted = false
		}

		page, clear = c.ensureClear(ctx, fetcher, page)
		if !clear {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
			cache.SetCooldown(c.cacheSvc, SourceName, c.cooldown)
			return &scraper.CategoryAbort{Category: bodyType, Page: pageNum + 1, Rows: rowsCollected, Reason: "bot challenge did not clear"}, nil
		}

		doc, err = parseDocument(page.HTML)
		if err != nil {
			return nil, err
		}
	}

	catLog.WithField("rows", rowsCollected).Info().Msg("Category finished")
	return nil, nil
}

// fetchWithRetry loads a page, retrying transient failures with a
// linearly growing backoff.
func (c *Crawler) fetchWithRetry(ctx context.Context, fetcher pageFetcher, pageURL string) (*Page, error) {
	var lastErr error
	for attempt := 1; ; attempt++ {
		page, err := fetcher.Fetch(ctx, pageURL)
		if err == nil {
			return page, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		lastErr = err
		c.log.WithFields(logger.Fields{
			"url":     pageURL,
			"attempt": attempt,
		}).WithError(err).Warn().Msg("Page load failed")

		if attempt >= c.retryAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.retryBackoff * time.Duration(attempt)):
		}
	}
	return nil, errs.NewTransient(SourceName, fmt.Sprintf("page load failed after %d attempts: %s", c.retryAttempts, pageURL), lastErr)
}

// ensureClear waits out a bot-challenge interstitial. Challenges often
// resolve themselves within a few seconds once the browser passes the
// background checks; the page is re-read each second until the wait
// budget runs out.
func (c *Crawler) ensureClear(ctx context.Context, fetcher pageFetcher, page *Page) (*Page, bool) {
	if !isChallenged(page.Title) {
		return page, true
	}

	c.log.WithField("title", page.Title).Warn().Msg("Challenge detected, waiting for clearance")
	deadline := time.Now().Add(c.challengeWait)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return page, false
		case <-time.After(c.challengePoll):
		}

		snap, err := fetcher.Snapshot(ctx)
		if err != nil {
			continue
		}
		if !isChallenged(snap.Title) {
			c.log.Info().Msg("Challenge cleared")
			return snap, true
		}
		page = snap
	}
	return page, false
}
