// Package factory builds the configured source adapters. It lives apart
// from the scraper package so adapters can import scraper without a
// cycle.
package factory

import (
	"recarmend/listingworker/config"
	"recarmend/listingworker/internal/scraper"
	"recarmend/listingworker/internal/scraper/autotrader"
	"recarmend/listingworker/internal/scraper/carpages"
	"recarmend/listingworker/services/cache"
	"recarmend/listingworker/services/proxy"
	"recarmend/listingworker/services/sink"
)

// CreateScrapers creates all the source adapters based on the
// configuration. cacheSvc, metrics and rot may be nil.
func CreateScrapers(cfg config.Config, snk sink.Sink, cacheSvc cache.CacheService, metrics *scraper.Metrics, rot proxy.Rotator) []scraper.Scraper {
	return []scraper.Scraper{
		carpages.New(cfg, snk, cacheSvc, metrics, rot),
		autotrader.New(cfg, snk, cacheSvc, metrics),
	}
}
