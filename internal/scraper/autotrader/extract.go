package autotrader

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"recarmend/listingworker/internal/scraper"
	errs "recarmend/listingworker/pkg/errors"
)

// Markup contract for the search results page. AutoTrader renders result
// cards server-side inside a single listings container; the applied
// body-style facet is echoed as a tagged span.
const (
	containerSel = "div#SearchListings"
	cardSel      = "div.result-item"
	titleSel     = "a.result-title"
	priceSel     = "span.price-amount"
	mileageSel   = "span.odometer-proximity"
	locationSel  = "span.proximity-text"
	colorSel     = "span.exterior-colour"
	facetSel     = "span[data-facet='body-style']"
)

// pageSize is the rcp (records per page) value requested on every fetch.
// A response with fewer cards marks the final page.
const pageSize = 15

type rowError struct {
	Index int
	Err   error
}

// searchPageURL derives the URL for one results page, keeping whatever
// search filters the configured URL already carries and overriding only
// the rcp/rcs pagination parameters.
func searchPageURL(base *url.URL, pageNum int) string {
	u := *base
	q := u.Query()
	q.Set("rcp", strconv.Itoa(pageSize))
	q.Set("rcs", strconv.Itoa((pageNum-1)*pageSize))
	u.RawQuery = q.Encode()
	return u.String()
}

// activeBodyType reads the applied body-style facet. An unfiltered search
// has no facet; the body type is then unknown and left empty.
func activeBodyType(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find(facetSel).First().Text())
}

// extractResults pulls all listings from one results page. Cards that
// cannot be parsed are reported as row errors and skipped.
func extractResults(doc *goquery.Document, base *url.URL, bodyType string, pageNum int, now time.Time) ([]scraper.Listing, []rowError, error) {
	container := doc.Find(containerSel).First()
	if container.Length() == 0 {
		return nil, nil, errs.NewStructural(SourceName, "search results container not found", nil)
	}

	var listings []scraper.Listing
	var rowErrs []rowError
	container.Find(cardSel).Each(func(i int, card *goquery.Selection) {
		listing, err := parseCard(card, base)
		if err != nil {
			rowErrs = append(rowErrs, rowError{Index: i, Err: err})
			return
		}
		listing.Source = SourceName
		listing.BodyType = bodyType
		listing.Category = bodyType
		listing.Page = pageNum
		listing.ExtractedAt = now
		listings = append(listings, *listing)
	})
	return listings, rowErrs, nil
}

// parseCard reads a single result card. The title link carries the year,
// make and model as its leading words plus the detail URL.
func parseCard(card *goquery.Selection, base *url.URL) (*scraper.Listing, error) {
	title := card.Find(titleSel).First()

	heading := strings.TrimSpace(title.Text())
	fields := strings.Fields(heading)
	if len(fields) < 3 {
		return nil, fmt.Errorf("result title %q missing year/make/model", heading)
	}

	href, ok := title.Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return nil, fmt.Errorf("result card %q has no detail link", heading)
	}
	detailURL, err := resolveURL(base, strings.TrimSpace(href))
	if err != nil {
		return nil, fmt.Errorf("result card %q has unresolvable link: %w", heading, err)
	}

	return &scraper.Listing{
		URL:      detailURL,
		Year:     scraper.ParseYear(fields[0]),
		Make:     fields[1],
		Model:    fields[2],
		Price:    scraper.ParsePrice(card.Find(priceSel).First().Text()),
		Mileage:  scraper.ParseMileage(card.Find(mileageSel).First().Text()),
		Color:    scraper.NormalizeColor(strings.TrimSpace(card.Find(colorSel).First().Text())),
		Location: strings.TrimSpace(card.Find(locationSel).First().Text()),
	}, nil
}

func resolveURL(base *url.URL, href string) (string, error) {
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}
