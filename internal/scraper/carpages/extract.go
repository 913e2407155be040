package carpages

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"recarmend/listingworker/internal/scraper"
	errs "recarmend/listingworker/pkg/errors"
)

// carpages.ca renders Tailwind utility classes with a "tw:" prefix;
// attribute-substring matches keep working when the site appends extra
// utilities to an element.
const (
	categorySel      = "div.category-jellybeans a"
	containerSel     = "div[class*='tw:laptop:col-span-8']"
	rowSel           = "div[class*='tw:flex'][class*='tw:p-6']"
	priceSel         = "span[class*='tw:font-bold tw:text-xl']"
	mileageHeaderSel = "div[class*='tw:col-span-full tw:mobile-lg:col-span-6 tw:laptop:col-span-4']"
	mileageBoxSel    = "div[class*='tw:text-gray-500']"
	colorSel         = "span[class*='tw:text-sm tw:font-bold']"
)

// rowError records one listing row that failed to parse.
type rowError struct {
	Index int
	Err   error
}

func parseDocument(html string) (*goquery.Document, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, errs.NewStructural(SourceName, "failed to parse page HTML", err)
	}
	return doc, nil
}

// discoverCategories returns the category link URLs from the homepage
// jellybean strip, in page order, without duplicates.
func discoverCategories(doc *goquery.Document, base *url.URL) []string {
	seen := make(map[string]bool)
	var urls []string
	doc.Find(categorySel).Each(func(_ int, s *goquery.Selection) {
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return
		}
		resolved := resolveURL(base, href)
		if resolved == "" || seen[resolved] {
			return
		}
		seen[resolved] = true
		urls = append(urls, resolved)
	})
	return urls
}

// pageHeading returns the first h1 text, which names the category.
func pageHeading(doc *goquery.Document) string {
	return strings.TrimSpace(doc.Find("h1").First().Text())
}

// bodyTypeFromHeading normalizes a category heading like "New and Used
// SUVs for Sale" to a body type label. The site files hybrids under the
// bare "Cars" heading.
func bodyTypeFromHeading(heading string) string {
	bodyType := strings.TrimSpace(heading)
	if strings.Contains(bodyType, "New and Used") {
		bodyType = strings.ReplaceAll(bodyType, "New and Used ", "")
		bodyType = strings.ReplaceAll(bodyType, " for Sale", "")
	}
	switch {
	case bodyType == "Cars":
		return "hybrid"
	case strings.Contains(bodyType, "Hatchbacks"):
		return "Hatchback"
	case strings.Contains(bodyType, "SUV"):
		return "SUV"
	case strings.Contains(bodyType, "Minivan"):
		return "Minivan"
	}
	return strings.TrimSuffix(bodyType, "s")
}

// extractPage pulls every listing row out of a category page. Rows that
// fail to parse are reported individually and do not fail the page; a
// missing listing container fails the whole run because it means the
// markup changed beyond recognition.
func extractPage(doc *goquery.Document, base *url.URL, heading, bodyType string, pageNum int, now time.Time) ([]scraper.Listing, []rowError, error) {
	container := doc.Find(containerSel).First()
	if container.Length() == 0 {
		return nil, nil, errs.NewStructural(SourceName, "listing container not found", nil)
	}

	var listings []scraper.Listing
	var rowErrs []rowError
	container.Find(rowSel).Each(func(i int, row *goquery.Selection) {
		listing, err := parseRow(row, base)
		if err != nil {
			rowErrs = append(rowErrs, rowError{Index: i, Err: err})
			return
		}
		listing.Source = SourceName
		listing.BodyType = bodyType
		listing.Category = heading
		listing.Page = pageNum
		listing.ExtractedAt = now
		listings = append(listings, listing)
	})
	return listings, rowErrs, nil
}

// parseRow extracts one listing from a result row. The h4 heading reads
// "<year> <make> <model> <trim...>"; only the first three tokens are
// structured, the rest is free-text trim.
func parseRow(row *goquery.Selection, base *url.URL) (scraper.Listing, error) {
	header := strings.TrimSpace(row.Find("h4").First().Text())
	fields := strings.Fields(header)
	if len(fields) < 3 {
		return scraper.Listing{}, fmt.Errorf("listing header %q missing year/make/model", header)
	}

	href, ok := row.Find("a[href]").First().Attr("href")
	if !ok || strings.TrimSpace(href) == "" {
		return scraper.Listing{}, fmt.Errorf("listing %q has no detail link", header)
	}

	return scraper.Listing{
		URL:     resolveURL(base, href),
		Year:    scraper.ParseYear(fields[0]),
		Make:    fields[1],
		Model:   fields[2],
		Price:   scraper.ParsePrice(row.Find(priceSel).First().Text()),
		Mileage: rowMileage(row),
		Color:   scraper.NormalizeColor(strings.TrimSpace(row.Find(colorSel).First().Text())),
	}, nil
}

// rowMileage reads the odometer value. The digits are split across
// .number spans inside the gray info box; a missing box or a "CALL"
// placeholder means the mileage is unknown.
func rowMileage(row *goquery.Selection) *int {
	box := row.Find(mileageHeaderSel).First().Find(mileageBoxSel).First()
	if box.Length() == 0 {
		return nil
	}

	raw := strings.TrimSpace(box.Text())
	if raw == "" || strings.Contains(strings.ToUpper(raw), "CALL") {
		return nil
	}

	var digits strings.Builder
	box.Find(".number").Each(func(_ int, s *goquery.Selection) {
		digits.WriteString(strings.TrimSpace(s.Text()))
	})
	if digits.Len() > 0 {
		return scraper.ParseMileage(digits.String())
	}
	return scraper.ParseMileage(raw)
}

// findNextURL locates the pagination arrow and returns its target. The
// arrow is present but disabled on the last page of a category.
func findNextURL(doc *goquery.Document, base *url.URL) (string, bool) {
	var next string
	doc.Find("a").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if strings.TrimSpace(s.Text()) != "→" {
			return true
		}
		if class, _ := s.Attr("class"); strings.Contains(class, "disabled") {
			return false
		}
		href, ok := s.Attr("href")
		if !ok || strings.TrimSpace(href) == "" {
			return false
		}
		next = resolveURL(base, href)
		return false
	})
	return next, next != ""
}

func resolveURL(base *url.URL, href string) string {
	ref, err := url.Parse(strings.TrimSpace(href))
	if err != nil {
		return ""
	}
	if base == nil {
		return ref.String()
	}
	return base.ResolveReference(ref).String()
}
