package scraper

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

// basicColors is the canonical palette. Order matters: the first substring
// match wins, and grey folds into gray.
var basicColors = []string{
	"black", "white", "red", "blue", "green", "yellow",
	"orange", "purple", "pink", "brown", "beige", "gray",
	"grey", "silver", "gold",
}

var digitRun = regexp.MustCompile(`[0-9]+`)

// NormalizeColor maps a raw color string to the canonical palette by
// case-insensitive substring match ("Metallic Silver" becomes "silver").
// A string matching no canonical name is returned verbatim so the
// information is not lost.
func NormalizeColor(raw string) string {
	colorStr := strings.ToLower(raw)
	for _, base := range basicColors {
		if strings.Contains(colorStr, base) {
			if base == "gray" || base == "grey" {
				return "gray"
			}
			return base
		}
	}
	return raw
}

// ParsePrice converts a rendered price ("$22,999") to a number. "CALL",
// "N/A" and anything else unparsable yield nil, never zero.
func ParsePrice(raw string) *int {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || strings.EqualFold(cleaned, "call") {
		return nil
	}
	cleaned = strings.ReplaceAll(cleaned, "$", "")
	cleaned = strings.ReplaceAll(cleaned, ",", "")
	cleaned = strings.TrimSpace(cleaned)

	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	price := int(math.Round(value))
	return &price
}

// ParseMileage extracts the numeric part of a rendered odometer value
// ("82,104 km" becomes 82104). Missing or unparsable values yield nil.
func ParseMileage(raw string) *int {
	cleaned := strings.TrimSpace(raw)
	if cleaned == "" || strings.Contains(strings.ToUpper(cleaned), "CALL") {
		return nil
	}
	cleaned = strings.ReplaceAll(cleaned, ",", "")

	digits := digitRun.FindString(cleaned)
	if digits == "" {
		return nil
	}
	mileage, err := strconv.Atoi(digits)
	if err != nil {
		return nil
	}
	return &mileage
}

// ParseYear converts a model-year token to a number, rejecting values that
// cannot be a model year.
func ParseYear(raw string) *int {
	year, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return nil
	}
	if year < 1900 || year > 2100 {
		return nil
	}
	return &year
}
