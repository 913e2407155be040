package carpages

import "strings"

// Challenge interstitials replace the document title, while genuine
// inventory pages always carry one of the expected markers. A title
// matching neither list is treated as a challenge; detection is
// heuristic and can miss a challenge that spoofs a plausible title.
var (
	suspiciousTitles = []string{
		"Just a moment",
		"Security Check",
		"Access denied",
		"Attention Required",
		"Checking your browser",
		"reCAPTCHA",
		"Cloudflare",
	}

	expectedTitles = []string{
		"New and Used",
		"Carpages.ca",
	}
)

// isChallenged reports whether a page title looks like a bot-challenge
// interstitial rather than an inventory page.
func isChallenged(title string) bool {
	for _, marker := range suspiciousTitles {
		if strings.Contains(title, marker) {
			return true
		}
	}
	for _, marker := range expectedTitles {
		if strings.Contains(title, marker) {
			return false
		}
	}
	return true
}
