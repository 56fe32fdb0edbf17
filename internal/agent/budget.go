package agent

import (
	"regexp"
	"strconv"
	"strings"
)

// budgetPattern finds a user-specified numeric budget in phrasings like
// "with a budget of 1000", "budget: $1500", or "under ₹20,000".
var budgetPattern = regexp.MustCompile(`(?i)(?:budget\s*(?:of|is|:)?\s*|under\s+)[$€£₹]?\s*(\d[\d,]*(?:\.\d+)?)`)

// DetectBudget extracts a numeric budget from a user message. ok is
// false when no budget phrasing is present.
func DetectBudget(text string) (float64, bool) {
	m := budgetPattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	raw := strings.ReplaceAll(m[1], ",", "")
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return 0, false
	}
	return v, true
}
