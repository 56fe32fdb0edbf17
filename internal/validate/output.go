package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// placeholderPatterns catch template artifacts the model sometimes
// emits instead of real content ("[insert hotel name]", "{{city}}").
var placeholderPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\[insert\s+\w+`),
	regexp.MustCompile(`(?i)\[your\s+\w+`),
	regexp.MustCompile(`\{\{\s*\w+\s*\}\}`),
	regexp.MustCompile(`TODO:`),
	regexp.MustCompile(`PLACEHOLDER`),
}

// leakedTagPattern catches internal tool-call or role framing syntax
// leaking into natural-language output.
var leakedTagPattern = regexp.MustCompile(`(?i)<(function|tool|system|assistant|user)[\s>=]`)

// Report is the result of output quality scoring.
type Report struct {
	Valid  bool
	Issues []string
	Score  int
}

// Output scores an agent response for quality artifacts. Each detected
// issue deducts 20 points from a base of 100, clamped to [0, 100].
// The result is advisory: callers log it but never withhold the
// response from the user.
func Output(response string) Report {
	if response == "" {
		return Report{Valid: false, Issues: []string{"Empty response"}, Score: 0}
	}

	var issues []string

	// Length is judged on the trimmed text, in characters, so padding
	// whitespace or multi-byte scripts do not skew the check.
	if utf8.RuneCountInString(strings.TrimSpace(response)) < 10 {
		issues = append(issues, "Response too short (less than 10 characters)")
	}

	for _, pattern := range placeholderPatterns {
		if pattern.MatchString(response) {
			issues = append(issues, "Contains placeholder pattern: "+pattern.String())
		}
	}

	if leakedTagPattern.MatchString(response) {
		issues = append(issues, "Contains XML/code artifacts")
	}

	score := 100 - len(issues)*20
	if score < 0 {
		score = 0
	}

	return Report{
		Valid:  len(issues) == 0,
		Issues: issues,
		Score:  score,
	}
}
