// Package validate gates what enters and leaves the agent loop.
// Input validation is a hard gate: a rejected query never reaches the
// LLM or any tool. Output validation is advisory only — it scores the
// response for observability but never blocks delivery.
package validate

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Input length bounds, in characters of the trimmed query.
const (
	MinQueryLen = 3
	MaxQueryLen = 2000
)

// injectionPatterns are prompt-injection heuristics. Attackers try to
// override the system prompt with phrasing like "ignore previous
// instructions" or fake role framing.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(previous|above|all)\s+instructions`),
	regexp.MustCompile(`(?i)disregard\s+(previous|above|all)`),
	regexp.MustCompile(`(?i)forget\s+(previous|above|everything)`),
	regexp.MustCompile(`(?i)system\s*:\s*you\s+are`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)print\s+your\s+(instructions|prompt)`),
}

// Verdict is the result of input validation.
type Verdict struct {
	Valid   bool
	Message string
}

// Input validates a user query before it is processed by the agent.
// Rejections carry a specific, actionable message.
func Input(query string) Verdict {
	if query == "" {
		return Verdict{Valid: false, Message: "Query must be a non-empty string"}
	}

	trimmed := strings.TrimSpace(query)

	// Bounds are in characters, not bytes, so multi-byte scripts are
	// measured the same as ASCII.
	length := utf8.RuneCountInString(trimmed)
	if length < MinQueryLen {
		return Verdict{Valid: false, Message: "Query too short (minimum 3 characters)"}
	}
	if length > MaxQueryLen {
		return Verdict{Valid: false, Message: "Query too long (maximum 2000 characters)"}
	}

	for _, pattern := range injectionPatterns {
		if pattern.MatchString(trimmed) {
			return Verdict{Valid: false, Message: "Invalid query: contains suspicious patterns"}
		}
	}

	return Verdict{Valid: true}
}
