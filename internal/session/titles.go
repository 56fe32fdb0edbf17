package session

import "strings"

// titlePrefixes are courtesy/request openings stripped before deriving
// a session title, so "Plan a trip to Tokyo with my family" titles as
// "Tokyo With My Family" rather than "Plan A Trip To".
var titlePrefixes = []string{
	"plan a trip to ",
	"plan a ",
	"i want to ",
	"can you ",
	"please ",
	"tell me about ",
	"what is the weather in ",
	"weather in ",
}

// maxTitleWords bounds the derived title length.
const maxTitleWords = 4

// Title derives a short human-readable session title from the first
// user message: prefix-stripped, truncated to the first few words,
// title-cased.
func Title(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	for _, prefix := range titlePrefixes {
		if strings.HasPrefix(text, prefix) {
			text = text[len(prefix):]
			break
		}
	}

	words := strings.Fields(text)
	if len(words) > maxTitleWords {
		words = words[:maxTitleWords]
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}

	title := strings.Join(words, " ")
	if title == "" {
		return "New Conversation"
	}
	return title
}
