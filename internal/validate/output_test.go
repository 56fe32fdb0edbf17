package validate

import (
	"strings"
	"testing"
)

func TestOutput(t *testing.T) {
	tests := []struct {
		name      string
		response  string
		valid     bool
		maxScore  int
		wantIssue string
	}{
		{
			name:     "clean response",
			response: "The hotel is Hotel Example at $100/night.",
			valid:    true,
			maxScore: 100,
		},
		{
			name:      "empty response",
			response:  "",
			valid:     false,
			maxScore:  0,
			wantIssue: "Empty response",
		},
		{
			name:      "insert placeholder",
			response:  "[insert hotel name]",
			valid:     false,
			maxScore:  80,
			wantIssue: "placeholder",
		},
		{
			name:      "mustache placeholder",
			response:  "Welcome to {{ city }}, enjoy your stay at the hotel.",
			valid:     false,
			maxScore:  80,
			wantIssue: "placeholder",
		},
		{
			name:      "leaked function tag",
			response:  "Here is your plan. <function name=\"get_weather\">",
			valid:     false,
			maxScore:  80,
			wantIssue: "XML",
		},
		{
			name:      "short response",
			response:  "Yes.",
			valid:     false,
			maxScore:  80,
			wantIssue: "too short",
		},
		{
			name:      "whitespace padding does not rescue a short response",
			response:  "Yes.      \n\t   ",
			valid:     false,
			maxScore:  80,
			wantIssue: "too short",
		},
		{
			name:     "multibyte response measured in characters",
			response: "東京は春がとても美しいです。",
			valid:    true,
			maxScore: 100,
		},
		{
			name:     "multiple issues stack",
			response: "[insert hotel name] TODO: fill in {{price}}",
			valid:    false,
			maxScore: 40,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Output(tt.response)
			if got.Valid != tt.valid {
				t.Errorf("Output(%q).Valid = %v, want %v", tt.response, got.Valid, tt.valid)
			}
			if got.Score > tt.maxScore {
				t.Errorf("Output(%q).Score = %d, want <= %d", tt.response, got.Score, tt.maxScore)
			}
			if tt.wantIssue != "" {
				found := false
				for _, issue := range got.Issues {
					if strings.Contains(strings.ToLower(issue), strings.ToLower(tt.wantIssue)) {
						found = true
					}
				}
				if !found {
					t.Errorf("Output(%q).Issues = %v, want one containing %q",
						tt.response, got.Issues, tt.wantIssue)
				}
			}
		})
	}
}

func TestOutputScoreNeverNegative(t *testing.T) {
	// Six distinct issues would naively score -20.
	response := "<system> [insert x] [your y] {{z}} TODO: PLACEHOLDER"
	got := Output(response)
	if got.Score < 0 {
		t.Errorf("Score = %d, want >= 0", got.Score)
	}
}
