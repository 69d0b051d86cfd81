// Package speech turns assistant text into fetchable speech-audio URLs.
package speech

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxSpeechLength caps the text embedded in a synthesis URL, counted in
// characters rather than bytes.
const MaxSpeechLength = 380

const ellipsis = "..."

var whitespaceRuns = regexp.MustCompile(`\s+`)

// Sanitize collapses whitespace runs to single spaces, trims the ends, and
// caps the result at MaxSpeechLength characters, appending an ellipsis when
// truncated. Truncated output is exactly MaxSpeechLength characters long.
func Sanitize(text string) string {
	collapsed := strings.TrimSpace(whitespaceRuns.ReplaceAllString(text, " "))
	if utf8.RuneCountInString(collapsed) <= MaxSpeechLength {
		return collapsed
	}

	runes := []rune(collapsed)
	return string(runes[:MaxSpeechLength-len(ellipsis)]) + ellipsis
}
