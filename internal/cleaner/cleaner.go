// Package cleaner turns raw model output into text that is safe to show and
// speak.
//
// The generation model uses parenthesised spans as a side channel for its
// reasoning ("(THOUGHT: ...)"). Those spans are removed wholesale, which also
// removes legitimate parenthetical remarks in a reply. This is a heuristic,
// not a sanitizer.
package cleaner

import (
	"strings"

	"github.com/dlclark/regexp2"
)

// parenSpan matches from an opening parenthesis to the first closing one,
// across line breaks.
var parenSpan = regexp2.MustCompile(`\(.*?\)`, regexp2.Singleline)

// Clean removes parenthetical spans, turns every newline into a space and
// trims the result. Invalid UTF-8 always comes back as U+FFFD, whether or not
// a span was removed. It never fails; Clean("") is "".
func Clean(raw string) string {
	text := strings.ToValidUTF8(raw, "\uFFFD")
	if stripped, err := parenSpan.Replace(text, "", -1, -1); err == nil {
		text = stripped
	}
	text = strings.ReplaceAll(text, "\n", " ")
	return strings.TrimSpace(text)
}
