package template

import "regexp"

// generationTag matches {% generation %} / {% endgeneration %} markers, with
// or without whitespace control, which some templates use to flag assistant
// spans for training masks. They carry no output and most engines reject them.
var generationTag = regexp.MustCompile(`\{%-?\s*(?:end)?generation\s*-?%\}`)

// Rewrite prepares a template source for rendering by removing tags that have
// no effect on output.
func Rewrite(source string) string {
	return generationTag.ReplaceAllString(source, "")
}
