package caps

import "strings"

// Matcher decides whether a needle survived into rendered output.
type Matcher interface {
	Contains(output, needle string) bool
}

// MatcherFunc adapts a plain function to Matcher.
type MatcherFunc func(output, needle string) bool

func (f MatcherFunc) Contains(output, needle string) bool {
	return f(output, needle)
}

// Substring matches needles literally.
var Substring Matcher = MatcherFunc(strings.Contains)

// PrefixBoundary reports whether a byte shared by two renders may still start
// a divergence, in which case it is not counted as part of their common
// prefix.
type PrefixBoundary func(c byte) bool

// AngleBracket treats '<' as a boundary so an example keeps its opening
// bracket when two renders diverge right after it, e.g. "<think>" vs.
// "<tool_calls>".
func AngleBracket(c byte) bool {
	return c == '<'
}
