package resolver

import (
	"github.com/pmezard/go-difflib/difflib"
)

// Matcher scores the lexical closeness of two strings in [0,1].
type Matcher interface {
	Similarity(a, b string) float64
}

// MatcherFunc adapts a plain function to the Matcher interface.
type MatcherFunc func(a, b string) float64

// Similarity calls f(a, b).
func (f MatcherFunc) Similarity(a, b string) float64 {
	return f(a, b)
}

// LexicalMatcher is the default Matcher, backed by Similarity.
var LexicalMatcher Matcher = MatcherFunc(Similarity)

// Similarity returns the Ratcliff/Obershelp ratio of the case-folded inputs:
// 2*M/T where M is the number of matched runes and T the total rune count.
// Two empty strings score 1; one empty string scores 0.
func Similarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1
	}
	if a == "" || b == "" {
		return 0
	}
	fa, fb := foldText(a), foldText(b)
	if fa == fb {
		return 1
	}
	if fa == "" || fb == "" {
		return 0
	}
	return difflib.NewMatcher(splitRunes(fa), splitRunes(fb)).Ratio()
}

func splitRunes(s string) []string {
	out := make([]string, 0, len(s))
	for _, r := range s {
		out = append(out, string(r))
	}
	return out
}
