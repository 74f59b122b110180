package resolver

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// NormalizeText performs Unicode normalization, drops control characters and
// collapses runs of whitespace.
func NormalizeText(text string) string {
	normed := norm.NFKC.String(text)
	normed = strings.Map(func(r rune) rune {
		if r == '\n' || r == '\t' {
			return ' '
		}
		if unicode.IsControl(r) {
			return -1
		}
		return r
	}, normed)
	return strings.Join(strings.Fields(normed), " ")
}

// foldText is the comparison form used by the lexical matcher.
// A Caser is stateful, so one is built per call.
func foldText(text string) string {
	normed := NormalizeText(text)
	if normed == "" {
		return ""
	}
	return cases.Fold().String(normed)
}
