package indexer

import (
	"strings"
	"unicode"
)

// Preprocess collapses runs of whitespace and control characters into single spaces.
func Preprocess(text string) string {
	return strings.Join(strings.FieldsFunc(text, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}), " ")
}
