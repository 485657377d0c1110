package lexical

import (
	"strings"
	"unicode"
)

// Tokenize lowercases text and splits it on every rune that is neither a
// letter nor a digit. It is shared by the BM25 index and the title and
// numeric similarity scorers so all three see the same terms.
func Tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// TokenSet returns the distinct tokens of text
func TokenSet(text string) map[string]struct{} {
	tokens := Tokenize(text)
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		set[t] = struct{}{}
	}
	return set
}
