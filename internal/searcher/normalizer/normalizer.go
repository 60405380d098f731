// Package normalizer is the default boundary between raw query text and
// index terms: it lower-cases input, splits on non-alphanumeric boundaries,
// removes stop-words and applies the English Snowball stemmer.
//
// Documents and queries must go through the same normalizer, otherwise their
// terms will not compare equal.
package normalizer

import (
	"strings"
	"unicode"

	"github.com/kljensen/snowball"

	"github.com/wikisearch/search-engine/internal/index"
)

var stopWords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {},
	"be": {}, "by": {}, "for": {}, "from": {}, "has": {}, "he": {},
	"in": {}, "is": {}, "it": {}, "its": {}, "of": {}, "on": {},
	"or": {}, "that": {}, "the": {}, "to": {}, "was": {}, "were": {},
	"will": {}, "with": {}, "this": {}, "but": {}, "they": {},
	"have": {}, "had": {}, "what": {}, "when": {}, "where": {},
	"who": {}, "which": {}, "their": {}, "if": {}, "each": {},
	"do": {}, "not": {}, "no": {}, "so": {}, "can": {},
}

// Normalize returns the ordered terms of text. Repeated words yield repeated
// terms.
func Normalize(text string) []index.Term {
	text = strings.ToLower(text)
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	terms := make([]index.Term, 0, len(words))
	for _, word := range words {
		if len([]rune(word)) < 2 {
			continue
		}
		if _, isStop := stopWords[word]; isStop {
			continue
		}
		if t := stem(word); t != "" {
			terms = append(terms, t)
		}
	}
	return terms
}

// stem falls back to the unstemmed word when Snowball rejects it.
func stem(word string) string {
	stemmed, err := snowball.Stem(word, "english", true)
	if err != nil || stemmed == "" {
		return word
	}
	return stemmed
}
