package search

import (
	"strings"
	"unicode"
)

// Stop words ignored when checking for verbatim matches
var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "be": true, "is": true, "are": true,
	"was": true, "to": true, "of": true, "and": true, "in": true, "that": true,
	"have": true, "it": true, "for": true, "not": true, "on": true, "with": true,
	"as": true, "you": true, "do": true, "at": true, "this": true, "but": true,
	"by": true, "from": true, "what": true, "which": true, "who": true,
	"how": true, "does": true, "did": true, "about": true, "when": true,
	"where": true, "why": true,
}

// keywords splits text on anything that is not a letter or digit, lowercases
// the words and drops stop words.
func keywords(text string) []string {
	words := strings.FieldsFunc(text, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := words[:0]
	for _, word := range words {
		word = strings.ToLower(word)
		if !stopWords[word] {
			out = append(out, word)
		}
	}
	return out
}

// containsAllQueryWords reports whether every keyword of query appears in document.
func containsAllQueryWords(document, query string) bool {
	queryWords := keywords(query)
	if len(queryWords) == 0 {
		return false
	}

	docWords := make(map[string]bool)
	for _, word := range keywords(document) {
		docWords[word] = true
	}
	for _, word := range queryWords {
		if !docWords[word] {
			return false
		}
	}
	return true
}
