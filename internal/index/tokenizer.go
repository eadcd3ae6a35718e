package index

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// tokenRegex matches letter/digit runs; underscores are kept so
// identifiers survive as single tokens before case splitting.
var tokenRegex = regexp.MustCompile(`[\p{L}\p{N}_]+`)

// Tokenize splits text into lowercased index terms. Malformed input
// (invalid UTF-8) degrades to a bag of whitespace-split tokens rather
// than failing; tokenization never errors for a single bad document.
func Tokenize(text string, minLength int, stopWords map[string]struct{}) []string {
	var words []string
	if utf8.ValidString(text) {
		words = tokenRegex.FindAllString(text, -1)
	} else {
		words = strings.Fields(text)
	}

	tokens := make([]string, 0, len(words))
	for _, w := range words {
		lower := strings.ToLower(w)
		if len(lower) < minLength {
			continue
		}
		if _, stop := stopWords[lower]; stop {
			continue
		}
		tokens = append(tokens, lower)
	}
	return tokens
}

// BuildStopWordMap converts a slice of stop words to a map for lookup.
func BuildStopWordMap(stopWords []string) map[string]struct{} {
	m := make(map[string]struct{}, len(stopWords))
	for _, w := range stopWords {
		m[strings.ToLower(w)] = struct{}{}
	}
	return m
}

// termFrequencies counts occurrences of each token.
func termFrequencies(tokens []string) map[string]int {
	tf := make(map[string]int, len(tokens))
	for _, t := range tokens {
		tf[t]++
	}
	return tf
}
