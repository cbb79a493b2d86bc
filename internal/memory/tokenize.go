package memory

import "strings"

// stopwords excluded from tokenization. Matching happens after lowercasing.
var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "are": true, "but": true,
	"not": true, "you": true, "all": true, "can": true, "her": true,
	"was": true, "one": true, "our": true, "out": true, "has": true,
	"had": true, "his": true, "him": true, "she": true, "they": true,
	"them": true, "this": true, "that": true, "with": true, "from": true,
	"have": true, "will": true, "would": true, "could": true, "should": true,
	"been": true, "were": true, "what": true, "when": true, "where": true,
	"which": true, "their": true, "there": true, "about": true, "into": true,
	"your": true, "just": true, "than": true, "then": true, "some": true,
	"these": true, "those": true, "does": true, "doing": true, "also": true,
	"very": true, "more": true, "most": true, "other": true, "such": true,
	"only": true, "over": true, "same": true, "being": true, "because": true,
	"how": true, "why": true, "who": true, "its": true, "any": true,
	"each": true, "did": true, "get": true, "got": true, "let": true,
	"may": true, "said": true, "use": true, "used": true, "using": true,
}

// tokenize lowercases the text, extracts [a-z0-9_]+ runs longer than two
// characters, and drops stopwords.
func tokenize(text string) []string {
	lower := strings.ToLower(text)
	var tokens []string
	start := -1
	flush := func(end int) {
		if start < 0 {
			return
		}
		token := lower[start:end]
		start = -1
		if len(token) <= 2 || stopwords[token] {
			return
		}
		tokens = append(tokens, token)
	}
	for i := 0; i < len(lower); i++ {
		c := lower[i]
		if (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') || c == '_' {
			if start < 0 {
				start = i
			}
			continue
		}
		flush(i)
	}
	flush(len(lower))
	return tokens
}

// tokenSet returns the distinct tokens of text.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, token := range tokenize(text) {
		set[token] = true
	}
	return set
}

// jaccard computes set similarity in [0, 1]. Two empty sets are identical.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for token := range a {
		if b[token] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}
