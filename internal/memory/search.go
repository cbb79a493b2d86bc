package memory

import (
	"math"
	"sort"
	"strings"
	"time"
)

// SearchHit is one scored document from memory or history search.
type SearchHit struct {
	Text  string
	Score float64
}

// historyTimestampLayout matches the "[2006-01-02 15:04:05 UTC]" line prefix.
const historyTimestampLayout = "2006-01-02 15:04:05"

// searchDocs ranks documents against the query. With at most one meaningful
// query token it falls back to case-insensitive substring matching; otherwise
// it scores sum((tf/|doc|) * idf) per query token with
// idf = log((N+1)/(df+1)) + 1. decayRate > 0 additionally multiplies scores
// by exp(-decayRate * ageDays) using each document's timestamp prefix.
func searchDocs(docs []string, query string, topK int, decayRate float64, now time.Time) []SearchHit {
	if topK <= 0 {
		topK = 5
	}
	queryTokens := tokenize(query)
	if len(queryTokens) <= 1 {
		return substringSearch(docs, query, topK)
	}

	docTokens := make([][]string, len(docs))
	df := make(map[string]int)
	for i, doc := range docs {
		docTokens[i] = tokenize(doc)
		seen := make(map[string]bool)
		for _, token := range docTokens[i] {
			if !seen[token] {
				seen[token] = true
				df[token]++
			}
		}
	}

	n := float64(len(docs))
	idf := func(token string) float64 {
		return math.Log((n+1)/float64(df[token]+1)) + 1
	}

	var hits []SearchHit
	for i, doc := range docs {
		if len(docTokens[i]) == 0 {
			continue
		}
		counts := make(map[string]int)
		for _, token := range docTokens[i] {
			counts[token]++
		}
		score := 0.0
		for _, token := range queryTokens {
			tf := counts[token]
			if tf == 0 {
				continue
			}
			score += float64(tf) / float64(len(docTokens[i])) * idf(token)
		}
		if score <= 0 {
			continue
		}
		if decayRate > 0 {
			if ts, ok := parseHistoryTimestamp(doc); ok {
				ageDays := now.Sub(ts).Hours() / 24
				if ageDays < 0 {
					ageDays = 0
				}
				score *= math.Exp(-decayRate * ageDays)
			}
		}
		hits = append(hits, SearchHit{Text: doc, Score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}

func substringSearch(docs []string, query string, topK int) []SearchHit {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	var hits []SearchHit
	for _, doc := range docs {
		if strings.Contains(strings.ToLower(doc), needle) {
			hits = append(hits, SearchHit{Text: doc, Score: 1})
			if len(hits) == topK {
				break
			}
		}
	}
	return hits
}

// parseHistoryTimestamp extracts the leading "[YYYY-MM-DD HH:MM:SS UTC]"
// timestamp from a history line.
func parseHistoryTimestamp(line string) (time.Time, bool) {
	if !strings.HasPrefix(line, "[") {
		return time.Time{}, false
	}
	end := strings.IndexByte(line, ']')
	if end < 0 {
		return time.Time{}, false
	}
	inner := strings.TrimSuffix(line[1:end], " UTC")
	ts, err := time.Parse(historyTimestampLayout, inner)
	if err != nil {
		return time.Time{}, false
	}
	return ts.UTC(), true
}
