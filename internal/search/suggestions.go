package search

import (
	"fmt"
	"sort"
	"strings"
)

// SuggestionGenerator creates suggestions for empty results and for
// unresolved relationship targets, from the symbol names currently in the
// index.
type SuggestionGenerator struct {
	knownTerms map[string]int // lowercased term -> count
	casing     map[string]string
}

// Suggestion is one alternative the caller could try.
type Suggestion struct {
	Term   string `json:"term"`
	Count  int    `json:"count,omitempty"`
	Reason string `json:"reason,omitempty"`
}

// NewSuggestionGenerator creates an empty generator; seed it with
// AddKnownTerms before use.
func NewSuggestionGenerator() *SuggestionGenerator {
	return &SuggestionGenerator{
		knownTerms: make(map[string]int),
		casing:     make(map[string]string),
	}
}

// AddKnownTerms adds terms that exist in the index (symbol names, file
// stems).
func (g *SuggestionGenerator) AddKnownTerms(terms []string) {
	for _, term := range terms {
		lower := strings.ToLower(term)
		g.knownTerms[lower]++
		g.casing[lower] = term
	}
}

// Generate proposes close matches for a term that resolved to nothing:
// exact-case-insensitive hits first, then substring containment, then
// small edit distances.
func (g *SuggestionGenerator) Generate(query string) []Suggestion {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return nil
	}

	var out []Suggestion
	seen := make(map[string]bool)
	add := func(term string, count int, reason string) {
		if seen[term] {
			return
		}
		seen[term] = true
		out = append(out, Suggestion{Term: g.casing[term], Count: count, Reason: reason})
	}

	if count, ok := g.knownTerms[q]; ok {
		add(q, count, "case-insensitive match")
	}

	type scored struct {
		term  string
		count int
		dist  int
	}
	var contains, fuzzy []scored
	budget := len(q)/3 + 1
	for term, count := range g.knownTerms {
		if seen[term] {
			continue
		}
		if strings.Contains(term, q) || strings.Contains(q, term) {
			contains = append(contains, scored{term: term, count: count})
			continue
		}
		if d := levenshtein(q, term, budget); d >= 0 {
			fuzzy = append(fuzzy, scored{term: term, count: count, dist: d})
		}
	}

	sort.Slice(contains, func(i, j int) bool {
		if contains[i].count != contains[j].count {
			return contains[i].count > contains[j].count
		}
		return contains[i].term < contains[j].term
	})
	sort.Slice(fuzzy, func(i, j int) bool {
		if fuzzy[i].dist != fuzzy[j].dist {
			return fuzzy[i].dist < fuzzy[j].dist
		}
		return fuzzy[i].term < fuzzy[j].term
	})

	for _, s := range contains {
		add(s.term, s.count, "partial match")
	}
	for _, s := range fuzzy {
		add(s.term, s.count, fmt.Sprintf("edit distance %d", s.dist))
	}

	if len(out) > 5 {
		out = out[:5]
	}
	return out
}

// FormatEmptyResponse creates a helpful response when search returns
// nothing.
func (g *SuggestionGenerator) FormatEmptyResponse(query, scope string, suggestions []Suggestion) map[string]any {
	response := map[string]any{
		"results": []any{},
		"message": fmt.Sprintf("No direct matches for '%s'", query),
	}

	if len(suggestions) > 0 {
		strs := make([]string, len(suggestions))
		for i, s := range suggestions {
			if s.Count > 0 {
				strs[i] = fmt.Sprintf("Try: '%s' (%d occurrences)", s.Term, s.Count)
			} else {
				strs[i] = fmt.Sprintf("Try: '%s'", s.Term)
			}
		}
		response["suggestions"] = strs
	} else {
		response["suggestions"] = []string{
			"Try broader search terms",
			"Check the index state: manage_project status",
		}
	}

	if scope != "" && scope != "all" {
		response["hint"] = fmt.Sprintf("Searched scope %q. Try scope 'all' to include everything.", scope)
	}

	return response
}

// levenshtein returns the edit distance between a and b, or -1 when it
// exceeds budget (the early-out keeps suggestion generation linear over
// the symbol table).
func levenshtein(a, b string, budget int) int {
	if abs(len(a)-len(b)) > budget {
		return -1
	}
	prev := make([]int, len(b)+1)
	cur := make([]int, len(b)+1)
	for j := 0; j <= len(b); j++ {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		cur[0] = i
		rowMin := cur[0]
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			cur[j] = min(min(cur[j-1]+1, prev[j]+1), prev[j-1]+cost)
			if cur[j] < rowMin {
				rowMin = cur[j]
			}
		}
		if rowMin > budget {
			return -1
		}
		prev, cur = cur, prev
	}
	if prev[len(b)] > budget {
		return -1
	}
	return prev[len(b)]
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
