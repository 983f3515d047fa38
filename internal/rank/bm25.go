// Package rank holds the two per-query rankers: BM25F lexical scoring over
// a candidate chunk set, and cosine-similarity vector scoring backed by the
// embedding provider and the in-memory ANN index.
package rank

import (
	"math"
	"sort"
	"strings"
)

// BM25 parameters. Field boosts are fixed: heading terms count triple,
// section-path terms double, body terms once.
const (
	bm25K1 = 1.2
	bm25B  = 0.75

	headingBoost = 3.0
	sectionBoost = 2.0
	textBoost    = 1.0
)

// Doc is one ranking candidate. ID must be the chunk id so rank ties
// resolve identically across runs.
type Doc struct {
	ID          string
	Heading     string
	SectionPath []string
	Text        string
}

// Scored is a document with its lexical score, ordered best-first.
type Scored struct {
	ID    string
	Score float64
}

// Tokenize lowercases and splits on non-alphanumeric runs, dropping
// empties. Shared by BM25, the quick-overlap pruner, and Jaccard
// similarity so every lexical stage agrees on what a term is.
func Tokenize(s string) []string {
	var out []string
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r >= 'a' && r <= 'z' || r >= '0' && r <= '9' {
			b.WriteRune(r)
			continue
		}
		if b.Len() > 0 {
			out = append(out, b.String())
			b.Reset()
		}
	}
	if b.Len() > 0 {
		out = append(out, b.String())
	}
	return out
}

type fieldedDoc struct {
	id      string
	heading map[string]int
	section map[string]int
	text    map[string]int
	length  int // token count of Text only, per the ranking contract
}

// BM25F scores docs against queryTokens. Corpus statistics (document
// frequency, average length) are computed over the candidate set itself,
// not a global corpus, so a query's ranking is self-contained and stable.
// Docs with score 0 are omitted. Ties break by id ascending.
func BM25F(queryTokens []string, docs []Doc) []Scored {
	if len(queryTokens) == 0 || len(docs) == 0 {
		return nil
	}

	fielded := make([]fieldedDoc, len(docs))
	totalLen := 0
	for i, d := range docs {
		textTokens := Tokenize(d.Text)
		fielded[i] = fieldedDoc{
			id:      d.ID,
			heading: countTokens(Tokenize(d.Heading)),
			section: countTokens(Tokenize(strings.Join(d.SectionPath, " "))),
			text:    countTokens(textTokens),
			length:  len(textTokens),
		}
		totalLen += len(textTokens)
	}
	avgLen := float64(totalLen) / float64(len(docs))
	if avgLen == 0 {
		avgLen = 1
	}

	// Document frequency per query term, over the candidate set.
	df := make(map[string]int, len(queryTokens))
	for _, term := range queryTokens {
		if _, seen := df[term]; seen {
			continue
		}
		n := 0
		for i := range fielded {
			if fielded[i].heading[term] > 0 || fielded[i].section[term] > 0 || fielded[i].text[term] > 0 {
				n++
			}
		}
		df[term] = n
	}

	N := float64(len(docs))
	var out []Scored
	for i := range fielded {
		d := &fielded[i]
		score := 0.0
		for term, n := range df {
			if n == 0 {
				continue
			}
			// Weighted term frequency across fields (the BM25F part).
			tf := headingBoost*float64(d.heading[term]) +
				sectionBoost*float64(d.section[term]) +
				textBoost*float64(d.text[term])
			if tf == 0 {
				continue
			}
			idf := idf(N, float64(n))
			norm := tf + bm25K1*(1-bm25B+bm25B*float64(d.length)/avgLen)
			score += idf * tf * (bm25K1 + 1) / norm
		}
		if score > 0 {
			out = append(out, Scored{ID: d.id, Score: score})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// idf is the BM25 inverse document frequency with the +1 smoothing that
// keeps it positive for terms present in most candidates.
func idf(n, df float64) float64 {
	return math.Log((n-df+0.5)/(df+0.5) + 1)
}

func countTokens(tokens []string) map[string]int {
	m := make(map[string]int, len(tokens))
	for _, t := range tokens {
		m[t]++
	}
	return m
}

// TokenOverlap is the quick pruning score used when the candidate chunk
// set exceeds its budget: the number of distinct query tokens present in
// text. Cheap and monotone enough for a coarse cut before real ranking.
func TokenOverlap(queryTokens []string, text string) int {
	set := make(map[string]struct{})
	for _, t := range Tokenize(text) {
		set[t] = struct{}{}
	}
	seen := make(map[string]struct{}, len(queryTokens))
	hits := 0
	for _, q := range queryTokens {
		if _, dup := seen[q]; dup {
			continue
		}
		seen[q] = struct{}{}
		if _, ok := set[q]; ok {
			hits++
		}
	}
	return hits
}

// Jaccard similarity over token sets, the fallback chunk-to-chunk
// similarity when one side has no stored vector.
func Jaccard(a, b string) float64 {
	sa := make(map[string]struct{})
	for _, t := range Tokenize(a) {
		sa[t] = struct{}{}
	}
	sb := make(map[string]struct{})
	for _, t := range Tokenize(b) {
		sb[t] = struct{}{}
	}
	if len(sa) == 0 && len(sb) == 0 {
		return 0
	}
	inter := 0
	for t := range sa {
		if _, ok := sb[t]; ok {
			inter++
		}
	}
	union := len(sa) + len(sb) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}
