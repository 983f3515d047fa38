package chunk

import (
	"regexp"
	"strings"
)

const (
	previewMaxLines = 8
	summaryMaxLines = 3
)

var (
	bulletRe     = regexp.MustCompile(`^\s*([-*+]|\d+[.)])\s+`)
	admonitionRe = regexp.MustCompile(`(?i)^\s*(>\s*)?\[!(note|warning|tip|important|caution)\]`)
	docTagRe     = regexp.MustCompile(`@(param|return|returns|throws|raises|deprecated|see|example)\b`)
	wsRe         = regexp.MustCompile(`\s+`)
)

type scoredLine struct {
	text  string
	index int // original order, used as a stable tie-break
	score int
}

// Preview builds the deterministic preview for a chunk: scores every
// non-empty line, takes the top-scoring lines (in their original order) up
// to maxLines and maxChars, and falls back to a whitespace-collapsed,
// character-capped prefix when nothing scores positive. Byte-identical for
// byte-identical (chunk, queryTokens, maxChars) inputs, so it is safe to
// cache by those inputs.
func Preview(c Chunk, queryTokens []string, maxChars int) string {
	return build(c, queryTokens, maxChars, previewMaxLines)
}

// Summary is Preview capped at 3 lines instead of 8, used for compact
// evidence listings.
func Summary(c Chunk, queryTokens []string, maxChars int) string {
	return build(c, queryTokens, maxChars, summaryMaxLines)
}

func build(c Chunk, queryTokens []string, maxChars, maxLines int) string {
	lines := strings.Split(c.Text, "\n")
	tokenSet := make(map[string]struct{}, len(queryTokens))
	for _, t := range queryTokens {
		tokenSet[strings.ToLower(t)] = struct{}{}
	}

	var scored []scoredLine
	for i, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		scored = append(scored, scoredLine{text: line, index: i, score: scoreLine(line, trimmed, c.Kind, tokenSet)})
	}

	positive := make([]scoredLine, 0, len(scored))
	for _, s := range scored {
		if s.score > 0 {
			positive = append(positive, s)
		}
	}

	if len(positive) == 0 {
		return fallbackPrefix(c.Text, maxChars)
	}

	sortByScoreDesc(positive)
	if len(positive) > maxLines {
		positive = positive[:maxLines]
	}
	sortByIndex(positive)

	var b strings.Builder
	for i, s := range positive {
		candidate := strings.TrimRight(s.text, " \t")
		if i > 0 {
			if b.Len()+1+len(candidate) > maxChars {
				break
			}
			b.WriteByte('\n')
		} else if len(candidate) > maxChars {
			candidate = candidate[:maxChars]
		}
		b.WriteString(candidate)
	}
	return b.String()
}

func scoreLine(raw, trimmed string, kind Kind, tokens map[string]struct{}) int {
	score := 0
	if strings.HasPrefix(trimmed, "#") {
		score += 4
	}
	if bulletRe.MatchString(raw) {
		score += 3
	}
	if admonitionRe.MatchString(raw) {
		score += 3
	}
	if kind == KindCodeComment && docTagRe.MatchString(raw) {
		score += 4
	}

	if len(tokens) > 0 {
		lower := strings.ToLower(trimmed)
		matches := 0
		for tok := range tokens {
			if tok != "" && strings.Contains(lower, tok) {
				matches++
			}
		}
		if matches > 0 {
			score += 6 + matches
		}
	}

	n := len(raw)
	switch {
	case n > 500:
		score -= 5
	case n > 220:
		score -= 2
	}

	return score
}

// sortByScoreDesc orders by score descending, then by original index
// ascending so the result is fully deterministic for equal scores.
func sortByScoreDesc(lines []scoredLine) {
	insertionSort(lines, func(a, b scoredLine) bool {
		if a.score != b.score {
			return a.score > b.score
		}
		return a.index < b.index
	})
}

func sortByIndex(lines []scoredLine) {
	insertionSort(lines, func(a, b scoredLine) bool { return a.index < b.index })
}

func insertionSort(lines []scoredLine, less func(a, b scoredLine) bool) {
	for i := 1; i < len(lines); i++ {
		for j := i; j > 0 && less(lines[j], lines[j-1]); j-- {
			lines[j], lines[j-1] = lines[j-1], lines[j]
		}
	}
}

// fallbackPrefix collapses whitespace and truncates to maxChars, ending in
// an ellipsis, for chunks where no line scores positive (e.g. dense prose
// with no structure and no query-token hits).
func fallbackPrefix(text string, maxChars int) string {
	collapsed := strings.TrimSpace(wsRe.ReplaceAllString(text, " "))
	if len(collapsed) <= maxChars {
		return collapsed
	}
	if maxChars <= 1 {
		return "…"
	}
	cut := maxChars - 1
	for cut > 0 && !isUTF8Boundary(collapsed, cut) {
		cut--
	}
	return collapsed[:cut] + "…"
}

func isUTF8Boundary(s string, i int) bool {
	return i == 0 || i >= len(s) || s[i]&0xC0 != 0x80
}
