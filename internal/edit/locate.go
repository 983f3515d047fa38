package edit

import (
	"fmt"
	"regexp"
	"strings"
)

// Match is a located target: byte offsets into the file text plus the
// 1-based line the match starts on.
type Match struct {
	Start int
	End   int
	Line  int
}

var wsRunRe = regexp.MustCompile(`\s+`)

// Locate finds the target of a replace edit in fileText. It is a pure
// function of its inputs (no filesystem, no clock), so every matching
// policy is independently testable:
//
//  1. restrict the window to LineRange / AnchorSearchRange if given
//  2. exact match; exactly one hit wins
//  3. otherwise the edit's FuzzyMode: whitespace-normalized compare or
//     closest Levenshtein within a budget proportional to target length
//  4. Before/AfterContext filter surviving candidates
//  5. more than one survivor is an AmbiguousMatchError listing every line
func Locate(fileText string, ed Edit) (Match, error) {
	if ed.TargetString == "" {
		return Match{}, fmt.Errorf("%w: target_string", ErrMissingParameter)
	}

	window := fullRange(fileText)
	if r := pickRange(ed); r != nil {
		var err error
		window, err = lineWindow(fileText, *r)
		if err != nil {
			return Match{}, err
		}
	}

	cands := exactMatches(fileText, ed.TargetString, window)

	if len(cands) != 1 && ed.FuzzyMode != FuzzyNone {
		fuzzy := fuzzyMatches(fileText, ed, window)
		if len(fuzzy) > 0 {
			cands = fuzzy
		}
	}

	if len(cands) > 1 && (ed.BeforeContext != "" || ed.AfterContext != "") {
		cands = filterByContext(fileText, cands, ed)
	}

	switch len(cands) {
	case 0:
		return Match{}, ErrNoMatch
	case 1:
		return cands[0], nil
	default:
		lines := make([]int, len(cands))
		for i, m := range cands {
			lines[i] = m.Line
		}
		return Match{}, &AmbiguousMatchError{Lines: lines}
	}
}

type byteRange struct {
	start, end int
}

func fullRange(text string) byteRange {
	return byteRange{0, len(text)}
}

func pickRange(ed Edit) *LineRange {
	if ed.LineRange != nil {
		return ed.LineRange
	}
	return ed.AnchorSearchRange
}

// lineWindow converts an inclusive line range to byte offsets.
func lineWindow(text string, r LineRange) (byteRange, error) {
	if r.Start < 1 || r.End < r.Start {
		return byteRange{}, fmt.Errorf("invalid line range %d-%d", r.Start, r.End)
	}
	start, end := 0, len(text)
	line := 1
	for i := 0; i < len(text); i++ {
		if line == r.Start {
			start = i
			break
		}
		if text[i] == '\n' {
			line++
		}
	}
	if line < r.Start {
		return byteRange{}, fmt.Errorf("line range %d-%d beyond end of file", r.Start, r.End)
	}
	line = 1
	for i := 0; i < len(text); i++ {
		if text[i] == '\n' {
			if line == r.End {
				end = i + 1
				break
			}
			line++
		}
	}
	return byteRange{start, end}, nil
}

func exactMatches(text, target string, w byteRange) []Match {
	var out []Match
	window := text[w.start:w.end]
	for from := 0; ; {
		i := strings.Index(window[from:], target)
		if i < 0 {
			break
		}
		start := w.start + from + i
		out = append(out, Match{Start: start, End: start + len(target), Line: lineAt(text, start)})
		from += i + 1
	}
	return out
}

// fuzzyMatches applies the edit's fuzzy strategy over line-aligned windows
// the same height as the target.
func fuzzyMatches(text string, ed Edit, w byteRange) []Match {
	switch ed.FuzzyMode {
	case FuzzyWhitespace:
		return whitespaceMatches(text, ed.TargetString, w)
	case FuzzyLevenshtein:
		return levenshteinMatches(text, ed.TargetString, w)
	default:
		return nil
	}
}

// whitespaceMatches compares with runs of whitespace collapsed to a single
// space on both sides.
func whitespaceMatches(text, target string, w byteRange) []Match {
	normTarget := normalizeWS(target)
	if normTarget == "" {
		return nil
	}
	var out []Match
	for _, win := range slidingWindows(text, target, w) {
		if normalizeWS(text[win.Start:win.End]) == normTarget {
			out = append(out, win)
		}
	}
	return out
}

// levenshteinMatches accepts the closest window within a distance budget
// of two edits plus one per ten target bytes. A unique minimum wins;
// tied minima stay ambiguous.
func levenshteinMatches(text, target string, w byteRange) []Match {
	budget := len(target)/10 + 2
	best := budget + 1
	var out []Match
	for _, win := range slidingWindows(text, target, w) {
		d := levenshtein(text[win.Start:win.End], target, budget)
		if d < 0 {
			continue
		}
		if d < best {
			best = d
			out = out[:0]
			out = append(out, win)
		} else if d == best {
			out = append(out, win)
		}
	}
	return out
}

// slidingWindows yields every line-aligned window with the same line count
// as the target, trailing newline excluded.
func slidingWindows(text, target string, w byteRange) []Match {
	targetLines := strings.Count(target, "\n") + 1
	window := text[w.start:w.end]
	lines := strings.SplitAfter(window, "\n")
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	var out []Match
	offset := w.start
	for i := 0; i+targetLines <= len(lines); i++ {
		span := 0
		for j := 0; j < targetLines; j++ {
			span += len(lines[i+j])
		}
		end := offset + span
		// Exclude the trailing newline from the window body so the match
		// replaces the same shape the target describes.
		if end > offset && text[end-1] == '\n' {
			end--
		}
		out = append(out, Match{Start: offset, End: end, Line: lineAt(text, offset)})
		offset += len(lines[i])
	}
	return out
}

// filterByContext keeps candidates whose immediate surroundings match the
// given before/after context, whitespace-normalized.
func filterByContext(text string, cands []Match, ed Edit) []Match {
	var out []Match
	for _, m := range cands {
		if ed.BeforeContext != "" && !contextMatches(text[:m.Start], ed.BeforeContext, true) {
			continue
		}
		if ed.AfterContext != "" && !contextMatches(text[m.End:], ed.AfterContext, false) {
			continue
		}
		out = append(out, m)
	}
	return out
}

func contextMatches(surrounding, context string, before bool) bool {
	norm := normalizeWS(context)
	if norm == "" {
		return true
	}
	probe := surrounding
	// Only the text immediately adjacent to the candidate matters; a
	// window of twice the context length absorbs whitespace drift.
	limit := 2*len(context) + 16
	if before {
		if len(probe) > limit {
			probe = probe[len(probe)-limit:]
		}
		return strings.HasSuffix(normalizeWS(probe), norm)
	}
	if len(probe) > limit {
		probe = probe[:limit]
	}
	return strings.HasPrefix(normalizeWS(probe), norm)
}

func normalizeWS(s string) string {
	return strings.TrimSpace(wsRunRe.ReplaceAllString(s, " "))
}

func lineAt(text string, offset int) int {
	return strings.Count(text[:offset], "\n") + 1
}

// levenshtein returns the edit distance between a and b, or -1 when it
// exceeds budget.
func levenshtein(a, b string, budget int) int {
	diff := len(a) - len(b)
	if diff < 0 {
		diff = -diff
	}
	if diff > budget {
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
