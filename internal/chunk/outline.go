package chunk

import (
	"fmt"
	"strings"

	"github.com/randalmurphy/smart-context-mcp/internal/parser"
)

// OutlineEntry is one line of a skeleton view: a heading (markdown) or a
// symbol signature (code), indented to reflect nesting.
type OutlineEntry struct {
	Title     string `json:"title"`
	Kind      string `json:"kind"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
	Depth     int    `json:"depth"`
}

// Outline builds the read_code(view="skeleton") structure for a file: the
// heading tree for markdown/MDX, or the symbol tree for code. Dispatches on
// the same chunk-kind tag the chunkers use, per the "no runtime inheritance"
// design for polymorphism over chunk kind.
func Outline(path string, source []byte, kind Kind) ([]OutlineEntry, error) {
	switch kind {
	case KindMarkdown, KindMDX:
		return markdownOutline(source), nil
	case KindCode:
		return codeOutline(path, source)
	default:
		return nil, nil
	}
}

func markdownOutline(source []byte) []OutlineEntry {
	lines := strings.Split(string(source), "\n")

	var entries []OutlineEntry
	var levels []int // heading levels currently open, parallel to ancestor stack

	for i, line := range lines {
		m := headingRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		n := len(m[1])
		for len(levels) > 0 && levels[len(levels)-1] >= n {
			levels = levels[:len(levels)-1]
		}
		depth := len(levels)
		entries = append(entries, OutlineEntry{Title: m[2], Kind: "heading", StartLine: i + 1, Depth: depth})
		levels = append(levels, n)
	}

	for i := range entries {
		end := len(lines)
		for j := i + 1; j < len(entries); j++ {
			if entries[j].Depth <= entries[i].Depth {
				end = entries[j].StartLine - 1
				break
			}
		}
		entries[i].EndLine = end
	}
	return entries
}

func codeOutline(path string, source []byte) ([]OutlineEntry, error) {
	lang, ok := parser.DetectLanguage(path)
	if !ok {
		return nil, fmt.Errorf("unsupported language for %s", path)
	}
	p, err := parser.NewParser(lang)
	if err != nil {
		return nil, err
	}
	result, err := p.Parse(source, path)
	if err != nil {
		return nil, err
	}

	var entries []OutlineEntry
	for _, sym := range result.Symbols {
		depth := 0
		title := sym.Name
		if sym.Parent != "" {
			depth = 1
			title = sym.Parent + "." + sym.Name
		}
		title = signatureOrName(sym, title)
		entries = append(entries, OutlineEntry{
			Title:     title,
			Kind:      string(sym.Kind),
			StartLine: sym.StartLine,
			EndLine:   sym.EndLine,
			Depth:     depth,
		})
	}
	return entries, nil
}

func signatureOrName(sym parser.Symbol, fallback string) string {
	if sym.Signature != "" {
		return sym.Signature
	}
	return fallback
}
