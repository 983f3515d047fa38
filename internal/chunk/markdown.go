package chunk

import (
	"regexp"
	"strings"
)

var headingRe = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*$`)

// ChunkMarkdown partitions markdown/MDX text by ATX headings: each chunk
// spans from one heading to just before the next heading of equal-or-higher
// level, and carries the ordered sequence of ancestor heading titles as its
// SectionPath. Text before the first heading becomes a headless chunk with
// an empty SectionPath.
func ChunkMarkdown(path, text string, mdx bool) []Chunk {
	kind := KindMarkdown
	if mdx {
		kind = KindMDX
	}

	lines := strings.Split(text, "\n")

	type heading struct {
		level int
		title string
		line  int // 1-based
	}

	var headings []heading
	for i, line := range lines {
		if m := headingRe.FindStringSubmatch(line); m != nil {
			headings = append(headings, heading{level: len(m[1]), title: m[2], line: i + 1})
		}
	}

	var chunks []Chunk

	// Leading content before the first heading.
	firstLine := len(lines) + 1
	if len(headings) > 0 {
		firstLine = headings[0].line
	}
	if firstLine > 1 {
		end := firstLine - 1
		body := joinLines(lines, 1, end)
		if strings.TrimSpace(body) != "" {
			c := Chunk{Path: path, Kind: kind, Range: Range{StartLine: 1, EndLine: end}, Text: body}
			c.Finalize()
			chunks = append(chunks, c)
		}
	}

	var stack []heading
	for i, h := range headings {
		// Pop ancestors at or deeper than this heading's level.
		for len(stack) > 0 && stack[len(stack)-1].level >= h.level {
			stack = stack[:len(stack)-1]
		}

		sectionPath := make([]string, 0, len(stack)+1)
		for _, s := range stack {
			sectionPath = append(sectionPath, s.title)
		}
		sectionPath = append(sectionPath, h.title)

		end := len(lines)
		for j := i + 1; j < len(headings); j++ {
			if headings[j].level <= h.level {
				end = headings[j].line - 1
				break
			}
		}

		body := joinLines(lines, h.line, end)
		c := Chunk{
			Path:         path,
			Kind:         kind,
			SectionPath:  sectionPath,
			Heading:      h.title,
			HeadingLevel: h.level,
			Range:        Range{StartLine: h.line, EndLine: end},
			Text:         body,
		}
		c.Finalize()
		chunks = append(chunks, c)

		stack = append(stack, h)
	}

	if len(chunks) == 0 {
		// No headings at all: the whole file is one chunk.
		c := Chunk{Path: path, Kind: kind, Range: Range{StartLine: 1, EndLine: max(1, len(lines))}, Text: text}
		c.Finalize()
		chunks = append(chunks, c)
	}

	return chunks
}

// joinLines returns lines[start..end] (1-based, inclusive) newline-joined.
func joinLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
