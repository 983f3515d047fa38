package chunk

import (
	"fmt"
	"strings"

	"github.com/randalmurphy/smart-context-mcp/internal/parser"
	"github.com/randalmurphy/smart-context-mcp/internal/security"
)

// LargeClassMethods is the method-count threshold above which a class is
// split into a summary chunk plus one chunk per method, instead of a single
// chunk covering the whole class body. The summary and method chunks
// deliberately overlap in line range: this is the one place chunking trades
// the no-overlap partition invariant for retrievability of both the
// class-level shape and a single big method on their own.
const LargeClassMethods = 50

var secretDetector = security.NewSecretDetector()

// ChunkCode parses source with the language-appropriate backend and returns
// one chunk per top-level symbol (function, or class/large-class split),
// plus a leading file-header chunk when the file has content before its
// first symbol (package/license comments, top-of-file imports). It also
// returns the relationships discovered during the same parse, so callers
// don't need to invoke the parser twice.
func ChunkCode(path string, source []byte) ([]Chunk, []parser.Relationship, error) {
	lang, ok := parser.DetectLanguage(path)
	if !ok {
		return nil, nil, fmt.Errorf("unsupported language for %s", path)
	}

	p, err := parser.NewParser(lang)
	if err != nil {
		return nil, nil, err
	}

	result, err := p.Parse(source, path)
	if err != nil {
		return nil, nil, err
	}

	lines := strings.Split(string(source), "\n")

	var chunks []Chunk
	if header := headerChunk(path, lines, result.Symbols); header != nil {
		chunks = append(chunks, *header)
	}

	methodsByClass := make(map[string][]parser.Symbol)
	var topLevel []parser.Symbol
	for _, sym := range result.Symbols {
		if sym.Kind == parser.SymbolMethod && sym.Parent != "" {
			methodsByClass[sym.Parent] = append(methodsByClass[sym.Parent], sym)
		} else {
			topLevel = append(topLevel, sym)
		}
	}

	for _, sym := range topLevel {
		if sym.Kind == parser.SymbolClass {
			methods := methodsByClass[sym.Name]
			if len(methods) > LargeClassMethods {
				chunks = append(chunks, classSummaryChunk(path, sym, methods))
				for _, m := range methods {
					chunks = append(chunks, symbolChunk(path, m, "method"))
				}
				continue
			}
			chunks = append(chunks, symbolChunk(path, sym, "class"))
			continue
		}
		chunks = append(chunks, symbolChunk(path, sym, string(sym.Kind)))
	}

	for i := range chunks {
		redact(&chunks[i])
		chunks[i].Finalize()
	}

	return chunks, result.Relationships, nil
}

func symbolChunk(path string, sym parser.Symbol, symbolKind string) Chunk {
	text := sym.Content
	if sym.Kind == parser.SymbolMethod && sym.Parent != "" {
		text = fmt.Sprintf("# class %s\n%s", sym.Parent, sym.Content)
	}
	return Chunk{
		Path:       path,
		Kind:       KindCode,
		Range:      Range{StartLine: sym.StartLine, EndLine: sym.EndLine},
		Text:       text,
		SymbolName: sym.Name,
		SymbolKind: symbolKind,
	}
}

func classSummaryChunk(path string, class parser.Symbol, methods []parser.Symbol) Chunk {
	names := make([]string, 0, len(methods))
	for _, m := range methods {
		names = append(names, m.Name)
	}
	text := fmt.Sprintf("class %s\n%s\n\nmethods: %s", class.Name, class.Docstring, strings.Join(names, ", "))
	return Chunk{
		Path:       path,
		Kind:       KindCode,
		Range:      Range{StartLine: class.StartLine, EndLine: class.EndLine},
		Text:       text,
		SymbolName: class.Name,
		SymbolKind: "class_summary",
	}
}

// headerChunk captures any lines before the first symbol's start line:
// license banners, package declarations, top-level imports. Nil if the file
// has no symbols or no content precedes the first one.
func headerChunk(path string, lines []string, symbols []parser.Symbol) *Chunk {
	firstLine := len(lines) + 1
	for _, sym := range symbols {
		if sym.StartLine < firstLine {
			firstLine = sym.StartLine
		}
	}
	if firstLine <= 1 {
		return nil
	}
	end := firstLine - 1
	body := joinLines(lines, 1, end)
	if strings.TrimSpace(body) == "" {
		return nil
	}
	c := &Chunk{Path: path, Kind: KindCode, Range: Range{StartLine: 1, EndLine: end}, Text: body, SymbolKind: "file_header"}
	return c
}

func redact(c *Chunk) {
	if secretDetector.HasSecrets(c.Text) {
		secrets := secretDetector.Detect(c.Text)
		c.Text = secretDetector.Redact(c.Text, secrets)
		c.HasSecrets = true
	}
}

// TestPathMarkers are the substrings that mark a path as test code,
// shared with the impact analyzer's incoming/outgoing edge classification.
var TestPathMarkers = []string{
	"test_", "_test.py", "_test.go", ".test.js", ".test.ts", ".test.tsx",
	".spec.js", ".spec.ts", "/tests/", "/__tests__/",
}

// IsTestFile reports whether path looks like a test file.
func IsTestFile(path string) bool {
	lower := strings.ToLower(path)
	for _, m := range TestPathMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}
