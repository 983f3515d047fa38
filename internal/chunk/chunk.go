// Package chunk splits project files into indexable sections and builds
// deterministic previews over them.
package chunk

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Kind distinguishes how a chunk was produced and how it should be scored
// and previewed.
type Kind string

const (
	KindMarkdown    Kind = "markdown"
	KindMDX         Kind = "mdx"
	KindCode        Kind = "code"
	KindCodeComment Kind = "code_comment"
	KindText        Kind = "text"
)

// Range is an inclusive, 1-based line range.
type Range struct {
	StartLine int `json:"start_line"`
	EndLine   int `json:"end_line"`
}

// Chunk is a contiguous line range of a file treated as an atomic unit of
// retrieval, per the Chunk data model.
type Chunk struct {
	ID           string   `json:"id"`
	Path         string   `json:"path"`
	Kind         Kind     `json:"kind"`
	SectionPath  []string `json:"section_path,omitempty"`
	Heading      string   `json:"heading,omitempty"`
	HeadingLevel int      `json:"heading_level,omitempty"`
	Range        Range    `json:"range"`
	Text         string   `json:"text"`
	ContentHash  string   `json:"content_hash"`

	// SymbolName/SymbolKind are populated for code chunks produced from a
	// single top-level symbol; empty for doc/text chunks.
	SymbolName string `json:"symbol_name,omitempty"`
	SymbolKind string `json:"symbol_kind,omitempty"`

	HasSecrets bool `json:"has_secrets"`
}

// ID generates a deterministic chunk id from path and line range, matching
// the "deterministic from path + section range" requirement of the data
// model (invariant: stable across re-chunking unchanged text).
func ID(path string, startLine, endLine int) string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", path, startLine, endLine)))
	return hex.EncodeToString(h[:16])
}

// HashText returns the content hash used for staleness tokens.
func HashText(text string) string {
	h := sha256.Sum256([]byte(text))
	return hex.EncodeToString(h[:])
}

// Finalize fills in ID and ContentHash from the chunk's Path/Range/Text.
// Call after populating the other fields.
func (c *Chunk) Finalize() {
	c.ID = ID(c.Path, c.Range.StartLine, c.Range.EndLine)
	c.ContentHash = HashText(c.Text)
}
