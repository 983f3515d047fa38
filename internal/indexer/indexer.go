package indexer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/randalmurphy/smart-context-mcp/internal/chunk"
	"github.com/randalmurphy/smart-context-mcp/internal/parser"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Indexer keeps the store in sync with the filesystem. It is invoked
// before every search and edit preview so downstream consumers always see
// chunks for the bytes currently on disk.
type Indexer struct {
	root   string
	store  *store.Store
	walker *Walker
	logger *slog.Logger
}

// New creates an indexer rooted at the absolute project path.
func New(root string, s *store.Store, walker *Walker, logger *slog.Logger) *Indexer {
	if walker == nil {
		walker = NewWalker(nil, nil)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{root: root, store: s, walker: walker, logger: logger}
}

// Root returns the absolute project root.
func (idx *Indexer) Root() string { return idx.root }

// Result contains statistics from an indexing run.
type Result struct {
	FilesIndexed  int
	FilesSkipped  int // unchanged since last index
	FilesRemoved  int
	ChunksCreated int
	Errors        []error
}

// HashBytes is the content hash recorded for files and compared on every
// freshness probe.
func HashBytes(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// SyncAll walks the whole tree: reindexes changed files, skips unchanged
// ones, and removes records for files no longer on disk. Per-file failures
// are logged and skipped; they never fail the surrounding request.
func (idx *Indexer) SyncAll(ctx context.Context) (*Result, error) {
	res := &Result{}
	seen := make(map[string]bool)

	err := idx.walker.Walk(idx.root, func(relPath string) error {
		seen[relPath] = true
		if err := idx.ensureOne(ctx, relPath, res); err != nil {
			idx.logger.Warn("index file failed", "path", relPath, "error", err)
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", relPath, err))
		}
		return nil
	})
	if err != nil {
		return res, fmt.Errorf("walk %s: %w", idx.root, err)
	}

	stored, err := idx.store.ListFilesMatching(ctx, nil)
	if err != nil {
		return res, err
	}
	for _, p := range stored {
		if !seen[p] {
			if err := idx.remove(ctx, p); err != nil {
				res.Errors = append(res.Errors, fmt.Errorf("remove %s: %w", p, err))
				continue
			}
			res.FilesRemoved++
		}
	}

	return res, nil
}

// EnsureFresh reindexes exactly the given project-relative paths whose
// on-disk hash differs from the store (or which the store has never seen).
// Missing files are removed from the store. Failures are absorbed per
// file, matching the indexer's never-fail-the-request policy.
func (idx *Indexer) EnsureFresh(ctx context.Context, relPaths ...string) *Result {
	res := &Result{}
	for _, p := range relPaths {
		p = filepath.ToSlash(p)
		if err := idx.ensureOne(ctx, p, res); err != nil {
			if os.IsNotExist(err) {
				if rmErr := idx.remove(ctx, p); rmErr == nil {
					res.FilesRemoved++
				}
				continue
			}
			idx.logger.Warn("index file failed", "path", p, "error", err)
			res.Errors = append(res.Errors, fmt.Errorf("%s: %w", p, err))
		}
	}
	return res
}

func (idx *Indexer) ensureOne(ctx context.Context, relPath string, res *Result) error {
	absPath := filepath.Join(idx.root, filepath.FromSlash(relPath))
	info, err := os.Stat(absPath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if err != nil {
		return err
	}

	hash := HashBytes(data)
	existing, ok, err := idx.store.GetFile(ctx, relPath)
	if err != nil {
		return err
	}
	if ok && existing.ContentHash == hash {
		res.FilesSkipped++
		return nil
	}

	created, err := idx.indexFile(ctx, relPath, data, hash, info.ModTime().Unix())
	if err != nil {
		return err
	}
	res.FilesIndexed++
	res.ChunksCreated += created
	return nil
}

// indexFile rechunks one file and replaces its store state atomically:
// chunks (cascading stale-embedding deletion), symbols and graph edges,
// then the file record itself. Cached evidence packs are not touched here;
// their staleness tokens stop matching the new chunk hashes, which the
// search pipeline detects lazily on the next cache probe.
func (idx *Indexer) indexFile(ctx context.Context, relPath string, data []byte, hash string, mtime int64) (int, error) {
	text := string(data)

	var (
		chunks []chunk.Chunk
		rels   []parser.Relationship
		syms   []parser.Symbol
		lang   string
	)

	switch classify(relPath) {
	case chunk.KindMarkdown:
		chunks = chunk.ChunkMarkdown(relPath, text, false)
	case chunk.KindMDX:
		chunks = chunk.ChunkMarkdown(relPath, text, true)
	case chunk.KindCode:
		detected, _ := parser.DetectLanguage(relPath)
		lang = string(detected)
		var err error
		chunks, rels, err = chunk.ChunkCode(relPath, data)
		if err != nil {
			// Unparsable code still gets plain-text chunks so search can
			// see it; the graph just has no edges for it.
			idx.logger.Debug("code chunking failed, falling back to text", "path", relPath, "error", err)
			chunks = chunk.ChunkText(relPath, text)
			rels = nil
		} else {
			syms = symbolsFromChunks(relPath, data)
		}
	default:
		chunks = chunk.ChunkText(relPath, text)
	}

	stored := make([]store.StoredChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = toStoredChunk(c)
	}

	if err := idx.store.UpsertFile(ctx, store.File{
		Path:         relPath,
		ContentHash:  hash,
		SizeBytes:    int64(len(data)),
		LineCount:    countLines(text),
		Mtime:        mtime,
		LanguageTag:  lang,
		NewlineStyle: newlineStyle(text),
		IndentStyle:  indentStyle(text),
	}); err != nil {
		return 0, fmt.Errorf("upsert file: %w", err)
	}

	if err := idx.store.ReplaceChunks(ctx, relPath, stored); err != nil {
		return 0, fmt.Errorf("replace chunks: %w", err)
	}

	summaries := make(map[string]string, len(chunks))
	for _, c := range chunks {
		summaries[c.ID] = chunk.Summary(c, nil, 160)
	}
	if err := idx.store.ReplaceChunkSummaries(ctx, summaries); err != nil {
		return 0, fmt.Errorf("store summaries: %w", err)
	}

	if err := idx.store.ReplaceFileGraph(ctx, relPath, toStoredSymbols(syms), idx.fileEdges(relPath, rels), symbolEdges(relPath, rels)); err != nil {
		return 0, fmt.Errorf("replace graph: %w", err)
	}

	return len(stored), nil
}

func (idx *Indexer) remove(ctx context.Context, relPath string) error {
	if err := idx.store.ReplaceFileGraph(ctx, relPath, nil, nil, nil); err != nil {
		return err
	}
	return idx.store.RemoveFile(ctx, relPath)
}

// classify picks the chunking strategy for a path.
func classify(relPath string) chunk.Kind {
	switch {
	case strings.HasSuffix(relPath, ".md"), strings.HasSuffix(relPath, ".markdown"):
		return chunk.KindMarkdown
	case strings.HasSuffix(relPath, ".mdx"):
		return chunk.KindMDX
	default:
		if _, ok := parser.DetectLanguage(relPath); ok {
			return chunk.KindCode
		}
		return chunk.KindText
	}
}

// symbolsFromChunks reparses symbols for the graph tables. ChunkCode has
// already parsed the file once; the second parse is tolerable because it
// only happens on content change, and keeping chunking and symbol storage
// decoupled keeps both call sites simple.
func symbolsFromChunks(relPath string, data []byte) []parser.Symbol {
	lang, ok := parser.DetectLanguage(relPath)
	if !ok {
		return nil
	}
	p, err := parser.NewParser(lang)
	if err != nil {
		return nil
	}
	result, err := p.Parse(data, relPath)
	if err != nil {
		return nil
	}
	return result.Symbols
}

func toStoredChunk(c chunk.Chunk) store.StoredChunk {
	return store.StoredChunk{
		ID:           c.ID,
		Path:         c.Path,
		Kind:         string(c.Kind),
		SectionPath:  c.SectionPath,
		Heading:      c.Heading,
		HeadingLevel: c.HeadingLevel,
		StartLine:    c.Range.StartLine,
		EndLine:      c.Range.EndLine,
		Text:         c.Text,
		ContentHash:  c.ContentHash,
		SymbolName:   c.SymbolName,
		SymbolKind:   c.SymbolKind,
		HasSecrets:   c.HasSecrets,
	}
}

func toStoredSymbols(syms []parser.Symbol) []store.StoredSymbol {
	out := make([]store.StoredSymbol, len(syms))
	for i, s := range syms {
		out[i] = store.StoredSymbol{
			ID:        fmt.Sprintf("%s#%s@%d", s.FilePath, s.Name, s.StartLine),
			Name:      s.Name,
			Kind:      string(s.Kind),
			FilePath:  s.FilePath,
			StartLine: s.StartLine,
			EndLine:   s.EndLine,
			Signature: s.Signature,
			Parent:    s.Parent,
		}
	}
	return out
}

func (idx *Indexer) fileEdges(relPath string, rels []parser.Relationship) []store.FileEdge {
	var out []store.FileEdge
	for _, r := range rels {
		if !r.Kind.IsFileLevel() {
			continue
		}
		kind := "import"
		if r.Kind == parser.RelationshipReexport {
			kind = "reexport"
		}
		out = append(out, store.FileEdge{
			SourceFile: relPath,
			TargetPath: idx.resolveImport(relPath, r.TargetPath),
			Kind:       kind,
			Line:       r.SourceLine,
		})
	}
	return out
}

// resolveImport maps an import specifier to a project-relative file path
// when one exists on disk, so file-graph traversals connect real files.
// Unresolvable specifiers (stdlib, third-party) keep their raw module
// string; they still show up as leaf edges.
func (idx *Indexer) resolveImport(sourceFile, target string) string {
	if target == "" {
		return target
	}

	var candidates []string
	if strings.HasPrefix(target, ".") {
		// Relative JS-style import, resolved against the source file.
		base := filepath.ToSlash(filepath.Join(filepath.Dir(sourceFile), target))
		candidates = append(candidates,
			base, base+".js", base+".jsx", base+".ts", base+".tsx",
			base+"/index.js", base+"/index.ts")
	} else {
		// Python-style dotted module path.
		slashed := strings.ReplaceAll(target, ".", "/")
		candidates = append(candidates, slashed+".py", slashed+"/__init__.py")
	}

	for _, c := range candidates {
		c = filepath.ToSlash(filepath.Clean(c))
		if strings.HasPrefix(c, "../") {
			continue
		}
		if info, err := os.Stat(filepath.Join(idx.root, filepath.FromSlash(c))); err == nil && !info.IsDir() {
			return c
		}
	}
	return target
}

func symbolEdges(relPath string, rels []parser.Relationship) []store.SymbolEdge {
	var out []store.SymbolEdge
	for _, r := range rels {
		if r.Kind.IsFileLevel() || r.TargetName == "" {
			continue
		}
		out = append(out, store.SymbolEdge{
			SourceFile: relPath,
			SourceName: r.SourceName,
			TargetName: r.TargetName,
			Kind:       string(r.Kind),
			Line:       r.SourceLine,
		})
	}
	return out
}

func countLines(text string) int {
	if text == "" {
		return 0
	}
	n := strings.Count(text, "\n")
	if !strings.HasSuffix(text, "\n") {
		n++
	}
	return n
}

func newlineStyle(text string) string {
	if strings.Contains(text, "\r\n") {
		return "crlf"
	}
	return "lf"
}

// indentStyle samples indented lines and reports the dominant style.
func indentStyle(text string) string {
	tabs, spaces := 0, 0
	for _, line := range strings.Split(text, "\n") {
		if strings.HasPrefix(line, "\t") {
			tabs++
		} else if strings.HasPrefix(line, "  ") {
			spaces++
		}
	}
	switch {
	case tabs > spaces:
		return "tabs"
	case spaces > 0:
		return "spaces"
	default:
		return ""
	}
}
