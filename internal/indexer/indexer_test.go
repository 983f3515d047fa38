package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

func newTestIndexer(t *testing.T) (*Indexer, *store.Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return New(root, s, nil, nil), s, root
}

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestSyncAll_IndexesMarkdownAndSkipsUnchanged(t *testing.T) {
	idx, s, root := newTestIndexer(t)
	ctx := context.Background()

	writeFile(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\nbody\n")

	res, err := idx.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesIndexed)
	assert.Empty(t, res.Errors)

	chunks, err := s.ChunksForPath(ctx, "docs/intro.md")
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"A"}, chunks[0].SectionPath)
	assert.Equal(t, []string{"A", "B"}, chunks[1].SectionPath)

	// Unchanged on a second pass.
	res, err = idx.SyncAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.FilesIndexed)
	assert.Equal(t, 1, res.FilesSkipped)
}

func TestSyncAll_RemovesDeletedFiles(t *testing.T) {
	idx, s, root := newTestIndexer(t)
	ctx := context.Background()

	writeFile(t, root, "a.md", "# A\n")
	_, err := idx.SyncAll(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))
	res, err := idx.SyncAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, res.FilesRemoved)

	_, ok, err := s.GetFile(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEnsureFresh_ReindexesOnChange(t *testing.T) {
	idx, s, root := newTestIndexer(t)
	ctx := context.Background()

	writeFile(t, root, "a.md", "# One\n\nfirst\n")
	res := idx.EnsureFresh(ctx, "a.md")
	assert.Equal(t, 1, res.FilesIndexed)

	before, err := s.ChunksForPath(ctx, "a.md")
	require.NoError(t, err)

	writeFile(t, root, "a.md", "# One\n\nsecond version\n")
	res = idx.EnsureFresh(ctx, "a.md")
	assert.Equal(t, 1, res.FilesIndexed)

	after, err := s.ChunksForPath(ctx, "a.md")
	require.NoError(t, err)
	require.Len(t, after, 1)
	assert.NotEqual(t, before[0].ContentHash, after[0].ContentHash)
}

func TestEnsureFresh_MissingFileRemoved(t *testing.T) {
	idx, s, root := newTestIndexer(t)
	ctx := context.Background()

	writeFile(t, root, "a.md", "# A\n")
	idx.EnsureFresh(ctx, "a.md")

	require.NoError(t, os.Remove(filepath.Join(root, "a.md")))
	res := idx.EnsureFresh(ctx, "a.md")
	assert.Equal(t, 1, res.FilesRemoved)

	_, ok, err := s.GetFile(ctx, "a.md")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIndexFile_PythonSymbolsAndEdges(t *testing.T) {
	idx, s, root := newTestIndexer(t)
	ctx := context.Background()

	writeFile(t, root, "app.py", "import os\n\ndef run():\n    helper()\n\ndef helper():\n    pass\n")
	res := idx.EnsureFresh(ctx, "app.py")
	require.Empty(t, res.Errors)
	require.Equal(t, 1, res.FilesIndexed)

	syms, err := s.SymbolsForFile(ctx, "app.py")
	require.NoError(t, err)
	names := make([]string, 0, len(syms))
	for _, sym := range syms {
		names = append(names, sym.Name)
	}
	assert.Contains(t, names, "run")
	assert.Contains(t, names, "helper")

	edges, err := s.FileEdgesFrom(ctx, "app.py")
	require.NoError(t, err)
	require.NotEmpty(t, edges)
	assert.Equal(t, "import", edges[0].Kind)
	assert.Equal(t, "os", edges[0].TargetPath)

	f, ok, err := s.GetFile(ctx, "app.py")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "python", f.LanguageTag)
	assert.Equal(t, "spaces", f.IndentStyle)
}

func TestResolveImport(t *testing.T) {
	idx, _, root := newTestIndexer(t)
	writeFile(t, root, "pkg/util.py", "def u():\n    pass\n")
	writeFile(t, root, "web/helper.js", "export const x = 1;\n")

	assert.Equal(t, "pkg/util.py", idx.resolveImport("app.py", "pkg.util"))
	assert.Equal(t, "web/helper.js", idx.resolveImport("web/main.js", "./helper"))
	// Stdlib and third-party specifiers stay raw.
	assert.Equal(t, "os", idx.resolveImport("app.py", "os"))
	// Escapes above the root never resolve.
	assert.Equal(t, "../../etc", idx.resolveImport("web/main.js", "../../etc"))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, "markdown", string(classify("a/b.md")))
	assert.Equal(t, "mdx", string(classify("a/b.mdx")))
	assert.Equal(t, "code", string(classify("a/b.py")))
	assert.Equal(t, "text", string(classify("notes.txt")))
}

func TestWalker_Excludes(t *testing.T) {
	w := NewWalker(nil, nil)
	assert.True(t, w.Matches("src/a.py"))
	assert.False(t, w.Matches("node_modules/x/y.js"))
	assert.False(t, w.Matches("a.bin"))
	assert.True(t, w.Matches("README.md"))
}

func TestCountLines(t *testing.T) {
	assert.Zero(t, countLines(""))
	assert.Equal(t, 1, countLines("x"))
	assert.Equal(t, 1, countLines("x\n"))
	assert.Equal(t, 2, countLines("x\ny"))
}
