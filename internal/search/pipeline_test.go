package search

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/embedding"
	"github.com/randalmurphy/smart-context-mcp/internal/indexer"
	"github.com/randalmurphy/smart-context-mcp/internal/rank"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

func newTestPipeline(t *testing.T) (*Pipeline, string) {
	t.Helper()
	root := t.TempDir()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	idx := indexer.New(root, s, nil, nil)
	vec := rank.NewVectorRanker(embedding.NullProvider{}, s, rank.NewANNIndex(3), nil, 2, nil)

	cfg := config.DefaultConfig()
	p, err := NewPipeline(s, idx, vec, cfg, nil)
	require.NoError(t, err)
	return p, root
}

func writeDoc(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// S1: a fresh query builds a pack (hit=false); an identical re-query is
// served from cache with identical results.
func TestSearch_HitAndCache(t *testing.T) {
	p, root := newTestPipeline(t)
	writeDoc(t, root, "docs/intro.md", "# A\n\nintro text\n\n## B\n\nsection body\n")
	ctx := context.Background()

	opts := Options{Scope: "docs", MaxResults: 3, MMR: true}
	resp, err := p.Search(ctx, "B", opts)
	require.NoError(t, err)
	assert.False(t, resp.CacheHit)
	require.NotEmpty(t, resp.Pack.Items)

	top := resp.Pack.Items[0]
	assert.Equal(t, []string{"A", "B"}, top.SectionPath)
	assert.Greater(t, top.Scores.BM25, 0.0)
	assert.Equal(t, RoleResult, top.Role)

	again, err := p.Search(ctx, "B", opts)
	require.NoError(t, err)
	assert.True(t, again.CacheHit)
	assert.Equal(t, resp.Pack.PackID, again.Pack.PackID)
	assert.Equal(t, resp.Pack.Items, again.Pack.Items)
}

// S2: changing the text under a heading invalidates the cached pack via
// its staleness tokens.
func TestSearch_StalenessInvalidation(t *testing.T) {
	p, root := newTestPipeline(t)
	writeDoc(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\noriginal body\n")
	ctx := context.Background()

	opts := Options{Scope: "docs", MaxResults: 3}
	first, err := p.Search(ctx, "B", opts)
	require.NoError(t, err)
	require.False(t, first.CacheHit)

	writeDoc(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\nrewritten body entirely\n")

	second, err := p.Search(ctx, "B", opts)
	require.NoError(t, err)
	assert.False(t, second.CacheHit, "changed chunk text must invalidate the pack")
	assert.Equal(t, first.Pack.PackID, second.Pack.PackID, "pack id depends on query+options+root, not content")
}

func TestSearch_PackIDDeterminismAcrossCalls(t *testing.T) {
	p, root := newTestPipeline(t)
	writeDoc(t, root, "a.md", "# Topic\n\nwords here\n")
	ctx := context.Background()

	opts := Options{Scope: "project", MaxResults: 5}
	r1, err := p.Search(ctx, "topic", opts)
	require.NoError(t, err)
	r2, err := p.Search(ctx, "topic", opts)
	require.NoError(t, err)
	assert.Equal(t, r1.Pack.PackID, r2.Pack.PackID)
}

func TestSearch_FilenameFallback(t *testing.T) {
	p, root := newTestPipeline(t)
	// Content shares no tokens with the query, but the filename does.
	writeDoc(t, root, "docs/deployment.md", "# Guide\n\nsteps live here\n")
	ctx := context.Background()

	resp, err := p.Search(ctx, "deployment", Options{Scope: "docs", MaxResults: 3})
	require.NoError(t, err)
	require.NotEmpty(t, resp.Pack.Items)
	assert.Equal(t, "docs/deployment.md", resp.Pack.Items[0].Path)
}

func TestSearch_ScopeExcludesCode(t *testing.T) {
	p, root := newTestPipeline(t)
	writeDoc(t, root, "docs/notes.md", "# Widget\n\nwidget notes\n")
	writeDoc(t, root, "widget.py", "def widget():\n    pass\n")
	ctx := context.Background()

	resp, err := p.Search(ctx, "widget", Options{Scope: "docs", MaxResults: 10})
	require.NoError(t, err)
	for _, item := range resp.Pack.Items {
		assert.NotEqual(t, "widget.py", item.Path)
	}
}

func TestSearch_ConcurrentIdenticalQueriesShareOneBuild(t *testing.T) {
	p, root := newTestPipeline(t)
	writeDoc(t, root, "a.md", "# Shared\n\nshared body\n")
	ctx := context.Background()
	opts := Options{Scope: "project", MaxResults: 3}

	var wg sync.WaitGroup
	results := make([]*Response, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := p.Search(ctx, "shared", opts)
			assert.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	hits := 0
	for _, r := range results {
		require.NotNil(t, r.Pack)
		if r.CacheHit {
			hits++
		}
	}
	assert.Equal(t, 3, hits, "exactly one goroutine builds; the rest observe the cache")
}

func TestKeyedMutex(t *testing.T) {
	km := newKeyedMutex()
	unlock := km.lock("k")
	done := make(chan struct{})
	go func() {
		u := km.lock("k")
		u()
		close(done)
	}()
	select {
	case <-done:
		t.Fatal("second lock acquired while first held")
	default:
	}
	unlock()
	<-done
}

func TestPruneByOverlap(t *testing.T) {
	cands := []store.StoredChunk{
		{ID: "a", Text: "nothing relevant"},
		{ID: "b", Text: "query token rich text with query words"},
		{ID: "c", Text: "one query word"},
	}
	got := pruneByOverlap(rank.Tokenize("query words"), cands, 2)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].ID)
	assert.Equal(t, "c", got[1].ID)
}
