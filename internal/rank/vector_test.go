package rank

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/embedding"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// fakeProvider embeds deterministically: the vector encodes the first
// byte of the text, so distinct texts get distinct directions.
type fakeProvider struct {
	calls  int
	fail   bool
	failAs error
}

func (p *fakeProvider) ProviderName() string       { return "fake" }
func (p *fakeProvider) ModelName() string          { return "fake-1" }
func (p *fakeProvider) Dims() int                  { return 3 }
func (p *fakeProvider) TimeoutHint() time.Duration { return time.Second }

func (p *fakeProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls++
	if p.fail {
		if p.failAs != nil {
			return nil, p.failAs
		}
		return nil, errors.New("provider down")
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		var b byte
		if len(t) > 0 {
			b = t[0]
		}
		out[i] = []float32{float32(b), 1, 0}
	}
	return out, nil
}

func newRankerForTest(t *testing.T, p embedding.Provider) (*VectorRanker, *store.Store) {
	t.Helper()
	s, err := store.Open("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return NewVectorRanker(p, s, NewANNIndex(3), nil, 2, nil), s
}

func seedChunk(t *testing.T, s *store.Store, id, text string) store.StoredChunk {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, s.UpsertFile(ctx, store.File{Path: "f.md", ContentHash: "fh"}))
	c := store.StoredChunk{ID: id, Path: "f.md", Kind: "markdown", StartLine: 1, EndLine: 1, Text: text, ContentHash: "h-" + id}
	return c
}

func TestVectorRanker_LazyEmbedAndWriteThrough(t *testing.T) {
	p := &fakeProvider{}
	r, s := newRankerForTest(t, p)
	ctx := context.Background()

	c1 := seedChunk(t, s, "c1", "alpha text")
	c2 := seedChunk(t, s, "c2", "beta text")
	require.NoError(t, s.ReplaceChunks(ctx, "f.md", []store.StoredChunk{c1, c2}))

	res := r.Score(ctx, "alpha", []store.StoredChunk{c1, c2}, VectorLimits{MaxChunksToEmbed: 10, MaxTime: time.Second})
	assert.Empty(t, res.Reason)
	require.Len(t, res.Scores, 2)

	// Vectors were written through to the store and the ANN index.
	_, ok, err := s.GetEmbedding(ctx, "c1", "fake", "fake-1")
	require.NoError(t, err)
	assert.True(t, ok)
	_, ok = r.ANN().Lookup("c2")
	assert.True(t, ok)

	// Second query reuses stored vectors: only the query itself is embedded.
	before := p.calls
	res = r.Score(ctx, "alpha", []store.StoredChunk{c1, c2}, VectorLimits{MaxChunksToEmbed: 10, MaxTime: time.Second})
	assert.Empty(t, res.Reason)
	assert.Equal(t, before+1, p.calls)
}

func TestVectorRanker_CountBudgetYieldsPartial(t *testing.T) {
	p := &fakeProvider{}
	r, s := newRankerForTest(t, p)
	ctx := context.Background()

	c1 := seedChunk(t, s, "c1", "one")
	c2 := seedChunk(t, s, "c2", "two")
	c3 := seedChunk(t, s, "c3", "three")

	res := r.Score(ctx, "q", []store.StoredChunk{c1, c2, c3}, VectorLimits{MaxChunksToEmbed: 2, MaxTime: time.Second})
	assert.Equal(t, ReasonEmbeddingPartial, res.Reason)
	assert.Len(t, res.Scores, 2)
}

func TestVectorRanker_ProviderFailure(t *testing.T) {
	p := &fakeProvider{fail: true}
	r, s := newRankerForTest(t, p)
	c1 := seedChunk(t, s, "c1", "one")

	res := r.Score(context.Background(), "q", []store.StoredChunk{c1}, VectorLimits{})
	assert.Equal(t, ReasonEmbeddingTimeout, res.Reason)
	assert.Empty(t, res.Scores)
}

func TestVectorRanker_NullProviderDisabled(t *testing.T) {
	r, s := newRankerForTest(t, embedding.NullProvider{})
	_ = s
	res := r.Score(context.Background(), "q", nil, VectorLimits{})
	assert.Equal(t, ReasonVectorDisabled, res.Reason)
	assert.Empty(t, res.Scores)
}

func TestVectorRanker_StaleStoredEmbeddingIgnored(t *testing.T) {
	p := &fakeProvider{}
	r, s := newRankerForTest(t, p)
	ctx := context.Background()

	c1 := seedChunk(t, s, "c1", "one")
	// A stored embedding whose content hash no longer matches the chunk.
	require.NoError(t, s.UpsertEmbedding(ctx, store.Embedding{
		ChunkID: "c1", Provider: "fake", Model: "fake-1", Dims: 3,
		Vector: []float32{9, 9, 9}, ContentHash: "old-hash",
	}))

	res := r.Score(ctx, "q", []store.StoredChunk{c1}, VectorLimits{MaxChunksToEmbed: 5, MaxTime: time.Second})
	assert.Empty(t, res.Reason)
	// The chunk was re-embedded, not served from the stale row.
	emb, ok, err := s.GetEmbedding(ctx, "c1", "fake", "fake-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "h-c1", emb.ContentHash)
	_ = res
}
