package rank

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"time"

	"github.com/randalmurphy/smart-context-mcp/internal/cache"
	"github.com/randalmurphy/smart-context-mcp/internal/embedding"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Degradation reasons the vector ranker can attach to a search response.
const (
	ReasonVectorDisabled   = "vector_disabled"
	ReasonEmbeddingTimeout = "embedding_timeout"
	ReasonEmbeddingPartial = "embedding_partial"
)

const embedBatchSize = 16

// VectorLimits bounds the lazy-embedding work one query may trigger.
type VectorLimits struct {
	MaxChunksToEmbed int
	MaxTime          time.Duration
}

// VectorResult carries the per-chunk cosine similarities plus the
// degradation reason, if any. An empty score map with a reason means the
// pipeline should fall back to BM25-only ordering.
type VectorResult struct {
	Scores      map[string]float64
	QueryVector []float32
	Reason      string
}

// VectorRanker scores candidate chunks by cosine similarity between the
// query embedding and each chunk's embedding, lazily embedding chunks that
// have none yet (within the limits) and writing the results through to the
// store, the ANN index, and the optional Redis cache.
type VectorRanker struct {
	provider embedding.Provider
	store    *store.Store
	ann      *ANNIndex
	redis    *cache.RedisCache // may be nil
	permits  chan struct{}
	logger   *slog.Logger
}

// NewVectorRanker wires the ranker. maxConcurrency bounds in-flight
// provider calls across all queries (the provider permit semaphore).
func NewVectorRanker(provider embedding.Provider, s *store.Store, ann *ANNIndex, redis *cache.RedisCache, maxConcurrency int, logger *slog.Logger) *VectorRanker {
	if maxConcurrency <= 0 {
		maxConcurrency = 2
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &VectorRanker{
		provider: provider,
		store:    s,
		ann:      ann,
		redis:    redis,
		permits:  make(chan struct{}, maxConcurrency),
		logger:   logger,
	}
}

// ANN exposes the ranker's index for the pipeline's nearest-neighbor
// candidate expansion and MMR similarity lookups.
func (r *VectorRanker) ANN() *ANNIndex { return r.ann }

// Warm seeds the ANN index from every embedding stored under the ranker's
// (provider, model), called once at startup.
func (r *VectorRanker) Warm(ctx context.Context) error {
	embs, err := r.store.EmbeddingsForModel(ctx, r.provider.ProviderName(), r.provider.ModelName())
	if err != nil {
		return err
	}
	for _, e := range embs {
		r.ann.Add(e.ChunkID, e.Vector)
	}
	return nil
}

// Score implements the C6 procedure: embed the query once, look up stored
// candidate vectors, lazily embed up to limits.MaxChunksToEmbed missing
// ones in batches of at most 16 until the time budget runs out, and return
// chunk id to cosine similarity. Provider failure degrades to an empty map
// with a reason; it never fails the query.
func (r *VectorRanker) Score(ctx context.Context, query string, candidates []store.StoredChunk, limits VectorLimits) VectorResult {
	if _, disabled := r.provider.(embedding.NullProvider); disabled {
		return VectorResult{Reason: ReasonVectorDisabled}
	}

	start := time.Now()

	queryVec, err := r.embedOne(ctx, query)
	if err != nil {
		return VectorResult{Reason: classifyEmbedErr(err)}
	}

	scores := make(map[string]float64, len(candidates))
	var missing []store.StoredChunk
	for _, c := range candidates {
		vec, ok := r.lookupVector(ctx, c)
		if ok {
			scores[c.ID] = Cosine(queryVec, vec)
			continue
		}
		missing = append(missing, c)
	}

	reason := ""
	if len(missing) > 0 {
		reason = r.embedMissing(ctx, queryVec, missing, limits, start, scores)
	}

	return VectorResult{Scores: scores, QueryVector: queryVec, Reason: reason}
}

// EmbedQuery embeds a bare query string, used by the symbol-suggestion and
// nearest-neighbor paths that need a vector without candidate scoring.
func (r *VectorRanker) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	return r.embedOne(ctx, query)
}

func (r *VectorRanker) embedOne(ctx context.Context, text string) ([]float32, error) {
	vecs, err := r.callProvider(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 || len(vecs[0]) != r.provider.Dims() {
		return nil, errors.New("provider returned malformed query embedding")
	}
	return vecs[0], nil
}

// lookupVector resolves a candidate's stored vector: ANN index first (hot,
// in-memory), then the Redis content-hash cache, then SQLite. Redis and
// SQLite hits are promoted into the ANN index on the way out.
func (r *VectorRanker) lookupVector(ctx context.Context, c store.StoredChunk) ([]float32, bool) {
	if vec, ok := r.ann.Lookup(c.ID); ok {
		return vec, true
	}

	if r.redis != nil {
		if vec, ok, err := r.redis.GetVector(ctx, r.provider.ModelName(), c.ContentHash); err == nil && ok && len(vec) == r.provider.Dims() {
			r.persist(ctx, c, vec)
			return vec, true
		}
	}

	emb, ok, err := r.store.GetEmbedding(ctx, c.ID, r.provider.ProviderName(), r.provider.ModelName())
	if err != nil || !ok {
		return nil, false
	}
	// A stored embedding for stale chunk text does not count.
	if emb.ContentHash != c.ContentHash {
		return nil, false
	}
	r.ann.Add(c.ID, emb.Vector)
	return emb.Vector, true
}

// embedMissing embeds missing chunks batch by batch within the limits and
// folds the new similarities into scores. Returns the degradation reason,
// empty when every missing chunk was embedded in time.
func (r *VectorRanker) embedMissing(ctx context.Context, queryVec []float32, missing []store.StoredChunk, limits VectorLimits, start time.Time, scores map[string]float64) string {
	budget := limits.MaxChunksToEmbed
	if budget <= 0 || budget > len(missing) {
		budget = len(missing)
	}
	skippedByCount := len(missing) > budget
	missing = missing[:budget]

	for i := 0; i < len(missing); i += embedBatchSize {
		if limits.MaxTime > 0 && time.Since(start) > limits.MaxTime {
			return ReasonEmbeddingPartial
		}

		end := i + embedBatchSize
		if end > len(missing) {
			end = len(missing)
		}
		batch := missing[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = c.Text
		}

		batchCtx := ctx
		if limits.MaxTime > 0 {
			remaining := limits.MaxTime - time.Since(start)
			var cancel context.CancelFunc
			batchCtx, cancel = context.WithTimeout(ctx, remaining)
			defer cancel()
		}

		vecs, err := r.callProvider(batchCtx, texts)
		if err != nil {
			r.logger.Warn("embedding batch failed", "count", len(batch), "error", err)
			if i > 0 {
				return ReasonEmbeddingPartial
			}
			return classifyEmbedErr(err)
		}

		for j, c := range batch {
			if j >= len(vecs) || len(vecs[j]) != r.provider.Dims() {
				continue
			}
			scores[c.ID] = Cosine(queryVec, vecs[j])
			r.persist(ctx, c, vecs[j])
		}
	}

	if skippedByCount {
		return ReasonEmbeddingPartial
	}
	return ""
}

// persist writes a freshly computed vector through to every layer.
func (r *VectorRanker) persist(ctx context.Context, c store.StoredChunk, vec []float32) {
	var norm float64
	for _, f := range vec {
		norm += float64(f) * float64(f)
	}
	err := r.store.UpsertEmbedding(ctx, store.Embedding{
		ChunkID:     c.ID,
		Provider:    r.provider.ProviderName(),
		Model:       r.provider.ModelName(),
		Dims:        len(vec),
		Vector:      vec,
		L2Norm:      float32(math.Sqrt(norm)),
		ContentHash: c.ContentHash,
	})
	if err != nil {
		r.logger.Warn("failed to store embedding", "chunk", c.ID, "error", err)
	}
	r.ann.Add(c.ID, vec)
	if r.redis != nil {
		if err := r.redis.SetVector(ctx, r.provider.ModelName(), c.ContentHash, vec); err != nil {
			r.logger.Debug("redis vector write failed", "error", err)
		}
	}
}

// callProvider runs one provider call under the concurrency permit and the
// provider's own timeout hint.
func (r *VectorRanker) callProvider(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case r.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-r.permits }()

	callCtx, cancel := context.WithTimeout(ctx, r.provider.TimeoutHint())
	defer cancel()
	return r.provider.Embed(callCtx, texts)
}

func classifyEmbedErr(err error) string {
	if errors.Is(err, embedding.ErrDisabled) {
		return ReasonVectorDisabled
	}
	return ReasonEmbeddingTimeout
}
