package search

import (
	"context"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/randalmurphy/smart-context-mcp/internal/chunk"
	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/indexer"
	"github.com/randalmurphy/smart-context-mcp/internal/rank"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Degradation reasons the pipeline itself can attach (the vector ranker
// contributes its own).
const (
	ReasonBudgetExceeded    = "budget_exceeded"
	ReasonEvidenceTruncated = "evidence_truncated"
)

// domainBoost is the multiplicative bump applied to chunks whose path
// looks like metrics/telemetry material, which otherwise rank poorly
// against prose despite being what operators usually want.
const domainBoost = 1.15

var metricsPathRe = regexp.MustCompile(`(?i)(^|/)(metrics|telemetry|analytics)(/|\.|_|$)`)

var logsPathRe = regexp.MustCompile(`(?i)(^|/)logs?(/|\.|_|$)|\.log$`)

// perItemPreviewChars caps one item's preview even when the cumulative
// evidence budget still has room.
const perItemPreviewChars = 600

// Response is a search outcome: the pack (fresh or cached) plus cache and
// deadline bookkeeping.
type Response struct {
	Pack     *Pack
	CacheHit bool
	// Degraded is set when the request deadline expired mid-pipeline and
	// the response is the best result assembled so far.
	Degraded bool
}

// Pipeline wires the retrieval stages together. One Pipeline serves all
// queries for a project; per-pack-id mutexes serialize identical queries
// so concurrent duplicates wait for the first build and hit the cache.
type Pipeline struct {
	store  *store.Store
	idx    *indexer.Indexer
	scout  *Scout
	vec    *rank.VectorRanker
	cfg    config.SearchConfig
	limits rank.VectorLimits
	rootFP string
	logger *slog.Logger

	front *lru.Cache[string, *Pack]
	keyed *keyedMutex

	// now is swappable for tests that need TTL control.
	now func() time.Time
}

// NewPipeline builds the search pipeline for one project root.
func NewPipeline(s *store.Store, idx *indexer.Indexer, vec *rank.VectorRanker, cfg *config.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = slog.Default()
	}
	front, err := lru.New[string, *Pack](max(1, cfg.Search.PackCacheSize))
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		store:  s,
		idx:    idx,
		scout:  NewScout(s, logger),
		vec:    vec,
		cfg:    cfg.Search,
		limits: rank.VectorLimits{MaxChunksToEmbed: cfg.Embedding.MaxChunksToEmbed, MaxTime: time.Duration(cfg.Embedding.MaxTimeMs) * time.Millisecond},
		rootFP: RootFingerprint(idx.Root()),
		logger: logger,
		front:  front,
		keyed:  newKeyedMutex(),
		now:    time.Now,
	}, nil
}

// Search runs the full pipeline for a query. Ranking failures degrade, the
// cache is probed before and written after, and concurrent identical
// queries serialize on the pack id.
func (p *Pipeline) Search(ctx context.Context, query string, opts Options) (*Response, error) {
	normalizeOptions(&opts)

	packID, err := ComputePackID(query, opts, p.rootFP)
	if err != nil {
		return nil, err
	}

	unlock := p.keyed.lock(packID)
	defer unlock()

	// Freshness first, so both the staleness probe and candidate loading
	// see chunks for the bytes currently on disk.
	if _, err := p.idx.SyncAll(ctx); err != nil {
		p.logger.Warn("index sync failed, searching stale index", "error", err)
	}

	if pack := p.probeCache(ctx, packID); pack != nil {
		return &Response{Pack: pack, CacheHit: true}, nil
	}

	pack, degraded, err := p.build(ctx, packID, query, opts)
	if err != nil {
		return nil, err
	}

	p.writeCache(ctx, pack)
	return &Response{Pack: pack, Degraded: degraded}, nil
}

// probeCache returns a cached pack iff it exists, has not expired, and
// every staleness token still matches the live chunk hash.
func (p *Pipeline) probeCache(ctx context.Context, packID string) *Pack {
	nowMs := p.now().UnixMilli()

	pack, ok := p.front.Get(packID)
	if !ok {
		stored, found, err := p.store.GetPack(ctx, packID)
		if err != nil || !found {
			return nil
		}
		pack, err = DecodePack(stored.Payload)
		if err != nil {
			return nil
		}
	}

	if pack.ExpiresAt <= nowMs {
		p.front.Remove(packID)
		_ = p.store.DeleteExpiredPacks(ctx, nowMs)
		return nil
	}

	for _, item := range pack.Items {
		hash, ok, err := p.store.GetContentHash(ctx, item.ChunkID)
		if err != nil || !ok || hash != item.StalenessToken {
			p.front.Remove(packID)
			return nil
		}
	}
	return pack
}

func (p *Pipeline) writeCache(ctx context.Context, pack *Pack) {
	p.front.Add(pack.PackID, pack)
	payload, err := EncodePack(pack)
	if err != nil {
		p.logger.Warn("pack encode failed", "error", err)
		return
	}
	if err := p.store.UpsertPack(ctx, store.Pack{
		PackID:    pack.PackID,
		CreatedAt: pack.CreatedAt,
		TTLMs:     pack.ExpiresAt - pack.CreatedAt,
		Payload:   payload,
	}); err != nil {
		p.logger.Warn("pack store failed", "error", err)
	}
}

// build runs stages 2..10. The returned bool reports deadline degradation.
func (p *Pipeline) build(ctx context.Context, packID, query string, opts Options) (*Pack, bool, error) {
	queryTokens := rank.Tokenize(query)
	var degradedReasons []string

	// Stage 2: candidate files.
	files, err := p.scout.CandidateFiles(ctx, query, ScopeGlobs(opts.Scope), p.cfg.MaxCandidates)
	if err != nil {
		return nil, false, err
	}

	// Stage 3: candidate chunks.
	var candidates []store.StoredChunk
	for _, f := range files {
		chunks, err := p.store.ChunksForPath(ctx, f)
		if err != nil {
			p.logger.Warn("chunk load failed", "path", f, "error", err)
			continue
		}
		for _, c := range chunks {
			if !opts.IncludeComments && c.Kind == string(chunk.KindCodeComment) {
				continue
			}
			if !opts.IncludeLogs && logsPathRe.MatchString(c.Path) {
				continue
			}
			if !opts.IncludeMetrics && metricsPathRe.MatchString(c.Path) {
				continue
			}
			candidates = append(candidates, c)
		}
	}

	if len(candidates) > p.cfg.MaxChunkCandidates {
		candidates = pruneByOverlap(queryTokens, candidates, p.cfg.MaxChunkCandidates)
		degradedReasons = append(degradedReasons, ReasonBudgetExceeded)
	}

	byID := make(map[string]store.StoredChunk, len(candidates))
	for _, c := range candidates {
		byID[c.ID] = c
	}

	// Stage 4: lexical scoring.
	docs := make([]rank.Doc, len(candidates))
	for i, c := range candidates {
		docs[i] = rank.Doc{ID: c.ID, Heading: c.Heading, SectionPath: c.SectionPath, Text: c.Text}
	}
	lexical := rank.BM25F(queryTokens, docs)

	// Stage 5: vector scoring over the lexical top slice.
	var vecResult rank.VectorResult
	deadlineHit := ctx.Err() != nil
	if opts.Vectors && !deadlineHit {
		vecTop := lexical
		if len(vecTop) > p.cfg.MaxVectorCandidates {
			vecTop = vecTop[:p.cfg.MaxVectorCandidates]
		}
		vecCands := make([]store.StoredChunk, 0, len(vecTop))
		for _, s := range vecTop {
			vecCands = append(vecCands, byID[s.ID])
		}
		vecResult = p.vec.Score(ctx, query, vecCands, p.limits)
		if vecResult.Reason != "" {
			degradedReasons = append(degradedReasons, vecResult.Reason)
		}
		deadlineHit = ctx.Err() != nil
	}
	vectorsLive := opts.Vectors && len(vecResult.Scores) > 0

	// Stage 6+7: fusion and base ordering.
	pathOf := func(id string) string { return byID[id].Path }
	ordered := fuseAndOrder(lexical, vecResult.Scores, vectorsLive, p.cfg, pathOf)

	// Stage 8: MMR diversification.
	if opts.MMR && !deadlineHit {
		ordered = p.diversify(ordered, byID)
	}

	// Stage 9: evidence shaping.
	items, truncated := p.shape(ordered, byID, queryTokens, opts)
	if truncated {
		degradedReasons = append(degradedReasons, ReasonEvidenceTruncated)
	}

	nowMs := p.now().UnixMilli()
	pack := &Pack{
		PackID:    packID,
		Query:     query,
		CreatedAt: nowMs,
		ExpiresAt: nowMs + p.cfg.PackTTLMs,
		Items:     items,
		Degraded:  dedupeStrings(degradedReasons),
	}
	return pack, deadlineHit, nil
}

// scoredChunk is a chunk's position in the base ordering with all scores.
type scoredChunk struct {
	ID     string
	Scores Scores
}

// fuseAndOrder applies reciprocal rank fusion and produces the base
// ordering: by fused score when vectors participated, else by BM25. The
// optional domain boost multiplies the ordering score for metrics-style
// paths. Ties break by chunk id for run-to-run stability.
func fuseAndOrder(lexical []rank.Scored, vecScores map[string]float64, vectorsLive bool, cfg config.SearchConfig, pathOf func(string) string) []scoredChunk {
	fused := make(map[string]*scoredChunk)
	get := func(id string) *scoredChunk {
		if s, ok := fused[id]; ok {
			return s
		}
		s := &scoredChunk{ID: id}
		fused[id] = s
		return s
	}

	for i, s := range lexical {
		sc := get(s.ID)
		sc.Scores.BM25 = s.Score
		if i < cfg.RRFDepth {
			sc.Scores.Fused += 1.0 / float64(cfg.RRFK+i+1)
		}
	}

	if vectorsLive {
		ids := make([]string, 0, len(vecScores))
		for id := range vecScores {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool {
			if vecScores[ids[i]] != vecScores[ids[j]] {
				return vecScores[ids[i]] > vecScores[ids[j]]
			}
			return ids[i] < ids[j]
		})
		for i, id := range ids {
			sc := get(id)
			sc.Scores.Vector = vecScores[id]
			if i < cfg.RRFDepth {
				sc.Scores.Fused += 1.0 / float64(cfg.RRFK+i+1)
			}
		}
	}

	out := make([]scoredChunk, 0, len(fused))
	for _, s := range fused {
		out = append(out, *s)
	}

	orderScore := func(s scoredChunk) float64 {
		base := s.Scores.BM25
		if vectorsLive {
			base = s.Scores.Fused
		}
		if metricsPathRe.MatchString(pathOf(s.ID)) {
			base *= domainBoost
		}
		return base
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := orderScore(out[i]), orderScore(out[j])
		if a != b {
			return a > b
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// diversify applies MMR over the base ordering, using stored vectors when
// both chunks have one and token Jaccard otherwise.
func (p *Pipeline) diversify(ordered []scoredChunk, byID map[string]store.StoredChunk) []scoredChunk {
	if len(ordered) == 0 {
		return ordered
	}

	// Relevance is normalized to [0,1] so lambda balances against
	// similarity on a comparable scale.
	maxRel := 0.0
	rel := make([]float64, len(ordered))
	for i, s := range ordered {
		r := s.Scores.Fused
		if r == 0 {
			r = s.Scores.BM25
		}
		rel[i] = r
		if r > maxRel {
			maxRel = r
		}
	}

	cands := make([]mmrCandidate, len(ordered))
	for i, s := range ordered {
		r := rel[i]
		if maxRel > 0 {
			r /= maxRel
		}
		cands[i] = mmrCandidate{ChunkID: s.ID, Relevance: r, OrigRank: i}
	}

	ann := p.vec.ANN()
	sim := func(a, b string) float64 {
		if ann != nil {
			va, okA := ann.Lookup(a)
			vb, okB := ann.Lookup(b)
			if okA && okB {
				return rank.Cosine(va, vb)
			}
		}
		return rank.Jaccard(byID[a].Text, byID[b].Text)
	}

	picked := MMRSelect(cands, p.cfg.MMRLambda, p.cfg.MaxEvidenceSections, sim)

	index := make(map[string]scoredChunk, len(ordered))
	for _, s := range ordered {
		index[s.ID] = s
	}
	out := make([]scoredChunk, 0, len(picked))
	for _, c := range picked {
		out = append(out, index[c.ChunkID])
	}
	return out
}

// shape builds the final pack items: previews, roles, section budget, and
// the cumulative character budget. Returns the items and whether shaping
// truncated anything.
func (p *Pipeline) shape(ordered []scoredChunk, byID map[string]store.StoredChunk, queryTokens []string, opts Options) ([]PackItem, bool) {
	truncated := len(ordered) > p.cfg.MaxEvidenceSections
	if truncated {
		ordered = ordered[:p.cfg.MaxEvidenceSections]
	}

	var items []PackItem
	remaining := p.cfg.MaxEvidenceChars
	for i, s := range ordered {
		if remaining <= 0 {
			truncated = true
			break
		}
		c := byID[s.ID]

		budget := perItemPreviewChars
		if budget > remaining {
			budget = remaining
		}
		preview := chunk.Preview(toChunk(c), queryTokens, budget)
		remaining -= len(preview)

		role := RoleEvidence
		if i < opts.MaxResults {
			role = RoleResult
		}
		items = append(items, PackItem{
			Role:           role,
			Rank:           i + 1,
			ChunkID:        c.ID,
			Path:           c.Path,
			Range:          chunk.Range{StartLine: c.StartLine, EndLine: c.EndLine},
			SectionPath:    c.SectionPath,
			Heading:        c.Heading,
			Preview:        preview,
			Scores:         s.Scores,
			StalenessToken: c.ContentHash,
		})
	}
	return items, truncated
}

func toChunk(c store.StoredChunk) chunk.Chunk {
	return chunk.Chunk{
		ID:           c.ID,
		Path:         c.Path,
		Kind:         chunk.Kind(c.Kind),
		SectionPath:  c.SectionPath,
		Heading:      c.Heading,
		HeadingLevel: c.HeadingLevel,
		Range:        chunk.Range{StartLine: c.StartLine, EndLine: c.EndLine},
		Text:         c.Text,
		ContentHash:  c.ContentHash,
		SymbolName:   c.SymbolName,
		SymbolKind:   c.SymbolKind,
	}
}

// pruneByOverlap keeps the top max candidates by distinct query-token
// overlap, ties broken by chunk id.
func pruneByOverlap(queryTokens []string, cands []store.StoredChunk, max int) []store.StoredChunk {
	type scored struct {
		c       store.StoredChunk
		overlap int
	}
	scoredCands := make([]scored, len(cands))
	for i, c := range cands {
		scoredCands[i] = scored{c: c, overlap: rank.TokenOverlap(queryTokens, c.Text)}
	}
	sort.Slice(scoredCands, func(i, j int) bool {
		if scoredCands[i].overlap != scoredCands[j].overlap {
			return scoredCands[i].overlap > scoredCands[j].overlap
		}
		return scoredCands[i].c.ID < scoredCands[j].c.ID
	})
	out := make([]store.StoredChunk, 0, max)
	for i := 0; i < max && i < len(scoredCands); i++ {
		out = append(out, scoredCands[i].c)
	}
	return out
}

func normalizeOptions(opts *Options) {
	if opts.Scope == "" {
		opts.Scope = "project"
	}
	if opts.MaxResults <= 0 {
		opts.MaxResults = 10
	}
}

func dedupeStrings(in []string) []string {
	seen := make(map[string]bool, len(in))
	var out []string
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

// keyedMutex serializes work per string key: at most one in-flight build
// per pack id, with waiters observing the cache after the first finishes.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*keyedLock)}
}

func (k *keyedMutex) lock(key string) (unlock func()) {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
