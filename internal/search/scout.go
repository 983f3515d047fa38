package search

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/randalmurphy/smart-context-mcp/internal/store"
)

// Scout is the lexical file scout: a small in-memory bleve index over file
// paths, headings, and symbol names that answers "which files are worth
// loading chunks for" before the per-chunk rankers run. It is rebuilt
// lazily whenever the store's chunks generation moves.
type Scout struct {
	store  *store.Store
	logger *slog.Logger

	mu         sync.Mutex
	index      bleve.Index
	generation int64
}

type scoutDoc struct {
	Path     string `json:"path"`
	Name     string `json:"name"`
	Headings string `json:"headings"`
	Symbols  string `json:"symbols"`
}

// NewScout creates a scout over the store.
func NewScout(s *store.Store, logger *slog.Logger) *Scout {
	if logger == nil {
		logger = slog.Default()
	}
	return &Scout{store: s, logger: logger}
}

// CandidateFiles returns up to max file paths matching the query under the
// scope globs, best-first, deduplicated. An empty bleve result falls back
// to filename substring search.
func (s *Scout) CandidateFiles(ctx context.Context, query string, globs []string, max int) ([]string, error) {
	if err := s.refresh(ctx); err != nil {
		return nil, err
	}

	allowed, err := s.allowedSet(ctx, globs)
	if err != nil {
		return nil, err
	}

	hits, err := s.query(query, max*3)
	if err != nil {
		s.logger.Warn("scout query failed", "error", err)
		hits = nil
	}

	var out []string
	seen := make(map[string]bool)
	for _, p := range hits {
		if !allowed[p] || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
		if len(out) == max {
			return out, nil
		}
	}

	if len(out) == 0 {
		out = filenameFallback(query, allowed, max)
	}
	return out, nil
}

func (s *Scout) refresh(ctx context.Context) error {
	gen, err := s.store.Generation(ctx, "chunks")
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.index != nil && s.generation == gen {
		return nil
	}

	mapping := bleve.NewIndexMapping()
	idx, err := bleve.NewMemOnly(mapping)
	if err != nil {
		return fmt.Errorf("create scout index: %w", err)
	}

	paths, err := s.store.ListFilesMatching(ctx, nil)
	if err != nil {
		return err
	}

	batch := idx.NewBatch()
	for _, p := range paths {
		chunks, err := s.store.ChunksForPath(ctx, p)
		if err != nil {
			return err
		}
		var headings, symbols []string
		for _, c := range chunks {
			if c.Heading != "" {
				headings = append(headings, c.Heading)
			}
			if c.SymbolName != "" {
				symbols = append(symbols, c.SymbolName)
			}
		}
		doc := scoutDoc{
			Path:     p,
			Name:     pathTokens(p),
			Headings: strings.Join(headings, " "),
			Symbols:  strings.Join(symbols, " "),
		}
		if err := batch.Index(p, doc); err != nil {
			return err
		}
	}
	if err := idx.Batch(batch); err != nil {
		return err
	}

	if s.index != nil {
		_ = s.index.Close()
	}
	s.index = idx
	s.generation = gen
	return nil
}

func (s *Scout) query(query string, limit int) ([]string, error) {
	s.mu.Lock()
	idx := s.index
	s.mu.Unlock()
	if idx == nil || strings.TrimSpace(query) == "" {
		return nil, nil
	}

	match := bleve.NewMatchQuery(query)
	req := bleve.NewSearchRequestOptions(match, limit, 0, false)
	res, err := idx.Search(req)
	if err != nil {
		return nil, err
	}

	out := make([]string, 0, len(res.Hits))
	for _, h := range res.Hits {
		out = append(out, h.ID)
	}
	return out, nil
}

// allowedSet resolves the scope globs against the stored file list.
func (s *Scout) allowedSet(ctx context.Context, globs []string) (map[string]bool, error) {
	paths, err := s.store.ListFilesMatching(ctx, globs)
	if err != nil {
		return nil, err
	}
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return set, nil
}

// filenameFallback is the last-resort candidate source: case-insensitive
// substring match of query tokens against file paths.
func filenameFallback(query string, allowed map[string]bool, max int) []string {
	tokens := strings.Fields(strings.ToLower(query))
	if len(tokens) == 0 {
		return nil
	}

	var out []string
	for p := range allowed {
		lower := strings.ToLower(p)
		for _, t := range tokens {
			if strings.Contains(lower, t) {
				out = append(out, p)
				break
			}
		}
	}
	sort.Strings(out)
	if len(out) > max {
		out = out[:max]
	}
	return out
}

// pathTokens splits a path into searchable words ("internal/search/scout.go"
// -> "internal search scout go").
func pathTokens(p string) string {
	return strings.Join(strings.FieldsFunc(p, func(r rune) bool {
		return r == '/' || r == '.' || r == '_' || r == '-'
	}), " ")
}

// ScopeGlobs maps a scope name to store glob patterns. Nil means all files.
func ScopeGlobs(scope string) []string {
	switch scope {
	case "docs":
		return []string{"**/*.md", "**/*.mdx", "**/*.txt"}
	default:
		return nil
	}
}
