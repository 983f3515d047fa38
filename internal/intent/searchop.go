package intent

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
	"github.com/randalmurphy/smart-context-mcp/internal/search"
)

type searchRequest struct {
	Query      string `json:"query"`
	Type       string `json:"type"`
	Scope      string `json:"scope"`
	MaxResults int    `json:"max_results"`
	Cursor     string `json:"cursor"`

	// Candidate filters, all on unless explicitly excluded.
	ExcludeComments bool `json:"exclude_comments"`
	ExcludeLogs     bool `json:"exclude_logs"`
	ExcludeMetrics  bool `json:"exclude_metrics"`
}

func (r *Router) searchProject(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	started := time.Now()

	var req searchRequest
	if err := decodeArgs(args, &req); err != nil || strings.TrimSpace(req.Query) == "" {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "query is required"})
	}
	if req.Type == "" || req.Type == "auto" {
		req.Type = string(r.classifier.Classify(req.Query))
	}
	if req.MaxResults <= 0 {
		req.MaxResults = 10
	}
	if req.Scope == "" {
		req.Scope = "project"
	}

	offset := 0
	if req.Cursor != "" {
		cursor, err := search.DecodeCursor(req.Cursor)
		if err != nil {
			return errResult(ErrorBody{Code: CodeMissingParameter, Message: "invalid cursor: " + err.Error()})
		}
		offset = cursor.Offset
	}

	var (
		resp search.PaginatedResponse
		err  error
	)
	switch search.QueryType(req.Type) {
	case search.QueryTypeSymbol:
		resp, err = r.searchSymbols(ctx, req, offset)
	case search.QueryTypeFile:
		resp, err = r.searchFiles(ctx, req, offset)
	case search.QueryTypeDirectory:
		resp, err = r.searchDirectory(ctx, req, offset)
	default:
		resp, err = r.searchConcept(ctx, req, offset)
	}
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}

	if r.engine.Metrics != nil {
		r.engine.Metrics.LogSearch(req.Query, req.Type, len(resp.Results), time.Since(started).Milliseconds(), resp.PackHit)
	}

	if len(resp.Results) == 0 && offset == 0 {
		gen := r.symbolSuggestions(ctx)
		return okResult(gen.FormatEmptyResponse(req.Query, req.Scope, gen.Generate(req.Query)))
	}
	return okResult(resp)
}

// searchSymbols looks the identifier up in the symbol table; zero hits
// silently fall back to the concept pipeline, preserving the established
// auto-mode behavior.
func (r *Router) searchSymbols(ctx context.Context, req searchRequest, offset int) (search.PaginatedResponse, error) {
	_, _ = r.engine.Indexer.SyncAll(ctx)

	name := r.classifier.ExtractSymbolName(req.Query)
	syms, err := r.engine.Store.SymbolsByName(ctx, name)
	if err != nil {
		return search.PaginatedResponse{}, err
	}
	if len(syms) == 0 {
		return r.searchConcept(ctx, req, offset)
	}

	results := make([]search.SearchResult, len(syms))
	for i, s := range syms {
		results[i] = search.SearchResult{
			Path:       s.FilePath,
			SymbolName: s.Name,
			Kind:       s.Kind,
			StartLine:  s.StartLine,
			EndLine:    s.EndLine,
			Preview:    s.Signature,
		}
	}
	return search.Paginate(results, offset, req.MaxResults, search.HashQuery(req.Query, req.Scope, "symbol"), req.Type), nil
}

func (r *Router) searchFiles(ctx context.Context, req searchRequest, offset int) (search.PaginatedResponse, error) {
	_, _ = r.engine.Indexer.SyncAll(ctx)

	paths, err := r.engine.Store.ListFilesMatching(ctx, nil)
	if err != nil {
		return search.PaginatedResponse{}, err
	}

	needle := strings.ToLower(strings.TrimSpace(req.Query))
	var results []search.SearchResult
	for _, p := range paths {
		if strings.Contains(strings.ToLower(p), needle) {
			results = append(results, r.fileResult(ctx, p))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return search.Paginate(results, offset, req.MaxResults, search.HashQuery(req.Query, "file"), req.Type), nil
}

// fileResult decorates a bare path hit with its stored first-chunk summary.
func (r *Router) fileResult(ctx context.Context, path string) search.SearchResult {
	res := search.SearchResult{Path: path}
	if summary, ok, err := r.engine.Store.SummaryForPath(ctx, path); err == nil && ok {
		res.Preview = summary
	}
	return res
}

func (r *Router) searchDirectory(ctx context.Context, req searchRequest, offset int) (search.PaginatedResponse, error) {
	_, _ = r.engine.Indexer.SyncAll(ctx)

	paths, err := r.engine.Store.ListFilesMatching(ctx, nil)
	if err != nil {
		return search.PaginatedResponse{}, err
	}

	prefix := strings.TrimPrefix(strings.TrimSpace(req.Query), "./")
	var results []search.SearchResult
	for _, p := range paths {
		if strings.HasPrefix(p, prefix) {
			results = append(results, r.fileResult(ctx, p))
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Path < results[j].Path })
	return search.Paginate(results, offset, req.MaxResults, search.HashQuery(req.Query, "directory"), req.Type), nil
}

func (r *Router) searchConcept(ctx context.Context, req searchRequest, offset int) (search.PaginatedResponse, error) {
	cfg := r.engine.Config.Search
	timeout := time.Duration(cfg.RequestTimeoutMs) * time.Millisecond
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	opts := search.Options{
		Scope:           req.Scope,
		MaxResults:      req.MaxResults,
		IncludeComments: !req.ExcludeComments,
		IncludeLogs:     !req.ExcludeLogs,
		IncludeMetrics:  !req.ExcludeMetrics,
		MMR:             cfg.MMREnabled,
		Vectors:         r.engine.VectorsEnabled(),
	}

	resp, err := r.engine.Pipeline.Search(ctx, req.Query, opts)
	if err != nil {
		return search.PaginatedResponse{}, err
	}

	results := make([]search.SearchResult, 0, len(resp.Pack.Items))
	for _, item := range resp.Pack.Items {
		results = append(results, search.SearchResult{
			Path:        item.Path,
			StartLine:   item.Range.StartLine,
			EndLine:     item.Range.EndLine,
			SectionPath: item.SectionPath,
			Preview:     item.Preview,
			Scores:      item.Scores,
		})
	}

	page := search.Paginate(results, offset, req.MaxResults, search.HashQuery(req.Query, req.Scope, "concept"), req.Type)
	page.PackID = resp.Pack.PackID
	page.PackHit = resp.CacheHit
	page.Degraded = resp.Pack.Degraded
	if resp.Degraded {
		page.Degraded = append(page.Degraded, "deadline_exceeded")
	}
	return page, nil
}

// symbolSuggestions seeds a generator from the live symbol table.
func (r *Router) symbolSuggestions(ctx context.Context) *search.SuggestionGenerator {
	gen := search.NewSuggestionGenerator()
	if names, err := r.engine.Store.AllSymbolNames(ctx); err == nil {
		gen.AddKnownTerms(names)
	}
	return gen
}
