package intent

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphy/smart-context-mcp/internal/graph"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

type relationshipRequest struct {
	Target    string `json:"target"`
	Mode      string `json:"mode"`
	Direction string `json:"direction"`
	MaxDepth  int    `json:"max_depth"`
	File      string `json:"file"`
	Line      int    `json:"line"`
}

type relationshipResponse struct {
	ResolvedTarget string              `json:"resolved_target"`
	Mode           string              `json:"mode"`
	Nodes          []graph.Node        `json:"nodes"`
	Edges          []graph.Edge        `json:"edges"`
	Impact         *graph.ImpactReport `json:"impact,omitempty"`
}

func (r *Router) analyzeRelationship(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	var req relationshipRequest
	if err := decodeArgs(args, &req); err != nil || req.Target == "" || req.Mode == "" {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "target and mode are required"})
	}
	if req.MaxDepth <= 0 {
		req.MaxDepth = 3
	}
	direction := graph.Downstream
	if req.Direction == "upstream" {
		direction = graph.Upstream
	}

	// Freshness before graph reads, same as search.
	_, _ = r.engine.Indexer.SyncAll(ctx)

	switch req.Mode {
	case "dependencies":
		return r.fileDependencies(ctx, req, direction)
	case "impact":
		return r.impactAnalysis(ctx, req)
	case "calls":
		return r.symbolGraph(ctx, req, direction, false)
	case "types":
		return r.symbolGraph(ctx, req, direction, true)
	case "data_flow":
		return r.dataFlow(ctx, req)
	default:
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: fmt.Sprintf("unknown mode %q", req.Mode)})
	}
}

// resolveFileTarget accepts either a stored path or a unique path suffix.
func (r *Router) resolveFileTarget(ctx context.Context, target string) (string, bool) {
	target = strings.TrimPrefix(target, "./")
	if _, ok, err := r.engine.Store.GetFile(ctx, target); err == nil && ok {
		return target, true
	}
	paths, err := r.engine.Store.ListFilesMatching(ctx, nil)
	if err != nil {
		return "", false
	}
	var hit string
	for _, p := range paths {
		if strings.HasSuffix(p, target) {
			if hit != "" {
				return "", false // ambiguous suffix
			}
			hit = p
		}
	}
	return hit, hit != ""
}

func (r *Router) fileDependencies(ctx context.Context, req relationshipRequest, direction graph.Direction) *mcp.CallToolResult {
	path, ok := r.resolveFileTarget(ctx, req.Target)
	if !ok {
		return r.symbolNotFound(ctx, req.Target)
	}

	direct, err := r.engine.Graph.Direct(ctx, path, direction)
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}
	reach, err := r.engine.Graph.Transitive(ctx, path, direction, req.MaxDepth)
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}

	nodes := []graph.Node{{Name: path, File: path}}
	for _, p := range reach {
		nodes = append(nodes, graph.Node{Name: p, File: p})
	}
	edges := make([]graph.Edge, 0, len(direct))
	for _, e := range direct {
		edges = append(edges, graph.Edge{From: e.SourceFile, To: e.TargetPath, Relation: e.Kind, Line: e.Line})
	}

	return okResult(relationshipResponse{ResolvedTarget: path, Mode: req.Mode, Nodes: nodes, Edges: edges})
}

func (r *Router) impactAnalysis(ctx context.Context, req relationshipRequest) *mcp.CallToolResult {
	path, ok := r.resolveFileTarget(ctx, req.Target)
	if !ok {
		return r.symbolNotFound(ctx, req.Target)
	}

	report, err := r.engine.Graph.Analyze(ctx, []string{path}, 1)
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}

	nodes := []graph.Node{{Name: path, File: path}}
	for _, p := range report.Incoming {
		nodes = append(nodes, graph.Node{Name: p, File: p})
	}
	for _, p := range report.Outgoing {
		nodes = append(nodes, graph.Node{Name: p, File: p})
	}

	return okResult(relationshipResponse{ResolvedTarget: path, Mode: req.Mode, Nodes: nodes, Edges: []graph.Edge{}, Impact: report})
}

func (r *Router) symbolGraph(ctx context.Context, req relationshipRequest, direction graph.Direction, types bool) *mcp.CallToolResult {
	name := r.classifier.ExtractSymbolName(req.Target)
	syms, err := r.engine.Store.SymbolsByName(ctx, name)
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}
	if len(syms) == 0 {
		return r.symbolNotFound(ctx, req.Target)
	}

	var (
		nodes []graph.Node
		edges []graph.Edge
	)
	if types {
		nodes, edges, err = r.engine.Graph.TypeGraph(ctx, name, direction, req.MaxDepth)
	} else {
		nodes, edges, err = r.engine.Graph.SymbolCallGraph(ctx, name, direction, req.MaxDepth)
	}
	if err != nil {
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}

	return okResult(relationshipResponse{ResolvedTarget: name, Mode: req.Mode, Nodes: nodes, Edges: edges})
}

func (r *Router) dataFlow(ctx context.Context, req relationshipRequest) *mcp.CallToolResult {
	if req.File == "" || req.Line <= 0 {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "data_flow requires file and line"})
	}
	path, ok := r.resolveFileTarget(ctx, req.File)
	if !ok {
		return errResult(ErrorBody{Code: CodeFileNotFound, Message: fmt.Sprintf("%s is not indexed", req.File)})
	}

	nodes, edges, err := r.engine.Graph.DataFlow(ctx, req.Target, path, req.Line, req.MaxDepth)
	if err != nil {
		return errResult(ErrorBody{Code: CodeSymbolNotFound, Message: err.Error()})
	}
	return okResult(relationshipResponse{ResolvedTarget: req.Target, Mode: req.Mode, Nodes: nodes, Edges: edges})
}

func (r *Router) symbolNotFound(ctx context.Context, target string) *mcp.CallToolResult {
	gen := r.symbolSuggestions(ctx)
	suggestions := gen.Generate(target)

	body := ErrorBody{
		Code:    CodeSymbolNotFound,
		Message: fmt.Sprintf("could not resolve %q to an indexed file or symbol", target),
	}
	if len(suggestions) > 0 {
		terms := make([]string, len(suggestions))
		for i, s := range suggestions {
			terms[i] = s.Term
		}
		body.Details = map[string]any{"suggestions": terms}
		body.Suggestion = fmt.Sprintf("did you mean %q?", terms[0])
	}
	return errResult(body)
}
