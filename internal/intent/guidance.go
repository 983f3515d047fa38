package intent

import (
	"context"
	"strings"

	"github.com/samber/lo"

	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
	"github.com/randalmurphy/smart-context-mcp/internal/pattern"
)

type guidanceRequest struct {
	FilePaths []string `json:"file_paths"`
	Pattern   string   `json:"pattern"`
}

type guidanceResponse struct {
	Clusters []pattern.Cluster      `json:"clusters"`
	Items    []pattern.GuidanceItem `json:"items"`
}

func (r *Router) batchGuidance(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	var req guidanceRequest
	if err := decodeArgs(args, &req); err != nil || len(req.FilePaths) == 0 {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "file_paths is required"})
	}

	_, _ = r.engine.Indexer.SyncAll(ctx)

	var shapes []pattern.FileShape
	for _, raw := range lo.Uniq(req.FilePaths) {
		path, ok := r.resolveFileTarget(ctx, raw)
		if !ok {
			continue
		}
		shape := pattern.FileShape{Path: path}

		edges, err := r.engine.Store.FileEdgesFrom(ctx, path)
		if err == nil {
			for _, e := range edges {
				shape.Imports = append(shape.Imports, e.TargetPath)
			}
		}
		syms, err := r.engine.Store.SymbolsForFile(ctx, path)
		if err == nil {
			for _, s := range syms {
				shape.Methods = append(shape.Methods, s.Name)
			}
		}
		shapes = append(shapes, shape)
	}

	if len(shapes) == 0 {
		return errResult(ErrorBody{Code: CodeFileNotFound, Message: "none of the supplied paths are indexed"})
	}

	clusters := r.engine.Detector.Clusters(shapes)
	items := r.engine.Detector.Guidance(shapes, clusters)

	if req.Pattern != "" {
		needle := strings.ToLower(req.Pattern)
		items = lo.Filter(items, func(it pattern.GuidanceItem, _ int) bool {
			return strings.Contains(strings.ToLower(it.Pattern), needle)
		})
	}

	return okResult(guidanceResponse{Clusters: clusters, Items: items})
}
