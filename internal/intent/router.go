package intent

import (
	"context"
	"fmt"
	"os"

	"github.com/mitchellh/mapstructure"

	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
	"github.com/randalmurphy/smart-context-mcp/internal/search"
)

// Router implements mcp.Handler over the Engine: six intent tools, one
// uniform envelope.
type Router struct {
	engine      *Engine
	classifier  *search.Classifier
	legacyAlias bool
}

// NewRouter creates the intent router. The legacy search_code alias is
// advertised only when SMART_CONTEXT_LEGACY_TOOLS is set.
func NewRouter(engine *Engine) *Router {
	return &Router{
		engine:      engine,
		classifier:  search.NewClassifier(),
		legacyAlias: os.Getenv("SMART_CONTEXT_LEGACY_TOOLS") != "",
	}
}

// ListTools advertises the tool schemas (implements mcp.Handler).
func (r *Router) ListTools() []mcp.Tool {
	tools := []mcp.Tool{
		{
			Name:        "read_code",
			Description: "Read a file in full, as a structural skeleton, or as a line fragment, without streaming whole files by accident.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"file":       {Type: "string", Description: "Project-relative file path"},
					"view":       {Type: "string", Description: "How much to return (default full)", Enum: []string{"full", "skeleton", "fragment"}},
					"line_range": {Type: "string", Description: "Inclusive 1-based range for fragment view, e.g. \"10-40\""},
				},
				Required: []string{"file"},
			},
		},
		{
			Name:        "search_project",
			Description: "Hybrid search over the project: symbols, files, directories, or ranked evidence sections for conceptual queries.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"query":       {Type: "string", Description: "What to find"},
					"type":        {Type: "string", Description: "Lookup type (default auto)", Enum: []string{"auto", "symbol", "file", "directory"}},
					"scope":       {Type: "string", Description: "Search scope (default project)", Enum: []string{"docs", "project", "all"}},
					"max_results": {Type: "number", Description: "Maximum results (default 10)"},
					"cursor":      {Type: "string", Description: "Pagination cursor from a previous response"},
					"exclude_comments": {Type: "boolean", Description: "Drop code-comment chunks from candidates"},
					"exclude_logs":     {Type: "boolean", Description: "Drop log-style paths from candidates"},
					"exclude_metrics":  {Type: "boolean", Description: "Drop metrics/telemetry paths from candidates"},
				},
				Required: []string{"query"},
			},
		},
		{
			Name:        "analyze_relationship",
			Description: "Dependency, call, type, data-flow, and impact analysis for a file or symbol.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"target":    {Type: "string", Description: "File path or symbol name"},
					"mode":      {Type: "string", Description: "Analysis mode", Enum: []string{"impact", "dependencies", "calls", "data_flow", "types"}},
					"direction": {Type: "string", Description: "Traversal direction (default downstream)", Enum: []string{"upstream", "downstream"}},
					"max_depth": {Type: "number", Description: "Traversal depth cap (default 3)"},
					"file":      {Type: "string", Description: "Containing file, required for data_flow"},
					"line":      {Type: "number", Description: "Line of the variable, required for data_flow"},
				},
				Required: []string{"target", "mode"},
			},
		},
		{
			Name:        "edit_code",
			Description: "Apply a multi-file edit batch atomically, with snapshot rollback, impact preview, and undo history.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"edits":            {Type: "array", Description: "Edit descriptors", Items: &mcp.Items{Type: "object"}},
					"dry_run":          {Type: "boolean", Description: "Preview diffs without writing"},
					"require_low_risk": {Type: "boolean", Description: "Abort unless impact analysis reports low risk"},
				},
				Required: []string{"edits"},
			},
		},
		{
			Name:        "get_batch_guidance",
			Description: "Cluster related files and surface conventions (imports, methods) that a minority of a cluster is missing.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"file_paths": {Type: "array", Description: "Files to analyze", Items: &mcp.Items{Type: "string"}},
					"pattern":    {Type: "string", Description: "Only report guidance matching this substring"},
				},
				Required: []string{"file_paths"},
			},
		},
		{
			Name:        "manage_project",
			Description: "Administrative commands: undo, redo, status, reindex, history.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"command": {Type: "string", Description: "Command to run", Enum: []string{"undo", "redo", "status", "reindex", "history"}},
				},
				Required: []string{"command"},
			},
		},
	}

	if r.legacyAlias {
		tools = append(tools, mcp.Tool{
			Name:        "search_code",
			Description: "Legacy alias for search_project.",
			InputSchema: mcp.InputSchema{
				Type: "object",
				Properties: map[string]mcp.Property{
					"query": {Type: "string", Description: "What to find"},
				},
				Required: []string{"query"},
			},
		})
	}

	return tools
}

// CallTool dispatches one tool invocation (implements mcp.Handler).
// Internal failures become InternalError envelopes rather than transport
// errors, so the agent always sees the uniform shape.
func (r *Router) CallTool(ctx context.Context, name string, args map[string]interface{}) (*mcp.CallToolResult, error) {
	switch name {
	case "read_code":
		return r.readCode(ctx, args), nil
	case "search_project":
		return r.searchProject(ctx, args), nil
	case "search_code":
		if r.legacyAlias {
			return r.searchProject(ctx, args), nil
		}
		return nil, fmt.Errorf("unknown tool: %s", name)
	case "analyze_relationship":
		return r.analyzeRelationship(ctx, args), nil
	case "edit_code":
		return r.editCode(ctx, args), nil
	case "get_batch_guidance":
		return r.batchGuidance(ctx, args), nil
	case "manage_project":
		return r.manageProject(ctx, args), nil
	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// decodeArgs maps the raw argument payload into a typed request struct.
func decodeArgs(args map[string]interface{}, out any) error {
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return err
	}
	return dec.Decode(args)
}
