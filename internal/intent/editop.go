package intent

import (
	"context"
	"fmt"

	"github.com/randalmurphy/smart-context-mcp/internal/edit"
	"github.com/randalmurphy/smart-context-mcp/internal/graph"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

type editCodeRequest struct {
	Edits          []edit.Edit `json:"edits"`
	DryRun         bool        `json:"dry_run"`
	RequireLowRisk bool        `json:"require_low_risk"`
	DiffMode       string      `json:"diff_mode"`
}

type editCodeResponse struct {
	TransactionID string              `json:"transaction_id"`
	DryRun        bool                `json:"dry_run"`
	Changes       []edit.FileChange   `json:"changes"`
	Impact        *graph.ImpactReport `json:"impact,omitempty"`
}

func (r *Router) editCode(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	var req editCodeRequest
	if err := decodeArgs(args, &req); err != nil {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "could not decode edits: " + err.Error()})
	}
	if len(req.Edits) == 0 {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "edits is required"})
	}

	// Freshness before anchors are located, so matches run against the
	// same bytes the index describes.
	_, _ = r.engine.Indexer.SyncAll(ctx)

	// The impact analyzer is advisory: it decorates the response and only
	// gates the commit when require_low_risk was requested.
	var impact *graph.ImpactReport
	preCommit := func(files []string, editCount int) error {
		report, err := r.engine.Graph.Analyze(ctx, files, editCount)
		if err != nil {
			// Analysis failure never blocks an edit.
			return nil
		}
		impact = report
		if req.RequireLowRisk && report.RiskLevel != "low" {
			return fmt.Errorf("risk level %s exceeds require_low_risk", report.RiskLevel)
		}
		return nil
	}

	res, err := r.engine.Coordinator.ApplyBatch(ctx, req.Edits, edit.ApplyOptions{
		DryRun:    req.DryRun,
		PreCommit: preCommit,
	})
	if err != nil {
		if r.engine.Metrics != nil {
			r.engine.Metrics.LogEdit("", len(req.Edits), req.DryRun, false)
		}
		return errResult(classifyEditError(err))
	}

	// Dry runs skip the WAL and the pre-commit hook; compute the advisory
	// impact for the preview from the touched files directly.
	if req.DryRun && impact == nil {
		var files []string
		for _, ch := range res.Changes {
			files = append(files, ch.Path)
		}
		impact, _ = r.engine.Graph.Analyze(ctx, files, len(req.Edits))
	}

	if !req.DryRun {
		var touched []string
		for _, ch := range res.Changes {
			touched = append(touched, ch.Path)
		}
		r.engine.Indexer.EnsureFresh(ctx, touched...)
	}

	if r.engine.Metrics != nil {
		r.engine.Metrics.LogEdit(res.TransactionID, len(res.Changes), req.DryRun, !req.DryRun)
	}

	return okResult(editCodeResponse{
		TransactionID: res.TransactionID,
		DryRun:        res.DryRun,
		Changes:       res.Changes,
		Impact:        impact,
	})
}
