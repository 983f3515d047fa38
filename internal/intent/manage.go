package intent

import (
	"context"
	"fmt"
	"time"

	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

type manageRequest struct {
	Command string `json:"command"`
}

// StatusReport is the manage_project status payload, also rendered by the
// CLI status command.
type StatusReport struct {
	Root           string         `json:"root"`
	Files          int            `json:"files"`
	Chunks         int            `json:"chunks"`
	Symbols        int            `json:"symbols"`
	Embeddings     int            `json:"embeddings"`
	Packs          int            `json:"packs"`
	Transactions   int            `json:"transactions"`
	UndoDepth      int            `json:"undo_depth"`
	RedoDepth      int            `json:"redo_depth"`
	VectorsEnabled bool           `json:"vectors_enabled"`
	Usage          map[string]any `json:"usage,omitempty"`
}

// HistoryEntry is one committed transaction in the history listing.
type HistoryEntry struct {
	ID          string `json:"id"`
	State       string `json:"state"`
	CommittedAt int64  `json:"committed_at,omitempty"`
}

func (r *Router) manageProject(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	var req manageRequest
	if err := decodeArgs(args, &req); err != nil || req.Command == "" {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "command is required"})
	}

	switch req.Command {
	case "undo":
		res, err := r.engine.Coordinator.Undo(ctx)
		if err != nil {
			return errResult(ErrorBody{Code: CodeEditFailed, Message: err.Error()})
		}
		var touched []string
		for _, ch := range res.Changes {
			touched = append(touched, ch.Path)
		}
		r.engine.Indexer.EnsureFresh(ctx, touched...)
		return okResult(res)

	case "redo":
		res, err := r.engine.Coordinator.Redo(ctx)
		if err != nil {
			return errResult(ErrorBody{Code: CodeEditFailed, Message: err.Error()})
		}
		var touched []string
		for _, ch := range res.Changes {
			touched = append(touched, ch.Path)
		}
		r.engine.Indexer.EnsureFresh(ctx, touched...)
		return okResult(res)

	case "reindex":
		res, err := r.engine.Indexer.SyncAll(ctx)
		if err != nil {
			return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
		}
		if r.engine.Metrics != nil {
			r.engine.Metrics.LogIndexUpdate(res.FilesIndexed, res.ChunksCreated)
		}
		errs := make([]string, 0, len(res.Errors))
		for _, e := range res.Errors {
			errs = append(errs, e.Error())
		}
		return okResult(map[string]any{
			"files_indexed": res.FilesIndexed,
			"files_skipped": res.FilesSkipped,
			"files_removed": res.FilesRemoved,
			"chunks":        res.ChunksCreated,
			"errors":        errs,
		})

	case "status":
		report, err := r.Status(ctx)
		if err != nil {
			return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
		}
		return okResult(report)

	case "history":
		entries, err := r.History(ctx, 20)
		if err != nil {
			return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
		}
		return okResult(map[string]any{"transactions": entries})

	default:
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: fmt.Sprintf("unknown command %q", req.Command)})
	}
}

// Status assembles the status report; exported for the CLI front door.
func (r *Router) Status(ctx context.Context) (*StatusReport, error) {
	counts, err := r.engine.Store.CountAll(ctx)
	if err != nil {
		return nil, err
	}

	report := &StatusReport{
		Root:           r.engine.Root,
		Files:          counts.Files,
		Chunks:         counts.Chunks,
		Symbols:        counts.Symbols,
		Embeddings:     counts.Embeddings,
		Packs:          counts.Packs,
		Transactions:   counts.Transactions,
		UndoDepth:      r.engine.Coordinator.UndoDepth(),
		RedoDepth:      r.engine.Coordinator.RedoDepth(),
		VectorsEnabled: r.engine.VectorsEnabled(),
	}

	if r.engine.Metrics != nil {
		// Usage summaries are best-effort; a missing or torn log file
		// just leaves the section out.
		if summary := r.usageSummary(); summary != nil {
			report.Usage = summary
		}
	}
	return report, nil
}

func (r *Router) usageSummary() map[string]any {
	analyzer := r.engine.MetricsAnalyzer()
	if analyzer == nil {
		return nil
	}
	summary, err := analyzer.Analyze(24 * time.Hour)
	if err != nil {
		return nil
	}
	return map[string]any{
		"period":         summary.Period,
		"total_searches": summary.TotalSearches,
		"cache_hits":     summary.CacheHits,
		"total_edits":    summary.TotalEdits,
		"avg_latency_ms": summary.AvgLatencyMs,
	}
}

// History lists recent committed transactions, newest first.
func (r *Router) History(ctx context.Context, limit int) ([]HistoryEntry, error) {
	records, err := r.engine.Store.CommittedTransactionsDesc(ctx, limit)
	if err != nil {
		return nil, err
	}
	entries := make([]HistoryEntry, len(records))
	for i, t := range records {
		entries[i] = HistoryEntry{ID: t.ID, State: string(t.State), CommittedAt: t.CommittedAt.Int64}
	}
	return entries, nil
}
