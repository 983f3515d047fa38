package intent

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/randalmurphy/smart-context-mcp/internal/chunk"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

// fullViewHardCap is the absolute ceiling on full-view reads regardless of
// the configured READ_FILE_MAX_BYTES.
const fullViewHardCap = 1 << 20 // 1 MiB

type readCodeRequest struct {
	File      string `json:"file"`
	View      string `json:"view"`
	LineRange string `json:"line_range"`
}

type readCodeResponse struct {
	File      string               `json:"file"`
	View      string               `json:"view"`
	Content   string               `json:"content,omitempty"`
	Outline   []chunk.OutlineEntry `json:"outline,omitempty"`
	LineRange string               `json:"line_range,omitempty"`
	Truncated bool                 `json:"truncated"`
	Lines     int                  `json:"lines"`
}

func (r *Router) readCode(ctx context.Context, args map[string]interface{}) *mcp.CallToolResult {
	var req readCodeRequest
	if err := decodeArgs(args, &req); err != nil || req.File == "" {
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: "file is required"})
	}
	if req.View == "" {
		req.View = "full"
	}

	abs, rel, err := r.engine.validatePath(req.File)
	if err != nil {
		return errResult(ErrorBody{Code: CodeSecurityViolation, Message: err.Error()})
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return errResult(ErrorBody{Code: CodeFileNotFound, Message: fmt.Sprintf("%s does not exist", rel)})
		}
		return errResult(ErrorBody{Code: CodeInternalError, Message: err.Error()})
	}

	lineCount := strings.Count(string(data), "\n") + 1

	switch req.View {
	case "full":
		cap64 := r.engine.Config.ReadFileMaxBytes
		if cap64 <= 0 || cap64 > fullViewHardCap {
			cap64 = fullViewHardCap
		}
		truncated := int64(len(data)) > cap64
		if truncated {
			data = data[:cap64]
		}
		return okResult(readCodeResponse{
			File: rel, View: req.View, Content: string(data), Truncated: truncated, Lines: lineCount,
		})

	case "skeleton":
		kind := chunk.KindCode
		if strings.HasSuffix(rel, ".md") || strings.HasSuffix(rel, ".mdx") {
			kind = chunk.KindMarkdown
		}
		outline, err := chunk.Outline(rel, data, kind)
		if err != nil {
			return errResult(ErrorBody{Code: CodeInternalError, Message: fmt.Sprintf("outline failed: %v", err)})
		}
		return okResult(readCodeResponse{File: rel, View: req.View, Outline: outline, Lines: lineCount})

	case "fragment":
		start, end, err := parseLineRange(req.LineRange)
		if err != nil {
			return errResult(ErrorBody{Code: CodeMissingParameter, Message: err.Error()})
		}
		lines := strings.Split(string(data), "\n")
		if start > len(lines) {
			return errResult(ErrorBody{Code: CodeMissingParameter, Message: fmt.Sprintf("line_range starts past end of %d-line file", len(lines))})
		}
		if end > len(lines) {
			end = len(lines)
		}
		return okResult(readCodeResponse{
			File: rel, View: req.View,
			Content:   strings.Join(lines[start-1:end], "\n"),
			LineRange: fmt.Sprintf("%d-%d", start, end),
			Lines:     lineCount,
		})

	default:
		return errResult(ErrorBody{Code: CodeMissingParameter, Message: fmt.Sprintf("unknown view %q", req.View)})
	}
}

// parseLineRange parses "10-40" or a single "12".
func parseLineRange(s string) (int, int, error) {
	if s == "" {
		return 0, 0, fmt.Errorf("line_range is required for fragment view")
	}
	parts := strings.SplitN(s, "-", 2)
	start, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil || start < 1 {
		return 0, 0, fmt.Errorf("invalid line_range %q", s)
	}
	end := start
	if len(parts) == 2 {
		end, err = strconv.Atoi(strings.TrimSpace(parts[1]))
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("invalid line_range %q", s)
		}
	}
	return start, end, nil
}
