// Package intent maps the six user-visible tools onto the internal
// engines and formats the uniform response envelope.
package intent

import (
	"encoding/json"
	"errors"

	"github.com/randalmurphy/smart-context-mcp/internal/edit"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

// Wire error codes, per the error taxonomy.
const (
	CodeMissingParameter  = "MissingParameter"
	CodeSecurityViolation = "SecurityViolation"
	CodeFileNotFound      = "FileNotFound"
	CodeHashMismatch      = "HashMismatch"
	CodeAmbiguousMatch    = "AmbiguousMatch"
	CodeEditFailed        = "EditFailed"
	CodeSymbolNotFound    = "SymbolNotFound"
	CodeInternalError     = "InternalError"
)

// ErrorBody is the error half of the envelope.
type ErrorBody struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Details    any    `json:"details,omitempty"`
	Suggestion string `json:"suggestion,omitempty"`
}

// Envelope is the uniform response wrapper every tool returns.
type Envelope struct {
	OK    bool       `json:"ok"`
	Data  any        `json:"data,omitempty"`
	Error *ErrorBody `json:"error,omitempty"`
}

// okResult wraps data in a successful envelope, serialized for the MCP
// content block.
func okResult(data any) *mcp.CallToolResult {
	return marshalEnvelope(Envelope{OK: true, Data: data}, false)
}

// errResult wraps an ErrorBody in a failed envelope.
func errResult(body ErrorBody) *mcp.CallToolResult {
	return marshalEnvelope(Envelope{OK: false, Error: &body}, true)
}

func marshalEnvelope(env Envelope, isError bool) *mcp.CallToolResult {
	data, err := json.Marshal(env)
	if err != nil {
		data = []byte(`{"ok":false,"error":{"code":"InternalError","message":"response serialization failed"}}`)
		isError = true
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{{Type: "text", Text: string(data)}},
		IsError: isError,
	}
}

// classifyEditError maps the edit package's sentinel errors onto the wire
// taxonomy.
func classifyEditError(err error) ErrorBody {
	if amb, ok := edit.IsAmbiguous(err); ok {
		return ErrorBody{
			Code:       CodeAmbiguousMatch,
			Message:    err.Error(),
			Details:    map[string]any{"lines": amb.Lines},
			Suggestion: "add line_range or before/after context to pin the intended occurrence",
		}
	}
	switch {
	case errors.Is(err, edit.ErrMissingParameter):
		return ErrorBody{Code: CodeMissingParameter, Message: err.Error()}
	case errors.Is(err, edit.ErrSecurityViolation):
		return ErrorBody{Code: CodeSecurityViolation, Message: err.Error()}
	case errors.Is(err, edit.ErrHashMismatch):
		return ErrorBody{Code: CodeHashMismatch, Message: err.Error(), Suggestion: "re-read the file and retry with its current hash"}
	case errors.Is(err, edit.ErrFileNotFound):
		return ErrorBody{Code: CodeFileNotFound, Message: err.Error()}
	case errors.Is(err, edit.ErrFileExists), errors.Is(err, edit.ErrNoMatch):
		return ErrorBody{Code: CodeEditFailed, Message: err.Error(), Suggestion: "re-read the target region; the file may have drifted since it was last read"}
	default:
		return ErrorBody{Code: CodeEditFailed, Message: err.Error()}
	}
}
