package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/config"
)

func newTestRouter(t *testing.T) (*Router, string) {
	t.Helper()
	t.Setenv("VOYAGE_API_KEY", "")
	root := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.EngineMode = "test"

	engine, err := NewEngine(root, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	return NewRouter(engine), root
}

func writeProjectFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

// call invokes a tool and decodes the envelope from the content block.
func call(t *testing.T, r *Router, name string, args map[string]interface{}) Envelope {
	t.Helper()
	res, err := r.CallTool(context.Background(), name, args)
	require.NoError(t, err)
	require.Len(t, res.Content, 1)

	var env Envelope
	require.NoError(t, json.Unmarshal([]byte(res.Content[0].Text), &env))
	assert.Equal(t, !env.OK, res.IsError)
	return env
}

func dataMap(t *testing.T, env Envelope) map[string]any {
	t.Helper()
	require.True(t, env.OK, "expected ok envelope, got error: %+v", env.Error)
	m, ok := env.Data.(map[string]any)
	require.True(t, ok)
	return m
}

func TestListTools_SixIntents(t *testing.T) {
	r, _ := newTestRouter(t)
	tools := r.ListTools()
	names := make([]string, len(tools))
	for i, tool := range tools {
		names[i] = tool.Name
	}
	assert.ElementsMatch(t, []string{
		"read_code", "search_project", "analyze_relationship",
		"edit_code", "get_batch_guidance", "manage_project",
	}, names)
}

func TestListTools_LegacyAliasGated(t *testing.T) {
	t.Setenv("SMART_CONTEXT_LEGACY_TOOLS", "1")
	r, _ := newTestRouter(t)
	names := make(map[string]bool)
	for _, tool := range r.ListTools() {
		names[tool.Name] = true
	}
	assert.True(t, names["search_code"])
}

func TestReadCode_FullAndFragment(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "a.txt", "line1\nline2\nline3\n")

	env := call(t, r, "read_code", map[string]any{"file": "a.txt"})
	data := dataMap(t, env)
	assert.Equal(t, "line1\nline2\nline3\n", data["content"])
	assert.Equal(t, false, data["truncated"])

	env = call(t, r, "read_code", map[string]any{"file": "a.txt", "view": "fragment", "line_range": "2-3"})
	data = dataMap(t, env)
	assert.Equal(t, "line2\nline3", data["content"])
}

func TestReadCode_Skeleton(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "doc.md", "# Top\n\n## Sub\n\nbody\n")

	env := call(t, r, "read_code", map[string]any{"file": "doc.md", "view": "skeleton"})
	data := dataMap(t, env)
	outline, ok := data["outline"].([]any)
	require.True(t, ok)
	assert.Len(t, outline, 2)
}

func TestReadCode_Errors(t *testing.T) {
	r, _ := newTestRouter(t)

	env := call(t, r, "read_code", map[string]any{"file": "missing.txt"})
	require.False(t, env.OK)
	assert.Equal(t, CodeFileNotFound, env.Error.Code)

	env = call(t, r, "read_code", map[string]any{"file": "../escape.txt"})
	require.False(t, env.OK)
	assert.Equal(t, CodeSecurityViolation, env.Error.Code)

	env = call(t, r, "read_code", map[string]any{})
	require.False(t, env.OK)
	assert.Equal(t, CodeMissingParameter, env.Error.Code)
}

// S1 through the router: concept search produces a ranked section with
// its heading path; an identical re-query reports a pack hit.
func TestSearchProject_ConceptAndPackHit(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\nsection body\n")

	env := call(t, r, "search_project", map[string]any{"query": "B", "max_results": 3})
	data := dataMap(t, env)
	results, ok := data["results"].([]any)
	require.True(t, ok)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, []any{"A", "B"}, first["section_path"])
	assert.Equal(t, false, data["pack_hit"])

	env = call(t, r, "search_project", map[string]any{"query": "B", "max_results": 3})
	data = dataMap(t, env)
	assert.Equal(t, true, data["pack_hit"])
}

func TestSearchProject_SymbolLookup(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "app.py", "def handle_request():\n    pass\n")

	env := call(t, r, "search_project", map[string]any{"query": "handle_request", "type": "symbol"})
	data := dataMap(t, env)
	results := data["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, "app.py", first["path"])
	assert.Equal(t, "handle_request", first["symbol_name"])
}

func TestSearchProject_FileAndDirectory(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "src/main.py", "def main():\n    pass\n")
	writeProjectFile(t, root, "docs/guide.md", "# Guide\n")

	env := call(t, r, "search_project", map[string]any{"query": "main.py", "type": "file"})
	data := dataMap(t, env)
	require.NotEmpty(t, data["results"])

	env = call(t, r, "search_project", map[string]any{"query": "docs/", "type": "directory"})
	data = dataMap(t, env)
	results := data["results"].([]any)
	require.Len(t, results, 1)
	assert.Equal(t, "docs/guide.md", results[0].(map[string]any)["path"])
}

// S3 through the router: a failing second edit rolls the whole batch back.
func TestEditCode_RollbackEnvelope(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "a.txt", "hello")
	writeProjectFile(t, root, "b.txt", "world")

	env := call(t, r, "edit_code", map[string]any{
		"edits": []any{
			map[string]any{"file": "a.txt", "operation": "replace", "target_string": "hello", "replacement_string": "HELLO"},
			map[string]any{"file": "b.txt", "operation": "replace", "target_string": "WORLD", "replacement_string": "x"},
		},
	})
	require.False(t, env.OK)
	assert.Equal(t, CodeEditFailed, env.Error.Code)

	data, err := os.ReadFile(filepath.Join(root, "a.txt"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))
}

// S5 through the router: the ambiguous-match envelope lists both lines.
func TestEditCode_AmbiguousEnvelope(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "f.txt", "x=1\nx=1\n")

	env := call(t, r, "edit_code", map[string]any{
		"edits": []any{
			map[string]any{"file": "f.txt", "operation": "replace", "target_string": "x=1", "replacement_string": "x=2"},
		},
	})
	require.False(t, env.OK)
	assert.Equal(t, CodeAmbiguousMatch, env.Error.Code)
	details := env.Error.Details.(map[string]any)
	assert.Equal(t, []any{float64(1), float64(2)}, details["lines"])
}

func TestEditCode_CommitAndUndoRedo(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "f.txt", "foo")

	env := call(t, r, "edit_code", map[string]any{
		"edits": []any{
			map[string]any{"file": "f.txt", "operation": "replace", "target_string": "foo", "replacement_string": "bar"},
		},
	})
	require.True(t, env.OK, "edit failed: %+v", env.Error)

	env = call(t, r, "manage_project", map[string]any{"command": "undo"})
	require.True(t, env.OK)
	data, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	assert.Equal(t, "foo", string(data))

	env = call(t, r, "manage_project", map[string]any{"command": "redo"})
	require.True(t, env.OK)
	data, _ = os.ReadFile(filepath.Join(root, "f.txt"))
	assert.Equal(t, "bar", string(data))
}

func TestEditCode_DryRunDiff(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "f.txt", "foo\n")

	env := call(t, r, "edit_code", map[string]any{
		"dry_run": true,
		"edits": []any{
			map[string]any{"file": "f.txt", "operation": "replace", "target_string": "foo", "replacement_string": "bar"},
		},
	})
	data := dataMap(t, env)
	assert.Equal(t, true, data["dry_run"])
	changes := data["changes"].([]any)
	require.Len(t, changes, 1)
	diff := changes[0].(map[string]any)["diff"].(string)
	assert.Contains(t, diff, "-foo")
	assert.Contains(t, diff, "+bar")

	raw, _ := os.ReadFile(filepath.Join(root, "f.txt"))
	assert.Equal(t, "foo\n", string(raw))
}

// S6 through the router: a hub with 30 dependents and 10 dependencies is
// high risk but still commits without require_low_risk.
func TestEditCode_HighRiskStillCommits(t *testing.T) {
	r, root := newTestRouter(t)

	for i := 0; i < 10; i++ {
		writeProjectFile(t, root, fmt.Sprintf("dep%02d.py", i), "def helper():\n    pass\n")
	}
	hubBody := ""
	for i := 0; i < 10; i++ {
		hubBody += fmt.Sprintf("import dep%02d\n", i)
	}
	hubBody += "\ndef hub():\n    pass\n"
	writeProjectFile(t, root, "hub.py", hubBody)
	for i := 0; i < 30; i++ {
		writeProjectFile(t, root, fmt.Sprintf("user%02d.py", i), "import hub\n\ndef use():\n    pass\n")
	}

	env := call(t, r, "edit_code", map[string]any{
		"edits": []any{
			map[string]any{"file": "hub.py", "operation": "replace", "target_string": "def hub():", "replacement_string": "def hub(x=None):"},
		},
	})
	data := dataMap(t, env)
	impact := data["impact"].(map[string]any)
	assert.Equal(t, "high", impact["risk_level"])
	assert.NotEmpty(t, impact["warnings"])

	raw, _ := os.ReadFile(filepath.Join(root, "hub.py"))
	assert.Contains(t, string(raw), "def hub(x=None):")
}

func TestEditCode_RequireLowRiskBlocks(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "hub.py", "def hub():\n    pass\n")
	for i := 0; i < 30; i++ {
		writeProjectFile(t, root, fmt.Sprintf("user%02d.py", i), "import hub\n")
	}

	env := call(t, r, "edit_code", map[string]any{
		"require_low_risk": true,
		"edits": []any{
			map[string]any{"file": "hub.py", "operation": "replace", "target_string": "def hub():", "replacement_string": "def hub(x):"},
		},
	})
	require.False(t, env.OK)

	raw, _ := os.ReadFile(filepath.Join(root, "hub.py"))
	assert.Equal(t, "def hub():\n    pass\n", string(raw))
}

func TestAnalyzeRelationship_DependenciesAndSymbolNotFound(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "util.py", "def helper():\n    pass\n")
	writeProjectFile(t, root, "app.py", "import util\n\ndef main():\n    helper()\n")

	env := call(t, r, "analyze_relationship", map[string]any{
		"target": "app.py", "mode": "dependencies", "direction": "downstream",
	})
	data := dataMap(t, env)
	assert.Equal(t, "app.py", data["resolved_target"])
	edges := data["edges"].([]any)
	require.NotEmpty(t, edges)

	env = call(t, r, "analyze_relationship", map[string]any{
		"target": "helpr", "mode": "calls",
	})
	require.False(t, env.OK)
	assert.Equal(t, CodeSymbolNotFound, env.Error.Code)
	require.NotNil(t, env.Error.Details)
}

func TestAnalyzeRelationship_Calls(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "app.py", "def main():\n    helper()\n\ndef helper():\n    pass\n")

	env := call(t, r, "analyze_relationship", map[string]any{
		"target": "main", "mode": "calls", "direction": "downstream",
	})
	data := dataMap(t, env)
	nodes := data["nodes"].([]any)
	require.GreaterOrEqual(t, len(nodes), 2)
}

func TestBatchGuidance(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "handlers/a.py", "import flask\nimport auth\n\ndef get():\n    pass\n")
	writeProjectFile(t, root, "handlers/b.py", "import flask\nimport auth\n\ndef get():\n    pass\n")
	writeProjectFile(t, root, "handlers/c.py", "import flask\n\ndef get():\n    pass\n")

	env := call(t, r, "get_batch_guidance", map[string]any{
		"file_paths": []any{"handlers/a.py", "handlers/b.py", "handlers/c.py"},
	})
	data := dataMap(t, env)
	require.NotEmpty(t, data["clusters"])
	items, _ := data["items"].([]any)
	found := false
	for _, it := range items {
		if it.(map[string]any)["pattern"] == "auth" {
			found = true
		}
	}
	assert.True(t, found, "auth import missing from c.py must be flagged")
}

func TestManageProject_StatusAndHistory(t *testing.T) {
	r, root := newTestRouter(t)
	writeProjectFile(t, root, "a.md", "# A\n")

	env := call(t, r, "manage_project", map[string]any{"command": "reindex"})
	data := dataMap(t, env)
	assert.Equal(t, float64(1), data["files_indexed"])

	env = call(t, r, "manage_project", map[string]any{"command": "status"})
	data = dataMap(t, env)
	assert.Equal(t, float64(1), data["files"])
	assert.Equal(t, false, data["vectors_enabled"])

	env = call(t, r, "manage_project", map[string]any{"command": "history"})
	data = dataMap(t, env)
	_, ok := data["transactions"]
	assert.True(t, ok)

	env = call(t, r, "manage_project", map[string]any{"command": "undo"})
	require.False(t, env.OK, "undo with empty history is an error")
}

func TestCallTool_UnknownTool(t *testing.T) {
	r, _ := newTestRouter(t)
	_, err := r.CallTool(context.Background(), "bogus", nil)
	assert.Error(t, err)
}
