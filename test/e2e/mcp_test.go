// Black-box tests over the MCP stdio transport: a real server loop fed
// line-delimited JSON-RPC through pipes, backed by a real engine over a
// temp project tree.
package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphy/smart-context-mcp/internal/config"
	"github.com/randalmurphy/smart-context-mcp/internal/intent"
	"github.com/randalmurphy/smart-context-mcp/internal/mcp"
)

type mcpClient struct {
	in  io.WriteCloser
	out *bufio.Scanner
	id  int
}

func startServer(t *testing.T, root string) *mcpClient {
	t.Helper()
	t.Setenv("VOYAGE_API_KEY", "")

	cfg := config.DefaultConfig()
	cfg.EngineMode = "test"

	engine, err := intent.NewEngine(root, cfg, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = engine.Close() })

	server := mcp.NewServer("smart-context-mcp", "test", intent.NewRouter(engine),
		slog.New(slog.NewTextHandler(io.Discard, nil)))

	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() { _ = server.Run(ctx, serverIn, serverOut) }()
	t.Cleanup(func() { _ = clientOut.Close() })

	scanner := bufio.NewScanner(clientIn)
	scanner.Buffer(make([]byte, 1024*1024), 16*1024*1024)
	return &mcpClient{in: clientOut, out: scanner}
}

func (c *mcpClient) call(t *testing.T, method string, params any) map[string]any {
	t.Helper()
	c.id++

	req := map[string]any{"jsonrpc": "2.0", "id": c.id, "method": method}
	if params != nil {
		req["params"] = params
	}
	data, err := json.Marshal(req)
	require.NoError(t, err)

	_, err = c.in.Write(append(data, '\n'))
	require.NoError(t, err)

	done := make(chan bool, 1)
	go func() { done <- c.out.Scan() }()
	select {
	case ok := <-done:
		require.True(t, ok, "server closed the stream")
	case <-time.After(30 * time.Second):
		t.Fatal("timed out waiting for response")
	}

	var resp map[string]any
	require.NoError(t, json.Unmarshal(c.out.Bytes(), &resp))
	require.EqualValues(t, c.id, resp["id"])
	return resp
}

// callTool runs tools/call and decodes the envelope out of the content
// block.
func (c *mcpClient) callTool(t *testing.T, name string, args map[string]any) map[string]any {
	t.Helper()
	resp := c.call(t, "tools/call", map[string]any{"name": name, "arguments": args})
	result, ok := resp["result"].(map[string]any)
	require.True(t, ok, "missing result: %v", resp)

	content := result["content"].([]any)
	require.NotEmpty(t, content)
	text := content[0].(map[string]any)["text"].(string)

	var envelope map[string]any
	require.NoError(t, json.Unmarshal([]byte(text), &envelope))
	return envelope
}

func writeTree(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestMCPServerProtocol(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\nsection body\n")
	client := startServer(t, root)

	// initialize
	resp := client.call(t, "initialize", map[string]any{
		"protocolVersion": "2024-11-05",
		"clientInfo":      map[string]any{"name": "e2e", "version": "0"},
	})
	result := resp["result"].(map[string]any)
	assert.Equal(t, "2024-11-05", result["protocolVersion"])

	// tools/list advertises the six intents
	resp = client.call(t, "tools/list", nil)
	tools := resp["result"].(map[string]any)["tools"].([]any)
	names := make(map[string]bool)
	for _, tool := range tools {
		names[tool.(map[string]any)["name"].(string)] = true
	}
	for _, want := range []string{"read_code", "search_project", "analyze_relationship", "edit_code", "get_batch_guidance", "manage_project"} {
		assert.True(t, names[want], "missing tool %s", want)
	}

	// ping
	resp = client.call(t, "ping", nil)
	assert.NotNil(t, resp["result"])

	// unknown method
	resp = client.call(t, "does/not-exist", nil)
	assert.NotNil(t, resp["error"])
}

func TestMCPSearchAndRead(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "docs/intro.md", "# A\n\nintro\n\n## B\n\nsection body\n")
	client := startServer(t, root)

	env := client.callTool(t, "search_project", map[string]any{"query": "section body"})
	require.Equal(t, true, env["ok"], "search failed: %v", env["error"])
	data := env["data"].(map[string]any)
	results := data["results"].([]any)
	require.NotEmpty(t, results)

	env = client.callTool(t, "read_code", map[string]any{"file": "docs/intro.md", "view": "skeleton"})
	require.Equal(t, true, env["ok"])
	outline := env["data"].(map[string]any)["outline"].([]any)
	assert.Len(t, outline, 2)
}

func TestMCPEditFlow(t *testing.T) {
	root := t.TempDir()
	writeTree(t, root, "f.txt", "foo")
	client := startServer(t, root)

	env := client.callTool(t, "edit_code", map[string]any{
		"edits": []any{map[string]any{
			"file": "f.txt", "operation": "replace",
			"target_string": "foo", "replacement_string": "bar",
		}},
	})
	require.Equal(t, true, env["ok"], "edit failed: %v", env["error"])

	raw, err := os.ReadFile(filepath.Join(root, "f.txt"))
	require.NoError(t, err)
	assert.Equal(t, "bar", string(raw))

	env = client.callTool(t, "manage_project", map[string]any{"command": "undo"})
	require.Equal(t, true, env["ok"])
	raw, _ = os.ReadFile(filepath.Join(root, "f.txt"))
	assert.Equal(t, "foo", string(raw))
}
