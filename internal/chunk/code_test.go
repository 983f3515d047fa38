package chunk

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChunkCode_PythonFunctionAndClass(t *testing.T) {
	src := []byte(`"""Module docstring."""
import os


def greet(name):
    """Say hi."""
    return "hi " + name


class Widget:
    """A widget."""

    def __init__(self, name):
        self.name = name

    def render(self):
        return self.name
`)
	chunks, rels, err := ChunkCode("pkg/widget.py", src)
	require.NoError(t, err)
	assert.NotEmpty(t, rels)

	var names []string
	var widgetText string
	for _, c := range chunks {
		names = append(names, c.SymbolName)
		if c.SymbolName == "Widget" {
			widgetText = c.Text
		}
		assert.Equal(t, KindCode, c.Kind)
		assert.NotEmpty(t, c.ID)
		assert.NotEmpty(t, c.ContentHash)
	}
	assert.Contains(t, names, "greet")
	assert.Contains(t, names, "Widget")
	// A class at or below LargeClassMethods is one chunk holding its methods.
	assert.Contains(t, widgetText, "def __init__")
	assert.Contains(t, widgetText, "def render")
}

func TestChunkCode_FileHeaderChunk(t *testing.T) {
	src := []byte("# license banner\n# more header\n\ndef f():\n    pass\n")
	chunks, _, err := ChunkCode("pkg/f.py", src)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "file_header", chunks[0].SymbolKind)
	assert.Equal(t, 1, chunks[0].Range.StartLine)
}

func TestChunkCode_RedactsSecrets(t *testing.T) {
	src := []byte(`def configure():
    api_key = "sk-AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA1234"
    return api_key
`)
	chunks, _, err := ChunkCode("pkg/cfg.py", src)
	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	found := false
	for _, c := range chunks {
		if c.HasSecrets {
			found = true
			assert.Contains(t, c.Text, "REDACTED")
		}
	}
	assert.True(t, found)
}

func TestIsTestFile(t *testing.T) {
	assert.True(t, IsTestFile("pkg/foo_test.go"))
	assert.True(t, IsTestFile("src/__tests__/foo.js"))
	assert.False(t, IsTestFile("pkg/foo.go"))
}
