package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerate_CaseAndSubstring(t *testing.T) {
	g := NewSuggestionGenerator()
	g.AddKnownTerms([]string{"ApplyBatch", "applyEdit", "searchProject", "ApplyBatch"})

	got := g.Generate("applybatch")
	require.NotEmpty(t, got)
	assert.Equal(t, "ApplyBatch", got[0].Term)
	assert.Equal(t, 2, got[0].Count)
}

func TestGenerate_EditDistance(t *testing.T) {
	g := NewSuggestionGenerator()
	g.AddKnownTerms([]string{"applyBatch", "unrelatedThing"})

	got := g.Generate("aplyBatch")
	require.NotEmpty(t, got)
	assert.Equal(t, "applyBatch", got[0].Term)
}

func TestGenerate_Empty(t *testing.T) {
	g := NewSuggestionGenerator()
	assert.Nil(t, g.Generate(""))
	assert.Empty(t, g.Generate("anything"))
}

func TestGenerate_CapsAtFive(t *testing.T) {
	g := NewSuggestionGenerator()
	g.AddKnownTerms([]string{"runa", "runb", "runc", "rund", "rune2", "runf", "rung"})
	got := g.Generate("run")
	assert.Len(t, got, 5)
}

func TestLevenshtein(t *testing.T) {
	assert.Equal(t, 0, levenshtein("abc", "abc", 3))
	assert.Equal(t, 1, levenshtein("abc", "abd", 3))
	assert.Equal(t, 3, levenshtein("", "abc", 3))
	assert.Equal(t, -1, levenshtein("abc", "xyz", 2))
	assert.Equal(t, -1, levenshtein("short", "muchlongerstring", 3))
}

func TestFormatEmptyResponse(t *testing.T) {
	g := NewSuggestionGenerator()
	resp := g.FormatEmptyResponse("foo", "docs", []Suggestion{{Term: "bar", Count: 2}})
	assert.Contains(t, resp, "suggestions")
	assert.Contains(t, resp, "hint")

	resp = g.FormatEmptyResponse("foo", "all", nil)
	assert.NotContains(t, resp, "hint")
}
