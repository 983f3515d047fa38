package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	c := NewClassifier()

	tests := []struct {
		query string
		want  QueryType
	}{
		{"src/", QueryTypeDirectory},
		{"internal/search/", QueryTypeDirectory},
		{"main.py", QueryTypeFile},
		{"internal/search/pipeline.go", QueryTypeFile},
		{"getUserName", QueryTypeSymbol},
		{"parse_config", QueryTypeSymbol},
		{"HttpClient", QueryTypeSymbol},
		{"handler", QueryTypeSymbol},
		{`find the "EditPlanner" class`, QueryTypeSymbol},
		{"how does caching work", QueryTypeConcept},
		{"error handling in the indexer", QueryTypeConcept},
		{"", QueryTypeConcept},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, c.Classify(tt.query))
		})
	}
}

func TestExtractSymbolName(t *testing.T) {
	c := NewClassifier()
	assert.Equal(t, "EditPlanner", c.ExtractSymbolName(`where is "EditPlanner" used`))
	assert.Equal(t, "apply_batch", c.ExtractSymbolName("what calls `apply_batch`"))
	assert.Equal(t, "getUserName", c.ExtractSymbolName("getUserName"))
}
