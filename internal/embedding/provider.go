// Package embedding provides embedding providers for generating vector
// representations of text.
package embedding

import (
	"context"
	"errors"
	"time"
)

// ErrDisabled is returned by the null provider; the vector ranker maps it
// to the vector_disabled degradation reason.
var ErrDisabled = errors.New("embedding provider disabled")

// Provider is the abstract embedding capability: a name, a model, a fixed
// output dimension, and a batch text-to-vector mapping. All degradation
// reasons (timeout, partial, disabled) flow through this boundary.
type Provider interface {
	ProviderName() string
	ModelName() string
	Dims() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// TimeoutHint is the per-batch deadline the caller should apply.
	TimeoutHint() time.Duration
}

// NullProvider is the disabled provider: every Embed call fails with
// ErrDisabled, which the search pipeline degrades to BM25-only ranking.
type NullProvider struct{}

func (NullProvider) ProviderName() string { return "disabled" }
func (NullProvider) ModelName() string    { return "none" }
func (NullProvider) Dims() int            { return 0 }
func (NullProvider) TimeoutHint() time.Duration {
	return time.Second
}

func (NullProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	return nil, ErrDisabled
}
