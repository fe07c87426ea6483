// Package mock is a test double for embeddings.Provider. It hands back
// canned vectors and records which texts were submitted.
package mock

import (
	"context"
	"sync"

	"github.com/joffreyzhang/kurangame/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider implements embeddings.Provider with fixed responses. The zero
// value is usable; set the response fields before handing it to code under
// test. Safe for concurrent use.
type Provider struct {
	mu sync.Mutex

	// EmbedResult is returned for every embedded text, both from Embed and
	// as each element of an EmbedBatch result.
	EmbedResult []float32

	// EmbedErr, when set, fails Embed and EmbedBatch.
	EmbedErr error

	// DimensionsValue is returned by Dimensions.
	DimensionsValue int

	// ModelIDValue is returned by ModelID.
	ModelIDValue string

	// EmbedCalls records every text passed to Embed, in order.
	EmbedCalls []string

	// EmbedBatchCalls records every slice passed to EmbedBatch, in order.
	EmbedBatchCalls [][]string
}

func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.EmbedCalls = append(p.EmbedCalls, text)
	return p.EmbedResult, p.EmbedErr
}

func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	cp := make([]string, len(texts))
	copy(cp, texts)
	p.EmbedBatchCalls = append(p.EmbedBatchCalls, cp)
	if p.EmbedErr != nil {
		return nil, p.EmbedErr
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = p.EmbedResult
	}
	return out, nil
}

func (p *Provider) Dimensions() int {
	return p.DimensionsValue
}

func (p *Provider) ModelID() string {
	return p.ModelIDValue
}
