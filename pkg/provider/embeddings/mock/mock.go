// Package mock provides an in-memory embeddings.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
)

var _ embeddings.Provider = (*Provider)(nil)

// Provider is a test double for embeddings.Provider. The zero value returns a
// fixed small vector for every input; set EmbedFunc to customize behaviour.
// Call counts are tracked for assertion.
type Provider struct {
	mu sync.Mutex

	// EmbedFunc, when non-nil, is called by Embed and EmbedBatch for each text.
	EmbedFunc func(text string) ([]float32, error)

	// Dims is the dimensionality reported by Dimensions. Defaults to 4.
	Dims int

	embedCalls int
	batchCalls int
}

// Embed implements embeddings.Provider.
func (p *Provider) Embed(_ context.Context, text string) ([]float32, error) {
	p.mu.Lock()
	p.embedCalls++
	p.mu.Unlock()
	return p.embed(text)
}

// EmbedBatch implements embeddings.Provider.
func (p *Provider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batchCalls++
	p.mu.Unlock()

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := p.embed(t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

// Dimensions implements embeddings.Provider.
func (p *Provider) Dimensions() int {
	if p.Dims > 0 {
		return p.Dims
	}
	return 4
}

// ModelID implements embeddings.Provider.
func (p *Provider) ModelID() string { return "mock-embeddings" }

// EmbedCalls returns how many times Embed was invoked.
func (p *Provider) EmbedCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.embedCalls
}

// BatchCalls returns how many times EmbedBatch was invoked.
func (p *Provider) BatchCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.batchCalls
}

func (p *Provider) embed(text string) ([]float32, error) {
	if p.EmbedFunc != nil {
		return p.EmbedFunc(text)
	}
	vec := make([]float32, p.Dimensions())
	for i := range vec {
		vec[i] = 0.5
	}
	return vec, nil
}
