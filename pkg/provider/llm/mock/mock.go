// Package mock provides a scriptable llm.Provider for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/askdb/pkg/provider/llm"
)

var _ llm.Provider = (*Provider)(nil)

// Provider is a test double for llm.Provider. Responses are served from the
// Responses queue in order; once exhausted, the last response repeats. Set
// Err to make every call fail.
type Provider struct {
	mu sync.Mutex

	// Responses are returned by successive Complete calls.
	Responses []llm.CompletionResponse

	// Err, when non-nil, is returned by every Complete call.
	Err error

	// Model overrides the reported model identifier. Defaults to "mock-llm".
	Model string

	calls    int
	requests []llm.CompletionRequest
}

// Complete implements llm.Provider.
func (p *Provider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.calls++
	p.requests = append(p.requests, req)

	if p.Err != nil {
		return nil, p.Err
	}
	if len(p.Responses) == 0 {
		return &llm.CompletionResponse{Content: ""}, nil
	}
	idx := p.calls - 1
	if idx >= len(p.Responses) {
		idx = len(p.Responses) - 1
	}
	resp := p.Responses[idx]
	return &resp, nil
}

// ModelID implements llm.Provider.
func (p *Provider) ModelID() string {
	if p.Model != "" {
		return p.Model
	}
	return "mock-llm"
}

// Calls returns how many times Complete was invoked.
func (p *Provider) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Requests returns a copy of all requests seen so far.
func (p *Provider) Requests() []llm.CompletionRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.CompletionRequest(nil), p.requests...)
}
