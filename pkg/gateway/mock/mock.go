// Package mock provides a scriptable gateway.Gateway for tests.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/askdb/pkg/gateway"
	"github.com/MrWong99/askdb/pkg/provider/llm"
)

var _ gateway.Gateway = (*Gateway)(nil)

// Gateway is a test double for gateway.Gateway with per-capability call
// counters. The zero value returns canned successful results; set the Func
// fields or Err fields to customize behaviour.
type Gateway struct {
	mu sync.Mutex

	TranslateFunc   func(query, systemPrompt string) (*gateway.TranslationResult, error)
	ValidateFunc    func(sql, schemaText string) (*gateway.ValidationResult, error)
	ExplainFunc     func(req gateway.ExplainRequest) (string, error)
	HandleErrorFunc func(query, dbError, schemaText string) (*gateway.ErrorHelp, error)

	translateCalls   int
	validateCalls    int
	explainCalls     int
	handleErrorCalls int
}

// Translate implements gateway.Gateway.
func (g *Gateway) Translate(_ context.Context, query, systemPrompt string) (*gateway.TranslationResult, error) {
	g.mu.Lock()
	g.translateCalls++
	g.mu.Unlock()

	if g.TranslateFunc != nil {
		return g.TranslateFunc(query, systemPrompt)
	}
	return &gateway.TranslationResult{
		SQL:          "SELECT 1",
		Explanation:  "mock translation",
		Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		SystemPrompt: systemPrompt,
		UserPrompt:   "generate SQL for: " + query,
	}, nil
}

// Validate implements gateway.Gateway.
func (g *Gateway) Validate(_ context.Context, sql, schemaText string) (*gateway.ValidationResult, error) {
	g.mu.Lock()
	g.validateCalls++
	g.mu.Unlock()

	if g.ValidateFunc != nil {
		return g.ValidateFunc(sql, schemaText)
	}
	return &gateway.ValidationResult{Valid: true}, nil
}

// Explain implements gateway.Gateway.
func (g *Gateway) Explain(_ context.Context, req gateway.ExplainRequest) (string, error) {
	g.mu.Lock()
	g.explainCalls++
	g.mu.Unlock()

	if g.ExplainFunc != nil {
		return g.ExplainFunc(req)
	}
	return "mock explanation", nil
}

// HandleError implements gateway.Gateway.
func (g *Gateway) HandleError(_ context.Context, query, dbError, schemaText string) (*gateway.ErrorHelp, error) {
	g.mu.Lock()
	g.handleErrorCalls++
	g.mu.Unlock()

	if g.HandleErrorFunc != nil {
		return g.HandleErrorFunc(query, dbError, schemaText)
	}
	return &gateway.ErrorHelp{Explanation: "mock error help", Suggestion: "try again"}, nil
}

// TranslateCalls returns how many times Translate was invoked.
func (g *Gateway) TranslateCalls() int { g.mu.Lock(); defer g.mu.Unlock(); return g.translateCalls }

// ValidateCalls returns how many times Validate was invoked.
func (g *Gateway) ValidateCalls() int { g.mu.Lock(); defer g.mu.Unlock(); return g.validateCalls }

// ExplainCalls returns how many times Explain was invoked.
func (g *Gateway) ExplainCalls() int { g.mu.Lock(); defer g.mu.Unlock(); return g.explainCalls }

// HandleErrorCalls returns how many times HandleError was invoked.
func (g *Gateway) HandleErrorCalls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.handleErrorCalls
}
