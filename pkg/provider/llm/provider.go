// Package llm defines the completion-level Provider interface for Large
// Language Model backends.
//
// The SQL gateway (pkg/gateway) builds its translate/validate/explain
// capabilities on top of this interface, so the rest of the system never
// couples to a specific model SDK. Implementations must be safe for
// concurrent use and must propagate context cancellation promptly.
package llm

import "context"

// Usage holds token accounting returned by the backend. Counts are in the
// model's native token unit and may differ between providers for the same
// textual content.
type Usage struct {
	// PromptTokens is the number of tokens consumed by the system prompt and
	// input messages.
	PromptTokens int

	// CompletionTokens is the number of tokens generated in the response.
	CompletionTokens int

	// TotalTokens is PromptTokens + CompletionTokens.
	TotalTokens int
}

// Add accumulates other into u. Useful for per-request totals spanning
// multiple model calls.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionRequest carries everything the model needs for one completion.
type CompletionRequest struct {
	// SystemPrompt is a high-priority instruction injected before the user
	// content. Providers without a dedicated system channel prepend it as a
	// "system"-role message.
	SystemPrompt string

	// UserPrompt is the user-role content driving the response.
	UserPrompt string

	// Temperature controls output randomness in [0.0, 2.0]. SQL generation
	// runs at or near 0 for determinism.
	Temperature float64

	// MaxTokens caps completion length. Zero means the provider default.
	MaxTokens int
}

// CompletionResponse is the full, non-streaming model reply.
type CompletionResponse struct {
	// Content is the text of the reply.
	Content string

	// Usage contains token accounting for this request/response pair.
	Usage Usage
}

// Provider is the abstraction over any LLM backend.
type Provider interface {
	// Complete sends req to the model and waits for the full response.
	// Returns an error if the request fails or ctx is cancelled.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// ModelID returns the backing model identifier (e.g. "gpt-4o"), used for
	// logging and metrics attributes.
	ModelID() string
}
