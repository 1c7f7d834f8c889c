// Package gateway exposes the LLM-backed capabilities the query pipeline
// consumes: translating natural language to SQL, semantically validating
// generated SQL, explaining result sets, and producing helpful guidance for
// database errors.
//
// The Gateway is a capability boundary, not a prompt factory — prompt
// assembly for translation lives in internal/prompt; the gateway receives
// the finished system prompt. Validation, explanation, and error-help
// prompts are internal to the gateway since their shape never varies by
// query intent.
//
// Implementations must be safe for concurrent use.
package gateway

import (
	"context"

	"github.com/MrWong99/askdb/pkg/provider/llm"
)

// TranslationResult is the outcome of one natural-language-to-SQL call.
type TranslationResult struct {
	// SQL is the generated statement with any Markdown fences stripped.
	SQL string

	// Explanation is the model's short description of what the SQL does.
	Explanation string

	// Usage is the token accounting for the call.
	Usage llm.Usage

	// SystemPrompt and UserPrompt are the exact prompts sent, captured for
	// observability. They are recorded in metrics, never in responses.
	SystemPrompt string
	UserPrompt   string
}

// ValidationIssue describes a single problem found in generated SQL.
type ValidationIssue struct {
	// Code is a stable machine-readable identifier, e.g. "UNKNOWN_COLUMN".
	Code string `json:"code"`

	// Message is the human-readable description.
	Message string `json:"message"`

	// Location optionally names the offending fragment.
	Location string `json:"location,omitempty"`

	// Suggestion optionally proposes a fix.
	Suggestion string `json:"suggestion,omitempty"`
}

// ValidationResult is the structured judgment returned by Validate.
type ValidationResult struct {
	Valid  bool              `json:"is_valid"`
	Issues []ValidationIssue `json:"errors"`
}

// ExplainRequest carries everything needed to explain a result set.
type ExplainRequest struct {
	// Query is the original natural-language question.
	Query string

	// SQL is the statement that produced the results.
	SQL string

	// SampleRows is a small leading sample of the result set (callers pass at
	// most a handful of rows; the full set never reaches the model).
	SampleRows []map[string]any

	// RowCount is the total number of rows returned.
	RowCount int

	// TablesUsed lists the tables referenced by the SQL.
	TablesUsed []string

	// BusinessRules names domain rules detected in the SQL
	// (e.g. "active member status").
	BusinessRules []string
}

// ErrorHelp is the model's guidance for a database error.
type ErrorHelp struct {
	// Explanation describes what went wrong in user terms.
	Explanation string `json:"explanation"`

	// Suggestion proposes how the user might rephrase.
	Suggestion string `json:"suggestion"`

	// Example optionally shows a corrected query.
	Example string `json:"example,omitempty"`
}

// Gateway is the set of LLM capabilities consumed by the pipeline.
type Gateway interface {
	// Translate converts a natural-language query into SQL using the supplied
	// pre-assembled system prompt.
	Translate(ctx context.Context, query, systemPrompt string) (*TranslationResult, error)

	// Validate asks the model to judge sql against the supplied schema text.
	// A non-nil error means the call itself failed; a ValidationResult with
	// Valid == false means the SQL was judged broken.
	Validate(ctx context.Context, sql, schemaText string) (*ValidationResult, error)

	// Explain produces a natural-language explanation of a result set.
	Explain(ctx context.Context, req ExplainRequest) (string, error)

	// HandleError produces user-facing guidance for a database error raised
	// while executing SQL generated from query.
	HandleError(ctx context.Context, query, dbError, schemaText string) (*ErrorHelp, error)
}
