package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/MrWong99/askdb/pkg/provider/llm"
)

var _ Gateway = (*LLMGateway)(nil)

// LLMGateway implements Gateway on top of a completion-level llm.Provider.
type LLMGateway struct {
	provider llm.Provider

	// maxTokens caps every completion. Zero means provider default.
	maxTokens int
}

// NewLLMGateway creates a Gateway backed by provider. maxTokens caps each
// completion; pass 0 to use the provider's default.
func NewLLMGateway(provider llm.Provider, maxTokens int) *LLMGateway {
	return &LLMGateway{provider: provider, maxTokens: maxTokens}
}

// Translate implements Gateway.
func (g *LLMGateway) Translate(ctx context.Context, query, systemPrompt string) (*TranslationResult, error) {
	userPrompt := "generate SQL for: " + query

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: translate: %w", err)
	}

	sql := CleanSQL(resp.Content)
	if sql == "" {
		return nil, fmt.Errorf("gateway: translate: model returned empty SQL")
	}

	result := &TranslationResult{
		SQL:          sql,
		Usage:        resp.Usage,
		SystemPrompt: systemPrompt,
		UserPrompt:   userPrompt,
	}

	// Short follow-up call for the SQL explanation. Losing it is not worth
	// failing the translation.
	explanation, usage, err := g.describeSQL(ctx, query, sql)
	if err != nil {
		result.Explanation = "Generated SQL for: " + query
	} else {
		result.Explanation = explanation
		result.Usage.Add(usage)
	}
	return result, nil
}

const describeSystemPrompt = `You are an expert SQL educator who explains SQL queries in simple terms.
Briefly explain what the given SQL query does in relation to the original question. Keep it to one or two sentences.`

func (g *LLMGateway) describeSQL(ctx context.Context, query, sql string) (string, llm.Usage, error) {
	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: describeSystemPrompt,
		UserPrompt:   fmt.Sprintf("Original question: %s\nSQL query: %s\n\nBriefly explain what this SQL query does.", query, sql),
		Temperature:  0.7,
		MaxTokens:    150,
	})
	if err != nil {
		return "", llm.Usage{}, err
	}
	return strings.TrimSpace(resp.Content), resp.Usage, nil
}

const validateSystemPrompt = `You are a PostgreSQL validation assistant. You are given a database schema and a SQL query.
Judge whether the query is valid against the schema: tables and columns must exist, joins must be type-compatible, and the statement must be a read-only SELECT.
Respond with a single JSON object and nothing else:
{"is_valid": true|false, "errors": [{"code": "...", "message": "...", "location": "...", "suggestion": "..."}]}
When the query is valid, "errors" must be an empty array.`

// Validate implements Gateway.
func (g *LLMGateway) Validate(ctx context.Context, sql, schemaText string) (*ValidationResult, error) {
	userPrompt := fmt.Sprintf("Schema:\n%s\n\nSQL to validate:\n%s", schemaText, sql)

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: validateSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: validate: %w", err)
	}

	result, err := parseValidationJSON(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("gateway: validate: %w", err)
	}
	return result, nil
}

const explainSystemPrompt = `You are a helpful data assistant. Explain SQL query results to a non-technical user in two or three sentences.
Describe what was asked, what the data shows, and mention any business rules that were applied. Do not repeat the SQL.`

// Explain implements Gateway.
func (g *LLMGateway) Explain(ctx context.Context, req ExplainRequest) (string, error) {
	sample, err := json.Marshal(req.SampleRows)
	if err != nil {
		sample = []byte("[]")
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Question: %s\nSQL: %s\nTotal rows: %d\nSample rows: %s\n", req.Query, req.SQL, req.RowCount, sample)
	if len(req.TablesUsed) > 0 {
		fmt.Fprintf(&sb, "Tables used: %s\n", strings.Join(req.TablesUsed, ", "))
	}
	if len(req.BusinessRules) > 0 {
		fmt.Fprintf(&sb, "Business rules applied: %s\n", strings.Join(req.BusinessRules, ", "))
	}

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: explainSystemPrompt,
		UserPrompt:   sb.String(),
		Temperature:  0.3,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("gateway: explain: %w", err)
	}

	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("gateway: explain: model returned empty explanation")
	}
	return text, nil
}

const errorHelpSystemPrompt = `You are a helpful data assistant. A SQL query generated from a user's question failed with a database error.
Explain in plain language what likely went wrong and suggest how the user could rephrase their question.
Respond with a single JSON object and nothing else:
{"explanation": "...", "suggestion": "...", "example": "..."}`

// HandleError implements Gateway.
func (g *LLMGateway) HandleError(ctx context.Context, query, dbError, schemaText string) (*ErrorHelp, error) {
	userPrompt := fmt.Sprintf("Question: %s\nDatabase error: %s\nSchema:\n%s", query, dbError, schemaText)

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: errorHelpSystemPrompt,
		UserPrompt:   userPrompt,
		Temperature:  0.3,
		MaxTokens:    g.maxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("gateway: handle error: %w", err)
	}

	var help ErrorHelp
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &help); err != nil {
		// A malformed reply is still useful as a plain-text explanation.
		return &ErrorHelp{Explanation: strings.TrimSpace(resp.Content)}, nil
	}
	return &help, nil
}

// parseValidationJSON extracts and decodes the validation judgment from raw
// model output, tolerating Markdown fences and surrounding prose.
func parseValidationJSON(raw string) (*ValidationResult, error) {
	obj := extractJSONObject(raw)
	if obj == "" {
		return nil, fmt.Errorf("no JSON object in validation response")
	}
	var result ValidationResult
	if err := json.Unmarshal([]byte(obj), &result); err != nil {
		return nil, fmt.Errorf("decode validation response: %w", err)
	}
	return &result, nil
}

// extractJSONObject returns the first balanced {...} region of s, or "" when
// none exists.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}

var (
	fenceOpenRe  = regexp.MustCompile(`(?i)^\x60\x60\x60(?:sql|postgres|postgresql)?\s*`)
	fenceCloseRe = regexp.MustCompile("\\s*\x60\x60\x60$")
)

// CleanSQL strips Markdown code-fence wrapping from raw model output and
// trims surrounding whitespace. Inputs without fences pass through unchanged.
func CleanSQL(raw string) string {
	sql := strings.TrimSpace(raw)
	sql = fenceOpenRe.ReplaceAllString(sql, "")
	sql = fenceCloseRe.ReplaceAllString(sql, "")
	return strings.TrimSpace(sql)
}
