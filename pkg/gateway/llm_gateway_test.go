package gateway

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/MrWong99/askdb/pkg/provider/llm"
	llmmock "github.com/MrWong99/askdb/pkg/provider/llm/mock"
)

func TestCleanSQL(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "SELECT 1", "SELECT 1"},
		{"sql fence", "```sql\nSELECT * FROM eligibility.member\n```", "SELECT * FROM eligibility.member"},
		{"postgres fence", "```postgres\nSELECT 1\n```", "SELECT 1"},
		{"postgresql fence", "```postgresql\nSELECT 1\n```", "SELECT 1"},
		{"bare fence", "```\nSELECT 1\n```", "SELECT 1"},
		{"leading whitespace", "  \n SELECT 1 \n ", "SELECT 1"},
		{"fence case insensitive", "```SQL\nSELECT 1\n```", "SELECT 1"},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CleanSQL(tt.in); got != tt.want {
				t.Errorf("CleanSQL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseValidationJSON(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		got, err := parseValidationJSON(`{"is_valid": true, "errors": []}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if !got.Valid || len(got.Issues) != 0 {
			t.Fatalf("got %+v, want valid with no issues", got)
		}
	})

	t.Run("invalid with issues", func(t *testing.T) {
		raw := "Here is my judgment:\n```json\n" +
			`{"is_valid": false, "errors": [{"code": "UNKNOWN_COLUMN", "message": "no such column", "location": "m.status", "suggestion": "use effective_range"}]}` +
			"\n```"
		got, err := parseValidationJSON(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Valid {
			t.Fatal("judgment parsed as valid, want invalid")
		}
		if len(got.Issues) != 1 || got.Issues[0].Code != "UNKNOWN_COLUMN" {
			t.Fatalf("issues = %+v", got.Issues)
		}
	})

	t.Run("no json", func(t *testing.T) {
		if _, err := parseValidationJSON("the query looks fine to me"); err == nil {
			t.Fatal("expected error for response without JSON")
		}
	})

	t.Run("braces inside strings", func(t *testing.T) {
		got, err := parseValidationJSON(`{"is_valid": false, "errors": [{"code": "X", "message": "brace } in text", "location": "", "suggestion": ""}]}`)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got.Valid || len(got.Issues) != 1 {
			t.Fatalf("got %+v", got)
		}
	})
}

func TestLLMGateway_Translate(t *testing.T) {
	provider := &llmmock.Provider{
		Responses: []llm.CompletionResponse{
			{Content: "```sql\nSELECT COUNT(*) FROM eligibility.member\n```", Usage: llm.Usage{PromptTokens: 100, CompletionTokens: 20, TotalTokens: 120}},
			{Content: "Counts all members.", Usage: llm.Usage{PromptTokens: 30, CompletionTokens: 5, TotalTokens: 35}},
		},
	}
	g := NewLLMGateway(provider, 1000)

	got, err := g.Translate(context.Background(), "how many members are there", "system prompt here")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.SQL != "SELECT COUNT(*) FROM eligibility.member" {
		t.Errorf("SQL = %q", got.SQL)
	}
	if got.Explanation != "Counts all members." {
		t.Errorf("Explanation = %q", got.Explanation)
	}
	if got.Usage.TotalTokens != 155 {
		t.Errorf("TotalTokens = %d, want 155 (both calls summed)", got.Usage.TotalTokens)
	}
	if !strings.Contains(got.UserPrompt, "generate SQL for: how many members are there") {
		t.Errorf("UserPrompt = %q", got.UserPrompt)
	}
	if provider.Calls() != 2 {
		t.Errorf("provider calls = %d, want 2 (translate + describe)", provider.Calls())
	}
}

func TestLLMGateway_TranslateEmptySQL(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: "```sql\n```"}}}
	g := NewLLMGateway(provider, 0)

	if _, err := g.Translate(context.Background(), "q", "s"); err == nil {
		t.Fatal("expected error for empty SQL")
	}
}

func TestLLMGateway_ValidateCallFailure(t *testing.T) {
	provider := &llmmock.Provider{Err: errors.New("rate limited")}
	g := NewLLMGateway(provider, 0)

	if _, err := g.Validate(context.Background(), "SELECT 1", "schema"); err == nil {
		t.Fatal("expected error when the model call fails")
	}
}

func TestLLMGateway_HandleErrorMalformedReply(t *testing.T) {
	provider := &llmmock.Provider{Responses: []llm.CompletionResponse{{Content: "plain text, no JSON"}}}
	g := NewLLMGateway(provider, 0)

	help, err := g.HandleError(context.Background(), "q", "relation does not exist", "schema")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if help.Explanation != "plain text, no JSON" {
		t.Errorf("Explanation = %q, want raw text fallback", help.Explanation)
	}
}
