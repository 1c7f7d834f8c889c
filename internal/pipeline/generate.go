package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/askdb/internal/examples"
	"github.com/MrWong99/askdb/internal/prompt"
	"github.com/MrWong99/askdb/internal/schema"
	"github.com/MrWong99/askdb/pkg/gateway"
)

// SchemaSource provides the live database schema.
type SchemaSource interface {
	Introspect(ctx context.Context, schemaName string) (schema.Info, error)
}

// TableSelector reduces a schema to the tables relevant to a query.
type TableSelector interface {
	Select(ctx context.Context, query string, info schema.Info) schema.Info
}

// ExampleFinder retrieves few-shot examples for a query.
type ExampleFinder interface {
	FindSimilar(ctx context.Context, query string, tables []string) ([]examples.Example, error)
}

// PromptCache reuses assembled system prompts across similar queries.
type PromptCache interface {
	Lookup(ctx context.Context, query, fingerprint string) (prompt string, embedding []float32, err error)
	Store(ctx context.Context, query, prompt, fingerprint string, embedding []float32) error
}

// generateStage turns the question into SQL: introspect, select relevant
// tables, retrieve examples, assemble (or reuse) the system prompt, and
// translate. It runs only on a cache miss.
type generateStage struct {
	schemas    SchemaSource
	selector   TableSelector
	examples   ExampleFinder
	prompts    PromptCache
	gw         gateway.Gateway
	schemaName string
}

func (s *generateStage) Run(ctx context.Context, pc *Context) error {
	if pc.SQL != "" {
		return nil
	}

	pc.StartStage("sql_generation")
	defer pc.CompleteStage("sql_generation")

	query := pc.QueryText()

	info, err := s.schemas.Introspect(ctx, s.schemaName)
	if err != nil {
		return fmt.Errorf("introspect schema: %w", err)
	}
	pc.FullSchemaTables = len(info)

	selected := s.selector.Select(ctx, query, info)
	pc.SelectedTables = len(selected)
	pc.TablesUsed = selected.TableNames()

	exs, err := s.examples.FindSimilar(ctx, query, pc.TablesUsed)
	if err != nil {
		// Examples sharpen the prompt but are not required for it.
		pc.AddError("sql_generation", "example_retrieval", err)
		exs = nil
	}

	pc.SchemaText = schema.Format(selected)
	systemPrompt := s.systemPrompt(ctx, pc, query, selected, exs)

	res, err := s.gw.Translate(ctx, query, systemPrompt)
	if err != nil {
		return fmt.Errorf("translate: %w", err)
	}

	pc.SQL = res.SQL
	pc.SQLExplanation = res.Explanation
	pc.TokenUsage.Add(res.Usage)
	pc.SystemPrompt = res.SystemPrompt
	pc.UserPrompt = res.UserPrompt

	slog.Info("generated SQL",
		"query_id", pc.QueryID,
		"selected_tables", pc.SelectedTables,
		"full_schema_tables", pc.FullSchemaTables,
		"examples", len(exs),
	)
	return nil
}

// systemPrompt returns a cached prompt for this query and schema shape, or
// assembles and caches a fresh one. Prompt-cache failures degrade to fresh
// assembly.
func (s *generateStage) systemPrompt(ctx context.Context, pc *Context, query string, selected schema.Info, exs []examples.Example) string {
	fingerprint := schema.Fingerprint(selected)

	cached, embedding, err := s.prompts.Lookup(ctx, query, fingerprint)
	if err != nil {
		pc.AddError("sql_generation", "prompt_cache_lookup", err)
	}
	if cached != "" {
		return cached
	}

	assembled := prompt.BuildSystemPrompt(query, pc.SchemaText, prompt.FormatExamples(exs), prompt.Analyze(query))
	if err := s.prompts.Store(ctx, query, assembled, fingerprint, embedding); err != nil {
		slog.Warn("failed to cache prompt", "error", err)
	}
	return assembled
}
