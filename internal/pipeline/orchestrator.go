package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/internal/observe"
	"github.com/MrWong99/askdb/pkg/gateway"
	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// ErrExplanationNotFound is returned by GetExplanation when no cache tier
// holds the query.
var ErrExplanationNotFound = errors.New("pipeline: no explanation found for query id")

// Config tunes the orchestrator. Zero values are replaced with defaults by
// NewOrchestrator.
type Config struct {
	// VectorSimilarityThreshold is the minimum similarity for a semantic
	// cache hit. Default 0.85.
	VectorSimilarityThreshold float64

	// SchemaName is the database schema to introspect. Default "eligibility".
	SchemaName string
}

// Deps are the external collaborators of a pipeline. The orchestrator never
// touches a store or model directly; each stage owns its dependencies.
type Deps struct {
	Exact    querystore.ExactCache
	Vectors  querystore.VectorStore
	Mappings querystore.IDMappings
	Recorder querystore.MetricsRecorder
	Embedder embeddings.Provider
	Gateway  gateway.Gateway
	Schemas  SchemaSource
	Selector TableSelector
	Examples ExampleFinder
	Prompts  PromptCache
	Runner   Runner

	// Metrics defaults to observe.DefaultMetrics().
	Metrics *observe.Metrics
}

// Orchestrator sequences the pipeline stages over a per-request Context.
// Process never returns an error; every failure mode is folded into the
// structured Result.
type Orchestrator struct {
	lookup   *lookupStage
	generate *generateStage
	validate *validateStage
	execute  *executeStage
	explain  *explainStage
	store    *storeStage

	exact    querystore.ExactCache
	vectors  querystore.VectorStore
	mappings querystore.IDMappings
	recorder querystore.MetricsRecorder
	gw       gateway.Gateway
	metrics  *observe.Metrics
}

// NewOrchestrator wires the six stages from deps.
func NewOrchestrator(deps Deps, cfg Config) *Orchestrator {
	if cfg.VectorSimilarityThreshold == 0 {
		cfg.VectorSimilarityThreshold = 0.85
	}
	if cfg.SchemaName == "" {
		cfg.SchemaName = "eligibility"
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Orchestrator{
		lookup: &lookupStage{
			exact:     deps.Exact,
			vectors:   deps.Vectors,
			mappings:  deps.Mappings,
			embedder:  deps.Embedder,
			threshold: cfg.VectorSimilarityThreshold,
		},
		generate: &generateStage{
			schemas:    deps.Schemas,
			selector:   deps.Selector,
			examples:   deps.Examples,
			prompts:    deps.Prompts,
			gw:         deps.Gateway,
			schemaName: cfg.SchemaName,
		},
		validate: &validateStage{gw: deps.Gateway},
		execute:  &executeStage{runner: deps.Runner},
		explain:  &explainStage{gw: deps.Gateway},
		store: &storeStage{
			writer:   querystore.NewTwoTierWriter(deps.Exact, deps.Vectors),
			embedder: deps.Embedder,
		},
		exact:    deps.Exact,
		vectors:  deps.Vectors,
		mappings: deps.Mappings,
		recorder: deps.Recorder,
		gw:       deps.Gateway,
		metrics:  metrics,
	}
}

// Process runs the full pipeline for one request. It always records a
// metrics row and a one-line summary, success or failure, and a recording
// failure never masks the primary result.
func (o *Orchestrator) Process(ctx context.Context, req Request) (result Result) {
	pc := NewContext(req)

	defer func() {
		if r := recover(); r != nil {
			pc.AddError("orchestration", "panic", fmt.Errorf("panic: %v", r))
			result = processingErrorResult(pc)
		}
		o.record(ctx, pc, result)
	}()

	result = o.runPipeline(ctx, pc)
	return result
}

func (o *Orchestrator) runPipeline(ctx context.Context, pc *Context) Result {
	o.lookup.Run(ctx, pc)
	o.metrics.RecordCacheLookup(ctx, pc.CacheStatus)

	fromCache := pc.CacheStatus != StatusMiss
	if !fromCache {
		if err := o.generate.Run(ctx, pc); err != nil {
			pc.AddError("sql_generation", "generation", err)
			return processingErrorResult(pc)
		}
		if details := o.validate.Run(ctx, pc); details != nil {
			return validationErrorResult(pc, details)
		}
	}

	res := o.execute.Run(ctx, pc)
	if !res.Success && fromCache {
		// The cached statement no longer runs, most likely because the
		// schema moved underneath it. Treat the request as a fresh miss and
		// regenerate once.
		slog.Warn("cached SQL failed, regenerating once",
			"query_id", pc.QueryID, "error", res.Error)
		pc.SQL = ""
		pc.Explanation = ""
		pc.CacheStatus = StatusMiss

		if err := o.generate.Run(ctx, pc); err != nil {
			pc.AddError("sql_generation", "generation", err)
			return processingErrorResult(pc)
		}
		if details := o.validate.Run(ctx, pc); details != nil {
			return validationErrorResult(pc, details)
		}
		res = o.execute.Run(ctx, pc)
	}
	if !res.Success {
		return executionErrorResult(pc, o.executionDetails(ctx, pc, res.Error))
	}

	if pc.IncludeExplanation || !res.HasResults {
		o.explain.Run(ctx, pc)
	} else if pc.Explanation == "" {
		pc.Explanation = placeholderExplanation
	}

	if pc.CacheStatus == StatusMiss {
		o.store.Run(ctx, pc)
	}

	return successResult(pc)
}

// executionDetails builds the error details for a final execution failure,
// asking the model for user guidance when possible.
func (o *Orchestrator) executionDetails(ctx context.Context, pc *Context, dbError string) []Detail {
	detail := Detail{
		Code:       CodeExecutionError,
		Message:    dbError,
		Suggestion: "Please try a different query",
	}
	help, err := o.gw.HandleError(ctx, pc.OriginalQuery, dbError, pc.SchemaText)
	if err != nil {
		pc.AddError("sql_execution", "error_help", err)
		return []Detail{detail}
	}
	if help.Explanation != "" {
		detail.Message = help.Explanation
	}
	if help.Suggestion != "" {
		detail.Suggestion = help.Suggestion
	}
	return []Detail{detail}
}

// GetExplanation returns the explanation for a previously processed query,
// resolving id mappings so a request served from cache finds the entry that
// holds the text. As a last resort it regenerates the explanation from the
// cached SQL.
func (o *Orchestrator) GetExplanation(ctx context.Context, queryID uuid.UUID) (string, error) {
	ids := []uuid.UUID{queryID}
	if resolved, err := o.mappings.Resolve(ctx, queryID); err != nil {
		slog.Warn("id mapping resolution failed", "query_id", queryID, "error", err)
	} else if resolved != queryID {
		ids = append(ids, resolved)
	}

	var source *querystore.CacheEntry
	for _, id := range ids {
		entry, err := o.exact.GetByQueryID(ctx, id)
		if err != nil {
			slog.Warn("exact cache explanation lookup failed", "query_id", id, "error", err)
			continue
		}
		if entry == nil {
			continue
		}
		if entry.Explanation != "" {
			return entry.Explanation, nil
		}
		source = entry
	}

	if text, ok := o.vectorExplanation(ctx, ids); ok {
		return text, nil
	}

	if source == nil || source.SQL == "" {
		return "", ErrExplanationNotFound
	}

	// Regenerate from the cached SQL and persist the result so the next
	// retrieval is a cache hit.
	text, err := o.gw.Explain(ctx, gateway.ExplainRequest{
		Query:      source.NaturalQuery,
		SQL:        source.SQL,
		TablesUsed: tablesFromSQL(source.SQL),
	})
	if err != nil {
		return "", fmt.Errorf("pipeline: regenerate explanation: %w", err)
	}
	source.Explanation = text
	if err := o.exact.Store(ctx, *source); err != nil {
		slog.Warn("failed to persist regenerated explanation", "query_id", source.QueryID, "error", err)
	}
	return text, nil
}

// vectorExplanation scans the vector tier for an entry owned by one of ids.
func (o *Orchestrator) vectorExplanation(ctx context.Context, ids []uuid.UUID) (string, bool) {
	records, err := o.vectors.List(ctx, querystore.CollectionQueryCache)
	if err != nil {
		slog.Warn("vector explanation lookup failed", "error", err)
		return "", false
	}
	want := make(map[string]bool, len(ids))
	for _, id := range ids {
		want[id.String()] = true
	}
	for _, rec := range records {
		idStr, _ := rec.Metadata["query_id"].(string)
		if !want[idStr] {
			continue
		}
		if text, _ := rec.Metadata["explanation"].(string); text != "" {
			return text, true
		}
	}
	return "", false
}

// record persists the metrics row, updates the in-process instruments, and
// logs the one-line summary.
func (o *Orchestrator) record(ctx context.Context, pc *Context, result Result) {
	var executionMs float64
	if pc.Results != nil {
		executionMs = pc.Results.ExecutionTimeMs
	}
	metrics := querystore.QueryMetrics{
		QueryID:          pc.QueryID,
		RequestID:        pc.RequestID,
		NaturalQuery:     pc.OriginalQuery,
		CacheStatus:      pc.CacheStatus,
		Success:          result.Success(),
		RowCount:         pc.RowCount(),
		ExecutionTimeMs:  executionMs,
		TotalTimeMs:      pc.TotalMs(),
		PromptTokens:     pc.TokenUsage.PromptTokens,
		CompletionTokens: pc.TokenUsage.CompletionTokens,
		TotalTokens:      pc.TokenUsage.TotalTokens,
		FullSchemaTables: pc.FullSchemaTables,
		SelectedTables:   pc.SelectedTables,
		StageTimingsMs:   pc.TimingsMs(),
		SystemPrompt:     pc.SystemPrompt,
		UserPrompt:       pc.UserPrompt,
	}
	if err := o.recorder.Record(ctx, metrics); err != nil {
		slog.Error("failed to record query metrics", "query_id", pc.QueryID, "error", err)
	}

	o.metrics.RecordOutcome(ctx, string(result.Outcome))
	for stage, seconds := range pc.StageTimings {
		if len(stage) > 6 && stage[len(stage)-6:] == "_start" {
			continue
		}
		o.metrics.RecordStage(ctx, stage, seconds)
	}
	o.metrics.RecordTokens(ctx, "translate", int64(pc.TokenUsage.PromptTokens), int64(pc.TokenUsage.CompletionTokens))

	slog.Info("query processed",
		"query_id", pc.QueryID,
		"request_id", pc.RequestID,
		"outcome", result.Outcome,
		"cache_status", pc.CacheStatus,
		"row_count", pc.RowCount(),
		"stages", pc.CompletedStages,
		"total_ms", pc.TotalMs(),
		"errors", len(pc.Errors),
	)
}
