// Package pipeline implements the staged query-processing flow: cache
// lookup, SQL generation, validation, execution, explanation, and cache
// storage, sequenced by an Orchestrator over a per-request Context.
//
// Stages communicate only through the Context. Each stage absorbs the
// failures of the dependencies it owns; only validation and execution
// failures end a run early, and even those come back as structured results,
// never as errors escaping the Orchestrator.
package pipeline

import (
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/internal/sqlexec"
	"github.com/MrWong99/askdb/pkg/provider/llm"
)

// Cache statuses threaded through the context to control stage skipping.
const (
	StatusMiss      = "miss"
	StatusExactHit  = "db_exact_hit"
	StatusVectorHit = "vector_hit"
)

// placeholderExplanation is attached when the caller did not ask for an
// explanation. It must never be persisted as if it were a real one.
const placeholderExplanation = "Results found. Request an explanation to learn more about this data."

// Request is one natural-language query to process.
type Request struct {
	// Query is the natural-language question.
	Query string

	// ConversationID groups related requests. Zero means a fresh
	// conversation id is generated.
	ConversationID uuid.UUID

	// RequestID is the transport-level correlation id, generated when empty.
	RequestID string

	// IncludeExplanation asks for a natural-language explanation of the
	// results.
	IncludeExplanation bool

	// SkipCachedExplanation forces a fresh explanation even when the cache
	// holds one.
	SkipCachedExplanation bool
}

// StageError records one absorbed failure.
type StageError struct {
	Stage   string
	Kind    string
	Message string
	Time    time.Time
}

// Context is the mutable per-request state. It is owned by exactly one
// pipeline run and is never shared across requests, so it needs no locking.
type Context struct {
	QueryID        uuid.UUID
	ConversationID uuid.UUID
	RequestID      string

	// OriginalQuery is the immutable input; EnhancedQuery is an optional
	// rewritten form used for generation when set.
	OriginalQuery string
	EnhancedQuery string

	IncludeExplanation    bool
	SkipCachedExplanation bool

	// Working state filled in by the stages.
	SQL         string
	Results     *sqlexec.Result
	Explanation string

	// CacheStatus starts at miss and is upgraded by the lookup stage. Once
	// non-miss, generation and validation must not run.
	CacheStatus string

	// QueryEmbedding is computed during lookup and reused by storage.
	QueryEmbedding []float32

	// SchemaText is the formatted selected schema, kept for validation.
	SchemaText string

	// Observability facts accumulated for the metrics record.
	FullSchemaTables int
	SelectedTables   int
	TablesUsed       []string
	TokenUsage       llm.Usage
	SystemPrompt     string
	UserPrompt       string
	SQLExplanation   string

	CurrentStage    string
	CompletedStages []string

	// StageTimings maps stage name to elapsed seconds; "{stage}_start"
	// entries hold the raw start timestamps.
	StageTimings map[string]float64

	Errors []StageError

	startTime time.Time
	now       func() time.Time
}

// NewContext builds the context for one request, assigning the query id
// that joins the caches, the mapping table, and the metrics record.
func NewContext(req Request) *Context {
	conversationID := req.ConversationID
	if conversationID == uuid.Nil {
		conversationID = uuid.New()
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}
	now := time.Now
	return &Context{
		QueryID:               uuid.New(),
		ConversationID:        conversationID,
		RequestID:             requestID,
		OriginalQuery:         req.Query,
		IncludeExplanation:    req.IncludeExplanation,
		SkipCachedExplanation: req.SkipCachedExplanation,
		CacheStatus:           StatusMiss,
		CurrentStage:          "initialized",
		StageTimings:          make(map[string]float64),
		startTime:             now(),
		now:                   now,
	}
}

// QueryText returns the query used for generation: the enhanced form when
// present, the original otherwise.
func (c *Context) QueryText() string {
	if c.EnhancedQuery != "" {
		return c.EnhancedQuery
	}
	return c.OriginalQuery
}

// StartStage marks stage as running and records its start timestamp.
func (c *Context) StartStage(stage string) {
	c.CurrentStage = stage
	c.StageTimings[stage+"_start"] = float64(c.now().UnixNano()) / 1e9
}

// CompleteStage records the stage's elapsed seconds and appends it to the
// completed list.
func (c *Context) CompleteStage(stage string) {
	end := float64(c.now().UnixNano()) / 1e9
	start, ok := c.StageTimings[stage+"_start"]
	if !ok {
		start = end
	}
	c.StageTimings[stage] = end - start
	c.CompletedStages = append(c.CompletedStages, stage)
}

// AddError appends an absorbed failure to the context.
func (c *Context) AddError(stage, kind string, err error) {
	c.Errors = append(c.Errors, StageError{
		Stage:   stage,
		Kind:    kind,
		Message: err.Error(),
		Time:    c.now(),
	})
}

// TimingsMs returns the completed stage timings in milliseconds, start
// markers excluded.
func (c *Context) TimingsMs() map[string]float64 {
	out := make(map[string]float64, len(c.StageTimings))
	for stage, seconds := range c.StageTimings {
		if len(stage) > 6 && stage[len(stage)-6:] == "_start" {
			continue
		}
		out[stage] = seconds * 1000
	}
	return out
}

// TotalMs returns the wall time since the context was created, in
// milliseconds.
func (c *Context) TotalMs() float64 {
	return float64(c.now().Sub(c.startTime)) / float64(time.Millisecond)
}

// RowCount returns how many rows execution produced, zero before execution.
func (c *Context) RowCount() int {
	if c.Results == nil {
		return 0
	}
	return c.Results.RowCount
}
