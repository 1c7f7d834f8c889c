package pipeline

import (
	"github.com/google/uuid"

	"github.com/MrWong99/askdb/pkg/gateway"
)

// Outcome tags the kind of result a pipeline run produced.
type Outcome string

const (
	OutcomeSuccess         Outcome = "success"
	OutcomeValidationError Outcome = "validation_error"
	OutcomeExecutionError  Outcome = "execution_error"
	OutcomeProcessingError Outcome = "processing_error"
)

// Stable machine codes carried in error details.
const (
	CodeDisallowedOperation = "DISALLOWED_OPERATION"
	CodeValidationError     = "VALIDATION_ERROR"
	CodeExecutionError      = "EXECUTION_ERROR"
	CodeProcessingError     = "PROCESSING_ERROR"
)

// Detail is one machine-readable error entry in a non-success result.
type Detail = gateway.ValidationIssue

// Result is the single response shape of a pipeline run. Outcome selects
// which fields are meaningful: successes carry results and an explanation,
// failures carry Error and Details.
type Result struct {
	Outcome Outcome `json:"-"`

	QueryID        uuid.UUID `json:"query_id"`
	RequestID      string    `json:"request_id"`
	ConversationID uuid.UUID `json:"conversation_id"`

	SQL             string           `json:"generated_sql,omitempty"`
	Results         []map[string]any `json:"results,omitempty"`
	RowCount        int              `json:"row_count"`
	HasResults      bool             `json:"has_results"`
	ExecutionTimeMs float64          `json:"execution_time_ms,omitempty"`
	Explanation     string           `json:"message,omitempty"`
	CacheStatus     string           `json:"cache_status"`

	Error   string   `json:"error,omitempty"`
	Details []Detail `json:"details,omitempty"`
}

// Success reports whether the run produced a usable result set.
func (r Result) Success() bool { return r.Outcome == OutcomeSuccess }

func successResult(pc *Context) Result {
	r := baseResult(pc)
	r.Outcome = OutcomeSuccess
	r.SQL = pc.SQL
	r.Explanation = pc.Explanation
	if pc.Results != nil {
		r.Results = pc.Results.Results
		r.RowCount = pc.Results.RowCount
		r.HasResults = pc.Results.HasResults
		r.ExecutionTimeMs = pc.Results.ExecutionTimeMs
	}
	return r
}

func validationErrorResult(pc *Context, details []Detail) Result {
	r := baseResult(pc)
	r.Outcome = OutcomeValidationError
	r.Error = "SQL validation failed"
	r.Details = details
	return r
}

func executionErrorResult(pc *Context, details []Detail) Result {
	r := baseResult(pc)
	r.Outcome = OutcomeExecutionError
	r.Error = "SQL execution failed"
	r.Details = details
	return r
}

func processingErrorResult(pc *Context) Result {
	message := "Unknown error"
	if n := len(pc.Errors); n > 0 {
		message = pc.Errors[n-1].Message
	}
	r := baseResult(pc)
	r.Outcome = OutcomeProcessingError
	r.Error = "Query processing failed"
	r.Details = []Detail{{
		Code:       CodeProcessingError,
		Message:    message,
		Suggestion: "Please try again with a different query",
	}}
	return r
}

func baseResult(pc *Context) Result {
	return Result{
		QueryID:        pc.QueryID,
		RequestID:      pc.RequestID,
		ConversationID: pc.ConversationID,
		CacheStatus:    pc.CacheStatus,
	}
}
