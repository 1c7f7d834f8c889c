// Package sqlexec runs generated SQL against Postgres and shapes the rows
// into JSON-safe values. Execution failure is part of the result, not an
// error return; a bad generated statement is an expected outcome the
// pipeline reports, not a fault that should unwind it.
package sqlexec

import (
	"context"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Result is the outcome of one execution attempt.
type Result struct {
	// Results holds at most MaxResults sanitized rows.
	Results []map[string]any `json:"results"`

	// RowCount is the full number of rows the statement produced, before
	// the MaxResults cap.
	RowCount int `json:"row_count"`

	ExecutionTimeMs float64 `json:"execution_time_ms"`
	Success         bool    `json:"success"`
	HasResults      bool    `json:"has_results"`

	// Error carries the database error text when Success is false.
	Error string `json:"error,omitempty"`
}

// Config tunes the executor. Zero values are replaced with defaults by
// NewExecutor.
type Config struct {
	// MaxResults caps how many rows are kept. Default 100.
	MaxResults int

	// QueryTimeout bounds a single statement. Default 30 seconds.
	QueryTimeout time.Duration
}

// Executor runs read-only statements on a pool.
type Executor struct {
	pool *pgxpool.Pool
	cfg  Config
}

// NewExecutor creates an Executor on pool.
func NewExecutor(pool *pgxpool.Pool, cfg Config) *Executor {
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = 100
	}
	if cfg.QueryTimeout <= 0 {
		cfg.QueryTimeout = 30 * time.Second
	}
	return &Executor{pool: pool, cfg: cfg}
}

// Execute runs sql and returns its outcome. Database errors are captured in
// the result; Execute itself never fails.
func (e *Executor) Execute(ctx context.Context, sql string) Result {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.QueryTimeout)
	defer cancel()

	start := time.Now()
	rows, err := e.pool.Query(ctx, sql)
	if err != nil {
		return failure(start, err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	var (
		results  []map[string]any
		rowCount int
	)
	for rows.Next() {
		rowCount++
		if len(results) >= e.cfg.MaxResults {
			continue
		}
		values, err := rows.Values()
		if err != nil {
			return failure(start, err)
		}
		row := make(map[string]any, len(fields))
		for i, fd := range fields {
			row[fd.Name] = Sanitize(values[i])
		}
		results = append(results, row)
	}
	if err := rows.Err(); err != nil {
		return failure(start, err)
	}

	return Result{
		Results:         results,
		RowCount:        rowCount,
		ExecutionTimeMs: msSince(start),
		Success:         true,
		HasResults:      rowCount > 0,
	}
}

func failure(start time.Time, err error) Result {
	slog.Error("sql execution failed", "error", err)
	return Result{
		Results:         []map[string]any{},
		ExecutionTimeMs: msSince(start),
		Error:           err.Error(),
	}
}

func msSince(start time.Time) float64 {
	return float64(time.Since(start)) / float64(time.Millisecond)
}
