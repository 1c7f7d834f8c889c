package querystore

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// WriteReport describes the outcome of a two-tier cache write. Either tier
// may fail independently; callers decide whether partial success matters.
type WriteReport struct {
	// ExactErr is the relational-tier failure, nil on success.
	ExactErr error

	// VectorErr is the vector-tier failure, nil on success.
	VectorErr error
}

// Stored reports whether at least one tier accepted the write.
func (r WriteReport) Stored() bool { return r.ExactErr == nil || r.VectorErr == nil }

// Partial reports whether exactly one tier failed.
func (r WriteReport) Partial() bool {
	return (r.ExactErr == nil) != (r.VectorErr == nil)
}

// Err joins both tier errors, or returns nil when both writes succeeded.
func (r WriteReport) Err() error { return errors.Join(r.ExactErr, r.VectorErr) }

// TwoTierWriter writes cache entries to the exact-match and vector tiers.
// The tiers hold eventually-consistent duplicates; one write never aborts
// because the other failed.
type TwoTierWriter struct {
	exact   ExactCache
	vectors VectorStore
}

// NewTwoTierWriter creates a TwoTierWriter over the given tiers.
func NewTwoTierWriter(exact ExactCache, vectors VectorStore) *TwoTierWriter {
	return &TwoTierWriter{exact: exact, vectors: vectors}
}

// Write stores entry in both tiers using embedding for the vector tier and
// returns a report of which tiers accepted it. Partial failures are logged
// here; the caller typically treats any Stored() report as success because
// caching is best-effort.
func (w *TwoTierWriter) Write(ctx context.Context, entry CacheEntry, embedding []float32) WriteReport {
	var report WriteReport

	report.ExactErr = w.exact.Store(ctx, entry)

	report.VectorErr = w.vectors.Upsert(ctx, CollectionQueryCache, VectorID(entry.NaturalQuery), embedding, map[string]any{
		"natural_query":     entry.NaturalQuery,
		"generated_sql":     entry.SQL,
		"explanation":       entry.Explanation,
		"execution_time_ms": entry.ExecutionTimeMs,
		"usage_count":       int64(1),
		"last_used":         time.Now().UTC().Format(time.RFC3339),
		"query_id":          entry.QueryID.String(),
	})

	if report.Partial() {
		slog.Warn("cache write succeeded in only one tier",
			"query_id", entry.QueryID,
			"exact_err", report.ExactErr,
			"vector_err", report.VectorErr,
		)
	}
	return report
}
