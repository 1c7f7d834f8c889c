package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/askdb/pkg/querystore"
)

// MetricsImpl implements [querystore.MetricsRecorder] on the api_metrics
// table. Obtain one via [Store.Metrics].
type MetricsImpl struct {
	pool *pgxpool.Pool
}

// Record implements [querystore.MetricsRecorder].
func (r *MetricsImpl) Record(ctx context.Context, m querystore.QueryMetrics) error {
	const q = `
		INSERT INTO api_metrics
		    (query_id, request_id, natural_query, cache_status, success,
		     row_count, execution_time_ms, total_time_ms,
		     prompt_tokens, completion_tokens, total_tokens,
		     full_schema_tables, selected_schema_tables,
		     stage_timings, system_prompt, user_prompt)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`

	timings := m.StageTimingsMs
	if timings == nil {
		timings = map[string]float64{}
	}

	_, err := r.pool.Exec(ctx, q,
		m.QueryID,
		m.RequestID,
		m.NaturalQuery,
		m.CacheStatus,
		m.Success,
		m.RowCount,
		m.ExecutionTimeMs,
		m.TotalTimeMs,
		m.PromptTokens,
		m.CompletionTokens,
		m.TotalTokens,
		m.FullSchemaTables,
		m.SelectedTables,
		timings,
		m.SystemPrompt,
		m.UserPrompt,
	)
	if err != nil {
		return fmt.Errorf("metrics: record: %w", err)
	}
	return nil
}
