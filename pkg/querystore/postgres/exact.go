package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/askdb/pkg/querystore"
)

// ExactCacheImpl is the relational exact-match cache tier backed by the
// query_cache table. Obtain one via [Store.Exact].
type ExactCacheImpl struct {
	pool *pgxpool.Pool
}

// Lookup implements [querystore.ExactCache].
func (c *ExactCacheImpl) Lookup(ctx context.Context, normalizedQuery string) (*querystore.CacheEntry, error) {
	const q = `
		SELECT natural_query, generated_sql, explanation, execution_time_ms,
		       query_id, execution_count, last_used, created_at
		FROM   query_cache
		WHERE  natural_query = $1`

	entry, err := scanEntry(c.pool.QueryRow(ctx, q, normalizedQuery))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exact cache: lookup: %w", err)
	}
	return entry, nil
}

// Touch implements [querystore.ExactCache].
func (c *ExactCacheImpl) Touch(ctx context.Context, normalizedQuery string) error {
	const q = `
		UPDATE query_cache
		SET    execution_count = execution_count + 1,
		       last_used       = now()
		WHERE  natural_query = $1`

	if _, err := c.pool.Exec(ctx, q, normalizedQuery); err != nil {
		return fmt.Errorf("exact cache: touch: %w", err)
	}
	return nil
}

// Store implements [querystore.ExactCache]. Concurrent writers racing on the
// same normalized text are serialized by the upsert; the last writer wins.
func (c *ExactCacheImpl) Store(ctx context.Context, entry querystore.CacheEntry) error {
	const q = `
		INSERT INTO query_cache
		    (natural_query, generated_sql, explanation, execution_time_ms, query_id)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (natural_query) DO UPDATE SET
		    generated_sql     = EXCLUDED.generated_sql,
		    explanation       = EXCLUDED.explanation,
		    execution_time_ms = EXCLUDED.execution_time_ms,
		    query_id          = EXCLUDED.query_id,
		    execution_count   = query_cache.execution_count + 1,
		    last_used         = now()`

	var explanation any
	if entry.Explanation != "" {
		explanation = entry.Explanation
	}

	_, err := c.pool.Exec(ctx, q,
		entry.NaturalQuery,
		entry.SQL,
		explanation,
		entry.ExecutionTimeMs,
		entry.QueryID,
	)
	if err != nil {
		return fmt.Errorf("exact cache: store: %w", err)
	}
	return nil
}

// GetByQueryID implements [querystore.ExactCache].
func (c *ExactCacheImpl) GetByQueryID(ctx context.Context, queryID uuid.UUID) (*querystore.CacheEntry, error) {
	const q = `
		SELECT natural_query, generated_sql, explanation, execution_time_ms,
		       query_id, execution_count, last_used, created_at
		FROM   query_cache
		WHERE  query_id = $1`

	entry, err := scanEntry(c.pool.QueryRow(ctx, q, queryID))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("exact cache: get by query id: %w", err)
	}
	return entry, nil
}

func scanEntry(row pgx.Row) (*querystore.CacheEntry, error) {
	var (
		entry       querystore.CacheEntry
		explanation sql.NullString
	)
	err := row.Scan(
		&entry.NaturalQuery,
		&entry.SQL,
		&explanation,
		&entry.ExecutionTimeMs,
		&entry.QueryID,
		&entry.UsageCount,
		&entry.LastUsed,
		&entry.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	entry.Explanation = explanation.String
	return &entry, nil
}
