// Package postgres provides the PostgreSQL implementation of the querystore
// contract. The exact-match cache, the query-ID mapping table, the metrics
// sink, and the vector collections all share a single pgxpool.Pool; vector
// search uses the pgvector extension with an HNSW cosine index.
//
// Usage:
//
//	store, err := postgres.NewStore(ctx, dsn, 1536)
//	if err != nil { … }
//	defer store.Close()
//
//	entry, _ := store.Exact().Lookup(ctx, normalized)
//	hits, _ := store.Vectors().Query(ctx, querystore.CollectionQueryCache, vec, 1, nil)
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/MrWong99/askdb/pkg/querystore"
)

// Compile-time interface checks. The four contracts have no conflicting
// method names but are exposed as sub-types to keep each surface small.
var (
	_ querystore.ExactCache      = (*ExactCacheImpl)(nil)
	_ querystore.VectorStore     = (*VectorStoreImpl)(nil)
	_ querystore.IDMappings      = (*IDMappingsImpl)(nil)
	_ querystore.MetricsRecorder = (*MetricsImpl)(nil)
)

// Store is the central PostgreSQL-backed state store for the query pipeline.
// All operations are safe for concurrent use.
type Store struct {
	pool     *pgxpool.Pool
	exact    *ExactCacheImpl
	vectors  *VectorStoreImpl
	mappings *IDMappingsImpl
	metrics  *MetricsImpl
}

// NewStore connects to the PostgreSQL database at dsn, registers pgvector
// types on every connection, and runs Migrate to ensure all required tables
// and the vector extension exist.
//
// embeddingDimensions must match the output dimension of the embedding model
// (e.g. 1536 for text-embedding-3-small). Changing it after the first
// migration requires a manual schema change.
func NewStore(ctx context.Context, dsn string, embeddingDimensions int) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("querystore: parse dsn: %w", err)
	}

	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("querystore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("querystore: ping: %w", err)
	}

	if err := Migrate(ctx, pool, embeddingDimensions); err != nil {
		pool.Close()
		return nil, fmt.Errorf("querystore: migrate: %w", err)
	}

	return &Store{
		pool:     pool,
		exact:    &ExactCacheImpl{pool: pool},
		vectors:  &VectorStoreImpl{pool: pool},
		mappings: &IDMappingsImpl{pool: pool},
		metrics:  &MetricsImpl{pool: pool},
	}, nil
}

// Exact returns the exact-match cache tier.
func (s *Store) Exact() *ExactCacheImpl { return s.exact }

// Vectors returns the vector-store tier.
func (s *Store) Vectors() *VectorStoreImpl { return s.vectors }

// Mappings returns the query-ID mapping table.
func (s *Store) Mappings() *IDMappingsImpl { return s.mappings }

// Metrics returns the api_metrics recorder.
func (s *Store) Metrics() *MetricsImpl { return s.metrics }

// Pool exposes the underlying connection pool for components that run their
// own queries against the same database (schema introspection, SQL
// execution).
func (s *Store) Pool() *pgxpool.Pool { return s.pool }

// Close releases all connections held by the underlying pool.
func (s *Store) Close() { s.pool.Close() }

const ddlQueryCache = `
CREATE TABLE IF NOT EXISTS query_cache (
    natural_query      TEXT             PRIMARY KEY,
    generated_sql      TEXT             NOT NULL,
    explanation        TEXT,
    execution_time_ms  DOUBLE PRECISION NOT NULL DEFAULT 0,
    query_id           UUID             NOT NULL,
    execution_count    BIGINT           NOT NULL DEFAULT 1,
    last_used          TIMESTAMPTZ      NOT NULL DEFAULT now(),
    created_at         TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_query_cache_query_id
    ON query_cache (query_id);
`

const ddlQueryIDMappings = `
CREATE TABLE IF NOT EXISTS query_id_mappings (
    query_id           UUID         PRIMARY KEY,
    original_query_id  UUID         NOT NULL,
    created_at         TIMESTAMPTZ  NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_query_id_mappings_original_id
    ON query_id_mappings (original_query_id);
`

// ddlVectorEntries is parameterized on the embedding dimension.
const ddlVectorEntries = `
CREATE TABLE IF NOT EXISTS vector_entries (
    collection  TEXT         NOT NULL,
    id          TEXT         NOT NULL,
    embedding   vector(%d)   NOT NULL,
    metadata    JSONB        NOT NULL DEFAULT '{}',
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    updated_at  TIMESTAMPTZ  NOT NULL DEFAULT now(),
    PRIMARY KEY (collection, id)
);

CREATE INDEX IF NOT EXISTS idx_vector_entries_embedding
    ON vector_entries USING hnsw (embedding vector_cosine_ops);
`

const ddlAPIMetrics = `
CREATE TABLE IF NOT EXISTS api_metrics (
    id                      BIGSERIAL        PRIMARY KEY,
    query_id                UUID             NOT NULL,
    request_id              TEXT             NOT NULL DEFAULT '',
    natural_query           TEXT             NOT NULL DEFAULT '',
    cache_status            TEXT             NOT NULL DEFAULT 'miss',
    success                 BOOLEAN          NOT NULL DEFAULT false,
    row_count               INTEGER          NOT NULL DEFAULT 0,
    execution_time_ms       DOUBLE PRECISION NOT NULL DEFAULT 0,
    total_time_ms           DOUBLE PRECISION NOT NULL DEFAULT 0,
    prompt_tokens           INTEGER          NOT NULL DEFAULT 0,
    completion_tokens       INTEGER          NOT NULL DEFAULT 0,
    total_tokens            INTEGER          NOT NULL DEFAULT 0,
    full_schema_tables      INTEGER          NOT NULL DEFAULT 0,
    selected_schema_tables  INTEGER          NOT NULL DEFAULT 0,
    stage_timings           JSONB            NOT NULL DEFAULT '{}',
    system_prompt           TEXT             NOT NULL DEFAULT '',
    user_prompt             TEXT             NOT NULL DEFAULT '',
    created_at              TIMESTAMPTZ      NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_api_metrics_query_id
    ON api_metrics (query_id);

CREATE INDEX IF NOT EXISTS idx_api_metrics_created_at
    ON api_metrics (created_at);
`

// Migrate creates the vector extension and all pipeline tables if they do
// not exist. Safe to run repeatedly.
func Migrate(ctx context.Context, pool *pgxpool.Pool, embeddingDimensions int) error {
	if embeddingDimensions <= 0 {
		return fmt.Errorf("querystore migrate: embeddingDimensions must be positive, got %d", embeddingDimensions)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("querystore migrate: create vector extension: %w", err)
	}

	statements := []string{
		ddlQueryCache,
		ddlQueryIDMappings,
		fmt.Sprintf(ddlVectorEntries, embeddingDimensions),
		ddlAPIMetrics,
	}
	for _, ddl := range statements {
		if _, err := pool.Exec(ctx, ddl); err != nil {
			return fmt.Errorf("querystore migrate: %w", err)
		}
	}
	return nil
}
