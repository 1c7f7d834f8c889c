package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/MrWong99/askdb/pkg/querystore"
)

// VectorStoreImpl implements [querystore.VectorStore] on the vector_entries
// table with a pgvector HNSW index for approximate nearest-neighbour search.
// Obtain one via [Store.Vectors].
type VectorStoreImpl struct {
	pool *pgxpool.Pool
}

// Upsert implements [querystore.VectorStore].
func (s *VectorStoreImpl) Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]any) error {
	const q = `
		INSERT INTO vector_entries (collection, id, embedding, metadata)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (collection, id) DO UPDATE SET
		    embedding  = EXCLUDED.embedding,
		    metadata   = EXCLUDED.metadata,
		    updated_at = now()`

	_, err := s.pool.Exec(ctx, q, collection, id, pgvector.NewVector(embedding), metadata)
	if err != nil {
		return fmt.Errorf("vector store: upsert %s/%s: %w", collection, id, err)
	}
	return nil
}

// Query implements [querystore.VectorStore]. Results are ordered by
// ascending cosine distance (most similar first).
func (s *VectorStoreImpl) Query(ctx context.Context, collection string, embedding []float32, k int, filter map[string]any) ([]querystore.VectorHit, error) {
	if k <= 0 {
		k = 1
	}

	args := []any{pgvector.NewVector(embedding), collection}
	conditions := []string{"collection = $2"}
	for key, value := range filter {
		args = append(args, key, fmt.Sprint(value))
		conditions = append(conditions, fmt.Sprintf("metadata->>$%d = $%d", len(args)-1, len(args)))
	}
	args = append(args, k)

	q := fmt.Sprintf(`
		SELECT id, metadata, embedding <=> $1 AS distance
		FROM   vector_entries
		WHERE  %s
		ORDER  BY distance
		LIMIT  $%d`, strings.Join(conditions, "\n  AND "), len(args))

	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("vector store: query %s: %w", collection, err)
	}

	hits, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (querystore.VectorHit, error) {
		var hit querystore.VectorHit
		if err := row.Scan(&hit.ID, &hit.Metadata, &hit.Distance); err != nil {
			return querystore.VectorHit{}, err
		}
		return hit, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	return hits, nil
}

// Get implements [querystore.VectorStore].
func (s *VectorStoreImpl) Get(ctx context.Context, collection, id string) (map[string]any, error) {
	const q = `SELECT metadata FROM vector_entries WHERE collection = $1 AND id = $2`

	var metadata map[string]any
	err := s.pool.QueryRow(ctx, q, collection, id).Scan(&metadata)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("vector store: get %s/%s: %w", collection, id, err)
	}
	return metadata, nil
}

// Update implements [querystore.VectorStore].
func (s *VectorStoreImpl) Update(ctx context.Context, collection, id string, metadata map[string]any) error {
	const q = `
		UPDATE vector_entries
		SET    metadata = $3, updated_at = now()
		WHERE  collection = $1 AND id = $2`

	if _, err := s.pool.Exec(ctx, q, collection, id, metadata); err != nil {
		return fmt.Errorf("vector store: update %s/%s: %w", collection, id, err)
	}
	return nil
}

// List implements [querystore.VectorStore].
func (s *VectorStoreImpl) List(ctx context.Context, collection string) ([]querystore.VectorRecord, error) {
	const q = `SELECT id, embedding, metadata FROM vector_entries WHERE collection = $1`

	rows, err := s.pool.Query(ctx, q, collection)
	if err != nil {
		return nil, fmt.Errorf("vector store: list %s: %w", collection, err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (querystore.VectorRecord, error) {
		var (
			rec querystore.VectorRecord
			vec pgvector.Vector
		)
		if err := row.Scan(&rec.ID, &vec, &rec.Metadata); err != nil {
			return querystore.VectorRecord{}, err
		}
		rec.Embedding = vec.Slice()
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("vector store: scan rows: %w", err)
	}
	return records, nil
}
