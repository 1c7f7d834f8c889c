package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxResolveDepth bounds mapping-chain traversal so a cyclic or very deep
// chain cannot loop forever.
const maxResolveDepth = 8

// IDMappingsImpl implements [querystore.IDMappings] on the
// query_id_mappings table. Obtain one via [Store.Mappings].
type IDMappingsImpl struct {
	pool *pgxpool.Pool
}

// Map implements [querystore.IDMappings]. Re-mapping an already mapped id
// overwrites the previous link.
func (m *IDMappingsImpl) Map(ctx context.Context, newID, originalID uuid.UUID) error {
	if newID == originalID {
		return nil
	}

	const q = `
		INSERT INTO query_id_mappings (query_id, original_query_id)
		VALUES ($1, $2)
		ON CONFLICT (query_id) DO UPDATE SET
		    original_query_id = EXCLUDED.original_query_id`

	if _, err := m.pool.Exec(ctx, q, newID, originalID); err != nil {
		return fmt.Errorf("id mappings: map %s -> %s: %w", newID, originalID, err)
	}
	return nil
}

// Resolve implements [querystore.IDMappings].
func (m *IDMappingsImpl) Resolve(ctx context.Context, id uuid.UUID) (uuid.UUID, error) {
	const q = `SELECT original_query_id FROM query_id_mappings WHERE query_id = $1`

	current := id
	for range maxResolveDepth {
		var next uuid.UUID
		err := m.pool.QueryRow(ctx, q, current).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return current, nil
		}
		if err != nil {
			return uuid.Nil, fmt.Errorf("id mappings: resolve %s: %w", id, err)
		}
		if next == current {
			return current, nil
		}
		current = next
	}
	return current, nil
}
