package schema

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/askdb/internal/ttlcache"
)

// Introspector reads table, column, and foreign-key structure from
// information_schema. Results are cached in-process with a TTL so that
// repeated pipeline runs do not re-introspect on every query; redundant
// refreshes under concurrent misses are harmless.
type Introspector struct {
	pool  *pgxpool.Pool
	cache *ttlcache.Cache[string, Info]
}

// NewIntrospector creates an Introspector over pool whose snapshots stay
// valid for ttl.
func NewIntrospector(pool *pgxpool.Pool, ttl time.Duration) *Introspector {
	return &Introspector{
		pool:  pool,
		cache: ttlcache.New[string, Info](16, ttl),
	}
}

// Introspect returns the structure of every base table in schemaName,
// serving from the TTL cache when a fresh snapshot exists.
func (in *Introspector) Introspect(ctx context.Context, schemaName string) (Info, error) {
	if info, ok := in.cache.Get(schemaName); ok {
		return info, nil
	}

	info, err := in.introspect(ctx, schemaName)
	if err != nil {
		return nil, err
	}
	in.cache.Put(schemaName, info)
	return info, nil
}

// Invalidate drops the cached snapshot for schemaName, forcing the next
// Introspect call to hit the database.
func (in *Introspector) Invalidate(schemaName string) {
	in.cache.Evict(schemaName)
}

func (in *Introspector) introspect(ctx context.Context, schemaName string) (Info, error) {
	tables, err := in.tableNames(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	fks, err := in.foreignKeys(ctx, schemaName)
	if err != nil {
		return nil, err
	}

	info := make(Info, len(tables))
	for _, name := range tables {
		cols, err := in.columns(ctx, schemaName, name)
		if err != nil {
			return nil, err
		}
		info[name] = Table{Columns: cols, ForeignKeys: fks[name]}
	}
	return info, nil
}

func (in *Introspector) tableNames(ctx context.Context, schemaName string) ([]string, error) {
	const q = `
		SELECT table_name
		FROM   information_schema.tables
		WHERE  table_schema = $1
		  AND  table_type = 'BASE TABLE'
		ORDER  BY table_name`

	rows, err := in.pool.Query(ctx, q, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: list tables in %q: %w", schemaName, err)
	}
	names, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("schema: scan table names: %w", err)
	}
	return names, nil
}

func (in *Introspector) columns(ctx context.Context, schemaName, tableName string) ([]Column, error) {
	const q = `
		SELECT column_name, data_type, is_nullable, COALESCE(column_default, '')
		FROM   information_schema.columns
		WHERE  table_schema = $1 AND table_name = $2
		ORDER  BY ordinal_position`

	rows, err := in.pool.Query(ctx, q, schemaName, tableName)
	if err != nil {
		return nil, fmt.Errorf("schema: columns of %s.%s: %w", schemaName, tableName, err)
	}
	cols, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Column, error) {
		var (
			c        Column
			nullable string
		)
		if err := row.Scan(&c.Name, &c.Type, &nullable, &c.Default); err != nil {
			return Column{}, err
		}
		c.Nullable = nullable == "YES"
		return c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("schema: scan columns: %w", err)
	}
	return cols, nil
}

// foreignKeys gathers all foreign keys of the schema in a single query,
// grouped by owning table.
func (in *Introspector) foreignKeys(ctx context.Context, schemaName string) (map[string][]ForeignKey, error) {
	const q = `
		SELECT DISTINCT
		       tc.table_name,
		       kcu.column_name,
		       ccu.table_name  AS foreign_table_name,
		       ccu.column_name AS foreign_column_name
		FROM   information_schema.table_constraints AS tc
		JOIN   information_schema.key_column_usage AS kcu
		       ON tc.constraint_name = kcu.constraint_name
		      AND tc.table_schema = kcu.table_schema
		JOIN   information_schema.constraint_column_usage AS ccu
		       ON ccu.constraint_name = tc.constraint_name
		      AND ccu.table_schema = tc.table_schema
		WHERE  tc.constraint_type = 'FOREIGN KEY'
		  AND  tc.table_schema = $1`

	rows, err := in.pool.Query(ctx, q, schemaName)
	if err != nil {
		return nil, fmt.Errorf("schema: foreign keys of %q: %w", schemaName, err)
	}
	defer rows.Close()

	fks := make(map[string][]ForeignKey)
	for rows.Next() {
		var (
			table string
			fk    ForeignKey
		)
		if err := rows.Scan(&table, &fk.Column, &fk.ForeignTable, &fk.ForeignColumn); err != nil {
			return nil, fmt.Errorf("schema: scan foreign key: %w", err)
		}
		fks[table] = append(fks[table], fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("schema: read foreign keys: %w", err)
	}
	return fks, nil
}
