// Package querystore defines the persistent state contract for the query
// pipeline: the exact-match relational cache, the semantic vector store, the
// query-ID mapping table, and the per-request metrics sink.
//
// The two cache tiers are deliberately independent stores with no
// transactional link. Availability wins over consistency: a write to one may
// fail without failing the other, and duplicated writes from concurrent
// misses are resolved by upsert semantics at the storage layer. The
// TwoTierWriter type makes that invariant explicit by attempting both writes
// and reporting partial success instead of swallowing a failure.
//
// Implementations must be safe for concurrent use.
package querystore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
)

// Vector collection names. All collections live in the same vector store but
// are searched independently.
const (
	// CollectionQueryCache holds embeddings of previously answered queries,
	// the semantic tier of the query cache.
	CollectionQueryCache = "query_cache"

	// CollectionSchemaEmbeddings holds one embedding per table, built from
	// the table's descriptive text.
	CollectionSchemaEmbeddings = "schema_embeddings"

	// CollectionQueryExamples holds the curated few-shot example corpus.
	CollectionQueryExamples = "query_examples"

	// CollectionPromptCache holds assembled system prompts keyed by schema
	// fingerprint.
	CollectionPromptCache = "prompt_cache"
)

// CacheEntry is one row of the exact-match cache, keyed on the normalized
// query text.
type CacheEntry struct {
	// NaturalQuery is the normalized (lowercased, whitespace-collapsed)
	// query text. Unique per entry.
	NaturalQuery string

	// SQL is the generated statement served on a hit.
	SQL string

	// Explanation is the cached result explanation, empty when none exists.
	// The placeholder "no explanation available" must never be stored.
	Explanation string

	// ExecutionTimeMs records how long the SQL took when first executed.
	ExecutionTimeMs float64

	// QueryID is the id of the request that created this entry. It is the
	// join key into the vector store, the mapping table, and metrics.
	QueryID uuid.UUID

	// UsageCount is incremented on every hit.
	UsageCount int64

	// LastUsed is refreshed on every hit.
	LastUsed time.Time

	// CreatedAt is set on first insert.
	CreatedAt time.Time
}

// ExactCache is the relational exact-match tier.
type ExactCache interface {
	// Lookup returns the entry stored under the normalized query text, or
	// (nil, nil) on a miss.
	Lookup(ctx context.Context, normalizedQuery string) (*CacheEntry, error)

	// Touch increments the usage counter and refreshes the last-used
	// timestamp for the entry under normalizedQuery.
	Touch(ctx context.Context, normalizedQuery string) error

	// Store upserts entry keyed on NaturalQuery. A conflicting concurrent
	// write wins by last-writer semantics.
	Store(ctx context.Context, entry CacheEntry) error

	// GetByQueryID returns the entry created by the given request id, or
	// (nil, nil) when none exists.
	GetByQueryID(ctx context.Context, queryID uuid.UUID) (*CacheEntry, error)
}

// IDMappings persists newer-query-id → original-query-id links so that
// explanation retrieval for a request served from cache resolves to the
// entry that actually holds the explanation.
type IDMappings interface {
	// Map records that newID was answered by the cache entry owned by
	// originalID.
	Map(ctx context.Context, newID, originalID uuid.UUID) error

	// Resolve follows the mapping chain from id and returns the terminal
	// query id. An unmapped id resolves to itself.
	Resolve(ctx context.Context, id uuid.UUID) (uuid.UUID, error)
}

// VectorHit is one nearest-neighbour result. Distance is the store's cosine
// distance; similarity is 1 − Distance.
type VectorHit struct {
	ID       string
	Metadata map[string]any
	Distance float64
}

// Similarity converts the hit's cosine distance to a similarity score.
func (h VectorHit) Similarity() float64 { return 1 - h.Distance }

// VectorRecord is a full stored entry, embedding included. Returned by List
// for consumers that keep an in-process copy of a whole collection.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Metadata  map[string]any
}

// VectorStore is the semantic tier: named collections of embeddings with
// JSON metadata, searched by cosine distance.
type VectorStore interface {
	// Upsert inserts or fully replaces the entry id in collection.
	Upsert(ctx context.Context, collection, id string, embedding []float32, metadata map[string]any) error

	// Query returns the k nearest entries to embedding in collection,
	// ordered by ascending distance. filter, when non-nil, restricts matches
	// to entries whose metadata contains every given key/value pair.
	Query(ctx context.Context, collection string, embedding []float32, k int, filter map[string]any) ([]VectorHit, error)

	// Get returns the metadata stored under id in collection, or (nil, nil)
	// when absent.
	Get(ctx context.Context, collection, id string) (map[string]any, error)

	// Update replaces the metadata of an existing entry, leaving its
	// embedding untouched. Updating an absent entry is a no-op.
	Update(ctx context.Context, collection, id string, metadata map[string]any) error

	// List returns every entry in collection, embeddings included, in no
	// particular order.
	List(ctx context.Context, collection string) ([]VectorRecord, error)
}

// QueryMetrics is the per-request observability record persisted by the
// orchestrator regardless of outcome.
type QueryMetrics struct {
	QueryID          uuid.UUID
	RequestID        string
	NaturalQuery     string
	CacheStatus      string
	Success          bool
	RowCount         int
	ExecutionTimeMs  float64
	TotalTimeMs      float64
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	FullSchemaTables int
	SelectedTables   int
	StageTimingsMs   map[string]float64
	SystemPrompt     string
	UserPrompt       string
}

// MetricsRecorder persists QueryMetrics rows.
type MetricsRecorder interface {
	Record(ctx context.Context, m QueryMetrics) error
}

// VectorID derives the deterministic vector-store id for a normalized query
// text, so that repeated stores of the same text update one entry.
func VectorID(normalizedQuery string) string {
	sum := sha256.Sum256([]byte(normalizedQuery))
	return hex.EncodeToString(sum[:16])
}
