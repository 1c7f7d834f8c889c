// Package mock provides in-memory querystore implementations for tests.
// The vector store computes real cosine distances so similarity-threshold
// behaviour can be exercised without a database.
package mock

import (
	"context"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/pkg/querystore"
)

var (
	_ querystore.ExactCache      = (*ExactCache)(nil)
	_ querystore.VectorStore     = (*VectorStore)(nil)
	_ querystore.IDMappings      = (*IDMappings)(nil)
	_ querystore.MetricsRecorder = (*MetricsRecorder)(nil)
)

// ExactCache is an in-memory exact-match cache. Set any of the Err fields to
// inject a failure for the corresponding operation.
type ExactCache struct {
	mu      sync.Mutex
	entries map[string]*querystore.CacheEntry

	LookupErr error
	StoreErr  error
	TouchErr  error
}

// NewExactCache creates an empty in-memory exact cache.
func NewExactCache() *ExactCache {
	return &ExactCache{entries: make(map[string]*querystore.CacheEntry)}
}

// Lookup implements querystore.ExactCache.
func (c *ExactCache) Lookup(_ context.Context, normalizedQuery string) (*querystore.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LookupErr != nil {
		return nil, c.LookupErr
	}
	e, ok := c.entries[normalizedQuery]
	if !ok {
		return nil, nil
	}
	cp := *e
	return &cp, nil
}

// Touch implements querystore.ExactCache.
func (c *ExactCache) Touch(_ context.Context, normalizedQuery string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.TouchErr != nil {
		return c.TouchErr
	}
	if e, ok := c.entries[normalizedQuery]; ok {
		e.UsageCount++
		e.LastUsed = time.Now()
	}
	return nil
}

// Store implements querystore.ExactCache.
func (c *ExactCache) Store(_ context.Context, entry querystore.CacheEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.StoreErr != nil {
		return c.StoreErr
	}
	if existing, ok := c.entries[entry.NaturalQuery]; ok {
		entry.UsageCount = existing.UsageCount + 1
		entry.CreatedAt = existing.CreatedAt
	} else {
		entry.UsageCount = 1
		entry.CreatedAt = time.Now()
	}
	entry.LastUsed = time.Now()
	c.entries[entry.NaturalQuery] = &entry
	return nil
}

// GetByQueryID implements querystore.ExactCache.
func (c *ExactCache) GetByQueryID(_ context.Context, queryID uuid.UUID) (*querystore.CacheEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.LookupErr != nil {
		return nil, c.LookupErr
	}
	for _, e := range c.entries {
		if e.QueryID == queryID {
			cp := *e
			return &cp, nil
		}
	}
	return nil, nil
}

// Len returns the number of stored entries.
func (c *ExactCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

type vectorEntry struct {
	embedding []float32
	metadata  map[string]any
}

// VectorStore is an in-memory vector store using exact cosine distance.
type VectorStore struct {
	mu          sync.Mutex
	collections map[string]map[string]vectorEntry

	UpsertErr error
	QueryErr  error
}

// NewVectorStore creates an empty in-memory vector store.
func NewVectorStore() *VectorStore {
	return &VectorStore{collections: make(map[string]map[string]vectorEntry)}
}

// Upsert implements querystore.VectorStore.
func (s *VectorStore) Upsert(_ context.Context, collection, id string, embedding []float32, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.UpsertErr != nil {
		return s.UpsertErr
	}
	coll, ok := s.collections[collection]
	if !ok {
		coll = make(map[string]vectorEntry)
		s.collections[collection] = coll
	}
	coll[id] = vectorEntry{embedding: append([]float32(nil), embedding...), metadata: cloneMeta(metadata)}
	return nil
}

// Query implements querystore.VectorStore.
func (s *VectorStore) Query(_ context.Context, collection string, embedding []float32, k int, filter map[string]any) ([]querystore.VectorHit, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	if k <= 0 {
		k = 1
	}

	var hits []querystore.VectorHit
	for id, e := range s.collections[collection] {
		if !matchesFilter(e.metadata, filter) {
			continue
		}
		hits = append(hits, querystore.VectorHit{
			ID:       id,
			Metadata: cloneMeta(e.metadata),
			Distance: cosineDistance(embedding, e.embedding),
		})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].Distance < hits[j].Distance })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Get implements querystore.VectorStore.
func (s *VectorStore) Get(_ context.Context, collection, id string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.collections[collection][id]
	if !ok {
		return nil, nil
	}
	return cloneMeta(e.metadata), nil
}

// List implements querystore.VectorStore.
func (s *VectorStore) List(_ context.Context, collection string) ([]querystore.VectorRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.QueryErr != nil {
		return nil, s.QueryErr
	}
	var records []querystore.VectorRecord
	for id, e := range s.collections[collection] {
		records = append(records, querystore.VectorRecord{
			ID:        id,
			Embedding: append([]float32(nil), e.embedding...),
			Metadata:  cloneMeta(e.metadata),
		})
	}
	return records, nil
}

// Update implements querystore.VectorStore.
func (s *VectorStore) Update(_ context.Context, collection, id string, metadata map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.collections[collection][id]; ok {
		e.metadata = cloneMeta(metadata)
		s.collections[collection][id] = e
	}
	return nil
}

// Count returns the number of entries in collection.
func (s *VectorStore) Count(collection string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.collections[collection])
}

// IDMappings is an in-memory mapping table.
type IDMappings struct {
	mu       sync.Mutex
	mappings map[uuid.UUID]uuid.UUID

	MapErr error
}

// NewIDMappings creates an empty in-memory mapping table.
func NewIDMappings() *IDMappings {
	return &IDMappings{mappings: make(map[uuid.UUID]uuid.UUID)}
}

// Map implements querystore.IDMappings.
func (m *IDMappings) Map(_ context.Context, newID, originalID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.MapErr != nil {
		return m.MapErr
	}
	if newID != originalID {
		m.mappings[newID] = originalID
	}
	return nil
}

// Resolve implements querystore.IDMappings.
func (m *IDMappings) Resolve(_ context.Context, id uuid.UUID) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current := id
	for range 8 {
		next, ok := m.mappings[current]
		if !ok {
			return current, nil
		}
		current = next
	}
	return current, nil
}

// Len returns the number of mapping rows.
func (m *IDMappings) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.mappings)
}

// MetricsRecorder collects recorded metrics in memory.
type MetricsRecorder struct {
	mu       sync.Mutex
	recorded []querystore.QueryMetrics

	RecordErr error
}

// Record implements querystore.MetricsRecorder.
func (r *MetricsRecorder) Record(_ context.Context, m querystore.QueryMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.RecordErr != nil {
		return r.RecordErr
	}
	r.recorded = append(r.recorded, m)
	return nil
}

// Recorded returns a copy of all metrics recorded so far.
func (r *MetricsRecorder) Recorded() []querystore.QueryMetrics {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]querystore.QueryMetrics(nil), r.recorded...)
}

func cosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(normA)*math.Sqrt(normB))
}

func matchesFilter(metadata, filter map[string]any) bool {
	for k, want := range filter {
		got, ok := metadata[k]
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cloneMeta(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
