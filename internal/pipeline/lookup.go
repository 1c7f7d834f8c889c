package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// lookupStage consults the two cache tiers: exact match on normalized text
// first, then nearest-neighbour search over the original text. Every store
// failure is absorbed as a contribution toward a miss; lookup never aborts
// the pipeline.
type lookupStage struct {
	exact    querystore.ExactCache
	vectors  querystore.VectorStore
	mappings querystore.IDMappings
	embedder embeddings.Provider

	// threshold is the minimum semantic similarity for a vector hit.
	threshold float64
}

func (s *lookupStage) Run(ctx context.Context, pc *Context) {
	pc.StartStage("cache_lookup")
	defer pc.CompleteStage("cache_lookup")

	normalized := embeddings.Normalize(pc.OriginalQuery)

	entry, err := s.exact.Lookup(ctx, normalized)
	if err != nil {
		pc.AddError("cache_lookup", "exact_lookup", err)
	}
	if entry != nil {
		if err := s.exact.Touch(ctx, normalized); err != nil {
			slog.Warn("failed to update cache usage", "error", err)
		}
		pc.SQL = entry.SQL
		pc.CacheStatus = StatusExactHit
		if pc.IncludeExplanation {
			pc.Explanation = entry.Explanation
		}
		s.mapQueryID(ctx, pc, entry.QueryID)
		slog.Info("exact cache hit", "query_id", pc.QueryID)
		return
	}

	// The original text is embedded rather than the normalized form;
	// casing and phrasing carry semantic nuance the normalization strips.
	vec, err := s.embedder.Embed(ctx, pc.OriginalQuery)
	if err != nil {
		pc.AddError("cache_lookup", "embedding", err)
		return
	}
	pc.QueryEmbedding = vec

	hits, err := s.vectors.Query(ctx, querystore.CollectionQueryCache, vec, 1, nil)
	if err != nil {
		pc.AddError("cache_lookup", "vector_search", err)
		return
	}
	if len(hits) == 0 {
		return
	}

	hit := hits[0]
	sim := hit.Similarity()
	if sim < s.threshold {
		slog.Debug("nearest cached query below threshold", "similarity", sim)
		return
	}

	sql, _ := hit.Metadata["generated_sql"].(string)
	if sql == "" {
		return
	}
	pc.SQL = sql
	pc.CacheStatus = StatusVectorHit
	if pc.IncludeExplanation {
		pc.Explanation, _ = hit.Metadata["explanation"].(string)
	}
	slog.Info("semantic cache hit", "query_id", pc.QueryID, "similarity", sim)

	s.touchVectorEntry(ctx, hit)

	if idStr, ok := hit.Metadata["query_id"].(string); ok {
		if originalID, err := uuid.Parse(idStr); err == nil {
			s.mapQueryID(ctx, pc, originalID)
		}
	}
}

// mapQueryID links this request's id to the id that owns the cache entry so
// explanation retrieval resolves to the entry holding the text.
func (s *lookupStage) mapQueryID(ctx context.Context, pc *Context, originalID uuid.UUID) {
	if originalID == uuid.Nil || originalID == pc.QueryID {
		return
	}
	if err := s.mappings.Map(ctx, pc.QueryID, originalID); err != nil {
		pc.AddError("cache_lookup", "id_mapping", err)
	}
}

// touchVectorEntry bumps the usage metadata of a vector-tier hit.
// Best-effort; the hit already happened.
func (s *lookupStage) touchVectorEntry(ctx context.Context, hit querystore.VectorHit) {
	md := make(map[string]any, len(hit.Metadata))
	for k, v := range hit.Metadata {
		md[k] = v
	}
	md["usage_count"] = usageCount(hit.Metadata) + 1
	md["last_used"] = time.Now().UTC().Format(time.RFC3339)
	if err := s.vectors.Update(ctx, querystore.CollectionQueryCache, hit.ID, md); err != nil {
		slog.Warn("failed to update vector cache usage", "error", err)
	}
}

// usageCount tolerates the numeric types a JSONB round trip produces.
func usageCount(md map[string]any) int64 {
	switch v := md["usage_count"].(type) {
	case int64:
		return v
	case int:
		return int64(v)
	case float64:
		return int64(v)
	}
	return 0
}
