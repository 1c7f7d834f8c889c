package prompt

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// cacheSimilarityThreshold is the minimum semantic similarity for a cached
// prompt to be reused.
const cacheSimilarityThreshold = 0.85

// Cache reuses assembled system prompts across semantically similar queries.
// Entries carry the schema fingerprint they were built against; a changed
// schema never serves a stale prompt because lookups filter on the current
// fingerprint.
type Cache struct {
	embedder embeddings.Provider
	vectors  querystore.VectorStore
}

// NewCache creates a prompt cache backed by the given embedder and store.
func NewCache(embedder embeddings.Provider, vectors querystore.VectorStore) *Cache {
	return &Cache{embedder: embedder, vectors: vectors}
}

// Lookup searches for a cached prompt matching query under the given schema
// fingerprint. On a miss the computed query embedding is still returned so
// Store can reuse it. A lookup failure is reported as an error; callers
// treat it as a miss.
func (c *Cache) Lookup(ctx context.Context, query, fingerprint string) (prompt string, embedding []float32, err error) {
	normalized := embeddings.Normalize(query)
	embedding, err = c.embedder.Embed(ctx, normalized)
	if err != nil {
		return "", nil, fmt.Errorf("prompt: embed query: %w", err)
	}

	hits, err := c.vectors.Query(ctx, querystore.CollectionPromptCache, embedding, 1,
		map[string]any{"schema_fingerprint": fingerprint})
	if err != nil {
		return "", embedding, fmt.Errorf("prompt: cache lookup: %w", err)
	}
	if len(hits) == 0 {
		return "", embedding, nil
	}

	if sim := hits[0].Similarity(); sim >= cacheSimilarityThreshold {
		cached, _ := hits[0].Metadata["prompt"].(string)
		if cached != "" {
			slog.Info("prompt cache hit", "similarity", sim)
			return cached, embedding, nil
		}
	}
	return "", embedding, nil
}

// Store caches an assembled prompt under the query's embedding and the
// schema fingerprint. embedding may be nil, in which case it is recomputed.
func (c *Cache) Store(ctx context.Context, query, prompt, fingerprint string, embedding []float32) error {
	normalized := embeddings.Normalize(query)
	if embedding == nil {
		var err error
		embedding, err = c.embedder.Embed(ctx, normalized)
		if err != nil {
			return fmt.Errorf("prompt: embed query: %w", err)
		}
	}

	id := "prompt:" + querystore.VectorID(normalized) + ":" + fingerprint
	err := c.vectors.Upsert(ctx, querystore.CollectionPromptCache, id, embedding, map[string]any{
		"query":              query,
		"prompt":             prompt,
		"schema_fingerprint": fingerprint,
	})
	if err != nil {
		return fmt.Errorf("prompt: cache store: %w", err)
	}
	return nil
}
