// Package embeddings defines the Provider interface for text-embedding
// backends.
//
// The query pipeline uses embeddings in three places: the semantic query
// cache, schema relevance selection, and few-shot example retrieval. All of
// them compare vectors by cosine similarity, so every vector compared must
// come from the same model.
//
// Implementations must be safe for concurrent use.
package embeddings

import (
	"context"
	"strings"
)

// Provider is the abstraction over any text-embedding backend.
//
// All vectors returned by a single Provider instance share the same
// dimensionality (returned by Dimensions). Vectors from different Provider
// instances must not be mixed in the same similarity computation.
type Provider interface {
	// Embed computes the embedding vector for a single text string. Returns a
	// float32 slice of length Dimensions() or an error if the request fails
	// or ctx is cancelled.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch computes embedding vectors for a slice of texts in a single
	// provider call. The returned slice has the same length as texts, with
	// the i-th element corresponding to texts[i]. On error the entire result
	// is nil; partial results are not returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions returns the fixed length of every vector produced by this
	// provider, determined by the underlying model.
	Dimensions() int

	// ModelID returns the provider-specific model identifier
	// (e.g. "text-embedding-3-small"), used for logging and for keeping
	// stored vectors consistent across restarts.
	ModelID() string
}

// Normalize canonicalizes free text for use as a cache key: lowercased with
// runs of whitespace collapsed to single spaces. Queries are embedded in
// their original form to preserve semantic nuance; Normalize is only for
// exact-match keys and selection-cache keys.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}
