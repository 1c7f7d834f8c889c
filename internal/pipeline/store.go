package pipeline

import (
	"context"
	"log/slog"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// storeStage persists a freshly answered query into both cache tiers. It
// runs only when the lookup was a miss, which keeps usage counters
// single-writer-per-miss. Storage is best-effort; nothing here can fail the
// request.
type storeStage struct {
	writer   *querystore.TwoTierWriter
	embedder embeddings.Provider
}

func (s *storeStage) Run(ctx context.Context, pc *Context) {
	pc.StartStage("cache_storage")
	defer pc.CompleteStage("cache_storage")

	embedding := pc.QueryEmbedding
	if embedding == nil {
		vec, err := s.embedder.Embed(ctx, pc.OriginalQuery)
		if err != nil {
			pc.AddError("cache_storage", "embedding", err)
			slog.Warn("skipping cache storage, no embedding available", "query_id", pc.QueryID)
			return
		}
		embedding = vec
	}

	explanation := pc.Explanation
	if explanation == placeholderExplanation {
		// The placeholder is a non-answer; caching it would suppress real
		// explanation generation on future hits.
		explanation = ""
	}

	var executionMs float64
	if pc.Results != nil {
		executionMs = pc.Results.ExecutionTimeMs
	}

	report := s.writer.Write(ctx, querystore.CacheEntry{
		NaturalQuery:    embeddings.Normalize(pc.OriginalQuery),
		SQL:             pc.SQL,
		Explanation:     explanation,
		ExecutionTimeMs: executionMs,
		QueryID:         pc.QueryID,
	}, embedding)

	if !report.Stored() {
		pc.AddError("cache_storage", "write", report.Err())
		return
	}
	if report.Partial() {
		pc.AddError("cache_storage", "partial_write", report.Err())
	}
}
