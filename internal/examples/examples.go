// Package examples retrieves few-shot examples for prompt construction.
// Curated question/SQL pairs live in the query_examples vector collection;
// retrieval ranks them by embedding similarity to the incoming query,
// sharpened by a query-type boost and a table-overlap filter.
package examples

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// Known query types, inferred from question phrasing.
const (
	TypeCountAggregate       = "count_aggregate"
	TypeBooleanCheck         = "boolean_check"
	TypeVerificationCheck    = "verification_check"
	TypeComparativeCount     = "comparative_count"
	TypeAnalyticalPercentage = "analytical_percentage"
	TypeComplexAggregate     = "complex_aggregate"
	TypeRetrieval            = "retrieval"
	TypeDirectLookup         = "direct_lookup"
	TypeGeneral              = "general"
)

// Example is one curated question with its known-good SQL.
type Example struct {
	ID               string
	NaturalQuery     string
	SQL              string
	Explanation      string
	Tables           []string
	BusinessConcepts []string
	QueryType        string

	// Similarity is set on retrieval, boost included.
	Similarity float64
}

// RetrieverConfig tunes example retrieval. Zero values are replaced with
// reference defaults by NewRetriever.
type RetrieverConfig struct {
	// TopK is the maximum number of examples returned. Default 2.
	TopK int

	// SimilarityThreshold is the minimum boosted similarity. Default 0.7.
	SimilarityThreshold float64

	// TypeMatchBoost is added when the example's stored query type matches
	// the type inferred from the incoming query. Default 0.1.
	TypeMatchBoost float64

	// AdaptiveFloor is the lowest the adaptive fallback threshold may drop.
	// Default 0.5, stricter than schema selection since a wrong example
	// misleads the model more than an extra table does.
	AdaptiveFloor float64
}

// Retriever finds examples similar to an incoming query.
type Retriever struct {
	embedder embeddings.Provider
	vectors  querystore.VectorStore
	cfg      RetrieverConfig
}

// NewRetriever creates a Retriever backed by the given embedder and store.
func NewRetriever(embedder embeddings.Provider, vectors querystore.VectorStore, cfg RetrieverConfig) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = 2
	}
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.7
	}
	if cfg.TypeMatchBoost == 0 {
		cfg.TypeMatchBoost = 0.1
	}
	if cfg.AdaptiveFloor == 0 {
		cfg.AdaptiveFloor = 0.5
	}
	return &Retriever{embedder: embedder, vectors: vectors, cfg: cfg}
}

// FindSimilar returns up to TopK examples similar to query, most similar
// first. When tables is non-empty, only examples touching at least one of
// those tables qualify. No qualifying example is not an error; the result is
// simply empty.
func (r *Retriever) FindSimilar(ctx context.Context, query string, tables []string) ([]Example, error) {
	queryVec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("examples: embed query: %w", err)
	}

	// Over-fetch when a table filter applies, since the filter is evaluated
	// here rather than in the store.
	k := r.cfg.TopK
	if len(tables) > 0 {
		k *= 3
	}
	hits, err := r.vectors.Query(ctx, querystore.CollectionQueryExamples, queryVec, k, map[string]any{"is_example": true})
	if err != nil {
		return nil, fmt.Errorf("examples: search: %w", err)
	}

	queryType := InferQueryType(query)

	candidates := make([]Example, 0, len(hits))
	for _, hit := range hits {
		ex := fromMetadata(hit.ID, hit.Metadata)
		ex.Similarity = hit.Similarity()
		if ex.QueryType == queryType {
			ex.Similarity += r.cfg.TypeMatchBoost
		}
		if len(tables) > 0 && !overlaps(ex.Tables, tables) {
			continue
		}
		candidates = append(candidates, ex)
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].Similarity > candidates[j].Similarity })

	selected := takeAbove(candidates, r.cfg.SimilarityThreshold, r.cfg.TopK)

	if len(selected) == 0 && len(candidates) > 0 {
		adaptive := max(r.cfg.AdaptiveFloor, candidates[0].Similarity*0.8)
		if adaptive < r.cfg.SimilarityThreshold {
			slog.Info("using adaptive threshold for example selection",
				"threshold", adaptive)
			selected = takeAbove(candidates, adaptive, r.cfg.TopK)
		}
	}

	if len(selected) == 0 {
		slog.Debug("no examples above threshold",
			"threshold", r.cfg.SimilarityThreshold, "query_type", queryType)
	}
	return selected, nil
}

func takeAbove(candidates []Example, threshold float64, limit int) []Example {
	var out []Example
	for _, ex := range candidates {
		if ex.Similarity < threshold {
			break
		}
		out = append(out, ex)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		for _, y := range b {
			if x == y {
				return true
			}
		}
	}
	return false
}

func fromMetadata(id string, md map[string]any) Example {
	return Example{
		ID:               id,
		NaturalQuery:     metaString(md, "natural_query"),
		SQL:              metaString(md, "generated_sql"),
		Explanation:      metaString(md, "explanation"),
		Tables:           metaStrings(md, "tables"),
		BusinessConcepts: metaStrings(md, "business_concepts"),
		QueryType:        metaString(md, "query_type"),
	}
}

func metaString(md map[string]any, key string) string {
	s, _ := md[key].(string)
	return s
}

// metaStrings tolerates both []string (in-memory stores) and []any (values
// round-tripped through JSONB).
func metaStrings(md map[string]any, key string) []string {
	switch v := md[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, e := range v {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// InferQueryType classifies a question by phrasing alone. It is deliberately
// cheap; the classification only nudges example ranking and prompt guidance.
func InferQueryType(query string) string {
	q := strings.ToLower(query)

	if (strings.Contains(q, "active") && strings.Contains(q, "eligibility")) || strings.Contains(q, "effective_range") {
		if containsAny(q, "how many", "count", "number") {
			return TypeCountAggregate
		}
		return TypeBooleanCheck
	}

	if containsAny(q, "enrolled", "verified", "verification") {
		if containsAny(q, "how many", "count", "number") {
			return TypeCountAggregate
		}
		return TypeVerificationCheck
	}

	switch {
	case containsAny(q, "how many", "count", "total", "number of"):
		return TypeCountAggregate
	case containsAny(q, "compare", "versus", "vs", "difference between", "percentage"):
		if strings.Contains(q, "rate") {
			return TypeAnalyticalPercentage
		}
		return TypeComparativeCount
	case containsAny(q, "list", "show", "display", "all", "find"):
		if strings.Contains(q, "overeligible") {
			return TypeComplexAggregate
		}
		return TypeRetrieval
	case containsAny(q, "is ", "has ", "does ", "check if"):
		return TypeBooleanCheck
	case strings.Contains(q, "overeligible"):
		return TypeBooleanCheck
	}
	return TypeGeneral
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
