package schema

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/antzucaro/matchr"
	"golang.org/x/sync/errgroup"

	"github.com/MrWong99/askdb/internal/ttlcache"
	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	"github.com/MrWong99/askdb/pkg/querystore"
)

// ScoredTable is one selector result: a table name with its relevance score.
type ScoredTable struct {
	Name  string
	Score float64
}

// SelectorConfig tunes the relevance selector. Zero values are replaced with
// reference defaults by NewSelector.
type SelectorConfig struct {
	// SimilarityThreshold is the minimum score for a table to qualify
	// without fallbacks. Default 0.5.
	SimilarityThreshold float64

	// AdaptiveFloor is the lowest the adaptive fallback threshold may drop.
	// Default 0.4.
	AdaptiveFloor float64

	// ExactMentionBoost is added when the query names the table. Default 0.3.
	ExactMentionBoost float64

	// BusinessTermBoost is added on a business-term match. Default 0.2.
	BusinessTermBoost float64

	// MaxTables caps the number of directly selected tables. Default 10.
	MaxTables int

	// SelectionTTL and SelectionCacheSize bound the query-to-tables cache.
	// Defaults 5 minutes and 100 entries.
	SelectionTTL       time.Duration
	SelectionCacheSize int

	// EmbeddingTTL bounds how long the in-process copy of the table
	// embeddings is trusted before reloading from the store. Default 1 hour.
	EmbeddingTTL time.Duration

	// IncludeRelated adds tables one foreign-key hop away from any selected
	// table. Enabled by default; set DisableRelated to turn it off.
	DisableRelated bool
}

// businessTerms maps query vocabulary to the tables that vocabulary implies.
// Terms are matched as substrings of the lowercased query.
var businessTerms = map[string][]string{
	"file":    {"file"},
	"files":   {"file"},
	"upload":  {"file"},
	"process": {"file"},

	"member":      {"member"},
	"members":     {"member"},
	"email":       {"member"},
	"emails":      {"member"},
	"eligibility": {"member"},
	"eligible":    {"member"},
	"records":     {"member"},

	"verification": {"verification", "verification_attempt", "member_verification"},
	"verify":       {"verification", "verification_attempt", "member_verification"},
	"enrolled":     {"verification", "member_verification"},
	"users":        {"verification", "member"},

	"organization": {"organization"},
	"company":      {"organization"},
	"corp":         {"organization"},

	"active":    {"member"},
	"effective": {"member"},
	"status":    {"member", "verification"},
}

// directPattern pairs a high-confidence regex with the score assigned when it
// matches. Matching any pattern bypasses embedding search entirely.
type directPattern struct {
	re    *regexp.Regexp
	score float64
}

var directPatterns = map[string][]directPattern{
	"member": {
		{regexp.MustCompile(`\bemail`), 0.95},
		{regexp.MustCompile(`\bname`), 0.85},
		{regexp.MustCompile(`\bmember`), 0.95},
		{regexp.MustCompile(`find .{0,20}\bpeople`), 0.85},
		{regexp.MustCompile(`show .{0,20}\buser`), 0.85},
	},
	"organization": {
		{regexp.MustCompile(`\bcompany`), 0.95},
		{regexp.MustCompile(`\bcorp`), 0.95},
		{regexp.MustCompile(`\borganization`), 0.95},
		{regexp.MustCompile(`\bindustries`), 0.90},
		{regexp.MustCompile(`\benterprise`), 0.90},
	},
	"verification": {
		{regexp.MustCompile(`\bverif`), 0.95},
		{regexp.MustCompile(`\benroll`), 0.95},
		{regexp.MustCompile(`\bvalid`), 0.90},
	},
}

// Selector reduces a full schema to the subset of tables relevant to a
// query. Scores come from embedding similarity between the query and each
// table's descriptive text, sharpened by deterministic boosts and a
// pattern-match short-circuit. It never selects an empty set when the schema
// has tables; when in doubt it widens towards the full schema.
type Selector struct {
	embedder embeddings.Provider
	vectors  querystore.VectorStore
	cfg      SelectorConfig

	mu          sync.Mutex
	tableVecs   map[string][]float32
	lastRefresh time.Time

	selections *ttlcache.Cache[string, []ScoredTable]
}

// NewSelector creates a Selector using embedder for similarity scoring and
// vectors as the persistent home of the per-table embeddings.
func NewSelector(embedder embeddings.Provider, vectors querystore.VectorStore, cfg SelectorConfig) *Selector {
	if cfg.SimilarityThreshold == 0 {
		cfg.SimilarityThreshold = 0.5
	}
	if cfg.AdaptiveFloor == 0 {
		cfg.AdaptiveFloor = 0.4
	}
	if cfg.ExactMentionBoost == 0 {
		cfg.ExactMentionBoost = 0.3
	}
	if cfg.BusinessTermBoost == 0 {
		cfg.BusinessTermBoost = 0.2
	}
	if cfg.MaxTables <= 0 {
		cfg.MaxTables = 10
	}
	if cfg.SelectionTTL <= 0 {
		cfg.SelectionTTL = 5 * time.Minute
	}
	if cfg.SelectionCacheSize <= 0 {
		cfg.SelectionCacheSize = 100
	}
	if cfg.EmbeddingTTL <= 0 {
		cfg.EmbeddingTTL = time.Hour
	}
	return &Selector{
		embedder:   embedder,
		vectors:    vectors,
		cfg:        cfg,
		tableVecs:  make(map[string][]float32),
		selections: ttlcache.New[string, []ScoredTable](cfg.SelectionCacheSize, cfg.SelectionTTL),
	}
}

// BuildEmbeddings embeds the descriptive text of every table in info and
// upserts the vectors into the schema_embeddings collection, replacing the
// in-process copy. Tables are embedded concurrently with a bounded group.
// Returns the number of tables processed.
func (s *Selector) BuildEmbeddings(ctx context.Context, info Info) (int, error) {
	names := info.TableNames()
	vecs := make([][]float32, len(names))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, name := range names {
		g.Go(func() error {
			text := DescribeTable(name, info[name])
			vec, err := s.embedder.Embed(gctx, text)
			if err != nil {
				return fmt.Errorf("schema: embed table %q: %w", name, err)
			}
			vecs[i] = vec
			return s.vectors.Upsert(gctx, querystore.CollectionSchemaEmbeddings, "table_"+name, vec, map[string]any{
				"table_name":  name,
				"description": text,
				"type":        "table",
			})
		})
	}
	if err := g.Wait(); err != nil {
		return 0, err
	}

	s.mu.Lock()
	s.tableVecs = make(map[string][]float32, len(names))
	for i, name := range names {
		s.tableVecs[name] = vecs[i]
	}
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	slog.Info("schema embeddings built", "tables", len(names))
	return len(names), nil
}

// Select returns the subset of info relevant to query. Selection failures
// and degenerate selections fall back to the full schema; a too-narrow
// context is worse than an oversized one.
func (s *Selector) Select(ctx context.Context, query string, info Info) Info {
	if len(info) == 0 {
		return info
	}

	scored, err := s.FindRelevantTables(ctx, query)
	if err != nil {
		slog.Warn("table selection failed, using full schema", "error", err)
		return info
	}
	if len(scored) == 0 {
		slog.Info("no relevant tables found, using full schema")
		return info
	}

	selected := make(Info, len(scored))
	for _, st := range scored {
		if t, ok := info[st.Name]; ok {
			selected[st.Name] = t
		}
	}

	s.addConceptTables(query, info, selected)

	if !s.cfg.DisableRelated {
		addRelatedTables(info, selected)
	}

	if len(selected) < 2 {
		slog.Info("selected schema is degenerate, using full schema",
			"selected", len(selected))
		return info
	}
	return selected
}

// FindRelevantTables scores every known table against query and returns the
// qualifying set, most relevant first. Results are cached per normalized
// query for a short TTL.
func (s *Selector) FindRelevantTables(ctx context.Context, query string) ([]ScoredTable, error) {
	cacheKey := embeddings.Normalize(query)
	if cached, ok := s.selections.Get(cacheKey); ok {
		return cached, nil
	}

	if direct := directMatch(query); len(direct) > 0 {
		s.selections.Put(cacheKey, direct)
		return direct, nil
	}

	if err := s.ensureEmbeddings(ctx); err != nil {
		return nil, err
	}

	queryVec, err := s.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("schema: embed query: %w", err)
	}

	queryLower := strings.ToLower(query)
	termTables := matchedBusinessTerms(queryLower)

	s.mu.Lock()
	all := make([]ScoredTable, 0, len(s.tableVecs))
	for name, vec := range s.tableVecs {
		score := cosineSimilarity(queryVec, vec)
		switch {
		case mentionsTable(queryLower, name):
			score += s.cfg.ExactMentionBoost
		case termTables[name]:
			score += s.cfg.BusinessTermBoost
		}
		all = append(all, ScoredTable{Name: name, Score: score})
	}
	s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].Score > all[j].Score })

	filtered := aboveThreshold(all, s.cfg.SimilarityThreshold)

	if len(filtered) == 0 && len(all) > 0 {
		adaptive := max(s.cfg.AdaptiveFloor, all[0].Score*0.8)
		filtered = aboveThreshold(all, adaptive)
		slog.Info("using adaptive threshold for table selection",
			"threshold", adaptive)

		if len(filtered) == 0 {
			// Force the top tables regardless of score. The selector must
			// never return an empty set when any table exists.
			n := max(2, s.cfg.MaxTables/2)
			filtered = all[:min(n, len(all))]
		}
	}

	if len(filtered) > s.cfg.MaxTables {
		filtered = filtered[:s.cfg.MaxTables]
	}

	s.selections.Put(cacheKey, filtered)
	return filtered, nil
}

// ensureEmbeddings refreshes the in-process table vectors from the store
// when missing or stale.
func (s *Selector) ensureEmbeddings(ctx context.Context) error {
	s.mu.Lock()
	fresh := len(s.tableVecs) > 0 && time.Since(s.lastRefresh) < s.cfg.EmbeddingTTL
	s.mu.Unlock()
	if fresh {
		return nil
	}

	records, err := s.vectors.List(ctx, querystore.CollectionSchemaEmbeddings)
	if err != nil {
		return fmt.Errorf("schema: load table embeddings: %w", err)
	}
	if len(records) == 0 {
		return fmt.Errorf("schema: no table embeddings stored; run BuildEmbeddings first")
	}

	vecs := make(map[string][]float32, len(records))
	for _, rec := range records {
		name, _ := rec.Metadata["table_name"].(string)
		if name == "" {
			name = strings.TrimPrefix(rec.ID, "table_")
		}
		vecs[name] = rec.Embedding
	}

	s.mu.Lock()
	s.tableVecs = vecs
	s.lastRefresh = time.Now()
	s.mu.Unlock()

	slog.Info("loaded table embeddings", "tables", len(vecs))
	return nil
}

// addConceptTables unions in tables required by detected business concepts,
// whether or not similarity scoring picked them.
func (s *Selector) addConceptTables(query string, full, selected Info) {
	queryLower := strings.ToLower(query)
	force := func(tables ...string) {
		for _, name := range tables {
			if _, ok := selected[name]; ok {
				continue
			}
			if t, ok := full[name]; ok {
				selected[name] = t
				slog.Debug("added table for business concept", "table", name)
			}
		}
	}
	orgMentioned := containsAny(queryLower, "corp", "organization", "company", "acme")

	if containsAny(queryLower, "overeligible", "overeligibility") {
		force("member", "organization")
	}
	if containsAny(queryLower, "active", "eligibility", "eligible", "effective") {
		force("member")
		if orgMentioned {
			force("organization")
		}
	}
	if containsAny(queryLower, "enrolled", "verified", "verification", "users") {
		force("member", "verification", "member_verification")
		if orgMentioned {
			force("organization")
		}
	}
	if containsAny(queryLower, "file", "files", "processed", "upload") {
		force("file")
	}
}

// addRelatedTables extends selected with tables one foreign-key hop away in
// either direction from any initially selected table.
func addRelatedTables(full, selected Info) {
	initial := make([]string, 0, len(selected))
	for name := range selected {
		initial = append(initial, name)
	}

	for _, name := range initial {
		for _, fk := range full[name].ForeignKeys {
			if _, ok := selected[fk.ForeignTable]; !ok {
				if t, exists := full[fk.ForeignTable]; exists {
					selected[fk.ForeignTable] = t
				}
			}
		}
		for other, t := range full {
			if _, ok := selected[other]; ok {
				continue
			}
			for _, fk := range t.ForeignKeys {
				if fk.ForeignTable == name {
					selected[other] = t
					break
				}
			}
		}
	}
}

// directMatch checks the high-confidence pattern table. It returns each
// matched table once with its best score.
func directMatch(query string) []ScoredTable {
	queryLower := strings.ToLower(query)

	best := make(map[string]float64)
	for table, patterns := range directPatterns {
		for _, p := range patterns {
			if p.re.MatchString(queryLower) && p.score > best[table] {
				best[table] = p.score
			}
		}
	}

	// A query about an organization's emails needs the member table too,
	// since email addresses live there.
	if _, hasOrg := best["organization"]; hasOrg && strings.Contains(queryLower, "email") {
		if _, hasMember := best["member"]; !hasMember {
			best["member"] = 0.9
		}
	}

	out := make([]ScoredTable, 0, len(best))
	for name, score := range best {
		out = append(out, ScoredTable{Name: name, Score: score})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out
}

// mentionsTable reports whether the query names the table, either literally
// or as a near-miss token within edit distance 1 (catches plurals and typos
// like "organisations" vs "organization" missing by one letter).
func mentionsTable(queryLower, table string) bool {
	if strings.Contains(queryLower, strings.ToLower(table)) {
		return true
	}
	if len(table) < 5 {
		return false
	}
	for _, word := range strings.Fields(queryLower) {
		word = strings.Trim(word, ".,;:?!'\"")
		if len(word) < 4 {
			continue
		}
		if matchr.Levenshtein(word, table) <= 1 {
			return true
		}
	}
	return false
}

func matchedBusinessTerms(queryLower string) map[string]bool {
	matched := make(map[string]bool)
	for term, tables := range businessTerms {
		if strings.Contains(queryLower, term) {
			for _, t := range tables {
				matched[t] = true
			}
		}
	}
	return matched
}

func aboveThreshold(scored []ScoredTable, threshold float64) []ScoredTable {
	var out []ScoredTable
	for _, st := range scored {
		if st.Score >= threshold {
			out = append(out, st)
		}
	}
	return out
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
