package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/internal/examples"
	"github.com/MrWong99/askdb/internal/prompt"
	"github.com/MrWong99/askdb/internal/schema"
	"github.com/MrWong99/askdb/internal/sqlexec"
	"github.com/MrWong99/askdb/pkg/gateway"
	gwmock "github.com/MrWong99/askdb/pkg/gateway/mock"
	"github.com/MrWong99/askdb/pkg/provider/embeddings"
	embmock "github.com/MrWong99/askdb/pkg/provider/embeddings/mock"
	"github.com/MrWong99/askdb/pkg/querystore"
	qsmock "github.com/MrWong99/askdb/pkg/querystore/mock"
)

func testSchema() schema.Info {
	return schema.Info{
		"member": {
			Columns: []schema.Column{
				{Name: "id", Type: "uuid"},
				{Name: "organization_id", Type: "uuid"},
				{Name: "email", Type: "text", Nullable: true},
				{Name: "effective_range", Type: "daterange"},
			},
			ForeignKeys: []schema.ForeignKey{
				{Column: "organization_id", ForeignTable: "organization", ForeignColumn: "id"},
			},
		},
		"organization": {
			Columns: []schema.Column{
				{Name: "id", Type: "uuid"},
				{Name: "name", Type: "text"},
			},
		},
	}
}

type fakeSchemas struct {
	info schema.Info
	err  error
}

func (f *fakeSchemas) Introspect(context.Context, string) (schema.Info, error) {
	return f.info, f.err
}

// passSelector keeps the whole schema; selection ranking has its own tests.
type passSelector struct{}

func (passSelector) Select(_ context.Context, _ string, info schema.Info) schema.Info { return info }

type fakeExamples struct {
	exs []examples.Example
	err error
}

func (f *fakeExamples) FindSimilar(context.Context, string, []string) ([]examples.Example, error) {
	return f.exs, f.err
}

type fakeRunner struct {
	mu    sync.Mutex
	calls []string

	// fn overrides the default two-row success result.
	fn func(sql string) sqlexec.Result
}

func (r *fakeRunner) Execute(_ context.Context, sql string) sqlexec.Result {
	r.mu.Lock()
	r.calls = append(r.calls, sql)
	r.mu.Unlock()

	if r.fn != nil {
		return r.fn(sql)
	}
	return sqlexec.Result{
		Results:         []map[string]any{{"count": 2}},
		RowCount:        1,
		ExecutionTimeMs: 12.5,
		Success:         true,
		HasResults:      true,
	}
}

func (r *fakeRunner) callCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}

type testEnv struct {
	exact    *qsmock.ExactCache
	vectors  *qsmock.VectorStore
	mappings *qsmock.IDMappings
	recorder *qsmock.MetricsRecorder
	embedder *embmock.Provider
	gw       *gwmock.Gateway
	schemas  *fakeSchemas
	runner   *fakeRunner
	orc      *Orchestrator
}

func newTestEnv() *testEnv {
	env := &testEnv{
		exact:    qsmock.NewExactCache(),
		vectors:  qsmock.NewVectorStore(),
		mappings: qsmock.NewIDMappings(),
		recorder: &qsmock.MetricsRecorder{},
		embedder: &embmock.Provider{},
		gw:       &gwmock.Gateway{},
		schemas:  &fakeSchemas{info: testSchema()},
		runner:   &fakeRunner{},
	}
	env.orc = NewOrchestrator(Deps{
		Exact:    env.exact,
		Vectors:  env.vectors,
		Mappings: env.mappings,
		Recorder: env.recorder,
		Embedder: env.embedder,
		Gateway:  env.gw,
		Schemas:  env.schemas,
		Selector: passSelector{},
		Examples: &fakeExamples{},
		Prompts:  prompt.NewCache(env.embedder, env.vectors),
		Runner:   env.runner,
	}, Config{})
	return env
}

func TestProcess_MissGeneratesAndStoresBothTiers(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	res := env.orc.Process(context.Background(), Request{Query: "How many members does ACME have?"})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, error = %s %v", res.Outcome, res.Error, res.Details)
	}
	if res.CacheStatus != StatusMiss {
		t.Errorf("cache status = %s, want miss", res.CacheStatus)
	}
	if res.SQL != "SELECT 1" {
		t.Errorf("sql = %q", res.SQL)
	}
	if env.gw.TranslateCalls() != 1 || env.gw.ValidateCalls() != 1 {
		t.Errorf("translate/validate calls = %d/%d, want 1/1",
			env.gw.TranslateCalls(), env.gw.ValidateCalls())
	}
	if env.exact.Len() != 1 {
		t.Errorf("exact cache entries = %d, want 1", env.exact.Len())
	}
	if n := env.vectors.Count(querystore.CollectionQueryCache); n != 1 {
		t.Errorf("vector cache entries = %d, want 1", n)
	}

	// Without an explanation request the caller gets the hint text but the
	// cache keeps the explanation slot empty for later generation.
	if res.Explanation != placeholderExplanation {
		t.Errorf("explanation = %q, want placeholder", res.Explanation)
	}
	stored, err := env.exact.Lookup(context.Background(), embeddings.Normalize("How many members does ACME have?"))
	if err != nil || stored == nil {
		t.Fatalf("stored entry lookup: %v, %v", stored, err)
	}
	if stored.Explanation != "" {
		t.Errorf("stored explanation = %q, want empty", stored.Explanation)
	}
	if stored.QueryID != res.QueryID {
		t.Errorf("stored query id = %s, want %s", stored.QueryID, res.QueryID)
	}
}

func TestProcess_ExactHitSkipsGeneration(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	first := env.orc.Process(ctx, Request{Query: "How many members does ACME have?"})
	second := env.orc.Process(ctx, Request{Query: "how many MEMBERS does acme have?"})

	if second.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", second.Outcome)
	}
	if second.CacheStatus != StatusExactHit {
		t.Errorf("cache status = %s, want db_exact_hit", second.CacheStatus)
	}
	if env.gw.TranslateCalls() != 1 {
		t.Errorf("translate calls = %d, want 1 (no regeneration on hit)", env.gw.TranslateCalls())
	}
	if env.runner.callCount() != 2 {
		t.Errorf("executions = %d, want 2 (hits still run the SQL)", env.runner.callCount())
	}
	if env.exact.Len() != 1 {
		t.Errorf("exact cache entries = %d, want 1 (no duplicate store)", env.exact.Len())
	}
	if env.mappings.Len() != 1 {
		t.Errorf("id mappings = %d, want 1", env.mappings.Len())
	}
	if second.QueryID == first.QueryID {
		t.Error("each request should get its own query id")
	}

	entry, err := env.exact.Lookup(ctx, embeddings.Normalize("How many members does ACME have?"))
	if err != nil || entry == nil {
		t.Fatalf("entry lookup: %v, %v", entry, err)
	}
	if entry.UsageCount != 2 {
		t.Errorf("usage count = %d, want 2", entry.UsageCount)
	}
}

func TestProcess_VectorHit(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()
	originalID := uuid.New()

	vec, _ := env.embedder.Embed(ctx, "How many members does ACME have?")
	err := env.vectors.Upsert(ctx, querystore.CollectionQueryCache, "cached", vec, map[string]any{
		"generated_sql": "SELECT COUNT(*) FROM eligibility.member",
		"explanation":   "ACME has 2 members.",
		"query_id":      originalID.String(),
		"usage_count":   int64(3),
	})
	if err != nil {
		t.Fatal(err)
	}

	res := env.orc.Process(ctx, Request{
		Query:              "What is the member count for ACME?",
		IncludeExplanation: true,
	})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, error = %s", res.Outcome, res.Error)
	}
	if res.CacheStatus != StatusVectorHit {
		t.Errorf("cache status = %s, want vector_hit", res.CacheStatus)
	}
	if res.SQL != "SELECT COUNT(*) FROM eligibility.member" {
		t.Errorf("sql = %q", res.SQL)
	}
	if res.Explanation != "ACME has 2 members." {
		t.Errorf("explanation = %q, want the cached text", res.Explanation)
	}
	if env.gw.TranslateCalls() != 0 || env.gw.ExplainCalls() != 0 {
		t.Errorf("translate/explain calls = %d/%d, want 0/0",
			env.gw.TranslateCalls(), env.gw.ExplainCalls())
	}
	if env.mappings.Len() != 1 {
		t.Errorf("id mappings = %d, want 1", env.mappings.Len())
	}

	md, err := env.vectors.Get(ctx, querystore.CollectionQueryCache, "cached")
	if err != nil {
		t.Fatal(err)
	}
	if md["usage_count"] != int64(4) {
		t.Errorf("usage_count = %v, want 4", md["usage_count"])
	}
	if md["last_used"] == nil {
		t.Error("last_used not set on hit")
	}
}

func TestProcess_DisallowedOperationRejectedBeforeValidation(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.gw.TranslateFunc = func(query, systemPrompt string) (*gateway.TranslationResult, error) {
		return &gateway.TranslationResult{SQL: "DROP TABLE eligibility.member"}, nil
	}

	res := env.orc.Process(context.Background(), Request{Query: "remove the member table"})

	if res.Outcome != OutcomeValidationError {
		t.Fatalf("outcome = %s, want validation_error", res.Outcome)
	}
	if len(res.Details) != 1 || res.Details[0].Code != CodeDisallowedOperation {
		t.Fatalf("details = %v, want DISALLOWED_OPERATION", res.Details)
	}
	if env.gw.ValidateCalls() != 0 {
		t.Errorf("validate calls = %d, want 0 (blacklist short-circuits)", env.gw.ValidateCalls())
	}
	if env.runner.callCount() != 0 {
		t.Errorf("executions = %d, want 0", env.runner.callCount())
	}
	if env.exact.Len() != 0 || env.vectors.Count(querystore.CollectionQueryCache) != 0 {
		t.Error("rejected query must not be cached")
	}
}

func TestProcess_CachedSQLFailureRegeneratesOnce(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	staleID := uuid.New()
	if err := env.exact.Store(ctx, querystore.CacheEntry{
		NaturalQuery: embeddings.Normalize("show all members"),
		SQL:          "SELECT * FROM eligibility.member_old",
		QueryID:      staleID,
	}); err != nil {
		t.Fatal(err)
	}
	env.runner.fn = func(sql string) sqlexec.Result {
		if strings.Contains(sql, "member_old") {
			return sqlexec.Result{Success: false, Error: `relation "eligibility.member_old" does not exist`}
		}
		return sqlexec.Result{Success: true, HasResults: true, RowCount: 1, Results: []map[string]any{{"id": 1}}}
	}

	res := env.orc.Process(ctx, Request{Query: "show all members"})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s, error = %s %v", res.Outcome, res.Error, res.Details)
	}
	if env.runner.callCount() != 2 {
		t.Fatalf("executions = %d, want 2 (cached attempt plus regenerated)", env.runner.callCount())
	}
	if env.gw.TranslateCalls() != 1 {
		t.Errorf("translate calls = %d, want 1", env.gw.TranslateCalls())
	}
	if res.CacheStatus != StatusMiss {
		t.Errorf("cache status = %s, want miss after regeneration", res.CacheStatus)
	}

	entry, err := env.exact.Lookup(ctx, embeddings.Normalize("show all members"))
	if err != nil || entry == nil {
		t.Fatalf("entry lookup: %v, %v", entry, err)
	}
	if entry.SQL != "SELECT 1" {
		t.Errorf("cached sql = %q, want the regenerated statement", entry.SQL)
	}
}

func TestProcess_ExecutionErrorEnrichedByGateway(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.runner.fn = func(string) sqlexec.Result {
		return sqlexec.Result{Success: false, Error: "division by zero"}
	}

	res := env.orc.Process(context.Background(), Request{Query: "percentage of verified members"})

	if res.Outcome != OutcomeExecutionError {
		t.Fatalf("outcome = %s, want execution_error", res.Outcome)
	}
	if env.runner.callCount() != 1 {
		t.Errorf("executions = %d, want 1 (no retry on a fresh miss)", env.runner.callCount())
	}
	if env.gw.HandleErrorCalls() != 1 {
		t.Errorf("handle error calls = %d, want 1", env.gw.HandleErrorCalls())
	}
	if len(res.Details) != 1 {
		t.Fatalf("details = %v", res.Details)
	}
	if res.Details[0].Code != CodeExecutionError {
		t.Errorf("code = %s", res.Details[0].Code)
	}
	if res.Details[0].Message != "mock error help" || res.Details[0].Suggestion != "try again" {
		t.Errorf("detail = %+v, want gateway guidance", res.Details[0])
	}
	if env.exact.Len() != 0 {
		t.Error("failed query must not be cached")
	}
}

func TestProcess_EmptyResultsExplainedWithoutModel(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.gw.TranslateFunc = func(query, systemPrompt string) (*gateway.TranslationResult, error) {
		return &gateway.TranslationResult{
			SQL: "SELECT * FROM eligibility.member m WHERE m.effective_range @> CURRENT_DATE",
		}, nil
	}
	env.runner.fn = func(string) sqlexec.Result {
		return sqlexec.Result{Success: true}
	}

	res := env.orc.Process(context.Background(), Request{Query: "active members named Zzyzx"})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if res.HasResults {
		t.Error("HasResults = true for empty result set")
	}
	if env.gw.ExplainCalls() != 0 {
		t.Errorf("explain calls = %d, want 0 for empty results", env.gw.ExplainCalls())
	}
	if !strings.Contains(res.Explanation, "did not return any results") {
		t.Errorf("explanation = %q", res.Explanation)
	}
	if !strings.Contains(res.Explanation, "eligibility.member") {
		t.Errorf("explanation does not name the table: %q", res.Explanation)
	}
}

func TestProcess_IncludeExplanationCallsGateway(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	res := env.orc.Process(context.Background(), Request{
		Query:              "How many members does ACME have?",
		IncludeExplanation: true,
	})

	if res.Outcome != OutcomeSuccess {
		t.Fatalf("outcome = %s", res.Outcome)
	}
	if env.gw.ExplainCalls() != 1 {
		t.Errorf("explain calls = %d, want 1", env.gw.ExplainCalls())
	}
	if res.Explanation != "mock explanation" {
		t.Errorf("explanation = %q", res.Explanation)
	}

	entry, _ := env.exact.Lookup(context.Background(), embeddings.Normalize("How many members does ACME have?"))
	if entry == nil || entry.Explanation != "mock explanation" {
		t.Errorf("generated explanation not cached: %+v", entry)
	}
}

func TestProcess_IntrospectionFailureIsProcessingError(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.schemas.err = errors.New("connection refused")

	res := env.orc.Process(context.Background(), Request{Query: "anything"})

	if res.Outcome != OutcomeProcessingError {
		t.Fatalf("outcome = %s, want processing_error", res.Outcome)
	}
	if len(res.Details) != 1 || res.Details[0].Code != CodeProcessingError {
		t.Fatalf("details = %v", res.Details)
	}
	if !strings.Contains(res.Details[0].Message, "connection refused") {
		t.Errorf("message = %q, want cause included", res.Details[0].Message)
	}
}

func TestProcess_PanicRecovered(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	env.gw.TranslateFunc = func(string, string) (*gateway.TranslationResult, error) {
		panic("model client bug")
	}

	res := env.orc.Process(context.Background(), Request{Query: "anything"})

	if res.Outcome != OutcomeProcessingError {
		t.Fatalf("outcome = %s, want processing_error", res.Outcome)
	}
	if len(env.recorder.Recorded()) != 1 {
		t.Errorf("metrics rows = %d, want 1 even after a panic", len(env.recorder.Recorded()))
	}
}

func TestProcess_RecordsMetricsRow(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	res := env.orc.Process(context.Background(), Request{Query: "How many members does ACME have?"})

	rows := env.recorder.Recorded()
	if len(rows) != 1 {
		t.Fatalf("metrics rows = %d, want 1", len(rows))
	}
	row := rows[0]
	if row.QueryID != res.QueryID {
		t.Errorf("query id = %s, want %s", row.QueryID, res.QueryID)
	}
	if row.NaturalQuery != "How many members does ACME have?" {
		t.Errorf("natural query = %q", row.NaturalQuery)
	}
	if row.CacheStatus != StatusMiss || !row.Success {
		t.Errorf("cache status/success = %s/%v", row.CacheStatus, row.Success)
	}
	if row.TotalTokens != 15 {
		t.Errorf("total tokens = %d, want 15", row.TotalTokens)
	}
	if row.FullSchemaTables != 2 || row.SelectedTables != 2 {
		t.Errorf("schema tables = %d/%d, want 2/2", row.FullSchemaTables, row.SelectedTables)
	}
	if row.SystemPrompt == "" {
		t.Error("system prompt not recorded")
	}
	if _, ok := row.StageTimingsMs["sql_generation"]; !ok {
		t.Errorf("stage timings = %v, missing sql_generation", row.StageTimingsMs)
	}
}

func TestGetExplanation_ResolvesMappingChain(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()

	env.orc.Process(ctx, Request{Query: "How many members does ACME have?", IncludeExplanation: true})
	second := env.orc.Process(ctx, Request{Query: "how many   members does ACME have?"})

	if second.CacheStatus != StatusExactHit {
		t.Fatalf("cache status = %s, want db_exact_hit", second.CacheStatus)
	}

	text, err := env.orc.GetExplanation(ctx, second.QueryID)
	if err != nil {
		t.Fatal(err)
	}
	if text != "mock explanation" {
		t.Errorf("explanation = %q", text)
	}
}

func TestGetExplanation_FallsBackToVectorTier(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()
	id := uuid.New()

	err := env.vectors.Upsert(ctx, querystore.CollectionQueryCache, "v1",
		[]float32{1, 0, 0, 0}, map[string]any{
			"query_id":    id.String(),
			"explanation": "from the vector tier",
		})
	if err != nil {
		t.Fatal(err)
	}

	text, err := env.orc.GetExplanation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if text != "from the vector tier" {
		t.Errorf("explanation = %q", text)
	}
}

func TestGetExplanation_RegeneratesFromCachedSQL(t *testing.T) {
	t.Parallel()
	env := newTestEnv()
	ctx := context.Background()
	id := uuid.New()

	if err := env.exact.Store(ctx, querystore.CacheEntry{
		NaturalQuery: "count all members",
		SQL:          "SELECT COUNT(*) FROM eligibility.member",
		QueryID:      id,
	}); err != nil {
		t.Fatal(err)
	}

	text, err := env.orc.GetExplanation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if text != "mock explanation" {
		t.Errorf("explanation = %q", text)
	}
	if env.gw.ExplainCalls() != 1 {
		t.Errorf("explain calls = %d, want 1", env.gw.ExplainCalls())
	}

	entry, err := env.exact.GetByQueryID(ctx, id)
	if err != nil || entry == nil {
		t.Fatalf("entry lookup: %v, %v", entry, err)
	}
	if entry.Explanation != "mock explanation" {
		t.Errorf("regenerated explanation not persisted: %q", entry.Explanation)
	}

	// A second retrieval is served from the cache without another model call.
	if _, err := env.orc.GetExplanation(ctx, id); err != nil {
		t.Fatal(err)
	}
	if env.gw.ExplainCalls() != 1 {
		t.Errorf("explain calls after second retrieval = %d, want 1", env.gw.ExplainCalls())
	}
}

func TestGetExplanation_UnknownID(t *testing.T) {
	t.Parallel()
	env := newTestEnv()

	_, err := env.orc.GetExplanation(context.Background(), uuid.New())
	if !errors.Is(err, ErrExplanationNotFound) {
		t.Errorf("err = %v, want ErrExplanationNotFound", err)
	}
}
