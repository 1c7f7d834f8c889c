package prompt

import (
	"context"
	"strings"
	"testing"

	"github.com/MrWong99/askdb/internal/examples"
	embmock "github.com/MrWong99/askdb/pkg/provider/embeddings/mock"
	qsmock "github.com/MrWong99/askdb/pkg/querystore/mock"
)

func TestAnalyze_Intents(t *testing.T) {
	t.Parallel()
	cases := []struct {
		query string
		want  string
	}{
		{"How many active members does ACME Corporation have?", IntentCounting},
		{"List all overeligible members", IntentListing},
		{"Compare active versus inactive members", IntentComparing},
		{"Is John Smith overeligible?", IntentVerifying},
		{"member emails please", IntentGeneral},
	}
	for _, tc := range cases {
		if got := Analyze(tc.query).Intent; got != tc.want {
			t.Errorf("Analyze(%q).Intent = %q, want %q", tc.query, got, tc.want)
		}
	}
}

func TestAnalyze_Modules(t *testing.T) {
	t.Parallel()
	a := Analyze("How many active members does ACME Corporation have?")

	want := map[string]bool{
		ModuleActiveStatus:         true,
		ModuleOrganizationMatching: true,
		ModuleTextMatching:         true,
	}
	got := map[string]bool{}
	for _, m := range a.Modules {
		got[m] = true
	}
	for m := range want {
		if !got[m] {
			t.Errorf("missing module %s in %v", m, a.Modules)
		}
	}
	if got[ModuleOvereligibility] {
		t.Errorf("unexpected overeligibility module for %v", a.Modules)
	}
}

func TestAnalyze_AlwaysIncludesTextMatching(t *testing.T) {
	t.Parallel()
	a := Analyze("xyzzy")
	if len(a.Modules) == 0 || a.Modules[len(a.Modules)-1] != ModuleTextMatching {
		t.Fatalf("modules = %v, want text_matching last", a.Modules)
	}
}

func TestBuildSystemPrompt(t *testing.T) {
	t.Parallel()
	query := "How many active members does ACME Corporation have?"
	schemaStr := "DATABASE SCHEMA: member, organization"
	examplesStr := "Here are examples of similar queries:\n\nExample 1: ..."

	got := BuildSystemPrompt(query, schemaStr, examplesStr, Analyze(query))

	for _, want := range []string{
		"expert SQL assistant",
		schemaStr,
		examplesStr,
		"counting query",
		"effective_range @> CURRENT_DATE",
		"ILIKE '%acme%'",
		"ONLY SQL queries that query data",
		"prefixed with the schema name",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	// Schema context comes before the guidance that refers to it.
	if strings.Index(got, schemaStr) > strings.Index(got, "counting query") {
		t.Error("schema section should precede intent guidance")
	}
	if !strings.HasSuffix(got, closingInstructions) {
		t.Error("prompt should end with the closing instructions")
	}
}

func TestBuildSystemPrompt_NoExamples(t *testing.T) {
	t.Parallel()
	got := BuildSystemPrompt("member emails", "SCHEMA", "", Analyze("member emails"))
	if strings.Contains(got, "Here are examples") {
		t.Error("prompt contains an examples section without examples")
	}
}

func TestFormatExamples(t *testing.T) {
	t.Parallel()
	if got := FormatExamples(nil); got != "" {
		t.Fatalf("FormatExamples(nil) = %q, want empty", got)
	}

	got := FormatExamples([]examples.Example{
		{NaturalQuery: "q one", SQL: "SELECT 1"},
		{NaturalQuery: "q two", SQL: "SELECT 2"},
	})
	for _, want := range []string{"Example 1:", "Query: q one", "SQL: SELECT 1", "Example 2:", "SQL: SELECT 2"} {
		if !strings.Contains(got, want) {
			t.Errorf("formatted examples missing %q", want)
		}
	}
}

func TestCache_RoundTrip(t *testing.T) {
	t.Parallel()
	cache := NewCache(&embmock.Provider{}, qsmock.NewVectorStore())
	ctx := context.Background()

	prompt, embedding, err := cache.Lookup(ctx, "How many members?", "fp1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "" {
		t.Fatalf("cold lookup returned %q, want miss", prompt)
	}
	if embedding == nil {
		t.Fatal("miss did not return the computed embedding")
	}

	if err := cache.Store(ctx, "How many members?", "THE PROMPT", "fp1", embedding); err != nil {
		t.Fatalf("store: %v", err)
	}

	// The default mock embedder maps every text to the same vector, so any
	// query matches semantically; the fingerprint filter still applies.
	prompt, _, err = cache.Lookup(ctx, "how many   MEMBERS?", "fp1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "THE PROMPT" {
		t.Fatalf("lookup = %q, want cached prompt", prompt)
	}
}

func TestCache_FingerprintMismatch(t *testing.T) {
	t.Parallel()
	cache := NewCache(&embmock.Provider{}, qsmock.NewVectorStore())
	ctx := context.Background()

	if err := cache.Store(ctx, "How many members?", "OLD PROMPT", "fp1", nil); err != nil {
		t.Fatalf("store: %v", err)
	}

	prompt, _, err := cache.Lookup(ctx, "How many members?", "fp2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if prompt != "" {
		t.Fatalf("lookup across schema change returned %q, want miss", prompt)
	}
}

func TestCache_LookupErrorStillReturnsEmbedding(t *testing.T) {
	t.Parallel()
	store := qsmock.NewVectorStore()
	store.QueryErr = context.DeadlineExceeded
	cache := NewCache(&embmock.Provider{}, store)

	prompt, embedding, err := cache.Lookup(context.Background(), "How many members?", "fp1")
	if err == nil {
		t.Fatal("expected error from failing store")
	}
	if prompt != "" {
		t.Fatalf("prompt = %q, want empty on failure", prompt)
	}
	if embedding == nil {
		t.Fatal("embedding should be returned even when the store fails")
	}
}
