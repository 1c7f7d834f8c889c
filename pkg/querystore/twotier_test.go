package querystore_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/MrWong99/askdb/pkg/querystore"
	"github.com/MrWong99/askdb/pkg/querystore/mock"
)

func TestTwoTierWriterBothTiers(t *testing.T) {
	exact := mock.NewExactCache()
	vectors := mock.NewVectorStore()
	w := querystore.NewTwoTierWriter(exact, vectors)

	entry := querystore.CacheEntry{
		NaturalQuery: "how many members are active",
		SQL:          "SELECT COUNT(*) FROM member",
		Explanation:  "Counts active members.",
		QueryID:      uuid.New(),
	}
	report := w.Write(context.Background(), entry, []float32{0.1, 0.2, 0.3})

	if !report.Stored() || report.Partial() || report.Err() != nil {
		t.Fatalf("expected clean write, got %+v", report)
	}
	if exact.Len() != 1 {
		t.Fatalf("exact tier has %d entries, want 1", exact.Len())
	}
	if n := vectors.Count(querystore.CollectionQueryCache); n != 1 {
		t.Fatalf("vector tier has %d entries, want 1", n)
	}

	meta, err := vectors.Get(context.Background(), querystore.CollectionQueryCache, querystore.VectorID(entry.NaturalQuery))
	if err != nil {
		t.Fatal(err)
	}
	if meta["generated_sql"] != entry.SQL {
		t.Errorf("vector metadata sql = %v, want %q", meta["generated_sql"], entry.SQL)
	}
	if meta["query_id"] != entry.QueryID.String() {
		t.Errorf("vector metadata query_id = %v, want %q", meta["query_id"], entry.QueryID)
	}
}

func TestTwoTierWriterPartialFailure(t *testing.T) {
	exact := mock.NewExactCache()
	exact.StoreErr = errors.New("connection reset")
	vectors := mock.NewVectorStore()
	w := querystore.NewTwoTierWriter(exact, vectors)

	report := w.Write(context.Background(), querystore.CacheEntry{NaturalQuery: "q", SQL: "SELECT 1"}, []float32{1})

	if !report.Stored() {
		t.Fatal("vector tier succeeded, write should count as stored")
	}
	if !report.Partial() {
		t.Fatal("expected a partial report")
	}
	if report.Err() == nil {
		t.Fatal("expected a joined error")
	}
	if n := vectors.Count(querystore.CollectionQueryCache); n != 1 {
		t.Fatalf("vector tier has %d entries, want 1", n)
	}
}

func TestTwoTierWriterBothFail(t *testing.T) {
	exact := mock.NewExactCache()
	exact.StoreErr = errors.New("down")
	vectors := mock.NewVectorStore()
	vectors.UpsertErr = errors.New("also down")
	w := querystore.NewTwoTierWriter(exact, vectors)

	report := w.Write(context.Background(), querystore.CacheEntry{NaturalQuery: "q"}, []float32{1})

	if report.Stored() || report.Partial() {
		t.Fatalf("expected total failure, got %+v", report)
	}
	if report.Err() == nil {
		t.Fatal("expected a joined error")
	}
}

func TestVectorIDStable(t *testing.T) {
	a := querystore.VectorID("show me all members")
	b := querystore.VectorID("show me all members")
	c := querystore.VectorID("show me all organizations")

	if a != b {
		t.Errorf("same input produced different ids: %s vs %s", a, b)
	}
	if a == c {
		t.Error("different inputs produced the same id")
	}
	if len(a) != 32 {
		t.Errorf("id length = %d, want 32 hex chars", len(a))
	}
}
