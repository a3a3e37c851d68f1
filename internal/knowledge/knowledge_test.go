package knowledge

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestHashEmbedderDeterministicUnitVectors(t *testing.T) {
	e := NewHashEmbedder(0)
	if e.Dim() != DefaultDim {
		t.Fatalf("Dim() = %d, want %d", e.Dim(), DefaultDim)
	}
	a, err := e.Embed(context.Background(), []string{"GBU was founded in 2002.", "GBU was founded in 2002."})
	if err != nil {
		t.Fatalf("Embed() error = %v", err)
	}
	if len(a) != 2 || len(a[0]) != DefaultDim {
		t.Fatalf("Embed() shape = %dx%d", len(a), len(a[0]))
	}
	for i := range a[0] {
		if a[0][i] != a[1][i] {
			t.Fatalf("Embed() not deterministic at %d", i)
		}
	}
	var norm float64
	for _, v := range a[0] {
		norm += float64(v) * float64(v)
	}
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("norm^2 = %f, want 1", norm)
	}
}

func TestHashEmbedderEmptyTextIsZeroVector(t *testing.T) {
	vecs, _ := NewHashEmbedder(8).Embed(context.Background(), []string{"  "})
	for _, v := range vecs[0] {
		if v != 0 {
			t.Fatalf("vector = %v, want zeros", vecs[0])
		}
	}
}

func TestNewEmbedderSelection(t *testing.T) {
	e, err := NewEmbedder(context.Background(), "auto", "", "", 16)
	if err != nil {
		t.Fatalf("NewEmbedder(auto) error = %v", err)
	}
	if e.Name() != "hash" || e.Dim() != 16 {
		t.Fatalf("NewEmbedder(auto) = %s/%d, want hash/16", e.Name(), e.Dim())
	}
	if _, err := NewEmbedder(context.Background(), "gemini", "", "", 16); err == nil {
		t.Fatalf("NewEmbedder(gemini) without key error = nil, want error")
	}
	if _, err := NewEmbedder(context.Background(), "word2vec", "", "", 16); err == nil {
		t.Fatalf("NewEmbedder(word2vec) error = nil, want error")
	}
}

func TestMemoryStoreSearchOrdersByScore(t *testing.T) {
	s := NewMemoryStore(2)
	err := s.Upsert(context.Background(), []Fact{
		{ID: "b", Text: "east", Embedding: []float32{1, 0}},
		{ID: "a", Text: "north", Embedding: []float32{0, 1}},
		{ID: "c", Text: "north-east", Embedding: []float32{1, 1}},
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := s.Search(context.Background(), []float32{0, 1}, 2)
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if len(got) != 2 || got[0].Fact.ID != "a" || got[1].Fact.ID != "c" {
		t.Fatalf("Search() = %+v, want a then c", got)
	}
	if _, err := s.Search(context.Background(), []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Search(bad dim) error = %v, want ErrDimensionMismatch", err)
	}
	if err := s.Upsert(context.Background(), []Fact{{ID: "x", Embedding: []float32{1}}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("Upsert(bad dim) error = %v, want ErrDimensionMismatch", err)
	}
}

func TestServiceUpsertAndRetrieve(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewHashEmbedder(DefaultDim), NewMemoryStore(DefaultDim), 1)

	res, err := svc.Upsert(ctx, []string{
		"GBU was founded in 2002.",
		"The library opens at 9 am.",
		"  ",
	})
	if err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	if res.Upserted != 2 || len(res.IDs) != 2 {
		t.Fatalf("Upsert() = %+v, want 2 facts", res)
	}

	again, err := svc.Upsert(ctx, []string{"GBU was founded in 2002."})
	if err != nil {
		t.Fatalf("Upsert(again) error = %v", err)
	}
	if again.IDs[0] != res.IDs[0] {
		t.Fatalf("re-upsert id = %s, want stable %s", again.IDs[0], res.IDs[0])
	}
	if n, _ := svc.Count(ctx); n != 2 {
		t.Fatalf("Count() = %d, want 2", n)
	}

	got, err := svc.Retrieve(ctx, "When was GBU founded?")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if got != "GBU was founded in 2002." {
		t.Fatalf("Retrieve() = %q", got)
	}
}

func TestServiceRetrieveJoinsWithNewlines(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewHashEmbedder(DefaultDim), NewMemoryStore(DefaultDim), 5)
	if _, err := svc.Upsert(ctx, []string{"fact one", "fact two"}); err != nil {
		t.Fatalf("Upsert() error = %v", err)
	}
	got, err := svc.Retrieve(ctx, "fact")
	if err != nil {
		t.Fatalf("Retrieve() error = %v", err)
	}
	if strings.Count(got, "\n") != 1 {
		t.Fatalf("Retrieve() = %q, want two lines", got)
	}
}

func TestServiceRetrieveEmptyStore(t *testing.T) {
	svc := NewService(NewHashEmbedder(DefaultDim), NewMemoryStore(DefaultDim), 0)
	got, err := svc.Retrieve(context.Background(), "anything")
	if err != nil || got != "" {
		t.Fatalf("Retrieve() = %q, %v; want empty", got, err)
	}
}

func TestServiceRejectsEmptyFacts(t *testing.T) {
	svc := NewService(NewHashEmbedder(DefaultDim), NewMemoryStore(DefaultDim), 0)
	if _, err := svc.Upsert(context.Background(), []string{" ", ""}); !errors.Is(err, ErrNoFacts) {
		t.Fatalf("Upsert(blank) error = %v, want ErrNoFacts", err)
	}
	if _, err := svc.Embed(context.Background(), nil); !errors.Is(err, ErrNoFacts) {
		t.Fatalf("Embed(nil) error = %v, want ErrNoFacts", err)
	}
}

func TestNewStoreDefaultsToMemory(t *testing.T) {
	s, err := NewStore(context.Background(), "", 4)
	if err != nil {
		t.Fatalf("NewStore() error = %v", err)
	}
	if _, ok := s.(*MemoryStore); !ok {
		t.Fatalf("NewStore() = %T, want *MemoryStore", s)
	}
}
