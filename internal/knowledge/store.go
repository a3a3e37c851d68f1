package knowledge

import (
	"context"
	"errors"
	"math"
	"sort"
	"strings"
	"sync"
	"time"
)

var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Fact is one stored knowledge snippet.
type Fact struct {
	ID        string    `json:"id"`
	Text      string    `json:"text"`
	Embedding []float32 `json:"-"`
	CreatedAt time.Time `json:"created_at"`
}

// Match is a search hit with its cosine similarity.
type Match struct {
	Fact  Fact    `json:"fact"`
	Score float64 `json:"score"`
}

// VectorStore persists facts and answers nearest-neighbour queries.
type VectorStore interface {
	Upsert(ctx context.Context, facts []Fact) error
	Search(ctx context.Context, vec []float32, k int) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// MemoryStore is a brute-force in-process VectorStore.
type MemoryStore struct {
	mu    sync.RWMutex
	dim   int
	facts map[string]Fact
}

func NewMemoryStore(dim int) *MemoryStore {
	return &MemoryStore{dim: dim, facts: make(map[string]Fact)}
}

func (s *MemoryStore) Upsert(_ context.Context, facts []Fact) error {
	for _, f := range facts {
		if len(f.Embedding) != s.dim {
			return ErrDimensionMismatch
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, f := range facts {
		f.Embedding = append([]float32(nil), f.Embedding...)
		if f.CreatedAt.IsZero() {
			f.CreatedAt = time.Now().UTC()
		}
		s.facts[f.ID] = f
	}
	return nil
}

func (s *MemoryStore) Search(_ context.Context, vec []float32, k int) ([]Match, error) {
	if len(vec) != s.dim {
		return nil, ErrDimensionMismatch
	}
	if k <= 0 {
		return nil, nil
	}
	s.mu.RLock()
	matches := make([]Match, 0, len(s.facts))
	for _, f := range s.facts {
		matches = append(matches, Match{Fact: f, Score: cosine(vec, f.Embedding)})
	}
	s.mu.RUnlock()

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return strings.Compare(matches[i].Fact.ID, matches[j].Fact.ID) < 0
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

func (s *MemoryStore) Count(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.facts), nil
}

func (s *MemoryStore) Close() error { return nil }

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// NewStore creates a postgres-backed store when configured, otherwise in-memory.
func NewStore(ctx context.Context, databaseURL string, dim int) (VectorStore, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return NewMemoryStore(dim), nil
	}
	return NewPostgresStore(ctx, databaseURL, dim)
}
