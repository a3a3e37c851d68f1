// Package knowledge embeds university facts, stores them in a vector store
// and retrieves the ones relevant to a query.
package knowledge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const DefaultTopK = 4

var ErrNoFacts = errors.New("facts must contain at least one non-empty string")

// factNamespace derives stable fact ids so re-uploading a fact updates it
// instead of duplicating it.
var factNamespace = uuid.MustParse("5b1c6f0e-4f3a-4d0c-9b8e-2f61c1a7d9e4")

// UpsertResult confirms a fact upload.
type UpsertResult struct {
	Upserted int      `json:"upserted"`
	IDs      []string `json:"ids"`
}

type Service struct {
	embedder Embedder
	store    VectorStore
	topK     int
}

func NewService(embedder Embedder, store VectorStore, topK int) *Service {
	if topK <= 0 {
		topK = DefaultTopK
	}
	return &Service{embedder: embedder, store: store, topK: topK}
}

func (s *Service) Embedder() Embedder { return s.embedder }

// Embed returns one vector per fact, in order.
func (s *Service) Embed(ctx context.Context, facts []string) ([][]float32, error) {
	cleaned, err := cleanFacts(facts)
	if err != nil {
		return nil, err
	}
	vecs, err := s.embedder.Embed(ctx, cleaned)
	if err != nil {
		return nil, fmt.Errorf("embed facts: %w", err)
	}
	return vecs, nil
}

// Upsert embeds and stores facts.
func (s *Service) Upsert(ctx context.Context, facts []string) (UpsertResult, error) {
	cleaned, err := cleanFacts(facts)
	if err != nil {
		return UpsertResult{}, err
	}
	vecs, err := s.embedder.Embed(ctx, cleaned)
	if err != nil {
		return UpsertResult{}, fmt.Errorf("embed facts: %w", err)
	}

	now := time.Now().UTC()
	records := make([]Fact, len(cleaned))
	ids := make([]string, len(cleaned))
	for i, text := range cleaned {
		id := uuid.NewSHA1(factNamespace, []byte(text)).String()
		ids[i] = id
		records[i] = Fact{ID: id, Text: text, Embedding: vecs[i], CreatedAt: now}
	}
	if err := s.store.Upsert(ctx, records); err != nil {
		return UpsertResult{}, fmt.Errorf("store facts: %w", err)
	}
	return UpsertResult{Upserted: len(records), IDs: ids}, nil
}

// Retrieve returns the top-K facts for query joined by newlines. An empty
// store yields an empty context.
func (s *Service) Retrieve(ctx context.Context, query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}
	vecs, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return "", fmt.Errorf("embed query: %w", err)
	}
	if len(vecs) != 1 {
		return "", fmt.Errorf("embed query: got %d vectors", len(vecs))
	}
	matches, err := s.store.Search(ctx, vecs[0], s.topK)
	if err != nil {
		return "", fmt.Errorf("search facts: %w", err)
	}
	lines := make([]string, 0, len(matches))
	for _, m := range matches {
		lines = append(lines, m.Fact.Text)
	}
	return strings.Join(lines, "\n"), nil
}

func (s *Service) Count(ctx context.Context) (int, error) {
	return s.store.Count(ctx)
}

func (s *Service) Close() error {
	return s.store.Close()
}

func cleanFacts(facts []string) ([]string, error) {
	out := make([]string, 0, len(facts))
	for _, f := range facts {
		if f = strings.TrimSpace(f); f != "" {
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return nil, ErrNoFacts
	}
	return out, nil
}
