package knowledge

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"google.golang.org/genai"
)

const (
	DefaultDim            = 384
	DefaultEmbeddingModel = "gemini-embedding-001"
)

// Embedder turns texts into fixed-size vectors.
type Embedder interface {
	Name() string
	Dim() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// HashEmbedder is a local feature-hashing embedder. It needs no model or
// network access and gives texts sharing words a high cosine similarity.
type HashEmbedder struct {
	dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = DefaultDim
	}
	return &HashEmbedder{dim: dim}
}

func (e *HashEmbedder) Name() string { return "hash" }
func (e *HashEmbedder) Dim() int     { return e.dim }

func (e *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = e.embedOne(text)
	}
	return out, nil
}

func (e *HashEmbedder) embedOne(text string) []float32 {
	vec := make([]float32, e.dim)
	for _, tok := range tokenize(text) {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		idx := int(sum % uint64(e.dim))
		// sign bit spreads collisions in both directions
		if sum&(1<<63) != 0 {
			vec[idx]--
		} else {
			vec[idx]++
		}
	}
	normalize(vec)
	return vec
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	n := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= n
	}
}

// GeminiEmbedder calls the Gemini embedding API.
type GeminiEmbedder struct {
	client *genai.Client
	model  string
	dim    int
}

func NewGeminiEmbedder(ctx context.Context, apiKey, model string, dim int) (*GeminiEmbedder, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultEmbeddingModel
	}
	if dim <= 0 {
		dim = DefaultDim
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  strings.TrimSpace(apiKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	return &GeminiEmbedder{client: client, model: strings.TrimSpace(model), dim: dim}, nil
}

func (e *GeminiEmbedder) Name() string { return "gemini" }
func (e *GeminiEmbedder) Dim() int     { return e.dim }

func (e *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	contents := make([]*genai.Content, len(texts))
	for i, t := range texts {
		contents[i] = genai.NewContentFromText(t, genai.RoleUser)
	}
	dim := int32(e.dim)
	res, err := e.client.Models.EmbedContent(ctx, e.model, contents, &genai.EmbedContentConfig{
		OutputDimensionality: &dim,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini embed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("gemini embed: got %d embeddings for %d texts", len(res.Embeddings), len(texts))
	}
	out := make([][]float32, len(texts))
	for i, emb := range res.Embeddings {
		if emb == nil || len(emb.Values) != e.dim {
			return nil, fmt.Errorf("gemini embed: embedding %d has wrong dimension", i)
		}
		vec := append([]float32(nil), emb.Values...)
		// truncated gemini embeddings are not unit length
		normalize(vec)
		out[i] = vec
	}
	return out, nil
}

// NewEmbedder picks an embedder: gemini when a key is available (or
// explicitly requested), otherwise the local hash embedder.
func NewEmbedder(ctx context.Context, provider, apiKey, model string, dim int) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "", "auto":
		if strings.TrimSpace(apiKey) == "" {
			return NewHashEmbedder(dim), nil
		}
		return NewGeminiEmbedder(ctx, apiKey, model, dim)
	case "gemini":
		return NewGeminiEmbedder(ctx, apiKey, model, dim)
	case "hash":
		return NewHashEmbedder(dim), nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider %q", provider)
	}
}
