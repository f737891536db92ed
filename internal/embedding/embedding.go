// Package embedding turns token titles into vectors.
package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/openai/openai-go"
	genai "google.golang.org/genai"
)

// Embedder maps a text to a dense vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// -------- Gemini --------

const DefaultGeminiModel = "text-embedding-004"

type GeminiEmbedder struct {
	cli   *genai.Client
	model string
}

func NewGeminiEmbedder(cli *genai.Client, model string) (*GeminiEmbedder, error) {
	if cli == nil {
		return nil, fmt.Errorf("embedding: genai client is nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultGeminiModel
	}
	return &GeminiEmbedder{cli: cli, model: model}, nil
}

func (g *GeminiEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := g.cli.Models.EmbedContent(ctx, g.model,
		[]*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: text}}}}, nil)
	if err != nil {
		return nil, fmt.Errorf("embedding: gemini: %w", err)
	}
	if len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil {
		return nil, fmt.Errorf("embedding: gemini returned no vectors")
	}
	return resp.Embeddings[0].Values, nil
}

// -------- OpenAI --------

const DefaultOpenAIModel = "text-embedding-3-small"

type OpenAIEmbedder struct {
	cli   *openai.Client
	model string
}

func NewOpenAIEmbedder(cli *openai.Client, model string) (*OpenAIEmbedder, error) {
	if cli == nil {
		return nil, fmt.Errorf("embedding: openai client is nil")
	}
	if strings.TrimSpace(model) == "" {
		model = DefaultOpenAIModel
	}
	return &OpenAIEmbedder{cli: cli, model: model}, nil
}

func (o *OpenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := o.cli.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(o.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
	})
	if err != nil {
		return nil, fmt.Errorf("embedding: openai: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding: openai returned no vectors")
	}
	out := make([]float32, len(resp.Data[0].Embedding))
	for i, v := range resp.Data[0].Embedding {
		out[i] = float32(v)
	}
	return out, nil
}

// -------- Hashing (offline) --------

// HashEmbedder derives a deterministic unit vector from character trigrams.
// It needs no network and backs the fake provider.
type HashEmbedder struct {
	Dim int
}

func (h HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	dim := h.Dim
	if dim <= 0 {
		dim = 64
	}
	out := make([]float32, dim)
	s := "  " + strings.ToLower(text) + "  "
	for i := 0; i+3 <= len(s); i++ {
		f := fnv.New32a()
		_, _ = f.Write([]byte(s[i : i+3]))
		out[f.Sum32()%uint32(dim)]++
	}
	var norm float64
	for _, v := range out {
		norm += float64(v * v)
	}
	if norm == 0 {
		return out, nil
	}
	inv := float32(1 / math.Sqrt(norm))
	for i := range out {
		out[i] *= inv
	}
	return out, nil
}

// -------- Cache --------

// Cached memoizes vectors by exact text in an LRU.
type Cached struct {
	next  Embedder
	cache *lru.Cache[string, []float32]
}

func NewCached(next Embedder, size int) (*Cached, error) {
	if next == nil {
		return nil, fmt.Errorf("embedding: inner embedder is nil")
	}
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, []float32](size)
	if err != nil {
		return nil, err
	}
	return &Cached{next: next, cache: c}, nil
}

func (c *Cached) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := c.cache.Get(text); ok {
		return append([]float32(nil), v...), nil
	}
	v, err := c.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	c.cache.Add(text, append([]float32(nil), v...))
	return v, nil
}
