package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sashabaranov/go-openai"
	"github.com/tmc/langchaingo/textsplitter"
)

// OpenAI embeds text with the OpenAI embeddings API. Long text is split
// into overlapping chunks which are embedded in one request and mean
// pooled, weighted by chunk length.
type OpenAI struct {
	client   *openai.Client
	model    openai.EmbeddingModel
	dim      int
	splitter textsplitter.TextSplitter
}

// NewOpenAI creates an OpenAI embedder.
func NewOpenAI(cfg *Config) (*OpenAI, error) {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	return newOpenAI(openai.NewClientWithConfig(oc), cfg)
}

func newOpenAI(client *openai.Client, cfg *Config) (*OpenAI, error) {
	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("chunk overlap %d must be smaller than chunk size %d", cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return &OpenAI{
		client: client,
		model:  openai.EmbeddingModel(cfg.Model),
		dim:    cfg.Dimension,
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(cfg.ChunkSize),
			textsplitter.WithChunkOverlap(cfg.ChunkOverlap),
		),
	}, nil
}

// Name implements index.Backend.
func (*OpenAI) Name() string { return "openai" }

// Embed implements index.EmbeddingService.
func (o *OpenAI) Embed(ctx context.Context, text string) ([]float32, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("cannot embed empty text")
	}
	chunks, err := o.splitter.SplitText(text)
	if err != nil {
		return nil, fmt.Errorf("split text: %w", err)
	}
	if len(chunks) == 0 {
		chunks = []string{text}
	}

	req := openai.EmbeddingRequest{
		Input: chunks,
		Model: o.model,
	}
	if o.dim > 0 {
		req.Dimensions = o.dim
	}
	resp, err := o.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(chunks) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(chunks), len(resp.Data))
	}

	var pooled []float32
	var total float32
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(chunks) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		if pooled == nil {
			pooled = make([]float32, len(d.Embedding))
		}
		if len(d.Embedding) != len(pooled) {
			return nil, errors.New("embeddings have inconsistent dimensions")
		}
		w := float32(len(chunks[d.Index]))
		total += w
		for i, x := range d.Embedding {
			pooled[i] += w * x
		}
	}
	for i := range pooled {
		pooled[i] /= total
	}
	return normalize(pooled), nil
}
