package index

import (
	"context"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/lifecycle"
)

// Metadata is stored with each external document.
type Metadata struct {
	ProjectID    string
	Kind         artifact.Kind
	Title        string
	ModuleID     string
	AppVersionID string
	Status       lifecycle.Status
	Tags         []string
}

// Filter scopes a vector search. Empty fields match everything.
type Filter struct {
	ProjectID    string
	Kinds        []artifact.Kind
	ModuleID     string
	AppVersionID string
	Status       lifecycle.Status
}

// ScoredID is one ranked search result. Scores are in [0,1].
type ScoredID struct {
	ID    string
	Score float64
}

// EmbeddingService turns text into a vector.
type EmbeddingService interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// KeywordIndexService scores documents against a text query.
type KeywordIndexService interface {
	Upsert(ctx context.Context, id, text string, meta Metadata) error
	Remove(ctx context.Context, id string) error
	// Score returns a relevance score for each candidate that matches
	// query. Scores are non-negative; callers normalize them.
	Score(ctx context.Context, query string, candidateIDs []string) (map[string]float64, error)
}

// VectorIndexService ranks documents by similarity to a query vector.
type VectorIndexService interface {
	Upsert(ctx context.Context, id string, vector []float32, meta Metadata) error
	Remove(ctx context.Context, id string) error
	Search(ctx context.Context, vector []float32, filter Filter, limit int) ([]ScoredID, error)
}

// Backend names an external service for logs and metrics.
type Backend interface {
	Name() string
}

func backendName(v any) string {
	if b, ok := v.(Backend); ok {
		return b.Name()
	}
	return "unknown"
}
