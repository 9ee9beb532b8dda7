// Package embedding provides the EmbeddingService implementations: an
// OpenAI-backed embedder, a deterministic feature-hashing embedder for
// offline use, and a caching decorator.
package embedding

import (
	"fmt"
	"log/slog"
	"math"

	"github.com/Yinkun-Cheng/RAG/pkg/index"
)

// New builds the embedder selected by cfg.
func New(cfg *Config, logger *slog.Logger) (index.EmbeddingService, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Provider {
	case ProviderHash, "":
		logger.Info("using hashing embedder", "dimension", cfg.Dimension)
		return NewHash(cfg.Dimension), nil
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("embedding provider %q requires OPENAI_API_KEY", cfg.Provider)
		}
		logger.Info("using OpenAI embedder", "model", cfg.Model, "dimension", cfg.Dimension)
		return NewOpenAI(cfg)
	}
	return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
}

// normalize scales v to unit length in place. A zero vector is left as is.
func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return v
	}
	n := float32(math.Sqrt(sum))
	for i := range v {
		v[i] /= n
	}
	return v
}
