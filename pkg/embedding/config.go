package embedding

import (
	"os"
	"strconv"
)

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderHash   = "hash"
)

// Config selects and configures the embedding provider.
type Config struct {
	Provider     string // "openai" or "hash". Default "hash".
	Model        string // OpenAI model name. Default text-embedding-3-small.
	APIKey       string
	BaseURL      string // Optional OpenAI-compatible endpoint.
	Dimension    int    // Vector size. Default 256.
	ChunkSize    int    // Characters per chunk before pooling. Default 2000.
	ChunkOverlap int    // Default 200.
}

// DefaultConfig returns the default embedding configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:     ProviderHash,
		Model:        "text-embedding-3-small",
		Dimension:    256,
		ChunkSize:    2000,
		ChunkOverlap: 200,
	}
}

// ConfigFromEnv loads config from environment variables.
// RAG_EMBEDDING_PROVIDER, RAG_EMBEDDING_MODEL, RAG_EMBEDDING_DIMENSION,
// RAG_EMBEDDING_CHUNK_SIZE, RAG_EMBEDDING_CHUNK_OVERLAP, OPENAI_API_KEY,
// OPENAI_BASE_URL
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("RAG_EMBEDDING_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("RAG_EMBEDDING_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("RAG_EMBEDDING_DIMENSION"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Dimension = n
		}
	}
	if v := os.Getenv("RAG_EMBEDDING_CHUNK_SIZE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ChunkSize = n
		}
	}
	if v := os.Getenv("RAG_EMBEDDING_CHUNK_OVERLAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.ChunkOverlap = n
		}
	}
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	return cfg
}
