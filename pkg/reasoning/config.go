package reasoning

import (
	"os"
	"strconv"
	"time"
)

// Providers.
const (
	ProviderHeuristic = "heuristic"
	ProviderOpenAI    = "openai"
	ProviderLangChain = "langchain"
)

// Config selects the reasoning provider and bounds its use.
type Config struct {
	Provider      string        // heuristic, openai or langchain. Default heuristic.
	Model         string        // Default gpt-4o-mini.
	APIKey        string
	BaseURL       string
	Timeout       time.Duration // Per-call timeout. Default 20s.
	RatePerSecond float64       // Sustained calls per second. Default 5.
	Burst         int           // Default 5.
	Concurrency   int           // Max calls in flight per analysis. Default 4.
}

// DefaultConfig returns the default reasoning configuration.
func DefaultConfig() *Config {
	return &Config{
		Provider:      ProviderHeuristic,
		Model:         "gpt-4o-mini",
		Timeout:       20 * time.Second,
		RatePerSecond: 5,
		Burst:         5,
		Concurrency:   4,
	}
}

// ConfigFromEnv loads config from environment variables.
// RAG_REASONING_PROVIDER, RAG_REASONING_MODEL, RAG_REASONING_TIMEOUT_SECONDS,
// RAG_REASONING_RATE, RAG_REASONING_BURST, RAG_REASONING_CONCURRENCY,
// OPENAI_API_KEY, OPENAI_BASE_URL
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("RAG_REASONING_PROVIDER"); v != "" {
		cfg.Provider = v
	}
	if v := os.Getenv("RAG_REASONING_MODEL"); v != "" {
		cfg.Model = v
	}
	if v := os.Getenv("RAG_REASONING_TIMEOUT_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Timeout = time.Duration(n) * time.Second
		}
	}
	if v := os.Getenv("RAG_REASONING_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			cfg.RatePerSecond = f
		}
	}
	if v := os.Getenv("RAG_REASONING_BURST"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Burst = n
		}
	}
	if v := os.Getenv("RAG_REASONING_CONCURRENCY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Concurrency = n
		}
	}
	cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	cfg.BaseURL = os.Getenv("OPENAI_BASE_URL")
	return cfg
}
