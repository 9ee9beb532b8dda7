package cache

import (
	"os"
	"strconv"
	"time"
)

// CacheConfig sizes the in-process caches. Disabling it means every query is
// re-embedded and every module tree request reaches the store.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled" mapstructure:"enabled"`
	MaxSize      int           `yaml:"maxSize" mapstructure:"maxSize"`
	EmbeddingTTL time.Duration `yaml:"embeddingTTL" mapstructure:"embeddingTTL"`
	TreeTTL      time.Duration `yaml:"treeTTL" mapstructure:"treeTTL"`
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:      true,
		MaxSize:      1000,
		EmbeddingTTL: 10 * time.Minute,
		TreeTTL:      30 * time.Second,
	}
}

// CacheConfigFromEnv overlays RAG_CACHE_ENABLED, RAG_CACHE_MAX_SIZE,
// RAG_CACHE_EMBEDDING_TTL and RAG_CACHE_TREE_TTL on the defaults. TTLs are
// Go durations or a bare number of seconds. Invalid values are ignored.
func CacheConfigFromEnv() *CacheConfig {
	cfg := DefaultCacheConfig()
	if v, ok := os.LookupEnv("RAG_CACHE_ENABLED"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Enabled = b
		}
	}
	if n, err := strconv.Atoi(os.Getenv("RAG_CACHE_MAX_SIZE")); err == nil && n > 0 {
		cfg.MaxSize = n
	}
	if d, ok := ttlFromEnv("RAG_CACHE_EMBEDDING_TTL"); ok {
		cfg.EmbeddingTTL = d
	}
	if d, ok := ttlFromEnv("RAG_CACHE_TREE_TTL"); ok {
		cfg.TreeTTL = d
	}
	return cfg
}

func ttlFromEnv(key string) (time.Duration, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second, secs > 0
	}
	d, err := time.ParseDuration(v)
	return d, err == nil && d > 0
}
