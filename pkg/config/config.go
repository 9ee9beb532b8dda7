// Package config loads the server configuration from an optional YAML file
// and RAG_ environment variables, and reloads the hot-swappable parts when
// the file changes.
package config

import (
	"fmt"
	"time"

	"github.com/Yinkun-Cheng/RAG/pkg/audit"
	"github.com/Yinkun-Cheng/RAG/pkg/cache"
	"github.com/Yinkun-Cheng/RAG/pkg/embedding"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/ha"
	"github.com/Yinkun-Cheng/RAG/pkg/impact"
	"github.com/Yinkun-Cheng/RAG/pkg/index/weaviate"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
)

// Index backends.
const (
	BackendMemory   = "memory"
	BackendDB       = "db"
	BackendWeaviate = "weaviate"
	BackendPGVector = "pgvector"
)

// Config is the complete server configuration.
type Config struct {
	Server    ServerConfig       `yaml:"server" mapstructure:"server"`
	Database  DatabaseConfig     `yaml:"database" mapstructure:"database"`
	Index     IndexConfig        `yaml:"index" mapstructure:"index"`
	Search    retrieval.Defaults `yaml:"search" mapstructure:"search"`
	Embedding *embedding.Config  `yaml:"embedding" mapstructure:"embedding"`
	Reasoning *reasoning.Config  `yaml:"reasoning" mapstructure:"reasoning"`
	Impact    *impact.Config     `yaml:"impact" mapstructure:"impact"`
	Events    *events.Config     `yaml:"events" mapstructure:"events"`
	Jobs      *jobs.JobConfig    `yaml:"jobs" mapstructure:"jobs"`
	Cache     *cache.CacheConfig `yaml:"cache" mapstructure:"cache"`
	Lock      *ha.LockConfig     `yaml:"lock" mapstructure:"lock"`
	Audit     *audit.AuditConfig `yaml:"audit" mapstructure:"audit"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Listen          string        `yaml:"listen" mapstructure:"listen"`
	LogFormat       string        `yaml:"logFormat" mapstructure:"logFormat"`
	LogLevel        string        `yaml:"logLevel" mapstructure:"logLevel"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" mapstructure:"shutdownTimeout"`
	CORSOrigins     []string      `yaml:"corsOrigins" mapstructure:"corsOrigins"`
	OTLPEndpoint    string        `yaml:"otlpEndpoint" mapstructure:"otlpEndpoint"`
}

// DatabaseConfig selects the artifact database.
type DatabaseConfig struct {
	Type string `yaml:"type" mapstructure:"type"`
	DSN  string `yaml:"dsn" mapstructure:"dsn"`
}

// IndexConfig selects the keyword and vector index backends.
type IndexConfig struct {
	Keyword  string          `yaml:"keyword" mapstructure:"keyword"`
	Vector   string          `yaml:"vector" mapstructure:"vector"`
	Weaviate weaviate.Config `yaml:"weaviate" mapstructure:"weaviate"`
}

// Default returns the built-in configuration. Sections owned by other
// packages start from their own environment loaders.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Listen:          ":8080",
			LogFormat:       "text",
			LogLevel:        "info",
			ShutdownTimeout: 15 * time.Second,
			CORSOrigins:     []string{"*"},
		},
		Database: DatabaseConfig{
			Type: "sqlite",
			DSN:  "rag.db",
		},
		Index: IndexConfig{
			Keyword:  BackendDB,
			Vector:   BackendMemory,
			Weaviate: weaviate.Config{ClassName: weaviate.DefaultClassName},
		},
		Search:    retrieval.DefaultDefaults(),
		Embedding: embedding.ConfigFromEnv(),
		Reasoning: reasoning.ConfigFromEnv(),
		Impact:    impact.ConfigFromEnv(),
		Events:    events.ConfigFromEnv(),
		Jobs:      jobs.JobConfigFromEnv(),
		Cache:     cache.CacheConfigFromEnv(),
		Lock:      ha.LockConfigFromEnv(),
		Audit:     audit.AuditConfigFromEnv(),
	}
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.Database.Type {
	case "sqlite", "postgres", "mysql":
	default:
		return fmt.Errorf("unsupported database type %q", c.Database.Type)
	}
	switch c.Index.Keyword {
	case BackendMemory, BackendDB, BackendWeaviate:
	default:
		return fmt.Errorf("unsupported keyword index %q", c.Index.Keyword)
	}
	switch c.Index.Vector {
	case BackendMemory, BackendWeaviate:
	case BackendPGVector:
		if c.Database.Type != "postgres" {
			return fmt.Errorf("vector index %q requires database type postgres", c.Index.Vector)
		}
	default:
		return fmt.Errorf("unsupported vector index %q", c.Index.Vector)
	}
	if (c.Index.Keyword == BackendWeaviate || c.Index.Vector == BackendWeaviate) && c.Index.Weaviate.URL == "" {
		return fmt.Errorf("weaviate index requires index.weaviate.url")
	}
	if err := c.Search.Validate(); err != nil {
		return fmt.Errorf("search: %w", err)
	}
	return nil
}
