package events

import (
	"os"
	"strings"
	"time"
)

// Sinks.
const (
	SinkNone  = "none"
	SinkLog   = "log"
	SinkKafka = "kafka"
)

// Config selects where lifecycle events go.
type Config struct {
	Sink         string        // "none", "log" or "kafka". Default "log".
	Brokers      []string      // Kafka bootstrap brokers.
	Topic        string        // Default "rag.artifact-events".
	WriteTimeout time.Duration // Default 5s.
}

// DefaultConfig returns the default event configuration.
func DefaultConfig() *Config {
	return &Config{
		Sink:         SinkLog,
		Topic:        "rag.artifact-events",
		WriteTimeout: 5 * time.Second,
	}
}

// ConfigFromEnv loads config from environment variables.
// RAG_EVENTS_SINK, RAG_EVENTS_BROKERS (comma separated), RAG_EVENTS_TOPIC,
// RAG_EVENTS_WRITE_TIMEOUT (Go duration)
func ConfigFromEnv() *Config {
	cfg := DefaultConfig()
	if v := os.Getenv("RAG_EVENTS_SINK"); v != "" {
		cfg.Sink = v
	}
	if v := os.Getenv("RAG_EVENTS_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.Brokers = append(cfg.Brokers, b)
			}
		}
	}
	if v := os.Getenv("RAG_EVENTS_TOPIC"); v != "" {
		cfg.Topic = v
	}
	if v := os.Getenv("RAG_EVENTS_WRITE_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.WriteTimeout = d
		}
	}
	return cfg
}
