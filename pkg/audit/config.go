package audit

import (
	"os"
	"strconv"
	"time"
)

// AuditConfig controls which mutations are recorded and how long they are kept.
type AuditConfig struct {
	Enabled bool `yaml:"enabled" mapstructure:"enabled"`
	// LogFailures records mutations that were rejected with a 4xx or 5xx status.
	LogFailures     bool          `yaml:"logFailures" mapstructure:"logFailures"`
	RetentionDays   int           `yaml:"retentionDays" mapstructure:"retentionDays"`
	CleanupInterval time.Duration `yaml:"cleanupInterval" mapstructure:"cleanupInterval"`
}

// DefaultAuditConfig keeps ninety days of events, including failures.
func DefaultAuditConfig() *AuditConfig {
	return &AuditConfig{
		Enabled:         true,
		LogFailures:     true,
		RetentionDays:   90,
		CleanupInterval: 24 * time.Hour,
	}
}

// Retention is the age after which events become eligible for deletion.
// Zero disables retention.
func (c *AuditConfig) Retention() time.Duration {
	if c == nil || c.RetentionDays <= 0 {
		return 0
	}
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// AuditConfigFromEnv overlays RAG_AUDIT_* variables on the defaults.
// Unparseable values are ignored.
func AuditConfigFromEnv() *AuditConfig {
	cfg := DefaultAuditConfig()
	envBool("RAG_AUDIT_ENABLED", &cfg.Enabled)
	envBool("RAG_AUDIT_LOG_FAILURES", &cfg.LogFailures)
	if days, ok := envInt("RAG_AUDIT_RETENTION_DAYS"); ok && days > 0 {
		cfg.RetentionDays = days
	}
	if v := os.Getenv("RAG_AUDIT_CLEANUP_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			cfg.CleanupInterval = d
		}
	}
	return cfg
}

func envBool(key string, dst *bool) {
	if v, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func envInt(key string) (int, bool) {
	v, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	return n, err == nil
}
