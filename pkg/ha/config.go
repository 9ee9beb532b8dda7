// Package ha provides locking primitives for running the server with
// multiple replicas: a migration lock around schema changes and a
// per-artifact lock that serializes status transitions.
package ha

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// LockConfig holds configuration for the locking primitives.
type LockConfig struct {
	// MigrationLockEnabled controls whether AutoMigrate runs under the
	// migration lock.
	MigrationLockEnabled bool

	// TransitionTimeout bounds how long a status transition waits for the
	// artifact lock before failing with Conflict.
	TransitionTimeout time.Duration

	// StaleLockAge is the age after which a table-based migration lock row
	// is considered abandoned.
	StaleLockAge time.Duration

	// Identity names this replica in lock rows and logs.
	Identity string
}

// DefaultLockConfig returns a LockConfig with sensible defaults.
func DefaultLockConfig() *LockConfig {
	return &LockConfig{
		MigrationLockEnabled: true,
		TransitionTimeout:    5 * time.Second,
		StaleLockAge:         5 * time.Minute,
		Identity:             defaultIdentity(),
	}
}

// LockConfigFromEnv reads lock configuration from environment variables,
// falling back to defaults for any unset variable.
//
// Environment variables:
//   - RAG_LOCK_MIGRATION_ENABLED: "true" or "false" (default: "true")
//   - RAG_LOCK_TRANSITION_TIMEOUT_MS: milliseconds (default: 5000)
//   - RAG_LOCK_STALE_SECONDS: seconds (default: 300)
//   - RAG_INSTANCE_ID: replica identity (default: hostname)
func LockConfigFromEnv() *LockConfig {
	cfg := DefaultLockConfig()

	if v := os.Getenv("RAG_LOCK_MIGRATION_ENABLED"); v != "" {
		cfg.MigrationLockEnabled = strings.EqualFold(v, "true") || v == "1"
	}
	if v := os.Getenv("RAG_LOCK_TRANSITION_TIMEOUT_MS"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			cfg.TransitionTimeout = time.Duration(ms) * time.Millisecond
		}
	}
	if v := os.Getenv("RAG_LOCK_STALE_SECONDS"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			cfg.StaleLockAge = time.Duration(secs) * time.Second
		}
	}
	return cfg
}

func defaultIdentity() string {
	if v := os.Getenv("RAG_INSTANCE_ID"); v != "" {
		return v
	}
	hostname, err := os.Hostname()
	if err != nil || hostname == "" {
		return "unknown"
	}
	return hostname
}
