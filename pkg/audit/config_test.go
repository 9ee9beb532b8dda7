package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultAuditConfig(t *testing.T) {
	cfg := DefaultAuditConfig()
	assert.True(t, cfg.Enabled)
	assert.True(t, cfg.LogFailures)
	assert.Equal(t, 90*24*time.Hour, cfg.Retention())
	assert.Equal(t, 24*time.Hour, cfg.CleanupInterval)

	var unset *AuditConfig
	assert.Zero(t, unset.Retention())
	assert.Zero(t, (&AuditConfig{RetentionDays: -1}).Retention())
}

func TestAuditConfigFromEnv(t *testing.T) {
	for name, tc := range map[string]struct {
		env  map[string]string
		want AuditConfig
	}{
		"defaults": {
			want: *DefaultAuditConfig(),
		},
		"overrides": {
			env: map[string]string{
				"RAG_AUDIT_ENABLED":          "false",
				"RAG_AUDIT_LOG_FAILURES":     "0",
				"RAG_AUDIT_RETENTION_DAYS":   "30",
				"RAG_AUDIT_CLEANUP_INTERVAL": "6h",
			},
			want: AuditConfig{RetentionDays: 30, CleanupInterval: 6 * time.Hour},
		},
		"garbage is ignored": {
			env: map[string]string{
				"RAG_AUDIT_ENABLED":          "maybe",
				"RAG_AUDIT_RETENTION_DAYS":   "-5",
				"RAG_AUDIT_CLEANUP_INTERVAL": "soon",
			},
			want: *DefaultAuditConfig(),
		},
	} {
		t.Run(name, func(t *testing.T) {
			for k, v := range tc.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tc.want, *AuditConfigFromEnv())
		})
	}
}
