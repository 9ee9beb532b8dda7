package ha

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDefaultLockConfig(t *testing.T) {
	t.Setenv("RAG_INSTANCE_ID", "")

	cfg := DefaultLockConfig()
	assert.True(t, cfg.MigrationLockEnabled)
	assert.Equal(t, 5*time.Second, cfg.TransitionTimeout)
	assert.Equal(t, 5*time.Minute, cfg.StaleLockAge)
	assert.NotEmpty(t, cfg.Identity)
}

func TestLockConfigFromEnv(t *testing.T) {
	tests := []struct {
		name  string
		envs  map[string]string
		check func(t *testing.T, cfg *LockConfig)
	}{
		{
			name: "defaults",
			envs: map[string]string{},
			check: func(t *testing.T, cfg *LockConfig) {
				assert.True(t, cfg.MigrationLockEnabled)
				assert.Equal(t, 5*time.Second, cfg.TransitionTimeout)
			},
		},
		{
			name: "migration lock disabled",
			envs: map[string]string{"RAG_LOCK_MIGRATION_ENABLED": "false"},
			check: func(t *testing.T, cfg *LockConfig) {
				assert.False(t, cfg.MigrationLockEnabled)
			},
		},
		{
			name: "custom durations",
			envs: map[string]string{
				"RAG_LOCK_TRANSITION_TIMEOUT_MS": "250",
				"RAG_LOCK_STALE_SECONDS":         "30",
			},
			check: func(t *testing.T, cfg *LockConfig) {
				assert.Equal(t, 250*time.Millisecond, cfg.TransitionTimeout)
				assert.Equal(t, 30*time.Second, cfg.StaleLockAge)
			},
		},
		{
			name: "invalid values ignored",
			envs: map[string]string{"RAG_LOCK_TRANSITION_TIMEOUT_MS": "soon"},
			check: func(t *testing.T, cfg *LockConfig) {
				assert.Equal(t, 5*time.Second, cfg.TransitionTimeout)
			},
		},
		{
			name: "instance identity",
			envs: map[string]string{"RAG_INSTANCE_ID": "replica-2"},
			check: func(t *testing.T, cfg *LockConfig) {
				assert.Equal(t, "replica-2", cfg.Identity)
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for _, key := range []string{
				"RAG_LOCK_MIGRATION_ENABLED",
				"RAG_LOCK_TRANSITION_TIMEOUT_MS",
				"RAG_LOCK_STALE_SECONDS",
				"RAG_INSTANCE_ID",
			} {
				t.Setenv(key, "")
			}
			for k, v := range tt.envs {
				t.Setenv(k, v)
			}
			tt.check(t, LockConfigFromEnv())
		})
	}
}
