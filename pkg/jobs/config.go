package jobs

import (
	"os"
	"strconv"
	"time"
)

// JobConfig tunes the deindex queue and its worker pool.
type JobConfig struct {
	Enabled     bool `yaml:"enabled" mapstructure:"enabled"`
	Concurrency int  `yaml:"concurrency" mapstructure:"concurrency"`
	// MaxRetries is the number of claims after which a job stays failed.
	MaxRetries int `yaml:"maxRetries" mapstructure:"maxRetries"`
	// InClaimRetries are quick backoff retries before a claim gives up.
	InClaimRetries int           `yaml:"inClaimRetries" mapstructure:"inClaimRetries"`
	RetryBaseDelay time.Duration `yaml:"retryBaseDelay" mapstructure:"retryBaseDelay"`
	RetryMaxDelay  time.Duration `yaml:"retryMaxDelay" mapstructure:"retryMaxDelay"`
	PollInterval   time.Duration `yaml:"pollInterval" mapstructure:"pollInterval"`
	// ClaimTimeout after which a running job is assumed orphaned and requeued.
	ClaimTimeout  time.Duration `yaml:"claimTimeout" mapstructure:"claimTimeout"`
	RetentionDays int           `yaml:"retentionDays" mapstructure:"retentionDays"`
}

func DefaultJobConfig() *JobConfig {
	return &JobConfig{
		Enabled:        true,
		Concurrency:    2,
		MaxRetries:     8,
		InClaimRetries: 2,
		RetryBaseDelay: 2 * time.Second,
		RetryMaxDelay:  5 * time.Minute,
		PollInterval:   5 * time.Second,
		ClaimTimeout:   10 * time.Minute,
		RetentionDays:  7,
	}
}

// RequeueDelay is the wait before the next claim of a job that has failed
// attempt times: RetryBaseDelay doubled per failure, capped at RetryMaxDelay.
func (c *JobConfig) RequeueDelay(attempt int) time.Duration {
	d := c.RetryBaseDelay
	for i := 1; i < attempt; i++ {
		if d >= c.RetryMaxDelay {
			break
		}
		d *= 2
	}
	return min(d, c.RetryMaxDelay)
}

// JobConfigFromEnv overlays RAG_JOB_* variables on the defaults. Durations
// use Go syntax ("30s", "2m"); values that do not parse or are out of range
// are ignored.
func JobConfigFromEnv() *JobConfig {
	cfg := DefaultJobConfig()
	positive := func(n int) bool { return n > 0 }

	if b, err := strconv.ParseBool(os.Getenv("RAG_JOB_ENABLED")); err == nil {
		cfg.Enabled = b
	}
	envInt("RAG_JOB_CONCURRENCY", &cfg.Concurrency, positive)
	envInt("RAG_JOB_MAX_RETRIES", &cfg.MaxRetries, func(n int) bool { return n >= 0 })
	envInt("RAG_JOB_IN_CLAIM_RETRIES", &cfg.InClaimRetries, func(n int) bool { return n >= 0 })
	envInt("RAG_JOB_RETENTION_DAYS", &cfg.RetentionDays, positive)
	envDuration("RAG_JOB_POLL_INTERVAL", &cfg.PollInterval)
	envDuration("RAG_JOB_RETRY_BASE_DELAY", &cfg.RetryBaseDelay)
	envDuration("RAG_JOB_RETRY_MAX_DELAY", &cfg.RetryMaxDelay)
	envDuration("RAG_JOB_CLAIM_TIMEOUT", &cfg.ClaimTimeout)
	return cfg
}

func envInt(key string, dst *int, ok func(int) bool) {
	if n, err := strconv.Atoi(os.Getenv(key)); err == nil && ok(n) {
		*dst = n
	}
}

func envDuration(key string, dst *time.Duration) {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil && d > 0 {
		*dst = d
	}
}
