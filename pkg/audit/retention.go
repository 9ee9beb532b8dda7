package audit

import (
	"context"
	"log/slog"
	"time"
)

// RetentionWorker prunes events older than the configured retention. A pass
// runs at startup and then once per cleanup interval.
type RetentionWorker struct {
	store     *Store
	retention time.Duration
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

func NewRetentionWorker(store *Store, cfg *AuditConfig, logger *slog.Logger) *RetentionWorker {
	if cfg == nil {
		cfg = DefaultAuditConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.CleanupInterval
	if interval <= 0 {
		interval = 24 * time.Hour
	}
	return &RetentionWorker{
		store:     store,
		retention: cfg.Retention(),
		interval:  interval,
		logger:    logger.With("component", "audit-retention"),
		now:       time.Now,
	}
}

// Run blocks until ctx is done. It returns immediately when there is nothing
// to prune or no store to prune from.
func (w *RetentionWorker) Run(ctx context.Context) {
	if w.store == nil || w.retention <= 0 {
		w.logger.Debug("retention disabled")
		return
	}
	w.logger.Info("retention started", "retention", w.retention.String(), "interval", w.interval.String())

	var total int64
	for {
		total += w.cleanup(ctx)
		select {
		case <-ctx.Done():
			w.logger.Info("retention stopped", "deletedTotal", total)
			return
		case <-time.After(w.interval):
		}
	}
}

func (w *RetentionWorker) cleanup(ctx context.Context) int64 {
	cutoff := w.now().Add(-w.retention)
	n, err := w.store.DeleteOlderThan(ctx, cutoff)
	switch {
	case err != nil:
		if ctx.Err() == nil {
			w.logger.Warn("pruning audit events", "cutoff", cutoff, "error", err)
		}
		return 0
	case n > 0:
		w.logger.Info("pruned audit events", "count", n, "cutoff", cutoff)
	}
	return n
}
