package reasoning

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/Yinkun-Cheng/RAG/pkg/errs"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
)

// Guard bounds each call to a Service with a timeout and a shared rate
// limit, and reports failures as DependencyFailure.
type Guard struct {
	next    Service
	timeout time.Duration
	limiter *rate.Limiter
	logger  *slog.Logger
}

// NewGuard wraps next.
func NewGuard(next Service, cfg *Config, logger *slog.Logger) *Guard {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	burst := cfg.Burst
	if burst < 1 {
		burst = 1
	}
	return &Guard{
		next:    next,
		timeout: cfg.Timeout,
		limiter: rate.NewLimiter(limit, burst),
		logger:  logger,
	}
}

// ClassifyImpact implements Service.
func (g *Guard) ClassifyImpact(ctx context.Context, req Request) (*Decision, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		metrics.ObserveReasoning("rate_limited")
		return nil, errs.DependencyFailure("reasoning", err)
	}
	cctx := ctx
	if g.timeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	d, err := g.next.ClassifyImpact(cctx, req)
	switch {
	case err == nil && d == nil:
		err = errors.New("no decision returned")
	case err == nil:
		metrics.ObserveReasoning("ok")
		return d, nil
	}
	if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
		metrics.ObserveReasoning("timeout")
		err = fmt.Errorf("timed out after %s: %w", g.timeout, err)
	} else {
		metrics.ObserveReasoning("error")
	}
	g.logger.Warn("reasoning call failed", "prd", req.PRDTitle, "testcaseID", req.CandidateID, "error", err)
	return nil, errs.DependencyFailure("reasoning", err)
}

// New builds the configured provider wrapped in a Guard.
func New(cfg *Config, logger *slog.Logger) (*Guard, error) {
	var svc Service
	switch cfg.Provider {
	case ProviderHeuristic, "":
		svc = Heuristic{}
	case ProviderOpenAI:
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("reasoning provider %q requires OPENAI_API_KEY", cfg.Provider)
		}
		svc = NewOpenAI(cfg)
	case ProviderLangChain:
		lc, err := NewLangChainOpenAI(cfg)
		if err != nil {
			return nil, err
		}
		svc = lc
	default:
		return nil, fmt.Errorf("unknown reasoning provider %q", cfg.Provider)
	}
	return NewGuard(svc, cfg, logger), nil
}
