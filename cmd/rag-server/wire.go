package main

import (
	"context"
	"fmt"
	"log/slog"

	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/api"
	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/audit"
	"github.com/Yinkun-Cheng/RAG/pkg/cache"
	"github.com/Yinkun-Cheng/RAG/pkg/config"
	"github.com/Yinkun-Cheng/RAG/pkg/db"
	"github.com/Yinkun-Cheng/RAG/pkg/embedding"
	"github.com/Yinkun-Cheng/RAG/pkg/events"
	"github.com/Yinkun-Cheng/RAG/pkg/ha"
	"github.com/Yinkun-Cheng/RAG/pkg/impact"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/index/dbkeyword"
	"github.com/Yinkun-Cheng/RAG/pkg/index/memory"
	"github.com/Yinkun-Cheng/RAG/pkg/index/pgvector"
	"github.com/Yinkun-Cheng/RAG/pkg/index/weaviate"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/knowledge"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
	"github.com/Yinkun-Cheng/RAG/pkg/reasoning"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
)

type app struct {
	deps      api.Deps
	defaults  *retrieval.DefaultsHolder
	workers   *jobs.WorkerPool
	retention *audit.RetentionWorker
	ready     func(ctx context.Context) error
	closers   []func() error
	logger    *slog.Logger
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
}

// migrator is implemented by every store that owns tables.
type migrator interface {
	AutoMigrate() error
}

func build(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{logger: logger}

	gormDB, err := db.Open(cfg.Database.Type, cfg.Database.DSN, db.DefaultOptions())
	if err != nil {
		return nil, err
	}
	if sqlDB, err := gormDB.DB(); err == nil {
		a.closers = append(a.closers, sqlDB.Close)
	}

	artifacts := artifact.NewStore(gormDB)
	modules := moduletree.NewStore(gormDB, artifacts)
	jobStore := jobs.NewJobStore(gormDB)
	auditStore := audit.NewStore(gormDB)

	svc, ready, extra, err := indexServices(ctx, cfg, gormDB, logger)
	if err != nil {
		return nil, err
	}
	a.ready = ready

	sync := index.NewSynchronizer(gormDB, artifacts, jobStore, svc,
		index.WithLogger(logger),
		index.WithLocker(ha.NewTransitionLocker(gormDB, cfg.Lock)),
	)
	projects := project.NewStore(gormDB,
		project.WithReferenceCounter(artifacts),
		project.WithCascade(sync, modules, artifacts),
	)

	migrations := append([]migrator{projects, artifacts, modules, jobStore, sync.Entries(), auditStore}, extra...)
	lock := ha.NewMigrationLocker(gormDB, cfg.Lock)
	if err := lock.WithLock(ctx, func() error {
		for _, m := range migrations {
			if err := m.AutoMigrate(); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	publisher, err := events.New(cfg.Events, logger)
	if err != nil {
		return nil, fmt.Errorf("events: %w", err)
	}
	a.closers = append(a.closers, publisher.Close)

	reasoner, err := reasoning.New(cfg.Reasoning, logger)
	if err != nil {
		return nil, fmt.Errorf("reasoning: %w", err)
	}

	a.defaults = retrieval.NewDefaultsHolder(cfg.Search)
	retriever := retrieval.New(sync.Entries(), svc, retrieval.WithDefaults(a.defaults), retrieval.WithLogger(logger))

	a.workers = jobs.NewWorkerPool(jobStore, sync, cfg.Jobs, logger)
	a.workers.SetObserver(metrics.JobObserver{})
	sync.SetNotifier(a.workers)

	if cfg.Audit.Enabled {
		a.retention = audit.NewRetentionWorker(auditStore, cfg.Audit, logger)
	}

	a.deps = api.Deps{
		DB:          gormDB,
		Projects:    projects,
		Modules:     modules,
		Artifacts:   artifacts,
		Knowledge:   knowledge.NewService(artifacts, sync, knowledge.WithEvents(publisher), knowledge.WithLogger(logger)),
		Sync:        sync,
		Jobs:        jobStore,
		Retriever:   retriever,
		Analyzer:    impact.NewAnalyzer(artifacts, projects, retriever, reasoner, cfg.Impact, logger),
		Audit:       auditStore,
		AuditConfig: cfg.Audit,
		Cache:       cache.NewManager(cfg.Cache),
	}
	return a, nil
}

// indexServices builds the embedding, keyword and vector backends named
// in the configuration. The returned check reports backend readiness and
// the migrators own backend tables.
func indexServices(ctx context.Context, cfg *config.Config, gormDB *gorm.DB, logger *slog.Logger) (index.Services, func(context.Context) error, []migrator, error) {
	var (
		svc        index.Services
		migrations []migrator
		checks     []func(context.Context) error
	)

	embedder, err := embedding.New(cfg.Embedding, logger)
	if err != nil {
		return svc, nil, nil, fmt.Errorf("embedding: %w", err)
	}
	svc.Embedder = embedding.NewCached(embedder, cfg.Cache)

	var wv *weaviate.Index
	if cfg.Index.Keyword == config.BackendWeaviate || cfg.Index.Vector == config.BackendWeaviate {
		wv, err = weaviate.New(cfg.Index.Weaviate, logger)
		if err != nil {
			return svc, nil, nil, fmt.Errorf("weaviate: %w", err)
		}
		if err := wv.EnsureSchema(ctx); err != nil {
			return svc, nil, nil, fmt.Errorf("weaviate schema: %w", err)
		}
		checks = append(checks, wv.EnsureSchema)
	}

	switch cfg.Index.Keyword {
	case config.BackendMemory:
		svc.Keyword = memory.NewKeywordIndex()
	case config.BackendDB:
		kw := dbkeyword.New(gormDB)
		migrations = append(migrations, kw)
		svc.Keyword = kw
	case config.BackendWeaviate:
		svc.Keyword = wv
	}

	switch cfg.Index.Vector {
	case config.BackendMemory:
		svc.Vector = memory.NewVectorIndex()
	case config.BackendWeaviate:
		svc.Vector = wv.Vectors()
	case config.BackendPGVector:
		pv, err := pgvector.New(gormDB, cfg.Embedding.Dimension)
		if err != nil {
			return svc, nil, nil, fmt.Errorf("pgvector: %w", err)
		}
		if err := pv.EnsureSchema(ctx); err != nil {
			return svc, nil, nil, fmt.Errorf("pgvector schema: %w", err)
		}
		svc.Vector = pv
	}

	ready := func(ctx context.Context) error {
		for _, c := range checks {
			if err := c(ctx); err != nil {
				return err
			}
		}
		return nil
	}
	return svc, ready, migrations, nil
}
