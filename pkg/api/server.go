// Package api serves the JSON HTTP surface under /api/v1.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"gorm.io/gorm"

	"github.com/Yinkun-Cheng/RAG/pkg/artifact"
	"github.com/Yinkun-Cheng/RAG/pkg/audit"
	"github.com/Yinkun-Cheng/RAG/pkg/cache"
	"github.com/Yinkun-Cheng/RAG/pkg/impact"
	"github.com/Yinkun-Cheng/RAG/pkg/index"
	"github.com/Yinkun-Cheng/RAG/pkg/jobs"
	"github.com/Yinkun-Cheng/RAG/pkg/knowledge"
	"github.com/Yinkun-Cheng/RAG/pkg/metrics"
	"github.com/Yinkun-Cheng/RAG/pkg/moduletree"
	"github.com/Yinkun-Cheng/RAG/pkg/project"
	"github.com/Yinkun-Cheng/RAG/pkg/retrieval"
	"github.com/Yinkun-Cheng/RAG/pkg/tenancy"
)

// Deps are the components the API serves. Audit and Cache are optional.
type Deps struct {
	DB          *gorm.DB
	Projects    *project.Store
	Modules     *moduletree.Store
	Artifacts   *artifact.Store
	Knowledge   *knowledge.Service
	Sync        *index.Synchronizer
	Jobs        *jobs.JobStore
	Retriever   *retrieval.Retriever
	Analyzer    *impact.Analyzer
	Audit       *audit.Store
	AuditConfig *audit.AuditConfig
	Cache       *cache.Manager
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// WithCORSOrigins sets the allowed CORS origins.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithReadiness adds a check to /readyz.
func WithReadiness(check func(ctx context.Context) error) Option {
	return func(s *Server) { s.ready = append(s.ready, check) }
}

// Server holds the HTTP handlers.
type Server struct {
	Deps
	logger      *slog.Logger
	corsOrigins []string
	ready       []func(ctx context.Context) error
}

// NewServer creates a Server.
func NewServer(deps Deps, opts ...Option) *Server {
	s := &Server{Deps: deps, corsOrigins: []string{"*"}}
	for _, o := range opts {
		o(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Routes builds the router.
func (s *Server) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.corsOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Correlation-ID", tenancy.PrincipalHeader, tenancy.RoleHeader},
		ExposedHeaders:   []string{"X-Request-Id", "X-Cache"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Use(tenancy.Principal())
	if s.Audit != nil && s.AuditConfig != nil && s.AuditConfig.Enabled {
		r.Use(audit.Middleware(s.Audit, s.AuditConfig, s.logger))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/livez", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route(audit.APIPrefix, func(r chi.Router) {
		r.Get("/projects", s.listProjects)
		r.Post("/projects", s.createProject)

		r.Route("/projects/{"+tenancy.ProjectParam+"}", func(r chi.Router) {
			r.Use(tenancy.ProjectScope(s.Projects))

			r.Get("/", s.getProject)
			r.Put("/", s.updateProject)
			r.Delete("/", s.deleteProject)

			r.Route("/modules", s.moduleRoutes)
			r.Route("/app-versions", s.appVersionRoutes)
			r.Route("/tags", s.tagRoutes)
			r.Route("/prds", s.prdRoutes)
			r.Route("/testcases", s.testCaseRoutes)

			r.Post("/search", s.search)
			r.Post("/impact-analysis", s.analyze)
			r.Post("/index:rebuild", s.rebuild)
			r.Mount("/index/jobs", jobs.Router(s.Jobs))
			r.Get("/statistics", s.statistics)
		})

		if s.Audit != nil {
			r.Mount("/audit", audit.Router(s.Audit))
		}
	})

	return r
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	checks := append([]func(context.Context) error{s.pingDB}, s.ready...)
	for _, check := range checks {
		if err := check(r.Context()); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) pingDB(ctx context.Context) error {
	if s.DB == nil {
		return nil
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}
