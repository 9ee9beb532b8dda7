// Package main runs the knowledge base server: the REST API, the deindex
// workers and the audit retention loop in one process.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/spf13/pflag"

	"github.com/Yinkun-Cheng/RAG/pkg/api"
	"github.com/Yinkun-Cheng/RAG/pkg/config"
)

func main() {
	var (
		configPath string
		envFiles   []string
	)
	pflag.StringVar(&configPath, "config", firstNonEmpty(os.Getenv("RAG_CONFIG"), os.Getenv("RAG_CONFIG_FILE")), "Path to the YAML configuration file")
	pflag.StringSliceVar(&envFiles, "env-file", []string{".env"}, "Environment files loaded before the configuration")
	overrides := map[string]*string{
		"RAG_SERVER_LISTEN": pflag.String("listen", "", "HTTP listen address, overrides server.listen"),
		"RAG_DATABASE_TYPE": pflag.String("db-type", "", "Database type: sqlite, postgres or mysql"),
		"RAG_DATABASE_DSN":  pflag.String("db-dsn", "", "Database connection string"),
	}
	pflag.CommandLine.AddGoFlagSet(flag.CommandLine)
	pflag.Parse()

	// glog is kept for fatal startup errors only.
	_ = flag.Set("logtostderr", "true")

	if err := config.LoadDotEnv(envFiles...); err != nil {
		glog.Fatalf("Failed to load environment files: %v", err)
	}
	// Flags win over both the file and the environment.
	for key, v := range overrides {
		if *v != "" {
			_ = os.Setenv(key, *v)
		}
	}

	bootLogger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	loader := config.NewLoader(configPath, bootLogger)
	cfg, err := loader.Load()
	if err != nil {
		glog.Fatalf("Failed to load configuration: %v", err)
	}

	logger := newLogger(cfg.Server)
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdownTracing, err := setupTracing(ctx, cfg.Server.OTLPEndpoint)
	if err != nil {
		glog.Fatalf("Failed to set up tracing: %v", err)
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		glog.Fatalf("Failed to initialize server: %v", err)
	}
	defer app.close()

	loader.Watch(func(next *config.Config) {
		if err := app.defaults.Store(next.Search); err != nil {
			logger.Warn("ignoring search defaults", "error", err)
			return
		}
		logger.Info("search defaults updated", "alpha", next.Search.Alpha, "scoreThreshold", next.Search.ScoreThreshold)
	})

	go app.workers.Run(ctx)
	if app.retention != nil {
		go app.retention.Run(ctx)
	}

	srv := api.NewServer(app.deps,
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithReadiness(app.ready),
	)
	httpServer := &http.Server{
		Addr:    cfg.Server.Listen,
		Handler: srv.Routes(),
	}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			glog.Fatalf("HTTP server error: %v", err)
		}
	}()

	logger.Info("rag server ready",
		"listen", cfg.Server.Listen,
		"database", cfg.Database.Type,
		"keywordIndex", cfg.Index.Keyword,
		"vectorIndex", cfg.Index.Vector,
	)

	<-ctx.Done()
	logger.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Error("tracer shutdown error", "error", err)
	}
	logger.Info("rag server stopped")
}

func newLogger(cfg config.ServerConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(cfg.LogFormat, "json") {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
