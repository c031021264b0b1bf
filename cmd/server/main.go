// Package main provides the entry point for the IntelWeaver server, an
// indicator enrichment service that fans out to external threat
// intelligence sources with caching and per-source rate limiting.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/mdtran/intelweaver/internal/cache"
	"github.com/mdtran/intelweaver/internal/config"
	"github.com/mdtran/intelweaver/internal/enrichment"
	"github.com/mdtran/intelweaver/internal/indicator"
	"github.com/mdtran/intelweaver/internal/intel"
	"github.com/mdtran/intelweaver/internal/observability"
	"github.com/mdtran/intelweaver/internal/ratelimit"
)

// Version information (injected at build time via ldflags)
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
)

func main() {
	configPath := flag.String("config", "configs/config.yaml", "Path to config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("IntelWeaver %s (commit: %s, built: %s)\n", Version, GitCommit, BuildTime)
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := observability.NewLogger(observability.LogConfig(cfg.Logging), "intelweaver", Version)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting IntelWeaver",
		zap.String("version", Version),
		zap.String("config", *configPath),
		zap.Strings("sources", cfg.EnabledSources()))

	srv, err := newServer(cfg, logger)
	if err != nil {
		logger.Fatal("initialization failed", zap.Error(err))
	}
	defer srv.close()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("shutting down", zap.String("signal", sig.String()))

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown error", zap.Error(err))
	}

	logger.Info("server stopped")
}

// server bundles the wired components behind the HTTP handlers.
type server struct {
	cfg          *config.Config
	logger       *zap.Logger
	store        *cache.Store
	orchestrator *enrichment.Orchestrator
	stopSweeper  chan struct{}
}

// newServer wires cache, limiter, source clients and the orchestrator
// from config. Sources whose client cannot be built (usually a missing
// API key) are disabled with a warning rather than failing startup.
func newServer(cfg *config.Config, logger *zap.Logger) (*server, error) {
	if dir := filepath.Dir(cfg.Cache.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create cache directory: %w", err)
		}
	}

	store, err := cache.Open(cfg.Cache.Path, logger)
	if err != nil {
		return nil, err
	}

	clients := make(map[intel.Source]intel.Client)
	configs := make(map[intel.Source]enrichment.SourceConfig)
	limits := make(map[string]int)

	for name, src := range cfg.Sources {
		if !src.Enabled {
			continue
		}
		source := intel.Source(name)

		client, err := intel.NewClient(source, intel.ClientConfig{
			BaseURL:   src.BaseURL,
			APIKeyEnv: src.APIKeyEnv,
			Timeout:   src.Timeout,
		})
		if err != nil {
			logger.Warn("source disabled", zap.String("source", name), zap.Error(err))
			continue
		}

		clients[source] = client
		configs[source] = enrichment.SourceConfig{
			Enabled:            true,
			Priority:           src.Priority,
			RateLimitPerMinute: src.RateLimitPerMinute,
			CacheTTL:           src.CacheTTL,
		}
		limits[name] = src.RateLimitPerMinute
	}

	limiter := ratelimit.New(limits)

	orchestrator, err := enrichment.NewOrchestrator(store, limiter, clients, configs, logger, enrichment.Options{
		DefaultTimeout: cfg.Enrichment.DefaultTimeout,
		MaxInFlight:    cfg.Enrichment.MaxInFlight,
		Metrics:        observability.NewMetrics(),
	})
	if err != nil {
		store.Close()
		return nil, err
	}

	srv := &server{
		cfg:          cfg,
		logger:       logger,
		store:        store,
		orchestrator: orchestrator,
		stopSweeper:  make(chan struct{}),
	}

	if cfg.Cache.SweepInterval > 0 {
		go store.StartSweeper(cfg.Cache.SweepInterval, srv.stopSweeper)
	}

	return srv, nil
}

func (s *server) close() {
	close(s.stopSweeper)
	if err := s.store.Close(); err != nil {
		s.logger.Warn("cache close error", zap.Error(err))
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/enrich", s.handleEnrich)
		r.Post("/correlate", s.handleCorrelate)
		r.Get("/sources", s.handleSources)
		r.Get("/cache/stats", s.handleCacheStats)
	})

	return r
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy", "version": Version})
}

// handleReady fans out provider health checks; degraded providers are
// reported but do not fail readiness, since enrichment tolerates them.
func (s *server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := s.orchestrator.HealthCheck(ctx)
	sources := make(map[string]string, len(health))
	for source, err := range health {
		if err != nil {
			sources[string(source)] = err.Error()
		} else {
			sources[string(source)] = "ok"
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{"status": "ready", "sources": sources})
}

// EnrichRequest is the body of POST /api/v1/enrich.
type EnrichRequest struct {
	Indicator string   `json:"indicator"`
	Sources   []string `json:"sources,omitempty"`
	TimeoutMS int      `json:"timeout_ms,omitempty"`
}

func (s *server) handleEnrich(w http.ResponseWriter, r *http.Request) {
	var req EnrichRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	ind, err := indicator.Parse(req.Indicator)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var sources []intel.Source
	for _, name := range req.Sources {
		sources = append(sources, intel.Source(name))
	}

	ctx := r.Context()
	if req.TimeoutMS > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(req.TimeoutMS)*time.Millisecond)
		defer cancel()
	}

	record, err := s.orchestrator.Enrich(ctx, ind, sources)
	if err != nil {
		s.writeEnrichError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, record)
}

// CorrelateRequest is the body of POST /api/v1/correlate.
type CorrelateRequest struct {
	Indicators []string `json:"indicators"`
}

func (s *server) handleCorrelate(w http.ResponseWriter, r *http.Request) {
	var req CorrelateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := s.orchestrator.CorrelateIndicators(r.Context(), req.Indicators)
	if err != nil {
		if errors.Is(err, enrichment.ErrEmptyIndicators) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeEnrichError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleSources(w http.ResponseWriter, r *http.Request) {
	statuses := s.orchestrator.SourceStatuses()
	writeJSON(w, http.StatusOK, map[string]any{"sources": statuses, "count": len(statuses)})
}

func (s *server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *server) writeEnrichError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, enrichment.ErrTooManyRequests):
		writeError(w, http.StatusTooManyRequests, err.Error())
	case errors.Is(err, enrichment.ErrUnknownSource):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		s.logger.Error("enrichment failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enrichment failed")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
