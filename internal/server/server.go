// Package server exposes the gateway core over an HTTP API: cached metrics
// reads, the usage write path, chat history with invalidation, the outbound
// queue surface, and operational endpoints.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"gatewayz/internal/cache"
	"gatewayz/internal/catalog"
	"gatewayz/internal/config"
	"gatewayz/internal/domain"
	"gatewayz/internal/history"
	"gatewayz/internal/metrics"
	"gatewayz/internal/queue"
	"gatewayz/internal/usage"
)

const maxBodySize = 1 << 20 // 1MB

// Server wires the core components behind the HTTP API.
type Server struct {
	host   string
	port   int
	apiKey string

	store   domain.CacheStore
	agg     *usage.Aggregator
	hist    *history.Store
	inv     *cache.Invalidator
	cat     *catalog.Catalog
	queue   *queue.Queue
	ttl     ttlSet
	logger  *slog.Logger
	server  *http.Server
	started time.Time
}

// ttlSet is the per-surface cache TTL, resolved from config once.
type ttlSet struct {
	stats       time.Duration
	search      time.Duration
	model       time.Duration
	provider    time.Duration
	leaderboard time.Duration
}

type Config struct {
	Server  config.ServerConfig
	Cache   config.CacheConfig
	Store   domain.CacheStore
	Usage   *usage.Aggregator
	History *history.Store
	Inval   *cache.Invalidator
	Catalog *catalog.Catalog
	Queue   *queue.Queue
	Logger  *slog.Logger
}

func New(cfg Config) *Server {
	return &Server{
		host:   cfg.Server.Host,
		port:   cfg.Server.Port,
		apiKey: cfg.Server.APIKey,
		store:  cfg.Store,
		agg:    cfg.Usage,
		hist:   cfg.History,
		inv:    cfg.Inval,
		cat:    cfg.Catalog,
		queue:  cfg.Queue,
		ttl: ttlSet{
			stats:       time.Duration(cfg.Cache.StatsTTLSeconds) * time.Second,
			search:      time.Duration(cfg.Cache.SearchTTLSeconds) * time.Second,
			model:       time.Duration(cfg.Cache.ModelTTLSeconds) * time.Second,
			provider:    time.Duration(cfg.Cache.ProviderTTLSeconds) * time.Second,
			leaderboard: time.Duration(cfg.Cache.LeaderboardTTLSeconds) * time.Second,
		},
		logger: cfg.Logger,
	}
}

// Handler builds the route table. Split from Start so tests can drive the
// mux directly.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", metrics.Collector.Handler())

	mux.HandleFunc("GET /v1/metrics/models/{id}", s.auth(s.handleModelMetrics))
	mux.HandleFunc("GET /v1/metrics/providers/{id}", s.auth(s.handleProviderSummary))
	mux.HandleFunc("GET /v1/metrics/leaderboard", s.auth(s.handleLeaderboard))
	mux.HandleFunc("POST /v1/usage/records", s.auth(s.handleRecordUsage))

	mux.HandleFunc("POST /v1/sessions/{id}/messages", s.auth(s.handleSaveMessage))
	mux.HandleFunc("GET /v1/sessions/{id}/messages", s.auth(s.handleListMessages))
	mux.HandleFunc("GET /v1/sessions/{id}/stats", s.auth(s.handleSessionStats))
	mux.HandleFunc("GET /v1/sessions/{id}/search", s.auth(s.handleSearchMessages))

	mux.HandleFunc("GET /v1/catalog/models", s.auth(s.handleCatalogModels))
	mux.HandleFunc("GET /v1/catalog/providers", s.auth(s.handleCatalogProviders))

	mux.HandleFunc("POST /v1/notify", s.auth(s.handleNotify))
	mux.HandleFunc("GET /v1/queue", s.auth(s.handleQueueList))
	mux.HandleFunc("DELETE /v1/queue/{id}", s.auth(s.handleQueueDequeue))

	return mux
}

// Start serves the API until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)
	s.started = time.Now()
	s.server = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	s.logger.Info("API server started", "addr", addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.server.Shutdown(shutdownCtx)
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}

// auth wraps a handler with the Bearer API-key check and the request
// counter. An empty configured key disables auth.
func (s *Server) auth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		metrics.HTTPRequests.Inc()
		if s.apiKey != "" {
			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token != s.apiKey {
				writeError(w, http.StatusUnauthorized, "invalid or missing API key")
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
		next(w, r)
	}
}
