// Package api exposes the proxy's HTTP surfaces: the three inference
// endpoints (Anthropic Messages, OpenAI Chat Completions, OpenAI Responses),
// preset routes, and the admin endpoints for presets, models, latencies,
// usage, health, and Prometheus metrics.
package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"

	"github.com/ferryman-dev/ferryman/internal/cascade"
	"github.com/ferryman-dev/ferryman/internal/config"
	"github.com/ferryman-dev/ferryman/internal/persist"
	"github.com/ferryman-dev/ferryman/internal/routing"
)

// tierHeader names the response header carrying the tier that served the
// request.
const tierHeader = "X-Ferryman-Tier"

// Server is the HTTP frontend. It holds no request state; configuration is
// re-read from the manager on every request so hot reloads apply to the next
// request.
type Server struct {
	manager    *config.Manager
	executor   *cascade.Executor
	tracker    *routing.Tracker
	accountant *persist.Accountant
	logger     *slog.Logger

	limiter *rate.Limiter
	streams *semaphore.Weighted

	httpSrv *http.Server
}

// NewServer assembles the frontend. The rate limiter and stream cap are
// sized from the initial configuration snapshot.
func NewServer(manager *config.Manager, executor *cascade.Executor, tracker *routing.Tracker, accountant *persist.Accountant, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	cfg := manager.Get()

	s := &Server{
		manager:    manager,
		executor:   executor,
		tracker:    tracker,
		accountant: accountant,
		logger:     logger,
	}
	if cfg.RateLimit.Enabled {
		perSecond := rate.Limit(float64(cfg.RateLimit.RequestsPerMinute) / 60.0)
		s.limiter = rate.NewLimiter(perSecond, cfg.RateLimit.BurstSize)
	}
	maxStreams := cfg.Server.MaxStreams
	if maxStreams <= 0 {
		maxStreams = 512
	}
	s.streams = semaphore.NewWeighted(int64(maxStreams))
	return s
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /v1/messages", s.handleMessages)
	mux.HandleFunc("POST /preset/{name}/v1/messages", s.handlePresetMessages)
	mux.HandleFunc("POST /v1/chat/completions", s.handleChatCompletions)
	mux.HandleFunc("POST /v1/responses", s.handleResponses)

	mux.HandleFunc("GET /v1/models", s.handleModels)
	mux.HandleFunc("GET /v1/presets", s.handlePresets)
	mux.HandleFunc("GET /v1/latencies", s.handleLatencies)
	mux.HandleFunc("GET /v1/usage", s.handleUsage)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s.withRateLimit(s.withLogging(mux))
}

// Start runs the server until ctx is cancelled, then drains connections
// within the configured shutdown timeout.
func (s *Server) Start(ctx context.Context) error {
	cfg := s.manager.Get()
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	s.httpSrv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("listening", "addr", addr)
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	s.logger.Info("shutting down", "timeout", cfg.Server.ShutdownTimeout)
	return s.httpSrv.Shutdown(shutdownCtx)
}
