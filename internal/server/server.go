// Package server exposes the decomposition pipeline over HTTP.
//
// Commands are JSON request/response endpoints under /api. Progress is
// streamed to clients as Server-Sent Events from /api/events, one stream per
// workspace. The Prometheus registry is served on /metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/QalaTech/speki-sub001/internal/decompose"
	"github.com/QalaTech/speki-sub001/internal/logging"
	"github.com/QalaTech/speki-sub001/internal/loop"
	"github.com/QalaTech/speki-sub001/internal/progress"
)

// Server wraps the HTTP listener and the handlers backing the API.
type Server struct {
	orch      *decompose.Orchestrator
	publisher *progress.Publisher
	loops     *loop.Registry
	gatherer  prometheus.Gatherer
	logger    *logging.Logger
	heartbeat time.Duration

	mu       sync.Mutex
	server   *http.Server
	listener net.Listener
}

// Option customizes server construction.
type Option func(*Server)

// WithLoops exposes loop registration endpoints backed by loops.
func WithLoops(loops *loop.Registry) Option {
	return func(s *Server) {
		if loops != nil {
			s.loops = loops
		}
	}
}

// WithGatherer serves g on /metrics instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		if g != nil {
			s.gatherer = g
		}
	}
}

// WithLogger overrides the no-op logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithHeartbeat sets the SSE keep-alive interval.
func WithHeartbeat(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.heartbeat = d
		}
	}
}

// New creates a server for orch. Progress events are read from publisher.
func New(orch *decompose.Orchestrator, publisher *progress.Publisher, opts ...Option) *Server {
	s := &Server{
		orch:      orch,
		publisher: publisher,
		loops:     loop.NewRegistry(),
		gatherer:  prometheus.DefaultGatherer,
		logger:    logging.NopLogger(),
		heartbeat: 15 * time.Second,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("POST /api/decompose/start", s.handleStart)
	mux.HandleFunc("GET /api/decompose/state", s.handleState)
	mux.HandleFunc("POST /api/decompose/retry-review", s.handleRetryReview)
	mux.HandleFunc("POST /api/decompose/revise", s.handleRevise)
	mux.HandleFunc("POST /api/decompose/approve", s.handleApprove)
	mux.HandleFunc("POST /api/decompose/feedback", s.handleSaveFeedback)
	mux.HandleFunc("GET /api/decompose/feedback", s.handleGetFeedback)
	mux.HandleFunc("GET /api/decompose/generating", s.handleGenerating)

	mux.HandleFunc("POST /api/loop/start", s.handleLoopStart)
	mux.HandleFunc("POST /api/loop/advance", s.handleLoopAdvance)
	mux.HandleFunc("POST /api/loop/finish", s.handleLoopFinish)
	mux.HandleFunc("GET /api/loop", s.handleLoopGet)

	mux.HandleFunc("GET /api/events", s.handleEvents)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start binds addr and serves in the background.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("server already started")
	}
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	server := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}
	s.listener = listener
	s.server = server
	go func() {
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("serve failed", "error", err)
		}
	}()
	s.logger.Info("listening", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops accepting requests, then waits for in-flight runs of the
// orchestrator to finish. Both waits are bounded by ctx.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	server := s.server
	s.server = nil
	s.listener = nil
	s.mu.Unlock()

	var httpErr error
	if server != nil {
		httpErr = server.Shutdown(ctx)
	}
	if err := s.orch.Close(ctx); err != nil {
		return err
	}
	return httpErr
}
