// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api serves the read-only ops endpoints of xapiwatch.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/ManuGH/xapiwatch/internal/api/middleware"
	"github.com/ManuGH/xapiwatch/internal/health"
	"github.com/ManuGH/xapiwatch/internal/log"
	"github.com/ManuGH/xapiwatch/internal/xapi"
	"github.com/ManuGH/xapiwatch/internal/xapi/record"
)

// Source is the client state the API exposes.
type Source interface {
	ID() string
	Status() xapi.Status
	ReadOnly() bool
	WatchesEvents() bool
	EventMode() string
	ObjectCount() int
	Pool() *record.Record
	Objects(typ string) []*record.Record
	GetObject(key string) (*record.Record, error)
}

// Config configures the ops server.
type Config struct {
	Addr     string
	Endpoint string // shown in /api/v1/status, credentials already stripped
	Version  string

	TracingService string
	RateLimit      int // requests per minute per client IP, 0 disables
}

// Server is the ops HTTP server.
type Server struct {
	cfg    Config
	src    Source
	health *health.Manager
	srv    *http.Server
	logger zerolog.Logger
}

// New builds the server. It does not listen until Start.
func New(cfg Config, src Source) *Server {
	s := &Server{
		cfg:    cfg,
		src:    src,
		health: health.NewManager(cfg.Version),
		logger: log.WithComponent("api"),
	}
	s.health.RegisterChecker(sessionCheck(src))
	s.health.RegisterChecker(eventsCheck(src))
	s.srv = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := middleware.NewRouter(middleware.StackConfig{
		TracingService: s.cfg.TracingService,
		EnableLogging:  true,
		RateLimit:      s.cfg.RateLimit,
		RateWindow:     time.Minute,
	})

	r.Get("/healthz", s.health.ServeHealth)
	r.Get("/readyz", s.health.ServeReady)
	r.Handle("/metrics", promhttp.Handler())
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", s.handleStatus)
		r.Get("/objects", s.handleObjects)
		r.Get("/objects/{id}", s.handleObject)
	})
	r.NotFound(func(w http.ResponseWriter, _ *http.Request) { writeNotFound(w) })
	return r
}

// Start listens on cfg.Addr and serves in the background. The returned
// address is the bound one, which differs from cfg.Addr for port 0.
func (s *Server) Start() (net.Addr, error) {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", s.cfg.Addr, err)
	}
	s.logger.Info().
		Str(log.FieldEvent, "api.listening").
		Str("addr", ln.Addr().String()).
		Msg("ops API listening")

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Str(log.FieldEvent, "api.serve_failed").Msg("ops API stopped")
		}
	}()
	return ln.Addr(), nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
