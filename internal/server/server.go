package server

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/muurk/acond/internal/coordinator"
	"github.com/muurk/acond/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// ShutdownTimeout bounds a graceful shutdown
const ShutdownTimeout = 10 * time.Second

// Config holds the server configuration
type Config struct {
	Listen   string // host:port, e.g. ":8080"
	CertFile string // TLS certificate (optional, requires KeyFile)
	KeyFile  string
}

// Server exposes one coordinator over HTTP, WebSocket and Prometheus
type Server struct {
	config    Config
	coord     *coordinator.Coordinator
	hub       *hub
	registry  *prometheus.Registry
	tlsConfig *tls.Config
	http      *http.Server

	unsubscribe func()
}

// New creates a server for coord. Updates published by coord are streamed to
// WebSocket clients from now on.
func New(cfg Config, coord *coordinator.Coordinator) (*Server, error) {
	if cfg.Listen == "" {
		cfg.Listen = ":8080"
	}

	var tlsConfig *tls.Config
	if cfg.CertFile != "" || cfg.KeyFile != "" {
		var err error
		tlsConfig, err = NewTLSConfig(cfg.CertFile, cfg.KeyFile)
		if err != nil {
			return nil, fmt.Errorf("failed to create TLS config: %w", err)
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		coordinator.NewMetricsCollector(coord),
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	s := &Server{
		config:    cfg,
		coord:     coord,
		hub:       newHub(),
		registry:  registry,
		tlsConfig: tlsConfig,
	}
	s.unsubscribe = coord.Subscribe(s.hub.publish)
	s.http = &http.Server{
		Addr:              cfg.Listen,
		Handler:           s.Handler(),
		TLSConfig:         tlsConfig,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s, nil
}

// Handler returns the routes with request logging
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/snapshot", s.handleSnapshot)
	mux.HandleFunc("GET /api/registers", s.handleRegisters)
	mux.HandleFunc("GET /api/registers/{name}", s.handleRegister)
	mux.HandleFunc("PUT /api/registers/{name}", s.handleWriteRegister)
	mux.HandleFunc("POST /api/values", s.handleWriteValue)
	mux.HandleFunc("POST /api/refresh", s.handleRefresh)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return logRequests(mux)
}

// Start serves until ctx is canceled, SIGINT/SIGTERM arrives or the
// listener fails, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.config.Listen, err)
	}
	return s.Serve(ctx, ln)
}

// Serve is Start with a caller-supplied listener
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	scheme := "http"
	if s.tlsConfig != nil {
		ln = tls.NewListener(ln, s.tlsConfig)
		scheme = "https"
	}

	logging.Info("API server listening",
		zap.String("addr", ln.Addr().String()),
		zap.String("scheme", scheme),
	)
	if s.tlsConfig != nil {
		logging.Info("TLS Configuration", zap.Any("tls_info", GetTLSInfo(s.tlsConfig)))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	errChan := make(chan error, 1)
	go func() {
		errChan <- s.http.Serve(ln)
	}()

	select {
	case <-sigChan:
		logging.Info("Shutdown signal received, stopping server...")
	case <-ctx.Done():
		logging.Info("Context canceled, stopping server...")
	case err := <-errChan:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

// Shutdown stops accepting requests, closes WebSocket clients and waits for
// handlers to finish until ctx expires
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down server...")

	if s.unsubscribe != nil {
		s.unsubscribe()
	}
	s.hub.closeAll()

	if err := s.http.Shutdown(ctx); err != nil {
		logging.Warn("Shutdown timeout, forcing close", zap.Error(err))
		_ = s.http.Close()
		return err
	}
	logging.Info("All connections closed gracefully")
	return nil
}

// ActiveStreams returns the number of connected WebSocket clients
func (s *Server) ActiveStreams() int {
	return s.hub.count()
}
