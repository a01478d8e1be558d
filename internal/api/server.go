// Package api exposes the caller-facing HTTP surface: notification
// submission, timing recommendations, metrics, reports, the in-app inbox,
// and the live SSE stream.
package api

import (
	"context"
	"net/http"
	"time"

	appconfig "github.com/tripwell/notify/internal/config"
)

// Server wraps the HTTP server around the chi router.
type Server struct {
	cfg      appconfig.ServerConfig
	handlers *Handlers
	server   *http.Server
}

// NewServer creates the API server.
func NewServer(cfg appconfig.ServerConfig, handlers *Handlers) *Server {
	return &Server{cfg: cfg, handlers: handlers}
}

// ListenAndServe starts serving on the given address.
func (s *Server) ListenAndServe(addr string) error {
	s.server = &http.Server{
		Addr:         addr,
		Handler:      SetupRoutes(s.handlers),
		ReadTimeout:  30 * time.Second,
		IdleTimeout:  120 * time.Second,
		// No WriteTimeout: the SSE stream holds its response open.
	}
	return s.server.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
