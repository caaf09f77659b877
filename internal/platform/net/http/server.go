// Package http is a thin kit over chi + the stdlib http.Server used by the
// control daemon
package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"snapvault/internal/platform/config"
	"snapvault/internal/platform/logger"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
)

// Server wraps chi + stdlib http.Server with graceful shutdown
type Server struct {
	addr string
	mux  *chi.Mux
	srv  *stdhttp.Server
}

// NewServer builds a server listening on CTL_PORT (default :4600)
// opts receive the *chi.Mux so callers can mount routes and middleware
func NewServer(cfg config.Conf, opts ...func(*chi.Mux)) *Server {
	addr := cfg.MayString("CTL_PORT", ":4600")
	m := chi.NewRouter()
	for _, o := range opts {
		o(m)
	}
	return &Server{
		addr: addr,
		mux:  m,
		srv: &stdhttp.Server{
			Addr:              addr,
			Handler:           m,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

// WithCORS mounts permissive-local CORS for the GUI collaborator, which may be
// a webview served from another local origin
func WithCORS(origins []string) func(*chi.Mux) {
	return func(m *chi.Mux) {
		m.Use(cors.Handler(cors.Options{
			AllowedOrigins: origins,
			AllowedMethods: []string{"GET", "POST"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}
}

// Mux exposes the underlying router for route mounting
func (s *Server) Mux() *chi.Mux { return s.mux }

// Addr returns the listening address
func (s *Server) Addr() string { return s.addr }

// Run starts the server and blocks until Shutdown or failure
func (s *Server) Run(ctx context.Context) error {
	log := logger.Named("http")
	log.Info().Str("addr", s.addr).Msg("control api listening")
	err := s.srv.ListenAndServe()
	if err == stdhttp.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown stops the server gracefully
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
