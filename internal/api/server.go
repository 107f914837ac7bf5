package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"hookbridge/internal/platform/config"
)

// Server is the loopback-only HTTP surface for webhook ingestion and
// the control plane. Trust in the control endpoints derives entirely
// from the loopback bind; there is no authentication layer.
type Server struct {
	httpServer *http.Server
}

func NewServer(cfg config.ServerConfig, router http.Handler) *Server {
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	return &Server{
		httpServer: &http.Server{
			Addr:        addr,
			Handler:     router,
			ReadTimeout: cfg.ReadTimeout,
			IdleTimeout: cfg.IdleTimeout,
			// No WriteTimeout: the notification stream stays open for
			// the life of the client connection.
		},
	}
}

func (s *Server) Run() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("ingress server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
