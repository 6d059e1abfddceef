package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Server is one HTTP listener; the app runs a public and an admin one.
type Server struct {
	name string
	srv  *http.Server
	log  *zerolog.Logger
}

func NewServer(name, addr string, h http.Handler, readTimeout time.Duration, logger *zerolog.Logger) *Server {
	if readTimeout <= 0 {
		readTimeout = 15 * time.Second
	}
	l := logger.With().Str("component", "http").Str("listener", name).Logger()
	return &Server{
		name: name,
		srv: &http.Server{
			Addr:              addr,
			Handler:           h,
			ReadHeaderTimeout: readTimeout,
			ReadTimeout:       readTimeout,
			WriteTimeout:      2 * readTimeout,
			IdleTimeout:       60 * time.Second,
		},
		log: &l,
	}
}

// Start blocks until the listener stops. A graceful shutdown returns nil.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("http listener started")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http listener stopping")
	return s.srv.Shutdown(ctx)
}
