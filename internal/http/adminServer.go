package http

import (
	"chatline/internal/api"
	"chatline/internal/auth"
	"chatline/internal/storage"
	"context"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

type AdminServer struct {
	server *http.Server
	log    zerolog.Logger
	wg     sync.WaitGroup
}

func NewAdminServer(authService *auth.AuthService, storage *storage.BboltStorage, addr string, log zerolog.Logger) *AdminServer {
	adminHandler := api.NewAdminHandler(authService, storage, log)
	mux := http.NewServeMux()
	mux.HandleFunc("POST /admin/clients", adminHandler.AddClientHandler)
	mux.HandleFunc("POST /admin/channels", adminHandler.AddChannelHandler)

	if addr == "" {
		addr = "localhost:8081"
	}

	return &AdminServer{
		server: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
		log: log,
	}
}

// Handler exposes the router, for serving it from a test server.
func (s *AdminServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *AdminServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("admin API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *AdminServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
