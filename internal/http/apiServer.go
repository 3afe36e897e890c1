package http

import (
	"chatline/internal/api"
	"chatline/internal/auth"
	"chatline/internal/metrics"
	"chatline/internal/storage"
	"chatline/internal/ws"
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

type APIServer struct {
	server *http.Server
	log    zerolog.Logger
	wg     sync.WaitGroup
}

// NewAPIServer serves the platform's history, profile, client and token
// endpoints next to the live socket. ctx bounds the lifetime of sockets.
func NewAPIServer(
	ctx context.Context,
	authService *auth.AuthService,
	hub *ws.Hub,
	storage *storage.BboltStorage,
	m *metrics.Metrics,
	inboundRate float64,
	addr string,
	log zerolog.Logger,
) *APIServer {
	server := ws.NewServer(ctx, authService, hub, storage, inboundRate, log)
	apiHandlers := api.New(authService, storage, log)

	mux := http.NewServeMux()

	// API endpoints
	mux.HandleFunc("POST /users/tokens/issue", apiHandlers.IssueTokenHandler)
	mux.HandleFunc("GET /users/profile", apiHandlers.RequireAuth(apiHandlers.ProfileHandler))
	mux.HandleFunc("PATCH /users/profile", apiHandlers.RequireAuth(apiHandlers.UpdateProfileHandler))
	mux.HandleFunc("GET /{workspace}/channels/{channel}/messages", apiHandlers.RequireAuth(apiHandlers.MessagesHandler))
	mux.HandleFunc("GET /{workspace}/clients/{id}", apiHandlers.RequireAuth(apiHandlers.ClientInfoHandler))
	mux.Handle("GET /metrics", m.Handler())

	// WebSocket endpoint. Its path shape overlaps the history route, so it
	// gets a router of its own.
	sockets := http.NewServeMux()
	sockets.HandleFunc("GET /m/{workspace}/c/{channel}", server.HandleConnections)

	if addr == "" {
		addr = ":8080"
	}

	return &APIServer{
		server: &http.Server{
			Addr:    addr,
			Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if strings.HasPrefix(r.URL.Path, "/m/") && websocket.IsWebSocketUpgrade(r) {
					sockets.ServeHTTP(w, r)
					return
				}
				mux.ServeHTTP(w, r)
			}),
		},
		log: log,
	}
}

// Handler exposes the router, for serving it from a test server.
func (s *APIServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *APIServer) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("platform API started")
	s.wg.Add(1)
	defer s.wg.Done()

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *APIServer) Shutdown(ctx context.Context) error {
	defer s.wg.Wait()
	return s.server.Shutdown(ctx)
}
