package ws

import (
	"chatline/internal/auth"
	"context"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// ChannelLookup reports whether a workspace channel exists.
type ChannelLookup interface {
	HasChannel(workspaceID, channelID string) (bool, error)
}

// Server upgrades /m/{workspace}/c/{channel} requests into hub subscriptions.
type Server struct {
	ctx      context.Context
	auth     *auth.AuthService
	hub      *Hub
	channels ChannelLookup
	rate     float64
	log      zerolog.Logger
	upgrader *websocket.Upgrader
}

// NewServer creates a socket server. Connections live until ctx is done or
// the peer goes away.
func NewServer(
	ctx context.Context,
	auth *auth.AuthService,
	hub *Hub,
	channels ChannelLookup,
	inboundRate float64,
	log zerolog.Logger,
) *Server {
	return &Server{
		ctx:      ctx,
		auth:     auth,
		hub:      hub,
		channels: channels,
		rate:     inboundRate,
		log:      log.With().Str("component", "ws").Logger(),
		upgrader: &websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for now
			},
		},
	}
}

func (s *Server) HandleConnections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	clientID, err := s.auth.Validate(BearerToken(r))
	if err != nil {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	workspaceID, channelID := r.PathValue("workspace"), r.PathValue("channel")
	ok, err := s.channels.HasChannel(workspaceID, channelID)
	if err != nil {
		s.log.Error().Err(err).Msg("failed to look up channel")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if !ok {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("error upgrading to websocket")
		return
	}

	sub := Subscription{
		ConnID:      uuid.NewString(),
		ClientID:    clientID,
		WorkspaceID: workspaceID,
		ChannelID:   channelID,
	}
	log := s.log.With().Str("workspace", workspaceID).Str("channel", channelID).Logger()
	log.Debug().Str("client", clientID).Msg("socket opened")

	conn := NewConnection(s.hub, ws, sub, s.rate, log)
	if err := conn.Handle(s.ctx); err != nil {
		log.Debug().Err(err).Str("client", clientID).Msg("socket closed")
	}
}

// BearerToken extracts the access token from the Authorization header or,
// for clients that cannot set headers on upgrade, the authorization query
// parameter.
func BearerToken(r *http.Request) string {
	token := r.Header.Get("Authorization")
	if token == "" {
		token = r.URL.Query().Get("authorization")
	}
	return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}
