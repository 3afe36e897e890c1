package api

import (
	"chatline/internal/auth"
	"chatline/internal/content"
	"chatline/internal/models"
	"chatline/internal/storage"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
)

type AdminHandler struct {
	authService *auth.AuthService
	storage     *storage.BboltStorage
	log         zerolog.Logger
}

func NewAdminHandler(authService *auth.AuthService, storage *storage.BboltStorage, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{
		authService: authService,
		storage:     storage,
		log:         log.With().Str("component", "admin").Logger(),
	}
}

type AddClientRequest struct {
	ID     string `json:"id,omitempty"`
	Name   string `json:"name"`
	Secret string `json:"secret,omitempty"`
}

type AddClientResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name,omitempty"`
	// Secret is shown once and never stored in plain text.
	Secret string `json:"secret,omitempty"`
}

func (h *AdminHandler) AddClientHandler(w http.ResponseWriter, r *http.Request) {
	var req AddClientRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" {
		http.Error(w, "Name is required", http.StatusBadRequest)
		return
	}
	if req.ID != "" {
		if err := content.ValidateID(req.ID); err != nil {
			h.respond(w, http.StatusBadRequest, AddClientResponse{Message: err.Error()})
			return
		}
	}

	creds, secret, err := h.authService.AddClient(req.ID, req.Name, req.Secret)
	if errors.Is(err, auth.ErrClientExists) {
		h.respond(w, http.StatusConflict, AddClientResponse{Message: fmt.Sprintf("Client %s already exists", req.ID)})
		return
	}
	if err != nil {
		h.respond(w, http.StatusInternalServerError, AddClientResponse{Message: fmt.Sprintf("Failed to create client: %v", err)})
		return
	}

	if err := h.storage.UpsertClient(creds); err != nil {
		h.log.Error().Err(err).Str("client", creds.ID).Msg("failed to persist client")
		h.respond(w, http.StatusInternalServerError, AddClientResponse{Message: "Failed to persist client"})
		return
	}

	h.log.Info().Str("client", creds.ID).Msg("client created")
	h.respond(w, http.StatusOK, AddClientResponse{
		Success: true,
		ID:      creds.ID,
		Name:    creds.Name,
		Secret:  secret,
	})
}

func (h *AdminHandler) AddChannelHandler(w http.ResponseWriter, r *http.Request) {
	var ch models.ChannelInfo
	if err := json.NewDecoder(r.Body).Decode(&ch); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	for _, id := range []string{ch.WorkspaceID, ch.ID} {
		if err := content.ValidateID(id); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
	}
	if ch.Name == "" {
		ch.Name = ch.ID
	}

	if err := h.storage.UpsertChannel(ch); err != nil {
		h.log.Error().Err(err).Msg("failed to save channel")
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(ch)
}

func (h *AdminHandler) respond(w http.ResponseWriter, status int, resp AddClientResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn().Err(err).Msg("failed to encode response")
	}
}
