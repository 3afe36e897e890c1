package api

import (
	"chatline/internal/auth"
	"chatline/internal/models"
	"chatline/internal/storage"
	"chatline/internal/ws"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"
)

const (
	defaultPageLimit = 100
	maxPageLimit     = 1000
)

type ctxKey struct{}

type API struct {
	auth    *auth.AuthService
	storage *storage.BboltStorage
	log     zerolog.Logger
}

func New(auth *auth.AuthService, storage *storage.BboltStorage, log zerolog.Logger) *API {
	return &API{auth: auth, storage: storage, log: log.With().Str("component", "api").Logger()}
}

// RequireAuth rejects requests without a valid access token and passes the
// client id on in the request context.
func (a *API) RequireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		clientID, err := a.auth.Validate(ws.BearerToken(r))
		if err != nil {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, clientID)))
	}
}

func clientFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (a *API) IssueTokenHandler(w http.ResponseWriter, r *http.Request) {
	var req models.IssueTokenRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	token, creds, err := a.auth.IssueToken(req.ClientID, req.Secret)
	if creds.ID != "" {
		// Failed attempt counters survive restarts.
		if err := a.storage.UpsertClient(creds); err != nil {
			a.log.Error().Err(err).Str("client", creds.ID).Msg("failed to persist client")
		}
	}
	switch {
	case errors.Is(err, auth.ErrThrottled):
		http.Error(w, err.Error(), http.StatusTooManyRequests)
		return
	case err != nil:
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	a.writeJSON(w, http.StatusOK, token)
}

func (a *API) ProfileHandler(w http.ResponseWriter, r *http.Request) {
	clientID := clientFromContext(r.Context())
	profile, err := a.storage.GetProfile(clientID)
	if err != nil {
		a.internalError(w, err, "failed to read profile")
		return
	}
	if c, err := a.auth.Client(clientID); err == nil {
		profile.Name = c.Name
	}
	a.writeJSON(w, http.StatusOK, profile)
}

// UpdateProfileHandler merges the lastRead keys of the request into the
// stored profile; keys not mentioned are left untouched.
func (a *API) UpdateProfileHandler(w http.ResponseWriter, r *http.Request) {
	var req models.Profile
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	clientID := clientFromContext(r.Context())
	profile, err := a.storage.MergeReadMarkers(clientID, req.Metadata.UI.LastRead)
	if err != nil {
		a.internalError(w, err, "failed to update profile")
		return
	}
	if c, err := a.auth.Client(clientID); err == nil {
		profile.Name = c.Name
	}
	a.writeJSON(w, http.StatusOK, profile)
}

func (a *API) MessagesHandler(w http.ResponseWriter, r *http.Request) {
	workspaceID, channelID := r.PathValue("workspace"), r.PathValue("channel")
	ok, err := a.storage.HasChannel(workspaceID, channelID)
	if err != nil {
		a.internalError(w, err, "failed to look up channel")
		return
	}
	if !ok {
		http.Error(w, "Channel not found", http.StatusNotFound)
		return
	}

	query := r.URL.Query()
	q := storage.MessageQuery{
		Limit: defaultPageLimit,
		Name:  query.Get("name"),
		Desc:  query.Get("dir") == "desc",
	}
	if v := query.Get("offset"); v != "" {
		if q.Offset, err = strconv.Atoi(v); err != nil || q.Offset < 0 {
			http.Error(w, "Invalid offset", http.StatusBadRequest)
			return
		}
	}
	if v := query.Get("limit"); v != "" {
		if q.Limit, err = strconv.Atoi(v); err != nil || q.Limit < 1 {
			http.Error(w, "Invalid limit", http.StatusBadRequest)
			return
		}
		q.Limit = min(q.Limit, maxPageLimit)
	}

	page, err := a.storage.ListMessages(workspaceID, channelID, q)
	if err != nil {
		a.internalError(w, err, "failed to list messages")
		return
	}
	a.writeJSON(w, http.StatusOK, page)
}

func (a *API) ClientInfoHandler(w http.ResponseWriter, r *http.Request) {
	c, err := a.auth.Client(r.PathValue("id"))
	if errors.Is(err, models.ErrNotFound) {
		http.Error(w, "Client not found", http.StatusNotFound)
		return
	}
	if err != nil {
		a.internalError(w, err, "failed to read client")
		return
	}
	a.writeJSON(w, http.StatusOK, c.ClientInfo)
}

func (a *API) internalError(w http.ResponseWriter, err error, msg string) {
	a.log.Error().Err(err).Msg(msg)
	http.Error(w, "Internal server error", http.StatusInternalServerError)
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("failed to encode response")
	}
}
