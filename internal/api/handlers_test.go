package api

import (
	"bytes"
	"chatline/internal/auth"
	"chatline/internal/models"
	"chatline/internal/storage"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	auth  *auth.AuthService
	store *storage.BboltStorage
	mux   *http.ServeMux
	token string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	authService, err := auth.NewAuthService(ctx, auth.Config{Secret: base64.StdEncoding.EncodeToString([]byte("s"))})
	require.NoError(t, err)
	store, err := storage.NewBboltStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	a := New(authService, store, zerolog.Nop())
	admin := NewAdminHandler(authService, store, zerolog.Nop())
	mux := http.NewServeMux()
	mux.HandleFunc("POST /users/tokens/issue", a.IssueTokenHandler)
	mux.HandleFunc("GET /users/profile", a.RequireAuth(a.ProfileHandler))
	mux.HandleFunc("PATCH /users/profile", a.RequireAuth(a.UpdateProfileHandler))
	mux.HandleFunc("GET /{workspace}/channels/{channel}/messages", a.RequireAuth(a.MessagesHandler))
	mux.HandleFunc("GET /{workspace}/clients/{id}", a.RequireAuth(a.ClientInfoHandler))
	mux.HandleFunc("POST /admin/clients", admin.AddClientHandler)
	mux.HandleFunc("POST /admin/channels", admin.AddChannelHandler)

	f := &fixture{auth: authService, store: store, mux: mux}

	rec := f.do(t, http.MethodPost, "/admin/clients", AddClientRequest{ID: "alice", Name: "Alice", Secret: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = f.do(t, http.MethodPost, "/users/tokens/issue", models.IssueTokenRequest{ClientID: "alice", Secret: "pw"})
	require.Equal(t, http.StatusOK, rec.Code)
	var token models.Token
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&token))
	f.token = token.AccessToken
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if f.token != "" {
		req.Header.Set("Authorization", "Bearer "+f.token)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestIssueToken(t *testing.T) {
	f := newFixture(t)
	f.token = ""

	rec := f.do(t, http.MethodPost, "/users/tokens/issue", models.IssueTokenRequest{ClientID: "alice", Secret: "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// The failed attempt is persisted.
	clients, err := f.store.ListClients()
	require.NoError(t, err)
	require.Len(t, clients, 1)
	assert.EqualValues(t, 1, clients[0].FailedAttempts)

	rec = f.do(t, http.MethodGet, "/users/profile", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProfile_MergesMarkers(t *testing.T) {
	f := newFixture(t)

	patch := models.Profile{Metadata: models.ProfileMetadata{UI: models.UIMetadata{LastRead: map[string]int64{"general": 10, "a-b": 3}}}}
	rec := f.do(t, http.MethodPatch, "/users/profile", patch)
	require.Equal(t, http.StatusOK, rec.Code)

	patch.Metadata.UI.LastRead = map[string]int64{"general": 20}
	rec = f.do(t, http.MethodPatch, "/users/profile", patch)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = f.do(t, http.MethodGet, "/users/profile", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var profile models.Profile
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&profile))
	assert.Equal(t, "alice", profile.ID)
	assert.Equal(t, "Alice", profile.Name)
	assert.Equal(t, map[string]int64{"general": 20, "a-b": 3}, profile.Metadata.UI.LastRead)
}

func TestMessages(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/demo/channels/general/messages", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/channels", models.ChannelInfo{WorkspaceID: "demo", ID: "general"})
	require.Equal(t, http.StatusOK, rec.Code)
	for i, v := range []string{"one", "two", "three"} {
		msg := models.ChatMessage{Topic: "general", Publisher: "alice", Value: v, TimeNanos: int64(i + 1)}
		require.NoError(t, f.store.AppendMessage("demo", "general", msg, "websocket"))
	}

	rec = f.do(t, http.MethodGet, "/demo/channels/general/messages?offset=1&limit=5&order=time&dir=asc&name=general", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var page models.MessagesPage
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&page))
	assert.EqualValues(t, 3, page.Total)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "two", *page.Messages[0].StringValue)

	rec = f.do(t, http.MethodGet, "/demo/channels/general/messages?limit=-1", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestClientInfo(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/demo/clients/alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.ClientInfo
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&info))
	assert.Equal(t, models.ClientInfo{ID: "alice", Name: "Alice", Status: models.ClientStatusEnabled}, info)

	rec = f.do(t, http.MethodGet, "/demo/clients/ghost", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAddClient(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/admin/clients", AddClientRequest{ID: "alice", Name: "Again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/clients", AddClientRequest{ID: "bad id!", Name: "X"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/admin/clients", AddClientRequest{Name: "Device"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AddClientResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.ID)
	assert.NotEmpty(t, resp.Secret)
}
