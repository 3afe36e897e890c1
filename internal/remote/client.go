// Package remote is the HTTP client for the messaging platform's REST endpoints.
package remote

import (
	"bytes"
	"chatline/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// MessagesQuery selects a page of stored messages, oldest first.
type MessagesQuery struct {
	Offset int
	Limit  int
	// Name filters by record name; direct messages use their topic here.
	Name string
}

type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger

	mu    sync.RWMutex
	token string
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 15 * time.Second},
		log:     zerolog.Nop(),
		token:   token,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With().Str("component", "remote").Logger()
	return c
}

func (c *Client) SetToken(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.token = token
}

func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Messages reads one page of channel history.
func (c *Client) Messages(ctx context.Context, workspaceID, channelID string, q MessagesQuery) (models.MessagesPage, error) {
	params := url.Values{}
	params.Set("offset", strconv.Itoa(q.Offset))
	params.Set("limit", strconv.Itoa(q.Limit))
	params.Set("order", "time")
	params.Set("dir", "asc")
	if q.Name != "" {
		params.Set("name", q.Name)
	}

	path := fmt.Sprintf("/%s/channels/%s/messages?%s", url.PathEscape(workspaceID), url.PathEscape(channelID), params.Encode())
	var page models.MessagesPage
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return models.MessagesPage{}, fmt.Errorf("failed to read messages: %w", err)
	}
	return page, nil
}

func (c *Client) Profile(ctx context.Context) (models.Profile, error) {
	var profile models.Profile
	if err := c.do(ctx, http.MethodGet, "/users/profile", nil, &profile); err != nil {
		return models.Profile{}, fmt.Errorf("failed to read profile: %w", err)
	}
	return profile, nil
}

// UpdateReadMarkers merges markers into profile metadata under ui.lastRead.
// Keys not present in markers are left untouched by the platform.
func (c *Client) UpdateReadMarkers(ctx context.Context, markers map[string]int64) error {
	body := models.Profile{
		Metadata: models.ProfileMetadata{UI: models.UIMetadata{LastRead: markers}},
	}
	if err := c.do(ctx, http.MethodPatch, "/users/profile", body, nil); err != nil {
		return fmt.Errorf("failed to update read markers: %w", err)
	}
	return nil
}

func (c *Client) ClientInfo(ctx context.Context, workspaceID, clientID string) (models.ClientInfo, error) {
	path := fmt.Sprintf("/%s/clients/%s", url.PathEscape(workspaceID), url.PathEscape(clientID))
	var info models.ClientInfo
	if err := c.do(ctx, http.MethodGet, path, nil, &info); err != nil {
		return models.ClientInfo{}, fmt.Errorf("failed to read client %s: %w", clientID, err)
	}
	return info, nil
}

// IssueToken exchanges client credentials for an access token and keeps it for later calls.
func (c *Client) IssueToken(ctx context.Context, clientID, secret string) (models.Token, error) {
	var token models.Token
	req := models.IssueTokenRequest{ClientID: clientID, Secret: secret}
	if err := c.do(ctx, http.MethodPost, "/users/tokens/issue", req, &token); err != nil {
		return models.Token{}, fmt.Errorf("failed to issue token: %w", err)
	}
	c.SetToken(token.AccessToken)
	return token, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return models.ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return models.ErrNotFound
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	c.log.Debug().Str("method", method).Str("path", req.URL.Path).Int("status", resp.StatusCode).Msg("request done")
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
