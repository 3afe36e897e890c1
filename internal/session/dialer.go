package session

import (
	"chatline/internal/models"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"github.com/gorilla/websocket"
)

const maxFrameSize = 64 * 1024

// GorillaDialer opens {BaseURL}/m/{workspace}/c/{channel} with bearer auth.
// When TokenSource is set it is consulted on every dial, so reconnects pick
// up a reissued token; otherwise the target's token is used.
type GorillaDialer struct {
	BaseURL     string
	Dialer      *websocket.Dialer
	TokenSource func() string
}

func NewGorillaDialer(baseURL string) *GorillaDialer {
	return &GorillaDialer{
		BaseURL: baseURL,
		Dialer:  websocket.DefaultDialer,
	}
}

func (d *GorillaDialer) URL(target Target) (string, error) {
	u, err := url.Parse(d.BaseURL)
	if err != nil {
		return "", fmt.Errorf("invalid websocket url %q: %w", d.BaseURL, err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported websocket scheme %q", u.Scheme)
	}
	u.Path = path.Join("/", u.Path, "m", target.WorkspaceID, "c", target.ChannelID)
	return u.String(), nil
}

func (d *GorillaDialer) Dial(ctx context.Context, target Target) (Conn, error) {
	addr, err := d.URL(target)
	if err != nil {
		return nil, err
	}

	token := target.Token
	if d.TokenSource != nil {
		if t := d.TokenSource(); t != "" {
			token = t
		}
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, addr, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, fmt.Errorf("dial %s: %w", addr, models.ErrUnauthorized)
		}
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	conn.SetReadLimit(maxFrameSize)
	return conn, nil
}
