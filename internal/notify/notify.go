// Package notify delivers new-message notifications while the conversation is not in focus.
package notify

import (
	"chatline/internal/models"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"unicode/utf8"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/rs/zerolog"
)

const maxBodyRunes = 100

type Notification struct {
	Title     string `json:"title"`
	Body      string `json:"body"`
	Topic     string `json:"topic"`
	Publisher string `json:"publisher"`
	TimeNanos int64  `json:"timeNanos"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notification) error
}

// Build turns msg into a notification titled with the sender's display name.
func Build(msg models.ChatMessage, sender string) Notification {
	if sender == "" {
		sender = msg.Publisher
	}
	return Notification{
		Title:     fmt.Sprintf("New message from %s", sender),
		Body:      Truncate(msg.Value, maxBodyRunes),
		Topic:     msg.Topic,
		Publisher: msg.Publisher,
		TimeNanos: msg.TimeNanos,
	}
}

// Truncate cuts s to n runes, marking the cut with "...".
func Truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n]) + "..."
}

// Log writes notifications to the log instead of delivering them.
type Log struct {
	log zerolog.Logger
}

func NewLog(log zerolog.Logger) *Log {
	return &Log{log: log.With().Str("component", "notify").Logger()}
}

func (l *Log) Notify(_ context.Context, n Notification) error {
	l.log.Info().Str("topic", n.Topic).Str("publisher", n.Publisher).Str("title", n.Title).Msg(n.Body)
	return nil
}

type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
	// Subscription is the browser push subscription JSON.
	Subscription string
}

// WebPush delivers notifications to one push subscription.
type WebPush struct {
	sub    webpush.Subscription
	opts   webpush.Options
	client webpush.HTTPClient
}

func NewWebPush(cfg WebPushConfig, client webpush.HTTPClient) (*WebPush, error) {
	var sub webpush.Subscription
	if err := json.Unmarshal([]byte(cfg.Subscription), &sub); err != nil {
		return nil, fmt.Errorf("invalid push subscription: %w", err)
	}
	if sub.Endpoint == "" {
		return nil, fmt.Errorf("invalid push subscription: missing endpoint")
	}
	if client == nil {
		client = http.DefaultClient
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = 60
	}
	return &WebPush{
		sub:    sub,
		client: client,
		opts: webpush.Options{
			Subscriber:      cfg.Subscriber,
			VAPIDPublicKey:  cfg.VAPIDPublicKey,
			VAPIDPrivateKey: cfg.VAPIDPrivateKey,
			TTL:             ttl,
			Urgency:         webpush.UrgencyNormal,
		},
	}, nil
}

func (w *WebPush) Notify(ctx context.Context, n Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	opts := w.opts
	opts.HTTPClient = w.client
	opts.Topic = pushTopic(n.Topic)

	resp, err := webpush.SendNotificationWithContext(ctx, payload, &w.sub, &opts)
	if err != nil {
		return fmt.Errorf("failed to send push notification: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("push service rejected notification (Status: %d): %s", resp.StatusCode, string(body))
	}
	return nil
}

// pushTopic keeps only the characters push services accept in a Topic header.
func pushTopic(topic string) string {
	out := make([]byte, 0, 32)
	for i := 0; i < len(topic) && len(out) < 32; i++ {
		c := topic[i]
		if c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-' || c == '_' {
			out = append(out, c)
		}
	}
	return string(out)
}
