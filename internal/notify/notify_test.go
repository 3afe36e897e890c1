package notify

import (
	"chatline/internal/models"
	"context"
	"crypto/ecdh"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_TruncatesBody(t *testing.T) {
	long := strings.Repeat("ж", 150)
	n := Build(models.ChatMessage{Topic: "general", Publisher: "u1", Value: long, TimeNanos: 7}, "Alice")

	assert.Equal(t, "New message from Alice", n.Title)
	assert.Equal(t, strings.Repeat("ж", 100)+"...", n.Body)
	assert.Equal(t, "general", n.Topic)

	short := Build(models.ChatMessage{Publisher: "u1", Value: "hi"}, "")
	assert.Equal(t, "hi", short.Body)
	assert.Equal(t, "New message from u1", short.Title)
}

func TestPushTopic(t *testing.T) {
	assert.Equal(t, "alice-bob", pushTopic("alice-bob"))
	assert.Equal(t, "generalchat", pushTopic("general chat!"))
	assert.Len(t, pushTopic(strings.Repeat("a", 64)), 32)
}

func testSubscription(t *testing.T, endpoint string) string {
	t.Helper()
	key, err := ecdh.P256().GenerateKey(rand.Reader)
	require.NoError(t, err)
	auth := make([]byte, 16)
	_, err = rand.Read(auth)
	require.NoError(t, err)

	sub, err := json.Marshal(webpush.Subscription{
		Endpoint: endpoint,
		Keys: webpush.Keys{
			P256dh: base64.RawURLEncoding.EncodeToString(key.PublicKey().Bytes()),
			Auth:   base64.RawURLEncoding.EncodeToString(auth),
		},
	})
	require.NoError(t, err)
	return string(sub)
}

func TestWebPush_Notify(t *testing.T) {
	var headers http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		headers = r.Header.Clone()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)

	wp, err := NewWebPush(WebPushConfig{
		Subscriber:      "ops@example.com",
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subscription:    testSubscription(t, srv.URL+"/push/1"),
	}, srv.Client())
	require.NoError(t, err)

	err = wp.Notify(context.Background(), Notification{Title: "t", Body: "b", Topic: "alice-bob"})
	require.NoError(t, err)
	assert.Equal(t, "60", headers.Get("TTL"))
	assert.Equal(t, "alice-bob", headers.Get("Topic"))
	assert.True(t, strings.HasPrefix(headers.Get("Authorization"), "vapid "))
}

func TestWebPush_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "subscription expired", http.StatusGone)
	}))
	defer srv.Close()

	private, public, err := webpush.GenerateVAPIDKeys()
	require.NoError(t, err)
	wp, err := NewWebPush(WebPushConfig{
		VAPIDPublicKey:  public,
		VAPIDPrivateKey: private,
		Subscription:    testSubscription(t, srv.URL),
	}, srv.Client())
	require.NoError(t, err)

	err = wp.Notify(context.Background(), Notification{Body: "b"})
	require.ErrorContains(t, err, "410")
}

func TestNewWebPush_InvalidSubscription(t *testing.T) {
	_, err := NewWebPush(WebPushConfig{Subscription: "{"}, nil)
	assert.Error(t, err)

	_, err = NewWebPush(WebPushConfig{Subscription: "{}"}, nil)
	assert.Error(t, err)
}
