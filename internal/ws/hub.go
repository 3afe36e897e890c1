package ws

import (
	"chatline/internal/envelope"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Protocol is the label the platform stores and counts socket publications under.
const Protocol = "websocket"

const subscriberBuffer = 100

// MessageStore persists accepted messages.
type MessageStore interface {
	AppendMessage(workspaceID, channelID string, msg models.ChatMessage, protocol string) error
}

// Hub fans published frames out to every socket subscribed to the same channel.
type Hub struct {
	store   MessageStore
	log     zerolog.Logger
	metrics *metrics.Metrics
	now     func() time.Time

	// Map of channel key -> connection id -> outbound frames
	subscribers map[string]map[string]chan []byte

	mu sync.RWMutex
}

func NewHub(store MessageStore, log zerolog.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		store:       store,
		log:         log.With().Str("component", "hub").Logger(),
		metrics:     m,
		now:         time.Now,
		subscribers: make(map[string]map[string]chan []byte),
	}
}

// Join subscribes connID to a channel and returns its outbound queue.
func (h *Hub) Join(workspaceID, channelID, connID string) chan []byte {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := channelKey(workspaceID, channelID)
	subs, ok := h.subscribers[key]
	if !ok {
		subs = make(map[string]chan []byte)
		h.subscribers[key] = subs
	}
	ch := make(chan []byte, subscriberBuffer)
	subs[connID] = ch
	h.metrics.SocketOpened()
	return ch
}

// Leave unsubscribes connID and closes its outbound queue.
func (h *Hub) Leave(workspaceID, channelID, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	key := channelKey(workspaceID, channelID)
	subs, ok := h.subscribers[key]
	if !ok {
		return
	}
	if ch, ok := subs[connID]; ok {
		close(ch)
		delete(subs, connID)
		h.metrics.SocketClosed()
	}
	if len(subs) == 0 {
		delete(h.subscribers, key)
	}
}

// Subscribers returns the number of sockets on a channel.
func (h *Hub) Subscribers(workspaceID, channelID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers[channelKey(workspaceID, channelID)])
}

// Dispatch decodes a frame published by clientID, stores its records and
// echoes them to all subscribers of the channel, the publisher included.
// Publisher is always the authenticated client; a missing time is stamped
// with the arrival time.
func (h *Hub) Dispatch(workspaceID, channelID, clientID string, frame []byte) error {
	res, err := envelope.Decode(frame)
	if err != nil {
		h.metrics.RecordsDropped("malformed", 1)
		return err
	}
	if res.Dropped > 0 {
		h.metrics.RecordsDropped("incomplete", res.Dropped)
	}
	if len(res.Messages) == 0 {
		return nil
	}

	now := h.now().UnixNano()
	accepted := make([]models.ChatMessage, 0, len(res.Messages))
	for _, msg := range res.Messages {
		msg.Publisher = clientID
		if msg.TimeNanos == 0 {
			msg.TimeNanos = now
		}
		if err := h.store.AppendMessage(workspaceID, channelID, msg, Protocol); err != nil {
			return fmt.Errorf("failed to store message: %w", err)
		}
		h.metrics.Published(Protocol)
		accepted = append(accepted, msg)
	}

	out, err := envelope.Marshal(accepted)
	if err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	h.broadcast(workspaceID, channelID, out)
	return nil
}

func (h *Hub) broadcast(workspaceID, channelID string, frame []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for connID, ch := range h.subscribers[channelKey(workspaceID, channelID)] {
		select {
		case ch <- frame:
		default:
			h.log.Warn().
				Str("conn", connID).
				Str("channel", channelID).
				Msg("subscriber queue full, dropping frame")
		}
	}
}

func channelKey(workspaceID, channelID string) string {
	return workspaceID + "/" + channelID
}
