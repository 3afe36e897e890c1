// Package readstate derives per-conversation read markers from focus and
// the message list, and persists them to profile metadata in the background.
package readstate

import (
	"chatline/internal/metrics"
	"chatline/internal/models"
	"context"
	"maps"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const writeTimeout = 10 * time.Second

// Store persists markers by merging them into profile metadata.
type Store interface {
	UpdateReadMarkers(ctx context.Context, markers map[string]int64) error
}

// Tracker keeps lastRead per conversation key. Markers only move forward.
//
// The divider anchor is the marker value the "new messages" divider is drawn
// against. It is taken when a conversation is selected and when the window
// loses focus, so messages read on refocus still show where they began.
type Tracker struct {
	store   Store
	log     zerolog.Logger
	metrics *metrics.Metrics

	mu       sync.Mutex
	lastRead map[string]int64
	key      string
	focused  bool
	anchor   int64
	pending  map[string]int64

	wake      chan struct{}
	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

// NewTracker starts the background writer. initial seeds markers read from
// the profile. A nil store keeps markers in memory only.
func NewTracker(store Store, initial map[string]int64, log zerolog.Logger, m *metrics.Metrics) *Tracker {
	t := &Tracker{
		store:    store,
		log:      log.With().Str("component", "readstate").Logger(),
		metrics:  m,
		lastRead: make(map[string]int64, len(initial)),
		focused:  true,
		pending:  make(map[string]int64),
		wake:     make(chan struct{}, 1),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	maps.Copy(t.lastRead, initial)
	go t.run()
	return t
}

// SetConversation binds the tracker to key and anchors the divider at its stored marker.
func (t *Tracker) SetConversation(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.key = key
	t.anchor = t.lastRead[key]
}

// SetFocused records a focus transition. Losing focus re-anchors the divider.
func (t *Tracker) SetFocused(focused bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.focused && !focused {
		t.anchor = t.lastRead[t.key]
	}
	t.focused = focused
}

func (t *Tracker) Focused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.focused
}

// Observe applies the marker rule to the current list: while focused, the
// marker moves to the last message's time if that is ahead of it.
// It reports whether the marker moved.
func (t *Tracker) Observe(list []models.ChatMessage) bool {
	if len(list) == 0 {
		return false
	}
	last := list[len(list)-1].TimeNanos

	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.focused || t.key == "" {
		return false
	}
	if last <= t.lastRead[t.key] {
		return false
	}

	t.lastRead[t.key] = last
	if t.store != nil {
		t.pending[t.key] = last
		select {
		case t.wake <- struct{}{}:
		default:
		}
	}
	return true
}

func (t *Tracker) Marker(key string) int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.lastRead[key]
}

func (t *Tracker) Markers() map[string]int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return maps.Clone(t.lastRead)
}

// Unread counts messages newer than the current conversation's marker.
func (t *Tracker) Unread(list []models.ChatMessage) int {
	t.mu.Lock()
	marker := t.lastRead[t.key]
	t.mu.Unlock()

	n := 0
	for _, m := range list {
		if m.TimeNanos > marker {
			n++
		}
	}
	return n
}

// DividerIndex returns the index of the first message newer than the anchor,
// or -1 when no divider should be drawn. A conversation never read has no divider.
func (t *Tracker) DividerIndex(list []models.ChatMessage) int {
	t.mu.Lock()
	anchor := t.anchor
	t.mu.Unlock()

	if anchor == 0 {
		return -1
	}
	for i, m := range list {
		if m.TimeNanos > anchor {
			return i
		}
	}
	return -1
}

// Close flushes pending markers and stops the writer.
func (t *Tracker) Close() {
	t.closeOnce.Do(func() {
		close(t.stop)
	})
	<-t.done
}

func (t *Tracker) run() {
	defer close(t.done)
	for {
		select {
		case <-t.wake:
			t.flush()
		case <-t.stop:
			t.flush()
			return
		}
	}
}

// flush writes every pending marker in one merge call. Failed writes are
// not retried; the next forward move writes the newer value.
func (t *Tracker) flush() {
	t.mu.Lock()
	if len(t.pending) == 0 {
		t.mu.Unlock()
		return
	}
	batch := t.pending
	t.pending = make(map[string]int64)
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	if err := t.store.UpdateReadMarkers(ctx, batch); err != nil {
		t.log.Warn().Err(err).Int("markers", len(batch)).Msg("failed to persist read markers")
		t.metrics.MarkerWriteFailed()
		return
	}
	t.log.Debug().Int("markers", len(batch)).Msg("read markers persisted")
}
