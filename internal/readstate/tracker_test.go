package readstate

import (
	"chatline/internal/models"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockStore struct {
	mu     sync.Mutex
	writes []map[string]int64
	err    error
}

func (m *mockStore) UpdateReadMarkers(_ context.Context, markers map[string]int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = append(m.writes, markers)
	return m.err
}

func (m *mockStore) latest(key string) (int64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.writes) - 1; i >= 0; i-- {
		if v, ok := m.writes[i][key]; ok {
			return v, true
		}
	}
	return 0, false
}

func at(ts ...int64) []models.ChatMessage {
	var out []models.ChatMessage
	for _, t := range ts {
		out = append(out, models.ChatMessage{Topic: "general", Publisher: "bob", Value: "x", TimeNanos: t})
	}
	return out
}

func TestTracker_FocusedAdvancesAndPersists(t *testing.T) {
	store := &mockStore{}
	tr := NewTracker(store, nil, zerolog.Nop(), nil)
	defer tr.Close()

	tr.SetConversation("general")
	require.True(t, tr.Observe(at(100, 200)))
	assert.Equal(t, int64(200), tr.Marker("general"))

	require.Eventually(t, func() bool {
		v, ok := store.latest("general")
		return ok && v == 200
	}, time.Second, 5*time.Millisecond)
}

func TestTracker_NeverRegresses(t *testing.T) {
	tr := NewTracker(nil, map[string]int64{"general": 500}, zerolog.Nop(), nil)
	defer tr.Close()

	tr.SetConversation("general")
	assert.False(t, tr.Observe(at(100, 300)))
	assert.Equal(t, int64(500), tr.Marker("general"))
	assert.False(t, tr.Observe(nil))

	assert.True(t, tr.Observe(at(100, 600)))
	assert.False(t, tr.Observe(at(100, 550)))
	assert.Equal(t, int64(600), tr.Marker("general"))
}

func TestTracker_BlurredRefocus(t *testing.T) {
	tr := NewTracker(nil, nil, zerolog.Nop(), nil)
	defer tr.Close()

	tr.SetConversation("general")
	list := at(100)
	tr.Observe(list)

	tr.SetFocused(false)
	for _, ts := range []int64{200, 300, 400} {
		list = append(list, at(ts)...)
		assert.False(t, tr.Observe(list), "marker must hold while blurred")
	}
	assert.Equal(t, 3, tr.Unread(list))

	tr.SetFocused(true)
	require.True(t, tr.Observe(list))
	assert.Equal(t, int64(400), tr.Marker("general"))
	assert.Equal(t, 0, tr.Unread(list))
	assert.Equal(t, 1, tr.DividerIndex(list), "divider sits before the first of the three")
}

func TestTracker_DividerAnchoredOnSelect(t *testing.T) {
	tr := NewTracker(nil, map[string]int64{"general": 200}, zerolog.Nop(), nil)
	defer tr.Close()

	list := at(100, 200, 300, 400)
	assert.Equal(t, -1, tr.DividerIndex(list), "no conversation bound")

	tr.SetConversation("general")
	tr.Observe(list)
	assert.Equal(t, 2, tr.DividerIndex(list))

	tr.SetConversation("random")
	assert.Equal(t, -1, tr.DividerIndex(list), "never read conversation has no divider")
}

func TestTracker_ConversationsAreIndependent(t *testing.T) {
	tr := NewTracker(nil, nil, zerolog.Nop(), nil)
	defer tr.Close()

	tr.SetConversation("a")
	tr.Observe(at(100))
	tr.SetConversation("b")
	tr.Observe(at(50))

	assert.Equal(t, map[string]int64{"a": 100, "b": 50}, tr.Markers())
}

func TestTracker_WriteFailureIsNotFatal(t *testing.T) {
	store := &mockStore{err: errors.New("profile service down")}
	tr := NewTracker(store, nil, zerolog.Nop(), nil)

	tr.SetConversation("general")
	tr.Observe(at(100))
	tr.Close()

	assert.Equal(t, int64(100), tr.Marker("general"))
	_, ok := store.latest("general")
	assert.True(t, ok, "close flushes pending markers")
}
