package history

import (
	"chatline/internal/models"
	"chatline/internal/remote"
	"chatline/internal/session"
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockSource struct {
	page    models.MessagesPage
	err     error
	queries []remote.MessagesQuery
}

func (m *mockSource) Messages(_ context.Context, _, _ string, q remote.MessagesQuery) (models.MessagesPage, error) {
	m.queries = append(m.queries, q)
	return m.page, m.err
}

func stored(name, publisher, value, t string) models.StoredMessage {
	return models.StoredMessage{Name: name, Publisher: publisher, StringValue: &value, Time: json.Number(t)}
}

func TestLoader_OrdersAscending(t *testing.T) {
	src := &mockSource{page: models.MessagesPage{
		Total: 3,
		Messages: []models.StoredMessage{
			stored("general", "bob", "second", "200"),
			stored("general", "alice", "first", "100"),
			stored("general", "carol", "also second", "200"),
		},
	}}
	l := NewLoader(src, 0, zerolog.Nop(), nil)

	msgs, err := l.Load(context.Background(), session.Target{WorkspaceID: "demo", ChannelID: "general", Topic: "general"})
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Value)
	assert.Equal(t, "second", msgs[1].Value, "equal timestamps keep server order")
	assert.Equal(t, "also second", msgs[2].Value)

	require.Len(t, src.queries, 1)
	assert.Equal(t, remote.MessagesQuery{Offset: 0, Limit: DefaultPageSize, Name: "general"}, src.queries[0])
}

func TestLoader_FiltersTopicAndIncomplete(t *testing.T) {
	src := &mockSource{page: models.MessagesPage{
		Messages: []models.StoredMessage{
			stored("alice-bob", "alice", "hi", "1"),
			stored("alice-carol", "carol", "wrong pair", "2"),
			{Name: "alice-bob", Publisher: "bob", Time: "3"},
		},
	}}
	l := NewLoader(src, 50, zerolog.Nop(), nil)

	msgs, err := l.Load(context.Background(), session.Target{WorkspaceID: "demo", ChannelID: "dm", Topic: "alice-bob"})
	require.NoError(t, err)
	assert.Equal(t, []models.ChatMessage{{Topic: "alice-bob", Publisher: "alice", Value: "hi", TimeNanos: 1}}, msgs)
	assert.Equal(t, 50, src.queries[0].Limit)
}

func TestLoader_FailureReturnsEmptyList(t *testing.T) {
	boom := errors.New("boom")
	l := NewLoader(&mockSource{err: boom}, 0, zerolog.Nop(), nil)

	msgs, err := l.Load(context.Background(), session.Target{WorkspaceID: "demo", ChannelID: "general", Topic: "general"})
	require.ErrorIs(t, err, boom)
	assert.NotNil(t, msgs)
	assert.Empty(t, msgs)
}
