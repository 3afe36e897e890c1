package history

import (
	"chatline/internal/envelope"
	"chatline/internal/metrics"
	"chatline/internal/models"
	"chatline/internal/remote"
	"chatline/internal/session"
	"cmp"
	"context"
	"slices"

	"github.com/rs/zerolog"
)

const DefaultPageSize = 100

// Source reads stored channel messages. *remote.Client implements it.
type Source interface {
	Messages(ctx context.Context, workspaceID, channelID string, q remote.MessagesQuery) (models.MessagesPage, error)
}

// Loader fetches the bounded history snapshot a conversation opens with.
type Loader struct {
	src      Source
	pageSize int
	log      zerolog.Logger
	metrics  *metrics.Metrics
}

func NewLoader(src Source, pageSize int, log zerolog.Logger, m *metrics.Metrics) *Loader {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	return &Loader{
		src:      src,
		pageSize: pageSize,
		log:      log.With().Str("component", "history").Logger(),
		metrics:  m,
	}
}

// Load returns up to one page of the conversation's messages in ascending
// time order. It never retries; on failure the list is empty and the error
// is returned for display.
func (l *Loader) Load(ctx context.Context, target session.Target) ([]models.ChatMessage, error) {
	log := l.log.With().Str("workspace_id", target.WorkspaceID).Str("channel_id", target.ChannelID).Str("topic", target.Topic).Logger()

	page, err := l.src.Messages(ctx, target.WorkspaceID, target.ChannelID, remote.MessagesQuery{
		Offset: 0,
		Limit:  l.pageSize,
		Name:   target.Topic,
	})
	if err != nil {
		log.Error().Err(err).Msg("history fetch failed")
		l.metrics.HistoryFailed()
		return []models.ChatMessage{}, err
	}

	res := envelope.DecodeStored(page.Messages)
	if res.Dropped > 0 {
		log.Debug().Int("dropped", res.Dropped).Msg("skipping incomplete stored records")
		l.metrics.RecordsDropped("stored", res.Dropped)
	}

	msgs := make([]models.ChatMessage, 0, len(res.Messages))
	for _, m := range res.Messages {
		if m.Topic == target.Topic {
			msgs = append(msgs, m)
		}
	}
	slices.SortStableFunc(msgs, func(a, b models.ChatMessage) int {
		return cmp.Compare(a.TimeNanos, b.TimeNanos)
	})

	if page.Total > int64(len(page.Messages)) {
		log.Debug().Int64("total", page.Total).Int("loaded", len(page.Messages)).Msg("history truncated to one page")
	}
	return msgs, nil
}
