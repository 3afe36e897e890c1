package chat

import (
	"chatline/internal/models"
	"sync"
	"time"
)

// Key is the natural dedup key of a message.
type Key struct {
	Topic     string
	Publisher string
	TimeNanos int64
	Value     string
}

func KeyOf(m models.ChatMessage) Key {
	return Key{
		Topic:     m.Topic,
		Publisher: m.Publisher,
		TimeNanos: m.TimeNanos,
		Value:     m.Value,
	}
}

// DayGroup holds the messages of one calendar day, in list order.
type DayGroup struct {
	Day      time.Time
	Messages []models.ChatMessage
}

// Buffer is the ordered, deduplicated message list of the active conversation.
// Records keep append order; the index only answers "seen before".
type Buffer struct {
	topic   string
	records []models.ChatMessage
	index   map[Key]struct{}

	mux sync.RWMutex
}

func New(topic string) *Buffer {
	return &Buffer{
		topic: topic,
		index: make(map[Key]struct{}),
	}
}

// Reset replaces the list wholesale with snapshot and rebinds the buffer to topic.
// Nothing from the previous conversation survives, including dedup state.
func (b *Buffer) Reset(topic string, snapshot []models.ChatMessage) {
	b.mux.Lock()
	defer b.mux.Unlock()

	b.topic = topic
	b.records = make([]models.ChatMessage, len(snapshot))
	copy(b.records, snapshot)
	b.index = make(map[Key]struct{}, len(snapshot))
	for _, m := range snapshot {
		b.index[KeyOf(m)] = struct{}{}
	}
}

// Ingest appends a live message unless it was already seen or belongs to another topic.
// It reports whether the list changed.
func (b *Buffer) Ingest(msg models.ChatMessage) bool {
	b.mux.Lock()
	defer b.mux.Unlock()

	if msg.Topic != b.topic {
		return false
	}

	k := KeyOf(msg)
	if _, ok := b.index[k]; ok {
		return false
	}
	b.index[k] = struct{}{}
	b.records = append(b.records, msg)
	return true
}

func (b *Buffer) Topic() string {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return b.topic
}

func (b *Buffer) Len() int {
	b.mux.RLock()
	defer b.mux.RUnlock()
	return len(b.records)
}

// Messages returns a copy of the list.
func (b *Buffer) Messages() []models.ChatMessage {
	b.mux.RLock()
	defer b.mux.RUnlock()

	result := make([]models.ChatMessage, len(b.records))
	copy(result, b.records)
	return result
}

func (b *Buffer) Last() (models.ChatMessage, bool) {
	b.mux.RLock()
	defer b.mux.RUnlock()

	if len(b.records) == 0 {
		return models.ChatMessage{}, false
	}
	return b.records[len(b.records)-1], true
}

// GroupByDay partitions the list by calendar day in loc.
func (b *Buffer) GroupByDay(loc *time.Location) []DayGroup {
	return GroupByDay(b.Messages(), loc)
}

// GroupByDay buckets msgs by the local date of their timestamp. Buckets are
// ordered by first appearance and keep list order inside.
func GroupByDay(msgs []models.ChatMessage, loc *time.Location) []DayGroup {
	if loc == nil {
		loc = time.Local
	}

	var groups []DayGroup
	byDay := make(map[time.Time]int)
	for _, m := range msgs {
		day := Day(m.TimeNanos, loc)
		i, ok := byDay[day]
		if !ok {
			i = len(groups)
			byDay[day] = i
			groups = append(groups, DayGroup{Day: day})
		}
		groups[i].Messages = append(groups[i].Messages, m)
	}
	return groups
}

// Day returns local midnight of the day containing timeNanos.
// The timestamp is truncated to milliseconds first, as the display does.
func Day(timeNanos int64, loc *time.Location) time.Time {
	t := time.UnixMilli(timeNanos / int64(time.Millisecond)).In(loc)
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}
