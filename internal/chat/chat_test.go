package chat

import (
	"chatline/internal/models"
	"fmt"
	"testing"
	"time"
)

func msg(topic, publisher, value string, t int64) models.ChatMessage {
	return models.ChatMessage{Topic: topic, Publisher: publisher, Value: value, TimeNanos: t}
}

func TestNew(t *testing.T) {
	b := New("general")
	if b == nil {
		t.Fatal("New returned nil")
	}
	if b.Topic() != "general" {
		t.Errorf("expected topic general, got %s", b.Topic())
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
	if _, ok := b.Last(); ok {
		t.Error("Last on empty buffer should report false")
	}
}

func TestBuffer_HistoryThenLiveDuplicate(t *testing.T) {
	b := New("")
	b.Reset("general", []models.ChatMessage{
		msg("general", "alice", "hi", 100),
		msg("general", "bob", "yo", 200),
	})

	if b.Ingest(msg("general", "bob", "yo", 200)) {
		t.Error("replayed live frame should not be appended")
	}
	if b.Len() != 2 {
		t.Errorf("expected 2 records, got %d", b.Len())
	}

	if !b.Ingest(msg("general", "bob", "yo", 300)) {
		t.Error("new live frame should be appended")
	}
	last, _ := b.Last()
	if last.TimeNanos != 300 {
		t.Errorf("expected last message at 300, got %d", last.TimeNanos)
	}
}

func TestBuffer_IngestIdempotent(t *testing.T) {
	once := New("general")
	twice := New("general")

	for i := 0; i < 5; i++ {
		m := msg("general", "alice", fmt.Sprintf("msg %d", i), int64(i))
		once.Ingest(m)
		twice.Ingest(m)
		twice.Ingest(m)
	}

	if once.Len() != twice.Len() {
		t.Errorf("expected equal lengths, got %d and %d", once.Len(), twice.Len())
	}
}

func TestBuffer_DedupKeyUsesAllFields(t *testing.T) {
	b := New("general")
	base := msg("general", "alice", "hi", 100)
	b.Ingest(base)

	variants := []models.ChatMessage{
		msg("general", "bob", "hi", 100),
		msg("general", "alice", "hi!", 100),
		msg("general", "alice", "hi", 101),
	}
	for _, v := range variants {
		if !b.Ingest(v) {
			t.Errorf("message %+v differs from %+v and should be appended", v, base)
		}
	}
	if b.Len() != 4 {
		t.Errorf("expected 4 records, got %d", b.Len())
	}
}

func TestBuffer_IgnoresOtherTopics(t *testing.T) {
	b := New("alice-bob")
	if b.Ingest(msg("alice-charlie", "charlie", "psst", 1)) {
		t.Error("message for another topic must not be appended")
	}
	if b.Len() != 0 {
		t.Errorf("expected empty buffer, got %d", b.Len())
	}
}

func TestBuffer_ResetIsolation(t *testing.T) {
	b := New("")
	b.Reset("a", []models.ChatMessage{msg("a", "alice", "one", 1), msg("a", "alice", "two", 2)})
	b.Ingest(msg("a", "bob", "three", 3))

	snapshotB := []models.ChatMessage{msg("b", "carol", "x", 10)}
	b.Reset("b", snapshotB)

	got := b.Messages()
	if len(got) != 1 || got[0] != snapshotB[0] {
		t.Fatalf("expected exactly snapshot B, got %+v", got)
	}

	// Dedup state from A must be gone too.
	b.Reset("a", nil)
	if !b.Ingest(msg("a", "alice", "one", 1)) {
		t.Error("dedup state leaked across reset")
	}
}

func TestBuffer_ResetCopiesSnapshot(t *testing.T) {
	snapshot := []models.ChatMessage{msg("a", "alice", "one", 1)}
	b := New("a")
	b.Reset("a", snapshot)
	snapshot[0].Value = "mutated"

	if b.Messages()[0].Value != "one" {
		t.Error("buffer shares memory with the snapshot")
	}
}

func TestBuffer_OutOfOrderKeepsArrivalOrder(t *testing.T) {
	b := New("a")
	b.Ingest(msg("a", "alice", "late", 200))
	b.Ingest(msg("a", "bob", "early", 100))

	got := b.Messages()
	if got[0].Value != "late" || got[1].Value != "early" {
		t.Errorf("expected arrival order, got %+v", got)
	}
}

func TestGroupByDay(t *testing.T) {
	loc := time.UTC
	day1 := time.Date(2026, 3, 1, 10, 0, 0, 0, loc).UnixNano()
	day1Late := time.Date(2026, 3, 1, 23, 59, 0, 0, loc).UnixNano()
	day2 := time.Date(2026, 3, 2, 0, 1, 0, 0, loc).UnixNano()

	b := New("a")
	b.Ingest(msg("a", "alice", "1", day1))
	b.Ingest(msg("a", "alice", "2", day1Late))
	b.Ingest(msg("a", "alice", "3", day2))

	groups := b.GroupByDay(loc)
	if len(groups) != 2 {
		t.Fatalf("expected 2 day groups, got %d", len(groups))
	}
	if !groups[0].Day.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, loc)) {
		t.Errorf("unexpected first day %v", groups[0].Day)
	}
	if len(groups[0].Messages) != 2 || groups[0].Messages[1].Value != "2" {
		t.Errorf("unexpected first group %+v", groups[0].Messages)
	}
	if len(groups[1].Messages) != 1 || groups[1].Messages[0].Value != "3" {
		t.Errorf("unexpected second group %+v", groups[1].Messages)
	}
}

func TestGroupByDay_RespectsLocation(t *testing.T) {
	// 23:30 UTC is already the next day in UTC+2.
	ts := time.Date(2026, 3, 1, 23, 30, 0, 0, time.UTC).UnixNano()
	plus2 := time.FixedZone("UTC+2", 2*60*60)

	groups := GroupByDay([]models.ChatMessage{msg("a", "alice", "x", ts)}, plus2)
	if groups[0].Day.Day() != 2 {
		t.Errorf("expected day 2 in UTC+2, got %v", groups[0].Day)
	}
}
