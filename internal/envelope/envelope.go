// Package envelope translates between the platform's SenML-style wire records
// and models.ChatMessage.
package envelope

import (
	"bytes"
	"chatline/internal/models"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"
)

var ErrMalformedFrame = errors.New("malformed frame")

// Record is one wire record. String and numeric values are mutually exclusive.
type Record struct {
	BaseName    string      `json:"bn,omitempty"`
	BaseTime    json.Number `json:"bt,omitempty"`
	Name        string      `json:"n,omitempty"`
	StringValue *string     `json:"vs,omitempty"`
	Value       *float64    `json:"v,omitempty"`
	Time        json.Number `json:"t,omitempty"`
	Publisher   string      `json:"publisher,omitempty"`
}

// Result is the outcome of decoding one inbound frame.
type Result struct {
	Messages []models.ChatMessage
	// Dropped counts records discarded for a bad type, a missing name or value,
	// or an unusable time.
	Dropped int
}

// Encode wraps msg into the one-element array the transport expects,
// stamping it with now.
func Encode(msg models.ChatMessage, now time.Time) ([]byte, error) {
	msg.TimeNanos = now.UnixNano()
	return Marshal([]models.ChatMessage{msg})
}

// Marshal encodes messages as a record array, keeping their timestamps.
func Marshal(msgs []models.ChatMessage) ([]byte, error) {
	records := make([]Record, 0, len(msgs))
	for _, m := range msgs {
		records = append(records, FromMessage(m))
	}
	return json.Marshal(records)
}

func FromMessage(m models.ChatMessage) Record {
	value := m.Value
	return Record{
		Name:        m.Topic,
		StringValue: &value,
		Time:        json.Number(strconv.FormatInt(m.TimeNanos, 10)),
		Publisher:   m.Publisher,
	}
}

// DecodeRecords parses a frame holding either a single record or an array of
// records. Array elements that do not decode as a record are skipped and
// counted in the returned drop count.
func DecodeRecords(raw []byte) ([]Record, int, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, 0, ErrMalformedFrame
	}

	switch trimmed[0] {
	case '[':
		var elems []json.RawMessage
		if err := json.Unmarshal(trimmed, &elems); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		records := make([]Record, 0, len(elems))
		dropped := 0
		for _, elem := range elems {
			var record Record
			if err := json.Unmarshal(elem, &record); err != nil {
				dropped++
				continue
			}
			records = append(records, record)
		}
		return records, dropped, nil
	case '{':
		var record Record
		if err := json.Unmarshal(trimmed, &record); err != nil {
			return nil, 0, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		return []Record{record}, 0, nil
	default:
		return nil, 0, ErrMalformedFrame
	}
}

// Decode parses an inbound frame into chat messages. Base name and base time
// carry forward through the pack the way SenML resolves them.
func Decode(raw []byte) (Result, error) {
	records, dropped, err := DecodeRecords(raw)
	if err != nil {
		return Result{}, err
	}
	res := Resolve(records)
	res.Dropped += dropped
	return res, nil
}

// Resolve applies base fields and normalizes values, skipping unusable records.
func Resolve(records []Record) Result {
	var (
		res      Result
		baseName string
		baseTime int64
	)

	for _, r := range records {
		if r.BaseName != "" {
			baseName = r.BaseName
		}
		if r.BaseTime != "" {
			bt, ok := parseNanos(r.BaseTime)
			if !ok {
				res.Dropped++
				continue
			}
			baseTime = bt
		}

		name := baseName + r.Name
		value, hasValue := recordValue(r.StringValue, r.Value)
		if r.Name == "" || !hasValue {
			res.Dropped++
			continue
		}

		t, ok := parseNanos(r.Time)
		if !ok {
			res.Dropped++
			continue
		}

		res.Messages = append(res.Messages, models.ChatMessage{
			Topic:     name,
			Publisher: r.Publisher,
			Value:     value,
			TimeNanos: baseTime + t,
		})
	}

	return res
}

// DecodeStored converts history records into chat messages.
func DecodeStored(stored []models.StoredMessage) Result {
	var res Result
	for _, s := range stored {
		value, hasValue := recordValue(s.StringValue, s.Value)
		if s.Name == "" || !hasValue {
			res.Dropped++
			continue
		}
		t, ok := parseNanos(s.Time)
		if !ok {
			res.Dropped++
			continue
		}
		res.Messages = append(res.Messages, models.ChatMessage{
			Topic:     s.Name,
			Publisher: s.Publisher,
			Value:     value,
			TimeNanos: t,
		})
	}
	return res
}

// ToStored is the inverse of DecodeStored for a single message.
func ToStored(m models.ChatMessage, channel, protocol string) models.StoredMessage {
	value := m.Value
	return models.StoredMessage{
		Channel:     channel,
		Name:        m.Topic,
		Publisher:   m.Publisher,
		Protocol:    protocol,
		Time:        json.Number(strconv.FormatInt(m.TimeNanos, 10)),
		StringValue: &value,
	}
}

func recordValue(vs *string, v *float64) (string, bool) {
	switch {
	case vs != nil:
		return *vs, true
	case v != nil:
		return strconv.FormatFloat(*v, 'f', -1, 64), true
	default:
		return "", false
	}
}

// parseNanos accepts integer nanoseconds and, for senders that emit floats,
// a float representation. Empty means zero.
func parseNanos(n json.Number) (int64, bool) {
	if n == "" {
		return 0, true
	}
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	f, err := n.Float64()
	if err != nil || math.IsNaN(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, false
	}
	return int64(f), true
}
