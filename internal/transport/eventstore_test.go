package transport

import (
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collectReplay(t *testing.T, es *EventStore, lastEventID string) (string, []string) {
	t.Helper()

	var messages []string
	streamID, err := es.ReplayAfter(lastEventID, func(eventID string, message json.RawMessage) error {
		assert.NotEmpty(t, eventID)
		messages = append(messages, string(message))
		return nil
	})
	require.NoError(t, err)
	return streamID, messages
}

func TestEventStoreReplayAfter(t *testing.T) {
	es := NewEventStore(EventStoreConfig{})

	ids := make([]string, 5)
	for i := range ids {
		ids[i] = es.Append("stream-a", json.RawMessage(fmt.Sprintf(`{"seq":%d}`, i+1)))
	}

	streamID, messages := collectReplay(t, es, ids[1])
	assert.Equal(t, "stream-a", streamID)
	assert.Equal(t, []string{`{"seq":3}`, `{"seq":4}`, `{"seq":5}`}, messages)

	// Replaying after the newest event yields the stream with nothing to
	// catch up on.
	streamID, messages = collectReplay(t, es, ids[4])
	assert.Equal(t, "stream-a", streamID)
	assert.Empty(t, messages)
}

func TestEventStoreReplayUnknownEventID(t *testing.T) {
	es := NewEventStore(EventStoreConfig{})
	es.Append("stream-a", json.RawMessage(`{}`))

	_, err := es.ReplayAfter("01ARZ3NDEKTSV4RRFFQ69G5FAV", func(string, json.RawMessage) error {
		t.Fatal("sink must not run for an unknown anchor")
		return nil
	})
	assert.ErrorIs(t, err, ErrUnknownEventID)
}

func TestEventStoreStreamIsolation(t *testing.T) {
	es := NewEventStore(EventStoreConfig{})

	anchor := es.Append("stream-a", json.RawMessage(`{"a":1}`))
	es.Append("stream-b", json.RawMessage(`{"b":1}`))
	es.Append("stream-a", json.RawMessage(`{"a":2}`))
	es.Append("stream-b", json.RawMessage(`{"b":2}`))

	streamID, messages := collectReplay(t, es, anchor)
	assert.Equal(t, "stream-a", streamID)
	assert.Equal(t, []string{`{"a":2}`}, messages)
}

func TestEventStoreEventIDsMonotonic(t *testing.T) {
	es := NewEventStore(EventStoreConfig{})

	prev := es.Append("stream-a", json.RawMessage(`{}`))
	for i := 0; i < 100; i++ {
		next := es.Append("stream-a", json.RawMessage(`{}`))
		require.Greater(t, next, prev)
		prev = next
	}
}

func TestEventStoreCountEviction(t *testing.T) {
	es := NewEventStore(EventStoreConfig{MaxEvents: 3})

	first := es.Append("stream-a", json.RawMessage(`{"seq":1}`))
	es.Append("stream-a", json.RawMessage(`{"seq":2}`))
	anchor := es.Append("stream-a", json.RawMessage(`{"seq":3}`))
	es.Append("stream-a", json.RawMessage(`{"seq":4}`))

	assert.Equal(t, 3, es.Len())

	// The oldest event was evicted to make room; it is no longer a valid
	// resumption anchor.
	_, err := es.ReplayAfter(first, func(string, json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownEventID)

	_, messages := collectReplay(t, es, anchor)
	assert.Equal(t, []string{`{"seq":4}`}, messages)
}

func TestEventStoreTTLEviction(t *testing.T) {
	es := NewEventStore(EventStoreConfig{TTL: time.Minute})

	stale := es.Append("stream-a", json.RawMessage(`{"seq":1}`))
	es.mu.Lock()
	es.events[0].CreatedAt = time.Now().Add(-2 * time.Minute)
	es.mu.Unlock()

	fresh := es.Append("stream-a", json.RawMessage(`{"seq":2}`))

	assert.Equal(t, 1, es.Len())
	_, err := es.ReplayAfter(stale, func(string, json.RawMessage) error { return nil })
	assert.ErrorIs(t, err, ErrUnknownEventID)

	_, messages := collectReplay(t, es, fresh)
	assert.Empty(t, messages)
}
