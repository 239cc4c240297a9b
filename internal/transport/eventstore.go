package transport

import (
	"encoding/json"
	"errors"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"toolgate/pkg/logging"
)

// ErrUnknownEventID is returned when a replay anchor is not in the log
// anymore (expired, evicted, or never existed). The client must restart the
// logical session; catching up is no longer possible.
var ErrUnknownEventID = errors.New("unknown event ID")

// StoredEvent is one unit of outbound protocol traffic kept for resumption.
type StoredEvent struct {
	// EventID is a ULID: lexicographic order equals append order, and the
	// value stays opaque to clients.
	EventID   string
	StreamID  string
	Message   json.RawMessage
	CreatedAt time.Time
}

// EventStoreConfig bounds the event log. Zero values take the defaults.
type EventStoreConfig struct {
	MaxEvents int
	TTL       time.Duration
}

const (
	defaultMaxEvents = 10000
	defaultEventTTL  = 5 * time.Minute
)

// EventStore is an append-only, bounded, TTL-aware log of pushed events,
// keyed by stream. Eviction (TTL first, then count) runs before every append
// and before every replay, never while a replay is being delivered: replays
// work on a snapshot taken under the lock.
type EventStore struct {
	mu      sync.Mutex
	events  []*StoredEvent
	max     int
	ttl     time.Duration
	entropy *ulid.MonotonicEntropy
}

// NewEventStore creates an empty event log.
func NewEventStore(cfg EventStoreConfig) *EventStore {
	if cfg.MaxEvents <= 0 {
		cfg.MaxEvents = defaultMaxEvents
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultEventTTL
	}

	return &EventStore{
		max:     cfg.MaxEvents,
		ttl:     cfg.TTL,
		entropy: ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// Append records an outbound message for the given stream and returns its
// event ID. IDs are strictly increasing across all streams.
func (es *EventStore) Append(streamID string, message json.RawMessage) string {
	es.mu.Lock()
	defer es.mu.Unlock()

	now := time.Now()
	es.evictLocked(now, 1)

	eventID := ulid.MustNew(ulid.Timestamp(now), es.entropy).String()
	es.events = append(es.events, &StoredEvent{
		EventID:   eventID,
		StreamID:  streamID,
		Message:   message,
		CreatedAt: now,
	})
	return eventID
}

// ReplayAfter delivers every stored event of the anchor's stream that was
// appended after lastEventID, in append order, then returns the stream ID so
// the caller can continue the logical stream. It does not block waiting for
// new events; resumption is a catch-up operation.
func (es *EventStore) ReplayAfter(lastEventID string, sink func(eventID string, message json.RawMessage) error) (string, error) {
	es.mu.Lock()
	es.evictLocked(time.Now(), 0)

	anchor := -1
	for i, ev := range es.events {
		if ev.EventID == lastEventID {
			anchor = i
			break
		}
	}
	if anchor < 0 {
		es.mu.Unlock()
		return "", ErrUnknownEventID
	}

	streamID := es.events[anchor].StreamID
	var pending []*StoredEvent
	for _, ev := range es.events[anchor+1:] {
		if ev.StreamID == streamID {
			pending = append(pending, ev)
		}
	}
	es.mu.Unlock()

	// The snapshot is delivered outside the lock so a slow sink cannot
	// stall appends, and eviction cannot mutate what is being replayed.
	for _, ev := range pending {
		if err := sink(ev.EventID, ev.Message); err != nil {
			return streamID, err
		}
	}

	logging.Debug("EventStore", "Replayed %d events after %s for stream %s", len(pending), lastEventID, streamID)
	return streamID, nil
}

// Len returns the number of stored events.
func (es *EventStore) Len() int {
	es.mu.Lock()
	defer es.mu.Unlock()
	return len(es.events)
}

// evictLocked drops expired events from the front, then excess events
// oldest-first until the count bound holds with room for the given number of
// upcoming appends. The double bound keeps the log small through long idle
// periods and through bursts alike.
func (es *EventStore) evictLocked(now time.Time, reserve int) {
	cutoff := now.Add(-es.ttl)
	drop := 0
	for drop < len(es.events) && es.events[drop].CreatedAt.Before(cutoff) {
		drop++
	}

	if over := len(es.events) - drop - (es.max - reserve); over > 0 {
		drop += over
	}

	if drop > 0 {
		remaining := make([]*StoredEvent, len(es.events)-drop)
		copy(remaining, es.events[drop:])
		es.events = remaining
	}
}
