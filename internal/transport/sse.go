package transport

import (
	"encoding/json"
	"fmt"
	"net/http"

	"toolgate/pkg/logging"
)

// sseWriter frames outbound messages as server-sent events on one HTTP
// response. Every pushed event is recorded in the event store first, so a
// client that loses the connection can reconnect with Last-Event-ID and
// catch up on whatever it missed.
type sseWriter struct {
	w        http.ResponseWriter
	flusher  http.Flusher
	store    *EventStore
	streamID string
}

// newSSEWriter prepares the response for event streaming and emits the
// stream preamble. It fails when the underlying writer cannot flush,
// which would make server push useless.
func newSSEWriter(w http.ResponseWriter, store *EventStore, streamID string) (*sseWriter, error) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		return nil, fmt.Errorf("response writer does not support streaming")
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	sw := &sseWriter{
		w:        w,
		flusher:  flusher,
		store:    store,
		streamID: streamID,
	}
	sw.comment("stream started")
	return sw, nil
}

// push records the message in the event store and writes it as an event
// carrying the assigned ID.
func (sw *sseWriter) push(message json.RawMessage) error {
	eventID := sw.store.Append(sw.streamID, message)
	return sw.writeEvent(eventID, message)
}

// writeEvent frames an already-stored event. Used directly during replay,
// where the event keeps the ID it was originally assigned.
func (sw *sseWriter) writeEvent(eventID string, message json.RawMessage) error {
	if _, err := fmt.Fprintf(sw.w, "id: %s\ndata: %s\n\n", eventID, message); err != nil {
		return err
	}
	sw.flusher.Flush()
	return nil
}

// comment writes an SSE comment line. Clients ignore it; proxies and idle
// timeouts see traffic.
func (sw *sseWriter) comment(text string) {
	if _, err := fmt.Fprintf(sw.w, ": %s\n\n", text); err != nil {
		logging.Debug("SSE", "Failed to write keep-alive on stream %s: %v", sw.streamID, err)
		return
	}
	sw.flusher.Flush()
}
