package transport

import (
	"errors"
	"io"
	"net/http"
	"time"
)

// Body ingestion failures. Each one maps to a distinct HTTP response in the
// router, so callers can tell an oversized payload from a stalled sender.
var (
	ErrBodyTooLarge = errors.New("request body too large")
	ErrReadTimeout  = errors.New("request body read timed out")
	ErrClientGone   = errors.New("client disconnected during body read")
)

// IngestLimits bounds how much and how long a single request body may
// consume. Zero values take the defaults.
type IngestLimits struct {
	MaxBytes    int64
	ReadTimeout time.Duration
}

const (
	defaultBodyMaxBytes    = 4 << 20
	defaultBodyReadTimeout = 30 * time.Second
)

func (l IngestLimits) withDefaults() IngestLimits {
	if l.MaxBytes <= 0 {
		l.MaxBytes = defaultBodyMaxBytes
	}
	if l.ReadTimeout <= 0 {
		l.ReadTimeout = defaultBodyReadTimeout
	}
	return l
}

type readResult struct {
	data []byte
	err  error
}

// ReadBody consumes the request body under three independent bounds: a
// declared Content-Length beyond the byte limit fails before reading
// anything, the running total is enforced mid-stream for chunked senders
// that declared nothing, and a wall-clock timeout covers trickle senders
// that stay under the byte limit indefinitely.
func ReadBody(r *http.Request, limits IngestLimits) ([]byte, error) {
	limits = limits.withDefaults()

	if r.ContentLength > limits.MaxBytes {
		return nil, ErrBodyTooLarge
	}

	resultCh := make(chan readResult, 1)
	go func() {
		// One byte past the limit distinguishes "exactly at the bound"
		// from "over it" without reading an unbounded stream.
		data, err := io.ReadAll(io.LimitReader(r.Body, limits.MaxBytes+1))
		if err == nil && int64(len(data)) > limits.MaxBytes {
			resultCh <- readResult{err: ErrBodyTooLarge}
			return
		}
		resultCh <- readResult{data: data, err: err}
	}()

	timer := time.NewTimer(limits.ReadTimeout)
	defer timer.Stop()

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, res.err
		}
		return res.data, nil
	case <-timer.C:
		// The reader goroutine stays parked on the body until the
		// server tears the connection down after the error response.
		return nil, ErrReadTimeout
	case <-r.Context().Done():
		return nil, ErrClientGone
	}
}
