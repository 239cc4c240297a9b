package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"toolgate/internal/oauth"
	"toolgate/internal/obs"
	"toolgate/pkg/logging"
)

// APIKeyHeader carries the static gateway key. It is checked before any
// bearer token; an empty configured key disables this mechanism entirely.
const APIKeyHeader = "X-API-Key"

const keepAliveInterval = 15 * time.Second

// Engine is the protocol layer behind the transport. The router hands it
// fully ingested JSON-RPC messages and relays whatever it answers.
type Engine interface {
	HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage
}

// RouterConfig wires the transport's policies together.
type RouterConfig struct {
	// APIKey enables static-key authentication on the protocol endpoint
	// when non-empty.
	APIKey string

	// PublicBaseURL is the absolute base used in discovery metadata.
	PublicBaseURL string

	ServerName    string
	ServerVersion string

	Origin OriginPolicy
	Ingest IngestLimits

	// StreamCloseDelay, when positive, makes the server close push
	// streams after that duration to force clients through the
	// reconnect-and-replay path. Zero keeps streams open until the
	// client goes away.
	StreamCloseDelay time.Duration

	RateLimit RateLimiterConfig
}

// Router is the single HTTP entry point of the gateway. It fronts the OAuth
// service, the protocol engine, and the resumable event store, and owns
// every transport-level defense: authentication, Origin validation, bounded
// body ingestion, and rate limiting on the OAuth endpoints.
type Router struct {
	oauth   *oauth.Service
	engine  Engine
	events  *EventStore
	cfg     RouterConfig
	limiter *RateLimiter
	mux     *http.ServeMux
}

// NewRouter assembles the HTTP surface.
func NewRouter(oauthSvc *oauth.Service, engine Engine, events *EventStore, cfg RouterConfig) *Router {
	rt := &Router{
		oauth:   oauthSvc,
		engine:  engine,
		events:  events,
		cfg:     cfg,
		limiter: NewRateLimiter(cfg.RateLimit),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/authorize", rt.handleAuthorize)
	mux.HandleFunc("/token", rt.handleToken)
	mux.HandleFunc("/mcp", rt.handleProtocol)
	mux.HandleFunc("/.well-known/oauth-authorization-server", rt.handleDiscovery)
	mux.HandleFunc("/info", rt.handleInfo)
	mux.HandleFunc("/healthz", rt.handleHealthz)
	mux.Handle("/metrics", obs.Handler())
	mux.HandleFunc("/", rt.handleNotFound)
	rt.mux = mux

	return rt
}

func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.mux.ServeHTTP(w, r)
}

// rateLimited rejects the request with 429 when the remote address has
// exhausted its window on the OAuth endpoints.
func (rt *Router) rateLimited(w http.ResponseWriter, r *http.Request, endpoint string) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}

	if rt.limiter.Allow(host) {
		return false
	}

	obs.OAuthHandshake(endpoint, "rate_limited")
	w.Header().Set("Retry-After", "60")
	writeJSON(w, http.StatusTooManyRequests, map[string]string{
		"error":             "slow_down",
		"error_description": "too many requests",
	})
	return true
}

func (rt *Router) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.rateLimited(w, r, "authorize") {
		return
	}

	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	rt.oauth.HandleAuthorize(sw, r)
	obs.OAuthHandshake("authorize", outcomeForStatus(sw.code))
}

func (rt *Router) handleToken(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if rt.rateLimited(w, r, "token") {
		return
	}

	sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
	rt.oauth.HandleToken(sw, r)
	obs.OAuthHandshake("token", outcomeForStatus(sw.code))
}

// handleProtocol guards the protocol endpoint. Authentication runs first so
// unauthenticated callers learn nothing about Origin policy or limits, then
// the Origin check, then method-specific handling.
func (rt *Router) handleProtocol(w http.ResponseWriter, r *http.Request) {
	if !rt.authenticate(r) {
		obs.ProtocolRequest(r.Method, "unauthorized")
		w.Header().Set("WWW-Authenticate", `Bearer realm="toolgate"`)
		writeJSONRPCError(w, http.StatusUnauthorized, -32001, "Unauthorized: valid API key or bearer token required")
		return
	}

	if !rt.cfg.Origin.Allows(r.Header.Get("Origin")) {
		obs.ProtocolRequest(r.Method, "forbidden_origin")
		writeJSONRPCError(w, http.StatusForbidden, -32002, "Origin not allowed")
		return
	}

	switch r.Method {
	case http.MethodPost:
		rt.handleProtocolPost(w, r)
	case http.MethodGet:
		rt.handleProtocolGet(w, r)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, -32600, "Method not allowed")
	}
}

// authenticate checks the API key header first. A present key must match
// exactly; only an absent header falls through to bearer validation.
func (rt *Router) authenticate(r *http.Request) bool {
	if key := r.Header.Get(APIKeyHeader); key != "" {
		return rt.cfg.APIKey != "" && key == rt.cfg.APIKey
	}
	return rt.oauth.ValidateBearer(r) != nil
}

func (rt *Router) handleProtocolPost(w http.ResponseWriter, r *http.Request) {
	body, err := ReadBody(r, rt.cfg.Ingest)
	if err != nil {
		rt.rejectBody(w, r, err)
		return
	}

	response := rt.engine.HandleMessage(r.Context(), body)
	if response == nil {
		// Notification: nothing to answer.
		obs.ProtocolRequest(r.Method, "accepted")
		w.WriteHeader(http.StatusAccepted)
		return
	}
	obs.ProtocolRequest(r.Method, "ok")

	payload, merr := json.Marshal(response)
	if merr != nil {
		logging.Error("Router", merr, "Failed to marshal protocol response")
		writeJSONRPCError(w, http.StatusInternalServerError, -32603, "Internal error")
		return
	}

	if acceptsEventStream(r) {
		sw, serr := newSSEWriter(w, rt.events, uuid.NewString())
		if serr != nil {
			http.Error(w, serr.Error(), http.StatusInternalServerError)
			return
		}
		if perr := sw.push(payload); perr != nil {
			logging.Debug("Router", "Client went away before response delivery on stream %s: %v", sw.streamID, perr)
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(payload)
}

// handleProtocolGet opens the server-push direction. With a Last-Event-ID
// header the stored backlog of that stream is replayed first; without one a
// fresh stream is opened.
func (rt *Router) handleProtocolGet(w http.ResponseWriter, r *http.Request) {
	lastEventID := r.Header.Get("Last-Event-ID")

	streamID := uuid.NewString()
	if lastEventID != "" {
		located, err := rt.events.ReplayAfter(lastEventID, func(string, json.RawMessage) error { return nil })
		if err != nil {
			obs.StreamReplay("unknown_event")
			writeJSONRPCError(w, http.StatusBadRequest, -32602, "Unknown event ID; restart the session")
			return
		}
		streamID = located
	}

	sw, err := newSSEWriter(w, rt.events, streamID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	if lastEventID != "" {
		// Replay again onto the open stream. The first pass only
		// validated the anchor so the failure could still be an HTTP
		// status instead of a broken event stream.
		if _, err := rt.events.ReplayAfter(lastEventID, sw.writeEvent); err != nil {
			logging.Warn("Router", "Replay after %s failed mid-stream: %v", lastEventID, err)
			return
		}
		obs.StreamReplay("ok")
	}
	obs.ProtocolRequest(r.Method, "stream")

	rt.serveKeepAlives(r.Context(), sw)
}

// serveKeepAlives holds the stream open, emitting periodic comments, until
// the client disconnects or the configured close delay elapses.
func (rt *Router) serveKeepAlives(ctx context.Context, sw *sseWriter) {
	ticker := time.NewTicker(keepAliveInterval)
	defer ticker.Stop()

	var closeAt <-chan time.Time
	if rt.cfg.StreamCloseDelay > 0 {
		timer := time.NewTimer(rt.cfg.StreamCloseDelay)
		defer timer.Stop()
		closeAt = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-closeAt:
			// Deliberate server-side close. The client reconnects
			// with Last-Event-ID and resumes from the backlog.
			sw.comment("stream closing")
			logging.Debug("Router", "Closing stream %s after %v", sw.streamID, rt.cfg.StreamCloseDelay)
			return
		case <-ticker.C:
			sw.comment("keep-alive")
		}
	}
}

func (rt *Router) rejectBody(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrBodyTooLarge):
		obs.BodyRejected("too_large")
		writeJSONRPCError(w, http.StatusRequestEntityTooLarge, -32600, "Request body too large")
	case errors.Is(err, ErrReadTimeout):
		obs.BodyRejected("timeout")
		writeJSONRPCError(w, http.StatusRequestTimeout, -32600, "Request body read timed out")
	case errors.Is(err, ErrClientGone):
		obs.BodyRejected("client_gone")
		// The peer is gone; there is nobody to answer.
	default:
		obs.BodyRejected("read_error")
		writeJSONRPCError(w, http.StatusBadRequest, -32700, "Failed to read request body")
	}
}

func (rt *Router) handleDiscovery(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, rt.oauth.DiscoveryDocument(rt.cfg.PublicBaseURL))
}

func (rt *Router) handleInfo(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    rt.cfg.ServerName,
		"version": rt.cfg.ServerVersion,
		"endpoints": map[string]string{
			"authorization": rt.cfg.PublicBaseURL + "/authorize",
			"token":         rt.cfg.PublicBaseURL + "/token",
			"protocol":      rt.cfg.PublicBaseURL + "/mcp",
			"discovery":     rt.cfg.PublicBaseURL + "/.well-known/oauth-authorization-server",
		},
		"capabilities": map[string]bool{
			"tools":             true,
			"resumable_streams": true,
		},
	})
}

func (rt *Router) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) handleNotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]any{
		"error": "not found",
		"endpoints": []string{
			"/authorize",
			"/token",
			"/mcp",
			"/.well-known/oauth-authorization-server",
			"/info",
			"/healthz",
			"/metrics",
		},
	})
}

func acceptsEventStream(r *http.Request) bool {
	return strings.Contains(r.Header.Get("Accept"), "text/event-stream")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeJSONRPCError answers with a JSON-RPC shaped error body so protocol
// clients can surface transport failures through their normal error path.
func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	writeJSON(w, status, map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

func outcomeForStatus(status int) string {
	if status >= 400 {
		return "error"
	}
	return "success"
}

// statusWriter records the status code written by a wrapped handler.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
