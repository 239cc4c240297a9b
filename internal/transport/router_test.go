package transport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"toolgate/internal/oauth"
)

const (
	testAPIKey      = "gate-key-123"
	testClientID    = "demo"
	testSecret      = "s3cret"
	testRedirectURI = "https://app.test/cb"

	// RFC 7636 appendix B verifier and its S256 challenge.
	testVerifier  = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"
	testChallenge = "E9Melhoa2OwvFrEMTJguCHaoeK1t8URWbuGJSstw-cM"
)

// fakeEngine answers every message with a canned JSON-RPC response.
type fakeEngine struct {
	lastMessage json.RawMessage
	response    mcp.JSONRPCMessage
}

func (f *fakeEngine) HandleMessage(ctx context.Context, message json.RawMessage) mcp.JSONRPCMessage {
	f.lastMessage = message
	return f.response
}

func newTestRouter(t *testing.T, cfg RouterConfig) (*Router, *oauth.CredentialStore, *fakeEngine) {
	t.Helper()

	store := oauth.NewCredentialStore(oauth.CredentialStoreConfig{})
	t.Cleanup(store.Stop)

	svc := oauth.NewService(store, oauth.ServiceConfig{
		Clients: []oauth.ClientRegistration{{
			ClientID:      testClientID,
			ClientSecret:  testSecret,
			RedirectURIs:  []string{testRedirectURI},
			AuthMethod:    oauth.AuthMethodClientSecretPost,
			DefaultScopes: []string{"tools"},
		}},
		RequirePKCE: true,
	})

	engine := &fakeEngine{response: map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"result":  map[string]any{"ok": true},
	}}

	if cfg.ServerName == "" {
		cfg.ServerName = "toolgate-test"
		cfg.ServerVersion = "0.0.1"
	}
	if cfg.PublicBaseURL == "" {
		cfg.PublicBaseURL = "http://localhost:8090"
	}
	if cfg.Origin.Port == 0 {
		cfg.Origin.Port = 8090
	}

	events := NewEventStore(EventStoreConfig{})
	return NewRouter(svc, engine, events, cfg), store, engine
}

func seedSession(t *testing.T, store *oauth.CredentialStore) string {
	t.Helper()

	store.PutSession(&oauth.Session{
		AccessToken: "valid-token",
		ClientID:    testClientID,
		Scopes:      []string{"tools"},
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(time.Hour),
	})
	return "valid-token"
}

func postMCP(rt *Router, configure func(*http.Request)) *httptest.ResponseRecorder {
	r := httptest.NewRequest("POST", "/mcp", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}`))
	if configure != nil {
		configure(r)
	}
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)
	return rec
}

func TestProtocolRequiresAuthentication(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{APIKey: testAPIKey})

	rec := postMCP(rt, nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Bearer")

	var body struct {
		JSONRPC string `json:"jsonrpc"`
		Error   struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "2.0", body.JSONRPC)
	assert.NotZero(t, body.Error.Code)
}

func TestProtocolAPIKeyAuthentication(t *testing.T) {
	rt, _, engine := newTestRouter(t, RouterConfig{APIKey: testAPIKey})

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, testAPIKey)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`, rec.Body.String())
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":1,"method":"ping"}`, string(engine.lastMessage))
}

func TestProtocolWrongAPIKeyDoesNotFallThrough(t *testing.T) {
	rt, store, _ := newTestRouter(t, RouterConfig{APIKey: testAPIKey})
	token := seedSession(t, store)

	// A present but wrong key is a failure even with a valid bearer token
	// alongside it.
	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, "wrong")
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtocolAPIKeyDisabledWhenUnconfigured(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{})

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, "anything")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtocolBearerAuthentication(t *testing.T) {
	rt, store, _ := newTestRouter(t, RouterConfig{})
	token := seedSession(t, store)

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token)
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postMCP(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer not-a-token")
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestProtocolOriginPolicy(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{APIKey: testAPIKey})

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, testAPIKey)
		r.Header.Set("Origin", "http://localhost:8090")
	})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, testAPIKey)
		r.Header.Set("Origin", "http://evil.example")
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestProtocolBodyTooLarge(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{
		APIKey: testAPIKey,
		Ingest: IngestLimits{MaxBytes: 32},
	})

	r := httptest.NewRequest("POST", "/mcp", strings.NewReader(strings.Repeat("x", 100)))
	r.Header.Set(APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestProtocolNotificationAccepted(t *testing.T) {
	rt, _, engine := newTestRouter(t, RouterConfig{APIKey: testAPIKey})
	engine.response = nil

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, testAPIKey)
	})
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestProtocolPostStreamsWhenAccepted(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{APIKey: testAPIKey})

	rec := postMCP(rt, func(r *http.Request) {
		r.Header.Set(APIKeyHeader, testAPIKey)
		r.Header.Set("Accept", "text/event-stream")
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	body := rec.Body.String()
	assert.Contains(t, body, "id: ")
	assert.Contains(t, body, `"result":{"ok":true}`)
}

func TestProtocolGetOpensStream(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{
		APIKey:           testAPIKey,
		StreamCloseDelay: 20 * time.Millisecond,
	})

	r := httptest.NewRequest("GET", "/mcp", nil)
	r.Header.Set(APIKeyHeader, testAPIKey)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), ": stream started")
	assert.Contains(t, rec.Body.String(), ": stream closing")
}

func TestProtocolGetReplaysAfterLastEventID(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{
		APIKey:           testAPIKey,
		StreamCloseDelay: 20 * time.Millisecond,
	})

	anchor := rt.events.Append("stream-1", json.RawMessage(`{"seq":1}`))
	rt.events.Append("stream-1", json.RawMessage(`{"seq":2}`))
	rt.events.Append("stream-2", json.RawMessage(`{"other":true}`))
	rt.events.Append("stream-1", json.RawMessage(`{"seq":3}`))

	r := httptest.NewRequest("GET", "/mcp", nil)
	r.Header.Set(APIKeyHeader, testAPIKey)
	r.Header.Set("Last-Event-ID", anchor)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)

	require.Equal(t, http.StatusOK, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `data: {"seq":2}`)
	assert.Contains(t, body, `data: {"seq":3}`)
	assert.NotContains(t, body, `data: {"other":true}`)
	assert.Less(t, strings.Index(body, `{"seq":2}`), strings.Index(body, `{"seq":3}`))
}

func TestProtocolGetUnknownLastEventID(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{APIKey: testAPIKey})

	r := httptest.NewRequest("GET", "/mcp", nil)
	r.Header.Set(APIKeyHeader, testAPIKey)
	r.Header.Set("Last-Event-ID", "01ARZ3NDEKTSV4RRFFQ69G5FAV")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Unknown event ID")
}

func TestTokenEndpointRateLimited(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{
		RateLimit: RateLimiterConfig{MaxAttempts: 2, Window: time.Minute},
	})

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("POST", "/token", strings.NewReader("grant_type=bogus"))
		r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		rec := httptest.NewRecorder()
		rt.ServeHTTP(rec, r)
		require.NotEqual(t, http.StatusTooManyRequests, rec.Code)
	}

	r := httptest.NewRequest("POST", "/token", strings.NewReader("grant_type=bogus"))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, r)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
}

func TestDiscoveryEndpoint(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{PublicBaseURL: "https://gate.example.com"})

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/.well-known/oauth-authorization-server", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var doc struct {
		Issuer                string   `json:"issuer"`
		AuthorizationEndpoint string   `json:"authorization_endpoint"`
		TokenEndpoint         string   `json:"token_endpoint"`
		CodeChallengeMethods  []string `json:"code_challenge_methods_supported"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &doc))
	assert.Equal(t, "https://gate.example.com", doc.Issuer)
	assert.Equal(t, "https://gate.example.com/authorize", doc.AuthorizationEndpoint)
	assert.Equal(t, "https://gate.example.com/token", doc.TokenEndpoint)
	assert.Equal(t, []string{"S256"}, doc.CodeChallengeMethods)
}

func TestInfoEndpoint(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{})

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/info", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))

	var info struct {
		Name         string            `json:"name"`
		Endpoints    map[string]string `json:"endpoints"`
		Capabilities map[string]bool   `json:"capabilities"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, "toolgate-test", info.Name)
	assert.True(t, info.Capabilities["resumable_streams"])
}

func TestNotFoundListsEndpoints(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{})

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/nope", nil))

	require.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), "/mcp")
	assert.Contains(t, rec.Body.String(), "/token")
}

func TestHealthz(t *testing.T) {
	rt, _, _ := newTestRouter(t, RouterConfig{})

	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

// TestFullAuthorizationFlow walks the complete handshake: authorization
// request with PKCE, code-for-token exchange, then an authenticated
// protocol call with the issued bearer token.
func TestFullAuthorizationFlow(t *testing.T) {
	rt, _, engine := newTestRouter(t, RouterConfig{})

	// Step 1: authorization request.
	params := url.Values{
		"response_type":         {"code"},
		"client_id":             {testClientID},
		"redirect_uri":          {testRedirectURI},
		"state":                 {"xyz"},
		"code_challenge":        {testChallenge},
		"code_challenge_method": {"S256"},
	}
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, httptest.NewRequest("GET", "/authorize?"+params.Encode(), nil))
	require.Equal(t, http.StatusFound, rec.Code)

	location, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	code := location.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Equal(t, "xyz", location.Query().Get("state"))

	// Step 2: exchange the code.
	form := url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {testRedirectURI},
		"code_verifier": {testVerifier},
		"client_id":     {testClientID},
		"client_secret": {testSecret},
	}
	r := httptest.NewRequest("POST", "/token", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	rt.ServeHTTP(rec, r)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var token struct {
		AccessToken string `json:"access_token"`
		TokenType   string `json:"token_type"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &token))
	require.NotEmpty(t, token.AccessToken)
	assert.Equal(t, "Bearer", token.TokenType)

	// Step 3: call the protocol endpoint with the issued token.
	rec = postMCP(rt, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+token.AccessToken)
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, engine.lastMessage)
}
