package obs

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsExposed(t *testing.T) {
	Init("test", "deadbeef")
	// A second Init must not panic on duplicate registration.
	Init("test", "deadbeef")

	OAuthHandshake("token", "success")
	ProtocolRequest("POST", "accepted")
	BodyRejected("too_large")
	StreamReplay("unknown_event")

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)

	body := rec.Body.String()
	for _, metric := range []string{
		`toolgate_build_info{commit="deadbeef",version="test"} 1`,
		`toolgate_oauth_handshakes_total{endpoint="token",outcome="success"}`,
		`toolgate_protocol_requests_total{method="POST",outcome="accepted"}`,
		`toolgate_body_rejections_total{reason="too_large"}`,
		`toolgate_stream_replays_total{outcome="unknown_event"}`,
	} {
		assert.True(t, strings.Contains(body, metric), "missing metric %s", metric)
	}
}
