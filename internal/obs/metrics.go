// Package obs exposes the Prometheus metrics surface of the gateway.
// Metrics are observability hooks only; no request outcome depends on them.
package obs

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	initOnce sync.Once

	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "toolgate_build_info",
			Help: "Gateway build information.",
		},
		[]string{"version", "commit"},
	)

	oauthHandshakes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_oauth_handshakes_total",
			Help: "OAuth endpoint hits by endpoint and outcome.",
		},
		[]string{"endpoint", "outcome"},
	)

	protocolRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_protocol_requests_total",
			Help: "Protocol endpoint requests by method and outcome.",
		},
		[]string{"method", "outcome"},
	)

	bodyRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_body_rejections_total",
			Help: "Request bodies rejected during ingestion, by reason.",
		},
		[]string{"reason"},
	)

	streamReplays = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "toolgate_stream_replays_total",
			Help: "Stream resumption attempts by outcome.",
		},
		[]string{"outcome"},
	)
)

// Init registers the gateway metrics with the default registry and records
// build information. Safe to call more than once.
func Init(version, commit string) {
	initOnce.Do(func() {
		prometheus.MustRegister(buildInfo, oauthHandshakes, protocolRequests, bodyRejections, streamReplays)
	})
	buildInfo.WithLabelValues(version, commit).Set(1)
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// OAuthHandshake counts one hit on an OAuth endpoint.
func OAuthHandshake(endpoint, outcome string) {
	oauthHandshakes.WithLabelValues(endpoint, outcome).Inc()
}

// ProtocolRequest counts one protocol endpoint request.
func ProtocolRequest(method, outcome string) {
	protocolRequests.WithLabelValues(method, outcome).Inc()
}

// BodyRejected counts one rejected request body.
func BodyRejected(reason string) {
	bodyRejections.WithLabelValues(reason).Inc()
}

// StreamReplay counts one resumption attempt.
func StreamReplay(outcome string) {
	streamReplays.WithLabelValues(outcome).Inc()
}
