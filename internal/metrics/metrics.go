// Package metrics holds the prometheus collectors for the relay, the
// endpoint prober and the playback controller.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RelayRequests counts relay requests by outcome: ok, upstream_error,
// fetch_error, bad_request or preflight.
var RelayRequests = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tambayan_relay_requests_total",
	Help: "Relay requests by outcome",
}, []string{"outcome"})

// RelayBytes counts body bytes streamed back to relay clients.
var RelayBytes = promauto.NewCounter(prometheus.CounterOpts{
	Name: "tambayan_relay_bytes_total",
	Help: "Bytes streamed through the relay",
})

// RelayUpstreamDuration observes time until upstream response headers arrive.
var RelayUpstreamDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "tambayan_relay_upstream_duration_seconds",
	Help:    "Time to upstream response headers",
	Buckets: prometheus.DefBuckets,
})

// ProbeAttempts counts upstream endpoint probe attempts by result.
var ProbeAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tambayan_probe_attempts_total",
	Help: "Upstream endpoint probe attempts",
}, []string{"result"})

// PlaybackFaults counts faults reported by playback engines.
var PlaybackFaults = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tambayan_playback_faults_total",
	Help: "Playback faults by severity and category",
}, []string{"severity", "category"})

// PlaybackEnginesLive is the number of playback engine instances alive.
var PlaybackEnginesLive = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "tambayan_playback_engines_live",
	Help: "Live playback engine instances",
})
