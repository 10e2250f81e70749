package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "tlsn_notary"

// Metrics holds the service's Prometheus collectors. Each server owns its
// own registry.
type Metrics struct {
	Registry *prometheus.Registry

	VerificationsTotal *prometheus.CounterVec
	VerifyDuration     prometheus.Histogram
	ProofBuildsTotal   *prometheus.CounterVec
	ProofBuildDuration prometheus.Histogram
	ProofCacheHits     prometheus.Counter
	WebsocketFrames    *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		VerificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "verifications_total",
			Help:      "Proof verifications by outcome",
		}, []string{"outcome"}),
		VerifyDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "verify_duration_seconds",
			Help:      "Time spent verifying a proof",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ProofBuildsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_builds_total",
			Help:      "Proof builds for the configured target by result",
		}, []string{"result"}),
		ProofBuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "proof_build_duration_seconds",
			Help:      "Time spent capturing, notarizing and assembling a proof",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		ProofCacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "proof_cache_hits_total",
			Help:      "GET /proof requests served from the proof cache",
		}),
		WebsocketFrames: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "websocket_frames_total",
			Help:      "Proof frames received on /ws by outcome",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.VerificationsTotal,
		m.VerifyDuration,
		m.ProofBuildsTotal,
		m.ProofBuildDuration,
		m.ProofCacheHits,
		m.WebsocketFrames,
	)
	return m
}
