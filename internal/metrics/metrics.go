// Package metrics exposes Prometheus counters and histograms for the
// core pipeline, surfaced to IPC clients through the Status message
// rather than scraped over HTTP (the core has no HTTP surface — see
// SPEC_FULL.md's note on the out-of-scope MCP/HTTP libraries).
package metrics

import (
	dto "github.com/prometheus/client_model/go"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles every metric the daemon tracks. A fresh Registry is
// created per daemon instance (not global) so tests can assert on an
// isolated set of counters.
type Registry struct {
	reg *prometheus.Registry

	CapturesAccepted prometheus.Counter
	CapturesRejected prometheus.Counter
	CapturesFailed   prometheus.Counter
	ChunksEmitted    prometheus.Counter
	EntitiesExtracted prometheus.Counter
	QueueDepth       prometheus.Gauge
	ReducerRatio     prometheus.Histogram
	SearchLatency    prometheus.Histogram
}

// New creates and registers a Registry.
func New() *Registry {
	reg := prometheus.NewRegistry()
	r := &Registry{
		reg: reg,
		CapturesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yinx_captures_accepted_total",
			Help: "Captures accepted by intake and processed without error.",
		}),
		CapturesRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yinx_captures_rejected_total",
			Help: "Captures rejected at intake (backpressure or validation).",
		}),
		CapturesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yinx_captures_failed_total",
			Help: "Captures whose pipeline processing failed after acceptance.",
		}),
		ChunksEmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yinx_chunks_emitted_total",
			Help: "Chunks emitted by the three-tier reducer.",
		}),
		EntitiesExtracted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "yinx_entities_extracted_total",
			Help: "Entities extracted across all chunks.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "yinx_intake_queue_depth",
			Help: "Current depth of the bounded intake channel.",
		}),
		ReducerRatio: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yinx_reducer_ratio",
			Help:    "Ratio of input lines to emitted chunks per capture.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		}),
		SearchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "yinx_search_latency_seconds",
			Help:    "End-to-end hybrid search latency.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(r.CapturesAccepted, r.CapturesRejected, r.CapturesFailed,
		r.ChunksEmitted, r.EntitiesExtracted, r.QueueDepth, r.ReducerRatio, r.SearchLatency)
	return r
}

// Snapshot is a point-in-time read of the counters, returned in the
// Status IPC response.
type Snapshot struct {
	CapturesAccepted  float64 `json:"captures_accepted"`
	CapturesRejected  float64 `json:"captures_rejected"`
	CapturesFailed    float64 `json:"captures_failed"`
	ChunksEmitted     float64 `json:"chunks_emitted"`
	EntitiesExtracted float64 `json:"entities_extracted"`
	QueueDepth        float64 `json:"queue_depth"`
}

// Snapshot gathers the current counter values via the standard
// prometheus dto path, used only for Status responses (no HTTP
// /metrics endpoint exists in the core per SPEC_FULL.md's domain-stack
// table).
func (r *Registry) Snapshot() Snapshot {
	return Snapshot{
		CapturesAccepted:  readCounter(r.CapturesAccepted),
		CapturesRejected:  readCounter(r.CapturesRejected),
		CapturesFailed:    readCounter(r.CapturesFailed),
		ChunksEmitted:     readCounter(r.ChunksEmitted),
		EntitiesExtracted: readCounter(r.EntitiesExtracted),
		QueueDepth:        readGauge(r.QueueDepth),
	}
}

func readCounter(c prometheus.Counter) float64 {
	var m dto.Metric
	_ = c.Write(&m)
	return m.GetCounter().GetValue()
}

func readGauge(g prometheus.Gauge) float64 {
	var m dto.Metric
	_ = g.Write(&m)
	return m.GetGauge().GetValue()
}
