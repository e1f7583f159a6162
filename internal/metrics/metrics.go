// Package metrics exposes Prometheus instrumentation for the producer and viewer.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "texlink"

var (
	// Batches counts encoded pixel batches by outcome: sent, skipped (unchanged) or failed.
	Batches = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "batches_total",
			Help:      "Pixel batches by outcome",
		},
		[]string{"outcome"},
	)

	// Jobs counts update jobs leaving the queue: completed, dropped or closed.
	Jobs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "jobs_total",
			Help:      "Update jobs by outcome",
		},
		[]string{"outcome"},
	)

	// Captures counts pixel captures by outcome.
	Captures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "captures_total",
			Help:      "Pixel captures by outcome",
		},
		[]string{"outcome"},
	)

	// QueueDepth is the number of queued update jobs.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "queue_depth",
			Help:      "Update jobs waiting to be streamed",
		},
	)

	// CaptureSeconds observes how long the host takes to hand over pixels.
	CaptureSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "producer",
			Name:      "capture_seconds",
			Help:      "Pixel capture time in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// UpdatesApplied counts pixel updates written into assembled textures.
	UpdatesApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "updates_applied_total",
			Help:      "Pixel update messages applied by kind",
		},
		[]string{"kind"},
	)

	// TexturesAllocated counts texture buffers (re)allocated by the assembler.
	TexturesAllocated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "textures_allocated_total",
			Help:      "Texture buffers allocated on first update or resize",
		},
	)

	// LiveResources tracks resources held by the resource manager per kind.
	LiveResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "viewer",
			Name:      "live_resources",
			Help:      "Resources tracked by the resource manager",
		},
		[]string{"kind"},
	)
)

// Outcome labels.
const (
	OutcomeSent        = "sent"
	OutcomeSkipped     = "skipped"
	OutcomeFailed      = "failed"
	OutcomeCompleted   = "completed"
	OutcomeDropped     = "dropped"
	OutcomeClosed      = "closed"
	OutcomeOK          = "ok"
	OutcomeBusy        = "busy"
	OutcomeUnsupported = "unsupported"
	OutcomeError       = "error"
)

// NewServer returns an HTTP server exposing /metrics.
func NewServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  15 * time.Second,
	}
}
