package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "livescribe"

// Collector holds the coordinator's counters. A nil *Collector is valid and
// records nothing.
type Collector struct {
	registry *prometheus.Registry

	chunks         *prometheus.CounterVec
	rejected       *prometheus.CounterVec
	transcriptions *prometheus.CounterVec
	latency        prometheus.Histogram
	finalizations  *prometheus.CounterVec
	fallbacks      prometheus.Counter
}

func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	c := &Collector{
		registry: reg,
		chunks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_accepted_total",
			Help:      "Chunks accepted for persistence, by kind.",
		}, []string{"kind"}),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chunks_rejected_total",
			Help:      "Audio chunks dropped by validation, by reason.",
		}, []string{"reason"}),
		transcriptions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Chunk transcription outcomes.",
		}, []string{"result"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_seconds",
			Help:      "Time spent waiting on the transcription service per chunk.",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		finalizations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "finalizations_total",
			Help:      "Session finalization outcomes.",
		}, []string{"result"}),
		fallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "summary_fallbacks_total",
			Help:      "Summaries replaced by the transcript excerpt fallback.",
		}),
	}

	reg.MustRegister(c.chunks, c.rejected, c.transcriptions, c.latency, c.finalizations, c.fallbacks)
	return c
}

// TrackActiveSessions exposes fn as a gauge of sessions currently recording
// or paused.
func (c *Collector) TrackActiveSessions(fn func() int) {
	if c == nil || fn == nil {
		return
	}
	c.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_sessions",
		Help:      "Sessions currently recording or paused.",
	}, func() float64 { return float64(fn()) }))
}

func (c *Collector) Handler() http.Handler {
	if c == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) Registry() *prometheus.Registry {
	if c == nil {
		return nil
	}
	return c.registry
}

func (c *Collector) ChunkAccepted(kind string) {
	if c == nil {
		return
	}
	c.chunks.WithLabelValues(kind).Inc()
}

func (c *Collector) ChunkRejected(reason string) {
	if c == nil {
		return
	}
	c.rejected.WithLabelValues(reason).Inc()
}

func (c *Collector) Transcription(result string, elapsed time.Duration) {
	if c == nil {
		return
	}
	c.transcriptions.WithLabelValues(result).Inc()
	if elapsed > 0 {
		c.latency.Observe(elapsed.Seconds())
	}
}

func (c *Collector) Finalization(result string) {
	if c == nil {
		return
	}
	c.finalizations.WithLabelValues(result).Inc()
}

func (c *Collector) SummaryFallback() {
	if c == nil {
		return
	}
	c.fallbacks.Inc()
}
