package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the controller counters of one process. A nil *Metrics is
// valid and records nothing, so controllers can be built without telemetry.
type Metrics struct {
	registry *prometheus.Registry

	// steps counts single-instruction moves by direction
	steps *prometheus.CounterVec
	// faults counts execution faults by kind
	faults *prometheus.CounterVec
	// halts counts halting instructions by reason
	halts *prometheus.CounterVec
	// seeks counts seeks by outcome
	seeks *prometheus.CounterVec
	// replayed tracks batches replayed per seek
	replayed prometheus.Histogram
	// truncated counts journal records discarded on divergence
	truncated prometheus.Counter
	// aborts counts controllers aborted by invariant violations
	aborts prometheus.Counter

	checkpoints  prometheus.Gauge
	journalBytes prometheus.Gauge
	// sessions is the number of open debug server connections
	sessions prometheus.Gauge
}

// NewMetrics registers the rvm metrics on a private registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rvm_steps_total",
			Help: "Instructions stepped by direction",
		}, []string{"direction"}),
		faults: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rvm_faults_total",
			Help: "Execution faults by kind",
		}, []string{"kind"}),
		halts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rvm_halts_total",
			Help: "Halting instructions by reason",
		}, []string{"reason"}),
		seeks: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "rvm_seeks_total",
			Help: "Seeks by result",
		}, []string{"result"}),
		replayed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "rvm_seek_replayed_batches",
			Help:    "Journal batches replayed per seek",
			Buckets: prometheus.ExponentialBuckets(1, 2, 13), // 1 to 4096
		}),
		truncated: factory.NewCounter(prometheus.CounterOpts{
			Name: "rvm_truncated_steps_total",
			Help: "Recorded steps discarded when execution diverged",
		}),
		aborts: factory.NewCounter(prometheus.CounterOpts{
			Name: "rvm_aborts_total",
			Help: "Controllers aborted by an invariant violation",
		}),
		checkpoints: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rvm_checkpoints",
			Help: "Live checkpoints of the most recently updated controller",
		}),
		journalBytes: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rvm_journal_bytes",
			Help: "Approximate journal size of the most recently updated controller",
		}),
		sessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "rvm_debug_sessions",
			Help: "Open debug server sessions",
		}),
	}
}

// Registry exposes the underlying registry, e.g. for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) StepForward() {
	if m == nil {
		return
	}
	m.steps.WithLabelValues("forward").Inc()
}

func (m *Metrics) StepBackward() {
	if m == nil {
		return
	}
	m.steps.WithLabelValues("backward").Inc()
}

func (m *Metrics) Fault(kind string) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(kind).Inc()
}

func (m *Metrics) Halt(reason string) {
	if m == nil {
		return
	}
	m.halts.WithLabelValues(reason).Inc()
}

// Seek records one seek and the number of batches it replayed.
func (m *Metrics) Seek(replayed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.seeks.WithLabelValues("error").Inc()
		return
	}
	m.seeks.WithLabelValues("ok").Inc()
	m.replayed.Observe(float64(replayed))
}

func (m *Metrics) Truncated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.truncated.Add(float64(n))
}

func (m *Metrics) Abort() {
	if m == nil {
		return
	}
	m.aborts.Inc()
}

// Sizes publishes the current checkpoint count and journal size.
func (m *Metrics) Sizes(checkpoints, journalBytes int) {
	if m == nil {
		return
	}
	m.checkpoints.Set(float64(checkpoints))
	m.journalBytes.Set(float64(journalBytes))
}

// Session adds delta to the open debug session gauge.
func (m *Metrics) Session(delta int) {
	if m == nil {
		return
	}
	m.sessions.Add(float64(delta))
}
