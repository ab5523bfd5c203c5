package metrics

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bridge"

// Metrics exposes Prometheus collectors for the bridge poll loop, the store
// and the analysis stream. A nil *Metrics is valid and records nothing.
type Metrics struct {
	pollOutcomes     *prometheus.CounterVec
	pollStoreErrors  prometheus.Counter
	pollFaults       prometheus.Counter
	requestsIssued   *prometheus.CounterVec
	streamRetries    prometheus.Counter
	analysisResults  *prometheus.CounterVec
	analysisDuration prometheus.Histogram
	workerActions    *prometheus.CounterVec
}

// MustNewMetrics registers the collectors on reg, reusing collectors that are
// already registered under the same name. Any other registration error panics.
func MustNewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &Metrics{
		pollOutcomes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_outcomes_total",
			Help:      "Controller poll ticks by observed outcome.",
		}, []string{"outcome"})),
		pollStoreErrors: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_store_errors_total",
			Help:      "Poll ticks skipped because the shared store could not be read.",
		})),
		pollFaults: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "poll_faults_total",
			Help:      "Poll ticks that failed with an unexpected error.",
		})),
		requestsIssued: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_issued_total",
			Help:      "Controller writes to the request document by kind.",
		}, []string{"kind"})),
		streamRetries: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "stream_retries_total",
			Help:      "Report streams restarted after a transient failure.",
		})),
		analysisResults: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "runs_total",
			Help:      "Completed analysis runs by result.",
		}, []string{"result"})),
		analysisDuration: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "analysis",
			Name:      "duration_seconds",
			Help:      "Wall time of an analysis run including retries.",
			Buckets:   []float64{1, 5, 10, 20, 40, 80, 160},
		})),
		workerActions: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "worker",
			Name:      "actions_total",
			Help:      "Worker-side status writes by resulting status.",
		}, []string{"status"})),
	}
}

func register[T prometheus.Collector](reg prometheus.Registerer, collector T) T {
	if err := reg.Register(collector); err != nil {
		var already prometheus.AlreadyRegisteredError
		if errors.As(err, &already) {
			if existing, ok := already.ExistingCollector.(T); ok {
				return existing
			}
		}
		panic(err)
	}
	return collector
}

func (m *Metrics) PollOutcome(outcome string) {
	if m == nil {
		return
	}
	m.pollOutcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) PollStoreError() {
	if m == nil {
		return
	}
	m.pollStoreErrors.Inc()
}

func (m *Metrics) PollFault() {
	if m == nil {
		return
	}
	m.pollFaults.Inc()
}

func (m *Metrics) RequestIssued(kind string) {
	if m == nil {
		return
	}
	m.requestsIssued.WithLabelValues(kind).Inc()
}

func (m *Metrics) StreamRetry() {
	if m == nil {
		return
	}
	m.streamRetries.Inc()
}

// AnalysisFinished records the result label and the run duration.
func (m *Metrics) AnalysisFinished(result string, duration time.Duration) {
	if m == nil {
		return
	}
	m.analysisResults.WithLabelValues(result).Inc()
	m.analysisDuration.Observe(duration.Seconds())
}

func (m *Metrics) WorkerAction(status string) {
	if m == nil {
		return
	}
	m.workerActions.WithLabelValues(status).Inc()
}
