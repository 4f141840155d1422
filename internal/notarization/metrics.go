package notarization

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains Prometheus metrics for the notarization pipeline.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	QueueDepth    prometheus.Gauge
	InFlight      prometheus.Gauge
	ConfirmDelay  prometheus.Histogram
	QueueOverflow prometheus.Counter
}

// NewMetrics creates and registers pipeline metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "chainrelay_notarization_transitions_total",
			Help: "Notarization state transitions by outcome",
		}, []string{"outcome"}),
		QueueDepth: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chainrelay_notarization_queue_depth",
			Help: "Jobs waiting in the notarization queue",
		}),
		InFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chainrelay_notarization_in_flight",
			Help: "Jobs currently being processed by workers",
		}),
		ConfirmDelay: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "chainrelay_notarization_confirm_seconds",
			Help:    "Time from submission to confirmation",
			Buckets: []float64{1, 2, 5, 10, 15, 30, 60, 120, 300},
		}),
		QueueOverflow: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainrelay_notarization_queue_overflow_total",
			Help: "Enqueue attempts rejected because the queue was full",
		}),
	}
}

func (m *Metrics) incTransition(outcome string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(outcome).Inc()
}

func (m *Metrics) setQueueDepth(n int) {
	if m == nil {
		return
	}
	m.QueueDepth.Set(float64(n))
}

func (m *Metrics) addInFlight(delta float64) {
	if m == nil {
		return
	}
	m.InFlight.Add(delta)
}

func (m *Metrics) observeConfirmDelay(seconds float64) {
	if m == nil {
		return
	}
	m.ConfirmDelay.Observe(seconds)
}

func (m *Metrics) incQueueOverflow() {
	if m == nil {
		return
	}
	m.QueueOverflow.Inc()
}
