package registry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks live connections and delivery outcomes.
type Metrics struct {
	OnlineUsers    prometheus.Gauge
	Sessions       prometheus.Gauge
	FramesSent     prometheus.Counter
	SendFailures   prometheus.Counter
	DeliveryMisses prometheus.Counter
}

// NewMetrics creates and registers registry metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		OnlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chainrelay_online_users",
			Help: "Number of users with at least one live session",
		}),
		Sessions: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "chainrelay_sessions",
			Help: "Number of live WebSocket sessions",
		}),
		FramesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainrelay_frames_sent_total",
			Help: "Frames accepted by a session",
		}),
		SendFailures: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainrelay_frame_send_failures_total",
			Help: "Frames a session refused; the session is dropped",
		}),
		DeliveryMisses: promauto.NewCounter(prometheus.CounterOpts{
			Name: "chainrelay_delivery_misses_total",
			Help: "Sends to users with no accepting session",
		}),
	}
}

func (m *Metrics) setCounts(users, sessions int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(users))
	m.Sessions.Set(float64(sessions))
}

func (m *Metrics) incFramesSent() {
	if m == nil {
		return
	}
	m.FramesSent.Inc()
}

func (m *Metrics) incSendFailure() {
	if m == nil {
		return
	}
	m.SendFailures.Inc()
}

func (m *Metrics) incDeliveryMiss() {
	if m == nil {
		return
	}
	m.DeliveryMisses.Inc()
}
