package stream

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for stream managers. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	framesReceived *prometheus.CounterVec
	decodeErrors   *prometheus.CounterVec
	reconnects     *prometheus.CounterVec
}

// NewMetrics creates and registers stream metrics. It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "stream",
			Name:      "frames_received_total",
			Help:      "Websocket frames received",
		}, []string{"stream"}),
		decodeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "stream",
			Name:      "decode_errors_total",
			Help:      "Frames discarded because they did not decode",
		}, []string{"stream"}),
		reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "stream",
			Name:      "reconnects_total",
			Help:      "Reconnect attempts after a connect or read failure",
		}, []string{"stream"}),
	}
	reg.MustRegister(m.framesReceived, m.decodeErrors, m.reconnects)
	return m
}

func (m *Metrics) frame(stream string) {
	if m != nil {
		m.framesReceived.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) decodeError(stream string) {
	if m != nil {
		m.decodeErrors.WithLabelValues(stream).Inc()
	}
}

func (m *Metrics) reconnect(stream string) {
	if m != nil {
		m.reconnects.WithLabelValues(stream).Inc()
	}
}
