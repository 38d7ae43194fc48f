package pipeline

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics shared by all stages, labelled by stage
// name. A nil *Metrics is valid and records nothing.
type Metrics struct {
	itemsIn        *prometheus.CounterVec
	itemsDelivered *prometheus.CounterVec
	itemsDropped   *prometheus.CounterVec
	receivers      *prometheus.GaugeVec
}

// NewMetrics creates and registers pipeline metrics. It returns nil when reg is nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return nil
	}

	m := &Metrics{
		itemsIn: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "pipeline",
			Name:      "items_in_total",
			Help:      "Items read from a stage's input channel",
		}, []string{"stage"}),
		itemsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "pipeline",
			Name:      "items_delivered_total",
			Help:      "Items handed to a receiver channel",
		}, []string{"stage"}),
		itemsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "skystream",
			Subsystem: "pipeline",
			Name:      "items_dropped_total",
			Help:      "Deliveries skipped because the receiver channel was full",
		}, []string{"stage"}),
		receivers: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "skystream",
			Subsystem: "pipeline",
			Name:      "receivers",
			Help:      "Registered receivers per stage",
		}, []string{"stage"}),
	}
	reg.MustRegister(m.itemsIn, m.itemsDelivered, m.itemsDropped, m.receivers)
	return m
}

func (m *Metrics) in(stage string) {
	if m != nil {
		m.itemsIn.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) delivered(stage string) {
	if m != nil {
		m.itemsDelivered.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) drop(stage string) {
	if m != nil {
		m.itemsDropped.WithLabelValues(stage).Inc()
	}
}

func (m *Metrics) setReceivers(stage string, n int) {
	if m != nil {
		m.receivers.WithLabelValues(stage).Set(float64(n))
	}
}
