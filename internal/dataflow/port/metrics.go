package port

import (
	"strconv"

	"github.com/go-arcade/arcade/pkg/log"
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSlotMetrics reports input-slot backlog telemetry to a
// Prometheus registry, in the same register-on-first-use style as
// pkg/metrics.PrometheusSink: Graph builds one of these per run when a
// metrics server is enabled and shares it across every InputSlot.
type PrometheusSlotMetrics struct {
	backlog    *prometheus.GaugeVec
	highWaters *prometheus.CounterVec
}

// NewPrometheusSlotMetrics registers the gauge/counter pair on reg. reg is
// typically the *prometheus.Registry behind a running pkg/metrics.Server.
func NewPrometheusSlotMetrics(reg prometheus.Registerer) *PrometheusSlotMetrics {
	m := &PrometheusSlotMetrics{
		backlog: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dataflow_input_slot_backlog",
			Help: "Items published upstream but not yet released by this input slot.",
		}, []string{"processor", "port", "index"}),
		highWaters: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dataflow_input_slot_high_water_total",
			Help: "Times this input slot's backlog crossed the high-water fraction of its buffer.",
		}, []string{"processor", "port", "index"}),
	}
	reg.MustRegister(m.backlog, m.highWaters)
	return m
}

func (m *PrometheusSlotMetrics) labels(addr Address) prometheus.Labels {
	return prometheus.Labels{
		"processor": addr.Processor,
		"port":      addr.Port,
		"index":     strconv.Itoa(addr.Index),
	}
}

// SetBacklog implements SlotMetrics.
func (m *PrometheusSlotMetrics) SetBacklog(addr Address, backlog int64) {
	m.backlog.With(m.labels(addr)).Set(float64(backlog))
}

// HighWaterWarning implements SlotMetrics, also logging once per throttle
// window so an operator watching logs (not just dashboards) sees it.
func (m *PrometheusSlotMetrics) HighWaterWarning(addr Address, backlog, bufferSize int64) {
	m.highWaters.With(m.labels(addr)).Inc()
	log.Warnw("input slot backlog above high-water threshold",
		"slot", addr.String(), "backlog", backlog, "buffer_size", bufferSize)
}
