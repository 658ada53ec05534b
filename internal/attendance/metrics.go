package attendance

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the store's Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	loads     *prometheus.CounterVec
	mutations *prometheus.CounterVec
	records   prometheus.Gauge
}

// NewMetrics registers the store collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_store_loads_total",
			Help: "Full collection loads by result.",
		}, []string{"result"}),
		mutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_store_mutations_total",
			Help: "Record mutations by operation and outcome.",
		}, []string{"op", "outcome"}),
		records: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_store_records",
			Help: "Records held in the cache after the last load.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.loads, m.mutations, m.records)
	}
	return m
}

func (m *Metrics) load(result string) {
	if m == nil {
		return
	}
	m.loads.WithLabelValues(result).Inc()
}

func (m *Metrics) mutation(op string, outcome Outcome) {
	if m == nil {
		return
	}
	m.mutations.WithLabelValues(op, string(outcome)).Inc()
}

func (m *Metrics) cached(n int) {
	if m == nil {
		return
	}
	m.records.Set(float64(n))
}
