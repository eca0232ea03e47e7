package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks outbound hook deliveries.
type Metrics struct {
	Deliveries       *prometheus.CounterVec
	DeliveryDuration prometheus.Histogram
	CircuitOpened    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcr_hook_deliveries_total",
			Help: "Hook deliveries by final outcome (success, retry_fail, circuit_open)",
		}, []string{"outcome"}),
		DeliveryDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcr_hook_delivery_duration_seconds",
			Help:    "Duration of one hook delivery including retries",
			Buckets: prometheus.DefBuckets,
		}),
		CircuitOpened: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcr_hook_circuit_opened_total",
			Help: "Times a hook target circuit opened",
		}),
	}
}

func (m *Metrics) IncDelivery(outcome string) {
	if m == nil {
		return
	}
	m.Deliveries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveDelivery(start time.Time) {
	if m == nil {
		return
	}
	m.DeliveryDuration.Observe(time.Since(start).Seconds())
}

func (m *Metrics) IncCircuitOpened() {
	if m == nil {
		return
	}
	m.CircuitOpened.Inc()
}
