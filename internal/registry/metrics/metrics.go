package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks registration and credential processing.
type Metrics struct {
	IssuerRegistrations      prometheus.Counter
	CredentialsProcessed     *prometheus.CounterVec
	TopicsCreated            prometheus.Counter
	UpdateCredentialDuration prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IssuerRegistrations: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcr_issuer_registrations_total",
			Help: "Total number of issuer registrations applied",
		}),
		CredentialsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "vcr_credentials_processed_total",
			Help: "Credentials processed by outcome (created, updated, rejected)",
		}, []string{"outcome"}),
		TopicsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "vcr_topics_created_total",
			Help: "Total number of topics created",
		}),
		UpdateCredentialDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "vcr_update_credential_duration_seconds",
			Help:    "Duration of credential processing including persistence",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

func (m *Metrics) IncIssuerRegistration() {
	if m == nil {
		return
	}
	m.IssuerRegistrations.Inc()
}

// IncCredential records one credential outcome.
func (m *Metrics) IncCredential(outcome string) {
	if m == nil {
		return
	}
	m.CredentialsProcessed.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncTopicCreated() {
	if m == nil {
		return
	}
	m.TopicsCreated.Inc()
}

// ObserveUpdateCredential records the duration since start.
func (m *Metrics) ObserveUpdateCredential(start time.Time) {
	if m == nil {
		return
	}
	m.UpdateCredentialDuration.Observe(time.Since(start).Seconds())
}
