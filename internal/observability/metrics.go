package observability

import "github.com/prometheus/client_golang/prometheus"

// Outcome labels for SendsTotal.
const (
	SendAcked    = "acked"
	SendReplayed = "replayed"
	SendDenied   = "denied"
	SendFailed   = "failed"
)

// Result labels for TranslationsTotal.
const (
	TranslateIdentity = "identity"
	TranslateHit      = "hit"
	TranslateShared   = "shared"
	TranslateProvider = "provider"
	TranslateDegraded = "degraded"
)

var (
	// SendsTotal counts dispatched sends by final outcome.
	SendsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unibabel_sends_total",
			Help: "Chat sends by outcome.",
		},
		[]string{"outcome"},
	)

	// TranslationsTotal counts Translate calls by how they were answered.
	TranslationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unibabel_translations_total",
			Help: "Translation requests by result (identity, hit, shared, provider, degraded).",
		},
		[]string{"result"},
	)

	// ProviderAttempts counts outbound provider calls by outcome.
	ProviderAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "unibabel_provider_attempts_total",
			Help: "Outbound translation provider attempts by outcome.",
		},
		[]string{"outcome"},
	)

	// SessionsActive gauges connected realtime sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "unibabel_sessions_active",
		Help: "Currently connected realtime sessions.",
	})

	// SessionsShed counts sessions disconnected because their outbound
	// queue overflowed.
	SessionsShed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unibabel_sessions_shed_total",
		Help: "Sessions disconnected for falling behind.",
	})
)

func init() {
	prometheus.MustRegister(SendsTotal, TranslationsTotal, ProviderAttempts, SessionsActive, SessionsShed)
}
