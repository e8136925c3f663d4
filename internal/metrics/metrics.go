package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smshub_messages_total",
			Help: "Messages lifecycle counter by stage and provider",
		},
		[]string{"stage", "provider"}, // received|sent|failed|synced , twilio|ringcentral
	)

	WebhooksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smshub_webhooks_total",
			Help: "Inbound webhook deliveries by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	ProviderSendAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smshub_provider_send_attempts_total",
			Help: "Provider send attempts by request variant",
		},
		[]string{"provider", "variant", "outcome"},
	)

	CredentialRefreshTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smshub_credential_refresh_total",
			Help: "OAuth token refreshes by platform and outcome",
		},
		[]string{"platform", "outcome"},
	)

	SweepItemsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "smshub_sweep_items_total",
			Help: "Follow-up sentinels processed by the sweep",
		},
		[]string{"outcome"},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors once; serve and workers share it.
func MustRegister(r prometheus.Registerer) {
	registerOnce.Do(func() {
		r.MustRegister(
			MessagesTotal,
			WebhooksTotal,
			ProviderSendAttempts,
			CredentialRefreshTotal,
			SweepItemsTotal,
		)
	})
}
