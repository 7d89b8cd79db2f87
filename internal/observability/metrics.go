package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	CampaignsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kinobot_campaigns_started_total", Help: "Campaigns admitted"},
	)
	CampaignsFinished = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kinobot_campaigns_finished_total", Help: "Campaign worker exits by outcome"},
		[]string{"outcome"},
	)
	AdmissionFailures = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kinobot_campaign_admission_failures_total", Help: "Campaign starts rejected by storage"},
	)
	Deliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kinobot_deliveries_total", Help: "Per-recipient delivery outcomes"},
		[]string{"result"},
	)
	StoreErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kinobot_campaign_store_errors_total", Help: "Campaign store write failures"},
		[]string{"op"},
	)
	ActiveCampaigns = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "kinobot_active_campaigns", Help: "Campaigns registered in memory"},
	)
	CampaignDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kinobot_campaign_duration_seconds",
			Help:    "Wall time of a campaign worker",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		},
	)
	PremiumExpired = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "kinobot_premium_expired_total", Help: "Premium grants deactivated by the sweeper"},
	)
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "kinobot_http_requests_total", Help: "Ops API requests"},
		[]string{"route", "status"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(
		CampaignsStarted, CampaignsFinished, AdmissionFailures, Deliveries,
		StoreErrors, ActiveCampaigns, CampaignDuration, PremiumExpired, HTTPRequests,
	)
}
