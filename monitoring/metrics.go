package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	ResponseTimeHistogram = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_response_time_seconds",
			Help:    "Histogram of response times",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "partner_notifications_total",
			Help: "Notification dispatch attempts by template and outcome",
		},
		[]string{"template", "outcome"},
	)

	TransfersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "payout_transfers_total",
			Help: "Payout transfer attempts by outcome",
		},
		[]string{"outcome"},
	)
)
