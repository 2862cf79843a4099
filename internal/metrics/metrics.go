package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Web server metrics.
var (
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_http_requests_total",
		Help: "Total HTTP requests by route, method, and status code",
	}, []string{"route", "method", "status"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kaitori_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"route", "method"})

	RateLimitHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kaitori_rate_limit_hits_total",
		Help: "Total admin endpoint rate limit rejections",
	})

	WebhookEventsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_webhook_events_total",
		Help: "Webhook events received by event and message type",
	}, []string{"event_type", "message_type"})
)

// Bot metrics.
var (
	GuardDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_guard_decisions_total",
		Help: "Abuse guard decisions by outcome and warning kind",
	}, []string{"outcome", "warning"})

	GuardTrackedUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaitori_guard_tracked_users",
		Help: "Number of user records held by the abuse guard",
	})

	AssessmentsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_assessments_total",
		Help: "Assessments by source and result",
	}, []string{"source", "result"})

	LLMRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kaitori_llm_request_duration_seconds",
		Help:    "LLM completion call duration in seconds",
		Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30},
	})

	LINEAPICallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_line_api_calls_total",
		Help: "LINE API calls by endpoint and result",
	}, []string{"endpoint", "result"})

	LINEAPILatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "kaitori_line_api_duration_seconds",
		Help:    "LINE API call duration in seconds",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"endpoint"})
)

// Worker metrics.
var (
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kaitori_broadcasts_total",
		Help: "Broadcasts sent by trigger and result",
	}, []string{"trigger", "result"})
)

// Database pool metrics (gauges updated periodically).
var (
	DBPoolTotalConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaitori_db_pool_total_conns",
		Help: "Total number of connections in the pool",
	})

	DBPoolIdleConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaitori_db_pool_idle_conns",
		Help: "Number of idle connections in the pool",
	})

	DBPoolAcquiredConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaitori_db_pool_acquired_conns",
		Help: "Number of acquired connections in the pool",
	})

	DBPoolMaxConns = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kaitori_db_pool_max_conns",
		Help: "Max connections configured for the pool",
	})
)
