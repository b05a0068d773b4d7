package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// HTTP metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_http_requests_total",
			Help: "Total HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayclaw_http_request_duration_seconds",
			Help:    "HTTP request duration",
			Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	// Reply pipeline metrics
	EventsReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_events_received_total",
			Help: "Total inbound events",
		},
		[]string{"platform", "outcome"}, // "accepted" or "filtered"
	)

	RepliesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_replies_sent_total",
			Help: "Total replies dispatched",
		},
		[]string{"platform"},
	)

	ReplyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_reply_failures_total",
			Help: "Total reply pipeline failures",
		},
		[]string{"platform"},
	)

	ChunksSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayclaw_chunks_sent_total",
			Help: "Total outbound transport messages",
		},
	)

	RecordPersistFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayclaw_record_persist_failures_total",
			Help: "Total conversation records that failed to persist",
		},
	)

	// News engine metrics
	Ticks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_news_ticks_total",
			Help: "Total news ticks",
		},
		[]string{"outcome"}, // "run", "overlap", "idle", "outside_schedule", "panic"
	)

	FetchFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayclaw_news_fetch_failures_total",
			Help: "Total source channel fetch failures",
		},
	)

	Candidates = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relayclaw_news_candidates_total",
			Help: "Total candidates admitted by the last-seen gate",
		},
	)

	Reposts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_news_reposts_total",
			Help: "Total repost outcomes",
		},
		[]string{"outcome", "reason"},
	)

	// Oracle metrics
	OracleLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relayclaw_oracle_latency_seconds",
			Help:    "Oracle call latency",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"operation"},
	)

	OracleFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relayclaw_oracle_failures_total",
			Help: "Total oracle failures",
		},
		[]string{"operation"},
	)
)
