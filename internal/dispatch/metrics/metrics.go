package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PostsTotal tracks publish attempts by outcome
	PostsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_posts_total",
			Help: "Total number of publish attempts",
		},
		[]string{"result"},
	)

	// FailuresTotal tracks classified failures
	FailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_failures_total",
			Help: "Total number of failed publish attempts by category",
		},
		[]string{"category"},
	)

	// CredentialsDisabled tracks credentials permanently removed from rotation
	CredentialsDisabled = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_credentials_disabled_total",
			Help: "Total number of credentials disabled after an invalid token",
		},
	)

	// CooldownSeconds tracks the cooldowns handed out
	CooldownSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "relay_credential_cooldown_seconds",
			Help:    "Cooldown applied to a credential after a failure",
			Buckets: []float64{300, 600, 1200, 1800, 3600, 7200},
		},
		[]string{"category"},
	)

	// PostLatency tracks publishing API latency
	PostLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "relay_post_latency_seconds",
			Help:    "Publishing API call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// NoCredentialWaits tracks backoffs caused by every credential cooling down
	NoCredentialWaits = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "relay_no_credential_waits_total",
			Help: "Times a job backed off because all credentials were cooling down",
		},
	)

	// JobsRunning tracks jobs whose loop has not completed
	JobsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_jobs_running",
			Help: "Number of jobs currently running or stopping",
		},
	)

	// JobsCompleted tracks finished jobs by reason
	JobsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_jobs_completed_total",
			Help: "Total number of completed jobs",
		},
		[]string{"reason"},
	)

	// EventSinkErrors tracks event log writes a sink rejected
	EventSinkErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_event_sink_errors_total",
			Help: "Total number of event log writes that failed",
		},
		[]string{"sink"},
	)

	// EventsDropped tracks events a mirror never saw because its queue was full
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_events_dropped_total",
			Help: "Total number of events dropped before reaching a mirror",
		},
		[]string{"sink"},
	)

	// DBConnectionPoolUsage tracks the percentage of DB connections in use
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "relay_db_connection_pool_usage_percent",
			Help: "Percentage of database connection pool in use",
		},
	)
)
