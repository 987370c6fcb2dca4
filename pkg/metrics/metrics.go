package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Racetrack store
	RacetracksCreatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_racetracks_created_total",
		Help: "The total number of racetracks created",
	})
	RacetracksUpdatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_racetracks_updated_total",
		Help: "The total number of racetrack image or start position updates",
	})
	ImageCleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_image_cleanup_errors_total",
		Help: "The total number of stored images that could not be removed after a replace or failed commit",
	})

	// Leaderboard
	TimesSubmittedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_times_submitted_total",
		Help: "The total number of accepted time submissions",
	})
	PersonalRecordsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_personal_records_total",
		Help: "The total number of submissions that beat the user's previous best",
	})
	LeaderboardBuildLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "racing_leaderboard_build_seconds",
		Help:    "Latency of building a ranked leaderboard",
		Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10),
	})

	// Requests rejected by the core, labelled by error kind
	RejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "racing_rejected_total",
		Help: "The total number of operations rejected, by error kind",
	}, []string{"kind"})

	// Events
	EventsPublishedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_events_published_total",
		Help: "The total number of domain events published",
	})
	EventsFailedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "racing_events_failed_total",
		Help: "The total number of domain events dropped after retries",
	})
	EventBatchLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "racing_event_batch_publish_seconds",
		Help:    "Latency of publishing one batch of events",
		Buckets: prometheus.DefBuckets,
	})
)
