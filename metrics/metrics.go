package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	BootStages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snap_boot_stage_total",
			Help: "Boot stage outcomes",
		},
		[]string{"stage", "outcome"},
	)

	BootStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "snap_boot_stage_duration_seconds",
			Help:    "Time taken by each boot stage",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)

	MigrationsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snap_migrations_applied_total",
			Help: "Total number of schema migrations applied",
		},
	)

	SeedRecords = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snap_seed_records_total",
			Help: "Seed specs processed by outcome (created, existing, failed)",
		},
		[]string{"outcome"},
	)

	ValidationFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snap_validation_failures_total",
			Help: "Requests rejected by input validation",
		},
	)

	CommandsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snap_commands_dispatched_total",
			Help: "Commands and notifications dispatched",
		},
		[]string{"command", "outcome"},
	)

	HTTPPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "snap_http_panics_total",
			Help: "Panics recovered while serving requests",
		},
	)

	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "snap_http_requests_total",
			Help: "HTTP requests by route and status class",
		},
		[]string{"route", "code"},
	)
)
