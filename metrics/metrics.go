// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ProviderRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctrans_provider_requests_total",
		Help: "Requests sent to the translation provider, by operation and HTTP status code",
	}, []string{"op", "code"})

	ProviderBackoffs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctrans_provider_backoffs_total",
		Help: "Rate-limit or unavailable responses that triggered a backoff",
	})

	Jobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctrans_jobs_total",
		Help: "Finished translation jobs, by terminal state and source format",
	}, []string{"state", "format"})

	JobsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "doctrans_jobs_in_flight",
		Help: "Translation jobs currently running",
	})

	BilledCharacters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "doctrans_billed_characters_total",
		Help: "Characters billed by the provider after the minimum-billing floor, by source format",
	}, []string{"format"})

	BillingFloorApplied = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctrans_billing_floor_applied_total",
		Help: "Jobs whose billed characters were raised to the minimum-billing floor",
	})

	EqualLanguageRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctrans_equal_language_retries_total",
		Help: "Jobs restarted with an explicit source language after an equal-language rejection",
	})

	PollAttempts = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "doctrans_poll_attempts",
		Help:    "Status checks needed before a document reached a terminal state",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})

	MaterializationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "doctrans_materialization_failures_total",
		Help: "Translations that succeeded but could not be written in the requested format",
	})
)
