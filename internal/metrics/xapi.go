// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics defines the Prometheus collectors of the client core.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	callTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapi_call_total",
		Help: "Total number of RPC calls by method and outcome",
	}, []string{"method", "outcome"}) // outcome: ok|error

	callDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "xapi_call_duration_seconds",
		Help:    "Duration of RPC calls including retries and redirects",
		Buckets: prometheus.ExponentialBuckets(0.005, 2.5, 10),
	}, []string{"method"})

	callRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapi_call_retries_total",
		Help: "Number of RPC retries after network or host-not-ready errors",
	}, []string{"code"})

	redirectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xapi_redirects_total",
		Help: "Number of slave-to-master redirects followed",
	})

	sessionLogins = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapi_session_logins_total",
		Help: "Session login attempts by result",
	}, []string{"result"}) // success|failure|relogin

	eventsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapi_events_applied_total",
		Help: "Event deltas applied to the object cache",
	}, []string{"class", "operation"})

	eventsLost = promauto.NewCounter(prometheus.CounterOpts{
		Name: "xapi_events_lost_total",
		Help: "Number of times the server reported lost events",
	})

	eventMode = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "xapi_event_mode",
		Help: "Active event watching mode (token=1 or legacy=1; others 0)",
	}, []string{"mode"})

	cacheObjects = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xapi_cache_objects",
		Help: "Number of objects in the live cache",
	})

	tasksWatched = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "xapi_tasks_watched",
		Help: "Number of pending task watchers",
	})

	signalsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "xapi_signal_total",
		Help: "Lifecycle signals emitted by kind",
	}, []string{"kind"})
)

var eventModes = []string{"token", "legacy", "stopped"}

// ObserveCall records one completed call.
func ObserveCall(method string, d time.Duration, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	callTotal.WithLabelValues(method, outcome).Inc()
	callDuration.WithLabelValues(method).Observe(d.Seconds())
}

// IncCallRetry records a retry caused by code.
func IncCallRetry(code string) {
	if code == "" {
		code = "unknown"
	}
	callRetries.WithLabelValues(code).Inc()
}

// IncRedirect records a followed master redirect.
func IncRedirect() {
	redirectsTotal.Inc()
}

// IncLogin records a login attempt result.
func IncLogin(result string) {
	sessionLogins.WithLabelValues(result).Inc()
}

// IncEventApplied records one applied delta.
func IncEventApplied(class, operation string) {
	if class == "" {
		class = "unknown"
	}
	eventsApplied.WithLabelValues(class, operation).Inc()
}

// IncEventsLost records an events-lost recovery.
func IncEventsLost() {
	eventsLost.Inc()
}

// SetEventMode records the active watch mode ("token", "legacy" or "stopped").
func SetEventMode(mode string) {
	for _, m := range eventModes {
		value := 0.0
		if m == mode {
			value = 1.0
		}
		eventMode.WithLabelValues(m).Set(value)
	}
}

// SetCacheObjects records the cache size.
func SetCacheObjects(n int) {
	cacheObjects.Set(float64(n))
}

// SetTasksWatched records the number of pending task watchers.
func SetTasksWatched(n int) {
	tasksWatched.Set(float64(n))
}

// IncSignal records an emitted lifecycle signal.
func IncSignal(kind string) {
	signalsTotal.WithLabelValues(kind).Inc()
}
