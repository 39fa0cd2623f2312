// Package metrics exposes the prometheus counters and histograms this
// service's playback coordinators feed.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts CommandQueue submissions by label and outcome.
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcore",
		Subsystem: "commandqueue",
		Name:      "commands_total",
		Help:      "Mixer commands submitted, by label and outcome.",
	}, []string{"label", "outcome"})

	// CommandWaitSeconds tracks how long a command sat pending before
	// executing.
	CommandWaitSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "vocalcore",
		Subsystem: "commandqueue",
		Name:      "wait_seconds",
		Help:      "Time a mixer command spent queued before executing.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"label"})

	// BarrierOpsTotal counts AudioOperationBarrier admissions by operation
	// and outcome (ok, error, throttled, timeout).
	BarrierOpsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcore",
		Subsystem: "barrier",
		Name:      "ops_total",
		Help:      "User-visible audio operations, by op and outcome.",
	}, []string{"op", "outcome"})

	// MixerCrashesTotal counts mixer crash-handler invocations by reason.
	MixerCrashesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vocalcore",
		Subsystem: "mixer",
		Name:      "crashes_total",
		Help:      "Mixer sidecar crashes observed, by reason.",
	}, []string{"reason"})

	// ActiveSessions reports the number of guilds with a live session.
	ActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "vocalcore",
		Name:      "active_sessions",
		Help:      "Number of guilds with an active playback session.",
	})
)
