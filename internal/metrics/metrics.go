// Package metrics exposes the gateway's counters as Prometheus metrics
// (§6 "counters exposed"), following the package-level promauto pattern
// the example controllers in this pack use for their own metrics files
// rather than threading a registry handle through every component.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups is the counter for ChannelCache.Lookup calls, labeled by
	// whether the existing entry map served them or a new upstream channel
	// was opened. No code in this module increments it.
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pva2go_cache_lookups_total",
			Help: "Channel cache lookups, labeled by hit or miss.",
		},
		[]string{"result"},
	)

	// CacheSweeps counts idle cache entries destroyed by the sweeper.
	CacheSweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_cache_sweeps_total",
		Help: "Idle channel cache entries destroyed by the sweeper.",
	})

	// SubscriberWakeups, SubscriberEvents and SubscriberDropped are the
	// process-wide counterparts of Subscriber.Wakeups/Events/Dropped: a
	// per-subscriber label set would be unbounded cardinality for a
	// gateway serving many short-lived monitors. No code in this module
	// increments them.
	SubscriberWakeups = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_subscriber_wakeups_total",
		Help: "Wakeup callbacks fired across all subscribers.",
	})
	SubscriberEvents = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_subscriber_events_total",
		Help: "Updates observed across all subscribers, including ones folded into overflow.",
	})
	SubscriberDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_subscriber_dropped_total",
		Help: "Updates folded into a subscriber's overflow slot because the consumer was behind.",
	})

	// UpstreamConnects/UpstreamTerminals are the counters for
	// UpstreamMonitor-level lifecycle transitions. No code in this module
	// increments them.
	UpstreamConnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_upstream_connects_total",
		Help: "Upstream monitors that reached a connected start result.",
	})
	UpstreamTerminals = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pva2go_upstream_terminals_total",
			Help: "Upstream monitors that went terminal, labeled by whether it was an error.",
		},
		[]string{"outcome"},
	)

	// GroupUpdates is the counter for coherent group-level notifications
	// delivered by GroupPV.Subscribe. No code in this module increments it.
	GroupUpdates = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pva2go_group_updates_total",
			Help: "Coherent group-level notifications delivered, labeled by group name.",
		},
		[]string{"group"},
	)

	// ConfigWarnings counts non-fatal warnings accumulated while loading
	// the group configuration (§7 ConfigWarning).
	ConfigWarnings = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pva2go_config_warnings_total",
		Help: "Non-fatal warnings produced while loading the group configuration.",
	})
)
