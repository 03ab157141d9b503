// Package metrics provides Prometheus metrics for the guildcore service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Manager manages all Prometheus metrics for the service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	registry         prometheus.Registerer

	// Dispatch metrics
	reactionsDispatched *prometheus.CounterVec
	reactionsRejected   *prometheus.CounterVec
	reactionsDuplicate  prometheus.Counter
	reactionsIgnored    prometheus.Counter
	dispatchLatency     prometheus.Histogram

	// Inbox metrics
	inboxSize     prometheus.Gauge
	inboxEnqueues prometheus.Counter
	inboxDrops    *prometheus.CounterVec

	// Ledger metrics
	ledgerEntries  prometheus.Counter
	pointsAwarded  prometheus.Counter
	pointsReversed prometheus.Counter

	// Workflow metrics
	activeEvents    prometheus.Gauge
	activeGiveaways prometheus.Gauge
	eventsClosed    prometheus.Counter
	giveawaysClosed *prometheus.CounterVec
	timerFires      *prometheus.CounterVec
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "guildcore",
		subsystem:        "core",
		histogramBuckets: prometheus.DefBuckets,
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

func (m *Manager) initializeMetrics() {
	auto := promauto.With(m.registry)

	m.reactionsDispatched = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "reactions_dispatched_total",
			Help:      "Total reactions that reached a handler, by handler kind",
		},
		[]string{"kind"},
	)

	m.reactionsRejected = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "reactions_rejected_total",
			Help:      "Total reactions rejected by validation, by reason",
		},
		[]string{"reason"},
	)

	m.reactionsDuplicate = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reactions_duplicate_total",
		Help:      "Total redelivered reactions dropped by the deduper",
	})

	m.reactionsIgnored = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "reactions_ignored_total",
		Help:      "Total reactions on messages no workflow is watching",
	})

	m.dispatchLatency = auto.NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "dispatch_latency_milliseconds",
		Help:      "Histogram of reaction dispatch latency in milliseconds",
		Buckets:   m.histogramBuckets,
	})

	m.inboxSize = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "inbox_size",
		Help:      "Current number of buffered reaction notifications",
	})

	m.inboxEnqueues = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "inbox_enqueues_total",
		Help:      "Total reactions accepted into the inbox",
	})

	m.inboxDrops = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "inbox_drops_total",
			Help:      "Total reactions dropped before dispatch, by reason",
		},
		[]string{"reason"},
	)

	m.ledgerEntries = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "ledger_entries_total",
		Help:      "Total ledger entries appended",
	})

	m.pointsAwarded = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_awarded_total",
		Help:      "Total points credited across all accounts",
	})

	m.pointsReversed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "points_reversed_total",
		Help:      "Total points debited by reverts and rating changes",
	})

	m.activeEvents = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_events",
		Help:      "Current number of evaluation events not yet closed",
	})

	m.activeGiveaways = auto.NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "active_giveaways",
		Help:      "Current number of open giveaways",
	})

	m.eventsClosed = auto.NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace,
		Subsystem: m.subsystem,
		Name:      "events_closed_total",
		Help:      "Total evaluation events closed and tallied",
	})

	m.giveawaysClosed = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "giveaways_closed_total",
			Help:      "Total giveaways closed, by close reason",
		},
		[]string{"reason"},
	)

	m.timerFires = auto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: m.namespace,
			Subsystem: m.subsystem,
			Name:      "timer_fires_total",
			Help:      "Total scheduler timer expiries, by workflow kind",
		},
		[]string{"kind"},
	)
}

// RecordReactionDispatched increments the dispatched counter for a handler kind.
func RecordReactionDispatched(kind string) {
	globalManager.reactionsDispatched.WithLabelValues(kind).Inc()
}

// RecordReactionRejected increments the rejected counter for a reason.
func RecordReactionRejected(reason string) {
	globalManager.reactionsRejected.WithLabelValues(reason).Inc()
}

// RecordReactionDuplicate increments the duplicate reactions counter.
func RecordReactionDuplicate() {
	globalManager.reactionsDuplicate.Inc()
}

// RecordReactionIgnored increments the ignored reactions counter.
func RecordReactionIgnored() {
	globalManager.reactionsIgnored.Inc()
}

// RecordDispatchLatency records reaction dispatch latency in milliseconds.
func RecordDispatchLatency(latencyMs float64) {
	globalManager.dispatchLatency.Observe(latencyMs)
}

// UpdateInboxSize sets the current inbox size.
func UpdateInboxSize(size int) {
	globalManager.inboxSize.Set(float64(size))
}

// RecordInboxEnqueue increments the inbox enqueue counter.
func RecordInboxEnqueue() {
	globalManager.inboxEnqueues.Inc()
}

// RecordInboxDrop increments the inbox drop counter for a reason.
func RecordInboxDrop(reason string) {
	globalManager.inboxDrops.WithLabelValues(reason).Inc()
}

// RecordLedgerEntry counts an appended ledger entry and its point flow.
// Positive deltas count as awarded, negative as reversed.
func RecordLedgerEntry(delta int64) {
	globalManager.ledgerEntries.Inc()
	if delta >= 0 {
		globalManager.pointsAwarded.Add(float64(delta))
	} else {
		globalManager.pointsReversed.Add(float64(-delta))
	}
}

// UpdateActiveEvents sets the active evaluation event count.
func UpdateActiveEvents(count int) {
	globalManager.activeEvents.Set(float64(count))
}

// UpdateActiveGiveaways sets the open giveaway count.
func UpdateActiveGiveaways(count int) {
	globalManager.activeGiveaways.Set(float64(count))
}

// RecordEventClosed increments the closed events counter.
func RecordEventClosed() {
	globalManager.eventsClosed.Inc()
}

// RecordGiveawayClosed increments the closed giveaways counter for a reason.
func RecordGiveawayClosed(reason string) {
	globalManager.giveawaysClosed.WithLabelValues(reason).Inc()
}

// RecordTimerFire increments the timer expiry counter for a workflow kind.
func RecordTimerFire(kind string) {
	globalManager.timerFires.WithLabelValues(kind).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
