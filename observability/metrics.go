package observability

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"modpay/core/events"
	coretypes "modpay/core/types"
	"modpay/native/escrow"
	"modpay/native/ledger"
)

// EngineMetrics exposes counters for the settlement engine's observable
// behaviour. It implements events.Emitter so it can be fanned out alongside
// the journal without touching engine code.
type EngineMetrics struct {
	eventsTotal *prometheus.CounterVec
	resolutions *prometheus.CounterVec
	votes       *prometheus.CounterVec
	credits     prometheus.Counter
	withdrawals prometheus.Counter
}

var (
	engineMetricsOnce sync.Once
	engineRegistry    *EngineMetrics
)

// Metrics returns the lazily-initialised engine metrics registry.
func Metrics() *EngineMetrics {
	engineMetricsOnce.Do(func() {
		engineRegistry = &EngineMetrics{
			eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modpay",
				Subsystem: "engine",
				Name:      "events_total",
				Help:      "Total settlement events segmented by event type.",
			}, []string{"type"}),
			resolutions: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modpay",
				Subsystem: "engine",
				Name:      "resolutions_total",
				Help:      "Orders resolved segmented by settlement outcome.",
			}, []string{"outcome"}),
			votes: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "modpay",
				Subsystem: "engine",
				Name:      "votes_total",
				Help:      "Moderator votes recorded segmented by seat.",
			}, []string{"seat"}),
			credits: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "modpay",
				Subsystem: "ledger",
				Name:      "credits_total",
				Help:      "Balance credits issued by settlement paths.",
			}),
			withdrawals: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "modpay",
				Subsystem: "ledger",
				Name:      "withdrawals_total",
				Help:      "Withdrawals pushed out through the custody vault.",
			}),
		}
		prometheus.MustRegister(
			engineRegistry.eventsTotal,
			engineRegistry.resolutions,
			engineRegistry.votes,
			engineRegistry.credits,
			engineRegistry.withdrawals,
		)
	})
	return engineRegistry
}

// Emit implements the events.Emitter interface.
func (m *EngineMetrics) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	eventType := evt.EventType()
	m.eventsTotal.WithLabelValues(eventType).Inc()

	var canonical *coretypes.Event
	if payload, ok := evt.(events.Payload); ok {
		canonical = payload.Event()
	}
	switch eventType {
	case escrow.EventTypeOrderResolved:
		outcome := "unknown"
		if canonical != nil && canonical.Attributes["outcome"] != "" {
			outcome = canonical.Attributes["outcome"]
		}
		m.resolutions.WithLabelValues(outcome).Inc()
	case escrow.EventTypeVoteCast:
		seat := "unknown"
		if canonical != nil && canonical.Attributes["seat"] != "" {
			seat = canonical.Attributes["seat"]
		}
		m.votes.WithLabelValues(seat).Inc()
	case ledger.EventTypeBalanceCredited:
		m.credits.Inc()
	case ledger.EventTypeWithdrawn:
		m.withdrawals.Inc()
	}
}
