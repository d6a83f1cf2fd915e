// Package metrics exposes Prometheus instrumentation for the bridge:
// live call counts for capacity planning, relay throughput, and
// transfer/session-start outcomes.
package metrics

import (
	"log"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the bridge's operational counters and gauges.
type Metrics struct {
	// ActiveCalls tracks currently live call sessions.
	ActiveCalls prometheus.Gauge

	// CallsTotal counts calls by final disposition.
	// Labels: outcome (completed|session_start_failed|transferred)
	CallsTotal *prometheus.CounterVec

	// MessagesRelayed counts relayed conversation messages.
	// Labels: direction (to_bot|to_caller)
	MessagesRelayed *prometheus.CounterVec

	// Transfers counts hand-off attempts by result.
	// Labels: result (initiated|accepted|rejected|failed)
	Transfers *prometheus.CounterVec

	// ClassifiedActivities counts relay-loop classifications by kind.
	ClassifiedActivities *prometheus.CounterVec

	// softCeiling is the advisory live-session ceiling: exceeding it
	// logs and is visible on the gauge, but calls are never rejected.
	softCeiling int
}

// New registers the bridge collectors on reg (the default registerer
// when nil) and returns the Metrics handle. softCeiling <= 0 disables
// the ceiling warning.
func New(reg prometheus.Registerer, softCeiling int) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		ActiveCalls: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voicebridge_active_calls",
			Help: "Number of currently live call sessions.",
		}),
		CallsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_calls_total",
			Help: "Calls handled, by outcome.",
		}, []string{"outcome"}),
		MessagesRelayed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_messages_relayed_total",
			Help: "Conversation messages relayed, by direction.",
		}, []string{"direction"}),
		Transfers: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_transfers_total",
			Help: "Call hand-off attempts, by result.",
		}, []string{"result"}),
		ClassifiedActivities: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voicebridge_classified_activities_total",
			Help: "Streamed activities classified, by kind.",
		}, []string{"kind"}),
		softCeiling: softCeiling,
	}
}

// TrackActiveCalls records the live session count and warns when it
// exceeds the advisory ceiling. No admission control happens here:
// the ceiling is observability only.
func (m *Metrics) TrackActiveCalls(count int) {
	m.ActiveCalls.Set(float64(count))
	if m.softCeiling > 0 && count > m.softCeiling {
		log.Printf("[Metrics] Live call sessions (%d) above soft ceiling (%d)", count, m.softCeiling)
	}
}
