package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the service.
type Metrics struct {
	ActiveSessions   prometheus.Gauge
	SessionEvents    *prometheus.CounterVec
	TurnOutcomes     *prometheus.CounterVec
	ProviderErrors   *prometheus.CounterVec
	CacheLookups     *prometheus.CounterVec
	WSMessages       *prometheus.CounterVec
	FirstUnitLatency prometheus.Histogram

	turnStages *turnStageWindow
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveSessions: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Number of active voice conversation sessions.",
		}),
		SessionEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_events_total",
			Help:      "Session events by type.",
		}, []string{"event"}),
		TurnOutcomes: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turn_outcomes_total",
			Help:      "Conversation turn outcomes by result.",
		}, []string{"outcome"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		CacheLookups: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reply_cache_lookups_total",
			Help:      "Reply cache lookups by result.",
		}, []string{"result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "Websocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FirstUnitLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_speakable_unit_latency_ms",
			Help:      "Latency from final transcript to first dispatched speakable unit in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		turnStages: newTurnStageWindow(256),
	}
}

func (m *Metrics) ObserveFirstUnitLatency(d time.Duration) {
	m.FirstUnitLatency.Observe(float64(d.Milliseconds()))
	m.ObserveTurnStage("final_to_first_unit", d)
}

// ObserveTurnStage records a per-stage latency sample in the rolling window
// served by the perf endpoint.
func (m *Metrics) ObserveTurnStage(stage string, d time.Duration) {
	if m == nil || m.turnStages == nil {
		return
	}
	m.turnStages.Observe(stage, float64(d.Milliseconds()))
}

func (m *Metrics) ObserveTurnIndicator(name string) {
	if m == nil || m.turnStages == nil {
		return
	}
	m.turnStages.ObserveIndicator(name)
}

func (m *Metrics) TurnStageSnapshot() TurnStageSnapshot {
	if m == nil || m.turnStages == nil {
		return TurnStageSnapshot{}
	}
	return m.turnStages.Snapshot()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
