package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the daemon.
type Metrics struct {
	ActiveCalls        prometheus.Gauge
	CallEvents         *prometheus.CounterVec
	Turns              *prometheus.CounterVec
	WSMessages         *prometheus.CounterVec
	ProviderErrors     *prometheus.CounterVec
	RecognizerRestarts *prometheus.CounterVec
	TurnLatency        *prometheus.HistogramVec

	timings *turnLog
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		ActiveCalls: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Number of calls currently connected.",
		}),
		CallEvents: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_events_total",
			Help:      "Call lifecycle events by type.",
		}, []string{"event"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Conversation turns by result.",
		}, []string{"result"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		ProviderErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_errors_total",
			Help:      "Provider errors by provider and code.",
		}, []string{"provider", "code"}),
		RecognizerRestarts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recognizer_restarts_total",
			Help:      "Speech recognizer restarts by reason.",
		}, []string{"reason"}),
		TurnLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_latency_ms",
			Help:      "Latency from utterance dispatch to assistant reply in milliseconds.",
			Buckets:   []float64{300, 500, 800, 1200, 1600, 2000, 3000, 5000},
		}, []string{"source"}),
		timings: newTurnLog(256),
	}
}

// The helpers below accept a nil receiver so components can run without
// metrics in tests.

func (m *Metrics) CallEvent(event string) {
	if m == nil {
		return
	}
	m.CallEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SetCallActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.ActiveCalls.Set(1)
		return
	}
	m.ActiveCalls.Set(0)
}

func (m *Metrics) TurnResult(result string) {
	if m == nil {
		return
	}
	m.Turns.WithLabelValues(result).Inc()
}

func (m *Metrics) WSMessage(direction, messageType string) {
	if m == nil {
		return
	}
	m.WSMessages.WithLabelValues(direction, messageType).Inc()
}

func (m *Metrics) ProviderError(provider, code string) {
	if m == nil {
		return
	}
	m.ProviderErrors.WithLabelValues(provider, code).Inc()
}

func (m *Metrics) RecognizerRestart(reason string) {
	if m == nil {
		return
	}
	m.RecognizerRestarts.WithLabelValues(reason).Inc()
}

// ObserveTurn records a completed turn in the latency log; answers to the
// caller also feed the reply histogram.
func (m *Metrics) ObserveTurn(t TurnTiming) {
	if m == nil {
		return
	}
	if t.Source != DispatchGreeting {
		m.TurnLatency.WithLabelValues(string(t.Source)).Observe(float64(t.Reply.Milliseconds()))
	}
	m.timings.Add(t)
}

func (m *Metrics) LatencyReport() LatencyReport {
	if m == nil {
		return newTurnLog(0).Report()
	}
	return m.timings.Report()
}

func (m *Metrics) ResetLatency() {
	if m == nil {
		return
	}
	m.timings.Reset()
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
