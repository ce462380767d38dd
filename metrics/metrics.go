// Package metrics exposes Prometheus collectors for backend calls and
// generation state.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quill"

// Metrics holds every collector. A nil *Metrics is valid and records nothing.
type Metrics struct {
	LLMCallTotal      *prometheus.CounterVec
	LLMCallDuration   *prometheus.HistogramVec
	LLMTokensUsed     *prometheus.CounterVec
	SkippedFragments  *prometheus.CounterVec
	ActiveGenerations prometheus.Gauge
	GenerationTotal   *prometheus.CounterVec
	DroppedEntries    prometheus.Counter
	ProviderFallbacks *prometheus.CounterVec
}

// New registers the collectors with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		LLMCallTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_total",
				Help:      "Total number of backend calls",
			},
			[]string{"provider", "outcome"}, // outcome: success/error/timeout/aborted
		),
		LLMCallDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "call_duration_seconds",
				Help:      "Backend call duration in seconds",
				Buckets:   []float64{.5, 1, 5, 10, 30, 60, 90, 120},
			},
			[]string{"provider"},
		),
		LLMTokensUsed: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "tokens_used_total",
				Help:      "Total tokens reported by backends",
			},
			[]string{"provider", "type"}, // type: prompt/completion
		),
		SkippedFragments: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "stream_fragments_skipped_total",
				Help:      "Malformed stream payloads skipped while decoding",
			},
			[]string{"provider"},
		),
		ActiveGenerations: f.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "active",
				Help:      "Generations currently in flight",
			},
		),
		GenerationTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "generation",
				Name:      "total",
				Help:      "Finished generations by terminal state",
			},
			[]string{"operation", "state"},
		),
		DroppedEntries: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "context",
				Name:      "dropped_entries_total",
				Help:      "Codex entries left out of a prompt for lack of budget",
			},
		),
		ProviderFallbacks: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "llm",
				Name:      "provider_fallbacks_total",
				Help:      "Calls served by an alternate provider",
			},
			[]string{"from", "to"},
		),
	}
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns collectors registered with prometheus.DefaultRegisterer.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = New(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// ObserveCall records one finished backend call.
func (m *Metrics) ObserveCall(provider, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.LLMCallTotal.WithLabelValues(provider, outcome).Inc()
	m.LLMCallDuration.WithLabelValues(provider).Observe(d.Seconds())
}

// AddTokens records token usage reported by a backend.
func (m *Metrics) AddTokens(provider string, prompt, completion int) {
	if m == nil {
		return
	}
	if prompt > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "prompt").Add(float64(prompt))
	}
	if completion > 0 {
		m.LLMTokensUsed.WithLabelValues(provider, "completion").Add(float64(completion))
	}
}

// AddSkipped records malformed stream payloads.
func (m *Metrics) AddSkipped(provider string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.SkippedFragments.WithLabelValues(provider).Add(float64(n))
}

// GenerationStarted increments the active gauge.
func (m *Metrics) GenerationStarted() {
	if m == nil {
		return
	}
	m.ActiveGenerations.Inc()
}

// GenerationFinished decrements the active gauge and counts the outcome.
func (m *Metrics) GenerationFinished(operation, state string) {
	if m == nil {
		return
	}
	m.ActiveGenerations.Dec()
	m.GenerationTotal.WithLabelValues(operation, state).Inc()
}

// AddDropped records codex entries left out of a prompt.
func (m *Metrics) AddDropped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.DroppedEntries.Add(float64(n))
}

// Fallback records a call served by to instead of from.
func (m *Metrics) Fallback(from, to string) {
	if m == nil {
		return
	}
	m.ProviderFallbacks.WithLabelValues(from, to).Inc()
}
