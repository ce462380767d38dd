package llm

import (
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/i2y/quill/metrics"
)

// DefaultTimeout is the client-side watchdog ceiling for one call.
const DefaultTimeout = 90 * time.Second

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRequestLogger sets the request logger. Defaults to a no-op logger.
func WithRequestLogger(l RequestLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.requests = l
		}
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l logrus.FieldLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.log = l
		}
	}
}

// WithTimeout sets the watchdog ceiling. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithMaxConcurrent caps concurrent backend calls. Zero means no cap.
func WithMaxConcurrent(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.sem = semaphore.NewWeighted(int64(n))
		} else {
			o.sem = nil
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) {
		o.metrics = m
	}
}

// WithTracer sets the tracer used for per-call spans.
func WithTracer(t trace.Tracer) Option {
	return func(o *Orchestrator) {
		if t != nil {
			o.tracer = t
		}
	}
}
