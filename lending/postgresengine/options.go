package postgresengine

import (
	"github.com/shiftcircle/lending-engine-go/lending"
)

// Option defines a functional option for configuring the Engine.
type Option func(*Engine) error

// WithTableNames overrides the default table names for the engine's four tables.
func WithTableNames(tables TableNames) Option {
	return func(e *Engine) error {
		if err := tables.validate(); err != nil {
			return err
		}

		e.tables = tables

		return nil
	}
}

// WithLogger sets the logger for the Engine.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL queries with execution timing (development use)
// Info level: operation outcomes, fan-out counts, race losses (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger lending.Logger) Option {
	return func(e *Engine) error {
		e.logger = logger
		return nil
	}
}

// WithContextualLogger sets the contextual logger for the Engine.
// The contextual logger will receive log messages with context information
// including automatic trace/span correlation when tracing is enabled.
func WithContextualLogger(logger lending.ContextualLogger) Option {
	return func(e *Engine) error {
		e.contextualLogger = logger
		return nil
	}
}

// WithMetrics sets the metrics collector for the Engine.
// The collector will receive operation durations, fan-out sizes, booking
// conflicts, and race-loss counts.
func WithMetrics(collector lending.MetricsCollector) Option {
	return func(e *Engine) error {
		e.metricsCollector = collector
		return nil
	}
}

// WithTracing sets the tracing collector for the Engine.
// The collector will receive a span per engine operation including error tracking.
func WithTracing(collector lending.TracingCollector) Option {
	return func(e *Engine) error {
		e.tracingCollector = collector
		return nil
	}
}

// WithNotifier sets the fire-and-forget notification dispatcher informed of
// terminal offer and request state changes. Notifications are emitted after
// the owning transaction commits and never influence operation results.
func WithNotifier(notifier lending.Notifier) Option {
	return func(e *Engine) error {
		e.notifier = notifier
		return nil
	}
}
