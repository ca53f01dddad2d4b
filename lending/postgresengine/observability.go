package postgresengine

import (
	"context"
	"math"
	"time"

	"github.com/shiftcircle/lending-engine-go/lending"
)

const (
	metricOperationDuration = "lendingengine_operation_duration_seconds"
	metricOperationErrors   = "lendingengine_operation_errors_total"
	metricRacesLost         = "lendingengine_races_lost_total"
	metricBookingConflicts  = "lendingengine_booking_conflicts_total"
	metricOffersFannedOut   = "lendingengine_offers_fanned_out"

	spanAttrOperation = "operation"
	spanAttrErrorType = "error_type"
	spanNamePrefix    = "lendingengine."

	statusSuccess  = "success"
	statusError    = "error"
	statusConflict = "conflict"

	errorTypeNotFound   = "not_found"
	errorTypeDatabase   = "database"
	errorTypeValidation = "validation"
	errorTypeNoEligible = "no_eligible_workers"

	operationCreateBooking    = "create_booking"
	operationQueryBookings    = "query_bookings"
	operationCreateRequest    = "create_borrow_request"
	operationEligibleWorkers  = "eligible_workers"
	operationGetRequest       = "get_borrow_request"
	operationOffersForRequest = "offers_for_request"
	operationAcceptOffer      = "accept_borrow_offer"
	operationDeclineOffer     = "decline_borrow_offer"
	operationCloseRequest     = "close_borrow_request"
	operationCreateRelease    = "create_release_offer"
	operationTakeRelease      = "take_release_offer"
	operationCancelRelease    = "cancel_release_offer"
)

// operationObserver bundles the span, metrics, and timing for one engine
// operation so the operation methods stay focused on their semantics.
type operationObserver struct {
	engine    *Engine
	ctx       context.Context
	operation string
	span      lending.SpanContext
	start     time.Time
}

// startOperation opens a tracing span (when configured) and starts the clock.
// The returned context carries the span for downstream log correlation.
func (e *Engine) startOperation(ctx context.Context, operation string) (*operationObserver, context.Context) {
	observer := &operationObserver{
		engine:    e,
		operation: operation,
		start:     time.Now(),
	}

	if e.tracingCollector != nil {
		spanCtx, span := e.tracingCollector.StartSpan(ctx, spanNamePrefix+operation, map[string]string{
			spanAttrOperation: operation,
		})
		ctx = spanCtx
		observer.span = span
	}

	observer.ctx = ctx

	return observer, ctx
}

// succeeded finishes the span and records success metrics.
func (o *operationObserver) succeeded(args ...any) {
	duration := time.Since(o.start)

	o.engine.recordDuration(o.ctx, metricOperationDuration, duration, o.operation, statusSuccess)

	if o.span != nil {
		o.span.SetStatus(statusSuccess)
		o.engine.tracingCollector.FinishSpan(o.span, statusSuccess, nil)
	}

	logArgs := append([]any{logAttrDurationMS, toMilliseconds(duration)}, args...)
	o.engine.logOperation(o.ctx, o.operation, logArgs...)
}

// failed finishes the span and records error metrics for infrastructure or
// validation failures.
func (o *operationObserver) failed(errorType string) {
	duration := time.Since(o.start)

	o.engine.recordDuration(o.ctx, metricOperationDuration, duration, o.operation, statusError)
	o.engine.incrementCounter(o.ctx, metricOperationErrors, map[string]string{
		spanAttrOperation: o.operation,
		"status":          statusError,
		spanAttrErrorType: errorType,
	})

	if o.span != nil {
		o.span.SetStatus(statusError)
		o.span.AddAttribute(spanAttrErrorType, errorType)
		o.engine.tracingCollector.FinishSpan(o.span, statusError, map[string]string{spanAttrErrorType: errorType})
	}
}

// lostRace finishes the span for an expected single-winner race loss.
// Race losses are business outcomes, not errors, and are counted separately.
func (o *operationObserver) lostRace() {
	duration := time.Since(o.start)

	o.engine.recordDuration(o.ctx, metricOperationDuration, duration, o.operation, statusConflict)
	o.engine.incrementCounter(o.ctx, metricRacesLost, map[string]string{
		spanAttrOperation: o.operation,
	})

	if o.span != nil {
		o.span.SetStatus(statusConflict)
		o.engine.tracingCollector.FinishSpan(o.span, statusConflict, nil)
	}
}

// bookingConflict finishes the span for a booking validation conflict.
func (o *operationObserver) bookingConflict(kind lending.ConflictKind) {
	duration := time.Since(o.start)

	o.engine.recordDuration(o.ctx, metricOperationDuration, duration, o.operation, statusConflict)
	o.engine.incrementCounter(o.ctx, metricBookingConflicts, map[string]string{
		spanAttrOperation:   o.operation,
		logAttrConflictKind: string(kind),
	})

	if o.span != nil {
		o.span.SetStatus(statusConflict)
		o.span.AddAttribute(logAttrConflictKind, string(kind))
		o.engine.tracingCollector.FinishSpan(o.span, statusConflict, map[string]string{logAttrConflictKind: string(kind)})
	}
}

/***** metrics plumbing, nil-safe and context-aware when supported *****/

func (e *Engine) recordDuration(ctx context.Context, metric string, duration time.Duration, operation, status string) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          status,
	}

	if contextual, ok := e.metricsCollector.(lending.ContextualMetricsCollector); ok {
		contextual.RecordDurationContext(ctx, metric, duration, labels)
		return
	}

	e.metricsCollector.RecordDuration(metric, duration, labels)
}

func (e *Engine) incrementCounter(ctx context.Context, metric string, labels map[string]string) {
	if e.metricsCollector == nil {
		return
	}

	if contextual, ok := e.metricsCollector.(lending.ContextualMetricsCollector); ok {
		contextual.IncrementCounterContext(ctx, metric, labels)
		return
	}

	e.metricsCollector.IncrementCounter(metric, labels)
}

func (e *Engine) recordValue(ctx context.Context, metric string, value float64, operation string) {
	if e.metricsCollector == nil {
		return
	}

	labels := map[string]string{
		spanAttrOperation: operation,
		"status":          statusSuccess,
	}

	if contextual, ok := e.metricsCollector.(lending.ContextualMetricsCollector); ok {
		contextual.RecordValueContext(ctx, metric, value, labels)
		return
	}

	e.metricsCollector.RecordValue(metric, value, labels)
}

/***** logging plumbing, dual-logger like the rest of the engine *****/

// logQueryWithDuration logs SQL queries with execution time at debug level.
func (e *Engine) logQueryWithDuration(ctx context.Context, sqlQuery, action string, duration time.Duration) {
	if e.logger != nil {
		e.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.DebugContext(ctx, logMsgSQLExecuted+action, logAttrDurationMS, toMilliseconds(duration), logAttrQuery, sqlQuery)
	}
}

// logOperation logs operational information at info level.
func (e *Engine) logOperation(ctx context.Context, action string, args ...any) {
	if e.logger != nil {
		e.logger.Info(logMsgOperation+action, args...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.InfoContext(ctx, logMsgOperation+action, args...)
	}
}

// logWarn logs non-critical issues at warn level.
func (e *Engine) logWarn(ctx context.Context, message string, args ...any) {
	if e.logger != nil {
		e.logger.Warn(message, args...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.WarnContext(ctx, message, args...)
	}
}

// logError logs error information at error level.
func (e *Engine) logError(ctx context.Context, message string, err error, args ...any) {
	allArgs := append([]any{logAttrError, err.Error()}, args...)

	if e.logger != nil {
		e.logger.Error(message, allArgs...)
	}

	if e.contextualLogger != nil {
		e.contextualLogger.ErrorContext(ctx, message, allArgs...)
	}
}

// notify emits a fire-and-forget notification when a dispatcher is configured.
func (e *Engine) notify(ctx context.Context, notification lending.Notification) {
	if e.notifier == nil {
		return
	}

	e.notifier.Notify(ctx, notification)
}

// toMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func toMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
