package helper

import (
	"context"
	"sync"

	"github.com/shiftcircle/lending-engine-go/lending"
)

// ContextualLoggerSpy is a ContextualLogger implementation that captures
// contextual logging calls for testing engine instrumentation.
type ContextualLoggerSpy struct {
	debugRecords []ContextualLogRecord
	infoRecords  []ContextualLogRecord
	warnRecords  []ContextualLogRecord
	errorRecords []ContextualLogRecord
	mu           sync.Mutex
	recordCalls  bool
}

// ContextualLogRecord represents a recorded contextual log call.
type ContextualLogRecord struct {
	Level   string
	Message string
	Args    []any
	Context context.Context
}

// NewContextualLoggerSpy creates a new ContextualLoggerSpy instance.
func NewContextualLoggerSpy(recordCalls bool) *ContextualLoggerSpy {
	return &ContextualLoggerSpy{
		recordCalls: recordCalls,
	}
}

// DebugContext implements the ContextualLogger interface for testing.
func (l *ContextualLoggerSpy) DebugContext(ctx context.Context, msg string, args ...any) {
	l.record(&l.debugRecords, "debug", ctx, msg, args)
}

// InfoContext implements the ContextualLogger interface for testing.
func (l *ContextualLoggerSpy) InfoContext(ctx context.Context, msg string, args ...any) {
	l.record(&l.infoRecords, "info", ctx, msg, args)
}

// WarnContext implements the ContextualLogger interface for testing.
func (l *ContextualLoggerSpy) WarnContext(ctx context.Context, msg string, args ...any) {
	l.record(&l.warnRecords, "warn", ctx, msg, args)
}

// ErrorContext implements the ContextualLogger interface for testing.
func (l *ContextualLoggerSpy) ErrorContext(ctx context.Context, msg string, args ...any) {
	l.record(&l.errorRecords, "error", ctx, msg, args)
}

func (l *ContextualLoggerSpy) record(into *[]ContextualLogRecord, level string, ctx context.Context, msg string, args []any) {
	if !l.recordCalls {
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	*into = append(*into, ContextualLogRecord{
		Level:   level,
		Message: msg,
		Args:    args,
		Context: ctx,
	})
}

// Reset clears all recorded log calls.
func (l *ContextualLoggerSpy) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.debugRecords = l.debugRecords[:0]
	l.infoRecords = l.infoRecords[:0]
	l.warnRecords = l.warnRecords[:0]
	l.errorRecords = l.errorRecords[:0]
}

// GetDebugRecords returns a copy of all debug log records.
func (l *ContextualLoggerSpy) GetDebugRecords() []ContextualLogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]ContextualLogRecord(nil), l.debugRecords...)
}

// GetInfoRecords returns a copy of all info log records.
func (l *ContextualLoggerSpy) GetInfoRecords() []ContextualLogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]ContextualLogRecord(nil), l.infoRecords...)
}

// GetErrorRecords returns a copy of all error log records.
func (l *ContextualLoggerSpy) GetErrorRecords() []ContextualLogRecord {
	l.mu.Lock()
	defer l.mu.Unlock()

	return append([]ContextualLogRecord(nil), l.errorRecords...)
}

// GetTotalRecordCount returns the total number of log records across all levels.
func (l *ContextualLoggerSpy) GetTotalRecordCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	return len(l.debugRecords) + len(l.infoRecords) + len(l.warnRecords) + len(l.errorRecords)
}

// HasDebugLog checks if a debug log with the specified message exists.
func (l *ContextualLoggerSpy) HasDebugLog(message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return containsMessage(l.debugRecords, message)
}

// HasInfoLog checks if an info log with the specified message exists.
func (l *ContextualLoggerSpy) HasInfoLog(message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return containsMessage(l.infoRecords, message)
}

// HasErrorLog checks if an error log with the specified message exists.
func (l *ContextualLoggerSpy) HasErrorLog(message string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	return containsMessage(l.errorRecords, message)
}

func containsMessage(records []ContextualLogRecord, message string) bool {
	for _, record := range records {
		if record.Message == message {
			return true
		}
	}

	return false
}

var _ lending.ContextualLogger = (*ContextualLoggerSpy)(nil)
