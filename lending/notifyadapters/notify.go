// Package notifyadapters provides ready-made implementations of the
// lending.Notifier interface: a JSON stream writer for feeding downstream
// consumers and a logger-backed notifier for development setups.
package notifyadapters

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"

	"github.com/shiftcircle/lending-engine-go/lending"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// notificationRecord is the wire shape of one notification line. Zero-valued
// IDs are omitted so consumers only see the fields relevant to the kind.
type notificationRecord struct {
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	RequestID  string    `json:"request_id,omitempty"`
	OfferID    string    `json:"offer_id,omitempty"`
	BookingID  string    `json:"booking_id,omitempty"`
	WorkerID   string    `json:"worker_id,omitempty"`
	WorkerKind string    `json:"worker_kind,omitempty"`
	OrgID      string    `json:"org_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// JSONStreamNotifier writes one JSON object per notification to an
// io.Writer, newline-delimited. Writes are serialized; a failed write is
// dropped silently because notifications are fire-and-forget by contract.
type JSONStreamNotifier struct {
	mu  sync.Mutex
	out io.Writer
}

// NewJSONStreamNotifier creates a notifier writing NDJSON to out.
func NewJSONStreamNotifier(out io.Writer) *JSONStreamNotifier {
	return &JSONStreamNotifier{out: out}
}

// Notify encodes the notification and writes it as one line.
func (n *JSONStreamNotifier) Notify(_ context.Context, notification lending.Notification) {
	payload, err := json.Marshal(toRecord(notification))
	if err != nil {
		return
	}

	n.mu.Lock()
	defer n.mu.Unlock()

	_, _ = n.out.Write(append(payload, '\n'))
}

var _ lending.Notifier = (*JSONStreamNotifier)(nil)

// LoggerNotifier forwards notifications to a lending.ContextualLogger at info
// level. Useful in development and tests.
type LoggerNotifier struct {
	logger lending.ContextualLogger
}

// NewLoggerNotifier creates a notifier logging every notification.
func NewLoggerNotifier(logger lending.ContextualLogger) *LoggerNotifier {
	return &LoggerNotifier{logger: logger}
}

// Notify logs the notification with its IDs as attributes.
func (n *LoggerNotifier) Notify(ctx context.Context, notification lending.Notification) {
	if n.logger == nil {
		return
	}

	args := []any{"kind", string(notification.Kind)}

	if notification.RequestID != uuid.Nil {
		args = append(args, "request_id", notification.RequestID.String())
	}
	if notification.OfferID != uuid.Nil {
		args = append(args, "offer_id", notification.OfferID.String())
	}
	if notification.BookingID != uuid.Nil {
		args = append(args, "booking_id", notification.BookingID.String())
	}
	if notification.Worker.ID != uuid.Nil {
		args = append(args, "worker_id", notification.Worker.ID.String())
	}
	if notification.OrgID != uuid.Nil {
		args = append(args, "org_id", notification.OrgID.String())
	}
	if notification.Reason != "" {
		args = append(args, "reason", string(notification.Reason))
	}

	n.logger.InfoContext(ctx, "lending notification", args...)
}

var _ lending.Notifier = (*LoggerNotifier)(nil)

func toRecord(notification lending.Notification) notificationRecord {
	record := notificationRecord{
		Kind:       string(notification.Kind),
		OccurredAt: notification.OccurredAt,
		Reason:     string(notification.Reason),
	}

	if notification.RequestID != uuid.Nil {
		record.RequestID = notification.RequestID.String()
	}
	if notification.OfferID != uuid.Nil {
		record.OfferID = notification.OfferID.String()
	}
	if notification.BookingID != uuid.Nil {
		record.BookingID = notification.BookingID.String()
	}
	if notification.Worker.ID != uuid.Nil {
		record.WorkerID = notification.Worker.ID.String()
		record.WorkerKind = string(notification.Worker.Kind)
	}
	if notification.OrgID != uuid.Nil {
		record.OrgID = notification.OrgID.String()
	}

	return record
}
