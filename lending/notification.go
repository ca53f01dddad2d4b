package lending

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// NotificationKind names a terminal state change worth telling a dispatcher about.
type NotificationKind string

const (
	NotifyRequestFilled    NotificationKind = "request_filled"
	NotifyRequestClosed    NotificationKind = "request_closed"
	NotifyOfferAccepted    NotificationKind = "offer_accepted"
	NotifyOfferDeclined    NotificationKind = "offer_declined"
	NotifyOfferLostRace    NotificationKind = "offer_lost_race"
	NotifyReleaseTaken     NotificationKind = "release_taken"
	NotifyReleaseCancelled NotificationKind = "release_cancelled"
)

// Notification describes one terminal state change. Only fields relevant to
// the kind are populated; the Reason carries the audit-level close reason for
// declined offers so dispatchers can word messages correctly (a worker who
// lost the race did not personally decline).
type Notification struct {
	Kind       NotificationKind
	OccurredAt time.Time
	RequestID  uuid.UUID
	OfferID    uuid.UUID
	BookingID  uuid.UUID
	Worker     WorkerRef
	OrgID      uuid.UUID
	Reason     OfferClosedReason
}

// Notifier receives terminal state change notifications, fire-and-forget.
// Implementations must not block the caller for long and cannot influence the
// engine's correctness or error returns; the engine ignores any failures.
type Notifier interface {
	Notify(ctx context.Context, notification Notification)
}
