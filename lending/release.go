package lending

import (
	"time"

	"github.com/google/uuid"
)

// ReleaseStatus is the lifecycle state of a ReleaseOffer.
// open → taken or open → cancelled, both terminal.
type ReleaseStatus string

const (
	ReleaseOpen      ReleaseStatus = "open"
	ReleaseTaken     ReleaseStatus = "taken"
	ReleaseCancelled ReleaseStatus = "cancelled"
)

// ReleaseOffer publishes one of an organization's bookings to its circle
// partners. While the offer is open the booking stays released; taking it
// reassigns the booking's owning organization atomically without touching the
// interval, so the global worker timeline is unaffected.
type ReleaseOffer struct {
	ID           uuid.UUID
	FromOrgID    uuid.UUID
	BookingID    uuid.UUID
	TakenByOrgID uuid.UUID // zero until Status == taken
	Status       ReleaseStatus
	CreatedAt    time.Time
}
