package lending

import (
	"context"

	"github.com/google/uuid"
)

// WorkerDirectory exposes the external worker-visibility service. The engine
// reads point-in-time profile snapshots from it during fan-out and never
// caches them; visibility changes after a fan-out do not retract sent offers.
type WorkerDirectory interface {
	// WorkersForOrgs returns the profiles of all workers affiliated with any
	// of the given organizations.
	WorkersForOrgs(ctx context.Context, orgIDs []uuid.UUID) ([]WorkerProfile, error)

	// WorkersInLocation returns the profiles of all workers in a location,
	// regardless of affiliation.
	WorkersInLocation(ctx context.Context, location string) ([]WorkerProfile, error)
}

// CircleDirectory exposes the external circle-membership service. Circle
// membership is symmetric by configuration, not automatically bidirectional,
// so partnership is always checked in the direction that matters: is the
// asking organization a recognized partner of the home organization's circle.
type CircleDirectory interface {
	// MembersOf returns the organizations belonging to a circle.
	MembersOf(ctx context.Context, circleID uuid.UUID) ([]uuid.UUID, error)

	// IsRecognizedPartner reports whether partnerOrgID is a recognized circle
	// partner of homeOrgID.
	IsRecognizedPartner(ctx context.Context, homeOrgID, partnerOrgID uuid.UUID) (bool, error)
}
