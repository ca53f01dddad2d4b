package helper

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/shiftcircle/lending-engine-go/lending"
)

// InMemoryDirectory is a WorkerDirectory and CircleDirectory stub backed by
// maps. Tests register worker profiles, circle memberships, and partner
// relations up front; all lookups are pure map reads.
type InMemoryDirectory struct {
	mu       sync.RWMutex
	profiles []lending.WorkerProfile
	circles  map[uuid.UUID][]uuid.UUID
	partners map[partnerPair]bool
}

type partnerPair struct {
	homeOrgID    uuid.UUID
	partnerOrgID uuid.UUID
}

// NewInMemoryDirectory creates an empty directory stub.
func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{
		circles:  make(map[uuid.UUID][]uuid.UUID),
		partners: make(map[partnerPair]bool),
	}
}

// AddProfile registers a worker profile.
func (d *InMemoryDirectory) AddProfile(profile lending.WorkerProfile) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profiles = append(d.profiles, profile)
}

// AddCircle registers a circle with its member organizations.
func (d *InMemoryDirectory) AddCircle(circleID uuid.UUID, memberOrgIDs ...uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.circles[circleID] = append([]uuid.UUID(nil), memberOrgIDs...)
}

// AddPartner registers partnerOrgID as a recognized partner of homeOrgID.
// The relation is directional; register both directions for mutual trust.
func (d *InMemoryDirectory) AddPartner(homeOrgID, partnerOrgID uuid.UUID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.partners[partnerPair{homeOrgID: homeOrgID, partnerOrgID: partnerOrgID}] = true
}

// WorkersForOrgs implements lending.WorkerDirectory.
func (d *InMemoryDirectory) WorkersForOrgs(_ context.Context, orgIDs []uuid.UUID) ([]lending.WorkerProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	wanted := make(map[uuid.UUID]bool, len(orgIDs))
	for _, orgID := range orgIDs {
		wanted[orgID] = true
	}

	var matched []lending.WorkerProfile
	for _, profile := range d.profiles {
		if wanted[profile.HomeOrgID] {
			matched = append(matched, profile)
		}
	}

	return matched, nil
}

// WorkersInLocation implements lending.WorkerDirectory.
func (d *InMemoryDirectory) WorkersInLocation(_ context.Context, location string) ([]lending.WorkerProfile, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var matched []lending.WorkerProfile
	for _, profile := range d.profiles {
		if profile.Location == location {
			matched = append(matched, profile)
		}
	}

	return matched, nil
}

// MembersOf implements lending.CircleDirectory.
func (d *InMemoryDirectory) MembersOf(_ context.Context, circleID uuid.UUID) ([]uuid.UUID, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return append([]uuid.UUID(nil), d.circles[circleID]...), nil
}

// IsRecognizedPartner implements lending.CircleDirectory.
func (d *InMemoryDirectory) IsRecognizedPartner(_ context.Context, homeOrgID, partnerOrgID uuid.UUID) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return d.partners[partnerPair{homeOrgID: homeOrgID, partnerOrgID: partnerOrgID}], nil
}

var _ lending.WorkerDirectory = (*InMemoryDirectory)(nil)
var _ lending.CircleDirectory = (*InMemoryDirectory)(nil)
