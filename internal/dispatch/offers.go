package dispatch

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// offer is one outstanding driver offer. Resolution is exactly-once: the
// first of accept, reject, or timeout wins and the rest observe a conflict.
type offer struct {
	rideID   uuid.UUID
	driverID uuid.UUID
	resolved atomic.Bool
	done     chan models.AttemptOutcome
}

// resolve settles the offer with the outcome. Returns false if another
// resolution got there first.
func (o *offer) resolve(outcome models.AttemptOutcome) bool {
	if !o.resolved.CompareAndSwap(false, true) {
		return false
	}
	o.done <- outcome
	return true
}

// offerRegistry tracks the single outstanding offer per ride while the
// dispatch loop waits on the driver's answer.
type offerRegistry struct {
	mu     sync.Mutex
	byRide map[uuid.UUID]*offer
}

func newOfferRegistry() *offerRegistry {
	return &offerRegistry{byRide: make(map[uuid.UUID]*offer)}
}

func (r *offerRegistry) open(rideID, driverID uuid.UUID) *offer {
	o := &offer{
		rideID:   rideID,
		driverID: driverID,
		done:     make(chan models.AttemptOutcome, 1),
	}
	r.mu.Lock()
	r.byRide[rideID] = o
	r.mu.Unlock()
	return o
}

func (r *offerRegistry) close(rideID uuid.UUID) {
	r.mu.Lock()
	delete(r.byRide, rideID)
	r.mu.Unlock()
}

// answer settles the ride's outstanding offer on behalf of driverID. A
// missing, mismatched, or already resolved offer is reported as expired so a
// late answer can never steal an assignment.
func (r *offerRegistry) answer(rideID, driverID uuid.UUID, outcome models.AttemptOutcome) error {
	r.mu.Lock()
	o := r.byRide[rideID]
	r.mu.Unlock()

	if o == nil || o.driverID != driverID {
		return common.NewConflictError("no outstanding offer for driver " + driverID.String())
	}
	if !o.resolve(outcome) {
		return common.NewConflictError("offer already expired")
	}
	return nil
}
