package rides

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// MemoryStore is an in-memory Store for tests and single-node deployments.
// Conditional semantics match the Postgres store: every status write checks
// the stored status under the lock.
type MemoryStore struct {
	mu    sync.RWMutex
	rides map[uuid.UUID]*models.Ride
}

// NewMemoryStore creates an empty in-memory ride store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rides: make(map[uuid.UUID]*models.Ride)}
}

func (s *MemoryStore) Create(ctx context.Context, ride *models.Ride) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.rides[ride.ID]; ok {
		return common.NewConflictError("ride already exists: " + ride.ID.String())
	}
	s.rides[ride.ID] = ride.Clone()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, common.NewNotFoundError("ride not found: " + id.String())
	}
	return ride.Clone(), nil
}

// mutate applies fn to the stored ride under the write lock. fn mutates in
// place and returns an error to abort.
func (s *MemoryStore) mutate(id uuid.UUID, fn func(r *models.Ride) error) (*models.Ride, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ride, ok := s.rides[id]
	if !ok {
		return nil, common.NewNotFoundError("ride not found: " + id.String())
	}
	if err := fn(ride); err != nil {
		return nil, err
	}
	return ride.Clone(), nil
}

func (s *MemoryStore) AssignDriver(ctx context.Context, rideID, driverID uuid.UUID, at time.Time) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusRequested {
			return common.NewConflictError("ride no longer requested: " + string(r.Status))
		}
		r.Status = models.RideStatusDriverAssigned
		r.DriverID = &driverID
		r.AssignedAt = &at
		return nil
	})
}

func (s *MemoryStore) Unassign(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusDriverAssigned || r.DriverID == nil || *r.DriverID != driverID {
			return common.NewConflictError("ride not assigned to driver " + driverID.String())
		}
		r.Status = models.RideStatusRequested
		r.DriverID = nil
		r.AssignedAt = nil
		return nil
	})
}

func (s *MemoryStore) MarkArrived(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusDriverAssigned {
			return common.NewConflictError("ride not driver_assigned: " + string(r.Status))
		}
		r.Status = models.RideStatusArrived
		r.ArrivedAt = &at
		return nil
	})
}

func (s *MemoryStore) MarkStarted(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusArrived {
			return common.NewConflictError("ride not arrived: " + string(r.Status))
		}
		r.Status = models.RideStatusInProgress
		r.StartedAt = &at
		return nil
	})
}

func (s *MemoryStore) MarkCompleted(ctx context.Context, rideID uuid.UUID, at time.Time, fare *models.FareBreakdown, distanceKm, durationMin float64) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusInProgress {
			return common.NewConflictError("ride not in_progress: " + string(r.Status))
		}
		r.Status = models.RideStatusCompleted
		r.CompletedAt = &at
		r.Fare = fare
		r.ActualDistanceKm = &distanceKm
		r.ActualDurationMin = &durationMin
		return nil
	})
}

func (s *MemoryStore) RevertCompleted(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusCompleted {
			return common.NewConflictError("ride not completed: " + string(r.Status))
		}
		r.Status = models.RideStatusInProgress
		r.CompletedAt = nil
		r.Fare = nil
		r.ActualDistanceKm = nil
		r.ActualDurationMin = nil
		return nil
	})
}

func (s *MemoryStore) MarkCancelled(ctx context.Context, rideID uuid.UUID, from models.RideStatus, c models.Cancellation) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != from {
			return common.NewConflictError("ride status changed: " + string(r.Status))
		}
		r.Status = models.RideStatusCancelled
		r.DriverID = nil
		r.CancelledAt = &c.At
		cc := c
		r.Cancellation = &cc
		return nil
	})
}

func (s *MemoryStore) SetRating(ctx context.Context, rideID uuid.UUID, byDriver bool, rating int, feedback *string) (*models.Ride, error) {
	return s.mutate(rideID, func(r *models.Ride) error {
		if r.Status != models.RideStatusCompleted {
			return common.NewValidationError("only completed rides can be rated")
		}
		if byDriver {
			if r.RiderRating != nil {
				return common.NewConflictError("rider already rated")
			}
			r.RiderRating = &rating
		} else {
			if r.DriverRating != nil {
				return common.NewConflictError("driver already rated")
			}
			r.DriverRating = &rating
		}
		if feedback != nil {
			r.Feedback = feedback
		}
		return nil
	})
}

func (s *MemoryStore) ListActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Ride, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Ride
	for _, r := range s.rides {
		if r.DriverID != nil && *r.DriverID == driverID && !r.Status.Terminal() {
			out = append(out, r.Clone())
		}
	}
	return out, nil
}
