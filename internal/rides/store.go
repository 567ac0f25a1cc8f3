// Package rides owns the ride aggregate: persistence and the status state
// machine that guards every mutation.
package rides

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/models"
)

// Store persists rides. Status-changing methods are conditional: they take
// the status the caller observed and fail with a concurrency conflict when
// the stored ride has moved on, so lost updates surface instead of silently
// clobbering.
type Store interface {
	Create(ctx context.Context, ride *models.Ride) error
	Get(ctx context.Context, id uuid.UUID) (*models.Ride, error)

	// AssignDriver moves requested -> driver_assigned for the given driver.
	AssignDriver(ctx context.Context, rideID, driverID uuid.UUID, at time.Time) (*models.Ride, error)

	// Unassign retracts an assignment, moving driver_assigned -> requested
	// and clearing the driver. Used when an offer times out or is declined.
	Unassign(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error)

	MarkArrived(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error)
	MarkStarted(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error)

	// MarkCompleted records the final fare and trip metrics along with the
	// transition in one conditional write.
	MarkCompleted(ctx context.Context, rideID uuid.UUID, at time.Time, fare *models.FareBreakdown, distanceKm, durationMin float64) (*models.Ride, error)

	// RevertCompleted rolls a completion back to in_progress after a failed
	// earnings credit, clearing the fare and completion timestamp.
	RevertCompleted(ctx context.Context, rideID uuid.UUID) (*models.Ride, error)

	// MarkCancelled cancels from any non-terminal status the caller names.
	MarkCancelled(ctx context.Context, rideID uuid.UUID, from models.RideStatus, c models.Cancellation) (*models.Ride, error)

	// SetRating records a rating on a completed ride. Each side rates once.
	SetRating(ctx context.Context, rideID uuid.UUID, byDriver bool, rating int, feedback *string) (*models.Ride, error)

	// ListActiveByDriver returns the driver's non-terminal rides.
	ListActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Ride, error)
}
