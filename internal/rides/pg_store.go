package rides

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// PGStore persists rides in Postgres. Status transitions are single
// conditional UPDATEs (WHERE status = expected) so concurrent writers lose
// cleanly with a conflict instead of overwriting each other.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed ride store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

const rideColumns = `
	id, rider_id, driver_id, status, ride_type,
	pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	requested_at, assigned_at, arrived_at, started_at, completed_at, cancelled_at,
	surge_multiplier, estimate, fare,
	estimated_distance_km, estimated_duration_min, actual_distance_km, actual_duration_min,
	rider_rating, driver_rating, feedback,
	cancelled_by, cancel_reason
`

func (s *PGStore) Create(ctx context.Context, ride *models.Ride) error {
	estimate, err := marshalFare(ride.Estimate)
	if err != nil {
		return err
	}

	var dropoffLat, dropoffLng *float64
	if ride.Dropoff != nil {
		dropoffLat = &ride.Dropoff.Latitude
		dropoffLng = &ride.Dropoff.Longitude
	}

	query := `
		INSERT INTO rides (
			id, rider_id, status, ride_type,
			pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
			requested_at, surge_multiplier, estimate,
			estimated_distance_km, estimated_duration_min
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err = s.db.Exec(ctx, query,
		ride.ID, ride.RiderID, ride.Status, ride.Type,
		ride.Pickup.Latitude, ride.Pickup.Longitude, dropoffLat, dropoffLng,
		ride.RequestedAt, ride.SurgeMultiplier, estimate,
		ride.EstimatedDistanceKm, ride.EstimatedDurationMin,
	)
	if err != nil {
		return fmt.Errorf("failed to create ride: %w", err)
	}
	return nil
}

func (s *PGStore) Get(ctx context.Context, id uuid.UUID) (*models.Ride, error) {
	query := fmt.Sprintf(`SELECT %s FROM rides WHERE id = $1`, rideColumns)
	ride, err := s.scanRide(s.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewNotFoundError("ride not found: " + id.String())
		}
		return nil, fmt.Errorf("failed to get ride: %w", err)
	}
	return ride, nil
}

func (s *PGStore) AssignDriver(ctx context.Context, rideID, driverID uuid.UUID, at time.Time) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET driver_id = $2, assigned_at = $3, status = 'driver_assigned'
		WHERE id = $1 AND status = 'requested'
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride no longer requested", rideID, driverID, at)
}

func (s *PGStore) Unassign(ctx context.Context, rideID, driverID uuid.UUID) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET driver_id = NULL, assigned_at = NULL, status = 'requested'
		WHERE id = $1 AND status = 'driver_assigned' AND driver_id = $2
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not assigned to driver", rideID, driverID)
}

func (s *PGStore) MarkArrived(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET arrived_at = $2, status = 'arrived'
		WHERE id = $1 AND status = 'driver_assigned'
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not driver_assigned", rideID, at)
}

func (s *PGStore) MarkStarted(ctx context.Context, rideID uuid.UUID, at time.Time) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET started_at = $2, status = 'in_progress'
		WHERE id = $1 AND status = 'arrived'
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not arrived", rideID, at)
}

func (s *PGStore) MarkCompleted(ctx context.Context, rideID uuid.UUID, at time.Time, fare *models.FareBreakdown, distanceKm, durationMin float64) (*models.Ride, error) {
	fareJSON, err := marshalFare(fare)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf(`
		UPDATE rides SET completed_at = $2, fare = $3,
			actual_distance_km = $4, actual_duration_min = $5, status = 'completed'
		WHERE id = $1 AND status = 'in_progress'
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not in_progress", rideID, at, fareJSON, distanceKm, durationMin)
}

func (s *PGStore) RevertCompleted(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET completed_at = NULL, fare = NULL,
			actual_distance_km = NULL, actual_duration_min = NULL, status = 'in_progress'
		WHERE id = $1 AND status = 'completed'
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not completed", rideID)
}

func (s *PGStore) MarkCancelled(ctx context.Context, rideID uuid.UUID, from models.RideStatus, c models.Cancellation) (*models.Ride, error) {
	query := fmt.Sprintf(`
		UPDATE rides SET cancelled_at = $3, cancelled_by = $4, cancel_reason = $5, status = 'cancelled', driver_id = NULL
		WHERE id = $1 AND status = $2
		RETURNING %s
	`, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride status changed", rideID, from, c.At, c.By, c.Reason)
}

func (s *PGStore) SetRating(ctx context.Context, rideID uuid.UUID, byDriver bool, rating int, feedback *string) (*models.Ride, error) {
	column := "driver_rating"
	if byDriver {
		column = "rider_rating"
	}
	query := fmt.Sprintf(`
		UPDATE rides SET %s = $2, feedback = COALESCE($3, feedback)
		WHERE id = $1 AND status = 'completed' AND %s IS NULL
		RETURNING %s
	`, column, column, rideColumns)
	return s.conditionalUpdate(ctx, query, "ride not completed or already rated", rideID, rating, feedback)
}

func (s *PGStore) ListActiveByDriver(ctx context.Context, driverID uuid.UUID) ([]*models.Ride, error) {
	query := fmt.Sprintf(`
		SELECT %s FROM rides
		WHERE driver_id = $1 AND status NOT IN ('completed', 'cancelled')
		ORDER BY requested_at
	`, rideColumns)

	rows, err := s.db.Query(ctx, query, driverID)
	if err != nil {
		return nil, fmt.Errorf("failed to list active rides: %w", err)
	}
	defer rows.Close()

	items := make([]*models.Ride, 0)
	for rows.Next() {
		ride, err := s.scanRide(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ride: %w", err)
		}
		items = append(items, ride)
	}
	return items, nil
}

// conditionalUpdate runs a RETURNING update whose WHERE clause encodes the
// expected current state. No row back means the state moved underneath us.
func (s *PGStore) conditionalUpdate(ctx context.Context, query, conflictMsg string, args ...interface{}) (*models.Ride, error) {
	ride, err := s.scanRide(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, common.NewConflictError(conflictMsg)
		}
		return nil, fmt.Errorf("failed to update ride: %w", err)
	}
	return ride, nil
}

func (s *PGStore) scanRide(row pgx.Row) (*models.Ride, error) {
	ride := &models.Ride{}
	var dropoffLat, dropoffLng *float64
	var estimateJSON, fareJSON []byte
	var cancelledBy, cancelReason *string

	err := row.Scan(
		&ride.ID, &ride.RiderID, &ride.DriverID, &ride.Status, &ride.Type,
		&ride.Pickup.Latitude, &ride.Pickup.Longitude, &dropoffLat, &dropoffLng,
		&ride.RequestedAt, &ride.AssignedAt, &ride.ArrivedAt, &ride.StartedAt, &ride.CompletedAt, &ride.CancelledAt,
		&ride.SurgeMultiplier, &estimateJSON, &fareJSON,
		&ride.EstimatedDistanceKm, &ride.EstimatedDurationMin, &ride.ActualDistanceKm, &ride.ActualDurationMin,
		&ride.RiderRating, &ride.DriverRating, &ride.Feedback,
		&cancelledBy, &cancelReason,
	)
	if err != nil {
		return nil, err
	}

	if dropoffLat != nil && dropoffLng != nil {
		ride.Dropoff = &models.Point{Latitude: *dropoffLat, Longitude: *dropoffLng}
	}
	if ride.Estimate, err = unmarshalFare(estimateJSON); err != nil {
		return nil, err
	}
	if ride.Fare, err = unmarshalFare(fareJSON); err != nil {
		return nil, err
	}
	if cancelledBy != nil && ride.CancelledAt != nil {
		reason := ""
		if cancelReason != nil {
			reason = *cancelReason
		}
		ride.Cancellation = &models.Cancellation{
			By:     models.CancelParty(*cancelledBy),
			Reason: reason,
			At:     *ride.CancelledAt,
		}
	}
	return ride, nil
}

func marshalFare(f *models.FareBreakdown) ([]byte, error) {
	if f == nil {
		return nil, nil
	}
	data, err := json.Marshal(f)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal fare: %w", err)
	}
	return data, nil
}

func unmarshalFare(data []byte) (*models.FareBreakdown, error) {
	if len(data) == 0 {
		return nil, nil
	}
	f := &models.FareBreakdown{}
	if err := json.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("failed to unmarshal fare: %w", err)
	}
	return f, nil
}
