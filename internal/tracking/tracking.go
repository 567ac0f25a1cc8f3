// Package tracking stores the stream of location updates reported during a
// ride and keeps the driver's live position flowing into the geo index.
package tracking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/models"
)

// Store persists location updates. Append-only.
type Store interface {
	Append(ctx context.Context, update models.LocationUpdate) error
	// Trail returns all updates for a ride ordered by timestamp.
	Trail(ctx context.Context, rideID uuid.UUID) ([]models.LocationUpdate, error)
	// LatestDriverPoint returns the most recent driver-reported update.
	LatestDriverPoint(ctx context.Context, rideID uuid.UUID) (*models.LocationUpdate, error)
}

// RideResolver looks up the ride a location update belongs to.
type RideResolver interface {
	Get(ctx context.Context, id uuid.UUID) (*models.Ride, error)
}

// Service validates and records location updates.
type Service struct {
	store   Store
	rides   RideResolver
	drivers geoindex.Store
}

// NewService creates a tracking service. drivers may be nil when no geo
// index feed is wanted.
func NewService(store Store, rides RideResolver, drivers geoindex.Store) *Service {
	return &Service{store: store, rides: rides, drivers: drivers}
}

// RecordUpdate appends one location report. Driver updates on an active ride
// also refresh the driver's position in the geo index; that refresh is
// best-effort and never fails the append.
func (s *Service) RecordUpdate(ctx context.Context, rideID uuid.UUID, latitude, longitude float64, isDriver bool) error {
	point := models.Point{Latitude: latitude, Longitude: longitude}
	if !point.Valid() {
		return common.NewValidationError("coordinates out of range")
	}

	ride, err := s.rides.Get(ctx, rideID)
	if err != nil {
		return err
	}
	if ride.Status.Terminal() {
		return common.NewValidationError("ride is no longer active")
	}

	update := models.LocationUpdate{
		RideID:    rideID,
		Latitude:  latitude,
		Longitude: longitude,
		IsDriver:  isDriver,
		At:        time.Now().UTC(),
	}
	if err := s.store.Append(ctx, update); err != nil {
		return err
	}

	if isDriver && s.drivers != nil && ride.DriverID != nil {
		if err := s.drivers.UpdatePosition(ctx, *ride.DriverID, latitude, longitude); err != nil {
			logger.Warn("geo index position refresh failed",
				zap.String("driver_id", ride.DriverID.String()),
				zap.Error(err),
			)
		}
	}
	return nil
}

// Trail returns the full route recorded for a ride, oldest first.
func (s *Service) Trail(ctx context.Context, rideID uuid.UUID) ([]models.LocationUpdate, error) {
	return s.store.Trail(ctx, rideID)
}

// LatestDriverPoint returns the driver's last reported position on a ride.
func (s *Service) LatestDriverPoint(ctx context.Context, rideID uuid.UUID) (*models.LocationUpdate, error) {
	return s.store.LatestDriverPoint(ctx, rideID)
}

// MemoryStore keeps location updates in memory, per ride.
type MemoryStore struct {
	mu      sync.RWMutex
	updates map[uuid.UUID][]models.LocationUpdate
}

// NewMemoryStore creates an empty in-memory tracking store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{updates: make(map[uuid.UUID][]models.LocationUpdate)}
}

func (s *MemoryStore) Append(ctx context.Context, update models.LocationUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates[update.RideID] = append(s.updates[update.RideID], update)
	return nil
}

func (s *MemoryStore) Trail(ctx context.Context, rideID uuid.UUID) ([]models.LocationUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.updates[rideID]
	out := make([]models.LocationUpdate, len(trail))
	copy(out, trail)
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.Before(out[j].At) })
	return out, nil
}

func (s *MemoryStore) LatestDriverPoint(ctx context.Context, rideID uuid.UUID) (*models.LocationUpdate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	trail := s.updates[rideID]
	for i := len(trail) - 1; i >= 0; i-- {
		if trail[i].IsDriver {
			u := trail[i]
			return &u, nil
		}
	}
	return nil, common.NewNotFoundError("no driver updates for ride " + rideID.String())
}
