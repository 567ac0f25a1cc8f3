package geoindex

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// MemoryStore is an in-process geo index keeping one DriverAvailability
// record per driver under a single RWMutex. Suitable for tests and
// single-node embedding.
type MemoryStore struct {
	mu      sync.RWMutex
	drivers map[uuid.UUID]*models.DriverAvailability
}

// NewMemoryStore creates an empty in-memory geo index.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{drivers: make(map[uuid.UUID]*models.DriverAvailability)}
}

func (s *MemoryStore) record(driverID uuid.UUID) *models.DriverAvailability {
	rec, ok := s.drivers[driverID]
	if !ok {
		rec = &models.DriverAvailability{DriverID: driverID}
		s.drivers[driverID] = rec
	}
	return rec
}

// UpdatePosition records the driver's latest position.
func (s *MemoryStore) UpdatePosition(_ context.Context, driverID uuid.UUID, latitude, longitude float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(driverID)
	rec.Position = &models.Point{Latitude: latitude, Longitude: longitude}
	rec.UpdatedAt = time.Now()
	return nil
}

// Position returns the driver's latest known position.
func (s *MemoryStore) Position(_ context.Context, driverID uuid.UUID) (*Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.drivers[driverID]
	if !ok || rec.Position == nil {
		return nil, common.NewNotFoundError("driver position not found")
	}
	return &Position{
		DriverID:  driverID,
		Latitude:  rec.Position.Latitude,
		Longitude: rec.Position.Longitude,
		UpdatedAt: rec.UpdatedAt,
	}, nil
}

// SetAvailable flips the driver's availability flag.
func (s *MemoryStore) SetAvailable(_ context.Context, driverID uuid.UUID, available bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.record(driverID)
	rec.Available = available
	if available {
		rec.CurrentRideID = nil
	}
	rec.UpdatedAt = time.Now()
	return nil
}

// Nearby returns available, unclaimed drivers within radiusKm, closest first.
func (s *MemoryStore) Nearby(_ context.Context, latitude, longitude, radiusKm float64, limit int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var found []Candidate
	for id, rec := range s.drivers {
		if !rec.Available || rec.CurrentRideID != nil || rec.Position == nil {
			continue
		}
		dist := DistanceKm(latitude, longitude, rec.Position.Latitude, rec.Position.Longitude)
		if dist > radiusKm {
			continue
		}
		found = append(found, Candidate{
			DriverID:   id,
			Latitude:   rec.Position.Latitude,
			Longitude:  rec.Position.Longitude,
			DistanceKm: dist,
		})
	}

	sort.Slice(found, func(i, j int) bool {
		if found[i].DistanceKm != found[j].DistanceKm {
			return found[i].DistanceKm < found[j].DistanceKm
		}
		return found[i].DriverID.String() < found[j].DriverID.String()
	})

	if limit > 0 && len(found) > limit {
		found = found[:limit]
	}
	return found, nil
}

// Claim conditionally marks the driver as taken by rideID.
func (s *MemoryStore) Claim(_ context.Context, driverID, rideID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.drivers[driverID]
	if !ok {
		return common.NewNotFoundError("driver not in geo index")
	}
	if !rec.Available || rec.CurrentRideID != nil {
		return common.NewConflictError("driver already taken")
	}
	ride := rideID
	rec.CurrentRideID = &ride
	rec.Available = false
	rec.UpdatedAt = time.Now()
	return nil
}

// Release returns a claimed driver to the available pool.
func (s *MemoryStore) Release(_ context.Context, driverID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.drivers[driverID]
	if !ok {
		return common.NewNotFoundError("driver not in geo index")
	}
	rec.CurrentRideID = nil
	rec.Available = true
	rec.UpdatedAt = time.Now()
	return nil
}
