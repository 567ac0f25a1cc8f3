// Package geoindex maintains each driver's last known position and
// availability, answers radius queries for dispatch, and owns the
// compare-and-set claim that prevents a driver being assigned to two
// rides concurrently.
package geoindex

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
)

// Candidate is an available driver returned by a radius query.
type Candidate struct {
	DriverID   uuid.UUID
	Latitude   float64
	Longitude  float64
	DistanceKm float64
}

// Position is a driver's last known location.
type Position struct {
	DriverID  uuid.UUID
	Latitude  float64
	Longitude float64
	UpdatedAt time.Time
}

// Store is the geo index contract. Claim and Release are conditional
// updates: Claim succeeds only if the driver is currently available and
// unclaimed, otherwise it returns a conflict error.
type Store interface {
	// UpdatePosition records the driver's latest position (last write wins).
	UpdatePosition(ctx context.Context, driverID uuid.UUID, latitude, longitude float64) error
	// Position returns the driver's latest known position.
	Position(ctx context.Context, driverID uuid.UUID) (*Position, error)
	// SetAvailable flips the driver's availability flag. Marking a claimed
	// driver available clears the claim.
	SetAvailable(ctx context.Context, driverID uuid.UUID, available bool) error
	// Nearby returns available, unclaimed drivers within radiusKm of the
	// point, closest first, at most limit entries.
	Nearby(ctx context.Context, latitude, longitude, radiusKm float64, limit int) ([]Candidate, error)
	// Claim marks the driver as taken by rideID. Fails with a concurrency
	// conflict if the driver is unavailable or already claimed.
	Claim(ctx context.Context, driverID, rideID uuid.UUID) error
	// Release returns a claimed driver to the available pool.
	Release(ctx context.Context, driverID uuid.UUID) error
}

// DistanceKm computes the great-circle distance between two coordinates
// using the haversine formula.
func DistanceKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0 // km

	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
