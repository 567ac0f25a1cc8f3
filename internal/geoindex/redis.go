package geoindex

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/common"
	redisClient "github.com/swiftride/dispatch/pkg/redis"
)

const (
	geoIndexKey     = "drivers:geo:index"
	locationPrefix  = "driver:location:"
	availablePrefix = "driver:available:"
	claimPrefix     = "driver:claim:"
	positionTTL     = 5 * time.Minute
	availabilityTTL = 30 * time.Minute
)

// RedisStore is a Redis-backed geo index. Positions live in a GEO set plus a
// per-driver JSON key; the claim is a presence-based compare-and-set:
// SET claim:<driver> <ride> NX succeeds for exactly one ride.
type RedisStore struct {
	redis *redisClient.Client
}

// NewRedisStore creates a geo index on the given Redis client.
func NewRedisStore(client *redisClient.Client) *RedisStore {
	return &RedisStore{redis: client}
}

type storedPosition struct {
	DriverID  uuid.UUID `json:"driver_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Timestamp time.Time `json:"timestamp"`
}

// UpdatePosition records the driver's latest position.
func (s *RedisStore) UpdatePosition(ctx context.Context, driverID uuid.UUID, latitude, longitude float64) error {
	pos := storedPosition{
		DriverID:  driverID,
		Latitude:  latitude,
		Longitude: longitude,
		Timestamp: time.Now(),
	}

	data, err := json.Marshal(pos)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}

	key := locationPrefix + driverID.String()
	if err := s.redis.SetWithExpiration(ctx, key, data, positionTTL); err != nil {
		return fmt.Errorf("store position: %w", err)
	}

	if err := s.redis.GeoAdd(ctx, geoIndexKey, longitude, latitude, driverID.String()); err != nil {
		return fmt.Errorf("update geo index: %w", err)
	}

	return nil
}

// Position returns the driver's latest known position.
func (s *RedisStore) Position(ctx context.Context, driverID uuid.UUID) (*Position, error) {
	data, err := s.redis.GetString(ctx, locationPrefix+driverID.String())
	if err != nil {
		return nil, common.NewNotFoundError("driver position not found")
	}

	var pos storedPosition
	if err := json.Unmarshal([]byte(data), &pos); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}

	return &Position{
		DriverID:  pos.DriverID,
		Latitude:  pos.Latitude,
		Longitude: pos.Longitude,
		UpdatedAt: pos.Timestamp,
	}, nil
}

// SetAvailable flips the driver's availability flag.
func (s *RedisStore) SetAvailable(ctx context.Context, driverID uuid.UUID, available bool) error {
	id := driverID.String()
	if available {
		if err := s.redis.SetWithExpiration(ctx, availablePrefix+id, "1", availabilityTTL); err != nil {
			return fmt.Errorf("mark available: %w", err)
		}
		return s.redis.Delete(ctx, claimPrefix+id)
	}

	if err := s.redis.Delete(ctx, availablePrefix+id); err != nil {
		return fmt.Errorf("mark unavailable: %w", err)
	}
	return s.redis.GeoRemove(ctx, geoIndexKey, id)
}

// Nearby returns available, unclaimed drivers within radiusKm, closest first.
func (s *RedisStore) Nearby(ctx context.Context, latitude, longitude, radiusKm float64, limit int) ([]Candidate, error) {
	fetch := limit * 2
	if fetch <= 0 {
		fetch = 50
	}

	members, err := s.redis.GeoRadius(ctx, geoIndexKey, longitude, latitude, radiusKm, fetch)
	if err != nil {
		return nil, fmt.Errorf("geo radius query: %w", err)
	}

	candidates := make([]Candidate, 0, limit)
	for _, member := range members {
		driverID, err := uuid.Parse(member)
		if err != nil {
			continue
		}

		if _, err := s.redis.GetString(ctx, availablePrefix+member); err != nil {
			continue // not marked available
		}
		if _, err := s.redis.GetString(ctx, claimPrefix+member); err == nil {
			continue // already claimed by a ride
		}

		pos, err := s.Position(ctx, driverID)
		if err != nil {
			continue
		}

		candidates = append(candidates, Candidate{
			DriverID:   driverID,
			Latitude:   pos.Latitude,
			Longitude:  pos.Longitude,
			DistanceKm: DistanceKm(latitude, longitude, pos.Latitude, pos.Longitude),
		})
		if limit > 0 && len(candidates) >= limit {
			break
		}
	}

	return candidates, nil
}

// Claim conditionally marks the driver as taken by rideID.
func (s *RedisStore) Claim(ctx context.Context, driverID, rideID uuid.UUID) error {
	id := driverID.String()
	if _, err := s.redis.GetString(ctx, availablePrefix+id); err != nil {
		return common.NewConflictError("driver not available")
	}

	ok, err := s.redis.SetIfAbsent(ctx, claimPrefix+id, rideID.String(), availabilityTTL)
	if err != nil {
		return fmt.Errorf("claim driver: %w", err)
	}
	if !ok {
		return common.NewConflictError("driver already taken")
	}
	return nil
}

// Release returns a claimed driver to the available pool.
func (s *RedisStore) Release(ctx context.Context, driverID uuid.UUID) error {
	return s.redis.Delete(ctx, claimPrefix+driverID.String())
}
