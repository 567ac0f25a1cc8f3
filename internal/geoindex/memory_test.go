package geoindex

import (
	"context"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftride/dispatch/pkg/common"
)

func addAvailableDriver(t *testing.T, s *MemoryStore, lat, lng float64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	driverID := uuid.New()
	require.NoError(t, s.UpdatePosition(ctx, driverID, lat, lng))
	require.NoError(t, s.SetAvailable(ctx, driverID, true))
	return driverID
}

func TestNearbyFiltersByRadiusAndSorts(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	near := addAvailableDriver(t, s, 40.01, -74.0)  // ~1.1 km
	mid := addAvailableDriver(t, s, 40.05, -74.0)   // ~5.6 km
	_ = addAvailableDriver(t, s, 41.0, -74.0)       // ~111 km, outside

	candidates, err := s.Nearby(ctx, 40.0, -74.0, 10.0, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 2)
	assert.Equal(t, near, candidates[0].DriverID)
	assert.Equal(t, mid, candidates[1].DriverID)
	assert.Less(t, candidates[0].DistanceKm, candidates[1].DistanceKm)
}

func TestNearbyHonorsLimit(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := 0; i < 5; i++ {
		addAvailableDriver(t, s, 40.0+float64(i)*0.001, -74.0)
	}

	candidates, err := s.Nearby(ctx, 40.0, -74.0, 10.0, 3)
	require.NoError(t, err)
	assert.Len(t, candidates, 3)
}

func TestNearbyExcludesUnavailableAndClaimed(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	free := addAvailableDriver(t, s, 40.001, -74.0)
	offline := addAvailableDriver(t, s, 40.002, -74.0)
	claimed := addAvailableDriver(t, s, 40.003, -74.0)

	require.NoError(t, s.SetAvailable(ctx, offline, false))
	require.NoError(t, s.Claim(ctx, claimed, uuid.New()))

	candidates, err := s.Nearby(ctx, 40.0, -74.0, 10.0, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, free, candidates[0].DriverID)
}

func TestClaimIsExclusive(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	driverID := addAvailableDriver(t, s, 40.0, -74.0)

	require.NoError(t, s.Claim(ctx, driverID, uuid.New()))

	err := s.Claim(ctx, driverID, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
}

func TestClaimRequiresAvailability(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	driverID := uuid.New()
	require.NoError(t, s.UpdatePosition(ctx, driverID, 40.0, -74.0))

	err := s.Claim(ctx, driverID, uuid.New())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
}

func TestReleaseMakesDriverClaimable(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	driverID := addAvailableDriver(t, s, 40.0, -74.0)

	require.NoError(t, s.Claim(ctx, driverID, uuid.New()))
	require.NoError(t, s.Release(ctx, driverID))
	assert.NoError(t, s.Claim(ctx, driverID, uuid.New()))
}

func TestConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	driverID := addAvailableDriver(t, s, 40.0, -74.0)

	const attempts = 32
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Claim(ctx, driverID, uuid.New()); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins, "exactly one claim must win")
}

func TestPositionRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	driverID := uuid.New()

	_, err := s.Position(ctx, driverID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)

	require.NoError(t, s.UpdatePosition(ctx, driverID, 40.5, -74.5))
	pos, err := s.Position(ctx, driverID)
	require.NoError(t, err)
	assert.Equal(t, 40.5, pos.Latitude)
	assert.Equal(t, -74.5, pos.Longitude)
}

func TestDistanceKm(t *testing.T) {
	// One degree of latitude is about 111 km.
	d := DistanceKm(0, 0, 1, 0)
	assert.InDelta(t, 111.2, d, 1.0)

	assert.Zero(t, DistanceKm(40.0, -74.0, 40.0, -74.0))
}
