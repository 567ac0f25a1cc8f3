package tracking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/internal/rides"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

func newTestService(t *testing.T) (*Service, *rides.MemoryStore, *geoindex.MemoryStore) {
	t.Helper()
	rideStore := rides.NewMemoryStore()
	drivers := geoindex.NewMemoryStore()
	return NewService(NewMemoryStore(), rideStore, drivers), rideStore, drivers
}

func seedActiveRide(t *testing.T, store *rides.MemoryStore, driverID uuid.UUID) *models.Ride {
	t.Helper()
	ctx := context.Background()
	ride := &models.Ride{
		ID:              uuid.New(),
		RiderID:         uuid.New(),
		Status:          models.RideStatusRequested,
		Type:            models.RideTypeStandard,
		Pickup:          models.Point{Latitude: 10, Longitude: 10},
		RequestedAt:     time.Now().UTC(),
		SurgeMultiplier: decimal.NewFromInt(1),
	}
	require.NoError(t, store.Create(ctx, ride))
	updated, err := store.AssignDriver(ctx, ride.ID, driverID, time.Now().UTC())
	require.NoError(t, err)
	return updated
}

func TestRecordUpdateAndTrail(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	svc, rideStore, _ := newTestService(t)
	ride := seedActiveRide(t, rideStore, driverID)

	require.NoError(t, svc.RecordUpdate(ctx, ride.ID, 10.0, 10.0, true))
	require.NoError(t, svc.RecordUpdate(ctx, ride.ID, 10.1, 10.1, false))
	require.NoError(t, svc.RecordUpdate(ctx, ride.ID, 10.2, 10.2, true))

	trail, err := svc.Trail(ctx, ride.ID)
	require.NoError(t, err)
	require.Len(t, trail, 3)
	for i := 1; i < len(trail); i++ {
		assert.False(t, trail[i].At.Before(trail[i-1].At), "trail must be time ordered")
	}

	latest, err := svc.LatestDriverPoint(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, 10.2, latest.Latitude)
	assert.True(t, latest.IsDriver)
}

func TestRecordUpdateFeedsGeoIndex(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	svc, rideStore, drivers := newTestService(t)
	ride := seedActiveRide(t, rideStore, driverID)

	require.NoError(t, svc.RecordUpdate(ctx, ride.ID, 12.5, 13.5, true))

	pos, err := drivers.Position(ctx, driverID)
	require.NoError(t, err)
	assert.Equal(t, 12.5, pos.Latitude)
	assert.Equal(t, 13.5, pos.Longitude)
}

func TestRecordUpdateRejectsBadCoordinates(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	svc, rideStore, _ := newTestService(t)
	ride := seedActiveRide(t, rideStore, driverID)

	err := svc.RecordUpdate(ctx, ride.ID, 91.0, 0.0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	err = svc.RecordUpdate(ctx, ride.ID, 0.0, -181.0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRecordUpdateRejectsTerminalRide(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	svc, rideStore, _ := newTestService(t)
	ride := seedActiveRide(t, rideStore, driverID)

	_, err := rideStore.MarkCancelled(ctx, ride.ID, models.RideStatusDriverAssigned, models.Cancellation{
		By: models.CancelledByRider, At: time.Now().UTC(),
	})
	require.NoError(t, err)

	err = svc.RecordUpdate(ctx, ride.ID, 10.0, 10.0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestRecordUpdateUnknownRide(t *testing.T) {
	svc, _, _ := newTestService(t)

	err := svc.RecordUpdate(context.Background(), uuid.New(), 10.0, 10.0, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestLatestDriverPointNoneRecorded(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	svc, rideStore, _ := newTestService(t)
	ride := seedActiveRide(t, rideStore, driverID)

	require.NoError(t, svc.RecordUpdate(ctx, ride.ID, 10.0, 10.0, false))

	_, err := svc.LatestDriverPoint(ctx, ride.ID)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrNotFound)
}
