package rides

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/internal/pricing"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// recordingLedger counts credits and optionally fails them.
type recordingLedger struct {
	credits int
	err     error
}

func (l *recordingLedger) CreditRideEarning(ctx context.Context, driverID, rideID uuid.UUID, fareTotal decimal.Decimal) error {
	if l.err != nil {
		return l.err
	}
	l.credits++
	return nil
}

func newTestManager(t *testing.T, ledger EarningsCrediter) (*LifecycleManager, *MemoryStore, *geoindex.MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	drivers := geoindex.NewMemoryStore()
	if ledger == nil {
		ledger = &recordingLedger{}
	}
	m := NewLifecycleManager(store, pricing.NewEngine(nil), ledger, drivers, nil)
	return m, store, drivers
}

func seedRide(t *testing.T, store *MemoryStore, status models.RideStatus, driverID *uuid.UUID) *models.Ride {
	t.Helper()
	ride := &models.Ride{
		ID:              uuid.New(),
		RiderID:         uuid.New(),
		Status:          models.RideStatusRequested,
		Type:            models.RideTypeStandard,
		Pickup:          models.Point{Latitude: 10, Longitude: 10},
		RequestedAt:     time.Now().UTC(),
		SurgeMultiplier: decimal.NewFromInt(1),
	}
	require.NoError(t, store.Create(context.Background(), ride))

	ctx := context.Background()
	advance := func(target models.RideStatus) {
		var err error
		switch target {
		case models.RideStatusDriverAssigned:
			_, err = store.AssignDriver(ctx, ride.ID, *driverID, time.Now().UTC())
		case models.RideStatusArrived:
			_, err = store.MarkArrived(ctx, ride.ID, time.Now().UTC())
		case models.RideStatusInProgress:
			_, err = store.MarkStarted(ctx, ride.ID, time.Now().UTC())
		}
		require.NoError(t, err)
	}

	order := []models.RideStatus{
		models.RideStatusDriverAssigned,
		models.RideStatusArrived,
		models.RideStatusInProgress,
	}
	for _, s := range order {
		if status == models.RideStatusRequested {
			break
		}
		advance(s)
		if s == status {
			break
		}
	}

	got, err := store.Get(ctx, ride.ID)
	require.NoError(t, err)
	require.Equal(t, status, got.Status)
	return got
}

func TestTransitionTable(t *testing.T) {
	legal := []struct {
		from, to models.RideStatus
	}{
		{models.RideStatusRequested, models.RideStatusDriverAssigned},
		{models.RideStatusRequested, models.RideStatusCancelled},
		{models.RideStatusDriverAssigned, models.RideStatusArrived},
		{models.RideStatusDriverAssigned, models.RideStatusRequested},
		{models.RideStatusDriverAssigned, models.RideStatusCancelled},
		{models.RideStatusArrived, models.RideStatusInProgress},
		{models.RideStatusArrived, models.RideStatusCancelled},
		{models.RideStatusInProgress, models.RideStatusCompleted},
		{models.RideStatusInProgress, models.RideStatusCancelled},
	}
	for _, tc := range legal {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be legal", tc.from, tc.to)
	}

	illegal := []struct {
		from, to models.RideStatus
	}{
		{models.RideStatusRequested, models.RideStatusArrived},
		{models.RideStatusRequested, models.RideStatusCompleted},
		{models.RideStatusDriverAssigned, models.RideStatusCompleted},
		{models.RideStatusArrived, models.RideStatusDriverAssigned},
		{models.RideStatusCompleted, models.RideStatusCancelled},
		{models.RideStatusCancelled, models.RideStatusRequested},
		{models.RideStatusCompleted, models.RideStatusInProgress},
	}
	for _, tc := range illegal {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be illegal", tc.from, tc.to)
	}
}

func TestLifecycleHappyPathTimestamps(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusDriverAssigned, &driverID)
	require.NotNil(t, ride.AssignedAt)

	ride, err := m.MarkArrived(ctx, ride.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusArrived, ride.Status)
	require.NotNil(t, ride.ArrivedAt)

	ride, err = m.Start(ctx, ride.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusInProgress, ride.Status)
	require.NotNil(t, ride.StartedAt)

	ride, err = m.Complete(ctx, ride.ID, 10.0, 20.0)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, ride.Status)
	require.NotNil(t, ride.CompletedAt)
	require.NotNil(t, ride.Fare)
	assert.False(t, ride.CompletedAt.Before(*ride.StartedAt))
	assert.False(t, ride.StartedAt.Before(*ride.ArrivedAt))
	assert.False(t, ride.ArrivedAt.Before(*ride.AssignedAt))
}

type recordingTracker struct {
	rideIDs []uuid.UUID
	points  []models.Point
}

func (r *recordingTracker) RecordUpdate(ctx context.Context, rideID uuid.UUID, latitude, longitude float64, isDriver bool) error {
	r.rideIDs = append(r.rideIDs, rideID)
	r.points = append(r.points, models.Point{Latitude: latitude, Longitude: longitude})
	return nil
}

func TestTransitionLocationHintForwarded(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, _ := newTestManager(t, nil)
	tracker := &recordingTracker{}
	m.SetLocationRecorder(tracker)

	ride := seedRide(t, store, models.RideStatusDriverAssigned, &driverID)

	_, err := m.MarkArrived(ctx, ride.ID, &models.Point{Latitude: 10.001, Longitude: 10.002})
	require.NoError(t, err)

	// No hint on start, nothing extra recorded.
	_, err = m.Start(ctx, ride.ID, nil)
	require.NoError(t, err)

	require.Len(t, tracker.points, 1)
	assert.Equal(t, ride.ID, tracker.rideIDs[0])
	assert.Equal(t, 10.001, tracker.points[0].Latitude)
	assert.Equal(t, 10.002, tracker.points[0].Longitude)
}

func TestCompleteCreditsDriver(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	ledger := &recordingLedger{}
	m, store, _ := newTestManager(t, ledger)

	ride := seedRide(t, store, models.RideStatusInProgress, &driverID)

	_, err := m.Complete(ctx, ride.ID, 10.0, 20.0)
	require.NoError(t, err)
	assert.Equal(t, 1, ledger.credits)
}

func TestCompleteRollsBackWhenCreditFails(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	ledger := &recordingLedger{err: errors.New("ledger down")}
	m, store, _ := newTestManager(t, ledger)

	ride := seedRide(t, store, models.RideStatusInProgress, &driverID)

	_, err := m.Complete(ctx, ride.ID, 10.0, 20.0)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrGatewayFailure)

	got, err := store.Get(ctx, ride.ID)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusInProgress, got.Status)
	assert.Nil(t, got.CompletedAt)
	assert.Nil(t, got.Fare)

	// Retry after the ledger recovers.
	ledger.err = nil
	got, err = m.Complete(ctx, ride.ID, 10.0, 20.0)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
	assert.Equal(t, 1, ledger.credits)
}

func TestCompleteToleratesAlreadyCreditedFare(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	ledger := &recordingLedger{err: common.NewDuplicateCreditError("ride already credited")}
	m, store, _ := newTestManager(t, ledger)

	ride := seedRide(t, store, models.RideStatusInProgress, &driverID)

	// The credit exists from a prior attempt, so completion stands.
	got, err := m.Complete(ctx, ride.ID, 10.0, 20.0)
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCompleted, got.Status)
	assert.Equal(t, 0, ledger.credits)
}

func TestCancelReleasesDriver(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, drivers := newTestManager(t, nil)

	require.NoError(t, drivers.UpdatePosition(ctx, driverID, 10, 10))
	require.NoError(t, drivers.SetAvailable(ctx, driverID, true))

	ride := seedRide(t, store, models.RideStatusRequested, nil)
	require.NoError(t, drivers.Claim(ctx, driverID, ride.ID))
	_, err := store.AssignDriver(ctx, ride.ID, driverID, time.Now().UTC())
	require.NoError(t, err)

	cancelled, err := m.Cancel(ctx, ride.ID, models.CancelledByRider, "change of plans")
	require.NoError(t, err)
	assert.Equal(t, models.RideStatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.Cancellation)
	assert.Equal(t, models.CancelledByRider, cancelled.Cancellation.By)

	// The driver is claimable again.
	otherRide := uuid.New()
	assert.NoError(t, drivers.Claim(ctx, driverID, otherRide))
}

func TestCancelTerminalRideRejected(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusInProgress, &driverID)
	_, err := m.Complete(ctx, ride.ID, 5, 10)
	require.NoError(t, err)

	_, err = m.Cancel(ctx, ride.ID, models.CancelledByRider, "too late")
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestStartRequiresArrival(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusDriverAssigned, &driverID)

	_, err := m.Start(ctx, ride.ID, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrInvalidTransition)
}

func TestRateRules(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	m, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusInProgress, &driverID)

	// Not completed yet.
	_, err := m.Rate(ctx, ride.ID, false, 5, nil)
	require.Error(t, err)

	_, err = m.Complete(ctx, ride.ID, 5, 10)
	require.NoError(t, err)

	_, err = m.Rate(ctx, ride.ID, false, 0, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	feedback := "smooth ride"
	rated, err := m.Rate(ctx, ride.ID, false, 5, &feedback)
	require.NoError(t, err)
	require.NotNil(t, rated.DriverRating)
	assert.Equal(t, 5, *rated.DriverRating)

	// Rider already rated the driver; a second rating is rejected.
	_, err = m.Rate(ctx, ride.ID, false, 1, nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)

	// The driver can still rate the rider.
	rated, err = m.Rate(ctx, ride.ID, true, 4, nil)
	require.NoError(t, err)
	require.NotNil(t, rated.RiderRating)
	assert.Equal(t, 4, *rated.RiderRating)
}

func TestDriverSetIffAssignedOrLater(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	_, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusRequested, nil)
	assert.Nil(t, ride.DriverID)

	assigned, err := store.AssignDriver(ctx, ride.ID, driverID, time.Now().UTC())
	require.NoError(t, err)
	require.NotNil(t, assigned.DriverID)

	// Retracting the assignment clears the driver again.
	unassigned, err := store.Unassign(ctx, ride.ID, driverID)
	require.NoError(t, err)
	assert.Nil(t, unassigned.DriverID)
	assert.Nil(t, unassigned.AssignedAt)
	assert.Equal(t, models.RideStatusRequested, unassigned.Status)

	// Cancellation clears it too.
	_, err = store.AssignDriver(ctx, ride.ID, driverID, time.Now().UTC())
	require.NoError(t, err)
	cancelled, err := store.MarkCancelled(ctx, ride.ID, models.RideStatusDriverAssigned, models.Cancellation{
		By:     models.CancelledByRider,
		Reason: "changed my mind",
		At:     time.Now().UTC(),
	})
	require.NoError(t, err)
	assert.Nil(t, cancelled.DriverID)
}

func TestConditionalWritesRejectStaleStatus(t *testing.T) {
	ctx := context.Background()
	driverID := uuid.New()
	_, store, _ := newTestManager(t, nil)

	ride := seedRide(t, store, models.RideStatusRequested, nil)

	_, err := store.MarkArrived(ctx, ride.ID, time.Now().UTC())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)

	_, err = store.AssignDriver(ctx, ride.ID, driverID, time.Now().UTC())
	require.NoError(t, err)

	// A second assignment loses: the ride is no longer requested.
	_, err = store.AssignDriver(ctx, ride.ID, uuid.New(), time.Now().UTC())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrConcurrencyConflict)
}
