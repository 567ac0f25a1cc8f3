package rides

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/internal/notify"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/locking"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/models"
)

// transitions is the legal status graph. Everything else is rejected.
var transitions = map[models.RideStatus][]models.RideStatus{
	models.RideStatusRequested:      {models.RideStatusDriverAssigned, models.RideStatusCancelled},
	models.RideStatusDriverAssigned: {models.RideStatusArrived, models.RideStatusRequested, models.RideStatusCancelled},
	models.RideStatusArrived:        {models.RideStatusInProgress, models.RideStatusCancelled},
	models.RideStatusInProgress:     {models.RideStatusCompleted, models.RideStatusCancelled},
	models.RideStatusCompleted:      {},
	models.RideStatusCancelled:      {},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.RideStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// FareFinalizer computes the final fare from measured trip metrics.
type FareFinalizer interface {
	Finalize(ride *models.Ride, actualDistanceKm, actualDurationMin float64) (*models.FareBreakdown, error)
}

// EarningsCrediter credits the driver's ledger with their share of a fare.
type EarningsCrediter interface {
	CreditRideEarning(ctx context.Context, driverID, rideID uuid.UUID, fareTotal decimal.Decimal) error
}

// LocationRecorder ingests location reports attached to a ride.
type LocationRecorder interface {
	RecordUpdate(ctx context.Context, rideID uuid.UUID, latitude, longitude float64, isDriver bool) error
}

// LifecycleManager drives rides through their status graph. Every mutation
// of one ride is serialized behind a per-ride lock, so checks and writes
// cannot interleave across callers of this process. The store's conditional
// writes guard against other processes.
type LifecycleManager struct {
	store    Store
	pricing  FareFinalizer
	ledger   EarningsCrediter
	drivers  geoindex.Store
	notifier notify.Notifier
	tracker  LocationRecorder
	locks    *locking.KeyedMutex
	now      func() time.Time
}

// NewLifecycleManager wires the ride lifecycle.
func NewLifecycleManager(store Store, pricing FareFinalizer, ledger EarningsCrediter, drivers geoindex.Store, notifier notify.Notifier) *LifecycleManager {
	return &LifecycleManager{
		store:    store,
		pricing:  pricing,
		ledger:   ledger,
		drivers:  drivers,
		notifier: notifier,
		locks:    locking.NewKeyedMutex(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SetLocationRecorder attaches a tracking sink for transition location
// hints. Optional; without it hints are dropped.
func (m *LifecycleManager) SetLocationRecorder(tracker LocationRecorder) {
	m.tracker = tracker
}

// MarkArrived records the assigned driver reaching the pickup point. An
// optional location hint is forwarded to tracking.
func (m *LifecycleManager) MarkArrived(ctx context.Context, rideID uuid.UUID, hint *models.Point) (*models.Ride, error) {
	m.locks.Lock(rideID)
	defer m.locks.Unlock(rideID)

	if _, err := m.guard(ctx, rideID, models.RideStatusArrived); err != nil {
		return nil, err
	}

	updated, err := m.store.MarkArrived(ctx, rideID, m.now())
	if err != nil {
		return nil, err
	}
	m.recordHint(ctx, rideID, hint)
	m.publish(ctx, notify.EventDriverArrived, updated)
	return updated, nil
}

// Start moves an arrived ride into progress.
func (m *LifecycleManager) Start(ctx context.Context, rideID uuid.UUID, hint *models.Point) (*models.Ride, error) {
	m.locks.Lock(rideID)
	defer m.locks.Unlock(rideID)

	if _, err := m.guard(ctx, rideID, models.RideStatusInProgress); err != nil {
		return nil, err
	}

	updated, err := m.store.MarkStarted(ctx, rideID, m.now())
	if err != nil {
		return nil, err
	}
	m.recordHint(ctx, rideID, hint)
	m.publish(ctx, notify.EventRideStarted, updated)
	return updated, nil
}

// Complete finalizes the fare from measured metrics, records completion, and
// credits the driver's earnings. If the credit fails the completion is
// rolled back to in_progress so the ride can be completed again; the fare is
// never persisted without its matching ledger entry.
func (m *LifecycleManager) Complete(ctx context.Context, rideID uuid.UUID, actualDistanceKm, actualDurationMin float64) (*models.Ride, error) {
	m.locks.Lock(rideID)
	defer m.locks.Unlock(rideID)

	ride, err := m.guard(ctx, rideID, models.RideStatusCompleted)
	if err != nil {
		return nil, err
	}
	if ride.DriverID == nil {
		return nil, common.NewConflictError("in-progress ride has no driver")
	}
	driverID := *ride.DriverID

	fare, err := m.pricing.Finalize(ride, actualDistanceKm, actualDurationMin)
	if err != nil {
		return nil, err
	}

	updated, err := m.store.MarkCompleted(ctx, rideID, m.now(), fare, actualDistanceKm, actualDurationMin)
	if err != nil {
		return nil, err
	}

	// A duplicate credit means an earlier completion attempt already wrote
	// the ledger entry before being rolled back, so the fare is covered.
	if err := m.ledger.CreditRideEarning(ctx, driverID, rideID, fare.Total); err != nil && !errors.Is(err, common.ErrDuplicateCredit) {
		logger.Error("earning credit failed, reverting completion",
			zap.String("ride_id", rideID.String()),
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
		if _, revertErr := m.store.RevertCompleted(ctx, rideID); revertErr != nil {
			logger.Error("completion revert failed",
				zap.String("ride_id", rideID.String()),
				zap.Error(revertErr),
			)
		}
		return nil, common.NewError(common.ErrGatewayFailure, "failed to credit ride earning", err)
	}

	if err := m.drivers.Release(ctx, driverID); err != nil {
		logger.Warn("driver release failed after completion",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}

	m.publish(ctx, notify.EventRideCompleted, updated)
	return updated, nil
}

// Cancel cancels a ride from any non-terminal status. If a driver was
// attached their claim is released so they return to the dispatch pool.
func (m *LifecycleManager) Cancel(ctx context.Context, rideID uuid.UUID, by models.CancelParty, reason string) (*models.Ride, error) {
	m.locks.Lock(rideID)
	defer m.locks.Unlock(rideID)

	ride, err := m.guard(ctx, rideID, models.RideStatusCancelled)
	if err != nil {
		return nil, err
	}

	updated, err := m.store.MarkCancelled(ctx, rideID, ride.Status, models.Cancellation{
		By:     by,
		Reason: reason,
		At:     m.now(),
	})
	if err != nil {
		return nil, err
	}

	if ride.DriverID != nil {
		if err := m.drivers.Release(ctx, *ride.DriverID); err != nil {
			logger.Warn("driver release failed after cancellation",
				zap.String("driver_id", ride.DriverID.String()),
				zap.Error(err),
			)
		}
	}

	m.publish(ctx, notify.EventRideCancelled, updated)
	return updated, nil
}

// Rate records a 1-5 rating on a completed ride. byDriver=true rates the
// rider; byDriver=false rates the driver. Each side rates at most once.
func (m *LifecycleManager) Rate(ctx context.Context, rideID uuid.UUID, byDriver bool, rating int, feedback *string) (*models.Ride, error) {
	if rating < 1 || rating > 5 {
		return nil, common.NewValidationError("rating must be between 1 and 5")
	}

	m.locks.Lock(rideID)
	defer m.locks.Unlock(rideID)

	return m.store.SetRating(ctx, rideID, byDriver, rating, feedback)
}

// Get returns a ride snapshot.
func (m *LifecycleManager) Get(ctx context.Context, rideID uuid.UUID) (*models.Ride, error) {
	return m.store.Get(ctx, rideID)
}

// guard loads the ride and checks the requested transition against the
// status graph, distinguishing "illegal edge" from "not found".
func (m *LifecycleManager) guard(ctx context.Context, rideID uuid.UUID, to models.RideStatus) (*models.Ride, error) {
	ride, err := m.store.Get(ctx, rideID)
	if err != nil {
		return nil, err
	}
	if !CanTransition(ride.Status, to) {
		return nil, common.NewInvalidTransitionError(string(ride.Status), string(to))
	}
	return ride, nil
}

// recordHint forwards a transition location hint to tracking. Best-effort,
// the transition has already committed.
func (m *LifecycleManager) recordHint(ctx context.Context, rideID uuid.UUID, hint *models.Point) {
	if m.tracker == nil || hint == nil {
		return
	}
	if err := m.tracker.RecordUpdate(ctx, rideID, hint.Latitude, hint.Longitude, true); err != nil {
		logger.Warn("location hint not recorded",
			zap.String("ride_id", rideID.String()),
			zap.Error(err),
		)
	}
}

func (m *LifecycleManager) publish(ctx context.Context, eventType string, ride *models.Ride) {
	if m.notifier == nil {
		return
	}
	if err := m.notifier.Publish(ctx, notify.RideEvent(eventType, ride)); err != nil {
		logger.Warn("notification publish failed",
			zap.String("type", eventType),
			zap.String("ride_id", ride.ID.String()),
			zap.Error(err),
		)
	}
}
