// Package dispatch runs the driver assignment loop: find candidates near the
// pickup, offer the ride to the best one, and walk down the ranking as
// drivers decline, widening the search radius before giving up.
package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/internal/matching"
	"github.com/swiftride/dispatch/internal/notify"
	"github.com/swiftride/dispatch/internal/pricing"
	"github.com/swiftride/dispatch/internal/rides"
	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/config"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/metrics"
	"github.com/swiftride/dispatch/pkg/models"
)

// SurgeCalculator supplies the surge multiplier for a pickup area at
// request time. The multiplier is locked into the ride.
type SurgeCalculator interface {
	SurgeAt(ctx context.Context, pickup models.Point) decimal.Decimal
}

// FlatSurge always returns 1.0.
type FlatSurge struct{}

func (FlatSurge) SurgeAt(ctx context.Context, pickup models.Point) decimal.Decimal {
	return decimal.NewFromInt(1)
}

// Orchestrator owns the ride request flow from estimate to assignment.
type Orchestrator struct {
	rides    rides.Store
	pricing  *pricing.Engine
	matching *matching.Engine
	drivers  geoindex.Store
	attempts AttemptStore
	notifier notify.Notifier
	surge    SurgeCalculator
	cfg      config.DispatchConfig

	offers *offerRegistry
	now    func() time.Time
}

// NewOrchestrator wires the dispatch flow. surge may be nil for flat 1.0
// pricing; notifier may be nil to skip notifications.
func NewOrchestrator(rideStore rides.Store, pricingEngine *pricing.Engine, matchingEngine *matching.Engine, drivers geoindex.Store, attempts AttemptStore, notifier notify.Notifier, surge SurgeCalculator, cfg config.DispatchConfig) *Orchestrator {
	if surge == nil {
		surge = FlatSurge{}
	}
	return &Orchestrator{
		rides:    rideStore,
		pricing:  pricingEngine,
		matching: matchingEngine,
		drivers:  drivers,
		attempts: attempts,
		notifier: notifier,
		surge:    surge,
		cfg:      cfg,
		offers:   newOfferRegistry(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// RequestRide creates a ride, estimates its fare, and runs the assignment
// loop synchronously. It returns the ride with a driver assigned, or a
// cancelled ride wrapped in ErrNoDriversAvailable when every candidate
// declined or none were found.
func (o *Orchestrator) RequestRide(ctx context.Context, riderID uuid.UUID, pickup models.Point, dropoff *models.Point, rideType models.RideType) (*models.Ride, error) {
	metrics.RideRequests.Inc()

	if riderID == uuid.Nil {
		return nil, common.NewValidationError("rider id is required")
	}
	if !models.ValidRideType(rideType) {
		return nil, common.NewValidationError("unknown ride type: " + string(rideType))
	}

	surge := o.surge.SurgeAt(ctx, pickup)
	estimate, err := o.pricing.Estimate(pickup, dropoff, rideType, surge)
	if err != nil {
		return nil, err
	}

	ride := &models.Ride{
		ID:                   uuid.New(),
		RiderID:              riderID,
		Status:               models.RideStatusRequested,
		Type:                 rideType,
		Pickup:               pickup,
		Dropoff:              dropoff,
		RequestedAt:          o.now(),
		SurgeMultiplier:      surge,
		Estimate:             estimate,
		EstimatedDistanceKm:  estimate.DistanceKm,
		EstimatedDurationMin: estimate.DurationMin,
	}
	if err := o.rides.Create(ctx, ride); err != nil {
		return nil, err
	}
	o.publish(ctx, notify.RideEvent(notify.EventRideRequested, ride))

	assigned, err := o.assign(ctx, ride)
	if err != nil {
		if errors.Is(err, common.ErrNoDriversAvailable) {
			metrics.DispatchOutcomes.WithLabelValues("no_drivers").Inc()
			cancelled, cancelErr := o.rides.MarkCancelled(ctx, ride.ID, models.RideStatusRequested, models.Cancellation{
				By:     models.CancelledBySystem,
				Reason: "no drivers available",
				At:     o.now(),
			})
			if cancelErr != nil {
				logger.Error("failed to cancel unserved ride",
					zap.String("ride_id", ride.ID.String()),
					zap.Error(cancelErr),
				)
			} else {
				o.publish(ctx, notify.RideEvent(notify.EventRideCancelled, cancelled))
			}
			return cancelled, err
		}
		metrics.DispatchOutcomes.WithLabelValues("error").Inc()
		return nil, err
	}

	metrics.DispatchOutcomes.WithLabelValues("assigned").Inc()
	return assigned, nil
}

// Accept settles the ride's outstanding offer as accepted. A late accept,
// after the offer timed out or went to another driver, gets a conflict.
func (o *Orchestrator) Accept(ctx context.Context, rideID, driverID uuid.UUID) error {
	return o.offers.answer(rideID, driverID, models.AttemptAccepted)
}

// Reject settles the ride's outstanding offer as rejected, putting the
// driver into the decline cooldown.
func (o *Orchestrator) Reject(ctx context.Context, rideID, driverID uuid.UUID) error {
	return o.offers.answer(rideID, driverID, models.AttemptRejected)
}

// Attempts returns the ride's dispatch attempt log.
func (o *Orchestrator) Attempts(ctx context.Context, rideID uuid.UUID) ([]models.RequestAttempt, error) {
	return o.attempts.ByRide(ctx, rideID)
}

// assign walks candidates at the initial radius, then once more at the max
// radius, offering the ride to one driver at a time.
func (o *Orchestrator) assign(ctx context.Context, ride *models.Ride) (*models.Ride, error) {
	tried := make(map[uuid.UUID]struct{})

	radii := []float64{o.cfg.InitialRadiusKm}
	if o.cfg.MaxRadiusKm > o.cfg.InitialRadiusKm {
		radii = append(radii, o.cfg.MaxRadiusKm)
	}

	for _, radius := range radii {
		assigned, err := o.offerRound(ctx, ride, radius, tried)
		if err != nil {
			return nil, err
		}
		if assigned != nil {
			return assigned, nil
		}
	}

	return nil, common.NewNoDriversAvailableError("no driver accepted ride " + ride.ID.String())
}

// offerRound queries one radius and offers the ride down the ranked list.
// Returns (nil, nil) when the round exhausts its candidates.
func (o *Orchestrator) offerRound(ctx context.Context, ride *models.Ride, radiusKm float64, tried map[uuid.UUID]struct{}) (*models.Ride, error) {
	nearby, err := o.drivers.Nearby(ctx, ride.Pickup.Latitude, ride.Pickup.Longitude, radiusKm, o.cfg.MaxCandidates)
	if err != nil {
		return nil, err
	}

	cooldown, err := o.attempts.DeclinedSince(ctx, ride.ID, o.now().Add(-o.cfg.CooldownWindow))
	if err != nil {
		return nil, err
	}

	eligible := nearby[:0]
	for _, c := range nearby {
		if _, ok := tried[c.DriverID]; ok {
			continue
		}
		if _, ok := cooldown[c.DriverID]; ok {
			continue
		}
		eligible = append(eligible, c)
	}

	ranked, err := o.matching.Match(ctx, ride.Type, eligible)
	if err != nil {
		return nil, err
	}

	for _, candidate := range ranked {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		tried[candidate.DriverID] = struct{}{}

		assigned, err := o.offerTo(ctx, ride, candidate.DriverID)
		if err != nil {
			return nil, err
		}
		if assigned != nil {
			return assigned, nil
		}
	}
	return nil, nil
}

// offerTo claims the driver, assigns the ride, and waits for the answer.
// Returns (nil, nil) when the driver declined or timed out and the loop
// should move on.
func (o *Orchestrator) offerTo(ctx context.Context, ride *models.Ride, driverID uuid.UUID) (*models.Ride, error) {
	// The claim is the concurrency gate: two rides cannot hold the same
	// driver, so losing it just means someone else got there first.
	if err := o.drivers.Claim(ctx, driverID, ride.ID); err != nil {
		if errors.Is(err, common.ErrConcurrencyConflict) || errors.Is(err, common.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}

	assigned, err := o.rides.AssignDriver(ctx, ride.ID, driverID, o.now())
	if err != nil {
		o.releaseDriver(ctx, driverID)
		return nil, err
	}

	off := o.offers.open(ride.ID, driverID)
	defer o.offers.close(ride.ID)

	o.record(ctx, ride.ID, driverID, models.AttemptSent)
	o.publish(ctx, notify.Event{
		Type:     notify.EventOfferSent,
		RideID:   ride.ID,
		RiderID:  ride.RiderID,
		DriverID: &driverID,
		At:       o.now(),
	})

	timer := time.NewTimer(o.cfg.AcceptanceWindow)
	defer timer.Stop()

	var outcome models.AttemptOutcome
	select {
	case outcome = <-off.done:
	case <-timer.C:
		if off.resolve(models.AttemptTimeout) {
			outcome = models.AttemptTimeout
		} else {
			// The answer raced the timer and won.
			outcome = <-off.done
		}
	case <-ctx.Done():
		if off.resolve(models.AttemptTimeout) {
			o.record(context.WithoutCancel(ctx), ride.ID, driverID, models.AttemptTimeout)
			o.retract(context.WithoutCancel(ctx), ride.ID, driverID)
		}
		return nil, ctx.Err()
	}

	o.record(ctx, ride.ID, driverID, outcome)

	if outcome == models.AttemptAccepted {
		metrics.OfferResults.WithLabelValues("accepted").Inc()
		o.publish(ctx, notify.RideEvent(notify.EventDriverAssigned, assigned))
		logger.Info("ride assigned",
			zap.String("ride_id", ride.ID.String()),
			zap.String("driver_id", driverID.String()),
		)
		return assigned, nil
	}

	metrics.OfferResults.WithLabelValues(string(outcome)).Inc()
	o.retract(ctx, ride.ID, driverID)
	return nil, nil
}

// retract undoes a provisional assignment after a decline or timeout.
func (o *Orchestrator) retract(ctx context.Context, rideID, driverID uuid.UUID) {
	if _, err := o.rides.Unassign(ctx, rideID, driverID); err != nil {
		logger.Error("failed to retract assignment",
			zap.String("ride_id", rideID.String()),
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}
	o.releaseDriver(ctx, driverID)
}

func (o *Orchestrator) releaseDriver(ctx context.Context, driverID uuid.UUID) {
	if err := o.drivers.Release(ctx, driverID); err != nil {
		logger.Warn("failed to release driver claim",
			zap.String("driver_id", driverID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) record(ctx context.Context, rideID, driverID uuid.UUID, outcome models.AttemptOutcome) {
	err := o.attempts.Record(ctx, models.RequestAttempt{
		RideID:   rideID,
		DriverID: driverID,
		Outcome:  outcome,
		At:       o.now(),
	})
	if err != nil {
		logger.Warn("failed to record dispatch attempt",
			zap.String("ride_id", rideID.String()),
			zap.Error(err),
		)
	}
}

func (o *Orchestrator) publish(ctx context.Context, event notify.Event) {
	if o.notifier == nil {
		return
	}
	if err := o.notifier.Publish(ctx, event); err != nil {
		logger.Warn("notification publish failed",
			zap.String("type", event.Type),
			zap.Error(err),
		)
	}
}
