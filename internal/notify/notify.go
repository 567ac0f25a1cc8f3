// Package notify delivers ride lifecycle events to interested parties. The
// core treats delivery as best-effort; a failed notification never fails the
// state change that produced it.
package notify

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/models"
)

// Event types published on the notification sink.
const (
	EventRideRequested   = "ride.requested"
	EventOfferSent       = "ride.offer_sent"
	EventDriverAssigned  = "ride.driver_assigned"
	EventDriverArrived   = "ride.driver_arrived"
	EventRideStarted     = "ride.started"
	EventRideCompleted   = "ride.completed"
	EventRideCancelled   = "ride.cancelled"
	EventPayoutCompleted = "payout.completed"
	EventPayoutFailed    = "payout.failed"
	EventPayoutCancelled = "payout.cancelled"
)

// Event is one notification. DriverID is set for events targeted at a
// specific driver, such as a ride offer.
type Event struct {
	Type     string                 `json:"type"`
	RideID   uuid.UUID              `json:"ride_id,omitempty"`
	RiderID  uuid.UUID              `json:"rider_id,omitempty"`
	DriverID *uuid.UUID             `json:"driver_id,omitempty"`
	At       time.Time              `json:"at"`
	Payload  map[string]interface{} `json:"payload,omitempty"`
}

// Notifier pushes events to the notification sink.
type Notifier interface {
	Publish(ctx context.Context, event Event) error
}

// RideEvent builds an event from a ride snapshot.
func RideEvent(eventType string, ride *models.Ride) Event {
	return Event{
		Type:     eventType,
		RideID:   ride.ID,
		RiderID:  ride.RiderID,
		DriverID: ride.DriverID,
		At:       time.Now().UTC(),
	}
}

// PayoutEvent builds an event from a payout outcome.
func PayoutEvent(eventType string, payout *models.Payout) Event {
	driverID := payout.DriverID
	return Event{
		Type:     eventType,
		DriverID: &driverID,
		At:       time.Now().UTC(),
		Payload: map[string]interface{}{
			"payout_id": payout.ID.String(),
			"amount":    payout.Amount.String(),
			"status":    string(payout.Status),
		},
	}
}
