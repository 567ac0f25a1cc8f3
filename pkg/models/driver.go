package models

import (
	"time"

	"github.com/google/uuid"
)

// DriverAvailability tracks a driver's last known position and whether the
// driver can receive offers. Available is false whenever CurrentRideID is set.
type DriverAvailability struct {
	DriverID      uuid.UUID  `json:"driver_id" db:"driver_id"`
	Position      *Point     `json:"position,omitempty"`
	Available     bool       `json:"available" db:"available"`
	CurrentRideID *uuid.UUID `json:"current_ride_id,omitempty" db:"current_ride_id"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`
}

// AttemptOutcome classifies a dispatch attempt against one driver
type AttemptOutcome string

const (
	AttemptSent     AttemptOutcome = "sent"
	AttemptRejected AttemptOutcome = "rejected"
	AttemptTimeout  AttemptOutcome = "timeout"
	AttemptAccepted AttemptOutcome = "accepted"
)

// RequestAttempt is one row of the append-only dispatch attempt log,
// one per (ride, driver) offer outcome.
type RequestAttempt struct {
	RideID   uuid.UUID      `json:"ride_id" db:"ride_id"`
	DriverID uuid.UUID      `json:"driver_id" db:"driver_id"`
	Outcome  AttemptOutcome `json:"outcome" db:"outcome"`
	At       time.Time      `json:"at" db:"at"`
}

// Declined reports whether the outcome excludes the driver from
// re-consideration for the same ride within the cooldown window.
func (o AttemptOutcome) Declined() bool {
	return o == AttemptRejected || o == AttemptTimeout
}
