package models

import (
	"time"

	"github.com/google/uuid"
)

// LocationUpdate is one reported position during a ride. Append-only time
// series; ordering by timestamp is the only invariant.
type LocationUpdate struct {
	RideID    uuid.UUID `json:"ride_id" db:"ride_id"`
	Latitude  float64   `json:"latitude" db:"latitude"`
	Longitude float64   `json:"longitude" db:"longitude"`
	IsDriver  bool      `json:"is_driver" db:"is_driver"`
	At        time.Time `json:"at" db:"at"`
}
