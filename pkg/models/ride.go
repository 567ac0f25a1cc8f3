package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// RideStatus represents the status of a ride
type RideStatus string

const (
	RideStatusRequested      RideStatus = "requested"
	RideStatusDriverAssigned RideStatus = "driver_assigned"
	RideStatusArrived        RideStatus = "arrived"
	RideStatusInProgress     RideStatus = "in_progress"
	RideStatusCompleted      RideStatus = "completed"
	RideStatusCancelled      RideStatus = "cancelled"
)

// Terminal reports whether the status permits no further transitions.
func (s RideStatus) Terminal() bool {
	return s == RideStatusCompleted || s == RideStatusCancelled
}

// RideType represents the service class requested by the rider
type RideType string

const (
	RideTypeStandard RideType = "standard"
	RideTypePremium  RideType = "premium"
	RideTypeXL       RideType = "xl"
	RideTypePet      RideType = "pet"
	RideTypeShared   RideType = "shared"
)

// ValidRideType reports whether t is a known ride type.
func ValidRideType(t RideType) bool {
	switch t {
	case RideTypeStandard, RideTypePremium, RideTypeXL, RideTypePet, RideTypeShared:
		return true
	}
	return false
}

// Point is a WGS84 coordinate pair
type Point struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Valid reports whether the point lies within coordinate bounds.
func (p Point) Valid() bool {
	return p.Latitude >= -90 && p.Latitude <= 90 && p.Longitude >= -180 && p.Longitude <= 180
}

// FareBreakdown itemizes a fare. All monetary components are decimals,
// rounded to 2 places at calculation output.
type FareBreakdown struct {
	BaseFare        decimal.Decimal `json:"base_fare"`
	DistanceFare    decimal.Decimal `json:"distance_fare"`
	TimeFare        decimal.Decimal `json:"time_fare"`
	SurgeMultiplier decimal.Decimal `json:"surge_multiplier"`
	Total           decimal.Decimal `json:"total"`
	DistanceKm      float64         `json:"distance_km"`
	DurationMin     float64         `json:"duration_min"`
}

// CancelParty identifies who cancelled a ride
type CancelParty string

const (
	CancelledByRider  CancelParty = "rider"
	CancelledByDriver CancelParty = "driver"
	CancelledBySystem CancelParty = "system"
)

// Cancellation records why and by whom a ride was cancelled
type Cancellation struct {
	By     CancelParty `json:"by"`
	Reason string      `json:"reason"`
	At     time.Time   `json:"at"`
}

// Ride is the central aggregate: one rider-requested trip tracked through
// a fixed set of states. Mutated only via state-machine-approved transitions.
type Ride struct {
	ID       uuid.UUID  `json:"id" db:"id"`
	RiderID  uuid.UUID  `json:"rider_id" db:"rider_id"`
	DriverID *uuid.UUID `json:"driver_id,omitempty" db:"driver_id"`
	Status   RideStatus `json:"status" db:"status"`
	Type     RideType   `json:"ride_type" db:"ride_type"`

	Pickup  Point  `json:"pickup"`
	Dropoff *Point `json:"dropoff,omitempty"`

	RequestedAt time.Time  `json:"requested_at" db:"requested_at"`
	AssignedAt  *time.Time `json:"assigned_at,omitempty" db:"assigned_at"`
	ArrivedAt   *time.Time `json:"arrived_at,omitempty" db:"arrived_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
	CancelledAt *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at"`

	SurgeMultiplier decimal.Decimal `json:"surge_multiplier" db:"surge_multiplier"`
	Estimate        *FareBreakdown  `json:"estimate,omitempty"`
	Fare            *FareBreakdown  `json:"fare,omitempty"`

	EstimatedDistanceKm  float64  `json:"estimated_distance_km" db:"estimated_distance_km"`
	EstimatedDurationMin float64  `json:"estimated_duration_min" db:"estimated_duration_min"`
	ActualDistanceKm     *float64 `json:"actual_distance_km,omitempty" db:"actual_distance_km"`
	ActualDurationMin    *float64 `json:"actual_duration_min,omitempty" db:"actual_duration_min"`

	RiderRating  *int    `json:"rider_rating,omitempty" db:"rider_rating"`
	DriverRating *int    `json:"driver_rating,omitempty" db:"driver_rating"`
	Feedback     *string `json:"feedback,omitempty" db:"feedback"`

	Cancellation *Cancellation `json:"cancellation,omitempty"`
}

// Clone returns a deep copy of the ride so stores can hand out snapshots.
func (r *Ride) Clone() *Ride {
	out := *r
	if r.DriverID != nil {
		v := *r.DriverID
		out.DriverID = &v
	}
	if r.Dropoff != nil {
		v := *r.Dropoff
		out.Dropoff = &v
	}
	out.AssignedAt = cloneTime(r.AssignedAt)
	out.ArrivedAt = cloneTime(r.ArrivedAt)
	out.StartedAt = cloneTime(r.StartedAt)
	out.CompletedAt = cloneTime(r.CompletedAt)
	out.CancelledAt = cloneTime(r.CancelledAt)
	if r.Estimate != nil {
		v := *r.Estimate
		out.Estimate = &v
	}
	if r.Fare != nil {
		v := *r.Fare
		out.Fare = &v
	}
	if r.ActualDistanceKm != nil {
		v := *r.ActualDistanceKm
		out.ActualDistanceKm = &v
	}
	if r.ActualDurationMin != nil {
		v := *r.ActualDurationMin
		out.ActualDurationMin = &v
	}
	if r.RiderRating != nil {
		v := *r.RiderRating
		out.RiderRating = &v
	}
	if r.DriverRating != nil {
		v := *r.DriverRating
		out.DriverRating = &v
	}
	if r.Feedback != nil {
		v := *r.Feedback
		out.Feedback = &v
	}
	if r.Cancellation != nil {
		v := *r.Cancellation
		out.Cancellation = &v
	}
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
