// Package pricing maps trip geometry, ride type, and surge into a fare
// breakdown. All monetary arithmetic is decimal; rounding to 2 places
// happens only at output.
package pricing

import (
	"math"

	"github.com/shopspring/decimal"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// averageSpeedKmh is assumed when no measured duration is available.
const averageSpeedKmh = 30.0

// RateCard holds the published pricing tuple for one ride type.
type RateCard struct {
	BaseFare    decimal.Decimal
	PerKm       decimal.Decimal
	PerMinute   decimal.Decimal
	MinimumFare decimal.Decimal
}

// DefaultRateCards returns the published per-ride-type pricing.
func DefaultRateCards() map[models.RideType]RateCard {
	return map[models.RideType]RateCard{
		models.RideTypeStandard: {
			BaseFare:    decimal.NewFromFloat(2.50),
			PerKm:       decimal.NewFromFloat(1.50),
			PerMinute:   decimal.NewFromFloat(0.25),
			MinimumFare: decimal.NewFromFloat(5.00),
		},
		models.RideTypePremium: {
			BaseFare:    decimal.NewFromFloat(5.00),
			PerKm:       decimal.NewFromFloat(2.50),
			PerMinute:   decimal.NewFromFloat(0.40),
			MinimumFare: decimal.NewFromFloat(10.00),
		},
		models.RideTypeXL: {
			BaseFare:    decimal.NewFromFloat(4.00),
			PerKm:       decimal.NewFromFloat(2.00),
			PerMinute:   decimal.NewFromFloat(0.30),
			MinimumFare: decimal.NewFromFloat(8.00),
		},
		models.RideTypePet: {
			BaseFare:    decimal.NewFromFloat(3.00),
			PerKm:       decimal.NewFromFloat(1.75),
			PerMinute:   decimal.NewFromFloat(0.30),
			MinimumFare: decimal.NewFromFloat(7.00),
		},
		models.RideTypeShared: {
			BaseFare:    decimal.NewFromFloat(1.50),
			PerKm:       decimal.NewFromFloat(1.00),
			PerMinute:   decimal.NewFromFloat(0.15),
			MinimumFare: decimal.NewFromFloat(3.50),
		},
	}
}

// Engine computes fare estimates and final fares from rate cards.
type Engine struct {
	cards map[models.RideType]RateCard
}

// NewEngine creates a pricing engine. Pass nil to use the default rate cards.
func NewEngine(cards map[models.RideType]RateCard) *Engine {
	if cards == nil {
		cards = DefaultRateCards()
	}
	return &Engine{cards: cards}
}

// MinimumFare returns the minimum fare for the ride type.
func (e *Engine) MinimumFare(rideType models.RideType) (decimal.Decimal, error) {
	card, ok := e.cards[rideType]
	if !ok {
		return decimal.Zero, common.NewValidationError("unknown ride type: " + string(rideType))
	}
	return card.MinimumFare, nil
}

// Estimate computes a fare estimate for a trip. A nil dropoff yields zero
// distance and time components (the minimum fare still applies). Distance is
// great-circle; duration assumes the configured average speed.
func (e *Engine) Estimate(pickup models.Point, dropoff *models.Point, rideType models.RideType, surge decimal.Decimal) (*models.FareBreakdown, error) {
	card, ok := e.cards[rideType]
	if !ok {
		return nil, common.NewValidationError("unknown ride type: " + string(rideType))
	}
	if !pickup.Valid() {
		return nil, common.NewValidationError("pickup coordinates out of range")
	}
	if dropoff != nil && !dropoff.Valid() {
		return nil, common.NewValidationError("dropoff coordinates out of range")
	}
	if surge.LessThan(decimal.NewFromInt(1)) {
		return nil, common.NewValidationError("surge multiplier must be >= 1.0")
	}

	var distanceKm, durationMin float64
	if dropoff != nil {
		distanceKm = haversineKm(pickup.Latitude, pickup.Longitude, dropoff.Latitude, dropoff.Longitude)
		durationMin = distanceKm / averageSpeedKmh * 60
	}

	return e.compute(card, distanceKm, durationMin, surge), nil
}

// Finalize computes the final fare from the measured trip metrics, keeping
// the surge multiplier locked in at request time.
func (e *Engine) Finalize(ride *models.Ride, actualDistanceKm, actualDurationMin float64) (*models.FareBreakdown, error) {
	card, ok := e.cards[ride.Type]
	if !ok {
		return nil, common.NewValidationError("unknown ride type: " + string(ride.Type))
	}
	if actualDistanceKm < 0 || actualDurationMin < 0 {
		return nil, common.NewValidationError("actual distance and duration must be non-negative")
	}

	surge := ride.SurgeMultiplier
	if surge.IsZero() {
		surge = decimal.NewFromInt(1)
	}

	return e.compute(card, actualDistanceKm, actualDurationMin, surge), nil
}

func (e *Engine) compute(card RateCard, distanceKm, durationMin float64, surge decimal.Decimal) *models.FareBreakdown {
	distanceFare := card.PerKm.Mul(decimal.NewFromFloat(distanceKm))
	timeFare := card.PerMinute.Mul(decimal.NewFromFloat(durationMin))

	total := card.BaseFare.Add(distanceFare).Add(timeFare).Mul(surge)
	if total.LessThan(card.MinimumFare) {
		total = card.MinimumFare
	}

	return &models.FareBreakdown{
		BaseFare:        card.BaseFare.Round(2),
		DistanceFare:    distanceFare.Round(2),
		TimeFare:        timeFare.Round(2),
		SurgeMultiplier: surge,
		Total:           total.Round(2),
		DistanceKm:      distanceKm,
		DurationMin:     durationMin,
	}
}

// haversineKm computes the great-circle distance between two coordinates
// (Earth radius 6371 km).
func haversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadius = 6371.0

	dLat := (lat2 - lat1) * math.Pi / 180.0
	dLon := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*math.Pi/180.0)*math.Cos(lat2*math.Pi/180.0)*
			math.Sin(dLon/2)*math.Sin(dLon/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return earthRadius * c
}
