package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

func one() decimal.Decimal { return decimal.NewFromInt(1) }

func TestEstimateStandardShortTrip(t *testing.T) {
	engine := NewEngine(nil)

	// 0.09 degrees of longitude on the equator is very close to 10 km,
	// which at 30 km/h is a 20 minute trip.
	pickup := models.Point{Latitude: 0, Longitude: 0}
	dropoff := &models.Point{Latitude: 0, Longitude: 0.09}

	fare, err := engine.Estimate(pickup, dropoff, models.RideTypeStandard, one())
	require.NoError(t, err)

	assert.InDelta(t, 10.0, fare.DistanceKm, 0.05)
	assert.InDelta(t, 20.0, fare.DurationMin, 0.1)

	assert.True(t, fare.BaseFare.Equal(decimal.NewFromFloat(2.50)), "base fare %s", fare.BaseFare)

	distanceFare, _ := fare.DistanceFare.Float64()
	assert.InDelta(t, 15.00, distanceFare, 0.05)

	timeFare, _ := fare.TimeFare.Float64()
	assert.InDelta(t, 5.00, timeFare, 0.05)

	total, _ := fare.Total.Float64()
	assert.InDelta(t, 22.50, total, 0.10)
}

func TestEstimateMinimumFareFloor(t *testing.T) {
	engine := NewEngine(nil)

	pickup := models.Point{Latitude: 10.0, Longitude: 10.0}
	dropoff := &models.Point{Latitude: 10.0, Longitude: 10.001}

	fare, err := engine.Estimate(pickup, dropoff, models.RideTypeStandard, one())
	require.NoError(t, err)

	assert.True(t, fare.Total.Equal(decimal.NewFromFloat(5.00)), "total %s should hit the minimum", fare.Total)
}

func TestEstimateNilDropoffUsesMinimum(t *testing.T) {
	engine := NewEngine(nil)

	fare, err := engine.Estimate(models.Point{Latitude: 1, Longitude: 1}, nil, models.RideTypePremium, one())
	require.NoError(t, err)

	assert.Zero(t, fare.DistanceKm)
	assert.Zero(t, fare.DurationMin)
	assert.True(t, fare.Total.Equal(decimal.NewFromFloat(10.00)))
}

func TestEstimateSurgeScalesBeforeFloor(t *testing.T) {
	engine := NewEngine(nil)

	pickup := models.Point{Latitude: 0, Longitude: 0}
	dropoff := &models.Point{Latitude: 0, Longitude: 0.09}

	base, err := engine.Estimate(pickup, dropoff, models.RideTypeStandard, one())
	require.NoError(t, err)

	surged, err := engine.Estimate(pickup, dropoff, models.RideTypeStandard, decimal.NewFromFloat(1.5))
	require.NoError(t, err)

	expected := base.Total.Mul(decimal.NewFromFloat(1.5)).Round(2)
	diff := surged.Total.Sub(expected).Abs()
	assert.True(t, diff.LessThanOrEqual(decimal.NewFromFloat(0.02)), "surged %s expected %s", surged.Total, expected)
}

func TestEstimateRejectsBadInput(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.Estimate(models.Point{Latitude: 91, Longitude: 0}, nil, models.RideTypeStandard, one())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = engine.Estimate(models.Point{}, nil, models.RideType("rocket"), one())
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)

	_, err = engine.Estimate(models.Point{}, nil, models.RideTypeStandard, decimal.NewFromFloat(0.5))
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestFinalizeUsesMeasuredMetricsAndLockedSurge(t *testing.T) {
	engine := NewEngine(nil)

	ride := &models.Ride{
		Type:            models.RideTypeXL,
		SurgeMultiplier: decimal.NewFromFloat(2.0),
	}

	fare, err := engine.Finalize(ride, 12.0, 25.0)
	require.NoError(t, err)

	// (4.00 + 12*2.00 + 25*0.30) * 2.0 = 71.00
	assert.True(t, fare.Total.Equal(decimal.NewFromFloat(71.00)), "total %s", fare.Total)
	assert.Equal(t, 12.0, fare.DistanceKm)
	assert.Equal(t, 25.0, fare.DurationMin)
}

func TestFinalizeZeroSurgeDefaultsToOne(t *testing.T) {
	engine := NewEngine(nil)

	ride := &models.Ride{Type: models.RideTypeShared}

	fare, err := engine.Finalize(ride, 4.0, 10.0)
	require.NoError(t, err)

	// 1.50 + 4*1.00 + 10*0.15 = 7.00
	assert.True(t, fare.Total.Equal(decimal.NewFromFloat(7.00)), "total %s", fare.Total)
	assert.True(t, fare.SurgeMultiplier.Equal(one()))
}

func TestFinalizeRejectsNegativeMetrics(t *testing.T) {
	engine := NewEngine(nil)

	_, err := engine.Finalize(&models.Ride{Type: models.RideTypeStandard}, -1, 5)
	require.Error(t, err)
	assert.ErrorIs(t, err, common.ErrValidation)
}

func TestHaversineKnownDistance(t *testing.T) {
	// Paris to London is roughly 344 km.
	d := haversineKm(48.8566, 2.3522, 51.5074, -0.1278)
	assert.InDelta(t, 344.0, d, 5.0)
}
