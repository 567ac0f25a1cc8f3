package matching

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/pkg/models"
)

type mockProfileProvider struct {
	mock.Mock
}

func (m *mockProfileProvider) Profiles(ctx context.Context, driverIDs []uuid.UUID) (map[uuid.UUID]DriverProfile, error) {
	args := m.Called(ctx, driverIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[uuid.UUID]DriverProfile), args.Error(1)
}

func staticProfiles(profiles map[uuid.UUID]DriverProfile) *mockProfileProvider {
	m := &mockProfileProvider{}
	m.On("Profiles", mock.Anything, mock.Anything).Return(profiles, nil)
	return m
}

func TestHybridPrefersRatingOverProximity(t *testing.T) {
	near := uuid.New()
	far := uuid.New()

	strategy, err := NewStrategy("hybrid", 0.7, 0.3)
	require.NoError(t, err)

	// far: 0.7*1.0 + 0.3*0.0 = 0.70; near: 0.7*0.4 + 0.3*1.0 = 0.58.
	ranked := strategy.Rank([]Candidate{
		{DriverID: near, DistanceKm: 1.0, Rating: 2.0},
		{DriverID: far, DistanceKm: 4.0, Rating: 5.0},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, far, ranked[0].DriverID, "wide rating gap should outweigh proximity at 0.7/0.3")
}

func TestHybridNormalizesAcrossCandidateSet(t *testing.T) {
	topRated := uuid.New()
	nearer := uuid.New()

	strategy, err := NewStrategy("hybrid", 0.7, 0.3)
	require.NoError(t, err)

	// Min-max distance scaling makes the 1 km gap worth the full proximity
	// term: nearer scores 0.7*0.8 + 0.3*1.0 = 0.86 against 0.70.
	ranked := strategy.Rank([]Candidate{
		{DriverID: topRated, DistanceKm: 10.0, Rating: 5.0},
		{DriverID: nearer, DistanceKm: 9.0, Rating: 4.0},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, nearer, ranked[0].DriverID)
}

func TestHybridZeroRatings(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	strategy, err := NewStrategy("hybrid", 0.7, 0.3)
	require.NoError(t, err)

	// With no ratings the proximity term decides.
	ranked := strategy.Rank([]Candidate{
		{DriverID: a, DistanceKm: 3.0},
		{DriverID: b, DistanceKm: 1.0},
	})

	require.Len(t, ranked, 2)
	assert.Equal(t, b, ranked[0].DriverID)
}

func TestProximityStrategyOrdersByDistance(t *testing.T) {
	a := uuid.New()
	b := uuid.New()
	c := uuid.New()

	strategy, err := NewStrategy("proximity", 0, 0)
	require.NoError(t, err)

	ranked := strategy.Rank([]Candidate{
		{DriverID: a, DistanceKm: 5.0},
		{DriverID: b, DistanceKm: 0.5},
		{DriverID: c, DistanceKm: 2.0},
	})

	assert.Equal(t, []uuid.UUID{b, c, a}, []uuid.UUID{ranked[0].DriverID, ranked[1].DriverID, ranked[2].DriverID})
}

func TestRatingStrategyOrdersByRating(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	strategy, err := NewStrategy("rating", 0, 0)
	require.NoError(t, err)

	ranked := strategy.Rank([]Candidate{
		{DriverID: a, Rating: 4.2},
		{DriverID: b, Rating: 4.9},
	})

	assert.Equal(t, b, ranked[0].DriverID)
}

func TestTieBreakIsDeterministic(t *testing.T) {
	a := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	b := uuid.MustParse("00000000-0000-0000-0000-000000000002")

	strategy, err := NewStrategy("hybrid", 0.7, 0.3)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		ranked := strategy.Rank([]Candidate{
			{DriverID: b, DistanceKm: 2.0, Rating: 4.0},
			{DriverID: a, DistanceKm: 2.0, Rating: 4.0},
		})
		assert.Equal(t, a, ranked[0].DriverID, "smaller UUID wins ties")
	}
}

func TestUnknownStrategy(t *testing.T) {
	_, err := NewStrategy("teleport", 0, 0)
	require.Error(t, err)
}

func TestMatchFiltersByVehicleType(t *testing.T) {
	xlDriver := uuid.New()
	stdDriver := uuid.New()

	profiles := staticProfiles(map[uuid.UUID]DriverProfile{
		xlDriver:  {DriverID: xlDriver, Rating: 4.5, VehicleTypes: []models.RideType{models.RideTypeXL}},
		stdDriver: {DriverID: stdDriver, Rating: 4.8, VehicleTypes: []models.RideType{models.RideTypeStandard}},
	})

	strategy, err := NewStrategy("proximity", 0, 0)
	require.NoError(t, err)

	engine := NewEngine(profiles, strategy)
	ranked, err := engine.Match(context.Background(), models.RideTypeXL, []geoindex.Candidate{
		{DriverID: xlDriver, DistanceKm: 3.0},
		{DriverID: stdDriver, DistanceKm: 1.0},
	})
	require.NoError(t, err)

	require.Len(t, ranked, 1)
	assert.Equal(t, xlDriver, ranked[0].DriverID)
}

func TestMatchSkipsDriversWithoutProfiles(t *testing.T) {
	known := uuid.New()
	unknown := uuid.New()

	profiles := staticProfiles(map[uuid.UUID]DriverProfile{
		known: {DriverID: known, Rating: 4.0, VehicleTypes: []models.RideType{models.RideTypeStandard}},
	})

	strategy, err := NewStrategy("hybrid", 0.7, 0.3)
	require.NoError(t, err)

	engine := NewEngine(profiles, strategy)
	ranked, err := engine.Match(context.Background(), models.RideTypeStandard, []geoindex.Candidate{
		{DriverID: known, DistanceKm: 1.0},
		{DriverID: unknown, DistanceKm: 0.5},
	})
	require.NoError(t, err)

	require.Len(t, ranked, 1)
	assert.Equal(t, known, ranked[0].DriverID)
}

func TestMatchEmptyInput(t *testing.T) {
	engine := NewEngine(&mockProfileProvider{}, proximityStrategy{})

	ranked, err := engine.Match(context.Background(), models.RideTypeStandard, nil)
	require.NoError(t, err)
	assert.Empty(t, ranked)
}
