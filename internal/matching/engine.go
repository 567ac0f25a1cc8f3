package matching

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/swiftride/dispatch/internal/geoindex"
	"github.com/swiftride/dispatch/pkg/logger"
	"github.com/swiftride/dispatch/pkg/models"
)

// Engine filters raw geo candidates against driver profiles and ranks the
// survivors with the configured strategy.
type Engine struct {
	profiles ProfileProvider
	strategy Strategy
}

// NewEngine creates a matching engine.
func NewEngine(profiles ProfileProvider, strategy Strategy) *Engine {
	return &Engine{profiles: profiles, strategy: strategy}
}

// Match returns eligible drivers for the ride, best-first. Drivers whose
// vehicle class does not serve the ride type are dropped. A profile lookup
// failure fails the match; ranking on stale ratings would be worse than
// retrying.
func (e *Engine) Match(ctx context.Context, rideType models.RideType, nearby []geoindex.Candidate) ([]Candidate, error) {
	if len(nearby) == 0 {
		return nil, nil
	}

	ids := make([]uuid.UUID, 0, len(nearby))
	for _, c := range nearby {
		ids = append(ids, c.DriverID)
	}

	profiles, err := e.profiles.Profiles(ctx, ids)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(nearby))
	for _, c := range nearby {
		profile, ok := profiles[c.DriverID]
		if !ok {
			logger.Debug("driver missing profile, skipping",
				zap.String("driver_id", c.DriverID.String()))
			continue
		}
		if !profile.Supports(rideType) {
			continue
		}
		candidates = append(candidates, Candidate{
			DriverID:   c.DriverID,
			DistanceKm: c.DistanceKm,
			Rating:     profile.Rating,
		})
	}

	return e.strategy.Rank(candidates), nil
}
