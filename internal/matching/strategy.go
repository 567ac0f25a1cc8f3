// Package matching ranks candidate drivers for a ride request.
package matching

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// Candidate is a driver eligible for a ride, with the inputs ranking needs.
type Candidate struct {
	DriverID   uuid.UUID
	DistanceKm float64
	Rating     float64
}

// DriverProfile carries the attributes used to filter candidates per ride.
type DriverProfile struct {
	DriverID     uuid.UUID
	Rating       float64
	VehicleTypes []models.RideType
}

// Supports reports whether the driver's vehicle serves the ride type.
func (p DriverProfile) Supports(t models.RideType) bool {
	for _, v := range p.VehicleTypes {
		if v == t {
			return true
		}
	}
	return false
}

// ProfileProvider resolves driver profiles, typically from the identity
// service.
type ProfileProvider interface {
	Profiles(ctx context.Context, driverIDs []uuid.UUID) (map[uuid.UUID]DriverProfile, error)
}

// Strategy orders candidates best-first.
type Strategy interface {
	Name() string
	Rank(candidates []Candidate) []Candidate
}

// NewStrategy returns the strategy registered under name.
func NewStrategy(name string, ratingWeight, proximityWeight float64) (Strategy, error) {
	switch name {
	case "proximity":
		return proximityStrategy{}, nil
	case "rating":
		return ratingStrategy{}, nil
	case "hybrid":
		return hybridStrategy{ratingWeight: ratingWeight, proximityWeight: proximityWeight}, nil
	}
	return nil, common.NewValidationError("unknown matching strategy: " + name)
}

// proximityStrategy orders by distance, nearest first.
type proximityStrategy struct{}

func (proximityStrategy) Name() string { return "proximity" }

func (proximityStrategy) Rank(candidates []Candidate) []Candidate {
	out := clone(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DistanceKm != out[j].DistanceKm {
			return out[i].DistanceKm < out[j].DistanceKm
		}
		return tieBreak(out[i], out[j])
	})
	return out
}

// ratingStrategy orders by driver rating, highest first.
type ratingStrategy struct{}

func (ratingStrategy) Name() string { return "rating" }

func (ratingStrategy) Rank(candidates []Candidate) []Candidate {
	out := clone(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Rating != out[j].Rating {
			return out[i].Rating > out[j].Rating
		}
		return tieBreak(out[i], out[j])
	})
	return out
}

// hybridStrategy blends rating and proximity, each normalized onto [0,1]
// across the candidate set. With the default weights the rating term
// dominates unless the rating spread is small.
type hybridStrategy struct {
	ratingWeight    float64
	proximityWeight float64
}

func (hybridStrategy) Name() string { return "hybrid" }

func (s hybridStrategy) Rank(candidates []Candidate) []Candidate {
	if len(candidates) == 0 {
		return nil
	}

	// Both scales are normalized across the candidate set: ratings against
	// the best rating present, distances min-max onto [0,1].
	maxRating := 0.0
	minDistance := candidates[0].DistanceKm
	maxDistance := candidates[0].DistanceKm
	for _, c := range candidates {
		if c.Rating > maxRating {
			maxRating = c.Rating
		}
		if c.DistanceKm < minDistance {
			minDistance = c.DistanceKm
		}
		if c.DistanceKm > maxDistance {
			maxDistance = c.DistanceKm
		}
	}

	scores := make(map[uuid.UUID]float64, len(candidates))
	for _, c := range candidates {
		ratingScore := 0.0
		if maxRating > 0 {
			ratingScore = c.Rating / maxRating
		}
		proximityScore := 1.0
		if maxDistance > minDistance {
			proximityScore = 1.0 - (c.DistanceKm-minDistance)/(maxDistance-minDistance)
		}
		scores[c.DriverID] = s.ratingWeight*ratingScore + s.proximityWeight*proximityScore
	}

	out := clone(candidates)
	sort.SliceStable(out, func(i, j int) bool {
		si, sj := scores[out[i].DriverID], scores[out[j].DriverID]
		if si != sj {
			return si > sj
		}
		return tieBreak(out[i], out[j])
	})
	return out
}

// tieBreak makes ordering deterministic when scores are equal.
func tieBreak(a, b Candidate) bool {
	return a.DriverID.String() < b.DriverID.String()
}

func clone(in []Candidate) []Candidate {
	out := make([]Candidate, len(in))
	copy(out, in)
	return out
}
