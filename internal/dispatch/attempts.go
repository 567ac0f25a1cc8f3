package dispatch

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/swiftride/dispatch/pkg/models"
)

// AttemptStore is the append-only log of dispatch attempts. It answers two
// questions: which drivers were already tried for a ride, and which drivers
// declined an offer for that ride recently enough to be in cooldown.
type AttemptStore interface {
	Record(ctx context.Context, attempt models.RequestAttempt) error
	// ByRide returns a ride's attempts, oldest first.
	ByRide(ctx context.Context, rideID uuid.UUID) ([]models.RequestAttempt, error)
	// DeclinedSince returns drivers with a rejected or timed-out attempt for
	// the ride at or after the cutoff. Declines on other rides do not count.
	DeclinedSince(ctx context.Context, rideID uuid.UUID, cutoff time.Time) (map[uuid.UUID]struct{}, error)
}

// MemoryAttemptStore keeps the attempt log in memory.
type MemoryAttemptStore struct {
	mu     sync.RWMutex
	byRide map[uuid.UUID][]models.RequestAttempt
}

// NewMemoryAttemptStore creates an empty in-memory attempt log.
func NewMemoryAttemptStore() *MemoryAttemptStore {
	return &MemoryAttemptStore{byRide: make(map[uuid.UUID][]models.RequestAttempt)}
}

func (s *MemoryAttemptStore) Record(ctx context.Context, attempt models.RequestAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byRide[attempt.RideID] = append(s.byRide[attempt.RideID], attempt)
	return nil
}

func (s *MemoryAttemptStore) ByRide(ctx context.Context, rideID uuid.UUID) ([]models.RequestAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	attempts := s.byRide[rideID]
	out := make([]models.RequestAttempt, len(attempts))
	copy(out, attempts)
	return out, nil
}

func (s *MemoryAttemptStore) DeclinedSince(ctx context.Context, rideID uuid.UUID, cutoff time.Time) (map[uuid.UUID]struct{}, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[uuid.UUID]struct{})
	for _, a := range s.byRide[rideID] {
		if a.Outcome.Declined() && !a.At.Before(cutoff) {
			out[a.DriverID] = struct{}{}
		}
	}
	return out, nil
}
