package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// MemoryStore is an in-memory ledger for tests and single-node deployments.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[uuid.UUID][]*models.LedgerEntry
	payouts map[uuid.UUID]*models.Payout
}

// NewMemoryStore creates an empty in-memory ledger store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		entries: make(map[uuid.UUID][]*models.LedgerEntry),
		payouts: make(map[uuid.UUID]*models.Payout),
	}
}

func (s *MemoryStore) Append(ctx context.Context, driverID uuid.UUID, entryType models.EntryType, reason models.EntryReason, amount decimal.Decimal, referenceID uuid.UUID) (*models.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, common.NewValidationError("entry amount must be positive")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	log := s.entries[driverID]
	balance := decimal.Zero
	for _, e := range log {
		if e.Reason == reason && e.ReferenceID == referenceID && e.Type == entryType {
			return nil, common.NewDuplicateCreditError("entry already recorded for reference " + referenceID.String())
		}
		balance = balance.Add(e.Signed())
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		DriverID:    driverID,
		Type:        entryType,
		Reason:      reason,
		Amount:      amount,
		ReferenceID: referenceID,
		CreatedAt:   time.Now().UTC(),
	}

	balance = balance.Add(entry.Signed())
	if balance.Sign() < 0 {
		return nil, common.NewInsufficientBalanceError("balance would go negative")
	}
	entry.Balance = balance

	s.entries[driverID] = append(log, entry)
	out := *entry
	return &out, nil
}

func (s *MemoryStore) Balance(ctx context.Context, driverID uuid.UUID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.entries[driverID]
	if len(log) == 0 {
		return decimal.Zero, nil
	}
	return log[len(log)-1].Balance, nil
}

func (s *MemoryStore) History(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.entries[driverID]
	if offset >= len(log) {
		return nil, nil
	}
	end := len(log)
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]*models.LedgerEntry, 0, end-offset)
	for _, e := range log[offset:end] {
		c := *e
		out = append(out, &c)
	}
	return out, nil
}

func (s *MemoryStore) CreatePayout(ctx context.Context, payout *models.Payout) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.payouts[payout.ID]; ok {
		return common.NewConflictError("payout already exists: " + payout.ID.String())
	}
	c := *payout
	s.payouts[payout.ID] = &c
	return nil
}

func (s *MemoryStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, common.NewNotFoundError("payout not found: " + id.String())
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, externalRef, failureReason *string) (*models.Payout, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payouts[id]
	if !ok {
		return nil, common.NewNotFoundError("payout not found: " + id.String())
	}
	if p.Status != from {
		return nil, common.NewConflictError("payout status changed: " + string(p.Status))
	}
	p.Status = to
	if externalRef != nil {
		p.ExternalRef = externalRef
	}
	if failureReason != nil {
		p.FailureReason = failureReason
	}
	if to == models.PayoutStatusCompleted || to == models.PayoutStatusFailed || to == models.PayoutStatusCancelled {
		now := time.Now().UTC()
		p.CompletedAt = &now
	}
	c := *p
	return &c, nil
}

func (s *MemoryStore) DriversWithBalanceAtLeast(ctx context.Context, threshold decimal.Decimal) ([]uuid.UUID, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []uuid.UUID
	for driverID, log := range s.entries {
		if len(log) == 0 {
			continue
		}
		if log[len(log)-1].Balance.GreaterThanOrEqual(threshold) {
			out = append(out, driverID)
		}
	}
	return out, nil
}
