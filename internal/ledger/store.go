// Package ledger keeps each driver's earnings as an append-only entry log
// and settles balances through payout requests. History is never mutated;
// corrections are compensating entries.
package ledger

import (
	"context"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/swiftride/dispatch/pkg/models"
)

// Store persists ledger entries and payouts. Append is atomic with respect
// to the running balance: the entry's Balance field is computed and written
// under the same lock or transaction that serializes the driver's log.
type Store interface {
	// Append adds an entry, computing the post-entry balance. Debits that
	// would push the balance negative fail with ErrInsufficientBalance.
	// A second credit with the same reason and reference fails with
	// ErrDuplicateCredit.
	Append(ctx context.Context, driverID uuid.UUID, entryType models.EntryType, reason models.EntryReason, amount decimal.Decimal, referenceID uuid.UUID) (*models.LedgerEntry, error)

	// Balance returns the driver's current available balance.
	Balance(ctx context.Context, driverID uuid.UUID) (decimal.Decimal, error)

	// History returns the driver's entries, oldest first.
	History(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error)

	CreatePayout(ctx context.Context, payout *models.Payout) error
	GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error)

	// UpdatePayoutStatus is conditional on the current status.
	UpdatePayoutStatus(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, externalRef, failureReason *string) (*models.Payout, error)

	// DriversWithBalanceAtLeast returns drivers whose balance meets the
	// threshold, for the payout sweep.
	DriversWithBalanceAtLeast(ctx context.Context, threshold decimal.Decimal) ([]uuid.UUID, error)
}
