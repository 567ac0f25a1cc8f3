package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/swiftride/dispatch/pkg/common"
	"github.com/swiftride/dispatch/pkg/models"
)

// PGStore persists ledger entries and payouts in Postgres. Appends run in a
// transaction holding a per-driver advisory lock, so the running balance is
// computed against a stable view of the driver's log.
type PGStore struct {
	db *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed ledger store.
func NewPGStore(db *pgxpool.Pool) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Append(ctx context.Context, driverID uuid.UUID, entryType models.EntryType, reason models.EntryReason, amount decimal.Decimal, referenceID uuid.UUID) (*models.LedgerEntry, error) {
	if amount.Sign() <= 0 {
		return nil, common.NewValidationError("entry amount must be positive")
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin append: %w", err)
	}
	defer tx.Rollback(ctx)

	// Serialize appends per driver.
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, driverID.String()); err != nil {
		return nil, fmt.Errorf("failed to lock driver ledger: %w", err)
	}

	var dupes int
	err = tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM ledger_entries
		WHERE driver_id = $1 AND reason = $2 AND reference_id = $3 AND type = $4
	`, driverID, reason, referenceID, entryType).Scan(&dupes)
	if err != nil {
		return nil, fmt.Errorf("failed to check duplicate entry: %w", err)
	}
	if dupes > 0 {
		return nil, common.NewDuplicateCreditError("entry already recorded for reference " + referenceID.String())
	}

	var balance decimal.Decimal
	err = tx.QueryRow(ctx, `
		SELECT balance FROM ledger_entries
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, driverID).Scan(&balance)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to read balance: %w", err)
	}

	entry := &models.LedgerEntry{
		ID:          uuid.New(),
		DriverID:    driverID,
		Type:        entryType,
		Reason:      reason,
		Amount:      amount,
		ReferenceID: referenceID,
	}

	balance = balance.Add(entry.Signed())
	if balance.Sign() < 0 {
		return nil, common.NewInsufficientBalanceError("balance would go negative")
	}
	entry.Balance = balance

	err = tx.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, driver_id, type, reason, amount, balance, reference_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, entry.ID, entry.DriverID, entry.Type, entry.Reason, entry.Amount, entry.Balance, entry.ReferenceID,
	).Scan(&entry.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to append ledger entry: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit append: %w", err)
	}
	return entry, nil
}

func (s *PGStore) Balance(ctx context.Context, driverID uuid.UUID) (decimal.Decimal, error) {
	var balance decimal.Decimal
	err := s.db.QueryRow(ctx, `
		SELECT balance FROM ledger_entries
		WHERE driver_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`, driverID).Scan(&balance)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to read balance: %w", err)
	}
	return balance, nil
}

func (s *PGStore) History(ctx context.Context, driverID uuid.UUID, limit, offset int) ([]*models.LedgerEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(ctx, `
		SELECT id, driver_id, type, reason, amount, balance, reference_id, created_at
		FROM ledger_entries
		WHERE driver_id = $1
		ORDER BY created_at, id
		LIMIT $2 OFFSET $3
	`, driverID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer rows.Close()

	items := make([]*models.LedgerEntry, 0)
	for rows.Next() {
		e := &models.LedgerEntry{}
		err := rows.Scan(&e.ID, &e.DriverID, &e.Type, &e.Reason, &e.Amount, &e.Balance, &e.ReferenceID, &e.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger entry: %w", err)
		}
		items = append(items, e)
	}
	return items, nil
}

func (s *PGStore) CreatePayout(ctx context.Context, payout *models.Payout) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO payouts (id, driver_id, amount, method, status, initiated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, payout.ID, payout.DriverID, payout.Amount, payout.Method, payout.Status, payout.InitiatedAt)
	if err != nil {
		return fmt.Errorf("failed to create payout: %w", err)
	}
	return nil
}

func (s *PGStore) GetPayout(ctx context.Context, id uuid.UUID) (*models.Payout, error) {
	p := &models.Payout{}
	err := s.db.QueryRow(ctx, `
		SELECT id, driver_id, amount, method, status, external_ref, failure_reason, initiated_at, completed_at
		FROM payouts WHERE id = $1
	`, id).Scan(&p.ID, &p.DriverID, &p.Amount, &p.Method, &p.Status, &p.ExternalRef, &p.FailureReason, &p.InitiatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewNotFoundError("payout not found: " + id.String())
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payout: %w", err)
	}
	return p, nil
}

func (s *PGStore) UpdatePayoutStatus(ctx context.Context, id uuid.UUID, from, to models.PayoutStatus, externalRef, failureReason *string) (*models.Payout, error) {
	p := &models.Payout{}
	err := s.db.QueryRow(ctx, `
		UPDATE payouts SET
			status = $3,
			external_ref = COALESCE($4, external_ref),
			failure_reason = COALESCE($5, failure_reason),
			completed_at = CASE WHEN $3 IN ('completed', 'failed', 'cancelled') THEN CURRENT_TIMESTAMP ELSE completed_at END
		WHERE id = $1 AND status = $2
		RETURNING id, driver_id, amount, method, status, external_ref, failure_reason, initiated_at, completed_at
	`, id, from, to, externalRef, failureReason,
	).Scan(&p.ID, &p.DriverID, &p.Amount, &p.Method, &p.Status, &p.ExternalRef, &p.FailureReason, &p.InitiatedAt, &p.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, common.NewConflictError("payout status changed")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update payout: %w", err)
	}
	return p, nil
}

func (s *PGStore) DriversWithBalanceAtLeast(ctx context.Context, threshold decimal.Decimal) ([]uuid.UUID, error) {
	rows, err := s.db.Query(ctx, `
		SELECT DISTINCT ON (driver_id) driver_id, balance
		FROM ledger_entries
		ORDER BY driver_id, created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list driver balances: %w", err)
	}
	defer rows.Close()

	var out []uuid.UUID
	for rows.Next() {
		var driverID uuid.UUID
		var balance decimal.Decimal
		if err := rows.Scan(&driverID, &balance); err != nil {
			return nil, fmt.Errorf("failed to scan driver balance: %w", err)
		}
		if balance.GreaterThanOrEqual(threshold) {
			out = append(out, driverID)
		}
	}
	return out, nil
}
