package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EntryType is the direction of a ledger entry
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// EntryReason says what produced a ledger entry
type EntryReason string

const (
	ReasonRideEarning     EntryReason = "ride_earning"
	ReasonEarningReversal EntryReason = "earning_reversal"
	ReasonPayout          EntryReason = "payout"
	ReasonPayoutReversal  EntryReason = "payout_reversal"
)

// LedgerEntry is one append-only record of a balance-affecting event.
// Summing entries in order reproduces the driver's available balance exactly.
type LedgerEntry struct {
	ID          uuid.UUID       `json:"id" db:"id"`
	DriverID    uuid.UUID       `json:"driver_id" db:"driver_id"`
	Type        EntryType       `json:"type" db:"type"`
	Reason      EntryReason     `json:"reason" db:"reason"`
	Amount      decimal.Decimal `json:"amount" db:"amount"`
	Balance     decimal.Decimal `json:"balance" db:"balance"` // balance after this entry
	ReferenceID uuid.UUID       `json:"reference_id" db:"reference_id"` // ride or payout id
	CreatedAt   time.Time       `json:"created_at" db:"created_at"`
}

// Signed returns the entry amount with its direction applied.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.Type == EntryDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// PayoutStatus represents the lifecycle state of a payout
type PayoutStatus string

const (
	PayoutStatusPending    PayoutStatus = "pending"
	PayoutStatusProcessing PayoutStatus = "processing"
	PayoutStatusCompleted  PayoutStatus = "completed"
	PayoutStatusFailed     PayoutStatus = "failed"
	PayoutStatusCancelled  PayoutStatus = "cancelled"
)

// Payout is a driver's request to withdraw available balance
type Payout struct {
	ID            uuid.UUID       `json:"id" db:"id"`
	DriverID      uuid.UUID       `json:"driver_id" db:"driver_id"`
	Amount        decimal.Decimal `json:"amount" db:"amount"`
	Method        string          `json:"method" db:"method"`
	Status        PayoutStatus    `json:"status" db:"status"`
	ExternalRef   *string         `json:"external_ref,omitempty" db:"external_ref"`
	FailureReason *string         `json:"failure_reason,omitempty" db:"failure_reason"`
	InitiatedAt   time.Time       `json:"initiated_at" db:"initiated_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty" db:"completed_at"`
}
