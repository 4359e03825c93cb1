package ledger

import (
	"fmt"
	"time"
)

type Status string

const (
	StatusPending     Status = "pending"
	StatusTransferred Status = "transferred"
	StatusClawback    Status = "clawback"
	StatusFailed      Status = "failed"
)

// Commission is one monetary entry tied to one conversion. The amount and
// rate are fixed at creation; corrections happen through linked adjustment
// rows, never by mutating these fields.
type Commission struct {
	ID              string
	PartnerID       string
	ReferralID      string
	RevenueCents    int64
	CommissionCents int64
	RateBps         int
	Status          Status
	TransferRef     *string
	TransferredAt   *time.Time
	CreatedAt       time.Time
}

// Adjustment is a linked correction against a commission. Clawbacks are
// negative adjustments; the original commission row is never rewritten.
type Adjustment struct {
	ID           string
	CommissionID string
	AmountCents  int64
	Reason       string
	CreatedAt    time.Time
}

// Summary is the ledger-derived earnings breakdown for one partner.
// TotalCents always equals PendingCents + TransferredCents.
type Summary struct {
	TotalCents       int64 `json:"total_cents"`
	PendingCents     int64 `json:"pending_cents"`
	TransferredCents int64 `json:"transferred_cents"`
}

// InvalidStateError signals an operation that is not legal for the
// commission's current status, e.g. transferring a clawed-back entry.
type InvalidStateError struct {
	CommissionID string
	Current      Status
	Attempted    string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("ledger: cannot %s commission %s in status %s", e.Attempted, e.CommissionID, e.Current)
}
