package payout

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNoAccount signals the partner has no external payout account yet.
	ErrNoAccount = errors.New("payout: no external account")
	// ErrPayoutsNotEnabled signals onboarding hasn't finished, so money
	// can't move to this partner yet.
	ErrPayoutsNotEnabled = errors.New("payout: payouts not enabled for partner")
	// ErrPartnerInactive signals a partner whose status forbids payouts.
	ErrPartnerInactive = errors.New("payout: partner is not active")
)

// Account is the narrow, explicitly-typed view of the processor's account
// object. Everything else the processor returns is opaque and dropped at
// the client boundary.
type Account struct {
	ID               string
	DetailsSubmitted bool
	PayoutsEnabled   bool
}

// OnboardingStatus is the partner-facing onboarding snapshot.
type OnboardingStatus struct {
	Connected        bool `json:"connected"`
	DetailsSubmitted bool `json:"details_submitted"`
	PayoutsEnabled   bool `json:"payouts_enabled"`
}

// TransferRecord is one transfer as reported by the processor, used by the
// reconciliation job.
type TransferRecord struct {
	Ref            string
	IdempotencyKey string
	AmountCents    int64
	CreatedAt      time.Time
}

// Processor is the external payment processor boundary. This core depends
// on exactly these capabilities and nothing else.
type Processor interface {
	CreateAccount(ctx context.Context, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, returnURL, refreshURL string) (string, error)
	GetAccount(ctx context.Context, accountID string) (Account, error)
	// Transfer moves amountCents to accountID. idempotencyKey makes network
	// retries safe: the processor must treat a repeated key as the same
	// transfer.
	Transfer(ctx context.Context, accountID string, amountCents int64, idempotencyKey string) (string, error)
	ListTransfers(ctx context.Context, since time.Time) ([]TransferRecord, error)
}
