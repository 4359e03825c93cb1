package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DefaultRateBps is the reference business rule: 20% of revenue.
const DefaultRateBps = 2000

// Service computes, stores, and aggregates commission entries.
type Service struct {
	pool    *pgxpool.Pool
	repo    Repository
	rateBps int
}

// NewService creates the commission ledger. rateBps <= 0 selects
// DefaultRateBps.
func NewService(pool *pgxpool.Pool, repo Repository, rateBps int) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if rateBps <= 0 {
		rateBps = DefaultRateBps
	}
	return &Service{pool: pool, repo: repo, rateBps: rateBps}
}

// CommissionFor computes the commission amount for a revenue amount under
// the current rate, rounding half up. The result is fixed into the entry at
// creation time; later rate changes never touch existing rows.
func (s *Service) CommissionFor(revenueCents int64) int64 {
	return (revenueCents*int64(s.rateBps) + 5000) / 10000
}

// Record persists a commission for one conversion inside the caller's
// transaction. The (partnerID, referralID) pair is the idempotency key:
// replays return the existing entry with no double credit.
func (s *Service) Record(ctx context.Context, tx pgx.Tx, partnerID, referralID string, revenueCents int64) (Commission, error) {
	if revenueCents <= 0 {
		return Commission{}, fmt.Errorf("ledger: revenue must be positive, got %d", revenueCents)
	}

	c, _, err := s.repo.Create(ctx, tx, Commission{
		PartnerID:       partnerID,
		ReferralID:      referralID,
		RevenueCents:    revenueCents,
		CommissionCents: s.CommissionFor(revenueCents),
		RateBps:         s.rateBps,
	})
	return c, err
}

// MarkTransferred moves a pending commission to transferred, recording the
// external transfer reference. Any other starting state is an
// InvalidStateError.
func (s *Service) MarkTransferred(ctx context.Context, commissionID, transferRef string) (Commission, error) {
	if transferRef == "" {
		return Commission{}, fmt.Errorf("ledger: transfer reference is required")
	}
	return s.repo.MarkTransferred(ctx, commissionID, transferRef)
}

// ForceFailed is the operator escape hatch for a payout that will never
// succeed: pending -> failed only.
func (s *Service) ForceFailed(ctx context.Context, commissionID string) (Commission, error) {
	return s.repo.ForceFailed(ctx, commissionID)
}

// RecordClawback reverses a transferred commission after a refund. The
// original entry is preserved; the economic effect lands in a linked
// negative adjustment written in the same transaction as the status flip.
func (s *Service) RecordClawback(ctx context.Context, commissionID, reason string) (Adjustment, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Adjustment{}, fmt.Errorf("ledger: begin clawback tx: %w", err)
	}
	defer tx.Rollback(ctx)

	c, err := s.repo.GetForUpdate(ctx, tx, commissionID)
	if err != nil {
		return Adjustment{}, err
	}
	if c.Status != StatusTransferred {
		return Adjustment{}, &InvalidStateError{CommissionID: commissionID, Current: c.Status, Attempted: "claw back"}
	}

	if err := s.repo.SetClawbackStatus(ctx, tx, commissionID); err != nil {
		return Adjustment{}, err
	}

	adj, err := s.repo.InsertClawback(ctx, tx, commissionID, reason, -c.CommissionCents)
	if err != nil {
		return Adjustment{}, err
	}

	if _, err := tx.Exec(ctx, `
		UPDATE partners SET cached_earned_cents = cached_earned_cents + $2, updated_at = now()
		WHERE id = $1
	`, c.PartnerID, adj.AmountCents); err != nil {
		return Adjustment{}, fmt.Errorf("ledger: adjust earned cache: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Adjustment{}, fmt.Errorf("ledger: commit clawback: %w", err)
	}

	return adj, nil
}

// Get retrieves one commission.
func (s *Service) Get(ctx context.Context, commissionID string) (Commission, error) {
	return s.repo.GetByID(ctx, commissionID)
}

// Summarize returns the partner's earnings breakdown derived from the
// commission set.
func (s *Service) Summarize(ctx context.Context, partnerID string) (Summary, error) {
	return s.repo.Summarize(ctx, partnerID)
}

// ListRecent returns the partner's newest commissions.
func (s *Service) ListRecent(ctx context.Context, partnerID string, limit int) ([]Commission, error) {
	return s.repo.ListRecent(ctx, partnerID, limit)
}

// ListStalePending returns pending commissions older than the given age.
func (s *Service) ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]Commission, error) {
	return s.repo.ListStalePending(ctx, time.Now().Add(-olderThan), limit)
}
