package reconcile

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"partnerflow/ledger"
	"partnerflow/payout"
)

// LedgerStore is the slice of the commission ledger the jobs consume.
type LedgerStore interface {
	ListStalePending(ctx context.Context, olderThan time.Duration, limit int) ([]ledger.Commission, error)
	MarkTransferred(ctx context.Context, commissionID, transferRef string) (ledger.Commission, error)
}

// Transferrer executes a payout for one commission.
type Transferrer interface {
	Transfer(ctx context.Context, commissionID string) (ledger.Commission, error)
}

// Service runs the periodic money-movement jobs: sweeping pending
// commissions into transfers, and reconciling confirmed external transfers
// whose local status write was lost.
type Service struct {
	ledger    LedgerStore
	payouts   Transferrer
	processor payout.Processor
	logger    *zap.Logger

	staleAfter time.Duration
	window     time.Duration
	batchSize  int
}

func NewService(ledgerStore LedgerStore, payouts Transferrer, processor payout.Processor, logger *zap.Logger, staleAfter, window time.Duration) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if staleAfter <= 0 {
		staleAfter = 24 * time.Hour
	}
	if window <= 0 {
		window = 72 * time.Hour
	}
	return &Service{
		ledger:     ledgerStore,
		payouts:    payouts,
		processor:  processor,
		logger:     logger,
		staleAfter: staleAfter,
		window:     window,
		batchSize:  100,
	}
}

// Sweep attempts a transfer for every pending commission. Transfers carry
// commission-derived idempotency keys, so running them concurrently or
// repeating a batch after a crash cannot double-pay.
func (s *Service) Sweep(ctx context.Context) error {
	pending, err := s.ledger.ListStalePending(ctx, 0, s.batchSize)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, c := range pending {
		c := c
		g.Go(func() error {
			_, err := s.payouts.Transfer(ctx, c.ID)
			switch {
			case err == nil:
			case errors.Is(err, payout.ErrPayoutsNotEnabled),
				errors.Is(err, payout.ErrNoAccount),
				errors.Is(err, payout.ErrPartnerInactive):
				// Not payable yet; the commission simply waits.
			default:
				s.logger.Warn("sweep transfer failed",
					zap.String("commission_id", c.ID),
					zap.Error(err),
				)
			}
			// Per-commission failures never abort the batch.
			return nil
		})
	}
	return g.Wait()
}

// Reconcile cross-checks the processor's recent transfers against local
// pending commissions older than the stale threshold. A confirmed external
// transfer with a still-pending local row means a status write was lost
// mid-flight; the repair applies the processor's reference and is logged
// loudly because it points at an earlier partial failure.
func (s *Service) Reconcile(ctx context.Context) error {
	transfers, err := s.processor.ListTransfers(ctx, time.Now().Add(-s.window))
	if err != nil {
		return err
	}

	byKey := make(map[string]payout.TransferRecord, len(transfers))
	for _, t := range transfers {
		if t.IdempotencyKey != "" {
			byKey[t.IdempotencyKey] = t
		}
	}

	stale, err := s.ledger.ListStalePending(ctx, s.staleAfter, s.batchSize)
	if err != nil {
		return err
	}

	for _, c := range stale {
		t, ok := byKey[payout.IdempotencyKey(c.ID)]
		if !ok {
			continue
		}

		if _, err := s.ledger.MarkTransferred(ctx, c.ID, t.Ref); err != nil {
			s.logger.Error("reconcile repair failed",
				zap.String("commission_id", c.ID),
				zap.String("transfer_ref", t.Ref),
				zap.Error(err),
			)
			continue
		}
		s.logger.Warn("repaired commission from processor transfer record",
			zap.String("commission_id", c.ID),
			zap.String("transfer_ref", t.Ref),
			zap.Int64("amount_cents", t.AmountCents),
		)
	}
	return nil
}
