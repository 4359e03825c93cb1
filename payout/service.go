package payout

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"partnerflow/ledger"
	"partnerflow/monitoring"
	"partnerflow/partner"
)

// PartnerStore is the partner persistence needed by the connector.
type PartnerStore interface {
	GetByID(ctx context.Context, id string) (partner.Partner, error)
	SetPayoutAccount(ctx context.Context, id, accountID string) error
	SetPayoutOnboarded(ctx context.Context, id string) error
}

// Ledger is the commission state machine the connector drives.
type Ledger interface {
	Get(ctx context.Context, commissionID string) (ledger.Commission, error)
	MarkTransferred(ctx context.Context, commissionID, transferRef string) (ledger.Commission, error)
}

// Service bridges partner ledger balances to the external payment
// processor's sub-accounts.
type Service struct {
	partners  PartnerStore
	ledger    Ledger
	processor Processor
	logger    *zap.Logger
}

func NewService(partners PartnerStore, ledgerSvc Ledger, processor Processor, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{partners: partners, ledger: ledgerSvc, processor: processor, logger: logger}
}

// EnsureAccount creates the external payout sub-account on first call and
// returns the stored reference on every later one.
func (s *Service) EnsureAccount(ctx context.Context, partnerID string) (string, error) {
	p, err := s.partners.GetByID(ctx, partnerID)
	if err != nil {
		return "", err
	}
	if p.PayoutAccountID != nil {
		return *p.PayoutAccountID, nil
	}

	accountID, err := s.processor.CreateAccount(ctx, p.Email)
	if err != nil {
		return "", err
	}
	if err := s.partners.SetPayoutAccount(ctx, partnerID, accountID); err != nil {
		// Either the reference write failed or a concurrent call stored its
		// id first. Re-read and converge on whatever is persisted; the
		// processor dedupes the extra remote account by email.
		if again, readErr := s.partners.GetByID(ctx, partnerID); readErr == nil && again.PayoutAccountID != nil {
			return *again.PayoutAccountID, nil
		}
		return "", err
	}

	s.logger.Info("payout account created",
		zap.String("partner_id", partnerID),
		zap.String("account_id", accountID),
	)
	return accountID, nil
}

// OnboardingLink returns a fresh single-use onboarding URL.
func (s *Service) OnboardingLink(ctx context.Context, partnerID, returnURL, refreshURL string) (string, error) {
	accountID, err := s.EnsureAccount(ctx, partnerID)
	if err != nil {
		return "", err
	}
	return s.processor.CreateOnboardingLink(ctx, accountID, returnURL, refreshURL)
}

// Status reports onboarding progress. Once the stored onboarding flag is
// true it short-circuits without an external call; until then it queries
// the processor and persists the flag when both capabilities are granted.
// The flag only moves false -> true here; payout suspension is an external
// concern surfaced by the processor on later transfer attempts.
func (s *Service) Status(ctx context.Context, partnerID string) (OnboardingStatus, error) {
	p, err := s.partners.GetByID(ctx, partnerID)
	if err != nil {
		return OnboardingStatus{}, err
	}
	if p.PayoutAccountID == nil {
		return OnboardingStatus{}, nil
	}
	if p.PayoutOnboarded {
		return OnboardingStatus{Connected: true, DetailsSubmitted: true, PayoutsEnabled: true}, nil
	}

	account, err := s.processor.GetAccount(ctx, *p.PayoutAccountID)
	if err != nil {
		return OnboardingStatus{}, err
	}

	status := OnboardingStatus{
		Connected:        true,
		DetailsSubmitted: account.DetailsSubmitted,
		PayoutsEnabled:   account.PayoutsEnabled,
	}
	if account.DetailsSubmitted && account.PayoutsEnabled {
		if err := s.partners.SetPayoutOnboarded(ctx, partnerID); err != nil {
			return OnboardingStatus{}, err
		}
	}
	return status, nil
}

// Transfer pays out one pending commission. On processor failure the
// commission stays pending for retry and the error surfaces; the
// idempotency key derived from the commission id makes retries safe.
func (s *Service) Transfer(ctx context.Context, commissionID string) (ledger.Commission, error) {
	c, err := s.ledger.Get(ctx, commissionID)
	if err != nil {
		return ledger.Commission{}, err
	}
	if c.Status != ledger.StatusPending {
		return ledger.Commission{}, &ledger.InvalidStateError{
			CommissionID: commissionID,
			Current:      c.Status,
			Attempted:    "transfer",
		}
	}

	p, err := s.partners.GetByID(ctx, c.PartnerID)
	if err != nil {
		return ledger.Commission{}, err
	}
	if !p.Active() {
		return ledger.Commission{}, ErrPartnerInactive
	}
	if p.PayoutAccountID == nil {
		return ledger.Commission{}, ErrNoAccount
	}
	if !p.PayoutOnboarded {
		return ledger.Commission{}, ErrPayoutsNotEnabled
	}

	ref, err := s.processor.Transfer(ctx, *p.PayoutAccountID, c.CommissionCents, IdempotencyKey(c.ID))
	if err != nil {
		monitoring.TransfersTotal.WithLabelValues("error").Inc()
		s.logger.Error("payout transfer failed",
			zap.String("commission_id", commissionID),
			zap.String("partner_id", c.PartnerID),
			zap.Error(err),
		)
		return ledger.Commission{}, fmt.Errorf("payout: transfer commission %s: %w", commissionID, err)
	}

	updated, err := s.ledger.MarkTransferred(ctx, commissionID, ref)
	if err != nil {
		// The external transfer succeeded but the local write did not.
		// Reconciliation repairs this from the processor's transfer list;
		// fail loudly so it is never mistaken for success.
		monitoring.TransfersTotal.WithLabelValues("unreconciled").Inc()
		s.logger.Error("transfer confirmed but ledger write failed",
			zap.String("commission_id", commissionID),
			zap.String("transfer_ref", ref),
			zap.Error(err),
		)
		return ledger.Commission{}, fmt.Errorf("payout: record transfer %s: %w", ref, err)
	}

	monitoring.TransfersTotal.WithLabelValues("success").Inc()
	s.logger.Info("commission transferred",
		zap.String("commission_id", commissionID),
		zap.String("transfer_ref", ref),
		zap.Int64("amount_cents", updated.CommissionCents),
	)
	return updated, nil
}

// IdempotencyKey derives the processor idempotency key for a commission.
func IdempotencyKey(commissionID string) string {
	return "commission:" + commissionID
}
