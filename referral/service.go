package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"partnerflow/ledger"
	"partnerflow/partner"
)

// ErrUnknownOrInactiveCode signals a promo code that does not resolve to an
// approved partner. The message deliberately doesn't say which.
var ErrUnknownOrInactiveCode = errors.New("referral: unknown or inactive promo code")

// ErrTrialTooLong signals a requested trial window over the configured cap.
var ErrTrialTooLong = errors.New("referral: requested trial exceeds the maximum length")

// CodeResolver resolves promo codes to partner accounts.
type CodeResolver interface {
	GetByPromoCode(ctx context.Context, code string) (partner.Partner, error)
}

// CommissionRecorder persists a commission entry inside the conversion
// transaction.
type CommissionRecorder interface {
	Record(ctx context.Context, tx pgx.Tx, partnerID, referralID string, revenueCents int64) (ledger.Commission, error)
}

// Service records trial signups and conversions.
type Service struct {
	pool     *pgxpool.Pool
	repo     Repository
	partners CodeResolver
	ledger   CommissionRecorder

	defaultTrialDays int
	maxTrialDays     int
	now              func() time.Time
}

// NewService creates the referral tracker. maxTrialDays caps caller-supplied
// trial lengths; values <= 0 fall back to 30.
func NewService(pool *pgxpool.Pool, repo Repository, partners CodeResolver, recorder CommissionRecorder, defaultTrialDays, maxTrialDays int) *Service {
	if repo == nil {
		repo = NewRepository(pool)
	}
	if defaultTrialDays <= 0 {
		defaultTrialDays = 7
	}
	if maxTrialDays < defaultTrialDays {
		maxTrialDays = 30
	}
	return &Service{
		pool:             pool,
		repo:             repo,
		partners:         partners,
		ledger:           recorder,
		defaultTrialDays: defaultTrialDays,
		maxTrialDays:     maxTrialDays,
		now:              time.Now,
	}
}

func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// RecordSignup creates a trial-scoped referral under the partner owning
// promoCode. trialDays is a parameter so ordinary and extended promo trials
// share one code path; zero selects the default, and anything over the cap
// is rejected since the endpoint is public.
func (s *Service) RecordSignup(ctx context.Context, promoCode string, trialDays int) (Referral, error) {
	if promoCode == "" {
		return Referral{}, ErrUnknownOrInactiveCode
	}
	if trialDays > s.maxTrialDays {
		return Referral{}, ErrTrialTooLong
	}
	if trialDays <= 0 {
		trialDays = s.defaultTrialDays
	}

	p, err := s.partners.GetByPromoCode(ctx, promoCode)
	if err != nil {
		if errors.Is(err, partner.ErrNotFound) {
			return Referral{}, ErrUnknownOrInactiveCode
		}
		return Referral{}, err
	}
	if !p.Active() {
		return Referral{}, ErrUnknownOrInactiveCode
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Referral{}, fmt.Errorf("referral: begin signup tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ref, err := s.repo.Create(ctx, tx, p.ID, s.now().Add(time.Duration(trialDays)*24*time.Hour))
	if err != nil {
		return Referral{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Referral{}, fmt.Errorf("referral: commit signup: %w", err)
	}

	return ref, nil
}

// RecordConversion marks the referral converted and records the commission
// in the same transaction. Redelivery of the same conversion event is a
// no-op returning the existing referral: converted_at is set at most once
// and the ledger's (partner, referral) key blocks duplicate entries.
func (s *Service) RecordConversion(ctx context.Context, referralID string, revenueCents int64) (Referral, error) {
	if revenueCents <= 0 {
		return Referral{}, fmt.Errorf("referral: revenue must be positive, got %d", revenueCents)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return Referral{}, fmt.Errorf("referral: begin conversion tx: %w", err)
	}
	defer tx.Rollback(ctx)

	ref, won, err := s.repo.ConvertCAS(ctx, tx, referralID, s.now())
	if err != nil {
		return Referral{}, err
	}
	if !won {
		// Already converted; at-least-once delivery replay.
		return ref, nil
	}

	if _, err := s.ledger.Record(ctx, tx, ref.PartnerID, ref.ID, revenueCents); err != nil {
		return Referral{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Referral{}, fmt.Errorf("referral: commit conversion: %w", err)
	}

	return ref, nil
}

// Get retrieves one referral.
func (s *Service) Get(ctx context.Context, referralID string) (Referral, error) {
	return s.repo.GetByID(ctx, referralID)
}

// List returns the partner's newest referrals annotated with derived status.
func (s *Service) List(ctx context.Context, partnerID string, limit int) ([]Annotated, error) {
	refs, err := s.repo.List(ctx, partnerID, limit)
	if err != nil {
		return nil, err
	}

	now := s.now()
	annotated := make([]Annotated, 0, len(refs))
	for _, ref := range refs {
		annotated = append(annotated, Annotated{Referral: ref, Status: ref.StatusAt(now)})
	}
	return annotated, nil
}
