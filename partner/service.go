package partner

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

var (
	// ErrInvalidTransition signals a reviewer decision that is not legal
	// for the partner's current status.
	ErrInvalidTransition = errors.New("partner: invalid status transition")
	// ErrWeakPassword signals the application password doesn't meet requirements.
	ErrWeakPassword = errors.New("partner: password must be at least 8 characters")
)

// Notification template keys handed to the external mail collaborator.
const (
	TemplateApplicationReceived = "application_received"
	TemplateApproved            = "application_approved"
	TemplateRejected            = "application_rejected"
	TemplateSuspended           = "account_suspended"
)

// Notifier is the boundary to the external notification collaborator.
// Dispatch is fire-and-forget from this package's perspective: failures are
// logged, never propagated into the status change itself.
type Notifier interface {
	Send(ctx context.Context, partnerID, recipient, template string, data map[string]string, idempotencyKey string) error
}

// Service handles partner identity and the status lifecycle.
type Service struct {
	repo     Repository
	notifier Notifier
	logger   *zap.Logger

	promoCodeAttempts int
}

// NewService creates the partner account manager. notifier may be nil in
// tests; logger may be nil.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		repo:              repo,
		notifier:          notifier,
		logger:            logger,
		promoCodeAttempts: 5,
	}
}

// ApplicationParams contains partner application data supplied by callers.
type ApplicationParams struct {
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	Password    string   `json:"password"`
	SocialLinks []string `json:"social_links"`
	Note        string   `json:"note"`
}

// SubmitApplication creates a pending partner with a freshly generated
// unique promo code, retrying on code collisions.
func (s *Service) SubmitApplication(ctx context.Context, params ApplicationParams) (Partner, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" || !strings.Contains(email, "@") {
		return Partner{}, fmt.Errorf("partner: a valid email is required")
	}
	if strings.TrimSpace(params.DisplayName) == "" {
		return Partner{}, fmt.Errorf("partner: display name is required")
	}
	if len(params.Password) < 8 {
		return Partner{}, ErrWeakPassword
	}

	passwordHash, err := bcrypt.GenerateFromPassword([]byte(params.Password), bcrypt.DefaultCost)
	if err != nil {
		return Partner{}, fmt.Errorf("partner: hash password: %w", err)
	}

	var created Partner
	for attempt := 0; ; attempt++ {
		code, err := generatePromoCode()
		if err != nil {
			return Partner{}, err
		}

		created, err = s.repo.Create(ctx, CreateParams{
			Email:           email,
			DisplayName:     strings.TrimSpace(params.DisplayName),
			PasswordHash:    string(passwordHash),
			PromoCode:       code,
			SocialLinks:     params.SocialLinks,
			ApplicationNote: strings.TrimSpace(params.Note),
		})
		if errors.Is(err, ErrDuplicatePromoCode) && attempt < s.promoCodeAttempts-1 {
			continue
		}
		if err != nil {
			return Partner{}, err
		}
		break
	}

	s.dispatch(ctx, created, TemplateApplicationReceived, map[string]string{
		"display_name": created.DisplayName,
	}, "apply:"+created.ID)

	return created, nil
}

// Review applies a reviewer decision. Legal transitions:
// approve pending->approved, reject pending->rejected,
// suspend approved->suspended, reactivate suspended->approved.
func (s *Service) Review(ctx context.Context, partnerID string, decision Decision, reason string) (Partner, error) {
	var from, to Status
	switch decision {
	case DecisionApprove:
		from, to = StatusPending, StatusApproved
	case DecisionReject:
		from, to = StatusPending, StatusRejected
	case DecisionSuspend:
		from, to = StatusApproved, StatusSuspended
	case DecisionReactivate:
		from, to = StatusSuspended, StatusApproved
	default:
		return Partner{}, fmt.Errorf("%w: unknown decision %q", ErrInvalidTransition, decision)
	}

	var reasonPtr *string
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		reasonPtr = &trimmed
	}

	updated, err := s.repo.UpdateStatusGuarded(ctx, partnerID, from, to, reasonPtr)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			// Distinguish a missing partner from a wrong-state one so the
			// caller can surface 404 vs 409.
			current, getErr := s.repo.GetByID(ctx, partnerID)
			if getErr != nil {
				return Partner{}, getErr
			}
			return Partner{}, fmt.Errorf("%w: %s not allowed from status %s", ErrInvalidTransition, decision, current.Status)
		}
		return Partner{}, err
	}

	idemKey := fmt.Sprintf("review:%s:%s", updated.ID, decision)
	switch to {
	case StatusApproved:
		s.dispatch(ctx, updated, TemplateApproved, map[string]string{
			"display_name": updated.DisplayName,
			"promo_code":   updated.PromoCode,
		}, idemKey)
	case StatusRejected:
		s.dispatch(ctx, updated, TemplateRejected, map[string]string{
			"display_name": updated.DisplayName,
			"reason":       reasonText(updated.StatusReason),
		}, idemKey)
	case StatusSuspended:
		s.dispatch(ctx, updated, TemplateSuspended, map[string]string{
			"display_name": updated.DisplayName,
			"reason":       reasonText(updated.StatusReason),
		}, idemKey)
	}

	return updated, nil
}

// Get retrieves a partner by ID.
func (s *Service) Get(ctx context.Context, partnerID string) (Partner, error) {
	return s.repo.GetByID(ctx, partnerID)
}

// List returns partners with an optional status filter, newest first.
func (s *Service) List(ctx context.Context, filters Filters) ([]Partner, error) {
	return s.repo.List(ctx, filters)
}

// RebuildTotals recomputes the partner's cached counters from the ledger
// tables and returns the refreshed record.
func (s *Service) RebuildTotals(ctx context.Context, partnerID string) (Partner, error) {
	return s.repo.RebuildTotals(ctx, partnerID)
}

func (s *Service) dispatch(ctx context.Context, p Partner, template string, data map[string]string, idemKey string) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.Send(ctx, p.ID, p.Email, template, data, idemKey); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("partner_id", p.ID),
			zap.String("template", template),
			zap.Error(err),
		)
	}
}

func reasonText(reason *string) string {
	if reason == nil {
		return ""
	}
	return *reason
}
