package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/ledger"
	"partnerflow/partner"
	"partnerflow/payout"
	"partnerflow/referral"
)

func currentIdentity(c *gin.Context) auth.Identity {
	v, _ := c.Get(ctxIdentity)
	identity, _ := v.(auth.Identity)
	return identity
}

// renderError maps domain errors onto the boundary status codes:
// 401 unauthenticated, 403 inactive/forbidden, 404 unknown scoped
// resource, 409 invalid state transition, 500 everything else.
func (s *Server) renderError(c *gin.Context, err error) {
	var notActive *auth.AccountNotActiveError
	var invalidState *ledger.InvalidStateError

	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid email or password"})
	case errors.As(err, &notActive):
		c.JSON(http.StatusForbidden, gin.H{"error": notActive.Message()})
	case errors.Is(err, payout.ErrPartnerInactive):
		c.JSON(http.StatusForbidden, gin.H{"error": "account is not active"})
	case errors.Is(err, partner.ErrNotFound),
		errors.Is(err, referral.ErrNotFound),
		errors.Is(err, ledger.ErrNotFound),
		errors.Is(err, referral.ErrUnknownOrInactiveCode):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
	case errors.As(err, &invalidState):
		c.JSON(http.StatusConflict, gin.H{"error": invalidState.Error(), "current_status": string(invalidState.Current)})
	case errors.Is(err, partner.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, payout.ErrNoAccount), errors.Is(err, payout.ErrPayoutsNotEnabled):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, partner.ErrDuplicateEmail):
		c.JSON(http.StatusConflict, gin.H{"error": "email already registered"})
	case errors.Is(err, partner.ErrWeakPassword), errors.Is(err, referral.ErrTrialTooLong):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		s.logger.Error("request failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "something went wrong, try again"})
	}
}

type partnerResponse struct {
	ID          string   `json:"id"`
	Email       string   `json:"email"`
	DisplayName string   `json:"display_name"`
	PromoCode   string   `json:"promo_code"`
	Status      string   `json:"status"`
	Reason      string   `json:"reason,omitempty"`
	Connected   bool     `json:"payout_connected"`
	Signups     int64    `json:"signups"`
	Conversions int64    `json:"conversions"`
	EarnedCents int64    `json:"earned_cents"`
	CreatedAt   string   `json:"created_at"`
	SocialLinks []string `json:"social_links,omitempty"`
}

func toPartnerResponse(p partner.Partner) partnerResponse {
	resp := partnerResponse{
		ID:          p.ID,
		Email:       p.Email,
		DisplayName: p.DisplayName,
		PromoCode:   p.PromoCode,
		Status:      string(p.Status),
		Connected:   p.PayoutOnboarded,
		Signups:     p.CachedSignups,
		Conversions: p.CachedConversions,
		EarnedCents: p.CachedEarnedCents,
		CreatedAt:   p.CreatedAt.Format(time.RFC3339),
		SocialLinks: p.SocialLinks,
	}
	if p.StatusReason != nil {
		resp.Reason = *p.StatusReason
	}
	return resp
}

type referralResponse struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	CreatedAt      string `json:"created_at"`
	TrialExpiresAt string `json:"trial_expires_at"`
	ConvertedAt    string `json:"converted_at,omitempty"`
}

func toReferralResponse(a referral.Annotated) referralResponse {
	resp := referralResponse{
		ID:             a.ID,
		Status:         string(a.Status),
		CreatedAt:      a.CreatedAt.Format(time.RFC3339),
		TrialExpiresAt: a.TrialExpiresAt.Format(time.RFC3339),
	}
	if a.ConvertedAt != nil {
		resp.ConvertedAt = a.ConvertedAt.Format(time.RFC3339)
	}
	return resp
}

type commissionResponse struct {
	ID              string `json:"id"`
	ReferralID      string `json:"referral_id"`
	RevenueCents    int64  `json:"revenue_cents"`
	CommissionCents int64  `json:"commission_cents"`
	Status          string `json:"status"`
	TransferredAt   string `json:"transferred_at,omitempty"`
	CreatedAt       string `json:"created_at"`
}

func toCommissionResponse(c ledger.Commission) commissionResponse {
	resp := commissionResponse{
		ID:              c.ID,
		ReferralID:      c.ReferralID,
		RevenueCents:    c.RevenueCents,
		CommissionCents: c.CommissionCents,
		Status:          string(c.Status),
		CreatedAt:       c.CreatedAt.Format(time.RFC3339),
	}
	if c.TransferredAt != nil {
		resp.TransferredAt = c.TransferredAt.Format(time.RFC3339)
	}
	return resp
}
