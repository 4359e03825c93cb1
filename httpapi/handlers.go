package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"partnerflow/auth"
	"partnerflow/partner"
)

func (s *Server) handleLogin(c *gin.Context) {
	var req auth.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email and password are required"})
		return
	}

	session, err := s.authService.Authenticate(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		s.renderError(c, err)
		return
	}

	s.setSessionCookie(c, session.Token)
	c.JSON(http.StatusOK, gin.H{"partner": toPartnerResponse(session.Partner)})
}

func (s *Server) handleLogout(c *gin.Context) {
	s.clearSessionCookie(c)
	c.Status(http.StatusNoContent)
}

func (s *Server) handleWhoAmI(c *gin.Context) {
	identity := currentIdentity(c)
	c.JSON(http.StatusOK, gin.H{
		"partner_id":   identity.PartnerID,
		"email":        identity.Email,
		"display_name": identity.DisplayName,
	})
}

func (s *Server) handleStats(c *gin.Context) {
	ctx := c.Request.Context()
	identity := currentIdentity(c)

	p, err := s.partnerService.Get(ctx, identity.PartnerID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	summary, err := s.ledgerService.Summarize(ctx, p.ID)
	if err != nil {
		s.renderError(c, err)
		return
	}

	referrals, err := s.referralService.List(ctx, p.ID, 20)
	if err != nil {
		s.renderError(c, err)
		return
	}

	commissions, err := s.ledgerService.ListRecent(ctx, p.ID, 20)
	if err != nil {
		s.renderError(c, err)
		return
	}

	refResponses := make([]referralResponse, 0, len(referrals))
	for _, r := range referrals {
		refResponses = append(refResponses, toReferralResponse(r))
	}
	comResponses := make([]commissionResponse, 0, len(commissions))
	for _, cm := range commissions {
		comResponses = append(comResponses, toCommissionResponse(cm))
	}

	c.JSON(http.StatusOK, gin.H{
		"partner":     toPartnerResponse(p),
		"earnings":    summary,
		"referrals":   refResponses,
		"commissions": comResponses,
	})
}

type connectRequest struct {
	ReturnURL  string `json:"return_url"`
	RefreshURL string `json:"refresh_url"`
}

func (s *Server) handlePayoutConnect(c *gin.Context) {
	var req connectRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.ReturnURL == "" || req.RefreshURL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "return_url and refresh_url are required"})
		return
	}

	identity := currentIdentity(c)
	link, err := s.payoutService.OnboardingLink(c.Request.Context(), identity.PartnerID, req.ReturnURL, req.RefreshURL)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"url": link})
}

func (s *Server) handlePayoutStatus(c *gin.Context) {
	identity := currentIdentity(c)

	status, err := s.payoutService.Status(c.Request.Context(), identity.PartnerID)
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, status)
}

func (s *Server) handleApply(c *gin.Context) {
	var params partner.ApplicationParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid application payload"})
		return
	}

	created, err := s.partnerService.SubmitApplication(c.Request.Context(), params)
	if err != nil {
		s.renderError(c, err)
		return
	}

	// Promo code stays private until approval.
	c.JSON(http.StatusCreated, gin.H{
		"id":     created.ID,
		"status": string(created.Status),
	})
}

type signupRequest struct {
	PromoCode string `json:"promo_code"`
	TrialDays int    `json:"trial_days"`
}

func (s *Server) handleSignup(c *gin.Context) {
	var req signupRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.PromoCode == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "promo_code is required"})
		return
	}

	ref, err := s.referralService.RecordSignup(c.Request.Context(), req.PromoCode, req.TrialDays)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{
		"referral_id":      ref.ID,
		"trial_expires_at": ref.TrialExpiresAt,
	})
}

func (s *Server) setSessionCookie(c *gin.Context, token string) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, token, int(s.authService.TTL().Seconds()), "/", "", s.secureCookies, true)
}

func (s *Server) clearSessionCookie(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(SessionCookie, "", -1, "/", "", s.secureCookies, true)
}
