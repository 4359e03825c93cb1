package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Event delivery boundary. Upstream billing delivers these at least once.
// A replayed conversion returns 2xx with the existing referral; a replayed
// refund hits the clawback state guard and returns 409. Neither moves money
// twice.

type conversionEvent struct {
	ReferralID   string `json:"referral_id"`
	RevenueCents int64  `json:"revenue_cents"`
}

func (s *Server) handleConversionEvent(c *gin.Context) {
	var evt conversionEvent
	if err := c.ShouldBindJSON(&evt); err != nil || evt.ReferralID == "" || evt.RevenueCents <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "referral_id and positive revenue_cents are required"})
		return
	}

	ref, err := s.referralService.RecordConversion(c.Request.Context(), evt.ReferralID, evt.RevenueCents)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"referral_id":  ref.ID,
		"converted_at": ref.ConvertedAt,
	})
}

type refundEvent struct {
	CommissionID string `json:"commission_id"`
	Reason       string `json:"reason"`
}

func (s *Server) handleRefundEvent(c *gin.Context) {
	var evt refundEvent
	if err := c.ShouldBindJSON(&evt); err != nil || evt.CommissionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "commission_id is required"})
		return
	}

	adj, err := s.ledgerService.RecordClawback(c.Request.Context(), evt.CommissionID, evt.Reason)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"adjustment_id": adj.ID,
		"amount_cents":  adj.AmountCents,
	})
}
