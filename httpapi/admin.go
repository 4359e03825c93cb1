package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"partnerflow/partner"
)

func (s *Server) handleAdminListPartners(c *gin.Context) {
	filters := partner.Filters{Status: partner.Status(c.Query("status"))}

	partners, err := s.partnerService.List(c.Request.Context(), filters)
	if err != nil {
		s.renderError(c, err)
		return
	}

	responses := make([]partnerResponse, 0, len(partners))
	for _, p := range partners {
		responses = append(responses, toPartnerResponse(p))
	}
	c.JSON(http.StatusOK, gin.H{"partners": responses})
}

type reviewRequest struct {
	Decision string `json:"decision"`
	Reason   string `json:"reason"`
}

func (s *Server) handleAdminReview(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Decision == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "decision is required"})
		return
	}

	updated, err := s.partnerService.Review(c.Request.Context(), c.Param("id"), partner.Decision(req.Decision), req.Reason)
	if err != nil {
		s.renderError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"partner": toPartnerResponse(updated)})
}

func (s *Server) handleAdminRebuildTotals(c *gin.Context) {
	updated, err := s.partnerService.RebuildTotals(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"partner": toPartnerResponse(updated)})
}

func (s *Server) handleAdminTransfer(c *gin.Context) {
	updated, err := s.payoutService.Transfer(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": toCommissionResponse(updated)})
}

func (s *Server) handleAdminForceFail(c *gin.Context) {
	updated, err := s.ledgerService.ForceFailed(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"commission": toCommissionResponse(updated)})
}
