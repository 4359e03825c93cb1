package httpapi

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"partnerflow/monitoring"
)

const ctxIdentity = "identity"

// requireSession authenticates the request from the session cookie and
// stores the token identity in the request context. Verification is
// stateless; no partner row is loaded here.
func (s *Server) requireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		token, err := c.Cookie(SessionCookie)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}

		identity, err := s.authService.VerifyToken(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired session"})
			return
		}

		c.Set(ctxIdentity, identity)
		c.Next()
	}
}

// requireActivePartner re-checks partner status against the store. Session
// tokens outlive suspensions, so every money-moving route carries this.
func (s *Server) requireActivePartner() gin.HandlerFunc {
	return func(c *gin.Context) {
		identity := currentIdentity(c)

		p, err := s.partnerService.Get(c.Request.Context(), identity.PartnerID)
		if err != nil {
			s.renderError(c, err)
			c.Abort()
			return
		}
		if !p.Active() {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account is not active"})
			return
		}
		c.Next()
	}
}

// requireAdminKey gates the administrative and event-delivery surface with
// a static API key, a scope separate from partner sessions.
func (s *Server) requireAdminKey() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.adminAPIKey == "" || c.GetHeader("X-Admin-Key") != s.adminAPIKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "admin credentials required"})
			return
		}
		c.Next()
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Writer.Header().Set("X-Request-ID", requestID)

		c.Next()

		s.logger.Info("http request",
			zap.String("request_id", requestID),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	}
}

func (s *Server) metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		monitoring.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method, path, strconv.Itoa(c.Writer.Status())).Inc()
		monitoring.ResponseTimeHistogram.WithLabelValues(
			c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}
