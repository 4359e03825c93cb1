package httpapi

import (
	"context"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/ledger"
	"partnerflow/partner"
	"partnerflow/payout"
	"partnerflow/referral"
)

// SessionCookie is the name of the partner session cookie.
const SessionCookie = "pf_session"

// AuthService issues and validates partner sessions.
type AuthService interface {
	Authenticate(ctx context.Context, email, password string) (auth.Session, error)
	VerifyToken(token string) (auth.Identity, error)
	TTL() time.Duration
}

// PartnerService manages partner accounts.
type PartnerService interface {
	SubmitApplication(ctx context.Context, params partner.ApplicationParams) (partner.Partner, error)
	Review(ctx context.Context, partnerID string, decision partner.Decision, reason string) (partner.Partner, error)
	Get(ctx context.Context, partnerID string) (partner.Partner, error)
	List(ctx context.Context, filters partner.Filters) ([]partner.Partner, error)
	RebuildTotals(ctx context.Context, partnerID string) (partner.Partner, error)
}

// ReferralService tracks signups and conversions.
type ReferralService interface {
	RecordSignup(ctx context.Context, promoCode string, trialDays int) (referral.Referral, error)
	RecordConversion(ctx context.Context, referralID string, revenueCents int64) (referral.Referral, error)
	List(ctx context.Context, partnerID string, limit int) ([]referral.Annotated, error)
}

// LedgerService exposes commission state and aggregates.
type LedgerService interface {
	Summarize(ctx context.Context, partnerID string) (ledger.Summary, error)
	ListRecent(ctx context.Context, partnerID string, limit int) ([]ledger.Commission, error)
	RecordClawback(ctx context.Context, commissionID, reason string) (ledger.Adjustment, error)
	ForceFailed(ctx context.Context, commissionID string) (ledger.Commission, error)
}

// PayoutService drives onboarding and transfers.
type PayoutService interface {
	OnboardingLink(ctx context.Context, partnerID, returnURL, refreshURL string) (string, error)
	Status(ctx context.Context, partnerID string) (payout.OnboardingStatus, error)
	Transfer(ctx context.Context, commissionID string) (ledger.Commission, error)
}

// Server wires the HTTP surface over the domain services.
type Server struct {
	authService     AuthService
	partnerService  PartnerService
	referralService ReferralService
	ledgerService   LedgerService
	payoutService   PayoutService

	logger        *zap.Logger
	adminAPIKey   string
	secureCookies bool
	allowOrigins  []string
}

// Options carries transport-level settings.
type Options struct {
	AdminAPIKey   string
	SecureCookies bool
	AllowOrigins  []string
}

func NewServer(
	authSvc AuthService,
	partnerSvc PartnerService,
	referralSvc ReferralService,
	ledgerSvc LedgerService,
	payoutSvc PayoutService,
	logger *zap.Logger,
	opts Options,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		authService:     authSvc,
		partnerService:  partnerSvc,
		referralService: referralSvc,
		ledgerService:   ledgerSvc,
		payoutService:   payoutSvc,
		logger:          logger,
		adminAPIKey:     opts.AdminAPIKey,
		secureCookies:   opts.SecureCookies,
		allowOrigins:    opts.AllowOrigins,
	}
}

// Router builds the gin engine with all routes and middleware attached.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(s.requestLogger())
	r.Use(s.metrics())

	corsCfg := cors.DefaultConfig()
	if len(s.allowOrigins) > 0 && s.allowOrigins[0] != "*" {
		corsCfg.AllowOrigins = s.allowOrigins
		corsCfg.AllowCredentials = true
	} else {
		corsCfg.AllowAllOrigins = true
	}
	r.Use(cors.New(corsCfg))

	r.GET("/api/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api")
	{
		api.POST("/partners/apply", s.handleApply)
		api.POST("/signup", s.handleSignup)

		api.POST("/auth", s.handleLogin)
		api.DELETE("/auth", s.handleLogout)

		session := api.Group("", s.requireSession())
		{
			session.GET("/auth", s.handleWhoAmI)
			session.GET("/stats", s.handleStats)

			// Money-moving endpoints re-check partner status on every
			// request; a live token is not enough once suspended.
			payoutGroup := session.Group("/payout", s.requireActivePartner())
			{
				payoutGroup.POST("/connect", s.handlePayoutConnect)
				payoutGroup.GET("/connect", s.handlePayoutStatus)
			}
		}

		events := api.Group("/events", s.requireAdminKey())
		{
			events.POST("/conversion", s.handleConversionEvent)
			events.POST("/refund", s.handleRefundEvent)
		}

		admin := api.Group("/admin", s.requireAdminKey())
		{
			admin.GET("/partners", s.handleAdminListPartners)
			admin.PATCH("/partners/:id", s.handleAdminReview)
			admin.POST("/partners/:id/rebuild-totals", s.handleAdminRebuildTotals)
			admin.POST("/commissions/:id/transfer", s.handleAdminTransfer)
			admin.POST("/commissions/:id/fail", s.handleAdminForceFail)
		}
	}

	return r
}
