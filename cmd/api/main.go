package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"partnerflow/auth"
	"partnerflow/config"
	"partnerflow/db"
	"partnerflow/httpapi"
	"partnerflow/ledger"
	"partnerflow/logging"
	"partnerflow/notify"
	"partnerflow/partner"
	"partnerflow/payout"
	"partnerflow/referral"
)

func main() {
	//nolint:errcheck
	godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(cfg.Production())
	if err != nil {
		log.Fatalf("bootstrap logger: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		logger.Fatal("bootstrap database pool", zap.Error(err))
	}
	defer pool.Close()

	if err := db.Migrate(ctx, pool); err != nil {
		logger.Fatal("apply migrations", zap.Error(err))
	}

	partnerRepo := partner.NewRepository(pool)
	notifySvc := notify.NewService(
		notify.NewRepository(pool),
		notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			User:     cfg.SMTPUser,
			Password: cfg.SMTPPass,
			From:     cfg.EmailFrom,
		}),
		logger,
	)

	partnerSvc := partner.NewService(partnerRepo, notifySvc, logger)
	authSvc := auth.NewService(partnerRepo, cfg.JWTSecret, cfg.SessionTTL)
	ledgerSvc := ledger.NewService(pool, nil, cfg.CommissionRateBps)
	referralSvc := referral.NewService(pool, nil, partnerRepo, ledgerSvc, cfg.DefaultTrialDays, cfg.ExtendedTrialDays)

	processor := payout.NewRESTProcessor(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)
	payoutSvc := payout.NewService(partnerRepo, ledgerSvc, processor, logger)

	server := httpapi.NewServer(authSvc, partnerSvc, referralSvc, ledgerSvc, payoutSvc, logger, httpapi.Options{
		AdminAPIKey:   cfg.AdminAPIKey,
		SecureCookies: cfg.Production(),
		AllowOrigins:  cfg.AllowedOrigins,
	})

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("api listening", zap.String("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("http server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
	logger.Info("api stopped")
}
