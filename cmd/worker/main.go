package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"partnerflow/config"
	"partnerflow/db"
	"partnerflow/ledger"
	"partnerflow/logging"
	"partnerflow/partner"
	"partnerflow/payout"
	"partnerflow/reconcile"
)

func main() {
	app := &cli.App{
		Name:  "partnerflow-worker",
		Usage: "runs the scheduled payout sweep and reconciliation jobs",
		Commands: []*cli.Command{
			{
				Name:   "run",
				Usage:  "start the job scheduler and block until interrupted",
				Action: runScheduler,
			},
			{
				Name:   "sweep",
				Usage:  "execute one payout sweep and exit",
				Action: runOnce((*reconcile.Service).Sweep),
			},
			{
				Name:   "reconcile",
				Usage:  "execute one reconciliation pass and exit",
				Action: runOnce((*reconcile.Service).Reconcile),
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

type deps struct {
	logger *zap.Logger
	pool   interface{ Close() }
	svc    *reconcile.Service
	cfg    *config.Config
}

func setup(ctx context.Context) (*deps, error) {
	//nolint:errcheck
	godotenv.Load()

	cfg := config.Load()

	logger, err := logging.New(cfg.Production())
	if err != nil {
		return nil, err
	}

	pool, err := db.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}

	partnerRepo := partner.NewRepository(pool)
	ledgerSvc := ledger.NewService(pool, nil, cfg.CommissionRateBps)
	processor := payout.NewRESTProcessor(cfg.ProcessorBaseURL, cfg.ProcessorAPIKey, cfg.ProcessorTimeout)
	payoutSvc := payout.NewService(partnerRepo, ledgerSvc, processor, logger)

	svc := reconcile.NewService(ledgerSvc, payoutSvc, processor, logger, cfg.ReconcileStaleAfter, cfg.ReconcileWindow)

	return &deps{logger: logger, pool: pool, svc: svc, cfg: cfg}, nil
}

func runScheduler(c *cli.Context) error {
	d, err := setup(c.Context)
	if err != nil {
		return err
	}
	defer d.pool.Close()
	defer d.logger.Sync()

	runner, err := reconcile.NewRunner(d.svc, d.cfg.SweepSchedule, d.cfg.ReconcileSchedule, d.logger)
	if err != nil {
		return err
	}
	runner.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	runner.Stop()
	return nil
}

func runOnce(job func(*reconcile.Service, context.Context) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		d, err := setup(c.Context)
		if err != nil {
			return err
		}
		defer d.pool.Close()
		defer d.logger.Sync()

		return job(d.svc, c.Context)
	}
}
