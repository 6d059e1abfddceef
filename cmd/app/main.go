// File: cmd/app/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"quiz-subscription-engine/internal/application"
	"quiz-subscription-engine/internal/config"
	"quiz-subscription-engine/internal/infra/api"
	pg "quiz-subscription-engine/internal/infra/db/postgres"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/metrics"
	"quiz-subscription-engine/internal/infra/sched"
	"quiz-subscription-engine/internal/infra/scheduler"
)

// Set with -ldflags at build time.
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// ---- CLI flags ----
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	devMode := flag.Bool("dev", false, "enable developer mode (console logs, noop provider)")
	migrate := flag.Bool("migrate", false, "apply database migrations before serving")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, *devMode)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.Log, cfg.Runtime.Dev)
	if cfg.Runtime.Dev {
		logger.Warn().Msg("[DEV MODE] Enabled")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	metrics.MustRegister()
	metrics.SetBuildInfo(version, commit, cfg.Checkout.Flow)

	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("startup failed")
	}
	defer app.Close()

	if *migrate {
		if err := pg.Migrate(ctx, app.Pool, cfg.Database.MigrationsTable, logger); err != nil {
			logger.Fatal().Err(err).Msg("migrations failed")
		}
	}

	// ---- In-process jobs (disable when an external cron calls the admin job routes) ----
	if cfg.Scheduler.Enabled {
		s := scheduler.NewScheduler(
			scheduler.RunFunc(func(ctx context.Context, name string) (any, error) { return app.Jobs.Run(ctx, name) }),
			logger,
			scheduler.Entry{Job: sched.JobBilling, Interval: cfg.Scheduler.BillingInterval},
			scheduler.Entry{Job: sched.JobGC, Interval: cfg.Scheduler.GCInterval},
			scheduler.Entry{Job: sched.JobReconcile, Interval: cfg.Scheduler.ReconcileInterval},
			scheduler.Entry{Job: sched.JobStats, Interval: time.Minute},
		)
		s.Start(ctx)
		defer s.Stop()
	}

	// ---- HTTP listeners ----
	public := api.NewServer("public", cfg.HTTP.PublicAddr, app.PublicHandler(), cfg.HTTP.ReadTimeout, logger)
	admin := api.NewServer("admin", cfg.HTTP.AdminAddr, app.AdminHandler(), cfg.HTTP.ReadTimeout, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(public.Start)
	g.Go(admin.Start)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutdown requested")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		err := public.Shutdown(shutdownCtx)
		if aErr := admin.Shutdown(shutdownCtx); err == nil {
			err = aErr
		}
		return err
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
	}
}
