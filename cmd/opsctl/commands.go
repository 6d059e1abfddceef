package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"quiz-subscription-engine/internal/application"
	"quiz-subscription-engine/internal/config"
	pg "quiz-subscription-engine/internal/infra/db/postgres"
	"quiz-subscription-engine/internal/infra/logging"
	"quiz-subscription-engine/internal/infra/sched"
)

type globalOptions struct {
	configPath string
	dev        bool
}

func (o *globalOptions) load() (*config.Config, *zerolog.Logger, error) {
	cfg, err := config.LoadConfig(o.configPath, o.dev)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}
	// Keep stdout clean for JSON output.
	logger := logging.New(cfg.Log, cfg.Runtime.Dev).Output(os.Stderr)
	return cfg, &logger, nil
}

func withApp(ctx context.Context, o *globalOptions, fn func(ctx context.Context, app *application.App) error) error {
	cfg, logger, err := o.load()
	if err != nil {
		return err
	}
	app, err := application.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

func migrateCmd(o *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := o.load()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			pool, err := pg.NewPgxPool(ctx, cfg.Database)
			if err != nil {
				return err
			}
			defer pool.Close()
			return pg.Migrate(ctx, pool, cfg.Database.MigrationsTable, logger)
		},
	}
}

var jobHelp = map[string]string{
	sched.JobBilling:   "Charge merchant-billed subscriptions whose period has ended",
	sched.JobGC:        "Delete finished checkout attempts past retention",
	sched.JobReconcile: "Re-check stale step-up attempts with the provider",
	sched.JobStats:     "Refresh subscription and pool gauges",
}

func jobCmds(o *globalOptions) []*cobra.Command {
	names := []string{sched.JobBilling, sched.JobGC, sched.JobReconcile, sched.JobStats}
	cmds := make([]*cobra.Command, 0, len(names))
	for _, name := range names {
		name := name
		cmds = append(cmds, &cobra.Command{
			Use:   name,
			Short: jobHelp[name],
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return withApp(cmd.Context(), o, func(ctx context.Context, app *application.App) error {
					res, err := app.Jobs.Run(ctx, name)
					if err != nil {
						return err
					}
					return printJSON(cmd, map[string]any{
						"job":     res.Job,
						"summary": res.Summary,
						"took_ms": res.Took.Milliseconds(),
					})
				})
			},
		})
	}
	return cmds
}

func mintTokenCmd(o *globalOptions) *cobra.Command {
	var subject string
	cmd := &cobra.Command{
		Use:   "mint-admin-token",
		Short: "Issue a signed admin API token",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := o.load()
			if err != nil {
				return err
			}
			token, exp, err := (&application.App{Config: cfg}).AuthManager().Mint(subject)
			if err != nil {
				return err
			}
			return printJSON(cmd, map[string]any{
				"token":      token,
				"expires_at": exp.UTC().Format(time.RFC3339),
			})
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "operator identity recorded in the token")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
