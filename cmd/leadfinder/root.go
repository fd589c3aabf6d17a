package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/lead-finder/internal/config"
	"github.com/JakeFAU/lead-finder/internal/logging"
	"github.com/JakeFAU/lead-finder/internal/server"
)

type appKeyType string

const appKey appKeyType = "app"

// newApp builds the application for a command. Tests swap it for a factory
// that seeds an in-memory repository.
var newApp = server.Build

type rootOptions struct {
	configFile string
	envFiles   []string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "leadfinder",
		Short: "Find, validate and contact textile industry leads",
		Long: `leadfinder discovers textile businesses through search engines and
business directories, validates their contact emails, stores them in a
deduplicated lead database and runs throttled outreach campaigns.`,
		SilenceUsage:  true,
		SilenceErrors: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.setup(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			closeApp(cmd.Context())
		},
	}

	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (YAML)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", []string{".env"}, "dotenv files loaded before the config")

	cmd.AddCommand(
		newServeCmd(),
		newSearchCmd(),
		newBulkSearchCmd(),
		newEnrichCmd(),
		newCampaignCmd(),
		newStatsCmd(),
		newLeadsCmd(),
	)
	return cmd
}

func (o *rootOptions) setup(cmd *cobra.Command) error {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return err
	}
	if f := cmd.Flags().Lookup("dry-run"); f != nil && f.Changed {
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		cfg.Campaign.DryRun = dryRun
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
	}

	logger, err := logging.New(cfg.Logging.Development, cfg.Logging.Level)
	if err != nil {
		return err
	}
	zap.ReplaceGlobals(logger)
	logger = logging.Batch(logger, cmd.Name(), uuid.NewString())

	app, err := newApp(cmd.Context(), &cfg, logger)
	if err != nil {
		_ = logger.Sync()
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	cmd.SetContext(context.WithValue(cmd.Context(), appKey, app))
	return nil
}

func closeApp(ctx context.Context) {
	app, ok := ctx.Value(appKey).(*server.App)
	if !ok || app == nil {
		return
	}
	if err := app.Close(); err != nil {
		app.Logger().Warn("close application", zap.Error(err))
	}
	_ = app.Logger().Sync()
}

func resolveApp(ctx context.Context) (*server.App, error) {
	app, ok := ctx.Value(appKey).(*server.App)
	if !ok || app == nil {
		return nil, errors.New("application services not initialized")
	}
	return app, nil
}

// printJSON writes v as indented JSON, the output format of every batch command.
func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	return nil
}
