// Package cmd defines the hidden-spot command line.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/hidden-spot/internal/app"
	"github.com/JakeFAU/hidden-spot/internal/config"
	"github.com/JakeFAU/hidden-spot/internal/logging"
)

var cfgFile string

type appKeyType string

const appKey appKeyType = "app"

// newApp is a variable so tests can swap the factory.
var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app.App, error) {
	return app.Build(ctx, cfg, logger)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "hidden-spot",
		Short: "Place review ingestion and serving.",
		Long: `hidden-spot crawls place pages, stores raw and parsed reviews in a
bronze/silver/gold lake, summarizes them with a generative model and serves
the result as a restaurant projection.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				return err
			}
			zap.ReplaceGlobals(logger)

			instance, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, instance))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if instance, ok := cmd.Context().Value(appKey).(*app.App); ok && instance != nil {
				instance.Close(context.Background())
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (env HIDDENSPOT_* overrides)")
	cmd.AddCommand(newServeCmd(), newWorkerCmd(), newBackfillCmd(), newMigrateCmd())
	return cmd
}

func appFrom(cmd *cobra.Command) (*app.App, error) {
	instance, ok := cmd.Context().Value(appKey).(*app.App)
	if !ok || instance == nil {
		return nil, errors.New("application not initialized")
	}
	return instance, nil
}

// Execute runs the root command.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		zap.L().Error("command execution failed", zap.Error(err))
		os.Exit(1)
	}
}
