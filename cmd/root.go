// Package cmd defines and implements the CLI commands for the politefetch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/politefetch/internal/api"
	"github.com/JakeFAU/politefetch/internal/config"
	"github.com/JakeFAU/politefetch/internal/server"
)

var cfgFile string

// appKeyType is the key for storing the App in the context.
type appKeyType string

const appKey appKeyType = "app"

// App is what commands need from the composed application. Tests swap in
// their own through newApp.
type App interface {
	Close(ctx context.Context) error
	Logger() *zap.Logger
	Runner() api.Runner
	Run(ctx context.Context) error
}

var newApp = func(ctx context.Context, path string) (App, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return server.Build(ctx, &cfg)
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "politefetch",
		Short: "A polite, robots-aware batch fetcher.",
		Long: `politefetch fetches a list of URLs while honoring robots.txt and
per-server crawl delays, and records exactly one status per input URL.`,
		SilenceUsage: true,

		// Runs before every subcommand's RunE and injects the application.
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := newApp(cmd.Context(), cfgFile)
			if err != nil {
				return fmt.Errorf("failed to initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, appInstance))
			return nil
		},

		PersistentPostRunE: func(cmd *cobra.Command, _ []string) error {
			if appInstance, ok := cmd.Context().Value(appKey).(App); ok && appInstance != nil {
				return appInstance.Close(cmd.Context())
			}
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); POLITEFETCH_* env vars override it")

	cmd.AddCommand(newRunCmd())
	cmd.AddCommand(newServeCmd())

	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	appInstance, ok := ctx.Value(appKey).(App)
	if !ok || appInstance == nil {
		return nil, errors.New("application services not initialized")
	}
	return appInstance, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}
