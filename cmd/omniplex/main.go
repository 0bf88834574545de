// Package main is the Omniplex backend entry point.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/omniplex-ai/omniplex/internal/app"
	"github.com/omniplex-ai/omniplex/internal/app/storage/postgres"
	"github.com/omniplex-ai/omniplex/internal/config"
	"github.com/omniplex-ai/omniplex/internal/logging"
)

// Version is stamped at build time with -ldflags "-X main.Version=...".
var Version = "dev"

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "omniplex",
		Short:         "Omniplex answer engine backend",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")

	cmd.AddCommand(serveCmd(&configPath), migrateCmd(&configPath), versionCmd())
	return cmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "omniplex %s\n", Version)
		},
	}
}

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			logger := logging.New(logging.Config{Service: "omniplex", Level: cfg.Log.Level, Format: cfg.Log.Format})

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			application, err := app.New(ctx, cfg, app.Options{Logger: logger, Version: Version})
			if err != nil {
				return fmt.Errorf("initialize: %w", err)
			}
			defer func() {
				if err := application.Close(); err != nil {
					logger.WithError(err).Warn("close failed")
				}
			}()
			return application.Run(ctx)
		},
	}
}

func migrateCmd(configPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the Postgres schema",
	}

	withDB := func(fn func(store *postgres.Store) error) error {
		cfg, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if cfg.Store.DatabaseURL == "" {
			return fmt.Errorf("store.database_url is required for migrations")
		}
		store, err := postgres.Open(context.Background(), cfg.Store.DatabaseURL)
		if err != nil {
			return err
		}
		defer store.Close()
		return fn(store)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(store *postgres.Store) error {
				return postgres.MigrateUp(store.DB())
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "down [steps]",
		Short: "Roll back migrations (default 1 step)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			steps, err := parseSteps(args)
			if err != nil {
				return err
			}
			return withDB(func(store *postgres.Store) error {
				return postgres.MigrateDown(store.DB(), steps)
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the applied schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(func(store *postgres.Store) error {
				version, dirty, err := postgres.MigrationVersion(store.DB())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "version %d (dirty: %t)\n", version, dirty)
				return nil
			})
		},
	})
	return cmd
}

func parseSteps(args []string) (int, error) {
	if len(args) == 0 {
		return 1, nil
	}
	steps, err := strconv.Atoi(args[0])
	if err != nil || steps <= 0 {
		return 0, fmt.Errorf("steps must be a positive integer, got %q", args[0])
	}
	return steps, nil
}
