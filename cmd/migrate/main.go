package main

import (
	"context"
	"database/sql"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/hostelsync/hostelsync-backend/pkg/config"
	"github.com/hostelsync/hostelsync-backend/pkg/db"
	"github.com/hostelsync/hostelsync-backend/pkg/logger"
	"github.com/hostelsync/hostelsync-backend/pkg/migrate"
)

type migrateFlags struct {
	dir      string
	embedded bool
}

func main() {
	_ = godotenv.Load()

	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var flags migrateFlags

	rootCmd := &cobra.Command{
		Use:          "migrate",
		Short:        "Manage the positions and outbox schema",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&flags.dir, "dir", migrate.DefaultDir, "goose migrations directory")
	rootCmd.PersistentFlags().BoolVar(&flags.embedded, "embedded", false, "use the migrations compiled into this binary instead of --dir")

	for _, command := range []string{"up", "down", "status"} {
		command := command
		rootCmd.AddCommand(&cobra.Command{
			Use:   command,
			Short: "goose " + command,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return withDB(cmd.Context(), command, flags, func(ctx context.Context, sqlDB *sql.DB) error {
					if flags.embedded {
						return migrate.RunEmbedded(ctx, sqlDB, command)
					}
					return migrate.Run(ctx, sqlDB, flags.dir, command)
				})
			},
		})
	}

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version <YYYYMMDDHHMMSS>",
		Short: "Migrate up or down to an exact version",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withDB(cmd.Context(), "version", flags, func(ctx context.Context, sqlDB *sql.DB) error {
				return migrate.MigrateToVersion(ctx, sqlDB, flags.dir, args[0])
			})
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Scaffold a timestamped SQL migration",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := migrate.CreateSQLMigration(flags.dir, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "created migration:", path)
			return nil
		},
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Check migration names and goose markers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			validate := func() error { return migrate.ValidateDir(flags.dir) }
			if flags.embedded {
				validate = migrate.ValidateEmbedded
			}
			if err := validate(); err != nil {
				return fmt.Errorf("migration validation failed: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "migration validation passed")
			return nil
		},
	})

	return rootCmd
}

func withDB(ctx context.Context, command string, flags migrateFlags, fn func(context.Context, *sql.DB) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	logg := logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})
	ctx = logg.WithFields(ctx, map[string]any{
		"env":      cfg.App.Env,
		"cmd":      command,
		"dir":      flags.dir,
		"embedded": flags.embedded,
	})

	dbClient, err := db.New(ctx, cfg.DB, logg)
	if err != nil {
		logg.Error(ctx, "resource not working: database", err)
		return err
	}
	defer dbClient.Close()

	sqlDB, err := dbClient.DB().DB()
	if err != nil {
		logg.Error(ctx, "resource not working: sql database", err)
		return err
	}

	logg.Info(ctx, "migrate.start")
	if err := fn(ctx, sqlDB); err != nil {
		logg.Error(ctx, "migrate.failed", err)
		return fmt.Errorf("goose %s: %w", command, err)
	}
	logg.Info(ctx, "migrate.done")
	return nil
}
