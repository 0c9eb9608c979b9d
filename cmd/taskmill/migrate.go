// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Taskmill Contributors

package main

import (
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/taskmill/taskmill/internal/store"
)

// migrator is the subset of *store.Migrator the migrate commands use.
type migrator interface {
	Up() error
	Down() error
	Steps(n int) error
	Force(version int) error
	Status() (store.MigrationStatus, error)
	Close() error
}

// MigratorFactory opens a migrator for a database URL.
// Default: store.NewMigrator
type MigratorFactory func(databaseURL string) (migrator, error)

var migrateFlagKeys = map[string]string{
	"database-url": "database.url",
}

func defaultMigratorFactory(databaseURL string) (migrator, error) {
	return store.NewMigrator(databaseURL)
}

// NewMigrateCmd creates the migrate subcommand.
func NewMigrateCmd() *cobra.Command {
	return newMigrateCmd(defaultMigratorFactory)
}

func newMigrateCmd(factory MigratorFactory) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
		Long:  `Apply, roll back and inspect the embedded PostgreSQL schema migrations.`,
	}
	cmd.PersistentFlags().String("database-url", "", "PostgreSQL URL (default: database.url from config)")

	cmd.AddCommand(newMigrateUpCmd(factory))
	cmd.AddCommand(newMigrateDownCmd(factory))
	cmd.AddCommand(newMigrateVersionCmd(factory))
	cmd.AddCommand(newMigrateForceCmd(factory))
	return cmd
}

func newMigrateUpCmd(factory MigratorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m migrator) error {
				cmd.Println("Running migrations...")
				if err := m.Up(); err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "run migrations").Wrap(err)
				}
				return printStatus(cmd, m)
			})
		},
	}
}

func newMigrateDownCmd(factory MigratorFactory) *cobra.Command {
	var (
		steps int
		all   bool
	)
	cmd := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		Long: `Roll back the most recent migrations, one by default. With --all every
migration is rolled back and all users and tokens are dropped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !all && steps < 1 {
				return oops.Code("CONFIG_INVALID").
					With("key", "steps").
					Errorf("steps must be at least 1, got %d", steps)
			}
			return withMigrator(cmd, factory, func(m migrator) error {
				var err error
				if all {
					cmd.Println("Rolling back all migrations...")
					err = m.Down()
				} else {
					cmd.Printf("Rolling back %d migration(s)...\n", steps)
					err = m.Steps(-steps)
				}
				if err != nil {
					return oops.Code("MIGRATION_FAILED").With("operation", "roll back migrations").Wrap(err)
				}
				return printStatus(cmd, m)
			})
		},
	}
	cmd.Flags().IntVar(&steps, "steps", 1, "number of migrations to roll back")
	cmd.Flags().BoolVar(&all, "all", false, "roll back every migration")
	return cmd
}

func newMigrateVersionCmd(factory MigratorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show the current schema version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withMigrator(cmd, factory, func(m migrator) error {
				return printStatus(cmd, m)
			})
		},
	}
}

func newMigrateForceCmd(factory MigratorFactory) *cobra.Command {
	return &cobra.Command{
		Use:   "force VERSION",
		Short: "Record VERSION as applied without running it",
		Long:  `Clear a dirty flag left by a failed migration by recording VERSION as the current version.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target, err := strconv.Atoi(args[0])
			if err != nil {
				return oops.Code("INVALID_VERSION").With("version", args[0]).Wrap(err)
			}
			return withMigrator(cmd, factory, func(m migrator) error {
				if err := m.Force(target); err != nil {
					return err
				}
				return printStatus(cmd, m)
			})
		},
	}
}

// withMigrator resolves the database URL and runs fn against a migrator
// that is closed afterwards.
func withMigrator(cmd *cobra.Command, factory MigratorFactory, fn func(migrator) error) (err error) {
	cfg, err := loadConfig(cmd, migrateFlagKeys)
	if err != nil {
		return err
	}
	if cfg.Database.URL == "" {
		return oops.Code("CONFIG_INVALID").
			With("key", "database.url").
			Errorf("database url is required (--database-url or TASKMILL_DATABASE__URL)")
	}

	m, err := factory(cfg.Database.URL)
	if err != nil {
		return oops.Code("DB_CONNECT_FAILED").With("operation", "open migrator").Wrap(err)
	}
	defer func() {
		if closeErr := m.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return fn(m)
}

func printStatus(cmd *cobra.Command, m migrator) error {
	status, err := m.Status()
	if err != nil {
		return err
	}
	latest, err := store.LatestVersion()
	if err != nil {
		return err
	}

	name, err := store.MigrationName(status.Version)
	if err != nil {
		return err
	}
	if name == "" {
		name = "none"
	}
	cmd.Printf("Current version: %d (%s)\n", status.Version, name)
	cmd.Printf("Latest version:  %d\n", latest)
	if status.Dirty {
		cmd.Println("Database is dirty; fix the failed migration and run 'taskmill migrate force VERSION'")
	}
	if len(status.Pending) == 0 {
		cmd.Println("Schema is up to date")
		return nil
	}
	cmd.Printf("Pending migrations: %d\n", len(status.Pending))
	return nil
}
