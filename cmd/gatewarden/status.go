// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatewarden Contributors

package main

import (
	"github.com/spf13/cobra"

	"github.com/gatewarden/gatewarden/internal/store"
)

// NewStatusCmd creates the status subcommand.
func NewStatusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show database schema status",
		Long:  `Show the current migration version and any pending migrations.`,
		RunE:  runStatus,
	}

	cmd.Flags().String("database.url", "", "PostgreSQL connection URL")

	return cmd
}

func runStatus(cmd *cobra.Command, _ []string) error {
	url, err := databaseURL(cmd)
	if err != nil {
		return err
	}

	migrator, err := store.NewMigrator(url)
	if err != nil {
		return err
	}
	defer func() { _ = migrator.Close() }()

	version, dirty, err := migrator.Version()
	if err != nil {
		return err
	}

	if version == 0 {
		cmd.Println("Schema version: none (no migrations applied)")
	} else {
		name, nameErr := store.MigrationName(version)
		if nameErr != nil || name == "" {
			name = "unknown"
		}
		cmd.Printf("Schema version: %d (%s)\n", version, name)
	}
	if dirty {
		cmd.Println("WARNING: schema is dirty; a migration failed partway through")
	}

	pending, err := migrator.PendingMigrations()
	if err != nil {
		return err
	}
	cmd.Printf("Pending migrations: %d\n", len(pending))

	return nil
}
