package main

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ethpandaops/metricoor/internal/migrate"
)

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the ClickHouse metrics schema",
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply all pending migrations",
			RunE: withMigrator(func(cmd *cobra.Command, m migrate.Migrator, _ logrus.FieldLogger) error {
				return m.Up(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: withMigrator(func(cmd *cobra.Command, m migrate.Migrator, _ logrus.FieldLogger) error {
				return m.Down(cmd.Context())
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "Print the current schema version",
			RunE: withMigrator(func(cmd *cobra.Command, m migrate.Migrator, log logrus.FieldLogger) error {
				v, dirty, err := m.Status(cmd.Context())
				if err != nil {
					return err
				}

				log.WithFields(logrus.Fields{
					"version": v,
					"dirty":   dirty,
				}).Info("Migration status")

				return nil
			}),
		},
	)

	return cmd
}

func withMigrator(
	fn func(cmd *cobra.Command, m migrate.Migrator, log logrus.FieldLogger) error,
) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}

		if !cfg.Sinks.ClickHouse.Enabled {
			return errors.New("sinks.clickhouse is not enabled")
		}

		if err := fn(cmd, migrate.New(log, cfg.Sinks.ClickHouse.DSN()), log); err != nil {
			return fmt.Errorf("migrating: %w", err)
		}

		return nil
	}
}
