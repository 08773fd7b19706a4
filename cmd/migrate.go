package main

import (
	"errors"
	"log/slog"

	"github.com/spf13/cobra"

	"photopipe/internal/models"
	"photopipe/internal/storage"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Applies the photo table migrations and exits",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		if cfg.Table.Backend != models.TableBackendPostgres {
			return errors.New("migrate only applies to the postgres table backend")
		}
		if err := storage.Migrate(cmd.Context(), cfg.Table.DatabaseURL); err != nil {
			return err
		}
		slog.Info("✓ migrations complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}
