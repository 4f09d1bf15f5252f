package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"edurag/internal/storage"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			dbType := cfg.BasicConfig.Database
			db, err := storage.Open(dbType, cfg)
			if err != nil {
				return fmt.Errorf("open database: %w", err)
			}
			defer db.Close()
			if err := storage.Migrate(db, dbType); err != nil {
				return fmt.Errorf("migrate database: %w", err)
			}
			log.Info("database migrated", "driver", dbType)
			return nil
		},
	}
}
