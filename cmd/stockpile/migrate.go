package main

import (
	"github.com/alwitt/stockpile"
	"github.com/alwitt/stockpile/db"
	"github.com/apex/log"
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			persistence, err := stockpile.OpenDatabase(cfg.Database)
			if err != nil {
				return err
			}
			defer func() { _ = persistence.Close() }()

			if err := persistence.RunSQLInTransaction(cmd.Context(), db.DefineTables); err != nil {
				return err
			}
			log.WithField("type", cfg.Database.Type).Info("Database schema is up to date")
			return nil
		},
	})
}
