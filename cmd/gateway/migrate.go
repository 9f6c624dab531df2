package main

import (
	"github.com/spf13/cobra"

	"github.com/Legimus-AI/notifications-for-fun-sub000/internal/db"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending database migrations and exit",
	RunE: func(_ *cobra.Command, _ []string) error {
		cfg, err := provideConfig()
		if err != nil {
			return err
		}
		return db.Migrate(provideLogger(cfg), cfg.Postgres)
	},
}
