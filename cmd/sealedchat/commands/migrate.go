package commands

import (
	"github.com/spf13/cobra"

	"github.com/Chase-Garrett/sealedchat/internal/config"
	"github.com/Chase-Garrett/sealedchat/internal/store"
)

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := loadConfig(func(c *config.Config) error { return c.Database.Validate() })
			if err != nil {
				return err
			}

			db, err := store.Open(cfg.Database.Path)
			if err != nil {
				return err
			}
			defer db.Close()

			version, err := db.SchemaVersion()
			if err != nil {
				return err
			}
			log.WithField("path", cfg.Database.Path).WithField("version", version).Info("schema up to date")
			return nil
		},
	}
}
