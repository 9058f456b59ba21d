package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

func migrateCMD() *cobra.Command {
	var migDir string
	var steps int
	var cfgPath string

	var migrate = &cobra.Command{
		Use:       "migrate [up|down]",
		Short:     "Run database migrations",
		Args:      cobra.MatchAll(cobra.MaximumNArgs(1), cobra.OnlyValidArgs),
		ValidArgs: []string{"up", "down"},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
			}
			direction := "up"
			if len(args) == 1 {
				direction = args[0]
			}
			if migDir == "" {
				migDir = cfg.Storage.Migrations
			}
			if err := store.Migrate(migDir, cfg.Storage.Postgres.DSN(), direction, steps); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "migrations %s applied\n", direction)
			return nil
		},
	}
	migrate.Flags().StringVar(&migDir, "dir", "", "migrations source (default storage.migrations)")
	migrate.Flags().IntVar(&steps, "steps", 0, "number of steps (0 = all)")
	migrate.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return migrate
}
