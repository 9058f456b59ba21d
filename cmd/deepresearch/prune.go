package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/store"
)

type runPruner interface {
	PruneBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

func pruneCMD() *cobra.Command {
	var olderThan time.Duration
	var cfgPath string

	var prune = &cobra.Command{
		Use:   "prune",
		Short: "Delete run history older than a cutoff",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if !cfg.Storage.Postgres.Enabled() {
				return fmt.Errorf("postgres not configured (storage.postgres.host/dbname or url)")
			}
			st, err := store.Open(cmd.Context(), cfg.Storage.Postgres.DSN(), nil)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := pruneRuns(cmd.Context(), st, olderThan, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "pruned %d runs\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 30*24*time.Hour, "delete runs finished before now minus this duration")
	prune.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return prune
}

func pruneRuns(ctx context.Context, p runPruner, olderThan time.Duration, now time.Time) (int64, error) {
	if olderThan <= 0 {
		return 0, fmt.Errorf("--older-than must be positive, got %s", olderThan)
	}
	return p.PruneBefore(ctx, now.Add(-olderThan).UTC())
}
