package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	"github.com/mohammad-safakhou/deepresearch/internal/app"
)

func clarifyCMD() *cobra.Command {
	var cfgPath string
	var clarify = &cobra.Command{
		Use:   "clarify <query>",
		Short: "Print three clarifying questions for a query",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(cfgPath)
			if err != nil {
				return err
			}
			a, err := app.Build(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close(cmd.Context())

			q, err := a.Runner.Clarify(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			for i, question := range q.List() {
				fmt.Fprintf(cmd.OutOrStdout(), "%d) %s\n", i+1, question)
			}
			return nil
		},
	}
	clarify.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return clarify
}
