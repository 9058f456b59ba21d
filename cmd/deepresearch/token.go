package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/deepresearch/config"
	srv "github.com/mohammad-safakhou/deepresearch/internal/server"
)

func tokenCMD() *cobra.Command {
	var cfgPath string
	var subject string
	var ttl time.Duration
	var token = &cobra.Command{
		Use:   "token",
		Short: "Issue an API token signed with server.jwt_secret",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("jwt secret not configured (server.jwt_secret)")
			}
			signed, err := srv.SignToken(subject, []byte(cfg.Server.JWTSecret), ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), signed)
			return nil
		},
	}
	token.Flags().StringVar(&subject, "subject", "cli", "token subject")
	token.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "token lifetime")
	token.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return token
}
