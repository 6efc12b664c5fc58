package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/irfndi/celebrum-research/internal/config"
	"github.com/irfndi/celebrum-research/internal/middleware"
)

func newTokenCmd(a *app) *cobra.Command {
	var (
		subject string
		scopes  []string
		ttl     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a JWT for the research API",
		Long: `Sign a bearer token with security.jwt_secret (or JWT_SECRET).

Examples:
  research token --subject analyst
  research token --subject ops --scope admin --ttl 1h`,
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := a.cfg.Security.JWTSecret
			if secret == "" {
				return errors.New("JWT_SECRET is not configured")
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = config.Duration(a.cfg.Security.JWTExpiry, ttl)
			}
			token, err := middleware.NewAuthMiddleware(secret).GenerateToken(subject, scopes, ttl)
			if err != nil {
				return fmt.Errorf("failed to sign token: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), token)
			return err
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "Token subject")
	cmd.Flags().StringSliceVar(&scopes, "scope", []string{middleware.ScopeResearch}, "Granted scopes")
	cmd.Flags().DurationVar(&ttl, "ttl", 24*time.Hour, "Token lifetime")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}
