// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package cli

import (
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/tomtom215/lodestar/internal/auth"
	"github.com/tomtom215/lodestar/internal/tenant"
)

func newTokenCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
	}

	var (
		tenantID string
		role     string
		subject  string
		ttl      time.Duration
	)
	issue := &cobra.Command{
		Use:   "issue",
		Short: "Issue a bearer token for one tenant and role",
		Long: `Issue a bearer token signed with JWT_SECRET.

frontoffice tokens record interactions and read rankings; backoffice
tokens manage documents.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sec := opts.cfg.Security
			if sec.JWTSecret == "" {
				return errors.New("JWT_SECRET is not configured")
			}
			tc, err := tenant.New(tenantID)
			if err != nil {
				return err
			}
			r, err := auth.ParseRole(role)
			if err != nil {
				return err
			}
			if ttl <= 0 {
				ttl = sec.TokenTTL
			}

			manager, err := auth.NewJWTManager(sec.JWTSecret, sec.JWTIssuer, ttl)
			if err != nil {
				return err
			}
			token, err := manager.GenerateToken(subject, tc.ID, r)
			if err != nil {
				return err
			}
			return opts.print(cmd, map[string]any{
				"token":      token,
				"tenant":     tc.ID,
				"role":       string(r),
				"subject":    subject,
				"expires_in": ttl.String(),
			}, token)
		},
	}
	issue.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant the token is scoped to (required)")
	issue.Flags().StringVarP(&role, "role", "r", string(auth.RoleFrontoffice), "frontoffice or backoffice")
	issue.Flags().StringVarP(&subject, "subject", "s", "lodestarctl", "Token subject, e.g. the calling service")
	issue.Flags().DurationVar(&ttl, "ttl", 0, "Token lifetime (default: TOKEN_TTL)")
	_ = issue.MarkFlagRequired("tenant")

	cmd.AddCommand(issue)
	return cmd
}
