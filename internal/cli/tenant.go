// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package cli

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomtom215/lodestar/internal/tenant"
)

func newTenantCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tenant",
		Short: "Manage tenants",
		Long:  "Create, delete and list tenants. A tenant must exist before the API accepts requests for it.",
	}

	create := &cobra.Command{
		Use:   "create [tenant-id]",
		Short: "Create a tenant and migrate its schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := tenant.New(args[0])
			if err != nil {
				return err
			}
			backend, err := opts.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.CreateTenant(cmd.Context(), tc); err != nil {
				return fmt.Errorf("create tenant %s: %w", tc.ID, err)
			}
			return opts.print(cmd, map[string]any{"tenant": tc.ID, "schema": tc.Schema, "created": true},
				fmt.Sprintf("Tenant %s ready (schema %s)", tc.ID, tc.Schema))
		},
	}

	var confirmed bool
	remove := &cobra.Command{
		Use:   "delete [tenant-id]",
		Short: "Delete a tenant and all of its data",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := tenant.New(args[0])
			if err != nil {
				return err
			}
			if !confirmed {
				return errors.New("deleting a tenant drops all of its data; pass --yes to confirm")
			}
			backend, err := opts.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			if err := backend.DeleteTenant(cmd.Context(), tc); err != nil {
				return fmt.Errorf("delete tenant %s: %w", tc.ID, err)
			}
			return opts.print(cmd, map[string]any{"tenant": tc.ID, "deleted": true},
				fmt.Sprintf("Tenant %s deleted", tc.ID))
		},
	}
	remove.Flags().BoolVarP(&confirmed, "yes", "y", false, "Confirm deletion")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tenants",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			backend, err := opts.openBackend(cmd.Context())
			if err != nil {
				return err
			}
			defer backend.Close()

			ids, err := backend.ListTenants(cmd.Context())
			if err != nil {
				return fmt.Errorf("list tenants: %w", err)
			}
			if ids == nil {
				ids = []string{}
			}
			text := "No tenants"
			if len(ids) > 0 {
				text = strings.Join(ids, "\n")
			}
			return opts.print(cmd, map[string]any{"tenants": ids}, text)
		},
	}

	cmd.AddCommand(create, remove, list)
	return cmd
}
