// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package cli

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"

	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/logging"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/tenant"
)

const defaultImportBatch = 100

func newDocumentCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "document",
		Short: "Manage tenant documents",
	}

	var (
		tenantID  string
		batchSize int
	)
	importCmd := &cobra.Command{
		Use:   "import [file.json]",
		Short: "Import documents from a JSON file",
		Long: `Import documents from a JSON file, or stdin when the file is "-".

The file holds either an array of documents or an object with a
"documents" array, in the shape accepted by PUT /documents. Snippets
without an embedding are embedded with the configured provider.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tc, err := tenant.New(tenantID)
			if err != nil {
				return err
			}
			if batchSize <= 0 {
				return fmt.Errorf("--batch-size must be positive, got %d", batchSize)
			}
			data, err := readInput(cmd, args[0])
			if err != nil {
				return err
			}
			docs, err := parseDocuments(data)
			if err != nil {
				return fmt.Errorf("parse %s: %w", args[0], err)
			}

			ctx := cmd.Context()
			backend, err := opts.openBackend(ctx)
			if err != nil {
				return err
			}
			defer backend.Close()

			ok, err := backend.HasTenant(ctx, tc)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("%w: %s (create it with `lodestarctl tenant create %s`)", tenant.ErrNotFound, tc.ID, tc.ID)
			}

			embedder, err := embedding.New(opts.cfg.Embedding)
			if err != nil {
				return err
			}
			service := personalize.NewDocumentService(backend, embedder, opts.cfg.Engine(), logging.WithComponent("documents"))

			imported := 0
			for start := 0; start < len(docs); start += batchSize {
				end := min(start+batchSize, len(docs))
				if err := service.Upsert(ctx, tc, docs[start:end]); err != nil {
					return fmt.Errorf("import documents %d-%d: %w", start, end-1, err)
				}
				imported = end
				logging.Info().Str("tenant", tc.ID).Int("imported", imported).Int("total", len(docs)).Msg("Batch imported")
			}
			return opts.print(cmd, map[string]any{"tenant": tc.ID, "imported": imported},
				fmt.Sprintf("Imported %d documents into %s", imported, tc.ID))
		},
	}
	importCmd.Flags().StringVarP(&tenantID, "tenant", "t", "", "Tenant to import into (required)")
	importCmd.Flags().IntVar(&batchSize, "batch-size", defaultImportBatch, "Documents per upsert")
	_ = importCmd.MarkFlagRequired("tenant")

	cmd.AddCommand(importCmd)
	return cmd
}

func readInput(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return data, nil
}

// parseDocuments accepts a bare array or a {"documents": [...]} object.
func parseDocuments(data []byte) ([]personalize.Document, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, errors.New("empty input")
	}

	var docs []personalize.Document
	if data[0] == '[' {
		if err := json.Unmarshal(data, &docs); err != nil {
			return nil, err
		}
	} else {
		var wrapped struct {
			Documents []personalize.Document `json:"documents"`
		}
		if err := json.Unmarshal(data, &wrapped); err != nil {
			return nil, err
		}
		docs = wrapped.Documents
	}
	if len(docs) == 0 {
		return nil, errors.New("no documents")
	}
	return docs, nil
}
