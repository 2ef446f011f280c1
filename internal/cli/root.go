// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Package cli implements the lodestarctl administration commands.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/goccy/go-json"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tomtom215/lodestar/internal/config"
	"github.com/tomtom215/lodestar/internal/logging"
	"github.com/tomtom215/lodestar/internal/storage"
)

// Output formats.
const (
	formatText = "text"
	formatJSON = "json"
)

// rootOptions are the persistent flags shared by every command.
type rootOptions struct {
	configPath string
	envFile    string
	format     string
	verbose    bool

	cfg *config.Config
}

// NewRootCmd builds the lodestarctl command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "lodestarctl",
		Short:         "Administer a Lodestar deployment",
		Long:          "Provision tenants, import documents and issue API tokens against the storage configured for the Lodestar server.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "Config file (default: $CONFIG_PATH or the server's search paths)")
	flags.StringVar(&opts.envFile, "env-file", ".env", "Optional dotenv file loaded before the environment is read")
	flags.StringVarP(&opts.format, "format", "f", formatText, "Output format: text or json")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "Log at debug level")

	root.AddCommand(newTenantCmd(opts))
	root.AddCommand(newDocumentCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

// Execute runs lodestarctl with os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func (o *rootOptions) load(cmd *cobra.Command) error {
	if o.format != formatText && o.format != formatJSON {
		return fmt.Errorf("--format must be text or json, got %q", o.format)
	}
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("read %s: %w", o.envFile, err)
		}
	}

	var err error
	if o.configPath != "" {
		o.cfg, err = config.LoadFile(o.configPath)
	} else {
		o.cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	level := "warn"
	if o.verbose {
		level = "debug"
	}
	logging.Init(logging.Config{Level: level, Format: "console", Output: cmd.ErrOrStderr()})
	return nil
}

// openBackend opens the configured storage. The caller closes it.
func (o *rootOptions) openBackend(ctx context.Context) (storage.Backend, error) {
	return storage.Open(ctx, o.cfg.Storage, logging.WithComponent("storage"))
}

// print writes v as JSON, or text as a line, depending on --format.
func (o *rootOptions) print(cmd *cobra.Command, v any, text string) error {
	if o.format == formatJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	cmd.Println(text)
	return nil
}
