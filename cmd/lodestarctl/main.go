// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

// Command lodestarctl administers tenants, documents and tokens of a
// Lodestar deployment.
package main

import (
	"fmt"
	"os"

	"github.com/tomtom215/lodestar/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
