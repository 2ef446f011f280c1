// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

/*
Package supervisor runs the long-lived services of the server under a
suture v4 supervisor tree.

	RootSupervisor ("lodestar")
	├── DataSupervisor ("data-layer")
	│   └── PeriodicService "embedding-cache-gc" (when the cache is on disk)
	├── MessagingSupervisor ("messaging-layer")
	│   └── events.Bus (consumer router, rank cache invalidation)
	└── APISupervisor ("api-layer")
	    └── HTTPServerService

Supervisor events are logged through sutureslog, bridged onto zerolog with
logging.NewSlogLogger.

# Usage

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logger), supervisor.DefaultTreeConfig())
	tree.AddMessagingService(bus)
	tree.AddAPIService(services.NewHTTPServerService(server, 15*time.Second))
	err = tree.Serve(ctx)

Service adapters live in the services subpackage.
*/
package supervisor
