// Lodestar - Multi-tenant Personalization and Ranking Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/lodestar

package main

import (
	"context"
	"errors"
	"io/fs"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/tomtom215/lodestar/internal/api"
	"github.com/tomtom215/lodestar/internal/auth"
	"github.com/tomtom215/lodestar/internal/authz"
	"github.com/tomtom215/lodestar/internal/breaker"
	"github.com/tomtom215/lodestar/internal/cache"
	"github.com/tomtom215/lodestar/internal/config"
	"github.com/tomtom215/lodestar/internal/embedding"
	"github.com/tomtom215/lodestar/internal/events"
	"github.com/tomtom215/lodestar/internal/logging"
	"github.com/tomtom215/lodestar/internal/personalize"
	"github.com/tomtom215/lodestar/internal/storage"
	"github.com/tomtom215/lodestar/internal/supervisor"
	"github.com/tomtom215/lodestar/internal/supervisor/services"
)

const embeddingGCInterval = 10 * time.Minute

//nolint:gocyclo // Main initialization function with sequential setup steps
func main() {
	// .env is optional; real environment variables still win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		logging.Warn().Err(err).Msg("Failed to read .env file")
	}

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Str("storage", cfg.Storage.Backend).
		Str("embedding", cfg.Embedding.Provider).
		Str("auth_mode", cfg.Security.AuthMode).
		Bool("events", cfg.Events.Enabled).
		Msg("Starting Lodestar with supervisor tree")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// === STORAGE ===

	store, err := storage.Open(ctx, cfg.Storage, logging.WithComponent("storage"))
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to initialize storage")
	}
	defer func() {
		if err := store.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing storage")
		}
	}()
	logging.Info().Str("backend", cfg.Storage.Backend).Msg("Storage initialized successfully")

	// === COLLABORATORS ===

	rawEmbedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create embedder")
	}
	var embedder embedding.Embedder = breaker.NewEmbedder(rawEmbedder, cfg.Breaker, logging.WithComponent("breaker"))

	var embedCache *cache.CachedEmbedder
	if cfg.Cache.EmbeddingEnabled {
		bdb, err := cache.OpenBadger(cfg.Cache.EmbeddingPath)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.Cache.EmbeddingPath).Msg("Failed to open embedding cache")
		}
		defer func() {
			if err := bdb.Close(); err != nil {
				logging.Error().Err(err).Msg("Error closing embedding cache")
			}
		}()
		embedCache = cache.NewCachedEmbedder(embedder, bdb, cfg.Cache.EmbeddingTTL, logging.WithComponent("embedding-cache"))
		embedder = embedCache
		logging.Info().Str("path", cfg.Cache.EmbeddingPath).Dur("ttl", cfg.Cache.EmbeddingTTL).Msg("Embedding cache enabled")
	}

	index := breaker.NewIndex(store, cfg.Breaker, logging.WithComponent("breaker"))

	engineOpts := []personalize.EngineOption{personalize.WithEmbedder(embedder)}
	var recorderOpts []personalize.RecorderOption

	// A zero TTL disables the rank cache.
	var rankCache *cache.Cache
	if cfg.Cache.RankTTL > 0 {
		rankCache = cache.NewWithCleanup(cfg.Cache.RankTTL, cfg.Cache.RankTTL)
		defer rankCache.Close()
		engineOpts = append(engineOpts, personalize.WithRankCache(rankCache))
		recorderOpts = append(recorderOpts, personalize.WithRecorderCache(rankCache))
	}

	var bus *events.Bus
	if cfg.Events.Enabled {
		bus, err = events.New(cfg.Events, logging.WithComponent("events"))
		if err != nil {
			logging.Fatal().Err(err).Msg("Failed to create event bus")
		}
		if rankCache != nil {
			bus.Handle("rank-invalidator", events.RankInvalidator(rankCache, logging.WithComponent("rank-invalidator")))
		}
		logging.Info().Str("transport", cfg.Events.Transport).Str("topic", cfg.Events.Topic).Msg("Event bus initialized")
	}

	// === DOMAIN ===

	engineCfg := cfg.Engine()
	engine, err := personalize.NewEngine(store, index, engineCfg, logging.WithComponent("engine"), engineOpts...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create ranking engine")
	}

	if bus != nil {
		recorderOpts = append(recorderOpts, personalize.WithEventPublisher(bus))
	}
	recorder, err := personalize.NewRecorder(store, engineCfg, logging.WithComponent("recorder"), recorderOpts...)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create interaction recorder")
	}

	documents := personalize.NewDocumentService(store, embedder, engineCfg, logging.WithComponent("documents"))

	// === HTTP ===

	tenants, err := newTenantResolver(cfg, store)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to configure tenant resolution")
	}

	handler := api.NewHandler(engine, recorder, documents, logging.WithComponent("api"),
		api.HealthCheck{Name: "storage", Check: store.Ping},
	)

	mw := api.DefaultChiMiddlewareConfig()
	mw.CORSAllowedOrigins = cfg.Security.CORSOrigins
	mw.RateLimitRequests = cfg.Security.RateLimitReqs
	mw.RateLimitWindow = cfg.Security.RateLimitWindow
	mw.RateLimitDisabled = cfg.Security.RateLimitDisabled
	if cfg.Security.AuthMode == config.AuthModeNone {
		mw.RateLimitKeyFunc = api.KeyByTenantHeader
	}

	router := api.NewRouter(handler, api.RouterConfig{
		Middleware:   mw,
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		Tenants:      tenants,
	})

	server := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// === SUPERVISOR TREE ===

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(logging.WithComponent("supervisor")), supervisor.TreeConfig{
		FailureThreshold: 5,
		FailureBackoff:   15 * time.Second,
		ShutdownTimeout:  cfg.Server.ShutdownTimeout + 5*time.Second,
	})
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	// Data layer
	if embedCache != nil {
		tree.AddDataService(services.NewPeriodicService("embedding-cache-gc", embeddingGCInterval, embedCache.RunGC, logging.WithComponent("embedding-cache")))
		logging.Info().Msg("Embedding cache GC added to supervisor tree")
	}

	// Messaging layer. Without a rank cache the bus only publishes.
	if bus != nil && rankCache != nil {
		tree.AddMessagingService(bus)
		logging.Info().Msg("Event bus added to supervisor tree")
	}

	// API layer
	tree.AddAPIService(services.NewHTTPServerService(server, cfg.Server.ShutdownTimeout))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	watchLogLevel(cfg)

	// === START SUPERVISOR TREE ===

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree...")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish...")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	if bus != nil {
		if err := bus.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event bus")
		}
	}

	logging.Info().Msg("Application stopped gracefully")
}

// newTenantResolver builds header or JWT tenant resolution from the
// security settings.
func newTenantResolver(cfg *config.Config, tenants api.TenantChecker) (*api.TenantResolver, error) {
	if cfg.Security.AuthMode != config.AuthModeJWT {
		logging.Warn().Msg("Authentication disabled; tenants are taken from the X-Tenant-ID header")
		return api.NewTenantResolver(tenants, nil, nil)
	}

	jwtManager, err := auth.NewJWTManager(cfg.Security.JWTSecret, cfg.Security.JWTIssuer, cfg.Security.TokenTTL)
	if err != nil {
		return nil, err
	}
	enforcer, err := authz.NewEnforcer(cfg.Security.PolicyPath)
	if err != nil {
		return nil, err
	}
	logging.Info().Str("issuer", cfg.Security.JWTIssuer).Msg("JWT authentication enabled")
	return api.NewTenantResolver(tenants, jwtManager, enforcer)
}

// watchLogLevel re-reads the config file on change and applies a new log
// level. Other settings take effect on restart.
func watchLogLevel(cfg *config.Config) {
	path := config.FilePath()
	if path == "" {
		return
	}
	current := cfg.Logging
	err := config.WatchConfigFile(path, func() {
		next, err := config.LoadFile(path)
		if err != nil {
			logging.Warn().Err(err).Str("path", path).Msg("Ignoring invalid config change")
			return
		}
		if next.Logging.Level == current.Level {
			logging.Info().Str("path", path).Msg("Config file changed; restart to apply")
			return
		}
		current.Level = next.Logging.Level
		logging.Init(logging.Config{
			Level:  current.Level,
			Format: current.Format,
			Caller: current.Caller,
		})
		logging.Info().Str("level", current.Level).Msg("Log level reloaded")
	})
	if err != nil {
		logging.Warn().Err(err).Str("path", path).Msg("Config file watch unavailable")
	}
}
