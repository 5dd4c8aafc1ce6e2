// Package main is the entry point for the admin console server.
// It wires all dependencies together and starts the HTTP server.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/console/internal/backend"
	"github.com/pitabwire/console/internal/capability"
	"github.com/pitabwire/console/internal/config"
	"github.com/pitabwire/console/internal/definition"
	"github.com/pitabwire/console/internal/listview"
	"github.com/pitabwire/console/internal/metadata"
	"github.com/pitabwire/console/internal/observability"
	"github.com/pitabwire/console/internal/openapi"
	"github.com/pitabwire/console/internal/reference"
	"github.com/pitabwire/console/internal/session"
	"github.com/pitabwire/console/internal/transport"
	"github.com/pitabwire/console/internal/upload"
	"github.com/pitabwire/console/model"
)

// Build-time variables set via ldflags:
//
//	go build -ldflags "-X main.version=1.0.0 -X main.commit=abc1234"
var (
	version = "dev"
	commit  = "unknown"
)

const (
	capabilityCacheTTL = 5 * time.Minute
	jwksCacheTTL       = time.Hour
	sweepInterval      = time.Minute
)

func main() {
	os.Exit(run())
}

func run() int {
	// Step 1: Parse CLI flags.
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	// Step 2: Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 1
	}

	// Step 3: Initialize telemetry (logger, tracer, metrics).
	observability.Version = version
	observability.Commit = commit

	logger, err := observability.NewLogger(cfg.Observability)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		return 1
	}
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	tracingShutdown, err := observability.InitTracing(ctx, cfg.Observability.Tracing, "admin-console", version)
	if err != nil {
		logger.Error("tracing initialization failed", zap.Error(err))
		return 1
	}

	var metrics *observability.Metrics
	if cfg.Observability.Metrics.Enabled {
		metrics = observability.InitMetrics(prometheus.DefaultRegisterer)
	}

	// Step 4: Load the backend's OpenAPI document (optional).
	var oaIndex *openapi.Index
	if cfg.Backend.OpenAPISpec != "" {
		oaIndex = openapi.NewIndex()
		if err := oaIndex.Load(cfg.Backend.OpenAPISpec); err != nil {
			logger.Error("OpenAPI document load failed", zap.Error(err))
			return 1
		}
		metrics.SetOpenAPIOperationsIndexed(float64(len(oaIndex.Endpoints())))
		if u := oaIndex.BaseURL(); u != "" && strings.TrimRight(u, "/") != strings.TrimRight(cfg.Backend.BaseURL, "/") {
			logger.Warn("OpenAPI server URL differs from backend.base_url",
				zap.String("openapi", u),
				zap.String("configured", cfg.Backend.BaseURL),
			)
		}
	}

	// Step 5: Load definitions, validate, build registry.
	defs, err := loadDefinitions(cfg, oaIndex, logger)
	if err != nil {
		logger.Error("definition loading failed", zap.Error(err))
		return 1
	}
	registry := definition.NewRegistry(defs)
	metrics.SetDefinitionsLoaded(float64(registry.Len()))

	// Step 6: Initialize capability resolver.
	evaluator, err := buildPolicyEvaluator(cfg.Capability, logger)
	if err != nil {
		logger.Error("capability evaluator initialization failed", zap.Error(err))
		return 1
	}
	capResolver := capability.NewResolver(evaluator, capabilityCacheTTL)

	// Step 7: Backend client.
	client := backend.NewClient(cfg.Backend,
		backend.WithMetrics(metrics),
		backend.WithLogger(logger.Named("backend")),
	)

	// Step 8: Session store.
	store, storeCloser, err := buildSessionStore(ctx, cfg.Session, logger)
	if err != nil {
		logger.Error("session store initialization failed", zap.Error(err))
		return 1
	}

	// Step 9: Sessions and their workspaces.
	var jwks *session.JWKSClient
	if cfg.Session.JWKSURL != "" {
		jwks = session.NewJWKSClient(cfg.Session.JWKSURL, jwksCacheTTL, logger.Named("jwks"))
	}
	labels := reference.NewBackendLoader(registry, client)
	sessions := session.NewManager(
		cfg.Session,
		store,
		client,
		session.NewTokenInspector(cfg.Session, jwks),
		session.WorkspaceDeps{
			Registry: registry,
			Repositories: func(def *model.ResourceDefinition) listview.Repository {
				return client.Resource(def)
			},
			Labels:     labels,
			Options:    labels,
			ListView:   listview.OptionsFromConfig(cfg.ListView),
			References: cfg.References,
		},
		session.WithMetrics(metrics),
		session.WithLogger(logger.Named("session")),
		session.WithInvalidator(capResolver),
	)

	// Step 10: Build providers.
	menuProvider := metadata.NewMenuProvider(registry)
	screenProvider := metadata.NewScreenProvider(registry, cfg.ListView.PageSizes, cfg.ListView.DefaultPageSize)
	uploads := upload.NewNormalizer(cfg.Uploads, metrics, logger.Named("upload"))

	// Step 11: Build HTTP router.
	readiness := observability.NewReadiness(0).
		Add("definitions", observability.Flag(func() bool { return registry.Len() > 0 }, "no definitions loaded")).
		AddChecker("session_store", store).
		AddChecker("backend", client)
	if oaIndex != nil {
		readiness.Add("openapi_index", observability.Flag(func() bool { return len(oaIndex.Endpoints()) > 0 }, "backend OpenAPI document not loaded"))
	}

	router := transport.NewRouter(transport.Dependencies{
		Config:             cfg,
		Registry:           registry,
		Sessions:           sessions,
		CapabilityResolver: capResolver,
		Menu:               menuProvider,
		Screens:            screenProvider,
		Uploads:            uploads,
		Metrics:            metrics,
		Readiness:          readiness,
		Logger:             logger,
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// Step 12: Start background tasks.
	bgCtx, bgCancel := context.WithCancel(ctx)
	defer bgCancel()

	go sessions.Run(bgCtx, sweepInterval)
	go watchReload(bgCtx, cfg, oaIndex, registry, evaluator, capResolver, metrics, logger)

	// Step 13: Start HTTP server.
	logger.Info("server started",
		zap.Int("port", cfg.Server.Port),
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("definitions", registry.Len()),
		zap.String("session_driver", cfg.Session.Driver),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error.
	select {
	case <-ctx.Done():
		logger.Info("shutdown initiated")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
		return 1
	}

	// Graceful shutdown sequence.
	shutdownTimeout := cfg.Server.ShutdownTimeout
	if shutdownTimeout == 0 {
		shutdownTimeout = 30 * time.Second
	}
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Stop accepting new connections and drain in-flight requests.
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", zap.Error(err))
	}

	// Cancel background tasks, then every mounted screen.
	bgCancel()
	sessions.Close()

	if storeCloser != nil {
		storeCloser()
	}

	// Flush telemetry.
	if err := tracingShutdown(shutdownCtx); err != nil {
		logger.Error("tracing shutdown error", zap.Error(err))
	}

	logger.Info("shutdown complete")
	return 0
}

// loadDefinitions reads and validates the resource definitions. Endpoint
// mismatches against the backend document only fail startup in strict mode.
func loadDefinitions(cfg *config.Config, index *openapi.Index, logger *zap.Logger) ([]model.ResourceDefinition, error) {
	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		return nil, err
	}

	fatal := 0
	for _, ve := range definition.NewValidator().Validate(defs, index) {
		if definition.IsEndpointError(ve) && !cfg.Backend.StrictSpec {
			logger.Warn("definition does not match backend document", zap.String("error", ve.Error()))
			continue
		}
		logger.Error("definition validation error", zap.String("error", ve.Error()))
		fatal++
	}
	if fatal > 0 {
		return nil, fmt.Errorf("%d definition validation errors", fatal)
	}

	definition.InheritRequiredFields(defs, index)
	return defs, nil
}

// buildPolicyEvaluator loads the static role policy. Without a policy file
// every signed-in admin may do everything.
func buildPolicyEvaluator(cfg config.CapabilityConfig, logger *zap.Logger) (model.PolicyEvaluator, error) {
	if cfg.StaticPolicyFile == "" {
		logger.Warn("no capability policy configured, all actions are allowed")
		return capability.AllowAllEvaluator{}, nil
	}
	evaluator, err := capability.NewStaticPolicyEvaluator(cfg.StaticPolicyFile)
	if err != nil {
		return nil, fmt.Errorf("static policy: %w", err)
	}
	return evaluator, nil
}

// buildSessionStore creates the session store based on config.
func buildSessionStore(ctx context.Context, cfg config.SessionConfig, logger *zap.Logger) (session.Store, func(), error) {
	switch cfg.Driver {
	case "memory", "":
		logger.Info("using in-memory session store")
		return session.NewMemoryStore(), nil, nil
	case "redis":
		addr := os.Getenv(cfg.AddrEnv)
		if addr == "" {
			return nil, nil, fmt.Errorf("session store: %s environment variable not set", cfg.AddrEnv)
		}
		client := redis.NewClient(&redis.Options{Addr: addr, DB: cfg.DB})

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("session store: ping: %w", err)
		}
		return session.NewRedisStore(client), func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported session store driver: %q", cfg.Driver)
	}
}

// watchReload reloads definitions and the capability policy on SIGHUP.
// Mounted screens keep the definition they were opened with.
func watchReload(
	ctx context.Context,
	cfg *config.Config,
	index *openapi.Index,
	registry *definition.Registry,
	evaluator model.PolicyEvaluator,
	resolver *capability.Resolver,
	metrics *observability.Metrics,
	logger *zap.Logger,
) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
		}

		defs, err := loadDefinitions(cfg, index, logger)
		if err != nil {
			logger.Error("definition reload failed, keeping previous set", zap.Error(err))
		} else {
			registry.Replace(defs)
			metrics.SetDefinitionsLoaded(float64(registry.Len()))
		}

		if err := evaluator.Sync(); err != nil {
			logger.Error("capability policy reload failed", zap.Error(err))
		} else {
			resolver.InvalidateAll()
		}
		logger.Info("configuration reloaded",
			zap.Int("definitions", registry.Len()),
			zap.String("checksum", registry.Checksum()),
		)
	}
}
