// Package app wires the Mission Control Plane's components together and
// runs the HTTP server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kilnworks/companykernel/internal/actor"
	"github.com/kilnworks/companykernel/internal/audit"
	"github.com/kilnworks/companykernel/internal/config"
	"github.com/kilnworks/companykernel/internal/httpserver"
	"github.com/kilnworks/companykernel/internal/platform"
	"github.com/kilnworks/companykernel/internal/store"
	"github.com/kilnworks/companykernel/internal/telemetry"
	"github.com/kilnworks/companykernel/pkg/command"
	"github.com/kilnworks/companykernel/pkg/governance"
	"github.com/kilnworks/companykernel/pkg/governor"
	"github.com/kilnworks/companykernel/pkg/mission"
	"github.com/kilnworks/companykernel/pkg/ratelimit"
	"github.com/kilnworks/companykernel/pkg/registry"
	"github.com/kilnworks/companykernel/pkg/slack"
	"github.com/kilnworks/companykernel/pkg/trace"
)

const serviceName = "company-kernel"

// version is stamped at build time in a full release pipeline; fixed here
// since there is no such pipeline wired into this module.
const version = "dev"

// Run reads config, connects to infrastructure, wires every domain
// component, and serves the kernel's HTTP API until ctx is cancelled.
func Run(ctx context.Context, cfg *config.Config) error {
	logger := telemetry.NewLogger(cfg.LogFormat, cfg.LogLevel)
	slog.SetDefault(logger)

	logger.Info("starting company-kernel", "listen", cfg.ListenAddr(), "auth_mode", cfg.AuthMode)

	shutdownTracer, err := telemetry.InitTracer(ctx, cfg.OTLPEndpoint, serviceName, version)
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracer(shutdownCtx); err != nil {
			logger.Error("shutting down tracer", "error", err)
		}
	}()

	db, err := platform.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer db.Close()

	if err := platform.RunMigrations(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}
	logger.Info("migrations applied")

	// Redis backs only the peripheral trace store's event fan-out — it is
	// never on the authoritative write path, so a connection failure here
	// is logged and the kernel runs with tracing disabled rather than
	// failing startup.
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = platform.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			logger.Warn("redis unavailable, lifecycle tracing disabled", "error", err)
			rdb = nil
		} else {
			defer func() {
				if err := rdb.Close(); err != nil {
					logger.Error("closing redis", "error", err)
				}
			}()
		}
	}

	metricsReg := telemetry.NewMetricsRegistry(telemetry.All()...)

	durable := store.New(db)

	auditWriter := audit.NewWriter(db, logger)
	auditWriter.Start(ctx)
	defer auditWriter.Close()

	identifier, err := actor.NewIdentifier(ctx, cfg.AuthMode, cfg.OIDCIssuerURL, cfg.OIDCClientID)
	if err != nil {
		return fmt.Errorf("building actor identifier: %w", err)
	}
	devices := actor.NewDeviceKeyAuthenticator(deviceKeyStoreAdapter{durable})

	limiter := ratelimit.New(durable)
	governorSvc := governor.NewService(durable)
	engine := governance.New(governorSvc, limiter)

	repo := mission.NewRepository(durable)
	facade := mission.NewFacade(repo, engine, mission.Defaults{
		LeaseDuration: time.Duration(cfg.DefaultLeaseDurationMs) * time.Millisecond,
		BaseBackoffMs: cfg.DefaultBackoffMs,
	})

	notifier := slack.NewNotifier(cfg.SlackBotToken, cfg.SlackApprovalChan, logger)
	if notifier.IsEnabled() {
		logger.Info("slack approval notifications enabled", "channel", cfg.SlackApprovalChan)
	} else {
		logger.Info("slack approval notifications disabled (SLACK_BOT_TOKEN not set)")
	}
	pipeline := command.New(durable, engine, notifier, logger, cfg.DefaultApprovalTimeoutSeconds)
	go pipeline.RunExpirySweep(ctx, 30*time.Second)

	traceStore := trace.NewStore(logger)
	if rdb != nil {
		subscriber := trace.NewSubscriber(rdb, traceStore, logger)
		go func() {
			if err := subscriber.Run(ctx); err != nil {
				logger.Error("trace subscriber stopped unexpectedly", "error", err)
			}
		}()
	}
	agentRegistry := registry.New()

	srv := httpserver.NewServer(cfg, logger, db, rdb, metricsReg, identifier, devices)

	missionHandler := mission.NewHandler(logger, facade, auditWriter)
	srv.APIRouter.Mount("/missions", missionHandler.Routes())

	commandHandler := command.NewHandler(logger, pipeline)
	commandHandler.Routes(srv.APIRouter)

	governorHandler := governor.NewHandler(logger, governorSvc, auditWriter)
	governorHandler.Routes(srv.APIRouter)

	traceHandler := trace.NewHandler(traceStore)
	srv.APIRouter.Mount("/traces", traceHandler.Routes())

	registryHandler := registry.NewHandler(agentRegistry)
	registryHandler.Routes(srv.APIRouter)

	httpSrv := &http.Server{
		Addr:         cfg.ListenAddr(),
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("kernel api listening", "addr", cfg.ListenAddr())
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down kernel api")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// deviceKeyStoreAdapter adapts *store.Store's DeviceKeyRow shape to the
// actor.DeviceKeyStore interface, keeping pkg/actor free of a store import.
type deviceKeyStoreAdapter struct {
	durable *store.Store
}

func (a deviceKeyStoreAdapter) GetDeviceKey(ctx context.Context, actorID string) (actor.DeviceKeyRow, error) {
	row, err := a.durable.GetDeviceKey(ctx, actorID)
	if err != nil {
		return actor.DeviceKeyRow{}, err
	}
	return actor.DeviceKeyRow{
		ActorID: row.ActorID,
		OrgID:   row.OrgID,
		Display: row.Display,
		KeyHash: row.KeyHash,
		Revoked: row.Revoked,
	}, nil
}
