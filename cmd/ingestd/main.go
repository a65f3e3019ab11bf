// Command ingestd runs the order ingest service: the nightly scheduler, the
// admin HTTP surface, and the pipeline they both trigger.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sourcegraph/conc"
	"go.uber.org/zap"

	"github.com/tradebatch/orderingest/internal/infra/config"
	"github.com/tradebatch/orderingest/internal/infra/persistence/migrations"
	"github.com/tradebatch/orderingest/internal/infra/persistence/postgres"
	httpserver "github.com/tradebatch/orderingest/internal/infra/server/http"
	"github.com/tradebatch/orderingest/internal/infra/telemetry"
	"github.com/tradebatch/orderingest/internal/ingest"
	"github.com/tradebatch/orderingest/internal/runmgr"
	"github.com/tradebatch/orderingest/internal/scheduler"
)

const (
	defaultConfigPath        = "config/app.yaml"
	shutdownTimeout          = 30 * time.Second
	serverShutdownTimeout    = 5 * time.Second
	managerShutdownTimeout   = 20 * time.Second
	schedulerShutdownTimeout = 5 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
	readHeaderTimeout        = 5 * time.Second
)

func main() {
	cfgPath := parseFlags()
	ctx, cancel := newSignalContext()
	defer cancel()

	appCfg, loadedFromFile, err := config.LoadOrDefault(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := newLogger(appCfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	if !loadedFromFile {
		logger.Info("configuration file not found, using defaults", zap.String("path", cfgPath))
	}
	logger.Info("configuration initialised",
		zap.String("environment", string(appCfg.Environment)),
		zap.String("timezone", appCfg.Timezone))

	location, err := appCfg.Location()
	if err != nil {
		logger.Fatal("resolve timezone", zap.Error(err))
	}

	telemetryProvider, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:      appCfg.Telemetry.Enabled,
		OTLPEndpoint: appCfg.Telemetry.OTLPEndpoint,
		OTLPInsecure: true,
		ServiceName:  appCfg.Telemetry.ServiceName,
		Environment:  string(appCfg.Environment),
	})
	if err != nil {
		logger.Fatal("initialise telemetry", zap.Error(err))
	}
	if appCfg.Telemetry.Enabled {
		logger.Info("telemetry initialised",
			zap.String("endpoint", appCfg.Telemetry.OTLPEndpoint),
			zap.String("service", appCfg.Telemetry.ServiceName))
	} else {
		logger.Info("telemetry disabled")
	}

	pool, err := postgres.Connect(ctx, appCfg.Database)
	if err != nil {
		logger.Fatal("connect database", zap.Error(err))
	}
	defer pool.Close()
	postgres.ObservePoolMetrics(pool, "orderingest")
	logger.Info("database pool ready")

	if appCfg.Database.RunMigrations {
		if err := migrations.Apply(ctx, appCfg.Database.DSN, appCfg.Database.MigrationsPath, logger); err != nil {
			logger.Fatal("apply migrations", zap.Error(err))
		}
	}

	metrics := telemetry.NewIngestMetrics(runmgr.DefaultJobName)
	pipeline := ingest.NewPipeline(ingest.Paths{
		InputPattern:      appCfg.IO.InputPattern,
		AggregatesPattern: appCfg.IO.AggregatesPattern,
		RejectsPattern:    appCfg.IO.RejectsPattern,
	}, postgres.NewAggregateStore(pool), logger, metrics)

	manager := runmgr.NewManager(pipeline, postgres.NewExecutionStore(pool), nil, location, logger, metrics)

	var nightly *scheduler.Scheduler
	if appCfg.Schedule.ScheduleEnabled() {
		nightly, err = scheduler.New(appCfg.Schedule.Cron, location, manager, logger)
		if err != nil {
			logger.Fatal("initialise scheduler", zap.Error(err))
		}
		nightly.Start()
		logger.Info("scheduler started", zap.String("cron", appCfg.Schedule.Cron))
	} else {
		logger.Info("scheduler disabled")
	}

	var lifecycle conc.WaitGroup
	apiServer := &http.Server{
		Addr:              appCfg.APIServer.Addr,
		Handler:           httpserver.NewHandler(manager, appCfg.APIServer.TriggerRatePerMinute, logger),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	lifecycle.Go(func() {
		if err := apiServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("admin server", zap.Error(err))
		}
	})
	logger.Info("admin API listening", zap.String("addr", apiServer.Addr))

	logger.Info("ingestd started; awaiting shutdown signal")
	<-ctx.Done()
	logger.Info("shutdown signal received, initiating graceful shutdown")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	shutdownStart := time.Now()
	performGracefulShutdown(shutdownCtx, logger, gracefulShutdownConfig{
		server:     apiServer,
		scheduler:  nightly,
		manager:    manager,
		lifecycle:  &lifecycle,
		telemetry:  telemetryProvider,
		mainCancel: cancel,
	})
	logger.Info("shutdown completed", zap.Duration("elapsed", time.Since(shutdownStart)))
}

func parseFlags() string {
	cfgPath := flag.String("config", defaultConfigPath, "Path to application configuration file")
	flag.Parse()
	return *cfgPath
}

func newSignalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func newLogger(env config.Environment) (*zap.Logger, error) {
	if env == config.EnvProd {
		return zap.NewProduction()
	}
	return zap.NewDevelopment()
}

type gracefulShutdownConfig struct {
	server     *http.Server
	scheduler  *scheduler.Scheduler
	manager    *runmgr.Manager
	lifecycle  *conc.WaitGroup
	telemetry  *telemetry.Provider
	mainCancel context.CancelFunc
}

func performGracefulShutdown(ctx context.Context, logger *zap.Logger, cfg gracefulShutdownConfig) {
	shutdownStep := func(name string, timeout time.Duration, fn func(context.Context) error) {
		stepCtx, stepCancel := context.WithTimeout(ctx, timeout)
		defer stepCancel()
		logger.Info("shutdown step", zap.String("step", name))
		if err := fn(stepCtx); err != nil {
			logger.Warn("shutdown step failed", zap.String("step", name), zap.Error(err))
		}
	}

	if cfg.server != nil {
		shutdownStep("stop admin server", serverShutdownTimeout, cfg.server.Shutdown)
	}
	if cfg.scheduler != nil {
		shutdownStep("stop scheduler", schedulerShutdownTimeout, cfg.scheduler.Stop)
	}
	if cfg.manager != nil {
		shutdownStep("drain in-flight runs", managerShutdownTimeout, cfg.manager.Shutdown)
	}

	if cfg.mainCancel != nil {
		cfg.mainCancel()
	}

	if cfg.lifecycle != nil {
		shutdownStep("wait for lifecycle goroutines", serverShutdownTimeout, func(stepCtx context.Context) error {
			done := make(chan struct{})
			go func() {
				cfg.lifecycle.Wait()
				close(done)
			}()
			select {
			case <-done:
				return nil
			case <-stepCtx.Done():
				return fmt.Errorf("timeout waiting for goroutines: %w", stepCtx.Err())
			}
		})
	}

	if cfg.telemetry != nil {
		shutdownStep("flush telemetry", telemetryShutdownTimeout, cfg.telemetry.Shutdown)
	}
}
