// Package main is the examlab server: per-task exam environments, browser terminals
// and completion checks behind one HTTP and WebSocket endpoint.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/kandev/examlab/internal/api"
	"github.com/kandev/examlab/internal/checks"
	"github.com/kandev/examlab/internal/common/config"
	"github.com/kandev/examlab/internal/common/logger"
	"github.com/kandev/examlab/internal/common/tasklock"
	"github.com/kandev/examlab/internal/engine/docker"
	"github.com/kandev/examlab/internal/environment"
	"github.com/kandev/examlab/internal/events"
	gateways "github.com/kandev/examlab/internal/gateway/websocket"
	"github.com/kandev/examlab/internal/probe"
	"github.com/kandev/examlab/internal/task/catalog"
	"github.com/kandev/examlab/internal/task/state"
	"github.com/kandev/examlab/internal/terminal"
	"github.com/kandev/examlab/internal/tracing"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "directory containing config.yaml")
	pflag.Parse()

	// 1. Load configuration
	cfg, err := config.LoadWithPath(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize logger
	log, err := logger.NewLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()
	logger.SetDefault(log)

	if err := run(cfg, log); err != nil {
		log.Error("examlab exited with error", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}

func run(cfg *config.Config, log *logger.Logger) error {
	log.Info("Starting examlab...", zap.String("addr", cfg.Server.Addr()))

	// 3. Root context cancelled on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 4. Docker client. An unreachable daemon is not fatal: operations report it per request.
	dockerClient, err := docker.NewClient(cfg.Docker, log)
	if err != nil {
		return fmt.Errorf("failed to create docker client: %w", err)
	}
	defer func() { _ = dockerClient.Close() }()
	if err := dockerClient.Ping(ctx); err != nil {
		log.Warn("Docker daemon not available", zap.Error(err))
	} else {
		log.Info("Connected to Docker daemon")
	}

	// 5. Task catalog and state
	cat, err := catalog.Load(cfg.Catalog.Path)
	if err != nil {
		return err
	}
	store := state.NewStore(cat.IDs())
	log.Info("Task catalog loaded", zap.Int("tasks", len(cat.IDs())))

	// 6. Event bus
	provided, closeBus, err := events.Provide(cfg.NATS, log)
	if err != nil {
		return err
	}
	defer func() { _ = closeBus() }()
	eventBus := provided.Bus

	// 7. Core components. Lifecycle operations and terminal connects share one per-task lock.
	locks := tasklock.New()
	instanceName := cfg.Environment.InstanceName

	gateway := gateways.NewGateway(log)

	streamer := terminal.NewStreamer(
		terminal.NewDockerBackend(dockerClient),
		gateway.Hub,
		locks,
		instanceName,
		cfg.Terminal,
		log,
	)
	gateway.Hub.SetDisconnectHandler(streamer.CloseClient)

	manager := environment.NewManager(dockerClient, streamer, store, eventBus, locks, cfg.Environment, log)

	executor := probe.NewExecutor(dockerClient, cfg.Probe.Timeout(), log)
	runner := checks.NewRunner(checks.DefaultRegistry(), executor, store, eventBus, instanceName, log)

	// 8. Gateway handlers and notifications
	gateways.RegisterTerminalHandlers(gateway.Dispatcher, streamer, func(id int) bool {
		_, ok := cat.Get(id)
		return ok
	}, log)
	gateways.RegisterTaskNotifications(ctx, eventBus, gateway.Hub, store, log)

	// 9. HTTP server
	router := newRouter(log)
	api.SetupRoutes(router, api.NewHandler(manager, runner, dockerClient, cat, store, log))
	gateway.SetupRoutes(router)

	server := &http.Server{
		Addr:         cfg.Server.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeoutDuration(),
		WriteTimeout: cfg.Server.WriteTimeoutDuration(),
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		gateway.Hub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		log.Info("HTTP server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down...")
		return shutdown(server, streamer, cfg.Server, log)
	})

	return g.Wait()
}

func shutdown(server *http.Server, streamer *terminal.Streamer, cfg config.ServerConfig, log *logger.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeoutDuration())
	defer cancel()

	var errs []error
	if err := server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := streamer.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("terminal shutdown: %w", err))
	}
	if err := tracing.Shutdown(ctx); err != nil {
		log.Warn("Tracing shutdown failed", zap.Error(err))
	}
	log.Info("Shutdown complete")
	return errors.Join(errs...)
}
