// Package main implements the entry point for the grpchost daemon. It binds
// a single managed gRPC listener, registers the system services, and keeps
// throttling limits refreshed from a shared KV bucket.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	grpchealth "google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/c360/grpchost/config"
	"github.com/c360/grpchost/credentials"
	"github.com/c360/grpchost/health"
	"github.com/c360/grpchost/metric"
	"github.com/c360/grpchost/server"
	"github.com/c360/grpchost/throttleconf"
)

// Build information constants
const (
	Version   = "0.1.0"
	BuildTime = "dev"
	appName   = "grpchostd"
)

// systemOwner is the registry bucket holding the daemon's own services
var systemOwner = uuid.MustParse("00000000-0000-0000-0000-000000000001")

func main() {
	// Add panic recovery
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	// Run application with proper error handling
	if err := run(); err != nil {
		slog.Error("Application failed", "error", err, "exit_code", 1)
		os.Exit(1)
	}
}

func run() error {
	cliCfg, shouldExit, err := initializeCLI()
	if shouldExit || err != nil {
		return err
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cliCfg.Validate {
		slog.Info("Configuration is valid")
		return nil
	}

	provider, err := createProvider(cfg)
	if err != nil {
		return fmt.Errorf("create credential provider: %w", err)
	}

	metricsRegistry := metric.NewMetricsRegistry()

	ctx := context.Background()
	monitor, closeStore, err := setupThrottleMonitor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	manager, err := setupManager(cfg, provider, metricsRegistry, monitor)
	if err != nil {
		return fmt.Errorf("initialize server: %w", err)
	}

	registerSystemServices(manager)

	return runWithSignalHandling(ctx, cfg, manager, monitor, metricsRegistry, cliCfg.ShutdownTimeout)
}

// initializeCLI parses flags and sets up logging
func initializeCLI() (*CLIConfig, bool, error) {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return nil, false, fmt.Errorf("invalid flags: %w", err)
	}

	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil, true, nil
	}

	if cliCfg.ShowHelp {
		printDetailedHelp()
		return nil, true, nil
	}

	logger := setupLogger(cliCfg.LogLevel, cliCfg.LogFormat)
	slog.SetDefault(logger)

	slog.Info("Starting grpchostd",
		"version", Version,
		"build_time", BuildTime,
		"config_path", cliCfg.ConfigPath)

	return cliCfg, false, nil
}

// createProvider builds the credential provider from the TLS configuration
func createProvider(cfg *config.Config) (credentials.Provider, error) {
	hasClientTLS := len(cfg.TLS.Client.CAFiles) > 0 || cfg.TLS.Client.CertFile != ""
	if !cfg.TLS.Server.Enabled && !hasClientTLS {
		slog.Warn("TLS disabled, using insecure transport")
		return credentials.NewInsecureProvider(), nil
	}
	return credentials.NewTLSProvider(cfg.TLS)
}

// setupThrottleMonitor creates the limits poller when configured. Returns a
// nil monitor when throttling is disabled.
func setupThrottleMonitor(ctx context.Context, cfg *config.Config) (*throttleconf.Monitor, func(), error) {
	if !cfg.Throttle.Enabled {
		return nil, func() {}, nil
	}

	slog.Info("Connecting to limits bucket",
		"url", cfg.Throttle.URL, "bucket", cfg.Throttle.Bucket, "key", cfg.Throttle.Key)

	store, err := throttleconf.NewKVStore(ctx, cfg.Throttle.URL, cfg.Throttle.Bucket, cfg.Throttle.Key)
	if err != nil {
		return nil, nil, fmt.Errorf("open limits store: %w", err)
	}

	monitor := throttleconf.NewMonitor(store,
		throttleconf.WithRefreshInterval(cfg.Throttle.RefreshIntervalDuration()))
	return monitor, store.Close, nil
}

// setupManager creates the process-wide server manager
func setupManager(
	cfg *config.Config,
	provider credentials.Provider,
	metricsRegistry *metric.MetricsRegistry,
	monitor *throttleconf.Monitor,
) (*server.Manager, error) {
	opts := []server.Option{
		server.WithDebounceWindow(cfg.DebounceWindowDuration()),
		server.WithStopTimeout(cfg.StopTimeoutDuration()),
		server.WithBridgeSize(cfg.BridgeWorkers, cfg.BridgeQueueSize),
		server.WithMetrics(metricsRegistry.CoreMetrics()),
		server.WithMetricsRegistry(metricsRegistry),
	}
	if monitor != nil {
		opts = append(opts, server.WithServerOptions(monitor.ServerOptions))
	}

	return server.Init(provider, cfg.ListenAddress, opts...)
}

// registerSystemServices registers the daemon's own services: gRPC health
// checking and server reflection
func registerSystemServices(manager *server.Manager) {
	hs := grpchealth.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)

	manager.RegisterRoleServices(systemOwner, []server.Service{
		server.NewService("health", func(r grpc.ServiceRegistrar) {
			healthpb.RegisterHealthServer(r, hs)
		}),
		server.NewService("reflection", func(r grpc.ServiceRegistrar) {
			reflection.Register(r.(reflection.GRPCServer))
		}),
	})
}

// runWithSignalHandling starts the listener and background loops, then waits
// for a shutdown signal
func runWithSignalHandling(
	ctx context.Context,
	cfg *config.Config,
	manager *server.Manager,
	monitor *throttleconf.Monitor,
	metricsRegistry *metric.MetricsRegistry,
	shutdownTimeout time.Duration,
) error {
	signalCtx, signalCancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer signalCancel()

	if !manager.IsClientOnly() {
		if err := manager.Run(signalCtx); err != nil {
			return fmt.Errorf("start listener: %w", err)
		}
		slog.Info("Listener running",
			"address", manager.Address(), "tls", manager.IsTLSEnabled())
	} else {
		slog.Info("Client-only mode, no local listener")
	}

	group, groupCtx := errgroup.WithContext(signalCtx)

	if monitor != nil {
		group.Go(func() error {
			err := monitor.Run(groupCtx)
			if err != nil && groupCtx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if cfg.MetricsAddress != "" {
		group.Go(func() error {
			return serveHTTP(groupCtx, cfg.MetricsAddress, metricsRegistry, manager, monitor)
		})
	}

	group.Go(func() error {
		<-groupCtx.Done()
		return nil
	})

	runErr := group.Wait()
	slog.Info("Shutting down", "reason", context.Cause(signalCtx))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Teardown(shutdownCtx); err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("Shutdown complete")
	return runErr
}

// serveHTTP exposes prometheus metrics and the health endpoint until ctx is
// done
func serveHTTP(
	ctx context.Context,
	address string,
	registry *metric.MetricsRegistry,
	manager *server.Manager,
	monitor *throttleconf.Monitor,
) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(
		registry.PrometheusRegistry(),
		promhttp.HandlerOpts{},
	))
	mux.HandleFunc("/healthz", healthHandler(manager, monitor))

	srv := &http.Server{
		Addr:              address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(closeCtx)
		return nil
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	}
}

// healthHandler aggregates the manager and limits-poller statuses into one
// process-level health document. Unhealthy reports as 503.
func healthHandler(manager *server.Manager, monitor *throttleconf.Monitor) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		subs := []health.Status{manager.Health()}
		if monitor != nil {
			subs = append(subs, monitor.Health())
		}
		status := health.Aggregate(appName, subs)

		w.Header().Set("Content-Type", "application/json")
		if status.IsUnhealthy() {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.NewEncoder(w).Encode(status)
	}
}
