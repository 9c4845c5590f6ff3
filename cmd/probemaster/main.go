// Package main implements the probemaster entry point: environmental-probe
// telemetry ingestion over serial and HTTP polling, reconciled into a single
// entity graph with optional JetStream KV persistence and Prometheus metrics.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/Nathan219/probemaster2-sub000/config"
	"github.com/Nathan219/probemaster2-sub000/engine"
	"github.com/Nathan219/probemaster2-sub000/health"
	"github.com/Nathan219/probemaster2-sub000/metric"
	"github.com/Nathan219/probemaster2-sub000/poll"
	"github.com/Nathan219/probemaster2-sub000/state"
	"github.com/Nathan219/probemaster2-sub000/store"
	"github.com/Nathan219/probemaster2-sub000/transport"
)

// Build information constants.
const (
	Version = "0.1.0"
	appName = "probemaster"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 4096)
			n := runtime.Stack(buf, false)
			_, _ = fmt.Fprintf(os.Stderr, "PANIC: %v\nStack trace:\n%s\n", r, string(buf[:n]))
			os.Exit(2)
		}
	}()

	if err := run(); err != nil {
		slog.Error("application failed", "error", err)
		os.Exit(1)
	}
}

// stoppable is the shared lifecycle contract of every long-running component.
type stoppable interface {
	Stop(timeout time.Duration) error
}

func run() error {
	cliCfg := parseFlags()
	if err := validateFlags(cliCfg); err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}
	if cliCfg.ShowVersion {
		fmt.Printf("%s version %s\n", appName, Version)
		return nil
	}

	cfg, err := config.Load(cliCfg.ConfigPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	if cliCfg.LogLevel != "" {
		cfg.Log.Level = cliCfg.LogLevel
	}
	if cliCfg.LogFormat != "" {
		cfg.Log.Format = cliCfg.LogFormat
	}

	logger := setupLogger(cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	if cliCfg.Validate {
		logger.Info("configuration is valid", "path", cliCfg.ConfigPath)
		return nil
	}

	logger.Info("starting probemaster",
		"config_path", cliCfg.ConfigPath,
		"serial", cfg.Serial.Enabled,
		"poll", cfg.Poll.Enabled,
		"store", cfg.Store.Backend)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Metrics registry, health monitor and the shared HTTP endpoint.
	monitor := health.NewMonitor()
	var registry *metric.Registry
	var coreMetrics *metric.Metrics
	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		registry = metric.NewRegistry()
		coreMetrics = registry.Metrics
		metricsServer = serveMetrics(cfg.Metrics.Listen, registry, monitor, logger)
	}

	// Persistence backend.
	st, natsConn, err := setupStore(cfg)
	if err != nil {
		return err
	}
	if natsConn != nil {
		defer natsConn.Close()
	}

	// Entity graph, event fan-out and persistence bridge.
	emitter := engine.NewEmitter()
	rec := state.New(state.Deps{
		Events:        emitter,
		Logger:        logger.With("component", "reconciler"),
		ExpectedAreas: cfg.Areas.Expected,
	})

	bridge, err := store.NewBridge(store.BridgeDeps{
		Store:         st,
		Reconciler:    rec,
		Logger:        logger.With("component", "bridge"),
		Metrics:       coreMetrics,
		FlushInterval: cfg.Store.FlushInterval.Std(),
	})
	if err != nil {
		return err
	}
	rec.SetEvents(state.MultiEvents(emitter, store.NewGraphEvents(bridge, rec)))

	if err := bridge.Load(ctx); err != nil {
		// The graph rebuilds from the live stream; a cold start is degraded,
		// not fatal.
		logger.Warn("persisted state unavailable, starting cold", "error", err)
	}
	if cfg.Areas.Expected > 0 {
		rec.StartDiscovery()
	}

	eng, err := engine.New(engine.Deps{
		Reconciler: rec,
		Logger:     logger.With("component", "engine"),
		Metrics:    coreMetrics,
	})
	if err != nil {
		return err
	}

	// Start order: persistence first, then the engine, then the inputs that
	// feed it. Shutdown runs the same list in reverse.
	var started []stoppable
	startComponent := func(name string, c interface {
		Start(context.Context) error
		Stop(time.Duration) error
	}) error {
		if err := c.Start(ctx); err != nil {
			monitor.SetUnhealthy(name, err.Error())
			return fmt.Errorf("start %s: %w", name, err)
		}
		monitor.SetHealthy(name, "running")
		started = append(started, c)
		return nil
	}

	shutdownAll := func() {
		for i := len(started) - 1; i >= 0; i-- {
			if err := started[i].Stop(cliCfg.ShutdownTimeout); err != nil {
				logger.Warn("component stop failed", "error", err)
			}
		}
		if metricsServer != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cliCfg.ShutdownTimeout)
			defer cancel()
			_ = metricsServer.Shutdown(shutdownCtx)
		}
	}

	if err := startComponent("bridge", bridge); err != nil {
		shutdownAll()
		return err
	}
	if err := startComponent("engine", eng); err != nil {
		shutdownAll()
		return err
	}

	if cfg.Serial.Enabled {
		serialInput, err := transport.NewSerialInput(transport.SerialDeps{
			Config: transport.SerialConfig{
				Port:           cfg.Serial.Port,
				BaudRate:       cfg.Serial.BaudRate,
				OpenAttempts:   cfg.Serial.OpenAttempts,
				OpenRetryDelay: cfg.Serial.OpenRetryDelay.Std(),
				RingCapacity:   cfg.Serial.RingCapacity,
			},
			Sink:   eng.SerialSink(),
			Logger: logger.With("component", "serial-input"),
		})
		if err != nil {
			shutdownAll()
			return err
		}
		if err := startComponent("serial-input", serialInput); err != nil {
			shutdownAll()
			return err
		}
	}

	if cfg.Poll.Enabled {
		client := poll.NewClient(poll.ClientConfig{
			BaseURL:    cfg.Poll.BaseURL,
			AuthHeader: cfg.Poll.AuthHeader,
			AuthSecret: cfg.Poll.AuthSecret,
			Timeout:    cfg.Poll.Timeout.Std(),
		}, logger.With("component", "poll-client"))

		manager, err := poll.NewManager(poll.ManagerDeps{
			Client:           client,
			Sink:             eng.PollSink(),
			Logger:           logger.With("component", "poll-manager"),
			MetricsRegistry:  registry,
			ForwardInterval:  cfg.Poll.ForwardInterval.Std(),
			BackwardInterval: cfg.Poll.BackwardInterval.Std(),
			BatchLength:      cfg.Poll.BatchLength,
			SeenCapacity:     cfg.Poll.SeenCapacity,
		})
		if err != nil {
			shutdownAll()
			return err
		}
		if err := startComponent("poll-manager", manager); err != nil {
			shutdownAll()
			return err
		}

		remote := poll.NewRemote(client, eng.PollSink(), logger.With("component", "poll-remote"))
		go runFactLoop(ctx, remote, cfg.Poll.FactInterval.Std())
	}

	logger.Info("probemaster running")
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownAll()
	logger.Info("shutdown complete")
	return nil
}

// setupStore builds the configured persistence backend. The NATS connection
// is returned so the caller can close it after the bridge stops.
func setupStore(cfg config.Config) (store.Store, *nats.Conn, error) {
	switch cfg.Store.Backend {
	case "nats":
		nc, err := nats.Connect(cfg.Store.NATS.URL,
			nats.Name(appName),
			nats.MaxReconnects(-1),
			nats.ReconnectWait(2*time.Second),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to NATS: %w", err)
		}
		js, err := jetstream.New(nc)
		if err != nil {
			nc.Close()
			return nil, nil, fmt.Errorf("jetstream context: %w", err)
		}
		st, err := store.NewNATS(js, store.NATSConfig{
			BucketPrefix: cfg.Store.NATS.BucketPrefix,
			Replicas:     cfg.Store.NATS.Replicas,
		})
		if err != nil {
			nc.Close()
			return nil, nil, err
		}
		return st, nc, nil
	default:
		return store.NewMemory(), nil, nil
	}
}

// serveMetrics exposes the Prometheus scrape endpoint and the health check.
func serveMetrics(listen string, registry *metric.Registry, monitor *health.Monitor, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", registry.Handler())
	mux.Handle("/healthz", monitor.Handler())

	server := &http.Server{
		Addr:              listen,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("metrics endpoint listening", "addr", listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
		}
	}()
	return server
}

// runFactLoop periodically refreshes areas, stats, thresholds and pixels from
// the REST endpoints. One immediate fetch primes the graph at startup.
func runFactLoop(ctx context.Context, remote *poll.Remote, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	remote.FetchAll(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			remote.FetchAll(ctx)
		}
	}
}
