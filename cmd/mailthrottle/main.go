package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"mailthrottle/internal/api"
	"mailthrottle/internal/config"
	"mailthrottle/internal/dispatch"
	"mailthrottle/internal/logger"
	"mailthrottle/internal/mail"
	"mailthrottle/internal/models"
	"mailthrottle/internal/observability"
	"mailthrottle/internal/queue"
	"mailthrottle/internal/throttle"
	"mailthrottle/internal/version"
	"mailthrottle/internal/worker"

	"github.com/redis/go-redis/v9"
)

var (
	configFile    = flag.String("config", "", "Path to configuration file")
	exampleConfig = flag.String("example-config", "", "Write an example configuration file to this path and exit")
	showVersion   = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	flag.Parse()

	ver := version.GetInfo()
	if *showVersion {
		fmt.Println(ver.String())
		return
	}

	if *exampleConfig != "" {
		if err := config.SaveExample(*exampleConfig); err != nil {
			slog.Error("Failed to write example configuration", "error", err)
			os.Exit(1)
		}
		slog.Info("Example configuration written", "path", *exampleConfig)
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFile)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	// Initialize structured logging
	log, closer, err := logger.Setup(cfg.Logging, ver)
	if err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if closer != nil {
		defer closer.Close()
	}
	slog.SetDefault(log)

	// Initialize observability (OpenTelemetry)
	otelProvider, err := observability.Setup(cfg.Metrics, cfg.Observability, ver)
	if err != nil {
		slog.Error("Failed to initialize observability", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := otelProvider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize the shared counter store
	store, storeCloser, err := newCounterStore(cfg)
	if err != nil {
		slog.Error("Failed to initialize counter store", "error", err)
		os.Exit(1)
	}
	defer storeCloser.Close()

	// Initialize the job queue
	q, err := queue.NewFactory().Create(ctx, cfg.Queue)
	if err != nil {
		slog.Error("Failed to initialize queue", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	// Wrap collaborators with instrumentation if metrics or tracing are enabled
	observer := dispatch.Observer(nil)
	if cfg.Metrics.Enabled || cfg.Observability.Tracing.Enabled {
		if store, err = observability.NewInstrumentedStore(store); err != nil {
			slog.Error("Failed to create instrumented counter store", "error", err)
			os.Exit(1)
		}
		if q, err = observability.NewInstrumentedQueue(q); err != nil {
			slog.Error("Failed to create instrumented queue", "error", err)
			os.Exit(1)
		}
		gateMetrics, err := observability.NewGateMetrics()
		if err != nil {
			slog.Error("Failed to create gate metrics", "error", err)
			os.Exit(1)
		}
		observer = gateMetrics
	}

	keys := throttle.NewKeyBuilder(cfg.Throttle.KeyPrefix, cfg.Redis.Prefix, cfg.App.Name)
	gateOpts := []dispatch.GateOption{dispatch.WithLogger(logger.Component(log, "gate"))}
	if observer != nil {
		gateOpts = append(gateOpts, dispatch.WithObserver(observer))
	}
	gate := dispatch.NewGate(throttle.NewEngine(store), keys, worker.NewScheduler(q), cfg.Throttle, gateOpts...)

	slog.Info("Mail throttle configured",
		"store", cfg.Throttle.Store,
		"key_prefix", keys.Prefix(),
		"mailers", len(cfg.Throttle.Mailers),
		"fail_open", cfg.Throttle.FailOpen,
	)

	pool := worker.NewPool(q, mail.NewLogSender(logger.Component(log, "mail")), cfg.Queue, cfg.Throttle.DefaultMailer,
		worker.WithLogger(logger.Component(log, "worker")),
		worker.WithMiddleware(gate),
		worker.WithWorkerName(ver.WorkerName),
	)

	// Status API, rate limited per client by a process-local counter
	apiLimiter := throttle.NewMemoryStore(time.Minute)
	defer apiLimiter.Close()

	routeOpts := []api.RouteOption{api.WithRateLimit(apiLimiter, cfg.Server.RequestsPerMinute)}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	handlers := api.NewHandlers(cfg.Throttle, store, q, keys, ver)
	router := api.SetupRoutes(handlers, routeOpts...)

	// Start metrics server if enabled
	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics, otelProvider)
		go func() {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("Starting status API", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Status API failed to start", "error", err)
			stop()
		}
	}()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Starting workers", "queue", cfg.Queue.Name, "workers", cfg.Queue.Workers)
		pool.Run(ctx)
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	// Workers finish their current job before the queue is closed.
	wg.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("Metrics server forced to shutdown", "error", err)
		}
	}

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("Status API forced to shutdown", "error", err)
	}

	slog.Info("Shutdown complete")
}

// newCounterStore creates the configured counter store. The closer releases
// its connections or background goroutine.
func newCounterStore(cfg *models.Config) (throttle.CounterStore, io.Closer, error) {
	switch cfg.Throttle.Store {
	case models.StoreTypeRedis:
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:       strings.Split(cfg.Redis.Addr, ","),
			Username:    cfg.Redis.Username,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			DialTimeout: cfg.Redis.DialTimeout,
		})
		store := throttle.NewRedisStore(client, throttle.WithTimeout(cfg.Redis.CommandTimeout))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Redis.DialTimeout)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			// Not fatal: the gate's fail-open policy covers an unreachable store.
			slog.Warn("Redis counter store is not reachable at startup", "addr", cfg.Redis.Addr, "error", err)
		}
		return store, client, nil
	case models.StoreTypeMemory:
		slog.Warn("Using the in-process counter store; limits are not shared between workers")
		store := throttle.NewMemoryStore(time.Minute)
		return store, store, nil
	default:
		return nil, nil, fmt.Errorf("unsupported counter store: %s", cfg.Throttle.Store)
	}
}
