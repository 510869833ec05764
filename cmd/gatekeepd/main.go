// Command gatekeepd serves the reference HTTP binding: rate-limited API
// routes, a guarded login endpoint, admin routes and Prometheus metrics.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/gatekeep/internal/config"
	"github.com/vnykmshr/gatekeep/internal/httpapi"
	gklog "github.com/vnykmshr/gatekeep/internal/log"
	"github.com/vnykmshr/gatekeep/pkg/authguard"
	"github.com/vnykmshr/gatekeep/pkg/metrics"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit"
	"github.com/vnykmshr/gatekeep/pkg/ratelimit/redisstore"
	"github.com/vnykmshr/gatekeep/pkg/reclaim"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gatekeepd: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := gklog.New(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(metrics.Config{
		Enabled:   cfg.Metrics.Enabled,
		Registry:  promRegistry,
		Namespace: cfg.Metrics.Namespace,
		Labels:    prometheus.Labels{"service": "gatekeepd"},
	})
	var metricsHandler http.Handler
	if m != nil {
		promRegistry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		metricsHandler = promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{Registry: promRegistry})
	}

	store, ready, closeStore, err := initStore(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to init store: %w", err)
	}
	defer closeStore()

	fallback := ratelimit.NewFallbackStore(cfg.FallbackCapacity, ratelimit.WithFallbackMetrics(m))
	limiter, err := ratelimit.New(store,
		ratelimit.WithFallback(fallback),
		ratelimit.WithTimeout(cfg.Redis.Timeout),
		ratelimit.WithLogger(logger),
		ratelimit.WithMetrics(m),
		ratelimit.WithName("http"),
	)
	if err != nil {
		return fmt.Errorf("failed to create limiter: %w", err)
	}

	guard := authguard.New(authguard.WithLogger(logger), authguard.WithMetrics(m))

	reclaimer, err := reclaim.New(cfg.ReclaimInterval, reclaim.WithLogger(logger), reclaim.WithMetrics(m))
	if err != nil {
		return fmt.Errorf("failed to create reclaimer: %w", err)
	}
	sweepers := map[string]reclaim.Sweeper{"fallback": fallback, "authguard": guard}
	if mem, ok := store.(*ratelimit.MemoryStore); ok {
		sweepers["memory"] = mem
	}
	for name, s := range sweepers {
		if err := reclaimer.Register(name, s); err != nil {
			return err
		}
	}

	handler, err := httpapi.NewRouter(httpapi.Deps{
		Limiter:       limiter,
		Guard:         guard,
		Policies:      cfg.Policies,
		Authenticator: httpapi.StaticAuthenticator{Username: cfg.LoginUser, Password: cfg.LoginPassword},
		Logger:        logger,
		Ready:         ready,
		Metrics:       metricsHandler,
		AdminToken:    cfg.AdminToken,
	})
	if err != nil {
		return fmt.Errorf("failed to build router: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reclaimer.Start()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("gatekeepd listening",
			zap.String("addr", cfg.HTTPAddr),
			zap.String("store", cfg.Store),
			zap.Strings("classes", ratelimit.PresetClasses()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
	}
	if err := reclaimer.Stop(shutdownCtx); err != nil {
		logger.Warn("reclaimer did not stop in time", zap.Error(err))
	}
	return nil
}

func initStore(cfg config.Config, logger *zap.Logger) (ratelimit.Store, func(context.Context) error, func(), error) {
	switch cfg.Store {
	case config.StoreMemory:
		logger.Warn("using in-process store, limits are not shared between instances")
		return ratelimit.NewMemoryStore(), nil, func() {}, nil

	case config.StoreRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store, err := redisstore.New(client,
			redisstore.WithKeyPrefix(cfg.Redis.KeyPrefix),
			redisstore.WithSlidingWindowMode(cfg.Redis.Sliding),
			redisstore.WithLogger(logger),
		)
		if err != nil {
			_ = client.Close()
			return nil, nil, nil, err
		}

		pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := store.Ping(pingCtx); err != nil {
			// Not fatal: requests are served from the local fallback until Redis answers.
			logger.Warn("redis not reachable at startup", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
		}

		return store, store.Ping, func() {
			if err := store.Close(); err != nil {
				logger.Warn("failed to close redis store", zap.Error(err))
			}
		}, nil

	default:
		return nil, nil, nil, fmt.Errorf("unsupported store: %s", cfg.Store)
	}
}
