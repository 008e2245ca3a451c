// Command dashboard serves the interactive temperature map: a Leaflet page
// backed by a JSON API over the SQLite store, with in-process refresh of
// the CWA dataset.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/twweather/tempmap/internal/cache"
	"github.com/twweather/tempmap/internal/client"
	"github.com/twweather/tempmap/internal/config"
	"github.com/twweather/tempmap/internal/geo"
	httphandler "github.com/twweather/tempmap/internal/http"
	"github.com/twweather/tempmap/internal/lifecycle"
	"github.com/twweather/tempmap/internal/observability"
	"github.com/twweather/tempmap/internal/scheduler"
	"github.com/twweather/tempmap/internal/service"
	"github.com/twweather/tempmap/internal/store"
	"github.com/twweather/tempmap/internal/web"
)

func main() {
	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}

	cwaClient, err := client.NewCWAClientWithRetry(
		cfg.CWADatasetURL,
		cfg.CWAAPIKey,
		cfg.CWATimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("cwa client", zap.Error(err))
	}

	if cfg.BreakerEnabled {
		cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:    "cwa_api",
			Timeout: cfg.BreakerOpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(cfg.BreakerFailureThreshold)
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				observability.RecordCircuitBreakerTransition(name, from.String(), to.String())
				observability.SetCircuitBreakerStateGauge(name, breakerStateValue(to))
			},
		})
		cwaClient.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge("cwa_api", 0)
		logger.Info("circuit breaker enabled",
			zap.Int("failure_threshold", cfg.BreakerFailureThreshold),
			zap.Duration("open_timeout", cfg.BreakerOpenTimeout))
	}

	var cacheSvc cache.Cache
	var memcacheCloser *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err := cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		memcacheCloser = mc
		cacheSvc = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		cacheSvc = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatal("open sqlite database", zap.Error(err))
	}

	resolver := geo.NewResolver(cfg.GeocoderAPIKey)
	tempService := service.NewTemperatureService(cwaClient, st, cacheSvc, cfg.CacheTTL, resolver, cfg.RefreshTimeout, logger)

	// A fresh deployment has an empty store; populate it before serving.
	// Failure is not fatal: the dashboard can still serve an empty map and
	// be refreshed once upstream recovers.
	startupCtx, startupCancel := context.WithTimeout(context.Background(), cfg.RefreshTimeout)
	if err := tempService.RefreshIfEmpty(startupCtx); err != nil {
		logger.Warn("startup refresh failed", zap.Error(err))
	}
	startupCancel()

	sched := scheduler.New(tempService, cfg.RefreshInterval, cfg.RefreshTimeout, logger)
	if err := sched.Start(); err != nil {
		logger.Fatal("scheduler", zap.Error(err))
	}

	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		StartTime:            time.Now(),
	}
	if memcacheCloser != nil {
		healthConfig.CachePing = memcacheCloser.Ping
	}

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	handler := httphandler.NewHandler(tempService, healthConfig, logger)

	observability.RegisterRefreshWindowGauges(cfg.OverloadWindow)

	router := mux.NewRouter()
	router.Use(httphandler.CorrelationIDMiddleware(logger))
	router.Use(httphandler.MetricsMiddleware)
	router.HandleFunc("/health", handler.GetHealth).Methods("GET")
	router.Handle("/metrics", observability.MetricsHandler())

	refreshRouter := router.PathPrefix("/api/refresh").Subrouter()
	refreshRouter.Use(httphandler.RateLimitMiddleware(limiter))
	refreshRouter.Use(httphandler.TimeoutMiddleware(cfg.RefreshTimeout))
	refreshRouter.HandleFunc("", handler.PostRefresh).Methods("POST")

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(httphandler.TimeoutMiddleware(cfg.RequestTimeout))
	apiRouter.HandleFunc("/readings", handler.GetReadings).Methods("GET")
	apiRouter.HandleFunc("/readings/{location}", handler.GetReadingsForLocation).Methods("GET")
	apiRouter.HandleFunc("/locations", handler.GetLocations).Methods("GET")
	apiRouter.HandleFunc("/summary", handler.GetSummary).Methods("GET")

	router.PathPrefix("/").Handler(web.Handler()).Methods("GET")

	srv := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 2 * cfg.RefreshTimeout,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", ":"+cfg.ServerPort))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetShuttingDown(true)
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	inFlight := httphandler.InFlightCount()
	logger.Info("waiting for in-flight requests", zap.Int64("count", inFlight))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}

	if err := st.Close(); err != nil {
		logger.Error("store close", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// breakerStateValue maps gobreaker states onto the gauge scale
// (0 closed, 1 half-open, 2 open).
func breakerStateValue(s gobreaker.State) float64 {
	switch s {
	case gobreaker.StateClosed:
		return 0
	case gobreaker.StateHalfOpen:
		return 1
	default:
		return 2
	}
}
