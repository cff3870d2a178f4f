// Package main is the external-engine broker's entry point: it loads
// configuration, runs registry migrations, wires the broker core to the
// HTTP API, and serves until it receives a shutdown signal.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/r3e-network/external-engine-broker/internal/broker"
	"github.com/r3e-network/external-engine-broker/internal/config"
	"github.com/r3e-network/external-engine-broker/internal/httpapi"
	"github.com/r3e-network/external-engine-broker/internal/logging"
	"github.com/r3e-network/external-engine-broker/internal/metrics"
	"github.com/r3e-network/external-engine-broker/internal/middleware"
	"github.com/r3e-network/external-engine-broker/internal/registry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	logger := logging.New("external-engine-broker", cfg.Logging.Level, cfg.Logging.Format)

	if cfg.Database.MigrateOnStart {
		if err := registry.Migrate(cfg.Database.DSN); err != nil {
			log.Fatalf("run registry migrations: %v", err)
		}
	}

	ctx, cancelOpen := context.WithTimeout(context.Background(), 10*time.Second)
	store, err := registry.Open(ctx, cfg.Database.DSN)
	cancelOpen()
	if err != nil {
		log.Fatalf("open registry store: %v", err)
	}
	defer store.Close()

	var adminRegistry registry.AdminRegistry = store
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		adminRegistry = registry.NewCachedRegistry(store, rdb, logger)
	}

	m := metrics.New("external-engine-broker")

	b := broker.New(adminRegistry, logger, m, broker.Config{
		MaxActiveSessions:   cfg.Broker.MaxActiveSessions,
		SessionBufferChunks: cfg.Broker.SessionBufferChunk,
		MinAcquireTimeout:   cfg.Broker.MinAcquireTimeout,
		MaxAcquireTimeout:   cfg.Broker.MaxAcquireTimeout,
	})

	reaper := broker.NewIdleReaper(b, cfg.Broker.IdleAcquiredBudget)
	if err := reaper.Start(); err != nil {
		log.Fatalf("start idle reaper: %v", err)
	}
	defer reaper.Stop()

	router := mux.NewRouter()
	router.Use(middleware.LoggingMiddleware(logger))
	router.Use(middleware.NewRecoveryMiddleware(logger).Handler)
	router.Use(middleware.MetricsMiddleware("external-engine-broker", m))
	router.Use(middleware.NewCORSMiddleware(&middleware.CORSConfig{
		AllowedOrigins:   cfg.CORS.Origins(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
		MaxAgeSeconds:    3600,
	}).Handler)
	router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}).Methods(http.MethodGet)
	httpapi.NewReady(store).Register(router)

	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	rateLimiter := middleware.NewRateLimiterWithWindow(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst, logger)
	stopRateLimiterCleanup := rateLimiter.StartCleanup(5 * time.Minute)
	defer stopRateLimiterCleanup()

	// Of the three broker routes, body limit and rate limiting guard only the
	// JSON-bodied analyse/acquire routes (the admin router below also gets the
	// body limit); submit reads its upload in bounded chunks on its own and must
	// never be truncated mid-stream (spec §3 invariant: no silent truncation
	// of a completed session).
	httpapi.New(b, logger).Register(router, bodyLimit, rateLimiter)

	if cfg.Auth.AdminJWTSecret != "" {
		adminRouter := mux.NewRouter()
		adminRouter.Use(bodyLimit.Handler)
		httpapi.NewAdmin(adminRegistry, logger).Register(adminRouter)
		httpapi.NewStats(b, logger).Register(adminRouter)

		adminHandler := httpapi.RequireAdminAuth([]byte(cfg.Auth.AdminJWTSecret))(adminRouter)
		router.PathPrefix("/api/external-engine/admin").Handler(adminHandler)
	} else {
		logger.Warn("ADMIN_JWT_SECRET not set: admin API disabled")
	}

	server := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		// No overall write timeout: analyse streams ndjson for as long as a
		// session stays open, and submit reads a provider's upload for as
		// long as the engine keeps thinking.
		IdleTimeout: 120 * time.Second,
	}

	go func() {
		var err error
		if cfg.Server.TLSEnabled() {
			logger.Info("broker starting (TLS)")
			err = server.ListenAndServeTLS(cfg.Server.TLSCert, cfg.Server.TLSKey)
		} else {
			logger.Info("broker starting")
			err = server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
