package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"guardian-angel/internal/config"
	"guardian-angel/internal/geo"
	"guardian-angel/internal/handler"
	"guardian-angel/internal/logger"
	"guardian-angel/internal/observability"
	"guardian-angel/internal/provider"
	"guardian-angel/internal/repository"
	"guardian-angel/internal/service"
)

const userAgent = "guardian-angel/1.0"

func main() {
	config.Load()
	app := config.GetAppConfig()
	log := logger.New(app.Log)

	dbURL := config.GetDBURL()
	redisCfg := config.GetRedisConfig()
	if dbURL == "" {
		log.Fatal("DATABASE_URL is empty")
	}
	if redisCfg.Addr == "" {
		log.Fatal("REDIS_ADDR is empty")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// init storage (Postgres + Redis)
	storage, err := repository.NewStorage(dbURL, redisCfg, log)
	if err != nil {
		log.WithError(err).Fatal("failed to initialize storage")
	}

	if err := storage.CreateTables(ctx); err != nil {
		log.WithError(err).Fatal("failed to create tables")
	}

	metrics, err := observability.NewCollector(nil)
	if err != nil {
		log.WithError(err).Fatal("failed to register metrics")
	}

	safety := service.NewSafetyService(
		storage,
		provider.NewOSRMClient(app.RoutingURL, app.ProviderTimeout),
		provider.NewNominatimClient(app.GeocodingURL, userAgent, app.ProviderTimeout),
		metrics,
		log,
		service.Options{
			ProximityThresholdM:     app.ProximityThresholdM,
			TrackingDurationSeconds: app.TrackingDurationSeconds,
			Fallback:                geo.Coordinate{Lat: app.FallbackLat, Lng: app.FallbackLng},
			ReportsGeohashPrecision: app.ReportsGeohashPrecision,
		},
	)
	if err := safety.LoadZones(ctx, app.ZonesSeedFile); err != nil {
		log.WithError(err).Fatal("failed to load risk zones")
	}

	h := handler.NewHandler(log, safety)

	mux := http.NewServeMux()
	h.Register(mux)
	mux.Handle("/metrics", metrics.Handler())

	server := &http.Server{
		Addr:              app.HTTPAddr,
		Handler:           metrics.Middleware(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server ListenAndServe error")
		}
	}()

	log.WithField("addr", app.HTTPAddr).Info("Server started")

	go safety.RunTracking(ctx)

	if app.WebhookURL == "" {
		log.Warn("WEBHOOK_URL is empty, alerts stay queued")
	} else {
		worker := service.NewAlertWorker(storage, log, app.WebhookURL)
		go worker.Run(ctx)
	}

	<-ctx.Done()
	log.Info("Shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("server forced to shutdown")
	} else {
		log.Info("Server stopped gracefully")
	}

	if err := storage.Close(); err != nil {
		log.WithError(err).Warn("storage close error")
	} else {
		log.Info("Storage closed")
	}
}
