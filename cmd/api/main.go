package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/keystonerealty/keystone-backend/api/routes"
	"github.com/keystonerealty/keystone-backend/internal/commissions"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/auth/session"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/maps"
	"github.com/keystonerealty/keystone-backend/pkg/metrics"
	"github.com/keystonerealty/keystone-backend/pkg/migrate"
	"github.com/keystonerealty/keystone-backend/pkg/redis"
	"github.com/keystonerealty/keystone-backend/pkg/storage/gcs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName:  "api",
		Level:        logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:    cfg.App.LogWarnStack,
		Environment:  cfg.App.Env,
		DebugSampleN: cfg.App.LogDebugSample,
	})

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	storeMetrics := metrics.NewStoreMetrics(reg)

	dbClient, err := db.New(context.Background(), cfg.DB, logg,
		db.WithQueryInterceptor(db.LoggingInterceptor(logg, cfg.DB.SlowQuery)),
		db.WithQueryInterceptor(db.MetricsInterceptor(storeMetrics)),
	)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap database", err)
		os.Exit(1)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, dbClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	sessionManager, err := session.NewManager(redisClient, cfg.JWT)
	if err != nil {
		logg.Error(context.Background(), "failed to create session manager", err)
		os.Exit(1)
	}

	alertService, err := security.NewAlertService(redisClient, storeMetrics, cfg.Security, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create security alerts", err)
		os.Exit(1)
	}

	gcsClient, err := gcs.NewClient(context.Background(), cfg.GCS, cfg.GCP, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap gcs", err)
		os.Exit(1)
	}
	defer func() {
		if err := gcsClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing gcs", err)
		}
	}()

	resolver := newResolver(cfg, logg)

	shape, err := listing.ParseShape(cfg.Listings.WriteShape)
	if err != nil {
		logg.Error(context.Background(), "invalid listing write shape", err)
		os.Exit(1)
	}

	listingService, err := listing.NewService(
		dbClient,
		listing.NewRepository(dbClient.DB(), shape),
		resolver,
		gcsClient,
		alertService,
		logg,
		listing.ServiceConfig{
			Bucket:           gcsClient.DefaultBucket(),
			ObjectPrefix:     cfg.Listings.ObjectPrefix,
			MaxImages:        cfg.Listings.MaxImages,
			MaxUploadBytes:   cfg.Listings.MaxUploadBytes(),
			OperationTimeout: cfg.DB.OperationTimeout,
		},
	)
	if err != nil {
		logg.Error(context.Background(), "failed to create listing service", err)
		os.Exit(1)
	}

	commissionService, err := commissions.NewService(commissions.NewRepository(dbClient.DB()), listingService, alertService, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to create commission service", err)
		os.Exit(1)
	}

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	id := os.Getenv("DYNO")
	if id == "" {
		id = "local"
	}
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":         cfg.App.Env,
		"addr":        addr,
		"instance":    id,
		"write_shape": string(shape),
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(
			cfg,
			logg,
			dbClient,
			redisClient,
			gcsClient,
			sessionManager,
			alertService,
			listingService,
			commissionService,
			resolver,
			metrics.Handler(reg),
		),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

// newResolver wires Google Maps when a key is configured. Without one every
// address stays pending and geocode previews report the dependency as missing.
func newResolver(cfg *config.Config, logg *logger.Logger) *location.Resolver {
	if cfg.GoogleMaps.APIKey == "" {
		logg.Warn(context.Background(), "google maps api key not set, geocoding disabled")
		return location.NewResolver(nil, logg)
	}
	mapsClient, err := maps.NewClient(cfg.GoogleMaps.APIKey, maps.WithBaseURL(cfg.GoogleMaps.BaseURL))
	if err != nil {
		logg.Error(context.Background(), "failed to create google maps client", err)
		os.Exit(1)
	}
	return location.NewResolver(mapsClient, logg).WithPlaces(mapsClient)
}
