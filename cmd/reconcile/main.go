package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	listing "github.com/keystonerealty/keystone-backend/internal/listings"
	"github.com/keystonerealty/keystone-backend/internal/location"
	"github.com/keystonerealty/keystone-backend/internal/security"
	"github.com/keystonerealty/keystone-backend/pkg/config"
	"github.com/keystonerealty/keystone-backend/pkg/db"
	"github.com/keystonerealty/keystone-backend/pkg/logger"
	"github.com/keystonerealty/keystone-backend/pkg/metrics"
	"github.com/keystonerealty/keystone-backend/pkg/redis"
	"github.com/keystonerealty/keystone-backend/pkg/storage/gcs"
	"github.com/prometheus/client_golang/prometheus"
)

// reconcile copies listings stored in a legacy shape into the configured
// write shape. Reruns skip listings that were already copied.
func main() {
	logg := logger.New(logger.Options{ServiceName: "reconcile"})

	_ = godotenv.Load()

	from := flag.String("from", "", "source shape: wide|normalized|geo")
	batch := flag.Int("batch", 100, "listings read per batch")
	flag.Parse()

	if *from == "" {
		fmt.Fprintln(os.Stderr, "missing -from")
		os.Exit(1)
	}
	source, err := listing.ParseShape(*from)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -from: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName:  "reconcile",
		Level:        logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:    cfg.App.LogWarnStack,
		Environment:  cfg.App.Env,
		DebugSampleN: cfg.App.LogDebugSample,
	})

	target, err := listing.ParseShape(cfg.Listings.WriteShape)
	requireResource(ctx, logg, "write shape", err)

	ctx = logg.WithFields(ctx, map[string]any{
		"env":   cfg.App.Env,
		"from":  string(source),
		"to":    string(target),
		"batch": *batch,
	})

	storeMetrics := metrics.NewStoreMetrics(prometheus.NewRegistry())

	dbClient, err := db.New(ctx, cfg.DB, logg, db.WithQueryInterceptor(db.LoggingInterceptor(logg, cfg.DB.SlowQuery)))
	requireResource(ctx, logg, "database", err)
	defer dbClient.Close()

	redisClient, err := redis.New(ctx, cfg.Redis, logg)
	requireResource(ctx, logg, "redis", err)
	defer redisClient.Close()

	gcsClient, err := gcs.NewClient(ctx, cfg.GCS, cfg.GCP, logg)
	requireResource(ctx, logg, "gcs", err)
	defer gcsClient.Close()

	alerts, err := security.NewAlertService(redisClient, storeMetrics, cfg.Security, logg)
	requireResource(ctx, logg, "security alerts", err)

	svc, err := listing.NewService(
		dbClient,
		listing.NewRepository(dbClient.DB(), target),
		location.NewResolver(nil, logg),
		gcsClient,
		alerts,
		logg,
		listing.ServiceConfig{
			Bucket:           gcsClient.DefaultBucket(),
			ObjectPrefix:     cfg.Listings.ObjectPrefix,
			MaxImages:        cfg.Listings.MaxImages,
			MaxUploadBytes:   cfg.Listings.MaxUploadBytes(),
			OperationTimeout: cfg.DB.OperationTimeout,
		},
	)
	requireResource(ctx, logg, "listing service", err)

	logg.Info(ctx, "reconcile ready")

	result, err := svc.MigrateShape(ctx, source, *batch)
	if result != nil {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	}
	if err != nil {
		logg.Error(ctx, "shape migration aborted", err)
		os.Exit(1)
	}
	if len(result.Failed) > 0 {
		logg.Warn(logg.WithField(ctx, "failed", len(result.Failed)), "some listings were not copied")
		os.Exit(2)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
