// Package main wires together the scrape service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/jobgrid/scrape-service/internal/api"
	"github.com/jobgrid/scrape-service/internal/clock/system"
	"github.com/jobgrid/scrape-service/internal/config"
	"github.com/jobgrid/scrape-service/internal/id/uuid"
	"github.com/jobgrid/scrape-service/internal/logging"
	"github.com/jobgrid/scrape-service/internal/metrics"
	"github.com/jobgrid/scrape-service/internal/mirror"
	"github.com/jobgrid/scrape-service/internal/orchestrator"
	"github.com/jobgrid/scrape-service/internal/publisher"
	memorypublisher "github.com/jobgrid/scrape-service/internal/publisher/memory"
	pubsubpublisher "github.com/jobgrid/scrape-service/internal/publisher/pubsub"
	"github.com/jobgrid/scrape-service/internal/schedule"
	"github.com/jobgrid/scrape-service/internal/scraper"
	"github.com/jobgrid/scrape-service/internal/storage"
	gcsstorage "github.com/jobgrid/scrape-service/internal/storage/gcs"
	memorystorage "github.com/jobgrid/scrape-service/internal/storage/memory"
	"github.com/jobgrid/scrape-service/internal/store/postgres"
	"github.com/jobgrid/scrape-service/internal/writer"
)

func main() {
	// Missing .env is fine; containers inject real environment variables.
	_ = godotenv.Load()

	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync()
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.Init()

	pool, err := postgres.Connect(ctx, cfg.DB.DSN)
	if err != nil {
		logger.Fatal("connect to postgres", zap.Error(err))
	}
	defer pool.Close()

	postings := postgres.NewPostingStore(pool)
	runs := postgres.NewRunStateStore(pool)

	var blobs storage.BlobStore
	switch cfg.Storage.Provider {
	case "gcs":
		gcsStore, err := gcsstorage.New(ctx, gcsstorage.Config{Bucket: cfg.Storage.GCSBucket})
		if err != nil {
			logger.Fatal("init gcs blob store", zap.Error(err))
		}
		defer func() {
			_ = gcsStore.Close()
		}()
		blobs = gcsStore
	default:
		blobs = memorystorage.NewBlobStore()
	}

	var cache redis.UniversalClient
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:		cfg.Redis.Addr,
			Password:	cfg.Redis.Password,
			DB:		cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis unreachable, lookaside cache disabled", zap.Error(err))
		} else {
			cache = rdb
			defer func() {
				_ = rdb.Close()
			}()
		}
	}

	docMirror := mirror.New(mirror.Config{
		Enabled:	cfg.PDFCache.Enabled,
		PathPrefix:	cfg.PDFCache.Prefix,
		MaxBytes:	cfg.PDFCache.MaxBytes,
		Timeout:	time.Duration(cfg.PDFCache.TimeoutSeconds) * time.Second,
		CacheTTL:	time.Duration(cfg.PDFCache.CacheTTLHours) * time.Hour,
	}, blobs, cache, logger.Named("mirror"))

	var renderer scraper.Renderer
	if cfg.Headless.Enabled {
		chromedpRenderer, err := scraper.NewChromedpRenderer(scraper.RendererConfig{
			UserAgent:	cfg.Scrape.UserAgent,
			MaxConcurrency:	cfg.Headless.MaxParallel,
			NavTimeout:	time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
			DomainQPS:	cfg.Headless.DomainQPS,
		}, logger.Named("renderer"))
		if err != nil {
			logger.Warn("headless renderer init failed", zap.Error(err))
		} else {
			renderer = chromedpRenderer
			defer func() {
				_ = chromedpRenderer.Close()
			}()
		}
	}

	siteScraper, err := scraper.New(scraper.Config{
		UserAgent:	cfg.Scrape.UserAgent,
		RequestTimeout:	cfg.Scrape.RequestTimeout(),
		Parallelism:	cfg.Scrape.Parallelism,
	}, renderer, logger.Named("scraper"))
	if err != nil {
		logger.Fatal("init scraper", zap.Error(err))
	}

	bulkWriter := writer.New(postings, writer.Config{
		ChunkSize:	cfg.Scrape.ChunkSize,
		RetryAttempts:	cfg.Scrape.RetryAttempts,
		RetryBackoff:	cfg.Scrape.RetryBackoff(),
	}, logger.Named("writer"))

	var events publisher.Publisher
	if cfg.PubSub.ProjectID != "" && cfg.PubSub.TopicName != "" {
		pubsubPub, err := pubsubpublisher.New(ctx, cfg.PubSub.ProjectID, cfg.PubSub.TopicName)
		if err != nil {
			logger.Fatal("init pubsub publisher", zap.Error(err))
		}
		events = pubsubPub
	} else {
		events = memorypublisher.New()
	}
	defer func() {
		_ = events.Close()
	}()

	orch := orchestrator.New(orchestrator.Config{
		Sources:	cfg.Sources,
		Interval:	cfg.Scrape.Interval(),
		LookbackDays:	cfg.Scrape.LookbackDays,
		OnDuplicate:	writer.DuplicatePolicy(cfg.Scrape.OnDuplicate),
		AutoEnabled:	cfg.Scrape.AutoEnabled,
	}, runs, bulkWriter, docMirror, siteScraper, events, system.New(), uuid.New(), logger.Named("orchestrator"))

	if cfg.Scrape.AutoEnabled {
		scheduler := schedule.New(orch, cfg.Scrape.SchedulerTick(), logger.Named("scheduler"))
		if err := scheduler.Start(ctx); err != nil {
			logger.Fatal("start scheduler", zap.Error(err))
		}
		defer scheduler.Stop()
	}

	apiServer := api.NewServer(orch, api.Config{
		CronSecret:	cfg.Auth.CronSecret,
		RequestTimeout:	time.Duration(cfg.Server.TimeoutSeconds) * time.Second,
	}, pool.Ping, logger.Named("api"))

	srv := &http.Server{
		Addr:			fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:		apiServer.Handler(),
		ReadHeaderTimeout:	5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error("orchestrator shutdown error", zap.Error(err))
	}
	logger.Info("shutdown complete")
}
