// Package main wires together the crawler service.
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

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/shopspider/shopspider/internal/api"
	"github.com/shopspider/shopspider/internal/clock/system"
	"github.com/shopspider/shopspider/internal/config"
	"github.com/shopspider/shopspider/internal/dispatcher"
	"github.com/shopspider/shopspider/internal/engine"
	"github.com/shopspider/shopspider/internal/fetch"
	"github.com/shopspider/shopspider/internal/id/uuid"
	"github.com/shopspider/shopspider/internal/ingest"
	"github.com/shopspider/shopspider/internal/ledger"
	"github.com/shopspider/shopspider/internal/logging"
	"github.com/shopspider/shopspider/internal/metrics"
	"github.com/shopspider/shopspider/internal/queue"
	"github.com/shopspider/shopspider/internal/rules"
	"github.com/shopspider/shopspider/internal/storage/postgres"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development, logging.FileOptions{
		Path:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	err = redisClient.Ping(pingCtx).Err()
	cancel()
	if err != nil {
		logger.Fatal("redis ping failed", zap.String("addr", cfg.Redis.Addr), zap.Error(err))
	}
	crawlLedger := ledger.NewRedis(redisClient, ledger.Options{
		VisitedScope: ledger.Scope(cfg.Crawler.DedupScope),
		VisitedTTL:   cfg.VisitedTTL(),
	})

	dbCfg := postgres.Config{
		DSN:      cfg.DB.DSN,
		MaxConns: cfg.DB.MaxConns,
		MinConns: cfg.DB.MinConns,
	}
	taskStore, err := postgres.NewTaskStore(ctx, dbCfg)
	if err != nil {
		logger.Fatal("task store init failed", zap.Error(err))
	}
	defer taskStore.Close()
	productStore, err := postgres.NewProductStore(ctx, dbCfg, logger.Named("products"))
	if err != nil {
		logger.Fatal("product store init failed", zap.Error(err))
	}
	defer productStore.Close()

	ruleTable, err := rules.Load(cfg.Rules.Path, logger.Named("rules"))
	if err != nil {
		logger.Fatal("rules load failed", zap.Error(err))
	}

	fetcher, err := fetch.New(fetch.Options{
		Timeout:   cfg.FetchTimeout(),
		UserAgent: cfg.HTTP.UserAgent,
		Proxies:   cfg.HTTP.Proxies,
		RateLimit: cfg.HTTP.RateLimit,
		RateBurst: cfg.HTTP.RateBurst,
	})
	if err != nil {
		logger.Fatal("fetcher init failed", zap.Error(err))
	}

	clock := system.New()
	idGen := uuid.New()
	taskQueue := queue.NewRedis(redisClient)

	unit := &engine.Unit{
		Fetcher:    fetcher,
		Ledger:     crawlLedger,
		Rules:      ruleTable,
		Clock:      clock,
		MaxRetries: int64(cfg.Crawler.MaxRetries),
		MaxDepth:   cfg.Crawler.MaxDepth,
		Log:        logger.Named("worker"),
	}
	eng := engine.New(engine.Config{
		BatchSize:       cfg.Crawler.BatchSize,
		Concurrency:     cfg.Crawler.Concurrency,
		FlushThreshold:  cfg.Crawler.FlushThreshold,
		MaxPagesDefault: cfg.Crawler.MaxPagesDefault,
		MinDelay:        time.Duration(cfg.Crawler.MinDelayMs) * time.Millisecond,
		MaxDelay:        time.Duration(cfg.Crawler.MaxDelayMs) * time.Millisecond,
	}, unit, crawlLedger, taskStore, productStore, clock, logger.Named("engine"))

	dispatch := dispatcher.New(taskQueue, eng, cfg.Crawler.Engines, logger.Named("dispatcher"))
	sweeper := ingest.New(
		crawlLedger,
		taskStore,
		time.Duration(cfg.Ingest.IntervalSeconds)*time.Second,
		cfg.Ingest.BatchSize,
		logger.Named("ingest"),
	)

	apiServer := api.NewServer(crawlLedger, taskStore, productStore, dispatch, idGen, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("dispatcher started", zap.Int("engines", cfg.Crawler.Engines))
		dispatch.Run(ctx)
	}()
	go func() {
		logger.Info("ingestion sweeper started",
			zap.Int("interval_seconds", cfg.Ingest.IntervalSeconds))
		sweeper.Run(ctx)
	}()
	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	if err := redisClient.Close(); err != nil {
		logger.Error("redis close error", zap.Error(err))
	}
}
