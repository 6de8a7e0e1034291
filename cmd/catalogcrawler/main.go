// Package main wires together the catalog crawler binaries.
//
// Usage:
//
//	catalogcrawler [-config path] worker   run the worker pool and HTTP server
//	catalogcrawler [-config path] start    enqueue a crawl of the configured catalog
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

	"go.uber.org/zap"

	"github.com/crawlkit/catalog-crawler/internal/api"
	"github.com/crawlkit/catalog-crawler/internal/catalog"
	"github.com/crawlkit/catalog-crawler/internal/clock/system"
	"github.com/crawlkit/catalog-crawler/internal/config"
	collyfetcher "github.com/crawlkit/catalog-crawler/internal/fetcher/colly"
	uuidgen "github.com/crawlkit/catalog-crawler/internal/id/uuid"
	"github.com/crawlkit/catalog-crawler/internal/logging"
	"github.com/crawlkit/catalog-crawler/internal/metrics"
	"github.com/crawlkit/catalog-crawler/internal/pipeline"
	"github.com/crawlkit/catalog-crawler/internal/policy/ratelimit"
	"github.com/crawlkit/catalog-crawler/internal/policy/simple"
	"github.com/crawlkit/catalog-crawler/internal/progress"
	"github.com/crawlkit/catalog-crawler/internal/progress/sinks"
	"github.com/crawlkit/catalog-crawler/internal/storage/postgres"
	redisbroker "github.com/crawlkit/catalog-crawler/internal/taskqueue/redis"
	"github.com/crawlkit/catalog-crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
		os.Exit(1)
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync() //nolint:errcheck // best-effort flush
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch flag.Arg(0) {
	case "worker":
		err = runWorker(ctx, cfg, logger)
	case "start":
		err = runStart(ctx, cfg, logger)
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		logger.Error("command failed", zap.String("command", flag.Arg(0)), zap.Error(err))
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: catalogcrawler [-config path] <worker|start>")
	fmt.Fprintln(os.Stderr, "  worker  run the worker pool and HTTP server")
	fmt.Fprintln(os.Stderr, "  start   enqueue a crawl of the configured catalog")
}

func runWorker(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	metrics.Init()

	clock := system.New()
	idGen := uuidgen.New()

	store, err := postgres.NewStore(ctx, cfg.DB.DSN, clock, idGen)
	if err != nil {
		return fmt.Errorf("connect store: %w", err)
	}
	defer store.Close()

	broker, err := newBroker(cfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()

	fetcher := collyfetcher.New(collyfetcher.Config{
		UserAgent: cfg.Crawler.UserAgent,
		Timeout:   cfg.RequestTimeout(),
		Limiter:   ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Crawler.RateLimitRPS}),
		Policy:    simple.New(cfg.Crawler.BaseURL, cfg.Crawler.StartURL),
	}, logger.Named("fetcher"))

	hub := progress.NewHub(progress.Config{Logger: logger.Named("progress")},
		sinks.NewLogSink(logger.Named("progress")),
		sinks.NewPrometheusSink(),
	)

	pipe := pipeline.New(
		store,
		broker,
		fetcher,
		clock,
		hub,
		pipeline.Config{
			BaseURL:      cfg.Crawler.BaseURL,
			RequestDelay: cfg.RequestDelay(),
		},
		logger.Named("pipeline"),
	)

	pool := worker.New(broker, pipe, worker.Config{
		Concurrency: cfg.Crawler.Concurrency,
		MaxRetries:  cfg.Crawler.MaxRetries,
	}, logger.Named("worker"))

	apiServer := api.NewServer(store, broker, map[string]api.Pinger{
		"database": store,
		"broker":   broker,
	}, cfg.Crawler.StartURL, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	poolDone := make(chan struct{})
	go func() {
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Crawler.Concurrency))
		pool.Run(ctx)
		close(poolDone)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	<-poolDone
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Error("progress hub close error", zap.Error(err))
	}
	logger.Info("shutdown complete")
	return nil
}

func runStart(ctx context.Context, cfg config.Config, logger *zap.Logger) error {
	broker, err := newBroker(cfg)
	if err != nil {
		return fmt.Errorf("connect broker: %w", err)
	}
	defer broker.Close()

	taskID, err := broker.Enqueue(ctx, catalog.Task{
		Queue: catalog.QueueCrawl,
		Name:  catalog.TaskCrawl,
		Args:  []string{cfg.Crawler.StartURL},
	})
	if err != nil {
		return fmt.Errorf("enqueue crawl: %w", err)
	}

	logger.Info("crawl enqueued",
		zap.String("task_id", taskID),
		zap.String("start_url", cfg.Crawler.StartURL),
	)
	fmt.Printf("crawl task %s enqueued for %s\n", taskID, cfg.Crawler.StartURL)
	return nil
}

func newBroker(cfg config.Config) (*redisbroker.Broker, error) {
	return redisbroker.New(redisbroker.Config{
		BrokerURL:        cfg.Broker.URL,
		ResultBackendURL: cfg.Broker.ResultBackendURL,
		ResultTTL:        cfg.ResultTTL(),
	})
}
