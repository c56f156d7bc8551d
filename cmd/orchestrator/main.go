// Package main wires together the scrape orchestrator service binary.
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

	"github.com/harvestd/orchestrator/internal/api"
	"github.com/harvestd/orchestrator/internal/clock/system"
	"github.com/harvestd/orchestrator/internal/config"
	"github.com/harvestd/orchestrator/internal/dispatcher"
	collyexecutor "github.com/harvestd/orchestrator/internal/executor/colly"
	providerexecutor "github.com/harvestd/orchestrator/internal/executor/provider"
	"github.com/harvestd/orchestrator/internal/id/uuid"
	"github.com/harvestd/orchestrator/internal/logging"
	"github.com/harvestd/orchestrator/internal/orchestrator"
	"github.com/harvestd/orchestrator/internal/provider"
	memorypublisher "github.com/harvestd/orchestrator/internal/publisher/memory"
	pubsubpublisher "github.com/harvestd/orchestrator/internal/publisher/pubsub"
	queueMemory "github.com/harvestd/orchestrator/internal/queue/memory"
	"github.com/harvestd/orchestrator/internal/schedule"
	"github.com/harvestd/orchestrator/internal/scrape"
	memorysink "github.com/harvestd/orchestrator/internal/sink/memory"
	postgressink "github.com/harvestd/orchestrator/internal/sink/postgres"
	"github.com/harvestd/orchestrator/internal/worker"
)

func main() {
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
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := system.New()
	idGen := uuid.New()

	generalQueue := queueMemory.NewQueue(cfg.QueueNameFor(scrape.KindGeneral), cfg.Queue.MaxDepth)
	detailsQueue := queueMemory.NewQueue(cfg.QueueNameFor(scrape.KindJobDetails), cfg.Queue.MaxDepth)
	dispatch := dispatcher.New(cfg.Queue.EnqueueWait, logger.Named("dispatcher"))
	dispatch.Register(scrape.KindGeneral, generalQueue)
	dispatch.Register(scrape.KindJobDetails, detailsQueue)

	var sink scrape.ResultSink
	switch cfg.Sink.Provider {
	case "postgres":
		pgSink, err := postgressink.NewSink(ctx, postgressink.SinkConfig{DSN: cfg.Sink.DSN})
		if err != nil {
			logger.Fatal("postgres sink init failed", zap.Error(err))
		}
		defer pgSink.Close()
		sink = pgSink
	default:
		sink = memorysink.New()
	}

	var publisher scrape.Publisher
	switch cfg.Publisher.Provider {
	case "pubsub":
		psPublisher, err := pubsubpublisher.New(ctx, cfg.Publisher.ProjectID, cfg.Publisher.TopicName)
		if err != nil {
			logger.Fatal("pubsub publisher init failed", zap.Error(err))
		}
		defer func() {
			if closeErr := psPublisher.Close(); closeErr != nil {
				logger.Warn("pubsub publisher close failed", zap.Error(closeErr))
			}
		}()
		publisher = psPublisher
	default:
		publisher = memorypublisher.New()
	}

	var (
		prober  scrape.StatusProber
		starter providerexecutor.RunStarter
	)
	if cfg.Provider.BaseURL != "" {
		providerClient, err := provider.NewClient(provider.Config{
			BaseURL:        cfg.Provider.BaseURL,
			Token:          cfg.Provider.Token,
			WebhookURL:     cfg.Provider.WebhookURL,
			RequestTimeout: cfg.Provider.RequestTimeout,
		})
		if err != nil {
			logger.Fatal("provider client init failed", zap.Error(err))
		}
		prober = providerClient
		starter = providerClient
	} else {
		logger.Warn("no provider configured, job_details tasks will fail and rechecks are disabled")
	}

	orch := orchestrator.New(
		dispatch,
		sink,
		publisher,
		prober,
		clock,
		idGen,
		orchestrator.Config{
			WebhookRecheckInterval: cfg.Webhook.RecheckInterval,
			WebhookTimeout:         cfg.Webhook.Timeout,
			SinkRetryMax:           cfg.Sink.RetryMax,
			SinkRetryBackoff:       cfg.Sink.RetryBackoff,
			JobRetention:           cfg.Jobs.Retention,
			EventTopic:             cfg.Publisher.TopicName,
			BaseContext:            ctx,
		},
		logger.Named("orchestrator"),
	)

	generalPool := worker.NewPool(
		generalQueue,
		collyexecutor.New(collyexecutor.Config{
			UserAgent: cfg.Fetch.UserAgent,
			Timeout:   cfg.Fetch.Timeout,
		}, nil),
		orch,
		worker.Config{
			Kind:             scrape.KindGeneral,
			Size:             cfg.Workers.GeneralCount,
			ExecutionTimeout: cfg.Workers.ExecutionTimeout,
		},
		logger.Named("worker"),
	)
	detailsPool := worker.NewPool(
		detailsQueue,
		providerexecutor.New(starter),
		orch,
		worker.Config{
			Kind:             scrape.KindJobDetails,
			Size:             cfg.Workers.JobDetailsCount,
			ExecutionTimeout: cfg.Workers.ExecutionTimeout,
		},
		logger.Named("worker"),
	)

	source := schedule.NewFileSource(cfg.Schedules.Path)
	runner := schedule.NewRunner(source, orch, scrape.Environment(cfg.Environment), logger.Named("schedule"))
	if err := runner.Start(ctx); err != nil {
		logger.Fatal("schedule runner start failed", zap.Error(err))
	}
	defer runner.Stop()

	apiServer := api.NewServer(orch, source, clock, cfg, logger.Named("api"))
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("general worker pool started", zap.Int("size", cfg.Workers.GeneralCount))
		generalPool.Run(ctx)
	}()
	go func() {
		logger.Info("job_details worker pool started", zap.Int("size", cfg.Workers.JobDetailsCount))
		detailsPool.Run(ctx)
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
	generalQueue.Close()
	detailsQueue.Close()
	logger.Info("shutdown complete")
}
