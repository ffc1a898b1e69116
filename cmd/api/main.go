package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/pytake/pytake-go/internal/api"
	"github.com/pytake/pytake-go/internal/config"
	"github.com/pytake/pytake-go/internal/jobstore"
	"github.com/pytake/pytake-go/internal/logger"
	"github.com/pytake/pytake-go/internal/queue"
	"github.com/pytake/pytake-go/internal/redis"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("failed to load config: " + err.Error())
	}

	log := logger.New(cfg.Log.Level)
	log.Info("starting distributed task queue", "version", cfg.AppVersion)

	rdb, err := redis.NewClient(cfg)
	if err != nil {
		log.Fatal("failed to connect to redis", "error", err)
	}

	jobStore, err := jobstore.NewPostgresJobStore(cfg)
	if err != nil {
		log.Fatal("failed to connect job store", "error", err)
	}

	tokens, err := jobstore.NewWorkerTokenStore(jobStore)
	if err != nil {
		log.Fatal("failed to initialize worker token store", "error", err)
	}

	auditSink, err := jobstore.NewAuditSink(cfg)
	if err != nil {
		log.Fatal("failed to initialize audit sink", "error", err)
	}
	defer auditSink.Close()

	sysCfg := &queue.SystemConfig{
		Broker: queue.BrokerConfig{
			DefaultQueue:    cfg.Queue.DefaultQueue,
			ResultTTL:       cfg.Queue.ResultTTL,
			FailedTTL:       cfg.Queue.FailedTTL,
			CleanupInterval: cfg.Queue.CleanupInterval,
		},
		Worker: queue.WorkerConfig{
			WorkerID:          "worker",
			Queues:            []string{cfg.Queue.DefaultQueue},
			MaxConcurrent:     cfg.Worker.MaxConcurrent,
			PollInterval:      cfg.Worker.PollInterval,
			TaskTimeout:       cfg.Worker.TaskTimeout,
			AutoRetry:         cfg.Worker.AutoRetry,
			RetryOnTimeout:    cfg.Worker.RetryOnTimeout,
			HeartbeatInterval: cfg.Worker.HeartbeatInterval,
			ShutdownGrace:     cfg.Worker.ShutdownGrace,
		},
		WorkerCount: cfg.Worker.Count,
		Queues:      []string{cfg.Queue.DefaultQueue},
	}

	system, err := queue.NewSystem(rdb, jobStore, sysCfg, log)
	if err != nil {
		log.Fatal("failed to build queue system", "error", err)
	}

	system.RegisterHandler("add", queue.AddTaskHandler{})
	system.RegisterHandler("echo", queue.EchoHandler{})
	system.AddEventListener(jobstore.NewAuditListener(auditSink, system.Broker))

	client := queue.NewClient(system.Broker, cfg.Queue.DefaultQueue)
	server := api.NewServer(cfg, rdb, client, system.Manager, system.Scheduler, tokens, log)
	system.AddEventListener(server.Hub())

	if err := system.Start(); err != nil {
		log.Fatal("failed to start queue system", "error", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Run(ctx)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error("http server exited with error", "error", err)
		}
	}

	if err := system.Stop(); err != nil {
		log.Error("failed to stop queue system cleanly", "error", err)
	}
}
