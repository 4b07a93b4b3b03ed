package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/hibiken/asynq"

	"github.com/attachkit/attachkit/internal/config"
	"github.com/attachkit/attachkit/internal/datastore"
	"github.com/attachkit/attachkit/internal/setup"
	"github.com/attachkit/attachkit/internal/worker"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "attachkit-worker"})

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", "err", err)
	}

	manager, cleanup, err := setup.Manager(ctx, cfg, datastore.Hooks{}, logger)
	if err != nil {
		logger.Fatal("setup", "err", err)
	}
	defer cleanup()

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
	})
	processor := worker.NewProcessor(manager, logger)
	mux := processor.Handler()

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	logger.Info("worker listening", "redis", cfg.RedisAddr, "concurrency", cfg.Concurrency)
	if err := server.Run(mux); err != nil {
		logger.Error("worker stopped", "err", err)
		os.Exit(1)
	}
}
