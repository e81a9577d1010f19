package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"shelf/internal/catalog"
	"shelf/internal/config"
	"shelf/internal/daemon"
	"shelf/internal/ipc"
	"shelf/internal/library"
	"shelf/internal/logging"
	"shelf/internal/notifications"
	"shelf/internal/queue"
	"shelf/internal/worker"
)

func main() {
	configFlag := flag.String("config", "", "configuration file path")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configFlag)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	records, err := library.Open(cfg.LibraryDBPath())
	if err != nil {
		logger.Error("open library store", logging.Error(err))
		return
	}
	jobs, err := queue.Open(cfg.QueueDBPath())
	if err != nil {
		logger.Error("open queue store", logging.Error(err))
		_ = records.Close()
		return
	}

	searcher, err := catalog.New(cfg.Catalog.BaseURL, cfg.Catalog.APIKey,
		catalog.WithMaxResults(cfg.Catalog.MaxResults),
		catalog.WithRateLimit(cfg.Catalog.RequestsPerMinute),
		catalog.WithTimeouts(
			time.Duration(cfg.Catalog.DialTimeoutSeconds)*time.Second,
			time.Duration(cfg.Catalog.RequestTimeout)*time.Second,
		),
	)
	if err != nil {
		logger.Error("create catalog client", logging.Error(err))
		_ = jobs.Close()
		_ = records.Close()
		return
	}

	hub := notifications.NewHub(logger)
	defer hub.Close()

	manager := worker.NewManager(cfg, records, jobs, searcher, hub, nil, logger)

	d, err := daemon.New(cfg, records, jobs, manager, hub, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = jobs.Close()
		_ = records.Close()
		return
	}
	defer d.Close()

	ipcServer, err := ipc.NewServer(ctx, cfg.SocketPath(), d, logger)
	if err != nil {
		logger.Error("start IPC server", logging.Error(err))
		return
	}
	defer ipcServer.Close()
	ipcServer.Serve()

	if err := d.Start(ctx); err != nil {
		logger.Error("daemon start", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("shelfd shutting down")
}
