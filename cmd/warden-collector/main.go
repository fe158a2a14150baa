package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/Wikid82/warden/internal/config"
	"github.com/Wikid82/warden/internal/database"
	"github.com/Wikid82/warden/internal/logger"
	"github.com/Wikid82/warden/internal/metrics"
	"github.com/Wikid82/warden/internal/server"
	"github.com/Wikid82/warden/internal/services"
	"github.com/Wikid82/warden/internal/version"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Log().WithError(err).Fatal("load config")
	}

	// Setup logging with rotation
	if err := os.MkdirAll(cfg.LogDir, 0o755); err != nil {
		// Fallback to local directory if the configured one is not writable
		cfg.LogDir = filepath.Join("data", "logs")
		_ = os.MkdirAll(cfg.LogDir, 0o755)
	}
	rotator := &lumberjack.Logger{
		Filename:   filepath.Join(cfg.LogDir, "warden-collector.log"),
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
		Compress:   true,
	}
	defer rotator.Close()
	logger.Init(cfg.Debug, io.MultiWriter(os.Stdout, rotator))

	log := logger.Log()
	log.Infof("starting %s collector %s", version.Name, version.Full())

	if err := config.EnsureDir(cfg.Collector.DatabasePath); err != nil {
		log.WithError(err).Fatal("prepare data directory")
	}
	db, err := database.Open(cfg.Collector.DatabasePath)
	if err != nil {
		log.WithError(err).Fatal("connect database")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	srv, err := server.New(db, cfg, registry)
	if err != nil {
		log.WithError(err).Fatal("build server")
	}

	retention, err := services.NewRetentionService(srv.Events, cfg.Collector.RetentionDays, cfg.Collector.RetentionSchedule)
	if err != nil {
		log.WithError(err).Fatal("schedule retention")
	}
	retention.Start()
	defer func() { <-retention.Stop().Done() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.WithField("port", cfg.Collector.HTTPPort).Info("collector listening")
	if err := srv.Run(ctx); err != nil {
		log.WithError(err).Error("server error")
		return
	}
	log.Info("collector stopped")
}
