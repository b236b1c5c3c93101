package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sewerwatch/sewerwatch/internal/config"
	"github.com/sewerwatch/sewerwatch/internal/detector"
	"github.com/sewerwatch/sewerwatch/internal/engine"
	"github.com/sewerwatch/sewerwatch/internal/logger"
	"github.com/sewerwatch/sewerwatch/internal/metrics"
	"github.com/sewerwatch/sewerwatch/internal/models"
	"github.com/sewerwatch/sewerwatch/internal/source"
	"github.com/sewerwatch/sewerwatch/internal/storage"
)

var configPath = flag.String("config", "configs/config.yaml", "Path to configuration file")

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	lg := logger.New("Main")
	lg.Info("Configuration loaded from %s", *configPath)

	store, err := storage.New(cfg.Storage.MaxReports, cfg.Storage.DBPath)
	if err != nil {
		lg.Fatal("Failed to initialize storage: %v", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			lg.Error("Failed to close storage: %v", err)
		}
	}()

	if cfg.Metrics.Enabled {
		metrics.NewServer(cfg.Metrics.ListenAddr).Start()
	}

	master := engine.NewMaster(engine.Config{
		WorkerCount:   cfg.Engine.WorkerCount,
		BatchSize:     cfg.Engine.BatchSize,
		WorkerTimeout: cfg.Engine.WorkerTimeout,
		Detector: detector.Config{
			MinHistory: cfg.Detector.MinHistory,
			MaxHistory: cfg.Detector.MaxHistory,
			Deviation:  cfg.Detector.ThresholdDeviation,
			Critical:   cfg.Detector.ThresholdCritical,
		},
	}, source.NewCSV(cfg.Source.Path), store)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		lg.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	master.Start(ctx)
	defer master.Shutdown()

	lg.Info("Starting monitoring engine (interval: %v, workers: %d, worker_timeout: %v)",
		cfg.Engine.PollingInterval, cfg.Engine.WorkerCount, cfg.Engine.WorkerTimeout)

	ticker := time.NewTicker(cfg.Engine.PollingInterval)
	defer ticker.Stop()

	cycles := 0
	runCycle := func() {
		cycles++
		report, err := master.RunCycle(ctx)
		if err != nil {
			lg.Error("Cycle failed: %v", err)
			return
		}
		if report == nil {
			return
		}
		exportReport(cfg.Storage.ReportPath, report, lg)
	}

	runCycle()

	for {
		if cfg.Engine.MaxCycles > 0 && cycles >= cfg.Engine.MaxCycles {
			lg.Info("Reached max_cycles (%d), stopping", cfg.Engine.MaxCycles)
			return
		}
		select {
		case <-ctx.Done():
			lg.Info("Engine stopped")
			return
		case <-ticker.C:
			runCycle()
		}
	}
}

// exportReport appends the report to the JSONL hand-off file consumed
// by external platform adapters, when configured.
func exportReport(path string, report *models.Report, lg *logger.Logger) {
	if path == "" {
		return
	}
	if err := storage.AppendReportJSON(path, report); err != nil {
		lg.Error("Failed to export report %s: %v", report.CycleID, err)
	}
}
