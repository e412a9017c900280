// Package main is the entry point for the A-share backtest engine. It wires
// configuration, market data, the engine and the optional stream/archive
// collaborators, then runs the configured backtest once or on a cron cadence.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/quantlab/ashare-backtest/internal/config"
	"github.com/quantlab/ashare-backtest/internal/database"
	"github.com/quantlab/ashare-backtest/internal/engine"
	"github.com/quantlab/ashare-backtest/internal/modules/archive"
	"github.com/quantlab/ashare-backtest/internal/modules/charts"
	"github.com/quantlab/ashare-backtest/internal/modules/marketdata"
	"github.com/quantlab/ashare-backtest/internal/modules/reports"
	"github.com/quantlab/ashare-backtest/internal/modules/stream"
	"github.com/quantlab/ashare-backtest/internal/scheduler"
	"github.com/quantlab/ashare-backtest/internal/strategies"
	"github.com/quantlab/ashare-backtest/pkg/logger"
	"github.com/rs/zerolog"
)

func main() {
	var (
		schedule  = flag.String("schedule", "", "cron schedule for repeated runs (empty = run once)")
		importCSV = flag.String("import", "", "CSV file of daily bars to import before running")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fallbackLog := logger.New(logger.Config{Level: "info", Pretty: true})
		fallbackLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log := logger.New(logger.Config{
		Level:  cfg.LogLevel,
		Pretty: true,
	})
	logger.SetGlobalLogger(log)
	log.Info().
		Str("start", cfg.StartDate).
		Str("end", cfg.EndDate).
		Float64("initial_cash", cfg.InitialCash).
		Msg("Starting backtest engine")

	db, err := database.New(database.Config{
		Path:    filepath.Join(cfg.DataDir, "bars.db"),
		Profile: database.ProfileMarket,
		Name:    "bars",
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to open market database")
	}
	defer db.Close()

	store, err := marketdata.NewStore(db, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize bar store")
	}
	if *importCSV != "" {
		count, err := store.ImportCSV(*importCSV)
		if err != nil {
			log.Fatal().Err(err).Str("path", *importCSV).Msg("CSV import failed")
		}
		log.Info().Int("bars", count).Msg("CSV imported")
	}

	dataManager := marketdata.NewManager(store, marketdata.Config{
		Seed:     cfg.SelectionSeed,
		CacheDir: filepath.Join(cfg.DataDir, "cache"),
	}, log)

	// Optional realtime progress stream.
	var streamServer *stream.Server
	if cfg.StreamEnabled {
		streamServer = stream.NewServer(cfg.StreamAddr, log)
		go func() {
			if err := streamServer.Start(); err != nil {
				log.Error().Err(err).Msg("Stream server stopped")
			}
		}()
	}

	runOnce := func() error {
		return runBacktest(cfg, dataManager, streamServer, log)
	}

	if *schedule == "" {
		if err := runOnce(); err != nil {
			log.Fatal().Err(err).Msg("Backtest failed")
		}
		shutdownStream(streamServer, log)
		return
	}

	// Scheduled mode: re-run on the cron cadence until interrupted.
	sched := scheduler.New(log)
	job := scheduler.NewBacktestJob("backtest", runOnce, log)
	if err := sched.AddJob(*schedule, job); err != nil {
		log.Fatal().Err(err).Str("schedule", *schedule).Msg("Invalid cron schedule")
	}
	if err := sched.RunNow(job); err != nil {
		log.Error().Err(err).Msg("Initial run failed")
	}
	sched.Start()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("Shutting down")
	sched.Stop()
	shutdownStream(streamServer, log)
}

// runBacktest executes one full run and persists its artifacts.
func runBacktest(cfg *config.Config, dataManager *marketdata.Manager, streamServer *stream.Server, log zerolog.Logger) error {
	eng := engine.New(cfg, dataManager, log)
	if streamServer != nil {
		eng.SetRealtimeCallback(streamServer.Callback)
	}

	strategy := strategies.NewMACross(strategies.DefaultMACrossConfig(), log)
	if err := eng.SetStrategy(strategy); err != nil {
		return err
	}
	if err := eng.LoadData(nil); err != nil {
		return err
	}

	result, err := eng.Run(context.Background())
	if err != nil {
		return err
	}

	writer := reports.NewWriter(reports.Options{
		OutputDir:       cfg.OutputDir,
		SaveTrades:      cfg.SaveTrades,
		SavePositions:   cfg.SavePositions,
		SavePerformance: cfg.SavePerformance,
	}, log)
	dir, err := writer.Write(result)
	if err != nil {
		return err
	}

	if cfg.RenderCharts {
		if err := charts.NewRenderer(log).RenderAll(dir, result.Charts); err != nil {
			log.Error().Err(err).Msg("Chart rendering failed")
		}
	}

	if cfg.ArchiveBucket != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		archiver, err := archive.New(ctx, archive.Config{
			Bucket: cfg.ArchiveBucket,
			Prefix: cfg.ArchivePrefix,
		}, log)
		if err != nil {
			log.Error().Err(err).Msg("Archive setup failed")
		} else if _, err := archiver.UploadDir(ctx, dir); err != nil {
			log.Error().Err(err).Msg("Artifact upload failed")
		}
	}

	log.Info().
		Str("run_id", result.RunID).
		Str("artifacts", dir).
		Float64("total_return", result.Performance.Basic.TotalReturn).
		Msg("Run complete")
	return nil
}

func shutdownStream(s *stream.Server, log zerolog.Logger) {
	if s == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Stream server shutdown failed")
	}
}
