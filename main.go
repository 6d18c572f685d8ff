package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"trading-bridge/internal/api"
	"trading-bridge/internal/engine"
	"trading-bridge/internal/ensemble"
	"trading-bridge/internal/events"
	"trading-bridge/internal/indicators"
	"trading-bridge/internal/monitor"
	"trading-bridge/internal/persistence"
	"trading-bridge/internal/predictor"
	"trading-bridge/internal/protocol"
	"trading-bridge/internal/reconcile"
	"trading-bridge/internal/risk"
	"trading-bridge/internal/state"
	"trading-bridge/internal/trailing"
	"trading-bridge/pkg/cache"
	"trading-bridge/pkg/config"
	"trading-bridge/pkg/db"
	"trading-bridge/pkg/logger"
)

const version = "1.0.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	if err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		OutputFile: cfg.LogFile,
		MaxSizeMB:  50,
		MaxBackups: 5,
		MaxAgeDays: 14,
		Compress:   true,
	}); err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	mainLog := logger.Component("main")
	mainLog.WithField("version", version).Info("trading bridge starting")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Core services
	bus := events.NewBus()

	database, err := db.New(cfg.DBPath)
	if err != nil {
		mainLog.WithError(err).Fatal("database init failed")
	}
	defer database.Close()
	if err := db.ApplyMigrations(database); err != nil {
		mainLog.WithError(err).Fatal("database migrations failed")
	}

	// In-memory state seeded from DB
	store := state.NewStore(database)
	if err := store.Load(ctx); err != nil {
		mainLog.WithError(err).Fatal("position load failed")
	}

	settings, err := config.NewSettingsStore(cfg.SettingsPath)
	if err != nil {
		mainLog.WithError(err).Fatal("settings load failed")
	}

	samples := cache.NewShardedSampleCache()
	indEngine := indicators.NewEngine(9, 21, 14, 14, 200)

	// Signal ensemble
	stab := ensemble.NewStabilizer(ensemble.SystemClock(), 0, 0)
	ens := ensemble.New(stab, settings.Get().EnsembleWeights)
	ens.Register(predictor.NewMomentumPredictor())
	if cfg.ONNXModelPath != "" {
		onnx, err := predictor.NewONNXPredictor(cfg.ONNXModelPath)
		if err != nil {
			mainLog.WithError(err).Warn("onnx predictor unavailable, continuing without it")
		} else {
			defer onnx.Close()
			ens.Register(onnx)
		}
	}

	// Risk layer
	riskState := risk.NewState(ctx, database, risk.DefaultLimits(), settings.Get().ConfidenceThreshold)
	pipeCfg := risk.DefaultPipelineConfig()
	if len(cfg.RestrictedHours) > 0 {
		pipeCfg.RestrictedHours = cfg.RestrictedHours
	}
	pipeline := risk.NewPipeline(pipeCfg)

	sizing := risk.DefaultSizingConfig(cfg.FreeMargin)
	if cfg.MaxPositionSize > 0 {
		sizing.MaxSize = cfg.MaxPositionSize
	}

	// Protocol gateway
	gwCfg := protocol.DefaultConfig(cfg.ListenAddr)
	gwCfg.AutoConfirm = cfg.AutoConfirm
	if cfg.IdleTimeoutSec > 0 {
		gwCfg.IdleTimeout = time.Duration(cfg.IdleTimeoutSec) * time.Second
	}
	if cfg.HeartbeatSweepSec > 0 {
		gwCfg.SweepInterval = time.Duration(cfg.HeartbeatSweepSec) * time.Second
	}
	gwCfg.PredictionRate = cfg.PredictionRatePerS
	gateway := protocol.NewGateway(gwCfg, bus)

	// Reconciliation and trailing
	reconciler := reconcile.New(store, engine.NewGatewayPusher(gateway), bus, database)
	trailEngine := trailing.NewEngine()

	// Coordinator
	coord := engine.New(engine.Config{
		ConfirmTimeout:  time.Duration(cfg.ConfirmTimeoutSec) * time.Second,
		MonitorInterval: time.Duration(cfg.MonitorIntervalSec) * time.Second,
		Sizing:          sizing,
	}, gateway, ens, pipeline, riskState, trailEngine, reconciler, store,
		samples, indEngine, settings, bus, database)

	// Alert fan-out and throughput counters
	alerts := monitor.NewDispatcher(bus, monitor.NewLogSink())
	alerts.Start(ctx)
	metrics := monitor.NewCollector(bus)
	metrics.Start(ctx)

	// Prediction audit trail
	batchWriter := persistence.NewBatchWriter(database.DB, 50, 500*time.Millisecond)
	defer batchWriter.Close()
	persistence.NewPredictionRecorder(bus, batchWriter).Start(ctx)

	coord.Start(ctx)
	if err := gateway.Start(ctx); err != nil {
		mainLog.WithError(err).Fatal("gateway bind failed")
	}
	mainLog.WithField("addr", cfg.ListenAddr).Info("protocol gateway listening")

	// Dashboard API
	server := api.NewServer(bus, database, coord, riskState, store, settings, gateway,
		metrics, api.SystemMeta{Version: version, ListenAddr: cfg.ListenAddr, StartedAt: time.Now()},
		cfg.JWTSecret, cfg.DashboardKey)
	go func() {
		addr := ":" + cfg.APIPort
		mainLog.WithField("addr", addr).Info("dashboard api listening")
		if err := server.Start(addr); err != nil {
			mainLog.WithError(err).Error("dashboard api stopped")
		}
	}()

	// Shutdown on SIGINT/SIGTERM
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	mainLog.Info("shutdown signal received")

	cancel()
	gateway.Stop()
	coord.Stop()
	bus.Close()
	mainLog.Info("trading bridge stopped")
}
