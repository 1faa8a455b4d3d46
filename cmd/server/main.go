// Package main provides the entry point for the Atlas FX trading
// platform server: task lifecycle control, the Floor strategy engine,
// broker execution and reconciliation, and real-time WebSocket fan-out,
// wired from a single YAML/env configuration surface.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/atlas-fx/floor-engine/internal/backtester"
	"github.com/atlas-fx/floor-engine/internal/config"
	"github.com/atlas-fx/floor-engine/internal/events"
	"github.com/atlas-fx/floor-engine/internal/execution"
	"github.com/atlas-fx/floor-engine/internal/execution/broker"
	"github.com/atlas-fx/floor-engine/internal/kv"
	"github.com/atlas-fx/floor-engine/internal/lock"
	"github.com/atlas-fx/floor-engine/internal/metrics"
	"github.com/atlas-fx/floor-engine/internal/realtime"
	"github.com/atlas-fx/floor-engine/internal/storage"
	"github.com/atlas-fx/floor-engine/internal/strategy"
	"github.com/atlas-fx/floor-engine/internal/strategy/floor"
	"github.com/atlas-fx/floor-engine/internal/stream"
	"github.com/atlas-fx/floor-engine/internal/taskexec"
	"github.com/atlas-fx/floor-engine/internal/workers"
	"github.com/atlas-fx/floor-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	configPath := flag.String("config", getEnvOrDefault("ATLAS_CONFIG_PATH", "./config.yaml"), "Path to the platform config file")
	historyDir := flag.String("history-dir", getEnvOrDefault("ATLAS_HISTORY_DIR", "./data/history"), "Directory of per-instrument tick archives for backtests")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Logging)
	defer logger.Sync()

	logger.Info("starting atlas trading platform",
		zap.String("config", *configPath),
		zap.String("brokerEnvironment", cfg.Broker.Environment),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Persistence: Postgres with at-rest token encryption.
	cipherKey, err := hex.DecodeString(cfg.Database.CipherKeyHex)
	if err != nil {
		logger.Fatal("invalid database.cipher_key_hex", zap.Error(err))
	}
	cipher, err := storage.NewTokenCipher(cipherKey)
	if err != nil {
		logger.Fatal("failed to initialise token cipher", zap.Error(err))
	}
	store, err := storage.NewPostgresStore(ctx, logger, cfg.Database.DSN, int32(cfg.Database.MaxOpenConns), int32(cfg.Database.MaxIdleConns), cipher)
	if err != nil {
		logger.Fatal("failed to connect to postgres", zap.Error(err))
	}
	defer store.Close()

	authenticator := storage.NewTokenAuthenticator(store)
	taskRepo := storage.NewTaskRepository(store)
	accountResolver := storage.NewAccountResolver(store)
	backtestConfigs := storage.NewBacktestConfigProvider(store, cfg.Backtest.MemoryLimitTicks)
	backtestResults := storage.NewBacktestResultSink(store)
	historyLoader := storage.NewFileHistoryLoader(logger, *historyDir)

	// Distributed lock/heartbeat state, backed by Redis.
	kvStore, err := kv.NewRedisStore(logger, cfg.KV.Addr, cfg.KV.Password, cfg.KV.DB)
	if err != nil {
		logger.Fatal("failed to connect to redis", zap.Error(err))
	}
	lockManager := lock.NewManager(logger, kvStore, lock.Config{
		LockTTL:        time.Duration(cfg.Lock.TTLSeconds) * time.Second,
		StaleThreshold: time.Duration(cfg.Lock.StaleThresholdSeconds) * time.Second,
	})

	eventBus := events.NewEventBus(logger, events.DefaultEventBusConfig())
	defer eventBus.Stop()

	appMetrics := metrics.New()
	metricsServer := metrics.NewServer(cfg.Server.MetricsPort, appMetrics)

	// Strategy registry: "floor" is the only strategy this process
	// ships today, registered the same way internal/backtester.TaskRunner
	// and internal/execution.LiveRunner both resolve strategies by name.
	strategyRegistry := strategy.NewRegistry(logger)
	strategyRegistry.Register("floor", floor.FromParameters)

	// Worker pool backing every taskexec.Executor.Start call.
	poolConfig := workers.DefaultPoolConfig("task-executor")
	pool := workers.NewPool(logger, poolConfig)
	pool.Start()
	defer pool.Stop()

	taskExecutor := taskexec.NewExecutor(logger, taskRepo, lockManager, pool, taskexec.DefaultConfig(hostWorkerID()))

	backtestRunner := backtester.NewTaskRunner(logger, backtestConfigs, historyLoader, strategyRegistry, backtestResults)
	taskExecutor.RegisterRunner(types.TaskTypeBacktest, backtestRunner)

	// Broker execution stack: one OANDA client shared by every account
	// this process trades, bound per-account only where an operation
	// (order submission, streaming) needs it.
	oandaConfig := broker.DefaultOANDAConfig()
	if cfg.Broker.BaseURL != "" {
		oandaConfig.RESTURL = cfg.Broker.BaseURL
	}
	if cfg.Broker.StreamURL != "" {
		oandaConfig.StreamURL = cfg.Broker.StreamURL
	}
	brokerClient := broker.NewOANDAClient(logger, oandaConfig)

	riskManager := execution.NewRiskManager(logger, defaultRiskLimits())
	orderManager := execution.NewOrderManager(logger)
	complianceChecker := execution.NewComplianceChecker(execution.DefaultComplianceConfig())
	execExecutor := execution.NewExecutor(logger, brokerClient, orderManager, riskManager, complianceChecker)

	positionStore := stream.NewPositionStore()
	liveRunner := execution.NewLiveRunner(logger, execExecutor, positionStore, accountResolver, brokerClient, strategyRegistry)
	taskExecutor.RegisterRunner(types.TaskTypeTrading, liveRunner)

	// Real-time WebSocket fan-out.
	hub := realtime.NewHub(logger)
	hubStop := make(chan struct{})
	go hub.Run(hubStop)

	realtimeConfig := realtime.DefaultServerConfig()
	realtimeConfig.Host = cfg.Server.Host
	realtimeConfig.Port = cfg.Server.Port
	realtimeConfig.ReadTimeout = cfg.Server.ReadTimeout
	realtimeConfig.WriteTimeout = cfg.Server.WriteTimeout
	realtimeConfig.Batch.Size = cfg.Realtime.WSBatchSize
	realtimeConfig.Batch.Interval = time.Duration(cfg.Realtime.WSBatchInterval * float64(time.Second))
	realtimeServer := realtime.NewServer(logger, realtimeConfig, hub, authenticator)

	// Only the primary broker account gets a transaction stream and
	// reconciler, started at boot; this process starts no
	// stream.Runner/Reconciler pair for any other broker_account row.
	var streamRunner *stream.Runner
	var reconciler *stream.Reconciler
	if cfg.Broker.PrimaryAccountID != "" {
		account, err := store.GetBrokerAccount(ctx, cfg.Broker.PrimaryAccountID)
		if err != nil {
			logger.Fatal("failed to load primary broker account", zap.Error(err))
		}
		streamRunner = stream.NewRunner(logger, brokerClient, account, positionStore, orderManager, eventBus)
		reconciler = stream.NewReconciler(logger, brokerClient, account, positionStore, orderManager, eventBus)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := metricsServer.Start(); err != nil {
			logger.Error("metrics server error", zap.Error(err))
		}
	}()

	go func() {
		if err := realtimeServer.Start(); err != nil {
			logger.Error("realtime server error", zap.Error(err))
		}
	}()

	if streamRunner != nil {
		go func() {
			if err := streamRunner.Run(ctx); err != nil && ctx.Err() == nil {
				logger.Error("transaction stream runner stopped", zap.Error(err))
			}
		}()
	}
	if reconciler != nil {
		reconcileSchedule := fmt.Sprintf("@every %ds", cfg.Stream.ReconcileIntervalSeconds)
		if err := reconciler.Start(ctx, reconcileSchedule); err != nil {
			logger.Error("failed to start reconciler", zap.Error(err))
		}
	}

	logger.Info("atlas trading platform started",
		zap.String("realtime", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)),
		zap.Int("metricsPort", cfg.Server.MetricsPort),
		zap.String("primaryAccount", cfg.Broker.PrimaryAccountID),
	)

	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	close(hubStop)

	if reconciler != nil {
		reconciler.Stop()
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := realtimeServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during realtime server shutdown", zap.Error(err))
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		logger.Error("error during metrics server shutdown", zap.Error(err))
	}

	logger.Info("atlas trading platform stopped")
}

// defaultRiskLimits seeds internal/execution.RiskManager with
// conservative ceilings overridable per account once strategy configs
// carry their own risk profile.
func defaultRiskLimits() types.RiskLimits {
	return types.RiskLimits{
		MaxPositionSize:  decimal.NewFromInt(1_000_000),
		MaxDrawdown:      decimal.NewFromFloat(0.2),
		MaxDailyLoss:     decimal.NewFromInt(5_000),
		MaxOpenPositions: 20,
	}
}

func hostWorkerID() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "atlas-worker"
	}
	return host
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func setupLogger(cfg config.LoggingConfig) *zap.Logger {
	var zapLevel zapcore.Level
	switch cfg.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "console"
	levelEncoder := zapcore.CapitalColorLevelEncoder
	if cfg.Format == "json" {
		encoding = "json"
		levelEncoder = zapcore.CapitalLevelEncoder
	}

	zapConfig := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Encoding:    encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "time",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			MessageKey:     "msg",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    levelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.SecondsDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	logger, err := zapConfig.Build()
	if err != nil {
		panic(err)
	}
	return logger
}
