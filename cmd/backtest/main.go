package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"leveraged-backtest-engine/config"
	"leveraged-backtest-engine/internal/backtestengine"
	"leveraged-backtest-engine/internal/database"
	"leveraged-backtest-engine/internal/ledger"
	"leveraged-backtest-engine/internal/logging"
	"leveraged-backtest-engine/internal/notification"
	"leveraged-backtest-engine/internal/orchestrator"
)

func main() {
	symbols := flag.String("symbols", "BTCUSDT", "comma-separated list of symbols to backtest")
	timeframes := flag.String("timeframes", "1h", "comma-separated list of timeframe tags")
	strategies := flag.String("strategies", "conservative", "comma-separated list of strategy names")
	level := flag.String("level", "standard", "strictness level applied to every task")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := logging.New(&logging.Config{
		Level:       cfg.LoggingConfig.Level,
		Output:      cfg.LoggingConfig.Output,
		JSONFormat:  cfg.LoggingConfig.JSONFormat,
		IncludeFile: cfg.LoggingConfig.IncludeFile,
		Component:   "backtest",
	})
	logging.SetDefault(logger)
	logger.Info("starting backtest run")

	dbPath := backtestengine.ResolveDatabasePath("")
	logger.Info("resolved metadata database path", "path", dbPath)

	db, err := database.NewDB(database.Config{
		Host:     cfg.DatabaseConfig.Host,
		Port:     cfg.DatabaseConfig.Port,
		User:     cfg.DatabaseConfig.User,
		Password: cfg.DatabaseConfig.Password,
		Database: cfg.DatabaseConfig.Database,
		SSLMode:  cfg.DatabaseConfig.SSLMode,
	})
	if err != nil {
		logger.Fatal("connecting to database", "error", err)
	}
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := db.RunMigrations(ctx); err != nil {
		logger.Fatal("running migrations", "error", err)
	}
	repo := database.NewRepository(db)

	ledgerStore, err := ledger.NewStore(cfg.BacktestConfig.LedgerDir)
	if err != nil {
		logger.Fatal("opening ledger store", "error", err)
	}

	progressTracker, err := backtestengine.NewProgressTracker(cfg.BacktestConfig.ProgressDir)
	if err != nil {
		logger.Fatal("opening progress tracker", "error", err)
	}
	if _, err := progressTracker.CleanupOlderThan(24); err != nil {
		logger.Warn("cleaning up old progress files", "error", err)
	}

	configStore := backtestengine.NewConfigStore(
		cfg.BacktestConfig.ConditionsDir+"/timeframe_conditions.json",
		cfg.BacktestConfig.ConditionsDir+"/trading_conditions.json",
		cfg.BacktestConfig.ConditionsDir+"/condition_strictness_levels.json",
	)

	validator := backtestengine.NewValidator(500)

	engine := &backtestengine.Engine{
		SupportResistance: noOpSupportResistance{},
		ML:                noOpMLPrediction{},
		BTC:               noOpBTCCorrelation{},
		MarketCtx:         closeAtTargetMarketContext{},
		SLTP:              backtestengine.ConservativeSLTPCalculator(0.01, 0.002),
		Config: backtestengine.LeverageEngineConfig{
			MaxDrawdownTolerance: 10,
			GlobalMaxLeverage:    20,
			MinSafeLeverage:      1,
			VolatilityWinRate:    0.55,
			VolatilityAvgWin:     1.5,
			VolatilityAvgLoss:    1.0,
		},
	}

	loop := &backtestengine.Loop{
		Config:    configStore,
		Validator: validator,
		Progress:  progressTracker,
		Fetcher:   noOpOHLCVFetcher{},
		Engine:    engine,
		Log:       logger.WithComponent("loop"),
	}

	notifier := notification.NewManager(logger.WithComponent("notification"))
	if cfg.NotificationConfig.Enabled {
		if cfg.NotificationConfig.Telegram.Enabled {
			notifier.AddNotifier(notification.NewTelegramNotifier(notification.TelegramConfig{
				Enabled:  true,
				BotToken: cfg.NotificationConfig.Telegram.BotToken,
				ChatID:   cfg.NotificationConfig.Telegram.ChatID,
			}))
		}
		if cfg.NotificationConfig.Discord.Enabled {
			notifier.AddNotifier(notification.NewDiscordNotifier(notification.DiscordConfig{
				Enabled:    true,
				WebhookURL: cfg.NotificationConfig.Discord.WebhookURL,
			}))
		}
	}
	var redisClient *redis.Client
	if cfg.RedisConfig.Enabled {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisConfig.Address,
			Password: cfg.RedisConfig.Password,
			DB:       cfg.RedisConfig.DB,
		})
		defer redisClient.Close()
	}
	rateLimitWindow := time.Duration(cfg.NotificationConfig.EarlyExitRateLimitSecs) * time.Second
	notifier.SetDeduplicator(notification.NewRateLimiter(redisClient, rateLimitWindow))

	zlog := zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Str("component", "orchestrator").Logger()

	orch := &orchestrator.Orchestrator{
		Repo:     repo,
		Ledger:   ledgerStore,
		Loop:     loop,
		Notifier: notifier,
		Log:      logger.WithComponent("orchestrator"),
		ChunkLog: zlog,
		Config: orchestrator.Config{
			MaxWorkers:   cfg.OrchestratorConfig.MaxWorkers,
			ChunkSize:    cfg.OrchestratorConfig.ChunkSize,
			ChunkTimeout: time.Duration(cfg.OrchestratorConfig.ChunkTimeoutMinutes) * time.Minute,
		},
	}

	tasks := buildTasks(splitCSV(*symbols), splitCSV(*timeframes), splitCSV(*strategies), *level)
	executionID := orchestrator.NewExecutionID()
	logger.Info("dispatching batch", "execution_id", executionID, "task_count", len(tasks))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutdown signal received, cancelling batch")
		cancel()
	}()

	result, err := orch.RunBatch(ctx, executionID, tasks)
	if err != nil {
		logger.Fatal("running batch", "error", err)
	}

	logger.Info("batch finished",
		"execution_id", result.ExecutionID,
		"completed", result.Completed,
		"failed", result.Failed,
		"early_exit", result.EarlyExit,
		"cancelled", result.Cancelled,
	)
}

func splitCSV(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func buildTasks(symbols, timeframes, strategies []string, level string) []orchestrator.Task {
	var tasks []orchestrator.Task
	for _, symbol := range symbols {
		for _, timeframe := range timeframes {
			for _, strategy := range strategies {
				tasks = append(tasks, orchestrator.Task{
					Symbol:    symbol,
					Timeframe: timeframe,
					Strategy:  strategy,
					Level:     level,
				})
			}
		}
	}
	return tasks
}
