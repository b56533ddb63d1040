package config

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"
	"strconv"
)

// Config is the root process configuration, loaded once at startup from
// an optional config.json overlaid with environment variables.
type Config struct {
	DatabaseConfig     DatabaseConfig     `json:"database"`
	RedisConfig        RedisConfig        `json:"redis"`
	LoggingConfig      LoggingConfig      `json:"logging"`
	NotificationConfig NotificationConfig `json:"notification"`
	OrchestratorConfig OrchestratorConfig `json:"orchestrator"`
	BacktestConfig     BacktestConfig     `json:"backtest"`
}

// DatabaseConfig holds PostgreSQL connection settings for the metadata DB.
type DatabaseConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	Database string `json:"database"`
	SSLMode  string `json:"ssl_mode"`
}

// RedisConfig holds Redis settings for the notification rate limiter.
// Enabled decides whether cmd/backtest creates a Redis client; when it is
// false the rate limiter uses its in-memory fallback.
type RedisConfig struct {
	Enabled  bool   `json:"enabled"`
	Address  string `json:"address"`
	Password string `json:"password"`
	DB       int    `json:"db"`
}

// LoggingConfig configures internal/logging.
type LoggingConfig struct {
	Level       string `json:"level"`        // DEBUG, INFO, WARN, ERROR
	Output      string `json:"output"`       // stdout, stderr, or file path
	JSONFormat  bool   `json:"json_format"`  // Output as JSON
	IncludeFile bool   `json:"include_file"` // Include file and line number
}

// NotificationConfig configures the Telegram/Discord transports and the
// early-exit rate limiter.
type NotificationConfig struct {
	Enabled               bool           `json:"enabled"`
	Telegram              TelegramConfig `json:"telegram"`
	Discord               DiscordConfig  `json:"discord"`
	EarlyExitRateLimitSecs int           `json:"early_exit_rate_limit_secs"`
}

type TelegramConfig struct {
	Enabled  bool   `json:"enabled"`
	BotToken string `json:"bot_token"`
	ChatID   string `json:"chat_id"`
}

type DiscordConfig struct {
	Enabled    bool   `json:"enabled"`
	WebhookURL string `json:"webhook_url"`
}

// OrchestratorConfig configures the batch orchestrator (C10).
type OrchestratorConfig struct {
	MaxWorkers          int `json:"max_workers"`
	ChunkSize           int `json:"chunk_size"`
	ChunkTimeoutMinutes int `json:"chunk_timeout_minutes"`
}

// BacktestConfig points at the config store's JSON documents and the
// ledger/progress base directory.
type BacktestConfig struct {
	ConditionsDir string `json:"conditions_dir"`
	LedgerDir     string `json:"ledger_dir"`
	ProgressDir   string `json:"progress_dir"`
}

func Load() (*Config, error) {
	cfg, err := loadFromFile("config.json")
	if err != nil {
		cfg = &Config{}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.DatabaseConfig.Host = getEnvOrDefault("DB_HOST", orDefault(cfg.DatabaseConfig.Host, "localhost"))
	cfg.DatabaseConfig.Port = getEnvIntOrDefault("DB_PORT", orDefaultInt(cfg.DatabaseConfig.Port, 5432))
	cfg.DatabaseConfig.User = getEnvOrDefault("DB_USER", cfg.DatabaseConfig.User)
	cfg.DatabaseConfig.Password = getEnvOrDefault("DB_PASSWORD", cfg.DatabaseConfig.Password)
	cfg.DatabaseConfig.Database = getEnvOrDefault("DB_NAME", orDefault(cfg.DatabaseConfig.Database, "backtest"))
	cfg.DatabaseConfig.SSLMode = getEnvOrDefault("DB_SSLMODE", orDefault(cfg.DatabaseConfig.SSLMode, "disable"))

	cfg.RedisConfig.Enabled = getEnvOrDefault("REDIS_ENABLED", "false") == "true"
	cfg.RedisConfig.Address = getEnvOrDefault("REDIS_ADDRESS", cfg.RedisConfig.Address)
	cfg.RedisConfig.Password = getEnvOrDefault("REDIS_PASSWORD", cfg.RedisConfig.Password)
	cfg.RedisConfig.DB = getEnvIntOrDefault("REDIS_DB", cfg.RedisConfig.DB)

	cfg.LoggingConfig.Level = getEnvOrDefault("LOG_LEVEL", orDefault(cfg.LoggingConfig.Level, "INFO"))
	cfg.LoggingConfig.Output = getEnvOrDefault("LOG_OUTPUT", orDefault(cfg.LoggingConfig.Output, "stdout"))
	cfg.LoggingConfig.JSONFormat = getEnvOrDefault("LOG_JSON", "true") == "true"
	cfg.LoggingConfig.IncludeFile = getEnvOrDefault("LOG_INCLUDE_FILE", "false") == "true"

	cfg.NotificationConfig.Enabled = getEnvOrDefault("NOTIFICATIONS_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.Enabled = getEnvOrDefault("TELEGRAM_ENABLED", "false") == "true"
	cfg.NotificationConfig.Telegram.BotToken = getEnvOrDefault("TELEGRAM_BOT_TOKEN", cfg.NotificationConfig.Telegram.BotToken)
	cfg.NotificationConfig.Telegram.ChatID = getEnvOrDefault("TELEGRAM_CHAT_ID", cfg.NotificationConfig.Telegram.ChatID)
	cfg.NotificationConfig.Discord.Enabled = getEnvOrDefault("DISCORD_ENABLED", "false") == "true"
	cfg.NotificationConfig.Discord.WebhookURL = getEnvOrDefault("DISCORD_WEBHOOK_URL", cfg.NotificationConfig.Discord.WebhookURL)
	cfg.NotificationConfig.EarlyExitRateLimitSecs = getEnvIntOrDefault("EARLY_EXIT_RATE_LIMIT_SECS", orDefaultInt(cfg.NotificationConfig.EarlyExitRateLimitSecs, 300))

	cfg.OrchestratorConfig.MaxWorkers = getEnvIntOrDefault("MAX_WORKERS", orDefaultInt(cfg.OrchestratorConfig.MaxWorkers, defaultMaxWorkers()))
	cfg.OrchestratorConfig.ChunkSize = getEnvIntOrDefault("CHUNK_SIZE", orDefaultInt(cfg.OrchestratorConfig.ChunkSize, 50))
	cfg.OrchestratorConfig.ChunkTimeoutMinutes = getEnvIntOrDefault("CHUNK_TIMEOUT_MINUTES", orDefaultInt(cfg.OrchestratorConfig.ChunkTimeoutMinutes, 30))

	cfg.BacktestConfig.ConditionsDir = getEnvOrDefault("CONDITIONS_DIR", orDefault(cfg.BacktestConfig.ConditionsDir, "./config"))
	cfg.BacktestConfig.LedgerDir = getEnvOrDefault("LEDGER_DIR", orDefault(cfg.BacktestConfig.LedgerDir, "./data/ledger"))
	cfg.BacktestConfig.ProgressDir = getEnvOrDefault("PROGRESS_DIR", orDefault(cfg.BacktestConfig.ProgressDir, "./data/progress"))
}

func defaultMaxWorkers() int {
	n := runtime.NumCPU()
	if n > 4 {
		return 4
	}
	return n
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func orDefaultInt(value, fallback int) int {
	if value == 0 {
		return fallback
	}
	return value
}

func loadFromFile(filename string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var config Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return &config, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// GenerateSampleConfig creates a sample configuration file.
func GenerateSampleConfig(filename string) error {
	config := Config{
		DatabaseConfig: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "backtest",
			Password: "changeme",
			Database: "backtest",
			SSLMode:  "disable",
		},
		RedisConfig: RedisConfig{
			Enabled: false,
			Address: "localhost:6379",
		},
		LoggingConfig: LoggingConfig{
			Level:      "INFO",
			Output:     "stdout",
			JSONFormat: true,
		},
		NotificationConfig: NotificationConfig{
			Enabled: false,
			Telegram: TelegramConfig{
				Enabled: false,
			},
			Discord: DiscordConfig{
				Enabled: false,
			},
			EarlyExitRateLimitSecs: 300,
		},
		OrchestratorConfig: OrchestratorConfig{
			MaxWorkers:          defaultMaxWorkers(),
			ChunkSize:           50,
			ChunkTimeoutMinutes: 30,
		},
		BacktestConfig: BacktestConfig{
			ConditionsDir: "./config",
			LedgerDir:     "./data/ledger",
			ProgressDir:   "./data/progress",
		},
	}

	data, err := json.MarshalIndent(config, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filename, data, 0644)
}
