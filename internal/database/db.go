package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// NewDB creates a new database connection
func NewDB(cfg Config) (*DB, error) {
	// Build connection string
	dsn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.Database, cfg.SSLMode,
	)

	// Parse connection string
	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	// Configure connection pool
	poolConfig.MaxConns = 25
	poolConfig.MinConns = 5
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	// Create connection pool
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	log.Printf("Successfully connected to PostgreSQL database: %s", cfg.Database)

	return &DB{Pool: pool}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		log.Println("Database connection closed")
	}
}

// RunMigrations executes database migrations. Every statement is a
// CREATE TABLE or CREATE INDEX ... IF NOT EXISTS, so columns are never
// dropped or renamed. A table that already exists is left as it is:
// columns missing from it are not added.
func (db *DB) RunMigrations(ctx context.Context) error {
	log.Println("Running database migrations...")

	migrations := []string{
		// analyses: one row per (symbol, timeframe, strategy, execution_id)
		// backtest task, tracking both the orchestration lifecycle
		// (task_status) and the analysis outcome (status).
		`CREATE TABLE IF NOT EXISTS analyses (
			id BIGSERIAL PRIMARY KEY,
			symbol VARCHAR(20) NOT NULL,
			timeframe VARCHAR(10) NOT NULL,
			config JSONB,
			generated_at TIMESTAMP,
			total_trades INT NOT NULL DEFAULT 0,
			win_rate DECIMAL(6, 4),
			total_return DECIMAL(20, 8),
			sharpe_ratio DECIMAL(10, 4),
			max_drawdown DECIMAL(20, 8),
			avg_leverage DECIMAL(10, 4),
			chart_path TEXT,
			compressed_path TEXT,
			status VARCHAR(20) NOT NULL DEFAULT 'pending',
			execution_id VARCHAR(64) NOT NULL,
			task_status VARCHAR(20) NOT NULL DEFAULT 'pending',
			task_started_at TIMESTAMP,
			task_completed_at TIMESTAMP,
			error_message TEXT,
			strategy_config_id BIGINT,
			strategy_name VARCHAR(100),
			created_at TIMESTAMP NOT NULL DEFAULT NOW()
		)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_symbol_timeframe ON analyses(symbol, timeframe)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_strategy_name ON analyses(strategy_name)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_sharpe_ratio ON analyses(sharpe_ratio)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_strategy_config_id ON analyses(strategy_config_id)`,
		`CREATE INDEX IF NOT EXISTS idx_analyses_execution_id ON analyses(execution_id)`,
		// Idempotent pre_reserve: one pending-or-running row per
		// (execution_id, symbol, timeframe, strategy_name).
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_analyses_reservation
			ON analyses(execution_id, symbol, timeframe, strategy_name)
			WHERE task_status IN ('pending', 'running')`,

		`CREATE TABLE IF NOT EXISTS backtest_summary (
			id BIGSERIAL PRIMARY KEY,
			analysis_id BIGINT NOT NULL REFERENCES analyses(id) ON DELETE CASCADE,
			metric_name VARCHAR(100) NOT NULL,
			metric_value DECIMAL(24, 8) NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_backtest_summary_analysis ON backtest_summary(analysis_id)`,
	}

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
