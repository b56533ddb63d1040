package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// AnalysisKey identifies one (symbol, timeframe, strategy) task within an
// execution_id batch.
type AnalysisKey struct {
	ExecutionID string
	Symbol      string
	Timeframe   string
	Strategy    string
}

// Analysis is one row of the analyses table.
type Analysis struct {
	ID              int64
	Symbol          string
	Timeframe       string
	Config          json.RawMessage
	GeneratedAt     *time.Time
	TotalTrades     int
	WinRate         *float64
	TotalReturn     *float64
	SharpeRatio     *float64
	MaxDrawdown     *float64
	AvgLeverage     *float64
	ChartPath       *string
	CompressedPath  *string
	Status          string
	ExecutionID     string
	TaskStatus      string
	TaskStartedAt   *time.Time
	TaskCompletedAt *time.Time
	ErrorMessage    *string
	StrategyConfigID *int64
	StrategyName    *string
	CreatedAt       time.Time
}

// AnalysisMetrics is the subset of Analysis fields a completed run writes.
type AnalysisMetrics struct {
	TotalTrades int
	WinRate     float64
	TotalReturn float64
	SharpeRatio float64
	MaxDrawdown float64
	AvgLeverage float64
}

// AnalysisPaths points to the two output artifacts of a completed analysis.
type AnalysisPaths struct {
	ChartPath      string
	CompressedPath string
}

// QueryFilters narrows a query() call to completed rows matching criteria.
// Zero-value fields are not applied.
type QueryFilters struct {
	Symbol    string
	Timeframe string
	Strategy  string
}

// PreReserve inserts a pending row for every tuple in batch under
// execution_id. Idempotent: a tuple already pending or running under this
// execution_id is left untouched.
func (r *Repository) PreReserve(ctx context.Context, batch []AnalysisKey) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pre_reserve transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const stmt = `
		INSERT INTO analyses (symbol, timeframe, status, execution_id, task_status, strategy_name)
		VALUES ($1, $2, 'pending', $3, 'pending', $4)
		ON CONFLICT (execution_id, symbol, timeframe, strategy_name) WHERE task_status IN ('pending', 'running')
		DO NOTHING
	`
	for _, k := range batch {
		if _, err := tx.Exec(ctx, stmt, k.Symbol, k.Timeframe, k.ExecutionID, k.Strategy); err != nil {
			return fmt.Errorf("reserving %s/%s/%s: %w", k.Symbol, k.Timeframe, k.Strategy, err)
		}
	}
	return tx.Commit(ctx)
}

// MarkRunning transitions a reserved row to task_status=running.
func (r *Repository) MarkRunning(ctx context.Context, key AnalysisKey) error {
	const stmt = `
		UPDATE analyses SET task_status = 'running', status = 'running', task_started_at = NOW()
		WHERE execution_id = $1 AND symbol = $2 AND timeframe = $3 AND strategy_name = $4
		  AND task_status = 'pending'
	`
	_, err := r.db.Pool.Exec(ctx, stmt, key.ExecutionID, key.Symbol, key.Timeframe, key.Strategy)
	return err
}

// MarkFailed transitions a reserved row to failed. If no reserved row
// exists (a worker crashed before pre_reserve, or ran standalone), it
// inserts a degraded failed row instead.
func (r *Repository) MarkFailed(ctx context.Context, key AnalysisKey, errMsg string) error {
	const update = `
		UPDATE analyses
		SET task_status = 'failed', status = 'failed', task_completed_at = NOW(), error_message = $5
		WHERE execution_id = $1 AND symbol = $2 AND timeframe = $3 AND strategy_name = $4
		  AND task_status IN ('pending', 'running')
	`
	tag, err := r.db.Pool.Exec(ctx, update, key.ExecutionID, key.Symbol, key.Timeframe, key.Strategy, errMsg)
	if err != nil {
		return fmt.Errorf("marking %s/%s/%s failed: %w", key.Symbol, key.Timeframe, key.Strategy, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	const insert = `
		INSERT INTO analyses (symbol, timeframe, status, execution_id, task_status, task_completed_at, error_message, strategy_name)
		VALUES ($1, $2, 'failed', $3, 'failed', NOW(), $4, $5)
	`
	_, err = r.db.Pool.Exec(ctx, insert, key.Symbol, key.Timeframe, key.ExecutionID, errMsg, key.Strategy)
	return err
}

// MarkCompleted transitions a reserved row to completed with final
// metrics and artifact paths. Degraded-insert fallback mirrors MarkFailed.
func (r *Repository) MarkCompleted(ctx context.Context, key AnalysisKey, m AnalysisMetrics, p AnalysisPaths) error {
	const update = `
		UPDATE analyses
		SET task_status = 'completed', status = 'completed', task_completed_at = NOW(),
		    generated_at = NOW(), total_trades = $5, win_rate = $6, total_return = $7,
		    sharpe_ratio = $8, max_drawdown = $9, avg_leverage = $10,
		    chart_path = $11, compressed_path = $12
		WHERE execution_id = $1 AND symbol = $2 AND timeframe = $3 AND strategy_name = $4
		  AND task_status IN ('pending', 'running')
	`
	tag, err := r.db.Pool.Exec(ctx, update, key.ExecutionID, key.Symbol, key.Timeframe, key.Strategy,
		m.TotalTrades, m.WinRate, m.TotalReturn, m.SharpeRatio, m.MaxDrawdown, m.AvgLeverage,
		p.ChartPath, p.CompressedPath)
	if err != nil {
		return fmt.Errorf("marking %s/%s/%s completed: %w", key.Symbol, key.Timeframe, key.Strategy, err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	const insert = `
		INSERT INTO analyses (
			symbol, timeframe, status, execution_id, task_status, task_completed_at,
			generated_at, total_trades, win_rate, total_return, sharpe_ratio,
			max_drawdown, avg_leverage, chart_path, compressed_path, strategy_name
		) VALUES ($1, $2, 'completed', $3, 'completed', NOW(), NOW(), $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err = r.db.Pool.Exec(ctx, insert, key.Symbol, key.Timeframe, key.ExecutionID,
		m.TotalTrades, m.WinRate, m.TotalReturn, m.SharpeRatio, m.MaxDrawdown, m.AvgLeverage,
		p.ChartPath, p.CompressedPath, key.Strategy)
	return err
}

// Query surfaces completed rows matching filters, ordered and limited.
// orderBy must be a column name from a fixed allow-list to avoid building
// SQL from unvalidated input.
func (r *Repository) Query(ctx context.Context, filters QueryFilters, orderBy string, limit int) ([]Analysis, error) {
	allowedOrder := map[string]bool{
		"sharpe_ratio": true, "win_rate": true, "total_return": true,
		"generated_at": true, "created_at": true,
	}
	if orderBy == "" || !allowedOrder[orderBy] {
		orderBy = "created_at"
	}

	query := `
		SELECT id, symbol, timeframe, config, generated_at, total_trades, win_rate,
		       total_return, sharpe_ratio, max_drawdown, avg_leverage, chart_path,
		       compressed_path, status, execution_id, task_status, task_started_at,
		       task_completed_at, error_message, strategy_config_id, strategy_name, created_at
		FROM analyses
		WHERE status = 'completed'
	`
	args := []interface{}{}
	argN := 1
	if filters.Symbol != "" {
		query += fmt.Sprintf(" AND symbol = $%d", argN)
		args = append(args, filters.Symbol)
		argN++
	}
	if filters.Timeframe != "" {
		query += fmt.Sprintf(" AND timeframe = $%d", argN)
		args = append(args, filters.Timeframe)
		argN++
	}
	if filters.Strategy != "" {
		query += fmt.Sprintf(" AND strategy_name = $%d", argN)
		args = append(args, filters.Strategy)
		argN++
	}
	query += fmt.Sprintf(" ORDER BY %s DESC LIMIT $%d", orderBy, argN)
	args = append(args, limit)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying analyses: %w", err)
	}
	defer rows.Close()

	var results []Analysis
	for rows.Next() {
		var a Analysis
		if err := rows.Scan(
			&a.ID, &a.Symbol, &a.Timeframe, &a.Config, &a.GeneratedAt, &a.TotalTrades, &a.WinRate,
			&a.TotalReturn, &a.SharpeRatio, &a.MaxDrawdown, &a.AvgLeverage, &a.ChartPath,
			&a.CompressedPath, &a.Status, &a.ExecutionID, &a.TaskStatus, &a.TaskStartedAt,
			&a.TaskCompletedAt, &a.ErrorMessage, &a.StrategyConfigID, &a.StrategyName, &a.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning analysis row: %w", err)
		}
		results = append(results, a)
	}
	return results, rows.Err()
}

// AnalysisExists reports whether a completed analysis exists for
// (symbol, timeframe, strategy). Deduplication tooling only; must never
// be used to block re-runs under a new execution_id.
func (r *Repository) AnalysisExists(ctx context.Context, symbol, timeframe, strategy string) (bool, error) {
	const stmt = `SELECT EXISTS(SELECT 1 FROM analyses WHERE symbol = $1 AND timeframe = $2 AND strategy_name = $3 AND status = 'completed')`
	var exists bool
	err := r.db.Pool.QueryRow(ctx, stmt, symbol, timeframe, strategy).Scan(&exists)
	return exists, err
}

// GetAnalysis fetches the analysis row for key, whatever its status, used by
// deduplication tooling and status queries.
func (r *Repository) GetAnalysis(ctx context.Context, key AnalysisKey) (*Analysis, error) {
	const stmt = `
		SELECT id, symbol, timeframe, config, generated_at, total_trades, win_rate,
		       total_return, sharpe_ratio, max_drawdown, avg_leverage, chart_path,
		       compressed_path, status, execution_id, task_status, task_started_at,
		       task_completed_at, error_message, strategy_config_id, strategy_name, created_at
		FROM analyses
		WHERE execution_id = $1 AND symbol = $2 AND timeframe = $3 AND strategy_name = $4
	`
	var a Analysis
	err := r.db.Pool.QueryRow(ctx, stmt, key.ExecutionID, key.Symbol, key.Timeframe, key.Strategy).Scan(
		&a.ID, &a.Symbol, &a.Timeframe, &a.Config, &a.GeneratedAt, &a.TotalTrades, &a.WinRate,
		&a.TotalReturn, &a.SharpeRatio, &a.MaxDrawdown, &a.AvgLeverage, &a.ChartPath,
		&a.CompressedPath, &a.Status, &a.ExecutionID, &a.TaskStatus, &a.TaskStartedAt,
		&a.TaskCompletedAt, &a.ErrorMessage, &a.StrategyConfigID, &a.StrategyName, &a.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetching analysis %s/%s/%s: %w", key.Symbol, key.Timeframe, key.Strategy, err)
	}
	return &a, nil
}
