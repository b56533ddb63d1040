// Package orchestrator implements the batch orchestrator (C10): it
// pre-reserves a batch of (symbol, timeframe, strategy) tasks under one
// execution_id, partitions them into chunks, and dispatches each chunk to
// a bounded worker pool that runs the backtest loop, persists the ledger
// and metadata row, and notifies on early exit.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"leveraged-backtest-engine/internal/backtestengine"
	"leveraged-backtest-engine/internal/database"
	"leveraged-backtest-engine/internal/ledger"
	"leveraged-backtest-engine/internal/logging"
	"leveraged-backtest-engine/internal/notification"
)

// Task is one (symbol, timeframe, strategy) unit of work within a batch.
type Task struct {
	Symbol    string
	Timeframe string
	Strategy  string
	Level     string
}

// CancelChecker reports whether an execution has been cancelled. It is
// polled between chunks, not between individual tasks, matching the
// granularity at which the orchestrator can safely stop dispatching new
// work without abandoning an in-flight chunk.
type CancelChecker func(ctx context.Context, executionID string) (bool, error)

// Config holds the orchestrator's tunables.
type Config struct {
	MaxWorkers   int
	ChunkSize    int
	ChunkTimeout time.Duration
}

// metadataRepository is the subset of *database.Repository the orchestrator
// calls. Declared here, at the consumer, so tests can supply a hand-written
// fake instead of a live PostgreSQL connection.
type metadataRepository interface {
	PreReserve(ctx context.Context, batch []database.AnalysisKey) error
	MarkRunning(ctx context.Context, key database.AnalysisKey) error
	MarkFailed(ctx context.Context, key database.AnalysisKey, errMsg string) error
	MarkCompleted(ctx context.Context, key database.AnalysisKey, m database.AnalysisMetrics, p database.AnalysisPaths) error
}

// tradeLedger is the subset of *ledger.Store the orchestrator calls.
type tradeLedger interface {
	Save(entry ledger.Entry) error
}

// backtestLoop is the subset of *backtestengine.Loop the orchestrator calls.
type backtestLoop interface {
	Timeframe(tag string) (backtestengine.Timeframe, error)
	Strategy(name string) (backtestengine.StrategyConfig, error)
	Run(p backtestengine.RunParams, tf backtestengine.Timeframe, strategy backtestengine.StrategyConfig) backtestengine.AnalysisResult
}

// earlyExitNotifier is the subset of *notification.Manager the orchestrator
// calls.
type earlyExitNotifier interface {
	SendEarlyExit(symbol, timeframe, strategy, executionID, stage, reason, userMessage, detailedMessage string, suggestions []string) error
}

// Orchestrator wires together the backtest loop, the metadata repository,
// the ledger store and the notification manager to run a batch of tasks.
type Orchestrator struct {
	Repo     metadataRepository
	Ledger   tradeLedger
	Loop     backtestLoop
	Notifier earlyExitNotifier
	Log      *logging.Logger
	ChunkLog zerolog.Logger
	Cancel   CancelChecker
	Config   Config
}

// BatchResult summarizes the outcome of one RunBatch call.
type BatchResult struct {
	ExecutionID string
	Completed   int
	Failed      int
	EarlyExit   int
	Cancelled   bool
}

// NewExecutionID generates a fresh execution_id for a batch run.
func NewExecutionID() string {
	return uuid.New().String()
}

// RunBatch pre-reserves every task under executionID, then dispatches
// them in fixed-size chunks across a bounded worker pool. It stops
// starting new chunks (but lets an in-flight chunk finish) once Cancel
// reports the execution has been cancelled.
func (o *Orchestrator) RunBatch(ctx context.Context, executionID string, tasks []Task) (BatchResult, error) {
	result := BatchResult{ExecutionID: executionID}

	batch := make([]database.AnalysisKey, 0, len(tasks))
	for _, t := range tasks {
		batch = append(batch, database.AnalysisKey{
			ExecutionID: executionID,
			Symbol:      t.Symbol,
			Timeframe:   t.Timeframe,
			Strategy:    t.Strategy,
		})
	}
	if err := o.Repo.PreReserve(ctx, batch); err != nil {
		return result, fmt.Errorf("pre-reserving batch %s: %w", executionID, err)
	}

	chunkSize := o.Config.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 50
	}

	for start := 0; start < len(tasks); start += chunkSize {
		if o.Cancel != nil {
			cancelled, err := o.Cancel(ctx, executionID)
			if err != nil && o.Log != nil {
				o.Log.Warn("cancellation check failed, continuing batch", "execution_id", executionID, "error", err)
			}
			if cancelled {
				result.Cancelled = true
				o.ChunkLog.Info().Str("execution_id", executionID).Int("tasks_remaining", len(tasks)-start).Msg("batch cancelled, stopping dispatch")
				break
			}
		}

		end := start + chunkSize
		if end > len(tasks) {
			end = len(tasks)
		}
		chunk := tasks[start:end]

		chunkTimeout := o.Config.ChunkTimeout
		if chunkTimeout <= 0 {
			chunkTimeout = 30 * time.Minute
		}
		chunkCtx, cancel := context.WithTimeout(ctx, chunkTimeout)
		counts := o.runChunk(chunkCtx, executionID, chunk)
		cancel()

		result.Completed += counts.completed
		result.Failed += counts.failed
		result.EarlyExit += counts.earlyExit
	}

	return result, nil
}

type chunkCounts struct {
	completed int
	failed    int
	earlyExit int
}

// runChunk dispatches one chunk's tasks across o.Config.MaxWorkers
// goroutines reading from a buffered work channel, matching the
// teacher's worker-pool idiom: a closer goroutine closes the result
// channel once every worker has drained the work channel and returned.
func (o *Orchestrator) runChunk(ctx context.Context, executionID string, chunk []Task) chunkCounts {
	workers := o.Config.MaxWorkers
	if workers <= 0 {
		workers = 1
	}

	work := make(chan Task, len(chunk))
	for _, t := range chunk {
		work <- t
	}
	close(work)

	results := make(chan taskOutcome, len(chunk))
	var wg sync.WaitGroup

	chunkID := uuid.New().String()[:8]
	o.ChunkLog.Info().Str("execution_id", executionID).Str("chunk_id", chunkID).Int("tasks", len(chunk)).Int("workers", workers).Msg("chunk dispatch start")

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					o.ChunkLog.Error().Str("execution_id", executionID).Str("chunk_id", chunkID).Int("worker", workerID).Interface("panic", r).Msg("worker panic recovered")
				}
			}()
			for task := range work {
				select {
				case <-ctx.Done():
					results <- taskOutcome{task: task, err: ctx.Err()}
					continue
				default:
				}
				results <- o.runTask(ctx, executionID, task)
			}
		}(w)
	}

	go func() {
		wg.Wait()
		close(results)
	}()

	var counts chunkCounts
	for outcome := range results {
		switch {
		case outcome.err != nil:
			counts.failed++
		case outcome.earlyExit:
			counts.earlyExit++
		default:
			counts.completed++
		}
	}

	o.ChunkLog.Info().Str("execution_id", executionID).Str("chunk_id", chunkID).
		Int("completed", counts.completed).Int("failed", counts.failed).Int("early_exit", counts.earlyExit).
		Msg("chunk dispatch done")

	return counts
}

type taskOutcome struct {
	task      Task
	err       error
	earlyExit bool
}

func (o *Orchestrator) runTask(ctx context.Context, executionID string, task Task) taskOutcome {
	key := database.AnalysisKey{
		ExecutionID: executionID,
		Symbol:      task.Symbol,
		Timeframe:   task.Timeframe,
		Strategy:    task.Strategy,
	}

	if err := o.Repo.MarkRunning(ctx, key); err != nil {
		return taskOutcome{task: task, err: err}
	}

	tf, err := o.Loop.Timeframe(task.Timeframe)
	if err != nil {
		o.fail(ctx, key, err)
		return taskOutcome{task: task, err: err}
	}
	strategy, err := o.Loop.Strategy(task.Strategy)
	if err != nil {
		o.fail(ctx, key, err)
		return taskOutcome{task: task, err: err}
	}

	result := o.Loop.Run(backtestengine.RunParams{
		Symbol:      task.Symbol,
		Timeframe:   task.Timeframe,
		Strategy:    task.Strategy,
		Level:       task.Level,
		ExecutionID: executionID,
		Now:         time.Now(),
	}, tf, strategy)

	if result.Kind == backtestengine.ResultEarlyExit {
		o.handleEarlyExit(ctx, task, executionID, result)
		return taskOutcome{task: task, earlyExit: true}
	}

	if err := o.persistCompleted(ctx, key, executionID, task, result); err != nil {
		o.fail(ctx, key, err)
		return taskOutcome{task: task, err: err}
	}
	return taskOutcome{task: task}
}

func (o *Orchestrator) persistCompleted(ctx context.Context, key database.AnalysisKey, executionID string, task Task, result backtestengine.AnalysisResult) error {
	entry := ledger.Entry{
		ExecutionID: executionID,
		Symbol:      task.Symbol,
		Timeframe:   task.Timeframe,
		Strategy:    task.Strategy,
		Trades:      result.Trades,
		Metrics:     result.Metrics,
	}
	if err := o.Ledger.Save(entry); err != nil {
		return fmt.Errorf("saving ledger entry: %w", err)
	}

	metrics := database.AnalysisMetrics{
		TotalTrades: result.Metrics.TotalTrades,
		WinRate:     result.Metrics.WinRate,
		TotalReturn: result.Metrics.TotalReturn,
		SharpeRatio: result.Metrics.SharpeRatio,
		MaxDrawdown: result.Metrics.MaxDrawdown,
		AvgLeverage: result.Metrics.AvgLeverage,
	}
	return o.Repo.MarkCompleted(ctx, key, metrics, database.AnalysisPaths{})
}

func (o *Orchestrator) fail(ctx context.Context, key database.AnalysisKey, err error) {
	if markErr := o.Repo.MarkFailed(ctx, key, err.Error()); markErr != nil && o.Log != nil {
		o.Log.Error("marking task failed", "symbol", key.Symbol, "timeframe", key.Timeframe, "strategy", key.Strategy, "error", markErr)
	}
}

func (o *Orchestrator) handleEarlyExit(ctx context.Context, task Task, executionID string, result backtestengine.AnalysisResult) {
	key := database.AnalysisKey{ExecutionID: executionID, Symbol: task.Symbol, Timeframe: task.Timeframe, Strategy: task.Strategy}
	if err := o.Repo.MarkFailed(ctx, key, string(result.Reason)); err != nil && o.Log != nil {
		o.Log.Error("marking early exit", "symbol", task.Symbol, "error", err)
	}

	if o.Notifier == nil {
		return
	}
	if err := o.Notifier.SendEarlyExit(task.Symbol, task.Timeframe, task.Strategy, executionID,
		string(result.Stage), string(result.Reason), result.UserMessage, result.DetailedMessage, result.Suggestions); err != nil && o.Log != nil {
		o.Log.Error("sending early exit notification", "symbol", task.Symbol, "error", err)
	}
}
