package backtestengine

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// ProgressStatus is the overall_status field of a progress record.
type ProgressStatus string

const (
	ProgressRunning ProgressStatus = "running"
	ProgressSuccess ProgressStatus = "success"
	ProgressFailed  ProgressStatus = "failed"
)

// ProgressRecord is the one-file-per-execution_id JSON document tracking
// a single analysis's lifecycle for external polling.
type ProgressRecord struct {
	Symbol          string                 `json:"symbol"`
	ExecutionID     string                 `json:"execution_id"`
	StartTime       time.Time              `json:"start_time"`
	CurrentStage    string                 `json:"current_stage"`
	OverallStatus   ProgressStatus         `json:"overall_status"`
	SupportResistance map[string]interface{} `json:"support_resistance,omitempty"`
	MLPrediction      map[string]interface{} `json:"ml_prediction,omitempty"`
	MarketContext     map[string]interface{} `json:"market_context,omitempty"`
	LeverageDecision   map[string]interface{} `json:"leverage_decision,omitempty"`
	FinalSignal     string                 `json:"final_signal"`
	FailureStage    string                 `json:"failure_stage"`
	FinalMessage    string                 `json:"final_message"`
}

// ProgressTracker is the cross-process, file-backed coordination medium
// for analysis progress. The orchestrator and worker processes never
// share memory; the filesystem is the sole coordination surface. Ported
// from original_source/file_based_progress_tracker.py.
type ProgressTracker struct {
	dir string
	mu  sync.Mutex // serializes this process's own writes; cross-process safety comes from file locks
}

// NewProgressTracker creates a tracker rooted at baseDir/analysis_progress,
// creating the directory if needed.
func NewProgressTracker(baseDir string) (*ProgressTracker, error) {
	dir := filepath.Join(baseDir, "analysis_progress")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating progress directory: %w", err)
	}
	return &ProgressTracker{dir: dir}, nil
}

func (pt *ProgressTracker) path(executionID string) string {
	return filepath.Join(pt.dir, "progress_"+executionID+".json")
}

func (pt *ProgressTracker) readLocked(executionID string) (*ProgressRecord, error) {
	f, err := os.Open(pt.path(executionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	defer f.Close()

	if err := unix.Flock(int(f.Fd()), unix.LOCK_SH); err != nil {
		return nil, fmt.Errorf("acquiring shared lock: %w", err)
	}
	defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

	var rec ProgressRecord
	if err := json.NewDecoder(f).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decoding progress file: %w", err)
	}
	return &rec, nil
}

func (pt *ProgressTracker) writeLocked(executionID string, rec *ProgressRecord) error {
	finalPath := pt.path(executionID)
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening temp progress file: %w", err)
	}

	writeErr := func() error {
		if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
			return fmt.Errorf("acquiring exclusive lock: %w", err)
		}
		defer unix.Flock(int(f.Fd()), unix.LOCK_UN)

		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encoding progress record: %w", err)
		}
		return f.Sync()
	}()
	f.Close()

	if writeErr != nil {
		os.Remove(tmpPath)
		return writeErr
	}
	return os.Rename(tmpPath, finalPath)
}

// Start begins tracking a new analysis.
func (pt *ProgressTracker) Start(symbol, executionID string) (*ProgressRecord, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	rec := &ProgressRecord{
		Symbol:        symbol,
		ExecutionID:   executionID,
		StartTime:     time.Now().UTC(),
		CurrentStage:  "initializing",
		OverallStatus: ProgressRunning,
		FinalSignal:   "analyzing",
	}
	if err := pt.writeLocked(executionID, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// Get returns the current progress record, or nil if none exists.
func (pt *ProgressTracker) Get(executionID string) (*ProgressRecord, error) {
	return pt.readLocked(executionID)
}

func (pt *ProgressTracker) mutate(executionID string, fn func(*ProgressRecord)) (bool, error) {
	pt.mu.Lock()
	defer pt.mu.Unlock()

	rec, err := pt.readLocked(executionID)
	if err != nil {
		return false, err
	}
	if rec == nil {
		return false, nil
	}
	fn(rec)
	if err := pt.writeLocked(executionID, rec); err != nil {
		return false, err
	}
	return true, nil
}

// UpdateStage records the current pipeline stage.
func (pt *ProgressTracker) UpdateStage(executionID, stage string) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) { r.CurrentStage = stage })
}

// UpdateSupportResistance records the support/resistance capability's result.
func (pt *ProgressTracker) UpdateSupportResistance(executionID string, result map[string]interface{}) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) { r.SupportResistance = result })
}

// UpdateMLPrediction records the ML prediction capability's result.
func (pt *ProgressTracker) UpdateMLPrediction(executionID string, result map[string]interface{}) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) { r.MLPrediction = result })
}

// UpdateMarketContext records the market-context analyzer's result.
func (pt *ProgressTracker) UpdateMarketContext(executionID string, result map[string]interface{}) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) { r.MarketContext = result })
}

// UpdateLeverageDecision records the leverage engine's decision.
func (pt *ProgressTracker) UpdateLeverageDecision(executionID string, result map[string]interface{}) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) { r.LeverageDecision = result })
}

// Complete marks an analysis as successfully finished.
func (pt *ProgressTracker) Complete(executionID, signal, message string) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) {
		r.OverallStatus = ProgressSuccess
		r.CurrentStage = "completed"
		r.FinalSignal = signal
		r.FinalMessage = message
	})
}

// Fail marks an analysis as failed at the given stage.
func (pt *ProgressTracker) Fail(executionID, stage, message string) (bool, error) {
	return pt.mutate(executionID, func(r *ProgressRecord) {
		r.OverallStatus = ProgressFailed
		r.FailureStage = stage
		r.FinalSignal = "no_signal"
		r.FinalMessage = message
	})
}

// Recent returns progress records started within the last hours, newest first.
func (pt *ProgressTracker) Recent(hours float64) ([]ProgressRecord, error) {
	entries, err := os.ReadDir(pt.dir)
	if err != nil {
		return nil, err
	}
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))

	var recs []ProgressRecord
	for _, e := range entries {
		id, ok := executionIDFromFilename(e.Name())
		if !ok {
			continue
		}
		rec, err := pt.readLocked(id)
		if err != nil || rec == nil {
			continue
		}
		if rec.StartTime.Before(cutoff) {
			continue
		}
		recs = append(recs, *rec)
	}
	sort.Slice(recs, func(i, j int) bool { return recs[i].StartTime.After(recs[j].StartTime) })
	return recs, nil
}

// ActiveExecutions returns execution_ids currently overall_status=running.
// Supplements the progress-tracker operation list from the original's
// get_active_executions, useful for an orchestrator restart to discover
// in-flight work.
func (pt *ProgressTracker) ActiveExecutions() ([]string, error) {
	entries, err := os.ReadDir(pt.dir)
	if err != nil {
		return nil, err
	}
	var active []string
	for _, e := range entries {
		id, ok := executionIDFromFilename(e.Name())
		if !ok {
			continue
		}
		rec, err := pt.readLocked(id)
		if err != nil || rec == nil {
			continue
		}
		if rec.OverallStatus == ProgressRunning {
			active = append(active, id)
		}
	}
	return active, nil
}

// CleanupOlderThan deletes progress files whose modification time is
// older than hours, returning the count removed. cmd/backtest calls it
// with 24 at startup, so progress files are garbage collected after 24
// hours.
func (pt *ProgressTracker) CleanupOlderThan(hours float64) (int, error) {
	entries, err := os.ReadDir(pt.dir)
	if err != nil {
		return 0, err
	}
	cutoff := time.Now().Add(-time.Duration(hours * float64(time.Hour)))

	count := 0
	for _, e := range entries {
		if _, ok := executionIDFromFilename(e.Name()); !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(pt.dir, e.Name())); err == nil {
				count++
			}
		}
	}
	return count, nil
}

func executionIDFromFilename(name string) (string, bool) {
	const prefix, suffix = "progress_", ".json"
	if !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, suffix) {
		return "", false
	}
	return strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix), true
}
