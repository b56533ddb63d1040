// Package ledger implements the compressed, content-addressed trade
// ledger store: one blob per (symbol, timeframe, strategy), written
// atomically, readable independent of the relational metadata database.
package ledger

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"leveraged-backtest-engine/internal/backtestengine"
)

// Entry is the full record persisted for one analysis execution.
type Entry struct {
	ExecutionID string
	Symbol      string
	Timeframe   string
	Strategy    string
	Trades      []backtestengine.Trade
	Metrics     backtestengine.Metrics
	CreatedAt   time.Time
}

// AnalysisID is the content-addressing key for a trade ledger blob:
// symbol + "_" + timeframe + "_" + strategy. One blob per
// (symbol, timeframe, strategy); a re-analysis overwrites it atomically
// regardless of which execution_id produced it.
func (e Entry) AnalysisID() string {
	return AnalysisID(e.Symbol, e.Timeframe, e.Strategy)
}

// AnalysisID builds the content-addressing key from its parts.
func AnalysisID(symbol, timeframe, strategy string) string {
	return symbol + "_" + timeframe + "_" + strategy
}

// Store persists Entry values as gzip-compressed gob blobs under
// <baseDir>/compressed/<analysis_id>.blob, matching the write-temp,
// fsync, rename pattern used by backtestengine.ProgressTracker for
// cross-process-safe atomic writes.
type Store struct {
	dir string
}

// NewStore creates a Store rooted at baseDir/compressed.
func NewStore(baseDir string) (*Store, error) {
	dir := filepath.Join(baseDir, "compressed")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating ledger directory: %w", err)
	}
	return &Store{dir: dir}, nil
}

func (s *Store) path(analysisID string) string {
	return filepath.Join(s.dir, analysisID+".blob")
}

// Save writes entry atomically, overwriting any prior blob for the same
// analysis_id (symbol, timeframe, strategy) — not the execution_id, which
// may be shared by many tasks in one batch.
func (s *Store) Save(entry Entry) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if err := gob.NewEncoder(gz).Encode(entry); err != nil {
		gz.Close()
		return fmt.Errorf("encoding ledger entry: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("closing gzip writer: %w", err)
	}

	finalPath := s.path(entry.AnalysisID())
	tmpPath := finalPath + ".tmp"

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening temp ledger file: %w", err)
	}
	if _, err := f.Write(buf.Bytes()); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("writing temp ledger file: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("syncing temp ledger file: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return os.Rename(tmpPath, finalPath)
}

// Load reads and decodes the blob for analysisID. Returns os.ErrNotExist
// (wrapped) if no blob exists.
func (s *Store) Load(analysisID string) (*Entry, error) {
	f, err := os.Open(s.path(analysisID))
	if err != nil {
		return nil, err
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return nil, fmt.Errorf("opening gzip reader: %w", err)
	}
	defer gz.Close()

	var entry Entry
	if err := gob.NewDecoder(gz).Decode(&entry); err != nil {
		return nil, fmt.Errorf("decoding ledger entry: %w", err)
	}
	return &entry, nil
}

// LoadMany loads every blob in the store and returns those matching
// filter, sorted newest-first by CreatedAt. A nil filter matches everything.
func (s *Store) LoadMany(filter func(Entry) bool) ([]Entry, error) {
	files, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, f := range files {
		if f.IsDir() || filepath.Ext(f.Name()) != ".blob" {
			continue
		}
		analysisID := f.Name()[:len(f.Name())-len(".blob")]
		entry, err := s.Load(analysisID)
		if err != nil {
			continue
		}
		if filter == nil || filter(*entry) {
			entries = append(entries, *entry)
		}
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].CreatedAt.After(entries[j].CreatedAt) })
	return entries, nil
}

// ExportCSV writes the trade list for analysisID to path in a flat,
// spreadsheet-friendly layout.
func (s *Store) ExportCSV(analysisID, path string) error {
	entry, err := s.Load(analysisID)
	if err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating csv file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	defer w.Flush()

	header := []string{
		"entry_time", "exit_time", "entry_price", "exit_price", "take_profit", "stop_loss",
		"leverage", "pnl_pct", "confidence_pct", "outcome", "strategy",
		"price_consistency_score", "price_validation_level", "backtest_validation_severity", "analysis_price",
	}
	if err := w.Write(header); err != nil {
		return err
	}

	for _, t := range entry.Trades {
		row := []string{
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			strconv.FormatFloat(t.EntryPrice, 'f', 8, 64),
			strconv.FormatFloat(t.ExitPrice, 'f', 8, 64),
			strconv.FormatFloat(t.TakeProfitPrice, 'f', 8, 64),
			strconv.FormatFloat(t.StopLossPrice, 'f', 8, 64),
			strconv.FormatFloat(t.Leverage, 'f', 4, 64),
			strconv.FormatFloat(t.PnLPercent, 'f', 4, 64),
			strconv.FormatFloat(t.ConfidencePct, 'f', 2, 64),
			string(t.Outcome),
			t.Strategy,
			strconv.FormatFloat(t.ConsistencyScore, 'f', 4, 64),
			string(t.PriceValidationLevel),
			string(t.BacktestValidationSeverity),
			strconv.FormatFloat(t.AnalysisPrice, 'f', 8, 64),
		}
		if err := w.Write(row); err != nil {
			return err
		}
	}
	return w.Error()
}
