package candles

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"trailbot/internal/helper"
	"trailbot/internal/models"
	"trailbot/pkg/logger"

	"github.com/bytedance/sonic"
)

const (
	// ShortWindowCap — one-minute bars kept for scoring.
	ShortWindowCap = 60
	// HourlyWindowCap — hourly bars kept for the 24h-extremes component.
	HourlyWindowCap = 24

	// timestamps above this are treated as milliseconds
	msEpochCutoff = int64(1e12)
)

// Store — one bounded, time-ordered candle window with a JSON cache file.
// Mutations happen only on the evaluation loop; the mutex covers reads
// from the status/notification side.
type Store struct {
	mu sync.RWMutex

	pair        string
	granularity string
	cap         int
	path        string

	candles []models.Candle
	dropped int // invalid rows skipped since start
}

func NewStore(pair, granularity string, capSize int, cacheDir string) *Store {
	return &Store{
		pair:        pair,
		granularity: granularity,
		cap:         capSize,
		path:        filepath.Join(cacheDir, fmt.Sprintf("candles_%s_%s.json", pair, granularity)),
	}
}

// Parse normalizes one raw candle row. Upstream shapes vary: key aliases,
// second vs millisecond epochs, numbers as strings. Any missing required
// field or non-finite/negative numeric rejects the row — ok=false, the
// caller drops it and moves on.
func Parse(raw map[string]any) (models.Candle, bool) {
	ts, ok := intField(raw, "time", "timestamp", "t", "start")
	if !ok || ts <= 0 {
		return models.Candle{}, false
	}
	if ts > msEpochCutoff {
		ts /= 1000
	}

	open, ok := floatField(raw, "open", "o")
	if !ok {
		return models.Candle{}, false
	}
	high, ok := floatField(raw, "high", "h")
	if !ok {
		return models.Candle{}, false
	}
	low, ok := floatField(raw, "low", "l")
	if !ok {
		return models.Candle{}, false
	}
	cl, ok := floatField(raw, "close", "c")
	if !ok {
		return models.Candle{}, false
	}
	vol, ok := floatField(raw, "volume", "v", "vol")
	if !ok {
		return models.Candle{}, false
	}

	for _, v := range []float64{open, high, low, cl, vol} {
		if !helper.IsFinite(v) || v < 0 {
			return models.Candle{}, false
		}
	}

	return models.Candle{Time: ts, Open: open, High: high, Low: low, Close: cl, Volume: vol}, true
}

// IngestRaw parses a raw batch and merges the valid rows. Returns how
// many rows were accepted; rejects are counted and logged, never fatal.
func (s *Store) IngestRaw(rows []map[string]any) int {
	batch := make([]models.Candle, 0, len(rows))
	skipped := 0
	for _, row := range rows {
		c, ok := Parse(row)
		if !ok {
			skipped++
			continue
		}
		batch = append(batch, c)
	}
	if skipped > 0 {
		s.mu.Lock()
		s.dropped += skipped
		s.mu.Unlock()
		logger.Info("candles %s/%s: skipped %d invalid rows of %d", s.pair, s.granularity, skipped, len(rows))
	}
	s.Merge(batch)
	return len(batch)
}

// Merge folds a batch into the window: dedupe by timestamp with the
// newest supplied value winning, sort ascending, keep the most recent
// cap entries.
func (s *Store) Merge(batch []models.Candle) {
	if len(batch) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	byTime := make(map[int64]models.Candle, len(s.candles)+len(batch))
	for _, c := range s.candles {
		byTime[c.Time] = c
	}
	for _, c := range batch {
		byTime[c.Time] = c
	}

	merged := make([]models.Candle, 0, len(byTime))
	for _, c := range byTime {
		merged = append(merged, c)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Time < merged[j].Time })

	if len(merged) > s.cap {
		merged = merged[len(merged)-s.cap:]
	}
	s.candles = merged
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.candles)
}

func (s *Store) Dropped() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dropped
}

// All returns a copy of the window, oldest first.
func (s *Store) All() []models.Candle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Candle, len(s.candles))
	copy(out, s.candles)
	return out
}

func (s *Store) Last() (models.Candle, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.candles) == 0 {
		return models.Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}

// LastTime — open time of the newest bar, zero when empty.
func (s *Store) LastTime() time.Time {
	if c, ok := s.Last(); ok {
		return c.Start()
	}
	return time.Time{}
}

type cacheMetadata struct {
	TradingPair string `json:"tradingPair"`
	Count       int    `json:"count"`
	FirstCandle string `json:"firstCandle"`
	LastCandle  string `json:"lastCandle"`
}

type cacheFile struct {
	Candles   []models.Candle `json:"candles"`
	Timestamp int64           `json:"timestamp"`
	Metadata  cacheMetadata   `json:"metadata"`
}

// Persist writes the window to the cache file, temp-then-rename so a
// crash mid-write never leaves a truncated cache.
func (s *Store) Persist() error {
	s.mu.RLock()
	snapshot := make([]models.Candle, len(s.candles))
	copy(snapshot, s.candles)
	s.mu.RUnlock()

	cf := cacheFile{
		Candles:   snapshot,
		Timestamp: time.Now().Unix(),
		Metadata: cacheMetadata{
			TradingPair: s.pair,
			Count:       len(snapshot),
		},
	}
	if len(snapshot) > 0 {
		cf.Metadata.FirstCandle = snapshot[0].Start().Format(time.RFC3339)
		cf.Metadata.LastCandle = snapshot[len(snapshot)-1].Start().Format(time.RFC3339)
	}

	data, err := sonic.Marshal(cf)
	if err != nil {
		return fmt.Errorf("marshal candle cache: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("mkdir cache dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp cache: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("rename cache: %w", err)
	}
	return nil
}

// Load reads the cache file back. Missing or corrupt files degrade to an
// empty store; the returned flag tells the caller a full refetch is due.
func (s *Store) Load() (needsFetch bool) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Error("candle cache %s unreadable: %v", s.path, err)
		}
		return true
	}

	var cf cacheFile
	if err := sonic.Unmarshal(data, &cf); err != nil {
		logger.Error("candle cache %s corrupt, starting empty: %v", s.path, err)
		return true
	}

	valid := cf.Candles[:0]
	for _, c := range cf.Candles {
		if c.Time > 0 && helper.IsFinite(c.Close) && c.Close >= 0 {
			valid = append(valid, c)
		}
	}
	s.mu.Lock()
	s.candles = nil
	s.mu.Unlock()
	s.Merge(valid)
	return s.Len() == 0
}

func intField(raw map[string]any, keys ...string) (int64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return int64(t), true
		case int64:
			return t, true
		case int:
			return int64(t), true
		case string:
			if n, err := strconv.ParseInt(t, 10, 64); err == nil {
				return n, true
			}
			// some feeds send fractional epoch strings
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return int64(f), true
			}
		}
	}
	return 0, false
}

func floatField(raw map[string]any, keys ...string) (float64, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok {
			continue
		}
		switch t := v.(type) {
		case float64:
			return t, true
		case int:
			return float64(t), true
		case int64:
			return float64(t), true
		case string:
			if f, err := strconv.ParseFloat(t, 64); err == nil {
				return f, true
			}
		}
	}
	return 0, false
}
