package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/atlas-fx/floor-engine/pkg/types"
	"go.uber.org/zap"
)

// FileHistoryLoader backs internal/backtester.HistoryLoader with a
// directory of per-instrument JSON tick archives, one file per
// instrument (e.g. EUR_USD.json), loaded on first access and cached in
// memory thereafter.
//
// Grounded on internal/data/store.go's Store.LoadOHLCV: same
// read-whole-file-then-cache-then-filter-by-range shape, generalised
// from per-symbol-per-timeframe OHLCV bars to per-instrument tick
// archives (a backtest replays raw ticks, not resampled bars).
type FileHistoryLoader struct {
	mu      sync.Mutex
	logger  *zap.Logger
	dataDir string
	cache   map[string][]types.Tick
}

func NewFileHistoryLoader(logger *zap.Logger, dataDir string) *FileHistoryLoader {
	return &FileHistoryLoader{logger: logger, dataDir: dataDir, cache: make(map[string][]types.Tick)}
}

func (l *FileHistoryLoader) LoadTicks(_ context.Context, instrument string, start, end time.Time) ([]types.Tick, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ticks, ok := l.cache[instrument]
	if !ok {
		path := filepath.Join(l.dataDir, fmt.Sprintf("%s.json", instrument))
		raw, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				l.logger.Warn("no tick archive for instrument", zap.String("instrument", instrument))
				l.cache[instrument] = nil
				return nil, nil
			}
			return nil, fmt.Errorf("read tick archive: %w", err)
		}
		if err := json.Unmarshal(raw, &ticks); err != nil {
			return nil, fmt.Errorf("parse tick archive: %w", err)
		}
		sort.Slice(ticks, func(i, j int) bool { return ticks[i].Timestamp.Before(ticks[j].Timestamp) })
		l.cache[instrument] = ticks
	}

	var out []types.Tick
	for _, t := range ticks {
		if !t.Timestamp.Before(start) && !t.Timestamp.After(end) {
			out = append(out, t)
		}
	}
	return out, nil
}
