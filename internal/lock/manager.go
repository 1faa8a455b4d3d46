// Package lock implements the task lock manager: atomic
// conditional-set locks with heartbeats, cooperative cancellation
// flags, and a stale-lock reaper, all backed by internal/kv.Store.
//
// Grounded on original_source/backend/trading/services/task_lock_manager.py
// for exact key semantics; the Go shape (SetNX, per-key TTL refresh,
// cursor SCAN for sweep) follows the pack's redis/go-redis/v9 idiom.
package lock

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/atlas-fx/floor-engine/internal/kv"
	"go.uber.org/zap"
)

// Record is the value stored under a lock key.
type Record struct {
	AcquiredAt  time.Time `json:"acquiredAt"`
	AcquiredBy  string    `json:"acquiredBy"`
	ExecutionID string    `json:"executionId"`
}

// Config holds the TTL and sweep cadence.
type Config struct {
	LockTTL        time.Duration
	StaleThreshold time.Duration
}

// DefaultConfig returns the documented defaults: 300s TTL, 300s stale
// threshold.
func DefaultConfig() Config {
	return Config{
		LockTTL:        5 * time.Minute,
		StaleThreshold: 5 * time.Minute,
	}
}

// Manager implements the six lock operations over a kv.Store.
type Manager struct {
	store  kv.Store
	config Config
	logger *zap.Logger
}

// NewManager constructs a Manager over the given store.
func NewManager(logger *zap.Logger, store kv.Store, config Config) *Manager {
	return &Manager{store: store, config: config, logger: logger}
}

func lockKey(taskType, id string) string      { return fmt.Sprintf("task_lock:%s:%s", taskType, id) }
func heartbeatKey(taskType, id string) string { return fmt.Sprintf("task_heartbeat:%s:%s", taskType, id) }
func cancelKey(taskType, id string) string    { return fmt.Sprintf("task_cancel:%s:%s", taskType, id) }

// Acquire performs an atomic conditional-set on the lock key; on
// success it writes the initial heartbeat and clears any stale cancel
// flag. Returns false without error if the lock is already held.
func (m *Manager) Acquire(ctx context.Context, taskType, id, executionID, worker string) (bool, error) {
	rec := Record{AcquiredAt: time.Now(), AcquiredBy: worker, ExecutionID: executionID}
	payload, err := json.Marshal(rec)
	if err != nil {
		return false, fmt.Errorf("marshal lock record: %w", err)
	}

	ok, err := m.store.SetNX(ctx, lockKey(taskType, id), payload, m.config.LockTTL)
	if err != nil {
		return false, fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return false, nil
	}

	if err := m.store.Set(ctx, heartbeatKey(taskType, id), []byte(time.Now().Format(time.RFC3339Nano)), m.config.LockTTL); err != nil {
		return false, fmt.Errorf("write initial heartbeat: %w", err)
	}
	if err := m.store.Delete(ctx, cancelKey(taskType, id)); err != nil {
		return false, fmt.Errorf("clear stale cancel flag: %w", err)
	}

	m.logger.Debug("lock acquired",
		zap.String("taskType", taskType), zap.String("id", id), zap.String("worker", worker))
	return true, nil
}

// Heartbeat refreshes the heartbeat timestamp and extends the TTL on
// all three keys, preserving execution_id on the lock record.
func (m *Manager) Heartbeat(ctx context.Context, taskType, id string) error {
	if err := m.store.Set(ctx, heartbeatKey(taskType, id), []byte(time.Now().Format(time.RFC3339Nano)), m.config.LockTTL); err != nil {
		return fmt.Errorf("refresh heartbeat: %w", err)
	}
	if err := m.store.Expire(ctx, lockKey(taskType, id), m.config.LockTTL); err != nil {
		return fmt.Errorf("extend lock ttl: %w", err)
	}
	if err := m.store.Expire(ctx, cancelKey(taskType, id), m.config.LockTTL); err != nil {
		return fmt.Errorf("extend cancel ttl: %w", err)
	}
	return nil
}

// CheckCancel reports whether a cancel flag is set for (type, id). The
// engine polls this between ticks.
func (m *Manager) CheckCancel(ctx context.Context, taskType, id string) (bool, error) {
	_, ok, err := m.store.Get(ctx, cancelKey(taskType, id))
	if err != nil {
		return false, fmt.Errorf("check cancel: %w", err)
	}
	return ok, nil
}

// SetCancel writes the cancel flag with the lock's TTL.
func (m *Manager) SetCancel(ctx context.Context, taskType, id string) error {
	if err := m.store.Set(ctx, cancelKey(taskType, id), []byte("1"), m.config.LockTTL); err != nil {
		return fmt.Errorf("set cancel: %w", err)
	}
	return nil
}

// Release deletes all three keys for (type, id).
func (m *Manager) Release(ctx context.Context, taskType, id string) error {
	if err := m.store.Delete(ctx, lockKey(taskType, id), heartbeatKey(taskType, id), cancelKey(taskType, id)); err != nil {
		return fmt.Errorf("release lock: %w", err)
	}
	return nil
}

// Sweep scans (cursor-based, never a blocking enumeration) for lock
// keys whose heartbeat age exceeds the stale threshold, or whose
// heartbeat is absent, and releases them. Returns the lock keys
// ("task_lock:<type>:<id>") reaped.
func (m *Manager) Sweep(ctx context.Context) ([]string, error) {
	var reaped []string
	var cursor uint64
	now := time.Now()

	for {
		keys, next, err := m.store.Scan(ctx, cursor, "task_lock:*", 100)
		if err != nil {
			return reaped, fmt.Errorf("sweep scan: %w", err)
		}

		for _, key := range keys {
			taskType, id, ok := parseLockKey(key)
			if !ok {
				continue
			}

			stale, err := m.isStale(ctx, taskType, id, now)
			if err != nil {
				m.logger.Warn("sweep: failed to check heartbeat", zap.String("key", key), zap.Error(err))
				continue
			}
			if !stale {
				continue
			}

			if err := m.Release(ctx, taskType, id); err != nil {
				m.logger.Warn("sweep: failed to release stale lock", zap.String("key", key), zap.Error(err))
				continue
			}
			reaped = append(reaped, key)
			m.logger.Info("sweep: reaped stale lock", zap.String("taskType", taskType), zap.String("id", id))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return reaped, nil
}

func (m *Manager) isStale(ctx context.Context, taskType, id string, now time.Time) (bool, error) {
	raw, ok, err := m.store.Get(ctx, heartbeatKey(taskType, id))
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}

	ts, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return true, nil
	}
	return now.Sub(ts) > m.config.StaleThreshold, nil
}

func parseLockKey(key string) (taskType, id string, ok bool) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) != 3 || parts[0] != "task_lock" {
		return "", "", false
	}
	return parts[1], parts[2], true
}
