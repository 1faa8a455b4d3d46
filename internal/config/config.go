// Package config loads the platform's configuration surface from a
// YAML file with environment variable overrides, via spf13/viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level configuration, mapping directly onto the
// recognised options table: lock/heartbeat/sweep cadence, stream
// reconnect policy, WebSocket batching defaults, and connection
// strings for the broker, key-value store, and database.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Lock      LockConfig      `mapstructure:"lock"`
	Stream    StreamConfig    `mapstructure:"stream"`
	Realtime  RealtimeConfig  `mapstructure:"realtime"`
	Backtest  BacktestConfig  `mapstructure:"backtest"`
	Broker    BrokerConfig    `mapstructure:"broker"`
	KV        KVConfig        `mapstructure:"kv"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// ServerConfig controls the realtime WebSocket/HTTP listener.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	MetricsPort  int           `mapstructure:"metrics_port"`
}

// LockConfig governs task lock/heartbeat/cancel key lifetimes and the
// stale-task sweep.
type LockConfig struct {
	TTLSeconds              int `mapstructure:"lock_ttl_seconds"`
	HeartbeatIntervalSeconds int `mapstructure:"heartbeat_interval_seconds"`
	StaleThresholdSeconds   int `mapstructure:"stale_threshold_seconds"`
}

// StreamConfig governs the broker transaction stream's reconnect
// policy and the reconciler's cadence.
type StreamConfig struct {
	ReconcileIntervalSeconds int             `mapstructure:"reconcile_interval_seconds"`
	MaxReconnectAttempts     int             `mapstructure:"stream_max_reconnect_attempts"`
	BackoffIntervalsSeconds  []int           `mapstructure:"stream_backoff_intervals"`
}

// RealtimeConfig sets the default per-client WebSocket tick-batching
// behaviour; individual clients may override it at runtime.
type RealtimeConfig struct {
	WSBatchSize     int     `mapstructure:"ws_batch_size"`
	WSBatchInterval float64 `mapstructure:"ws_batch_interval"`
}

// BacktestConfig bounds the historical engine's memory footprint.
type BacktestConfig struct {
	MemoryLimitTicks int `mapstructure:"backtest_memory_limit"`
}

// BrokerConfig holds the OANDA v20 connection the execution layer
// authenticates against. APIToken is sensitive and is expected to be
// supplied via the ATLAS_BROKER_API_TOKEN environment variable rather than
// committed to the YAML file.
type BrokerConfig struct {
	Environment string `mapstructure:"environment"` // "practice" or "live"
	APIToken    string `mapstructure:"api_token"`
	BaseURL     string `mapstructure:"base_url"`
	StreamURL   string `mapstructure:"stream_url"`
	// PrimaryAccountID is the broker_account row this process starts
	// internal/stream's Runner and Reconciler against at boot. No other
	// account gets a Runner or Reconciler (see cmd/server).
	PrimaryAccountID string `mapstructure:"primary_account_id"`
}

// KVConfig points at the Redis-compatible key-value store backing
// internal/lock.
type KVConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// DatabaseConfig points at the Postgres instance backing
// internal/storage.
type DatabaseConfig struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
	MaxIdleConns int    `mapstructure:"max_idle_conns"`
	// CipherKeyHex is a hex-encoded chacha20poly1305.KeySize-byte key
	// encrypting broker_account.api_token at rest; supplied via
	// ATLAS_DATABASE_CIPHER_KEY_HEX rather than committed to the YAML file.
	CipherKeyHex string `mapstructure:"cipher_key_hex"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// Default returns the recognised-options defaults before any file or
// environment override is applied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0", Port: 8081,
			ReadTimeout: 15 * time.Second, WriteTimeout: 15 * time.Second,
			MetricsPort: 9090,
		},
		Lock: LockConfig{
			TTLSeconds: 300, HeartbeatIntervalSeconds: 30, StaleThresholdSeconds: 300,
		},
		Stream: StreamConfig{
			ReconcileIntervalSeconds: 300, MaxReconnectAttempts: 5,
			BackoffIntervalsSeconds: []int{1, 2, 4, 8, 16},
		},
		Realtime: RealtimeConfig{WSBatchSize: 10, WSBatchInterval: 0.1},
		Backtest: BacktestConfig{MemoryLimitTicks: 2_000_000},
		Broker:   BrokerConfig{Environment: "practice"},
		KV:       KVConfig{Addr: "localhost:6379"},
		Database: DatabaseConfig{MaxOpenConns: 10, MaxIdleConns: 5},
		Logging:  LoggingConfig{Level: "info", Format: "console"},
	}
}

// Load reads config from a YAML file with ATLAS_*-prefixed environment
// variable overrides (e.g. ATLAS_BROKER_API_TOKEN overrides
// broker.api_token), falling back to recognised-options defaults for
// anything the file and environment leave unset.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetConfigFile(path)
	v.SetEnvPrefix("ATLAS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

// setDefaults seeds viper's default layer from a Config struct so a
// partially-specified YAML file (or none at all) still produces a
// fully populated Config.
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.metrics_port", d.Server.MetricsPort)

	v.SetDefault("lock.lock_ttl_seconds", d.Lock.TTLSeconds)
	v.SetDefault("lock.heartbeat_interval_seconds", d.Lock.HeartbeatIntervalSeconds)
	v.SetDefault("lock.stale_threshold_seconds", d.Lock.StaleThresholdSeconds)

	v.SetDefault("stream.reconcile_interval_seconds", d.Stream.ReconcileIntervalSeconds)
	v.SetDefault("stream.stream_max_reconnect_attempts", d.Stream.MaxReconnectAttempts)
	v.SetDefault("stream.stream_backoff_intervals", d.Stream.BackoffIntervalsSeconds)

	v.SetDefault("realtime.ws_batch_size", d.Realtime.WSBatchSize)
	v.SetDefault("realtime.ws_batch_interval", d.Realtime.WSBatchInterval)

	v.SetDefault("backtest.backtest_memory_limit", d.Backtest.MemoryLimitTicks)

	v.SetDefault("broker.environment", d.Broker.Environment)
	v.SetDefault("broker.api_token", d.Broker.APIToken)
	v.SetDefault("kv.addr", d.KV.Addr)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.cipher_key_hex", d.Database.CipherKeyHex)

	v.SetDefault("logging.level", d.Logging.Level)
	v.SetDefault("logging.format", d.Logging.Format)
}

// Validate checks the fields operations actually depend on:
// heartbeat cadence must outrun lock expiry or every task would be
// swept as stale mid-run, and batching parameters must fall inside
// the documented client contract bounds.
func (c *Config) Validate() error {
	if c.Lock.HeartbeatIntervalSeconds >= c.Lock.TTLSeconds {
		return fmt.Errorf("lock.heartbeat_interval_seconds (%d) must be less than lock.lock_ttl_seconds (%d)",
			c.Lock.HeartbeatIntervalSeconds, c.Lock.TTLSeconds)
	}
	if c.Realtime.WSBatchSize < 1 || c.Realtime.WSBatchSize > 100 {
		return fmt.Errorf("realtime.ws_batch_size must be within [1,100], got %d", c.Realtime.WSBatchSize)
	}
	if c.Realtime.WSBatchInterval < 0.01 || c.Realtime.WSBatchInterval > 1.0 {
		return fmt.Errorf("realtime.ws_batch_interval must be within [0.01,1.0] seconds, got %f", c.Realtime.WSBatchInterval)
	}
	if c.Broker.Environment != "practice" && c.Broker.Environment != "live" {
		return fmt.Errorf("broker.environment must be \"practice\" or \"live\", got %q", c.Broker.Environment)
	}
	if len(c.Stream.BackoffIntervalsSeconds) == 0 {
		return fmt.Errorf("stream.stream_backoff_intervals must not be empty")
	}
	return nil
}

// ReconnectIntervals converts the configured backoff seconds into
// time.Duration, the shape pkg/utils.RetryIntervals expects.
func (c *Config) ReconnectIntervals() []time.Duration {
	out := make([]time.Duration, len(c.Stream.BackoffIntervalsSeconds))
	for i, s := range c.Stream.BackoffIntervalsSeconds {
		out[i] = time.Duration(s) * time.Second
	}
	return out
}
