// Package config loads the on-disk configuration for the kbd daemon
// host: pool sizing, listen addresses, and storage locations. Config
// files are YAML, with environment overrides applied after parsing.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// PoolConfig mirrors internal/pool.Config's tunables (spec §4.6), kept
// separate so it round-trips through YAML without importing the pool
// package from config.
type PoolConfig struct {
	Min                   int           `yaml:"min" json:"min"`
	Max                   int           `yaml:"max" json:"max"`
	MaxRequestsPerWorker  int           `yaml:"max_requests_per_worker" json:"max_requests_per_worker"`
	MaxUptime             time.Duration `yaml:"max_uptime" json:"max_uptime"`
	MaxQueueSize          int           `yaml:"max_queue_size" json:"max_queue_size"`
	AcquireTimeout        time.Duration `yaml:"acquire_timeout" json:"acquire_timeout"`
	MaxConcurrentPerPlugin int          `yaml:"max_concurrent_per_plugin" json:"max_concurrent_per_plugin"`
	HealthCheckInterval   time.Duration `yaml:"health_check_interval" json:"health_check_interval"`
}

// ListenConfig configures one of kbd's network-facing surfaces.
type ListenConfig struct {
	Address string `yaml:"address" json:"address"`
	Enabled bool   `yaml:"enabled" json:"enabled"`
}

// LogConfig mirrors internal/log.Config for on-disk configuration.
// internal/log.FromEnv is not applied on top of it.
type LogConfig struct {
	Level     string `yaml:"level" json:"level"`
	Format    string `yaml:"format" json:"format"`
	AddSource bool   `yaml:"add_source" json:"add_source"`
}

// Config is the full kbd daemon configuration.
type Config struct {
	Pool    PoolConfig   `yaml:"pool"`
	HTTP    ListenConfig `yaml:"http"`
	Bridge  struct {
		SocketPath string `yaml:"socket_path" json:"socket_path"`
	} `yaml:"bridge"`
	DataDir       string    `yaml:"data_dir" json:"data_dir"`
	SnapshotDir   string    `yaml:"snapshot_dir" json:"snapshot_dir"`
	JobWorkers    int       `yaml:"job_workers" json:"job_workers"`
	Log           LogConfig `yaml:"log"`
}

// Default returns the baseline configuration used when no file is
// supplied (spec §4.6). internal/pool's own fallbacks for zero fields
// differ (a zero Config starts 4 workers, not 2).
func Default() *Config {
	cfg := &Config{
		Pool: PoolConfig{
			Min: 2, Max: 10,
			MaxRequestsPerWorker:   1000,
			MaxUptime:              30 * time.Minute,
			MaxQueueSize:           100,
			AcquireTimeout:         5 * time.Second,
			HealthCheckInterval:    10 * time.Second,
			MaxConcurrentPerPlugin: 0,
		},
		HTTP:        ListenConfig{Address: ":8080", Enabled: true},
		DataDir:     "./.kb/data",
		SnapshotDir: "./.kb/snapshots",
		JobWorkers:  4,
		Log:         LogConfig{Level: "info", Format: "json"},
	}
	cfg.Bridge.SocketPath = "./.kb/platform.sock"
	return cfg
}

// Load reads path (if non-empty) into a Config seeded with Default,
// then applies KB_* environment overrides: defaults, then file, then
// environment, in that precedence order.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("KB_HTTP_ADDR"); v != "" {
		cfg.HTTP.Address = v
	}
	if v := os.Getenv("KB_BRIDGE_SOCKET"); v != "" {
		cfg.Bridge.SocketPath = v
	}
	if v := os.Getenv("KB_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("KB_POOL_MAX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Max = n
		}
	}
	if v := os.Getenv("KB_POOL_MIN"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Pool.Min = n
		}
	}
}
