// Package config loads the daemon's YAML configuration, following the
// same os.ReadFile + yaml.Unmarshal-over-defaults convention the
// teacher uses for its own config.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration document.
type Config struct {
	Network    NetworkConfig    `yaml:"network"`
	Pool       PoolConfig       `yaml:"pool"`
	Dispatcher DispatcherConfig `yaml:"dispatcher"`
	UniqueId   UniqueIdConfig   `yaml:"unique_id"`
	Logging    LoggingConfig    `yaml:"logging"`
	Admin      AdminConfig      `yaml:"admin"`
}

// NetworkConfig governs the TCP listener and per-connection limits.
type NetworkConfig struct {
	Port                int           `yaml:"port"`
	MaxConnections      int           `yaml:"max_connections"`
	RecvBufferSize      int           `yaml:"recv_buffer_size"`
	MaxPerIPConnections int           `yaml:"max_per_ip_connections"`
	SessionTimeout      time.Duration `yaml:"session_timeout"`
}

// PoolConfig governs the ByteBufferPool's size classes.
type PoolConfig struct {
	MinClass         int `yaml:"min_class"`
	MaxClass         int `yaml:"max_class"`
	PerClassCapacity int `yaml:"per_class_capacity"`
	MaxBufferSize    int `yaml:"max_buffer_size"`
}

// DispatcherConfig governs PacketDispatcher-wide defaults; per-opcode
// overrides (rate limit, concurrency, timeout) live in code alongside
// each RegisterHandler call, not in this file.
type DispatcherConfig struct {
	CompressionAlgo      string        `yaml:"compression_algo"`
	CompressionThreshold int           `yaml:"compression_threshold"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	WorkerCount          int           `yaml:"worker_count"`
}

// UniqueIdConfig governs the snowflake-style id generator.
type UniqueIdConfig struct {
	Type      uint8  `yaml:"type"`
	MachineID uint16 `yaml:"machine_id"`
	EpochMs   int64  `yaml:"epoch_ms"`
}

// LoggingConfig governs both the structured logrus sink and the
// per-session FileSink.
type LoggingConfig struct {
	Level         string `yaml:"level"`
	FilePath      string `yaml:"file_path"`
	RetentionDays int    `yaml:"retention_days"`
}

// AdminConfig governs the read-only operator HTTP surface.
type AdminConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads path, overlays it on the built-in defaults, and validates
// the UniqueId fields the same way idgen.New would reject them, so a
// misconfigured machine id or future epoch is caught before any
// connection is accepted.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Network: NetworkConfig{
			Port:                9000,
			MaxConnections:      10000,
			RecvBufferSize:      65536,
			MaxPerIPConnections: 64,
			SessionTimeout:      30 * time.Second,
		},
		Pool: PoolConfig{
			MinClass:         256,
			MaxClass:         65536,
			PerClassCapacity: 0,
			MaxBufferSize:    65536,
		},
		Dispatcher: DispatcherConfig{
			CompressionAlgo:      "lz4",
			CompressionThreshold: 256,
			DefaultTimeout:       5 * time.Second,
			WorkerCount:          0,
		},
		UniqueId: UniqueIdConfig{
			Type:      0,
			MachineID: 1,
			EpochMs:   1704067200000, // 2024-01-01T00:00:00Z
		},
		Logging: LoggingConfig{
			Level:         "info",
			FilePath:      "/data/logs",
			RetentionDays: 30,
		},
		Admin: AdminConfig{
			Enabled: true,
			Port:    9001,
		},
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.UniqueId.Type > 15 {
		return fmt.Errorf("config: unique_id.type %d exceeds the 4-bit range", c.UniqueId.Type)
	}
	if c.UniqueId.MachineID > 4095 {
		return fmt.Errorf("config: unique_id.machine_id %d exceeds the 12-bit range", c.UniqueId.MachineID)
	}
	if c.UniqueId.EpochMs > time.Now().UnixMilli() {
		return fmt.Errorf("config: unique_id.epoch_ms %d is in the future", c.UniqueId.EpochMs)
	}
	if c.Pool.MinClass <= 0 || c.Pool.MaxClass <= 0 || c.Pool.MinClass > c.Pool.MaxClass {
		return fmt.Errorf("config: invalid pool class range [%d, %d]", c.Pool.MinClass, c.Pool.MaxClass)
	}
	return nil
}
