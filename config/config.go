// Package config loads and validates quince's TOML configuration, using
// a [Section]-per-concern layout.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds every transport tunable plus the ambient Logging and
// Metrics sections a complete repo carries regardless of which protocol
// features are in scope.
type Config struct {
	Streams    StreamsConfig
	Security   SecurityConfig
	Timers     TimersConfig
	Congestion CongestionConfig
	Wire       WireConfig
	Migration  MigrationConfig
	Logging    LoggingConfig
	Metrics    MetricsConfig
}

type StreamsConfig struct {
	MaxStreamsPerConnection int
}

type SecurityConfig struct {
	MaxPacketsPerKey int
	MaxTimePerKey    Duration
	ReplayWindowSize int
	ReplayStorePath  string // optional; empty disables the bbolt-backed journal
}

type TimersConfig struct {
	HandshakeTimeout  Duration
	DrainTimeout      Duration
	KeepaliveInterval Duration
}

type CongestionConfig struct {
	InitialCwndBytes      int
	InitialSsthreshBytes  int
	MSSBytes              int
	MaxCwndBytes          int
	PacingRateBytesPerSec int64
}

type WireConfig struct {
	CoalesceMTUBytes int
}

type MigrationConfig struct {
	MinInterval Duration
	MaxCount    int
}

type LoggingConfig struct {
	Disable bool
	Level   string
}

type MetricsConfig struct {
	Enable bool
}

// Duration wraps time.Duration so it can be parsed from TOML strings like
// "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns a Config populated with the transport's documented
// default values.
func Default() *Config {
	return &Config{
		Streams: StreamsConfig{
			MaxStreamsPerConnection: 32,
		},
		Security: SecurityConfig{
			MaxPacketsPerKey: 1_000_000,
			MaxTimePerKey:    Duration{3600 * time.Second},
			ReplayWindowSize: 1000,
		},
		Timers: TimersConfig{
			HandshakeTimeout:  Duration{5 * time.Second},
			DrainTimeout:      Duration{5 * time.Second},
			KeepaliveInterval: Duration{15 * time.Second},
		},
		Congestion: CongestionConfig{
			InitialCwndBytes:      1460,
			InitialSsthreshBytes:  65535,
			MSSBytes:              1460,
			MaxCwndBytes:          10 * 1024 * 1024,
			PacingRateBytesPerSec: 1_000_000_000,
		},
		Wire: WireConfig{
			CoalesceMTUBytes: 1472,
		},
		Migration: MigrationConfig{
			MinInterval: Duration{1 * time.Second},
			MaxCount:    10,
		},
		Logging: LoggingConfig{
			Disable: false,
			Level:   "INFO",
		},
		Metrics: MetricsConfig{
			Enable: true,
		},
	}
}

// Load reads a TOML document at path and overlays it on top of Default.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("config: decode %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations that would violate the transport's
// documented invariants (cwnd/ssthresh floors; positive stream/window
// counts).
func (c *Config) Validate() error {
	if c.Streams.MaxStreamsPerConnection <= 0 {
		return fmt.Errorf("config: max_streams_per_connection must be positive")
	}
	if c.Congestion.MSSBytes <= 0 {
		return fmt.Errorf("config: mss_bytes must be positive")
	}
	if c.Congestion.InitialCwndBytes < c.Congestion.MSSBytes {
		return fmt.Errorf("config: initial_cwnd_bytes must be >= mss_bytes")
	}
	if c.Congestion.InitialSsthreshBytes < c.Congestion.MSSBytes {
		return fmt.Errorf("config: initial_ssthresh_bytes must be >= mss_bytes")
	}
	if c.Congestion.MaxCwndBytes < c.Congestion.InitialCwndBytes {
		return fmt.Errorf("config: max_cwnd_bytes must be >= initial_cwnd_bytes")
	}
	if c.Wire.CoalesceMTUBytes <= 16 {
		return fmt.Errorf("config: coalesce_mtu_bytes must exceed the packet header size")
	}
	if c.Security.ReplayWindowSize <= 0 {
		return fmt.Errorf("config: replay_window_size must be positive")
	}
	if c.Security.MaxPacketsPerKey <= 0 {
		return fmt.Errorf("config: max_packets_per_key must be positive")
	}
	if c.Migration.MaxCount < 0 {
		return fmt.Errorf("config: migration_max_count must not be negative")
	}
	return nil
}
