// Package config loads gateway configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// Config holds all gateway configuration.
//
// Tags:
//
//	env: environment variable name
//	envDefault: default value if not set
type Config struct {
	// Server basics
	Addr       string `env:"GATEWAY_ADDR" envDefault:":8080"`
	InstanceID string `env:"INSTANCE_ID"`

	// Replay store / service discovery backing. Empty RedisURL means the
	// in-memory replay store is used and C9 service discovery is disabled.
	RedisURL string `env:"REDIS_URL"`

	// Replay store tuning
	ReplayCapacity     int           `env:"REPLAY_CAPACITY" envDefault:"100"`
	ReplayBatchSize    int           `env:"REPLAY_BATCH_SIZE" envDefault:"100"`
	ReplayBatchFlush   time.Duration `env:"REPLAY_BATCH_FLUSH_MS" envDefault:"10ms"`
	ReplayStoreTimeout time.Duration `env:"REPLAY_STORE_TIMEOUT_MS" envDefault:"200ms"`
	ReplayQueueSize    int           `env:"REPLAY_QUEUE_SIZE" envDefault:"10000"`

	// Service discovery (C9)
	ChannelTTL        time.Duration `env:"CHANNEL_TTL" envDefault:"60s"`
	InstanceTTL       time.Duration `env:"INSTANCE_TTL" envDefault:"30s"`
	HeartbeatInterval time.Duration `env:"DISCOVERY_HEARTBEAT_INTERVAL" envDefault:"10s"`
	DiscoveryTimeout  time.Duration `env:"DISCOVERY_TIMEOUT_MS" envDefault:"100ms"`

	// Connection / capacity
	ConnectionQueueSize int `env:"CONNECTION_QUEUE_SIZE" envDefault:"100"`
	MaxConnections      int `env:"MAX_CONNECTIONS" envDefault:"10000"`
	MaxGoroutines       int `env:"MAX_GOROUTINES" envDefault:"50000"`

	// Ingestion rate limiting
	MaxIngestRate int `env:"MAX_INGEST_RATE" envDefault:"1000"`

	// Admission control (container-aware)
	CPULimit           float64 `env:"CPU_LIMIT" envDefault:"1.0"`
	MemoryLimit        int64   `env:"MEMORY_LIMIT" envDefault:"536870912"`
	CPURejectThreshold float64 `env:"CPU_REJECT_THRESHOLD" envDefault:"75.0"`
	CPUPauseThreshold  float64 `env:"CPU_PAUSE_THRESHOLD" envDefault:"80.0"`

	// Background task intervals
	HeartbeatBroadcastInterval time.Duration `env:"HEARTBEAT_BROADCAST_INTERVAL" envDefault:"30s"`
	SweepInterval              time.Duration `env:"SWEEP_INTERVAL" envDefault:"30s"`
	KeepAliveInterval          time.Duration `env:"KEEPALIVE_INTERVAL" envDefault:"10s"`
	MetricsInterval            time.Duration `env:"METRICS_INTERVAL" envDefault:"15s"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Optional bundled NATS ingestion adapter
	NATSURL           string `env:"NATS_URL"`
	NATSSubjectPrefix string `env:"NATS_SUBJECT_PREFIX" envDefault:"gateway"`

	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

// Load reads configuration from an optional .env file and environment
// variables. Priority: env vars > .env file > struct defaults.
func Load(logger *zerolog.Logger) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		if logger != nil {
			logger.Info().Msg("no .env file found, using environment variables only")
		}
	} else if logger != nil {
		logger.Info().Msg("loaded configuration from .env file")
	}

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Addr == "" {
		return fmt.Errorf("GATEWAY_ADDR is required")
	}
	if c.MaxConnections < 1 {
		return fmt.Errorf("MAX_CONNECTIONS must be > 0, got %d", c.MaxConnections)
	}
	if c.ReplayCapacity < 1 {
		return fmt.Errorf("REPLAY_CAPACITY must be > 0, got %d", c.ReplayCapacity)
	}
	if c.ConnectionQueueSize < 1 {
		return fmt.Errorf("CONNECTION_QUEUE_SIZE must be > 0, got %d", c.ConnectionQueueSize)
	}
	if c.CPURejectThreshold < 0 || c.CPURejectThreshold > 100 {
		return fmt.Errorf("CPU_REJECT_THRESHOLD must be 0-100, got %.1f", c.CPURejectThreshold)
	}
	if c.CPUPauseThreshold < 0 || c.CPUPauseThreshold > 100 {
		return fmt.Errorf("CPU_PAUSE_THRESHOLD must be 0-100, got %.1f", c.CPUPauseThreshold)
	}
	if c.CPUPauseThreshold < c.CPURejectThreshold {
		return fmt.Errorf("CPU_PAUSE_THRESHOLD (%.1f) must be >= CPU_REJECT_THRESHOLD (%.1f)",
			c.CPUPauseThreshold, c.CPURejectThreshold)
	}

	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("LOG_LEVEL must be one of: debug, info, warn, error (got %s)", c.LogLevel)
	}
	validLogFormats := map[string]bool{"json": true, "pretty": true}
	if !validLogFormats[c.LogFormat] {
		return fmt.Errorf("LOG_FORMAT must be one of: json, pretty (got %s)", c.LogFormat)
	}

	return nil
}

// UsesRemoteStore reports whether Redis-backed replay + discovery should be
// wired instead of the in-memory single-instance variant.
func (c *Config) UsesRemoteStore() bool {
	return c.RedisURL != ""
}

// Print writes a human-readable configuration summary to stdout.
func (c *Config) Print() {
	fmt.Println("=== Gateway Configuration ===")
	fmt.Printf("Environment:      %s\n", c.Environment)
	fmt.Printf("Instance ID:      %s\n", c.InstanceID)
	fmt.Printf("Address:          %s\n", c.Addr)
	fmt.Printf("Redis URL:        %s\n", maskEmpty(c.RedisURL))
	fmt.Println("\n=== Replay Store ===")
	fmt.Printf("Capacity:         %d\n", c.ReplayCapacity)
	fmt.Printf("Batch Size:       %d\n", c.ReplayBatchSize)
	fmt.Printf("Batch Flush:      %s\n", c.ReplayBatchFlush)
	fmt.Println("\n=== Capacity ===")
	fmt.Printf("Max Connections:  %d\n", c.MaxConnections)
	fmt.Printf("Max Goroutines:   %d\n", c.MaxGoroutines)
	fmt.Printf("Queue Size:       %d\n", c.ConnectionQueueSize)
	fmt.Println("\n=== Safety Thresholds ===")
	fmt.Printf("CPU Reject:       %.1f%%\n", c.CPURejectThreshold)
	fmt.Printf("CPU Pause:        %.1f%%\n", c.CPUPauseThreshold)
	fmt.Println("\n=== Logging ===")
	fmt.Printf("Level:            %s\n", c.LogLevel)
	fmt.Printf("Format:           %s\n", c.LogFormat)
	fmt.Println("==============================")
}

// LogConfig writes the same summary through a structured logger.
func (c *Config) LogConfig(logger zerolog.Logger) {
	logger.Info().
		Str("environment", c.Environment).
		Str("instance_id", c.InstanceID).
		Str("addr", c.Addr).
		Bool("remote_store", c.UsesRemoteStore()).
		Int("replay_capacity", c.ReplayCapacity).
		Int("max_connections", c.MaxConnections).
		Int("max_goroutines", c.MaxGoroutines).
		Float64("cpu_reject_threshold", c.CPURejectThreshold).
		Float64("cpu_pause_threshold", c.CPUPauseThreshold).
		Str("log_level", c.LogLevel).
		Str("log_format", c.LogFormat).
		Msg("gateway configuration loaded")
}

func maskEmpty(s string) string {
	if s == "" {
		return "(unset)"
	}
	return s
}
