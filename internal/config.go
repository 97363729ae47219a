package internal

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the engine's static, immutable configuration. For the
// hot-tunable knobs (MaxConcurrentJobs, GlobalSpeedLimit) it holds only the
// starting values: at runtime the Brain keeps the live max-concurrent value
// and the rate limiter the live speed limit, both set through the control
// surface.
type Config struct {
	DefaultConnectionsPerJob int
	MaxConnectionsPerJob     int
	MaxConcurrentJobs        int
	SegmentSizeHint          int64 // bytes
	MaxWorkerRetries         int
	BackoffBase              time.Duration
	BackoffCap               time.Duration
	BackoffJitter            float64 // fraction, e.g. 0.2 = ±20%
	ConnectTimeout            time.Duration
	IdleReadTimeout           time.Duration
	GlobalSpeedLimit          int64 // bytes/sec, 0 = unlimited, initial default only
	UserAgentList             []string

	// Logging configuration
	LogLevel    string
	EnableDebug bool
	QuietMode   bool
	LogFile     string

	// Ambient domain-stack configuration
	MetricsAddr    string // empty disables the /metrics server
	ControlAddr    string // empty disables the HTTP control plane
	ConfigFilePath string // optional idm.yaml watched via viper+fsnotify
}

// DefaultConfig returns the engine's default configuration.
func DefaultConfig() *Config {
	return &Config{
		DefaultConnectionsPerJob: 4,
		MaxConnectionsPerJob:     32,
		MaxConcurrentJobs:        4,
		SegmentSizeHint:          1 << 20, // 1 MiB, matches the planner's MinSegmentSize
		MaxWorkerRetries:         10,
		BackoffBase:              250 * time.Millisecond,
		BackoffCap:               30 * time.Second,
		BackoffJitter:            0.2,
		ConnectTimeout:           10 * time.Second,
		IdleReadTimeout:          30 * time.Second,
		GlobalSpeedLimit:         0,
		UserAgentList: []string{
			"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
			"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		},

		LogLevel:    "info",
		EnableDebug: false,
		QuietMode:   false,
		LogFile:     "",

		MetricsAddr:    "",
		ControlAddr:    "",
		ConfigFilePath: "",
	}
}

// LoadFromEnv overrides configuration from IDM_* environment variables.
func (c *Config) LoadFromEnv() {
	if v := os.Getenv("IDM_CONNECTIONS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 64 {
			c.DefaultConnectionsPerJob = n
		}
	}
	if v := os.Getenv("IDM_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.MaxConcurrentJobs = n
		}
	}
	if v := os.Getenv("IDM_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("IDM_DEBUG"); v != "" {
		c.EnableDebug = v == "true" || v == "1"
	}
	if v := os.Getenv("IDM_QUIET"); v != "" {
		c.QuietMode = v == "true" || v == "1"
	}
	if v := os.Getenv("IDM_LOG_FILE"); v != "" {
		c.LogFile = v
	}
	if v := os.Getenv("IDM_METRICS_ADDR"); v != "" {
		c.MetricsAddr = v
	}
	if v := os.Getenv("IDM_CONTROL_ADDR"); v != "" {
		c.ControlAddr = v
	}
	if v := os.Getenv("IDM_CONFIG_FILE"); v != "" {
		c.ConfigFilePath = v
	}
}

// GetEnvWithDefault returns the environment variable value, or a default.
func GetEnvWithDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// ValidateConfig validates the configuration values eagerly at startup.
func (c *Config) ValidateConfig() error {
	if c.DefaultConnectionsPerJob < 1 || c.DefaultConnectionsPerJob > c.MaxConnectionsPerJob {
		return fmt.Errorf("invalid default connections per job: %d (must be 1-%d)", c.DefaultConnectionsPerJob, c.MaxConnectionsPerJob)
	}
	if c.MaxConcurrentJobs < 1 || c.MaxConcurrentJobs > 64 {
		return fmt.Errorf("invalid max concurrent jobs: %d (must be 1-64)", c.MaxConcurrentJobs)
	}
	if c.SegmentSizeHint < 1 {
		return fmt.Errorf("invalid segment size hint: %d (must be > 0)", c.SegmentSizeHint)
	}
	if c.MaxWorkerRetries < 0 {
		return fmt.Errorf("invalid max worker retries: %d (must be >= 0)", c.MaxWorkerRetries)
	}
	if c.ConnectTimeout <= 0 || c.IdleReadTimeout <= 0 {
		return fmt.Errorf("connect and idle read timeouts must be > 0")
	}
	if len(c.UserAgentList) == 0 {
		return fmt.Errorf("user agent list cannot be empty")
	}
	return nil
}
