package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for zwave-link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Controller ControllerConfig `yaml:"controller"`
	Watchdog   WatchdogConfig   `yaml:"watchdog"`
	API        APIConfig        `yaml:"api"`
	WebSocket  WebSocketConfig  `yaml:"websocket"`
	Store      StoreConfig      `yaml:"store"`
	Discovery  DiscoveryConfig  `yaml:"discovery"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// ControllerConfig contains Z-Wave JS Server connection settings.
type ControllerConfig struct {
	// Identifier is the unique identifier of the controller instance.
	Identifier string `yaml:"identifier"`

	// Name is the friendly name of the controller.
	Name string `yaml:"name"`

	// Model is the controller model name, if known.
	Model string `yaml:"model"`

	// Address is the WebSocket URL of the Z-Wave JS Server
	// (e.g., "ws://localhost:3000"). If empty, mDNS discovery is used.
	Address string `yaml:"address"`

	// ConnectTimeout is the maximum time to wait for the initial
	// connection and handshake (seconds). Default: 10.
	ConnectTimeout int `yaml:"connect_timeout"`

	// RequestTimeout is the default timeout for a single command
	// request awaiting its response (seconds). Default: 5.
	RequestTimeout int `yaml:"request_timeout"`
}

// WatchdogConfig contains connection supervision settings.
type WatchdogConfig struct {
	// Interval is the period between liveness checks (seconds). Default: 30.
	Interval int `yaml:"interval"`

	// LivenessFailures is the number of consecutive failed liveness
	// checks before the connection is declared lost. Default: 3.
	LivenessFailures int `yaml:"liveness_failures"`

	// ReconnectDelay is the constant delay between reconnection
	// attempts (seconds). Default: 5.
	ReconnectDelay int `yaml:"reconnect_delay"`

	// ReconnectMaxAttempts limits attempts per reconnection cycle.
	// After a failed cycle, the next watchdog tick starts a new one.
	// Default: 3.
	ReconnectMaxAttempts int `yaml:"reconnect_max_attempts"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Host     string           `yaml:"host"`
	Port     int              `yaml:"port"`
	Timeouts APITimeoutConfig `yaml:"timeouts"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
}

// WebSocketConfig contains event WebSocket server settings.
type WebSocketConfig struct {
	Path           string `yaml:"path"`
	MaxMessageSize int    `yaml:"max_message_size"`
	PingInterval   int    `yaml:"ping_interval"`
	PongTimeout    int    `yaml:"pong_timeout"`
}

// StoreConfig contains SQLite controller store settings.
type StoreConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// DiscoveryConfig contains mDNS discovery settings.
type DiscoveryConfig struct {
	// Enabled turns mDNS discovery on when no address is configured.
	Enabled bool `yaml:"enabled"`

	// ScanTimeout is the discovery scan window (seconds). Default: 2.
	ScanTimeout int `yaml:"scan_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: ZWAVELINK_SECTION_KEY
// For example: ZWAVELINK_CONTROLLER_ADDRESS, ZWAVELINK_API_PORT
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	// Start with defaults
	cfg := defaultConfig()

	// Read and parse YAML file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Controller: ControllerConfig{
			Identifier:     "zwave-001",
			Name:           "Z-Wave Controller",
			ConnectTimeout: 10,
			RequestTimeout: 5,
		},
		Watchdog: WatchdogConfig{
			Interval:             30,
			LivenessFailures:     3,
			ReconnectDelay:       5,
			ReconnectMaxAttempts: 3,
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 8091,
			Timeouts: APITimeoutConfig{
				Read:  30,
				Write: 30,
				Idle:  60,
			},
		},
		WebSocket: WebSocketConfig{
			Path:           "/ws",
			MaxMessageSize: 8192,
			PingInterval:   30,
			PongTimeout:    10,
		},
		Store: StoreConfig{
			Path:        "./data/zwavelink.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Discovery: DiscoveryConfig{
			Enabled:     true,
			ScanTimeout: 2,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: ZWAVELINK_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Controller
	if v := os.Getenv("ZWAVELINK_CONTROLLER_ADDRESS"); v != "" {
		cfg.Controller.Address = v
	}
	if v := os.Getenv("ZWAVELINK_CONTROLLER_IDENTIFIER"); v != "" {
		cfg.Controller.Identifier = v
	}

	// Store
	if v := os.Getenv("ZWAVELINK_STORE_PATH"); v != "" {
		cfg.Store.Path = v
	}

	// API
	if v := os.Getenv("ZWAVELINK_API_HOST"); v != "" {
		cfg.API.Host = v
	}
	if v := os.Getenv("ZWAVELINK_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}

	// Logging
	if v := os.Getenv("ZWAVELINK_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Controller validation
	if c.Controller.Identifier == "" {
		errs = append(errs, "controller.identifier is required")
	}
	if c.Controller.Address != "" {
		u, err := url.Parse(c.Controller.Address)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") {
			errs = append(errs, "controller.address must be a ws:// or wss:// URL")
		}
	} else if !c.Discovery.Enabled {
		errs = append(errs, "controller.address is required when discovery is disabled")
	}
	if c.Controller.RequestTimeout < 1 {
		errs = append(errs, "controller.request_timeout must be at least 1 second")
	}

	// Watchdog validation
	if c.Watchdog.Interval < 1 {
		errs = append(errs, "watchdog.interval must be at least 1 second")
	}
	if c.Watchdog.LivenessFailures < 1 {
		errs = append(errs, "watchdog.liveness_failures must be at least 1")
	}
	if c.Watchdog.ReconnectMaxAttempts < 1 {
		errs = append(errs, "watchdog.reconnect_max_attempts must be at least 1")
	}

	// API validation
	if c.API.Port < 1 || c.API.Port > 65535 {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	// Store validation
	if c.Store.Path == "" {
		errs = append(errs, "store.path is required")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetConnectTimeout returns the controller connect timeout as a Duration.
func (c *Config) GetConnectTimeout() time.Duration {
	return time.Duration(c.Controller.ConnectTimeout) * time.Second
}

// GetRequestTimeout returns the controller request timeout as a Duration.
func (c *Config) GetRequestTimeout() time.Duration {
	return time.Duration(c.Controller.RequestTimeout) * time.Second
}

// GetWatchdogInterval returns the watchdog check interval as a Duration.
func (c *Config) GetWatchdogInterval() time.Duration {
	return time.Duration(c.Watchdog.Interval) * time.Second
}

// GetReconnectDelay returns the delay between reconnection attempts as a Duration.
func (c *Config) GetReconnectDelay() time.Duration {
	return time.Duration(c.Watchdog.ReconnectDelay) * time.Second
}

// GetScanTimeout returns the discovery scan window as a Duration.
func (c *Config) GetScanTimeout() time.Duration {
	return time.Duration(c.Discovery.ScanTimeout) * time.Second
}

// GetReadTimeout returns the API read timeout as a Duration.
func (c *Config) GetReadTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Read) * time.Second
}

// GetWriteTimeout returns the API write timeout as a Duration.
func (c *Config) GetWriteTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Write) * time.Second
}

// GetIdleTimeout returns the API idle timeout as a Duration.
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.API.Timeouts.Idle) * time.Second
}
