package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
// It is read-only after Load() returns and thread-safe for concurrent reads.
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Listen       ListenConfig       `yaml:"listen"`
	Database     DatabaseConfig     `yaml:"database"`
	Queue        QueueConfig        `yaml:"queue"`
	Sync         SyncConfig         `yaml:"sync"`
	Connectivity ConnectivityConfig `yaml:"connectivity"`
	Log          LogConfig          `yaml:"log"`
}

// ServerConfig describes the remote leaderboard server.
type ServerConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIToken string `yaml:"-"` // env-only, never in YAML
}

// ListenConfig contains settings for the local companion API.
type ListenConfig struct {
	Port            int      `yaml:"port"`
	ReadTimeout     Duration `yaml:"read_timeout"`
	WriteTimeout    Duration `yaml:"write_timeout"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig contains database settings.
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// QueueConfig contains queue policy settings.
type QueueConfig struct {
	// DedupWindow is how long an identical match stays blocked after
	// being queued or delivered.
	DedupWindow Duration `yaml:"dedup_window"`
	// UndoGrace keeps fresh entries out of automatic sync briefly so a
	// mis-entered match can be removed before it leaves the device.
	UndoGrace Duration `yaml:"undo_grace"`
}

// SyncConfig contains delivery and retry settings.
type SyncConfig struct {
	BackoffMin   Duration `yaml:"backoff_min"`
	BackoffMax   Duration `yaml:"backoff_max"`
	AutoInterval Duration `yaml:"auto_interval"`
}

// ConnectivityConfig contains server reachability probe settings.
type ConnectivityConfig struct {
	HealthInterval Duration `yaml:"health_interval"`
}

// LogConfig contains logging settings.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Duration is a wrapper around time.Duration that supports YAML string parsing.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (interface{}, error) {
	return time.Duration(d).String(), nil
}

// Load loads configuration with precedence: defaults → YAML file → env vars.
// Returns an immutable Config suitable for concurrent read access.
func Load() (*Config, error) {
	cfg := newDefaults()

	configPath := getEnv("PODTRACK_CONFIG_PATH", "config/podtrack.yaml")

	// Load YAML file if it exists (missing file is not an error)
	if err := loadYAMLFile(cfg, configPath); err != nil {
		return nil, err
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromFile loads configuration from a specific path.
// Used for testing and explicit path specification.
func LoadFromFile(path string) (*Config, error) {
	cfg := newDefaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// newDefaults returns a Config with all default values.
func newDefaults() *Config {
	return &Config{
		Server: ServerConfig{
			BaseURL: "http://localhost:8000",
		},
		Listen: ListenConfig{
			Port:            7474,
			ReadTimeout:     Duration(15 * time.Second),
			WriteTimeout:    Duration(15 * time.Second),
			ShutdownTimeout: Duration(10 * time.Second),
		},
		Database: DatabaseConfig{
			Path: "data/podtrack.db",
		},
		Queue: QueueConfig{
			DedupWindow: Duration(5 * time.Minute),
			UndoGrace:   Duration(5 * time.Second),
		},
		Sync: SyncConfig{
			BackoffMin:   Duration(2 * time.Second),
			BackoffMax:   Duration(2 * time.Minute),
			AutoInterval: Duration(1 * time.Minute),
		},
		Connectivity: ConnectivityConfig{
			HealthInterval: Duration(30 * time.Second),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadYAMLFile loads configuration from a YAML file if it exists.
// Missing file is not an error; we just use defaults.
func loadYAMLFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file: %w", err)
	}

	return nil
}

// applyEnvOverrides applies environment variable overrides to the config.
// Only non-empty env vars override config values.
func applyEnvOverrides(cfg *Config) {
	// Server
	if v := os.Getenv("PODTRACK_SERVER_URL"); v != "" {
		cfg.Server.BaseURL = v
	}
	if v := os.Getenv("PODTRACK_API_TOKEN"); v != "" {
		cfg.Server.APIToken = v
	}

	// Listen
	if v := os.Getenv("PODTRACK_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = port
		}
	}
	if v := os.Getenv("PODTRACK_SHUTDOWN_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Listen.ShutdownTimeout = Duration(d)
		}
	}

	// Database
	if v := os.Getenv("PODTRACK_DB_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// Queue
	if v := os.Getenv("PODTRACK_DEDUP_WINDOW"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.DedupWindow = Duration(d)
		}
	}
	if v := os.Getenv("PODTRACK_UNDO_GRACE"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Queue.UndoGrace = Duration(d)
		}
	}

	// Sync
	if v := os.Getenv("PODTRACK_BACKOFF_MIN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.BackoffMin = Duration(d)
		}
	}
	if v := os.Getenv("PODTRACK_BACKOFF_MAX"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.BackoffMax = Duration(d)
		}
	}
	if v := os.Getenv("PODTRACK_AUTO_SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.AutoInterval = Duration(d)
		}
	}

	// Connectivity
	if v := os.Getenv("PODTRACK_HEALTH_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Connectivity.HealthInterval = Duration(d)
		}
	}

	// Log
	if v := os.Getenv("PODTRACK_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("PODTRACK_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
}

// validate checks that required configuration values are set.
func (c *Config) validate() error {
	if c.Server.BaseURL == "" {
		return errors.New("server.base_url is required")
	}
	if time.Duration(c.Queue.DedupWindow) <= 0 {
		return errors.New("queue.dedup_window must be positive")
	}
	if time.Duration(c.Sync.BackoffMin) <= 0 || time.Duration(c.Sync.BackoffMax) < time.Duration(c.Sync.BackoffMin) {
		return errors.New("sync backoff range is invalid")
	}
	return nil
}

// getEnv returns the value of an environment variable or a default.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
