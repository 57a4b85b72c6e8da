package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/oshokin/alarmd/internal/logger"
)

// Config holds the settings shared by alarmd and alarmctl.
type Config struct {
	// Pool sizes the worker pool that runs fired alarms and submitted tasks.
	Pool PoolConfig `yaml:"pool"`
	// Alarms tunes the alarm scheduler.
	Alarms AlarmConfig `yaml:"alarms"`
	// Locks configures the lock manager.
	Locks LockConfig `yaml:"locks"`
	// Admin is the gRPC admin endpoint.
	Admin AdminConfig `yaml:"admin"`
	// Metrics is the Prometheus endpoint.
	Metrics MetricsConfig `yaml:"metrics"`
	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level"`
	// Timeout bounds RPC calls and graceful shutdown.
	Timeout time.Duration `yaml:"timeout"`
}

// PoolConfig sizes the worker pool.
type PoolConfig struct {
	Name              string        `yaml:"name"`
	MinSize           int           `yaml:"min_size"`
	MaxSize           int           `yaml:"max_size"`
	GrowAsNeeded      bool          `yaml:"grow_as_needed"`
	KeepAlive         time.Duration `yaml:"keep_alive"`
	RequestBufferSize int           `yaml:"request_buffer_size"`
}

// AlarmConfig tunes the alarm scheduler.
type AlarmConfig struct {
	// MaxDeferral bounds how late a deferrable alarm may fire while idle.
	// Zero selects the default; a negative value disables deferral.
	MaxDeferral time.Duration `yaml:"max_deferral"`
	// RedispatchInterval is the pause before retrying alarms the pool refused.
	RedispatchInterval time.Duration `yaml:"redispatch_interval"`
}

// LockConfig configures the lock manager.
type LockConfig struct {
	// EnqueueDir holds per-resource flock files. Empty disables cross-process enqueueing.
	EnqueueDir string `yaml:"enqueue_dir"`
}

// AdminConfig is the gRPC admin endpoint.
type AdminConfig struct {
	ListenAddress string `yaml:"listen_address"`
}

// MetricsConfig is the Prometheus endpoint.
type MetricsConfig struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

const (
	// DefaultConfigFilename is the default settings file.
	DefaultConfigFilename = "alarmd.yaml"

	// DefaultPoolName names the worker pool in logs and metrics.
	DefaultPoolName = "alarmd"
	// DefaultPoolMaxSize is the worker limit when none is set.
	DefaultPoolMaxSize = 10
	// DefaultKeepAlive is how long a surplus worker idles before exiting.
	DefaultKeepAlive = 60 * time.Second
	// DefaultRequestBufferSize is the number of tasks the pool buffers.
	DefaultRequestBufferSize = 1024

	// DefaultMaxDeferral bounds deferrable alarm lateness.
	DefaultMaxDeferral = time.Second
	// DefaultRedispatchInterval is the retry pause for refused alarms.
	DefaultRedispatchInterval = 10 * time.Millisecond

	// DefaultAdminAddress is the gRPC admin listen address.
	DefaultAdminAddress = "127.0.0.1:7070"
	// DefaultMetricsAddress is the Prometheus listen address.
	DefaultMetricsAddress = "127.0.0.1:9090"

	// DefaultLogLevel is used when log_level is empty.
	DefaultLogLevel = "info"

	// DefaultTimeout is the default duration for network operations.
	DefaultTimeout = 5 * time.Second

	// DefaultFilePermissions is the default file permission for config files.
	DefaultFilePermissions = 0o600
)

var (
	// errConfigIsNotSet is returned when a nil configuration is provided.
	errConfigIsNotSet = errors.New("configuration is not set")
	// errInvalidPoolBounds is returned when pool sizes are inconsistent.
	errInvalidPoolBounds = errors.New("pool sizes must satisfy 0 <= min_size <= max_size")
	// errNegativeBuffer is returned for a negative request buffer size.
	errNegativeBuffer = errors.New("request_buffer_size must not be negative")
	// errInvalidLogLevel is returned for an unknown log level.
	errInvalidLogLevel = errors.New("unknown log level")
)

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := new(Config)

	// Validate only fills defaults here.
	_ = Validate(cfg)

	return cfg
}

// Load reads configuration from the provided path and validates it.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultConfigFilename
	}

	contents, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal settings: %w", err)
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Default(), nil
	}

	return cfg, err
}

// Save writes cfg to the provided path.
func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	if path == "" {
		path = DefaultConfigFilename
	}

	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	if err := os.WriteFile(filepath.Clean(path), data, DefaultFilePermissions); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// Validate fills defaults and checks the settings.
//
//nolint:cyclop // One branch per setting.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errConfigIsNotSet
	}

	pool := &cfg.Pool
	if pool.Name == "" {
		pool.Name = DefaultPoolName
	}

	if pool.MaxSize == 0 {
		pool.MaxSize = max(DefaultPoolMaxSize, pool.MinSize)
	}

	if pool.MinSize < 0 || pool.MaxSize < 1 || pool.MinSize > pool.MaxSize {
		return fmt.Errorf("%w: min_size=%d max_size=%d", errInvalidPoolBounds, pool.MinSize, pool.MaxSize)
	}

	if pool.KeepAlive == 0 {
		pool.KeepAlive = DefaultKeepAlive
	}

	if pool.RequestBufferSize < 0 {
		return errNegativeBuffer
	}

	if pool.RequestBufferSize == 0 {
		pool.RequestBufferSize = DefaultRequestBufferSize
	}

	if cfg.Alarms.MaxDeferral == 0 {
		cfg.Alarms.MaxDeferral = DefaultMaxDeferral
	}

	if cfg.Alarms.RedispatchInterval <= 0 {
		cfg.Alarms.RedispatchInterval = DefaultRedispatchInterval
	}

	if cfg.Admin.ListenAddress == "" {
		cfg.Admin.ListenAddress = DefaultAdminAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Admin.ListenAddress); err != nil {
		return fmt.Errorf("invalid admin listen address: %w", err)
	}

	if cfg.Metrics.ListenAddress == "" {
		cfg.Metrics.ListenAddress = DefaultMetricsAddress
	}

	if _, err := net.ResolveTCPAddr("tcp", cfg.Metrics.ListenAddress); err != nil {
		return fmt.Errorf("invalid metrics listen address: %w", err)
	}

	if cfg.LogLevel == "" {
		cfg.LogLevel = DefaultLogLevel
	}

	if _, ok := logger.ParseLogLevel(cfg.LogLevel); !ok {
		return fmt.Errorf("%w: %q", errInvalidLogLevel, cfg.LogLevel)
	}

	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	return nil
}
