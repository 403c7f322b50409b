// Package config loads and validates tcprosd configuration.
//
// Configuration sources (in order of precedence):
//  1. Environment variables (TCPROS_*)
//  2. Configuration file (YAML)
//  3. Default values
//
// An environment variable overrides only a key that the configuration file
// sets (or admin.enabled); when no file is found, Load returns the defaults
// and does not consult the environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/marmos91/tcpros/internal/bytesize"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

// Config is the top-level tcprosd configuration.
type Config struct {
	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`

	// Node controls connection-engine tunables: buffer ceilings, timeouts,
	// queue capacities, and backoff.
	Node NodeConfig `mapstructure:"node" yaml:"node"`

	// Admin controls the optional HTTP admin/metrics surface.
	Admin AdminConfig `mapstructure:"admin" yaml:"admin"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level to output.
	// Valid values: DEBUG, INFO, WARN, ERROR (case-insensitive, normalized to uppercase)
	Level string `mapstructure:"level" validate:"required,oneof=DEBUG INFO WARN ERROR debug info warn error" yaml:"level"`

	// Format is the log output encoding: "text" or "json".
	Format string `mapstructure:"format" validate:"required,oneof=text json" yaml:"format"`

	// Output is "stdout", "stderr", or a file path.
	Output string `mapstructure:"output" yaml:"output"`
}

// NodeConfig controls the connection engine's resource limits and timing.
type NodeConfig struct {
	// NodeListenAddr is the "host:port" the node's shared topic/service
	// listener binds. Default: 127.0.0.1:0 (OS-assigned port).
	NodeListenAddr string `mapstructure:"listen_addr" validate:"required" yaml:"listen_addr"`

	// BufferCeiling is the largest inbound header block, payload frame, or
	// service response body a connection accepts off the wire before it is
	// torn down with a fatal framing error; outgoing frames are not checked. Accepts human-readable sizes ("1Mi", "64Ki").
	// Default: 4Mi
	BufferCeiling bytesize.ByteSize `mapstructure:"buffer_ceiling" validate:"required" yaml:"buffer_ceiling"`

	// InactivityTimeout is how long a connection may sit in a READING_* state
	// with no forward progress before it is torn down with CONN_TIMEOUT.
	// Default: 60s
	InactivityTimeout time.Duration `mapstructure:"inactivity_timeout" validate:"required,gt=0" yaml:"inactivity_timeout"`

	// ReconnectBackoffBase is the initial delay before a client-side
	// connection (subscriber or service caller) retries a failed dial.
	// Default: 500ms
	ReconnectBackoffBase time.Duration `mapstructure:"reconnect_backoff_base" validate:"required,gt=0" yaml:"reconnect_backoff_base"`

	// ReconnectBackoffMax caps the exponential backoff delay.
	// Default: 30s
	ReconnectBackoffMax time.Duration `mapstructure:"reconnect_backoff_max" validate:"required,gtefield=ReconnectBackoffBase" yaml:"reconnect_backoff_max"`

	// PublisherQueueCapacity is the default bounded queue depth for a
	// publisher's outgoing message queue.
	// Default: 16
	PublisherQueueCapacity int `mapstructure:"publisher_queue_capacity" validate:"required,gt=0" yaml:"publisher_queue_capacity"`

	// SubscriberQueueCapacity is the default bounded delivery queue depth
	// for a subscriber's inbound payloads.
	// Default: 16
	SubscriberQueueCapacity int `mapstructure:"subscriber_queue_capacity" validate:"required,gt=0" yaml:"subscriber_queue_capacity"`

	// StrictPublicationTopic, when true, makes the publication handshake
	// (subscriber side) additionally require the peer's `topic` header,
	// when present, to match the subscriber's configured topic name.
	// See spec.md §9 open question 1; default false preserves the
	// documented (type, md5sum)-only check.
	StrictPublicationTopic bool `mapstructure:"strict_publication_topic" yaml:"strict_publication_topic"`
}

// AdminConfig controls the optional HTTP admin/metrics surface.
type AdminConfig struct {
	// Enabled turns the admin HTTP server on. Default: true
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// ListenAddr is the admin HTTP server's listen address.
	// Default: 127.0.0.1:8973
	ListenAddr string `mapstructure:"listen_addr" validate:"required_if=Enabled true" yaml:"listen_addr"`
}

// Load loads configuration from file, environment, and defaults.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	found, err := readConfigFile(v)
	if err != nil {
		return nil, err
	}

	if !found {
		cfg := DefaultConfig()
		return cfg, nil
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate runs struct-tag validation over the loaded configuration.
func Validate(cfg *Config) error {
	v := validator.New()
	if err := v.Struct(cfg); err != nil {
		return err
	}
	if cfg.Node.ReconnectBackoffMax < cfg.Node.ReconnectBackoffBase {
		return fmt.Errorf("node.reconnect_backoff_max (%s) must be >= node.reconnect_backoff_base (%s)",
			cfg.Node.ReconnectBackoffMax, cfg.Node.ReconnectBackoffBase)
	}
	return nil
}

// SaveConfig saves the configuration to the specified file path in YAML format.
func SaveConfig(cfg *Config, path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// setupViper configures viper with environment variable and config file settings.
func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix("TCPROS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// admin.enabled defaults to true. Registered as a viper default rather
	// than zero-valued in ApplyDefaults so an explicit `enabled: false` in
	// the config file is distinguishable from an absent key.
	v.SetDefault("admin.enabled", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		configDir := getConfigDir()
		v.AddConfigPath(configDir)
		v.SetConfigName("config")
		v.SetConfigType("yaml")
	}
}

// readConfigFile reads the configuration file if it exists.
// Returns (fileFound, error).
func readConfigFile(v *viper.Viper) (bool, error) {
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return false, nil
		}
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to read config file: %w", err)
	}
	return true, nil
}

// configDecodeHooks returns a combined decode hook for ByteSize and time.Duration.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		case float64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}

// getConfigDir returns the configuration directory path, honoring XDG_CONFIG_HOME.
func getConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "tcprosd")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".config", "tcprosd")
}

// GetDefaultConfigPath returns the default configuration file path.
func GetDefaultConfigPath() string {
	return filepath.Join(getConfigDir(), "config.yaml")
}

// DefaultConfigExists checks if a config file exists at the default location.
func DefaultConfigExists() bool {
	_, err := os.Stat(GetDefaultConfigPath())
	return err == nil
}

// GetConfigDir returns the configuration directory path (exposed for the init command).
func GetConfigDir() string {
	return getConfigDir()
}
