package config

import (
	"strings"
	"time"

	"github.com/marmos91/tcpros/internal/bytesize"
)

// DefaultConfig returns a fully-populated default configuration.
func DefaultConfig() *Config {
	cfg := &Config{Admin: AdminConfig{Enabled: true}}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills in zero-valued fields with sensible defaults.
//
// Default Strategy:
//   - Zero values (0, "", false) are replaced with defaults
//   - Explicit values are preserved
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyNodeDefaults(&cfg.Node)
	applyAdminDefaults(&cfg.Admin)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)

	if cfg.Format == "" {
		cfg.Format = "text"
	}
	if cfg.Output == "" {
		cfg.Output = "stdout"
	}
}

func applyNodeDefaults(cfg *NodeConfig) {
	if cfg.NodeListenAddr == "" {
		cfg.NodeListenAddr = defaultNodeListenAddr
	}
	if cfg.BufferCeiling == 0 {
		cfg.BufferCeiling = 4 * bytesize.MiB
	}
	if cfg.InactivityTimeout == 0 {
		cfg.InactivityTimeout = defaultInactivityTimeout
	}
	if cfg.ReconnectBackoffBase == 0 {
		cfg.ReconnectBackoffBase = defaultReconnectBackoffBase
	}
	if cfg.ReconnectBackoffMax == 0 {
		cfg.ReconnectBackoffMax = defaultReconnectBackoffMax
	}
	if cfg.PublisherQueueCapacity == 0 {
		cfg.PublisherQueueCapacity = defaultQueueCapacity
	}
	if cfg.SubscriberQueueCapacity == 0 {
		cfg.SubscriberQueueCapacity = defaultQueueCapacity
	}
	// StrictPublicationTopic default is false (preserve spec.md documented behavior).
}

func applyAdminDefaults(cfg *AdminConfig) {
	if cfg.ListenAddr == "" {
		cfg.ListenAddr = defaultAdminListenAddr
	}
}

const (
	defaultNodeListenAddr       = "127.0.0.1:0"
	defaultInactivityTimeout    = 60 * time.Second
	defaultReconnectBackoffBase = 500 * time.Millisecond
	defaultReconnectBackoffMax  = 30 * time.Second
	defaultQueueCapacity        = 16
	defaultAdminListenAddr      = "127.0.0.1:8973"
)
