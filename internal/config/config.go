package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the runtime configuration of the mail engine.
type Config struct {
	ListenAddr string `mapstructure:"listen_addr"`
	LogLevel   string `mapstructure:"log_level"`
	AuthToken  string `mapstructure:"auth_token"`

	StorePath string `mapstructure:"store_path"`

	// ClientMode selects the mailbox backend: imap, gateway or mock.
	ClientMode     string `mapstructure:"client_mode"`
	GatewayBaseURL string `mapstructure:"gateway_base_url"`

	ConnectTimeout time.Duration `mapstructure:"connect_timeout"`

	Discovery DiscoveryConfig `mapstructure:"discovery"`
}

// DiscoveryConfig controls the autodiscovery cascade.
type DiscoveryConfig struct {
	PatternFallback bool   `mapstructure:"pattern_fallback"`
	ISPDBBaseURL    string `mapstructure:"ispdb_base_url"`
}

// Load reads configuration from an optional YAML file and MAILGATE_*
// environment variables. Environment values win over file values.
func Load(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("listen_addr", ":8085")
	v.SetDefault("log_level", "info")
	v.SetDefault("store_path", "data/mailgate.db")
	v.SetDefault("client_mode", "imap")
	v.SetDefault("connect_timeout", 15*time.Second)
	v.SetDefault("discovery.pattern_fallback", true)
	v.SetDefault("discovery.ispdb_base_url", "https://autoconfig.thunderbird.net/v1.1")

	v.SetEnvPrefix("MAILGATE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	switch c.ClientMode {
	case "imap", "mock":
	case "gateway":
		if c.GatewayBaseURL == "" {
			return fmt.Errorf("gateway_base_url is required in gateway mode")
		}
	default:
		return fmt.Errorf("invalid client_mode %q", c.ClientMode)
	}
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	return nil
}
