// Package config provides configuration loading and validation for the
// llhls client using Viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values. Exported so the CLI layer can give its
// flags the same defaults: viper ranks a bound flag above SetDefault, so a
// flag left at its own zero value would otherwise silently shadow these.
const (
	DefaultHTTPRetries   uint64        = 3
	DefaultHTTPTimeout   time.Duration = 10 * time.Second
	DefaultQuality                     = "best"
	DefaultUserAgent                   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"
	defaultCacheStaleness              = 48 * time.Hour
)

// Config holds all configuration for a single stream run.
type Config struct {
	HTTP        HTTPConfig    `mapstructure:"http"`
	Stream      StreamConfig  `mapstructure:"stream"`
	Output      OutputConfig  `mapstructure:"output"`
	Logging     LoggingConfig `mapstructure:"logging"`
	Passthrough bool          `mapstructure:"passthrough"`
}

// HTTPConfig holds the streaming HTTP engine's dial/retry/identity settings.
type HTTPConfig struct {
	ForceHTTPS bool          `mapstructure:"force_https"`
	ForceIPv4  bool          `mapstructure:"force_ipv4"`
	Retries    uint64        `mapstructure:"retries"`
	Timeout    time.Duration `mapstructure:"timeout"`
	UserAgent  string        `mapstructure:"user_agent"`
}

// StreamConfig holds channel/variant selection settings.
type StreamConfig struct {
	Channel          string `mapstructure:"channel"`
	NoLowLatency     bool   `mapstructure:"no_low_latency"`
	Codecs           string `mapstructure:"codecs"`
	Quality          string `mapstructure:"quality"`
	PlaylistCacheDir string `mapstructure:"playlist_cache_dir"`
}

// OutputConfig holds the output sink selection. Any combination of Player,
// Record, and TCPServer may be set; the control loop writes to all of them.
// Validate requires at least one unless passthrough mode is set.
type OutputConfig struct {
	Player     string `mapstructure:"player"`
	PlayerArgs string `mapstructure:"player_args"`
	Record     string `mapstructure:"record"`
	Overwrite  bool   `mapstructure:"overwrite"`
	TCPServer  string `mapstructure:"tcp_server"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, text
}

// CacheStaleness is the age at which a cached media-playlist URL is
// considered stale and evicted on startup.
const CacheStaleness = defaultCacheStaleness

// Load reads configuration from file, environment variables, and flags
// already bound into v. Environment variables are prefixed with LLHLS_ and
// use underscores for nesting, e.g. LLHLS_HTTP_RETRIES=5.
func Load(v *viper.Viper, configPath string) (*Config, error) {
	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("llhls")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME")
		v.AddConfigPath("$HOME/.config/llhls")
	}

	v.SetEnvPrefix("LLHLS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// Must be called before flag binding so that unset flags fall through to
// these values rather than viper's zero value.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("http.force_https", false)
	v.SetDefault("http.force_ipv4", false)
	v.SetDefault("http.retries", DefaultHTTPRetries)
	v.SetDefault("http.timeout", DefaultHTTPTimeout)
	v.SetDefault("http.user_agent", DefaultUserAgent)

	v.SetDefault("stream.channel", "")
	v.SetDefault("stream.no_low_latency", false)
	v.SetDefault("stream.codecs", "")
	v.SetDefault("stream.quality", DefaultQuality)
	v.SetDefault("stream.playlist_cache_dir", "")

	v.SetDefault("output.player", "")
	v.SetDefault("output.player_args", "")
	v.SetDefault("output.record", "")
	v.SetDefault("output.overwrite", false)
	v.SetDefault("output.tcp_server", "")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")

	v.SetDefault("passthrough", false)
}

// Validate checks the configuration for internal consistency. It does not
// check filesystem reachability of Player/Record paths; those surface as
// ordinary errors when the sink is opened.
func (c *Config) Validate() error {
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Stream.Quality == "" {
		return fmt.Errorf("stream.quality must not be empty")
	}

	outputs := 0
	if c.Output.Player != "" {
		outputs++
	}
	if c.Output.Record != "" {
		outputs++
	}
	if c.Output.TCPServer != "" {
		outputs++
	}
	if !c.Passthrough && outputs == 0 {
		return fmt.Errorf("at least one of output.player, output.record, or output.tcp_server is required unless passthrough is set")
	}

	return nil
}
