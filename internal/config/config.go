// Package config provides configuration management for tambayan using Viper.
// It supports configuration from files, environment variables, and defaults.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Default configuration values.
const (
	defaultServerPort      = 8080
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultUpstreamTimeout = 15 * time.Second
	defaultRememberTTL     = time.Hour
	defaultRelayTimeout    = 2 * time.Minute
	defaultAutoplayDelay   = 500 * time.Millisecond
	defaultFallbackDelay   = time.Second
	defaultMaxRecoveries   = 3

	DefaultUpstreamBaseURL = "https://consumetapi-roan.vercel.app/anime/animepahe"
	DefaultAnimeID         = "df337ebc-7f73-0f3b-516d-6ebd5808590d"
	DefaultEpisodeID       = "9a7d825bc23c3872aa672bf9230ba4ddd1778b90e16c13111041e4831f4ee386"

	DefaultRelayPath           = "/api/proxy"
	DefaultRelayUserAgent      = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36"
	DefaultRelayReferer        = "https://kwik.si/"
	DefaultRelayOrigin         = "https://kwik.si"
	DefaultRelayCacheControl   = "public, max-age=3600"
	DefaultManifestContentType = "application/vnd.apple.mpegurl"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Upstream UpstreamConfig `mapstructure:"upstream"`
	Relay    RelayConfig    `mapstructure:"relay"`
	Playback PlaybackConfig `mapstructure:"playback"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	// PublicURL is the externally reachable base URL of this server.
	// Empty means derive it from host and port.
	PublicURL string `mapstructure:"public_url"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level          string   `mapstructure:"level"`  // trace, debug, info, warn, error
	Format         string   `mapstructure:"format"` // json, text
	AddSource      bool     `mapstructure:"add_source"`
	TimeFormat     string   `mapstructure:"time_format"`
	RequestLogging bool     `mapstructure:"request_logging"`
	RedactFields   []string `mapstructure:"redact_fields"`
}

// UpstreamConfig describes the episode source API.
type UpstreamConfig struct {
	BaseURL   string `mapstructure:"base_url"`
	AnimeID   string `mapstructure:"anime_id"`
	EpisodeID string `mapstructure:"episode_id"`
	// Endpoint, when set, is the single confirmed URL to call instead of
	// probing the candidate shapes.
	Endpoint string        `mapstructure:"endpoint"`
	Timeout  time.Duration `mapstructure:"timeout"`
	// RememberEndpoint is how long a confirmed candidate shape is tried first.
	RememberEndpoint time.Duration `mapstructure:"remember_endpoint"`
}

// RelayConfig holds relay endpoint configuration.
type RelayConfig struct {
	Path                string         `mapstructure:"path"`
	UserAgent           string         `mapstructure:"user_agent"`
	Referer             string         `mapstructure:"referer"`
	Origin              string         `mapstructure:"origin"`
	Timeout             time.Duration  `mapstructure:"timeout"`
	RequestsPerSecond   int            `mapstructure:"requests_per_second"` // 0 = unlimited
	CacheControl        string         `mapstructure:"cache_control"`
	ManifestContentType string         `mapstructure:"manifest_content_type"`
	Profiles            []RelayProfile `mapstructure:"profiles"`
}

// RelayProfile overrides the referrer pair for one upstream provider.
// Host matches the upstream host or any of its subdomains.
type RelayProfile struct {
	Host    string `mapstructure:"host"`
	Referer string `mapstructure:"referer"`
	Origin  string `mapstructure:"origin"`
}

// PlaybackConfig holds playback controller configuration.
type PlaybackConfig struct {
	Autoplay        bool          `mapstructure:"autoplay"`
	AutoplayDelay   time.Duration `mapstructure:"autoplay_delay"`
	FallbackDelay   time.Duration `mapstructure:"fallback_delay"`
	NativeHLS       bool          `mapstructure:"native_hls"`
	EngineEnabled   bool          `mapstructure:"engine_enabled"`
	SupportedCodecs []string      `mapstructure:"supported_codecs"`
	MaxRecoveries   int           `mapstructure:"max_recoveries"`
	RelayAll        bool          `mapstructure:"relay_all"`
	RelayHosts      []string      `mapstructure:"relay_hosts"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Environment variables are prefixed with TAMBAYAN_ and use underscores for nesting.
// Example: TAMBAYAN_SERVER_PORT=8080.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/tambayan")
		v.AddConfigPath("/etc/tambayan")
	}

	v.SetEnvPrefix("TAMBAYAN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Read config file (ignore if not found)
	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
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
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", 0) // relay responses are long-lived streams
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})
	v.SetDefault("server.public_url", "")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)
	v.SetDefault("logging.time_format", time.RFC3339)
	v.SetDefault("logging.request_logging", true)
	v.SetDefault("logging.redact_fields", []string{"watchsb", "authorization", "cookie"})

	// Upstream defaults
	v.SetDefault("upstream.base_url", DefaultUpstreamBaseURL)
	v.SetDefault("upstream.anime_id", DefaultAnimeID)
	v.SetDefault("upstream.episode_id", DefaultEpisodeID)
	v.SetDefault("upstream.endpoint", "")
	v.SetDefault("upstream.timeout", defaultUpstreamTimeout)
	v.SetDefault("upstream.remember_endpoint", defaultRememberTTL)

	// Relay defaults
	v.SetDefault("relay.path", DefaultRelayPath)
	v.SetDefault("relay.user_agent", DefaultRelayUserAgent)
	v.SetDefault("relay.referer", DefaultRelayReferer)
	v.SetDefault("relay.origin", DefaultRelayOrigin)
	v.SetDefault("relay.timeout", defaultRelayTimeout)
	v.SetDefault("relay.requests_per_second", 0)
	v.SetDefault("relay.cache_control", DefaultRelayCacheControl)
	v.SetDefault("relay.manifest_content_type", DefaultManifestContentType)

	// Playback defaults
	v.SetDefault("playback.autoplay", true)
	v.SetDefault("playback.autoplay_delay", defaultAutoplayDelay)
	v.SetDefault("playback.fallback_delay", defaultFallbackDelay)
	v.SetDefault("playback.native_hls", false)
	v.SetDefault("playback.engine_enabled", true)
	v.SetDefault("playback.supported_codecs", []string{"h264", "h265", "aac", "opus"})
	v.SetDefault("playback.max_recoveries", defaultMaxRecoveries)
	v.SetDefault("playback.relay_all", false)
	v.SetDefault("playback.relay_hosts", []string{"padorupado.ru"})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}
	if c.Server.PublicURL != "" {
		if err := validateAbsoluteURL(c.Server.PublicURL); err != nil {
			return fmt.Errorf("server.public_url: %w", err)
		}
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Upstream.Endpoint == "" {
		if err := validateAbsoluteURL(c.Upstream.BaseURL); err != nil {
			return fmt.Errorf("upstream.base_url: %w", err)
		}
		if c.Upstream.AnimeID == "" || c.Upstream.EpisodeID == "" {
			return fmt.Errorf("upstream.anime_id and upstream.episode_id are required")
		}
	} else if err := validateAbsoluteURL(c.Upstream.Endpoint); err != nil {
		return fmt.Errorf("upstream.endpoint: %w", err)
	}
	if c.Upstream.Timeout <= 0 {
		return fmt.Errorf("upstream.timeout must be positive")
	}
	if c.Upstream.RememberEndpoint < 0 {
		return fmt.Errorf("upstream.remember_endpoint must not be negative")
	}

	if !strings.HasPrefix(c.Relay.Path, "/") {
		return fmt.Errorf("relay.path must start with /")
	}
	if c.Relay.Timeout <= 0 {
		return fmt.Errorf("relay.timeout must be positive")
	}
	if c.Relay.RequestsPerSecond < 0 {
		return fmt.Errorf("relay.requests_per_second must not be negative")
	}
	if c.Relay.ManifestContentType == "" {
		return fmt.Errorf("relay.manifest_content_type is required")
	}

	if c.Playback.AutoplayDelay < 0 {
		return fmt.Errorf("playback.autoplay_delay must not be negative")
	}
	if c.Playback.FallbackDelay < 0 {
		return fmt.Errorf("playback.fallback_delay must not be negative")
	}
	if c.Playback.MaxRecoveries < 0 {
		return fmt.Errorf("playback.max_recoveries must not be negative")
	}

	return nil
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// BaseURL returns the URL clients use to reach this server.
func (c *ServerConfig) BaseURL() string {
	if c.PublicURL != "" {
		return strings.TrimSuffix(c.PublicURL, "/")
	}
	host := c.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// ProfileFor returns the referrer pair for the given upstream host.
// The profile with the longest matching host wins; otherwise the
// default Referer and Origin apply.
func (c *RelayConfig) ProfileFor(host string) RelayProfile {
	host = strings.ToLower(host)
	best := -1
	for i, p := range c.Profiles {
		suffix := strings.ToLower(p.Host)
		if suffix == "" || (host != suffix && !strings.HasSuffix(host, "."+suffix)) {
			continue
		}
		if best < 0 || len(suffix) > len(c.Profiles[best].Host) {
			best = i
		}
	}
	if best < 0 {
		return RelayProfile{Host: host, Referer: c.Referer, Origin: c.Origin}
	}
	p := c.Profiles[best]
	if p.Referer == "" {
		p.Referer = c.Referer
	}
	if p.Origin == "" {
		p.Origin = c.Origin
	}
	return p
}

func validateAbsoluteURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("must be an absolute http(s) URL")
	}
	if u.Host == "" {
		return fmt.Errorf("missing host")
	}
	return nil
}
