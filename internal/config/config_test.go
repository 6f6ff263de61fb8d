package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validTestConfig() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8080},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Upstream: UpstreamConfig{
			BaseURL:   DefaultUpstreamBaseURL,
			AnimeID:   DefaultAnimeID,
			EpisodeID: DefaultEpisodeID,
			Timeout:   15 * time.Second,
		},
		Relay: RelayConfig{
			Path:                DefaultRelayPath,
			Referer:             DefaultRelayReferer,
			Origin:              DefaultRelayOrigin,
			Timeout:             time.Minute,
			ManifestContentType: DefaultManifestContentType,
		},
		Playback: PlaybackConfig{
			AutoplayDelay: 500 * time.Millisecond,
			FallbackDelay: time.Second,
			MaxRecoveries: 3,
		},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	require.NotNil(t, cfg)

	// Server defaults
	assert.Equal(t, "0.0.0.0", cfg.Server.Host)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, time.Duration(0), cfg.Server.WriteTimeout)

	// Logging defaults
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.Equal(t, "json", cfg.Logging.Format)
	assert.True(t, cfg.Logging.RequestLogging)
	assert.Contains(t, cfg.Logging.RedactFields, "watchsb")

	// Upstream defaults
	assert.Equal(t, DefaultUpstreamBaseURL, cfg.Upstream.BaseURL)
	assert.Equal(t, DefaultAnimeID, cfg.Upstream.AnimeID)
	assert.Equal(t, DefaultEpisodeID, cfg.Upstream.EpisodeID)
	assert.Empty(t, cfg.Upstream.Endpoint)
	assert.Equal(t, time.Hour, cfg.Upstream.RememberEndpoint)

	// Relay defaults
	assert.Equal(t, "/api/proxy", cfg.Relay.Path)
	assert.Equal(t, DefaultRelayUserAgent, cfg.Relay.UserAgent)
	assert.Equal(t, "https://kwik.si/", cfg.Relay.Referer)
	assert.Equal(t, "https://kwik.si", cfg.Relay.Origin)
	assert.Equal(t, "public, max-age=3600", cfg.Relay.CacheControl)
	assert.Equal(t, "application/vnd.apple.mpegurl", cfg.Relay.ManifestContentType)
	assert.Zero(t, cfg.Relay.RequestsPerSecond)

	// Playback defaults
	assert.True(t, cfg.Playback.Autoplay)
	assert.Equal(t, 500*time.Millisecond, cfg.Playback.AutoplayDelay)
	assert.Equal(t, time.Second, cfg.Playback.FallbackDelay)
	assert.False(t, cfg.Playback.NativeHLS)
	assert.True(t, cfg.Playback.EngineEnabled)
	assert.ElementsMatch(t, []string{"h264", "h265", "aac", "opus"}, cfg.Playback.SupportedCodecs)
	assert.Equal(t, []string{"padorupado.ru"}, cfg.Playback.RelayHosts)
}

func TestLoad_FromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  host: "127.0.0.1"
  port: 9090
  public_url: "https://tambayan.example.com/"

logging:
  level: "debug"
  format: "text"

upstream:
  endpoint: "https://api.example.com/anime/animepahe/watch?episodeId=a/b"

relay:
  referer: "https://example.org/"
  requests_per_second: 20
  profiles:
    - host: "cdn.example.net"
      referer: "https://player.example.net/"
      origin: "https://player.example.net"

playback:
  fallback_delay: 250ms
  supported_codecs: ["h264"]
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1", cfg.Server.Host)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "https://tambayan.example.com", cfg.Server.BaseURL())
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "text", cfg.Logging.Format)
	assert.Equal(t, "https://api.example.com/anime/animepahe/watch?episodeId=a/b", cfg.Upstream.Endpoint)
	assert.Equal(t, "https://example.org/", cfg.Relay.Referer)
	assert.Equal(t, 20, cfg.Relay.RequestsPerSecond)
	require.Len(t, cfg.Relay.Profiles, 1)
	assert.Equal(t, "cdn.example.net", cfg.Relay.Profiles[0].Host)
	assert.Equal(t, 250*time.Millisecond, cfg.Playback.FallbackDelay)
	assert.Equal(t, []string{"h264"}, cfg.Playback.SupportedCodecs)
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("TAMBAYAN_SERVER_PORT", "3000")
	t.Setenv("TAMBAYAN_LOGGING_LEVEL", "warn")
	t.Setenv("TAMBAYAN_UPSTREAM_EPISODE_ID", "episode-2")
	t.Setenv("TAMBAYAN_PLAYBACK_AUTOPLAY", "false")

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, 3000, cfg.Server.Port)
	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "episode-2", cfg.Upstream.EpisodeID)
	assert.False(t, cfg.Playback.Autoplay)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
server:
  port: 8080
relay:
  path: "/relay"
`
	require.NoError(t, os.WriteFile(configPath, []byte(configContent), 0o600))

	t.Setenv("TAMBAYAN_SERVER_PORT", "9000")

	cfg, err := Load(configPath)
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "/relay", cfg.Relay.Path)
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	invalidContent := `
server:
  port: "not a number"
  invalid yaml structure
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidContent), 0o600))

	_, err := Load(configPath)
	assert.Error(t, err)
}

func TestLoad_NonExistentFile(t *testing.T) {
	_, err := Load("/nonexistent/path/config.yaml")
	assert.Error(t, err)
}

func TestValidate_ValidConfig(t *testing.T) {
	assert.NoError(t, validTestConfig().Validate())
}

func TestValidate_Invalid(t *testing.T) {
	tests := []struct {
		name        string
		modify      func(*Config)
		errContains string
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"port too high", func(c *Config) { c.Server.Port = 70000 }, "server.port"},
		{"relative public url", func(c *Config) { c.Server.PublicURL = "/tambayan" }, "server.public_url"},
		{"bad log level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
		{"relative base url", func(c *Config) { c.Upstream.BaseURL = "consumet/anime" }, "upstream.base_url"},
		{"missing anime id", func(c *Config) { c.Upstream.AnimeID = "" }, "upstream.anime_id"},
		{"bad endpoint", func(c *Config) { c.Upstream.Endpoint = "ftp://example.com/x" }, "upstream.endpoint"},
		{"zero upstream timeout", func(c *Config) { c.Upstream.Timeout = 0 }, "upstream.timeout"},
		{"negative remember ttl", func(c *Config) { c.Upstream.RememberEndpoint = -time.Second }, "upstream.remember_endpoint"},
		{"relay path without slash", func(c *Config) { c.Relay.Path = "api/proxy" }, "relay.path"},
		{"zero relay timeout", func(c *Config) { c.Relay.Timeout = 0 }, "relay.timeout"},
		{"negative rate", func(c *Config) { c.Relay.RequestsPerSecond = -1 }, "relay.requests_per_second"},
		{"empty manifest type", func(c *Config) { c.Relay.ManifestContentType = "" }, "relay.manifest_content_type"},
		{"negative fallback delay", func(c *Config) { c.Playback.FallbackDelay = -time.Second }, "playback.fallback_delay"},
		{"negative recoveries", func(c *Config) { c.Playback.MaxRecoveries = -1 }, "playback.max_recoveries"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validTestConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errContains)
		})
	}
}

func TestValidate_EndpointSkipsCandidateFields(t *testing.T) {
	cfg := validTestConfig()
	cfg.Upstream.Endpoint = "https://api.example.com/watch/a/b"
	cfg.Upstream.BaseURL = ""
	cfg.Upstream.AnimeID = ""
	assert.NoError(t, cfg.Validate())
}

func TestServerConfig_Address(t *testing.T) {
	tests := []struct {
		name     string
		host     string
		port     int
		expected string
	}{
		{"localhost", "127.0.0.1", 8080, "127.0.0.1:8080"},
		{"all interfaces", "0.0.0.0", 3000, "0.0.0.0:3000"},
		{"hostname", "example.com", 443, "example.com:443"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &ServerConfig{Host: tt.host, Port: tt.port}
			assert.Equal(t, tt.expected, cfg.Address())
		})
	}
}

func TestServerConfig_BaseURL(t *testing.T) {
	tests := []struct {
		name     string
		cfg      ServerConfig
		expected string
	}{
		{"wildcard host", ServerConfig{Host: "0.0.0.0", Port: 8080}, "http://127.0.0.1:8080"},
		{"empty host", ServerConfig{Port: 9000}, "http://127.0.0.1:9000"},
		{"named host", ServerConfig{Host: "media.lan", Port: 80}, "http://media.lan:80"},
		{"public url wins", ServerConfig{Host: "0.0.0.0", Port: 8080, PublicURL: "https://t.example.com/"}, "https://t.example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.cfg.BaseURL())
		})
	}
}

func TestRelayConfig_ProfileFor(t *testing.T) {
	cfg := &RelayConfig{
		Referer: DefaultRelayReferer,
		Origin:  DefaultRelayOrigin,
		Profiles: []RelayProfile{
			{Host: "example.net", Referer: "https://example.net/"},
			{Host: "cdn.example.net", Referer: "https://player.example.net/", Origin: "https://player.example.net"},
		},
	}

	tests := []struct {
		name    string
		host    string
		referer string
		origin  string
	}{
		{"no profile", "padorupado.ru", DefaultRelayReferer, DefaultRelayOrigin},
		{"exact host", "example.net", "https://example.net/", DefaultRelayOrigin},
		{"longest suffix wins", "edge.cdn.example.net", "https://player.example.net/", "https://player.example.net"},
		{"not a subdomain", "badexample.net", DefaultRelayReferer, DefaultRelayOrigin},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := cfg.ProfileFor(tt.host)
			assert.Equal(t, tt.referer, p.Referer)
			assert.Equal(t, tt.origin, p.Origin)
		})
	}
}
