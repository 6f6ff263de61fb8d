// Package cmd implements the CLI commands for tambayan.
package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/jmylchreest/tambayan/internal/version"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// cfgFile holds the config file path from CLI flag.
var cfgFile string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:     "tambayan",
	Short:   "Episode playback debugging harness and media relay",
	Version: version.Short(),
	Long: `tambayan fetches the sources of one anime episode from an upstream API,
trying each known endpoint shape in turn, and plays them through an HLS
engine with quality fallback and error recovery.

It serves a debug page, a JSON control API and a CORS-permissive media
relay that fetches upstream manifests and segments with browser-like
headers.`,
	SilenceUsage: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	if err := rootCmd.Execute(); err != nil {
		return fmt.Errorf("executing root command: %w", err)
	}
	return nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "json", "log format (text, json)")
}

// loadConfig reads the configuration and applies explicitly set flags on top.
//
// Priority order (highest to lowest):
//  1. CLI flags, only if explicitly provided
//  2. Environment variables (TAMBAYAN_SERVER_PORT, TAMBAYAN_UPSTREAM_ANIME_ID, ...)
//  3. Config file values
//  4. Built-in defaults
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	overrideString(flags, "log-level", &cfg.Logging.Level)
	overrideString(flags, "log-format", &cfg.Logging.Format)
	overrideString(flags, "host", &cfg.Server.Host)
	overrideInt(flags, "port", &cfg.Server.Port)
	overrideString(flags, "public-url", &cfg.Server.PublicURL)
	overrideString(flags, "upstream", &cfg.Upstream.BaseURL)
	overrideString(flags, "anime", &cfg.Upstream.AnimeID)
	overrideString(flags, "episode", &cfg.Upstream.EpisodeID)
	overrideString(flags, "endpoint", &cfg.Upstream.Endpoint)

	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)
	if cfg.Logging.Level == "warning" {
		cfg.Logging.Level = "warn"
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// initLogging installs the redacting logger as the slog default.
func initLogging(cfg config.LoggingConfig) {
	logger := observability.NewLoggerWithWriter(cfg, os.Stderr)
	logger = observability.WithApp(logger, version.ApplicationName, version.Version)
	observability.SetDefault(logger)
	observability.SetRequestLogging(cfg.RequestLogging)
}

func overrideString(flags *pflag.FlagSet, name string, dst *string) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		*dst = f.Value.String()
	}
}

func overrideInt(flags *pflag.FlagSet, name string, dst *int) {
	if f := flags.Lookup(name); f != nil && f.Changed {
		if v, err := flags.GetInt(name); err == nil {
			*dst = v
		}
	}
}
