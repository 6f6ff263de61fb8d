package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/episode"
	internalhttp "github.com/jmylchreest/tambayan/internal/http"
	"github.com/jmylchreest/tambayan/internal/http/handlers"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/jmylchreest/tambayan/internal/playback"
	"github.com/jmylchreest/tambayan/internal/relay"
	"github.com/jmylchreest/tambayan/internal/service"
	"github.com/jmylchreest/tambayan/internal/urlutil"
	"github.com/jmylchreest/tambayan/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the tambayan server",
	Long: `Start the tambayan HTTP server.

The server provides:
- The debug page at /
- The JSON control API under /api/v1
- The media relay (default /api/proxy)
- Health check at /health and metrics at /metrics
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
	serveCmd.Flags().Int("port", 8080, "Port to listen on")
	serveCmd.Flags().String("public-url", "", "Externally reachable base URL used in relay URLs")
	addUpstreamFlags(serveCmd)
}

// addUpstreamFlags registers the flags that select the episode.
func addUpstreamFlags(cmd *cobra.Command) {
	cmd.Flags().String("upstream", "", "Upstream API base URL")
	cmd.Flags().String("anime", "", "Anime id")
	cmd.Flags().String("episode", "", "Episode id")
	cmd.Flags().String("endpoint", "", "Call this URL instead of probing the candidate shapes")
}

// newUpstreamClient builds the client used to call the episode API.
func newUpstreamClient(cfg *config.Config, logger *slog.Logger) *httpclient.Client {
	clientCfg := httpclient.DefaultConfig()
	clientCfg.Timeout = cfg.Upstream.Timeout
	clientCfg.Logger = observability.WithComponent(logger, "upstream")
	return httpclient.New(clientCfg)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cfg.Logging)
	logger := slog.Default()

	prober := episode.NewProber(cfg.Upstream, newUpstreamClient(cfg, logger), observability.WithComponent(logger, "prober"))

	engineClient := httpclient.New(httpclient.Config{
		Timeout:   cfg.Relay.Timeout,
		UserAgent: cfg.Relay.UserAgent,
		Logger:    observability.WithComponent(logger, "hls"),
	})
	router := playback.Router{
		RelayBase: urlutil.NormalizeBaseURL(cfg.Server.BaseURL()),
		RelayPath: cfg.Relay.Path,
		All:       cfg.Playback.RelayAll,
		Hosts:     cfg.Playback.RelayHosts,
	}
	factory := playback.NewHLSEngineFactory(cfg.Playback, router, engineClient, observability.WithComponent(logger, "hls"))
	controller := playback.NewController(playback.NewMemorySurface(cfg.Playback.NativeHLS), factory, playback.Options{
		FallbackDelay: cfg.Playback.FallbackDelay,
		Logger:        observability.WithComponent(logger, "playback"),
	})

	proxyTestClient := httpclient.New(httpclient.Config{
		Timeout: cfg.Relay.Timeout,
		Logger:  observability.WithComponent(logger, "proxy_test"),
	})
	playerService := service.NewPlayerService(prober, controller, proxyTestClient, cfg).
		WithLogger(observability.WithComponent(logger, "player"))
	defer playerService.Close()

	rl := relay.New(cfg.Relay, observability.WithComponent(logger, "relay"))

	server := internalhttp.NewServer(cfg.Server, cfg.Relay.Path, logger, version.Version)

	// Docs-only relay operations first so the raw chi handlers replace them.
	relayHandler := handlers.NewRelayHandler(rl)
	relayHandler.Register(server.API())
	relayHandler.RegisterChiRoutes(server.Router())

	handlers.NewHealthHandler(version.Version).WithPlayer(playerService).Register(server.API())
	handlers.NewPlayerHandler(playerService).Register(server.API())
	handlers.NewPageHandler(playerService).RegisterChiRoutes(server.Router())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting tambayan server",
		slog.String("address", cfg.Server.Address()),
		slog.String("anime_id", cfg.Upstream.AnimeID),
		slog.String("episode_id", cfg.Upstream.EpisodeID),
		slog.String("version", version.Version),
	)

	// The page load runs alongside the listener so the page shows its
	// loading panel until the probe settles.
	go func() {
		if err := playerService.Load(ctx); err != nil {
			logger.Warn("initial episode load failed", slog.String("error", err.Error()))
		}
	}()

	if err := server.ListenAndServe(ctx); err != nil {
		return fmt.Errorf("serving: %w", err)
	}
	return nil
}
