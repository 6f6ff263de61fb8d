package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/episode"
	"github.com/jmylchreest/tambayan/internal/http/handlers"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/playback"
	"github.com/jmylchreest/tambayan/internal/relay"
	"github.com/jmylchreest/tambayan/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticProber struct{}

func (staticProber) Probe(context.Context) (*episode.Result, error) {
	return &episode.Result{
		Endpoint: "https://api.example.com/watch/a/e",
		Response: &episode.Response{
			Sources: []episode.Source{{URL: "https://cdn.example.com/1080.mp4", Format: episode.FormatMP4, Quality: "1080p"}},
			Raw:     []byte(`{"sources":[]}`),
		},
	}, nil
}

func newTestPlayer(t *testing.T) *service.PlayerService {
	t.Helper()
	cfg := &config.Config{
		Server: config.ServerConfig{Host: "127.0.0.1", Port: 8080},
		Relay:  config.RelayConfig{Path: config.DefaultRelayPath},
	}
	controller := playback.NewController(playback.NewMemorySurface(false), nil, playback.Options{})
	svc := service.NewPlayerService(staticProber{}, controller, httpclient.NewWithDefaults(), cfg)
	t.Cleanup(svc.Close)
	return svc
}

// newTestServer wires handlers in the same order as the serve command.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	player := newTestPlayer(t)
	srv := NewServer(config.ServerConfig{Host: "127.0.0.1", Port: 0, ShutdownTimeout: time.Second}, config.DefaultRelayPath, nil, "test")

	rl := relay.New(config.RelayConfig{
		Path:                config.DefaultRelayPath,
		UserAgent:           config.DefaultRelayUserAgent,
		Referer:             config.DefaultRelayReferer,
		Origin:              config.DefaultRelayOrigin,
		Timeout:             5 * time.Second,
		CacheControl:        config.DefaultRelayCacheControl,
		ManifestContentType: config.DefaultManifestContentType,
	}, nil)
	relayHandler := handlers.NewRelayHandler(rl)
	relayHandler.Register(srv.API())
	relayHandler.RegisterChiRoutes(srv.Router())
	handlers.NewHealthHandler("test").WithPlayer(player).Register(srv.API())
	handlers.NewPlayerHandler(player).Register(srv.API())
	handlers.NewPageHandler(player).RegisterChiRoutes(srv.Router())
	return srv
}

func TestServer_RegistersAllHandlers(t *testing.T) {
	var srv *Server
	require.NotPanics(t, func() { srv = newTestServer(t) })

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"PageState"`)
	assert.Contains(t, rec.Body.String(), `"Snapshot"`)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/playback", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"can_next":false`)

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestServer_RelayPreflightBypassesCORS(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, config.DefaultRelayPath+"?url=x", nil)
	req.Header.Set("Origin", "http://player.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_APIPreflightAnsweredByMiddleware(t *testing.T) {
	srv := newTestServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/health", nil)
	req.Header.Set("Origin", "http://player.example")
	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServer_RequestIDAndHealth(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestServer_MetricsAndDocs(t *testing.T) {
	srv := newTestServer(t)

	rec := httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "go_goroutines"))

	rec = httptest.NewRecorder()
	srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/openapi.json", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tambayan API")
	assert.Contains(t, rec.Body.String(), "relayFetch")
}
