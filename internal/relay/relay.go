// Package relay implements the same-origin relay endpoint. A relay request
// names an absolute upstream URL; the relay fetches it with a fixed browser
// header set and a referrer pair the upstream expects, then streams the
// response back with permissive CORS headers.
package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/metrics"
	"github.com/jmylchreest/tambayan/internal/observability"
)

// QueryParamURL is the query parameter carrying the upstream URL.
const QueryParamURL = "url"

// Error messages written in relay JSON error bodies.
const (
	MsgMissingURL  = "URL parameter is required"
	MsgFetchFailed = "Failed to fetch the requested resource"
)

// CORS header values attached to every relay response.
const (
	CORSAllowOrigin   = "*"
	CORSAllowMethods  = "GET, POST, OPTIONS"
	CORSAllowHeaders  = "Content-Type, Range"
	CORSExposeHeaders = "Content-Length, Content-Range"
)

// BrowserHeaders is the header set sent upstream on every relay fetch, apart
// from User-Agent, Referer and Origin which come from configuration.
var BrowserHeaders = http.Header{
	"Accept":          {"*/*"},
	"Accept-Language": {"en-US,en;q=0.9"},
	"Accept-Encoding": {httpclient.EncodingIdentity},
	"Connection":      {"keep-alive"},
	"Sec-Fetch-Dest":  {"video"},
	"Sec-Fetch-Mode":  {"cors"},
	"Sec-Fetch-Site":  {"cross-site"},
	"Cache-Control":   {"no-cache"},
}

// ErrorResponse is the JSON body written when a relay request fails.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
	URL     string `json:"url,omitempty"`
}

// Relay serves relay GET and preflight requests. It holds no per-request state.
type Relay struct {
	cfg    config.RelayConfig
	client *httpclient.Client
	logger *slog.Logger
}

// New creates a relay. cfg.Timeout bounds the wait for upstream response
// headers; body streaming is not time limited.
func New(cfg config.RelayConfig, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	logger = observability.WithComponent(logger, "relay")

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.ResponseHeaderTimeout = cfg.Timeout
	transport.DisableCompression = true

	client := httpclient.New(httpclient.Config{
		UserAgent:         cfg.UserAgent,
		Headers:           BrowserHeaders,
		Logger:            logger,
		RequestsPerSecond: cfg.RequestsPerSecond,
		BaseClient:        &http.Client{Transport: transport},
	})

	return &Relay{cfg: cfg, client: client, logger: logger}
}

// Path returns the route the relay is mounted on.
func (rl *Relay) Path() string {
	return rl.cfg.Path
}

// ServeHTTP handles GET {path}?url=<absolute URL>.
func (rl *Relay) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	target := r.URL.Query().Get(QueryParamURL)
	if target == "" {
		metrics.RelayRequests.WithLabelValues("bad_request").Inc()
		writeError(w, http.StatusBadRequest, ErrorResponse{Error: MsgMissingURL})
		return
	}

	// The upstream fetch is not tied to the inbound request's lifetime.
	ctx := context.WithoutCancel(r.Context())

	req, err := newUpstreamRequest(ctx, target)
	if err != nil {
		rl.fetchFailed(w, target, err)
		return
	}

	profile := rl.cfg.ProfileFor(req.URL.Hostname())
	req.Header.Set("Referer", profile.Referer)
	req.Header.Set("Origin", profile.Origin)
	if rng := r.Header.Get("Range"); rng != "" {
		req.Header.Set("Range", rng)
	}

	start := time.Now()
	resp, err := rl.client.Do(req)
	metrics.RelayUpstreamDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		rl.fetchFailed(w, target, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RelayRequests.WithLabelValues("upstream_error").Inc()
		rl.logger.Warn("upstream returned error status",
			slog.String("url", httpclient.ObfuscateURL(target)),
			slog.Int("status", resp.StatusCode),
		)
		writeError(w, resp.StatusCode, ErrorResponse{
			Error: fmt.Sprintf("HTTP error! status: %d", resp.StatusCode),
		})
		return
	}

	h := w.Header()
	SetCORSHeaders(h)
	h.Set("Content-Type", rl.contentType(req.URL, resp.Header.Get("Content-Type")))
	if cl := resp.Header.Get("Content-Length"); cl != "" {
		h.Set("Content-Length", cl)
	}
	if cr := resp.Header.Get("Content-Range"); cr != "" {
		h.Set("Content-Range", cr)
	}
	if ce := resp.Header.Get("Content-Encoding"); ce != "" {
		h.Set("Content-Encoding", ce)
	}
	h.Set("Cache-Control", rl.cfg.CacheControl)
	w.WriteHeader(resp.StatusCode)

	n, err := io.Copy(w, resp.Body)
	metrics.RelayBytes.Add(float64(n))
	metrics.RelayRequests.WithLabelValues("ok").Inc()
	if err != nil {
		rl.logger.Debug("relay stream interrupted",
			slog.String("url", httpclient.ObfuscateURL(target)),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		return
	}
	rl.logger.Log(ctx, observability.LevelTrace, "relay stream complete",
		slog.String("url", httpclient.ObfuscateURL(target)),
		slog.Int64("bytes", n),
	)
}

// ServePreflight answers OPTIONS {path} with 200, CORS headers and no body.
func (rl *Relay) ServePreflight(w http.ResponseWriter, _ *http.Request) {
	metrics.RelayRequests.WithLabelValues("preflight").Inc()
	SetCORSHeaders(w.Header())
	w.WriteHeader(http.StatusOK)
}

// SetCORSHeaders sets the relay's permissive CORS headers.
func SetCORSHeaders(h http.Header) {
	h.Set("Access-Control-Allow-Origin", CORSAllowOrigin)
	h.Set("Access-Control-Allow-Methods", CORSAllowMethods)
	h.Set("Access-Control-Allow-Headers", CORSAllowHeaders)
	h.Set("Access-Control-Expose-Headers", CORSExposeHeaders)
}

// IsManifestURL reports whether u names an HLS manifest by its path suffix.
func IsManifestURL(u *url.URL) bool {
	return u != nil && strings.HasSuffix(strings.ToLower(u.Path), ".m3u8")
}

func (rl *Relay) contentType(u *url.URL, upstream string) string {
	if IsManifestURL(u) || upstream == "" {
		return rl.cfg.ManifestContentType
	}
	return upstream
}

func (rl *Relay) fetchFailed(w http.ResponseWriter, target string, err error) {
	metrics.RelayRequests.WithLabelValues("fetch_error").Inc()
	rl.logger.Error("relay fetch failed",
		slog.String("url", httpclient.ObfuscateURL(target)),
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, ErrorResponse{
		Error:   MsgFetchFailed,
		Details: err.Error(),
		URL:     target,
	})
}

func newUpstreamRequest(ctx context.Context, target string) (*http.Request, error) {
	u, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("parsing url: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("url must be absolute http(s): %q", target)
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func writeError(w http.ResponseWriter, status int, body ErrorResponse) {
	SetCORSHeaders(w.Header())
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
