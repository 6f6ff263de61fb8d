// Package httpclient provides the outbound HTTP client used for upstream API
// calls and relay fetches.
//
// The client wraps the standard http.Client and adds:
//   - Default headers applied to every request that does not set them
//   - Optional transparent decompression (gzip, deflate, brotli)
//   - An optional outbound rate limit
//   - Structured logging with credential obfuscation
//
// Every request is attempted exactly once. Callers decide what a failure means.
package httpclient

import (
	"compress/flate"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/ratelimit"
)

// Default configuration values.
const (
	DefaultTimeout              = 30 * time.Second
	DefaultAcceptEncodingHeader = "gzip, deflate, br"
	DefaultUserAgentHeader      = "tambayan-httpclient/1.0"
)

// HTTP header constants.
const (
	HeaderAcceptEncoding  = "Accept-Encoding"
	HeaderContentEncoding = "Content-Encoding"
	HeaderUserAgent       = "User-Agent"

	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingBrotli   = "br"
	EncodingIdentity = "identity"
)

// Config holds the configuration for the HTTP client.
type Config struct {
	// Timeout is the overall request timeout, including reading the body.
	// Zero means no client-level timeout.
	Timeout time.Duration

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string

	// Headers are set on every request that does not already carry them.
	Headers http.Header

	// Logger is the structured logger for request/response logging.
	Logger *slog.Logger

	// EnableDecompression advertises gzip, deflate and brotli and decodes
	// the response body. When false the body is returned as received.
	EnableDecompression bool

	// RequestsPerSecond caps outbound requests. Zero means unlimited.
	RequestsPerSecond int

	// BaseClient is the underlying http.Client to use.
	// If nil, a default client is created.
	BaseClient *http.Client
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Timeout:             DefaultTimeout,
		UserAgent:           DefaultUserAgentHeader,
		Logger:              slog.Default(),
		EnableDecompression: true,
	}
}

// Client is a single-attempt HTTP client with default headers and logging.
type Client struct {
	config  Config
	client  *http.Client
	limiter ratelimit.Limiter
	logger  *slog.Logger
}

// New creates a new HTTP client with the given configuration.
func New(cfg Config) *Client {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	baseClient := cfg.BaseClient
	if baseClient == nil {
		baseClient = &http.Client{
			Timeout: cfg.Timeout,
		}
	}

	limiter := ratelimit.NewUnlimited()
	if cfg.RequestsPerSecond > 0 {
		limiter = ratelimit.New(cfg.RequestsPerSecond, ratelimit.WithoutSlack)
	}

	return &Client{
		config:  cfg,
		client:  baseClient,
		limiter: limiter,
		logger:  cfg.Logger,
	}
}

// NewWithDefaults creates a new client with default configuration.
func NewWithDefaults() *Client {
	return New(DefaultConfig())
}

// Do executes an HTTP request once.
func (c *Client) Do(req *http.Request) (*http.Response, error) {
	return c.DoWithContext(req.Context(), req)
}

// DoWithContext executes an HTTP request once with the given context.
// Non-2xx responses are returned, not converted to errors.
func (c *Client) DoWithContext(ctx context.Context, req *http.Request) (*http.Response, error) {
	for name, values := range c.config.Headers {
		if req.Header.Get(name) == "" {
			req.Header[http.CanonicalHeaderKey(name)] = values
		}
	}
	if req.Header.Get(HeaderUserAgent) == "" && c.config.UserAgent != "" {
		req.Header.Set(HeaderUserAgent, c.config.UserAgent)
	}
	if c.config.EnableDecompression && req.Header.Get(HeaderAcceptEncoding) == "" {
		req.Header.Set(HeaderAcceptEncoding, DefaultAcceptEncodingHeader)
	}

	c.limiter.Take()

	start := time.Now()
	resp, err := c.client.Do(req.WithContext(ctx))
	duration := time.Since(start)

	if err != nil {
		c.logger.Warn("request failed",
			slog.String("url", obfuscateURL(req.URL)),
			slog.String("method", req.Method),
			slog.Duration("duration", duration),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	c.logger.Debug("request completed",
		slog.String("url", obfuscateURL(req.URL)),
		slog.String("method", req.Method),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", duration),
		slog.Int64("content_length", resp.ContentLength),
	)

	if c.config.EnableDecompression {
		if body, decoded := c.wrapDecompression(resp); decoded {
			resp.Body = body
			resp.Header.Del(HeaderContentEncoding)
			resp.Header.Del("Content-Length")
			resp.ContentLength = -1
		}
	}

	return resp, nil
}

// Get performs a GET request to the specified URL.
func (c *Client) Get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	return c.Do(req)
}

// StandardClient returns a standard *http.Client that sends through this client.
func (c *Client) StandardClient() *http.Client {
	return &http.Client{
		Transport: &clientTransport{client: c},
		Timeout:   c.config.Timeout,
	}
}

type clientTransport struct {
	client *Client
}

// RoundTrip implements http.RoundTripper.
func (t *clientTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	// RoundTrippers must not modify the caller's request.
	return t.client.Do(req.Clone(req.Context()))
}

var _ http.RoundTripper = (*clientTransport)(nil)

// wrapDecompression wraps the response body with the decoder matching its
// Content-Encoding. The second result reports whether a decoder was applied.
func (c *Client) wrapDecompression(resp *http.Response) (io.ReadCloser, bool) {
	encoding := strings.ToLower(strings.TrimSpace(resp.Header.Get(HeaderContentEncoding)))

	switch encoding {
	case "", EncodingIdentity:
		return resp.Body, false

	case EncodingGzip:
		reader, err := gzip.NewReader(resp.Body)
		if err != nil {
			c.logger.Warn("failed to create gzip reader, returning raw body",
				slog.String("error", err.Error()),
			)
			return resp.Body, false
		}
		return &decompressReader{reader: reader, closer: resp.Body}, true

	case EncodingDeflate:
		return &decompressReader{reader: flate.NewReader(resp.Body), closer: resp.Body}, true

	case EncodingBrotli:
		return &decompressReader{reader: brotli.NewReader(resp.Body), closer: resp.Body}, true

	default:
		c.logger.Debug("unknown content encoding, returning raw body",
			slog.String("encoding", encoding),
		)
		return resp.Body, false
	}
}

// decompressReader wraps a decompression reader with the original body closer.
type decompressReader struct {
	reader io.Reader
	closer io.Closer
}

func (d *decompressReader) Read(p []byte) (int, error) {
	return d.reader.Read(p)
}

func (d *decompressReader) Close() error {
	if closer, ok := d.reader.(io.Closer); ok {
		closer.Close()
	}
	return d.closer.Close()
}

var sensitiveParams = []string{
	"password", "passwd", "pass", "pwd",
	"token", "api_key", "apikey", "key",
	"secret", "auth", "authorization",
	"credential", "credentials",
}

// ObfuscateURL returns raw with sensitive query parameters masked. Unparseable
// input is returned unchanged.
func ObfuscateURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return obfuscateURL(u)
}

// obfuscateURL returns a URL string with sensitive query parameters obfuscated.
func obfuscateURL(u *url.URL) string {
	if u == nil {
		return ""
	}

	sanitized := *u
	query := sanitized.Query()

	changed := false
	for _, param := range sensitiveParams {
		if query.Has(param) {
			query.Set(param, "***")
			changed = true
		}
	}

	if changed {
		sanitized.RawQuery = query.Encode()
	}
	return sanitized.String()
}
