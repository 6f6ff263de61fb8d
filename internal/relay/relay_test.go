package relay

import (
	"bytes"
	"compress/gzip"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig() config.RelayConfig {
	return config.RelayConfig{
		Path:                config.DefaultRelayPath,
		UserAgent:           config.DefaultRelayUserAgent,
		Referer:             config.DefaultRelayReferer,
		Origin:              config.DefaultRelayOrigin,
		Timeout:             5 * time.Second,
		CacheControl:        config.DefaultRelayCacheControl,
		ManifestContentType: config.DefaultManifestContentType,
	}
}

func relayRequest(target string) *http.Request {
	u := config.DefaultRelayPath
	if target != "" {
		u += "?url=" + url.QueryEscape(target)
	}
	return httptest.NewRequest(http.MethodGet, u, nil)
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestRelay_MissingURL(t *testing.T) {
	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(""))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, MsgMissingURL, decodeError(t, rec).Error)
}

func TestRelay_SendsBrowserHeaders(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, config.DefaultRelayUserAgent, r.Header.Get("User-Agent"))
		assert.Equal(t, "https://kwik.si/", r.Header.Get("Referer"))
		assert.Equal(t, "https://kwik.si", r.Header.Get("Origin"))
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
		assert.Equal(t, "*/*", r.Header.Get("Accept"))
		assert.Equal(t, "en-US,en;q=0.9", r.Header.Get("Accept-Language"))
		assert.Equal(t, "video", r.Header.Get("Sec-Fetch-Dest"))
		assert.Equal(t, "cors", r.Header.Get("Sec-Fetch-Mode"))
		assert.Equal(t, "cross-site", r.Header.Get("Sec-Fetch-Site"))
		assert.Equal(t, "no-cache", r.Header.Get("Cache-Control"))
		w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(upstream.URL+"/seg1.ts"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRelay_ProfileOverridesReferer(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "https://player.example.net/", r.Header.Get("Referer"))
		assert.Equal(t, "https://player.example.net", r.Header.Get("Origin"))
	}))
	defer upstream.Close()

	cfg := testConfig()
	cfg.Profiles = []config.RelayProfile{
		{Host: "127.0.0.1", Referer: "https://player.example.net/", Origin: "https://player.example.net"},
	}

	rec := httptest.NewRecorder()
	New(cfg, nil).ServeHTTP(rec, relayRequest(upstream.URL+"/x.ts"))
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRelay_ContentType(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		upstream string
		expected string
	}{
		{"manifest overrides upstream type", "/index.m3u8", "text/plain", config.DefaultManifestContentType},
		{"manifest with query string", "/index.m3u8?token=abc", "application/octet-stream", config.DefaultManifestContentType},
		{"upper case suffix", "/INDEX.M3U8", "text/plain", config.DefaultManifestContentType},
		{"segment keeps upstream type", "/seg1.ts", "video/mp2t", "video/mp2t"},
		{"mp4 keeps upstream type", "/episode.mp4", "video/mp4", "video/mp4"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.upstream)
				w.Write([]byte("#EXTM3U\n"))
			}))
			defer upstream.Close()

			rec := httptest.NewRecorder()
			New(testConfig(), nil).ServeHTTP(rec, relayRequest(upstream.URL+tt.path))

			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.expected, rec.Header().Get("Content-Type"))
		})
	}
}

func TestRelay_SuccessHeadersAndBody(t *testing.T) {
	payload := []byte("segment-bytes-0123456789")
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp2t")
		w.Header().Set("Content-Length", "24")
		w.Write(payload)
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(upstream.URL+"/seg.ts"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, payload, rec.Body.Bytes())
	assert.Equal(t, "24", rec.Header().Get("Content-Length"))
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
	assert.Equal(t, "Content-Type, Range", rec.Header().Get("Access-Control-Allow-Headers"))
	assert.Equal(t, "Content-Length, Content-Range", rec.Header().Get("Access-Control-Expose-Headers"))
	assert.Equal(t, "public, max-age=3600", rec.Header().Get("Cache-Control"))
}

func TestRelay_ForwardsRange(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "bytes=0-3", r.Header.Get("Range"))
		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Range", "bytes 0-3/100")
		w.WriteHeader(http.StatusPartialContent)
		w.Write([]byte("abcd"))
	}))
	defer upstream.Close()

	req := relayRequest(upstream.URL + "/episode.mp4")
	req.Header.Set("Range", "bytes=0-3")
	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusPartialContent, rec.Code)
	assert.Equal(t, "bytes 0-3/100", rec.Header().Get("Content-Range"))
	assert.Equal(t, "abcd", rec.Body.String())
}

func TestRelay_ForwardsContentEncoding(t *testing.T) {
	var compressed bytes.Buffer
	gz := gzip.NewWriter(&compressed)
	gz.Write([]byte("#EXTM3U\n"))
	require.NoError(t, gz.Close())

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "identity", r.Header.Get("Accept-Encoding"))
		w.Header().Set("Content-Encoding", "gzip")
		w.Write(compressed.Bytes())
	}))
	defer upstream.Close()

	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(upstream.URL+"/index.m3u8"))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))
	assert.Equal(t, compressed.Bytes(), rec.Body.Bytes())

	rec = httptest.NewRecorder()
	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n"))
	}))
	defer plain.Close()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(plain.URL+"/index.m3u8"))
	assert.Empty(t, rec.Header().Get("Content-Encoding"))
}

func TestRelay_UpstreamErrorStatus(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"not found", http.StatusNotFound},
		{"forbidden", http.StatusForbidden},
		{"bad gateway", http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer upstream.Close()

			rec := httptest.NewRecorder()
			New(testConfig(), nil).ServeHTTP(rec, relayRequest(upstream.URL+"/index.m3u8"))

			assert.Equal(t, tt.status, rec.Code)
			body := decodeError(t, rec)
			assert.Equal(t, fmt.Sprintf("HTTP error! status: %d", tt.status), body.Error)
		})
	}
}

func TestRelay_FetchFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	target := upstream.URL + "/index.m3u8"
	upstream.Close()

	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest(target))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, MsgFetchFailed, body.Error)
	assert.NotEmpty(t, body.Details)
	assert.Equal(t, target, body.URL)
}

func TestRelay_RelativeURLIsFetchFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServeHTTP(rec, relayRequest("/just/a/path.m3u8"))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, MsgFetchFailed, body.Error)
	assert.Equal(t, "/just/a/path.m3u8", body.URL)
}

func TestRelay_Preflight(t *testing.T) {
	rec := httptest.NewRecorder()
	New(testConfig(), nil).ServePreflight(rec, httptest.NewRequest(http.MethodOptions, config.DefaultRelayPath, nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Body.Bytes())
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "GET, POST, OPTIONS", rec.Header().Get("Access-Control-Allow-Methods"))
}

func TestIsManifestURL(t *testing.T) {
	tests := []struct {
		raw      string
		expected bool
	}{
		{"https://cdn.example.com/hls/index.m3u8", true},
		{"https://cdn.example.com/hls/index.m3u8?token=1", true},
		{"https://cdn.example.com/hls/seg-1.ts", false},
		{"https://cdn.example.com/watch?file=index.m3u8", false},
		{"https://cdn.example.com/index.m3u8.bak", false},
	}

	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			u, err := url.Parse(tt.raw)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, IsManifestURL(u))
		})
	}

	assert.False(t, IsManifestURL(nil))
}
