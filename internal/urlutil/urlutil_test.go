package urlutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeBaseURL(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{"no scheme", "example.com", "http://example.com"},
		{"http", "http://example.com", "http://example.com"},
		{"https", "https://example.com", "https://example.com"},
		{"trailing slash", "http://example.com/", "http://example.com"},
		{"with port", "localhost:8080", "http://localhost:8080"},
		{"whitespace", "  http://example.com  ", "http://example.com"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, NormalizeBaseURL(tt.input))
		})
	}
}

func TestJoinPath(t *testing.T) {
	tests := []struct {
		name     string
		baseURL  string
		path     string
		expected string
	}{
		{"empty base", "", "/path", "/path"},
		{"with leading slash", "http://example.com", "/api/v1", "http://example.com/api/v1"},
		{"without leading slash", "http://example.com", "api/v1", "http://example.com/api/v1"},
		{"base with trailing slash", "http://example.com/", "/api", "http://example.com/api"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, JoinPath(tt.baseURL, tt.path))
		})
	}
}

func TestRelayURL(t *testing.T) {
	tests := []struct {
		name     string
		base     string
		target   string
		expected string
	}{
		{"relative", "", "https://cdn.example.com/a.m3u8", "/api/proxy?url=https%3A%2F%2Fcdn.example.com%2Fa.m3u8"},
		{"absolute", "http://127.0.0.1:8080", "https://cdn.example.com/a.ts?x=1&y=2", "http://127.0.0.1:8080/api/proxy?url=https%3A%2F%2Fcdn.example.com%2Fa.ts%3Fx%3D1%26y%3D2"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, RelayURL(tt.base, "/api/proxy", tt.target))
		})
	}
}

func TestIsRelayURL(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		expected bool
	}{
		{"relative relay", "/api/proxy?url=https%3A%2F%2Fx", true},
		{"absolute relay", "http://127.0.0.1:8080/api/proxy?url=https%3A%2F%2Fx", true},
		{"absolute relay without url param", "http://127.0.0.1:8080/api/proxy", false},
		{"upstream manifest", "https://padorupado.ru/stream/index.m3u8", false},
		{"upstream with proxy in path", "https://cdn.example.com/api/proxy/seg.ts", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsRelayURL(tt.raw, "/api/proxy"))
		})
	}
}

func TestUnwrap(t *testing.T) {
	target := "https://cdn.example.com/a.m3u8?token=1"
	assert.Equal(t, target, Unwrap(RelayURL("http://localhost:8080", "/api/proxy", target), "/api/proxy"))
	assert.Equal(t, target, Unwrap(target, "/api/proxy"))
}

func TestHost(t *testing.T) {
	assert.Equal(t, "padorupado.ru", Host("https://PadoruPado.ru/x.ts"))
	assert.Equal(t, "", Host("/relative"))
	assert.Equal(t, "", Host("http://[::1"))
}
