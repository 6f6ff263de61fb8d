// Package urlutil provides URL manipulation utilities, including building and
// recognising relay URLs.
package urlutil

import (
	"net/url"
	"strings"
)

// URL scheme constants.
const (
	SchemeHTTP  = "http"
	SchemeHTTPS = "https"
)

// NormalizeBaseURL normalizes a base URL for consistent use:
//   - Adds http:// scheme if no scheme provided
//   - Removes trailing slash for clean path joining
//
// Examples:
//
//	"www.mysite.com"         -> "http://www.mysite.com"
//	"https://mysite.com/"    -> "https://mysite.com"
//	"http://localhost:8080/" -> "http://localhost:8080"
func NormalizeBaseURL(baseURL string) string {
	baseURL = strings.TrimSpace(baseURL)
	if baseURL == "" {
		return ""
	}

	if !strings.HasPrefix(baseURL, "http://") && !strings.HasPrefix(baseURL, "https://") {
		baseURL = "http://" + baseURL
	}

	return strings.TrimSuffix(baseURL, "/")
}

// JoinPath joins a base URL with a path, ensuring single slashes.
func JoinPath(baseURL, path string) string {
	if baseURL == "" {
		return path
	}

	baseURL = strings.TrimSuffix(baseURL, "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	return baseURL + path
}

// RelayURL wraps target in a relay URL: {base}{relayPath}?url={escaped target}.
// An empty base yields a same-origin relative URL.
func RelayURL(base, relayPath, target string) string {
	return JoinPath(base, relayPath) + "?url=" + url.QueryEscape(target)
}

// IsRelayURL reports whether raw already points at the relay path, either as
// a same-origin relative URL or an absolute URL on any host.
func IsRelayURL(raw, relayPath string) bool {
	if strings.HasPrefix(raw, relayPath) {
		return true
	}
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return u.Path == relayPath && u.Query().Has("url")
}

// Unwrap returns the upstream URL carried by a relay URL, or raw unchanged
// when it is not one.
func Unwrap(raw, relayPath string) string {
	if !IsRelayURL(raw, relayPath) {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	if target := u.Query().Get("url"); target != "" {
		return target
	}
	return raw
}

// Host returns the lower-cased host name of raw, or "" when it has none.
func Host(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}
