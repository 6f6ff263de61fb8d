package playback

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/jmylchreest/tambayan/internal/urlutil"
	"github.com/samber/lo"
)

// relayedExtensions mark URLs that are routed through the relay regardless
// of host.
var relayedExtensions = []string{".m3u8", ".ts", ".key", ".jpg"}

// Router decides which engine sub-requests go through the relay.
type Router struct {
	// RelayBase is the absolute base URL of this server.
	RelayBase string
	// RelayPath is the relay endpoint path.
	RelayPath string
	// All routes every request through the relay.
	All bool
	// Hosts are host suffixes that are always relayed.
	Hosts []string
}

// ShouldRelay reports whether raw must be fetched through the relay. A URL
// that already points at the relay is never wrapped again.
func (r Router) ShouldRelay(raw string) bool {
	if urlutil.IsRelayURL(raw, r.RelayPath) {
		return false
	}
	if r.All {
		return true
	}
	host := urlutil.Host(raw)
	if host != "" && lo.ContainsBy(r.Hosts, func(h string) bool {
		h = strings.ToLower(h)
		return host == h || strings.HasSuffix(host, "."+h)
	}) {
		return true
	}
	return lo.ContainsBy(relayedExtensions, func(ext string) bool {
		return strings.Contains(raw, ext)
	})
}

// Rewrite returns the relay URL for raw when it should be relayed, else raw.
func (r Router) Rewrite(raw string) string {
	if !r.ShouldRelay(raw) {
		return raw
	}
	return urlutil.RelayURL(r.RelayBase, r.RelayPath, raw)
}

// RelayTransport rewrites outgoing requests through the relay.
type RelayTransport struct {
	Router Router
	Base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *RelayTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}

	raw := req.URL.String()
	rewritten := t.Router.Rewrite(raw)
	if rewritten == raw {
		return base.RoundTrip(req)
	}

	u, err := url.Parse(rewritten)
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.URL = u
	out.Host = ""
	return base.RoundTrip(out)
}
