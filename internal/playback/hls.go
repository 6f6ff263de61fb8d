package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	gohlslib "github.com/bluenviron/gohlslib/v2"
	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/samber/lo"
)

// ErrUnsupportedCodec is returned from track negotiation when a track uses a
// codec outside the supported set.
var ErrUnsupportedCodec = errors.New("unsupported codec")

// ErrRecoveryLimit is the detail of the fault raised once an engine has used
// up its restarts.
var ErrRecoveryLimit = errors.New("recovery limit reached")

// decodeMarkers identify playlist and segment parse failures in client errors.
var decodeMarkers = []string{"unmarshal", "decode", "parse", "invalid", "malformed", "unexpected eof", "playlist", "segment"}

// HLSEngineFactory creates gohlslib-backed engines.
type HLSEngineFactory struct {
	enabled       bool
	httpClient    *http.Client
	supported     []string
	maxRecoveries int
	logger        *slog.Logger
}

// NewHLSEngineFactory creates a factory whose engines fetch through client
// with sub-requests rewritten by router.
func NewHLSEngineFactory(cfg config.PlaybackConfig, router Router, client *httpclient.Client, logger *slog.Logger) *HLSEngineFactory {
	if logger == nil {
		logger = slog.Default()
	}
	std := client.StandardClient()
	return &HLSEngineFactory{
		enabled: cfg.EngineEnabled,
		httpClient: &http.Client{
			Timeout:   std.Timeout,
			Transport: &RelayTransport{Router: router, Base: std.Transport},
		},
		supported:     lo.Map(cfg.SupportedCodecs, func(c string, _ int) string { return strings.ToLower(c) }),
		maxRecoveries: cfg.MaxRecoveries,
		logger:        observability.WithComponent(logger, "hls"),
	}
}

// Supported reports whether the engine is enabled.
func (f *HLSEngineFactory) Supported() bool {
	return f.enabled
}

// New creates an engine reporting through hooks.
func (f *HLSEngineFactory) New(hooks Hooks) Engine {
	return &hlsEngine{factory: f, hooks: hooks}
}

type hlsEngine struct {
	factory *HLSEngineFactory
	hooks   Hooks

	// session identifies the running client; callbacks from older clients
	// are ignored.
	session atomic.Uint64

	mu         sync.Mutex
	uri        string
	client     *gohlslib.Client
	recoveries int
	destroyed  bool
}

func (e *hlsEngine) Load(ctx context.Context, uri string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return errors.New("engine destroyed")
	}
	e.uri = uri
	old := e.client
	err := e.startLocked()
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return err
}

func (e *hlsEngine) StartLoad() {
	e.restart("network")
}

func (e *hlsEngine) RecoverMediaError() {
	e.restart("media")
}

func (e *hlsEngine) Destroy() {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	e.destroyed = true
	e.session.Add(1)
	client := e.client
	e.client = nil
	e.mu.Unlock()

	if client != nil {
		client.Close()
	}
}

// startLocked starts a fresh client on e.uri.
func (e *hlsEngine) startLocked() error {
	session := e.session.Add(1)
	client := &gohlslib.Client{
		URI:        e.uri,
		HTTPClient: e.factory.httpClient,
		OnTracks: func(tracks []*gohlslib.Track) error {
			return e.onTracks(session, tracks)
		},
	}
	if err := client.Start(); err != nil {
		e.client = nil
		return fmt.Errorf("starting HLS client: %w", err)
	}
	e.client = client
	go e.watch(session, client)
	return nil
}

func (e *hlsEngine) restart(kind string) {
	e.mu.Lock()
	if e.destroyed {
		e.mu.Unlock()
		return
	}
	if e.recoveries >= e.factory.maxRecoveries {
		e.mu.Unlock()
		e.emit(Fault{Severity: SeverityFatal, Category: CategoryOther, Detail: ErrRecoveryLimit.Error()})
		return
	}
	e.recoveries++
	attempt := e.recoveries
	uri := e.uri
	old := e.client
	err := e.startLocked()
	e.mu.Unlock()

	if old != nil {
		old.Close()
	}

	e.factory.logger.Info("restarting hls client",
		slog.String("kind", kind),
		slog.Int("attempt", attempt),
		slog.String("url", httpclient.ObfuscateURL(uri)),
	)
	if err != nil {
		e.emit(classifyError(err))
	}
}

func (e *hlsEngine) watch(session uint64, client *gohlslib.Client) {
	err := client.Wait2()
	if session != e.session.Load() {
		return
	}
	if err == nil || errors.Is(err, gohlslib.ErrClientEOS) || errors.Is(err, context.Canceled) {
		return
	}
	e.emit(classifyError(err))
}

func (e *hlsEngine) onTracks(session uint64, tracks []*gohlslib.Track) error {
	if session != e.session.Load() {
		return nil
	}

	names := lo.Map(tracks, func(t *gohlslib.Track, _ int) string { return codecName(t.Codec) })
	e.factory.logger.Debug("hls tracks negotiated", slog.Any("codecs", names))

	unsupported := lo.Reject(names, func(n string, _ int) bool {
		return lo.Contains(e.factory.supported, n)
	})
	if len(unsupported) > 0 {
		return fmt.Errorf("%w: %s", ErrUnsupportedCodec, strings.Join(lo.Uniq(unsupported), ", "))
	}

	if e.hooks.OnManifestParsed != nil {
		e.hooks.OnManifestParsed()
	}
	return nil
}

func (e *hlsEngine) emit(f Fault) {
	if e.hooks.OnFault != nil {
		e.hooks.OnFault(f)
	}
}

// codecName maps a gohlslib codec to its configuration name.
func codecName(c any) string {
	switch c.(type) {
	case *codecs.H264:
		return "h264"
	case *codecs.H265:
		return "h265"
	case *codecs.MPEG4Audio:
		return "aac"
	case *codecs.Opus:
		return "opus"
	default:
		return strings.ToLower(strings.TrimPrefix(fmt.Sprintf("%T", c), "*codecs."))
	}
}

// classifyError maps a client error onto a fatal fault.
func classifyError(err error) Fault {
	f := Fault{Severity: SeverityFatal, Category: CategoryOther, Detail: err.Error()}

	var netErr net.Error
	var urlErr *url.Error
	msg := strings.ToLower(err.Error())

	switch {
	case errors.Is(err, ErrUnsupportedCodec), strings.Contains(msg, ErrUnsupportedCodec.Error()):
		f.Category = CategoryCodec
	case errors.As(err, &urlErr), errors.As(err, &netErr), strings.Contains(msg, "bad status code"):
		f.Category = CategoryNetwork
	case lo.ContainsBy(decodeMarkers, func(m string) bool { return strings.Contains(msg, m) }):
		f.Category = CategoryMedia
	}
	return f
}
