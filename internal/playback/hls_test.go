package playback

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/codecs"
	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected Category
	}{
		{"unsupported codec", fmt.Errorf("%w: av1", ErrUnsupportedCodec), CategoryCodec},
		{"unsupported codec flattened", errors.New("unsupported codec: vp9"), CategoryCodec},
		{"url error", &url.Error{Op: "Get", URL: "https://x/a.m3u8", Err: errors.New("connection refused")}, CategoryNetwork},
		{"net error", &net.OpError{Op: "dial", Err: errors.New("refused")}, CategoryNetwork},
		{"bad status", errors.New("bad status code: 404"), CategoryNetwork},
		{"playlist parse", errors.New("unable to parse playlist"), CategoryMedia},
		{"segment decode", errors.New("unable to decode segment"), CategoryMedia},
		{"anything else", errors.New("terminated"), CategoryOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := classifyError(tt.err)
			assert.Equal(t, SeverityFatal, f.Severity)
			assert.Equal(t, tt.expected, f.Category)
			assert.Equal(t, tt.err.Error(), f.Detail)
		})
	}
}

func TestCodecName(t *testing.T) {
	assert.Equal(t, "h264", codecName(&codecs.H264{}))
	assert.Equal(t, "h265", codecName(&codecs.H265{}))
	assert.Equal(t, "aac", codecName(&codecs.MPEG4Audio{}))
	assert.Equal(t, "opus", codecName(&codecs.Opus{}))
}

type faultRecorder struct {
	mu     sync.Mutex
	faults []Fault
}

func (r *faultRecorder) hooks() Hooks {
	return Hooks{
		OnManifestParsed: func() {},
		OnFault: func(f Fault) {
			r.mu.Lock()
			r.faults = append(r.faults, f)
			r.mu.Unlock()
		},
	}
}

func (r *faultRecorder) list() []Fault {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Fault(nil), r.faults...)
}

func newTestFactory(maxRecoveries int, router Router) *HLSEngineFactory {
	cfg := config.PlaybackConfig{
		EngineEnabled:   true,
		SupportedCodecs: []string{"H264", "aac"},
		MaxRecoveries:   maxRecoveries,
	}
	return NewHLSEngineFactory(cfg, router, httpclient.NewWithDefaults(), nil)
}

func TestHLSEngineFactory(t *testing.T) {
	f := newTestFactory(3, Router{RelayPath: "/api/proxy"})
	assert.True(t, f.Supported())
	assert.Equal(t, []string{"h264", "aac"}, f.supported)

	disabled := NewHLSEngineFactory(config.PlaybackConfig{}, Router{}, httpclient.NewWithDefaults(), nil)
	assert.False(t, disabled.Supported())
}

func TestHLSEngine_RecoveryLimit(t *testing.T) {
	rec := &faultRecorder{}
	e := newTestFactory(0, Router{RelayPath: "/api/proxy"}).New(rec.hooks())
	defer e.Destroy()

	e.StartLoad()
	e.RecoverMediaError()

	faults := rec.list()
	require.Len(t, faults, 2)
	for _, f := range faults {
		assert.Equal(t, Fault{Severity: SeverityFatal, Category: CategoryOther, Detail: "recovery limit reached"}, f)
	}
}

func TestHLSEngine_DestroyedIgnoresRestart(t *testing.T) {
	rec := &faultRecorder{}
	e := newTestFactory(0, Router{RelayPath: "/api/proxy"}).New(rec.hooks())
	e.Destroy()
	e.Destroy()

	e.StartLoad()
	assert.Empty(t, rec.list())
	assert.Error(t, e.Load(context.Background(), "http://127.0.0.1/a.m3u8"))
}

func TestHLSEngine_LoadCancelledContext(t *testing.T) {
	e := newTestFactory(1, Router{RelayPath: "/api/proxy"}).New(Hooks{})
	defer e.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, e.Load(ctx, "http://127.0.0.1/a.m3u8"), context.Canceled)
}

func TestHLSEngine_FetchesThroughRelay(t *testing.T) {
	var mu sync.Mutex
	var relayed []string
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		relayed = append(relayed, r.URL.Query().Get("url"))
		mu.Unlock()
		w.WriteHeader(http.StatusNotFound)
	}))
	defer relay.Close()

	rec := &faultRecorder{}
	router := Router{RelayBase: relay.URL, RelayPath: "/api/proxy"}
	e := newTestFactory(0, router).New(rec.hooks())
	defer e.Destroy()

	target := "http://upstream.invalid/stream/index.m3u8"
	require.NoError(t, e.Load(context.Background(), target))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(relayed) > 0
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, target, relayed[0])
	mu.Unlock()

	require.Eventually(t, func() bool { return len(rec.list()) > 0 }, 5*time.Second, 10*time.Millisecond)
	assert.True(t, rec.list()[0].Fatal())
}
