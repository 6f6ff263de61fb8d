// Package playback binds episode sources to a rendering surface, driving an
// HLS engine where the surface cannot play a source natively, and reacts to
// engine faults by recovering, falling back to the next quality, or giving up.
package playback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jmylchreest/tambayan/internal/episode"
	"github.com/jmylchreest/tambayan/internal/metrics"
	"github.com/jmylchreest/tambayan/internal/observability"
)

// State is the coarse playback state.
type State string

// Playback states.
const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateError   State = "error"
)

// Status messages shown to the user.
const (
	StatusLoadingMP4   = "Loading MP4 video"
	StatusNativeHLS    = "Using native HLS support"
	StatusHLSLoaded    = "HLS stream loaded successfully"
	StatusNoHLS        = "HLS not supported"
	StatusNetworkRetry = "Network error - attempting recovery..."
	StatusMediaRetry   = "Media error - attempting recovery..."
	StatusAllFailed    = "Codec not supported by browser. All qualities failed."
)

// Errors returned by Bind.
var (
	ErrNoSources       = errors.New("no sources to play")
	ErrIndexOutOfRange = errors.New("source index out of range")
	ErrClosed          = errors.New("controller closed")
)

// Severity distinguishes faults that stop playback from warnings.
type Severity string

// Fault severities.
const (
	SeverityFatal    Severity = "fatal"
	SeverityNonFatal Severity = "nonfatal"
)

// Category is the kind of failure an engine reports.
type Category string

// Fault categories.
const (
	CategoryNetwork Category = "network"
	CategoryMedia   Category = "media"
	CategoryCodec   Category = "codec"
	CategoryOther   Category = "other"
)

// Fault is an engine failure, independent of any particular engine library.
type Fault struct {
	Severity Severity
	Category Category
	Detail   string
}

// Fatal reports whether the fault stops playback.
func (f Fault) Fatal() bool {
	return f.Severity == SeverityFatal
}

// Hooks are the callbacks an engine reports through. They may be called from
// any goroutine.
type Hooks struct {
	OnManifestParsed func()
	OnFault          func(Fault)
}

// Engine plays one HLS source.
type Engine interface {
	// Load starts playback of url. ctx bounds only the start.
	Load(ctx context.Context, url string) error
	// StartLoad restarts loading after a network fault.
	StartLoad()
	// RecoverMediaError restarts decoding after a media fault.
	RecoverMediaError()
	// Destroy releases the engine. No hooks fire afterwards.
	Destroy()
}

// EngineFactory creates engines.
type EngineFactory interface {
	Supported() bool
	New(hooks Hooks) Engine
}

// Surface is where a source URL is rendered.
type Surface interface {
	SetSource(url string)
	Source() string
	CanPlayNative() bool
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State  State  `json:"state"`
	Status string `json:"status"`
	Index  int    `json:"index"`
	Source string `json:"source,omitempty"`
	Engine bool   `json:"engine"`
}

// Options configures a Controller.
type Options struct {
	FallbackDelay time.Duration
	Logger        *slog.Logger
}

// Controller owns at most one playback binding at a time.
type Controller struct {
	surface       Surface
	factory       EngineFactory
	fallbackDelay time.Duration
	logger        *slog.Logger

	mu      sync.Mutex
	gen     uint64
	engine  Engine
	timer   *time.Timer
	sources []episode.Source
	index   int
	state   State
	status  string
	closed  bool
}

// NewController creates a controller rendering onto surface. factory may be
// nil when no engine is available.
func NewController(surface Surface, factory EngineFactory, opts Options) *Controller {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		surface:       surface,
		factory:       factory,
		fallbackDelay: opts.FallbackDelay,
		logger:        observability.WithComponent(logger, "playback"),
		state:         StateIdle,
	}
}

// Bind destroys the current binding and binds sources[index].
func (c *Controller) Bind(ctx context.Context, sources []episode.Source, index int) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	if index < 0 || index >= len(sources) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, index, len(sources))
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	old := c.detachLocked()
	gen := c.gen
	c.mu.Unlock()

	c.destroy(old)

	c.mu.Lock()
	if gen != c.gen {
		// superseded while the old engine was torn down
		c.mu.Unlock()
		return nil
	}

	src := sources[index]
	c.sources = sources
	c.index = index
	c.state = StateLoading
	c.status = ""

	logger := c.logger.With(
		slog.Int("index", index),
		slog.String("quality", src.Label()),
		slog.String("format", string(src.Format)),
	)

	switch {
	case !src.IsHLS():
		c.surface.SetSource(src.URL)
		c.setLocked(StateReady, StatusLoadingMP4)
		c.mu.Unlock()
		logger.Info("bound mp4 source")
		return nil

	case c.surface.CanPlayNative():
		c.surface.SetSource(src.URL)
		c.setLocked(StateReady, StatusNativeHLS)
		c.mu.Unlock()
		logger.Info("bound hls source natively")
		return nil

	case c.factory == nil || !c.factory.Supported():
		c.surface.SetSource("")
		c.setLocked(StateError, StatusNoHLS)
		c.mu.Unlock()
		logger.Warn("no hls engine available")
		return nil
	}

	c.surface.SetSource(src.URL)
	engine := c.factory.New(Hooks{
		OnManifestParsed: func() { c.manifestParsed(gen) },
		OnFault:          func(f Fault) { c.fault(gen, f) },
	})
	c.engine = engine
	metrics.PlaybackEnginesLive.Inc()
	c.mu.Unlock()

	logger.Info("loading hls source through engine")
	if err := engine.Load(ctx, src.URL); err != nil {
		c.mu.Lock()
		if gen == c.gen {
			c.setLocked(StateError, "Fatal error: "+err.Error())
		}
		c.mu.Unlock()
		return fmt.Errorf("loading source %d: %w", index, err)
	}
	return nil
}

// Close releases the active engine and cancels pending timers. Later Binds
// fail with ErrClosed.
func (c *Controller) Close() {
	c.mu.Lock()
	c.closed = true
	old := c.detachLocked()
	c.state = StateIdle
	c.status = ""
	c.mu.Unlock()

	c.destroy(old)
}

// Reset releases the active binding like Close but leaves the controller
// usable.
func (c *Controller) Reset() {
	c.mu.Lock()
	old := c.detachLocked()
	c.sources = nil
	c.index = 0
	c.state = StateIdle
	c.status = ""
	c.surface.SetSource("")
	c.mu.Unlock()

	c.destroy(old)
}

// Snapshot returns the current state.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return Snapshot{
		State:  c.state,
		Status: c.status,
		Index:  c.index,
		Source: c.surface.Source(),
		Engine: c.engine != nil,
	}
}

// detachLocked invalidates the current generation and hands back the engine
// for destruction outside the lock.
func (c *Controller) detachLocked() Engine {
	c.gen++
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	old := c.engine
	c.engine = nil
	return old
}

func (c *Controller) destroy(e Engine) {
	if e == nil {
		return
	}
	e.Destroy()
	metrics.PlaybackEnginesLive.Dec()
}

func (c *Controller) setLocked(state State, status string) {
	c.state = state
	c.status = status
}

func (c *Controller) manifestParsed(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen != c.gen || c.state == StateError {
		return
	}
	c.setLocked(StateReady, StatusHLSLoaded)
	c.logger.Info("hls manifest parsed", slog.Int("index", c.index))
}

func (c *Controller) fault(gen uint64, f Fault) {
	c.mu.Lock()
	if gen != c.gen || c.engine == nil {
		c.mu.Unlock()
		return
	}
	metrics.PlaybackFaults.WithLabelValues(string(f.Severity), string(f.Category)).Inc()

	// Any fault ends the loading phase, recovered or not.
	if c.state == StateLoading {
		c.state = StateReady
	}

	logger := c.logger.With(
		slog.Int("index", c.index),
		slog.String("severity", string(f.Severity)),
		slog.String("category", string(f.Category)),
		slog.String("detail", f.Detail),
	)

	if !f.Fatal() {
		c.status = "Warning: " + f.Detail
		c.mu.Unlock()
		logger.Debug("non-fatal playback fault")
		return
	}

	var recovery func()
	switch f.Category {
	case CategoryNetwork:
		c.status = StatusNetworkRetry
		recovery = c.engine.StartLoad
	case CategoryMedia:
		c.status = StatusMediaRetry
		recovery = c.engine.RecoverMediaError
	case CategoryCodec:
		if next := c.index + 1; next < len(c.sources) {
			c.status = fmt.Sprintf("Codec error - trying next quality: %s...", c.sources[next].Label())
			if c.timer == nil {
				sources := c.sources
				c.timer = time.AfterFunc(c.fallbackDelay, func() { c.fallback(gen, sources, next) })
			}
		} else {
			c.setLocked(StateError, StatusAllFailed)
		}
	default:
		c.setLocked(StateError, "Fatal error: "+f.Detail)
	}
	c.mu.Unlock()

	logger.Warn("fatal playback fault")
	if recovery != nil {
		recovery()
	}
}

func (c *Controller) fallback(gen uint64, sources []episode.Source, next int) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}
	c.timer = nil
	c.mu.Unlock()

	if err := c.Bind(context.Background(), sources, next); err != nil {
		c.logger.Warn("quality fallback failed", slog.Int("index", next), slog.String("error", err.Error()))
	}
}
