// Package service provides the page-level logic that ties the endpoint prober
// to the playback controller.
package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/grafov/m3u8"
	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/episode"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/jmylchreest/tambayan/internal/playback"
	"github.com/jmylchreest/tambayan/internal/urlutil"
	"github.com/samber/lo"
)

const (
	previewChars      = 200
	maxProxyTestBytes = 1 << 20
)

// Errors returned by PlayerService actions.
var (
	ErrNotLoaded    = errors.New("episode not loaded")
	ErrNoNextSource = errors.New("no next source available")
)

// Prober finds an episode's sources.
type Prober interface {
	Probe(ctx context.Context) (*episode.Result, error)
}

// ProbeState is the state of the page load.
type ProbeState string

// Probe states.
const (
	ProbeIdle    ProbeState = "idle"
	ProbeLoading ProbeState = "loading"
	ProbeLoaded  ProbeState = "loaded"
	ProbeFailed  ProbeState = "failed"
)

// EpisodeView is the outcome of the last page load.
type EpisodeView struct {
	State    ProbeState        `json:"state"`
	Endpoint string            `json:"endpoint,omitempty"`
	Attempts []episode.Attempt `json:"attempts,omitempty"`
	Sources  []episode.Source  `json:"sources,omitempty"`
	Headers  episode.Headers   `json:"headers"`
	Raw      json.RawMessage   `json:"raw,omitempty"`
	Error    string            `json:"error,omitempty"`
	LoadedAt time.Time         `json:"loaded_at,omitempty"`
}

// PlaylistSummary describes a manifest returned by the proxy test.
type PlaylistSummary struct {
	Type      string   `json:"type"`
	Variants  int      `json:"variants,omitempty"`
	Segments  int      `json:"segments,omitempty"`
	Closed    bool     `json:"closed,omitempty"`
	Qualities []string `json:"qualities,omitempty"`
}

// ProxyTestResult is the outcome of fetching the first source through the relay.
type ProxyTestResult struct {
	URL         string           `json:"url"`
	OK          bool             `json:"ok"`
	Status      int              `json:"status,omitempty"`
	ContentType string           `json:"content_type,omitempty"`
	Preview     string           `json:"preview,omitempty"`
	Playlist    *PlaylistSummary `json:"playlist,omitempty"`
	Message     string           `json:"message"`
}

// PageState is everything the debug page renders.
type PageState struct {
	Episode   EpisodeView       `json:"episode"`
	Playback  playback.Snapshot `json:"playback"`
	Current   *episode.Source   `json:"current,omitempty"`
	CanNext   bool              `json:"can_next"`
	ProxyTest *ProxyTestResult  `json:"proxy_test,omitempty"`
}

// PlayerService runs page loads and playback actions for one episode.
type PlayerService struct {
	prober     Prober
	controller *playback.Controller
	client     *httpclient.Client
	cfg        config.PlaybackConfig
	relayBase  string
	relayPath  string
	logger     *slog.Logger

	mu        sync.RWMutex
	gen       uint64
	state     ProbeState
	result    *episode.Result
	probeErr  error
	attempts  []episode.Attempt
	loadedAt  time.Time
	autoplay  *time.Timer
	proxyTest *ProxyTestResult
}

// NewPlayerService creates a player service.
func NewPlayerService(prober Prober, controller *playback.Controller, client *httpclient.Client, cfg *config.Config) *PlayerService {
	return &PlayerService{
		prober:     prober,
		controller: controller,
		client:     client,
		cfg:        cfg.Playback,
		relayBase:  urlutil.NormalizeBaseURL(cfg.Server.BaseURL()),
		relayPath:  cfg.Relay.Path,
		logger:     slog.Default(),
		state:      ProbeIdle,
	}
}

// WithLogger sets the logger for the service.
func (s *PlayerService) WithLogger(logger *slog.Logger) *PlayerService {
	s.logger = logger
	return s
}

// Load tears down the current session, probes the upstream once, and on
// success schedules autoplay of the first source.
func (s *PlayerService) Load(ctx context.Context) (err error) {
	defer observability.TimedOperationWithError(ctx, s.logger, "episode_load", &err)()

	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.stopAutoplayLocked()
	s.state = ProbeLoading
	s.result = nil
	s.probeErr = nil
	s.attempts = nil
	s.proxyTest = nil
	s.mu.Unlock()

	s.controller.Reset()

	result, probeErr := s.prober.Probe(ctx)

	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen {
		return nil
	}
	s.loadedAt = time.Now()

	if probeErr != nil {
		s.state = ProbeFailed
		s.probeErr = probeErr
		var perr *episode.ProbeError
		if errors.As(probeErr, &perr) {
			s.attempts = perr.Log
		}
		return probeErr
	}

	s.state = ProbeLoaded
	s.result = result
	s.attempts = result.Attempts
	s.logger.Info("episode loaded",
		slog.String("endpoint", httpclient.ObfuscateURL(result.Endpoint)),
		slog.Int("sources", len(result.Response.Sources)),
		slog.Any("qualities", lo.Map(result.Response.Sources, func(src episode.Source, _ int) string { return src.Label() })),
	)

	if s.cfg.Autoplay && len(result.Response.Sources) > 0 {
		sources := result.Response.Sources
		s.autoplay = time.AfterFunc(s.cfg.AutoplayDelay, func() { s.autoplayFirst(gen, sources) })
	}
	return nil
}

func (s *PlayerService) autoplayFirst(gen uint64, sources []episode.Source) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.autoplay = nil
	s.mu.Unlock()

	if err := s.controller.Bind(context.Background(), sources, 0); err != nil {
		s.logger.Warn("autoplay failed", slog.String("error", err.Error()))
	}
}

func (s *PlayerService) stopAutoplayLocked() {
	if s.autoplay != nil {
		s.autoplay.Stop()
		s.autoplay = nil
	}
}

// takeSources returns the loaded sources and cancels pending autoplay, since any
// explicit action supersedes it.
func (s *PlayerService) takeSources() ([]episode.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.result == nil || len(s.result.Response.Sources) == 0 {
		return nil, ErrNotLoaded
	}
	s.stopAutoplayLocked()
	return s.result.Response.Sources, nil
}

// LoadSource binds the source at index.
func (s *PlayerService) LoadSource(ctx context.Context, index int) error {
	sources, err := s.takeSources()
	if err != nil {
		return err
	}
	return s.controller.Bind(ctx, sources, index)
}

// Next binds the next quality. It is unavailable while a source is loading
// or when the current source is the last.
func (s *PlayerService) Next(ctx context.Context) error {
	sources, err := s.takeSources()
	if err != nil {
		return err
	}
	snap := s.controller.Snapshot()
	if !canAdvance(snap, len(sources)) {
		return ErrNoNextSource
	}
	return s.controller.Bind(ctx, sources, snap.Index+1)
}

// LoadViaProxy binds the first source with its URL wrapped in the relay URL.
func (s *PlayerService) LoadViaProxy(ctx context.Context) error {
	sources, err := s.takeSources()
	if err != nil {
		return err
	}
	proxied := append([]episode.Source(nil), sources...)
	proxied[0].URL = urlutil.RelayURL(s.relayBase, s.relayPath, proxied[0].URL)
	return s.controller.Bind(ctx, proxied, 0)
}

// LoadDirect binds the first source as returned by the upstream.
func (s *PlayerService) LoadDirect(ctx context.Context) error {
	return s.LoadSource(ctx, 0)
}

// ProxyTest fetches the first source through this server's relay.
func (s *PlayerService) ProxyTest(ctx context.Context) (*ProxyTestResult, error) {
	s.mu.RLock()
	var src episode.Source
	loaded := s.result != nil && len(s.result.Response.Sources) > 0
	if loaded {
		src = s.result.Response.Sources[0]
	}
	s.mu.RUnlock()
	if !loaded {
		return nil, ErrNotLoaded
	}

	result := &ProxyTestResult{URL: urlutil.RelayURL(s.relayBase, s.relayPath, src.URL)}
	s.runProxyTest(ctx, result)

	s.mu.Lock()
	s.proxyTest = result
	s.mu.Unlock()

	s.logger.Info("proxy test finished",
		slog.Bool("ok", result.OK),
		slog.Int("status", result.Status),
		slog.String("content_type", result.ContentType),
	)
	return result, nil
}

func (s *PlayerService) runProxyTest(ctx context.Context, result *ProxyTestResult) {
	resp, err := s.client.Get(ctx, result.URL)
	if err != nil {
		result.Message = fmt.Sprintf("Proxy test error: %v", err)
		return
	}
	defer resp.Body.Close()

	result.Status = resp.StatusCode
	result.ContentType = resp.Header.Get("Content-Type")
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Message = fmt.Sprintf("Proxy test failed! Status: %d", resp.StatusCode)
		return
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProxyTestBytes))
	if err != nil {
		result.Message = fmt.Sprintf("Proxy test error: %v", err)
		return
	}

	result.OK = true
	result.Message = fmt.Sprintf("Proxy test successful! Status: %d", resp.StatusCode)
	result.Preview = preview(body)
	if bytes.HasPrefix(bytes.TrimSpace(body), []byte("#EXTM3U")) {
		result.Playlist = summarizePlaylist(body)
	}
}

// preview returns the first previewChars characters of body.
func preview(body []byte) string {
	runes := []rune(string(body))
	if len(runes) > previewChars {
		runes = runes[:previewChars]
	}
	return string(runes)
}

// summarizePlaylist decodes an HLS manifest leniently. It returns nil when
// the manifest cannot be decoded.
func summarizePlaylist(body []byte) *PlaylistSummary {
	pl, listType, err := m3u8.DecodeFrom(bytes.NewReader(body), false)
	if err != nil {
		return nil
	}

	switch listType {
	case m3u8.MASTER:
		master := pl.(*m3u8.MasterPlaylist)
		variants := lo.Compact(master.Variants)
		return &PlaylistSummary{
			Type:     "master",
			Variants: len(variants),
			Qualities: lo.Map(variants, func(v *m3u8.Variant, _ int) string {
				if v.Resolution != "" {
					return v.Resolution
				}
				return fmt.Sprintf("%dbps", v.Bandwidth)
			}),
		}
	case m3u8.MEDIA:
		media := pl.(*m3u8.MediaPlaylist)
		return &PlaylistSummary{
			Type:     "media",
			Segments: int(media.Count()),
			Closed:   media.Closed,
		}
	}
	return nil
}

// Snapshot returns the page state.
func (s *PlayerService) Snapshot() PageState {
	s.mu.RLock()
	view := EpisodeView{
		State:    s.state,
		Attempts: s.attempts,
		LoadedAt: s.loadedAt,
	}
	if s.probeErr != nil {
		view.Error = s.probeErr.Error()
	}
	if s.result != nil {
		view.Endpoint = s.result.Endpoint
		view.Sources = s.result.Response.Sources
		view.Headers = s.result.Response.Headers
		view.Raw = s.result.Response.Raw
	}
	proxyTest := s.proxyTest
	s.mu.RUnlock()

	snap := PageState{
		Episode:   view,
		Playback:  s.controller.Snapshot(),
		ProxyTest: proxyTest,
	}
	if n := len(view.Sources); n > 0 && snap.Playback.State != playback.StateIdle && snap.Playback.Index < n {
		current := view.Sources[snap.Playback.Index]
		snap.Current = &current
		snap.CanNext = canAdvance(snap.Playback, n)
	}
	return snap
}

// Close cancels pending autoplay and releases the playback session.
func (s *PlayerService) Close() {
	s.mu.Lock()
	s.gen++
	s.stopAutoplayLocked()
	s.mu.Unlock()

	s.controller.Close()
}

func canAdvance(snap playback.Snapshot, n int) bool {
	return snap.State != playback.StateLoading && snap.Index+1 < n
}
