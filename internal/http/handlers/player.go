package handlers

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"
	"github.com/jmylchreest/tambayan/internal/episode"
	"github.com/jmylchreest/tambayan/internal/playback"
	"github.com/jmylchreest/tambayan/internal/service"
)

// PlayerHandler exposes the page actions as a JSON API.
type PlayerHandler struct {
	svc *service.PlayerService
}

// NewPlayerHandler creates a new player handler.
func NewPlayerHandler(svc *service.PlayerService) *PlayerHandler {
	return &PlayerHandler{svc: svc}
}

// Register registers the player routes with the API.
func (h *PlayerHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getEpisode",
		Method:      "GET",
		Path:        "/api/v1/episode",
		Summary:     "Get episode",
		Description: "Returns the result of the last upstream probe, including every attempted endpoint",
		Tags:        []string{"Episode"},
	}, h.GetEpisode)

	huma.Register(api, huma.Operation{
		OperationID: "reloadEpisode",
		Method:      "POST",
		Path:        "/api/v1/episode/reload",
		Summary:     "Reload episode",
		Description: "Tears down playback, probes the upstream endpoints again and schedules autoplay",
		Tags:        []string{"Episode"},
	}, h.ReloadEpisode)

	huma.Register(api, huma.Operation{
		OperationID: "getPlayback",
		Method:      "GET",
		Path:        "/api/v1/playback",
		Summary:     "Get playback state",
		Tags:        []string{"Playback"},
	}, h.GetPlayback)

	huma.Register(api, huma.Operation{
		OperationID: "selectSource",
		Method:      "POST",
		Path:        "/api/v1/playback/sources/{index}",
		Summary:     "Select quality",
		Description: "Binds the source at index, destroying the current playback session",
		Tags:        []string{"Playback"},
	}, h.SelectSource)

	huma.Register(api, huma.Operation{
		OperationID: "nextSource",
		Method:      "POST",
		Path:        "/api/v1/playback/next",
		Summary:     "Try next quality",
		Description: "Binds the next source. Answers 409 while loading or on the last source.",
		Tags:        []string{"Playback"},
	}, h.NextSource)

	huma.Register(api, huma.Operation{
		OperationID: "loadFirstSource",
		Method:      "POST",
		Path:        "/api/v1/playback/load",
		Summary:     "Load first source",
		Description: "Loads the first source either through the relay URL or directly",
		Tags:        []string{"Playback"},
	}, h.LoadFirstSource)

	huma.Register(api, huma.Operation{
		OperationID: "proxyTest",
		Method:      "POST",
		Path:        "/api/v1/playback/proxy-test",
		Summary:     "Test relay",
		Description: "Fetches the first source through this server's relay and summarizes the response",
		Tags:        []string{"Playback"},
	}, h.ProxyTest)
}

// GetEpisode returns the last probe result.
func (h *PlayerHandler) GetEpisode(ctx context.Context, input *EmptyInput) (*EpisodeOutput, error) {
	return &EpisodeOutput{Body: h.svc.Snapshot().Episode}, nil
}

// ReloadEpisode re-runs the page load.
func (h *PlayerHandler) ReloadEpisode(ctx context.Context, input *EmptyInput) (*EpisodeOutput, error) {
	if err := h.svc.Load(ctx); err != nil {
		return nil, mapPlayerError(err)
	}
	return &EpisodeOutput{Body: h.svc.Snapshot().Episode}, nil
}

// GetPlayback returns the playback snapshot.
func (h *PlayerHandler) GetPlayback(ctx context.Context, input *EmptyInput) (*PlaybackOutput, error) {
	return &PlaybackOutput{Body: h.svc.Snapshot()}, nil
}

// SelectSource binds a quality.
func (h *PlayerHandler) SelectSource(ctx context.Context, input *SelectSourceInput) (*PlaybackOutput, error) {
	if err := h.svc.LoadSource(ctx, input.Index); err != nil {
		return nil, mapPlayerError(err)
	}
	return &PlaybackOutput{Body: h.svc.Snapshot()}, nil
}

// NextSource binds the next quality.
func (h *PlayerHandler) NextSource(ctx context.Context, input *EmptyInput) (*PlaybackOutput, error) {
	if err := h.svc.Next(ctx); err != nil {
		return nil, mapPlayerError(err)
	}
	return &PlaybackOutput{Body: h.svc.Snapshot()}, nil
}

// LoadFirstSource loads source 0 in the requested mode.
func (h *PlayerHandler) LoadFirstSource(ctx context.Context, input *LoadModeInput) (*PlaybackOutput, error) {
	var err error
	switch input.Body.Mode {
	case "proxy":
		err = h.svc.LoadViaProxy(ctx)
	case "direct":
		err = h.svc.LoadDirect(ctx)
	default:
		return nil, huma.Error400BadRequest("mode must be proxy or direct")
	}
	if err != nil {
		return nil, mapPlayerError(err)
	}
	return &PlaybackOutput{Body: h.svc.Snapshot()}, nil
}

// ProxyTest runs the relay self-test.
func (h *PlayerHandler) ProxyTest(ctx context.Context, input *EmptyInput) (*ProxyTestOutput, error) {
	result, err := h.svc.ProxyTest(ctx)
	if err != nil {
		return nil, mapPlayerError(err)
	}
	return &ProxyTestOutput{Body: *result}, nil
}

// mapPlayerError converts service errors to HTTP errors.
func mapPlayerError(err error) error {
	var perr *episode.ProbeError
	switch {
	case errors.As(err, &perr):
		return huma.Error502BadGateway(perr.Error())
	case errors.Is(err, service.ErrNotLoaded), errors.Is(err, service.ErrNoNextSource), errors.Is(err, playback.ErrClosed):
		return huma.Error409Conflict(err.Error())
	case errors.Is(err, playback.ErrIndexOutOfRange):
		return huma.Error404NotFound("source not found", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return huma.Error503ServiceUnavailable("request cancelled", err)
	default:
		return huma.Error500InternalServerError("playback action failed", err)
	}
}
