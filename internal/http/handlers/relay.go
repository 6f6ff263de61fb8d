package handlers

import (
	"context"
	"net/http"

	"github.com/danielgtaylor/huma/v2"
	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/tambayan/internal/relay"
)

// RelayHandler exposes the media relay.
type RelayHandler struct {
	relay *relay.Relay
}

// NewRelayHandler creates a new relay handler.
func NewRelayHandler(rl *relay.Relay) *RelayHandler {
	return &RelayHandler{relay: rl}
}

// RelayInput documents the relay query.
type RelayInput struct {
	URL   string `query:"url" doc:"Absolute upstream URL to fetch" example:"https://padorupado.ru/stream/index.m3u8"`
	Range string `header:"Range" doc:"Forwarded to the upstream"`
}

// RelayOptionsInput is the input for the relay preflight.
type RelayOptionsInput struct{}

// RelayOptionsOutput is the output for the relay preflight.
type RelayOptionsOutput struct{}

// Register registers documentation-only operations for the relay. Requests
// are served by the raw Chi handlers from RegisterChiRoutes, since the relay
// must set CORS headers and the upstream status before streaming the body.
func (h *RelayHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "relayFetch",
		Method:      http.MethodGet,
		Path:        h.relay.Path(),
		Summary:     "Relay an upstream resource",
		Description: `Fetches the URL with browser-like headers and the configured Referer and Origin,
then streams the upstream status and body back unmodified.

- Manifests (path ending in .m3u8) are served as application/vnd.apple.mpegurl.
- Content-Length and Content-Range are forwarded.
- A missing url answers 400; a failed fetch answers 500; an upstream error status is passed through.`,
		Tags: []string{"Relay"},
		Responses: map[string]*huma.Response{
			"200": {
				Description: "Upstream body",
				Headers: map[string]*huma.Param{
					"Content-Type":                  {Description: "Manifest MIME type or upstream content type"},
					"Cache-Control":                 {Description: "public, max-age=3600"},
					"Access-Control-Allow-Origin":   {Description: "Always *"},
					"Access-Control-Expose-Headers": {Description: "Content-Length, Content-Range"},
				},
			},
			"400": {Description: "URL parameter is required"},
			"500": {Description: "Failed to fetch the requested resource"},
		},
		SkipValidateBody: true,
	}, h.relayDocs)

	huma.Register(api, huma.Operation{
		OperationID: "relayPreflight",
		Method:      http.MethodOptions,
		Path:        h.relay.Path(),
		Summary:     "CORS preflight for the relay",
		Tags:        []string{"Relay"},
		Responses: map[string]*huma.Response{
			"200": {Description: "CORS preflight response with an empty body"},
		},
	}, h.relayOptionsDocs)
}

// RegisterChiRoutes registers the relay as raw Chi handlers.
func (h *RelayHandler) RegisterChiRoutes(router chi.Router) {
	router.Get(h.relay.Path(), h.relay.ServeHTTP)
	router.Options(h.relay.Path(), h.relay.ServePreflight)
}

func (h *RelayHandler) relayDocs(ctx context.Context, input *RelayInput) (*huma.StreamResponse, error) {
	return nil, huma.Error500InternalServerError("this endpoint is handled by raw Chi handlers", nil)
}

func (h *RelayHandler) relayOptionsDocs(ctx context.Context, input *RelayOptionsInput) (*RelayOptionsOutput, error) {
	return &RelayOptionsOutput{}, nil
}
