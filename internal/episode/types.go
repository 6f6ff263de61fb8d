// Package episode discovers the playable sources of a single episode from the
// upstream content API.
package episode

import (
	"encoding/json"
	"strings"
)

// Format is how a source is delivered.
type Format string

// Source formats.
const (
	FormatHLS Format = "hls"
	FormatMP4 Format = "mp4"
)

// Source is one playable variant of an episode.
type Source struct {
	URL     string `json:"url"`
	Format  Format `json:"format"`
	Quality string `json:"quality"`
}

// IsHLS reports whether the source is a segmented HLS manifest.
func (s Source) IsHLS() bool {
	return s.Format == FormatHLS
}

// Label returns the quality label, falling back to the format name.
func (s Source) Label() string {
	if q := strings.TrimSpace(s.Quality); q != "" {
		return q
	}
	return strings.ToUpper(string(s.Format))
}

// Headers are the request headers the upstream says its sources need.
type Headers struct {
	Referer   string `json:"Referer,omitempty"`
	UserAgent string `json:"User-Agent,omitempty"`
	WatchSB   string `json:"watchsb,omitempty"`
}

// IsEmpty reports whether no header is set.
func (h Headers) IsEmpty() bool {
	return h.Referer == "" && h.UserAgent == "" && h.WatchSB == ""
}

// Response is the decoded upstream body.
type Response struct {
	Sources []Source
	Headers Headers
	// Raw is the body exactly as received.
	Raw json.RawMessage
}

// wireSource and wireResponse mirror the upstream JSON shape.
type wireSource struct {
	URL     string `json:"url"`
	IsM3U8  bool   `json:"isM3U8"`
	Quality string `json:"quality"`
}

type wireResponse struct {
	Sources []wireSource `json:"sources"`
	Headers *Headers     `json:"headers"`
}

// DecodeResponse parses an upstream body. The body must be a JSON object;
// a missing sources array decodes to an empty list.
func DecodeResponse(body []byte) (*Response, error) {
	var wire wireResponse
	if err := json.Unmarshal(body, &wire); err != nil {
		return nil, err
	}

	resp := &Response{
		Sources: make([]Source, 0, len(wire.Sources)),
		Raw:     json.RawMessage(body),
	}
	for _, ws := range wire.Sources {
		src := Source{URL: ws.URL, Format: FormatMP4, Quality: ws.Quality}
		if ws.IsM3U8 {
			src.Format = FormatHLS
		}
		resp.Sources = append(resp.Sources, src)
	}
	if wire.Headers != nil {
		resp.Headers = *wire.Headers
	}
	return resp, nil
}
