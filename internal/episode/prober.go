package episode

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/jmylchreest/tambayan/internal/config"
	"github.com/jmylchreest/tambayan/internal/httpclient"
	"github.com/jmylchreest/tambayan/internal/metrics"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/maypok86/otter/v2"
)

const maxBodyBytes = 8 << 20

// Candidates returns the upstream URL shapes for one episode in priority order.
func Candidates(base, animeID, episodeID string) []string {
	id := animeID + "/" + episodeID
	return []string{
		base + "/watch?episodeId=" + id,
		base + "/watch/" + id,
		base + "/watch/" + episodeID,
		base + "/episode-sources?id=" + id,
		base + "/episode-sources/" + id,
	}
}

// Attempt records the outcome of one candidate request.
type Attempt struct {
	URL        string        `json:"url"`
	Status     int           `json:"status"`
	StatusText string        `json:"status_text,omitempty"`
	Message    string        `json:"message,omitempty"`
	Duration   time.Duration `json:"duration"`
}

// OK reports whether the attempt produced a usable body.
func (a Attempt) OK() bool {
	return a.Status >= 200 && a.Status < 300 && a.Message == ""
}

// Result is a successful probe.
type Result struct {
	Response *Response
	Endpoint string
	Attempts []Attempt
}

// ProbeError reports that every candidate failed.
type ProbeError struct {
	Attempts       int
	LastStatus     int
	LastStatusText string
	LastMessage    string
	Log            []Attempt
}

func (e *ProbeError) Error() string {
	detail := e.LastStatusText
	if detail == "" {
		detail = e.LastMessage
	}
	if e.LastStatus == 0 {
		return fmt.Sprintf("All %d URL formats failed. Last error: %s", e.Attempts, detail)
	}
	return fmt.Sprintf("All %d URL formats failed. Last error: HTTP %d: %s", e.Attempts, e.LastStatus, detail)
}

// Prober finds the candidate URL that serves an episode.
type Prober struct {
	client     *httpclient.Client
	candidates []string
	key        string
	remembered *otter.Cache[string, int]
	logger     *slog.Logger
}

// NewProber creates a prober for the configured episode. When cfg.Endpoint is
// set it is the only candidate.
func NewProber(cfg config.UpstreamConfig, client *httpclient.Client, logger *slog.Logger) *Prober {
	if logger == nil {
		logger = slog.Default()
	}

	candidates := []string{cfg.Endpoint}
	if cfg.Endpoint == "" {
		candidates = Candidates(cfg.BaseURL, cfg.AnimeID, cfg.EpisodeID)
	}

	p := &Prober{
		client:     client,
		candidates: candidates,
		key:        cfg.AnimeID + "/" + cfg.EpisodeID,
		logger:     observability.WithComponent(logger, "prober"),
	}
	if cfg.RememberEndpoint > 0 && len(candidates) > 1 {
		p.remembered = otter.Must(&otter.Options[string, int]{
			MaximumSize:      64,
			ExpiryCalculator: otter.ExpiryWriting[string, int](cfg.RememberEndpoint),
		})
	}
	return p
}

// Candidates returns the candidate URLs in their configured order.
func (p *Prober) Candidates() []string {
	return append([]string(nil), p.candidates...)
}

// order returns candidate indexes, a remembered confirmed index first.
func (p *Prober) order() []int {
	idx := make([]int, 0, len(p.candidates))
	first := -1
	if p.remembered != nil {
		if i, ok := p.remembered.GetIfPresent(p.key); ok && i >= 0 && i < len(p.candidates) {
			first = i
			idx = append(idx, i)
		}
	}
	for i := range p.candidates {
		if i != first {
			idx = append(idx, i)
		}
	}
	return idx
}

// Probe tries each candidate in turn, waiting for each before the next, and
// returns the first one that answers 2xx with a decodable body. Each
// candidate is tried at most once. When all fail the error is a *ProbeError.
func (p *Prober) Probe(ctx context.Context) (*Result, error) {
	defer observability.TimedOperation(ctx, p.logger, "probe")()

	var log []Attempt

	for _, i := range p.order() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		candidate := p.candidates[i]
		attempt, resp := p.try(ctx, candidate)
		log = append(log, attempt)

		if resp == nil {
			metrics.ProbeAttempts.WithLabelValues("failed").Inc()
			p.logger.Info("candidate failed",
				slog.Int("index", i),
				slog.String("url", candidate),
				slog.Int("status", attempt.Status),
				slog.String("message", attempt.Message),
			)
			continue
		}

		metrics.ProbeAttempts.WithLabelValues("ok").Inc()
		if p.remembered != nil {
			p.remembered.Set(p.key, i)
		}
		p.logger.Info("candidate succeeded",
			slog.Int("index", i),
			slog.String("url", candidate),
			slog.Int("attempts", len(log)),
			slog.Int("sources", len(resp.Sources)),
		)
		return &Result{Response: resp, Endpoint: candidate, Attempts: log}, nil
	}

	perr := &ProbeError{Attempts: len(log), Log: log}
	if n := len(log); n > 0 {
		last := log[n-1]
		perr.LastStatus = last.Status
		perr.LastStatusText = last.StatusText
		perr.LastMessage = last.Message
	}
	if p.remembered != nil {
		p.remembered.Invalidate(p.key)
	}
	p.logger.Warn("all candidates failed", slog.String("error", perr.Error()))
	return nil, perr
}

func (p *Prober) try(ctx context.Context, candidate string) (Attempt, *Response) {
	attempt := Attempt{URL: candidate}
	start := time.Now()
	fail := func(msg string) (Attempt, *Response) {
		attempt.Message = msg
		attempt.Duration = time.Since(start)
		return attempt, nil
	}

	if _, err := url.ParseRequestURI(candidate); err != nil {
		return fail(err.Error())
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, candidate, nil)
	if err != nil {
		return fail(err.Error())
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return fail(err.Error())
	}
	defer resp.Body.Close()

	attempt.Status = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		attempt.StatusText = http.StatusText(resp.StatusCode)
		return fail(fmt.Sprintf("unexpected status %d", resp.StatusCode))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return fail(fmt.Sprintf("reading body: %v", err))
	}
	if len(body) > maxBodyBytes {
		return fail(fmt.Sprintf("body too large: exceeds %d bytes", maxBodyBytes))
	}

	decoded, err := DecodeResponse(body)
	if err != nil {
		return fail(fmt.Sprintf("decoding body: %v", err))
	}

	attempt.Duration = time.Since(start)
	return attempt, decoded
}
