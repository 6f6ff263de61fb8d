package handlers

import (
	"bytes"
	"embed"
	"encoding/json"
	"html/template"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmylchreest/tambayan/internal/observability"
	"github.com/jmylchreest/tambayan/internal/service"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

//go:embed templates/*.html.tmpl
var templateFS embed.FS

// PageHandler renders the debug page and accepts its form actions.
type PageHandler struct {
	svc  *service.PlayerService
	tmpl *template.Template
}

// pageData is the template model.
type pageData struct {
	Title     string
	Snapshot  service.PageState
	Loading   bool
	Failed    bool
	NoSources bool
	RawJSON   string
}

// NewPageHandler parses the embedded page template.
func NewPageHandler(svc *service.PlayerService) *PageHandler {
	printer := message.NewPrinter(language.English)
	funcs := template.FuncMap{
		"num": func(n int) string { return printer.Sprintf("%d", n) },
		"ms": func(d time.Duration) string {
			return printer.Sprintf("%.1f ms", float64(d.Microseconds())/1000)
		},
		"inc": func(i int) int { return i + 1 },
	}
	tmpl := template.Must(template.New("page.html.tmpl").Funcs(funcs).ParseFS(templateFS, "templates/page.html.tmpl"))
	return &PageHandler{svc: svc, tmpl: tmpl}
}

// RegisterChiRoutes registers the page and its form actions.
func (h *PageHandler) RegisterChiRoutes(router chi.Router) {
	router.Get("/", h.ServePage)
	router.Route("/actions", func(r chi.Router) {
		r.Post("/reload", h.action(func(req *http.Request) error { return h.svc.Load(req.Context()) }))
		r.Post("/sources/{index}", h.action(func(req *http.Request) error {
			index, err := strconv.Atoi(chi.URLParam(req, "index"))
			if err != nil {
				return err
			}
			return h.svc.LoadSource(req.Context(), index)
		}))
		r.Post("/next", h.action(func(req *http.Request) error { return h.svc.Next(req.Context()) }))
		r.Post("/load/proxy", h.action(func(req *http.Request) error { return h.svc.LoadViaProxy(req.Context()) }))
		r.Post("/load/direct", h.action(func(req *http.Request) error { return h.svc.LoadDirect(req.Context()) }))
		r.Post("/proxy-test", h.action(func(req *http.Request) error {
			_, err := h.svc.ProxyTest(req.Context())
			return err
		}))
	})
}

// ServePage renders the current snapshot.
func (h *PageHandler) ServePage(w http.ResponseWriter, r *http.Request) {
	snap := h.svc.Snapshot()
	data := pageData{
		Title:     "Episode playback",
		Snapshot:  snap,
		Loading:   snap.Episode.State == service.ProbeLoading || snap.Episode.State == service.ProbeIdle,
		Failed:    snap.Episode.State == service.ProbeFailed,
		NoSources: snap.Episode.State == service.ProbeLoaded && len(snap.Episode.Sources) == 0,
		RawJSON:   indentJSON(snap.Episode.Raw),
	}

	var buf bytes.Buffer
	if err := h.tmpl.Execute(&buf, data); err != nil {
		observability.LoggerFromContext(r.Context()).Error("failed to render page",
			slog.String("error", err.Error()),
		)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(buf.Bytes())
}

// action runs fn and redirects back to the page. Failures are logged and
// reflected in the next render.
func (h *PageHandler) action(fn func(*http.Request) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := fn(r); err != nil {
			logger := observability.WithOperation(observability.LoggerFromContext(r.Context()), "page_action")
			observability.WithError(logger, err).Warn("page action failed",
				slog.String("path", r.URL.Path),
			)
		}
		http.Redirect(w, r, "/", http.StatusSeeOther)
	}
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}
