package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"hearth/internal/analytics"
	"hearth/internal/core"
	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

// transparentGIF is a 1x1 transparent GIF89a.
var transparentGIF = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

const visitorCookieMaxAge = 365 * 24 * time.Hour

// PageRecorder stores pixel hits.
type PageRecorder interface {
	Record(ctx context.Context, h analytics.Hit) bool
}

// PathSummarizer reports traffic per path.
type PathSummarizer interface {
	Summary(ctx context.Context, days int) ([]types.PathStats, error)
}

// AnalyticsHandler serves the tracking pixel and the admin summary.
type AnalyticsHandler struct {
	recorder   PageRecorder
	summary    PathSummarizer
	cookieName string
	siteHost   string
	secure     bool
	logger     *slog.Logger
}

// AnalyticsConfig configures the visitor cookie and same-site referrer
// filtering.
type AnalyticsConfig struct {
	CookieName string
	SiteHost   string
	Secure     bool
}

// NewAnalyticsHandler creates an AnalyticsHandler. The Recorder in the
// analytics package satisfies both interfaces.
func NewAnalyticsHandler(recorder PageRecorder, summary PathSummarizer, cfg AnalyticsConfig, l *slog.Logger) *AnalyticsHandler {
	if cfg.CookieName == "" {
		cfg.CookieName = "hearth_vid"
	}
	if l == nil {
		l = slog.Default()
	}
	return &AnalyticsHandler{
		recorder:   recorder,
		summary:    summary,
		cookieName: cfg.CookieName,
		siteHost:   cfg.SiteHost,
		secure:     cfg.Secure,
		logger:     l,
	}
}

// RegisterRoutes mounts GET /px.gif. Over-limit hits still get the image
// but are not recorded.
func (h *AnalyticsHandler) RegisterRoutes(r chi.Router, g RouteGuards) {
	r.With(g.limitSilently(ratelimit.Pixel)).Get("/px.gif", h.HandlePixel)
}

// RegisterAdminRoutes mounts GET /analytics/summary.
func (h *AnalyticsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/analytics/summary", h.HandleSummary)
}

// HandlePixel records a page view and returns the GIF. Query: p (path),
// r (referrer). It never fails from the browser's point of view.
func (h *AnalyticsHandler) HandlePixel(w http.ResponseWriter, r *http.Request) {
	visitorID := h.visitorID(w, r)

	if !core.WasRateLimited(r.Context()) {
		q := r.URL.Query()
		h.recorder.Record(r.Context(), analytics.Hit{
			Path:      q.Get("p"),
			Referrer:  q.Get("r"),
			VisitorID: visitorID,
			UserAgent: r.UserAgent(),
			SiteHost:  h.siteHost,
		})
	}

	w.Header().Set("Content-Type", "image/gif")
	w.Header().Set("Content-Length", strconv.Itoa(len(transparentGIF)))
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(transparentGIF)
}

// visitorID returns the visitor cookie, issuing a fresh one when it is
// missing or not a UUID.
func (h *AnalyticsHandler) visitorID(w http.ResponseWriter, r *http.Request) string {
	if c, err := r.Cookie(h.cookieName); err == nil {
		if _, perr := uuid.Parse(c.Value); perr == nil {
			return c.Value
		}
	}
	id := uuid.NewString()
	http.SetCookie(w, &http.Cookie{
		Name:     h.cookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(visitorCookieMaxAge.Seconds()),
		HttpOnly: true,
		Secure:   h.secure,
		SameSite: http.SameSiteLaxMode,
	})
	return id
}

// HandleSummary returns views and unique visitors per path. Query: days
// (default 7, clamped to 1..90).
func (h *AnalyticsHandler) HandleSummary(w http.ResponseWriter, r *http.Request) {
	days := 7
	if raw := r.URL.Query().Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			core.Error(w, r, types.NewAppErrorWithDetails(types.ErrCodeValidationInvalidField,
				"days must be an integer", err, map[string]any{"field": "days"}))
			return
		}
		days = max(1, min(n, analytics.MaxSummaryDays))
	}

	paths, err := h.summary.Summary(r.Context(), days)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	if paths == nil {
		paths = []types.PathStats{}
	}
	core.OK(w, r, map[string]any{"days": days, "paths": paths})
}
