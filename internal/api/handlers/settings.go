package handlers

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/settings"
	"hearth/internal/types"
)

// maxSettingsBody matches the settings document size limit.
const maxSettingsBody = 64 << 10

// SettingsService reads and writes typed settings documents.
type SettingsService interface {
	Get(ctx context.Context, kind settings.Kind) (any, error)
	Put(ctx context.Context, kind settings.Kind, raw []byte) (any, error)
}

// SiteReader returns the public site profile.
type SiteReader interface {
	Site(ctx context.Context) (*settings.Site, error)
}

// SettingsHandler serves admin settings and the public site profile.
type SettingsHandler struct {
	svc    SettingsService
	site   SiteReader
	logger *slog.Logger
}

// NewSettingsHandler creates a SettingsHandler.
func NewSettingsHandler(svc SettingsService, site SiteReader, l *slog.Logger) *SettingsHandler {
	if l == nil {
		l = slog.Default()
	}
	return &SettingsHandler{svc: svc, site: site, logger: l}
}

// RegisterRoutes mounts GET /api/site.
func (h *SettingsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/api/site", h.HandleSite)
}

// RegisterAdminRoutes mounts GET and PUT /settings/{kind}.
func (h *SettingsHandler) RegisterAdminRoutes(r chi.Router) {
	r.Get("/settings/{kind}", h.HandleGet)
	r.Put("/settings/{kind}", h.HandlePut)
}

// HandleSite returns the site profile used by the public pages.
func (h *SettingsHandler) HandleSite(w http.ResponseWriter, r *http.Request) {
	site, err := h.site.Site(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=60")
	core.OK(w, r, map[string]any{"site": site})
}

// HandleGet returns one settings document, or its defaults.
func (h *SettingsHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	kind, err := settings.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}
	doc, err := h.svc.Get(r.Context(), kind)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, map[string]any{"kind": string(kind), "settings": doc})
}

// HandlePut replaces one settings document. The body is the document
// itself; it is validated strictly and stored normalized.
func (h *SettingsHandler) HandlePut(w http.ResponseWriter, r *http.Request) {
	kind, err := settings.ParseKind(chi.URLParam(r, "kind"))
	if err != nil {
		core.Error(w, r, err)
		return
	}

	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxSettingsBody))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			core.Error(w, r, types.NewAppError(types.ErrCodeValidationSettingsValue, "settings document is too large", nil))
			return
		}
		core.Error(w, r, types.NewAppError(types.ErrCodeValidationInvalidBody, "could not read request body", err))
		return
	}

	doc, err := h.svc.Put(r.Context(), kind, raw)
	if err != nil {
		core.Error(w, r, err)
		return
	}
	core.OK(w, r, map[string]any{"kind": string(kind), "settings": doc})
}
