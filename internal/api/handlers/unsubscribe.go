package handlers

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"html/template"
	"log/slog"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"hearth/internal/core"
	"hearth/internal/notifications/email"
	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

//go:embed templates/unsubscribe.html
var pageFS embed.FS

var unsubscribePage = template.Must(template.ParseFS(pageFS, "templates/unsubscribe.html"))

const (
	// maxFormBody bounds form-encoded unsubscribe posts.
	maxFormBody     = 64 << 10
	defaultSiteName = "Hearth"
)

// UnsubscribeService opts out the client owning a token.
type UnsubscribeService interface {
	Unsubscribe(ctx context.Context, token string) (email.UnsubscribeStatus, error)
}

// UnsubscribeHandler serves the self-service unsubscribe link. Browsers get
// a plain confirmation page; API clients asking for JSON get
// {"ok":true,"status":...}.
type UnsubscribeHandler struct {
	svc     UnsubscribeService
	site    SiteReader
	homeURL string
	logger  *slog.Logger
}

// NewUnsubscribeHandler creates an UnsubscribeHandler. site may be nil, in
// which case the page uses the default site name.
func NewUnsubscribeHandler(svc UnsubscribeService, site SiteReader, homeURL string, l *slog.Logger) *UnsubscribeHandler {
	if l == nil {
		l = slog.Default()
	}
	return &UnsubscribeHandler{svc: svc, site: site, homeURL: homeURL, logger: l}
}

// RegisterRoutes mounts GET and POST on /unsubscribe and /api/unsubscribe.
// POST also accepts RFC 8058 one-click requests.
func (h *UnsubscribeHandler) RegisterRoutes(r chi.Router, g RouteGuards) {
	r.Group(func(r chi.Router) {
		r.Use(g.limit(ratelimit.Unsubscribe))
		for _, p := range []string{"/unsubscribe", "/api/unsubscribe"} {
			r.Get(p, h.HandleUnsubscribe)
			r.Post(p, h.HandleUnsubscribe)
		}
	})
}

// HandleUnsubscribe resolves the token and opts the client out.
func (h *UnsubscribeHandler) HandleUnsubscribe(w http.ResponseWriter, r *http.Request) {
	asJSON := wantsJSON(r)

	token, err := unsubscribeToken(w, r)
	if err != nil {
		h.fail(w, r, asJSON, err)
		return
	}

	status, err := h.svc.Unsubscribe(r.Context(), token)
	if err != nil {
		h.fail(w, r, asJSON, err)
		return
	}

	if asJSON {
		core.OK(w, r, map[string]any{"status": string(status)})
		return
	}
	switch status {
	case email.StatusAlreadyUnsubscribed:
		h.renderPage(w, r, http.StatusOK, "Already unsubscribed",
			"This address was already removed from our mailing list. You will not receive further newsletters.")
	default:
		h.renderPage(w, r, http.StatusOK, "You have been unsubscribed",
			"You will no longer receive our newsletters. Thank you for having been part of our table.")
	}
}

func unsubscribeToken(w http.ResponseWriter, r *http.Request) (string, error) {
	if t := strings.TrimSpace(r.URL.Query().Get("token")); t != "" {
		return t, nil
	}
	if r.Method != http.MethodPost {
		return "", nil
	}

	ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if ct == "application/json" {
		var body struct {
			Token string `json:"token"`
		}
		if err := core.DecodeJSON(w, r, &body); err != nil {
			return "", err
		}
		return strings.TrimSpace(body.Token), nil
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBody)
	if err := r.ParseForm(); err != nil {
		return "", types.NewAppError(types.ErrCodeValidationInvalidBody, "could not read form body", err)
	}
	return strings.TrimSpace(r.PostFormValue("token")), nil
}

func (h *UnsubscribeHandler) fail(w http.ResponseWriter, r *http.Request, asJSON bool, err error) {
	if asJSON {
		core.Error(w, r, err)
		return
	}

	var appErr *types.AppError
	status := http.StatusInternalServerError
	if errors.As(err, &appErr) {
		status = appErr.HTTPStatus()
	}
	switch status {
	case http.StatusBadRequest:
		h.renderPage(w, r, status, "Link not valid",
			"This unsubscribe link is incomplete or damaged. Please use the link from your most recent email.")
	case http.StatusNotFound:
		h.renderPage(w, r, status, "Link not recognised",
			"We could not find this unsubscribe link. It may have been mistyped.")
	default:
		h.logger.Error("unsubscribe failed",
			"error", err.Error(),
			"request_id", types.GetRequestID(r.Context()),
		)
		h.renderPage(w, r, http.StatusInternalServerError, "Something went wrong",
			"We could not process your request right now. Please try again later.")
	}
}

type unsubscribeView struct {
	Title    string
	Message  string
	SiteName string
	HomeURL  string
}

func (h *UnsubscribeHandler) renderPage(w http.ResponseWriter, r *http.Request, status int, title, message string) {
	view := unsubscribeView{
		Title:    title,
		Message:  message,
		SiteName: h.siteName(r.Context()),
		HomeURL:  h.homeURL,
	}

	var buf bytes.Buffer
	if err := unsubscribePage.Execute(&buf, view); err != nil {
		h.logger.Error("unsubscribe page render failed", "error", err.Error())
		http.Error(w, message, status)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *UnsubscribeHandler) siteName(ctx context.Context) string {
	if h.site == nil {
		return defaultSiteName
	}
	s, err := h.site.Site(ctx)
	if err != nil || s == nil || s.Name == "" {
		return defaultSiteName
	}
	return s.Name
}

// wantsJSON prefers HTML for browsers. Requests under /api/, JSON posts and
// clients accepting JSON but not HTML get JSON.
func wantsJSON(r *http.Request) bool {
	accept := strings.ToLower(r.Header.Get("Accept"))
	if strings.Contains(accept, "text/html") {
		return false
	}
	if strings.Contains(accept, "application/json") {
		return true
	}
	if ct, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); ct == "application/json" {
		return true
	}
	return strings.HasPrefix(r.URL.Path, "/api/")
}
