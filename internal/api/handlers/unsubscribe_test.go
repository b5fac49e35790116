package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/notifications/email"
	"hearth/internal/settings"
	"hearth/internal/types"
)

type mockUnsubscribeService struct {
	calls []string
	fn    func(token string) (email.UnsubscribeStatus, error)
}

func (m *mockUnsubscribeService) Unsubscribe(_ context.Context, token string) (email.UnsubscribeStatus, error) {
	m.calls = append(m.calls, token)
	return m.fn(token)
}

type staticSite struct {
	site *settings.Site
	err  error
}

func (s staticSite) Site(context.Context) (*settings.Site, error) { return s.site, s.err }

const sampleToken = "tok_AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA"

func newUnsubscribeRouter(svc *mockUnsubscribeService) chi.Router {
	h := NewUnsubscribeHandler(svc, staticSite{site: &settings.Site{Name: "Osteria Lume"}},
		"https://lume.example", discardLogger())
	r := chi.NewRouter()
	h.RegisterRoutes(r, RouteGuards{})
	return r
}

func okUnsubscribe(string) (email.UnsubscribeStatus, error) { return email.StatusUnsubscribed, nil }

func TestUnsubscribe_BrowserGetsPage(t *testing.T) {
	svc := &mockUnsubscribeService{fn: okUnsubscribe}
	r := newUnsubscribeRouter(svc)

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+sampleToken, nil)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, w.Body.String(), "You have been unsubscribed")
	assert.Contains(t, w.Body.String(), "Osteria Lume")
	assert.Contains(t, w.Body.String(), `href="https://lume.example"`)
	assert.Equal(t, []string{sampleToken}, svc.calls)
}

func TestUnsubscribe_AlreadyUnsubscribedJSON(t *testing.T) {
	svc := &mockUnsubscribeService{fn: func(string) (email.UnsubscribeStatus, error) {
		return email.StatusAlreadyUnsubscribed, nil
	}}
	r := newUnsubscribeRouter(svc)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unsubscribe?token="+sampleToken, nil))

	require.Equal(t, http.StatusOK, w.Code)
	body := decodeBody(t, w)
	assert.Equal(t, true, body["ok"])
	assert.Equal(t, "already_unsubscribed", body["status"])
}

func TestUnsubscribe_TokenSources(t *testing.T) {
	tests := []struct {
		name string
		req  func() *http.Request
	}{
		{
			name: "json body",
			req: func() *http.Request {
				return jsonRequest(http.MethodPost, "/api/unsubscribe", `{"token":"`+sampleToken+`"}`)
			},
		},
		{
			name: "one-click form post",
			req: func() *http.Request {
				form := url.Values{"List-Unsubscribe": {"One-Click"}}
				req := httptest.NewRequest(http.MethodPost, "/unsubscribe?token="+sampleToken,
					strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
		},
		{
			name: "form field",
			req: func() *http.Request {
				form := url.Values{"token": {sampleToken}}
				req := httptest.NewRequest(http.MethodPost, "/unsubscribe", strings.NewReader(form.Encode()))
				req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
				return req
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockUnsubscribeService{fn: okUnsubscribe}
			w := httptest.NewRecorder()
			newUnsubscribeRouter(svc).ServeHTTP(w, tt.req())

			assert.Equal(t, http.StatusOK, w.Code, w.Body.String())
			assert.Equal(t, []string{sampleToken}, svc.calls)
		})
	}
}

func TestUnsubscribe_Errors(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		status    int
		pageTitle string
	}{
		{
			name:      "malformed token",
			err:       types.NewAppError(types.ErrCodeValidationInvalidToken, "invalid unsubscribe token", nil),
			status:    http.StatusBadRequest,
			pageTitle: "Link not valid",
		},
		{
			name:      "unknown token",
			err:       types.NewAppError(types.ErrCodeNotFoundToken, "unsubscribe token not found", nil),
			status:    http.StatusNotFound,
			pageTitle: "Link not recognised",
		},
		{
			name:      "storage failure",
			err:       errors.New("connection reset"),
			status:    http.StatusInternalServerError,
			pageTitle: "Something went wrong",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name+" html", func(t *testing.T) {
			svc := &mockUnsubscribeService{fn: func(string) (email.UnsubscribeStatus, error) { return "", tt.err }}
			req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token=x", nil)
			req.Header.Set("Accept", "text/html")
			w := httptest.NewRecorder()
			newUnsubscribeRouter(svc).ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			assert.Contains(t, w.Body.String(), tt.pageTitle)
			assert.NotContains(t, w.Body.String(), "connection reset")
		})
		t.Run(tt.name+" json", func(t *testing.T) {
			svc := &mockUnsubscribeService{fn: func(string) (email.UnsubscribeStatus, error) { return "", tt.err }}
			w := httptest.NewRecorder()
			newUnsubscribeRouter(svc).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/unsubscribe?token=x", nil))

			assert.Equal(t, tt.status, w.Code)
			assert.Equal(t, false, decodeBody(t, w)["ok"])
		})
	}
}

func TestUnsubscribe_SiteNameFallback(t *testing.T) {
	h := NewUnsubscribeHandler(&mockUnsubscribeService{fn: okUnsubscribe},
		staticSite{err: errors.New("db down")}, "", discardLogger())

	req := httptest.NewRequest(http.MethodGet, "/unsubscribe?token="+sampleToken, nil)
	req.Header.Set("Accept", "text/html")
	w := httptest.NewRecorder()
	h.HandleUnsubscribe(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "| Hearth</title>")
	assert.NotContains(t, w.Body.String(), "Back to")
}

func TestWantsJSON(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		accept string
		ctype  string
		want   bool
	}{
		{"browser", "/unsubscribe", "text/html,*/*", "", false},
		{"browser on api path", "/api/unsubscribe", "text/html", "", false},
		{"json accept", "/unsubscribe", "application/json", "", true},
		{"json post", "/unsubscribe", "", "application/json", true},
		{"api path", "/api/unsubscribe", "", "", true},
		{"bare link", "/unsubscribe", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.accept != "" {
				req.Header.Set("Accept", tt.accept)
			}
			if tt.ctype != "" {
				req.Header.Set("Content-Type", tt.ctype)
			}
			assert.Equal(t, tt.want, wantsJSON(req))
		})
	}
}
