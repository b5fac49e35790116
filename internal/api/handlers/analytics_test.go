package handlers

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/analytics"
	"hearth/internal/ratelimit"
	"hearth/internal/types"
)

type recordingRecorder struct {
	hits []analytics.Hit
}

func (r *recordingRecorder) Record(_ context.Context, h analytics.Hit) bool {
	r.hits = append(r.hits, h)
	return true
}

type mockSummarizer struct {
	days  int
	paths []types.PathStats
}

func (m *mockSummarizer) Summary(_ context.Context, days int) ([]types.PathStats, error) {
	m.days = days
	return m.paths, nil
}

func newAnalyticsHandler(rec PageRecorder, sum PathSummarizer) *AnalyticsHandler {
	return NewAnalyticsHandler(rec, sum, AnalyticsConfig{
		CookieName: "hearth_vid",
		SiteHost:   "lume.example",
		Secure:     true,
	}, discardLogger())
}

func TestPixel_IssuesVisitorCookie(t *testing.T) {
	rec := &recordingRecorder{}
	h := newAnalyticsHandler(rec, nil)

	req := httptest.NewRequest(http.MethodGet, "/px.gif?p=/menu&r=https://search.example/q", nil)
	req.Header.Set("User-Agent", "Mozilla/5.0 (Macintosh)")
	w := httptest.NewRecorder()
	h.HandlePixel(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/gif", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Cache-Control"), "no-store")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("GIF89a")))

	c := findCookie(w, "hearth_vid")
	require.NotNil(t, c)
	_, err := uuid.Parse(c.Value)
	assert.NoError(t, err)
	assert.True(t, c.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, c.SameSite)

	require.Len(t, rec.hits, 1)
	assert.Equal(t, analytics.Hit{
		Path:      "/menu",
		Referrer:  "https://search.example/q",
		VisitorID: c.Value,
		UserAgent: "Mozilla/5.0 (Macintosh)",
		SiteHost:  "lume.example",
	}, rec.hits[0])
}

func TestPixel_ReusesValidCookie(t *testing.T) {
	rec := &recordingRecorder{}
	h := newAnalyticsHandler(rec, nil)
	id := uuid.NewString()

	req := httptest.NewRequest(http.MethodGet, "/px.gif?p=/", nil)
	req.AddCookie(&http.Cookie{Name: "hearth_vid", Value: id})
	w := httptest.NewRecorder()
	h.HandlePixel(w, req)

	assert.Nil(t, findCookie(w, "hearth_vid"))
	require.Len(t, rec.hits, 1)
	assert.Equal(t, id, rec.hits[0].VisitorID)
}

func TestPixel_ReplacesForgedCookie(t *testing.T) {
	rec := &recordingRecorder{}
	h := newAnalyticsHandler(rec, nil)

	req := httptest.NewRequest(http.MethodGet, "/px.gif?p=/", nil)
	req.AddCookie(&http.Cookie{Name: "hearth_vid", Value: "not-a-uuid"})
	w := httptest.NewRecorder()
	h.HandlePixel(w, req)

	c := findCookie(w, "hearth_vid")
	require.NotNil(t, c)
	assert.NotEqual(t, "not-a-uuid", c.Value)
	assert.Equal(t, c.Value, rec.hits[0].VisitorID)
}

func TestPixel_SilentlyLimitedHitIsNotRecorded(t *testing.T) {
	rec := &recordingRecorder{}
	var policy string
	g := RouteGuards{RateLimitSilently: func(p ratelimit.Policy) Middleware {
		policy = p.Name
		// Stand-in for core's silent limiter: answer normally, record nothing.
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "image/gif")
				_, _ = w.Write(transparentGIF)
			})
		}
	}}
	r := chi.NewRouter()
	newAnalyticsHandler(rec, nil).RegisterRoutes(r, g)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/px.gif?p=/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, ratelimit.Pixel.Name, policy)
	assert.Empty(t, rec.hits)
}

func TestAnalyticsSummary(t *testing.T) {
	tests := []struct {
		query    string
		wantDays int
		status   int
	}{
		{"", 7, http.StatusOK},
		{"?days=30", 30, http.StatusOK},
		{"?days=0", 1, http.StatusOK},
		{"?days=365", 90, http.StatusOK},
		{"?days=week", 0, http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			sum := &mockSummarizer{}
			h := newAnalyticsHandler(nil, sum)

			w := httptest.NewRecorder()
			h.HandleSummary(w, httptest.NewRequest(http.MethodGet, "/analytics/summary"+tt.query, nil))

			require.Equal(t, tt.status, w.Code, w.Body.String())
			if tt.status != http.StatusOK {
				return
			}
			assert.Equal(t, tt.wantDays, sum.days)
			body := decodeBody(t, w)
			assert.Equal(t, float64(tt.wantDays), body["days"])
			assert.Equal(t, []any{}, body["paths"])
		})
	}
}
