package core

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"

	"hearth/internal/types"
)

func TestAdminAuth(t *testing.T) {
	tests := []struct {
		name     string
		prepare  func(r *http.Request)
		wantCode int
		wantErr  types.ErrorCode
	}{
		{
			name:     "cookie",
			prepare:  func(r *http.Request) { r.AddCookie(&http.Cookie{Name: "hearth_admin", Value: testAdminToken}) },
			wantCode: http.StatusOK,
		},
		{
			name:     "header",
			prepare:  func(r *http.Request) { r.Header.Set(AdminTokenHeader, testAdminToken) },
			wantCode: http.StatusOK,
		},
		{
			name:     "bearer",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "bearer "+testAdminToken) },
			wantCode: http.StatusOK,
		},
		{
			name:     "missing",
			prepare:  func(*http.Request) {},
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenMissing,
		},
		{
			name:     "wrong token",
			prepare:  func(r *http.Request) { r.Header.Set(AdminTokenHeader, "adm_wrong") },
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenInvalid,
		},
		{
			name:     "basic scheme ignored",
			prepare:  func(r *http.Request) { r.Header.Set("Authorization", "Basic "+testAdminToken) },
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenMissing,
		},
		{
			name: "cookie takes precedence",
			prepare: func(r *http.Request) {
				r.AddCookie(&http.Cookie{Name: "hearth_admin", Value: "stale"})
				r.Header.Set(AdminTokenHeader, testAdminToken)
			},
			wantCode: http.StatusUnauthorized,
			wantErr:  types.ErrCodeAuthTokenInvalid,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv, _ := newTestServer(t)
			var sawAdmin bool
			h := srv.AdminAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				sawAdmin = types.IsAdmin(r.Context())
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/admin/api/clients", nil)
			tt.prepare(req)
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantCode, rec.Code)
			if tt.wantErr == "" {
				assert.True(t, sawAdmin)
				return
			}
			assert.False(t, sawAdmin)
			assert.Equal(t, string(tt.wantErr), decodeError(t, rec).Error.Code)
		})
	}
}

func TestExtractBearerToken(t *testing.T) {
	assert.Equal(t, "abc", extractBearerToken("Bearer abc"))
	assert.Equal(t, "abc", extractBearerToken("BEARER  abc "))
	assert.Empty(t, extractBearerToken("Bearer"))
	assert.Empty(t, extractBearerToken("Token abc"))
	assert.Empty(t, extractBearerToken(""))
}

func TestIPSecurityMiddleware(t *testing.T) {
	srv, _ := newTestServer(t)
	sec := &MockSecurityService{BlockedIPs: map[string]bool{"203.0.113.66": true}}
	srv.SecurityService = sec

	called := false
	h := srv.IPSecurityMiddleware(okHandler(&called))

	blocked := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	blocked.Header.Set("X-Forwarded-For", "203.0.113.66, 10.0.0.1")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, blocked)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, string(types.ErrCodeForbiddenIPBlocked), decodeError(t, rec).Error.Code)

	allowed := httptest.NewRequest(http.MethodPost, "/admin/login", nil)
	allowed.RemoteAddr = "198.51.100.1:1234"
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, allowed)

	assert.True(t, called)
	assert.Equal(t, []string{"203.0.113.66", "198.51.100.1"}, sec.Checked)
}

func TestIPSecurityMiddleware_NilServicePassesThrough(t *testing.T) {
	srv, _ := newTestServer(t)
	called := false
	srv.IPSecurityMiddleware(okHandler(&called)).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/admin/login", nil))
	assert.True(t, called)
}
