package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name   string
		cookie string
		xff    string
		remote string
		want   string
	}{
		{name: "visitor cookie wins", cookie: "3b241101", xff: "203.0.113.9", remote: "10.0.0.1:5000", want: "v:3b241101"},
		{name: "first forwarded hop", xff: "203.0.113.9, 10.0.0.2", remote: "10.0.0.1:5000", want: "ip:203.0.113.9"},
		{name: "blank forwarded header", xff: " , 10.0.0.2", remote: "10.0.0.1:5000", want: "ip:10.0.0.1"},
		{name: "remote addr without port", remote: "198.51.100.7", want: "ip:198.51.100.7"},
		{name: "ipv6 remote", remote: "[2001:db8::1]:443", want: "ip:2001:db8::1"},
		{name: "nothing", remote: "", want: AnonymousKey},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/newsletter", nil)
			r.RemoteAddr = tt.remote
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			if tt.cookie != "" {
				r.AddCookie(&http.Cookie{Name: "hearth_vid", Value: tt.cookie})
			}
			assert.Equal(t, tt.want, KeyFor(r, "hearth_vid"))
		})
	}
}

func TestKeyFor_IgnoresOtherCookies(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/px.gif", nil)
	r.RemoteAddr = "192.0.2.4:1234"
	r.AddCookie(&http.Cookie{Name: "session", Value: "abc"})

	assert.Equal(t, "ip:192.0.2.4", KeyFor(r, "hearth_vid"))
	assert.Equal(t, "ip:192.0.2.4", KeyFor(r, ""))
}
