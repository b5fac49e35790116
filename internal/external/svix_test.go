package external

import (
	"encoding/base64"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/types"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var svixNow = time.Date(2026, 3, 14, 18, 0, 0, 0, time.UTC)

func testSecret() string {
	return "whsec_" + base64.StdEncoding.EncodeToString([]byte("hearth-webhook-signing-key"))
}

func newTestVerifier(t *testing.T) *SvixVerifier {
	t.Helper()
	v, err := NewSvixVerifier(testSecret(), 0, fixedClock{svixNow})
	require.NoError(t, err)
	return v
}

func signedHeaders(v *SvixVerifier, id string, at time.Time, body []byte) http.Header {
	h := http.Header{}
	h.Set("svix-id", id)
	h.Set("svix-timestamp", strconv.FormatInt(at.Unix(), 10))
	h.Set("svix-signature", v.Sign(id, at, body))
	return h
}

func errCode(t *testing.T, err error) types.ErrorCode {
	t.Helper()
	var appErr *types.AppError
	require.True(t, errors.As(err, &appErr), "got %v", err)
	return appErr.Code
}

func TestSvixVerify_Valid(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"type":"email.bounced"}`)
	assert.NoError(t, v.Verify(body, signedHeaders(v, "msg_1", svixNow.Add(-time.Minute), body)))
}

func TestSvixVerify_KnownVector(t *testing.T) {
	// Reference vector published with the Svix signing scheme.
	v, err := NewSvixVerifier("whsec_MfKQ9r8GKYqrTwjUPD8ILPZIo2LaLaSw", 0, fixedClock{time.Unix(1614265330, 0)})
	require.NoError(t, err)

	h := http.Header{}
	h.Set("svix-id", "msg_p5jXN8AQM9LWM0D4loKWxJek")
	h.Set("svix-timestamp", "1614265330")
	h.Set("svix-signature", "v1,g0hM9SsE+OTPJTGt/tmIKtSyZlE3uFJELVlNIOLJ1OE=")
	assert.NoError(t, v.Verify([]byte(`{"test": 2432232314}`), h))
}

func TestSvixVerify_AcceptsAnyListedSignature(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{}`)
	h := signedHeaders(v, "msg_2", svixNow, body)
	h.Set("svix-signature", "v1,bogus v2,ignored "+h.Get("svix-signature"))
	assert.NoError(t, v.Verify(body, h))
}

func TestSvixVerify_WebhookHeaderAliases(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{}`)
	h := http.Header{}
	h.Set("webhook-id", "msg_3")
	h.Set("webhook-timestamp", strconv.FormatInt(svixNow.Unix(), 10))
	h.Set("webhook-signature", v.Sign("msg_3", svixNow, body))
	assert.True(t, readSvixHeaders(h).complete())
	assert.NoError(t, v.Verify(body, h))
}

func TestSvixVerify_Rejections(t *testing.T) {
	v := newTestVerifier(t)
	body := []byte(`{"type":"email.complained"}`)

	t.Run("tampered body", func(t *testing.T) {
		h := signedHeaders(v, "msg_4", svixNow, body)
		assert.Equal(t, types.ErrCodeAuthWebhookSignature, errCode(t, v.Verify([]byte(`{"type":"email.sent"}`), h)))
	})
	t.Run("tampered signature", func(t *testing.T) {
		h := signedHeaders(v, "msg_4", svixNow, body)
		h.Set("svix-signature", "v1,"+base64.StdEncoding.EncodeToString([]byte("nope")))
		assert.Equal(t, types.ErrCodeAuthWebhookSignature, errCode(t, v.Verify(body, h)))
	})
	t.Run("stale timestamp", func(t *testing.T) {
		h := signedHeaders(v, "msg_4", svixNow.Add(-6*time.Minute), body)
		assert.Equal(t, types.ErrCodeAuthWebhookSignature, errCode(t, v.Verify(body, h)))
	})
	t.Run("future timestamp", func(t *testing.T) {
		h := signedHeaders(v, "msg_4", svixNow.Add(6*time.Minute), body)
		assert.Equal(t, types.ErrCodeAuthWebhookSignature, errCode(t, v.Verify(body, h)))
	})
	t.Run("non numeric timestamp", func(t *testing.T) {
		h := signedHeaders(v, "msg_4", svixNow, body)
		h.Set("svix-timestamp", "yesterday")
		assert.Equal(t, types.ErrCodeAuthWebhookSignature, errCode(t, v.Verify(body, h)))
	})
	t.Run("missing header", func(t *testing.T) {
		for _, name := range []string{"svix-id", "svix-timestamp", "svix-signature"} {
			h := signedHeaders(v, "msg_4", svixNow, body)
			h.Del(name)
			assert.False(t, readSvixHeaders(h).complete())
			assert.Equal(t, types.ErrCodeAuthWebhookHeadersMissing, errCode(t, v.Verify(body, h)), name)
		}
	})
}

func TestSvixVerify_Unconfigured(t *testing.T) {
	v, err := NewSvixVerifier("", 0, nil)
	require.NoError(t, err)
	assert.False(t, v.Configured())
	assert.Equal(t, types.ErrCodeConfigWebhookSecret, errCode(t, v.Verify([]byte(`{}`), http.Header{})))
}

func TestNewSvixVerifier_BadSecret(t *testing.T) {
	_, err := NewSvixVerifier("whsec_***not-base64***", 0, nil)
	assert.Error(t, err)
}
