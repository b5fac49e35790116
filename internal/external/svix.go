package external

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"hearth/internal/types"
)

// DefaultWebhookTolerance bounds how far a signed timestamp may drift from
// the server clock.
const DefaultWebhookTolerance = 5 * time.Minute

const svixSecretPrefix = "whsec_"

// SvixVerifier checks delivery webhooks signed with the Svix scheme used by
// Resend. The signed content is "<id>.<timestamp>.<body>" and the signature
// header holds one or more space separated "v1,<base64 hmac>" entries.
type SvixVerifier struct {
	key       []byte
	tolerance time.Duration
	clock     types.Clock
}

// NewSvixVerifier builds a verifier from a "whsec_<base64>" secret. A secret
// without the prefix is used as raw key material. An empty secret yields a
// verifier whose Verify always reports a configuration error.
func NewSvixVerifier(secret string, tolerance time.Duration, clock types.Clock) (*SvixVerifier, error) {
	if tolerance <= 0 {
		tolerance = DefaultWebhookTolerance
	}
	if clock == nil {
		clock = types.RealClock{}
	}
	v := &SvixVerifier{tolerance: tolerance, clock: clock}

	secret = strings.TrimSpace(secret)
	if secret == "" {
		return v, nil
	}
	if strings.HasPrefix(secret, svixSecretPrefix) {
		key, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(secret, svixSecretPrefix))
		if err != nil {
			return nil, fmt.Errorf("webhook secret is not valid base64: %w", err)
		}
		v.key = key
		return v, nil
	}
	v.key = []byte(secret)
	return v, nil
}

// Configured reports whether a signing secret is present.
func (v *SvixVerifier) Configured() bool {
	return len(v.key) > 0
}

type svixHeaders struct {
	id        string
	timestamp string
	signature string
}

func readSvixHeaders(h http.Header) svixHeaders {
	first := func(names ...string) string {
		for _, n := range names {
			if v := strings.TrimSpace(h.Get(n)); v != "" {
				return v
			}
		}
		return ""
	}
	return svixHeaders{
		id:        first("svix-id", "webhook-id"),
		timestamp: first("svix-timestamp", "webhook-timestamp"),
		signature: first("svix-signature", "webhook-signature"),
	}
}

func (sh svixHeaders) complete() bool {
	return sh.id != "" && sh.timestamp != "" && sh.signature != ""
}

// Verify authenticates payload against the signature headers in h.
//
// Errors:
//   - secret not configured -> types.ErrCodeConfigWebhookSecret
//   - any header missing -> types.ErrCodeAuthWebhookHeadersMissing
//   - stale timestamp or no matching signature -> types.ErrCodeAuthWebhookSignature
func (v *SvixVerifier) Verify(payload []byte, h http.Header) error {
	if !v.Configured() {
		return types.NewAppError(types.ErrCodeConfigWebhookSecret, "webhook signing secret is not configured", nil)
	}

	sh := readSvixHeaders(h)
	if !sh.complete() {
		return types.NewAppError(types.ErrCodeAuthWebhookHeadersMissing, "missing webhook signature headers", nil)
	}

	ts, err := strconv.ParseInt(sh.timestamp, 10, 64)
	if err != nil {
		return types.NewAppError(types.ErrCodeAuthWebhookSignature, "invalid webhook timestamp", err)
	}
	sent := time.Unix(ts, 0)
	now := v.clock.Now()
	if now.Sub(sent) > v.tolerance || sent.Sub(now) > v.tolerance {
		return types.NewAppError(types.ErrCodeAuthWebhookSignature, "webhook timestamp outside tolerance", nil)
	}

	expected := v.compute(sh.id, sh.timestamp, payload)
	for _, entry := range strings.Fields(sh.signature) {
		version, sig, ok := strings.Cut(entry, ",")
		if !ok || version != "v1" {
			continue
		}
		if hmac.Equal([]byte(sig), []byte(expected)) {
			return nil
		}
	}
	return types.NewAppError(types.ErrCodeAuthWebhookSignature, "webhook signature mismatch", nil)
}

// Sign returns the svix-signature header value for payload.
func (v *SvixVerifier) Sign(id string, at time.Time, payload []byte) string {
	return "v1," + v.compute(id, strconv.FormatInt(at.Unix(), 10), payload)
}

func (v *SvixVerifier) compute(id, timestamp string, payload []byte) string {
	mac := hmac.New(sha256.New, v.key)
	mac.Write([]byte(id))
	mac.Write([]byte{'.'})
	mac.Write([]byte(timestamp))
	mac.Write([]byte{'.'})
	mac.Write(payload)
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
