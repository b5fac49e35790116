package email

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/types"
)

type blastFixture struct {
	registry *fakeRegistry
	provider *fakeProvider
	metrics  *fakeMetrics
	blaster  *Blaster
}

func newBlastFixture(t *testing.T, registry *fakeRegistry, mutate ...func(*BlasterConfig)) *blastFixture {
	t.Helper()
	tokens, err := NewTokenService(registry, "https://hearth.test/")
	require.NoError(t, err)

	f := &blastFixture{
		registry: registry,
		provider: &fakeProvider{fail: map[string]error{}},
		metrics:  &fakeMetrics{},
	}
	cfg := BlasterConfig{
		Recipients: registry,
		Tokens:     tokens,
		Renderer:   newTestRenderer(t),
		Provider:   f.provider,
		Sender: SenderSettings{
			From:          "Hearth Kitchen <hello@hearth.test>",
			ReplyTo:       "owner@hearth.test",
			ProviderReady: true,
		},
		Metrics: f.metrics,
		Clock:   fixedClock{t: testNow},
		Logger:  testLogger(),
	}
	for _, m := range mutate {
		m(&cfg)
	}
	f.blaster = NewBlaster(cfg)
	return f
}

func TestBlaster_ConcreteScenario(t *testing.T) {
	f := newBlastFixture(t, newFakeRegistry("a@x.com", "b@x.com", "c@x.com"))
	f.provider.fail["b@x.com"] = errors.New("dial tcp 10.0.0.1:443:   connection\n reset by peer")

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "Spring menu", Body: "New dishes this week."})
	require.NoError(t, err)

	assert.Equal(t, 2, res.SentCount)
	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, []BlastFailure{
		{Email: "b@x.com", ErrorMessage: "dial tcp 10.0.0.1:443: connection reset by peer"},
	}, res.Failures)
	assert.Empty(t, res.Hint)

	assert.Len(t, f.provider.messages(), 2)
	assert.Equal(t, []blastPoint{{Mode: "blast", Sent: 2, Failed: 1}}, f.metrics.blasts)
}

func TestBlaster_PanicIsIsolated(t *testing.T) {
	f := newBlastFixture(t, newFakeRegistry("a@x.com", "b@x.com", "c@x.com", "d@x.com"))
	f.provider.panicFor = "c@x.com"

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, 3, res.SentCount)
	assert.Equal(t, 1, res.FailedCount)
	require.Len(t, res.Failures, 1)
	assert.Equal(t, "c@x.com", res.Failures[0].Email)
	assert.Equal(t, "unexpected failure while sending: boom", res.Failures[0].ErrorMessage)
}

func TestBlaster_BoundsConcurrencyToChunk(t *testing.T) {
	emails := make([]string, 10)
	for i := range emails {
		emails[i] = fmt.Sprintf("guest%d@x.com", i)
	}
	f := newBlastFixture(t, newFakeRegistry(emails...))
	f.provider.delay = 15 * time.Millisecond

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, 10, res.SentCount)
	assert.LessOrEqual(t, f.provider.maxInFlight, ChunkSize)
	assert.Greater(t, f.provider.maxInFlight, 1, "sends within a chunk should overlap")
}

func TestBlaster_FailureListIsCapped(t *testing.T) {
	emails := make([]string, 8)
	for i := range emails {
		emails[i] = fmt.Sprintf("guest%d@x.com", i)
	}
	f := newBlastFixture(t, newFakeRegistry(emails...))
	for _, e := range emails {
		f.provider.fail[e] = errors.New("rejected")
	}

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, 0, res.SentCount)
	assert.Equal(t, 8, res.FailedCount)
	require.Len(t, res.Failures, MaxReportedFailures)
	for i, fl := range res.Failures {
		assert.Equal(t, emails[i], fl.Email, "failures keep recipient order")
	}
}

func TestBlaster_SenderHint(t *testing.T) {
	f := newBlastFixture(t, newFakeRegistry("a@x.com", "b@x.com"))
	f.provider.fail["a@x.com"] = types.NewAppError(types.ErrCodeEmailBlocked,
		"Resend refused the message: The hearth.test domain is not verified (validation_error)", nil)

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.FailedCount)
	assert.Equal(t, SenderHint, res.Hint)
	assert.Equal(t, "Resend refused the message: The hearth.test domain is not verified (validation_error)",
		res.Failures[0].ErrorMessage)
}

func TestBlaster_TokensAreIssuedOnceAndReused(t *testing.T) {
	reg := newFakeRegistry("a@x.com", "b@x.com")
	f := newBlastFixture(t, reg)

	_, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "first", Body: "b"})
	require.NoError(t, err)
	first := reg.client(t, "a@x.com").UnsubscribeToken
	require.NotEmpty(t, first)
	assert.True(t, ValidTokenShape(first))
	assert.Equal(t, 2, reg.tokenCalls)

	_, err = f.blaster.Send(context.Background(), BlastRequest{Subject: "second", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, first, reg.client(t, "a@x.com").UnsubscribeToken)
	assert.Equal(t, 2, reg.tokenCalls, "existing tokens are not re-issued")

	var links []string
	for _, m := range f.provider.messages() {
		if m.To == "a@x.com" {
			links = append(links, m.Headers["List-Unsubscribe"])
		}
	}
	require.Len(t, links, 2)
	assert.Equal(t, links[0], links[1])
	assert.Equal(t, "<https://hearth.test/unsubscribe?token="+first+">", links[0])
}

func TestBlaster_TokenFailureSkipsRecipient(t *testing.T) {
	reg := newFakeRegistry("a@x.com", "b@x.com")
	reg.tokenErr = map[string]error{"client_b": errors.New("connection refused")}
	f := newBlastFixture(t, reg)

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)

	assert.Equal(t, 1, res.SentCount)
	assert.Equal(t, []BlastFailure{{Email: "b@x.com", ErrorMessage: "could not issue an unsubscribe link"}}, res.Failures)
	for _, m := range f.provider.messages() {
		assert.NotEqual(t, "b@x.com", m.To, "no mail without an unsubscribe link")
	}
}

func TestBlaster_MessageContent(t *testing.T) {
	reg := newFakeRegistry("ada@x.com", "anon@x.com")
	reg.clients[0].Name = "Ada Lovelace"
	f := newBlastFixture(t, reg)

	_, err := f.blaster.Send(context.Background(), BlastRequest{
		Subject: "  Dinner\nfor {{ first_name | default: 'you' }}  ",
		Body:    "Hi {{ first_name | default: 'friend' }},\n\nTable's ready.",
	})
	require.NoError(t, err)

	ada := f.provider.messageTo(t, "ada@x.com")
	assert.Equal(t, `"Hearth Kitchen" <hello@hearth.test>`, ada.From)
	assert.Equal(t, "owner@hearth.test", ada.ReplyTo)
	assert.Equal(t, "Dinner for Ada", ada.Subject)
	assert.True(t, strings.HasPrefix(ada.Text, "Hi Ada,"))
	assert.Contains(t, ada.Text, "Unsubscribe: https://hearth.test/unsubscribe?token=")
	assert.Contains(t, ada.HTML, "https://hearth.test/unsubscribe?token=")
	assert.Equal(t, "List-Unsubscribe=One-Click", ada.Headers["List-Unsubscribe-Post"])
	assert.Equal(t, map[string]string{"category": "blast", "client_id": "client_a"}, ada.Tags)

	anon := f.provider.messageTo(t, "anon@x.com")
	assert.Equal(t, "Dinner for you", anon.Subject)
	assert.True(t, strings.HasPrefix(anon.Text, "Hi friend,"))
}

func TestBlaster_Eligibility(t *testing.T) {
	reg := newFakeRegistry("a@x.com", "gone@x.com", "bounced@x.com")
	reg.clients[1].Unsubscribed = true
	reg.clients[2].Suppressed = true

	t.Run("suppressed addresses stay eligible by default", func(t *testing.T) {
		f := newBlastFixture(t, reg)
		res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
		require.NoError(t, err)
		assert.Equal(t, 2, res.SentCount)
		assert.False(t, reg.lastFilter.SkipSuppressed)
		for _, m := range f.provider.messages() {
			assert.NotEqual(t, "gone@x.com", m.To)
		}
	})

	t.Run("skip suppressed", func(t *testing.T) {
		f := newBlastFixture(t, reg, func(c *BlasterConfig) { c.SkipSuppressed = true })
		res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SentCount)
		assert.True(t, reg.lastFilter.SkipSuppressed)
	})
}

func TestBlaster_NoRecipients(t *testing.T) {
	f := newBlastFixture(t, newFakeRegistry())

	res, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	require.NoError(t, err)
	assert.Equal(t, &BlastResult{Failures: []BlastFailure{}}, res)
	assert.Equal(t, []blastPoint{{Mode: "blast"}}, f.metrics.blasts)
}

func TestBlaster_ListError(t *testing.T) {
	reg := newFakeRegistry("a@x.com")
	reg.listErr = types.NewAppError(types.ErrCodeInternalDB, "failed to list recipients", nil)
	f := newBlastFixture(t, reg)

	_, err := f.blaster.Send(context.Background(), BlastRequest{Subject: "s", Body: "b"})
	requireCode(t, err, types.ErrCodeInternalDB)
	assert.Empty(t, f.provider.messages())
}

func TestBlaster_Preconditions(t *testing.T) {
	tests := []struct {
		name   string
		req    BlastRequest
		mutate func(*BlasterConfig)
		code   types.ErrorCode
		field  string
	}{
		{name: "blank subject", req: BlastRequest{Subject: "  ", Body: "b"}, code: types.ErrCodeValidationMissingField, field: "subject"},
		{name: "blank body", req: BlastRequest{Subject: "s", Body: "\n\t"}, code: types.ErrCodeValidationMissingField, field: "body"},
		{
			name:   "provider not configured",
			req:    BlastRequest{Subject: "s", Body: "b"},
			mutate: func(c *BlasterConfig) { c.Sender.ProviderReady = false },
			code:   types.ErrCodeConfigEmailAPIKey,
		},
		{
			name:   "bad from address",
			req:    BlastRequest{Subject: "s", Body: "b"},
			mutate: func(c *BlasterConfig) { c.Sender.From = "hearth kitchen" },
			code:   types.ErrCodeConfigEmailFrom,
		},
		{
			name:   "bad reply-to",
			req:    BlastRequest{Subject: "s", Body: "b"},
			mutate: func(c *BlasterConfig) { c.Sender.ReplyTo = "nope" },
			code:   types.ErrCodeConfigEmailReplyTo,
		},
		{
			name:  "bad test recipient",
			req:   BlastRequest{Subject: "s", Body: "b", Mode: BlastModeTest, TestRecipient: "not-an-email"},
			code:  types.ErrCodeValidationInvalidEmail,
			field: "testTo",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newFakeRegistry("a@x.com")
			var mutate []func(*BlasterConfig)
			if tt.mutate != nil {
				mutate = append(mutate, tt.mutate)
			}
			f := newBlastFixture(t, reg, mutate...)

			res, err := f.blaster.Send(context.Background(), tt.req)
			assert.Nil(t, res)
			appErr := requireCode(t, err, tt.code)
			if tt.field != "" {
				assert.Equal(t, tt.field, appErr.Details["field"])
			}
			assert.Empty(t, f.provider.messages())
			assert.Zero(t, reg.tokenCalls)
			assert.Empty(t, f.metrics.blasts)
		})
	}
}

func TestBlaster_TestMode(t *testing.T) {
	t.Run("sends once without unsubscribe link", func(t *testing.T) {
		reg := newFakeRegistry("a@x.com", "b@x.com")
		f := newBlastFixture(t, reg)

		res, err := f.blaster.Send(context.Background(), BlastRequest{
			Subject: "Preview", Body: "Hello {{ name | default: 'there' }}",
			Mode: BlastModeTest, TestRecipient: "  Owner@Hearth.TEST ",
		})
		require.NoError(t, err)
		assert.Equal(t, 1, res.SentCount)
		assert.Zero(t, res.FailedCount)

		msgs := f.provider.messages()
		require.Len(t, msgs, 1)
		assert.Equal(t, "owner@hearth.test", msgs[0].To)
		assert.Equal(t, "Hello there", msgs[0].Text)
		assert.NotContains(t, msgs[0].HTML, "unsubscribe")
		assert.Empty(t, msgs[0].Headers)
		assert.Equal(t, "blast_test", msgs[0].Tags["category"])
		assert.Zero(t, reg.tokenCalls)
		assert.Equal(t, []blastPoint{{Mode: "test", Sent: 1}}, f.metrics.blasts)
	})

	t.Run("reports provider failure", func(t *testing.T) {
		f := newBlastFixture(t, newFakeRegistry())
		f.provider.fail["owner@hearth.test"] = errors.New("sender address not verified")

		res, err := f.blaster.Send(context.Background(), BlastRequest{
			Subject: "s", Body: "b", Mode: BlastModeTest, TestRecipient: "owner@hearth.test",
		})
		require.NoError(t, err)
		assert.Equal(t, 0, res.SentCount)
		assert.Equal(t, 1, res.FailedCount)
		assert.Equal(t, "sender address not verified", res.Failures[0].ErrorMessage)
		assert.Equal(t, SenderHint, res.Hint)
	})
}
