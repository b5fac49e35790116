package email

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"hearth/internal/external"
	"hearth/internal/types"
)

func testLogger() types.Logger {
	return types.NewSlogAdapter(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

var testNow = time.Date(2026, 3, 14, 18, 30, 0, 0, time.UTC)

// --- fakeProvider ---

// fakeProvider records messages and fails or panics for configured
// recipients. It also tracks the peak number of concurrent sends.
type fakeProvider struct {
	mu          sync.Mutex
	sent        []external.Message
	fail        map[string]error
	panicFor    string
	delay       time.Duration
	inFlight    int
	maxInFlight int
}

func (p *fakeProvider) Send(_ context.Context, msg external.Message) (string, error) {
	p.mu.Lock()
	p.inFlight++
	p.maxInFlight = max(p.maxInFlight, p.inFlight)
	p.mu.Unlock()
	defer func() {
		p.mu.Lock()
		p.inFlight--
		p.mu.Unlock()
	}()

	if p.delay > 0 {
		time.Sleep(p.delay)
	}
	if msg.To == p.panicFor {
		panic("boom")
	}
	if err := p.fail[msg.To]; err != nil {
		return "", err
	}

	p.mu.Lock()
	p.sent = append(p.sent, msg)
	p.mu.Unlock()
	return "msg_" + msg.To, nil
}

func (p *fakeProvider) messages() []external.Message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]external.Message(nil), p.sent...)
}

func (p *fakeProvider) messageTo(t *testing.T, to string) external.Message {
	t.Helper()
	for _, m := range p.messages() {
		if m.To == to {
			return m
		}
	}
	t.Fatalf("no message sent to %s", to)
	return external.Message{}
}

// --- fakeRegistry ---

// fakeRegistry is an in-memory client store covering recipients, tokens
// and suppression.
type fakeRegistry struct {
	mu         sync.Mutex
	clients    []types.Client
	listErr    error
	tokenErr   map[string]error
	supErr     map[string]error
	lastFilter types.RecipientFilter
	tokenCalls int
}

func newFakeRegistry(emails ...string) *fakeRegistry {
	r := &fakeRegistry{}
	for i, e := range emails {
		r.clients = append(r.clients, types.Client{
			ID:    "client_" + string(rune('a'+i)),
			Email: e,
		})
	}
	return r
}

func (r *fakeRegistry) ListBlastRecipients(_ context.Context, f types.RecipientFilter) ([]types.BlastRecipient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastFilter = f
	if r.listErr != nil {
		return nil, r.listErr
	}
	var out []types.BlastRecipient
	for _, c := range r.clients {
		if c.Unsubscribed || (f.SkipSuppressed && c.Suppressed) {
			continue
		}
		out = append(out, types.BlastRecipient{ID: c.ID, Email: c.Email, Name: c.Name, UnsubscribeToken: c.UnsubscribeToken})
	}
	return out, nil
}

func (r *fakeRegistry) EnsureUnsubscribeToken(_ context.Context, id, candidate string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokenCalls++
	if err := r.tokenErr[id]; err != nil {
		return "", err
	}
	for i := range r.clients {
		if r.clients[i].ID != id {
			continue
		}
		if r.clients[i].UnsubscribeToken == "" {
			r.clients[i].UnsubscribeToken = candidate
		}
		return r.clients[i].UnsubscribeToken, nil
	}
	return "", types.NewAppError(types.ErrCodeNotFoundClient, "client not found", nil)
}

func (r *fakeRegistry) ApplySuppression(_ context.Context, email string, u types.SuppressionUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.supErr[email]; err != nil {
		return false, err
	}
	for i := range r.clients {
		c := &r.clients[i]
		if c.Email != email {
			continue
		}
		c.Suppressed = true
		c.SuppressedReason = u.Reason
		if c.SuppressedAt == nil {
			at := u.At
			c.SuppressedAt = &at
		}
		if u.Unsubscribe && !c.Unsubscribed {
			c.Unsubscribed = true
			at := u.At
			c.UnsubscribedAt = &at
		}
		return true, nil
	}
	return false, nil
}

func (r *fakeRegistry) FindByToken(_ context.Context, token string) (*types.Client, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.UnsubscribeToken != "" && c.UnsubscribeToken == token {
			found := c
			return &found, nil
		}
	}
	return nil, nil
}

func (r *fakeRegistry) Unsubscribe(_ context.Context, id string, now time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.clients {
		c := &r.clients[i]
		if c.ID != id {
			continue
		}
		if c.Unsubscribed {
			return false, nil
		}
		c.Unsubscribed = true
		c.UnsubscribedAt = &now
		return true, nil
	}
	return false, nil
}

func (r *fakeRegistry) client(t *testing.T, email string) types.Client {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, c := range r.clients {
		if c.Email == email {
			return c
		}
	}
	t.Fatalf("no client %s", email)
	return types.Client{}
}

// --- fakeMetrics ---

type blastPoint struct {
	Mode         string
	Sent, Failed int
}

type fakeMetrics struct {
	mu           sync.Mutex
	blasts       []blastPoint
	suppressions map[string]int
}

func (m *fakeMetrics) RecordBlast(_ context.Context, mode string, sent, failed int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blasts = append(m.blasts, blastPoint{Mode: mode, Sent: sent, Failed: failed})
}

func (m *fakeMetrics) RecordSuppression(_ context.Context, reason string, n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.suppressions == nil {
		m.suppressions = map[string]int{}
	}
	m.suppressions[reason] += n
}

func newTestRenderer(t *testing.T) *Renderer {
	t.Helper()
	r, err := NewRenderer("Hearth", testLogger())
	require.NoError(t, err)
	return r
}

func requireCode(t *testing.T, err error, code types.ErrorCode) *types.AppError {
	t.Helper()
	require.Error(t, err)
	appErr, ok := err.(*types.AppError)
	require.True(t, ok, "expected *types.AppError, got %T: %v", err, err)
	require.Equal(t, code, appErr.Code)
	return appErr
}
