package external

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hearth/internal/config"
	"hearth/internal/types"
)

func TestParseSender(t *testing.T) {
	id, err := ParseSender(" Hearth Kitchen <hello@hearth.test> ", "owner@hearth.test")
	require.NoError(t, err)
	assert.Equal(t, `"Hearth Kitchen" <hello@hearth.test>`, id.From)
	assert.Equal(t, "owner@hearth.test", id.ReplyTo)

	id, err = ParseSender("hello@hearth.test", "")
	require.NoError(t, err)
	assert.Equal(t, "hello@hearth.test", id.From)
	assert.Empty(t, id.ReplyTo)
}

func TestParseSender_Errors(t *testing.T) {
	tests := []struct {
		name    string
		from    string
		replyTo string
		code    types.ErrorCode
	}{
		{"missing from", "  ", "", types.ErrCodeConfigEmailFrom},
		{"bad from", "Hearth <not-an-address>", "", types.ErrCodeConfigEmailFrom},
		{"bad reply-to", "hello@hearth.test", "owner at hearth", types.ErrCodeConfigEmailReplyTo},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseSender(tt.from, tt.replyTo)
			assert.Equal(t, tt.code, errCode(t, err))
		})
	}
}

func TestStubEmailProvider_LogsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	stub := NewStubEmailProvider(logger, func(string) string { return "a***@example.com" })

	id, err := stub.Send(context.Background(), Message{To: "ana@example.com", Subject: "Hi"})
	require.NoError(t, err)
	assert.Contains(t, id, "stub_")
	assert.Contains(t, buf.String(), "a***@example.com")
	assert.NotContains(t, buf.String(), "ana@example.com")
}

func TestNewEmailClients(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	t.Run("resend without key is not ready", func(t *testing.T) {
		c := NewEmailClients(config.EmailConfig{Provider: config.EmailProviderResend}, aws.Config{}, logger, nil)
		assert.IsType(t, &ResendClient{}, c.Provider)
		assert.False(t, c.Ready)
		assert.Nil(t, c.Mirror)
	})

	t.Run("resend with key", func(t *testing.T) {
		c := NewEmailClients(config.EmailConfig{
			Provider:     config.EmailProviderResend,
			ResendAPIKey: types.SecretString("re_123"),
		}, aws.Config{}, logger, nil)
		assert.True(t, c.Ready)
	})

	t.Run("ses with mirror", func(t *testing.T) {
		c := NewEmailClients(config.EmailConfig{
			Provider:           config.EmailProviderSES,
			MirrorSuppressions: true,
		}, aws.Config{Region: "us-east-1"}, logger, nil)
		assert.IsType(t, &SESClient{}, c.Provider)
		assert.NotNil(t, c.Mirror)
		assert.True(t, c.Ready)
	})

	t.Run("log", func(t *testing.T) {
		c := NewEmailClients(config.EmailConfig{Provider: config.EmailProviderLog}, aws.Config{}, logger, nil)
		assert.IsType(t, &StubEmailProvider{}, c.Provider)
		assert.Equal(t, "log", c.Name)
	})
}
