package external

import (
	"context"
	"net/mail"
	"strings"

	"hearth/internal/types"
)

// Message is one rendered email ready for a provider.
type Message struct {
	// From is "Name <addr>" or a bare address.
	From    string
	To      string
	ReplyTo string
	Subject string
	Text    string
	HTML    string
	// Headers are extra MIME headers such as List-Unsubscribe.
	Headers map[string]string
	// Tags are provider-side labels used to correlate webhook events.
	Tags map[string]string
}

// EmailProvider sends a single message and returns the provider message id.
type EmailProvider interface {
	Send(ctx context.Context, msg Message) (string, error)
}

// SuppressionMirror copies a suppression into the provider's own
// account-level suppression list.
type SuppressionMirror interface {
	MirrorSuppression(ctx context.Context, email string, complaint bool) error
}

// SenderIdentity is the validated sender configuration shared by every
// message of a blast.
type SenderIdentity struct {
	From    string
	ReplyTo string
}

// ParseSender checks the configured from and reply-to addresses. Both must
// parse as RFC 5322 addresses; reply-to may be empty.
func ParseSender(from, replyTo string) (SenderIdentity, error) {
	from = strings.TrimSpace(from)
	if from == "" {
		return SenderIdentity{}, types.NewAppError(types.ErrCodeConfigEmailFrom, "email sender is not configured", nil)
	}
	fromAddr, err := mail.ParseAddress(from)
	if err != nil {
		return SenderIdentity{}, types.NewAppError(types.ErrCodeConfigEmailFrom, "email sender address is invalid", err)
	}

	id := SenderIdentity{From: fromAddr.Address}
	if fromAddr.Name != "" {
		id.From = fromAddr.String()
	}
	if replyTo = strings.TrimSpace(replyTo); replyTo != "" {
		rt, err := mail.ParseAddress(replyTo)
		if err != nil {
			return SenderIdentity{}, types.NewAppError(types.ErrCodeConfigEmailReplyTo, "email reply-to address is invalid", err)
		}
		id.ReplyTo = rt.Address
	}
	return id, nil
}
