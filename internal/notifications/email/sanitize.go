// Package email implements the newsletter side of the back-office: bulk
// blasts with per-recipient unsubscribe links, the unsubscribe token
// lifecycle, delivery webhook parsing and suppression updates, and staff
// notifications for new leads.
package email

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"hearth/internal/types"
)

// MaxErrorMessageLength bounds provider error text surfaced to operators.
const MaxErrorMessageLength = 220

// Sanitize turns any error value into a single line of at most
// MaxErrorMessageLength runes.
func Sanitize(v any) string {
	var s string
	switch e := v.(type) {
	case nil:
		s = "unknown error"
	case *types.AppError:
		s = e.Message
	case error:
		var appErr *types.AppError
		if errors.As(e, &appErr) {
			s = appErr.Message
		} else {
			s = e.Error()
		}
	case string:
		s = e
	case fmt.Stringer:
		s = e.String()
	default:
		s = fmt.Sprintf("%v", e)
	}

	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		s = "unknown error"
	}
	if utf8.RuneCountInString(s) > MaxErrorMessageLength {
		runes := []rune(s)
		s = string(runes[:MaxErrorMessageLength])
	}
	return s
}

// senderHintTerms flag failures caused by an unverified sender identity.
var senderHintTerms = []string{"verify", "verified", "domain", "sender", "from address"}

// SenderHint is returned with blast results whose failures look like a
// sender verification problem.
const SenderHint = "Some sends were rejected for sender reasons. Check that the sending domain is verified " +
	"with the email provider and that EMAIL_FROM_ADDRESS uses that domain."

// Hint returns SenderHint when any message mentions sender or domain
// verification, and "" otherwise.
func Hint(messages []string) string {
	for _, m := range messages {
		lower := strings.ToLower(m)
		for _, term := range senderHintTerms {
			if strings.Contains(lower, term) {
				return SenderHint
			}
		}
	}
	return ""
}
