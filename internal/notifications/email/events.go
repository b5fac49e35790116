package email

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"hearth/internal/types"
)

// DeliveryKind classifies a provider delivery event.
type DeliveryKind string

const (
	KindBounced    DeliveryKind = "bounced"
	KindComplained DeliveryKind = "complained"
	KindSuppressed DeliveryKind = "suppressed"
	KindOther      DeliveryKind = "other"
)

// BounceDetail carries the provider's bounce classification.
type BounceDetail struct {
	Message string
	SubType string
	Type    string
}

// SuppressionDetail carries the provider's reason for an explicit
// suppression.
type SuppressionDetail struct {
	Reason string
}

// DeliveryEvent is a parsed delivery webhook. Bounce is set only for
// KindBounced and Suppression only for KindSuppressed.
type DeliveryEvent struct {
	// Type is the provider event name, e.g. "email.bounced".
	Type       string
	Kind       DeliveryKind
	EmailID    string
	CreatedAt  time.Time
	Recipients []string

	Bounce      *BounceDetail
	Suppression *SuppressionDetail
}

type rawEvent struct {
	Type      string          `json:"type"`
	CreatedAt string          `json:"created_at"`
	Data      json.RawMessage `json:"data"`
}

type rawEventData struct {
	EmailID    string          `json:"email_id"`
	To         json.RawMessage `json:"to"`
	Bounce     *rawBounce      `json:"bounce"`
	Suppressed *rawSuppressed  `json:"suppressed"`
}

type rawBounce struct {
	Message string `json:"message"`
	SubType string `json:"subType"`
	Type    string `json:"type"`
}

type rawSuppressed struct {
	Reason string `json:"reason"`
	Type   string `json:"type"`
}

func invalidEvent(msg string, err error) error {
	return types.NewAppError(types.ErrCodeValidationWebhookShape, msg, err)
}

// ParseDeliveryEvent validates and normalizes a webhook body. The event must
// be a JSON object with a string "type" and an object "data". Recipients are
// taken from data.to, which may be a string or an array; they are trimmed,
// lowercased and de-duplicated, and entries that are not addresses are
// dropped.
func ParseDeliveryEvent(payload []byte) (*DeliveryEvent, error) {
	var raw rawEvent
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, invalidEvent("webhook body is not a JSON object", err)
	}
	raw.Type = strings.TrimSpace(raw.Type)
	if raw.Type == "" {
		return nil, invalidEvent("webhook event has no type", nil)
	}
	if d := bytes.TrimSpace(raw.Data); len(d) == 0 || d[0] != '{' {
		return nil, invalidEvent("webhook event data is not an object", nil)
	}

	var data rawEventData
	if err := json.Unmarshal(raw.Data, &data); err != nil {
		return nil, invalidEvent("webhook event data is malformed", err)
	}
	recipients, err := parseRecipients(data.To)
	if err != nil {
		return nil, err
	}

	ev := &DeliveryEvent{
		Type:       raw.Type,
		Kind:       kindOf(raw.Type),
		EmailID:    data.EmailID,
		Recipients: recipients,
	}
	if t, err := time.Parse(time.RFC3339Nano, raw.CreatedAt); err == nil {
		ev.CreatedAt = t.UTC()
	}

	switch ev.Kind {
	case KindBounced:
		if data.Bounce != nil {
			ev.Bounce = &BounceDetail{
				Message: strings.TrimSpace(data.Bounce.Message),
				SubType: strings.TrimSpace(data.Bounce.SubType),
				Type:    strings.TrimSpace(data.Bounce.Type),
			}
		}
	case KindSuppressed:
		ev.Suppression = &SuppressionDetail{}
		if data.Suppressed != nil {
			reason := strings.TrimSpace(data.Suppressed.Reason)
			if reason == "" {
				reason = strings.TrimSpace(data.Suppressed.Type)
			}
			ev.Suppression.Reason = reason
		}
	}
	return ev, nil
}

func kindOf(eventType string) DeliveryKind {
	switch strings.TrimPrefix(strings.ToLower(eventType), "email.") {
	case "bounced":
		return KindBounced
	case "complained":
		return KindComplained
	case "suppressed":
		return KindSuppressed
	default:
		return KindOther
	}
}

func parseRecipients(raw json.RawMessage) ([]string, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var list []string
	switch raw[0] {
	case '"':
		var one string
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, invalidEvent("webhook recipient is malformed", err)
		}
		list = []string{one}
	case '[':
		var many []any
		if err := json.Unmarshal(raw, &many); err != nil {
			return nil, invalidEvent("webhook recipients are malformed", err)
		}
		for _, v := range many {
			if s, ok := v.(string); ok {
				list = append(list, s)
			}
		}
	default:
		return nil, invalidEvent(fmt.Sprintf("webhook recipients have unexpected JSON %q", raw[:1]), nil)
	}

	seen := make(map[string]struct{}, len(list))
	out := make([]string, 0, len(list))
	for _, s := range list {
		addr, err := mail.ParseAddress(strings.TrimSpace(s))
		if err != nil {
			continue
		}
		e := types.NormalizeEmail(addr.Address)
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// SuppressionReason derives the stored suppressed_reason for ev. It reports
// false when the event should not change any client.
func (ev *DeliveryEvent) SuppressionReason() (string, bool) {
	switch ev.Kind {
	case KindComplained:
		return types.SuppressionComplaint, true
	case KindBounced:
		if ev.Bounce == nil || (ev.Bounce.SubType == "" && ev.Bounce.Type == "") {
			return types.SuppressionBounce, true
		}
		return fmt.Sprintf("%s:%s/%s", types.SuppressionBounce, ev.Bounce.SubType, ev.Bounce.Type), true
	case KindSuppressed:
		if ev.Suppression == nil || ev.Suppression.Reason == "" {
			return types.SuppressionSuppressed, true
		}
		return types.SuppressionSuppressed + ":" + ev.Suppression.Reason, true
	default:
		return "", false
	}
}
