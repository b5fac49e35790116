package types

import (
	"strings"
	"time"
)

// Client is a newsletter / mailing-list subscriber.
//
// Eligibility for a blast is decided by Unsubscribed alone unless the
// deployment opts into skipping suppressed addresses (see RecipientFilter).
type Client struct {
	ID               string     `json:"id" db:"id"`
	Email            string     `json:"email" db:"email"`
	Name             string     `json:"name,omitempty" db:"name"`
	Unsubscribed     bool       `json:"unsubscribed" db:"unsubscribed"`
	UnsubscribedAt   *time.Time `json:"unsubscribed_at,omitempty" db:"unsubscribed_at"`
	UnsubscribeToken string     `json:"-" db:"unsubscribe_token"`
	Suppressed       bool       `json:"suppressed" db:"suppressed"`
	SuppressedReason string     `json:"suppressed_reason,omitempty" db:"suppressed_reason"`
	SuppressedAt     *time.Time `json:"suppressed_at,omitempty" db:"suppressed_at"`
	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
}

// Suppression reasons written by the admin toggle and the delivery webhook.
// Bounce and suppression events may also produce composite reasons such as
// "bounce:Permanent/General" or "suppressed:spam".
const (
	SuppressionManual     = "manual"
	SuppressionHardBounce = "hard_bounce"
	SuppressionComplaint  = "complaint"
	SuppressionBounce     = "bounce"
	SuppressionSuppressed = "suppressed"
)

// ClientPatch is a partial update. Nil fields are left untouched; the
// Clear* flags null the corresponding timestamp or reason.
type ClientPatch struct {
	Name             *string
	Unsubscribed     *bool
	UnsubscribedAt   *time.Time
	ClearUnsubAt     bool
	Suppressed       *bool
	SuppressedAt     *time.Time
	ClearSuppAt      bool
	SuppressedReason *string
	ClearReason      bool
}

// IsEmpty reports whether the patch would write nothing.
func (p ClientPatch) IsEmpty() bool {
	return p.Name == nil && p.Unsubscribed == nil && p.UnsubscribedAt == nil && !p.ClearUnsubAt &&
		p.Suppressed == nil && p.SuppressedAt == nil && !p.ClearSuppAt &&
		p.SuppressedReason == nil && !p.ClearReason
}

// ResubscribePatch clears opt-out and suppression state together.
func ResubscribePatch() ClientPatch {
	f := false
	return ClientPatch{
		Unsubscribed: &f,
		ClearUnsubAt: true,
		Suppressed:   &f,
		ClearSuppAt:  true,
		ClearReason:  true,
	}
}

// ManualUnsubscribePatch opts the client out and marks it manually suppressed.
func ManualUnsubscribePatch(now time.Time) ClientPatch {
	t := true
	reason := SuppressionManual
	return ClientPatch{
		Unsubscribed:     &t,
		UnsubscribedAt:   &now,
		Suppressed:       &t,
		SuppressedAt:     &now,
		SuppressedReason: &reason,
	}
}

// BlastRecipient is the projection the orchestrator works on.
type BlastRecipient struct {
	ID               string
	Email            string
	Name             string
	UnsubscribeToken string
}

// RecipientFilter narrows the eligible set.
type RecipientFilter struct {
	// SkipSuppressed additionally excludes suppressed clients.
	SkipSuppressed bool
}

// MaxBlastRecipients caps a single blast.
const MaxBlastRecipients = 5000

// SuppressionUpdate is applied to one address by the webhook ingestor.
type SuppressionUpdate struct {
	Reason string
	// Unsubscribe additionally opts the client out (complaints).
	Unsubscribe bool
	At          time.Time
}

// ClientListFilter drives the admin client listing.
type ClientListFilter struct {
	Search string
	Status string // "", "subscribed", "unsubscribed", "suppressed"
	Limit  int
	Offset int
}

// NormalizeEmail trims and lowercases an address. Registry lookups and
// webhook recipients always go through it.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// LeadKind identifies which public form produced a lead.
type LeadKind string

const (
	LeadReservation    LeadKind = "reservation"
	LeadJobApplication LeadKind = "job_application"
	LeadContact        LeadKind = "contact"
)

// LeadStatus tracks staff handling of a lead.
type LeadStatus string

const (
	LeadStatusNew       LeadStatus = "new"
	LeadStatusConfirmed LeadStatus = "confirmed"
	LeadStatusDeclined  LeadStatus = "declined"
	LeadStatusArchived  LeadStatus = "archived"
)

// Valid reports whether s is a known status.
func (s LeadStatus) Valid() bool {
	switch s {
	case LeadStatusNew, LeadStatusConfirmed, LeadStatusDeclined, LeadStatusArchived:
		return true
	}
	return false
}

// Lead is a submitted reservation request, job application, or contact message.
// Kind-specific fields live in Payload.
type Lead struct {
	ID        string         `json:"id" db:"id"`
	Kind      LeadKind       `json:"kind" db:"kind"`
	Status    LeadStatus     `json:"status" db:"status"`
	Name      string         `json:"name" db:"name"`
	Email     string         `json:"email" db:"email"`
	Phone     string         `json:"phone,omitempty" db:"phone"`
	Payload   map[string]any `json:"payload" db:"payload"`
	CreatedAt time.Time      `json:"created_at" db:"created_at"`
	UpdatedAt time.Time      `json:"updated_at" db:"updated_at"`
}

// LeadFilter drives the admin lead listing.
type LeadFilter struct {
	Kind   LeadKind
	Status LeadStatus
	Limit  int
	Offset int
}

// PageView is one analytics pixel hit.
type PageView struct {
	Path         string
	ReferrerHost string
	VisitorHash  string
	DeviceClass  string
	CreatedAt    time.Time
}

// PathStats is one row of the analytics summary.
type PathStats struct {
	Path           string `json:"path"`
	Views          int64  `json:"views"`
	UniqueVisitors int64  `json:"unique_visitors"`
}

// EmailEvent is the audit record of a verified delivery webhook.
type EmailEvent struct {
	ProviderEventID string
	Type            string
	Recipients      []string
	Payload         []byte
	ReceivedAt      time.Time
}
