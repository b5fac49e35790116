// Package settings stores operator-editable documents as JSON blobs keyed by
// kind. Every kind has an explicit schema: documents are decoded strictly
// (unknown fields are rejected) and validated before they are written, and
// a stored document that no longer validates is replaced by the kind's
// defaults when read.
package settings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-playground/validator/v10"

	"hearth/internal/types"
)

// Kind names a settings document.
type Kind string

const (
	KindSite          Kind = "site"
	KindNotifications Kind = "notifications"
)

// maxDocumentSize bounds a stored settings document.
const maxDocumentSize = 64 << 10

// Hours is one opening-hours row. Open and Close are HH:MM; a closed day
// has Closed set and no times.
type Hours struct {
	Day    string `json:"day" validate:"required,oneof=mon tue wed thu fri sat sun"`
	Open   string `json:"open,omitempty" validate:"required_without=Closed,omitempty,datetime=15:04"`
	Close  string `json:"close,omitempty" validate:"required_without=Closed,omitempty,datetime=15:04"`
	Closed bool   `json:"closed,omitempty"`
}

// Site is the public restaurant profile.
type Site struct {
	Name    string  `json:"name" validate:"required,max=120"`
	Phone   string  `json:"phone,omitempty" validate:"max=40"`
	Email   string  `json:"email,omitempty" validate:"omitempty,email"`
	Address string  `json:"address,omitempty" validate:"max=300"`
	Hours   []Hours `json:"hours" validate:"max=14,dive"`
}

// Notifications lists the staff addresses that receive each lead kind.
type Notifications struct {
	ReservationRecipients []string `json:"reservation_recipients" validate:"max=10,dive,email"`
	JobRecipients         []string `json:"job_recipients" validate:"max=10,dive,email"`
	ContactRecipients     []string `json:"contact_recipients" validate:"max=10,dive,email"`
}

// Defaults returns the document used when kind has never been saved.
func Defaults(kind Kind) (any, error) {
	switch kind {
	case KindSite:
		return &Site{Name: "Hearth", Hours: []Hours{}}, nil
	case KindNotifications:
		return &Notifications{
			ReservationRecipients: []string{},
			JobRecipients:         []string{},
			ContactRecipients:     []string{},
		}, nil
	default:
		return nil, unknownKind(kind)
	}
}

// ParseKind validates a kind taken from a URL.
func ParseKind(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	if _, err := Defaults(k); err != nil {
		return "", err
	}
	return k, nil
}

func unknownKind(kind Kind) error {
	return types.NewAppErrorWithDetails(types.ErrCodeValidationSettingsKind,
		fmt.Sprintf("unknown settings kind %q", kind), nil, map[string]any{"kind": string(kind)})
}

// Decode parses raw as kind. Unknown fields, trailing data and values that
// fail validation are all rejected with validation_invalid_settings.
func Decode(v *validator.Validate, kind Kind, raw []byte) (any, error) {
	var doc any
	switch kind {
	case KindSite:
		doc = &Site{}
	case KindNotifications:
		doc = &Notifications{}
	default:
		return nil, unknownKind(kind)
	}
	if len(raw) > maxDocumentSize {
		return nil, types.NewAppError(types.ErrCodeValidationSettingsValue, "settings document is too large", nil)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(doc); err != nil {
		return nil, types.NewAppError(types.ErrCodeValidationSettingsValue, "settings document is not valid JSON for "+string(kind), err)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, types.NewAppError(types.ErrCodeValidationSettingsValue, "settings document must be a single JSON object", nil)
	}

	normalize(doc)
	if err := v.Struct(doc); err != nil {
		return nil, validationError(err)
	}
	return doc, nil
}

func normalize(doc any) {
	switch d := doc.(type) {
	case *Site:
		d.Name = strings.TrimSpace(d.Name)
		d.Email = types.NormalizeEmail(d.Email)
		if d.Hours == nil {
			d.Hours = []Hours{}
		}
		for i := range d.Hours {
			d.Hours[i].Day = strings.ToLower(strings.TrimSpace(d.Hours[i].Day))
		}
	case *Notifications:
		d.ReservationRecipients = normalizeList(d.ReservationRecipients)
		d.JobRecipients = normalizeList(d.JobRecipients)
		d.ContactRecipients = normalizeList(d.ContactRecipients)
	}
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, e := range in {
		e = types.NormalizeEmail(e)
		if e == "" {
			continue
		}
		if _, dup := seen[e]; dup {
			continue
		}
		seen[e] = struct{}{}
		out = append(out, e)
	}
	return out
}

func validationError(err error) error {
	var ve validator.ValidationErrors
	if !errors.As(err, &ve) || len(ve) == 0 {
		return types.NewAppError(types.ErrCodeValidationSettingsValue, "settings document is invalid", err)
	}
	fields := make([]string, 0, len(ve))
	for _, fe := range ve {
		fields = append(fields, fe.Namespace())
	}
	return types.NewAppErrorWithDetails(types.ErrCodeValidationSettingsValue,
		"settings document is invalid: "+ve[0].Namespace()+" failed "+ve[0].Tag(), err,
		map[string]any{"fields": fields})
}

// Store is the raw blob storage.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, value []byte) error
}

// Service reads and writes typed settings.
type Service struct {
	store    Store
	validate *validator.Validate
	logger   types.Logger
}

// NewService creates a Service.
func NewService(store Store, v *validator.Validate, logger types.Logger) *Service {
	return &Service{store: store, validate: v, logger: logger}
}

// Get returns the stored document for kind, or its defaults when nothing
// valid is stored.
func (s *Service) Get(ctx context.Context, kind Kind) (any, error) {
	raw, err := s.store.Get(ctx, string(kind))
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return Defaults(kind)
	}
	doc, err := Decode(s.validate, kind, raw)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeValidationSettingsKind {
			return nil, err
		}
		s.logger.Warn("stored settings are invalid, using defaults", "kind", string(kind), "error", err.Error())
		return Defaults(kind)
	}
	return doc, nil
}

// Put validates raw and stores the normalized document.
func (s *Service) Put(ctx context.Context, kind Kind, raw []byte) (any, error) {
	doc, err := Decode(s.validate, kind, raw)
	if err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("settings: encode %s: %w", kind, err)
	}
	if err := s.store.Put(ctx, string(kind), normalized); err != nil {
		return nil, err
	}
	s.logger.Info("settings updated", "kind", string(kind))
	return doc, nil
}

// Site returns the site profile.
func (s *Service) Site(ctx context.Context) (*Site, error) {
	doc, err := s.Get(ctx, KindSite)
	if err != nil {
		return nil, err
	}
	return doc.(*Site), nil
}

// StaffRecipients returns the notification addresses for a lead kind.
func (s *Service) StaffRecipients(ctx context.Context, kind types.LeadKind) ([]string, error) {
	doc, err := s.Get(ctx, KindNotifications)
	if err != nil {
		return nil, err
	}
	n := doc.(*Notifications)
	switch kind {
	case types.LeadReservation:
		return n.ReservationRecipients, nil
	case types.LeadJobApplication:
		return n.JobRecipients, nil
	case types.LeadContact:
		return n.ContactRecipients, nil
	default:
		return nil, nil
	}
}
