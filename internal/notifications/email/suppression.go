package email

import (
	"context"
	"time"

	"hearth/internal/external"
	"hearth/internal/types"
)

// SuppressionStore applies provider suppression to registry records.
type SuppressionStore interface {
	ApplySuppression(ctx context.Context, email string, u types.SuppressionUpdate) (bool, error)
}

// EventAudit keeps the raw event. Record reports false for a replay of an
// event id it has already stored.
type EventAudit interface {
	Record(ctx context.Context, ev types.EmailEvent) (bool, error)
}

// SuppressionMetrics counts suppressed addresses by reason.
type SuppressionMetrics interface {
	RecordSuppression(ctx context.Context, reason string, n int)
}

// IngestorConfig holds the dependencies for creating a SuppressionIngestor.
type IngestorConfig struct {
	Store   SuppressionStore
	Audit   EventAudit
	Mirror  external.SuppressionMirror
	Metrics SuppressionMetrics
	Clock   types.Clock
	Logger  types.Logger
}

// SuppressionIngestor turns verified delivery events into client
// suppression state.
type SuppressionIngestor struct {
	store   SuppressionStore
	audit   EventAudit
	mirror  external.SuppressionMirror
	metrics SuppressionMetrics
	clock   types.Clock
	logger  types.Logger
}

// NewSuppressionIngestor creates a SuppressionIngestor. Audit and Mirror
// are optional.
func NewSuppressionIngestor(cfg IngestorConfig) *SuppressionIngestor {
	s := &SuppressionIngestor{
		store:   cfg.Store,
		audit:   cfg.Audit,
		mirror:  cfg.Mirror,
		metrics: cfg.Metrics,
		clock:   cfg.Clock,
		logger:  cfg.Logger,
	}
	if s.metrics == nil {
		s.metrics = NoopMetrics{}
	}
	if s.clock == nil {
		s.clock = types.RealClock{}
	}
	return s
}

// IngestResult summarizes what one event changed.
type IngestResult struct {
	Reason  string
	Matched int
	Failed  int
	Ignored bool
}

// Handle processes an event whose signature has already been verified.
// eventID is the provider's delivery id and payload the raw body, both kept
// for audit. Handle never fails: storage problems are logged and the event
// is still acknowledged so the provider does not retry forever.
func (s *SuppressionIngestor) Handle(ctx context.Context, eventID string, payload []byte, ev *DeliveryEvent) IngestResult {
	now := s.clock.Now()
	log := s.logger.With("event_id", eventID, "event_type", ev.Type)

	redacted := RedactAll(ev.Recipients)
	log.Info("delivery webhook received", "kind", string(ev.Kind), "recipients", redacted)
	s.recordAudit(ctx, log, eventID, payload, ev, now)

	reason, ok := ev.SuppressionReason()
	if !ok || len(ev.Recipients) == 0 {
		log.Info("delivery webhook ignored", "kind", string(ev.Kind), "recipients", len(ev.Recipients))
		return IngestResult{Ignored: true}
	}

	update := types.SuppressionUpdate{
		Reason:      reason,
		Unsubscribe: ev.Kind == KindComplained,
		At:          now,
	}

	res := IngestResult{Reason: reason}
	for _, addr := range ev.Recipients {
		matched, err := s.store.ApplySuppression(ctx, addr, update)
		if err != nil {
			res.Failed++
			log.Error("suppression update failed", "to", RedactEmail(addr), "reason", reason, "error", err.Error())
			continue
		}
		if !matched {
			log.Info("suppressed address is not a client", "to", RedactEmail(addr))
			continue
		}
		res.Matched++

		if s.mirror != nil {
			if err := s.mirror.MirrorSuppression(ctx, addr, update.Unsubscribe); err != nil {
				log.Warn("suppression mirror failed", "to", RedactEmail(addr), "error", err.Error())
			}
		}
	}

	log.Info("suppression applied",
		"reason", reason,
		"unsubscribe", update.Unsubscribe,
		"matched", res.Matched,
		"failed", res.Failed,
	)
	s.metrics.RecordSuppression(ctx, reasonCategory(ev.Kind), res.Matched)
	return res
}

func (s *SuppressionIngestor) recordAudit(ctx context.Context, log types.Logger, eventID string, payload []byte, ev *DeliveryEvent, now time.Time) {
	if s.audit == nil {
		return
	}
	fresh, err := s.audit.Record(ctx, types.EmailEvent{
		ProviderEventID: eventID,
		Type:            ev.Type,
		Recipients:      ev.Recipients,
		Payload:         payload,
		ReceivedAt:      now,
	})
	switch {
	case err != nil:
		log.Warn("delivery webhook audit failed", "error", err.Error())
	case !fresh:
		log.Info("delivery webhook replayed, applying again")
	}
}

// reasonCategory keeps metric dimensions low-cardinality.
func reasonCategory(k DeliveryKind) string {
	switch k {
	case KindComplained:
		return types.SuppressionComplaint
	case KindBounced:
		return types.SuppressionBounce
	default:
		return types.SuppressionSuppressed
	}
}
