package recon

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	recerr "github.com/subwatch/subwatch/internal/errors"
	"github.com/subwatch/subwatch/internal/models"
)

// Outcome reports what applying one evidence item did to the aggregate.
type Outcome string

const (
	OutcomeCreated   Outcome = "created"
	OutcomeUpdated   Outcome = "updated"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeSkipped   Outcome = "skipped"
	OutcomeDuplicate Outcome = "duplicate"
)

// Processor is the event state machine. It applies a single evidence item to
// the canonical Subscription aggregate under the idempotency ledger and the
// ordering invariants.
//
// Evidence for one user must be applied serially, oldest first where
// determinable: the staleness guard assumes serial application, and
// concurrent application of two events for the same identity is unsafe.
type Processor struct {
	subs     SubscriptionRepo
	ledger   LedgerRepo
	resolver IdentityResolver
}

// NewProcessor wires the state machine to its stores and identity strategy.
func NewProcessor(subs SubscriptionRepo, ledger LedgerRepo, resolver IdentityResolver) *Processor {
	return &Processor{subs: subs, ledger: ledger, resolver: resolver}
}

// Apply claims the evidence, resolves its identity, and transitions the
// aggregate. Duplicate and stale evidence return the current state unchanged
// rather than an error; only validation and persistence problems surface, and
// a persistence failure rolls the claim to failed so a later pass may retry.
func (p *Processor) Apply(ctx context.Context, userID string, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	if ev.SourceID == "" {
		return nil, OutcomeSkipped, recerr.WrapValidation("apply_evidence", fmt.Errorf("evidence has no source id"))
	}

	claimed, err := p.ledger.TryClaim(ctx, userID, ev.SourceID)
	if err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("claim_evidence", err)
	}
	if !claimed {
		sub, outcome, handled, err := p.resolveDuplicate(ctx, userID, ev.SourceID)
		if handled || err != nil {
			return sub, outcome, err
		}
		// A previously failed item was never applied; reattempt it.
	}

	if err := validate(ev); err != nil {
		p.markLedger(ctx, userID, ev.SourceID, models.LedgerSkipped, "")
		return nil, OutcomeSkipped, err
	}

	existing, err := p.resolver.Resolve(ctx, userID, ev.ServiceName)
	if err != nil {
		p.markLedger(ctx, userID, ev.SourceID, models.LedgerFailed, "")
		return nil, OutcomeSkipped, recerr.WrapStore("resolve_identity", err)
	}

	// Staleness guard: an older email must not overwrite newer state.
	// Cancellations are compared below on their own effective date instead,
	// to tolerate out-of-order arrival.
	if existing != nil && ev.EventType != models.EventCancellation &&
		ev.SourceDate.Before(existing.LastAppliedEventDate) {
		log.Debug().
			Str("userID", userID).
			Str("sourceID", ev.SourceID).
			Str("subscription", existing.ID).
			Time("sourceDate", ev.SourceDate).
			Time("lastApplied", existing.LastAppliedEventDate).
			Msg("Discarding stale evidence")
		p.markLedger(ctx, userID, ev.SourceID, models.LedgerSkipped, existing.ID)
		return existing, OutcomeSkipped, nil
	}

	sub, outcome, err := p.transition(ctx, userID, existing, ev)
	if err != nil {
		// Roll the claim to failed, not processed: the item was never
		// applied, so a retry must be allowed.
		p.markLedger(ctx, userID, ev.SourceID, models.LedgerFailed, "")
		return nil, OutcomeSkipped, err
	}
	if outcome == OutcomeSkipped {
		linked := ""
		if sub != nil {
			linked = sub.ID
		}
		p.markLedger(ctx, userID, ev.SourceID, models.LedgerSkipped, linked)
		return sub, outcome, nil
	}

	p.markLedger(ctx, userID, ev.SourceID, models.LedgerProcessed, sub.ID)
	return sub, outcome, nil
}

// resolveDuplicate handles an already-claimed source id. Processed and
// skipped entries are terminal: the previously linked subscription comes back
// unchanged. A failed entry is re-armed for another attempt.
func (p *Processor) resolveDuplicate(ctx context.Context, userID, sourceID string) (*models.Subscription, Outcome, bool, error) {
	entry, err := p.ledger.Get(ctx, userID, sourceID)
	if err != nil {
		return nil, OutcomeDuplicate, true, recerr.WrapStore("get_ledger_entry", err)
	}
	if entry != nil && entry.Status == models.LedgerFailed {
		if err := p.ledger.MarkResult(ctx, userID, sourceID, models.LedgerPending, ""); err != nil {
			return nil, OutcomeDuplicate, true, recerr.WrapStore("rearm_ledger_entry", err)
		}
		return nil, OutcomeDuplicate, false, nil
	}

	var sub *models.Subscription
	if entry != nil && entry.LinkedSubscriptionID != "" {
		sub, err = p.subs.GetByID(ctx, userID, entry.LinkedSubscriptionID)
		if err != nil {
			return nil, OutcomeDuplicate, true, recerr.WrapStore("get_linked_subscription", err)
		}
	}
	return sub, OutcomeDuplicate, true, nil
}

func (p *Processor) transition(ctx context.Context, userID string, existing *models.Subscription, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	switch ev.EventType {
	case models.EventStart, models.EventRenewal:
		if existing == nil {
			return p.create(ctx, userID, ev, models.StatusActive)
		}
		return p.applyActivity(ctx, existing, ev)

	case models.EventCancellation:
		return p.applyCancellation(ctx, userID, existing, ev)

	case models.EventChange:
		if existing == nil {
			// A plan change for an unknown subscription still proves one
			// exists; create it rather than dropping the signal.
			return p.create(ctx, userID, ev, models.StatusActive)
		}
		return p.applyChange(ctx, existing, ev)

	default:
		return nil, OutcomeSkipped, recerr.WrapValidation("apply_evidence",
			fmt.Errorf("unsupported event type %q", ev.EventType))
	}
}

func (p *Processor) create(ctx context.Context, userID string, ev models.CandidateEvidence, status models.SubscriptionStatus) (*models.Subscription, Outcome, error) {
	sub := &models.Subscription{
		ID:                   uuid.NewString(),
		UserID:               userID,
		CompanyName:          ev.ServiceName,
		NormalizedIdentity:   models.NormalizeIdentity(ev.ServiceName),
		Currency:             ev.Currency,
		Status:               status,
		Confidence:           models.ConfidenceConfirmed,
		Source:               evidenceSource(ev),
		Frequency:            models.FrequencyUnknown,
		PlanName:             ev.PlanName,
		NextRenewalDate:      ev.NextBillingDate,
		LastAppliedEventID:   ev.SourceID,
		LastAppliedEventDate: ev.SourceDate,
	}
	if ev.Amount != nil {
		sub.Price = *ev.Amount
	}
	if ev.StartDate != nil {
		sub.StartDate = *ev.StartDate
	} else {
		sub.StartDate = ev.SourceDate
	}

	outcome := OutcomeCreated
	if status == models.StatusCancelled {
		// Only the cancellation email was ever seen for this service.
		effective := ev.EffectiveCancellationDate()
		sub.CancellationDate = &effective
		if ev.NextBillingDate != nil {
			sub.AccessEndDate = ev.NextBillingDate
		} else {
			sub.AccessEndDate = &effective
		}
		outcome = OutcomeCancelled
	}

	if err := p.subs.Create(ctx, sub); err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("create_subscription", err)
	}
	log.Info().
		Str("userID", userID).
		Str("subscription", sub.ID).
		Str("company", sub.CompanyName).
		Str("status", string(sub.Status)).
		Msg("Created subscription from evidence")
	return sub, outcome, nil
}

// applyActivity handles start and renewal evidence for an existing
// subscription. Both are proof of current activity, so a cancelled
// subscription reactivates.
func (p *Processor) applyActivity(ctx context.Context, sub *models.Subscription, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	if ev.Amount != nil {
		sub.Price = *ev.Amount
	}
	if ev.Currency != "" {
		sub.Currency = ev.Currency
	}
	if ev.NextBillingDate != nil {
		sub.NextRenewalDate = ev.NextBillingDate
	}
	if ev.PlanName != "" {
		sub.PlanName = ev.PlanName
	}
	if sub.Status == models.StatusCancelled {
		sub.Status = models.StatusActive
		sub.CancellationDate = nil
		sub.AccessEndDate = nil
		log.Info().
			Str("subscription", sub.ID).
			Str("company", sub.CompanyName).
			Msg("Reactivated cancelled subscription")
	}

	sub.LastAppliedEventID = ev.SourceID
	sub.LastAppliedEventDate = ev.SourceDate
	if err := p.subs.Update(ctx, sub); err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("update_subscription", err)
	}
	return sub, OutcomeUpdated, nil
}

func (p *Processor) applyCancellation(ctx context.Context, userID string, sub *models.Subscription, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	if sub == nil {
		return p.create(ctx, userID, ev, models.StatusCancelled)
	}

	effective := ev.EffectiveCancellationDate()
	if effective.Before(sub.LastAppliedEventDate) {
		// The user resubscribed after this cancellation happened; the signal
		// is stale. The ledger entry still records it for audit.
		log.Debug().
			Str("subscription", sub.ID).
			Time("cancellation", effective).
			Time("lastApplied", sub.LastAppliedEventDate).
			Msg("Discarding stale cancellation")
		return sub, OutcomeSkipped, nil
	}

	sub.Status = models.StatusCancelled
	sub.CancellationDate = &effective
	if ev.NextBillingDate != nil {
		sub.AccessEndDate = ev.NextBillingDate
	} else {
		sub.AccessEndDate = &effective
	}
	sub.LastAppliedEventID = ev.SourceID
	sub.LastAppliedEventDate = ev.SourceDate
	if err := p.subs.Update(ctx, sub); err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("update_subscription", err)
	}
	log.Info().
		Str("subscription", sub.ID).
		Str("company", sub.CompanyName).
		Time("effective", effective).
		Msg("Cancelled subscription from evidence")
	return sub, OutcomeCancelled, nil
}

// applyChange updates plan and price fields only; status is untouched.
func (p *Processor) applyChange(ctx context.Context, sub *models.Subscription, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	if ev.Amount != nil {
		sub.Price = *ev.Amount
	}
	if ev.Currency != "" {
		sub.Currency = ev.Currency
	}
	if ev.PlanName != "" {
		sub.PlanName = ev.PlanName
	}
	sub.LastAppliedEventID = ev.SourceID
	sub.LastAppliedEventDate = ev.SourceDate
	if err := p.subs.Update(ctx, sub); err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("update_subscription", err)
	}
	return sub, OutcomeUpdated, nil
}

func (p *Processor) markLedger(ctx context.Context, userID, sourceID string, status models.LedgerStatus, linked string) {
	if err := p.ledger.MarkResult(ctx, userID, sourceID, status, linked); err != nil {
		log.Error().Err(err).
			Str("userID", userID).
			Str("sourceID", sourceID).
			Str("status", string(status)).
			Msg("Failed to mark ledger entry")
	}
}

func validate(ev models.CandidateEvidence) error {
	if ev.ServiceName == "" {
		return recerr.WrapValidation("apply_evidence", fmt.Errorf("evidence has no service name"))
	}
	switch ev.EventType {
	case models.EventStart, models.EventRenewal, models.EventCancellation, models.EventChange:
	default:
		return recerr.WrapValidation("apply_evidence", fmt.Errorf("unsupported event type %q", ev.EventType))
	}
	if ev.SourceDate.IsZero() {
		return recerr.WrapValidation("apply_evidence", fmt.Errorf("evidence has no source date"))
	}
	return nil
}

// evidenceSource maps an evidence origin onto the subscription source label.
func evidenceSource(ev models.CandidateEvidence) models.Source {
	if ev.Origin != "" {
		return ev.Origin
	}
	return models.SourceEmail
}
