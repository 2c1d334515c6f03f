package recon

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/subwatch/subwatch/internal/config"
	recerr "github.com/subwatch/subwatch/internal/errors"
	"github.com/subwatch/subwatch/internal/models"
)

// Engine is the reconciliation facade callers use: confirmed evidence goes
// through ApplyEvidence, bank transactions through AnalyzeTransaction, and
// reads through ListSubscriptions, which projects renewal dates forward.
type Engine struct {
	subs       SubscriptionRepo
	ledger     LedgerRepo
	potentials PotentialRepo
	emails     EmailRepo

	processor *Processor
	detector  *Detector
	matcher   *CrossSourceMatcher

	now func() time.Time
}

// NewEngine wires the reconciliation components over the given repositories.
func NewEngine(subs SubscriptionRepo, ledger LedgerRepo, potentials PotentialRepo, emails EmailRepo, tuning config.Tuning) *Engine {
	resolver := NewPrefixTokenResolver(subs)
	return &Engine{
		subs:       subs,
		ledger:     ledger,
		potentials: potentials,
		emails:     emails,
		processor:  NewProcessor(subs, ledger, resolver),
		detector:   NewDetector(potentials, subs, tuning),
		matcher:    NewCrossSourceMatcher(emails, tuning.MatchWindow),
		now:        time.Now,
	}
}

// WithResolver swaps the identity-matching strategy.
func (e *Engine) WithResolver(resolver IdentityResolver) *Engine {
	e.processor = NewProcessor(e.subs, e.ledger, resolver)
	return e
}

// WithClock overrides the engine clock, for tests.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// ApplyEvidence applies one confirmed evidence item to the user's canonical
// state. The returned outcome feeds batch summaries.
func (e *Engine) ApplyEvidence(ctx context.Context, userID string, ev models.CandidateEvidence) (*models.Subscription, Outcome, error) {
	return e.processor.Apply(ctx, userID, ev)
}

// RecordEmail stores email evidence for later cross-source corroboration.
func (e *Engine) RecordEmail(ctx context.Context, userID string, msg models.EmailMessage) error {
	if err := e.emails.Put(ctx, userID, msg); err != nil {
		return recerr.WrapStore("record_email", err)
	}
	return nil
}

// AnalyzeTransaction runs the transaction path: corroborate against email
// evidence, estimate the recurring pattern, classify confidence, and persist
// the candidate. Confirmed candidates are auto-applied as renewal evidence
// and the application outcome is returned for batch accounting; potential
// ones wait for the user and report OutcomeSkipped.
func (e *Engine) AnalyzeTransaction(ctx context.Context, userID string, tx models.BankTransaction) (*models.PotentialSubscription, Outcome, error) {
	if tx.TransactionID == "" {
		return nil, OutcomeSkipped, recerr.WrapValidation("analyze_transaction", fmt.Errorf("transaction has no id"))
	}

	match, err := e.matcher.Match(ctx, userID, tx.MerchantName, tx.Amount, tx.Date)
	if err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("match_transaction", err)
	}
	pattern, err := e.detector.Detect(ctx, userID, tx.MerchantName, tx.Amount, tx.Date)
	if err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("detect_pattern", err)
	}

	confidence, reason := Classify(match.Matched, pattern.Detected)

	pot := &models.PotentialSubscription{
		ID:               uuid.NewString(),
		UserID:           userID,
		MerchantName:     tx.MerchantName,
		Amount:           tx.Amount,
		Currency:         tx.Currency,
		TransactionDate:  tx.Date,
		TransactionID:    tx.TransactionID,
		Confidence:       confidence,
		Reason:           reason,
		RecurringPattern: pattern,
		MatchedEmailID:   match.EmailID,
		UserAction:       models.UserAction{Action: models.ActionPending},
	}
	if err := e.potentials.Upsert(ctx, pot); err != nil {
		return nil, OutcomeSkipped, recerr.WrapStore("persist_potential", err)
	}

	log.Debug().
		Str("userID", userID).
		Str("merchant", tx.MerchantName).
		Str("confidence", string(confidence)).
		Str("reason", string(reason)).
		Bool("patternDetected", pattern.Detected).
		Int("occurrences", pattern.Occurrences).
		Msg("Analyzed bank transaction")

	outcome := OutcomeSkipped
	if confidence == models.ConfidenceConfirmed {
		origin := models.SourceTransaction
		if match.Matched {
			origin = models.SourceTransactionEmail
		}
		ev := models.CandidateEvidence{
			EventType:   models.EventRenewal,
			ServiceName: tx.MerchantName,
			Amount:      &tx.Amount,
			Currency:    tx.Currency,
			SourceID:    tx.TransactionID,
			SourceDate:  tx.Date,
			Origin:      origin,
		}
		if _, outcome, err = e.processor.Apply(ctx, userID, ev); err != nil {
			return nil, OutcomeSkipped, err
		}
	}

	return pot, outcome, nil
}

// ListSubscriptions returns the user's subscriptions with renewal dates
// projected forward to now.
func (e *Engine) ListSubscriptions(ctx context.Context, userID string, status *models.SubscriptionStatus) ([]models.Subscription, error) {
	subs, err := e.subs.ListForUser(ctx, userID, status)
	if err != nil {
		return nil, recerr.WrapStore("list_subscriptions", err)
	}
	now := e.now()
	for i := range subs {
		subs[i] = ProjectRenewal(subs[i], now)
	}
	return subs, nil
}

// ConfirmPotential promotes a potential candidate to an applied start event.
// The synthetic source id keeps a repeated confirm idempotent.
func (e *Engine) ConfirmPotential(ctx context.Context, userID, potentialID string) (*models.Subscription, error) {
	pot, err := e.potentials.GetByID(ctx, userID, potentialID)
	if err != nil {
		return nil, recerr.WrapStore("get_potential", err)
	}
	if pot == nil {
		return nil, recerr.ErrNotFound
	}

	now := e.now()
	action := models.UserAction{Action: models.ActionConfirmed, ActionDate: &now}
	if err := e.potentials.UpdateAction(ctx, userID, potentialID, action, models.ConfidenceUserConfirmed); err != nil {
		return nil, recerr.WrapStore("confirm_potential", err)
	}

	ev := models.CandidateEvidence{
		EventType:   models.EventStart,
		ServiceName: pot.MerchantName,
		Amount:      &pot.Amount,
		Currency:    pot.Currency,
		StartDate:   &pot.TransactionDate,
		SourceID:    "confirm:" + potentialID,
		SourceDate:  pot.TransactionDate,
		Origin:      models.SourceManual,
	}
	sub, _, err := e.processor.Apply(ctx, userID, ev)
	if err != nil {
		return nil, err
	}
	return sub, nil
}

// RejectPotential records the user's rejection of a candidate.
func (e *Engine) RejectPotential(ctx context.Context, userID, potentialID, reason string) error {
	pot, err := e.potentials.GetByID(ctx, userID, potentialID)
	if err != nil {
		return recerr.WrapStore("get_potential", err)
	}
	if pot == nil {
		return recerr.ErrNotFound
	}

	now := e.now()
	action := models.UserAction{Action: models.ActionRejected, ActionDate: &now, Reason: reason}
	if err := e.potentials.UpdateAction(ctx, userID, potentialID, action, models.ConfidenceRejected); err != nil {
		return recerr.WrapStore("reject_potential", err)
	}
	return nil
}

// Summary aggregates per-item outcomes of one reconciliation pass. End users
// see these counts, never individual item errors.
type Summary struct {
	Processed int `json:"processed"`
	Created   int `json:"created"`
	Updated   int `json:"updated"`
	Cancelled int `json:"cancelled"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
}

// Record tallies one item outcome into the summary.
func (s *Summary) Record(outcome Outcome, err error) {
	if err != nil {
		if recerr.IsRetryableError(err) {
			s.Failed++
		} else {
			s.Skipped++
		}
		return
	}
	switch outcome {
	case OutcomeCreated:
		s.Processed++
		s.Created++
	case OutcomeUpdated:
		s.Processed++
		s.Updated++
	case OutcomeCancelled:
		s.Processed++
		s.Cancelled++
	case OutcomeSkipped, OutcomeDuplicate:
		s.Skipped++
	}
}

// Add merges another summary into this one.
func (s *Summary) Add(other Summary) {
	s.Processed += other.Processed
	s.Created += other.Created
	s.Updated += other.Updated
	s.Cancelled += other.Cancelled
	s.Skipped += other.Skipped
	s.Failed += other.Failed
}
