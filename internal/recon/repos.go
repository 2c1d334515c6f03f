// Package recon implements the reconciliation engine. It takes one evidence
// item at a time (a parsed email, a bank transaction, or a statement line)
// and decides whether it creates, updates, reactivates, or ignores a
// canonical Subscription, without ever double-applying evidence or letting an
// out-of-order item overwrite newer state.
package recon

import (
	"context"
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// SubscriptionRepo is the storage contract for canonical subscriptions.
// Lookups that find nothing return (nil, nil); absence is a valid outcome
// that drives creation of a new aggregate.
type SubscriptionRepo interface {
	Create(ctx context.Context, sub *models.Subscription) error
	Update(ctx context.Context, sub *models.Subscription) error
	GetByID(ctx context.Context, userID, id string) (*models.Subscription, error)
	// FindByToken returns the most-recently-updated subscription whose
	// company name contains token case-insensitively.
	FindByToken(ctx context.Context, userID, token string) (*models.Subscription, error)
	ListForUser(ctx context.Context, userID string, status *models.SubscriptionStatus) ([]models.Subscription, error)
}

// LedgerRepo is the at-most-once guard over evidence application.
type LedgerRepo interface {
	// TryClaim atomically records a pending claim. False means the pair was
	// already claimed and the caller must treat the item as handled.
	TryClaim(ctx context.Context, userID, sourceID string) (bool, error)
	MarkResult(ctx context.Context, userID, sourceID string, status models.LedgerStatus, linkedSubscriptionID string) error
	Get(ctx context.Context, userID, sourceID string) (*models.LedgerEntry, error)
}

// PotentialRepo stores transaction-path candidates awaiting confirmation.
type PotentialRepo interface {
	Upsert(ctx context.Context, pot *models.PotentialSubscription) error
	UpdateAction(ctx context.Context, userID, id string, action models.UserAction, confidence models.Confidence) error
	GetByID(ctx context.Context, userID, id string) (*models.PotentialSubscription, error)
	ListSince(ctx context.Context, userID string, since time.Time) ([]models.PotentialSubscription, error)
}

// EmailRepo stores scanned email evidence for cross-source corroboration.
type EmailRepo interface {
	Put(ctx context.Context, userID string, msg models.EmailMessage) error
	ListWindow(ctx context.Context, userID string, from, to time.Time) ([]models.EmailMessage, error)
}
