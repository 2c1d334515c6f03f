// Package models defines the core domain types for subscription
// reconciliation: the canonical Subscription aggregate, the evidence and
// transaction inputs, and the idempotency ledger entries that guard them.
package models

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// SubscriptionStatus is the lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusActive    SubscriptionStatus = "active"
	StatusCancelled SubscriptionStatus = "cancelled"
)

// Confidence expresses how certain the system is that a detected charge is a
// genuine recurring subscription.
type Confidence string

const (
	ConfidenceConfirmed     Confidence = "confirmed"
	ConfidencePotential     Confidence = "potential"
	ConfidenceUserConfirmed Confidence = "user_confirmed"
	ConfidenceRejected      Confidence = "rejected"
)

// Source records which evidence stream produced a subscription.
type Source string

const (
	SourceEmail            Source = "email"
	SourceTransaction      Source = "transaction"
	SourceTransactionEmail Source = "transaction_email"
	SourceDocument         Source = "document"
	SourceManual           Source = "manual"
)

// Frequency is the billing cadence of a subscription.
type Frequency string

const (
	FrequencyMonthly Frequency = "monthly"
	FrequencyYearly  Frequency = "yearly"
	FrequencyWeekly  Frequency = "weekly"
	FrequencyUnknown Frequency = "unknown"
)

// EventType classifies a single piece of evidence.
type EventType string

const (
	EventStart        EventType = "start"
	EventRenewal      EventType = "renewal"
	EventCancellation EventType = "cancellation"
	EventChange       EventType = "change"
)

// Subscription is the canonical aggregate, one per user+identity. It is
// mutated in place by applied evidence and never deleted by the engine.
type Subscription struct {
	ID                 string             `json:"id"`
	UserID             string             `json:"userId"`
	CompanyName        string             `json:"companyName"`
	NormalizedIdentity string             `json:"normalizedIdentity"`
	Price              decimal.Decimal    `json:"price"`
	Currency           string             `json:"currency"`
	StartDate          time.Time          `json:"startDate"`
	NextRenewalDate    *time.Time         `json:"nextRenewalDate,omitempty"`
	CancellationDate   *time.Time         `json:"cancellationDate,omitempty"`
	AccessEndDate      *time.Time         `json:"accessEndDate,omitempty"`
	Status             SubscriptionStatus `json:"status"`
	Confidence         Confidence         `json:"confidence"`
	Source             Source             `json:"source"`
	Frequency          Frequency          `json:"frequency"`
	PlanName           string             `json:"planName,omitempty"`
	LastAppliedEventID string             `json:"lastAppliedEventId"`
	// LastAppliedEventDate is monotonically non-decreasing across applied
	// events, except that cancellations are compared on their own effective
	// date to tolerate out-of-order email arrival.
	LastAppliedEventDate time.Time `json:"lastAppliedEventDate"`
	CreatedAt            time.Time `json:"createdAt"`
	UpdatedAt            time.Time `json:"updatedAt"`
}

// NormalizeIdentity derives the matching identity from a display name:
// lower-cased first whitespace-delimited token, so "Crave Standard With Ads"
// resolves under "crave".
func NormalizeIdentity(name string) string {
	fields := strings.Fields(strings.ToLower(strings.TrimSpace(name)))
	if len(fields) == 0 {
		return ""
	}
	return fields[0]
}

// CandidateEvidence is a single reported subscription fact from one source,
// not yet applied. It is ephemeral; only its ledger entry persists.
type CandidateEvidence struct {
	EventType        EventType        `json:"eventType"`
	ServiceName      string           `json:"serviceName"`
	Amount           *decimal.Decimal `json:"amount,omitempty"`
	Currency         string           `json:"currency,omitempty"`
	StartDate        *time.Time       `json:"startDate,omitempty"`
	NextBillingDate  *time.Time       `json:"nextBillingDate,omitempty"`
	CancellationDate *time.Time       `json:"cancellationDate,omitempty"`
	PlanName         string           `json:"planName,omitempty"`
	SourceID         string           `json:"sourceId"`
	SourceDate       time.Time        `json:"sourceDate"`
	// Origin is the evidence stream that produced this item. Empty means
	// email, the most common path.
	Origin Source `json:"origin,omitempty"`
}

// EffectiveCancellationDate returns the cancellation's own date, falling back
// to the source date when the email did not state one.
func (e *CandidateEvidence) EffectiveCancellationDate() time.Time {
	if e.CancellationDate != nil {
		return *e.CancellationDate
	}
	return e.SourceDate
}

// MatchReason explains how a transaction earned its confidence label.
type MatchReason string

const (
	ReasonTransactionOnly       MatchReason = "transaction_only"
	ReasonEmailOnly             MatchReason = "email_only"
	ReasonTransactionPattern    MatchReason = "transaction_pattern"
	ReasonTransactionEmailMatch MatchReason = "transaction_email_match"
)

// UserActionState tracks the user's manual decision on a potential subscription.
type UserActionState string

const (
	ActionPending   UserActionState = "pending"
	ActionConfirmed UserActionState = "confirmed"
	ActionRejected  UserActionState = "rejected"
)

// RecurringPattern is the pattern detector's verdict for one charge series.
type RecurringPattern struct {
	Detected    bool      `json:"detected"`
	Frequency   Frequency `json:"frequency"`
	Occurrences int       `json:"occurrences"`
}

// UserAction records a manual confirm/reject on a potential subscription.
type UserAction struct {
	Action     UserActionState `json:"action"`
	ActionDate *time.Time      `json:"actionDate,omitempty"`
	Reason     string          `json:"reason,omitempty"`
}

// PotentialSubscription is a transaction-path candidate awaiting confirmation.
type PotentialSubscription struct {
	ID               string           `json:"id"`
	UserID           string           `json:"userId"`
	MerchantName     string           `json:"merchantName"`
	Amount           decimal.Decimal  `json:"amount"`
	Currency         string           `json:"currency"`
	TransactionDate  time.Time        `json:"transactionDate"`
	TransactionID    string           `json:"transactionId"`
	Confidence       Confidence       `json:"confidence"`
	Reason           MatchReason      `json:"reason"`
	RecurringPattern RecurringPattern `json:"recurringPattern"`
	MatchedEmailID   string           `json:"matchedEmailId,omitempty"`
	UserAction       UserAction       `json:"userAction"`
	CreatedAt        time.Time        `json:"createdAt"`
	UpdatedAt        time.Time        `json:"updatedAt"`
}

// LedgerStatus is the outcome recorded for a claimed evidence item.
type LedgerStatus string

const (
	LedgerProcessed LedgerStatus = "processed"
	LedgerSkipped   LedgerStatus = "skipped"
	LedgerFailed    LedgerStatus = "failed"
	LedgerPending   LedgerStatus = "pending"
)

// LedgerEntry enforces at-most-once application of a piece of evidence.
// (UserID, SourceID) is unique.
type LedgerEntry struct {
	UserID               string       `json:"userId"`
	SourceID             string       `json:"sourceId"`
	Status               LedgerStatus `json:"status"`
	LinkedSubscriptionID string       `json:"linkedSubscriptionId,omitempty"`
	ClaimedAt            time.Time    `json:"claimedAt"`
	UpdatedAt            time.Time    `json:"updatedAt"`
}

// BankTransaction is a single charge reported by the bank source.
type BankTransaction struct {
	TransactionID string          `json:"transactionId"`
	MerchantName  string          `json:"merchantName"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	Date          time.Time       `json:"date"`
	AccountID     string          `json:"accountId"`
}

// EmailMessage is a single message reported by the email source.
type EmailMessage struct {
	ID      string    `json:"id"`
	Subject string    `json:"subject"`
	From    string    `json:"from"`
	Date    time.Time `json:"date"`
	Text    string    `json:"text"`
}
