// Package sources defines the narrow interfaces to the external evidence
// collaborators: the email provider, the bank aggregator, the statement text
// extractor, and the notification sender. Implementations live with the host
// process; the engine only consumes these contracts.
//
// Credentials are explicit parameters on every call. No shared client object
// is mutated before a call, so concurrent per-user fetches are safe.
package sources

import (
	"context"
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// Credentials is an opaque per-user token for an upstream provider. Token
// lifecycle (refresh, storage, encryption) is the host's concern.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// EmailQuery bounds an email fetch.
type EmailQuery struct {
	// Search is the provider-side query text, e.g. subject keywords.
	Search string
	// After limits results to messages dated on or after this time.
	After time.Time
	// Limit caps the number of messages; zero means provider default.
	Limit int
}

// EmailSource fetches candidate subscription emails, newest first.
// Overlapping fetches may redeliver messages; the idempotency ledger absorbs
// the duplicates.
type EmailSource interface {
	Fetch(ctx context.Context, creds Credentials, query EmailQuery) ([]models.EmailMessage, error)
}

// BankPage is one page of a cursor-paginated transaction fetch. An empty
// NextCursor means the listing is complete.
type BankPage struct {
	Transactions []models.BankTransaction
	NextCursor   string
}

// BankSource fetches bank transactions since a point in time.
type BankSource interface {
	Fetch(ctx context.Context, creds Credentials, since time.Time, cursor string) (BankPage, error)
}

// StatementExtractor turns an uploaded bank-statement document into raw text.
type StatementExtractor interface {
	Extract(ctx context.Context, document []byte) (string, error)
}

// Notifier delivers a user-facing message. Fire-and-forget: the engine never
// consumes a result beyond the error.
type Notifier interface {
	Send(ctx context.Context, userID, message string) error
}

// CredentialRefresher exchanges expired credentials for fresh ones.
type CredentialRefresher interface {
	Refresh(ctx context.Context, userID string, creds Credentials) (Credentials, error)
}
