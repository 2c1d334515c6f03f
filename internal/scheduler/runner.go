package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/subwatch/subwatch/internal/ingest"
	"github.com/subwatch/subwatch/internal/recon"
	"github.com/subwatch/subwatch/internal/sources"
	"github.com/subwatch/subwatch/internal/telemetry"
)

// UserAccount is one user eligible for reconciliation, with the credentials
// needed for this pass. Credentials travel explicitly; nothing is mutated on
// a shared client.
type UserAccount struct {
	UserID     string
	EmailCreds sources.Credentials
	BankCreds  sources.Credentials
	// LastSync bounds the bank fetch window.
	LastSync time.Time
}

// UserProvider lists the accounts due for a pass. The host owns account
// storage; the runner only iterates.
type UserProvider interface {
	ListDue(ctx context.Context) ([]UserAccount, error)
}

// Runner executes reconciliation passes. Manual triggers and scheduled
// triggers share the per-user locks, so a user is never reconciled twice
// concurrently.
type Runner struct {
	ingestor    *ingest.Ingestor
	users       UserProvider
	concurrency int

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewRunner returns a batch runner over the given user provider.
func NewRunner(ingestor *ingest.Ingestor, users UserProvider, concurrency int) *Runner {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Runner{
		ingestor:    ingestor,
		users:       users,
		concurrency: concurrency,
		userLocks:   make(map[string]*sync.Mutex),
	}
}

// RunPass reconciles all due users, up to the configured number in parallel.
// Per-user failures are logged and counted; only a provider-level failure
// aborts the pass.
func (r *Runner) RunPass(ctx context.Context) (recon.Summary, error) {
	runID := ulid.Make().String()
	started := time.Now()

	accounts, err := r.users.ListDue(ctx)
	if err != nil {
		return recon.Summary{}, err
	}

	log.Info().
		Str("runID", runID).
		Int("users", len(accounts)).
		Msg("Reconciliation pass started")

	var (
		mu    sync.Mutex
		total recon.Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)

	for _, account := range accounts {
		g.Go(func() error {
			summary := r.RunUser(gctx, account)
			mu.Lock()
			total.Add(summary)
			mu.Unlock()
			// Item failures are already in the summary; never fail the group.
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return total, err
	}

	telemetry.RecordPass(total.Processed, total.Created, total.Updated, total.Cancelled, total.Skipped, total.Failed)

	log.Info().
		Str("runID", runID).
		Dur("elapsed", time.Since(started)).
		Int("processed", total.Processed).
		Int("created", total.Created).
		Int("updated", total.Updated).
		Int("cancelled", total.Cancelled).
		Int("skipped", total.Skipped).
		Int("failed", total.Failed).
		Msg("Reconciliation pass finished")
	return total, nil
}

// RunUser reconciles a single user under that user's lock: emails first so
// the cross-source matcher has evidence to corroborate against, then bank
// transactions.
func (r *Runner) RunUser(ctx context.Context, account UserAccount) recon.Summary {
	lock := r.lockFor(account.UserID)
	lock.Lock()
	defer lock.Unlock()

	var summary recon.Summary

	query := sources.EmailQuery{After: account.LastSync}
	emailSummary, err := r.ingestor.ScanEmails(ctx, account.UserID, account.EmailCreds, query)
	summary.Add(emailSummary)
	if err != nil {
		summary.Failed++
		log.Error().Err(err).Str("userID", account.UserID).Msg("Email scan failed")
	}

	txSummary, err := r.ingestor.ScanTransactions(ctx, account.UserID, account.BankCreds, account.LastSync)
	summary.Add(txSummary)
	if err != nil {
		summary.Failed++
		log.Error().Err(err).Str("userID", account.UserID).Msg("Transaction scan failed")
	}

	return summary
}

func (r *Runner) lockFor(userID string) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	lock, ok := r.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		r.userLocks[userID] = lock
	}
	return lock
}
