// Package store provides persistent storage for subscriptions, the
// idempotency ledger, potential subscriptions, and email evidence using
// SQLite for durability across restarts. In-memory implementations of the
// same repositories back unit tests and the mock mode.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// Store owns the database handle and hands out repositories bound to it.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the subwatch database under dataDir.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}

	dbPath := filepath.Join(dataDir, "subwatch.db")

	// WAL mode for concurrent readers; SQLite works best with a single writer.
	db, err := sql.Open("sqlite", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", dbPath).Msg("Store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			company_name TEXT NOT NULL,
			normalized_identity TEXT NOT NULL,
			price TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			start_date INTEGER,
			next_renewal_date INTEGER,
			cancellation_date INTEGER,
			access_end_date INTEGER,
			status TEXT NOT NULL,
			confidence TEXT NOT NULL,
			source TEXT NOT NULL,
			frequency TEXT NOT NULL,
			plan_name TEXT NOT NULL DEFAULT '',
			last_event_id TEXT NOT NULL DEFAULT '',
			last_event_date INTEGER,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_subscriptions_user
		ON subscriptions(user_id, normalized_identity);

		-- The UNIQUE pair is what makes repeated scans over overlapping
		-- windows safe: a second claim for the same evidence fails to insert.
		CREATE TABLE IF NOT EXISTS ledger_entries (
			user_id TEXT NOT NULL,
			source_id TEXT NOT NULL,
			status TEXT NOT NULL,
			linked_subscription_id TEXT NOT NULL DEFAULT '',
			claimed_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (user_id, source_id)
		);

		CREATE TABLE IF NOT EXISTS potential_subscriptions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			merchant_name TEXT NOT NULL,
			amount TEXT NOT NULL,
			currency TEXT NOT NULL DEFAULT '',
			transaction_date INTEGER NOT NULL,
			transaction_id TEXT NOT NULL,
			confidence TEXT NOT NULL,
			reason TEXT NOT NULL,
			pattern_detected INTEGER NOT NULL DEFAULT 0,
			pattern_frequency TEXT NOT NULL DEFAULT 'unknown',
			pattern_occurrences INTEGER NOT NULL DEFAULT 0,
			matched_email_id TEXT NOT NULL DEFAULT '',
			action TEXT NOT NULL DEFAULT 'pending',
			action_date INTEGER,
			action_reason TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			UNIQUE (user_id, transaction_id)
		);

		CREATE INDEX IF NOT EXISTS idx_potentials_user_date
		ON potential_subscriptions(user_id, transaction_date);

		CREATE TABLE IF NOT EXISTS email_evidence (
			user_id TEXT NOT NULL,
			email_id TEXT NOT NULL,
			subject TEXT NOT NULL DEFAULT '',
			sender TEXT NOT NULL DEFAULT '',
			date INTEGER NOT NULL,
			body TEXT NOT NULL DEFAULT '',
			PRIMARY KEY (user_id, email_id)
		);

		CREATE INDEX IF NOT EXISTS idx_email_evidence_user_date
		ON email_evidence(user_id, date);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Subscriptions returns the subscription repository.
func (s *Store) Subscriptions() *SubscriptionStore { return &SubscriptionStore{db: s.db} }

// Ledger returns the idempotency ledger repository.
func (s *Store) Ledger() *LedgerStore { return &LedgerStore{db: s.db} }

// Potentials returns the potential-subscription repository.
func (s *Store) Potentials() *PotentialStore { return &PotentialStore{db: s.db} }

// Emails returns the email evidence repository.
func (s *Store) Emails() *EmailStore { return &EmailStore{db: s.db} }

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
