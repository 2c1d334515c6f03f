package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// LedgerStore persists idempotency ledger entries. The (user_id, source_id)
// primary key is the at-most-once guarantee: the second claim for the same
// evidence fails the insert and the caller treats the item as handled.
type LedgerStore struct {
	db *sql.DB
}

// TryClaim records a pending claim. It returns true if this call won the
// claim and false if the pair was already claimed.
func (l *LedgerStore) TryClaim(ctx context.Context, userID, sourceID string) (bool, error) {
	now := time.Now().Unix()
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO ledger_entries (user_id, source_id, status, claimed_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`,
		userID, sourceID, string(models.LedgerPending), now, now)
	if err != nil {
		if isUniqueViolation(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to claim evidence %s: %w", sourceID, err)
	}
	return true, nil
}

// MarkResult records the outcome of a claimed evidence item.
func (l *LedgerStore) MarkResult(ctx context.Context, userID, sourceID string, status models.LedgerStatus, linkedSubscriptionID string) error {
	res, err := l.db.ExecContext(ctx, `
		UPDATE ledger_entries
		SET status = ?, linked_subscription_id = ?, updated_at = ?
		WHERE user_id = ? AND source_id = ?`,
		string(status), linkedSubscriptionID, time.Now().Unix(), userID, sourceID)
	if err != nil {
		return fmt.Errorf("failed to mark ledger entry %s: %w", sourceID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("ledger entry %s/%s not found", userID, sourceID)
	}
	return nil
}

// Get fetches one ledger entry; returns (nil, nil) if absent.
func (l *LedgerStore) Get(ctx context.Context, userID, sourceID string) (*models.LedgerEntry, error) {
	row := l.db.QueryRowContext(ctx, `
		SELECT user_id, source_id, status, linked_subscription_id, claimed_at, updated_at
		FROM ledger_entries WHERE user_id = ? AND source_id = ?`, userID, sourceID)

	var (
		entry                models.LedgerEntry
		status               string
		claimedAt, updatedAt int64
	)
	err := row.Scan(&entry.UserID, &entry.SourceID, &status,
		&entry.LinkedSubscriptionID, &claimedAt, &updatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get ledger entry %s: %w", sourceID, err)
	}
	entry.Status = models.LedgerStatus(status)
	entry.ClaimedAt = time.Unix(claimedAt, 0).UTC()
	entry.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &entry, nil
}

// isUniqueViolation matches modernc sqlite's constraint error text. The
// driver does not export a typed error for it.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed: ledger_entries")
}
