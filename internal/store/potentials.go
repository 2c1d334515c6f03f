package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subwatch/subwatch/internal/models"
)

// PotentialStore persists transaction-path candidates awaiting confirmation.
type PotentialStore struct {
	db *sql.DB
}

const potentialColumns = `id, user_id, merchant_name, amount, currency, transaction_date,
	transaction_id, confidence, reason, pattern_detected, pattern_frequency,
	pattern_occurrences, matched_email_id, action, action_date, action_reason,
	created_at, updated_at`

// Upsert inserts a potential, or refreshes the classification fields when the
// same (user, transaction) was already recorded by an earlier pass.
func (p *PotentialStore) Upsert(ctx context.Context, pot *models.PotentialSubscription) error {
	now := time.Now()
	if pot.CreatedAt.IsZero() {
		pot.CreatedAt = now
	}
	pot.UpdatedAt = now

	// On conflict the existing row keeps its id; RETURNING reconciles the
	// caller's copy so later confirm/reject calls address the stored record.
	row := p.db.QueryRowContext(ctx, `
		INSERT INTO potential_subscriptions (`+potentialColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, transaction_id) DO UPDATE SET
			confidence = excluded.confidence,
			reason = excluded.reason,
			pattern_detected = excluded.pattern_detected,
			pattern_frequency = excluded.pattern_frequency,
			pattern_occurrences = excluded.pattern_occurrences,
			matched_email_id = excluded.matched_email_id,
			updated_at = excluded.updated_at
		RETURNING id`,
		pot.ID, pot.UserID, pot.MerchantName, pot.Amount.String(), pot.Currency,
		pot.TransactionDate.Unix(), pot.TransactionID,
		string(pot.Confidence), string(pot.Reason),
		boolToInt(pot.RecurringPattern.Detected), string(pot.RecurringPattern.Frequency),
		pot.RecurringPattern.Occurrences, pot.MatchedEmailID,
		string(pot.UserAction.Action), unixPtr(pot.UserAction.ActionDate), pot.UserAction.Reason,
		pot.CreatedAt.Unix(), pot.UpdatedAt.Unix())
	if err := row.Scan(&pot.ID); err != nil {
		return fmt.Errorf("failed to upsert potential subscription: %w", err)
	}
	return nil
}

// UpdateAction records the user's confirm/reject decision.
func (p *PotentialStore) UpdateAction(ctx context.Context, userID, id string, action models.UserAction, confidence models.Confidence) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE potential_subscriptions
		SET action = ?, action_date = ?, action_reason = ?, confidence = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		string(action.Action), unixPtr(action.ActionDate), action.Reason,
		string(confidence), time.Now().Unix(), id, userID)
	if err != nil {
		return fmt.Errorf("failed to update potential action: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("potential subscription %s not found for user %s", id, userID)
	}
	return nil
}

// GetByID fetches one potential; returns (nil, nil) if absent.
func (p *PotentialStore) GetByID(ctx context.Context, userID, id string) (*models.PotentialSubscription, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+potentialColumns+` FROM potential_subscriptions
		WHERE id = ? AND user_id = ?`, id, userID)
	pot, err := scanPotential(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return pot, err
}

// ListSince returns the user's potentials dated on or after since, oldest
// first. The pattern detector uses this as its occurrence history.
func (p *PotentialStore) ListSince(ctx context.Context, userID string, since time.Time) ([]models.PotentialSubscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+potentialColumns+` FROM potential_subscriptions
		WHERE user_id = ? AND transaction_date >= ?
		ORDER BY transaction_date ASC`, userID, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list potential subscriptions: %w", err)
	}
	defer rows.Close()

	var pots []models.PotentialSubscription
	for rows.Next() {
		pot, err := scanPotential(rows)
		if err != nil {
			return nil, err
		}
		pots = append(pots, *pot)
	}
	return pots, rows.Err()
}

func scanPotential(row scanner) (*models.PotentialSubscription, error) {
	var (
		pot                        models.PotentialSubscription
		amount                     string
		confidence, reason, freq   string
		action                     string
		detected                   int
		txDate, createdAt, updated int64
		actionDate                 sql.NullInt64
	)
	err := row.Scan(&pot.ID, &pot.UserID, &pot.MerchantName, &amount, &pot.Currency,
		&txDate, &pot.TransactionID, &confidence, &reason,
		&detected, &freq, &pot.RecurringPattern.Occurrences,
		&pot.MatchedEmailID, &action, &actionDate, &pot.UserAction.Reason,
		&createdAt, &updated)
	if err != nil {
		return nil, err
	}

	pot.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("corrupt amount %q for potential %s: %w", amount, pot.ID, err)
	}
	pot.TransactionDate = time.Unix(txDate, 0).UTC()
	pot.Confidence = models.Confidence(confidence)
	pot.Reason = models.MatchReason(reason)
	pot.RecurringPattern.Detected = detected != 0
	pot.RecurringPattern.Frequency = models.Frequency(freq)
	pot.UserAction.Action = models.UserActionState(action)
	pot.UserAction.ActionDate = timePtr(actionDate)
	pot.CreatedAt = time.Unix(createdAt, 0).UTC()
	pot.UpdatedAt = time.Unix(updated, 0).UTC()
	return &pot, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
