package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// EmailStore persists scanned email evidence so the cross-source matcher can
// corroborate bank transactions against a bounded time window.
type EmailStore struct {
	db *sql.DB
}

// Put stores a message, replacing any earlier copy of the same email.
// Overlapping scans redeliver messages, so replace is the safe default.
func (e *EmailStore) Put(ctx context.Context, userID string, msg models.EmailMessage) error {
	_, err := e.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO email_evidence (user_id, email_id, subject, sender, date, body)
		VALUES (?, ?, ?, ?, ?, ?)`,
		userID, msg.ID, msg.Subject, msg.From, msg.Date.Unix(), msg.Text)
	if err != nil {
		return fmt.Errorf("failed to store email evidence %s: %w", msg.ID, err)
	}
	return nil
}

// ListWindow returns messages dated within [from, to] inclusive, oldest first.
func (e *EmailStore) ListWindow(ctx context.Context, userID string, from, to time.Time) ([]models.EmailMessage, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT email_id, subject, sender, date, body FROM email_evidence
		WHERE user_id = ? AND date >= ? AND date <= ?
		ORDER BY date ASC`, userID, from.Unix(), to.Unix())
	if err != nil {
		return nil, fmt.Errorf("failed to list email evidence: %w", err)
	}
	defer rows.Close()

	var msgs []models.EmailMessage
	for rows.Next() {
		var (
			msg  models.EmailMessage
			date int64
		)
		if err := rows.Scan(&msg.ID, &msg.Subject, &msg.From, &date, &msg.Text); err != nil {
			return nil, err
		}
		msg.Date = time.Unix(date, 0).UTC()
		msgs = append(msgs, msg)
	}
	return msgs, rows.Err()
}
