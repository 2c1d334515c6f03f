package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subwatch/subwatch/internal/models"
)

// SubscriptionStore persists canonical Subscription aggregates.
type SubscriptionStore struct {
	db *sql.DB
}

const subscriptionColumns = `id, user_id, company_name, normalized_identity, price, currency,
	start_date, next_renewal_date, cancellation_date, access_end_date,
	status, confidence, source, frequency, plan_name,
	last_event_id, last_event_date, created_at, updated_at`

// Create inserts a new subscription.
func (s *SubscriptionStore) Create(ctx context.Context, sub *models.Subscription) error {
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (`+subscriptionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sub.ID, sub.UserID, sub.CompanyName, sub.NormalizedIdentity,
		sub.Price.String(), sub.Currency,
		unixOrNil(&sub.StartDate), unixPtr(sub.NextRenewalDate),
		unixPtr(sub.CancellationDate), unixPtr(sub.AccessEndDate),
		string(sub.Status), string(sub.Confidence), string(sub.Source), string(sub.Frequency),
		sub.PlanName, sub.LastAppliedEventID, unixOrNil(&sub.LastAppliedEventDate),
		now.Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("failed to insert subscription: %w", err)
	}
	return nil
}

// Update rewrites all mutable fields of an existing subscription.
func (s *SubscriptionStore) Update(ctx context.Context, sub *models.Subscription) error {
	sub.UpdatedAt = time.Now()

	res, err := s.db.ExecContext(ctx, `
		UPDATE subscriptions SET
			company_name = ?, normalized_identity = ?, price = ?, currency = ?,
			start_date = ?, next_renewal_date = ?, cancellation_date = ?, access_end_date = ?,
			status = ?, confidence = ?, source = ?, frequency = ?, plan_name = ?,
			last_event_id = ?, last_event_date = ?, updated_at = ?
		WHERE id = ? AND user_id = ?`,
		sub.CompanyName, sub.NormalizedIdentity, sub.Price.String(), sub.Currency,
		unixOrNil(&sub.StartDate), unixPtr(sub.NextRenewalDate),
		unixPtr(sub.CancellationDate), unixPtr(sub.AccessEndDate),
		string(sub.Status), string(sub.Confidence), string(sub.Source), string(sub.Frequency),
		sub.PlanName, sub.LastAppliedEventID, unixOrNil(&sub.LastAppliedEventDate),
		sub.UpdatedAt.Unix(), sub.ID, sub.UserID)
	if err != nil {
		return fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("subscription %s not found for user %s", sub.ID, sub.UserID)
	}
	return nil
}

// GetByID fetches one subscription; returns (nil, nil) if absent.
func (s *SubscriptionStore) GetByID(ctx context.Context, userID, id string) (*models.Subscription, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE id = ? AND user_id = ?`, id, userID)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// FindByToken returns the most-recently-updated subscription whose company
// name contains the token, case-insensitively. (nil, nil) if none matches.
func (s *SubscriptionStore) FindByToken(ctx context.Context, userID, token string) (*models.Subscription, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, nil
	}
	// Escape LIKE wildcards so merchant names containing % or _ match literally.
	escaped := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(token)
	row := s.db.QueryRowContext(ctx, `
		SELECT `+subscriptionColumns+` FROM subscriptions
		WHERE user_id = ? AND LOWER(company_name) LIKE '%' || ? || '%' ESCAPE '\'
		ORDER BY updated_at DESC LIMIT 1`, userID, escaped)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return sub, err
}

// ListForUser returns the user's subscriptions, optionally filtered by status,
// newest-updated first.
func (s *SubscriptionStore) ListForUser(ctx context.Context, userID string, status *models.SubscriptionStatus) ([]models.Subscription, error) {
	query := `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE user_id = ?`
	args := []any{userID}
	if status != nil {
		query += ` AND status = ?`
		args = append(args, string(*status))
	}
	query += ` ORDER BY updated_at DESC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	var subs []models.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}

// scanner covers both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(row scanner) (*models.Subscription, error) {
	var (
		sub                                  models.Subscription
		price                                string
		status, confidence, source, freq     string
		startDate, lastEventDate             sql.NullInt64
		nextRenewal, cancellation, accessEnd sql.NullInt64
		createdAt, updatedAt                 int64
	)
	err := row.Scan(&sub.ID, &sub.UserID, &sub.CompanyName, &sub.NormalizedIdentity,
		&price, &sub.Currency,
		&startDate, &nextRenewal, &cancellation, &accessEnd,
		&status, &confidence, &source, &freq, &sub.PlanName,
		&sub.LastAppliedEventID, &lastEventDate, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	sub.Price, err = decimal.NewFromString(price)
	if err != nil {
		return nil, fmt.Errorf("corrupt price %q for subscription %s: %w", price, sub.ID, err)
	}
	sub.Status = models.SubscriptionStatus(status)
	sub.Confidence = models.Confidence(confidence)
	sub.Source = models.Source(source)
	sub.Frequency = models.Frequency(freq)
	if startDate.Valid {
		sub.StartDate = time.Unix(startDate.Int64, 0).UTC()
	}
	if lastEventDate.Valid {
		sub.LastAppliedEventDate = time.Unix(lastEventDate.Int64, 0).UTC()
	}
	sub.NextRenewalDate = timePtr(nextRenewal)
	sub.CancellationDate = timePtr(cancellation)
	sub.AccessEndDate = timePtr(accessEnd)
	sub.CreatedAt = time.Unix(createdAt, 0).UTC()
	sub.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &sub, nil
}

func unixPtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func unixOrNil(t *time.Time) any {
	if t == nil || t.IsZero() {
		return nil
	}
	return t.Unix()
}

func timePtr(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}
