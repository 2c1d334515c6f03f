package recon_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subwatch/subwatch/internal/models"
	"github.com/subwatch/subwatch/internal/recon"
	"github.com/subwatch/subwatch/internal/store"
)

const matchWindow = 7 * 24 * time.Hour

func newMatcher(t *testing.T) (*recon.CrossSourceMatcher, *store.MemoryEmailStore) {
	t.Helper()
	emails := store.NewMemoryEmailStore()
	return recon.NewCrossSourceMatcher(emails, matchWindow), emails
}

func putEmail(t *testing.T, emails *store.MemoryEmailStore, id, subject, text string, date time.Time) {
	t.Helper()
	err := emails.Put(context.Background(), "user-1", models.EmailMessage{
		ID:      id,
		Subject: subject,
		Text:    text,
		Date:    date,
	})
	require.NoError(t, err)
}

func TestMatch_KeywordAndAmount(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "Your Netflix receipt", "You were charged $15.99 for Netflix Premium.", txDate.AddDate(0, 0, -2))

	result, err := m.Match(context.Background(), "user-1", "NETFLIX.COM", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "email-1", result.EmailID)
}

func TestMatch_WindowBoundaryInclusive(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 8, 0, 0, 0, 0, time.UTC)

	// Exactly seven days before the transaction is inside the window.
	putEmail(t, emails, "email-7d", "Netflix receipt", "Charged 15.99", txDate.AddDate(0, 0, -7))

	result, err := m.Match(context.Background(), "user-1", "Netflix", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.True(t, result.Matched)
	assert.Equal(t, "email-7d", result.EmailID)
}

func TestMatch_OutsideWindowRejected(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-8d", "Netflix receipt", "Charged 15.99", txDate.AddDate(0, 0, -8))

	result, err := m.Match(context.Background(), "user-1", "Netflix", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMatch_AmountMustBeExact(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "Netflix receipt", "Charged 15.98 this month", txDate)

	result, err := m.Match(context.Background(), "user-1", "Netflix", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.False(t, result.Matched, "a near-miss amount must not corroborate")
}

func TestMatch_AmountNormalizedToTwoDecimals(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "Spotify receipt", "Total: $10.00", txDate)

	// The transaction amount comes in as "10"; matching is on the fixed
	// two-decimal rendering.
	result, err := m.Match(context.Background(), "user-1", "Spotify", decimal.RequireFromString("10"), txDate)
	require.NoError(t, err)
	assert.True(t, result.Matched)
}

func TestMatch_ShortTokensIgnored(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "Receipt", "go tv 15.99", txDate)

	// Every token of the merchant name is two characters or fewer, so there is
	// nothing safe to match on.
	result, err := m.Match(context.Background(), "user-1", "GO TV", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}

func TestMatch_KeywordCaseInsensitive(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "YOUR SPOTIFY PREMIUM RECEIPT", "amount due: 10.99", txDate)

	result, err := m.Match(context.Background(), "user-1", "spotify ab", decimal.RequireFromString("10.99"), txDate)
	require.NoError(t, err)
	assert.True(t, result.Matched)
}

func TestMatch_AmountWithoutKeywordRejected(t *testing.T) {
	m, emails := newMatcher(t)
	txDate := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	putEmail(t, emails, "email-1", "Your electricity bill", "Total 15.99", txDate)

	result, err := m.Match(context.Background(), "user-1", "Netflix", decimal.RequireFromString("15.99"), txDate)
	require.NoError(t, err)
	assert.False(t, result.Matched)
}
