package recon

import (
	"context"
	"strings"
	"time"
	"unicode"

	"github.com/shopspring/decimal"
)

// CrossSourceMatcher corroborates a bank transaction against stored email
// evidence within a bounded time window around the transaction date.
type CrossSourceMatcher struct {
	emails EmailRepo
	window time.Duration
}

// NewCrossSourceMatcher returns a matcher with the given window on each side
// of the transaction date.
func NewCrossSourceMatcher(emails EmailRepo, window time.Duration) *CrossSourceMatcher {
	return &CrossSourceMatcher{emails: emails, window: window}
}

// MatchResult reports the first corroborating email found, if any.
type MatchResult struct {
	Matched   bool
	EmailID   string
	EmailDate time.Time
}

// Match searches emails dated within the window for one whose text contains a
// merchant keyword and the exact amount string. The amount match is
// deliberately exact rather than tolerance-banded: a looser match produced
// false positives against unrelated receipts.
func (m *CrossSourceMatcher) Match(ctx context.Context, userID, merchantName string, amount decimal.Decimal, txDate time.Time) (MatchResult, error) {
	keywords := merchantKeywords(merchantName)
	if len(keywords) == 0 {
		return MatchResult{}, nil
	}
	amountStr := amount.StringFixed(2)

	msgs, err := m.emails.ListWindow(ctx, userID, txDate.Add(-m.window), txDate.Add(m.window))
	if err != nil {
		return MatchResult{}, err
	}

	for _, msg := range msgs {
		haystack := strings.ToLower(msg.Subject + " " + msg.Text)
		if !strings.Contains(haystack, amountStr) {
			continue
		}
		for _, kw := range keywords {
			if strings.Contains(haystack, kw) {
				return MatchResult{Matched: true, EmailID: msg.ID, EmailDate: msg.Date}, nil
			}
		}
	}
	return MatchResult{}, nil
}

// merchantKeywords tokenizes a merchant name into lower-cased keywords longer
// than two characters.
func merchantKeywords(name string) []string {
	fields := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var keywords []string
	for _, f := range fields {
		if len(f) > 2 {
			keywords = append(keywords, f)
		}
	}
	return keywords
}
