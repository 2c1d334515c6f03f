package recon

import (
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// Iteration caps for the renewal roll-forward. Walking from an arbitrary
// historical start date needs more headroom than catching up from the last
// known renewal. Exceeding a cap leaves the date where the loop stopped:
// best effort, never hang.
const (
	maxProjectFromStart   = 120
	maxProjectFromRenewal = 24
)

// ProjectRenewal rolls a subscription's next renewal date forward to the next
// occurrence at or after now. It operates on a copy; projection happens at
// read time and is never persisted.
func ProjectRenewal(sub models.Subscription, now time.Time) models.Subscription {
	switch {
	case sub.NextRenewalDate == nil:
		if sub.StartDate.IsZero() {
			return sub
		}
		next := sub.StartDate
		for i := 0; i < maxProjectFromStart && next.Before(now); i++ {
			next = stepPeriod(next, sub.Frequency)
		}
		sub.NextRenewalDate = &next

	case sub.NextRenewalDate.Before(now):
		next := *sub.NextRenewalDate
		for i := 0; i < maxProjectFromRenewal && next.Before(now); i++ {
			next = stepPeriod(next, sub.Frequency)
		}
		sub.NextRenewalDate = &next
	}
	return sub
}

// stepPeriod advances a date by one billing period. Unknown cadence is
// treated as monthly.
func stepPeriod(t time.Time, freq models.Frequency) time.Time {
	switch freq {
	case models.FrequencyYearly:
		return t.AddDate(1, 0, 0)
	case models.FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	default:
		return t.AddDate(0, 1, 0)
	}
}
