package recon

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/models"
)

// Detector estimates whether charges for an identity recur and at what
// cadence, from the occurrence history in the potential and subscription
// stores.
type Detector struct {
	potentials PotentialRepo
	subs       SubscriptionRepo
	tuning     config.Tuning
}

// NewDetector returns a recurring-pattern detector with the given tuning.
func NewDetector(potentials PotentialRepo, subs SubscriptionRepo, tuning config.Tuning) *Detector {
	return &Detector{potentials: potentials, subs: subs, tuning: tuning}
}

// Detect gathers prior occurrences of the same identity within the amount
// tolerance band and the lookback window, appends asOf as the current
// occurrence, and classifies the mean gap between consecutive charges. Any
// series of two or more occurrences counts as detected; the frequency stays
// "unknown" when the gap falls outside every band.
func (d *Detector) Detect(ctx context.Context, userID, identity string, amount decimal.Decimal, asOf time.Time) (models.RecurringPattern, error) {
	token := models.NormalizeIdentity(identity)
	since := asOf.Add(-d.tuning.PatternLookback)

	var dates []time.Time

	pots, err := d.potentials.ListSince(ctx, userID, since)
	if err != nil {
		return models.RecurringPattern{}, err
	}
	for _, pot := range pots {
		if models.NormalizeIdentity(pot.MerchantName) != token {
			continue
		}
		if !d.withinTolerance(pot.Amount, amount) {
			continue
		}
		// The current charge is appended below; an already-persisted copy of
		// it must not count twice.
		if !pot.TransactionDate.Before(asOf) {
			continue
		}
		dates = append(dates, pot.TransactionDate)
	}

	subs, err := d.subs.ListForUser(ctx, userID, nil)
	if err != nil {
		return models.RecurringPattern{}, err
	}
	for _, sub := range subs {
		if sub.NormalizedIdentity != token {
			continue
		}
		if !d.withinTolerance(sub.Price, amount) {
			continue
		}
		if sub.StartDate.IsZero() || sub.StartDate.Before(since) || !sub.StartDate.Before(asOf) {
			continue
		}
		dates = append(dates, sub.StartDate)
	}

	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	dates = append(dates, asOf)

	if len(dates) < 2 {
		return models.RecurringPattern{Detected: false, Frequency: models.FrequencyUnknown, Occurrences: 1}, nil
	}

	var totalDays float64
	for i := 1; i < len(dates); i++ {
		totalDays += dates[i].Sub(dates[i-1]).Hours() / 24
	}
	meanGap := totalDays / float64(len(dates)-1)

	return models.RecurringPattern{
		Detected:    true,
		Frequency:   d.classifyGap(meanGap),
		Occurrences: len(dates),
	}, nil
}

func (d *Detector) withinTolerance(candidate, reference decimal.Decimal) bool {
	band := reference.Abs().Mul(decimal.NewFromFloat(d.tuning.AmountTolerance))
	return candidate.Sub(reference).Abs().LessThanOrEqual(band)
}

func (d *Detector) classifyGap(meanDays float64) models.Frequency {
	t := d.tuning
	switch {
	case meanDays >= float64(t.MonthlyMinDays) && meanDays <= float64(t.MonthlyMaxDays):
		return models.FrequencyMonthly
	case meanDays >= float64(t.YearlyMinDays) && meanDays <= float64(t.YearlyMaxDays):
		return models.FrequencyYearly
	case meanDays >= float64(t.WeeklyMinDays) && meanDays <= float64(t.WeeklyMaxDays):
		return models.FrequencyWeekly
	default:
		return models.FrequencyUnknown
	}
}
