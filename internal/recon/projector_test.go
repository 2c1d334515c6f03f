package recon_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subwatch/subwatch/internal/models"
	"github.com/subwatch/subwatch/internal/recon"
)

func TestProjectRenewal_FromStaleRenewalDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -95)

	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyMonthly,
		NextRenewalDate: &stale,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.False(t, sub.NextRenewalDate.Before(now), "projection must land at or after now")
	assert.True(t, sub.NextRenewalDate.Before(now.AddDate(0, 1, 1)), "projection must land within one period of now")
}

func TestProjectRenewal_FromOldStartDate(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	// A subscription started years ago with no renewal date on record.
	sub := recon.ProjectRenewal(models.Subscription{
		Frequency: models.FrequencyMonthly,
		StartDate: now.AddDate(-5, 0, -3),
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.False(t, sub.NextRenewalDate.Before(now))
	assert.True(t, sub.NextRenewalDate.Before(now.AddDate(0, 1, 1)))
}

func TestProjectRenewal_FutureDateUntouched(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	future := now.AddDate(0, 0, 12)

	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyMonthly,
		NextRenewalDate: &future,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.True(t, sub.NextRenewalDate.Equal(future))
}

func TestProjectRenewal_NoDatesNoProjection(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)

	sub := recon.ProjectRenewal(models.Subscription{Frequency: models.FrequencyMonthly}, now)
	assert.Nil(t, sub.NextRenewalDate)
}

func TestProjectRenewal_YearlyCadence(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)

	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyYearly,
		NextRenewalDate: &stale,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.True(t, sub.NextRenewalDate.Equal(time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestProjectRenewal_WeeklyCadence(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -10)

	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyWeekly,
		NextRenewalDate: &stale,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.True(t, sub.NextRenewalDate.Equal(now.AddDate(0, 0, 4)))
}

func TestProjectRenewal_UnknownFrequencyTreatedMonthly(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -5)

	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyUnknown,
		NextRenewalDate: &stale,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.True(t, sub.NextRenewalDate.Equal(stale.AddDate(0, 1, 0)))
}

func TestProjectRenewal_IterationCapTerminates(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	ancient := now.AddDate(-30, 0, 0)

	// 30 years of monthly periods exceeds the catch-up cap; the projection
	// stops early rather than looping, leaving a best-effort date.
	sub := recon.ProjectRenewal(models.Subscription{
		Frequency:       models.FrequencyMonthly,
		NextRenewalDate: &ancient,
	}, now)

	require.NotNil(t, sub.NextRenewalDate)
	assert.True(t, sub.NextRenewalDate.Equal(ancient.AddDate(2, 0, 0)), "catch-up walks at most 24 periods")
}

func TestProjectRenewal_DoesNotMutateInput(t *testing.T) {
	now := time.Date(2025, 6, 15, 0, 0, 0, 0, time.UTC)
	stale := now.AddDate(0, 0, -40)
	original := models.Subscription{
		Frequency:       models.FrequencyMonthly,
		NextRenewalDate: &stale,
	}

	_ = recon.ProjectRenewal(original, now)
	assert.True(t, original.NextRenewalDate.Equal(now.AddDate(0, 0, -40)))
}
