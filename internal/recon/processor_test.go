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

func newTestProcessor() (*recon.Processor, *store.MemorySubscriptionStore, *store.MemoryLedgerStore) {
	subs := store.NewMemorySubscriptionStore()
	ledger := store.NewMemoryLedgerStore()
	return recon.NewProcessor(subs, ledger, recon.NewPrefixTokenResolver(subs)), subs, ledger
}

func amount(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func startEvidence(sourceID string, date time.Time) models.CandidateEvidence {
	return models.CandidateEvidence{
		EventType:   models.EventStart,
		ServiceName: "Netflix Premium",
		Amount:      amount("15.99"),
		Currency:    "USD",
		SourceID:    sourceID,
		SourceDate:  date,
	}
}

func TestApply_CreatesSubscription(t *testing.T) {
	p, _, ledger := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	sub, outcome, err := p.Apply(context.Background(), "user-1", startEvidence("email-1", d0))
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCreated, outcome)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Equal(t, "Netflix Premium", sub.CompanyName)
	assert.Equal(t, "netflix", sub.NormalizedIdentity)
	assert.True(t, sub.Price.Equal(decimal.RequireFromString("15.99")))
	assert.Equal(t, "email-1", sub.LastAppliedEventID)

	entry, err := ledger.Get(context.Background(), "user-1", "email-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.LedgerProcessed, entry.Status)
	assert.Equal(t, sub.ID, entry.LinkedSubscriptionID)
}

func TestApply_Idempotent(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	ev := startEvidence("email-1", d0)

	first, outcome, err := p.Apply(context.Background(), "user-1", ev)
	require.NoError(t, err)
	require.Equal(t, recon.OutcomeCreated, outcome)

	// Same evidence again: no-op returning the linked subscription.
	second, outcome, err := p.Apply(context.Background(), "user-1", ev)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeDuplicate, outcome)
	require.NotNil(t, second)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.LastAppliedEventDate, second.LastAppliedEventDate)
}

func TestApply_RenewalUpdatesPrice(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	created, _, err := p.Apply(context.Background(), "user-1", startEvidence("email-1", d0))
	require.NoError(t, err)

	renewal := models.CandidateEvidence{
		EventType:   models.EventRenewal,
		ServiceName: "Netflix",
		Amount:      amount("16.49"),
		SourceID:    "email-2",
		SourceDate:  d0.AddDate(0, 0, 30),
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", renewal)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeUpdated, outcome)
	assert.Equal(t, created.ID, sub.ID, "renewal must resolve to the same aggregate")
	assert.True(t, sub.Price.Equal(decimal.RequireFromString("16.49")))
}

func TestApply_StaleEvidenceDiscarded(t *testing.T) {
	p, _, ledger := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newer := startEvidence("email-new", d0.AddDate(0, 0, 30))
	newer.Amount = amount("16.49")
	applied, _, err := p.Apply(context.Background(), "user-1", newer)
	require.NoError(t, err)

	// An older email fetched later must not overwrite the newer state.
	older := startEvidence("email-old", d0)
	sub, outcome, err := p.Apply(context.Background(), "user-1", older)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeSkipped, outcome)
	assert.True(t, sub.Price.Equal(applied.Price))
	assert.Equal(t, "email-new", sub.LastAppliedEventID)

	entry, err := ledger.Get(context.Background(), "user-1", "email-old")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.LedgerSkipped, entry.Status)
}

func TestApply_CancellationThenRenewalReactivates(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := p.Apply(context.Background(), "user-1", startEvidence("email-1", d0))
	require.NoError(t, err)

	cancelDate := d0.AddDate(0, 1, 0)
	cancel := models.CandidateEvidence{
		EventType:        models.EventCancellation,
		ServiceName:      "Netflix",
		CancellationDate: &cancelDate,
		SourceID:         "email-2",
		SourceDate:       cancelDate,
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCancelled, outcome)
	assert.Equal(t, models.StatusCancelled, sub.Status)
	require.NotNil(t, sub.CancellationDate)

	renewal := models.CandidateEvidence{
		EventType:   models.EventRenewal,
		ServiceName: "Netflix",
		Amount:      amount("15.99"),
		SourceID:    "email-3",
		SourceDate:  cancelDate.AddDate(0, 1, 0),
	}
	sub, outcome, err = p.Apply(context.Background(), "user-1", renewal)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeUpdated, outcome)
	assert.Equal(t, models.StatusActive, sub.Status)
	assert.Nil(t, sub.CancellationDate)
	assert.Nil(t, sub.AccessEndDate)
}

func TestApply_StaleCancellationDiscarded(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	renewal := models.CandidateEvidence{
		EventType:   models.EventRenewal,
		ServiceName: "Spotify",
		Amount:      amount("9.99"),
		SourceID:    "email-renewal",
		SourceDate:  d0.AddDate(0, 0, 5),
	}
	_, _, err := p.Apply(context.Background(), "user-1", renewal)
	require.NoError(t, err)

	// Cancellation effective before the last renewal: the user resubscribed
	// since, so the signal is stale.
	cancel := models.CandidateEvidence{
		EventType:        models.EventCancellation,
		ServiceName:      "Spotify",
		CancellationDate: &d0,
		SourceID:         "email-cancel",
		SourceDate:       d0.AddDate(0, 0, 10), // arrives later; effective date governs
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeSkipped, outcome)
	assert.Equal(t, models.StatusActive, sub.Status)
}

func TestApply_LateCancellationWithOldSourceDateApplies(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, _, err := p.Apply(context.Background(), "user-1", startEvidence("email-1", d0.AddDate(0, 0, 5)))
	require.NoError(t, err)

	// The cancellation email itself is older than the last applied event,
	// but its effective date is newer: it must still apply.
	effective := d0.AddDate(0, 0, 20)
	cancel := models.CandidateEvidence{
		EventType:        models.EventCancellation,
		ServiceName:      "Netflix",
		CancellationDate: &effective,
		SourceID:         "email-2",
		SourceDate:       d0,
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCancelled, outcome)
	assert.Equal(t, models.StatusCancelled, sub.Status)
}

func TestApply_CancellationWithoutSubscriptionCreatesCancelled(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cancel := models.CandidateEvidence{
		EventType:   models.EventCancellation,
		ServiceName: "Crave Standard With Ads",
		SourceID:    "email-1",
		SourceDate:  d0,
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCancelled, outcome)
	assert.Equal(t, models.StatusCancelled, sub.Status)
	assert.Equal(t, "crave", sub.NormalizedIdentity)
	require.NotNil(t, sub.CancellationDate)
	assert.True(t, sub.CancellationDate.Equal(d0), "effective date falls back to the source date")
	require.NotNil(t, sub.AccessEndDate)
	assert.True(t, sub.AccessEndDate.Equal(d0), "access end falls back to the effective date")
}

func TestApply_CancellationWithoutSubscriptionKeepsStatedAccessEnd(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	billingEnd := d0.AddDate(0, 1, 0)

	cancel := models.CandidateEvidence{
		EventType:       models.EventCancellation,
		ServiceName:     "Crave",
		NextBillingDate: &billingEnd,
		SourceID:        "email-1",
		SourceDate:      d0,
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCancelled, outcome)
	require.NotNil(t, sub.AccessEndDate)
	assert.True(t, sub.AccessEndDate.Equal(billingEnd), "a stated billing boundary wins over the fallback")
}

func TestApply_ChangeDoesNotTouchStatus(t *testing.T) {
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	cancelDate := d0.AddDate(0, 0, 10)
	cancel := models.CandidateEvidence{
		EventType:        models.EventCancellation,
		ServiceName:      "Netflix",
		CancellationDate: &cancelDate,
		SourceID:         "email-1",
		SourceDate:       cancelDate,
	}
	_, _, err := p.Apply(context.Background(), "user-1", cancel)
	require.NoError(t, err)

	change := models.CandidateEvidence{
		EventType:   models.EventChange,
		ServiceName: "Netflix",
		Amount:      amount("22.99"),
		PlanName:    "Premium 4K",
		SourceID:    "email-2",
		SourceDate:  cancelDate.AddDate(0, 0, 1),
	}
	sub, outcome, err := p.Apply(context.Background(), "user-1", change)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeUpdated, outcome)
	assert.Equal(t, models.StatusCancelled, sub.Status, "change must not reactivate")
	assert.Equal(t, "Premium 4K", sub.PlanName)
	assert.True(t, sub.Price.Equal(decimal.RequireFromString("22.99")))
}

func TestApply_ValidationFailureRecordsSkipped(t *testing.T) {
	p, _, ledger := newTestProcessor()

	ev := models.CandidateEvidence{
		EventType:  models.EventStart,
		SourceID:   "email-1",
		SourceDate: time.Now(),
		// no service name
	}
	_, outcome, err := p.Apply(context.Background(), "user-1", ev)
	require.Error(t, err)
	assert.Equal(t, recon.OutcomeSkipped, outcome)

	entry, err := ledger.Get(context.Background(), "user-1", "email-1")
	require.NoError(t, err)
	require.NotNil(t, entry)
	assert.Equal(t, models.LedgerSkipped, entry.Status)
}

func TestApply_MissingSourceIDRejected(t *testing.T) {
	p, _, _ := newTestProcessor()

	ev := models.CandidateEvidence{
		EventType:   models.EventStart,
		ServiceName: "Netflix",
		SourceDate:  time.Now(),
	}
	_, _, err := p.Apply(context.Background(), "user-1", ev)
	require.Error(t, err)
}

func TestApply_FailedEntryIsRetried(t *testing.T) {
	p, _, ledger := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	// Simulate an earlier pass that claimed the item and failed.
	claimed, err := ledger.TryClaim(context.Background(), "user-1", "email-1")
	require.NoError(t, err)
	require.True(t, claimed)
	require.NoError(t, ledger.MarkResult(context.Background(), "user-1", "email-1", models.LedgerFailed, ""))

	sub, outcome, err := p.Apply(context.Background(), "user-1", startEvidence("email-1", d0))
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeCreated, outcome)
	require.NotNil(t, sub)

	entry, err := ledger.Get(context.Background(), "user-1", "email-1")
	require.NoError(t, err)
	assert.Equal(t, models.LedgerProcessed, entry.Status)
}

func TestApply_MonotonicOrdering(t *testing.T) {
	// Applying newer-then-older leaves the state as if only the newer one
	// had ever been applied.
	p, _, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	newer := models.CandidateEvidence{
		EventType:   models.EventRenewal,
		ServiceName: "Spotify",
		Amount:      amount("10.99"),
		PlanName:    "Duo",
		SourceID:    "b-newer",
		SourceDate:  d0.AddDate(0, 1, 0),
	}
	after, _, err := p.Apply(context.Background(), "user-1", newer)
	require.NoError(t, err)

	older := models.CandidateEvidence{
		EventType:   models.EventStart,
		ServiceName: "Spotify",
		Amount:      amount("9.99"),
		PlanName:    "Individual",
		SourceID:    "a-older",
		SourceDate:  d0,
	}
	final, outcome, err := p.Apply(context.Background(), "user-1", older)
	require.NoError(t, err)
	assert.Equal(t, recon.OutcomeSkipped, outcome)
	assert.True(t, final.Price.Equal(after.Price))
	assert.Equal(t, after.PlanName, final.PlanName)
	assert.Equal(t, after.LastAppliedEventID, final.LastAppliedEventID)
}

func TestApply_IdentityResolvesAcrossPlanNames(t *testing.T) {
	p, subs, _ := newTestProcessor()
	d0 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	first := models.CandidateEvidence{
		EventType:   models.EventStart,
		ServiceName: "Crave Standard With Ads",
		Amount:      amount("9.99"),
		SourceID:    "email-1",
		SourceDate:  d0,
	}
	created, _, err := p.Apply(context.Background(), "user-1", first)
	require.NoError(t, err)

	second := models.CandidateEvidence{
		EventType:   models.EventRenewal,
		ServiceName: "Crave Premium",
		Amount:      amount("14.99"),
		SourceID:    "email-2",
		SourceDate:  d0.AddDate(0, 1, 0),
	}
	sub, _, err := p.Apply(context.Background(), "user-1", second)
	require.NoError(t, err)
	assert.Equal(t, created.ID, sub.ID)

	all, err := subs.ListForUser(context.Background(), "user-1", nil)
	require.NoError(t, err)
	assert.Len(t, all, 1, "both plans must resolve to one aggregate")
}
