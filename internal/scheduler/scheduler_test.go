package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/subwatch/subwatch/internal/config"
	"github.com/subwatch/subwatch/internal/ingest"
	"github.com/subwatch/subwatch/internal/recon"
	"github.com/subwatch/subwatch/internal/sources"
	"github.com/subwatch/subwatch/internal/store"
)

func TestIntervalScheduler_FirstRunImmediate(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ran := make(chan struct{})
	stop, err := NewIntervalScheduler(ctx).Schedule("1h", func(context.Context) {
		close(ran)
	})
	require.NoError(t, err)
	defer stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("first run did not fire immediately")
	}
}

func TestIntervalScheduler_StopPreventsFurtherRuns(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	stop, err := NewIntervalScheduler(ctx).Schedule("10ms", func(context.Context) {
		runs.Add(1)
	})
	require.NoError(t, err)

	// Let it tick at least once beyond the immediate run, then stop.
	time.Sleep(50 * time.Millisecond)
	stop()
	settled := runs.Load()
	assert.GreaterOrEqual(t, settled, int32(2))

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, runs.Load(), "no runs after stop")
}

func TestIntervalScheduler_InvalidSpec(t *testing.T) {
	_, err := NewIntervalScheduler(context.Background()).Schedule("every tuesday", func(context.Context) {})
	require.Error(t, err)
}

type stubProvider struct {
	accounts []UserAccount
	err      error
}

func (p *stubProvider) ListDue(context.Context) ([]UserAccount, error) {
	return p.accounts, p.err
}

func newNoopIngestor() *ingest.Ingestor {
	engine := recon.NewEngine(
		store.NewMemorySubscriptionStore(),
		store.NewMemoryLedgerStore(),
		store.NewMemoryPotentialStore(),
		store.NewMemoryEmailStore(),
		config.DefaultTuning(),
	)
	// No sources wired: both scans are no-ops.
	return ingest.New(engine, nil, nil, sources.TextExtractor{}, nil, nil, nil)
}

func TestRunPass_EmptyProvider(t *testing.T) {
	runner := NewRunner(newNoopIngestor(), &stubProvider{}, 2)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recon.Summary{}, summary)
}

func TestRunPass_ProviderErrorAborts(t *testing.T) {
	runner := NewRunner(newNoopIngestor(), &stubProvider{err: errors.New("accounts db down")}, 2)

	_, err := runner.RunPass(context.Background())
	require.Error(t, err)
}

func TestRunPass_MultipleUsers(t *testing.T) {
	provider := &stubProvider{accounts: []UserAccount{
		{UserID: "user-1"},
		{UserID: "user-2"},
		{UserID: "user-3"},
	}}
	runner := NewRunner(newNoopIngestor(), provider, 2)

	summary, err := runner.RunPass(context.Background())
	require.NoError(t, err)
	assert.Equal(t, recon.Summary{}, summary, "no sources means nothing to count")
}

func TestRunUser_NilSourcesNoFailure(t *testing.T) {
	runner := NewRunner(newNoopIngestor(), nil, 1)

	summary := runner.RunUser(context.Background(), UserAccount{UserID: "user-1"})
	assert.Zero(t, summary.Failed)
}

func TestNewRunner_ConcurrencyFloor(t *testing.T) {
	runner := NewRunner(newNoopIngestor(), &stubProvider{}, 0)
	assert.Equal(t, 1, runner.concurrency)
}
