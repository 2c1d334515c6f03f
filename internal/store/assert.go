package store

import "github.com/subwatch/subwatch/internal/recon"

// Both backends satisfy the engine's repository contracts.
var (
	_ recon.SubscriptionRepo = (*SubscriptionStore)(nil)
	_ recon.LedgerRepo       = (*LedgerStore)(nil)
	_ recon.PotentialRepo    = (*PotentialStore)(nil)
	_ recon.EmailRepo        = (*EmailStore)(nil)

	_ recon.SubscriptionRepo = (*MemorySubscriptionStore)(nil)
	_ recon.LedgerRepo       = (*MemoryLedgerStore)(nil)
	_ recon.PotentialRepo    = (*MemoryPotentialStore)(nil)
	_ recon.EmailRepo        = (*MemoryEmailStore)(nil)
)
