package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/subwatch/subwatch/internal/models"
)

// In-memory repository implementations. They back unit tests and mock mode
// and satisfy the same interfaces as the sqlite stores.

// MemorySubscriptionStore is a map-backed SubscriptionStore equivalent.
type MemorySubscriptionStore struct {
	mu   sync.RWMutex
	subs map[string]*models.Subscription // keyed by id
}

// NewMemorySubscriptionStore returns an empty in-memory subscription store.
func NewMemorySubscriptionStore() *MemorySubscriptionStore {
	return &MemorySubscriptionStore{subs: make(map[string]*models.Subscription)}
}

func (m *MemorySubscriptionStore) Create(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	sub.CreatedAt = now
	sub.UpdatedAt = now
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) Update(_ context.Context, sub *models.Subscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sub.UpdatedAt = time.Now()
	cp := *sub
	m.subs[sub.ID] = &cp
	return nil
}

func (m *MemorySubscriptionStore) GetByID(_ context.Context, userID, id string) (*models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sub, ok := m.subs[id]
	if !ok || sub.UserID != userID {
		return nil, nil
	}
	cp := *sub
	return &cp, nil
}

func (m *MemorySubscriptionStore) FindByToken(_ context.Context, userID, token string) (*models.Subscription, error) {
	token = strings.ToLower(strings.TrimSpace(token))
	if token == "" {
		return nil, nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var best *models.Subscription
	for _, sub := range m.subs {
		if sub.UserID != userID {
			continue
		}
		if !strings.Contains(strings.ToLower(sub.CompanyName), token) {
			continue
		}
		if best == nil || sub.UpdatedAt.After(best.UpdatedAt) {
			best = sub
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *MemorySubscriptionStore) ListForUser(_ context.Context, userID string, status *models.SubscriptionStatus) ([]models.Subscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var subs []models.Subscription
	for _, sub := range m.subs {
		if sub.UserID != userID {
			continue
		}
		if status != nil && sub.Status != *status {
			continue
		}
		subs = append(subs, *sub)
	}
	sort.Slice(subs, func(i, j int) bool { return subs[i].UpdatedAt.After(subs[j].UpdatedAt) })
	return subs, nil
}

// MemoryLedgerStore is a map-backed LedgerStore equivalent.
type MemoryLedgerStore struct {
	mu      sync.Mutex
	entries map[string]*models.LedgerEntry // keyed by userID+"\x00"+sourceID
}

// NewMemoryLedgerStore returns an empty in-memory ledger.
func NewMemoryLedgerStore() *MemoryLedgerStore {
	return &MemoryLedgerStore{entries: make(map[string]*models.LedgerEntry)}
}

func ledgerKey(userID, sourceID string) string { return userID + "\x00" + sourceID }

func (m *MemoryLedgerStore) TryClaim(_ context.Context, userID, sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ledgerKey(userID, sourceID)
	if _, exists := m.entries[key]; exists {
		return false, nil
	}
	now := time.Now()
	m.entries[key] = &models.LedgerEntry{
		UserID:    userID,
		SourceID:  sourceID,
		Status:    models.LedgerPending,
		ClaimedAt: now,
		UpdatedAt: now,
	}
	return true, nil
}

func (m *MemoryLedgerStore) MarkResult(_ context.Context, userID, sourceID string, status models.LedgerStatus, linkedSubscriptionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[ledgerKey(userID, sourceID)]
	if !ok {
		return nil
	}
	entry.Status = status
	entry.LinkedSubscriptionID = linkedSubscriptionID
	entry.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryLedgerStore) Get(_ context.Context, userID, sourceID string) (*models.LedgerEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entry, ok := m.entries[ledgerKey(userID, sourceID)]
	if !ok {
		return nil, nil
	}
	cp := *entry
	return &cp, nil
}

// MemoryPotentialStore is a map-backed PotentialStore equivalent.
type MemoryPotentialStore struct {
	mu   sync.RWMutex
	pots map[string]*models.PotentialSubscription // keyed by id
}

// NewMemoryPotentialStore returns an empty in-memory potential store.
func NewMemoryPotentialStore() *MemoryPotentialStore {
	return &MemoryPotentialStore{pots: make(map[string]*models.PotentialSubscription)}
}

func (m *MemoryPotentialStore) Upsert(_ context.Context, pot *models.PotentialSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()

	// Same (user, transaction) refreshes the earlier record.
	for _, existing := range m.pots {
		if existing.UserID == pot.UserID && existing.TransactionID == pot.TransactionID {
			existing.Confidence = pot.Confidence
			existing.Reason = pot.Reason
			existing.RecurringPattern = pot.RecurringPattern
			existing.MatchedEmailID = pot.MatchedEmailID
			existing.UpdatedAt = now
			pot.ID = existing.ID
			return nil
		}
	}

	if pot.CreatedAt.IsZero() {
		pot.CreatedAt = now
	}
	pot.UpdatedAt = now
	cp := *pot
	m.pots[pot.ID] = &cp
	return nil
}

func (m *MemoryPotentialStore) UpdateAction(_ context.Context, userID, id string, action models.UserAction, confidence models.Confidence) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pot, ok := m.pots[id]
	if !ok || pot.UserID != userID {
		return nil
	}
	pot.UserAction = action
	pot.Confidence = confidence
	pot.UpdatedAt = time.Now()
	return nil
}

func (m *MemoryPotentialStore) GetByID(_ context.Context, userID, id string) (*models.PotentialSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pot, ok := m.pots[id]
	if !ok || pot.UserID != userID {
		return nil, nil
	}
	cp := *pot
	return &cp, nil
}

func (m *MemoryPotentialStore) ListSince(_ context.Context, userID string, since time.Time) ([]models.PotentialSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var pots []models.PotentialSubscription
	for _, pot := range m.pots {
		if pot.UserID != userID || pot.TransactionDate.Before(since) {
			continue
		}
		pots = append(pots, *pot)
	}
	sort.Slice(pots, func(i, j int) bool { return pots[i].TransactionDate.Before(pots[j].TransactionDate) })
	return pots, nil
}

// MemoryEmailStore is a map-backed EmailStore equivalent.
type MemoryEmailStore struct {
	mu     sync.RWMutex
	emails map[string][]models.EmailMessage // keyed by userID
}

// NewMemoryEmailStore returns an empty in-memory email evidence store.
func NewMemoryEmailStore() *MemoryEmailStore {
	return &MemoryEmailStore{emails: make(map[string][]models.EmailMessage)}
}

func (m *MemoryEmailStore) Put(_ context.Context, userID string, msg models.EmailMessage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	msgs := m.emails[userID]
	for i, existing := range msgs {
		if existing.ID == msg.ID {
			msgs[i] = msg
			return nil
		}
	}
	m.emails[userID] = append(msgs, msg)
	return nil
}

func (m *MemoryEmailStore) ListWindow(_ context.Context, userID string, from, to time.Time) ([]models.EmailMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var msgs []models.EmailMessage
	for _, msg := range m.emails[userID] {
		if msg.Date.Before(from) || msg.Date.After(to) {
			continue
		}
		msgs = append(msgs, msg)
	}
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Date.Before(msgs[j].Date) })
	return msgs, nil
}
