package recon

import (
	"context"

	"github.com/subwatch/subwatch/internal/models"
)

// IdentityResolver maps a raw merchant/service string to the existing
// canonical subscription it most likely belongs to. Implementations are
// read-only and never fail on a miss: (nil, nil) means no match, which is the
// signal to create a new aggregate.
//
// The resolver is a strategy so the default heuristic can later be replaced
// with stricter fuzzy matching without touching the event processor.
type IdentityResolver interface {
	Resolve(ctx context.Context, userID, rawName string) (*models.Subscription, error)
}

// PrefixTokenResolver matches on the first whitespace-delimited token of the
// raw name, so "Crave Standard With Ads" resolves against "Crave". Substring
// matching on a short token can false-positive on short or ambiguous brand
// names; that is the accepted tradeoff of this strategy.
type PrefixTokenResolver struct {
	subs SubscriptionRepo
}

// NewPrefixTokenResolver returns the default identity resolver.
func NewPrefixTokenResolver(subs SubscriptionRepo) *PrefixTokenResolver {
	return &PrefixTokenResolver{subs: subs}
}

// Resolve implements IdentityResolver.
func (r *PrefixTokenResolver) Resolve(ctx context.Context, userID, rawName string) (*models.Subscription, error) {
	token := models.NormalizeIdentity(rawName)
	if token == "" {
		return nil, nil
	}
	return r.subs.FindByToken(ctx, userID, token)
}
