package rebalancer

import (
	"fmt"
	"sync"
	"time"

	"github.com/DEFCONPRO/protocol/internal/domain"
)

// AuctionRegistry owns the one-open-auction-per-kind state, the per-kind
// open throttle timestamps, and the set of sell/buy pairs barred from a
// kind. It is injected into the rebalancer rather than looked up ambiently.
type AuctionRegistry struct {
	mu         sync.Mutex
	open       map[domain.TradeKind]*domain.Auction
	lastOpened map[domain.TradeKind]time.Time
	disabled   map[string]bool
}

// NewAuctionRegistry returns an empty registry.
func NewAuctionRegistry() *AuctionRegistry {
	return &AuctionRegistry{
		open:       make(map[domain.TradeKind]*domain.Auction),
		lastOpened: make(map[domain.TradeKind]time.Time),
		disabled:   make(map[string]bool),
	}
}

// OpenAuction returns the currently open auction of the kind, or nil.
func (r *AuctionRegistry) OpenAuction(kind domain.TradeKind) *domain.Auction {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.open[kind]
}

// SetOpen records a freshly opened auction and stamps the throttle clock.
func (r *AuctionRegistry) SetOpen(a *domain.Auction, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.open[a.Kind] = a
	r.lastOpened[a.Kind] = at
}

// Clear removes the open auction of the kind.
func (r *AuctionRegistry) Clear(kind domain.TradeKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.open, kind)
}

// LastOpened returns when an auction of the kind was last opened.
func (r *AuctionRegistry) LastOpened(kind domain.TradeKind) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastOpened[kind]
}

func pairKey(kind domain.TradeKind, sell, buy domain.Asset) string {
	return fmt.Sprintf("%s|%s|%s", kind, sell.Address.Hex(), buy.Address.Hex())
}

// DisablePair bars a sell/buy pair from the kind on future cycles.
// Implements the dutch mechanism's stage-one-bid defense callback.
func (r *AuctionRegistry) DisablePair(kind domain.TradeKind, sell, buy domain.Asset) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disabled[pairKey(kind, sell, buy)] = true
}

// PairDisabled reports whether the pair is barred from the kind.
func (r *AuctionRegistry) PairDisabled(kind domain.TradeKind, sell, buy domain.Asset) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled[pairKey(kind, sell, buy)]
}
