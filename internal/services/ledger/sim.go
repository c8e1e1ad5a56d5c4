// Package ledger provides an in-memory implementation of the engine's
// external collaborators, used by cmd wiring and tests.
package ledger

import (
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/DEFCONPRO/protocol/internal/domain"
	"github.com/DEFCONPRO/protocol/internal/services/rebalancer"
)

type priceEntry struct {
	low, high       decimal.Decimal
	ok              bool
	lotLow, lotHigh decimal.Decimal
}

// Sim holds balances, prices, the basket table, the staking pool and the
// issued token in memory behind the collaborator interfaces.
type Sim struct {
	mu sync.Mutex

	order      []common.Address
	assets     map[common.Address]domain.Asset
	balances   map[common.Address]decimal.Decimal
	quantities map[common.Address]decimal.Decimal
	prices     map[common.Address]priceEntry
	revenue    map[common.Address]decimal.Decimal

	basketsNeeded decimal.Decimal
	ready         bool
	lastChange    time.Time

	reserve common.Address
	pool    decimal.Decimal

	issued       domain.Asset
	issuedSupply decimal.Decimal
	engineIssued decimal.Decimal
}

// NewSim builds an empty simulated world around the issued token and the
// reserve asset address.
func NewSim(issued domain.Asset, reserve common.Address) *Sim {
	return &Sim{
		assets:     make(map[common.Address]domain.Asset),
		balances:   make(map[common.Address]decimal.Decimal),
		quantities: make(map[common.Address]decimal.Decimal),
		prices:     make(map[common.Address]priceEntry),
		revenue:    make(map[common.Address]decimal.Decimal),
		ready:      true,
		reserve:    reserve,
		issued:     issued,
	}
}

// AddAsset registers an eligible asset with its starting balance.
func (s *Sim) AddAsset(a domain.Asset, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.assets[a.Address]; !seen {
		s.order = append(s.order, a.Address)
	}
	s.assets[a.Address] = a
	s.balances[a.Address] = balance
}

// SetStatus updates an asset's collateral status.
func (s *Sim) SetStatus(addr common.Address, status domain.CollateralStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := s.assets[addr]
	a.Status = status
	s.assets[addr] = a
}

// SetBalance overrides an asset's working balance.
func (s *Sim) SetBalance(addr common.Address, balance decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[addr] = balance
}

// SetPrice sets the primary price band.
func (s *Sim) SetPrice(addr common.Address, low, high decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[addr]
	p.low, p.high, p.ok = low, high, true
	if !p.lotLow.IsPositive() {
		p.lotLow, p.lotHigh = low, high
	}
	s.prices[addr] = p
}

// SetPriceUnavailable marks the primary feed as down.
func (s *Sim) SetPriceUnavailable(addr common.Address) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[addr]
	p.ok = false
	s.prices[addr] = p
}

// SetLotPrice sets the fallback price band.
func (s *Sim) SetLotPrice(addr common.Address, low, high decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[addr]
	p.lotLow, p.lotHigh = low, high
	s.prices[addr] = p
}

// SetQuantity changes the basket composition; stamps the change time.
func (s *Sim) SetQuantity(addr common.Address, q decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quantities[addr] = q
	s.lastChange = time.Now()
}

// SetReady toggles the basket readiness flag.
func (s *Sim) SetReady(ready bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ready = ready
}

// SetLastChangeTime overrides the basket change timestamp.
func (s *Sim) SetLastChangeTime(t time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastChange = t
}

// SetPoolBalance sets the staking pool balance.
func (s *Sim) SetPoolBalance(b decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pool = b
}

// SetIssued sets total supply and engine-held balance of the issued token.
func (s *Sim) SetIssued(supply, engineHeld decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.issuedSupply = supply
	s.engineIssued = engineHeld
}

// Revenue returns what has been forwarded for an asset.
func (s *Sim) Revenue(addr common.Address) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revenue[addr]
}

// Price implements rebalancer.PriceSource.
func (s *Sim) Price(addr common.Address) (decimal.Decimal, decimal.Decimal, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[addr]
	return p.low, p.high, p.ok
}

// LotPrice implements rebalancer.PriceSource.
func (s *Sim) LotPrice(addr common.Address) (decimal.Decimal, decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p := s.prices[addr]
	return p.lotLow, p.lotHigh
}

// Quantity implements rebalancer.BasketTable.
func (s *Sim) Quantity(addr common.Address) decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.quantities[addr]
}

// IsReady implements rebalancer.BasketTable.
func (s *Sim) IsReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready
}

// BasketsNeeded implements rebalancer.BasketTable.
func (s *Sim) BasketsNeeded() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.basketsNeeded
}

// SetBasketsNeeded implements rebalancer.BasketTable.
func (s *Sim) SetBasketsNeeded(units decimal.Decimal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.basketsNeeded = units
}

// LastChangeTime implements rebalancer.BasketTable.
func (s *Sim) LastChangeTime() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastChange
}

// ListEligible implements rebalancer.AssetLedger.
func (s *Sim) ListEligible() []rebalancer.LedgerEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]rebalancer.LedgerEntry, 0, len(s.order))
	for _, addr := range s.order {
		entries = append(entries, rebalancer.LedgerEntry{
			Asset:   s.assets[addr],
			Balance: s.balances[addr],
		})
	}
	return entries
}

// Refresh implements rebalancer.AssetLedger. The simulated world has
// nothing to re-read.
func (s *Sim) Refresh() error { return nil }

// ForwardToRevenue implements rebalancer.AssetLedger.
func (s *Sim) ForwardToRevenue(addr common.Address, amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[addr]
	if bal.LessThan(amount) {
		return errors.Errorf("forward %s of %s exceeds balance %s", amount, addr.Hex(), bal)
	}
	s.balances[addr] = bal.Sub(amount)
	s.revenue[addr] = s.revenue[addr].Add(amount)
	return nil
}

// Balance implements rebalancer.StakingPool.
func (s *Sim) Balance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// Seize implements rebalancer.StakingPool: moves pool collateral into the
// engine's working reserve balance.
func (s *Sim) Seize(amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool.LessThan(amount) {
		return errors.Errorf("seize %s exceeds pool balance %s", amount, s.pool)
	}
	s.pool = s.pool.Sub(amount)
	s.balances[s.reserve] = s.balances[s.reserve].Add(amount)
	return nil
}

// Address implements rebalancer.IssuedToken.
func (s *Sim) Address() common.Address { return s.issued.Address }

// EngineBalance implements rebalancer.IssuedToken.
func (s *Sim) EngineBalance() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engineIssued
}

// TotalSupply implements rebalancer.IssuedToken.
func (s *Sim) TotalSupply() decimal.Decimal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.issuedSupply
}

// Burn implements rebalancer.IssuedToken.
func (s *Sim) Burn(amount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.engineIssued.LessThan(amount) {
		return errors.Errorf("burn %s exceeds engine balance %s", amount, s.engineIssued)
	}
	s.engineIssued = s.engineIssued.Sub(amount)
	s.issuedSupply = s.issuedSupply.Sub(amount)
	return nil
}

// SmallestUnit implements rebalancer.IssuedToken.
func (s *Sim) SmallestUnit() decimal.Decimal {
	return decimal.New(1, -s.issued.Decimals)
}

// ApplyFill implements auction.Exchanger: swaps the sold lot for the
// bought amount on the engine's balances.
func (s *Sim) ApplyFill(sell, buy domain.Asset, soldAmount, boughtAmount decimal.Decimal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	bal := s.balances[sell.Address]
	if bal.LessThan(soldAmount) {
		return errors.Errorf("fill sells %s %s but engine holds %s", soldAmount, sell.Symbol, bal)
	}
	s.balances[sell.Address] = bal.Sub(soldAmount)
	s.balances[buy.Address] = s.balances[buy.Address].Add(boughtAmount)
	return nil
}
