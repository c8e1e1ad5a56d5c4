// Package rebalancer orchestrates the recollateralization cycle: refresh,
// range computation, pair selection, trade-request building and auction
// opening, with a haircut fallback when no trade can help.
package rebalancer

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DEFCONPRO/protocol/internal/domain"
	"github.com/DEFCONPRO/protocol/internal/metrics"
	"github.com/DEFCONPRO/protocol/internal/services/auction"
	"github.com/DEFCONPRO/protocol/internal/services/basketrange"
	"github.com/DEFCONPRO/protocol/internal/services/selector"
)

// PriceSource supplies price estimates per asset. Price may be
// unavailable; LotPrice is always available and decays toward zero while
// the primary feed is stale.
type PriceSource interface {
	Price(asset common.Address) (low, high decimal.Decimal, ok bool)
	LotPrice(asset common.Address) (low, high decimal.Decimal)
}

// BasketTable supplies the target composition of one basket unit.
type BasketTable interface {
	Quantity(asset common.Address) decimal.Decimal
	IsReady() bool
	BasketsNeeded() decimal.Decimal
	SetBasketsNeeded(units decimal.Decimal)
	LastChangeTime() time.Time
}

// LedgerEntry is one eligible asset with its working balance.
type LedgerEntry struct {
	Asset   domain.Asset
	Balance decimal.Decimal
}

// AssetLedger enumerates eligible assets with current balances.
type AssetLedger interface {
	ListEligible() []LedgerEntry
	Refresh() error
	ForwardToRevenue(asset common.Address, amount decimal.Decimal) error
}

// StakingPool is the over-collateralization reserve.
type StakingPool interface {
	Balance() decimal.Decimal
	Seize(amount decimal.Decimal) error
}

// IssuedToken is the basket-backed token the engine collateralizes.
type IssuedToken interface {
	Address() common.Address
	EngineBalance() decimal.Decimal
	TotalSupply() decimal.Decimal
	Burn(amount decimal.Decimal) error
	SmallestUnit() decimal.Decimal
}

// Distributor flushes pending yield to the revenue destinations.
type Distributor interface {
	Distribute() error
}

// Mechanism is a trade-execution venue: the dutch auction or the batch
// mechanism, interchangeable behind the same contract.
type Mechanism interface {
	Open(ctx context.Context, req *domain.TradeRequest, prices domain.TradePrices) (*domain.Auction, error)
	Settle(ctx context.Context, id uuid.UUID) (filled bool, sold, bought decimal.Decimal, err error)
}

// Journal persists auction lifecycle events.
type Journal interface {
	RecordOpened(a domain.Auction) error
	RecordSettled(a domain.Auction, sold, bought decimal.Decimal) error
}

// Params are the governance parameters of the engine.
type Params struct {
	// MinTradeVolume smallest trade value worth auctioning, reference units.
	MinTradeVolume decimal.Decimal
	// MaxTradeSlippage allowed execution slippage, fraction in [0, 1).
	MaxTradeSlippage decimal.Decimal
	// TradingDelay quiet period after a basket change.
	TradingDelay time.Duration
	// BlockTime per-kind open throttle interval.
	BlockTime time.Duration
	// RevenueDestinations count used by the issued-token dust threshold.
	RevenueDestinations int64
	// ReserveAsset address of the staking-pool collateral.
	ReserveAsset common.Address
}

// Rebalancer sequences one recollateralization cycle per invocation.
// Execution is single-threaded per entry point; a single busy flag spans
// an entire open-settle-resume chain so only the outermost caller
// acquires it.
type Rebalancer struct {
	l           *zap.Logger
	params      Params
	prices      PriceSource
	basket      BasketTable
	ledger      AssetLedger
	pool        StakingPool
	issued      IssuedToken
	distributor Distributor
	mechanisms  map[domain.TradeKind]Mechanism
	registry    *AuctionRegistry
	journal     Journal

	now    func() time.Time
	busyMu chan struct{}
	paused bool
}

// New wires the orchestrator. distributor and journal may be nil.
func New(
	l *zap.Logger,
	params Params,
	prices PriceSource,
	basket BasketTable,
	ledger AssetLedger,
	pool StakingPool,
	issued IssuedToken,
	distributor Distributor,
	mechanisms map[domain.TradeKind]Mechanism,
	registry *AuctionRegistry,
	journal Journal,
) (*Rebalancer, error) {
	if registry == nil {
		return nil, errors.New("auction registry is required")
	}
	if len(mechanisms) == 0 {
		return nil, errors.New("at least one trade mechanism is required")
	}
	busy := make(chan struct{}, 1)
	busy <- struct{}{}
	return &Rebalancer{
		l:           l,
		params:      params,
		prices:      prices,
		basket:      basket,
		ledger:      ledger,
		pool:        pool,
		issued:      issued,
		distributor: distributor,
		mechanisms:  mechanisms,
		registry:    registry,
		journal:     journal,
		now:         time.Now,
		busyMu:      busy,
	}, nil
}

// SetPaused freezes or unfreezes trading.
func (r *Rebalancer) SetPaused(paused bool) {
	r.paused = paused
}

// acquire takes the busy flag without blocking; a held flag means another
// entry point is mid-chain and the call is rejected, never queued.
func (r *Rebalancer) acquire() error {
	select {
	case <-r.busyMu:
		return nil
	default:
		return precondition("engine busy: another entry point is executing")
	}
}

func (r *Rebalancer) release() {
	r.busyMu <- struct{}{}
}

// StartRebalance runs one full cycle for the kind, opening at most one
// auction. Every guard is a hard rejection, never a silent no-op.
func (r *Rebalancer) StartRebalance(ctx context.Context, kind domain.TradeKind) error {
	if err := r.acquire(); err != nil {
		return err
	}
	defer r.release()

	if err := r.guards(kind, false); err != nil {
		return err
	}

	tctx, _, err := r.snapshot()
	if err != nil {
		return err
	}
	if basketrange.FullyCollateralized(tctx) {
		return precondition("already fully collateralized")
	}

	return r.runCycle(ctx, kind)
}

// Settle settles the open auction of the kind and, because the engine
// opened it, immediately re-runs the cycle as a chained resumption under
// the same busy flag.
func (r *Rebalancer) Settle(ctx context.Context, kind domain.TradeKind) error {
	if err := r.acquire(); err != nil {
		return err
	}
	defer r.release()

	a := r.registry.OpenAuction(kind)
	if a == nil {
		return precondition("no open %s auction to settle", kind)
	}

	mech := r.mechanisms[kind]
	if mech == nil {
		return errors.Errorf("no mechanism registered for kind %s", kind)
	}

	filled, sold, bought, err := mech.Settle(ctx, a.ID)
	if err != nil {
		if errors.Is(err, auction.ErrAuctionStillOpen) {
			return precondition("%s auction %s still open", kind, a.ID)
		}
		return errors.Wrapf(err, "settle %s auction %s", kind, a.ID)
	}

	if filled {
		a.Status = domain.AuctionFilled
	} else {
		a.Status = domain.AuctionUnfilled
	}
	r.registry.Clear(kind)
	metrics.AuctionsSettled.WithLabelValues(kind.String(), a.Status.String()).Inc()

	if r.journal != nil {
		if err := r.journal.RecordSettled(*a, sold, bought); err != nil {
			return errors.Wrap(err, "record settlement")
		}
	}

	r.l.Info("auction settled",
		zap.String("kind", kind.String()),
		zap.String("id", a.ID.String()),
		zap.String("status", a.Status.String()),
		zap.String("sold", sold.String()),
		zap.String("bought", bought.String()))

	// chained resumption: same transaction, same busy flag, throttle
	// bypassed. A failure here is propagated, never absorbed; an empty
	// diagnostic is itself re-raised so truncation cannot look like
	// success.
	if err := r.resume(ctx, kind); err != nil {
		if err.Error() == "" {
			return errors.New("chained resumption failed without diagnostic")
		}
		return errors.Wrap(err, "chained resumption")
	}
	return nil
}

// resume is the one sanctioned internal re-entry path.
func (r *Rebalancer) resume(ctx context.Context, kind domain.TradeKind) error {
	if err := r.guards(kind, true); err != nil {
		return err
	}
	return r.runCycle(ctx, kind)
}

// guards applies the entry preconditions. A chained resumption bypasses
// the per-kind open throttle only.
func (r *Rebalancer) guards(kind domain.TradeKind, chained bool) error {
	if r.paused {
		return precondition("trading is paused")
	}
	if !r.basket.IsReady() {
		return precondition("basket is not ready")
	}
	if since := r.now().Sub(r.basket.LastChangeTime()); since < r.params.TradingDelay {
		return precondition("trading delay not elapsed: %s since basket change", since)
	}
	if a := r.registry.OpenAuction(kind); a != nil {
		return precondition("%s auction %s already open", kind, a.ID)
	}
	if !chained {
		if last := r.registry.LastOpened(kind); !last.IsZero() && r.now().Sub(last) < r.params.BlockTime {
			return precondition("%s auction throttled: opened %s ago", kind, r.now().Sub(last))
		}
	}
	return nil
}

// runCycle executes steps 1-7 of the cycle for an already-guarded call.
func (r *Rebalancer) runCycle(ctx context.Context, kind domain.TradeKind) error {
	if err := r.ledger.Refresh(); err != nil {
		return errors.Wrap(err, "refresh asset ledger")
	}
	if r.distributor != nil {
		if err := r.distributor.Distribute(); err != nil {
			return errors.Wrap(err, "distribute pending yield")
		}
	}

	if err := r.dissolveIssuedDust(); err != nil {
		return err
	}

	tctx, reserveWorking, err := r.snapshot()
	if err != nil {
		return err
	}
	metrics.CyclesTotal.Inc()

	if basketrange.FullyCollateralized(tctx) {
		r.l.Info("fully collateralized, nothing to do",
			zap.String("baskets_needed", tctx.BasketsNeeded.String()))
		return nil
	}

	rng, err := basketrange.Calculate(tctx)
	if err != nil {
		return errors.Wrap(err, "compute basket range")
	}
	metrics.BasketRangeBottom.Set(rng.Bottom.InexactFloat64())
	metrics.BasketRangeTop.Set(rng.Top.InexactFloat64())

	sel, deficitFound := selector.SelectPair(tctx, rng)
	if sel == nil {
		// under-collateralized with no trade that helps: either no deficit
		// sits below the achievable bottom or nothing clears the dust
		// threshold; both end in a haircut
		if deficitFound {
			r.l.Warn("deficit found but no sell candidate clears the dust threshold")
		}
		return r.haircut(tctx.Held.Bottom)
	}
	if r.registry.PairDisabled(kind, sel.Sell.Asset, sel.Buy.Asset) {
		return precondition("pair %s/%s disabled for kind %s",
			sel.Sell.Asset.Symbol, sel.Buy.Asset.Symbol, kind)
	}

	req, err := selector.BuildRequest(tctx, sel, kind)
	if err != nil {
		if errors.Is(err, selector.ErrNoTrade) {
			// selector found a pair the builder cannot execute; this is an
			// internal inconsistency, fall back to the haircut
			r.l.Error("trade request builder rejected a selected pair", zap.Error(err))
			return r.haircut(tctx.Held.Bottom)
		}
		return errors.Wrap(err, "build trade request")
	}

	if req.Sell.Address == r.params.ReserveAsset && req.SellAmount.GreaterThan(reserveWorking) {
		shortfall := req.SellAmount.Sub(reserveWorking)
		if err := r.pool.Seize(shortfall); err != nil {
			return errors.Wrap(err, "seize staking pool collateral")
		}
		r.l.Info("seized staking pool collateral", zap.String("amount", shortfall.String()))
	}

	mech := r.mechanisms[kind]
	if mech == nil {
		return errors.Errorf("no mechanism registered for kind %s", kind)
	}
	a, err := mech.Open(ctx, req, sel.Prices)
	if err != nil {
		return errors.Wrapf(err, "open %s auction", kind)
	}

	r.registry.SetOpen(a, r.now())
	metrics.AuctionsOpened.WithLabelValues(kind.String()).Inc()
	if r.journal != nil {
		if err := r.journal.RecordOpened(*a); err != nil {
			return errors.Wrap(err, "record opened auction")
		}
	}

	r.l.Info("rebalance auction opened",
		zap.String("kind", kind.String()),
		zap.String("id", a.ID.String()),
		zap.String("request", req.String()))
	return nil
}

// haircut reduces the basket-unit target to the fully-backed bottom,
// making the system collateralized by definition.
func (r *Rebalancer) haircut(bottom decimal.Decimal) error {
	needed := r.basket.BasketsNeeded()
	r.basket.SetBasketsNeeded(bottom)
	metrics.HaircutsTotal.Inc()
	r.l.Warn("haircut applied: no trade can close the shortfall",
		zap.String("baskets_needed", needed.String()),
		zap.String("new_target", bottom.String()))
	return nil
}

// dissolveIssuedDust burns engine-held issued tokens above the dust
// threshold, reducing the basket-unit target proportionally. Equivalent
// to a redemption that never leaves the engine.
func (r *Rebalancer) dissolveIssuedDust() error {
	bal := r.issued.EngineBalance()
	threshold := r.issued.SmallestUnit().Mul(decimal.NewFromInt(r.params.RevenueDestinations))
	if bal.LessThanOrEqual(threshold) {
		return nil
	}

	supply := r.issued.TotalSupply()
	if !supply.IsPositive() {
		return nil
	}
	if err := r.issued.Burn(bal); err != nil {
		return errors.Wrap(err, "burn engine-held issued tokens")
	}
	needed := r.basket.BasketsNeeded()
	r.basket.SetBasketsNeeded(needed.Mul(supply.Sub(bal)).Div(supply))
	r.l.Info("dissolved engine-held issued tokens", zap.String("amount", bal.String()))
	return nil
}

// ForwardSurplus moves balances above the achievable top of the named
// assets to the revenue destinations. Rejected with a reason when nothing
// is forwardable.
func (r *Rebalancer) ForwardSurplus(assets []common.Address) error {
	if err := r.acquire(); err != nil {
		return err
	}
	defer r.release()

	if r.paused {
		return precondition("trading is paused")
	}
	if !r.basket.IsReady() {
		return precondition("basket is not ready")
	}

	tctx, _, err := r.snapshot()
	if err != nil {
		return err
	}
	rng, err := basketrange.Calculate(tctx)
	if err != nil {
		return errors.Wrap(err, "compute basket range")
	}
	if rng.Bottom.LessThan(tctx.BasketsNeeded) {
		return precondition("under-collateralized: surplus is reserved for recollateralization")
	}

	byAddr := make(map[common.Address]*domain.AssetSnapshot, len(tctx.Assets))
	for i := range tctx.Assets {
		byAddr[tctx.Assets[i].Asset.Address] = &tctx.Assets[i]
	}

	forwarded := 0
	for _, addr := range assets {
		snap, ok := byAddr[addr]
		if !ok {
			return precondition("asset %s is not eligible", addr.Hex())
		}
		excess := snap.Balance.Sub(snap.Quantity.Mul(rng.Top))
		if !excess.IsPositive() {
			continue
		}
		if err := r.ledger.ForwardToRevenue(addr, excess); err != nil {
			return errors.Wrapf(err, "forward surplus of %s", snap.Asset.Symbol)
		}
		forwarded++
		r.l.Info("surplus forwarded",
			zap.String("asset", snap.Asset.Symbol),
			zap.String("amount", excess.String()))
	}
	if forwarded == 0 {
		return precondition("no surplus above the achievable top to forward")
	}
	return nil
}

// snapshot captures the immutable per-cycle TradingContext. The second
// return is the reserve asset's working balance before the staking pool
// sum, needed for the seize path.
func (r *Rebalancer) snapshot() (*domain.TradingContext, decimal.Decimal, error) {
	entries := r.ledger.ListEligible()
	issuedAddr := r.issued.Address()

	var (
		assets         = make([]domain.AssetSnapshot, 0, len(entries))
		buLow, buHigh  decimal.Decimal
		heldBottom     decimal.Decimal
		heldTop        decimal.Decimal
		sawBasket      bool
		reserveWorking decimal.Decimal
	)

	for _, e := range entries {
		// the issued token never backs itself
		if e.Asset.Address == issuedAddr {
			continue
		}

		q := r.basket.Quantity(e.Asset.Address)
		low, high, ok := r.prices.Price(e.Asset.Address)
		lotLow, lotHigh := r.prices.LotPrice(e.Asset.Address)

		bal := e.Balance
		isReserve := e.Asset.Address == r.params.ReserveAsset
		if isReserve {
			reserveWorking = e.Balance
			bal = bal.Add(r.pool.Balance())
		}

		if q.IsPositive() {
			buLow = buLow.Add(q.Mul(lotLow))
			buHigh = buHigh.Add(q.Mul(lotHigh))

			ratio := bal.Div(q)
			if !sawBasket {
				heldBottom, heldTop = ratio, ratio
				sawBasket = true
			} else {
				if ratio.LessThan(heldBottom) {
					heldBottom = ratio
				}
				if ratio.GreaterThan(heldTop) {
					heldTop = ratio
				}
			}
		}

		assets = append(assets, domain.AssetSnapshot{
			Asset:    e.Asset,
			Balance:  bal,
			Quantity: q,
			Price:    domain.PriceBand{Low: low, High: high},
			PriceOK:  ok,
			LotPrice: domain.PriceBand{Low: lotLow, High: lotHigh},
			Reserve:  isReserve,
		})
	}

	tctx := &domain.TradingContext{
		Held:             domain.BasketRange{Bottom: heldBottom, Top: heldTop},
		BasketsNeeded:    r.basket.BasketsNeeded(),
		MinTradeVolume:   r.params.MinTradeVolume,
		MaxTradeSlippage: r.params.MaxTradeSlippage,
		BUPrice:          domain.PriceBand{Low: buLow, High: buHigh},
		Assets:           assets,
	}
	if err := tctx.Validate(); err != nil {
		return nil, decimal.Decimal{}, errors.Wrap(err, "capture trading context")
	}
	return tctx, reserveWorking, nil
}
