// Command recollateralizer runs the rebalancing engine against a
// simulated asset ledger, opening dutch auctions whenever the backing
// basket falls short of the issued-token target.
//
// Usage:
//
//	recollateralizer --config config.yaml
//
// To route trades through the batch venue instead, set BINANCE_API_KEY
// and BINANCE_API_SECRET and pass --kind batch.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/DEFCONPRO/protocol/config"
	"github.com/DEFCONPRO/protocol/internal/domain"
	"github.com/DEFCONPRO/protocol/internal/services/auction"
	"github.com/DEFCONPRO/protocol/internal/services/ledger"
	"github.com/DEFCONPRO/protocol/internal/services/rebalancer"
	"github.com/DEFCONPRO/protocol/internal/storage/auctions"
	"github.com/DEFCONPRO/protocol/internal/web"
)

// newDemoWorld seeds the simulated ledger with a two-collateral basket
// that starts out under-collateralized, so the loop has work to do right
// away: 1000 baskets needed, a surplus of USDC and a shortfall of DAI.
func newDemoWorld(issued, reserve domain.Asset) *ledger.Sim {
	usdc := domain.Asset{
		Symbol:   "USDC",
		Address:  common.HexToAddress("0x000000000000000000000000000000000000000a"),
		Decimals: 6,
		Status:   domain.StatusSound,
	}
	dai := domain.Asset{
		Symbol:   "DAI",
		Address:  common.HexToAddress("0x000000000000000000000000000000000000000b"),
		Decimals: 18,
		Status:   domain.StatusSound,
	}

	world := ledger.NewSim(issued, reserve.Address)
	world.AddAsset(issued, decimal.Zero)
	world.AddAsset(reserve, decimal.NewFromInt(50))
	world.AddAsset(usdc, decimal.NewFromInt(1400))
	world.AddAsset(dai, decimal.NewFromInt(600))

	world.SetQuantity(usdc.Address, decimal.NewFromInt(1))
	world.SetQuantity(dai.Address, decimal.NewFromInt(1))
	world.SetLastChangeTime(time.Now().Add(-24 * time.Hour))

	one := decimal.NewFromInt(1)
	world.SetPrice(usdc.Address, one, one)
	world.SetPrice(dai.Address, one, one)
	world.SetPrice(reserve.Address, one, one)

	world.SetBasketsNeeded(decimal.NewFromInt(1000))
	world.SetIssued(decimal.NewFromInt(1000), decimal.Zero)
	world.SetPoolBalance(decimal.NewFromInt(200))
	return world
}

func main() {
	configPath := flag.String("config", "config.yaml", "path to yaml config")
	kindFlag := flag.String("kind", "dutch", "trade mechanism kind: dutch or batch")
	flag.Parse()

	conf, err := config.Get(*configPath)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()

	kind := domain.KindDutch
	if *kindFlag == "batch" {
		kind = domain.KindBatch
	}

	issued := domain.Asset{
		Symbol:   "RTKN",
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000001"),
		Decimals: 18,
	}
	reserve := domain.Asset{
		Symbol:   "RSV",
		Address:  common.HexToAddress("0x0000000000000000000000000000000000000002"),
		Decimals: 18,
		Status:   domain.StatusSound,
	}

	world := newDemoWorld(issued, reserve)

	journal, err := auctions.NewWALStore(conf.WALDir)
	if err != nil {
		log.Fatal(err)
	}
	defer journal.Close()

	registry := rebalancer.NewAuctionRegistry()
	if open, err := journal.OpenAuctions(); err != nil {
		log.Fatal(err)
	} else {
		for _, a := range open {
			registry.SetOpen(a, a.StartTime)
		}
	}

	mechanisms := map[domain.TradeKind]rebalancer.Mechanism{
		domain.KindDutch: auction.NewDutchMechanism(logger, conf.AuctionDuration, conf.BlockTime, world, registry),
	}
	if kind == domain.KindBatch {
		apiKey := os.Getenv("BINANCE_API_KEY")
		apiSecret := os.Getenv("BINANCE_API_SECRET")
		if apiKey == "" || apiSecret == "" {
			log.Fatal("BINANCE_API_KEY and BINANCE_API_SECRET environment variables must be set for the batch venue")
		}
		client := binance.NewClient(apiKey, apiSecret)
		mechanisms[domain.KindBatch] = auction.NewBatchMechanism(logger, client, conf.AuctionDuration)
	}

	engine, err := rebalancer.New(
		logger,
		rebalancer.Params{
			MinTradeVolume:      conf.MinTradeVolume,
			MaxTradeSlippage:    conf.MaxTradeSlippage,
			TradingDelay:        conf.TradingDelay,
			BlockTime:           conf.BlockTime,
			RevenueDestinations: conf.RevenueDestinations,
			ReserveAsset:        reserve.Address,
		},
		world, world, world, world, world, nil,
		mechanisms, registry, journal,
	)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := web.NewServer(conf.ListenAddr, journal).Start(ctx); err != nil {
			logger.Error("status server stopped", zap.Error(err))
		}
	}()

	logger.Info("starting rebalance loop",
		zap.String("kind", kind.String()),
		zap.Duration("cycle_interval", conf.CycleInterval))

	ticker := time.NewTicker(conf.CycleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("context done, stopping rebalance loop")
			return
		case <-ticker.C:
			if err := engine.StartRebalance(ctx, kind); err != nil {
				if rebalancer.IsPrecondition(err) {
					logger.Debug("rebalance rejected", zap.Error(err))
					continue
				}
				logger.Error("rebalance cycle failed", zap.Error(err))
				continue
			}
			if err := engine.Settle(ctx, kind); err != nil && !rebalancer.IsPrecondition(err) {
				logger.Error("settlement failed", zap.Error(err))
			}
		}
	}
}
