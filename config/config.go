package config

import (
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds the engine's governance and runtime parameters.
type Config struct {
	MinTradeVolume      decimal.Decimal
	MaxTradeSlippage    decimal.Decimal
	AuctionDuration     time.Duration
	TradingDelay        time.Duration
	BlockTime           time.Duration
	RevenueDestinations int64
	CycleInterval       time.Duration
	WALDir              string
	ListenAddr          string
}

type configTmp struct {
	MinTradeVolumeStr   string `yaml:"min_trade_volume,omitempty"`
	MaxTradeSlippageStr string `yaml:"max_trade_slippage,omitempty"`
	AuctionDurationStr  string `yaml:"auction_duration,omitempty"`
	TradingDelayStr     string `yaml:"trading_delay,omitempty"`
	BlockTimeStr        string `yaml:"block_time,omitempty"`
	RevenueDestinations int64  `yaml:"revenue_destinations,omitempty"`
	CycleIntervalStr    string `yaml:"cycle_interval,omitempty"`
	WALDir              string `yaml:"wal_dir,omitempty"`
	ListenAddr          string `yaml:"listen_addr,omitempty"`
}

// Get reads the yaml config at path and applies defaults.
func Get(path string) (Config, error) {
	var tmp configTmp

	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	if err := yaml.Unmarshal(f, &tmp); err != nil {
		return Config{}, err
	}

	conf := Config{
		MinTradeVolume:      decimal.NewFromInt(100),
		MaxTradeSlippage:    decimal.NewFromFloat(0.01),
		AuctionDuration:     30 * time.Minute,
		TradingDelay:        time.Hour,
		BlockTime:           12 * time.Second,
		RevenueDestinations: 2,
		CycleInterval:       5 * time.Minute,
		WALDir:              "./wal/auctions",
		ListenAddr:          "localhost:8087",
	}

	if tmp.MinTradeVolumeStr != "" {
		v, err := decimal.NewFromString(tmp.MinTradeVolumeStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'min_trade_volume' param in yaml config (must be a decimal), error: %w", err)
		}
		if v.IsNegative() {
			return Config{}, fmt.Errorf("'min_trade_volume' must not be negative, got %s", v)
		}
		conf.MinTradeVolume = v
	}
	if tmp.MaxTradeSlippageStr != "" {
		v, err := decimal.NewFromString(tmp.MaxTradeSlippageStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'max_trade_slippage' param in yaml config (must be a decimal), error: %w", err)
		}
		if v.IsNegative() || v.GreaterThanOrEqual(decimal.NewFromInt(1)) {
			return Config{}, fmt.Errorf("'max_trade_slippage' must be in [0, 1), got %s", v)
		}
		conf.MaxTradeSlippage = v
	}
	if tmp.AuctionDurationStr != "" {
		d, err := time.ParseDuration(tmp.AuctionDurationStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'auction_duration' param in yaml config (correct format is 30m), error: %w", err)
		}
		conf.AuctionDuration = d
	}
	if tmp.TradingDelayStr != "" {
		d, err := time.ParseDuration(tmp.TradingDelayStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'trading_delay' param in yaml config (correct format is 1h), error: %w", err)
		}
		conf.TradingDelay = d
	}
	if tmp.BlockTimeStr != "" {
		d, err := time.ParseDuration(tmp.BlockTimeStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'block_time' param in yaml config (correct format is 12s), error: %w", err)
		}
		conf.BlockTime = d
	}
	if tmp.RevenueDestinations != 0 {
		if tmp.RevenueDestinations < 0 {
			return Config{}, fmt.Errorf("'revenue_destinations' must not be negative, got %d", tmp.RevenueDestinations)
		}
		conf.RevenueDestinations = tmp.RevenueDestinations
	}
	if tmp.CycleIntervalStr != "" {
		d, err := time.ParseDuration(tmp.CycleIntervalStr)
		if err != nil {
			return Config{}, fmt.Errorf("incorrect 'cycle_interval' param in yaml config (correct format is 5m), error: %w", err)
		}
		conf.CycleInterval = d
	}
	if tmp.WALDir != "" {
		conf.WALDir = tmp.WALDir
	}
	if tmp.ListenAddr != "" {
		conf.ListenAddr = tmp.ListenAddr
	}

	return conf, nil
}
