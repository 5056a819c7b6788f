// Package backtest steps a strategy across a bar series, enforces stop-loss
// and take-profit through the risk governor, and applies the resolved actions
// to a paper ledger.
//
// A run is single-threaded and deterministic: the same series, strategy
// parameters and config always produce the same trades.
package backtest

import (
	"github.com/shopspring/decimal"

	"papertrader/config"
	"papertrader/internal/risk"
)

// Config holds the per-run account and risk settings consumed by the driver.
type Config struct {
	InitialBalance    decimal.Decimal
	QuantityPerTrade  int64
	StopLossPercent   float64 // fraction in [0,1]; 0 disables
	TakeProfitPercent float64 // fraction in [0,1]; 0 disables
	PriceMode         risk.PriceMode
}

// DefaultConfig mirrors the defaults of the command line tools.
func DefaultConfig() Config {
	return Config{
		InitialBalance:    decimal.NewFromInt(100000),
		QuantityPerTrade:  10,
		StopLossPercent:   0.02,
		TakeProfitPercent: 0.04,
	}
}

// Validate fails fast on out-of-range values. Every error wraps
// config.ErrInvalid.
func (c Config) Validate() error {
	if !c.InitialBalance.IsPositive() {
		return config.Invalid("backtest.initial_balance", "must be > 0, got %s", c.InitialBalance)
	}
	if c.QuantityPerTrade <= 0 {
		return config.Invalid("backtest.quantity", "must be > 0, got %d", c.QuantityPerTrade)
	}
	return c.governor().Validate()
}

func (c Config) governor() risk.Governor {
	return risk.Governor{
		StopLoss:   c.StopLossPercent,
		TakeProfit: c.TakeProfitPercent,
		Mode:       c.PriceMode,
	}
}
