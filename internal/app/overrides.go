package app

import "papertrader/config"

// Overrides are command-line values layered over the loaded config. Zero
// values leave the config untouched. StopLoss and TakeProfit are the
// exception: negative means unset and zero disables the rule. A negative
// Balance or Quantity is applied so that Validate rejects it.
type Overrides struct {
	Strategy  string
	Symbol    string
	Interval  string
	Source    string
	PriceMode string
	Days      int
	Balance   float64
	Quantity  int64
	// StopLoss and TakeProfit are fractions.
	StopLoss   float64
	TakeProfit float64
}

// NoRiskOverride leaves a stop-loss or take-profit fraction as configured.
const NoRiskOverride = -1

// Apply writes the set overrides into cfg. Call cfg.Validate afterwards.
func (o Overrides) Apply(cfg *config.Config) {
	if o.Strategy != "" && o.Strategy != cfg.Strategy.Name {
		// configured params belong to the configured strategy
		cfg.Strategy.Name = o.Strategy
		cfg.Strategy.Params = nil
	}
	if o.Symbol != "" {
		cfg.Backtest.Symbol = o.Symbol
	}
	if o.Interval != "" {
		cfg.Backtest.Interval = o.Interval
	}
	if o.Source != "" {
		cfg.Data.Source = o.Source
	}
	if o.PriceMode != "" {
		cfg.Risk.PriceMode = o.PriceMode
	}
	if o.Days > 0 {
		cfg.Backtest.LookbackDays = o.Days
	}
	if o.Balance != 0 {
		cfg.Backtest.InitialBalance = o.Balance
	}
	if o.Quantity != 0 {
		cfg.Backtest.Quantity = o.Quantity
	}
	if o.StopLoss >= 0 {
		cfg.Risk.StopLossPct = o.StopLoss
	}
	if o.TakeProfit >= 0 {
		cfg.Risk.TakeProfitPct = o.TakeProfit
	}
}
