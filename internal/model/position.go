package model

import "github.com/shopspring/decimal"

// Position is the single open long position a ledger holds for a symbol.
type Position struct {
	Symbol   string          `json:"symbol"`
	Qty      int64           `json:"qty"`
	AvgPrice decimal.Decimal `json:"avg_price"` // quantity-weighted entry price
}

// UnrealizedPnL returns (price - avg) * qty.
func (p *Position) UnrealizedPnL(price decimal.Decimal) decimal.Decimal {
	return price.Sub(p.AvgPrice).Mul(decimal.NewFromInt(p.Qty))
}

// CostBasis returns avg * qty.
func (p *Position) CostBasis() decimal.Decimal {
	return p.AvgPrice.Mul(decimal.NewFromInt(p.Qty))
}
