package types

import (
	"github.com/shopspring/decimal"
)

// OpeningTrade is an open position lifecycle unit. It is created when an
// ENTRY order fills and is consumed, oldest first, by exit fills. Quantity
// is the entry quantity net of the entry fee and is reduced on partial
// closes; it never goes negative and a fully consumed trade is removed.
type OpeningTrade struct {
	ID    string `yaml:"id" json:"id"`
	Entry Order  `yaml:"entry" json:"entry"`

	Quantity decimal.Decimal `yaml:"quantity" json:"quantity"`

	// Running worst/best unrealized excursion since the trade opened.
	MaxDrawdown decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	MaxRunUp    decimal.Decimal `yaml:"max_run_up" json:"max_run_up"`
}

// ObserveKline updates the running drawdown/run-up excursions with the
// kline's price extremes.
func (t *OpeningTrade) ObserveKline(k *Kline) {
	entryPrice := t.Entry.FillPrice

	drawdown := entryPrice.Sub(k.Low).Mul(t.Quantity)
	if drawdown.GreaterThan(t.MaxDrawdown) {
		t.MaxDrawdown = drawdown
	}

	runUp := k.High.Sub(entryPrice).Mul(t.Quantity)
	if runUp.GreaterThan(t.MaxRunUp) {
		t.MaxRunUp = runUp
	}
}

// ClosedTrade is the terminal form of an OpeningTrade (or a closed portion of
// one, when an exit fill splits a trade). Immutable once created.
type ClosedTrade struct {
	ID    string `yaml:"id" json:"id"`
	Entry Order  `yaml:"entry" json:"entry"`
	Exit  Order  `yaml:"exit" json:"exit"`

	// Quantity is the matched quantity this closed portion represents.
	Quantity decimal.Decimal `yaml:"quantity" json:"quantity"`

	// NetReturn is the fee-adjusted return for the matched quantity at
	// fixed 8-decimal precision.
	NetReturn decimal.Decimal `yaml:"net_return" json:"net_return"`

	MaxDrawdown decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	MaxRunUp    decimal.Decimal `yaml:"max_run_up" json:"max_run_up"`
}
