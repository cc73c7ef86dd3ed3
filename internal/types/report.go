package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// PerformanceReport aggregates the closed-trade ledger into the metrics the
// user sees at the end of a backtest.
type PerformanceReport struct {
	// NetProfit is the sum of positive-return closed trades, NetLoss the sum
	// of negative-return ones (a non-positive number); NetReturn their sum.
	NetProfit decimal.Decimal `yaml:"net_profit" json:"net_profit"`
	NetLoss   decimal.Decimal `yaml:"net_loss" json:"net_loss"`
	NetReturn decimal.Decimal `yaml:"net_return" json:"net_return"`

	// ReturnOnInvestment is NetReturn divided by initial capital.
	ReturnOnInvestment decimal.Decimal `yaml:"return_on_investment" json:"return_on_investment"`

	// ProfitFactor is NetProfit / |NetLoss|; zero when there are no losses.
	ProfitFactor decimal.Decimal `yaml:"profit_factor" json:"profit_factor"`

	TotalVolume decimal.Decimal            `yaml:"total_volume" json:"total_volume"`
	FeesPaid    map[string]decimal.Decimal `yaml:"fees_paid" json:"fees_paid"`

	MaxDrawdown decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	MaxRunUp    decimal.Decimal `yaml:"max_run_up" json:"max_run_up"`

	WinningTrades int `yaml:"winning_trades" json:"winning_trades"`
	LosingTrades  int `yaml:"losing_trades" json:"losing_trades"`
	EvenTrades    int `yaml:"even_trades" json:"even_trades"`

	Duration time.Duration `yaml:"duration" json:"duration"`
}

// BacktestResult is the terminal snapshot persisted with a FINISHED job:
// the full order/trade ledger plus the performance report.
type BacktestResult struct {
	Orders       []Order           `yaml:"orders" json:"orders"`
	ClosedTrades []ClosedTrade     `yaml:"closed_trades" json:"closed_trades"`
	Report       PerformanceReport `yaml:"report" json:"report"`
}
