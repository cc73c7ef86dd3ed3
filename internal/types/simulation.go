package types

import (
	"github.com/shopspring/decimal"
)

// SimulationState holds the per-backtest financial aggregates. It is mutated
// once per kline iteration by the matching engine and never concurrently.
type SimulationState struct {
	CapitalCurrency string `yaml:"capital_currency" json:"capital_currency"`
	AssetCurrency   string `yaml:"asset_currency" json:"asset_currency"`

	InitialCapital decimal.Decimal `yaml:"initial_capital" json:"initial_capital"`
	TakerFeeRate   decimal.Decimal `yaml:"taker_fee_rate" json:"taker_fee_rate"`
	MakerFeeRate   decimal.Decimal `yaml:"maker_fee_rate" json:"maker_fee_rate"`

	MaxDrawdown decimal.Decimal `yaml:"max_drawdown" json:"max_drawdown"`
	MaxRunUp    decimal.Decimal `yaml:"max_run_up" json:"max_run_up"`

	// FeesPaid accumulates fees per currency: entry fees are charged in the
	// asset currency, exit fees in the capital currency.
	FeesPaid map[string]decimal.Decimal `yaml:"fees_paid" json:"fees_paid"`
}

// NewSimulationState builds the initial state from the accepted request.
func NewSimulationState(req *BacktestRequest) *SimulationState {
	return &SimulationState{
		CapitalCurrency: req.CapitalCurrency,
		AssetCurrency:   req.AssetCurrency,
		InitialCapital:  req.InitialCapital,
		TakerFeeRate:    req.TakerFeeRate,
		MakerFeeRate:    req.MakerFeeRate,
		MaxDrawdown:     decimal.Zero,
		MaxRunUp:        decimal.Zero,
		FeesPaid:        map[string]decimal.Decimal{},
	}
}

// AddFee accumulates a fee amount under the given currency.
func (s *SimulationState) AddFee(currency string, amount decimal.Decimal) {
	s.FeesPaid[currency] = s.FeesPaid[currency].Add(amount)
}

// ObserveExcursions folds a trade's running excursions into the cumulative
// per-backtest maxima.
func (s *SimulationState) ObserveExcursions(drawdown, runUp decimal.Decimal) {
	if drawdown.GreaterThan(s.MaxDrawdown) {
		s.MaxDrawdown = drawdown
	}

	if runUp.GreaterThan(s.MaxRunUp) {
		s.MaxRunUp = runUp
	}
}

// FeeRateFor returns the fee rate matching the order type: limit legs pay
// maker, market and stop-market fills pay taker.
func (s *SimulationState) FeeRateFor(orderType OrderType) decimal.Decimal {
	switch orderType {
	case OrderTypeLimit, OrderTypeStopLimit:
		return s.MakerFeeRate
	default:
		return s.TakerFeeRate
	}
}
