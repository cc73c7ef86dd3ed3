package engine

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/internal/utils"
)

// buildReport aggregates the closed-trade ledger into the performance
// report. Called once, after the final kline is replayed and any residual
// position is force-closed.
func buildReport(orders []types.Order, closedTrades []types.ClosedTrade, state *types.SimulationState, elapsed time.Duration) types.PerformanceReport {
	report := types.PerformanceReport{
		NetProfit:   decimal.Zero,
		NetLoss:     decimal.Zero,
		TotalVolume: decimal.Zero,
		FeesPaid:    make(map[string]decimal.Decimal, len(state.FeesPaid)),
		MaxDrawdown: state.MaxDrawdown,
		MaxRunUp:    state.MaxRunUp,
		Duration:    elapsed,
	}

	for _, trade := range closedTrades {
		switch {
		case trade.NetReturn.IsPositive():
			report.NetProfit = report.NetProfit.Add(trade.NetReturn)
			report.WinningTrades++
		case trade.NetReturn.IsNegative():
			report.NetLoss = report.NetLoss.Add(trade.NetReturn)
			report.LosingTrades++
		default:
			report.EvenTrades++
		}
	}

	report.NetReturn = report.NetProfit.Add(report.NetLoss)

	if state.InitialCapital.IsPositive() {
		report.ReturnOnInvestment = utils.RoundMonetary(report.NetReturn.Div(state.InitialCapital))
	}

	if report.NetLoss.IsNegative() {
		report.ProfitFactor = utils.RoundMonetary(report.NetProfit.Div(report.NetLoss.Abs()))
	}

	for _, order := range orders {
		if order.Status == types.OrderStatusFilled {
			report.TotalVolume = report.TotalVolume.Add(order.Quantity.Mul(order.FillPrice))
		}
	}

	for currency, amount := range state.FeesPaid {
		report.FeesPaid[currency] = amount
	}

	return report
}
