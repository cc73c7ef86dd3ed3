package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/internal/utils"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// CloseTrades matches an exit fill against the opening trades, oldest
// first. A trade whose remaining quantity fits inside the remaining exit
// quantity closes fully and is removed; the last trade touched may be
// split, in which case a closed portion is emitted and the trade stays
// open with its quantity reduced.
//
// The matched quantities always sum to exactly the exit order quantity;
// if the open position cannot cover it the whole operation fails and no
// trade is mutated.
func CloseTrades(openingTrades []types.OpeningTrade, exit types.Order) ([]types.ClosedTrade, []types.OpeningTrade, error) {
	totalOpen := decimal.Zero
	for _, trade := range openingTrades {
		totalOpen = totalOpen.Add(trade.Quantity)
	}

	if totalOpen.LessThan(exit.Quantity) {
		return nil, nil, errors.Newf(errors.ErrCodeInsufficientPosition,
			"exit quantity %s exceeds open position %s", exit.Quantity, totalOpen)
	}

	closed := make([]types.ClosedTrade, 0, len(openingTrades))
	remaining := exit.Quantity

	stillOpen := make([]types.OpeningTrade, 0, len(openingTrades))

	for i, trade := range openingTrades {
		if remaining.IsZero() {
			stillOpen = append(stillOpen, openingTrades[i:]...)

			break
		}

		matched := decimal.Min(trade.Quantity, remaining)
		closed = append(closed, types.ClosedTrade{
			ID:          uuid.New().String(),
			Entry:       trade.Entry,
			Exit:        exit,
			Quantity:    matched,
			NetReturn:   netReturn(trade.Entry, exit, matched),
			MaxDrawdown: trade.MaxDrawdown,
			MaxRunUp:    trade.MaxRunUp,
		})

		remaining = remaining.Sub(matched)

		if leftover := trade.Quantity.Sub(matched); leftover.IsPositive() {
			trade.Quantity = leftover
			stillOpen = append(stillOpen, trade)
		}
	}

	return closed, stillOpen, nil
}

// netReturn computes the fee-adjusted return for one matched portion:
// exit proceeds minus entry cost, minus each order's fee allocated in
// proportion to the matched quantity's share of that order's total
// quantity. Rounded half-up to the fixed monetary precision.
func netReturn(entry, exit types.Order, matched decimal.Decimal) decimal.Decimal {
	gross := matched.Mul(exit.FillPrice).Sub(matched.Mul(entry.FillPrice))

	entryFee := entry.Fee.Mul(matched).Div(entry.Quantity)
	exitFee := exit.Fee.Mul(matched).Div(exit.Quantity)

	return utils.RoundMonetary(gross.Sub(entryFee).Sub(exitFee))
}
