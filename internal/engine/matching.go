package engine

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/internal/utils"
	"go.uber.org/zap"
)

// admitRequests turns the strategy's order requests into orders in the
// book. A malformed request still produces an order record, rejected with
// the validation failure as its reason, so the ledger shows every action
// the strategy attempted.
func (e *Engine) admitRequests(requests []types.OrderRequest, k *types.Kline) error {
	for _, request := range requests {
		order := types.Order{
			ID:        uuid.New().String(),
			Side:      request.Side,
			Type:      request.Type,
			Quantity:  request.Quantity,
			Status:    types.OrderStatusPendingRequest,
			CreatedAt: k.CloseTime,
			Price:     request.Price,
			StopPrice: request.StopPrice,
		}

		if err := request.Validate(); err != nil {
			if rejectErr := order.Reject(err.Error()); rejectErr != nil {
				return rejectErr
			}

			e.log.Warn("rejected malformed order request",
				zap.String("order_id", order.ID),
				zap.Error(err),
			)
			e.orders = append(e.orders, order)

			continue
		}

		if err := order.TransitionTo(types.OrderStatusSubmitted); err != nil {
			return err
		}

		// Limit and stop orders wait in the book for their price condition;
		// market orders stay SUBMITTED and fill on this kline's evaluation.
		if order.Type != types.OrderTypeMarket {
			if err := order.TransitionTo(types.OrderStatusOpening); err != nil {
				return err
			}
		}

		e.orders = append(e.orders, order)
	}

	return nil
}

// evaluateOrders walks every non-terminal order against the kline's
// [low, high] price band. A limit leg fills only when its price falls
// inside the band; a stop leg transitions OPENING -> TRIGGERED once the
// stop price is touched, and the limit leg of a stop-limit may fill on
// the same kline.
func (e *Engine) evaluateOrders(k *types.Kline) error {
	for i := range e.orders {
		order := &e.orders[i]
		if order.IsTerminal() {
			continue
		}

		fillPrice, filled, err := evaluateOne(order, k)
		if err != nil {
			return err
		}

		if !filled {
			continue
		}

		if err := e.applyFill(order, fillPrice, k); err != nil {
			return err
		}
	}

	return nil
}

// evaluateOne advances one order against the kline and reports the fill
// price when the order should fill on this kline.
func evaluateOne(order *types.Order, k *types.Kline) (decimal.Decimal, bool, error) {
	switch {
	case order.Status == types.OrderStatusSubmitted && order.Type == types.OrderTypeMarket:
		return k.Close, true, nil

	case order.Status == types.OrderStatusOpening && order.Type == types.OrderTypeLimit:
		price := order.Price.Unwrap()
		if k.Touches(price) {
			return price, true, nil
		}

	case order.Status == types.OrderStatusOpening && order.Type == types.OrderTypeStopMarket:
		stop := order.StopPrice.Unwrap()
		if k.Touches(stop) {
			if err := order.TransitionTo(types.OrderStatusTriggered); err != nil {
				return decimal.Zero, false, err
			}

			return stop, true, nil
		}

	case order.Status == types.OrderStatusOpening && order.Type == types.OrderTypeStopLimit:
		if k.Touches(order.StopPrice.Unwrap()) {
			if err := order.TransitionTo(types.OrderStatusTriggered); err != nil {
				return decimal.Zero, false, err
			}

			// The limit leg may fill on the same kline that fired the stop.
			price := order.Price.Unwrap()
			if k.Touches(price) {
				return price, true, nil
			}
		}

	case order.Status == types.OrderStatusTriggered && order.Type == types.OrderTypeStopLimit:
		price := order.Price.Unwrap()
		if k.Touches(price) {
			return price, true, nil
		}
	}

	return decimal.Zero, false, nil
}

// applyFill computes the fee for the fill, marks the order filled, and
// runs the trade lifecycle: an entry fill opens a trade, an exit fill
// closes trades FIFO. An exit that exceeds the open position is rejected
// with the matching error as its reason rather than partially filled.
func (e *Engine) applyFill(order *types.Order, fillPrice decimal.Decimal, k *types.Kline) error {
	rate := e.state.FeeRateFor(order.Type)

	// Entry fees are charged on the received asset quantity, exit fees on
	// the capital proceeds.
	var fee decimal.Decimal
	if order.Side == types.OrderSideEntry {
		fee = utils.RoundMonetary(order.Quantity.Mul(rate))
	} else {
		fee = utils.RoundMonetary(order.Quantity.Mul(fillPrice).Mul(rate))
	}

	if order.Side == types.OrderSideExit {
		if err := e.closeAgainst(order, fillPrice, fee, k); err != nil {
			return err
		}

		return nil
	}

	if err := order.Fill(fillPrice, fee, k.CloseTime); err != nil {
		return err
	}

	e.state.AddFee(e.state.AssetCurrency, fee)
	e.openingTrades = append(e.openingTrades, types.OpeningTrade{
		ID:          uuid.New().String(),
		Entry:       *order,
		Quantity:    order.Quantity.Sub(fee),
		MaxDrawdown: decimal.Zero,
		MaxRunUp:    decimal.Zero,
	})

	return nil
}

// closeAgainst fills an exit order and consumes opening trades FIFO.
func (e *Engine) closeAgainst(order *types.Order, fillPrice, fee decimal.Decimal, k *types.Kline) error {
	filled := *order
	if err := filled.Fill(fillPrice, fee, k.CloseTime); err != nil {
		return err
	}

	closed, stillOpen, err := CloseTrades(e.openingTrades, filled)
	if err != nil {
		if rejectErr := order.Reject(err.Error()); rejectErr != nil {
			return rejectErr
		}

		e.log.Warn("rejected infeasible exit order",
			zap.String("order_id", order.ID),
			zap.Error(err),
		)

		return nil
	}

	*order = filled
	e.state.AddFee(e.state.CapitalCurrency, fee)
	e.openingTrades = stillOpen
	e.closedTrades = append(e.closedTrades, closed...)

	return nil
}
