package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideEntry OrderSide = "ENTRY"
	OrderSideExit  OrderSide = "EXIT"
)

const (
	OrderTypeMarket     OrderType = "MARKET"
	OrderTypeLimit      OrderType = "LIMIT"
	OrderTypeStopMarket OrderType = "STOP_MARKET"
	OrderTypeStopLimit  OrderType = "STOP_LIMIT"
)

const (
	// OrderStatusPendingRequest is an order request collected from the
	// strategy that has not yet entered the order book.
	OrderStatusPendingRequest OrderStatus = "PENDING_REQUEST"
	// OrderStatusSubmitted is an admitted order awaiting its first evaluation.
	OrderStatusSubmitted OrderStatus = "SUBMITTED"
	// OrderStatusOpening is a limit/stop order waiting for its price condition.
	OrderStatusOpening OrderStatus = "OPENING"
	// OrderStatusTriggered is a stop order whose stop leg fired, with the
	// limit leg still pending.
	OrderStatusTriggered OrderStatus = "TRIGGERED"
	OrderStatusFilled    OrderStatus = "FILLED"
	OrderStatusCanceled  OrderStatus = "CANCELED"
	OrderStatusRejected  OrderStatus = "REJECTED"
)

// legalTransitions is the order state machine:
// PendingRequest -> Submitted -> {Opening | Filled} and
// Opening -> Triggered -> {Filled | Canceled | Rejected}.
var legalTransitions = map[OrderStatus][]OrderStatus{
	OrderStatusPendingRequest: {OrderStatusSubmitted, OrderStatusRejected},
	OrderStatusSubmitted:      {OrderStatusOpening, OrderStatusFilled, OrderStatusRejected},
	OrderStatusOpening:        {OrderStatusTriggered, OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
	OrderStatusTriggered:      {OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected},
}

// Order is one order in the simulation. Price is the limit leg price for
// LIMIT/STOP_LIMIT orders; StopPrice is the trigger price for stop types.
// Fill fields are set only when the status reaches FILLED.
type Order struct {
	ID        string          `yaml:"id" json:"id"`
	Side      OrderSide       `yaml:"side" json:"side"`
	Type      OrderType       `yaml:"type" json:"type"`
	Quantity  decimal.Decimal `yaml:"quantity" json:"quantity"`
	Status    OrderStatus     `yaml:"status" json:"status"`
	CreatedAt time.Time       `yaml:"created_at" json:"created_at"`

	Price     optional.Option[decimal.Decimal] `yaml:"price,omitempty" json:"price,omitempty"`
	StopPrice optional.Option[decimal.Decimal] `yaml:"stop_price,omitempty" json:"stop_price,omitempty"`

	FillPrice decimal.Decimal `yaml:"fill_price" json:"fill_price"`
	Fee       decimal.Decimal `yaml:"fee" json:"fee"`
	FilledAt  time.Time       `yaml:"filled_at" json:"filled_at"`

	// RejectReason holds the human readable reason for a rejection.
	RejectReason string `yaml:"reject_reason,omitempty" json:"reject_reason,omitempty"`
}

// IsTerminal reports whether the order reached a final status.
func (o *Order) IsTerminal() bool {
	switch o.Status {
	case OrderStatusFilled, OrderStatusCanceled, OrderStatusRejected:
		return true
	default:
		return false
	}
}

// TransitionTo advances the order state machine, failing on illegal moves.
func (o *Order) TransitionTo(next OrderStatus) error {
	for _, allowed := range legalTransitions[o.Status] {
		if allowed == next {
			o.Status = next

			return nil
		}
	}

	return errors.Newf(errors.ErrCodeInvalidTransition, "order %s cannot transition from %s to %s", o.ID, o.Status, next)
}

// Fill marks the order filled at the given price and time with the given fee.
func (o *Order) Fill(price decimal.Decimal, fee decimal.Decimal, at time.Time) error {
	if err := o.TransitionTo(OrderStatusFilled); err != nil {
		return err
	}

	o.FillPrice = price
	o.Fee = fee
	o.FilledAt = at

	return nil
}

// Reject marks the order rejected with a reason.
func (o *Order) Reject(reason string) error {
	if err := o.TransitionTo(OrderStatusRejected); err != nil {
		return err
	}

	o.RejectReason = reason

	return nil
}

// OrderRequest is the discriminated order action a strategy iteration returns.
// Price is required for LIMIT and STOP_LIMIT, StopPrice for STOP_MARKET and
// STOP_LIMIT.
type OrderRequest struct {
	Side      OrderSide                        `json:"side"`
	Type      OrderType                        `json:"type"`
	Quantity  decimal.Decimal                  `json:"quantity"`
	Price     optional.Option[decimal.Decimal] `json:"price,omitempty"`
	StopPrice optional.Option[decimal.Decimal] `json:"stop_price,omitempty"`
}

// Validate checks the request shape before it is admitted into the order book.
func (r *OrderRequest) Validate() error {
	switch r.Side {
	case OrderSideEntry, OrderSideExit:
	default:
		return errors.Newf(errors.ErrCodeInvalidOrderRequest, "unknown order side %q", r.Side)
	}

	if r.Quantity.LessThanOrEqual(decimal.Zero) {
		return errors.New(errors.ErrCodeInvalidOrderRequest, "order quantity must be greater than zero")
	}

	needsPrice := r.Type == OrderTypeLimit || r.Type == OrderTypeStopLimit
	needsStop := r.Type == OrderTypeStopMarket || r.Type == OrderTypeStopLimit

	switch r.Type {
	case OrderTypeMarket, OrderTypeLimit, OrderTypeStopMarket, OrderTypeStopLimit:
	default:
		return errors.Newf(errors.ErrCodeInvalidOrderRequest, "unknown order type %q", r.Type)
	}

	if needsPrice {
		if r.Price.IsNone() || r.Price.Unwrap().LessThanOrEqual(decimal.Zero) {
			return errors.Newf(errors.ErrCodeInvalidOrderRequest, "%s order requires a positive limit price", r.Type)
		}
	}

	if needsStop {
		if r.StopPrice.IsNone() || r.StopPrice.Unwrap().LessThanOrEqual(decimal.Zero) {
			return errors.Newf(errors.ErrCodeInvalidOrderRequest, "%s order requires a positive stop price", r.Type)
		}
	}

	return nil
}
