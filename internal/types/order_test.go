package types

import (
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

type OrderTestSuite struct {
	suite.Suite
}

func TestOrderSuite(t *testing.T) {
	suite.Run(t, new(OrderTestSuite))
}

func (suite *OrderTestSuite) TestMarketOrderLifecycle() {
	order := Order{
		ID:        "o1",
		Side:      OrderSideEntry,
		Type:      OrderTypeMarket,
		Quantity:  decimal.NewFromInt(10),
		Status:    OrderStatusPendingRequest,
		CreatedAt: time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC),
	}

	suite.NoError(order.TransitionTo(OrderStatusSubmitted))
	suite.NoError(order.Fill(decimal.NewFromInt(100), decimal.NewFromInt(1), order.CreatedAt))
	suite.Equal(OrderStatusFilled, order.Status)
	suite.True(order.IsTerminal())
}

func (suite *OrderTestSuite) TestStopLimitLifecycle() {
	order := Order{
		ID:       "o2",
		Side:     OrderSideExit,
		Type:     OrderTypeStopLimit,
		Quantity: decimal.NewFromInt(5),
		Status:   OrderStatusSubmitted,
	}

	suite.NoError(order.TransitionTo(OrderStatusOpening))
	suite.NoError(order.TransitionTo(OrderStatusTriggered))
	suite.NoError(order.TransitionTo(OrderStatusFilled))
}

func (suite *OrderTestSuite) TestIllegalTransitions() {
	tests := []struct {
		name string
		from OrderStatus
		to   OrderStatus
	}{
		{name: "pending request cannot fill directly", from: OrderStatusPendingRequest, to: OrderStatusFilled},
		{name: "filled is terminal", from: OrderStatusFilled, to: OrderStatusCanceled},
		{name: "rejected is terminal", from: OrderStatusRejected, to: OrderStatusSubmitted},
		{name: "submitted cannot trigger without opening", from: OrderStatusSubmitted, to: OrderStatusTriggered},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			order := Order{ID: "o", Status: tc.from}
			err := order.TransitionTo(tc.to)
			suite.Error(err)
			suite.True(errors.HasCode(err, errors.ErrCodeInvalidTransition))
			suite.Equal(tc.from, order.Status)
		})
	}
}

func (suite *OrderTestSuite) TestRejectKeepsReason() {
	order := Order{ID: "o3", Status: OrderStatusPendingRequest}
	suite.NoError(order.Reject("quantity must be greater than zero"))
	suite.Equal(OrderStatusRejected, order.Status)
	suite.Equal("quantity must be greater than zero", order.RejectReason)
}

func (suite *OrderTestSuite) TestOrderRequestValidate() {
	price := optional.Some(decimal.NewFromInt(100))
	stop := optional.Some(decimal.NewFromInt(90))

	tests := []struct {
		name    string
		request OrderRequest
		wantErr bool
	}{
		{
			name:    "market ok",
			request: OrderRequest{Side: OrderSideEntry, Type: OrderTypeMarket, Quantity: decimal.NewFromInt(1)},
		},
		{
			name:    "limit requires price",
			request: OrderRequest{Side: OrderSideEntry, Type: OrderTypeLimit, Quantity: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "limit with price ok",
			request: OrderRequest{Side: OrderSideExit, Type: OrderTypeLimit, Quantity: decimal.NewFromInt(1), Price: price},
		},
		{
			name:    "stop market requires stop price",
			request: OrderRequest{Side: OrderSideExit, Type: OrderTypeStopMarket, Quantity: decimal.NewFromInt(1)},
			wantErr: true,
		},
		{
			name:    "stop limit requires both prices",
			request: OrderRequest{Side: OrderSideExit, Type: OrderTypeStopLimit, Quantity: decimal.NewFromInt(1), Price: price},
			wantErr: true,
		},
		{
			name:    "stop limit ok",
			request: OrderRequest{Side: OrderSideExit, Type: OrderTypeStopLimit, Quantity: decimal.NewFromInt(1), Price: price, StopPrice: stop},
		},
		{
			name:    "zero quantity rejected",
			request: OrderRequest{Side: OrderSideEntry, Type: OrderTypeMarket, Quantity: decimal.Zero},
			wantErr: true,
		},
		{
			name:    "unknown side rejected",
			request: OrderRequest{Side: "BOTH", Type: OrderTypeMarket, Quantity: decimal.NewFromInt(1)},
			wantErr: true,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			err := tc.request.Validate()
			if tc.wantErr {
				suite.Error(err)
				suite.True(errors.HasCode(err, errors.ErrCodeInvalidOrderRequest))
			} else {
				suite.NoError(err)
			}
		})
	}
}
