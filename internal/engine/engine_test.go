package engine

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/runtime"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// scriptedBridge returns a fixed set of order requests per iteration
// index and records the views it was handed.
type scriptedBridge struct {
	requests   map[int][]types.OrderRequest
	iterations []runtime.Iteration
	failAt     int
	failWith   error
}

func (b *scriptedBridge) RunIteration(_ context.Context, iteration runtime.Iteration) ([]types.OrderRequest, error) {
	index := len(b.iterations)
	b.iterations = append(b.iterations, iteration)

	if b.failWith != nil && index == b.failAt {
		return nil, b.failWith
	}

	return b.requests[index], nil
}

func (b *scriptedBridge) Close(context.Context) error {
	return nil
}

type EngineTestSuite struct {
	suite.Suite
	bridge *scriptedBridge
	state  *types.SimulationState
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineTestSuite))
}

func (s *EngineTestSuite) SetupTest() {
	s.bridge = &scriptedBridge{requests: map[int][]types.OrderRequest{}, failAt: -1}
	s.state = &types.SimulationState{
		CapitalCurrency: "USDT",
		AssetCurrency:   "BTC",
		InitialCapital:  decimal.NewFromInt(1000),
		TakerFeeRate:    decimal.Zero,
		MakerFeeRate:    decimal.Zero,
		FeesPaid:        map[string]decimal.Decimal{},
	}
}

func (s *EngineTestSuite) newEngine(maxLookback int) *Engine {
	return NewEngine(Config{
		Bridge:      s.bridge,
		State:       s.state,
		MaxLookback: maxLookback,
		Logger:      logger.NewNopLogger(),
	})
}

// klines builds a series of one-minute candles; each entry is
// {low, high, close} and the open is the previous close.
func (s *EngineTestSuite) klines(bars ...[3]int64) []types.Kline {
	base := time.Date(2023, 3, 1, 0, 0, 0, 0, time.UTC)
	result := make([]types.Kline, 0, len(bars))

	open := decimal.NewFromInt(bars[0][2])
	for i, bar := range bars {
		result = append(result, types.Kline{
			Exchange:  "binance",
			Symbol:    "BTCUSDT",
			Timeframe: "1m",
			OpenTime:  base.Add(time.Duration(i) * time.Minute),
			CloseTime: base.Add(time.Duration(i+1) * time.Minute),
			Open:      open,
			High:      decimal.NewFromInt(bar[1]),
			Low:       decimal.NewFromInt(bar[0]),
			Close:     decimal.NewFromInt(bar[2]),
			Volume:    decimal.NewFromInt(1),
		})
		open = decimal.NewFromInt(bar[2])
	}

	return result
}

func marketRequest(side types.OrderSide, quantity int64) types.OrderRequest {
	return types.OrderRequest{
		Side:     side,
		Type:     types.OrderTypeMarket,
		Quantity: decimal.NewFromInt(quantity),
	}
}

func (s *EngineTestSuite) TestEmptyRange() {
	_, err := s.newEngine(0).Run(context.Background(), nil)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeEmptyRange))
}

func (s *EngineTestSuite) TestMarketRoundTrip() {
	s.bridge.requests[0] = []types.OrderRequest{marketRequest(types.OrderSideEntry, 10)}
	s.bridge.requests[2] = []types.OrderRequest{marketRequest(types.OrderSideExit, 10)}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{100, 112, 110},
		[3]int64{110, 122, 120},
		[3]int64{118, 121, 119},
	))
	s.Require().NoError(err)

	s.Require().Len(result.ClosedTrades, 1)
	trade := result.ClosedTrades[0]
	s.True(trade.Quantity.Equal(decimal.NewFromInt(10)))
	s.True(trade.Entry.FillPrice.Equal(decimal.NewFromInt(100)))
	s.True(trade.Exit.FillPrice.Equal(decimal.NewFromInt(120)))
	s.True(trade.NetReturn.Equal(decimal.NewFromInt(200)), "10 * (120 - 100)")

	report := result.Report
	s.True(report.NetProfit.Equal(decimal.NewFromInt(200)))
	s.True(report.NetReturn.Equal(decimal.NewFromInt(200)))
	s.True(report.ReturnOnInvestment.Equal(decimal.RequireFromString("0.2")))
	s.Equal(1, report.WinningTrades)
	s.Equal(0, report.LosingTrades)
}

func (s *EngineTestSuite) TestEntryFeeReducesTradeQuantity() {
	s.state.TakerFeeRate = decimal.RequireFromString("0.2")
	s.bridge.requests[0] = []types.OrderRequest{marketRequest(types.OrderSideEntry, 10)}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
	))
	s.Require().NoError(err)

	// Entry fee 10 * 0.2 = 2 is charged in the asset currency and the
	// opened trade holds the net quantity 8; the force-close exits those 8.
	s.True(s.state.FeesPaid["BTC"].Equal(decimal.NewFromInt(2)))
	s.Require().Len(result.ClosedTrades, 1)
	s.True(result.ClosedTrades[0].Quantity.Equal(decimal.NewFromInt(8)))
}

func (s *EngineTestSuite) TestForcedCloseAtFinalKline() {
	s.bridge.requests[0] = []types.OrderRequest{marketRequest(types.OrderSideEntry, 4)}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{100, 131, 130},
	))
	s.Require().NoError(err)

	s.Require().Len(result.ClosedTrades, 1)
	trade := result.ClosedTrades[0]
	s.True(trade.Exit.FillPrice.Equal(decimal.NewFromInt(130)), "closed at the final kline's price")
	s.True(trade.NetReturn.Equal(decimal.NewFromInt(120)), "4 * (130 - 100)")

	// The synthetic exit shows up in the order ledger as a filled order.
	var exits int
	for _, order := range result.Orders {
		if order.Side == types.OrderSideExit && order.Status == types.OrderStatusFilled {
			exits++
		}
	}
	s.Equal(1, exits)
}

func (s *EngineTestSuite) TestLimitOrderFillsOnPriceTouch() {
	s.bridge.requests[0] = []types.OrderRequest{{
		Side:     types.OrderSideEntry,
		Type:     types.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		Price:    optional.Some(decimal.NewFromInt(95)),
	}}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},  // limit 95 not touched
		[3]int64{97, 101, 100},  // still not touched
		[3]int64{94, 101, 100},  // low reaches 95
		[3]int64{100, 101, 100},
	))
	s.Require().NoError(err)

	s.Require().Len(result.ClosedTrades, 1)
	trade := result.ClosedTrades[0]
	s.True(trade.Entry.FillPrice.Equal(decimal.NewFromInt(95)), "filled at the limit price")
	s.Equal(time.Date(2023, 3, 1, 0, 3, 0, 0, time.UTC), trade.Entry.FilledAt)
}

func (s *EngineTestSuite) TestStopLimitTriggersThenFills() {
	s.bridge.requests[0] = []types.OrderRequest{{
		Side:      types.OrderSideEntry,
		Type:      types.OrderTypeStopLimit,
		Quantity:  decimal.NewFromInt(1),
		Price:     optional.Some(decimal.NewFromInt(112)),
		StopPrice: optional.Some(decimal.NewFromInt(105)),
	}}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},  // neither leg touched
		[3]int64{100, 106, 105}, // stop 105 fires, limit 112 not touched
		[3]int64{105, 113, 110}, // limit 112 inside [105, 113]
		[3]int64{110, 111, 110},
	))
	s.Require().NoError(err)

	s.Require().Len(result.ClosedTrades, 1)
	trade := result.ClosedTrades[0]
	s.True(trade.Entry.FillPrice.Equal(decimal.NewFromInt(112)))
	s.Equal(time.Date(2023, 3, 1, 0, 3, 0, 0, time.UTC), trade.Entry.FilledAt)
}

func (s *EngineTestSuite) TestInfeasibleExitIsRejectedNotFatal() {
	s.bridge.requests[0] = []types.OrderRequest{marketRequest(types.OrderSideEntry, 2)}
	s.bridge.requests[1] = []types.OrderRequest{marketRequest(types.OrderSideExit, 5)}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{100, 111, 110},
		[3]int64{110, 121, 120},
	))
	s.Require().NoError(err, "an infeasible exit is a strategy defect, not a run failure")

	var rejected *types.Order
	for i := range result.Orders {
		if result.Orders[i].Status == types.OrderStatusRejected {
			rejected = &result.Orders[i]
		}
	}
	s.Require().NotNil(rejected)
	s.Contains(rejected.RejectReason, "exceeds open position")

	// The entry position survives and is force-closed at the end.
	s.Require().Len(result.ClosedTrades, 1)
	s.True(result.ClosedTrades[0].Quantity.Equal(decimal.NewFromInt(2)))
}

func (s *EngineTestSuite) TestMalformedRequestIsRejected() {
	s.bridge.requests[0] = []types.OrderRequest{{
		Side:     types.OrderSideEntry,
		Type:     types.OrderTypeLimit,
		Quantity: decimal.NewFromInt(1),
		// missing limit price
	}}

	result, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
	))
	s.Require().NoError(err)

	s.Require().Len(result.Orders, 1)
	s.Equal(types.OrderStatusRejected, result.Orders[0].Status)
	s.Empty(result.ClosedTrades)
}

func (s *EngineTestSuite) TestBridgeErrorIsFatal() {
	s.bridge.failAt = 1
	s.bridge.failWith = errors.New(errors.ErrCodeIterationTimeout, "budget exceeded")

	_, err := s.newEngine(0).Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
	))
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeIterationTimeout))
	s.Len(s.bridge.iterations, 2, "no iteration runs after the failure")
}

func (s *EngineTestSuite) TestCancellationAtIterationBoundary() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.newEngine(0).Run(ctx, s.klines([3]int64{99, 101, 100}))
	s.Require().ErrorIs(err, context.Canceled)
	s.Empty(s.bridge.iterations)
}

func (s *EngineTestSuite) TestLookbackWindow() {
	engine := s.newEngine(2)

	_, err := engine.Run(context.Background(), s.klines(
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
	))
	s.Require().NoError(err)

	s.Require().Len(s.bridge.iterations, 4)
	s.Len(s.bridge.iterations[0].Window, 0)
	s.Len(s.bridge.iterations[1].Window, 1)
	s.Len(s.bridge.iterations[2].Window, 2)
	s.Len(s.bridge.iterations[3].Window, 2, "window capped at the lookback limit")
}

func (s *EngineTestSuite) TestCursorProgress() {
	engine := s.newEngine(0)
	klines := s.klines(
		[3]int64{99, 101, 100},
		[3]int64{99, 101, 100},
	)

	rng := types.DateRange{
		Start: klines[0].OpenTime,
		End:   klines[1].CloseTime,
	}

	s.Equal(0.0, engine.Cursor().Progress(rng), "no progress before the loop starts")

	_, err := engine.Run(context.Background(), klines)
	s.Require().NoError(err)

	s.Equal(100.0, engine.Cursor().Progress(rng))
	s.Equal(klines[1].CloseTime, engine.Cursor().Load())
}
