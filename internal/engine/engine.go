// Package engine replays a kline sequence through a strategy bridge,
// advancing the order state machine kline by kline and maintaining the
// FIFO trade ledger and performance aggregates.
package engine

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/runtime"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"go.uber.org/zap"
)

// Recorder persists the order and trade ledger as the simulation emits
// terminal records. Implementations must tolerate being called once per
// fill in replay order.
type Recorder interface {
	RecordOrder(order types.Order) error
	RecordClosedTrade(trade types.ClosedTrade) error
}

// Config assembles an Engine.
type Config struct {
	Bridge runtime.Bridge
	State  *types.SimulationState

	// MaxLookback caps the historical window handed to each iteration;
	// zero means the strategy sees only the current kline.
	MaxLookback int

	// Recorder is optional; nil disables ledger persistence.
	Recorder Recorder

	Logger *logger.Logger
}

// Engine is the single-threaded matching and trade-lifecycle core. One
// Engine runs exactly one backtest; it is not reusable.
type Engine struct {
	bridge      runtime.Bridge
	state       *types.SimulationState
	maxLookback int
	recorder    Recorder
	log         *logger.Logger

	cursor Cursor

	orders        []types.Order
	openingTrades []types.OpeningTrade
	closedTrades  []types.ClosedTrade
}

func NewEngine(config Config) *Engine {
	return &Engine{
		bridge:      config.Bridge,
		state:       config.State,
		maxLookback: config.MaxLookback,
		recorder:    config.Recorder,
		log:         config.Logger,
	}
}

// Cursor exposes the processing-timestamp cursor for the progress ticker.
// The returned pointer is safe for concurrent reads while Run executes.
func (e *Engine) Cursor() *Cursor {
	return &e.cursor
}

// Run replays the klines in order through the strategy and returns the
// terminal result. Cancellation is cooperative: the context is checked at
// each kline boundary, never mid-iteration.
func (e *Engine) Run(ctx context.Context, klines []types.Kline) (*types.BacktestResult, error) {
	if len(klines) == 0 {
		return nil, errors.New(errors.ErrCodeEmptyRange, "no klines to replay")
	}

	start := time.Now()

	for i := range klines {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		if err := e.step(ctx, klines, i); err != nil {
			return nil, err
		}
	}

	if err := e.closeRemaining(&klines[len(klines)-1]); err != nil {
		return nil, err
	}

	if err := e.persistLedger(); err != nil {
		return nil, err
	}

	report := buildReport(e.orders, e.closedTrades, e.state, time.Since(start))

	return &types.BacktestResult{
		Orders:       e.orders,
		ClosedTrades: e.closedTrades,
		Report:       report,
	}, nil
}

// step runs one kline iteration: advance the cursor, ask the strategy for
// order requests, admit and evaluate orders, then fold the kline into the
// open trades' excursions.
func (e *Engine) step(ctx context.Context, klines []types.Kline, i int) error {
	k := &klines[i]
	e.cursor.Set(k.CloseTime)

	requests, err := e.bridge.RunIteration(ctx, runtime.Iteration{
		Kline:         *k,
		Window:        window(klines, i, e.maxLookback),
		OpenOrders:    e.activeOrders(),
		OpeningTrades: e.openingTrades,
		State:         *e.state,
	})
	if err != nil {
		return err
	}

	if err := e.admitRequests(requests, k); err != nil {
		return err
	}

	if err := e.evaluateOrders(k); err != nil {
		return err
	}

	for i := range e.openingTrades {
		trade := &e.openingTrades[i]
		trade.ObserveKline(k)
		e.state.ObserveExcursions(trade.MaxDrawdown, trade.MaxRunUp)
	}

	return nil
}

// closeRemaining force-closes any trades still open at the final kline so
// the ledger balances to a zero net open position before the report.
func (e *Engine) closeRemaining(last *types.Kline) error {
	total := decimal.Zero
	for _, trade := range e.openingTrades {
		total = total.Add(trade.Quantity)
	}

	if total.IsZero() {
		return nil
	}

	e.log.Info("force-closing open position at final kline",
		zap.String("quantity", total.String()),
		zap.Time("at", last.CloseTime),
	)

	order := types.Order{
		ID:        uuid.New().String(),
		Side:      types.OrderSideExit,
		Type:      types.OrderTypeMarket,
		Quantity:  total,
		Status:    types.OrderStatusPendingRequest,
		CreatedAt: last.CloseTime,
		Price:     optional.None[decimal.Decimal](),
		StopPrice: optional.None[decimal.Decimal](),
	}

	if err := order.TransitionTo(types.OrderStatusSubmitted); err != nil {
		return err
	}

	if err := e.applyFill(&order, last.Close, last); err != nil {
		return err
	}

	e.orders = append(e.orders, order)

	return nil
}

// activeOrders snapshots the non-terminal orders for the iteration view.
func (e *Engine) activeOrders() []types.Order {
	active := make([]types.Order, 0, len(e.orders))

	for _, order := range e.orders {
		if !order.IsTerminal() {
			active = append(active, order)
		}
	}

	return active
}

// persistLedger writes the full order and closed-trade ledger through the
// recorder, if one is configured.
func (e *Engine) persistLedger() error {
	if e.recorder == nil {
		return nil
	}

	for _, order := range e.orders {
		if err := e.recorder.RecordOrder(order); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record order", err)
		}
	}

	for _, trade := range e.closedTrades {
		if err := e.recorder.RecordClosedTrade(trade); err != nil {
			return errors.Wrap(errors.ErrCodeLedgerFailed, "failed to record closed trade", err)
		}
	}

	return nil
}

// window returns up to maxLookback klines preceding index i.
func window(klines []types.Kline, i, maxLookback int) []types.Kline {
	if maxLookback <= 0 {
		return nil
	}

	lo := i - maxLookback
	if lo < 0 {
		lo = 0
	}

	return klines[lo:i]
}
