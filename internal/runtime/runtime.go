package runtime

import (
	"context"
	"time"

	"github.com/tradeforge-lab/tradeforge/internal/types"
)

// Iteration is the read-only view handed to one strategy iteration: the
// kline being processed, a bounded window of recent klines, and snapshots
// of the order/trade/simulation state.
type Iteration struct {
	Kline         types.Kline           `json:"kline"`
	Window        []types.Kline         `json:"window"`
	OpenOrders    []types.Order         `json:"open_orders"`
	OpeningTrades []types.OpeningTrade  `json:"opening_trades"`
	State         types.SimulationState `json:"state"`
}

// Bridge executes one iteration of user strategy code. It is a capability
// boundary: the code sees only the bound views and communicates back solely
// through the returned order requests. Each iteration is bounded by a
// wall-clock budget; exceeding it fails the iteration, which is fatal to
// the whole backtest.
type Bridge interface {
	// RunIteration runs the strategy against the iteration view and returns
	// the requested order actions.
	RunIteration(ctx context.Context, iteration Iteration) ([]types.OrderRequest, error)
	// Close releases the underlying execution engine.
	Close(ctx context.Context) error
}

// Config carries the bridge construction parameters.
type Config struct {
	Language        types.StrategyLanguage
	Source          []byte
	IterationBudget time.Duration
}
