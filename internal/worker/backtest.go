package worker

import (
	"context"
	"path/filepath"
	"time"

	"github.com/tradeforge-lab/tradeforge/internal/datasource"
	"github.com/tradeforge-lab/tradeforge/internal/engine"
	"github.com/tradeforge-lab/tradeforge/internal/engine/ledger"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/runtime"
	"github.com/tradeforge-lab/tradeforge/internal/runtime/wasm"
	"github.com/tradeforge-lab/tradeforge/internal/types"
)

// BacktestConfig carries the external endpoints and budgets the
// production backtest assembly needs.
type BacktestConfig struct {
	MonthlyArchiveBase string
	DailyArchiveBase   string

	// IterationBudget bounds one strategy iteration; zero uses the
	// bridge default.
	IterationBudget time.Duration

	// LedgerExportDir, when set, receives a Parquet export of the order
	// and trade ledger per execution.
	LedgerExportDir string
}

// NewBacktestBuilder wires the production stack: the archive/live data
// cascade, the WebAssembly strategy bridge, and the matching engine with
// an optional DuckDB ledger.
func NewBacktestBuilder(config BacktestConfig, log *logger.Logger) Builder {
	return func(ctx context.Context, strategy types.Strategy, logs *LogBuffer) (Backtest, error) {
		request := strategy.Request

		bridge, err := wasm.NewBridge(ctx, runtime.Config{
			Language:        strategy.Language,
			Source:          strategy.Source,
			IterationBudget: config.IterationBudget,
		})
		if err != nil {
			return nil, err
		}

		archive := datasource.NewArchiveClient(log, request.Exchange,
			config.MonthlyArchiveBase, config.DailyArchiveBase)
		cascade := datasource.NewCascade(log, archive, datasource.NewBinanceSource(request.Exchange))

		run := &backtestRun{
			cascade:  cascade,
			bridge:   bridge,
			strategy: strategy,
			logs:     logs,
		}

		var recorder engine.Recorder

		if config.LedgerExportDir != "" {
			run.ledger, err = ledger.NewLedger(log)
			if err != nil {
				bridge.Close(ctx)

				return nil, err
			}

			run.exportDir = filepath.Join(config.LedgerExportDir, strategy.ID)
			recorder = run.ledger
		}

		run.eng = engine.NewEngine(engine.Config{
			Bridge:      bridge,
			State:       types.NewSimulationState(&request),
			MaxLookback: request.MaxLookback,
			Recorder:    recorder,
			Logger:      log,
		})

		return run, nil
	}
}

// backtestRun is one assembled simulation.
type backtestRun struct {
	cascade  *datasource.Cascade
	bridge   runtime.Bridge
	eng      *engine.Engine
	strategy types.Strategy
	logs     *LogBuffer

	ledger    *ledger.Ledger
	exportDir string
}

// Run fetches the kline range through the cascade and replays it through
// the engine.
func (r *backtestRun) Run(ctx context.Context) (*types.BacktestResult, error) {
	request := r.strategy.Request

	klines, err := r.cascade.GetKlines(ctx, request.Symbol, request.Timeframe, request.Range)
	if err != nil {
		return nil, err
	}

	r.logs.Appendf("retrieved %d klines for %s %s", len(klines), request.Symbol, request.Timeframe)

	result, err := r.eng.Run(ctx, klines)
	if err != nil {
		return nil, err
	}

	if r.ledger != nil {
		if err := r.ledger.Export(r.exportDir); err != nil {
			return nil, err
		}

		r.logs.Appendf("exported ledger to %s", r.exportDir)
	}

	return result, nil
}

// Progress reads the engine cursor.
func (r *backtestRun) Progress() float64 {
	return r.eng.Cursor().Progress(r.strategy.Request.Range)
}

// Close releases the strategy sandbox and the ledger database.
func (r *backtestRun) Close(ctx context.Context) error {
	if r.ledger != nil {
		if err := r.ledger.Close(); err != nil {
			return err
		}
	}

	return r.bridge.Close(ctx)
}
