// Package worker is the child-process side of the orchestration protocol:
// it claims its job record, runs the backtest, and converts every outcome
// it can handle into a terminal job status plus an exit code of 0. Only a
// failed startup consistency check escapes as a non-zero exit, which the
// supervisor converts into FAILED.
package worker

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-lab/tradeforge/internal/jobstore"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"go.uber.org/zap"
)

// DefaultProgressInterval is how often the progress ticker persists the
// percentage and log snapshot while the simulation runs.
const DefaultProgressInterval = 5 * time.Second

// Backtest is one runnable simulation. Progress is read concurrently by
// the ticker while Run executes.
type Backtest interface {
	Run(ctx context.Context) (*types.BacktestResult, error)
	Progress() float64
	Close(ctx context.Context) error
}

// Builder assembles a Backtest for the claimed strategy. The log buffer
// is shared so the simulation can contribute lines to the job record.
type Builder func(ctx context.Context, strategy types.Strategy, logs *LogBuffer) (Backtest, error)

type Worker struct {
	store            *jobstore.Store
	build            Builder
	log              *logger.Logger
	logs             *LogBuffer
	progressInterval time.Duration
	now              func() time.Time
}

func NewWorker(store *jobstore.Store, build Builder, log *logger.Logger) *Worker {
	return &Worker{
		store:            store,
		build:            build,
		log:              log,
		logs:             NewLogBuffer(),
		progressInterval: DefaultProgressInterval,
		now:              time.Now,
	}
}

// Run executes the backtest for the given execution id. A non-nil return
// means the worker either could not claim its job record or could not
// persist a terminal status; the caller must exit non-zero so the
// supervisor backstop fires. Every other outcome, including panics,
// signals, and simulation failures, is persisted as a terminal status
// here and returns nil. Exit code 0 therefore always means a terminal
// status was written.
func (w *Worker) Run(ctx context.Context, executionID string) (err error) {
	job, err := w.store.ClaimExecution(executionID)
	if err != nil {
		// Startup consistency check: a missing or non-RUNNING record means
		// scheduler and worker disagree about this execution. Not retryable.
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Signal handlers are installed before any simulation work. A
	// termination signal is a graceful forced stop (TIMEOUT); an interrupt
	// is an operator cancellation (INTERRUPTED). Both cancel the run
	// context, which the engine honors at the next kline boundary.
	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(signals)

	signalStatus := make(chan types.JobStatus, 1)
	go func() {
		sig, ok := <-signals
		if !ok {
			return
		}

		status := types.JobStatusTimeout
		if sig == syscall.SIGINT {
			status = types.JobStatusInterrupted
		}

		w.logs.Appendf("received %s, stopping at the next iteration boundary", sig)
		signalStatus <- status
		cancel()
	}()

	defer func() {
		if r := recover(); r != nil {
			w.logs.Appendf("worker panic: %v", r)
			err = w.finish(executionID, types.JobStatusFailed, optional.None[types.BacktestResult]())
		}
	}()

	strategy, err := w.store.GetStrategy(job.StrategyID)
	if err != nil {
		w.logs.Appendf("failed to load strategy %s: %v", job.StrategyID, err)

		return w.finish(executionID, types.JobStatusFailed, optional.None[types.BacktestResult]())
	}

	w.logs.Appendf("starting backtest for strategy %s (%s %s %s)",
		strategy.Name, strategy.Request.Exchange, strategy.Request.Symbol, strategy.Request.Timeframe)

	backtest, err := w.build(runCtx, strategy, w.logs)
	if err != nil {
		w.logs.Appendf("failed to build backtest: %v", err)

		return w.finish(executionID, types.JobStatusFailed, optional.None[types.BacktestResult]())
	}
	defer backtest.Close(context.Background())

	stopTicker := w.startProgressTicker(runCtx, executionID, backtest)
	result, runErr := backtest.Run(runCtx)
	stopTicker()

	if runErr != nil {
		if runCtx.Err() != nil {
			// The run stopped because a signal canceled it; persist the
			// status the handler chose.
			status := types.JobStatusTimeout
			select {
			case status = <-signalStatus:
			default:
			}

			return w.finish(executionID, status, optional.None[types.BacktestResult]())
		}

		w.logs.Appendf("backtest failed: %v", runErr)

		return w.finish(executionID, types.JobStatusFailed, optional.None[types.BacktestResult]())
	}

	w.logs.Appendf("backtest finished: %d orders, %d closed trades",
		len(result.Orders), len(result.ClosedTrades))

	return w.finish(executionID, types.JobStatusFinished, optional.Some(*result))
}

// startProgressTicker persists {percentage, logs-so-far} periodically
// while the simulation runs. Persistence failures are logged and ignored;
// progress reporting is best-effort.
func (w *Worker) startProgressTicker(ctx context.Context, executionID string, backtest Backtest) func() {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)

		ticker := time.NewTicker(w.progressInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				err := w.store.UpdateProgress(executionID, backtest.Progress(), w.logs.Snapshot(), w.now())
				if err != nil {
					w.log.Warn("failed to persist progress",
						zap.String("execution_id", executionID),
						zap.Error(err),
					)
				}
			case <-ctx.Done():
				return
			case <-done:
				return
			}
		}
	}()

	return func() {
		close(done)
		<-stopped
	}
}

// finish flushes the log buffer and writes the terminal status. This is
// the single persistence path all shutdown triggers share. A failed write
// is returned to the caller: the worker must then exit non-zero, because
// exiting 0 without a terminal status on record would strand the job in
// RUNNING with nothing left to finish it.
func (w *Worker) finish(executionID string, status types.JobStatus, result optional.Option[types.BacktestResult]) error {
	err := w.store.FinishExecution(executionID, status, w.logs.Snapshot(), result, w.now())
	if err != nil {
		w.log.Error("failed to persist terminal status",
			zap.String("execution_id", executionID),
			zap.String("status", string(status)),
			zap.Error(err),
		)

		return err
	}

	w.log.Info("execution finished",
		zap.String("execution_id", executionID),
		zap.String("status", string(status)),
	)

	return nil
}

// SetProgressInterval overrides the progress persistence interval.
func (w *Worker) SetProgressInterval(interval time.Duration) {
	w.progressInterval = interval
}
