// Package orchestrator admits backtest requests and supervises the worker
// processes that execute them. Admission allows at most one outstanding
// execution per strategy; supervision guarantees every execution reaches
// a terminal status even if its worker dies without writing one.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-lab/tradeforge/internal/jobstore"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"go.uber.org/zap"
)

// ProcessRunner starts a worker process for one execution and blocks
// until it exits. A nil return means exit code 0; any error means the
// worker did not exit cleanly.
type ProcessRunner interface {
	Run(ctx context.Context, executionID string) error
}

type Orchestrator struct {
	store  *jobstore.Store
	runner ProcessRunner
	log    *logger.Logger
	now    func() time.Time

	wg sync.WaitGroup
}

func NewOrchestrator(store *jobstore.Store, runner ProcessRunner, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		store:  store,
		runner: runner,
		log:    log,
		now:    time.Now,
	}
}

// Schedule admits one backtest for the strategy and dispatches a
// supervised worker for it. At most one PENDING or RUNNING execution may
// exist per strategy; a second request fails with a concurrency-limit
// error and changes nothing.
func (o *Orchestrator) Schedule(ctx context.Context, strategyID string) (types.BacktestJob, error) {
	if _, err := o.store.GetStrategy(strategyID); err != nil {
		return types.BacktestJob{}, err
	}

	active, err := o.store.CountActiveExecutions(strategyID)
	if err != nil {
		return types.BacktestJob{}, err
	}

	if active > 0 {
		return types.BacktestJob{}, errors.Newf(errors.ErrCodeExceedConcurrencyLimit,
			"strategy %s already has an outstanding execution", strategyID)
	}

	job, err := o.store.CreateExecution(strategyID, o.now())
	if err != nil {
		return types.BacktestJob{}, err
	}

	// The job is marked RUNNING before the worker starts; the worker's
	// startup check requires it.
	if err := o.store.MarkRunning(job.ID, o.now()); err != nil {
		return types.BacktestJob{}, err
	}

	job.Status = types.JobStatusRunning

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		o.supervise(ctx, job.ID)
	}()

	o.log.Info("scheduled backtest",
		zap.String("execution_id", job.ID),
		zap.String("strategy_id", strategyID),
	)

	return job, nil
}

// supervise waits for the worker process to exit. Exit code 0 is
// trusted: whatever terminal status the worker wrote stands. Any other
// exit means the worker cannot be assumed to have written one, so the
// execution is force-failed. The finish call is a no-op when the worker
// did write a terminal status, so this backstop never overwrites it.
func (o *Orchestrator) supervise(ctx context.Context, executionID string) {
	runErr := o.runner.Run(ctx, executionID)
	if runErr == nil {
		return
	}

	o.log.Warn("worker exited abnormally, force-failing execution",
		zap.String("execution_id", executionID),
		zap.Error(runErr),
	)

	logs := o.executionLogs(executionID)
	logs = append(logs, fmt.Sprintf("worker exited abnormally: %v", runErr))

	err := o.store.FinishExecution(executionID, types.JobStatusFailed,
		logs, optional.None[types.BacktestResult](), o.now())
	if err != nil {
		o.log.Error("failed to write supervisor backstop status",
			zap.String("execution_id", executionID),
			zap.Error(err),
		)
	}
}

// executionLogs fetches the logs persisted so far, so the backstop write
// appends to them instead of discarding them.
func (o *Orchestrator) executionLogs(executionID string) []string {
	job, err := o.store.GetExecution(executionID)
	if err != nil {
		return nil
	}

	return job.Logs
}

// Wait blocks until all supervised workers have exited.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}
