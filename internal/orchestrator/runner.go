package orchestrator

import (
	"context"
	"os"
	"os/exec"

	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// ExecRunner runs each worker as a child process of the scheduler:
// `<binary> worker <execution-id>`. By default it re-executes the
// current binary.
type ExecRunner struct {
	// Binary is the worker executable; empty means os.Executable().
	Binary string

	// ExtraArgs are prepended before the worker subcommand, e.g. a
	// --config flag the child must share with the scheduler.
	ExtraArgs []string
}

// Run implements ProcessRunner.
func (r *ExecRunner) Run(ctx context.Context, executionID string) error {
	binary := r.Binary
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return errors.Wrap(errors.ErrCodeWorkerSpawnFailed, "failed to resolve worker binary", err)
		}

		binary = self
	}

	args := append(append([]string{}, r.ExtraArgs...), "worker", executionID)
	cmd := exec.CommandContext(ctx, binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return errors.Wrap(errors.ErrCodeWorkerSpawnFailed, "failed to start worker process", err)
	}

	return cmd.Wait()
}
