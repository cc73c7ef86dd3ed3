package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/tradeforge-lab/tradeforge/internal/config"
	"github.com/tradeforge-lab/tradeforge/internal/jobstore"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/orchestrator"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/internal/version"
	"github.com/tradeforge-lab/tradeforge/internal/worker"
	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v2"
)

func main() {
	cmd := &cli.Command{
		Name:    "tradeforge",
		Usage:   "Backtest orchestration for user-submitted trading strategies",
		Version: version.GetVersion(),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to the service configuration file",
			},
		},
		Commands: []*cli.Command{
			strategyAddCommand(),
			scheduleCommand(),
			workerCommand(),
			runCommand(),
			statusCommand(),
			schemaCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}

func loadConfig(cmd *cli.Command) (config.Config, error) {
	path := cmd.String("config")
	if path == "" {
		return config.Default(), nil
	}

	return config.Load(path)
}

// loadStrategy reads the strategy program and its backtest request from
// the given files.
func loadStrategy(name, sourcePath, requestPath string) (types.Strategy, error) {
	source, err := os.ReadFile(sourcePath)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to read strategy source: %w", err)
	}

	rawRequest, err := os.ReadFile(requestPath)
	if err != nil {
		return types.Strategy{}, fmt.Errorf("failed to read backtest request: %w", err)
	}

	var request types.BacktestRequest
	if err := yaml.Unmarshal(rawRequest, &request); err != nil {
		return types.Strategy{}, fmt.Errorf("failed to parse backtest request: %w", err)
	}

	if err := request.Validate(time.Now()); err != nil {
		return types.Strategy{}, err
	}

	return types.Strategy{
		ID:       uuid.New().String(),
		Name:     name,
		Language: request.Language,
		Source:   source,
		Request:  request,
	}, nil
}

func strategyAddCommand() *cli.Command {
	return &cli.Command{
		Name:  "strategy-add",
		Usage: "Store a strategy program and its backtest request",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "name", Aliases: []string{"n"}, Usage: "Strategy display name", Required: true},
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Path to the compiled strategy module", Required: true},
			&cli.StringFlag{Name: "request", Aliases: []string{"r"}, Usage: "Path to the backtest request YAML", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := jobstore.NewStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			strategy, err := loadStrategy(cmd.String("name"), cmd.String("source"), cmd.String("request"))
			if err != nil {
				return err
			}

			if err := store.SaveStrategy(strategy); err != nil {
				return err
			}

			fmt.Println(strategy.ID)

			return nil
		},
	}
}

func scheduleCommand() *cli.Command {
	return &cli.Command{
		Name:      "schedule",
		Usage:     "Schedule a backtest for a stored strategy and supervise it",
		ArgsUsage: "<strategy-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			strategyID := cmd.Args().Get(0)
			if strategyID == "" {
				return fmt.Errorf("strategy id argument is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log, err := logger.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := jobstore.NewStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			runner := &orchestrator.ExecRunner{}
			if path := cmd.String("config"); path != "" {
				runner.ExtraArgs = []string{"--config", path}
			}
			orch := orchestrator.NewOrchestrator(store, runner, log)

			job, err := orch.Schedule(ctx, strategyID)
			if err != nil {
				return err
			}

			fmt.Println(job.ID)
			orch.Wait()

			final, err := store.GetExecution(job.ID)
			if err != nil {
				return err
			}

			fmt.Println(final.Status)

			return nil
		},
	}
}

func workerCommand() *cli.Command {
	return &cli.Command{
		Name:      "worker",
		Usage:     "Run one backtest execution (spawned by the scheduler)",
		ArgsUsage: "<execution-id>",
		Hidden:    true,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			executionID := cmd.Args().Get(0)
			if executionID == "" {
				return fmt.Errorf("execution id argument is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log, err := logger.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			store, err := jobstore.NewStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			builder := worker.NewBacktestBuilder(worker.BacktestConfig{
				MonthlyArchiveBase: cfg.Archive.MonthlyBase,
				DailyArchiveBase:   cfg.Archive.DailyBase,
				IterationBudget:    cfg.IterationBudget,
				LedgerExportDir:    cfg.LedgerExportDir,
			}, log)

			w := worker.NewWorker(store, builder, log)
			if cfg.ProgressInterval > 0 {
				w.SetProgressInterval(cfg.ProgressInterval)
			}

			// A non-nil error here means the startup consistency check
			// failed; exiting non-zero lets the supervisor backstop fire.
			return w.Run(ctx, executionID)
		},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "Run a backtest locally without the job store",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "source", Aliases: []string{"s"}, Usage: "Path to the compiled strategy module", Required: true},
			&cli.StringFlag{Name: "request", Aliases: []string{"r"}, Usage: "Path to the backtest request YAML", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			log, err := logger.NewLogger()
			if err != nil {
				return err
			}
			defer log.Sync()

			strategy, err := loadStrategy("local", cmd.String("source"), cmd.String("request"))
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			builder := worker.NewBacktestBuilder(worker.BacktestConfig{
				MonthlyArchiveBase: cfg.Archive.MonthlyBase,
				DailyArchiveBase:   cfg.Archive.DailyBase,
				IterationBudget:    cfg.IterationBudget,
				LedgerExportDir:    cfg.LedgerExportDir,
			}, log)

			backtest, err := builder(ctx, strategy, worker.NewLogBuffer())
			if err != nil {
				return err
			}
			defer backtest.Close(context.Background())

			bar := progressbar.NewOptions(100,
				progressbar.OptionSetDescription("backtesting"),
				progressbar.OptionShowCount(),
			)

			done := make(chan struct{})
			go func() {
				ticker := time.NewTicker(200 * time.Millisecond)
				defer ticker.Stop()

				for {
					select {
					case <-ticker.C:
						_ = bar.Set(int(backtest.Progress()))
					case <-done:
						return
					}
				}
			}()

			result, err := backtest.Run(ctx)
			close(done)
			_ = bar.Finish()
			fmt.Println()

			if err != nil {
				return err
			}

			report, err := json.MarshalIndent(result.Report, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(report))

			return nil
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:      "status",
		Usage:     "Show the status of a backtest execution",
		ArgsUsage: "<execution-id>",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			executionID := cmd.Args().Get(0)
			if executionID == "" {
				return fmt.Errorf("execution id argument is required")
			}

			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			store, err := jobstore.NewStore(cfg.DatabasePath)
			if err != nil {
				return err
			}
			defer store.Close()

			job, err := store.GetExecution(executionID)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(job, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(out))

			return nil
		},
	}
}

func schemaCommand() *cli.Command {
	return &cli.Command{
		Name:  "schema",
		Usage: "Print the JSON schema of the service configuration",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			schema, err := config.GenerateSchemaJSON()
			if err != nil {
				return err
			}

			fmt.Println(schema)

			return nil
		},
	}
}
