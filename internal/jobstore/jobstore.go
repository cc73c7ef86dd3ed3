// Package jobstore persists strategies and backtest executions in a
// SQLite database shared by the scheduler, the worker processes, and the
// supervisor. WAL mode lets the worker and the progress ticker write
// while the scheduler reads.
package jobstore

import (
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

type Store struct {
	db *gorm.DB
}

// NewStore opens (and migrates) the job database at the given path.
func NewStore(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("database path cannot be empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	// mattn/go-sqlite3 connection parameters: WAL so the worker process
	// and the scheduler can write concurrently, busy_timeout so a briefly
	// held write lock retries instead of failing.
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_journal_mode=WAL", path)

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	return newStore(db)
}

func newStore(db *gorm.DB) (*Store, error) {
	if err := db.AutoMigrate(&StrategyModel{}, &ExecutionModel{}); err != nil {
		return nil, err
	}

	if sqlDB, err := db.DB(); err == nil {
		sqlDB.SetMaxOpenConns(2)
		sqlDB.SetMaxIdleConns(2)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}

	return sqlDB.Close()
}

// SaveStrategy inserts or replaces a strategy program.
func (s *Store) SaveStrategy(strategy types.Strategy) error {
	model, err := strategyToModel(strategy)
	if err != nil {
		return err
	}

	return s.db.Save(&model).Error
}

// GetStrategy loads a strategy by id.
func (s *Store) GetStrategy(id string) (types.Strategy, error) {
	var model StrategyModel

	err := s.db.First(&model, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return types.Strategy{}, errors.Newf(errors.ErrCodeStrategyNotFound, "no strategy with id %s", id)
	}

	if err != nil {
		return types.Strategy{}, err
	}

	return strategyFromModel(model)
}

// CountActiveExecutions returns the number of non-terminal (PENDING or
// RUNNING) executions for a strategy. This is the admission-control read.
func (s *Store) CountActiveExecutions(strategyID string) (int64, error) {
	var count int64

	err := s.db.Model(&ExecutionModel{}).
		Where("strategy_id = ? AND status IN ?", strategyID,
			[]string{string(types.JobStatusPending), string(types.JobStatusRunning)}).
		Count(&count).Error

	return count, err
}

// CreateExecution creates a PENDING job record for the strategy and
// returns it. The partial unique index on active executions makes this
// the race-free admission point: two concurrent creates for the same
// strategy cannot both succeed, regardless of what the count read saw.
func (s *Store) CreateExecution(strategyID string, now time.Time) (types.BacktestJob, error) {
	model := ExecutionModel{
		ID:              uuid.New().String(),
		StrategyID:      strategyID,
		Status:          string(types.JobStatusPending),
		LogsJSON:        []byte("[]"),
		CreatedAtMillis: now.UnixMilli(),
		UpdatedAtMillis: now.UnixMilli(),
	}

	err := s.db.Create(&model).Error
	if stderrors.Is(err, gorm.ErrDuplicatedKey) {
		return types.BacktestJob{}, errors.Newf(errors.ErrCodeExceedConcurrencyLimit,
			"strategy %s already has an outstanding execution", strategyID)
	}

	if err != nil {
		return types.BacktestJob{}, err
	}

	return jobFromModel(model)
}

// GetExecution loads a job by id.
func (s *Store) GetExecution(id string) (types.BacktestJob, error) {
	model, err := s.findExecution(id)
	if err != nil {
		return types.BacktestJob{}, err
	}

	return jobFromModel(model)
}

// MarkRunning transitions a PENDING execution to RUNNING and stamps its
// run time. The scheduler calls this at dispatch, before the worker
// process starts.
func (s *Store) MarkRunning(id string, now time.Time) error {
	millis := now.UnixMilli()

	result := s.db.Model(&ExecutionModel{}).
		Where("id = ? AND status = ?", id, string(types.JobStatusPending)).
		Updates(map[string]any{
			"status":      string(types.JobStatusRunning),
			"last_run_at": millis,
			"updated_at":  millis,
		})
	if result.Error != nil {
		return result.Error
	}

	if result.RowsAffected == 0 {
		return errors.Newf(errors.ErrCodeJobNotRunning, "execution %s is not PENDING", id)
	}

	return nil
}

// ClaimExecution is the worker startup consistency check: the job must
// exist and already be RUNNING (set by the scheduler at dispatch).
func (s *Store) ClaimExecution(id string) (types.BacktestJob, error) {
	model, err := s.findExecution(id)
	if err != nil {
		return types.BacktestJob{}, err
	}

	if model.Status != string(types.JobStatusRunning) {
		return types.BacktestJob{}, errors.Newf(errors.ErrCodeJobNotRunning,
			"execution %s has status %s, expected RUNNING", id, model.Status)
	}

	return jobFromModel(model)
}

// UpdateProgress persists the progress percentage and the log snapshot.
// Terminal records are left untouched.
func (s *Store) UpdateProgress(id string, progress float64, logs []string, now time.Time) error {
	logsJSON, err := encodeLogs(logs)
	if err != nil {
		return err
	}

	return s.db.Model(&ExecutionModel{}).
		Where("id = ? AND status = ?", id, string(types.JobStatusRunning)).
		Updates(map[string]any{
			"progress":   progress,
			"logs_json":  logsJSON,
			"updated_at": now.UnixMilli(),
		}).Error
}

// FinishExecution writes the terminal status, final logs, optional result
// snapshot, and the finish timestamp. A record that already reached a
// terminal status is never overwritten; the call is a no-op then, so the
// supervisor's backstop write cannot clobber the worker's own terminal
// write.
func (s *Store) FinishExecution(id string, status types.JobStatus, logs []string, result optional.Option[types.BacktestResult], now time.Time) error {
	if !status.IsTerminal() {
		return errors.Newf(errors.ErrCodeJobAlreadyDone, "status %s is not terminal", status)
	}

	logsJSON, err := encodeLogs(logs)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"status":           string(status),
		"logs_json":        logsJSON,
		"last_finished_at": now.UnixMilli(),
		"updated_at":       now.UnixMilli(),
	}

	if result.IsSome() {
		resultJSON, err := encodeResult(result.Unwrap())
		if err != nil {
			return err
		}

		updates["result_json"] = resultJSON
	}

	return s.db.Model(&ExecutionModel{}).
		Where("id = ? AND status IN ?", id,
			[]string{string(types.JobStatusPending), string(types.JobStatusRunning)}).
		Updates(updates).Error
}

func (s *Store) findExecution(id string) (ExecutionModel, error) {
	var model ExecutionModel

	err := s.db.First(&model, "id = ?", id).Error
	if stderrors.Is(err, gorm.ErrRecordNotFound) {
		return ExecutionModel{}, errors.Newf(errors.ErrCodeJobNotFound, "no execution with id %s", id)
	}

	if err != nil {
		return ExecutionModel{}, err
	}

	return model, nil
}

func millisToTime(millis int64) time.Time {
	return time.UnixMilli(millis).UTC()
}
