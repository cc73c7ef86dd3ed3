package jobstore

import (
	"encoding/json"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"gorm.io/datatypes"
)

// StrategyModel is the persisted form of a strategy program.
type StrategyModel struct {
	ID          string         `gorm:"column:id;primaryKey"`
	Name        string         `gorm:"column:name"`
	Language    string         `gorm:"column:language"`
	Source      []byte         `gorm:"column:source;type:BLOB"`
	RequestJSON datatypes.JSON `gorm:"column:request_json;type:TEXT"`
}

func (StrategyModel) TableName() string { return "strategies" }

// ExecutionModel is the persisted form of a backtest job. Logs and the
// terminal result snapshot are stored as JSON text columns; timestamps
// are unix milliseconds with NULL meaning "never".
//
// The partial unique index on strategy_id enforces the one-outstanding-
// execution-per-strategy rule at the database, so concurrent schedulers
// cannot double-admit.
type ExecutionModel struct {
	ID         string `gorm:"column:id;primaryKey"`
	StrategyID string `gorm:"column:strategy_id;index;index:idx_executions_active,unique,where:status = 'PENDING' OR status = 'RUNNING'"`
	Status     string `gorm:"column:status;index"`

	LogsJSON   datatypes.JSON `gorm:"column:logs_json;type:TEXT"`
	Progress   float64        `gorm:"column:progress"`
	ResultJSON datatypes.JSON `gorm:"column:result_json;type:TEXT"`

	LastRunAtMillis      *int64 `gorm:"column:last_run_at"`
	LastFinishedAtMillis *int64 `gorm:"column:last_finished_at"`

	CreatedAtMillis int64 `gorm:"column:created_at"`
	UpdatedAtMillis int64 `gorm:"column:updated_at"`
}

func (ExecutionModel) TableName() string { return "executions" }

func strategyToModel(strategy types.Strategy) (StrategyModel, error) {
	request, err := json.Marshal(strategy.Request)
	if err != nil {
		return StrategyModel{}, errors.Wrap(errors.ErrCodeInvalidRequest, "failed to encode backtest request", err)
	}

	return StrategyModel{
		ID:          strategy.ID,
		Name:        strategy.Name,
		Language:    string(strategy.Language),
		Source:      strategy.Source,
		RequestJSON: request,
	}, nil
}

func strategyFromModel(model StrategyModel) (types.Strategy, error) {
	strategy := types.Strategy{
		ID:       model.ID,
		Name:     model.Name,
		Language: types.StrategyLanguage(model.Language),
		Source:   model.Source,
	}

	if len(model.RequestJSON) > 0 {
		if err := json.Unmarshal(model.RequestJSON, &strategy.Request); err != nil {
			return types.Strategy{}, errors.Wrap(errors.ErrCodeInvalidRequest, "failed to decode backtest request", err)
		}
	}

	return strategy, nil
}

func encodeLogs(logs []string) (datatypes.JSON, error) {
	if logs == nil {
		logs = []string{}
	}

	raw, err := json.Marshal(logs)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to encode job logs", err)
	}

	return raw, nil
}

func encodeResult(result types.BacktestResult) (datatypes.JSON, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeUnknown, "failed to encode job result", err)
	}

	return raw, nil
}

func jobFromModel(model ExecutionModel) (types.BacktestJob, error) {
	job := types.BacktestJob{
		ID:         model.ID,
		StrategyID: model.StrategyID,
		Status:     types.JobStatus(model.Status),
		Progress:   model.Progress,
	}

	if len(model.LogsJSON) > 0 {
		if err := json.Unmarshal(model.LogsJSON, &job.Logs); err != nil {
			return types.BacktestJob{}, errors.Wrap(errors.ErrCodeJobNotFound, "failed to decode job logs", err)
		}
	}

	if len(model.ResultJSON) > 0 {
		var result types.BacktestResult
		if err := json.Unmarshal(model.ResultJSON, &result); err != nil {
			return types.BacktestJob{}, errors.Wrap(errors.ErrCodeJobNotFound, "failed to decode job result", err)
		}

		job.Result = optional.Some(result)
	}

	if model.LastRunAtMillis != nil {
		job.LastRunAt = optional.Some(millisToTime(*model.LastRunAtMillis))
	}

	if model.LastFinishedAtMillis != nil {
		job.LastFinishedAt = optional.Some(millisToTime(*model.LastFinishedAtMillis))
	}

	return job, nil
}
