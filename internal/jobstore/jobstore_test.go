package jobstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

type JobStoreTestSuite struct {
	suite.Suite
	store *Store
	now   time.Time
}

func TestJobStoreSuite(t *testing.T) {
	suite.Run(t, new(JobStoreTestSuite))
}

func (s *JobStoreTestSuite) SetupTest() {
	store, err := NewStore(filepath.Join(s.T().TempDir(), "jobs.db"))
	s.Require().NoError(err)
	s.store = store
	s.now = time.Date(2023, 3, 1, 12, 0, 0, 0, time.UTC)
}

func (s *JobStoreTestSuite) TearDownTest() {
	s.Require().NoError(s.store.Close())
}

func (s *JobStoreTestSuite) strategy(id string) types.Strategy {
	return types.Strategy{
		ID:       id,
		Name:     "sma-cross",
		Language: types.StrategyLanguageWasm,
		Source:   []byte{0x00, 0x61, 0x73, 0x6d},
		Request: types.BacktestRequest{
			Symbol:          "BTCUSDT",
			Exchange:        "binance",
			Timeframe:       "1h",
			InitialCapital:  decimal.NewFromInt(1000),
			CapitalCurrency: "USDT",
			AssetCurrency:   "BTC",
			Language:        types.StrategyLanguageWasm,
		},
	}
}

func (s *JobStoreTestSuite) TestOpensInWALModeWithBusyTimeout() {
	var journalMode string
	s.Require().NoError(s.store.db.Raw("PRAGMA journal_mode").Scan(&journalMode).Error)
	s.Equal("wal", journalMode)

	var busyTimeout int
	s.Require().NoError(s.store.db.Raw("PRAGMA busy_timeout").Scan(&busyTimeout).Error)
	s.Equal(5000, busyTimeout)
}

func (s *JobStoreTestSuite) TestStrategyRoundTrip() {
	s.Require().NoError(s.store.SaveStrategy(s.strategy("st-1")))

	loaded, err := s.store.GetStrategy("st-1")
	s.Require().NoError(err)
	s.Equal("sma-cross", loaded.Name)
	s.Equal(types.StrategyLanguageWasm, loaded.Language)
	s.Equal("BTCUSDT", loaded.Request.Symbol)
	s.True(loaded.Request.InitialCapital.Equal(decimal.NewFromInt(1000)))
}

func (s *JobStoreTestSuite) TestGetStrategyNotFound() {
	_, err := s.store.GetStrategy("missing")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeStrategyNotFound))
}

func (s *JobStoreTestSuite) TestExecutionLifecycle() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)
	s.Equal(types.JobStatusPending, job.Status)

	count, err := s.store.CountActiveExecutions("st-1")
	s.Require().NoError(err)
	s.Equal(int64(1), count)

	s.Require().NoError(s.store.MarkRunning(job.ID, s.now))

	claimed, err := s.store.ClaimExecution(job.ID)
	s.Require().NoError(err)
	s.Equal(types.JobStatusRunning, claimed.Status)
	s.Require().True(claimed.LastRunAt.IsSome())
	s.True(claimed.LastRunAt.Unwrap().Equal(s.now))

	err = s.store.FinishExecution(job.ID, types.JobStatusFinished,
		[]string{"done"}, optional.Some(types.BacktestResult{}), s.now.Add(time.Minute))
	s.Require().NoError(err)

	finished, err := s.store.GetExecution(job.ID)
	s.Require().NoError(err)
	s.Equal(types.JobStatusFinished, finished.Status)
	s.Equal([]string{"done"}, finished.Logs)
	s.True(finished.Result.IsSome())
	s.Require().True(finished.LastFinishedAt.IsSome())

	count, err = s.store.CountActiveExecutions("st-1")
	s.Require().NoError(err)
	s.Equal(int64(0), count)
}

func (s *JobStoreTestSuite) TestCreateRejectsSecondActiveExecution() {
	first, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)

	// The database itself refuses a second active record, so even two
	// schedulers that both read an active count of zero cannot double-admit.
	_, err = s.store.CreateExecution("st-1", s.now)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeExceedConcurrencyLimit))

	other, err := s.store.CreateExecution("st-2", s.now)
	s.Require().NoError(err)
	s.NotEmpty(other.ID)

	s.Require().NoError(s.store.MarkRunning(first.ID, s.now))
	err = s.store.FinishExecution(first.ID, types.JobStatusFinished,
		nil, optional.None[types.BacktestResult](), s.now)
	s.Require().NoError(err)

	again, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)
	s.NotEmpty(again.ID)
}

func (s *JobStoreTestSuite) TestClaimRequiresRunningStatus() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)

	_, err = s.store.ClaimExecution(job.ID)
	s.Require().Error(err, "a PENDING job cannot be claimed")
	s.True(errors.HasCode(err, errors.ErrCodeJobNotRunning))

	_, err = s.store.ClaimExecution("missing")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeJobNotFound))
}

func (s *JobStoreTestSuite) TestMarkRunningOnlyOnce() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)

	s.Require().NoError(s.store.MarkRunning(job.ID, s.now))

	err = s.store.MarkRunning(job.ID, s.now)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeJobNotRunning))
}

func (s *JobStoreTestSuite) TestTerminalStatusIsNeverOverwritten() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkRunning(job.ID, s.now))

	err = s.store.FinishExecution(job.ID, types.JobStatusTimeout,
		[]string{"terminated"}, optional.None[types.BacktestResult](), s.now)
	s.Require().NoError(err)

	// The supervisor backstop arrives late; the worker's own terminal
	// status must stand.
	err = s.store.FinishExecution(job.ID, types.JobStatusFailed,
		nil, optional.None[types.BacktestResult](), s.now.Add(time.Second))
	s.Require().NoError(err)

	final, err := s.store.GetExecution(job.ID)
	s.Require().NoError(err)
	s.Equal(types.JobStatusTimeout, final.Status)
	s.Equal([]string{"terminated"}, final.Logs)
}

func (s *JobStoreTestSuite) TestFinishRejectsNonTerminalStatus() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)

	err = s.store.FinishExecution(job.ID, types.JobStatusRunning,
		nil, optional.None[types.BacktestResult](), s.now)
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeJobAlreadyDone))
}

func (s *JobStoreTestSuite) TestUpdateProgressSkipsTerminalRecords() {
	job, err := s.store.CreateExecution("st-1", s.now)
	s.Require().NoError(err)
	s.Require().NoError(s.store.MarkRunning(job.ID, s.now))

	s.Require().NoError(s.store.UpdateProgress(job.ID, 42.5, []string{"halfway"}, s.now))

	current, err := s.store.GetExecution(job.ID)
	s.Require().NoError(err)
	s.Equal(42.5, current.Progress)
	s.Equal([]string{"halfway"}, current.Logs)

	err = s.store.FinishExecution(job.ID, types.JobStatusFinished,
		[]string{"halfway", "done"}, optional.None[types.BacktestResult](), s.now)
	s.Require().NoError(err)

	s.Require().NoError(s.store.UpdateProgress(job.ID, 99.0, []string{"late"}, s.now))

	final, err := s.store.GetExecution(job.ID)
	s.Require().NoError(err)
	s.Equal(42.5, final.Progress, "progress writes after the terminal write are dropped")
	s.Equal([]string{"halfway", "done"}, final.Logs)
}
