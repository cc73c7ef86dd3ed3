package types

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/suite"
)

type KlineTestSuite struct {
	suite.Suite
}

func TestKlineSuite(t *testing.T) {
	suite.Run(t, new(KlineTestSuite))
}

func validKline() Kline {
	open := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)

	return Kline{
		Exchange:       "binance",
		Symbol:         "BTCUSDT",
		Timeframe:      "1m",
		OpenTime:       open,
		CloseTime:      open.Add(time.Minute),
		Open:           decimal.NewFromInt(100),
		High:           decimal.NewFromInt(110),
		Low:            decimal.NewFromInt(95),
		Close:          decimal.NewFromInt(105),
		Volume:         decimal.NewFromInt(10),
		QuoteVolume:    decimal.NewFromInt(1000),
		TakerBuyVolume: decimal.NewFromInt(4),
		TradeCount:     42,
	}
}

func (suite *KlineTestSuite) TestValidate() {
	k := validKline()
	suite.NoError(k.Validate())
}

func (suite *KlineTestSuite) TestValidateRejectsBadKlines() {
	tests := []struct {
		name   string
		mutate func(k *Kline)
	}{
		{name: "close not after open", mutate: func(k *Kline) { k.CloseTime = k.OpenTime }},
		{name: "zero price", mutate: func(k *Kline) { k.Low = decimal.Zero }},
		{name: "negative volume", mutate: func(k *Kline) { k.Volume = decimal.NewFromInt(-1) }},
		{name: "negative trade count", mutate: func(k *Kline) { k.TradeCount = -1 }},
		{name: "missing symbol", mutate: func(k *Kline) { k.Symbol = "" }},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			k := validKline()
			tc.mutate(&k)
			suite.Error(k.Validate())
		})
	}
}

func (suite *KlineTestSuite) TestTouches() {
	k := validKline()
	suite.True(k.Touches(decimal.NewFromInt(95)))
	suite.True(k.Touches(decimal.NewFromInt(110)))
	suite.True(k.Touches(decimal.NewFromInt(100)))
	suite.False(k.Touches(decimal.NewFromInt(94)))
	suite.False(k.Touches(decimal.NewFromInt(111)))
}

func (suite *KlineTestSuite) TestDateRangeValidate() {
	now := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)

	okRange := DateRange{Start: now.AddDate(0, -3, 0), End: now.AddDate(0, -1, 0)}
	suite.NoError(okRange.Validate(now))

	inverted := DateRange{Start: now, End: now.AddDate(0, -1, 0)}
	suite.Error(inverted.Validate(now))

	future := DateRange{Start: now.AddDate(0, -1, 0), End: now.AddDate(0, 1, 0)}
	suite.Error(future.Validate(now))
}

func (suite *KlineTestSuite) TestJobStatusTerminal() {
	suite.False(JobStatusPending.IsTerminal())
	suite.False(JobStatusRunning.IsTerminal())

	for _, s := range []JobStatus{JobStatusFinished, JobStatusFailed, JobStatusTimeout, JobStatusInterrupted, JobStatusCanceled} {
		suite.True(s.IsTerminal())
	}
}
