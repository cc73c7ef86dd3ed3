package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// StrategyLanguage tags the runtime a strategy program targets.
type StrategyLanguage string

const (
	StrategyLanguageWasm StrategyLanguage = "wasm"
)

// BacktestRequest describes one backtest: what to simulate, over which
// range, with which capital and fee model, and the strategy program to run.
// Immutable once accepted.
type BacktestRequest struct {
	Symbol    string `yaml:"symbol" json:"symbol" validate:"required"`
	Exchange  string `yaml:"exchange" json:"exchange" validate:"required"`
	Timeframe string `yaml:"timeframe" json:"timeframe" validate:"required"`

	Range DateRange `yaml:"range" json:"range"`

	InitialCapital decimal.Decimal `yaml:"initial_capital" json:"initial_capital"`
	TakerFeeRate   decimal.Decimal `yaml:"taker_fee_rate" json:"taker_fee_rate"`
	MakerFeeRate   decimal.Decimal `yaml:"maker_fee_rate" json:"maker_fee_rate"`

	CapitalCurrency string `yaml:"capital_currency" json:"capital_currency" validate:"required"`
	AssetCurrency   string `yaml:"asset_currency" json:"asset_currency" validate:"required"`

	// MaxLookback is the maximum number of historical klines exposed to one
	// strategy iteration.
	MaxLookback int `yaml:"max_lookback" json:"max_lookback" validate:"gte=0"`

	Language StrategyLanguage `yaml:"language" json:"language" validate:"required"`
}

// UnmarshalYAML implements custom unmarshaling so monetary fields accept
// plain YAML numbers (parsed as exact decimals, never through a float)
// and range bounds accept dates or RFC 3339 timestamps.
func (r *BacktestRequest) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type raw struct {
		Symbol          string `yaml:"symbol"`
		Exchange        string `yaml:"exchange"`
		Timeframe       string `yaml:"timeframe"`
		Start           string `yaml:"start"`
		End             string `yaml:"end"`
		InitialCapital  string `yaml:"initial_capital"`
		TakerFeeRate    string `yaml:"taker_fee_rate"`
		MakerFeeRate    string `yaml:"maker_fee_rate"`
		CapitalCurrency string `yaml:"capital_currency"`
		AssetCurrency   string `yaml:"asset_currency"`
		MaxLookback     int    `yaml:"max_lookback"`
		Language        string `yaml:"language"`
	}

	var rr raw
	if err := unmarshal(&rr); err != nil {
		return err
	}

	r.Symbol = rr.Symbol
	r.Exchange = rr.Exchange
	r.Timeframe = rr.Timeframe
	r.CapitalCurrency = rr.CapitalCurrency
	r.AssetCurrency = rr.AssetCurrency
	r.MaxLookback = rr.MaxLookback
	r.Language = StrategyLanguage(rr.Language)

	var err error
	if r.Range.Start, err = parseRangeBound(rr.Start); err != nil {
		return err
	}

	if r.Range.End, err = parseRangeBound(rr.End); err != nil {
		return err
	}

	if r.InitialCapital, err = parseDecimalField("initial_capital", rr.InitialCapital); err != nil {
		return err
	}

	if r.TakerFeeRate, err = parseDecimalField("taker_fee_rate", rr.TakerFeeRate); err != nil {
		return err
	}

	if r.MakerFeeRate, err = parseDecimalField("maker_fee_rate", rr.MakerFeeRate); err != nil {
		return err
	}

	return nil
}

func parseRangeBound(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}

	for _, layout := range []string{time.RFC3339, "2006-01-02"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t.UTC(), nil
		}
	}

	return time.Time{}, errors.Newf(errors.ErrCodeInvalidRequest, "cannot parse time %q", value)
}

func parseDecimalField(name, value string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, nil
	}

	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, errors.Wrapf(errors.ErrCodeInvalidRequest, err, "cannot parse %s %q", name, value)
	}

	return d, nil
}

// Validate checks the request against the admission invariants.
func (r *BacktestRequest) Validate(now time.Time) error {
	validate := validator.New()
	if err := validate.Struct(r); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidRequest, "invalid backtest request", err)
	}

	if err := r.Range.Validate(now); err != nil {
		return err
	}

	if r.InitialCapital.LessThanOrEqual(decimal.Zero) {
		return errors.New(errors.ErrCodeInvalidRequest, "initial capital must be greater than zero")
	}

	if r.TakerFeeRate.IsNegative() || r.MakerFeeRate.IsNegative() {
		return errors.New(errors.ErrCodeInvalidRequest, "fee rates must not be negative")
	}

	return nil
}

// Strategy is the stored strategy program a backtest request references.
type Strategy struct {
	ID       string           `yaml:"id" json:"id"`
	Name     string           `yaml:"name" json:"name"`
	Language StrategyLanguage `yaml:"language" json:"language"`
	Source   []byte           `yaml:"source" json:"source"`
	Request  BacktestRequest  `yaml:"request" json:"request"`
}
