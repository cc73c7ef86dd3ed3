package types

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// Kline is a single OHLCV candle for one exchange/symbol/timeframe/time bucket.
// Klines are value objects: ordering key is CloseTime ascending, uniqueness key
// is (Exchange, Symbol, Timeframe, OpenTime).
type Kline struct {
	Exchange  string    `yaml:"exchange" json:"exchange"`
	Symbol    string    `yaml:"symbol" json:"symbol"`
	Timeframe string    `yaml:"timeframe" json:"timeframe"`
	OpenTime  time.Time `yaml:"open_time" json:"open_time"`
	CloseTime time.Time `yaml:"close_time" json:"close_time"`

	Open  decimal.Decimal `yaml:"open" json:"open"`
	High  decimal.Decimal `yaml:"high" json:"high"`
	Low   decimal.Decimal `yaml:"low" json:"low"`
	Close decimal.Decimal `yaml:"close" json:"close"`

	Volume         decimal.Decimal `yaml:"volume" json:"volume"`
	QuoteVolume    decimal.Decimal `yaml:"quote_volume" json:"quote_volume"`
	TakerBuyVolume decimal.Decimal `yaml:"taker_buy_volume" json:"taker_buy_volume"`
	TradeCount     int64           `yaml:"trade_count" json:"trade_count"`
}

// Validate checks the kline invariants: close after open, positive prices,
// non-negative volumes and trade count.
func (k *Kline) Validate() error {
	if k.Symbol == "" || k.Timeframe == "" {
		return errors.New(errors.ErrCodeInvalidRequest, "kline symbol and timeframe are required")
	}

	if !k.CloseTime.After(k.OpenTime) {
		return errors.Newf(errors.ErrCodeInvalidRequest, "kline close time %s must be after open time %s", k.CloseTime, k.OpenTime)
	}

	for _, p := range []decimal.Decimal{k.Open, k.High, k.Low, k.Close} {
		if p.LessThanOrEqual(decimal.Zero) {
			return errors.New(errors.ErrCodeInvalidRequest, "kline prices must be greater than zero")
		}
	}

	for _, v := range []decimal.Decimal{k.Volume, k.QuoteVolume, k.TakerBuyVolume} {
		if v.IsNegative() {
			return errors.New(errors.ErrCodeInvalidRequest, "kline volumes must not be negative")
		}
	}

	if k.TradeCount < 0 {
		return errors.New(errors.ErrCodeInvalidRequest, "kline trade count must not be negative")
	}

	return nil
}

// Touches reports whether the given price falls within the kline's
// [low, high] band.
func (k *Kline) Touches(price decimal.Decimal) bool {
	return price.GreaterThanOrEqual(k.Low) && price.LessThanOrEqual(k.High)
}

// DateRange is a half-open historical range [Start, End).
type DateRange struct {
	Start time.Time `yaml:"start" json:"start"`
	End   time.Time `yaml:"end" json:"end"`
}

// Validate checks that the range is non-empty and does not extend into the future.
func (r DateRange) Validate(now time.Time) error {
	if !r.Start.Before(r.End) {
		return errors.New(errors.ErrCodeInvalidRequest, "range start must be before range end")
	}

	if r.End.After(now) {
		return errors.New(errors.ErrCodeInvalidRequest, "range end must not be in the future")
	}

	return nil
}

// Duration returns the span of the range.
func (r DateRange) Duration() time.Duration {
	return r.End.Sub(r.Start)
}
