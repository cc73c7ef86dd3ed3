package datasource

import (
	"time"

	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// supportedTimeframes maps a timeframe value to its candle duration.
var supportedTimeframes = map[string]time.Duration{
	"1s":  time.Second,
	"1m":  time.Minute,
	"3m":  3 * time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"30m": 30 * time.Minute,
	"1h":  time.Hour,
	"2h":  2 * time.Hour,
	"4h":  4 * time.Hour,
	"6h":  6 * time.Hour,
	"8h":  8 * time.Hour,
	"12h": 12 * time.Hour,
	"1d":  24 * time.Hour,
	"3d":  72 * time.Hour,
	"1w":  7 * 24 * time.Hour,
	"1M":  30 * 24 * time.Hour,
}

// ValidateTimeframe checks the timeframe against the supported set.
func ValidateTimeframe(timeframe string) error {
	if _, ok := supportedTimeframes[timeframe]; !ok {
		return errors.Newf(errors.ErrCodeInvalidTimeframe, "unsupported timeframe %q", timeframe)
	}

	return nil
}

// archiveInterval returns the interval segment used in archive paths.
// The monthly candle is the one remapped value: the API interval is "1M"
// while archives publish it as "1mo" so it cannot collide with "1m".
func archiveInterval(timeframe string) string {
	if timeframe == "1M" {
		return "1mo"
	}

	return timeframe
}

// hasDailyArchive reports whether the provider publishes daily archive files
// for the timeframe. Only the short timeframes are archived per day; the
// monthly tier for these falls back to the daily tier before the live API.
func hasDailyArchive(timeframe string) bool {
	switch timeframe {
	case "1s", "1m":
		return true
	default:
		return false
	}
}
