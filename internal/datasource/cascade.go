package datasource

import (
	"context"
	"slices"
	"time"

	"github.com/moznion/go-optional"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// defaultFetchConcurrency bounds the parallel per-unit archive downloads
// within one tier. Assembly stays sequential.
const defaultFetchConcurrency = 4

// Cascade retrieves a complete, gap-free ordered kline sequence for a
// range, preferring monthly archives, then daily archives for short
// timeframes, then the paginated live API. Each tier serves only the
// sub-range the previous tier could not satisfy.
type Cascade struct {
	archive     *ArchiveClient
	live        LiveSource
	concurrency int
	log         *logger.Logger
}

// NewCascade wires the acquisition cascade from its two sources.
func NewCascade(log *logger.Logger, archive *ArchiveClient, live LiveSource) *Cascade {
	return &Cascade{
		archive:     archive,
		live:        live,
		concurrency: defaultFetchConcurrency,
		log:         log,
	}
}

// unitResult is the outcome of fetching one calendar unit (month or day).
type unitResult struct {
	start  time.Time
	klines []types.Kline
	found  bool
}

// cascadeState is the explicit gap state machine walked once per calendar
// unit in chronological order.
type cascadeState int

const (
	stateNotStarted cascadeState = iota
	stateInArchive
	stateInTailFallback
)

// GetKlines returns the ordered kline sequence covering the range.
func (c *Cascade) GetKlines(ctx context.Context, symbol, timeframe string, rng types.DateRange) ([]types.Kline, error) {
	if err := ValidateTimeframe(timeframe); err != nil {
		return nil, err
	}

	if err := rng.Validate(time.Now().UTC()); err != nil {
		return nil, err
	}

	klines, err := c.fetchMonthlyTier(ctx, symbol, timeframe, rng)
	if err != nil {
		return nil, err
	}

	if len(klines) == 0 {
		return nil, errors.Newf(errors.ErrCodeEmptyRange, "no klines available for %s %s in [%s, %s)", symbol, timeframe, rng.Start, rng.End)
	}

	slices.SortFunc(klines, func(a, b types.Kline) int {
		return a.CloseTime.Compare(b.CloseTime)
	})

	return clipToRange(klines, rng), nil
}

// fetchMonthlyTier fetches the monthly archive units and resolves any
// trailing misses through the next-preferred tier: the daily cascade for
// timeframes with daily archives, the live API otherwise.
func (c *Cascade) fetchMonthlyTier(ctx context.Context, symbol, timeframe string, rng types.DateRange) ([]types.Kline, error) {
	units := monthsIn(rng)

	results := make([]unitResult, len(units))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)

	for i, unit := range units {
		group.Go(func() error {
			klines, found, err := c.archive.FetchMonth(groupCtx, symbol, timeframe, unit.Year(), unit.Month())
			if err != nil {
				return err
			}

			results[i] = unitResult{start: unit, klines: klines, found: found}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	klines, fallback, err := assemble(results)
	if err != nil {
		return nil, err
	}

	if fallback.IsNone() {
		return klines, nil
	}

	fallbackRange := types.DateRange{
		Start: maxTime(fallback.Unwrap(), rng.Start),
		End:   rng.End,
	}

	c.log.Info("Monthly archive incomplete, using fallback tier",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Time("fallback_start", fallbackRange.Start),
	)

	var tail []types.Kline

	if hasDailyArchive(timeframe) {
		tail, err = c.fetchDailyTier(ctx, symbol, timeframe, fallbackRange)
	} else {
		tail, err = c.fetchLiveTier(ctx, symbol, timeframe, fallbackRange)
	}

	if err != nil {
		return nil, err
	}

	return append(klines, tail...), nil
}

// fetchDailyTier fetches the daily archive units for a fallback sub-range;
// its own trailing misses fall back to the live API.
func (c *Cascade) fetchDailyTier(ctx context.Context, symbol, timeframe string, rng types.DateRange) ([]types.Kline, error) {
	units := daysIn(rng)

	results := make([]unitResult, len(units))
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(c.concurrency)

	for i, unit := range units {
		group.Go(func() error {
			klines, found, err := c.archive.FetchDay(groupCtx, symbol, timeframe, unit)
			if err != nil {
				return err
			}

			results[i] = unitResult{start: unit, klines: klines, found: found}

			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}

	klines, fallback, err := assemble(results)
	if err != nil {
		return nil, err
	}

	if fallback.IsNone() {
		return klines, nil
	}

	fallbackRange := types.DateRange{
		Start: maxTime(fallback.Unwrap(), rng.Start),
		End:   rng.End,
	}

	c.log.Info("Daily archive incomplete, using live API",
		zap.String("symbol", symbol),
		zap.String("timeframe", timeframe),
		zap.Time("fallback_start", fallbackRange.Start),
	)

	tail, err := c.fetchLiveTier(ctx, symbol, timeframe, fallbackRange)
	if err != nil {
		return nil, err
	}

	return append(klines, tail...), nil
}

// fetchLiveTier pages through the live API. Each call requests at most
// maxKlinesPerPage candles; a saturated page whose last close time is still
// before the range end advances the cursor one millisecond past that close
// time, so every call strictly advances and the loop terminates.
func (c *Cascade) fetchLiveTier(ctx context.Context, symbol, timeframe string, rng types.DateRange) ([]types.Kline, error) {
	var all []types.Kline

	cursor := rng.Start.UnixMilli()
	endMillis := rng.End.UnixMilli()

	for {
		batch, err := c.live.Klines(ctx, symbol, timeframe, cursor, endMillis, maxKlinesPerPage)
		if err != nil {
			return nil, err
		}

		all = append(all, batch...)

		if len(batch) < maxKlinesPerPage {
			break
		}

		last := batch[len(batch)-1]
		if !last.CloseTime.Before(rng.End) {
			break
		}

		cursor = last.CloseTime.UnixMilli() + 1
	}

	return all, nil
}

// assemble walks per-unit results in chronological order. Hits accumulate
// klines; misses are legitimate only as a contiguous suffix of the range
// (archive publication lag covers at most the final two units). A miss in
// the middle of otherwise-present data is an integrity violation, as is a
// hit after the fallback suffix began.
func assemble(results []unitResult) ([]types.Kline, optional.Option[time.Time], error) {
	var klines []types.Kline

	state := stateNotStarted
	fallback := optional.None[time.Time]()

	for i, result := range results {
		switch state {
		case stateNotStarted:
			if result.found {
				state = stateInArchive
				klines = append(klines, result.klines...)
			} else {
				state = stateInTailFallback
				fallback = optional.Some(result.start)
			}
		case stateInArchive:
			if result.found {
				klines = append(klines, result.klines...)

				continue
			}

			if i < len(results)-2 {
				return nil, optional.None[time.Time](), errors.Newf(errors.ErrCodeFileMissing,
					"archive unit starting %s is missing in the middle of the range", result.start.Format(time.DateOnly))
			}

			state = stateInTailFallback
			fallback = optional.Some(result.start)
		case stateInTailFallback:
			if result.found {
				return nil, optional.None[time.Time](), errors.Newf(errors.ErrCodeFileMissing,
					"archive unit starting %s exists after a missing unit", result.start.Format(time.DateOnly))
			}
		}
	}

	return klines, fallback, nil
}

// monthsIn lists the first instants of the calendar months overlapping the range.
func monthsIn(rng types.DateRange) []time.Time {
	var units []time.Time

	cursor := time.Date(rng.Start.Year(), rng.Start.Month(), 1, 0, 0, 0, 0, time.UTC)
	for cursor.Before(rng.End) {
		units = append(units, cursor)
		cursor = cursor.AddDate(0, 1, 0)
	}

	return units
}

// daysIn lists the first instants of the calendar days overlapping the range.
func daysIn(rng types.DateRange) []time.Time {
	var units []time.Time

	cursor := time.Date(rng.Start.Year(), rng.Start.Month(), rng.Start.Day(), 0, 0, 0, 0, time.UTC)
	for cursor.Before(rng.End) {
		units = append(units, cursor)
		cursor = cursor.AddDate(0, 0, 1)
	}

	return units
}

// clipToRange keeps the klines whose open time falls within [Start, End).
func clipToRange(klines []types.Kline, rng types.DateRange) []types.Kline {
	clipped := make([]types.Kline, 0, len(klines))

	for _, k := range klines {
		if k.OpenTime.Before(rng.Start) || !k.OpenTime.Before(rng.End) {
			continue
		}

		clipped = append(clipped, k)
	}

	return clipped
}

func maxTime(a, b time.Time) time.Time {
	if a.After(b) {
		return a
	}

	return b
}
