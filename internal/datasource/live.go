package datasource

import (
	"context"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
)

// maxKlinesPerPage is the page-size limit of the live candle query.
const maxKlinesPerPage = 1000

// LiveSource is the rate-limited live API tier. One call returns at most
// limit klines whose open time falls within [startMillis, endMillis].
type LiveSource interface {
	Klines(ctx context.Context, symbol, interval string, startMillis, endMillis int64, limit int) ([]types.Kline, error)
}

// BinanceSource implements LiveSource on the exchange REST API.
type BinanceSource struct {
	client   *binance.Client
	exchange string
}

// NewBinanceSource creates a live source with an unauthenticated client;
// the kline endpoint needs no credentials.
func NewBinanceSource(exchange string) *BinanceSource {
	return &BinanceSource{
		client:   binance.NewClient("", ""),
		exchange: exchange,
	}
}

// Klines implements LiveSource.
func (s *BinanceSource) Klines(ctx context.Context, symbol, interval string, startMillis, endMillis int64, limit int) ([]types.Kline, error) {
	raw, err := s.client.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMillis).
		EndTime(endMillis).
		Limit(limit).
		Do(ctx)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrCodeLiveFetchFailed, err, "failed to fetch %s %s klines", symbol, interval)
	}

	klines := make([]types.Kline, 0, len(raw))

	for _, k := range raw {
		kline, err := s.convert(k, symbol, interval)
		if err != nil {
			return nil, err
		}

		klines = append(klines, kline)
	}

	return klines, nil
}

// convert maps one API candle to the internal kline. Price fields arrive as
// decimal strings and are parsed exactly, never through a float.
func (s *BinanceSource) convert(k *binance.Kline, symbol, interval string) (types.Kline, error) {
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume, k.QuoteAssetVolume, k.TakerBuyBaseAssetVolume}
	parsed := make([]decimal.Decimal, 0, len(fields))

	for _, f := range fields {
		value, err := decimal.NewFromString(f)
		if err != nil {
			return types.Kline{}, errors.Wrapf(errors.ErrCodeLiveFetchFailed, err, "invalid decimal %q in kline response", f)
		}

		parsed = append(parsed, value)
	}

	kline := types.Kline{
		Exchange:       s.exchange,
		Symbol:         symbol,
		Timeframe:      interval,
		OpenTime:       time.UnixMilli(k.OpenTime).UTC(),
		CloseTime:      time.UnixMilli(k.CloseTime).UTC(),
		Open:           parsed[0],
		High:           parsed[1],
		Low:            parsed[2],
		Close:          parsed[3],
		Volume:         parsed[4],
		QuoteVolume:    parsed[5],
		TakerBuyVolume: parsed[6],
		TradeCount:     k.TradeNum,
	}

	if err := kline.Validate(); err != nil {
		return types.Kline{}, errors.Wrap(errors.ErrCodeLiveFetchFailed, "invalid kline in response", err)
	}

	return kline, nil
}
