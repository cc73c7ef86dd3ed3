package datasource

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"github.com/tradeforge-lab/tradeforge/pkg/errors"
	"go.uber.org/zap"
)

// ArchiveClient downloads bulk kline archives: one compressed file per
// calendar month (monthly tier) or per calendar day (daily tier). A missing
// archive is a soft miss, everything else is a hard failure.
type ArchiveClient struct {
	httpClient  *http.Client
	monthlyBase string
	dailyBase   string
	exchange    string
	log         *logger.Logger
}

// NewArchiveClient creates an archive client for the given base URLs.
func NewArchiveClient(log *logger.Logger, exchange, monthlyBase, dailyBase string) *ArchiveClient {
	return &ArchiveClient{
		httpClient:  &http.Client{Timeout: 2 * time.Minute},
		monthlyBase: strings.TrimSuffix(monthlyBase, "/"),
		dailyBase:   strings.TrimSuffix(dailyBase, "/"),
		exchange:    exchange,
		log:         log,
	}
}

// FetchMonth downloads one monthly archive unit. The second return value is
// false when the archive does not exist yet (soft miss).
func (c *ArchiveClient) FetchMonth(ctx context.Context, symbol, timeframe string, year int, month time.Month) ([]types.Kline, bool, error) {
	symbol = strings.ToUpper(symbol)
	interval := archiveInterval(timeframe)
	name := fmt.Sprintf("%s-%s-%04d-%02d.zip", symbol, interval, year, int(month))
	url := fmt.Sprintf("%s/%s/%s/%s", c.monthlyBase, symbol, interval, name)

	return c.fetch(ctx, url, symbol, timeframe)
}

// FetchDay downloads one daily archive unit. The second return value is
// false when the archive does not exist yet (soft miss).
func (c *ArchiveClient) FetchDay(ctx context.Context, symbol, timeframe string, day time.Time) ([]types.Kline, bool, error) {
	symbol = strings.ToUpper(symbol)
	interval := archiveInterval(timeframe)
	name := fmt.Sprintf("%s-%s-%04d-%02d-%02d.zip", symbol, interval, day.Year(), int(day.Month()), day.Day())
	url := fmt.Sprintf("%s/%s/%s/%s", c.dailyBase, symbol, interval, name)

	return c.fetch(ctx, url, symbol, timeframe)
}

func (c *ArchiveClient) fetch(ctx context.Context, url, symbol, timeframe string) ([]types.Kline, bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, false, errors.Wrapf(errors.ErrCodeArchiveUnavailable, err, "failed to build archive request for %s", url)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, false, errors.Wrapf(errors.ErrCodeArchiveUnavailable, err, "failed to download archive %s", url)
	}
	defer resp.Body.Close()

	// Not-yet-published archives are a soft miss, any other non-2xx aborts.
	if resp.StatusCode == http.StatusNotFound {
		c.log.Debug("Archive unit not published",
			zap.String("url", url),
		)

		return nil, false, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, false, errors.Newf(errors.ErrCodeArchiveUnavailable, "archive %s returned status %d", url, resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, false, errors.Wrapf(errors.ErrCodeArchiveUnavailable, err, "failed to read archive %s", url)
	}

	klines, err := c.decodeArchive(body, symbol, timeframe)
	if err != nil {
		return nil, false, errors.Wrapf(errors.ErrCodeArchiveCorrupted, err, "failed to decode archive %s", url)
	}

	return klines, true, nil
}

// decodeArchive decompresses a zip archive holding a single csv file and
// parses its rows into klines.
func (c *ArchiveClient) decodeArchive(data []byte, symbol, timeframe string) ([]types.Kline, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("failed to open zip: %w", err)
	}

	if len(reader.File) == 0 {
		return nil, fmt.Errorf("archive contains no files")
	}

	file, err := reader.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open archived file: %w", err)
	}
	defer file.Close()

	rows := csv.NewReader(file)
	rows.FieldsPerRecord = -1

	var klines []types.Kline

	for {
		record, err := rows.Read()
		if err == io.EOF {
			break
		}

		if err != nil {
			return nil, fmt.Errorf("failed to read csv row: %w", err)
		}

		// Newer archives carry a header line; skip it.
		if len(klines) == 0 && len(record) > 0 {
			if _, numErr := strconv.ParseInt(record[0], 10, 64); numErr != nil {
				continue
			}
		}

		kline, err := c.parseRow(record, symbol, timeframe)
		if err != nil {
			return nil, err
		}

		klines = append(klines, kline)
	}

	return klines, nil
}

// parseRow parses one archive csv row:
// openTime, open, high, low, close, volume, closeTime, quoteVolume,
// tradeCount, takerBuyVolume, takerBuyQuoteVolume, ignore.
func (c *ArchiveClient) parseRow(record []string, symbol, timeframe string) (types.Kline, error) {
	const minFields = 10

	if len(record) < minFields {
		return types.Kline{}, fmt.Errorf("csv row has %d fields, want at least %d", len(record), minFields)
	}

	openMillis, err := strconv.ParseInt(record[0], 10, 64)
	if err != nil {
		return types.Kline{}, fmt.Errorf("invalid open time %q: %w", record[0], err)
	}

	closeMillis, err := strconv.ParseInt(record[6], 10, 64)
	if err != nil {
		return types.Kline{}, fmt.Errorf("invalid close time %q: %w", record[6], err)
	}

	tradeCount, err := strconv.ParseInt(record[8], 10, 64)
	if err != nil {
		return types.Kline{}, fmt.Errorf("invalid trade count %q: %w", record[8], err)
	}

	prices := make([]decimal.Decimal, 0, 7)

	for _, idx := range []int{1, 2, 3, 4, 5, 7, 9} {
		value, err := decimal.NewFromString(record[idx])
		if err != nil {
			return types.Kline{}, fmt.Errorf("invalid decimal field %q: %w", record[idx], err)
		}

		prices = append(prices, value)
	}

	kline := types.Kline{
		Exchange:       c.exchange,
		Symbol:         symbol,
		Timeframe:      timeframe,
		OpenTime:       time.UnixMilli(openMillis).UTC(),
		CloseTime:      time.UnixMilli(closeMillis).UTC(),
		Open:           prices[0],
		High:           prices[1],
		Low:            prices[2],
		Close:          prices[3],
		Volume:         prices[4],
		QuoteVolume:    prices[5],
		TakerBuyVolume: prices[6],
		TradeCount:     tradeCount,
	}

	if err := kline.Validate(); err != nil {
		return types.Kline{}, fmt.Errorf("invalid kline row: %w", err)
	}

	return kline, nil
}
