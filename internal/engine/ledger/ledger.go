// Package ledger persists the order and closed-trade ledger of a backtest
// in an embedded DuckDB database and exports it as Parquet for offline
// analysis. Monetary columns are stored as text so the fixed-point values
// survive round-trips without float conversion.
package ledger

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"github.com/tradeforge-lab/tradeforge/internal/logger"
	"github.com/tradeforge-lab/tradeforge/internal/types"
	"go.uber.org/zap"
)

type Ledger struct {
	db  *sql.DB
	log *logger.Logger
	sq  squirrel.StatementBuilderType
}

func NewLedger(log *logger.Logger) (*Ledger, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	l := &Ledger{
		db:  db,
		log: log,
		sq:  squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
	}

	if err := l.initialize(); err != nil {
		db.Close()

		return nil, err
	}

	return l, nil
}

func (l *Ledger) initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS orders (
			order_id TEXT PRIMARY KEY,
			side TEXT,
			order_type TEXT,
			status TEXT,
			quantity TEXT,
			limit_price TEXT,
			stop_price TEXT,
			fill_price TEXT,
			fee TEXT,
			created_at TIMESTAMP,
			filled_at TIMESTAMP,
			reject_reason TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create orders table: %w", err)
	}

	_, err = l.db.Exec(`
		CREATE TABLE IF NOT EXISTS closed_trades (
			trade_id TEXT PRIMARY KEY,
			entry_order_id TEXT,
			exit_order_id TEXT,
			quantity TEXT,
			net_return TEXT,
			max_drawdown TEXT,
			max_run_up TEXT,
			entry_price TEXT,
			exit_price TEXT,
			closed_at TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create closed_trades table: %w", err)
	}

	return nil
}

// RecordOrder implements engine.Recorder.
func (l *Ledger) RecordOrder(order types.Order) error {
	_, err := l.sq.
		Insert("orders").
		Columns(
			"order_id", "side", "order_type", "status", "quantity",
			"limit_price", "stop_price", "fill_price", "fee",
			"created_at", "filled_at", "reject_reason",
		).
		Values(
			order.ID, string(order.Side), string(order.Type), string(order.Status), order.Quantity.String(),
			optionalDecimalString(order.Price),
			optionalDecimalString(order.StopPrice),
			order.FillPrice.String(), order.Fee.String(),
			order.CreatedAt, order.FilledAt, order.RejectReason,
		).
		RunWith(l.db).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to insert order: %w", err)
	}

	return nil
}

// RecordClosedTrade implements engine.Recorder.
func (l *Ledger) RecordClosedTrade(trade types.ClosedTrade) error {
	_, err := l.sq.
		Insert("closed_trades").
		Columns(
			"trade_id", "entry_order_id", "exit_order_id", "quantity", "net_return",
			"max_drawdown", "max_run_up", "entry_price", "exit_price", "closed_at",
		).
		Values(
			trade.ID, trade.Entry.ID, trade.Exit.ID, trade.Quantity.String(), trade.NetReturn.String(),
			trade.MaxDrawdown.String(), trade.MaxRunUp.String(),
			trade.Entry.FillPrice.String(), trade.Exit.FillPrice.String(), trade.Exit.FilledAt,
		).
		RunWith(l.db).
		Exec()
	if err != nil {
		return fmt.Errorf("failed to insert closed trade: %w", err)
	}

	return nil
}

// CountOrders returns the number of persisted order records.
func (l *Ledger) CountOrders() (int, error) {
	var count int

	err := l.sq.Select("COUNT(*)").From("orders").RunWith(l.db).QueryRow().Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count orders: %w", err)
	}

	return count, nil
}

// ClosedTradeReturns returns the recorded net return per closed trade in
// close order.
func (l *Ledger) ClosedTradeReturns() ([]decimal.Decimal, error) {
	rows, err := l.sq.
		Select("net_return").
		From("closed_trades").
		OrderBy("closed_at ASC").
		RunWith(l.db).
		Query()
	if err != nil {
		return nil, fmt.Errorf("failed to query closed trades: %w", err)
	}
	defer rows.Close()

	var returns []decimal.Decimal

	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan closed trade: %w", err)
		}

		value, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse net return %q: %w", raw, err)
		}

		returns = append(returns, value)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating closed trades: %w", err)
	}

	return returns, nil
}

// Export writes the ledger tables to Parquet files under the directory.
func (l *Ledger) Export(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	ordersPath := filepath.Join(path, "orders.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY orders TO '%s' (FORMAT PARQUET)`, ordersPath)); err != nil {
		return fmt.Errorf("failed to export orders to Parquet: %w", err)
	}

	tradesPath := filepath.Join(path, "closed_trades.parquet")
	if _, err := l.db.Exec(fmt.Sprintf(`COPY closed_trades TO '%s' (FORMAT PARQUET)`, tradesPath)); err != nil {
		return fmt.Errorf("failed to export closed trades to Parquet: %w", err)
	}

	l.log.Info("exported backtest ledger",
		zap.String("orders", ordersPath),
		zap.String("closed_trades", tradesPath),
	)

	return nil
}

func (l *Ledger) Close() error {
	return l.db.Close()
}

// optionalDecimalString renders an optional price column, using NULL for
// orders that have no such leg.
func optionalDecimalString(value optional.Option[decimal.Decimal]) any {
	if value.IsNone() {
		return nil
	}

	return value.Unwrap().String()
}
