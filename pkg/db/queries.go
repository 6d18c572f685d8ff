package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

var ErrNotFound = errors.New("record not found")

// ----------------------------------------
// Position queries
// ----------------------------------------

// ListPositions returns all persisted positions.
func (d *Database) ListPositions(ctx context.Context) ([]Position, error) {
	rows, err := d.DB.QueryContext(ctx, `
		SELECT instrument, direction, size, avg_price, realized_pnl, stop_price, is_manual,
		       COALESCE(entry_time, CURRENT_TIMESTAMP), updated_at
		FROM positions
	`)
	if err != nil {
		return nil, fmt.Errorf("query positions: %w", err)
	}
	defer rows.Close()

	var positions []Position
	for rows.Next() {
		var p Position
		var manual int
		if err := rows.Scan(&p.Instrument, &p.Direction, &p.Size, &p.AvgPrice, &p.RealizedPnL,
			&p.StopPrice, &manual, &p.EntryTime, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan position: %w", err)
		}
		p.IsManual = manual == 1
		positions = append(positions, p)
	}
	return positions, rows.Err()
}

// UpsertPosition creates or updates a position row.
func (d *Database) UpsertPosition(ctx context.Context, p Position) error {
	manual := 0
	if p.IsManual {
		manual = 1
	}
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO positions (instrument, direction, size, avg_price, realized_pnl, stop_price, is_manual, entry_time, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(instrument) DO UPDATE SET
			direction = excluded.direction,
			size = excluded.size,
			avg_price = excluded.avg_price,
			realized_pnl = excluded.realized_pnl,
			stop_price = excluded.stop_price,
			is_manual = excluded.is_manual,
			entry_time = excluded.entry_time,
			updated_at = CURRENT_TIMESTAMP
	`, p.Instrument, p.Direction, p.Size, p.AvgPrice, p.RealizedPnL, p.StopPrice, manual, p.EntryTime)
	return err
}

// DeletePosition removes a position row (position reset).
func (d *Database) DeletePosition(ctx context.Context, instrument string) error {
	_, err := d.DB.ExecContext(ctx, `DELETE FROM positions WHERE instrument = ?`, instrument)
	return err
}

// ----------------------------------------
// Trade queries
// ----------------------------------------

// InsertTrade records a newly dispatched trade command.
func (d *Database) InsertTrade(ctx context.Context, t TradeRecord) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO trades (id, instrument, action, quantity, entry_price, stop_price, target_price, fill_price, status, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, t.ID, t.Instrument, t.Action, t.Quantity, t.EntryPrice, t.StopPrice, t.TargetPrice, t.FillPrice, t.Status, t.Reason)
	return err
}

// UpdateTradeStatus moves a trade to a new status, recording the fill when present.
func (d *Database) UpdateTradeStatus(ctx context.Context, id, status string, fillPrice float64) error {
	res, err := d.DB.ExecContext(ctx, `
		UPDATE trades SET status = ?, fill_price = ?, execution_time = CURRENT_TIMESTAMP
		WHERE id = ?
	`, status, fillPrice, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// RecentTrades returns the latest trade audit rows for the dashboard.
func (d *Database) RecentTrades(ctx context.Context, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := d.DB.QueryContext(ctx, `
		SELECT id, instrument, action, quantity, entry_price, COALESCE(stop_price, 0),
		       COALESCE(target_price, 0), fill_price, status, COALESCE(reason, ''),
		       COALESCE(execution_time, created_at), created_at
		FROM trades
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("query trades: %w", err)
	}
	defer rows.Close()

	var trades []TradeRecord
	for rows.Next() {
		var t TradeRecord
		if err := rows.Scan(&t.ID, &t.Instrument, &t.Action, &t.Quantity, &t.EntryPrice,
			&t.StopPrice, &t.TargetPrice, &t.FillPrice, &t.Status, &t.Reason,
			&t.ExecutionTime, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan trade: %w", err)
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}

// ----------------------------------------
// Reconciliation audit
// ----------------------------------------

// InsertReconciliationEvent appends a terminal reconciliation outcome.
func (d *Database) InsertReconciliationEvent(ctx context.Context, e ReconciliationEvent) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO reconciliation_events (instrument, outcome, attempts, local_direction, local_size, broker_direction, broker_size)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Instrument, e.Outcome, e.Attempts, e.LocalDirection, e.LocalSize, e.BrokerDirection, e.BrokerSize)
	return err
}

// ----------------------------------------
// Risk snapshots
// ----------------------------------------

// SaveRiskSnapshot upserts the daily risk counters.
func (d *Database) SaveRiskSnapshot(ctx context.Context, s RiskSnapshot) error {
	_, err := d.DB.ExecContext(ctx, `
		INSERT INTO risk_snapshots (date, daily_pnl, daily_trades, consecutive_losses, lifetime_trades, confidence_threshold)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(date) DO UPDATE SET
			daily_pnl = excluded.daily_pnl,
			daily_trades = excluded.daily_trades,
			consecutive_losses = excluded.consecutive_losses,
			lifetime_trades = excluded.lifetime_trades,
			confidence_threshold = excluded.confidence_threshold
	`, s.Date, s.DailyPnL, s.DailyTrades, s.ConsecutiveLosses, s.LifetimeTrades, s.ConfidenceThreshold)
	return err
}

// LoadRiskSnapshot returns the snapshot for a date, or ErrNotFound.
func (d *Database) LoadRiskSnapshot(ctx context.Context, date string) (RiskSnapshot, error) {
	var s RiskSnapshot
	err := d.DB.QueryRowContext(ctx, `
		SELECT date, daily_pnl, daily_trades, consecutive_losses, lifetime_trades, confidence_threshold
		FROM risk_snapshots WHERE date = ?
	`, date).Scan(&s.Date, &s.DailyPnL, &s.DailyTrades, &s.ConsecutiveLosses, &s.LifetimeTrades, &s.ConfidenceThreshold)
	if errors.Is(err, sql.ErrNoRows) {
		return s, ErrNotFound
	}
	return s, err
}

// Today formats the current date the way risk snapshots are keyed.
func Today(now time.Time) string {
	return now.Format("2006-01-02")
}
