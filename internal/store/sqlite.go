package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/mattn/go-sqlite3"

	"replay-trader/internal/errors"
	"replay-trader/internal/models"
	"replay-trader/pkg/utils"
)

// SQLiteArchive implements Archive using SQLite.
type SQLiteArchive struct {
	db    *sql.DB
	path  string
	retry utils.RetryConfig
}

// NewSQLiteArchive opens (or creates) the archive database.
func NewSQLiteArchive(dbPath string) (*SQLiteArchive, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, errors.NewPersistenceError("open", dbPath, err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	retry := utils.DefaultRetryConfig()
	retry.ShouldRetry = isBusy

	a := &SQLiteArchive{db: db, path: dbPath, retry: retry}
	if err := a.initSchema(); err != nil {
		db.Close()
		return nil, errors.NewPersistenceError("schema", dbPath, err)
	}
	return a, nil
}

// isBusy reports whether a write lost a lock race and may be retried.
func isBusy(err error) bool {
	var se sqlite3.Error
	if errors.As(err, &se) {
		return se.Code == sqlite3.ErrBusy || se.Code == sqlite3.ErrLocked
	}
	return false
}

func (a *SQLiteArchive) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS agent_decisions (
		id TEXT PRIMARY KEY,
		agent_id TEXT NOT NULL,
		cycle_number INTEGER NOT NULL,
		ts_ms INTEGER NOT NULL,
		bar_ts_ms INTEGER NOT NULL DEFAULT 0,
		trading_day TEXT,
		symbol TEXT NOT NULL,
		action TEXT NOT NULL,
		quantity INTEGER NOT NULL DEFAULT 0,
		price REAL NOT NULL DEFAULT 0,
		confidence REAL NOT NULL,
		reasoning TEXT,
		account_state TEXT,
		executed INTEGER DEFAULT 0,
		filled_quantity INTEGER DEFAULT 0,
		notional REAL DEFAULT 0,
		fee REAL DEFAULT 0,
		order_id TEXT,
		reject_reason TEXT,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS closed_positions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		agent_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		quantity INTEGER NOT NULL,
		entry_price REAL NOT NULL,
		exit_price REAL NOT NULL,
		entry_ts_ms INTEGER NOT NULL,
		exit_ts_ms INTEGER NOT NULL,
		entry_order_id TEXT,
		exit_order_id TEXT,
		entry_fee REAL NOT NULL DEFAULT 0,
		exit_fee REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL,
		cycle_number INTEGER NOT NULL,
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_decisions_agent ON agent_decisions(agent_id, cycle_number);
	CREATE INDEX IF NOT EXISTS idx_decisions_symbol ON agent_decisions(symbol);
	CREATE INDEX IF NOT EXISTS idx_closed_agent ON closed_positions(agent_id, exit_ts_ms);
	`
	_, err := a.db.Exec(schema)
	return err
}

// Path returns the database file path.
func (a *SQLiteArchive) Path() string {
	return a.path
}

// SaveDecision upserts a decision keyed by its id.
func (a *SQLiteArchive) SaveDecision(ctx context.Context, d *models.Decision) error {
	var account []byte
	if d.AccountState != nil {
		account, _ = json.Marshal(d.AccountState)
	}

	err := utils.Retry(ctx, a.retry, func() error {
		_, err := a.db.ExecContext(ctx, `
			INSERT OR REPLACE INTO agent_decisions (id, agent_id, cycle_number, ts_ms, bar_ts_ms, trading_day, symbol, action, quantity, price, confidence, reasoning, account_state, executed, filled_quantity, notional, fee, order_id, reject_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, d.ID, d.AgentID, d.CycleNumber, d.Timestamp.UnixMilli(), d.BarTsMs, d.TradingDay, d.Symbol, string(d.Action), d.Quantity, d.Price, d.Confidence, d.Reasoning, string(account), boolInt(d.Executed), d.FilledQuantity, d.Notional, d.Fee, d.OrderID, d.RejectReason)
		return err
	})
	if err != nil {
		return errors.NewPersistenceError("save decision", a.path, err)
	}
	return nil
}

// SaveClosedPositions appends closed positions in one transaction.
func (a *SQLiteArchive) SaveClosedPositions(ctx context.Context, agentID string, closed []models.ClosedPosition) error {
	if len(closed) == 0 {
		return nil
	}

	err := utils.Retry(ctx, a.retry, func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO closed_positions (agent_id, symbol, side, quantity, entry_price, exit_price, entry_ts_ms, exit_ts_ms, entry_order_id, exit_order_id, entry_fee, exit_fee, fee, realized_pnl, cycle_number)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, c := range closed {
			if _, err := stmt.ExecContext(ctx, agentID, c.Symbol, string(c.Side), c.Quantity, c.EntryPrice, c.ExitPrice,
				c.EntryTime.UnixMilli(), c.ExitTime.UnixMilli(), c.EntryOrderID, c.ExitOrderID,
				c.EntryFee, c.ExitFee, c.Fee, c.RealizedPnL, c.CycleNumber); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return errors.NewPersistenceError("save closed positions", a.path, err)
	}
	return nil
}

// GetDecisions retrieves decisions, newest cycle first.
func (a *SQLiteArchive) GetDecisions(ctx context.Context, filter DecisionFilter) ([]models.Decision, error) {
	query := `SELECT id, agent_id, cycle_number, ts_ms, bar_ts_ms, COALESCE(trading_day, ''), symbol, action, quantity, price, confidence,
		COALESCE(reasoning, ''), COALESCE(account_state, ''), executed, filled_quantity, notional, fee, COALESCE(order_id, ''), COALESCE(reject_reason, '')
		FROM agent_decisions WHERE 1=1`
	args := []interface{}{}

	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}
	if filter.Action != "" {
		query += " AND action = ?"
		args = append(args, string(filter.Action))
	}
	if filter.Executed != nil {
		query += " AND executed = ?"
		args = append(args, boolInt(*filter.Executed))
	}

	query += " ORDER BY cycle_number DESC, agent_id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query decisions")
	}
	defer rows.Close()

	var decisions []models.Decision
	for rows.Next() {
		var d models.Decision
		var tsMs int64
		var action, account string
		var executed int

		if err := rows.Scan(&d.ID, &d.AgentID, &d.CycleNumber, &tsMs, &d.BarTsMs, &d.TradingDay, &d.Symbol, &action, &d.Quantity, &d.Price, &d.Confidence,
			&d.Reasoning, &account, &executed, &d.FilledQuantity, &d.Notional, &d.Fee, &d.OrderID, &d.RejectReason); err != nil {
			return nil, errors.Wrap(err, "failed to scan decision")
		}

		d.Action = models.Action(action)
		d.Timestamp = time.UnixMilli(tsMs).UTC()
		d.Executed = executed == 1
		if account != "" {
			var st models.AccountState
			if json.Unmarshal([]byte(account), &st) == nil {
				d.AccountState = &st
			}
		}
		decisions = append(decisions, d)
	}

	return decisions, rows.Err()
}

// GetClosedPositions retrieves closed positions, most recent exit first.
func (a *SQLiteArchive) GetClosedPositions(ctx context.Context, filter ClosedFilter) ([]models.ClosedPosition, error) {
	query := `SELECT symbol, side, quantity, entry_price, exit_price, entry_ts_ms, exit_ts_ms, COALESCE(entry_order_id, ''), COALESCE(exit_order_id, ''),
		entry_fee, exit_fee, fee, realized_pnl, cycle_number FROM closed_positions WHERE 1=1`
	args := []interface{}{}

	if filter.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, filter.AgentID)
	}
	if filter.Symbol != "" {
		query += " AND symbol = ?"
		args = append(args, filter.Symbol)
	}

	query += " ORDER BY exit_ts_ms DESC, id DESC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query closed positions")
	}
	defer rows.Close()

	var out []models.ClosedPosition
	for rows.Next() {
		var c models.ClosedPosition
		var side string
		var entryMs, exitMs int64
		if err := rows.Scan(&c.Symbol, &side, &c.Quantity, &c.EntryPrice, &c.ExitPrice, &entryMs, &exitMs, &c.EntryOrderID, &c.ExitOrderID,
			&c.EntryFee, &c.ExitFee, &c.Fee, &c.RealizedPnL, &c.CycleNumber); err != nil {
			return nil, errors.Wrap(err, "failed to scan closed position")
		}
		c.Side = models.PositionSide(side)
		c.EntryTime = time.UnixMilli(entryMs).UTC()
		c.ExitTime = time.UnixMilli(exitMs).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetDecisionStats aggregates the archive. An empty agentID covers all agents.
func (a *SQLiteArchive) GetDecisionStats(ctx context.Context, agentID string) (*DecisionStats, error) {
	where, args := "", []interface{}{}
	if agentID != "" {
		where = " WHERE agent_id = ?"
		args = append(args, agentID)
	}

	stats := &DecisionStats{BySymbol: make(map[string]int)}
	err := a.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(executed), 0),
			COALESCE(SUM(CASE WHEN action = 'buy' AND executed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'sell' AND executed = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN action = 'hold' THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(confidence), 0),
			COALESCE(SUM(fee), 0)
		FROM agent_decisions`+where, args...).Scan(
		&stats.TotalDecisions, &stats.Executed, &stats.Buys, &stats.Sells, &stats.Holds, &stats.AvgConfidence, &stats.TotalFees)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get decision stats")
	}

	err = a.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(realized_pnl), 0),
			COALESCE(SUM(CASE WHEN realized_pnl > 0 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN realized_pnl < 0 THEN 1 ELSE 0 END), 0)
		FROM closed_positions`+where, args...).Scan(&stats.RealizedPnL, &stats.Wins, &stats.Losses)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get closed position stats")
	}

	rows, err := a.db.QueryContext(ctx, "SELECT symbol, COUNT(*) FROM agent_decisions"+where+" GROUP BY symbol", args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to get symbol stats")
	}
	defer rows.Close()
	for rows.Next() {
		var symbol string
		var n int
		if err := rows.Scan(&symbol, &n); err != nil {
			return nil, errors.Wrap(err, "failed to scan symbol stats")
		}
		stats.BySymbol[symbol] = n
	}

	stats.AvgConfidence = utils.Round2(stats.AvgConfidence)
	stats.TotalFees = utils.Round2(stats.TotalFees)
	stats.RealizedPnL = utils.Round2(stats.RealizedPnL)
	return stats, rows.Err()
}

// Reset deletes all archived rows.
func (a *SQLiteArchive) Reset(ctx context.Context) error {
	err := utils.Retry(ctx, a.retry, func() error {
		tx, err := a.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()
		if _, err := tx.ExecContext(ctx, "DELETE FROM agent_decisions"); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, "DELETE FROM closed_positions"); err != nil {
			return err
		}
		return tx.Commit()
	})
	if err != nil {
		return errors.NewPersistenceError("reset", a.path, err)
	}
	return nil
}

// Close closes the database connection.
func (a *SQLiteArchive) Close() error {
	return a.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
