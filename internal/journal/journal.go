package journal

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	appcfg "strategy-engine/config"
	"strategy-engine/order"
	"strategy-engine/strategy"
)

// Entry 交易日志中的一条订单记录
type Entry struct {
	ID             int64     `json:"id"`
	StrategyID     string    `json:"strategy_id"`
	StrategyType   string    `json:"strategy_type"`
	OrderID        string    `json:"order_id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Quantity       int       `json:"quantity"`
	LimitPrice     float64   `json:"limit_price"`
	Status         string    `json:"status"`
	FilledQuantity int       `json:"filled_quantity"`
	FilledPrice    float64   `json:"filled_price"`
	Duration       string    `json:"duration"`
	Session        string    `json:"session"`
	Error          string    `json:"error,omitempty"`
	RecordedAt     time.Time `json:"recorded_at"`
}

// Filter 查询条件，零值字段不参与过滤
type Filter struct {
	StrategyID string
	Symbol     string
	Since      time.Time
	Until      time.Time
	Limit      int
}

// Journal 基于 SQLite 的交易日志
type Journal struct {
	db     *sql.DB
	logger *zap.Logger
	now    func() time.Time
}

// Open 打开交易日志。in_memory 时使用单连接内存库。
func Open(cfg appcfg.JournalConfig, logger *zap.Logger) (*Journal, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	} else if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000", dsn))
	if err != nil {
		return nil, fmt.Errorf("journal: open sqlite: %w", err)
	}
	// 内存库每个连接独立，只能保留一个
	db.SetMaxOpenConns(1)

	if !cfg.InMemory {
		if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("journal: enable WAL: %w", err)
		}
	}

	j := &Journal{db: db, logger: logger.Named("journal"), now: time.Now}
	if err := j.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return j, nil
}

func (j *Journal) initSchema() error {
	stmt := `
CREATE TABLE IF NOT EXISTS trades (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	strategy_id TEXT NOT NULL,
	strategy_type TEXT NOT NULL,
	order_id TEXT NOT NULL,
	symbol TEXT NOT NULL,
	side TEXT NOT NULL,
	order_type TEXT NOT NULL,
	quantity INTEGER NOT NULL,
	limit_price REAL NOT NULL,
	status TEXT NOT NULL,
	filled_quantity INTEGER NOT NULL,
	filled_price REAL NOT NULL,
	duration TEXT NOT NULL,
	session TEXT NOT NULL,
	error TEXT NOT NULL,
	recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_trades_strategy ON trades(strategy_id);
CREATE INDEX IF NOT EXISTS idx_trades_symbol ON trades(symbol);
`
	if _, err := j.db.Exec(stmt); err != nil {
		return fmt.Errorf("journal: init schema: %w", err)
	}
	return nil
}

// Record 追加一条订单记录
func (j *Journal) Record(ctx context.Context, strategyID string, typ strategy.StrategyType, o order.Order) error {
	now := j.now()
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO trades (strategy_id, strategy_type, order_id, symbol, side, order_type, quantity, limit_price,
			status, filled_quantity, filled_price, duration, session, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		strategyID, string(typ), o.ID, o.Symbol, string(o.Side), string(o.Type), o.Quantity, o.LimitPrice,
		string(o.Status), o.FilledQuantity, o.FilledPrice, string(o.Duration), string(o.Session), o.LastError,
		now.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("journal: insert trade: %w", err)
	}
	return nil
}

// Observer 返回可挂到 Registry 的订单回调，写入失败只记日志。
func (j *Journal) Observer() strategy.OrderObserver {
	return func(strategyID string, typ strategy.StrategyType, o order.Order) {
		if err := j.Record(context.Background(), strategyID, typ, o); err != nil {
			j.logger.Warn("journal record failed",
				zap.String("strategy_id", strategyID),
				zap.String("order_id", o.ID),
				zap.Error(err))
		}
	}
}

// List 按写入顺序返回匹配的记录
func (j *Journal) List(ctx context.Context, f Filter) ([]Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.StrategyID != "" {
		where = append(where, "strategy_id = ?")
		args = append(args, f.StrategyID)
	}
	if f.Symbol != "" {
		where = append(where, "symbol = ?")
		args = append(args, strings.ToUpper(f.Symbol))
	}
	if !f.Since.IsZero() {
		where = append(where, "recorded_at >= ?")
		args = append(args, f.Since.UnixNano())
	}
	if !f.Until.IsZero() {
		where = append(where, "recorded_at < ?")
		args = append(args, f.Until.UnixNano())
	}

	query := `SELECT id, strategy_id, strategy_type, order_id, symbol, side, order_type, quantity, limit_price,
		status, filled_quantity, filled_price, duration, session, error, recorded_at FROM trades`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY id"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("journal: query trades: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e  Entry
			ts int64
		)
		if err := rows.Scan(&e.ID, &e.StrategyID, &e.StrategyType, &e.OrderID, &e.Symbol, &e.Side, &e.Type,
			&e.Quantity, &e.LimitPrice, &e.Status, &e.FilledQuantity, &e.FilledPrice, &e.Duration, &e.Session,
			&e.Error, &ts); err != nil {
			return nil, fmt.Errorf("journal: scan trade: %w", err)
		}
		e.RecordedAt = time.Unix(0, ts).UTC()
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: iterate trades: %w", err)
	}
	return entries, nil
}

var csvHeader = []string{
	"recorded_at", "strategy_id", "strategy_type", "order_id", "symbol", "side", "type",
	"quantity", "limit_price", "status", "filled_quantity", "filled_price", "duration", "session", "error",
}

// ExportCSV 把匹配的记录写成 CSV，返回写出的行数（不含表头）
func (j *Journal) ExportCSV(ctx context.Context, w io.Writer, f Filter) (int, error) {
	entries, err := j.List(ctx, f)
	if err != nil {
		return 0, err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return 0, fmt.Errorf("journal: write csv header: %w", err)
	}
	for _, e := range entries {
		record := []string{
			e.RecordedAt.Format(time.RFC3339Nano),
			e.StrategyID,
			e.StrategyType,
			e.OrderID,
			e.Symbol,
			e.Side,
			e.Type,
			strconv.Itoa(e.Quantity),
			strconv.FormatFloat(e.LimitPrice, 'f', 2, 64),
			e.Status,
			strconv.Itoa(e.FilledQuantity),
			strconv.FormatFloat(e.FilledPrice, 'f', 2, 64),
			e.Duration,
			e.Session,
			e.Error,
		}
		if err := cw.Write(record); err != nil {
			return 0, fmt.Errorf("journal: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return 0, fmt.Errorf("journal: flush csv: %w", err)
	}
	return len(entries), nil
}

// Close 关闭数据库
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("journal: create dir %q: %w", path, err)
	}
	return nil
}
