// Package journal 把生命周期事件写入 SQLite，用于事后复盘（journal tail）。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/betbot/signaltrader/internal/domain"
	"github.com/betbot/signaltrader/internal/events"
	"github.com/betbot/signaltrader/internal/ports"
)

var log = logrus.WithField("component", "journal")

// Entry 一条日志记录
type Entry struct {
	ID string
	events.LifecycleEvent
}

// Journal SQLite 事件日志，同时是一个 EventSink
type Journal struct {
	db *sql.DB
}

var _ ports.EventSink = (*Journal)(nil)

// Open 打开（必要时创建）日志数据库
func Open(path string) (*Journal, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("mkdir journal dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	for _, stmt := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA busy_timeout=5000`,
		schema,
	} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("init journal: %w", err)
		}
	}
	return &Journal{db: db}, nil
}

func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// OnLifecycleEvent 写入失败只记录日志，不影响交易
func (j *Journal) OnLifecycleEvent(ev events.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := j.Record(ctx, ev); err != nil {
		log.Errorf("写入生命周期事件失败: %v", err)
	}
}

// Record 写入一条事件，返回记录 ID
func (j *Journal) Record(ctx context.Context, ev events.LifecycleEvent) (string, error) {
	t := ev.Time
	if t.IsZero() {
		t = time.Now()
	}
	id, err := newID(t)
	if err != nil {
		return "", fmt.Errorf("journal id: %w", err)
	}
	var price sql.NullString
	if ev.Price != nil {
		price = sql.NullString{String: ev.Price.String(), Valid: true}
	}
	_, err = j.db.ExecContext(ctx, `
		INSERT INTO lifecycle_events
		(id, time_ms, pair, side, from_state, to_state, attempt, order_id, amount, price, minimum, reason)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, t.UnixMilli(), ev.Pair.String(), ev.Side.String(), ev.From, ev.To, ev.Attempt,
		string(ev.OrderID), ev.Amount.String(), price, ev.Minimum.String(), ev.Reason,
	)
	if err != nil {
		return "", fmt.Errorf("insert lifecycle event: %w", err)
	}
	return id, nil
}

// Tail 返回最近 n 条事件（按时间正序）；pair 为空表示所有交易对
func (j *Journal) Tail(ctx context.Context, pair string, n int) ([]Entry, error) {
	if n <= 0 {
		n = 20
	}
	query := `SELECT id, time_ms, pair, side, from_state, to_state, attempt, order_id, amount, price, minimum, reason
		FROM lifecycle_events`
	args := []any{}
	if pair != "" {
		query += ` WHERE pair = ?`
		args = append(args, pair)
	}
	query += ` ORDER BY id DESC LIMIT ?`
	args = append(args, n)

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lifecycle events: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// 倒序查询，正序返回
	for i, k := 0, len(out)-1; i < k; i, k = i+1, k-1 {
		out[i], out[k] = out[k], out[i]
	}
	return out, nil
}

func scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e                        Entry
		timeMs                   int64
		pair, side               string
		orderID, amount, minimum string
		price                    sql.NullString
	)
	if err := rows.Scan(&e.ID, &timeMs, &pair, &side, &e.From, &e.To, &e.Attempt,
		&orderID, &amount, &price, &minimum, &e.Reason); err != nil {
		return Entry{}, fmt.Errorf("scan lifecycle event: %w", err)
	}
	e.Time = time.UnixMilli(timeMs)
	p, err := parsePair(pair)
	if err != nil {
		return Entry{}, err
	}
	e.Pair = p
	e.Side = domain.Side(side)
	e.OrderID = domain.OrderHandle(orderID)
	if e.Amount, err = decimal.NewFromString(amount); err != nil {
		return Entry{}, fmt.Errorf("parse amount %q: %w", amount, err)
	}
	if e.Minimum, err = decimal.NewFromString(minimum); err != nil {
		return Entry{}, fmt.Errorf("parse minimum %q: %w", minimum, err)
	}
	if price.Valid {
		v, err := decimal.NewFromString(price.String)
		if err != nil {
			return Entry{}, fmt.Errorf("parse price %q: %w", price.String, err)
		}
		e.Price = &v
	}
	return e, nil
}

// parsePair 解析 Pair.String() 的输出（CURRENCY-ASSET）
func parsePair(s string) (domain.Pair, error) {
	cur, asset, ok := strings.Cut(s, "-")
	if !ok {
		return domain.Pair{}, fmt.Errorf("invalid pair %q", s)
	}
	return domain.Pair{Currency: cur, Asset: asset}, nil
}
