package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"

	"github.com/ethereum/go-ethereum/common"
	_ "github.com/mattn/go-sqlite3"

	"dex-relayer/internal/config"
	"dex-relayer/internal/order"
)

// ErrOrderNotFound 表示订单不在存储中。
var ErrOrderNotFound = errors.New("store: 订单不存在")

// StoredOrder 是存储中的一条签名订单及其标识。
type StoredOrder struct {
	ID     common.Hash
	Signed *order.SignedOrder
}

// OrderStore 是核心消费的订单状态界面，持久化策略由调用方决定。
type OrderStore interface {
	SaveOrder(ctx context.Context, id common.Hash, so *order.SignedOrder) error
	OpenOrders(ctx context.Context) ([]StoredOrder, error)
	RemainingAmount(ctx context.Context, id common.Hash) (*big.Int, error)
	RecordFill(ctx context.Context, id common.Hash, amountIn, amountOut *big.Int, txHash common.Hash) error
	MarkClosed(ctx context.Context, id common.Hash) error
}

// Store 是基于 SQLite 的 OrderStore 实现。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储并建表。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	dsn := cfg.Path
	if cfg.InMemory {
		dsn = ":memory:"
	} else {
		if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
			return nil, err
		}
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("%s?_busy_timeout=5000&_foreign_keys=on", dsn))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
	}

	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	s := &Store{db: conn}
	if err := s.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id         TEXT PRIMARY KEY,
	maker      TEXT NOT NULL,
	token_in   TEXT NOT NULL,
	token_out  TEXT NOT NULL,
	amount_in  TEXT NOT NULL,
	expiry     INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT 'open',
	payload    BLOB NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS fills (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	order_id   TEXT NOT NULL REFERENCES orders(id),
	amount_in  TEXT NOT NULL,
	amount_out TEXT NOT NULL,
	tx_hash    TEXT NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_fills_order ON fills(order_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("初始化订单表失败: %w", err)
	}
	return nil
}

// SaveOrder 写入一条签名订单，重复写入同一 ID 是幂等的。
func (s *Store) SaveOrder(ctx context.Context, id common.Hash, so *order.SignedOrder) error {
	payload, err := json.Marshal(so)
	if err != nil {
		return fmt.Errorf("序列化签名订单失败: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
INSERT INTO orders (id, maker, token_in, token_out, amount_in, expiry, status, payload, created_at)
VALUES (?, ?, ?, ?, ?, ?, 'open', ?, ?)
ON CONFLICT(id) DO NOTHING`,
		id.Hex(),
		so.Order.Maker.Hex(),
		so.Order.TokenIn.Hex(),
		so.Order.TokenOut.Hex(),
		so.Order.AmountIn.String(),
		so.Order.Expiry,
		payload,
		time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("写入订单失败: %w", err)
	}
	return nil
}

// OpenOrders 返回全部未关闭订单。
func (s *Store) OpenOrders(ctx context.Context) ([]StoredOrder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, payload FROM orders WHERE status = 'open' ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("查询未关闭订单失败: %w", err)
	}
	defer rows.Close()

	var out []StoredOrder
	for rows.Next() {
		var (
			idHex   string
			payload []byte
		)
		if err := rows.Scan(&idHex, &payload); err != nil {
			return nil, fmt.Errorf("读取订单行失败: %w", err)
		}
		var so order.SignedOrder
		if err := json.Unmarshal(payload, &so); err != nil {
			return nil, fmt.Errorf("反序列化订单 %s 失败: %w", idHex, err)
		}
		out = append(out, StoredOrder{ID: common.HexToHash(idHex), Signed: &so})
	}
	return out, rows.Err()
}

// RemainingAmount 返回订单未成交余量：amountIn − Σ 已成交输入量。
func (s *Store) RemainingAmount(ctx context.Context, id common.Hash) (*big.Int, error) {
	var amountIn string
	err := s.db.QueryRowContext(ctx, `SELECT amount_in FROM orders WHERE id = ?`, id.Hex()).Scan(&amountIn)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("查询订单失败: %w", err)
	}

	total, ok := new(big.Int).SetString(amountIn, 10)
	if !ok {
		return nil, fmt.Errorf("订单 %s 的 amount_in 不是合法数字", id.Hex())
	}

	rows, err := s.db.QueryContext(ctx, `SELECT amount_in FROM fills WHERE order_id = ?`, id.Hex())
	if err != nil {
		return nil, fmt.Errorf("查询成交记录失败: %w", err)
	}
	defer rows.Close()

	filled := new(big.Int)
	for rows.Next() {
		var amount string
		if err := rows.Scan(&amount); err != nil {
			return nil, fmt.Errorf("读取成交行失败: %w", err)
		}
		v, ok := new(big.Int).SetString(amount, 10)
		if !ok {
			return nil, fmt.Errorf("成交记录包含非法数字 %q", amount)
		}
		filled.Add(filled, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	remaining := total.Sub(total, filled)
	if remaining.Sign() < 0 {
		remaining.SetInt64(0)
	}
	return remaining, nil
}

// RecordFill 追加一条成交记录。
func (s *Store) RecordFill(ctx context.Context, id common.Hash, amountIn, amountOut *big.Int, txHash common.Hash) error {
	_, err := s.db.ExecContext(ctx, `
INSERT INTO fills (order_id, amount_in, amount_out, tx_hash, created_at)
VALUES (?, ?, ?, ?, ?)`,
		id.Hex(), amountIn.String(), amountOut.String(), txHash.Hex(), time.Now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("写入成交记录失败: %w", err)
	}
	return nil
}

// MarkClosed 关闭订单，之后不再参与中继循环。
func (s *Store) MarkClosed(ctx context.Context, id common.Hash) error {
	res, err := s.db.ExecContext(ctx, `UPDATE orders SET status = 'closed' WHERE id = ?`, id.Hex())
	if err != nil {
		return fmt.Errorf("关闭订单失败: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
