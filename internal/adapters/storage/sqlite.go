package storage

// SQLite order store.
//
// Layout:
//   - `orders`: one row per order. The full record is kept as JSON in
//     `record`; the other columns exist for ad-hoc inspection with sqlite3.
//   - `fill_claims`: at most one lease per order. A claim is taken with an
//     upsert that only overwrites expired leases, so the presence check and
//     the lease write happen in one transaction.

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/alejandrodnm/liqshield/internal/domain"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
    id                TEXT PRIMARY KEY,
    maker             TEXT    NOT NULL,
    maker_asset       TEXT    NOT NULL,
    taker_asset       TEXT    NOT NULL,
    trigger_price     TEXT    NOT NULL,
    trigger_direction TEXT    NOT NULL,
    record            TEXT    NOT NULL,
    created_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS fill_claims (
    order_id   TEXT PRIMARY KEY,
    owner      TEXT    NOT NULL,
    expires_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_orders_created ON orders(created_at);
`

// SQLiteStore implements ports.OrderStore on SQLite (pure Go, no CGo).
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" works
// for tests.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("storage.NewSQLiteStore: open %q: %w", path, err)
	}
	db.SetMaxOpenConns(1) // single writer; also keeps :memory: on one connection
	db.SetMaxIdleConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage.NewSQLiteStore: apply schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, order domain.StoredOrder) error {
	record, err := encodeOrder(order)
	if err != nil {
		return fmt.Errorf("storage.Create: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO orders
			(id, maker, maker_asset, taker_asset, trigger_price, trigger_direction, record, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		order.ID, order.Order.Maker, order.Order.MakerAsset, order.Order.TakerAsset,
		order.TriggerPrice.String(), string(order.TriggerDirection), string(record),
		order.Timestamp.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage.Create: insert %s: %w", order.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.Create: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrConflict
	}
	return nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (domain.StoredOrder, error) {
	var record string
	err := s.db.QueryRowContext(ctx, `SELECT record FROM orders WHERE id = ?`, id).Scan(&record)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.StoredOrder{}, domain.ErrNotFound
	}
	if err != nil {
		return domain.StoredOrder{}, fmt.Errorf("storage.Get: query %s: %w", id, err)
	}
	order, err := decodeOrder([]byte(record))
	if err != nil {
		return domain.StoredOrder{}, fmt.Errorf("storage.Get: %w", err)
	}
	return order, nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]domain.StoredOrder, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT record FROM orders ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("storage.List: query: %w", err)
	}
	defer rows.Close()

	var out []domain.StoredOrder
	for rows.Next() {
		var record string
		if err := rows.Scan(&record); err != nil {
			return nil, fmt.Errorf("storage.List: scan: %w", err)
		}
		order, err := decodeOrder([]byte(record))
		if err != nil {
			return nil, fmt.Errorf("storage.List: %w", err)
		}
		out = append(out, order)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Delete(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Delete: begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM orders WHERE id = ?`, id); err != nil {
		return fmt.Errorf("storage.Delete: order %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM fill_claims WHERE order_id = ?`, id); err != nil {
		return fmt.Errorf("storage.Delete: claim %s: %w", id, err)
	}
	return tx.Commit()
}

func (s *SQLiteStore) Claim(ctx context.Context, id, owner string, ttl time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage.Claim: begin tx: %w", err)
	}
	defer tx.Rollback()

	var exists int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM orders WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("storage.Claim: lookup %s: %w", id, err)
	}

	now := s.now()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO fill_claims (order_id, owner, expires_at) VALUES (?, ?, ?)
		ON CONFLICT(order_id) DO UPDATE SET
			owner      = excluded.owner,
			expires_at = excluded.expires_at
		WHERE fill_claims.expires_at <= ?`,
		id, owner, now.Add(ttl).UnixMilli(), now.UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("storage.Claim: upsert %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("storage.Claim: rows affected: %w", err)
	}
	if n == 0 {
		return domain.ErrAlreadyFilling
	}
	return tx.Commit()
}

func (s *SQLiteStore) Release(ctx context.Context, id, owner string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM fill_claims WHERE order_id = ? AND owner = ?`, id, owner,
	); err != nil {
		return fmt.Errorf("storage.Release: %s: %w", id, err)
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
