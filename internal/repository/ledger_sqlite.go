package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"acctshop-api/internal/model"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // Pure Go SQLite driver - no CGO required
)

// SQLiteLedger implements Ledger using SQLite.
// A single connection plus the mutex serializes writers, which makes every
// read-modify-write below atomic. Timestamps are stored as unix seconds.
type SQLiteLedger struct {
	db  *sql.DB
	mu  sync.RWMutex
	log *logrus.Entry
}

// NewSQLiteLedger opens (or creates) the ledger database at dbPath.
func NewSQLiteLedger(dbPath string, logger logrus.FieldLogger) (*SQLiteLedger, error) {
	if dir := filepath.Dir(dbPath); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create ledger directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)", dbPath)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite: %w", err)
	}

	// SQLite only supports 1 writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := createSQLiteTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	l := &SQLiteLedger{db: db, log: logging.Component(logger, "sqlite_ledger")}
	l.log.WithField("path", dbPath).Info("ledger initialized")
	return l, nil
}

func createSQLiteTables(db *sql.DB) error {
	query := `
	CREATE TABLE IF NOT EXISTS inventory_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		identity TEXT NOT NULL UNIQUE,
		secret TEXT NOT NULL,
		session_token TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'ready',
		reserved_by INTEGER,
		reserved_amount INTEGER NOT NULL DEFAULT 0,
		reserved_until INTEGER,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_inventory_status ON inventory_items(status, reserved_by);
	CREATE TABLE IF NOT EXISTS sales (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		item_id INTEGER NOT NULL REFERENCES inventory_items(id),
		identity TEXT NOT NULL,
		buyer_id INTEGER NOT NULL,
		amount INTEGER NOT NULL,
		sold_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sales_sold_at ON sales(sold_at);
	CREATE TABLE IF NOT EXISTS balances (
		user_id INTEGER PRIMARY KEY,
		balance INTEGER NOT NULL DEFAULT 0
	);
	`
	_, err := db.Exec(query)
	return err
}

const sqliteItemColumns = `id, identity, secret, session_token, status, reserved_by, reserved_amount, reserved_until, created_at`

func scanSQLiteItem(row interface{ Scan(...any) error }) (*model.InventoryItem, error) {
	var (
		item          model.InventoryItem
		status        string
		reservedBy    sql.NullInt64
		reservedUntil sql.NullInt64
		createdAt     int64
	)
	if err := row.Scan(&item.ID, &item.Identity, &item.Secret, &item.SessionToken, &status,
		&reservedBy, &item.ReservedAmount, &reservedUntil, &createdAt); err != nil {
		return nil, err
	}
	item.Status = model.InventoryStatus(status)
	item.CreatedAt = time.Unix(createdAt, 0).UTC()
	if reservedBy.Valid {
		v := reservedBy.Int64
		item.ReservedBy = &v
	}
	if reservedUntil.Valid {
		t := time.Unix(reservedUntil.Int64, 0).UTC()
		item.ReservedUntil = &t
	}
	return &item, nil
}

// AddOrReplaceInventory upserts a Ready item. Held rows are left untouched.
func (r *SQLiteLedger) AddOrReplaceInventory(ctx context.Context, identity, secret, sessionToken string) (*model.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	query := `
		INSERT INTO inventory_items (identity, secret, session_token, status, created_at)
		VALUES (?, ?, ?, 'ready', ?)
		ON CONFLICT(identity) DO UPDATE SET
			secret = excluded.secret,
			session_token = excluded.session_token,
			status = 'ready',
			reserved_by = NULL,
			reserved_amount = 0,
			reserved_until = NULL,
			created_at = excluded.created_at
		WHERE inventory_items.reserved_by IS NULL
		RETURNING ` + sqliteItemColumns

	item, err := scanSQLiteItem(r.db.QueryRowContext(ctx, query, identity, secret, sessionToken, time.Now().Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrInventoryHeld
	}
	if err != nil {
		return nil, storeErr("add inventory", err)
	}
	return item, nil
}

type sqliteQuerier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func sqliteReserve(ctx context.Context, q sqliteQuerier, buyerID, amount int64, holdUntil time.Time) (*model.InventoryItem, error) {
	query := `
		UPDATE inventory_items
		SET reserved_by = ?, reserved_amount = ?, reserved_until = ?
		WHERE id = (
			SELECT id FROM inventory_items
			WHERE status = 'ready' AND reserved_by IS NULL
			LIMIT 1
		)
		RETURNING ` + sqliteItemColumns

	item, err := scanSQLiteItem(q.QueryRowContext(ctx, query, buyerID, amount, holdUntil.Unix()))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("reserve inventory", err)
	}
	return item, nil
}

// ReserveReadyInventory holds one Ready item for buyerID.
func (r *SQLiteLedger) ReserveReadyInventory(ctx context.Context, buyerID, amount int64, holdUntil time.Time) (*model.InventoryItem, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return sqliteReserve(ctx, r.db, buyerID, amount, holdUntil)
}

// Checkout debits price, reserves an item and refunds in the same
// transaction when nothing is available.
func (r *SQLiteLedger) Checkout(ctx context.Context, buyerID, price int64, holdUntil time.Time) (*model.Checkout, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin checkout", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE balances SET balance = balance - ? WHERE user_id = ? AND balance >= ?`,
		price, buyerID, price)
	if err != nil {
		return nil, storeErr("debit", err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, storeErr("debit", err)
	} else if n == 0 {
		return nil, ErrInsufficientFunds
	}

	item, err := sqliteReserve(ctx, tx, buyerID, price, holdUntil)
	if errors.Is(err, ErrNotFound) {
		if _, err := tx.ExecContext(ctx,
			`UPDATE balances SET balance = balance + ? WHERE user_id = ?`, price, buyerID); err != nil {
			return nil, storeErr("refund", err)
		}
		if err := tx.Commit(); err != nil {
			return nil, storeErr("commit refund", err)
		}
		r.log.WithFields(logrus.Fields{"buyer_id": buyerID, "amount": price}).Info("checkout refunded: no inventory")
		return nil, ErrOutOfStock
	}
	if err != nil {
		return nil, err
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, buyerID).Scan(&balance); err != nil {
		return nil, storeErr("read balance", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit checkout", err)
	}
	return &model.Checkout{Item: item, Balance: balance}, nil
}

// FinalizeSale marks the item Sold and inserts its SaleRecord.
func (r *SQLiteLedger) FinalizeSale(ctx context.Context, itemID, buyerID, amount int64) (*model.SaleRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin finalize", err)
	}
	defer tx.Rollback()

	var identity string
	err = tx.QueryRowContext(ctx, `
		UPDATE inventory_items
		SET status = 'sold', reserved_by = NULL, reserved_amount = 0, reserved_until = NULL
		WHERE id = ? AND status = 'ready' AND reserved_by = ?
		RETURNING identity`, itemID, buyerID).Scan(&identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadySold
	}
	if err != nil {
		return nil, storeErr("mark sold", err)
	}

	sale := &model.SaleRecord{
		ItemID:   itemID,
		Identity: identity,
		BuyerID:  buyerID,
		Amount:   amount,
		SoldAt:   time.Now().UTC().Truncate(time.Second),
	}
	err = tx.QueryRowContext(ctx,
		`INSERT INTO sales (item_id, identity, buyer_id, amount, sold_at) VALUES (?, ?, ?, ?, ?) RETURNING id`,
		itemID, identity, buyerID, amount, sale.SoldAt.Unix()).Scan(&sale.ID)
	if err != nil {
		return nil, storeErr("insert sale", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit finalize", err)
	}
	return sale, nil
}

// ReleaseReservation drops a hold owned by buyerID and refunds it.
func (r *SQLiteLedger) ReleaseReservation(ctx context.Context, itemID, buyerID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin release", err)
	}
	defer tx.Rollback()

	var amount int64
	err = tx.QueryRowContext(ctx,
		`SELECT reserved_amount FROM inventory_items WHERE id = ? AND status = 'ready' AND reserved_by = ?`,
		itemID, buyerID).Scan(&amount)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotHeld
	}
	if err != nil {
		return 0, storeErr("read hold", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET reserved_by = NULL, reserved_amount = 0, reserved_until = NULL
		WHERE id = ?`, itemID); err != nil {
		return 0, storeErr("clear hold", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance`,
		buyerID, amount); err != nil {
		return 0, storeErr("refund hold", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit release", err)
	}
	return amount, nil
}

// ExpiredReservations lists holds whose deadline is before now.
func (r *SQLiteLedger) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity, reserved_by, reserved_amount, reserved_until
		FROM inventory_items
		WHERE status = 'ready' AND reserved_by IS NOT NULL AND reserved_until < ?
		ORDER BY reserved_until
		LIMIT ?`, now.Unix(), limit)
	if err != nil {
		return nil, storeErr("list expired holds", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var (
			res   model.Reservation
			until int64
		)
		if err := rows.Scan(&res.ItemID, &res.Identity, &res.BuyerID, &res.Amount, &until); err != nil {
			return nil, storeErr("scan hold", err)
		}
		res.HeldUntil = time.Unix(until, 0).UTC()
		out = append(out, res)
	}
	return out, storeErr("list expired holds", rows.Err())
}

// AdjustBalance adds delta in a single upsert.
func (r *SQLiteLedger) AdjustBalance(ctx context.Context, userID, delta int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var balance int64
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO balances (user_id, balance) VALUES (?, ?)
		ON CONFLICT(user_id) DO UPDATE SET balance = balance + excluded.balance
		RETURNING balance`, userID, delta).Scan(&balance)
	if err != nil {
		return 0, storeErr("adjust balance", err)
	}
	return balance, nil
}

// GetBalance returns the user's balance, 0 if unknown.
func (r *SQLiteLedger) GetBalance(ctx context.Context, userID int64) (int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var balance int64
	err := r.db.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&balance)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, storeErr("get balance", err)
	}
	return balance, nil
}

// DailyStats aggregates inventory counts and today's sales.
func (r *SQLiteLedger) DailyStats(ctx context.Context, now time.Time) (*model.DailyStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	start, end := dayBounds(now)
	stats := &model.DailyStats{Day: start}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(CASE WHEN reserved_by IS NULL THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN reserved_by IS NOT NULL THEN 1 ELSE 0 END), 0)
		FROM inventory_items WHERE status = 'ready'`).Scan(&stats.Ready, &stats.Reserved)
	if err != nil {
		return nil, storeErr("count inventory", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM sales WHERE sold_at >= ? AND sold_at < ?`, start.Unix(), end.Unix()).
		Scan(&stats.SoldToday, &stats.RevenueToday)
	if err != nil {
		return nil, storeErr("sum sales", err)
	}
	return stats, nil
}

// ListReady returns every Ready item.
func (r *SQLiteLedger) ListReady(ctx context.Context) ([]model.InventoryItem, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+sqliteItemColumns+` FROM inventory_items WHERE status = 'ready' ORDER BY id`)
	if err != nil {
		return nil, storeErr("list ready", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		item, err := scanSQLiteItem(rows)
		if err != nil {
			return nil, storeErr("scan item", err)
		}
		items = append(items, *item)
	}
	return items, storeErr("list ready", rows.Err())
}

// Ping checks the database connection.
func (r *SQLiteLedger) Ping(ctx context.Context) error {
	return storeErr("ping", r.db.PingContext(ctx))
}

// Close closes the database connection.
func (r *SQLiteLedger) Close() error {
	return r.db.Close()
}

// Ensure SQLiteLedger implements Ledger
var _ Ledger = (*SQLiteLedger)(nil)
