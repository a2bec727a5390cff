package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"acctshop-api/internal/model"
	"acctshop-api/pkg/logging"

	"github.com/sirupsen/logrus"
)

// MySQLLedger implements Ledger using MySQL 8 (InnoDB).
// MySQL has no RETURNING, so each mutation runs in a transaction with
// explicit row locks.
type MySQLLedger struct {
	db  *sql.DB
	log *logrus.Entry
}

// NewMySQLLedger wraps an open MySQL pool. The DSN must set parseTime=true.
func NewMySQLLedger(db *sql.DB, logger logrus.FieldLogger) *MySQLLedger {
	return &MySQLLedger{db: db, log: logging.Component(logger, "mysql_ledger")}
}

var mysqlSchema = []string{
	`CREATE TABLE IF NOT EXISTS inventory_items (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		identity VARCHAR(64) NOT NULL UNIQUE,
		secret VARCHAR(255) NOT NULL,
		session_token TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'ready',
		reserved_by BIGINT NULL,
		reserved_amount BIGINT NOT NULL DEFAULT 0,
		reserved_until DATETIME(6) NULL,
		created_at DATETIME(6) NOT NULL,
		INDEX idx_inventory_status (status, reserved_by)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS sales (
		id BIGINT AUTO_INCREMENT PRIMARY KEY,
		item_id BIGINT NOT NULL,
		identity VARCHAR(64) NOT NULL,
		buyer_id BIGINT NOT NULL,
		amount BIGINT NOT NULL,
		sold_at DATETIME(6) NOT NULL,
		INDEX idx_sales_sold_at (sold_at),
		CONSTRAINT fk_sales_item FOREIGN KEY (item_id) REFERENCES inventory_items(id)
	) ENGINE=InnoDB`,
	`CREATE TABLE IF NOT EXISTS balances (
		user_id BIGINT PRIMARY KEY,
		balance BIGINT NOT NULL DEFAULT 0
	) ENGINE=InnoDB`,
}

// Migrate creates the ledger tables if they do not exist.
// The driver rejects multi-statement strings by default, so each runs alone.
func (r *MySQLLedger) Migrate(ctx context.Context) error {
	for _, stmt := range mysqlSchema {
		if _, err := r.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	r.log.Info("ledger schema ready")
	return nil
}

const mysqlItemColumns = `id, identity, secret, session_token, status, reserved_by, reserved_amount, reserved_until, created_at`

// AddOrReplaceInventory locks the identity row, refuses held rows and
// otherwise updates in place or inserts.
func (r *MySQLLedger) AddOrReplaceInventory(ctx context.Context, identity, secret, sessionToken string) (*model.InventoryItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin add inventory", err)
	}
	defer tx.Rollback()

	now := time.Now().UTC().Truncate(time.Microsecond)

	var (
		id         int64
		reservedBy sql.NullInt64
	)
	err = tx.QueryRowContext(ctx,
		`SELECT id, reserved_by FROM inventory_items WHERE identity = ? FOR UPDATE`, identity).
		Scan(&id, &reservedBy)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		res, err := tx.ExecContext(ctx, `
			INSERT INTO inventory_items (identity, secret, session_token, status, created_at)
			VALUES (?, ?, ?, 'ready', ?)`, identity, secret, sessionToken, now)
		if err != nil {
			return nil, storeErr("insert inventory", err)
		}
		if id, err = res.LastInsertId(); err != nil {
			return nil, storeErr("insert inventory", err)
		}
	case err != nil:
		return nil, storeErr("lock inventory", err)
	case reservedBy.Valid:
		return nil, ErrInventoryHeld
	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE inventory_items
			SET secret = ?, session_token = ?, status = 'ready',
				reserved_by = NULL, reserved_amount = 0, reserved_until = NULL, created_at = ?
			WHERE id = ?`, secret, sessionToken, now, id); err != nil {
			return nil, storeErr("replace inventory", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit add inventory", err)
	}
	return &model.InventoryItem{
		ID:           id,
		Identity:     identity,
		Secret:       secret,
		SessionToken: sessionToken,
		Status:       model.StatusReady,
		CreatedAt:    now,
	}, nil
}

func mysqlReserve(ctx context.Context, tx *sql.Tx, buyerID, amount int64, holdUntil time.Time) (*model.InventoryItem, error) {
	item, err := scanTimedItem(tx.QueryRowContext(ctx, `
		SELECT `+mysqlItemColumns+` FROM inventory_items
		WHERE status = 'ready' AND reserved_by IS NULL
		LIMIT 1
		FOR UPDATE SKIP LOCKED`))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("select inventory", err)
	}

	until := holdUntil.UTC().Truncate(time.Microsecond)
	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items SET reserved_by = ?, reserved_amount = ?, reserved_until = ?
		WHERE id = ?`, buyerID, amount, until, item.ID); err != nil {
		return nil, storeErr("reserve inventory", err)
	}

	item.ReservedBy = &buyerID
	item.ReservedAmount = amount
	item.ReservedUntil = &until
	return item, nil
}

// ReserveReadyInventory holds one Ready item for buyerID.
func (r *MySQLLedger) ReserveReadyInventory(ctx context.Context, buyerID, amount int64, holdUntil time.Time) (*model.InventoryItem, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin reserve", err)
	}
	defer tx.Rollback()

	item, err := mysqlReserve(ctx, tx, buyerID, amount, holdUntil)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit reserve", err)
	}
	return item, nil
}

// Checkout debits, reserves and, if nothing is left, refunds in one transaction.
func (r *MySQLLedger) Checkout(ctx context.Context, buyerID, price int64, holdUntil time.Time) (*model.Checkout, error) {
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

	item, err := mysqlReserve(ctx, tx, buyerID, price, holdUntil)
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
func (r *MySQLLedger) FinalizeSale(ctx context.Context, itemID, buyerID, amount int64) (*model.SaleRecord, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr("begin finalize", err)
	}
	defer tx.Rollback()

	var identity string
	err = tx.QueryRowContext(ctx, `
		SELECT identity FROM inventory_items
		WHERE id = ? AND status = 'ready' AND reserved_by = ?
		FOR UPDATE`, itemID, buyerID).Scan(&identity)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrAlreadySold
	}
	if err != nil {
		return nil, storeErr("lock item", err)
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE inventory_items
		SET status = 'sold', reserved_by = NULL, reserved_amount = 0, reserved_until = NULL
		WHERE id = ?`, itemID); err != nil {
		return nil, storeErr("mark sold", err)
	}

	sale := &model.SaleRecord{
		ItemID:   itemID,
		Identity: identity,
		BuyerID:  buyerID,
		Amount:   amount,
		SoldAt:   time.Now().UTC().Truncate(time.Microsecond),
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO sales (item_id, identity, buyer_id, amount, sold_at) VALUES (?, ?, ?, ?, ?)`,
		itemID, identity, buyerID, amount, sale.SoldAt)
	if err != nil {
		return nil, storeErr("insert sale", err)
	}
	if sale.ID, err = res.LastInsertId(); err != nil {
		return nil, storeErr("insert sale", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr("commit finalize", err)
	}
	return sale, nil
}

// ReleaseReservation drops a hold owned by buyerID and refunds it.
func (r *MySQLLedger) ReleaseReservation(ctx context.Context, itemID, buyerID int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin release", err)
	}
	defer tx.Rollback()

	var amount int64
	err = tx.QueryRowContext(ctx, `
		SELECT reserved_amount FROM inventory_items
		WHERE id = ? AND status = 'ready' AND reserved_by = ?
		FOR UPDATE`, itemID, buyerID).Scan(&amount)
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
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)`, buyerID, amount); err != nil {
		return 0, storeErr("refund hold", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit release", err)
	}
	return amount, nil
}

// ExpiredReservations lists holds whose deadline is before now.
func (r *MySQLLedger) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, identity, reserved_by, reserved_amount, reserved_until
		FROM inventory_items
		WHERE status = 'ready' AND reserved_by IS NOT NULL AND reserved_until < ?
		ORDER BY reserved_until
		LIMIT ?`, now.UTC(), limit)
	if err != nil {
		return nil, storeErr("list expired holds", err)
	}
	defer rows.Close()

	var out []model.Reservation
	for rows.Next() {
		var res model.Reservation
		if err := rows.Scan(&res.ItemID, &res.Identity, &res.BuyerID, &res.Amount, &res.HeldUntil); err != nil {
			return nil, storeErr("scan hold", err)
		}
		out = append(out, res)
	}
	return out, storeErr("list expired holds", rows.Err())
}

// AdjustBalance upserts the delta and reads the result in one transaction.
func (r *MySQLLedger) AdjustBalance(ctx context.Context, userID, delta int64) (int64, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr("begin adjust", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO balances (user_id, balance) VALUES (?, ?)
		ON DUPLICATE KEY UPDATE balance = balance + VALUES(balance)`, userID, delta); err != nil {
		return 0, storeErr("adjust balance", err)
	}

	var balance int64
	if err := tx.QueryRowContext(ctx, `SELECT balance FROM balances WHERE user_id = ?`, userID).Scan(&balance); err != nil {
		return 0, storeErr("read balance", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, storeErr("commit adjust", err)
	}
	return balance, nil
}

// GetBalance returns the user's balance, 0 if unknown.
func (r *MySQLLedger) GetBalance(ctx context.Context, userID int64) (int64, error) {
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
func (r *MySQLLedger) DailyStats(ctx context.Context, now time.Time) (*model.DailyStats, error) {
	start, end := dayBounds(now)
	stats := &model.DailyStats{Day: start}

	err := r.db.QueryRowContext(ctx, `
		SELECT
			COALESCE(SUM(reserved_by IS NULL), 0),
			COALESCE(SUM(reserved_by IS NOT NULL), 0)
		FROM inventory_items WHERE status = 'ready'`).Scan(&stats.Ready, &stats.Reserved)
	if err != nil {
		return nil, storeErr("count inventory", err)
	}

	err = r.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(amount), 0)
		FROM sales WHERE sold_at >= ? AND sold_at < ?`, start.UTC(), end.UTC()).
		Scan(&stats.SoldToday, &stats.RevenueToday)
	if err != nil {
		return nil, storeErr("sum sales", err)
	}
	return stats, nil
}

// ListReady returns every Ready item.
func (r *MySQLLedger) ListReady(ctx context.Context) ([]model.InventoryItem, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+mysqlItemColumns+` FROM inventory_items WHERE status = 'ready' ORDER BY id`)
	if err != nil {
		return nil, storeErr("list ready", err)
	}
	defer rows.Close()

	var items []model.InventoryItem
	for rows.Next() {
		item, err := scanTimedItem(rows)
		if err != nil {
			return nil, storeErr("scan item", err)
		}
		items = append(items, *item)
	}
	return items, storeErr("list ready", rows.Err())
}

// Ping checks the database connection.
func (r *MySQLLedger) Ping(ctx context.Context) error {
	return storeErr("ping", r.db.PingContext(ctx))
}

// Close closes the connection pool.
func (r *MySQLLedger) Close() error {
	return r.db.Close()
}

// Ensure MySQLLedger implements Ledger
var _ Ledger = (*MySQLLedger)(nil)
