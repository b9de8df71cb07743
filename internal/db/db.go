package db

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/xtrntr/matchbook/internal/models"
	"github.com/xtrntr/matchbook/internal/money"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Querier is satisfied by both *pgxpool.Pool and pgx.Tx, so every query
// helper can run standalone or inside a transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool

	// LockTimeout bounds how long a transaction waits on a row lock before
	// failing with SQLSTATE 55P03. Zero means wait indefinitely.
	LockTimeout time.Duration
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool, LockTimeout: 3 * time.Second}, nil
}

// Close closes the database connection pool
func (db *DB) Close() {
	db.Pool.Close()
}

// RunTx executes fn inside a transaction with the configured lock timeout.
// fn returning an error rolls everything back.
func (db *DB) RunTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if db.LockTimeout > 0 {
		_, err = tx.Exec(ctx, fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", db.LockTimeout.Milliseconds()))
		if err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// IsLockTimeout reports whether err is a row-lock wait that hit the
// configured lock_timeout (SQLSTATE 55P03).
func IsLockTimeout(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "55P03"
}

// CreateUser inserts a new user with a zero balance
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash) VALUES ($1, $2) RETURNING id, username, password_hash, balance, created_at",
		username, passwordHash).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, balance, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// GetUser retrieves a user by id
func (db *DB) GetUser(ctx context.Context, q Querier, id int64) (*models.User, error) {
	return db.getUser(ctx, q, id, false)
}

// GetUserForUpdate retrieves a user by id and takes a row-exclusive lock on it
// for the duration of the surrounding transaction.
func (db *DB) GetUserForUpdate(ctx context.Context, q Querier, id int64) (*models.User, error) {
	return db.getUser(ctx, q, id, true)
}

func (db *DB) getUser(ctx context.Context, q Querier, id int64, forUpdate bool) (*models.User, error) {
	query := "SELECT id, username, password_hash, balance, created_at FROM users WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	user := &models.User{}
	err := q.QueryRow(ctx, query, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Balance, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// UpdateUserBalance sets a user's cash balance
func (db *DB) UpdateUserBalance(ctx context.Context, q Querier, id int64, balance money.Balance) error {
	_, err := q.Exec(ctx, "UPDATE users SET balance = $1 WHERE id = $2", balance, id)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return nil
}

// GetAssetForUpdate retrieves the (user, symbol) asset row under a row lock,
// creating it zero-initialized if it does not exist yet.
func (db *DB) GetAssetForUpdate(ctx context.Context, q Querier, userID int64, symbol string) (*models.Asset, error) {
	_, err := q.Exec(ctx,
		"INSERT INTO assets (user_id, symbol) VALUES ($1, $2) ON CONFLICT (user_id, symbol) DO NOTHING",
		userID, symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure asset row: %w", err)
	}

	asset := &models.Asset{}
	err = q.QueryRow(ctx,
		"SELECT id, user_id, symbol, amount, locked_amount FROM assets WHERE user_id = $1 AND symbol = $2 FOR UPDATE",
		userID, symbol).Scan(&asset.ID, &asset.UserID, &asset.Symbol, &asset.Amount, &asset.LockedAmount)
	if err != nil {
		return nil, fmt.Errorf("failed to get asset: %w", err)
	}
	return asset, nil
}

// UpdateAsset sets an asset row's free and locked amounts
func (db *DB) UpdateAsset(ctx context.Context, q Querier, id int64, amount, locked money.Amount) error {
	_, err := q.Exec(ctx, "UPDATE assets SET amount = $1, locked_amount = $2 WHERE id = $3", amount, locked, id)
	if err != nil {
		return fmt.Errorf("failed to update asset: %w", err)
	}
	return nil
}

// GetUserAssets retrieves all asset rows for a user
func (db *DB) GetUserAssets(ctx context.Context, userID int64) ([]models.Asset, error) {
	rows, err := db.Pool.Query(ctx,
		"SELECT id, user_id, symbol, amount, locked_amount FROM assets WHERE user_id = $1 ORDER BY symbol",
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get assets: %w", err)
	}
	defer rows.Close()

	var assets []models.Asset
	for rows.Next() {
		var asset models.Asset
		if err := rows.Scan(&asset.ID, &asset.UserID, &asset.Symbol, &asset.Amount, &asset.LockedAmount); err != nil {
			return nil, fmt.Errorf("failed to scan asset: %w", err)
		}
		assets = append(assets, asset)
	}
	return assets, rows.Err()
}

const orderColumns = "id, user_id, symbol, side, price, amount, status, created_at"

func scanOrder(row pgx.Row) (*models.Order, error) {
	order := &models.Order{}
	err := row.Scan(&order.ID, &order.UserID, &order.Symbol, &order.Side,
		&order.Price, &order.Amount, &order.Status, &order.CreatedAt)
	if err != nil {
		return nil, err
	}
	return order, nil
}

// CreateOrder inserts a new open order
func (db *DB) CreateOrder(ctx context.Context, q Querier, order *models.Order) (*models.Order, error) {
	row := q.QueryRow(ctx,
		"INSERT INTO orders (user_id, symbol, side, price, amount, status) VALUES ($1, $2, $3, $4, $5, $6) RETURNING "+orderColumns,
		order.UserID, order.Symbol, order.Side, order.Price, order.Amount, models.StatusOpen)
	created, err := scanOrder(row)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return created, nil
}

// GetOrder retrieves an order by id
func (db *DB) GetOrder(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	return db.getOrder(ctx, q, id, false)
}

// GetOrderForUpdate retrieves an order by id and takes a row-exclusive lock on
// it for the duration of the surrounding transaction.
func (db *DB) GetOrderForUpdate(ctx context.Context, q Querier, id int64) (*models.Order, error) {
	return db.getOrder(ctx, q, id, true)
}

func (db *DB) getOrder(ctx context.Context, q Querier, id int64, forUpdate bool) (*models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE id = $1"
	if forUpdate {
		query += " FOR UPDATE"
	}
	order, err := scanOrder(q.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get order: %w", err)
	}
	return order, nil
}

// UpdateOrderStatus updates an order's status
func (db *DB) UpdateOrderStatus(ctx context.Context, q Querier, id int64, status models.OrderStatus) error {
	_, err := q.Exec(ctx, "UPDATE orders SET status = $1 WHERE id = $2", status, id)
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	return nil
}

// FindCounterOrder returns the single best-ranked open counter-order for the
// given order: same symbol, opposite side, identical amount, compatible price,
// best price first then earliest creation. Returns ErrNotFound when no
// eligible candidate exists.
func (db *DB) FindCounterOrder(ctx context.Context, q Querier, order *models.Order) (*models.Order, error) {
	query := "SELECT " + orderColumns + ` FROM orders
		WHERE symbol = $1 AND status = $2 AND id != $3 AND side = $4 AND amount = $5`
	if order.Side == models.SideBuy {
		// seller's ask at or below the bid, cheapest first
		query += " AND price <= $6 ORDER BY price ASC, created_at ASC, id ASC LIMIT 1"
	} else {
		// buyer's bid at or above the ask, highest first
		query += " AND price >= $6 ORDER BY price DESC, created_at ASC, id ASC LIMIT 1"
	}

	counter, err := scanOrder(q.QueryRow(ctx, query,
		order.Symbol, models.StatusOpen, order.ID, order.Side.Opposite(), order.Amount, order.Price))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to find counter order: %w", err)
	}
	return counter, nil
}

// ListOpenOrders retrieves open orders, oldest first, optionally filtered by
// symbol, with limit/offset pagination.
func (db *DB) ListOpenOrders(ctx context.Context, symbol string, limit, offset int) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE status = $1"
	args := []any{models.StatusOpen}
	if symbol != "" {
		query += " AND symbol = $2"
		args = append(args, symbol)
	}
	query += fmt.Sprintf(" ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d", limit, offset)

	return db.queryOrders(ctx, query, args...)
}

// OrderFilter narrows ListUserOrders. Zero values match everything.
type OrderFilter struct {
	Status models.OrderStatus
	Side   models.OrderSide
	Symbol string
}

// ListUserOrders retrieves a user's orders, newest first, with optional
// status/side/symbol filters.
func (db *DB) ListUserOrders(ctx context.Context, userID int64, filter OrderFilter, limit, offset int) ([]models.Order, error) {
	query := "SELECT " + orderColumns + " FROM orders WHERE user_id = $1"
	args := []any{userID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.Side != "" {
		args = append(args, filter.Side)
		query += fmt.Sprintf(" AND side = $%d", len(args))
	}
	if filter.Symbol != "" {
		args = append(args, filter.Symbol)
		query += fmt.Sprintf(" AND symbol = $%d", len(args))
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d", limit, offset)

	return db.queryOrders(ctx, query, args...)
}

func (db *DB) queryOrders(ctx context.Context, query string, args ...any) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	var orders []models.Order
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(&order.ID, &order.UserID, &order.Symbol, &order.Side,
			&order.Price, &order.Amount, &order.Status, &order.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	return orders, rows.Err()
}
