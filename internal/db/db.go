package db

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/config"
	"github.com/xtrntr/stocksim/internal/models"
)

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// BuildConnString builds a PostgreSQL connection string from config.
func BuildConnString(cfg config.DatabaseConfig) string {
	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = config.DefaultDBSSLMode
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password), cfg.Host, cfg.Port, cfg.Name, sslMode)
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, cfg config.DatabaseConfig) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close(ctx context.Context) error {
	db.Pool.Close()
	return nil
}

// CreateUser inserts a new user together with an empty profile
func (db *DB) CreateUser(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	user := &models.User{}
	err = tx.QueryRow(ctx,
		"INSERT INTO users (id, username, password_hash, role) VALUES ($1, $2, $3, $4) RETURNING id, username, password_hash, role, created_at",
		uuid.New(), username, passwordHash, role).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	if _, err := tx.Exec(ctx, "INSERT INTO profiles (id) VALUES ($1)", user.ID); err != nil {
		return nil, fmt.Errorf("failed to create profile: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, role, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("failed to get user: %w", models.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// CreateOrder inserts a new pending order
func (db *DB) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	// Verify user exists
	var exists bool
	err := db.Pool.QueryRow(ctx, "SELECT EXISTS(SELECT 1 FROM profiles WHERE id = $1)", order.UserID).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("failed to check user existence: %w", err)
	}
	if !exists {
		return nil, fmt.Errorf("user not found: %w", models.ErrNotFound)
	}

	newOrder := &models.Order{}
	err = db.Pool.QueryRow(ctx,
		`INSERT INTO orders (id, user_id, type, shares, price, status) VALUES ($1, $2, $3, $4, $5, 'pending')
		RETURNING `+orderColumns,
		uuid.New(), order.UserID, order.Side, order.Shares, order.Price).Scan(orderFields(newOrder)...)
	if err != nil {
		return nil, fmt.Errorf("failed to create order: %w", err)
	}
	return newOrder, nil
}

const orderColumns = `id, user_id, type, shares, price, status, "timestamp"`

func orderFields(o *models.Order) []any {
	return []any{&o.ID, &o.UserID, &o.Side, &o.Shares, &o.Price, &o.Status, &o.Timestamp}
}

func collectOrders(rows pgx.Rows) ([]models.Order, error) {
	defer rows.Close()

	orders := []models.Order{}
	for rows.Next() {
		var order models.Order
		if err := rows.Scan(orderFields(&order)...); err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, order)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read orders: %w", err)
	}
	return orders, nil
}

// GetUserOrders retrieves all orders for a user, newest first
func (db *DB) GetUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY "timestamp" DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	return collectOrders(rows)
}

// GetPendingOrders retrieves pending orders on one side in price-time priority
func (db *DB) GetPendingOrders(ctx context.Context, side string) ([]models.Order, error) {
	var order string
	switch side {
	case models.SideBuy:
		order = `price DESC, "timestamp" ASC`
	case models.SideSell:
		order = `price ASC, "timestamp" ASC`
	default:
		return nil, fmt.Errorf("%w: unknown side %q", models.ErrInvalidOrder, side)
	}

	rows, err := db.Pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE type = $1 AND status = 'pending' ORDER BY `+order,
		side)
	if err != nil {
		return nil, fmt.Errorf("failed to get pending orders: %w", err)
	}
	return collectOrders(rows)
}

// CancelOrder cancels an order if it belongs to the user and is pending
func (db *DB) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the row for update to prevent concurrent modifications
	var status string
	err = tx.QueryRow(ctx,
		"SELECT status FROM orders WHERE id = $1 AND user_id = $2 FOR UPDATE",
		orderID, userID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order not found or not owned by user: %w", models.ErrNotFound)
		}
		return fmt.Errorf("failed to get order: %w", err)
	}

	if status != models.StatusPending {
		return models.ErrOrderNotPending
	}

	tag, err := tx.Exec(ctx,
		"UPDATE orders SET status = 'cancelled' WHERE id = $1 AND user_id = $2 AND status = 'pending'",
		orderID, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return models.ErrOrderNotPending
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAccount retrieves a user's balance and shares
func (db *DB) GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	acct := models.Account{UserID: userID}
	err := db.Pool.QueryRow(ctx,
		"SELECT balance, shares_owned FROM profiles WHERE id = $1",
		userID).Scan(&acct.Balance, &acct.SharesOwned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, fmt.Errorf("failed to get account: %w", models.ErrNotFound)
		}
		return models.Account{}, fmt.Errorf("failed to get account: %w", err)
	}
	return acct, nil
}

// GrantAccount credits cash and shares to a user and records a grant row
func (db *DB) GrantAccount(ctx context.Context, userID uuid.UUID, cash decimal.Decimal, shares int64) (models.Account, error) {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	acct := models.Account{UserID: userID}
	err = tx.QueryRow(ctx,
		`UPDATE profiles SET balance = balance + $1, shares_owned = shares_owned + $2
		WHERE id = $3 RETURNING balance, shares_owned`,
		cash, shares, userID).Scan(&acct.Balance, &acct.SharesOwned)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Account{}, fmt.Errorf("failed to grant: %w", models.ErrNotFound)
		}
		return models.Account{}, fmt.Errorf("failed to grant: %w", err)
	}

	_, err = tx.Exec(ctx,
		"INSERT INTO transactions (id, user_id, type, shares, price) VALUES ($1, $2, 'grant', $3, $4)",
		uuid.New(), userID, shares, cash)
	if err != nil {
		return models.Account{}, fmt.Errorf("failed to record grant: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return models.Account{}, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return acct, nil
}

// GetUserTransactions retrieves a user's ledger rows, newest first
func (db *DB) GetUserTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	rows, err := db.Pool.Query(ctx,
		`SELECT id, user_id, type, shares, price, "timestamp", counterparty_id
		FROM transactions WHERE user_id = $1 ORDER BY "timestamp" DESC`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user transactions: %w", err)
	}
	defer rows.Close()

	txs := []models.Transaction{}
	for rows.Next() {
		var t models.Transaction
		var counterparty uuid.NullUUID
		if err := rows.Scan(&t.ID, &t.UserID, &t.Side, &t.Shares, &t.Price, &t.Timestamp, &counterparty); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if counterparty.Valid {
			t.CounterpartyID = &counterparty.UUID
		}
		txs = append(txs, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read transactions: %w", err)
	}
	return txs, nil
}
