package db

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/stocksim/internal/config"
	"github.com/xtrntr/stocksim/internal/models"
)

var testDB *DB

func TestMain(m *testing.M) {
	connString := os.Getenv("TEST_DATABASE_URL")
	if connString == "" {
		fmt.Fprintln(os.Stderr, "TEST_DATABASE_URL not set, skipping database tests")
		os.Exit(0)
	}

	pool, err := pgxpool.New(context.Background(), connString)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer pool.Close()

	// Apply migration if not already applied
	migration, err := os.ReadFile("../../migrations/001_init.sql")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Unable to read migration: %v\n", err)
		os.Exit(1)
	}
	_, err = pool.Exec(context.Background(), string(migration))
	if err != nil && !strings.Contains(err.Error(), "already exists") {
		fmt.Fprintf(os.Stderr, "Unable to apply migration: %v\n", err)
		os.Exit(1)
	}

	testDB = &DB{Pool: pool}
	os.Exit(m.Run())
}

func truncate(t *testing.T) {
	t.Helper()
	_, err := testDB.Pool.Exec(context.Background(), "TRUNCATE TABLE transactions, orders, profiles, users")
	require.NoError(t, err)
}

func newFundedUser(t *testing.T, name string, cash string, shares int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	u, err := testDB.CreateUser(ctx, name, "hash", models.RoleEmployee)
	require.NoError(t, err)
	_, err = testDB.GrantAccount(ctx, u.ID, decimal.RequireFromString(cash), shares)
	require.NoError(t, err)
	return u.ID
}

func TestBuildConnString(t *testing.T) {
	got := BuildConnString(config.DatabaseConfig{
		Host: "db", Port: 5432, Name: "sim", User: "app", Password: "p@ss word",
	})
	assert.Equal(t, "postgres://app:p%40ss+word@db:5432/sim?sslmode=prefer", got)
}

func TestDB_CreateOrder(t *testing.T) {
	truncate(t)
	alice := newFundedUser(t, "alice", "1000", 10)

	tests := []struct {
		name        string
		order       *models.Order
		expectError bool
	}{
		{
			name:  "Success",
			order: &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(20), Shares: 5},
		},
		{
			name:        "InvalidType",
			order:       &models.Order{UserID: alice, Side: "invalid", Price: decimal.NewFromInt(20), Shares: 5},
			expectError: true,
		},
		{
			name:        "NegativePrice",
			order:       &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(-20), Shares: 5},
			expectError: true,
		},
		{
			name:        "SubCentPrice",
			order:       &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.RequireFromString("10.005"), Shares: 5},
			expectError: true,
		},
		{
			name:        "PriceRoundingToZero",
			order:       &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.RequireFromString("0.001"), Shares: 5},
			expectError: true,
		},
		{
			name:  "CentPrice",
			order: &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.RequireFromString("10.01"), Shares: 5},
		},
		{
			name:        "ZeroShares",
			order:       &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(20), Shares: 0},
			expectError: true,
		},
		{
			name:        "NonExistentUser",
			order:       &models.Order{UserID: uuid.New(), Side: models.SideSell, Price: decimal.NewFromInt(20), Shares: 5},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			created, err := testDB.CreateOrder(context.Background(), tt.order)
			if tt.expectError {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, models.StatusPending, created.Status)
			assert.True(t, created.Price.Equal(tt.order.Price))
		})
	}
}

func TestDB_GetPendingOrders_PriceTimePriority(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "1000", 100)

	var ids []uuid.UUID
	for _, price := range []int64{10, 12, 10} {
		o, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.NewFromInt(price), Shares: 1})
		require.NoError(t, err)
		ids = append(ids, o.ID)
		time.Sleep(5 * time.Millisecond)
	}
	_, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(11), Shares: 1})
	require.NoError(t, err)

	buys, err := testDB.GetPendingOrders(ctx, models.SideBuy)
	require.NoError(t, err)
	require.Len(t, buys, 3)
	assert.Equal(t, []uuid.UUID{ids[1], ids[0], ids[2]}, []uuid.UUID{buys[0].ID, buys[1].ID, buys[2].ID})

	sells, err := testDB.GetPendingOrders(ctx, models.SideSell)
	require.NoError(t, err)
	assert.Len(t, sells, 1)
}

func TestDB_CancelOrder(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "0", 10)
	bob := newFundedUser(t, "bob", "100", 0)

	pending, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(10), Shares: 1})
	require.NoError(t, err)
	bobs, err := testDB.CreateOrder(ctx, &models.Order{UserID: bob, Side: models.SideBuy, Price: decimal.NewFromInt(10), Shares: 1})
	require.NoError(t, err)

	tests := []struct {
		name      string
		orderID   uuid.UUID
		userID    uuid.UUID
		expectErr error
	}{
		{name: "Success", orderID: pending.ID, userID: alice},
		{name: "AlreadyCancelled", orderID: pending.ID, userID: alice, expectErr: models.ErrOrderNotPending},
		{name: "NonExistentOrder", orderID: uuid.New(), userID: alice, expectErr: models.ErrNotFound},
		{name: "WrongUser", orderID: bobs.ID, userID: alice, expectErr: models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := testDB.CancelOrder(ctx, tt.orderID, tt.userID)
			if tt.expectErr != nil {
				assert.ErrorIs(t, err, tt.expectErr)
				return
			}
			require.NoError(t, err)

			var status string
			err = testDB.Pool.QueryRow(ctx, "SELECT status FROM orders WHERE id=$1", tt.orderID).Scan(&status)
			require.NoError(t, err)
			assert.Equal(t, models.StatusCancelled, status)
		})
	}
}

func TestDB_CancelOrder_Concurrent(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "0", 10)
	order, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideSell, Price: decimal.NewFromInt(10), Shares: 1})
	require.NoError(t, err)

	var wg sync.WaitGroup
	n := 10
	wg.Add(n)
	successCount := 0
	mu := sync.Mutex{}

	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			if err := testDB.CancelOrder(ctx, order.ID, alice); err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, successCount)
}

func settlementFor(t *testing.T, buy, sell *models.Order, shares int64) models.Settlement {
	t.Helper()
	ctx := context.Background()
	buyer, err := testDB.GetAccount(ctx, buy.UserID)
	require.NoError(t, err)
	seller, err := testDB.GetAccount(ctx, sell.UserID)
	require.NoError(t, err)
	return models.Settlement{
		Match:     models.Match{BuyOrderID: buy.ID, SellOrderID: sell.ID, Shares: shares, Price: sell.Price},
		Buy:       *buy,
		Sell:      *sell,
		Buyer:     buyer,
		Seller:    seller,
		Timestamp: time.Now().UTC(),
	}
}

func TestDB_SettleMatch(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "500", 0)
	bob := newFundedUser(t, "bob", "0", 10)

	buy, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.NewFromInt(20), Shares: 10})
	require.NoError(t, err)
	sell, err := testDB.CreateOrder(ctx, &models.Order{UserID: bob, Side: models.SideSell, Price: decimal.NewFromInt(19), Shares: 10})
	require.NoError(t, err)

	require.NoError(t, testDB.SettleMatch(ctx, settlementFor(t, buy, sell, 10)))

	a, err := testDB.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(310)), "alice balance %s", a.Balance)
	assert.Equal(t, int64(10), a.SharesOwned)

	b, err := testDB.GetAccount(ctx, bob)
	require.NoError(t, err)
	assert.True(t, b.Balance.Equal(decimal.NewFromInt(190)), "bob balance %s", b.Balance)
	assert.Equal(t, int64(0), b.SharesOwned)

	for _, id := range []uuid.UUID{buy.ID, sell.ID} {
		var status string
		var shares int64
		err := testDB.Pool.QueryRow(ctx, "SELECT status, shares FROM orders WHERE id=$1", id).Scan(&status, &shares)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, status)
		assert.Equal(t, int64(0), shares)
	}

	txs, err := testDB.GetUserTransactions(ctx, alice)
	require.NoError(t, err)
	require.Len(t, txs, 2) // grant + buy leg
	assert.Equal(t, models.SideBuy, txs[0].Side)
	require.NotNil(t, txs[0].CounterpartyID)
	assert.Equal(t, bob, *txs[0].CounterpartyID)
}

func TestDB_SettleMatch_StaleIsRolledBack(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "500", 0)
	bob := newFundedUser(t, "bob", "0", 10)

	buy, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.NewFromInt(20), Shares: 10})
	require.NoError(t, err)
	sell, err := testDB.CreateOrder(ctx, &models.Order{UserID: bob, Side: models.SideSell, Price: decimal.NewFromInt(19), Shares: 4})
	require.NoError(t, err)

	s := settlementFor(t, buy, sell, 4)
	// The seller cancels between the read and the settlement.
	require.NoError(t, testDB.CancelOrder(ctx, sell.ID, bob))

	err = testDB.SettleMatch(ctx, s)
	require.ErrorIs(t, err, models.ErrStaleOrder)

	var shares int64
	require.NoError(t, testDB.Pool.QueryRow(ctx, "SELECT shares FROM orders WHERE id=$1", buy.ID).Scan(&shares))
	assert.Equal(t, int64(10), shares, "buy order update must roll back")

	a, err := testDB.GetAccount(ctx, alice)
	require.NoError(t, err)
	assert.True(t, a.Balance.Equal(decimal.NewFromInt(500)))
}

func TestDB_SettleMatch_Concurrent(t *testing.T) {
	truncate(t)
	ctx := context.Background()
	alice := newFundedUser(t, "alice", "500", 0)
	bob := newFundedUser(t, "bob", "0", 10)

	buy, err := testDB.CreateOrder(ctx, &models.Order{UserID: alice, Side: models.SideBuy, Price: decimal.NewFromInt(10), Shares: 5})
	require.NoError(t, err)
	sell, err := testDB.CreateOrder(ctx, &models.Order{UserID: bob, Side: models.SideSell, Price: decimal.NewFromInt(10), Shares: 5})
	require.NoError(t, err)
	s := settlementFor(t, buy, sell, 5)

	var wg sync.WaitGroup
	n := 8
	wg.Add(n)
	var mu sync.Mutex
	succeeded, stale := 0, 0
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			err := testDB.SettleMatch(ctx, s)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				succeeded++
			case errors.Is(err, models.ErrStaleOrder):
				stale++
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
	assert.Equal(t, n-1, stale)

	var legs int
	require.NoError(t, testDB.Pool.QueryRow(ctx, "SELECT COUNT(*) FROM transactions WHERE type <> 'grant'").Scan(&legs))
	assert.Equal(t, 2, legs)
}
