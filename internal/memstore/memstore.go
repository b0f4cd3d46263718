// Package memstore is an in-memory implementation of the order, account and
// ledger stores. It honours the same conditional-update rules as the
// Postgres store and is used for tests and local runs without a database.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/models"
)

// Store holds users, orders, accounts and ledger rows behind one mutex.
type Store struct {
	mu           sync.RWMutex
	users        map[uuid.UUID]models.User
	usernames    map[string]uuid.UUID
	orders       map[uuid.UUID]models.Order
	accounts     map[uuid.UUID]models.Account
	transactions []models.Transaction

	// FailSettle, when set, is returned from SettleMatch before any write.
	FailSettle func(s models.Settlement) error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		users:     make(map[uuid.UUID]models.User),
		usernames: make(map[string]uuid.UUID),
		orders:    make(map[uuid.UUID]models.Order),
		accounts:  make(map[uuid.UUID]models.Account),
	}
}

// CreateUser registers a user with an empty account.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, role string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.usernames[username]; ok {
		return nil, fmt.Errorf("failed to create user: username %q already exists", username)
	}
	if len(username) > 50 {
		return nil, fmt.Errorf("failed to create user: username too long")
	}
	u := models.User{
		ID:           uuid.New(),
		Username:     username,
		PasswordHash: passwordHash,
		Role:         role,
		CreatedAt:    time.Now().UTC(),
	}
	s.users[u.ID] = u
	s.usernames[username] = u.ID
	s.accounts[u.ID] = models.Account{UserID: u.ID, Balance: decimal.Zero}
	return &u, nil
}

// GetUserByUsername retrieves a user by username
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usernames[username]
	if !ok {
		return nil, fmt.Errorf("failed to get user: %w", models.ErrNotFound)
	}
	u := s.users[id]
	return &u, nil
}

// CreateOrder stores a new pending order.
func (s *Store) CreateOrder(ctx context.Context, order *models.Order) (*models.Order, error) {
	if err := order.Validate(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[order.UserID]; !ok {
		return nil, fmt.Errorf("user not found: %w", models.ErrNotFound)
	}
	o := *order
	o.ID = uuid.New()
	o.Status = models.StatusPending
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}
	s.orders[o.ID] = o
	return &o, nil
}

// PutOrder stores an order as given, overwriting any order with the same id.
func (s *Store) PutOrder(order models.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[order.ID] = order
}

// PutAccount stores an account as given.
func (s *Store) PutAccount(acct models.Account) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accounts[acct.UserID] = acct
}

// Order returns the stored order.
func (s *Store) Order(id uuid.UUID) (models.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[id]
	return o, ok
}

// Transactions returns every ledger row in insertion order.
func (s *Store) Transactions() []models.Transaction {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.Transaction(nil), s.transactions...)
}

// GetPendingOrders returns pending orders on one side in price-time priority.
func (s *Store) GetPendingOrders(ctx context.Context, side string) ([]models.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.Side == side && o.Status == models.StatusPending {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		a, b := orders[i], orders[j]
		if !a.Price.Equal(b.Price) {
			if side == models.SideBuy {
				return a.Price.GreaterThan(b.Price)
			}
			return a.Price.LessThan(b.Price)
		}
		return a.Timestamp.Before(b.Timestamp)
	})
	return orders, nil
}

// GetUserOrders retrieves all orders for a user, newest first.
func (s *Store) GetUserOrders(ctx context.Context, userID uuid.UUID) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []models.Order
	for _, o := range s.orders {
		if o.UserID == userID {
			orders = append(orders, o)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		return orders[i].Timestamp.After(orders[j].Timestamp)
	})
	return orders, nil
}

// CancelOrder cancels a pending order owned by the user.
func (s *Store) CancelOrder(ctx context.Context, orderID, userID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.UserID != userID {
		return fmt.Errorf("order not found or not owned by user: %w", models.ErrNotFound)
	}
	if o.Status != models.StatusPending {
		return models.ErrOrderNotPending
	}
	o.Status = models.StatusCancelled
	s.orders[orderID] = o
	return nil
}

// GetAccount returns a user's balance and holdings.
func (s *Store) GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	if err := ctx.Err(); err != nil {
		return models.Account{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[userID]
	if !ok {
		return models.Account{}, fmt.Errorf("failed to get account: %w", models.ErrNotFound)
	}
	return a, nil
}

// GrantAccount credits cash and shares to an account and records a grant.
func (s *Store) GrantAccount(ctx context.Context, userID uuid.UUID, cash decimal.Decimal, shares int64) (models.Account, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.accounts[userID]
	if !ok {
		return models.Account{}, fmt.Errorf("failed to grant: %w", models.ErrNotFound)
	}
	next := a
	next.Balance = a.Balance.Add(cash)
	next.SharesOwned = a.SharesOwned + shares
	if next.Balance.IsNegative() || next.SharesOwned < 0 {
		return models.Account{}, fmt.Errorf("failed to grant: account would go negative")
	}
	s.accounts[userID] = next
	s.transactions = append(s.transactions, models.Transaction{
		ID:        uuid.New(),
		UserID:    userID,
		Side:      models.SideGrant,
		Shares:    shares,
		Price:     cash,
		Timestamp: time.Now().UTC(),
	})
	return next, nil
}

// GetUserTransactions returns a user's ledger rows, newest first.
func (s *Store) GetUserTransactions(ctx context.Context, userID uuid.UUID) ([]models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var txs []models.Transaction
	for i := len(s.transactions) - 1; i >= 0; i-- {
		if s.transactions[i].UserID == userID {
			txs = append(txs, s.transactions[i])
		}
	}
	return txs, nil
}

// SettleMatch applies a settlement if every row still matches the state
// recorded in it. Otherwise nothing changes and a *models.StaleRow is
// returned.
func (s *Store) SettleMatch(ctx context.Context, st models.Settlement) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.FailSettle != nil {
		if err := s.FailSettle(st); err != nil {
			return err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	qty := st.Match.Shares
	cost := st.Match.Notional()

	for _, want := range []models.Order{st.Buy, st.Sell} {
		got, ok := s.orders[want.ID]
		if !ok || got.Status != models.StatusPending || got.Shares != want.Shares {
			return &models.StaleRow{Kind: models.RowOrder, ID: want.ID}
		}
	}
	for _, want := range []models.Account{st.Buyer, st.Seller} {
		got, ok := s.accounts[want.UserID]
		if !ok || !got.Balance.Equal(want.Balance) || got.SharesOwned != want.SharesOwned {
			return &models.StaleRow{Kind: models.RowAccount, ID: want.UserID}
		}
	}

	buyer := st.Buyer
	buyer.Balance = buyer.Balance.Sub(cost)
	buyer.SharesOwned += qty
	seller := st.Seller
	seller.Balance = seller.Balance.Add(cost)
	seller.SharesOwned -= qty
	if buyer.Balance.IsNegative() {
		return models.ErrInsufficientFunds
	}
	if seller.SharesOwned < 0 {
		return models.ErrInsufficientShares
	}

	s.orders[st.Buy.ID] = st.Buy.Remaining(qty)
	s.orders[st.Sell.ID] = st.Sell.Remaining(qty)
	s.accounts[buyer.UserID] = buyer
	s.accounts[seller.UserID] = seller
	legs := st.Legs()
	s.transactions = append(s.transactions, legs[0], legs[1])
	return nil
}
