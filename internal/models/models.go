package models

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func init() {
	// Prices and balances go over the wire as JSON numbers.
	decimal.MarshalJSONWithoutQuotes = true
}

// Order sides
const (
	SideBuy   = "buy"
	SideSell  = "sell"
	SideGrant = "grant" // ledger only
)

// Order statuses
const (
	StatusPending   = "pending"
	StatusCompleted = "completed"
	StatusCancelled = "cancelled"
)

// User roles, carried in the JWT "role" claim
const (
	RoleEmployee = "employee"
	RoleAdmin    = "admin"
	RoleService  = "service_role"
)

// User represents a registered user
type User struct {
	ID           uuid.UUID
	Username     string
	PasswordHash string
	Role         string
	CreatedAt    time.Time
}

// Order represents a resting limit buy or sell order
type Order struct {
	ID        uuid.UUID       `json:"id"`
	UserID    uuid.UUID       `json:"userId"`
	Side      string          `json:"type"` // "buy" or "sell"
	Shares    int64           `json:"shares"`
	Price     decimal.Decimal `json:"price"`
	Status    string          `json:"status"`
	Timestamp time.Time       `json:"timestamp"` // Used for time priority
}

// Account is a user's tradable capital
type Account struct {
	UserID      uuid.UUID       `json:"userId"`
	Balance     decimal.Decimal `json:"balance"`
	SharesOwned int64           `json:"sharesOwned"`
}

// Transaction is one executed fill leg (or an administrative grant)
type Transaction struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	Side           string          `json:"type"`
	Shares         int64           `json:"shares"`
	Price          decimal.Decimal `json:"price"`
	Timestamp      time.Time       `json:"timestamp"`
	CounterpartyID *uuid.UUID      `json:"counterpartyId,omitempty"`
}

// Match is the reported outcome of pairing one buy order against one sell order
type Match struct {
	BuyOrderID  uuid.UUID       `json:"buyOrderId"`
	SellOrderID uuid.UUID       `json:"sellOrderId"`
	Shares      int64           `json:"shares"`
	Price       decimal.Decimal `json:"price"`
}

// Notional is the cash value of the match.
func (m Match) Notional() decimal.Decimal {
	return m.Price.Mul(decimal.NewFromInt(m.Shares))
}

// Settlement carries everything needed to apply one match atomically.
// Buy, Sell, Buyer and Seller hold the state observed before the match;
// every write is conditional on that state still being current.
type Settlement struct {
	Match     Match
	Buy       Order
	Sell      Order
	Buyer     Account
	Seller    Account
	Timestamp time.Time
}

// Validate checks the fields a new order must carry.
func (o Order) Validate() error {
	if o.Side != SideBuy && o.Side != SideSell {
		return fmt.Errorf("%w: type must be 'buy' or 'sell'", ErrInvalidOrder)
	}
	if !o.Price.IsPositive() {
		return fmt.Errorf("%w: price must be positive", ErrInvalidOrder)
	}
	if !IsCents(o.Price) {
		return fmt.Errorf("%w: price must have at most two decimal places", ErrInvalidOrder)
	}
	if !o.Price.LessThan(maxPrice) {
		return fmt.Errorf("%w: price must be below %s", ErrInvalidOrder, maxPrice)
	}
	if o.Shares <= 0 {
		return fmt.Errorf("%w: shares must be positive", ErrInvalidOrder)
	}
	if o.UserID == uuid.Nil {
		return fmt.Errorf("%w: missing user", ErrInvalidOrder)
	}
	return nil
}

// maxPrice is the first value a NUMERIC(12,2) price column cannot hold.
var maxPrice = decimal.New(1, 10)

// IsCents reports whether d has no more than two decimal places, the
// precision money is stored with.
func IsCents(d decimal.Decimal) bool {
	return d.Equal(d.Round(2))
}

// Remaining returns the order after a fill of the given size.
func (o Order) Remaining(filled int64) Order {
	o.Shares -= filled
	if o.Shares <= 0 {
		o.Shares = 0
		o.Status = StatusCompleted
	}
	return o
}

// Legs builds the two ledger rows for a settlement, each naming the other
// side's user as counterparty.
func (s Settlement) Legs() [2]Transaction {
	buyer, seller := s.Buy.UserID, s.Sell.UserID
	return [2]Transaction{
		{
			ID:             uuid.New(),
			UserID:         buyer,
			Side:           SideBuy,
			Shares:         s.Match.Shares,
			Price:          s.Match.Price,
			Timestamp:      s.Timestamp,
			CounterpartyID: &seller,
		},
		{
			ID:             uuid.New(),
			UserID:         seller,
			Side:           SideSell,
			Shares:         s.Match.Shares,
			Price:          s.Match.Price,
			Timestamp:      s.Timestamp,
			CounterpartyID: &buyer,
		},
	}
}

// Report summarizes one matching run
type Report struct {
	Success bool    `json:"success"`
	Matches []Match `json:"matches"`
	Skipped Skipped `json:"skipped"`
	Error   string  `json:"error,omitempty"`
}

// Skipped counts pairs the engine passed over, by reason
type Skipped struct {
	InsufficientFunds  int `json:"insufficientFunds"`
	InsufficientShares int `json:"insufficientShares"`
	Stale              int `json:"stale"`
	Failed             int `json:"failed"`
}

// Total is the number of skipped pairs.
func (s Skipped) Total() int {
	return s.InsufficientFunds + s.InsufficientShares + s.Stale + s.Failed
}
