package models

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// Sentinel errors shared by the store, engine and handlers.
var (
	ErrConfig             = errors.New("configuration error")
	ErrSnapshotRead       = errors.New("failed to load pending orders")
	ErrInsufficientFunds  = errors.New("buyer has insufficient funds")
	ErrInsufficientShares = errors.New("seller has insufficient shares")
	ErrStaleOrder         = errors.New("order or account changed since it was read")
	ErrNotFound           = errors.New("not found")
	ErrOrderNotPending    = errors.New("order not pending")
	ErrInvalidOrder       = errors.New("invalid order")
)

// Kinds of row a settlement updates conditionally.
const (
	RowOrder   = "order"
	RowAccount = "account"
)

// StaleRow names the row whose conditional update matched nothing. It
// unwraps to ErrStaleOrder.
type StaleRow struct {
	Kind string
	ID   uuid.UUID
}

func (e *StaleRow) Error() string {
	return fmt.Sprintf("%s %s: %s", e.Kind, e.ID, ErrStaleOrder)
}

func (e *StaleRow) Unwrap() error {
	return ErrStaleOrder
}
