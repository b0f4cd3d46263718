package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/xtrntr/stocksim/internal/models"
)

// SettleMatch applies one match in a single transaction: both order
// updates, both account updates and both ledger rows commit together or
// not at all. Every update is conditional on the row still holding the
// values recorded in the settlement; if any affects zero rows the whole
// transaction is rolled back and a *models.StaleRow naming it is returned.
func (db *DB) SettleMatch(ctx context.Context, s models.Settlement) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	qty := s.Match.Shares
	cost := s.Match.Notional()

	for _, o := range []models.Order{s.Buy, s.Sell} {
		next := o.Remaining(qty)
		tag, err := tx.Exec(ctx,
			`UPDATE orders SET shares = $1, status = $2
			WHERE id = $3 AND shares = $4 AND status = 'pending'`,
			next.Shares, next.Status, o.ID, o.Shares)
		if err != nil {
			return fmt.Errorf("failed to update order %s: %w", o.ID, err)
		}
		if tag.RowsAffected() == 0 {
			return &models.StaleRow{Kind: models.RowOrder, ID: o.ID}
		}
	}

	accounts := []struct {
		prev   models.Account
		cash   string
		shares int64
	}{
		{s.Buyer, cost.Neg().String(), qty},
		{s.Seller, cost.String(), -qty},
	}
	for _, a := range accounts {
		tag, err := tx.Exec(ctx,
			`UPDATE profiles SET balance = balance + $1::numeric, shares_owned = shares_owned + $2
			WHERE id = $3 AND balance = $4 AND shares_owned = $5`,
			a.cash, a.shares, a.prev.UserID, a.prev.Balance, a.prev.SharesOwned)
		if err != nil {
			return fmt.Errorf("failed to update account %s: %w", a.prev.UserID, err)
		}
		if tag.RowsAffected() == 0 {
			return &models.StaleRow{Kind: models.RowAccount, ID: a.prev.UserID}
		}
	}

	legs := s.Legs()
	batch := &pgx.Batch{}
	for _, t := range legs {
		batch.Queue(
			`INSERT INTO transactions (id, user_id, type, shares, price, "timestamp", counterparty_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			t.ID, t.UserID, t.Side, t.Shares, t.Price, t.Timestamp, *t.CounterpartyID)
	}
	br := tx.SendBatch(ctx, batch)
	for range legs {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return fmt.Errorf("failed to insert transactions: %w", err)
		}
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("failed to insert transactions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit settlement: %w", err)
	}
	return nil
}
