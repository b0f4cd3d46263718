package exchange

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/stocksim/internal/models"
)

// Store is what the engine needs from persistence. SettleMatch must apply
// the whole settlement in one atomic unit and return a *models.StaleRow
// when any conditional write affects zero rows.
type Store interface {
	GetPendingOrders(ctx context.Context, side string) ([]models.Order, error)
	GetAccount(ctx context.Context, userID uuid.UUID) (models.Account, error)
	SettleMatch(ctx context.Context, s models.Settlement) error
}

// Config bounds each store call made by the engine.
type Config struct {
	LoadTimeout   time.Duration // snapshot reads
	SettleTimeout time.Duration // per-pair account reads and settlement
}

// DefaultConfig returns the timeouts used when none are configured.
func DefaultConfig() Config {
	return Config{
		LoadTimeout:   10 * time.Second,
		SettleTimeout: 5 * time.Second,
	}
}

// Exchange runs batch matching over the pending orders in a Store
type Exchange struct {
	store  Store
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	// Serializes runs inside one process. Runs in other processes are
	// handled by the conditional writes in SettleMatch.
	mu sync.Mutex
}

// NewExchange creates a new exchange
func NewExchange(store Store, cfg Config, logger *slog.Logger) *Exchange {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = def.LoadTimeout
	}
	if cfg.SettleTimeout <= 0 {
		cfg.SettleTimeout = def.SettleTimeout
	}
	return &Exchange{store: store, cfg: cfg, logger: logger, now: time.Now}
}

// run holds the working state of one invocation.
type run struct {
	ex       *Exchange
	accounts map[uuid.UUID]models.Account
	report   models.Report
}

// Run matches every crossable buy/sell pair in the current pending set and
// settles each match. Only a failed snapshot read fails the run; pair-level
// failures are skipped and counted in the report.
func (e *Exchange) Run(ctx context.Context) (models.Report, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	start := e.now()
	buys, sells, err := e.loadSnapshot(ctx)
	if err != nil {
		e.logger.Error("matching run aborted", slog.String("error", err.Error()))
		return models.Report{Success: false, Matches: []models.Match{}, Error: err.Error()}, err
	}

	r := &run{
		ex:       e,
		accounts: make(map[uuid.UUID]models.Account),
		report:   models.Report{Success: true, Matches: []models.Match{}},
	}
	pool := newSellPool(sells)

	for _, buy := range buys {
		if pool.Len() == 0 {
			break
		}
		r.fill(ctx, buy, pool)
	}

	e.logger.Info("matching run finished",
		slog.Int("buy_orders", len(buys)),
		slog.Int("sell_orders", len(sells)),
		slog.Int("matches", len(r.report.Matches)),
		slog.Int("skipped", r.report.Skipped.Total()),
		slog.Duration("duration", e.now().Sub(start)),
	)
	return r.report, nil
}

// fill matches one buy against the pool until it is filled, nothing
// crosses, or a pair has to be skipped.
func (r *run) fill(ctx context.Context, buy *models.Order, pool *sellPool) {
	for buy.Shares > 0 {
		sell := pool.Best(buy)
		if sell == nil {
			return
		}

		settled, err := r.settle(ctx, buy, sell)
		if err != nil {
			r.skip(buy, sell, err)
			// Only a stale sell order is gone for later buys; a stale buy
			// or account says nothing about the sell.
			var stale *models.StaleRow
			if errors.As(err, &stale) && stale.Kind == models.RowOrder && stale.ID == sell.ID {
				pool.Remove(sell)
			}
			return
		}

		r.report.Matches = append(r.report.Matches, settled.Match)
		*buy = settled.Buy.Remaining(settled.Match.Shares)
		*sell = settled.Sell.Remaining(settled.Match.Shares)
		if sell.Status == models.StatusCompleted {
			pool.Remove(sell)
		}
	}
}

// settle checks both accounts against the working state and applies the
// match. On success the cached accounts reflect the trade.
func (r *run) settle(ctx context.Context, buy, sell *models.Order) (models.Settlement, error) {
	qty := min(buy.Shares, sell.Shares)
	if qty <= 0 {
		return models.Settlement{}, fmt.Errorf("%w: empty fill", models.ErrInvalidOrder)
	}
	match := models.Match{
		BuyOrderID:  buy.ID,
		SellOrderID: sell.ID,
		Shares:      qty,
		Price:       sell.Price,
	}
	cost := match.Notional()

	buyer, err := r.account(ctx, buy.UserID)
	if err != nil {
		return models.Settlement{}, fmt.Errorf("failed to load buyer account: %w", err)
	}
	seller, err := r.account(ctx, sell.UserID)
	if err != nil {
		return models.Settlement{}, fmt.Errorf("failed to load seller account: %w", err)
	}
	if buyer.Balance.LessThan(cost) {
		return models.Settlement{}, models.ErrInsufficientFunds
	}
	if seller.SharesOwned < qty {
		return models.Settlement{}, models.ErrInsufficientShares
	}

	s := models.Settlement{
		Match:     match,
		Buy:       *buy,
		Sell:      *sell,
		Buyer:     buyer,
		Seller:    seller,
		Timestamp: r.ex.now().UTC(),
	}

	sctx, cancel := context.WithTimeout(ctx, r.ex.cfg.SettleTimeout)
	defer cancel()
	if err := r.ex.store.SettleMatch(sctx, s); err != nil {
		// The cached rows may no longer be what the store holds.
		delete(r.accounts, buyer.UserID)
		delete(r.accounts, seller.UserID)
		return models.Settlement{}, err
	}

	r.accounts[buyer.UserID] = credit(buyer, cost.Neg(), qty)
	r.accounts[seller.UserID] = credit(seller, cost, -qty)
	r.ex.logger.Debug("match settled",
		slog.String("buy_order_id", buy.ID.String()),
		slog.String("sell_order_id", sell.ID.String()),
		slog.Int64("shares", qty),
		slog.String("price", match.Price.String()),
	)
	return s, nil
}

// account returns the working copy of an account, reading it on first use.
func (r *run) account(ctx context.Context, userID uuid.UUID) (models.Account, error) {
	if acct, ok := r.accounts[userID]; ok {
		return acct, nil
	}
	actx, cancel := context.WithTimeout(ctx, r.ex.cfg.SettleTimeout)
	defer cancel()
	acct, err := r.ex.store.GetAccount(actx, userID)
	if err != nil {
		return models.Account{}, err
	}
	r.accounts[userID] = acct
	return acct, nil
}

func (r *run) skip(buy, sell *models.Order, err error) {
	switch {
	case errors.Is(err, models.ErrInsufficientFunds):
		r.report.Skipped.InsufficientFunds++
	case errors.Is(err, models.ErrInsufficientShares):
		r.report.Skipped.InsufficientShares++
	case errors.Is(err, models.ErrStaleOrder):
		r.report.Skipped.Stale++
	default:
		r.report.Skipped.Failed++
	}
	r.ex.logger.Warn("skipping pair",
		slog.String("buy_order_id", buy.ID.String()),
		slog.String("sell_order_id", sell.ID.String()),
		slog.String("reason", err.Error()),
	)
}

func credit(a models.Account, cash decimal.Decimal, shares int64) models.Account {
	a.Balance = a.Balance.Add(cash)
	a.SharesOwned += shares
	return a
}

// loadSnapshot reads both sides of the book and puts them in priority order.
// The order rows come back in is not relied on: buys are sorted here and
// sells are keyed into the pool, both with an id tie-break the store lacks.
// Orders that break the pending invariants are left out.
func (e *Exchange) loadSnapshot(ctx context.Context) ([]*models.Order, []*models.Order, error) {
	lctx, cancel := context.WithTimeout(ctx, e.cfg.LoadTimeout)
	defer cancel()

	buyRows, err := e.store.GetPendingOrders(lctx, models.SideBuy)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: buy side: %w", models.ErrSnapshotRead, err)
	}
	sellRows, err := e.store.GetPendingOrders(lctx, models.SideSell)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: sell side: %w", models.ErrSnapshotRead, err)
	}

	buys := e.eligible(buyRows, models.SideBuy)
	sortBuys(buys)
	return buys, e.eligible(sellRows, models.SideSell), nil
}

func (e *Exchange) eligible(rows []models.Order, side string) []*models.Order {
	out := make([]*models.Order, 0, len(rows))
	for i := range rows {
		o := rows[i]
		if o.Side != side || o.Status != models.StatusPending || o.Shares <= 0 || !o.Price.IsPositive() {
			e.logger.Warn("ignoring ineligible order",
				slog.String("order_id", o.ID.String()),
				slog.String("side", o.Side),
				slog.String("status", o.Status),
				slog.Int64("shares", o.Shares),
			)
			continue
		}
		out = append(out, &o)
	}
	return out
}
