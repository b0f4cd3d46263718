package exchange

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/stocksim/internal/models"
)

func poolOrder(user uuid.UUID, side, price string, at time.Duration) *models.Order {
	return &models.Order{
		ID:        uuid.New(),
		UserID:    user,
		Side:      side,
		Shares:    1,
		Price:     decimal.RequireFromString(price),
		Status:    models.StatusPending,
		Timestamp: base.Add(at),
	}
}

func TestSellPool_Best(t *testing.T) {
	alice, bob, carol := uuid.New(), uuid.New(), uuid.New()
	cheapLate := poolOrder(bob, models.SideSell, "10", 2*time.Second)
	cheapEarly := poolOrder(carol, models.SideSell, "10", time.Second)
	own := poolOrder(alice, models.SideSell, "9", 0)
	dear := poolOrder(bob, models.SideSell, "12", 0)
	pool := newSellPool([]*models.Order{dear, cheapLate, own, cheapEarly})

	tests := []struct {
		name   string
		buy    *models.Order
		expect *models.Order
	}{
		{name: "EarliestAtBestPrice", buy: poolOrder(bob, models.SideBuy, "11", 0), expect: own},
		{name: "SkipsOwnSell", buy: poolOrder(alice, models.SideBuy, "11", 0), expect: cheapEarly},
		{name: "BidAtAsk", buy: poolOrder(alice, models.SideBuy, "12", 0), expect: cheapEarly},
		{name: "NothingCrosses", buy: poolOrder(alice, models.SideBuy, "9.99", 0), expect: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expect, pool.Best(tt.buy))
		})
	}
}

func TestSellPool_Remove(t *testing.T) {
	bob := uuid.New()
	first := poolOrder(bob, models.SideSell, "10", 0)
	second := poolOrder(bob, models.SideSell, "10", time.Second)
	pool := newSellPool([]*models.Order{first, second})
	buy := poolOrder(uuid.New(), models.SideBuy, "10", 0)

	require.Equal(t, first, pool.Best(buy))
	pool.Remove(first)
	assert.Equal(t, 1, pool.Len())
	assert.Equal(t, second, pool.Best(buy))

	// Shares play no part in ordering, so a filled entry is still found.
	second.Shares = 0
	pool.Remove(second)
	assert.Equal(t, 0, pool.Len())
	assert.Nil(t, pool.Best(buy))
}

func TestSortBuys(t *testing.T) {
	u := uuid.New()
	low := poolOrder(u, models.SideBuy, "9", 0)
	highLate := poolOrder(u, models.SideBuy, "11", time.Second)
	highEarly := poolOrder(u, models.SideBuy, "11", 0)
	mid := poolOrder(u, models.SideBuy, "10", 0)

	orders := []*models.Order{low, highLate, mid, highEarly}
	sortBuys(orders)
	assert.Equal(t, []*models.Order{highEarly, highLate, mid, low}, orders)
}

func TestSellLess_TiesBrokenByID(t *testing.T) {
	u := uuid.New()
	a := poolOrder(u, models.SideSell, "10", 0)
	b := poolOrder(u, models.SideSell, "10", 0)
	assert.NotEqual(t, sellLess(a, b), sellLess(b, a))
}
