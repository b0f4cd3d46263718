package exchange

import (
	"sort"

	"github.com/google/btree"
	"github.com/xtrntr/stocksim/internal/models"
)

// sellLess orders sells by price ascending, then earliest timestamp, then id,
// so Min() is the best ask.
func sellLess(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.LessThan(b.Price)
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID.String() < b.ID.String()
}

// buyLess orders buys by price descending, then earliest timestamp, then id.
func buyLess(a, b *models.Order) bool {
	if !a.Price.Equal(b.Price) {
		return a.Price.GreaterThan(b.Price)
	}
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID.String() < b.ID.String()
}

// sortBuys sorts buy orders into price-time priority in place.
func sortBuys(orders []*models.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		return buyLess(orders[i], orders[j])
	})
}

// sellPool is the working set of resting sells for one run. Entries are
// pointers so a partial fill can shrink an order in place; price and
// timestamp never change, so the tree order stays valid.
type sellPool struct {
	tree *btree.BTreeG[*models.Order]
}

func newSellPool(orders []*models.Order) *sellPool {
	p := &sellPool{tree: btree.NewG(32, sellLess)}
	for _, o := range orders {
		p.tree.ReplaceOrInsert(o)
	}
	return p
}

// Len returns the number of sells still available.
func (p *sellPool) Len() int {
	return p.tree.Len()
}

// Best returns the first sell in price-time priority that crosses the buy
// and belongs to someone else.
func (p *sellPool) Best(buy *models.Order) *models.Order {
	var found *models.Order
	p.tree.Ascend(func(sell *models.Order) bool {
		if sell.Price.GreaterThan(buy.Price) {
			return false
		}
		if sell.UserID == buy.UserID {
			return true
		}
		found = sell
		return false
	})
	return found
}

// Remove drops a sell from the pool.
func (p *sellPool) Remove(sell *models.Order) {
	p.tree.Delete(sell)
}
