package trend

import (
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/shopspring/decimal"
)

// OrderSignal is the order activity of one product inside the lookback window.
type OrderSignal struct {
	TotalOrders   int
	TotalQuantity int64
	TotalRevenue  decimal.Decimal
	RecentOrders  int
	LastOrderDate time.Time
}

// AggregateOrders folds non-cancelled orders inside the lookback window into
// per-product signals. Every line item occurrence counts as one order for its
// product. Line items missing a product id, quantity or price are skipped and
// reported in the second return value.
func AggregateOrders(orders []event.Order, now time.Time, opts Options) (map[string]*OrderSignal, int) {
	signals := make(map[string]*OrderSignal)
	skipped := 0

	for _, o := range orders {
		if o.Status == event.StatusCancelled || !within(o.CreatedAt, now, opts.LongWindow) {
			continue
		}
		recent := within(o.CreatedAt, now, opts.ShortWindow)

		for _, item := range o.Items {
			if item.ProductID == "" || item.Quantity == nil || item.UnitPrice == nil {
				skipped++
				continue
			}

			sig, ok := signals[item.ProductID]
			if !ok {
				sig = &OrderSignal{}
				signals[item.ProductID] = sig
			}

			qty := *item.Quantity
			sig.TotalOrders++
			sig.TotalQuantity += qty
			sig.TotalRevenue = sig.TotalRevenue.Add(item.UnitPrice.Mul(decimal.NewFromInt(qty)))
			if recent {
				sig.RecentOrders++
			}
			if o.CreatedAt.After(sig.LastOrderDate) {
				sig.LastOrderDate = o.CreatedAt
			}
		}
	}

	return signals, skipped
}
