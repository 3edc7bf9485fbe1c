package trend

import (
	"context"
	"sync"
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/shopspring/decimal"
)

var refNow = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

const day = 24 * time.Hour

func qty(n int64) *int64 { return &n }

func price(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func order(id string, status event.OrderStatus, age time.Duration, items ...event.LineItem) event.Order {
	return event.Order{ID: id, Status: status, CreatedAt: refNow.Add(-age), Items: items}
}

func item(productID string, n int64, unit string) event.LineItem {
	return event.LineItem{ProductID: productID, Quantity: qty(n), UnitPrice: price(unit)}
}

func view(productID, userID, ip string, age time.Duration) event.View {
	return event.View{ProductID: productID, UserID: userID, IPAddress: ip, ViewedAt: refNow.Add(-age)}
}

// fakeSource is an in-memory EventSource that applies the since filter the
// way the store does.
type fakeSource struct {
	mu       sync.Mutex
	orders   []event.Order
	views    []event.View
	products map[string]event.Product

	ordersErr   error
	viewsErr    error
	productsErr error

	calls int
}

func (f *fakeSource) OrdersSince(ctx context.Context, since time.Time) ([]event.Order, error) {
	f.count()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.ordersErr != nil {
		return nil, f.ordersErr
	}
	var out []event.Order
	for _, o := range f.orders {
		if !o.CreatedAt.Before(since) {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeSource) ViewsSince(ctx context.Context, since time.Time) ([]event.View, error) {
	f.count()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.viewsErr != nil {
		return nil, f.viewsErr
	}
	var out []event.View
	for _, v := range f.views {
		if !v.ViewedAt.Before(since) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (f *fakeSource) Products(ctx context.Context, ids []string) (map[string]event.Product, error) {
	f.count()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if f.productsErr != nil {
		return nil, f.productsErr
	}
	out := make(map[string]event.Product)
	for _, id := range ids {
		if p, ok := f.products[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (f *fakeSource) count() {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
}

func (f *fakeSource) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}
