package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2025, 6, 30, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "shoptrend.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func ptrInt(n int64) *int64 { return &n }

func ptrDec(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestOrdersSince_RoundTripsItems(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertOrder(ctx, &event.Order{
		ID:        "o1",
		Status:    event.StatusDelivered,
		CreatedAt: base.Add(-2 * time.Hour),
		Items: []event.LineItem{
			{ProductID: "p1", Quantity: ptrInt(2), UnitPrice: ptrDec("19.99")},
			{ProductID: "p2", Quantity: nil, UnitPrice: ptrDec("5")},
			{ProductID: "p3", Quantity: ptrInt(1), UnitPrice: nil},
		},
	}))
	require.NoError(t, s.UpsertOrder(ctx, &event.Order{
		ID:        "old",
		Status:    event.StatusDelivered,
		CreatedAt: base.Add(-48 * time.Hour),
		Items:     []event.LineItem{{ProductID: "p1", Quantity: ptrInt(1), UnitPrice: ptrDec("1")}},
	}))

	orders, err := s.OrdersSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)

	o := orders[0]
	assert.Equal(t, "o1", o.ID)
	assert.Equal(t, event.StatusDelivered, o.Status)
	assert.True(t, o.CreatedAt.Equal(base.Add(-2*time.Hour)))
	require.Len(t, o.Items, 3)

	require.NotNil(t, o.Items[0].Quantity)
	assert.Equal(t, int64(2), *o.Items[0].Quantity)
	require.NotNil(t, o.Items[0].UnitPrice)
	assert.True(t, o.Items[0].UnitPrice.Equal(decimal.RequireFromString("19.99")))

	assert.Nil(t, o.Items[1].Quantity)
	assert.Nil(t, o.Items[2].UnitPrice)
}

func TestOrdersSince_BoundaryIncluded(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	since := base.Add(-24 * time.Hour)

	require.NoError(t, s.UpsertOrder(ctx, &event.Order{ID: "edge", Status: event.StatusPending, CreatedAt: since}))
	require.NoError(t, s.UpsertOrder(ctx, &event.Order{ID: "before", Status: event.StatusPending, CreatedAt: since.Add(-time.Second)}))

	orders, err := s.OrdersSince(ctx, since)
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, "edge", orders[0].ID)
}

func TestUpsertOrder_ReplacesItemsAndStatus(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	o := &event.Order{
		ID:        "o1",
		Status:    event.StatusPending,
		CreatedAt: base,
		Items:     []event.LineItem{{ProductID: "p1", Quantity: ptrInt(1), UnitPrice: ptrDec("1")}},
	}
	require.NoError(t, s.UpsertOrder(ctx, o))

	o.Items = []event.LineItem{{ProductID: "p2", Quantity: ptrInt(3), UnitPrice: ptrDec("2")}}
	require.NoError(t, s.UpsertOrder(ctx, o))
	require.NoError(t, s.UpdateOrderStatus(ctx, "o1", event.StatusCancelled))

	orders, err := s.OrdersSince(ctx, base.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, event.StatusCancelled, orders[0].Status)
	require.Len(t, orders[0].Items, 1)
	assert.Equal(t, "p2", orders[0].Items[0].ProductID)
}

func TestUpsertOrder_RejectsUnknownStatus(t *testing.T) {
	s := newTestStore(t)
	err := s.UpsertOrder(context.Background(), &event.Order{ID: "o1", Status: "lost", CreatedAt: base})
	assert.Error(t, err)
}

func TestUpdateOrderStatus_NotFound(t *testing.T) {
	s := newTestStore(t)
	err := s.UpdateOrderStatus(context.Background(), "missing", event.StatusShipped)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestViews_RecordAndList(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v := &event.View{ProductID: "p1", IPAddress: "10.0.0.1", ViewedAt: base.Add(-time.Hour)}
	require.NoError(t, s.RecordView(ctx, v))
	assert.NotEmpty(t, v.ID)

	require.NoError(t, s.RecordView(ctx, &event.View{ProductID: "p1", UserID: "u1", ViewedAt: base.Add(-72 * time.Hour)}))
	assert.Error(t, s.RecordView(ctx, &event.View{}))

	views, err := s.ViewsSince(ctx, base.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, views, 1)
	assert.Equal(t, v.ID, views[0].ID)
	assert.Equal(t, "p1", views[0].ProductID)
	assert.Empty(t, views[0].UserID)
	assert.Equal(t, "10.0.0.1", views[0].IPAddress)
	assert.True(t, views[0].ViewedAt.Equal(base.Add(-time.Hour)))
}

func TestProducts_LookupSkipsUnknown(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProducts(ctx, []event.Product{
		{ID: "p1", Name: "Lamp", Price: decimal.RequireFromString("49.90"), Image: "lamp.jpg", Category: "home"},
		{ID: "p2", Name: "Mug", Price: decimal.RequireFromString("8")},
	}))
	require.NoError(t, s.DeleteProduct(ctx, "p2"))
	assert.ErrorIs(t, s.DeleteProduct(ctx, "p2"), ErrNotFound)

	got, err := s.Products(ctx, []string{"p1", "p2", "p3"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "Lamp", got["p1"].Name)
	assert.True(t, got["p1"].Price.Equal(decimal.RequireFromString("49.9")))
	assert.Equal(t, "home", got["p1"].Category)

	empty, err := s.Products(ctx, nil)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func TestStats(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertProduct(ctx, &event.Product{ID: "p1", Name: "Lamp"}))
	require.NoError(t, s.UpsertOrder(ctx, &event.Order{ID: "o1", Status: event.StatusPending, CreatedAt: base}))
	require.NoError(t, s.RecordView(ctx, &event.View{ProductID: "p1", ViewedAt: base}))
	require.NoError(t, s.RecordView(ctx, &event.View{ProductID: "p1", ViewedAt: base}))

	st, err := s.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, Stats{Products: 1, Orders: 1, Views: 2}, st)
}
