package trend

import (
	"testing"
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateOrders_Accumulates(t *testing.T) {
	opts := DefaultOptions()
	orders := []event.Order{
		order("o1", event.StatusDelivered, 20*day, item("p1", 2, "10.50"), item("p2", 1, "99")),
		order("o2", event.StatusPending, 2*day, item("p1", 3, "10.50")),
		order("o3", event.StatusShipped, 1*day, item("p1", 1, "5")),
	}

	signals, skipped := AggregateOrders(orders, refNow, opts)
	require.Zero(t, skipped)
	require.Len(t, signals, 2)

	p1 := signals["p1"]
	assert.Equal(t, 3, p1.TotalOrders)
	assert.Equal(t, int64(6), p1.TotalQuantity)
	assert.Equal(t, "57.5", p1.TotalRevenue.String())
	assert.Equal(t, 2, p1.RecentOrders)
	assert.True(t, p1.LastOrderDate.Equal(refNow.Add(-1*day)))

	p2 := signals["p2"]
	assert.Equal(t, 1, p2.TotalOrders)
	assert.Equal(t, 0, p2.RecentOrders)
	assert.Equal(t, "99", p2.TotalRevenue.String())
}

func TestAggregateOrders_CountsEveryLineItemOccurrence(t *testing.T) {
	orders := []event.Order{
		order("o1", event.StatusProcessing, time.Hour, item("p1", 1, "1"), item("p1", 4, "1")),
	}

	signals, _ := AggregateOrders(orders, refNow, DefaultOptions())
	assert.Equal(t, 2, signals["p1"].TotalOrders)
	assert.Equal(t, 2, signals["p1"].RecentOrders)
	assert.Equal(t, int64(5), signals["p1"].TotalQuantity)
}

func TestAggregateOrders_ExcludesCancelled(t *testing.T) {
	orders := []event.Order{
		order("o1", event.StatusCancelled, time.Hour, item("p1", 10, "1000")),
		order("o2", event.StatusDelivered, time.Hour, item("p2", 1, "1")),
	}

	signals, _ := AggregateOrders(orders, refNow, DefaultOptions())
	assert.NotContains(t, signals, "p1")
	assert.Contains(t, signals, "p2")
}

func TestAggregateOrders_WindowBoundaries(t *testing.T) {
	opts := DefaultOptions()

	tests := []struct {
		name        string
		age         time.Duration
		wantPresent bool
		wantRecent  int
	}{
		{name: "exactly at long boundary", age: opts.LongWindow, wantPresent: true, wantRecent: 0},
		{name: "just past long boundary", age: opts.LongWindow + time.Nanosecond, wantPresent: false},
		{name: "exactly at short boundary", age: opts.ShortWindow, wantPresent: true, wantRecent: 1},
		{name: "just past short boundary", age: opts.ShortWindow + time.Nanosecond, wantPresent: true, wantRecent: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := []event.Order{order("o1", event.StatusDelivered, tt.age, item("p1", 1, "1"))}
			signals, _ := AggregateOrders(orders, refNow, opts)

			sig, ok := signals["p1"]
			require.Equal(t, tt.wantPresent, ok)
			if ok {
				assert.Equal(t, tt.wantRecent, sig.RecentOrders)
			}
		})
	}
}

func TestAggregateOrders_SkipsMalformedItems(t *testing.T) {
	orders := []event.Order{
		order("o1", event.StatusDelivered, day,
			event.LineItem{ProductID: "p1", UnitPrice: price("3")},
			event.LineItem{ProductID: "p1", Quantity: qty(2)},
			event.LineItem{Quantity: qty(1), UnitPrice: price("1")},
			item("p1", 2, "3"),
		),
	}

	signals, skipped := AggregateOrders(orders, refNow, DefaultOptions())
	assert.Equal(t, 3, skipped)
	require.Contains(t, signals, "p1")
	assert.Equal(t, 1, signals["p1"].TotalOrders)
	assert.Equal(t, "6", signals["p1"].TotalRevenue.String())
}

func TestAggregateOrders_NoQualifyingOrders(t *testing.T) {
	signals, skipped := AggregateOrders(nil, refNow, DefaultOptions())
	assert.Empty(t, signals)
	assert.Zero(t, skipped)
}
