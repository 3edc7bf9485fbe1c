package trend

import (
	"fmt"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func candidateIDs(cs []Candidate) []string {
	ids := make([]string, len(cs))
	for i, c := range cs {
		ids[i] = c.ProductID
	}
	return ids
}

func TestSelectCandidates_OrderTieBreakChain(t *testing.T) {
	orders := map[string]*OrderSignal{
		"a": {TotalOrders: 5, RecentOrders: 1, TotalRevenue: decimal.NewFromInt(100)},
		"b": {TotalOrders: 5, RecentOrders: 2, TotalRevenue: decimal.NewFromInt(10)},
		"c": {TotalOrders: 5, RecentOrders: 1, TotalRevenue: decimal.NewFromInt(200)},
		"d": {TotalOrders: 9},
		"e": {TotalOrders: 1},
	}

	got := SelectCandidates(orders, nil, 4)
	assert.Equal(t, []string{"d", "b", "c", "a"}, candidateIDs(got))
}

func TestSelectCandidates_ViewTieBreakChain(t *testing.T) {
	views := map[string]*ViewSignal{
		"a": {TotalViews: 10, RecentViews: 3, UniqueViewers: 1},
		"b": {TotalViews: 10, RecentViews: 3, UniqueViewers: 2},
		"c": {TotalViews: 10, RecentViews: 4, UniqueViewers: 1},
		"d": {TotalViews: 2},
	}

	got := SelectCandidates(nil, views, 3)
	assert.Equal(t, []string{"c", "b", "a"}, candidateIDs(got))
}

func TestSelectCandidates_FullTiesOrderedByID(t *testing.T) {
	views := map[string]*ViewSignal{
		"z": {TotalViews: 1},
		"m": {TotalViews: 1},
		"a": {TotalViews: 1},
	}

	got := SelectCandidates(nil, views, 2)
	assert.Equal(t, []string{"a", "m"}, candidateIDs(got))
}

func TestSelectCandidates_MergesSignals(t *testing.T) {
	orders := map[string]*OrderSignal{
		"both":       {TotalOrders: 3},
		"order-only": {TotalOrders: 2},
	}
	views := map[string]*ViewSignal{
		"both":      {TotalViews: 1},
		"view-only": {TotalViews: 50},
	}

	got := SelectCandidates(orders, views, 15)
	require.Equal(t, []string{"both", "order-only", "view-only"}, candidateIDs(got))

	assert.NotNil(t, got[0].Orders)
	assert.NotNil(t, got[0].Views)
	assert.NotNil(t, got[1].Orders)
	assert.Nil(t, got[1].Views)
	assert.Nil(t, got[2].Orders)
	assert.NotNil(t, got[2].Views)
}

func TestSelectCandidates_BoundedByTwoK(t *testing.T) {
	orders := make(map[string]*OrderSignal)
	views := make(map[string]*ViewSignal)
	for i := 0; i < 40; i++ {
		orders[fmt.Sprintf("o%02d", i)] = &OrderSignal{TotalOrders: i + 1}
		views[fmt.Sprintf("v%02d", i)] = &ViewSignal{TotalViews: i + 1}
	}

	got := SelectCandidates(orders, views, 15)
	assert.Len(t, got, 30)
	assert.Equal(t, "o39", got[0].ProductID)
	assert.Equal(t, "v39", got[15].ProductID)
}

func TestSelectCandidates_SignalOutsideTopKNotAttached(t *testing.T) {
	// "p" makes the view top-1 only, so its order activity is not carried.
	orders := map[string]*OrderSignal{
		"big": {TotalOrders: 10},
		"p":   {TotalOrders: 1},
	}
	views := map[string]*ViewSignal{"p": {TotalViews: 3}}

	got := SelectCandidates(orders, views, 1)
	require.Equal(t, []string{"big", "p"}, candidateIDs(got))
	assert.Nil(t, got[1].Orders)
	require.NotNil(t, got[1].Views)
	assert.Equal(t, 3, got[1].Views.TotalViews)
}
