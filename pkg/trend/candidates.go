package trend

import "sort"

// Candidate is a product that made the top-K of at least one signal. A signal
// is attached only when the product made that signal's top-K, so either may
// be nil.
type Candidate struct {
	ProductID string
	Orders    *OrderSignal
	Views     *ViewSignal
}

// SelectCandidates keeps the top k products of each signal and merges them.
// Orders rank by (totalOrders, recentOrders, totalRevenue), views by
// (totalViews, recentViews, uniqueViewers), both descending; product id
// ascending settles full ties. The result lists the order leaders first in
// rank order, followed by view leaders not already present.
func SelectCandidates(orders map[string]*OrderSignal, views map[string]*ViewSignal, k int) []Candidate {
	topOrders := topOrderIDs(orders, k)
	topViews := topViewIDs(views, k)

	candidates := make([]Candidate, 0, len(topOrders)+len(topViews))
	index := make(map[string]int, cap(candidates))

	for _, id := range topOrders {
		index[id] = len(candidates)
		candidates = append(candidates, Candidate{ProductID: id, Orders: orders[id]})
	}
	for _, id := range topViews {
		if i, ok := index[id]; ok {
			candidates[i].Views = views[id]
			continue
		}
		index[id] = len(candidates)
		candidates = append(candidates, Candidate{ProductID: id, Views: views[id]})
	}

	return candidates
}

func topOrderIDs(signals map[string]*OrderSignal, k int) []string {
	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := signals[ids[i]], signals[ids[j]]
		if a.TotalOrders != b.TotalOrders {
			return a.TotalOrders > b.TotalOrders
		}
		if a.RecentOrders != b.RecentOrders {
			return a.RecentOrders > b.RecentOrders
		}
		if c := a.TotalRevenue.Cmp(b.TotalRevenue); c != 0 {
			return c > 0
		}
		return ids[i] < ids[j]
	})

	return truncate(ids, k)
}

func topViewIDs(signals map[string]*ViewSignal, k int) []string {
	ids := make([]string, 0, len(signals))
	for id := range signals {
		ids = append(ids, id)
	}

	sort.Slice(ids, func(i, j int) bool {
		a, b := signals[ids[i]], signals[ids[j]]
		if a.TotalViews != b.TotalViews {
			return a.TotalViews > b.TotalViews
		}
		if a.RecentViews != b.RecentViews {
			return a.RecentViews > b.RecentViews
		}
		if a.UniqueViewers != b.UniqueViewers {
			return a.UniqueViewers > b.UniqueViewers
		}
		return ids[i] < ids[j]
	})

	return truncate(ids, k)
}

func truncate(ids []string, k int) []string {
	if len(ids) > k {
		return ids[:k]
	}
	return ids
}
