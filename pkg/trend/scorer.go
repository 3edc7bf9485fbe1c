package trend

import "sort"

// Composite score weights. Changing any of them changes the ranking.
const (
	orderWeight        = 10
	recentOrderWeight  = 20
	revenueDivisor     = 100
	viewWeight         = 0.1
	recentViewWeight   = 0.2
	uniqueViewerWeight = 0.5
)

// Scored is a candidate with its composite score.
type Scored struct {
	Candidate
	Score    float64
	Trending bool
}

// OrderScore is 10*totalOrders + 20*recentOrders + totalRevenue/100, or 0
// for a product without order activity.
func OrderScore(s *OrderSignal) float64 {
	if s == nil {
		return 0
	}
	return float64(s.TotalOrders)*orderWeight +
		float64(s.RecentOrders)*recentOrderWeight +
		s.TotalRevenue.InexactFloat64()/revenueDivisor
}

// ViewScore is 0.1*totalViews + 0.2*recentViews + 0.5*uniqueViewers, or 0
// for a product without views.
func ViewScore(s *ViewSignal) float64 {
	if s == nil {
		return 0
	}
	return float64(s.TotalViews)*viewWeight +
		float64(s.RecentViews)*recentViewWeight +
		float64(s.UniqueViewers)*uniqueViewerWeight
}

// ScoreCandidates scores every candidate, orders them by descending score
// and keeps the first n. Equal scores keep their candidate order.
func ScoreCandidates(candidates []Candidate, n int, threshold float64) []Scored {
	scored := make([]Scored, len(candidates))
	for i, c := range candidates {
		score := OrderScore(c.Orders) + ViewScore(c.Views)
		scored[i] = Scored{
			Candidate: c,
			Score:     score,
			Trending:  score > threshold,
		}
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Score > scored[j].Score
	})

	if len(scored) > n {
		scored = scored[:n]
	}
	return scored
}
