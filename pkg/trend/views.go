package trend

import (
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
)

// ViewSignal is the browsing activity of one product inside the lookback window.
type ViewSignal struct {
	TotalViews    int
	RecentViews   int
	UniqueViewers int
}

// AggregateViews folds views inside the lookback window into per-product
// signals. Views without a product id are skipped and reported in the second
// return value.
func AggregateViews(views []event.View, now time.Time, opts Options) (map[string]*ViewSignal, int) {
	signals := make(map[string]*ViewSignal)
	viewers := make(map[string]map[string]struct{})
	skipped := 0

	for _, v := range views {
		if !within(v.ViewedAt, now, opts.LongWindow) {
			continue
		}
		if v.ProductID == "" {
			skipped++
			continue
		}

		sig, ok := signals[v.ProductID]
		if !ok {
			sig = &ViewSignal{}
			signals[v.ProductID] = sig
			viewers[v.ProductID] = make(map[string]struct{})
		}

		sig.TotalViews++
		if within(v.ViewedAt, now, opts.ShortWindow) {
			sig.RecentViews++
		}
		viewers[v.ProductID][ViewerKey(v.UserID, v.IPAddress)] = struct{}{}
	}

	for id, sig := range signals {
		sig.UniqueViewers = len(viewers[id])
	}
	return signals, skipped
}
