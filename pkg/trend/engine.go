package trend

import (
	"context"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// UnavailableProductName is shown for ranked products missing from the catalog.
const UnavailableProductName = "Unavailable product"

// EventSource is the read-only view of the event store the engine needs.
type EventSource interface {
	// OrdersSince returns orders created at or after since.
	OrdersSince(ctx context.Context, since time.Time) ([]event.Order, error)
	// ViewsSince returns views recorded at or after since.
	ViewsSince(ctx context.Context, since time.Time) ([]event.View, error)
	// Products returns the catalog entries for ids. Unknown ids are absent
	// from the map rather than an error.
	Products(ctx context.Context, ids []string) (map[string]event.Product, error)
}

// Ranking is the result of one ranking call.
type Ranking struct {
	Products                  []TrendingProduct `json:"products"`
	TotalCandidatesConsidered int               `json:"totalCandidatesConsidered"`
}

// TrendingProduct is one ranked product with its signals and display data.
// The order and view fields reflect top-K membership, not raw totals: a
// product outside a signal's top-K reports zeros for that signal even when
// it had activity in the window.
type TrendingProduct struct {
	ProductID     string     `json:"productId"`
	Name          string     `json:"name"`
	Price         float64    `json:"price"`
	Image         string     `json:"image"`
	Category      string     `json:"category"`
	Description   string     `json:"description"`
	OrderCount    int        `json:"orderCount"`
	TotalQuantity int64      `json:"totalQuantity"`
	TotalRevenue  float64    `json:"totalRevenue"`
	RecentOrders  int        `json:"recentOrders"`
	TotalViews    int        `json:"totalViews"`
	RecentViews   int        `json:"recentViews"`
	UniqueViewers int        `json:"uniqueViewers"`
	LastOrderDate *time.Time `json:"lastOrderDate"`
	TrendingScore int64      `json:"trendingScore"`
	IsTrending    bool       `json:"isTrending"`
}

// Engine ranks products by recent order and view activity.
type Engine struct {
	src     EventSource
	log     logrus.FieldLogger
	metrics *metrics.Registry
}

// NewEngine creates a ranking engine over src. A nil logger discards output
// and a nil registry gets a private one.
func NewEngine(src EventSource, log logrus.FieldLogger, m *metrics.Registry) *Engine {
	if log == nil {
		l := logrus.New()
		l.SetOutput(io.Discard)
		log = l
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Engine{src: src, log: log, metrics: m}
}

// Rank computes the trending list as of now. The result depends only on the
// event store contents, now and opts. Any data source failure or
// cancellation fails the whole call.
func (e *Engine) Rank(ctx context.Context, now time.Time, opts Options) (*Ranking, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	ranking, err := e.rank(ctx, now, opts)
	e.metrics.RankingSeconds.Observe(time.Since(start).Seconds())
	if err != nil {
		e.metrics.RankingErrors.Inc()
		return nil, err
	}
	e.metrics.Rankings.Inc()
	e.metrics.Candidates.Set(float64(ranking.TotalCandidatesConsidered))
	return ranking, nil
}

func (e *Engine) rank(ctx context.Context, now time.Time, opts Options) (*Ranking, error) {
	since := now.Add(-opts.LongWindow)

	var (
		orderSignals map[string]*OrderSignal
		viewSignals  map[string]*ViewSignal
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		orders, err := e.src.OrdersSince(gctx, since)
		if err != nil {
			return fmt.Errorf("%w: list orders: %w", ErrSourceUnavailable, err)
		}
		var skipped int
		orderSignals, skipped = AggregateOrders(orders, now, opts)
		e.reportSkipped("order_item", skipped)
		return nil
	})
	g.Go(func() error {
		views, err := e.src.ViewsSince(gctx, since)
		if err != nil {
			return fmt.Errorf("%w: list views: %w", ErrSourceUnavailable, err)
		}
		var skipped int
		viewSignals, skipped = AggregateViews(views, now, opts)
		e.reportSkipped("view", skipped)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
	}

	candidates := SelectCandidates(orderSignals, viewSignals, opts.CandidateLimit)
	scored := ScoreCandidates(candidates, opts.ResultLimit, opts.Threshold)

	ids := make([]string, len(scored))
	for i, s := range scored {
		ids[i] = s.ProductID
	}

	var catalog map[string]event.Product
	if len(ids) > 0 {
		var err error
		catalog, err = e.src.Products(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("%w: load products: %w", ErrSourceUnavailable, err)
		}
	}

	products := make([]TrendingProduct, len(scored))
	for i, s := range scored {
		p, ok := catalog[s.ProductID]
		if !ok {
			e.metrics.DanglingProducts.Inc()
			e.log.WithField("product_id", s.ProductID).Debug("ranked product missing from catalog")
			p = event.Product{ID: s.ProductID, Name: UnavailableProductName}
		}
		products[i] = buildEntry(s, p)
	}

	e.log.WithFields(logrus.Fields{
		"order_products": len(orderSignals),
		"view_products":  len(viewSignals),
		"candidates":     len(candidates),
		"returned":       len(products),
	}).Debug("ranking computed")

	return &Ranking{
		Products:                  products,
		TotalCandidatesConsidered: len(candidates),
	}, nil
}

func (e *Engine) reportSkipped(kind string, n int) {
	if n == 0 {
		return
	}
	e.metrics.MalformedSkipped.WithLabelValues(kind).Add(float64(n))
	e.log.WithFields(logrus.Fields{"kind": kind, "skipped": n}).Debug("skipped malformed records")
}

func buildEntry(s Scored, p event.Product) TrendingProduct {
	entry := TrendingProduct{
		ProductID:     s.ProductID,
		Name:          p.Name,
		Price:         p.Price.InexactFloat64(),
		Image:         p.Image,
		Category:      p.Category,
		Description:   p.Description,
		TrendingScore: int64(math.Round(s.Score)),
		IsTrending:    s.Trending,
	}

	if o := s.Orders; o != nil {
		entry.OrderCount = o.TotalOrders
		entry.TotalQuantity = o.TotalQuantity
		entry.TotalRevenue = o.TotalRevenue.InexactFloat64()
		entry.RecentOrders = o.RecentOrders
		last := o.LastOrderDate
		entry.LastOrderDate = &last
	}
	if v := s.Views; v != nil {
		entry.TotalViews = v.TotalViews
		entry.RecentViews = v.RecentViews
		entry.UniqueViewers = v.UniqueViewers
	}

	return entry
}
