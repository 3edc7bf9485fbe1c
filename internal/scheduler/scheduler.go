package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/pkg/alert"
	"github.com/elonfeng/shoptrend/pkg/trend"
	"github.com/sirupsen/logrus"
)

// Scheduler periodically recomputes the ranking into the cache and alerts
// on products that start trending.
type Scheduler struct {
	cache    *trend.Cache
	opts     trend.Options
	alertMgr *alert.Manager
	interval time.Duration
	log      logrus.FieldLogger
	metrics  *metrics.Registry

	// trending is nil until the first refresh so startup does not alert on
	// everything already trending.
	trending map[string]bool
}

// New creates a new scheduler.
func New(
	cache *trend.Cache,
	opts trend.Options,
	alertMgr *alert.Manager,
	interval time.Duration,
	log logrus.FieldLogger,
	m *metrics.Registry,
) *Scheduler {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	if alertMgr == nil {
		alertMgr = alert.NewManager(nil)
	}
	if m == nil {
		m = metrics.NewRegistry()
	}
	return &Scheduler{
		cache:    cache,
		opts:     opts,
		alertMgr: alertMgr,
		interval: interval,
		log:      log,
		metrics:  m,
	}
}

// Run starts the refresh loop. Blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("scheduler: initial refresh")
	s.refresh(ctx)

	s.log.WithField("interval", s.interval.String()).Info("scheduler: running")

	for {
		select {
		case <-ctx.Done():
			s.log.Info("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *Scheduler) refresh(ctx context.Context) {
	ranking, err := s.cache.Refresh(ctx, s.opts)
	if err != nil {
		s.log.WithError(err).Error("scheduler: ranking refresh failed")
		return
	}

	current := make(map[string]bool)
	var started []trend.TrendingProduct
	for _, p := range ranking.Products {
		if !p.IsTrending {
			continue
		}
		current[p.ProductID] = true
		if s.trending != nil && !s.trending[p.ProductID] {
			started = append(started, p)
		}
	}
	s.trending = current

	s.log.WithFields(logrus.Fields{
		"products": len(ranking.Products),
		"trending": len(current),
		"started":  len(started),
	}).Debug("scheduler: ranking refreshed")

	if len(started) == 0 || !s.alertMgr.HasNotifiers() {
		return
	}

	n := &alert.Notification{
		Title:    fmt.Sprintf("%d product(s) started trending", len(started)),
		Body:     fmt.Sprintf("Top new entry: %s (score %d)", started[0].Name, started[0].TrendingScore),
		Products: started,
	}
	if err := s.alertMgr.Broadcast(ctx, n); err != nil {
		s.log.WithError(err).Warn("scheduler: alert delivery failed")
		return
	}
	s.metrics.AlertsSent.Inc()
	s.log.WithField("started", len(started)).Info("scheduler: trending alert sent")
}
