package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry holds the process metrics on a private prometheus registry.
type Registry struct {
	reg *prometheus.Registry

	Rankings         prometheus.Counter
	RankingErrors    prometheus.Counter
	RankingSeconds   prometheus.Histogram
	Candidates       prometheus.Gauge
	MalformedSkipped *prometheus.CounterVec
	DanglingProducts prometheus.Counter

	CacheHits   prometheus.Counter
	CacheMisses prometheus.Counter

	ViewsRecorded    prometheus.Counter
	IngestedMessages *prometheus.CounterVec
	AlertsSent       prometheus.Counter
}

// NewRegistry creates a registry with every shoptrend metric registered.
func NewRegistry() *Registry {
	r := prometheus.NewRegistry()
	rankings := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_rankings_total"})
	rankingErrors := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_ranking_errors_total"})
	rankingSeconds := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "shoptrend_ranking_seconds",
		Buckets: prometheus.DefBuckets,
	})
	candidates := prometheus.NewGauge(prometheus.GaugeOpts{Name: "shoptrend_ranking_candidates"})
	malformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrend_malformed_records_skipped_total",
	}, []string{"kind"})
	dangling := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_dangling_products_total"})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_cache_hits_total"})
	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_cache_misses_total"})

	views := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_views_recorded_total"})
	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "shoptrend_ingested_messages_total",
	}, []string{"topic", "result"})
	alerts := prometheus.NewCounter(prometheus.CounterOpts{Name: "shoptrend_alerts_sent_total"})

	r.MustRegister(rankings, rankingErrors, rankingSeconds, candidates, malformed, dangling,
		cacheHits, cacheMisses, views, ingested, alerts)
	return &Registry{
		reg:              r,
		Rankings:         rankings,
		RankingErrors:    rankingErrors,
		RankingSeconds:   rankingSeconds,
		Candidates:       candidates,
		MalformedSkipped: malformed,
		DanglingProducts: dangling,
		CacheHits:        cacheHits,
		CacheMisses:      cacheMisses,
		ViewsRecorded:    views,
		IngestedMessages: ingested,
		AlertsSent:       alerts,
	}
}

// Gatherer exposes the underlying registry, mainly for tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

func (r *Registry) Handler() http.Handler { return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{}) }
