package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/elonfeng/shoptrend/internal/config"
	"github.com/elonfeng/shoptrend/internal/logger"
	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/internal/scheduler"
	"github.com/elonfeng/shoptrend/internal/store"
	"github.com/elonfeng/shoptrend/pkg/alert"
	"github.com/elonfeng/shoptrend/pkg/catalog"
	"github.com/elonfeng/shoptrend/pkg/ingest"
	"github.com/elonfeng/shoptrend/pkg/server"
	"github.com/elonfeng/shoptrend/pkg/trend"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// app bundles what every subcommand needs.
type app struct {
	cfg     *config.Config
	log     *logrus.Logger
	db      *store.SQLiteStore
	metrics *metrics.Registry
}

func loadConfig() (*config.Config, error) {
	path := cfgFile
	if path == "" {
		if _, err := os.Stat("config.yaml"); err == nil {
			path = "config.yaml"
		}
	}
	return config.Load(path)
}

func setup() (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	db, err := store.New(cfg.Database.Path)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	return &app{cfg: cfg, log: log, db: db, metrics: metrics.NewRegistry()}, nil
}

func (a *app) Close() error {
	return a.db.Close()
}

// trendOptions converts the trend config section into validated ranking
// options.
func trendOptions(t config.TrendConfig) (trend.Options, error) {
	long, short, err := t.Windows()
	if err != nil {
		return trend.Options{}, err
	}
	opts := trend.Options{
		LongWindow:     long,
		ShortWindow:    short,
		CandidateLimit: t.CandidateLimit,
		ResultLimit:    t.ResultLimit,
		Threshold:      t.Threshold,
	}
	if err := opts.Validate(); err != nil {
		return trend.Options{}, fmt.Errorf("trend config: %w", err)
	}
	return opts, nil
}

// applyPopularFlags overlays the explicitly given popular command flags on
// opts, validates the result and resolves the reference instant.
func applyPopularFlags(opts trend.Options, f popularFlags, now time.Time) (trend.Options, time.Time, error) {
	if f.set["limit"] {
		opts.ResultLimit = f.limit
	}
	if f.set["candidates"] {
		opts.CandidateLimit = f.candidates
	}
	if f.set["threshold"] {
		opts.Threshold = f.threshold
	}
	if err := opts.Validate(); err != nil {
		return opts, now, err
	}
	if f.at != "" {
		at, err := time.Parse(time.RFC3339, f.at)
		if err != nil {
			return opts, now, fmt.Errorf("parse --at: %w", err)
		}
		now = at
	}
	return opts, now, nil
}

func (a *app) engine() *trend.Engine {
	return trend.NewEngine(a.db, a.log, a.metrics)
}

func (a *app) alertManager() *alert.Manager {
	var notifiers []alert.Notifier

	if a.cfg.Alerts.Slack.Enabled && a.cfg.Alerts.Slack.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewSlack(a.cfg.Alerts.Slack.WebhookURL))
	}
	if a.cfg.Alerts.Discord.Enabled && a.cfg.Alerts.Discord.WebhookURL != "" {
		notifiers = append(notifiers, alert.NewDiscord(a.cfg.Alerts.Discord.WebhookURL))
	}
	if a.cfg.Alerts.Webhook.Enabled && a.cfg.Alerts.Webhook.URL != "" {
		notifiers = append(notifiers, alert.NewWebhook(a.cfg.Alerts.Webhook.URL, a.cfg.Alerts.Webhook.Secret))
	}

	return alert.NewManager(notifiers)
}

func (a *app) consumers() []*ingest.Consumer {
	k := a.cfg.Kafka
	if !k.Enabled {
		return nil
	}
	return []*ingest.Consumer{
		ingest.NewOrderConsumer(ingest.ReaderConfig{Brokers: k.Brokers, GroupID: k.GroupID, Topic: k.OrderTopic}, a.db, a.log, a.metrics),
		ingest.NewViewConsumer(ingest.ReaderConfig{Brokers: k.Brokers, GroupID: k.GroupID, Topic: k.ViewTopic}, a.db, a.log, a.metrics),
	}
}

func runPopular(ctx context.Context, f popularFlags) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := trendOptions(a.cfg.Trend)
	if err != nil {
		return err
	}
	opts, now, err := applyPopularFlags(opts, f, time.Now())
	if err != nil {
		return err
	}

	ranking, err := a.engine().Rank(ctx, now, opts)
	if err != nil {
		return fmt.Errorf("rank products: %w", err)
	}

	if f.jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(ranking)
	}
	return printRanking(os.Stdout, ranking)
}

func printRanking(out io.Writer, r *trend.Ranking) error {
	if len(r.Products) == 0 {
		fmt.Fprintln(out, "no products ranked (no orders or views in the window)")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SCORE\tTRENDING\tORDERS\tRECENT\tVIEWS\tUNIQUE\tPRODUCT")
	for _, p := range r.Products {
		trending := ""
		if p.IsTrending {
			trending = "yes"
		}
		fmt.Fprintf(w, "%d\t%s\t%d\t%d\t%d\t%d\t%s (%s)\n",
			p.TrendingScore, trending, p.OrderCount, p.RecentOrders,
			p.TotalViews, p.UniqueViewers, p.Name, p.ProductID)
	}
	fmt.Fprintf(w, "\n%d candidates considered\n", r.TotalCandidatesConsidered)
	return w.Flush()
}

func (a *app) server(cache *trend.Cache, opts trend.Options, port int) *server.Server {
	if port == 0 {
		port = a.cfg.Server.Port
	}
	return server.New(cache, a.db, opts, a.metrics, a.log, port)
}

func runServe(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := trendOptions(a.cfg.Trend)
	if err != nil {
		return err
	}

	cache := trend.NewCache(a.engine(), a.cfg.Cache.ParseTTL(), a.metrics)
	return a.server(cache, opts, port).ListenAndServe(ctx)
}

func runDaemon(ctx context.Context, port int) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := trendOptions(a.cfg.Trend)
	if err != nil {
		return err
	}

	cache := trend.NewCache(a.engine(), a.cfg.Cache.ParseTTL(), a.metrics)
	sched := scheduler.New(cache, opts, a.alertManager(), a.cfg.Schedule.ParseRefreshInterval(), a.log, a.metrics)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && gctx.Err() == nil {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return a.server(cache, opts, port).ListenAndServe(gctx)
	})
	for _, c := range a.consumers() {
		g.Go(func() error { return c.Run(gctx) })
	}

	err = g.Wait()
	a.log.Info("shutting down")
	return err
}

func runImportCatalog(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	if len(a.cfg.Catalog.Feeds) == 0 {
		return fmt.Errorf("no catalog feeds configured")
	}

	feeds := make([]catalog.Feed, len(a.cfg.Catalog.Feeds))
	for i, f := range a.cfg.Catalog.Feeds {
		feeds[i] = catalog.Feed{Name: f.Name, URL: f.URL}
	}

	n, err := catalog.NewImporter(feeds, a.db, a.log).Import(ctx)
	fmt.Fprintf(os.Stderr, "imported %d products from %d feeds\n", n, len(feeds))
	return err
}

func runConsume(ctx context.Context) error {
	a, err := setup()
	if err != nil {
		return err
	}
	defer a.Close()

	consumers := a.consumers()
	if len(consumers) == 0 {
		return fmt.Errorf("kafka is not enabled (set kafka.enabled or SHOPTREND_KAFKA_BROKERS)")
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range consumers {
		g.Go(func() error { return c.Run(gctx) })
	}
	return g.Wait()
}
