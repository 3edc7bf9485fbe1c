// Package catalog imports product display data from RSS/Atom product feeds
// that use the Google Merchant "g:" extension namespace.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/mmcdole/gofeed"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

// Feed is a named product feed URL.
type Feed struct {
	Name string
	URL  string
}

// Sink receives imported products.
type Sink interface {
	UpsertProducts(ctx context.Context, products []event.Product) error
}

// Importer fetches product feeds and upserts their entries into a Sink.
type Importer struct {
	client *http.Client
	parser *gofeed.Parser
	feeds  []Feed
	sink   Sink
	log    logrus.FieldLogger
}

// NewImporter creates a new feed importer.
func NewImporter(feeds []Feed, sink Sink, log logrus.FieldLogger) *Importer {
	return &Importer{
		client: &http.Client{Timeout: 30 * time.Second},
		parser: gofeed.NewParser(),
		feeds:  feeds,
		sink:   sink,
		log:    log,
	}
}

// Import fetches every feed and returns the number of products upserted. A
// failing feed does not stop the others; all failures are joined.
func (im *Importer) Import(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	for _, feed := range im.feeds {
		n, err := im.importFeed(ctx, feed)
		if err != nil {
			im.log.WithError(err).WithField("feed", feed.Name).Warn("catalog feed import failed")
			errs = append(errs, err)
			continue
		}
		im.log.WithFields(logrus.Fields{"feed": feed.Name, "products": n}).Info("catalog feed imported")
		total += n
	}
	return total, errors.Join(errs...)
}

func (im *Importer) importFeed(ctx context.Context, feed Feed) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feed.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("create feed request %s: %w", feed.Name, err)
	}
	req.Header.Set("User-Agent", "shoptrend/1.0")

	resp, err := im.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("fetch feed %s: %w", feed.Name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("feed %s status %d", feed.Name, resp.StatusCode)
	}

	products, skipped, err := Parse(im.parser, resp.Body)
	if err != nil {
		return 0, fmt.Errorf("parse feed %s: %w", feed.Name, err)
	}
	if skipped > 0 {
		im.log.WithFields(logrus.Fields{"feed": feed.Name, "skipped": skipped}).Warn("feed entries without product id")
	}
	if len(products) == 0 {
		return 0, nil
	}

	if err := im.sink.UpsertProducts(ctx, products); err != nil {
		return 0, fmt.Errorf("store feed %s: %w", feed.Name, err)
	}
	return len(products), nil
}

// Parse decodes a product feed. Entries with no usable id are skipped and
// counted.
func Parse(parser *gofeed.Parser, r io.Reader) ([]event.Product, int, error) {
	parsed, err := parser.Parse(r)
	if err != nil {
		return nil, 0, err
	}

	var (
		products []event.Product
		skipped  int
	)
	for _, entry := range parsed.Items {
		p, ok := productFromItem(entry)
		if !ok {
			skipped++
			continue
		}
		products = append(products, p)
	}
	return products, skipped, nil
}

func productFromItem(entry *gofeed.Item) (event.Product, bool) {
	id := firstNonEmpty(merchant(entry, "id"), entry.GUID)
	if id == "" {
		return event.Product{}, false
	}

	p := event.Product{
		ID:          id,
		Name:        firstNonEmpty(merchant(entry, "title"), entry.Title),
		Description: firstNonEmpty(merchant(entry, "description"), entry.Description),
		Image:       merchant(entry, "image_link"),
		Category:    firstNonEmpty(merchant(entry, "product_type"), merchant(entry, "google_product_category")),
		Price:       parsePrice(merchant(entry, "price")),
	}
	if p.Image == "" && entry.Image != nil {
		p.Image = entry.Image.URL
	}
	if p.Category == "" && len(entry.Categories) > 0 {
		p.Category = entry.Categories[0]
	}
	return p, true
}

// merchant returns the trimmed value of the g:<name> extension element.
func merchant(entry *gofeed.Item, name string) string {
	ns, ok := entry.Extensions["g"]
	if !ok {
		return ""
	}
	vals := ns[name]
	if len(vals) == 0 {
		return ""
	}
	return strings.TrimSpace(vals[0].Value)
}

// parsePrice reads values like "12.99 USD". Unparseable prices are zero.
func parsePrice(s string) decimal.Decimal {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(fields[0])
	if err != nil {
		return decimal.Zero
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
