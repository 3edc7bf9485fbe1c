package alert

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/elonfeng/shoptrend/pkg/trend"
)

// maxListed caps how many products a chat message lists.
const maxListed = 5

// Slack sends notifications via Slack incoming webhook.
type Slack struct {
	client     *http.Client
	webhookURL string
}

// NewSlack creates a new Slack notifier.
func NewSlack(webhookURL string) *Slack {
	return &Slack{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
	}
}

func (s *Slack) Name() string { return "slack" }

func (s *Slack) Send(ctx context.Context, n *Notification) error {
	blocks := []map[string]any{
		{
			"type": "header",
			"text": map[string]any{"type": "plain_text", "text": n.Title},
		},
		{
			"type": "section",
			"text": map[string]any{"type": "mrkdwn", "text": n.Body},
		},
	}

	if lines := productLines(n.Products, "*%s*"); len(lines) > 0 {
		var elements []map[string]any
		for _, line := range lines {
			elements = append(elements, map[string]any{"type": "mrkdwn", "text": line})
		}
		blocks = append(blocks, map[string]any{"type": "context", "elements": elements})
	}

	body, err := json.Marshal(map[string]any{"blocks": blocks})
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}
	if err := postJSON(ctx, s.client, s.webhookURL, body, nil); err != nil {
		return fmt.Errorf("slack webhook: %w", err)
	}
	return nil
}

// Discord sends notifications via Discord webhook.
type Discord struct {
	client     *http.Client
	webhookURL string
	now        func() time.Time
}

// NewDiscord creates a new Discord notifier.
func NewDiscord(webhookURL string) *Discord {
	return &Discord{
		client:     &http.Client{Timeout: 10 * time.Second},
		webhookURL: webhookURL,
		now:        time.Now,
	}
}

func (d *Discord) Name() string { return "discord" }

func (d *Discord) Send(ctx context.Context, n *Notification) error {
	description := n.Body
	if lines := productLines(n.Products, "**%s**"); len(lines) > 0 {
		description += "\n\n" + strings.Join(lines, "\n")
	}

	embed := map[string]any{
		"title":       n.Title,
		"description": description,
		"color":       0xFF6600,
		"timestamp":   d.now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(map[string]any{"embeds": []map[string]any{embed}})
	if err != nil {
		return fmt.Errorf("marshal discord payload: %w", err)
	}
	if err := postJSON(ctx, d.client, d.webhookURL, body, nil); err != nil {
		return fmt.Errorf("discord webhook: %w", err)
	}
	return nil
}

// productLines renders up to maxListed products, one line each, with the
// name wrapped in the destination's bold markup.
func productLines(products []trend.TrendingProduct, bold string) []string {
	if len(products) > maxListed {
		products = products[:maxListed]
	}
	lines := make([]string, 0, len(products))
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("• "+bold+" score %d | %d orders (%d recent) | %d views",
			p.Name, p.TrendingScore, p.OrderCount, p.RecentOrders, p.TotalViews))
	}
	return lines
}
