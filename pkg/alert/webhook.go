package alert

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Headers set on every webhook delivery.
const (
	HeaderDelivery  = "X-Shoptrend-Delivery"
	HeaderTimestamp = "X-Shoptrend-Timestamp"
	HeaderSignature = "X-Shoptrend-Signature-256"
)

// Webhook posts notifications as JSON to an HTTP endpoint.
type Webhook struct {
	client *http.Client
	url    string
	secret string
	now    func() time.Time
}

// NewWebhook creates a webhook notifier. When secret is set every request
// carries an HMAC-SHA256 of "<timestamp>.<body>".
func NewWebhook(url, secret string) *Webhook {
	return &Webhook{
		client: &http.Client{Timeout: 10 * time.Second},
		url:    url,
		secret: secret,
		now:    time.Now,
	}
}

func (w *Webhook) Name() string { return "webhook" }

func (w *Webhook) Send(ctx context.Context, n *Notification) error {
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal webhook payload: %w", err)
	}

	ts := strconv.FormatInt(w.now().Unix(), 10)
	header := http.Header{}
	header.Set("User-Agent", "shoptrend/1.0")
	header.Set(HeaderDelivery, uuid.NewString())
	header.Set(HeaderTimestamp, ts)
	if w.secret != "" {
		header.Set(HeaderSignature, "sha256="+Sign(w.secret, ts, body))
	}

	if err := postJSON(ctx, w.client, w.url, body, header); err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

// Sign returns the hex HMAC-SHA256 a receiver should expect for body sent at ts.
func Sign(secret, ts string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(ts))
	mac.Write([]byte{'.'})
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}
