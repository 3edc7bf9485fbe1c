package alert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/elonfeng/shoptrend/pkg/trend"
)

// Notification is the data sent to alert destinations. Products carry the
// raw ranking entries in rank order.
type Notification struct {
	Title    string                  `json:"title"`
	Body     string                  `json:"body"`
	Products []trend.TrendingProduct `json:"products"`
}

// Notifier delivers alerts to a specific destination.
type Notifier interface {
	Name() string
	Send(ctx context.Context, n *Notification) error
}

// Manager broadcasts notifications to all registered notifiers.
type Manager struct {
	notifiers []Notifier
}

// NewManager creates a new alert manager.
func NewManager(notifiers []Notifier) *Manager {
	return &Manager{notifiers: notifiers}
}

// HasNotifiers returns true if at least one notifier is configured.
func (m *Manager) HasNotifiers() bool {
	return len(m.notifiers) > 0
}

// Broadcast sends n to every notifier concurrently and joins their errors.
// One failing destination does not prevent delivery to the others.
func (m *Manager) Broadcast(ctx context.Context, n *Notification) error {
	errs := make([]error, len(m.notifiers))
	var wg sync.WaitGroup
	for i, notifier := range m.notifiers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := notifier.Send(ctx, n); err != nil {
				errs[i] = fmt.Errorf("%s: %w", notifier.Name(), err)
			}
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

// postJSON posts a JSON body to url, treating any non-2xx status as an
// error.
func postJSON(ctx context.Context, client *http.Client, url string, body []byte, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
