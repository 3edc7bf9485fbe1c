package ingest

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/elonfeng/shoptrend/internal/metrics"
	"github.com/elonfeng/shoptrend/pkg/event"
	"github.com/segmentio/kafka-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeReader serves queued messages, then blocks until the context ends.
type fakeReader struct {
	mu        sync.Mutex
	queue     []kafka.Message
	committed []int64
	closed    bool
	drained   chan struct{}
}

func newFakeReader(values ...string) *fakeReader {
	r := &fakeReader{drained: make(chan struct{})}
	for i, v := range values {
		r.queue = append(r.queue, kafka.Message{Offset: int64(i), Value: []byte(v)})
	}
	return r
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	r.mu.Lock()
	if len(r.queue) > 0 {
		msg := r.queue[0]
		r.queue = r.queue[1:]
		r.mu.Unlock()
		return msg, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	if len(r.queue) == 0 {
		select {
		case <-r.drained:
		default:
			close(r.drained)
		}
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type memorySink struct {
	mu       sync.Mutex
	orders   []event.Order
	views    []event.View
	failures int
}

func (s *memorySink) UpsertOrder(_ context.Context, o *event.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failures > 0 {
		s.failures--
		return errors.New("database is locked")
	}
	s.orders = append(s.orders, *o)
	return nil
}

func (s *memorySink) RecordView(_ context.Context, v *event.View) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.views = append(s.views, *v)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

// ingested reads shoptrend_ingested_messages_total for the orders topic.
func ingested(t *testing.T, m *metrics.Registry, result string) float64 {
	t.Helper()
	families, err := m.Gatherer().Gather()
	require.NoError(t, err)
	for _, mf := range families {
		if mf.GetName() != "shoptrend_ingested_messages_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["topic"] == "shop.orders" && labels["result"] == result {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func runUntilDrained(t *testing.T, c *Consumer, r *fakeReader) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	select {
	case <-r.drained:
	case <-time.After(2 * time.Second):
		t.Fatal("messages were not drained")
	}
	cancel()
	require.NoError(t, <-done)
}

func TestOrderConsumer_StoresAndSkipsMalformed(t *testing.T) {
	r := newFakeReader(
		`{"id":"o1","status":"delivered","created_at":"2025-06-29T10:00:00Z","items":[{"product_id":"p1","quantity":2,"unit_price":"9.99"}]}`,
		`{not json`,
		`{"id":"o2","status":"lost","created_at":"2025-06-29T10:00:00Z"}`,
		`{"status":"pending","created_at":"2025-06-29T10:00:00Z"}`,
	)
	sink := &memorySink{failures: 2}
	m := metrics.NewRegistry()
	c := newConsumer("shop.orders", r, orderHandler(sink), quietLogger(), m)
	c.backoff = time.Millisecond

	runUntilDrained(t, c, r)

	require.Len(t, sink.orders, 1)
	o := sink.orders[0]
	assert.Equal(t, "o1", o.ID)
	require.Len(t, o.Items, 1)
	require.NotNil(t, o.Items[0].Quantity)
	assert.Equal(t, int64(2), *o.Items[0].Quantity)
	assert.Equal(t, "9.99", o.Items[0].UnitPrice.String())

	assert.Equal(t, []int64{0, 1, 2, 3}, r.committed)
	assert.True(t, r.closed)

	assert.Equal(t, 1.0, ingested(t, m, "stored"))
	assert.Equal(t, 3.0, ingested(t, m, "malformed"))
	assert.Equal(t, 2.0, ingested(t, m, "retry"))
}

func TestViewConsumer_RequiresProduct(t *testing.T) {
	r := newFakeReader(
		`{"product_id":"p1","user_id":"u1","viewed_at":"2025-06-29T10:00:00Z"}`,
		`{"user_id":"u2"}`,
		`{"product_id":"p2","ip_address":"198.51.100.4"}`,
	)
	sink := &memorySink{}
	c := newConsumer("shop.views", r, viewHandler(sink), quietLogger(), nil)

	runUntilDrained(t, c, r)

	require.Len(t, sink.views, 2)
	assert.Equal(t, "p1", sink.views[0].ProductID)
	assert.Equal(t, "198.51.100.4", sink.views[1].IPAddress)
	assert.Len(t, r.committed, 3)
}
