// Package events carries domain events between aggregates that are stored
// independently. Subscribers run after the publisher's transaction has
// committed, so a failing subscriber cannot undo the publisher's change; it is
// retried and then alerted.
package events

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/templedesk/api/internal/alert"
	"go.uber.org/zap"
)

type Kind string

const (
	DeliveryOrderCancelled Kind = "delivery_order.cancelled"
	DeliveryOrderDeleted   Kind = "delivery_order.deleted"
	PaymentSettled         Kind = "payment.settled"
)

// Event is a committed fact. Only the ids relevant to Kind are set.
type Event struct {
	Kind            Kind
	DeliveryOrderID uuid.UUID
	SalesOrderID    uuid.UUID
	// CancelSalesOrder asks the sales order side to cancel the parent order
	// once its reservations are released.
	CancelSalesOrder bool
	InvoiceID        uuid.UUID
	PaymentID        uuid.UUID
	PaymentStatus    string
	OccurredAt       time.Time
}

// Handler must be idempotent: it may run more than once for the same event.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	name    string
	handler Handler
}

// Bus is an in-process synchronous publisher.
type Bus struct {
	mu       sync.RWMutex
	subs     map[Kind][]subscription
	alerter  alert.Alerter
	logger   *zap.Logger
	attempts int
	backoff  time.Duration
}

// NewBus creates a Bus that retries each handler three times.
func NewBus(alerter alert.Alerter, logger *zap.Logger) *Bus {
	return &Bus{
		subs:     make(map[Kind][]subscription),
		alerter:  alerter,
		logger:   logger,
		attempts: 3,
		backoff:  100 * time.Millisecond,
	}
}

// SetRetry overrides the retry policy. attempts < 1 is treated as 1.
func (b *Bus) SetRetry(attempts int, backoff time.Duration) {
	if attempts < 1 {
		attempts = 1
	}
	b.attempts = attempts
	b.backoff = backoff
}

func (b *Bus) Subscribe(kind Kind, name string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[kind] = append(b.subs[kind], subscription{name: name, handler: h})
}

// Publish runs every handler for e.Kind. It never fails the caller: the
// request context is detached so a client disconnect does not abort a
// compensation, and exhausted retries are alerted.
func (b *Bus) Publish(ctx context.Context, e Event) {
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now()
	}
	ctx = context.WithoutCancel(ctx)

	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[e.Kind]...)
	b.mu.RUnlock()

	for _, sub := range subs {
		if err := b.deliver(ctx, sub, e); err != nil {
			b.alerter.Alert(ctx, "event handler failed", err, map[string]string{
				"event":             string(e.Kind),
				"handler":           sub.name,
				"delivery_order_id": e.DeliveryOrderID.String(),
				"sales_order_id":    e.SalesOrderID.String(),
				"invoice_id":        e.InvoiceID.String(),
			})
		}
	}
}

func (b *Bus) deliver(ctx context.Context, sub subscription, e Event) error {
	var err error
	for attempt := 1; attempt <= b.attempts; attempt++ {
		if err = sub.handler(ctx, e); err == nil {
			return nil
		}
		b.logger.Warn("event handler attempt failed",
			zap.String("event", string(e.Kind)),
			zap.String("handler", sub.name),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		if attempt < b.attempts && b.backoff > 0 {
			time.Sleep(b.backoff * time.Duration(attempt))
		}
	}
	return fmt.Errorf("%s gave up after %d attempts: %w", sub.name, b.attempts, err)
}
