package payment

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/gateway"
	"github.com/templedesk/api/internal/service"
	"github.com/templedesk/api/internal/ws"
)

type fakeBilling struct {
	mu         sync.Mutex
	invoice    database.Invoice
	payments   map[uuid.UUID]database.Payment
	createErr  error
	confirmErr error
	confirms   int
}

func newFakeBilling() *fakeBilling {
	return &fakeBilling{
		invoice: database.Invoice{
			ID:            uuid.New(),
			InvoiceNumber: "INV-0001",
			Status:        enum.InvoiceStatusPosted,
			TotalAmount:   decimal.NewFromInt(100),
			PaidAmount:    decimal.Zero,
			PaymentStatus: enum.InvoicePaymentUnpaid,
		},
		payments: make(map[uuid.UUID]database.Payment),
	}
}

func (b *fakeBilling) ValidateGatewayPayment(ctx context.Context, req service.GatewayPaymentRequest) (database.Invoice, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if req.InvoiceID != b.invoice.ID {
		return database.Invoice{}, apperr.NotFound("invoice")
	}
	if req.Amount.GreaterThan(b.invoice.BalanceAmount()) {
		return database.Invoice{}, apperr.Validation("amount", service.ErrAmountExceedsBalance)
	}
	return b.invoice, nil
}

func (b *fakeBilling) CreatePendingPayment(ctx context.Context, p service.PendingPaymentParams) (database.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.createErr != nil {
		return database.Payment{}, b.createErr
	}
	payment := database.Payment{
		ID:                   uuid.New(),
		InvoiceID:            p.InvoiceID,
		PaymentModeID:        p.PaymentModeID,
		Amount:               p.Amount,
		PaymentStatus:        enum.PaymentStatusPending,
		PaymentReference:     database.NullText(p.Reference),
		GatewayTransactionID: database.NullText(p.SessionID),
		CheckoutUrl:          database.NullText(p.CheckoutURL),
		CreatedAt:            time.Now(),
	}
	b.payments[payment.ID] = payment
	return payment, nil
}

// addPending stores a PENDING gateway payment created at createdAt.
func (b *fakeBilling) addPending(amount string, sessionID string, createdAt time.Time) database.Payment {
	b.mu.Lock()
	defer b.mu.Unlock()
	p := database.Payment{
		ID:                   uuid.New(),
		InvoiceID:            b.invoice.ID,
		Amount:               decimal.RequireFromString(amount),
		PaymentStatus:        enum.PaymentStatusPending,
		PaymentReference:     database.NullText("PAY-" + sessionID),
		GatewayTransactionID: database.NullText(sessionID),
		CreatedAt:            createdAt,
	}
	b.payments[p.ID] = p
	return p
}

func (b *fakeBilling) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, status, transactionID string) (*service.Confirmation, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.confirms++
	if b.confirmErr != nil {
		return nil, b.confirmErr
	}
	p, ok := b.payments[paymentID]
	if !ok {
		return nil, apperr.NotFound("payment")
	}
	if p.PaymentStatus != enum.PaymentStatusPending {
		if p.PaymentStatus == status {
			return &service.Confirmation{Payment: p}, nil
		}
		return nil, apperr.Conflict("payment", "confirm", service.ErrPaymentSettled)
	}

	var inv *database.Invoice
	if status == enum.PaymentStatusSuccess {
		b.invoice.PaidAmount = b.invoice.PaidAmount.Add(p.Amount)
		b.invoice.PaymentStatus = enum.DerivePaymentStatus(b.invoice.PaidAmount, b.invoice.TotalAmount)
		copied := b.invoice
		inv = &copied
	}
	p.PaymentStatus = status
	if transactionID != "" {
		p.GatewayTransactionID = database.NullText(transactionID)
	}
	b.payments[paymentID] = p
	return &service.Confirmation{Payment: p, Invoice: inv, Changed: true}, nil
}

func (b *fakeBilling) GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	p, ok := b.payments[id]
	if !ok {
		return database.Payment{}, apperr.NotFound("payment")
	}
	return p, nil
}

func (b *fakeBilling) GetPaymentByReference(ctx context.Context, reference string) (database.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, p := range b.payments {
		if p.PaymentReference.String == reference {
			return p, nil
		}
	}
	return database.Payment{}, apperr.NotFound("payment")
}

func (b *fakeBilling) ListPendingGatewayPayments(ctx context.Context) ([]database.Payment, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []database.Payment
	for _, p := range b.payments {
		if p.PaymentStatus == enum.PaymentStatusPending && p.PaymentReference.Valid {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (b *fakeBilling) status(id uuid.UUID) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.payments[id].PaymentStatus
}

func (b *fakeBilling) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.payments)
}

func (b *fakeBilling) paid() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.invoice.PaidAmount.StringFixed(2)
}

func (b *fakeBilling) confirmCalls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.confirms
}

// fakeGateway answers status polls from results, keyed by checkout id.
// Unknown checkouts report fallback, or PENDING when it is empty.
type fakeGateway struct {
	mu          sync.Mutex
	fallback    string
	checkoutErr error
	results     map[string]gateway.Result
	pollErr     error
	polls       int
	expired     []string
	created     []gateway.CheckoutRequest
	webhook     *gateway.Notification
	webhookErr  error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]gateway.Result)}
}

func (g *fakeGateway) CreateCheckout(ctx context.Context, req gateway.CheckoutRequest) (*gateway.Checkout, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.checkoutErr != nil {
		return nil, g.checkoutErr
	}
	g.created = append(g.created, req)
	id := "cs_" + req.Reference
	return &gateway.Checkout{ID: id, URL: "https://checkout.example/" + id, ExpiresAt: req.ExpiresAt}, nil
}

func (g *fakeGateway) CheckoutStatus(ctx context.Context, sessionID string) (gateway.Result, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.polls++
	if g.pollErr != nil {
		return gateway.Result{}, g.pollErr
	}
	if r, ok := g.results[sessionID]; ok {
		return r, nil
	}
	if g.fallback != "" {
		return gateway.Result{Status: g.fallback}, nil
	}
	return gateway.Result{Status: enum.PaymentStatusPending}, nil
}

func (g *fakeGateway) ExpireCheckout(ctx context.Context, sessionID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, sessionID)
	return nil
}

func (g *fakeGateway) ParseWebhook(payload []byte, signature string) (*gateway.Notification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.webhookErr != nil {
		return nil, g.webhookErr
	}
	return g.webhook, nil
}

func (g *fakeGateway) setWebhook(n *gateway.Notification) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.webhook = n
}

func (g *fakeGateway) setResult(sessionID, status, transactionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[sessionID] = gateway.Result{Status: status, TransactionID: transactionID}
}

func (g *fakeGateway) pollCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.polls
}

func (g *fakeGateway) expiredCheckouts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.expired...)
}

type sentEvent struct {
	invoiceID uuid.UUID
	event     ws.Event
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []sentEvent
}

func (n *fakeNotifier) BroadcastToInvoice(invoiceID uuid.UUID, event ws.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, sentEvent{invoiceID, event})
}

func (n *fakeNotifier) types() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.events))
	for _, e := range n.events {
		out = append(out, e.event.Type)
	}
	return out
}

func (n *fakeNotifier) last() (sentEvent, paymentEvent) {
	n.mu.Lock()
	defer n.mu.Unlock()
	e := n.events[len(n.events)-1]
	var payload paymentEvent
	json.Unmarshal(e.event.Payload, &payload) //nolint:errcheck
	return e, payload
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []string
}

func (a *fakeAlerter) Alert(ctx context.Context, msg string, err error, tags map[string]string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.alerts = append(a.alerts, msg)
}

func (a *fakeAlerter) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.alerts)
}
