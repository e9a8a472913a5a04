// Package payment runs online checkouts for invoices. Each checkout is a
// session watched by three racing sources: a confirmation signal, the
// checkout window closing and a timeout. The first source to settle decides
// the outcome and the invoice is credited only on the gateway's word.
package payment

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/templedesk/api/internal/alert"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/gateway"
	"github.com/templedesk/api/internal/service"
	"github.com/templedesk/api/internal/ws"
	"go.uber.org/zap"
)

const (
	entityPayment  = "payment"
	serviceGateway = "payment gateway"
	serviceLocks   = "payment service"

	// lockGrace keeps the invoice lock past the session timeout so the final
	// poll finishes before another attempt can start.
	lockGrace      = time.Minute
	pollTimeout    = 10 * time.Second
	resolveTimeout = 30 * time.Second
	// settleWait bounds how long a webhook or status request waits for a live
	// session to finish resolving.
	settleWait = 10 * time.Second
)

var (
	ErrPaymentInProgress = errors.New("a payment is already in progress for this invoice")
	ErrOriginNotAllowed  = errors.New("callback origin is not allowed")
	ErrPaymentMismatch   = errors.New("payment does not belong to this invoice")
	ErrUnresolved        = errors.New("gateway payment could not be confirmed")
)

// Billing is satisfied by *service.InvoiceService.
type Billing interface {
	ValidateGatewayPayment(ctx context.Context, req service.GatewayPaymentRequest) (database.Invoice, error)
	CreatePendingPayment(ctx context.Context, p service.PendingPaymentParams) (database.Payment, error)
	ConfirmPayment(ctx context.Context, paymentID uuid.UUID, status, transactionID string) (*service.Confirmation, error)
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (database.Payment, error)
	ListPendingGatewayPayments(ctx context.Context) ([]database.Payment, error)
}

// Notifier pushes session outcomes to consoles. Satisfied by *ws.Hub.
type Notifier interface {
	BroadcastToInvoice(invoiceID uuid.UUID, event ws.Event)
}

type Config struct {
	// Timeout is how long a checkout may stay unresolved.
	Timeout time.Duration
	// AllowedOrigins lists the origins a relayed checkout callback may come from.
	AllowedOrigins []string
}

// Manager owns every live gateway session of this process.
type Manager struct {
	billing  Billing
	gateway  gateway.Gateway
	locker   Locker
	notifier Notifier
	alerter  alert.Alerter
	logger   *zap.Logger

	timeout time.Duration
	origins map[string]bool
	now     func() time.Time

	mu          sync.Mutex
	sessions    map[uuid.UUID]*session
	byReference map[string]*session

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(cfg Config, billing Billing, gw gateway.Gateway, locker Locker, notifier Notifier, alerter alert.Alerter, logger *zap.Logger) *Manager {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 900 * time.Second
	}
	origins := make(map[string]bool, len(cfg.AllowedOrigins))
	for _, o := range cfg.AllowedOrigins {
		origins[strings.TrimRight(o, "/")] = true
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		billing:     billing,
		gateway:     gw,
		locker:      locker,
		notifier:    notifier,
		alerter:     alerter,
		logger:      logger,
		timeout:     cfg.Timeout,
		origins:     origins,
		now:         time.Now,
		sessions:    make(map[uuid.UUID]*session),
		byReference: make(map[string]*session),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start opens a checkout for an invoice payment: validate, lock the invoice,
// open the gateway checkout, store the PENDING payment and start watching.
// Nothing is stored when the gateway refuses the checkout.
func (m *Manager) Start(ctx context.Context, req service.GatewayPaymentRequest) (*service.CheckoutDescriptor, error) {
	inv, err := m.billing.ValidateGatewayPayment(ctx, req)
	if err != nil {
		return nil, err
	}

	key := invoiceLockKey(inv.ID)
	token, ok, err := m.locker.Acquire(ctx, key, m.timeout+lockGrace)
	if err != nil {
		return nil, apperr.External(serviceLocks, entityPayment, "initiate", err)
	}
	if !ok {
		return nil, apperr.Conflict(entityPayment, "initiate", ErrPaymentInProgress)
	}

	reference := "PAY-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", ""))
	deadline := m.now().Add(m.timeout)

	checkout, err := m.gateway.CreateCheckout(ctx, gateway.CheckoutRequest{
		Reference:     reference,
		InvoiceNumber: inv.InvoiceNumber,
		Amount:        req.Amount,
		ExpiresAt:     deadline,
	})
	if err != nil {
		m.releaseLock(key, token)
		m.logger.Warn("gateway checkout failed",
			zap.String("invoice_id", inv.ID.String()),
			zap.Error(err),
		)
		return nil, apperr.External(serviceGateway, entityPayment, "initiate", err)
	}

	p, err := m.billing.CreatePendingPayment(ctx, service.PendingPaymentParams{
		InvoiceID:     inv.ID,
		PaymentModeID: req.PaymentModeID,
		Amount:        req.Amount,
		Reference:     reference,
		SessionID:     checkout.ID,
		CheckoutURL:   checkout.URL,
		CreatedBy:     req.CreatedBy,
	})
	if err != nil {
		m.releaseLock(key, token)
		m.expireCheckout(checkout.ID)
		return nil, err
	}

	s := newSession(p, checkout.ID, token, deadline)
	s.fire(triggerOpen)
	m.launch(s)

	m.logger.Info("gateway checkout opened",
		zap.String("payment_id", p.ID.String()),
		zap.String("invoice_id", inv.ID.String()),
		zap.String("payment_reference", reference),
	)

	return &service.CheckoutDescriptor{
		PaymentID:        p.ID,
		PaymentReference: reference,
		CheckoutURL:      checkout.URL,
		ExpiresAt:        deadline,
	}, nil
}

// HandleWebhook applies a signed gateway notification. Webhooks are
// authoritative: a terminal outcome settles the payment whether or not a
// session is still watching it.
func (m *Manager) HandleWebhook(ctx context.Context, payload []byte, signature string) error {
	n, err := m.gateway.ParseWebhook(payload, signature)
	if errors.Is(err, gateway.ErrIgnoredEvent) {
		return nil
	}
	if err != nil {
		if errors.Is(err, gateway.ErrInvalidSignature) {
			return apperr.Validation("Stripe-Signature", err)
		}
		return err
	}
	if n.Reference == "" || !terminal(n.Status) {
		return nil
	}

	if s := m.sessionByReference(n.Reference); s != nil {
		s.deliver(signal{source: sourceWebhook, result: n.Result})
		m.awaitSession(ctx, s)
	}

	p, err := m.billing.GetPaymentByReference(ctx, n.Reference)
	if err != nil {
		if apperr.Is(err, apperr.KindNotFound) {
			m.logger.Warn("webhook for unknown payment reference", zap.String("payment_reference", n.Reference))
			return nil
		}
		return err
	}
	if p.PaymentStatus != enum.PaymentStatusPending {
		return nil
	}

	if _, err := m.settle(ctx, p, n.Result, "webhook"); err != nil && !apperr.Is(err, apperr.KindConflict) {
		return err
	}
	return nil
}

// RelayCallback takes the checkout callback the console received from the
// checkout window. The claimed status is never credited: it only makes the
// session ask the gateway.
func (m *Manager) RelayCallback(ctx context.Context, invoiceID, paymentID uuid.UUID, status, origin string) error {
	if !m.origins[strings.TrimRight(origin, "/")] {
		m.logger.Warn("checkout callback from unexpected origin",
			zap.String("payment_id", paymentID.String()),
			zap.String("origin", origin),
		)
		return apperr.Validation("origin", ErrOriginNotAllowed)
	}

	p, err := m.invoicePayment(ctx, invoiceID, paymentID)
	if err != nil || p.PaymentStatus != enum.PaymentStatusPending {
		return err
	}

	if s := m.session(paymentID); s != nil {
		if s.deliver(signal{source: sourceCallback, result: gateway.Result{Status: status}}) {
			return nil
		}
	}
	_, err = m.Status(ctx, paymentID)
	return err
}

// CheckoutClosed is the relayed form of CloseCheckout, scoped to the
// console's invoice.
func (m *Manager) CheckoutClosed(ctx context.Context, invoiceID, paymentID uuid.UUID) error {
	if _, err := m.invoicePayment(ctx, invoiceID, paymentID); err != nil {
		return err
	}
	_, err := m.CloseCheckout(ctx, paymentID)
	return err
}

// CloseCheckout reports that the checkout window was closed or could not be
// opened. The gateway is polled; a still-open checkout keeps the session
// running.
func (m *Manager) CloseCheckout(ctx context.Context, paymentID uuid.UUID) (database.Payment, error) {
	if s := m.session(paymentID); s != nil && s.markClosed() {
		return m.billing.GetPayment(ctx, paymentID)
	}
	return m.Status(ctx, paymentID)
}

func (m *Manager) invoicePayment(ctx context.Context, invoiceID, paymentID uuid.UUID) (database.Payment, error) {
	p, err := m.billing.GetPayment(ctx, paymentID)
	if err != nil {
		return database.Payment{}, err
	}
	if p.InvoiceID != invoiceID {
		return database.Payment{}, apperr.Validation("payment_id", ErrPaymentMismatch)
	}
	return p, nil
}

// Status returns the payment. A PENDING gateway payment is checked with the
// gateway first and confirmed on a terminal answer, so it works after the
// console went away or the server restarted.
func (m *Manager) Status(ctx context.Context, paymentID uuid.UUID) (database.Payment, error) {
	p, err := m.billing.GetPayment(ctx, paymentID)
	if err != nil {
		return database.Payment{}, err
	}
	if p.PaymentStatus != enum.PaymentStatusPending || !p.PaymentReference.Valid || !p.GatewayTransactionID.Valid {
		return p, nil
	}

	pctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	result, err := m.gateway.CheckoutStatus(pctx, p.GatewayTransactionID.String)
	if err != nil {
		return database.Payment{}, apperr.External(serviceGateway, entityPayment, "check", err)
	}
	if !terminal(result.Status) {
		return p, nil
	}

	if s := m.session(paymentID); s != nil {
		s.deliver(signal{source: sourcePoll, result: result})
		m.awaitSession(ctx, s)
		if p, err = m.billing.GetPayment(ctx, paymentID); err != nil {
			return database.Payment{}, err
		}
		if p.PaymentStatus != enum.PaymentStatusPending {
			return p, nil
		}
	}

	c, err := m.settle(ctx, p, result, "status_poll")
	if err != nil {
		return database.Payment{}, err
	}
	return c.Payment, nil
}

// settle confirms a payment that no live session is resolving.
func (m *Manager) settle(ctx context.Context, p database.Payment, result gateway.Result, source string) (*service.Confirmation, error) {
	c, err := m.billing.ConfirmPayment(ctx, p.ID, result.Status, result.TransactionID)
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			m.alerter.Alert(ctx, "gateway outcome refused", err, map[string]string{
				"payment_id":     p.ID.String(),
				"invoice_id":     p.InvoiceID.String(),
				"gateway_status": result.Status,
				"source":         source,
			})
		}
		return nil, err
	}
	if c.Changed {
		m.notifySettled(p.InvoiceID, c)
		m.logger.Info("gateway payment settled",
			zap.String("payment_id", p.ID.String()),
			zap.String("status", c.Payment.PaymentStatus),
			zap.String("source", source),
		)
	}
	return c, nil
}

// RecoverPending picks up PENDING gateway payments left by a previous
// process. Payments still inside their window are watched again. Payments
// past their deadline get one poll: a terminal answer settles them, anything
// else leaves them PENDING for Status without a new alert, since the session
// that timed out already raised one. Payments locked by another instance are
// left to it.
func (m *Manager) RecoverPending(ctx context.Context) (int, error) {
	payments, err := m.billing.ListPendingGatewayPayments(ctx)
	if err != nil {
		return 0, err
	}

	recovered := 0
	for _, p := range payments {
		if !p.GatewayTransactionID.Valid || m.session(p.ID) != nil {
			continue
		}
		key := invoiceLockKey(p.InvoiceID)
		token, ok, err := m.locker.Acquire(ctx, key, m.timeout+lockGrace)
		if err != nil {
			return recovered, fmt.Errorf("recover payment %s: %w", p.ID, err)
		}
		if !ok {
			continue
		}

		deadline := p.CreatedAt.Add(m.timeout)
		if !m.now().Before(deadline) {
			if m.recoverExpired(ctx, p) {
				recovered++
			}
			m.releaseLock(key, token)
			continue
		}

		s := newSession(p, p.GatewayTransactionID.String, token, deadline)
		s.fire(triggerOpen) //nolint:errcheck
		m.launch(s)
		recovered++
	}
	if recovered > 0 {
		m.logger.Info("recovered pending gateway payments", zap.Int("count", recovered))
	}
	return recovered, nil
}

// recoverExpired polls a payment whose checkout window has passed and
// settles it on a terminal answer.
func (m *Manager) recoverExpired(ctx context.Context, p database.Payment) bool {
	logger := m.logger.With(
		zap.String("payment_id", p.ID.String()),
		zap.String("invoice_id", p.InvoiceID.String()),
	)

	pctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	result, err := m.gateway.CheckoutStatus(pctx, p.GatewayTransactionID.String)
	if err != nil {
		logger.Warn("poll expired gateway payment", zap.Error(err))
		return false
	}
	if !terminal(result.Status) {
		logger.Info("expired gateway payment still unresolved", zap.String("gateway_status", result.Status))
		return false
	}
	if _, err := m.settle(ctx, p, result, "recovery_poll"); err != nil {
		logger.Error("settle expired gateway payment", zap.Error(err))
		return false
	}
	return true
}

// Shutdown stops every watcher and waits for them. Unresolved payments stay
// PENDING for RecoverPending.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.cancel()
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Active reports how many sessions are being watched.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *Manager) launch(s *session) {
	m.mu.Lock()
	m.sessions[s.paymentID] = s
	m.byReference[s.reference] = s
	m.mu.Unlock()

	m.wg.Add(1)
	go m.watch(s)
}

func (m *Manager) deregister(s *session) {
	m.mu.Lock()
	delete(m.sessions, s.paymentID)
	delete(m.byReference, s.reference)
	m.mu.Unlock()
	close(s.done)
}

func (m *Manager) session(paymentID uuid.UUID) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessions[paymentID]
}

func (m *Manager) sessionByReference(reference string) *session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.byReference[reference]
}

func (m *Manager) awaitSession(ctx context.Context, s *session) {
	timer := time.NewTimer(settleWait)
	defer timer.Stop()
	select {
	case <-s.done:
	case <-timer.C:
	case <-ctx.Done():
	}
}

func (m *Manager) releaseLock(key, token string) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	if err := m.locker.Release(ctx, key, token); err != nil {
		m.logger.Warn("release invoice lock", zap.String("key", key), zap.Error(err))
	}
}

func (m *Manager) expireCheckout(checkoutID string) {
	ctx, cancel := context.WithTimeout(context.Background(), pollTimeout)
	defer cancel()
	if err := m.gateway.ExpireCheckout(ctx, checkoutID); err != nil {
		m.logger.Warn("expire checkout", zap.String("checkout_id", checkoutID), zap.Error(err))
	}
}

type paymentEvent struct {
	PaymentID            uuid.UUID `json:"payment_id"`
	PaymentReference     string    `json:"payment_reference"`
	Status               string    `json:"status"`
	Amount               string    `json:"amount"`
	InvoicePaymentStatus string    `json:"invoice_payment_status,omitempty"`
	PaidAmount           string    `json:"paid_amount,omitempty"`
	BalanceAmount        string    `json:"balance_amount,omitempty"`
	Message              string    `json:"message,omitempty"`
}

func newPaymentEvent(p database.Payment) paymentEvent {
	return paymentEvent{
		PaymentID:        p.ID,
		PaymentReference: p.PaymentReference.String,
		Status:           p.PaymentStatus,
		Amount:           p.Amount.StringFixed(2),
	}
}

func (m *Manager) notifySettled(invoiceID uuid.UUID, c *service.Confirmation) {
	e := newPaymentEvent(c.Payment)
	eventType := ws.EventPaymentFailed
	if c.Payment.PaymentStatus == enum.PaymentStatusSuccess {
		eventType = ws.EventPaymentSucceeded
	}
	if c.Invoice != nil {
		e.InvoicePaymentStatus = c.Invoice.PaymentStatus
		e.PaidAmount = c.Invoice.PaidAmount.StringFixed(2)
		e.BalanceAmount = c.Invoice.BalanceAmount().StringFixed(2)
	}
	m.notifier.BroadcastToInvoice(invoiceID, ws.NewEvent(eventType, e))
}

func terminal(status string) bool {
	return status == enum.PaymentStatusSuccess || status == enum.PaymentStatusFailed
}
