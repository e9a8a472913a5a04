package payment

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qmuntal/stateless"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/gateway"
	"github.com/templedesk/api/internal/ws"
	"go.uber.org/zap"
)

const (
	triggerOpen     = "open"
	triggerSucceed  = "succeed"
	triggerFail     = "fail"
	triggerTimeOut  = "time_out"
	signalQueueSize = 4
)

type signalSource string

const (
	sourceWebhook  signalSource = "webhook"
	sourceCallback signalSource = "callback"
	sourcePoll     signalSource = "status_poll"
)

type signal struct {
	source signalSource
	result gateway.Result
}

// outcome is what the winning source settled on. timedOut means no terminal
// answer was obtained.
type outcome struct {
	result   gateway.Result
	source   string
	timedOut bool
}

type session struct {
	paymentID  uuid.UUID
	invoiceID  uuid.UUID
	reference  string
	amount     string
	checkoutID string
	lockToken  string
	deadline   time.Time

	mu      sync.Mutex
	machine *stateless.StateMachine

	signals chan signal
	closed  chan struct{}
	done    chan struct{}
}

func newSession(p database.Payment, checkoutID, lockToken string, deadline time.Time) *session {
	return &session{
		paymentID:  p.ID,
		invoiceID:  p.InvoiceID,
		reference:  p.PaymentReference.String,
		amount:     p.Amount.StringFixed(2),
		checkoutID: checkoutID,
		lockToken:  lockToken,
		deadline:   deadline,
		machine:    sessionMachine(),
		signals:    make(chan signal, signalQueueSize),
		closed:     make(chan struct{}, 1),
		done:       make(chan struct{}),
	}
}

// sessionMachine: INITIATED -> PENDING_CONFIRMATION -> SUCCEEDED | FAILED |
// TIMED_OUT. TIMED_OUT also covers outcomes that could not be applied.
func sessionMachine() *stateless.StateMachine {
	m := stateless.NewStateMachine(enum.GatewaySessionInitiated)

	m.Configure(enum.GatewaySessionInitiated).
		Permit(triggerOpen, enum.GatewaySessionPendingConfirmation).
		Permit(triggerFail, enum.GatewaySessionFailed)

	m.Configure(enum.GatewaySessionPendingConfirmation).
		Permit(triggerSucceed, enum.GatewaySessionSucceeded).
		Permit(triggerFail, enum.GatewaySessionFailed).
		Permit(triggerTimeOut, enum.GatewaySessionTimedOut)

	return m
}

func (s *session) fire(trigger string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.machine.Fire(trigger)
}

func (s *session) state() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, _ := s.machine.MustState().(string)
	return st
}

// deliver queues a signal unless the session has finished or its queue is
// full.
func (s *session) deliver(sig signal) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.signals <- sig:
		return true
	default:
		return false
	}
}

// markClosed records a checkout-closed report. Repeated reports while one is
// queued are coalesced.
func (s *session) markClosed() bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.closed <- struct{}{}:
	default:
	}
	return true
}

// watch races the three sources. The first outcome wins, the losers are
// cancelled and joined, and only then is the outcome applied and the
// session deregistered.
func (m *Manager) watch(s *session) {
	defer m.wg.Done()
	defer m.deregister(s)

	ctx, cancel := context.WithCancel(m.ctx)
	defer cancel()

	sources := []func(context.Context, *session) (outcome, bool){
		m.awaitSignal,
		m.awaitClose,
		m.awaitTimeout,
	}
	settled := make(chan outcome, len(sources))

	var wg sync.WaitGroup
	for _, source := range sources {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if o, ok := source(ctx, s); ok {
				settled <- o
			}
		}()
	}

	var winner *outcome
	select {
	case o := <-settled:
		winner = &o
	case <-ctx.Done():
	}
	cancel()
	wg.Wait()

	if winner == nil {
		m.logger.Info("gateway session abandoned on shutdown", zap.String("payment_id", s.paymentID.String()))
		return
	}
	m.resolve(s, *winner)
}

func (m *Manager) awaitSignal(ctx context.Context, s *session) (outcome, bool) {
	for {
		select {
		case <-ctx.Done():
			return outcome{}, false
		case sig := <-s.signals:
			if sig.source != sourceCallback {
				if terminal(sig.result.Status) {
					return outcome{result: sig.result, source: string(sig.source)}, true
				}
				continue
			}

			r, err := m.poll(ctx, s)
			if err != nil {
				m.logger.Warn("verify checkout callback", zap.String("payment_id", s.paymentID.String()), zap.Error(err))
				continue
			}
			if terminal(r.Status) {
				return outcome{result: r, source: string(sourceCallback)}, true
			}
			m.logger.Info("checkout callback not confirmed by gateway",
				zap.String("payment_id", s.paymentID.String()),
				zap.String("claimed_status", sig.result.Status),
			)
		}
	}
}

func (m *Manager) awaitClose(ctx context.Context, s *session) (outcome, bool) {
	for {
		select {
		case <-ctx.Done():
			return outcome{}, false
		case <-s.closed:
		}

		r, err := m.poll(ctx, s)
		if err != nil {
			m.logger.Warn("poll closed checkout", zap.String("payment_id", s.paymentID.String()), zap.Error(err))
			continue
		}
		if terminal(r.Status) {
			return outcome{result: r, source: "checkout_closed"}, true
		}
	}
}

func (m *Manager) awaitTimeout(ctx context.Context, s *session) (outcome, bool) {
	timer := time.NewTimer(s.deadline.Sub(m.now()))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return outcome{}, false
	case <-timer.C:
	}

	r, err := m.poll(ctx, s)
	if ctx.Err() != nil {
		return outcome{}, false
	}
	if err == nil && terminal(r.Status) {
		return outcome{result: r, source: "timeout_poll"}, true
	}
	return outcome{source: "timeout", timedOut: true}, true
}

func (m *Manager) poll(ctx context.Context, s *session) (gateway.Result, error) {
	pctx, cancel := context.WithTimeout(ctx, pollTimeout)
	defer cancel()
	return m.gateway.CheckoutStatus(pctx, s.checkoutID)
}

// resolve applies the winning outcome exactly once, then releases the
// invoice lock and tells the consoles.
func (m *Manager) resolve(s *session, o outcome) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(m.ctx), resolveTimeout)
	defer cancel()
	defer m.releaseLock(invoiceLockKey(s.invoiceID), s.lockToken)

	logger := m.logger.With(
		zap.String("payment_id", s.paymentID.String()),
		zap.String("invoice_id", s.invoiceID.String()),
		zap.String("source", o.source),
	)

	if o.timedOut {
		s.fire(triggerTimeOut) //nolint:errcheck
		m.expireCheckout(s.checkoutID)
		m.unresolved(ctx, s, ErrUnresolved, "Payment could not be confirmed in time. Verify it manually before retrying.")
		logger.Warn("gateway session timed out")
		return
	}

	c, err := m.billing.ConfirmPayment(ctx, s.paymentID, o.result.Status, o.result.TransactionID)
	if err != nil {
		s.fire(triggerTimeOut) //nolint:errcheck
		m.unresolved(ctx, s, err, "Gateway reported "+o.result.Status+" but the payment could not be applied. Verify it manually.")
		logger.Error("confirm gateway payment", zap.String("gateway_status", o.result.Status), zap.Error(err))
		return
	}

	if c.Payment.PaymentStatus == enum.PaymentStatusSuccess {
		s.fire(triggerSucceed) //nolint:errcheck
	} else {
		s.fire(triggerFail) //nolint:errcheck
	}
	// Unchanged means a webhook or poll settled it first and already told
	// the consoles.
	if c.Changed {
		m.notifySettled(s.invoiceID, c)
	}
	logger.Info("gateway session resolved", zap.String("state", s.state()), zap.Bool("changed", c.Changed))
}

func (m *Manager) unresolved(ctx context.Context, s *session, err error, message string) {
	m.alerter.Alert(ctx, "gateway payment needs manual verification", err, map[string]string{
		"payment_id":        s.paymentID.String(),
		"invoice_id":        s.invoiceID.String(),
		"payment_reference": s.reference,
	})
	m.notifier.BroadcastToInvoice(s.invoiceID, ws.NewEvent(ws.EventPaymentTimedOut, paymentEvent{
		PaymentID:        s.paymentID,
		PaymentReference: s.reference,
		Status:           enum.PaymentStatusPending,
		Amount:           s.amount,
		Message:          message,
	}))
}
