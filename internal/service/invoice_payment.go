package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/events"
	"go.uber.org/zap"
)

// Errors returned while recording and settling payments.
var (
	ErrInvalidAmount        = errors.New("amount must be greater than 0")
	ErrAmountExceedsBalance = errors.New("amount exceeds the invoice balance")
	ErrPaymentModeNotFound  = errors.New("payment mode not found")
	ErrPaymentModeInactive  = errors.New("payment mode is inactive")
	ErrNotGatewayMode       = errors.New("payment mode is not a payment gateway")
	ErrReferenceRequired    = errors.New("reference_number is required for this payment mode")
	ErrChequeNumberRequired = errors.New("cheque_number is required for cheque payments")
	ErrGatewayUnavailable   = errors.New("online payments are not configured")
	ErrNonTerminalStatus    = errors.New("status must be SUCCESS or FAILED")
	ErrPaymentSettled       = errors.New("payment is already settled with a different status")
	ErrInvoiceCancelled     = errors.New("invoice is cancelled")
)

// CheckoutStarter opens a gateway checkout for an invoice.
// Satisfied by *payment.Manager.
type CheckoutStarter interface {
	Start(ctx context.Context, req GatewayPaymentRequest) (*CheckoutDescriptor, error)
}

// GatewayPaymentRequest asks for an online checkout.
type GatewayPaymentRequest struct {
	InvoiceID     uuid.UUID
	PaymentModeID uuid.UUID
	Amount        decimal.Decimal
	CreatedBy     uuid.UUID
}

// CheckoutDescriptor is what the console needs to open the checkout.
type CheckoutDescriptor struct {
	PaymentID        uuid.UUID
	PaymentReference string
	CheckoutURL      string
	ExpiresAt        time.Time
}

// PaymentRequest is a payment entered against an invoice.
type PaymentRequest struct {
	PaymentModeID   uuid.UUID
	Amount          decimal.Decimal
	PaymentDate     time.Time
	ReferenceNumber string
	ChequeNumber    string
	BankName        string
	CreatedBy       uuid.UUID
}

// PaymentResult carries the applied payment, or the checkout descriptor for
// gateway modes where nothing has been applied yet.
type PaymentResult struct {
	Payment  *database.Payment
	Invoice  *database.Invoice
	Checkout *CheckoutDescriptor
}

// PendingPaymentParams records an opened gateway checkout.
type PendingPaymentParams struct {
	InvoiceID     uuid.UUID
	PaymentModeID uuid.UUID
	Amount        decimal.Decimal
	Reference     string
	SessionID     string
	CheckoutURL   string
	CreatedBy     uuid.UUID
}

// Confirmation is the outcome of ConfirmPayment. Changed is false when the
// payment already had the confirmed status.
type Confirmation struct {
	Payment database.Payment
	Invoice *database.Invoice
	Changed bool
}

// RecordPayment applies a cash, cheque or transfer payment immediately. For a
// gateway mode it opens a checkout and returns its descriptor; the invoice is
// untouched until the gateway confirms.
func (s *InvoiceService) RecordPayment(ctx context.Context, invoiceID uuid.UUID, req PaymentRequest) (*PaymentResult, error) {
	if !req.Amount.IsPositive() {
		return nil, apperr.Validation("amount", ErrInvalidAmount)
	}
	mode, err := s.activeMode(ctx, req.PaymentModeID)
	if err != nil {
		return nil, err
	}

	if mode.IsPaymentGateway {
		if s.checkout == nil {
			return nil, apperr.External(serviceGateway, entityPayment, "initiate", ErrGatewayUnavailable)
		}
		descriptor, err := s.checkout.Start(ctx, GatewayPaymentRequest{
			InvoiceID:     invoiceID,
			PaymentModeID: mode.ID,
			Amount:        req.Amount,
			CreatedBy:     req.CreatedBy,
		})
		if err != nil {
			return nil, err
		}
		return &PaymentResult{Checkout: descriptor}, nil
	}

	if err := checkReference(mode, req); err != nil {
		return nil, err
	}
	if req.PaymentDate.IsZero() {
		req.PaymentDate = time.Now()
	}

	type applied struct {
		payment database.Payment
		invoice database.Invoice
	}
	res, err := inTx(ctx, s.pool, func(tx pgx.Tx) (applied, error) {
		store := s.newStore(tx)

		inv, err := store.GetInvoiceForUpdate(ctx, invoiceID)
		if err != nil {
			return applied{}, notFound(err, entityInvoice)
		}
		if _, err := fire(invoiceMachine(inv.Status), triggerPay, entityPayment, "record"); err != nil {
			return applied{}, err
		}
		if req.Amount.GreaterThan(inv.BalanceAmount()) {
			return applied{}, apperr.Validation("amount",
				fmt.Errorf("%w (balance %s)", ErrAmountExceedsBalance, inv.BalanceAmount().StringFixed(2)))
		}

		payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
			InvoiceID:       invoiceID,
			PaymentModeID:   mode.ID,
			Amount:          req.Amount.Round(2),
			PaymentDate:     req.PaymentDate,
			PaymentStatus:   enum.PaymentStatusSuccess,
			ReferenceNumber: database.NullText(strings.TrimSpace(req.ReferenceNumber)),
			ChequeNumber:    database.NullText(strings.TrimSpace(req.ChequeNumber)),
			BankName:        database.NullText(strings.TrimSpace(req.BankName)),
			SettledAt:       pgtype.Timestamptz{Time: time.Now(), Valid: true},
			CreatedBy:       req.CreatedBy,
		})
		if err != nil {
			return applied{}, fmt.Errorf("create payment: %w", err)
		}

		updated, err := applyPayment(ctx, store, inv, payment.Amount)
		if err != nil {
			return applied{}, err
		}
		return applied{payment: payment, invoice: updated}, nil
	})
	if err != nil {
		return nil, err
	}

	s.publishSettled(ctx, res.payment)
	return &PaymentResult{Payment: &res.payment, Invoice: &res.invoice}, nil
}

func applyPayment(ctx context.Context, store InvoiceStore, inv database.Invoice, amount decimal.Decimal) (database.Invoice, error) {
	paid := inv.PaidAmount.Add(amount)
	updated, err := store.ApplyInvoicePayment(ctx, database.ApplyInvoicePaymentParams{
		ID:            inv.ID,
		PaidAmount:    paid,
		PaymentStatus: enum.DerivePaymentStatus(paid, inv.TotalAmount),
	})
	if err != nil {
		return database.Invoice{}, fmt.Errorf("apply invoice payment: %w", err)
	}
	return updated, nil
}

func checkReference(mode database.PaymentMode, req PaymentRequest) error {
	if !mode.RequiresReference {
		return nil
	}
	if mode.Code == enum.PaymentModeCheque {
		if strings.TrimSpace(req.ChequeNumber) == "" {
			return apperr.Validation("cheque_number", ErrChequeNumberRequired)
		}
		return nil
	}
	if strings.TrimSpace(req.ReferenceNumber) == "" {
		return apperr.Validation("reference_number", ErrReferenceRequired)
	}
	return nil
}

func (s *InvoiceService) activeMode(ctx context.Context, id uuid.UUID) (database.PaymentMode, error) {
	mode, err := s.store.GetPaymentMode(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return database.PaymentMode{}, apperr.Validation("payment_mode_id", ErrPaymentModeNotFound)
		}
		return database.PaymentMode{}, fmt.Errorf("get payment mode: %w", err)
	}
	if !mode.IsActive {
		return database.PaymentMode{}, apperr.Validation("payment_mode_id", ErrPaymentModeInactive)
	}
	return mode, nil
}

// ValidateGatewayPayment checks a gateway request before any checkout is
// opened: gateway mode, payable invoice, 0 < amount <= balance.
func (s *InvoiceService) ValidateGatewayPayment(ctx context.Context, req GatewayPaymentRequest) (database.Invoice, error) {
	if !req.Amount.IsPositive() {
		return database.Invoice{}, apperr.Validation("amount", ErrInvalidAmount)
	}
	mode, err := s.activeMode(ctx, req.PaymentModeID)
	if err != nil {
		return database.Invoice{}, err
	}
	if !mode.IsPaymentGateway {
		return database.Invoice{}, apperr.Validation("payment_mode_id", ErrNotGatewayMode)
	}
	inv, err := s.store.GetInvoice(ctx, req.InvoiceID)
	if err != nil {
		return database.Invoice{}, notFound(err, entityInvoice)
	}
	if err := checkPayable(inv, req.Amount); err != nil {
		return database.Invoice{}, err
	}
	return inv, nil
}

func checkPayable(inv database.Invoice, amount decimal.Decimal) error {
	if _, err := fire(invoiceMachine(inv.Status), triggerPay, entityPayment, "initiate"); err != nil {
		return err
	}
	if amount.GreaterThan(inv.BalanceAmount()) {
		return apperr.Validation("amount",
			fmt.Errorf("%w (balance %s)", ErrAmountExceedsBalance, inv.BalanceAmount().StringFixed(2)))
	}
	return nil
}

// CreatePendingPayment stores the PENDING payment for an opened checkout.
// The balance is checked again under the invoice lock.
func (s *InvoiceService) CreatePendingPayment(ctx context.Context, p PendingPaymentParams) (database.Payment, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (database.Payment, error) {
		store := s.newStore(tx)

		inv, err := store.GetInvoiceForUpdate(ctx, p.InvoiceID)
		if err != nil {
			return database.Payment{}, notFound(err, entityInvoice)
		}
		if err := checkPayable(inv, p.Amount); err != nil {
			return database.Payment{}, err
		}

		payment, err := store.CreatePayment(ctx, database.CreatePaymentParams{
			InvoiceID:            p.InvoiceID,
			PaymentModeID:        p.PaymentModeID,
			Amount:               p.Amount.Round(2),
			PaymentDate:          time.Now(),
			PaymentStatus:        enum.PaymentStatusPending,
			PaymentReference:     database.NullText(p.Reference),
			GatewayTransactionID: database.NullText(p.SessionID),
			CheckoutUrl:          database.NullText(p.CheckoutURL),
			CreatedBy:            p.CreatedBy,
		})
		if err != nil {
			return database.Payment{}, fmt.Errorf("create pending payment: %w", err)
		}
		return payment, nil
	})
}

// ConfirmPayment settles a PENDING gateway payment exactly once. Repeating
// the same terminal status is a no-op; a different terminal status is a
// conflict and nothing changes. A SUCCESS that no longer fits the balance is
// refused and the payment stays PENDING for manual review.
func (s *InvoiceService) ConfirmPayment(ctx context.Context, paymentID uuid.UUID, status, transactionID string) (*Confirmation, error) {
	if status != enum.PaymentStatusSuccess && status != enum.PaymentStatusFailed {
		return nil, apperr.Validation("status", ErrNonTerminalStatus)
	}

	c, err := inTx(ctx, s.pool, func(tx pgx.Tx) (*Confirmation, error) {
		store := s.newStore(tx)

		payment, err := store.GetPaymentForUpdate(ctx, paymentID)
		if err != nil {
			return nil, notFound(err, entityPayment)
		}
		if payment.PaymentStatus != enum.PaymentStatusPending {
			if payment.PaymentStatus == status {
				return &Confirmation{Payment: payment}, nil
			}
			return nil, apperr.Conflict(entityPayment, "confirm",
				fmt.Errorf("%w (%s)", ErrPaymentSettled, payment.PaymentStatus))
		}

		var inv *database.Invoice
		if status == enum.PaymentStatusSuccess {
			current, err := store.GetInvoiceForUpdate(ctx, payment.InvoiceID)
			if err != nil {
				return nil, notFound(err, entityInvoice)
			}
			if current.Status == enum.InvoiceStatusCancelled {
				return nil, apperr.Conflict(entityPayment, "confirm", ErrInvoiceCancelled)
			}
			if payment.Amount.GreaterThan(current.BalanceAmount()) {
				return nil, apperr.Conflict(entityPayment, "confirm", ErrAmountExceedsBalance)
			}
			updated, err := applyPayment(ctx, store, current, payment.Amount)
			if err != nil {
				return nil, err
			}
			inv = &updated
		}

		settled, err := store.SettlePayment(ctx, database.SettlePaymentParams{
			ID:                   paymentID,
			PaymentStatus:        status,
			GatewayTransactionID: database.NullText(transactionID),
		})
		if err != nil {
			return nil, fmt.Errorf("settle payment: %w", err)
		}
		return &Confirmation{Payment: settled, Invoice: inv, Changed: true}, nil
	})
	if err != nil {
		if apperr.Is(err, apperr.KindConflict) {
			s.logger.Warn("payment confirmation refused",
				zap.String("payment_id", paymentID.String()),
				zap.String("status", status),
				zap.Error(err),
			)
		}
		return nil, err
	}

	if c.Changed {
		s.publishSettled(ctx, c.Payment)
	}
	return c, nil
}

func (s *InvoiceService) publishSettled(ctx context.Context, p database.Payment) {
	s.publisher.Publish(ctx, events.Event{
		Kind:          events.PaymentSettled,
		InvoiceID:     p.InvoiceID,
		PaymentID:     p.ID,
		PaymentStatus: p.PaymentStatus,
	})
}

func (s *InvoiceService) GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	p, err := s.store.GetPayment(ctx, id)
	if err != nil {
		return database.Payment{}, notFound(err, entityPayment)
	}
	return p, nil
}

func (s *InvoiceService) GetPaymentByReference(ctx context.Context, reference string) (database.Payment, error) {
	p, err := s.store.GetPaymentByReference(ctx, reference)
	if err != nil {
		return database.Payment{}, notFound(err, entityPayment)
	}
	return p, nil
}

func (s *InvoiceService) ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]database.Payment, error) {
	if _, err := s.store.GetInvoice(ctx, invoiceID); err != nil {
		return nil, notFound(err, entityInvoice)
	}
	payments, err := s.store.ListPaymentsByInvoice(ctx, invoiceID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return payments, nil
}

// ListPendingGatewayPayments returns gateway payments still awaiting
// confirmation, oldest first.
func (s *InvoiceService) ListPendingGatewayPayments(ctx context.Context) ([]database.Payment, error) {
	payments, err := s.store.ListPendingGatewayPayments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list pending gateway payments: %w", err)
	}
	return payments, nil
}
