package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/ledger"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	invoiceNumberConstraint      = "invoices_invoice_number_key"
	invoiceActiveOrderConstraint = "invoices_active_sales_order_key"
	invoiceActiveDOConstraint    = "invoices_active_delivery_order_key"

	migrationConcurrency = 4
)

var hundred = decimal.NewFromInt(100)

// Errors returned by the invoice service.
var (
	ErrInvoiceExists          = errors.New("a non-cancelled invoice already exists for this source")
	ErrOrderBilledDirectly    = errors.New("sales order is already invoiced directly")
	ErrOrderBilledPerDelivery = errors.New("sales order is already invoiced per delivery order")
	ErrInvalidDiscount        = errors.New("discount_amount must be between 0 and the subtotal")
	ErrInvalidTaxRate         = errors.New("tax_rate must be between 0 and 100")
	ErrInvoiceHasPayments     = errors.New("invoice has recorded payments")
	ErrPaymentInProgress      = errors.New("an online payment is still in progress")
	ErrInvoiceNotPosted       = errors.New("invoice is not posted")
	ErrAlreadyMigrated        = errors.New("invoice is already migrated to accounting")
	ErrCustomerMismatch       = errors.New("customer does not match the source document")
	ErrSourceMismatch         = errors.New("delivery order does not belong to the sales order")
)

// InvoiceStore defines the DB methods needed by InvoiceService.
// Satisfied by *database.Queries (and its WithTx variant).
type InvoiceStore interface {
	CatalogReader
	CustomerReader
	GetSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	GetSalesOrderForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	ListSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) ([]database.SalesOrderItem, error)
	GetDeliveryOrder(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error)
	ListDeliveryOrderItems(ctx context.Context, deliveryOrderID uuid.UUID) ([]database.DeliveryOrderItem, error)

	GetNextInvoiceNumber(ctx context.Context) (int32, error)
	CreateInvoice(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error)
	CreateInvoiceItem(ctx context.Context, arg database.CreateInvoiceItemParams) (database.InvoiceItem, error)
	GetInvoice(ctx context.Context, id uuid.UUID) (database.Invoice, error)
	GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (database.Invoice, error)
	GetActiveInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (database.Invoice, error)
	GetActiveInvoiceByDeliveryOrder(ctx context.Context, deliveryOrderID uuid.UUID) (database.Invoice, error)
	GetActiveDeliveryInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (database.Invoice, error)
	ListInvoices(ctx context.Context, arg database.ListInvoicesParams) ([]database.Invoice, error)
	ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]database.InvoiceItem, error)
	UpdateInvoiceStatus(ctx context.Context, arg database.UpdateInvoiceStatusParams) (database.Invoice, error)
	ApplyInvoicePayment(ctx context.Context, arg database.ApplyInvoicePaymentParams) (database.Invoice, error)
	RecordInvoiceMigrationFailure(ctx context.Context, arg database.RecordInvoiceMigrationFailureParams) error
	MarkInvoiceMigrated(ctx context.Context, id uuid.UUID) (int64, error)
	ListUnmigratedPostedInvoices(ctx context.Context) ([]database.Invoice, error)

	GetPaymentMode(ctx context.Context, id uuid.UUID) (database.PaymentMode, error)
	CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error)
	GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (database.Payment, error)
	GetPaymentByReference(ctx context.Context, reference string) (database.Payment, error)
	ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]database.Payment, error)
	ListPendingGatewayPayments(ctx context.Context) ([]database.Payment, error)
	SettlePayment(ctx context.Context, arg database.SettlePaymentParams) (database.Payment, error)
}

// NewInvoiceStore creates an InvoiceStore from a DBTX (pool or tx).
type NewInvoiceStore func(db database.DBTX) InvoiceStore

// LedgerPoster posts journal entries to the general ledger.
// Satisfied by *ledger.Client.
type LedgerPoster interface {
	PostInvoice(ctx context.Context, p ledger.InvoicePosting) error
}

// InvoiceRequest is a reviewed invoice ready to be stored. When a source
// document is set the customer is taken from it.
type InvoiceRequest struct {
	CustomerID      uuid.UUID
	SalesOrderID    *uuid.UUID
	DeliveryOrderID *uuid.UUID
	InvoiceDate     time.Time
	DueDate         *time.Time
	DiscountAmount  decimal.Decimal
	TaxRate         decimal.Decimal
	Notes           string
	CreatedBy       uuid.UUID
	Items           []LineInput
}

// DraftLine is a proposed invoice line copied from a source document.
type DraftLine struct {
	ProductID   *uuid.UUID
	SalesItemID *uuid.UUID
	Description string
	Quantity    int32
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

// InvoiceDraft is the unsaved review form for an invoice. Nothing is stored
// until the reviewed draft is sent back to Create.
type InvoiceDraft struct {
	CustomerID        uuid.UUID
	SalesOrderID      *uuid.UUID
	DeliveryOrderID   *uuid.UUID
	Lines             []DraftLine
	Subtotal          decimal.Decimal
	ExistingInvoiceID *uuid.UUID
}

type InvoiceDetail struct {
	Invoice  database.Invoice
	Items    []database.InvoiceItem
	Payments []database.Payment
}

type InvoiceFilter struct {
	Status        string
	PaymentStatus string
	CustomerID    *uuid.UUID
	Migrated      *bool
	Search        string
	Limit         int32
	Offset        int32
}

// MigrationFailure is one invoice the ledger did not accept.
type MigrationFailure struct {
	InvoiceID     uuid.UUID
	InvoiceNumber string
	Error         string
}

// MigrationReport summarises a retry run. Partial success is normal.
type MigrationReport struct {
	Attempted int
	Migrated  []uuid.UUID
	Failed    []MigrationFailure
}

// InvoiceService converts orders and deliveries into invoices, applies
// payments and migrates posted invoices to the ledger.
type InvoiceService struct {
	store     InvoiceStore
	pool      TxBeginner
	newStore  NewInvoiceStore
	ledger    LedgerPoster
	checkout  CheckoutStarter
	publisher EventPublisher
	logger    *zap.Logger
}

func NewInvoiceService(store InvoiceStore, pool TxBeginner, newStore NewInvoiceStore, ledger LedgerPoster, publisher EventPublisher, logger *zap.Logger) *InvoiceService {
	return &InvoiceService{
		store:     store,
		pool:      pool,
		newStore:  newStore,
		ledger:    ledger,
		publisher: publisher,
		logger:    logger,
	}
}

// SetCheckout wires the gateway session manager. It is set after
// construction because the manager settles payments through this service.
func (s *InvoiceService) SetCheckout(c CheckoutStarter) {
	s.checkout = c
}

// DraftFromOrder proposes an invoice for an APPROVED sales order.
func (s *InvoiceService) DraftFromOrder(ctx context.Context, orderID uuid.UUID) (*InvoiceDraft, error) {
	order, err := s.store.GetSalesOrder(ctx, orderID)
	if err != nil {
		return nil, notFound(err, entitySalesOrder)
	}
	if order.Status != enum.SalesOrderStatusApproved {
		return nil, apperr.InvalidState(entityInvoice, "draft",
			fmt.Errorf("%w (status %s)", ErrSalesOrderNotApproved, order.Status))
	}
	items, err := s.store.ListSalesOrderItems(ctx, orderID)
	if err != nil {
		return nil, fmt.Errorf("list sales order items: %w", err)
	}

	draft := &InvoiceDraft{CustomerID: order.CustomerID, SalesOrderID: &order.ID, Subtotal: decimal.Zero}
	for _, item := range items {
		draft.addLine(item.ProductID, item.SalesItemID, item.Description, item.Quantity, item.UnitPrice)
	}

	existing, err := s.store.GetActiveInvoiceBySalesOrder(ctx, orderID)
	switch {
	case err == nil:
		draft.ExistingInvoiceID = &existing.ID
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get active invoice: %w", err)
	}
	return draft, nil
}

// DraftFromDeliveryOrder proposes an invoice for a COMPLETED delivery order.
// Quantities are the accepted quantities when a quality check was recorded.
func (s *InvoiceService) DraftFromDeliveryOrder(ctx context.Context, doID uuid.UUID) (*InvoiceDraft, error) {
	do, err := s.store.GetDeliveryOrder(ctx, doID)
	if err != nil {
		return nil, notFound(err, entityDeliveryOrder)
	}
	if do.Status != enum.DeliveryOrderStatusCompleted {
		return nil, apperr.InvalidState(entityInvoice, "draft", ErrDeliveryOrderNotComplete)
	}
	items, err := s.store.ListDeliveryOrderItems(ctx, doID)
	if err != nil {
		return nil, fmt.Errorf("list delivery order items: %w", err)
	}

	draft := &InvoiceDraft{
		CustomerID:      do.CustomerID,
		SalesOrderID:    database.UUIDPtr(do.SalesOrderID),
		DeliveryOrderID: &do.ID,
		Subtotal:        decimal.Zero,
	}
	for _, item := range items {
		qty := item.DeliveredQuantity
		if do.QualityCheckDone {
			qty = item.AcceptedQuantity
		}
		if qty == 0 {
			continue
		}
		draft.addLine(item.ProductID, item.SalesItemID, item.Description, qty, item.UnitPrice)
	}

	existing, err := s.store.GetActiveInvoiceByDeliveryOrder(ctx, doID)
	switch {
	case err == nil:
		draft.ExistingInvoiceID = &existing.ID
	case !errors.Is(err, pgx.ErrNoRows):
		return nil, fmt.Errorf("get active invoice: %w", err)
	}
	return draft, nil
}

func (d *InvoiceDraft) addLine(productID, salesItemID pgtype.UUID, description string, qty int32, unitPrice decimal.Decimal) {
	total := lineTotal(unitPrice, qty)
	d.Lines = append(d.Lines, DraftLine{
		ProductID:   database.UUIDPtr(productID),
		SalesItemID: database.UUIDPtr(salesItemID),
		Description: description,
		Quantity:    qty,
		UnitPrice:   unitPrice,
		LineTotal:   total,
	})
	d.Subtotal = d.Subtotal.Add(total)
}

type invoiceTotals struct {
	subtotal decimal.Decimal
	discount decimal.Decimal
	taxRate  decimal.Decimal
	tax      decimal.Decimal
	total    decimal.Decimal
}

// computeTotals: tax = (subtotal - discount) * rate / 100,
// total = subtotal - discount + tax.
func computeTotals(subtotal, discount, taxRate decimal.Decimal) (invoiceTotals, error) {
	if discount.IsNegative() || discount.GreaterThan(subtotal) {
		return invoiceTotals{}, apperr.Validation("discount_amount", ErrInvalidDiscount)
	}
	if taxRate.IsNegative() || taxRate.GreaterThan(hundred) {
		return invoiceTotals{}, apperr.Validation("tax_rate", ErrInvalidTaxRate)
	}
	net := subtotal.Sub(discount)
	tax := net.Mul(taxRate).Div(hundred).Round(2)
	return invoiceTotals{
		subtotal: subtotal,
		discount: discount.Round(2),
		taxRate:  taxRate,
		tax:      tax,
		total:    net.Add(tax).Round(2),
	}, nil
}

// Create stores a reviewed invoice as DRAFT. A second live invoice for the
// same sales order (billed directly) or delivery order is a conflict.
func (s *InvoiceService) Create(ctx context.Context, req InvoiceRequest) (*InvoiceDetail, error) {
	if req.InvoiceDate.IsZero() {
		req.InvoiceDate = time.Now()
	}

	detail, err := withNumberRetry(invoiceNumberConstraint, func() (*InvoiceDetail, error) {
		return inTx(ctx, s.pool, func(tx pgx.Tx) (*InvoiceDetail, error) {
			store := s.newStore(tx)

			customerID, salesOrderID, err := s.resolveSource(ctx, store, req)
			if err != nil {
				return nil, err
			}
			if err := requireCustomer(ctx, store, customerID); err != nil {
				return nil, err
			}

			lines, subtotal, err := resolveLines(ctx, store, req.Items)
			if err != nil {
				return nil, err
			}
			totals, err := computeTotals(subtotal, req.DiscountAmount, req.TaxRate)
			if err != nil {
				return nil, err
			}

			next, err := store.GetNextInvoiceNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("get next invoice number: %w", err)
			}
			params := database.CreateInvoiceParams{
				InvoiceNumber:   fmt.Sprintf("INV-%04d", next),
				CustomerID:      customerID,
				SalesOrderID:    database.NullUUID(salesOrderID),
				DeliveryOrderID: database.NullUUID(req.DeliveryOrderID),
				InvoiceDate:     req.InvoiceDate,
				Subtotal:        totals.subtotal,
				DiscountAmount:  totals.discount,
				TaxRate:         totals.taxRate,
				TaxAmount:       totals.tax,
				TotalAmount:     totals.total,
				Notes:           database.NullText(req.Notes),
				CreatedBy:       req.CreatedBy,
			}
			if req.DueDate != nil {
				params.DueDate = pgtype.Date{Time: *req.DueDate, Valid: true}
			}
			inv, err := store.CreateInvoice(ctx, params)
			if err != nil {
				return nil, fmt.Errorf("create invoice: %w", err)
			}

			items := make([]database.InvoiceItem, 0, len(lines))
			for i, line := range lines {
				item, err := store.CreateInvoiceItem(ctx, database.CreateInvoiceItemParams{
					InvoiceID:   inv.ID,
					ProductID:   line.productID,
					SalesItemID: line.salesItemID,
					Description: line.description,
					Quantity:    line.quantity,
					UnitPrice:   line.unitPrice,
					LineTotal:   line.lineTotal,
				})
				if err != nil {
					return nil, fmt.Errorf("item[%d]: create invoice item: %w", i, err)
				}
				items = append(items, item)
			}
			return &InvoiceDetail{Invoice: inv, Items: items}, nil
		})
	})
	if isUniqueViolation(err, invoiceActiveOrderConstraint) || isUniqueViolation(err, invoiceActiveDOConstraint) {
		return nil, apperr.Conflict(entityInvoice, "create", ErrInvoiceExists)
	}
	return detail, err
}

// resolveSource checks the source document and returns the customer and
// sales order the invoice is linked to.
func (s *InvoiceService) resolveSource(ctx context.Context, store InvoiceStore, req InvoiceRequest) (uuid.UUID, *uuid.UUID, error) {
	customerID := req.CustomerID
	salesOrderID := req.SalesOrderID

	if req.DeliveryOrderID != nil {
		do, err := store.GetDeliveryOrder(ctx, *req.DeliveryOrderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, nil, apperr.Validation("delivery_order_id", apperr.NotFound(entityDeliveryOrder))
			}
			return uuid.Nil, nil, fmt.Errorf("get delivery order: %w", err)
		}
		if do.Status != enum.DeliveryOrderStatusCompleted {
			return uuid.Nil, nil, apperr.InvalidState(entityInvoice, "create", ErrDeliveryOrderNotComplete)
		}
		if salesOrderID != nil && (!do.SalesOrderID.Valid || uuid.UUID(do.SalesOrderID.Bytes) != *salesOrderID) {
			return uuid.Nil, nil, apperr.Validation("delivery_order_id", ErrSourceMismatch)
		}
		if customerID != uuid.Nil && customerID != do.CustomerID {
			return uuid.Nil, nil, apperr.Validation("customer_id", ErrCustomerMismatch)
		}
		if do.SalesOrderID.Valid {
			// The order row lock serialises this against a direct invoice
			// being created for the same order.
			if _, err := store.GetSalesOrderForUpdate(ctx, uuid.UUID(do.SalesOrderID.Bytes)); err != nil {
				return uuid.Nil, nil, fmt.Errorf("lock sales order: %w", err)
			}
			if err := refuseLive(store.GetActiveInvoiceBySalesOrder(ctx, uuid.UUID(do.SalesOrderID.Bytes))); err != nil {
				return uuid.Nil, nil, wrapExists(err, ErrOrderBilledDirectly)
			}
		}
		if err := refuseLive(store.GetActiveInvoiceByDeliveryOrder(ctx, do.ID)); err != nil {
			return uuid.Nil, nil, wrapExists(err, ErrInvoiceExists)
		}
		return do.CustomerID, database.UUIDPtr(do.SalesOrderID), nil
	}

	if salesOrderID != nil {
		order, err := store.GetSalesOrderForUpdate(ctx, *salesOrderID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return uuid.Nil, nil, apperr.Validation("sales_order_id", apperr.NotFound(entitySalesOrder))
			}
			return uuid.Nil, nil, fmt.Errorf("get sales order: %w", err)
		}
		if order.Status != enum.SalesOrderStatusApproved {
			return uuid.Nil, nil, apperr.InvalidState(entityInvoice, "create",
				fmt.Errorf("%w (status %s)", ErrSalesOrderNotApproved, order.Status))
		}
		if customerID != uuid.Nil && customerID != order.CustomerID {
			return uuid.Nil, nil, apperr.Validation("customer_id", ErrCustomerMismatch)
		}
		if err := refuseLive(store.GetActiveInvoiceBySalesOrder(ctx, order.ID)); err != nil {
			return uuid.Nil, nil, wrapExists(err, ErrInvoiceExists)
		}
		if err := refuseLive(store.GetActiveDeliveryInvoiceBySalesOrder(ctx, order.ID)); err != nil {
			return uuid.Nil, nil, wrapExists(err, ErrOrderBilledPerDelivery)
		}
		return order.CustomerID, salesOrderID, nil
	}

	return customerID, nil, nil
}

// errLiveInvoice marks a lookup that found a non-cancelled invoice.
var errLiveInvoice = errors.New("live invoice found")

// refuseLive turns an active-invoice lookup into errLiveInvoice when a row
// exists, nil when none does, and passes other errors through.
func refuseLive(_ database.Invoice, err error) error {
	switch {
	case err == nil:
		return errLiveInvoice
	case errors.Is(err, pgx.ErrNoRows):
		return nil
	default:
		return fmt.Errorf("get active invoice: %w", err)
	}
}

func wrapExists(err, reason error) error {
	if errors.Is(err, errLiveInvoice) {
		return apperr.Conflict(entityInvoice, "create", reason)
	}
	return err
}

func (s *InvoiceService) Get(ctx context.Context, id uuid.UUID) (*InvoiceDetail, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return nil, notFound(err, entityInvoice)
	}
	items, err := s.store.ListInvoiceItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list invoice items: %w", err)
	}
	payments, err := s.store.ListPaymentsByInvoice(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	return &InvoiceDetail{Invoice: inv, Items: items, Payments: payments}, nil
}

func (s *InvoiceService) List(ctx context.Context, f InvoiceFilter) ([]database.Invoice, error) {
	params := database.ListInvoicesParams{
		Status:        database.NullText(f.Status),
		PaymentStatus: database.NullText(f.PaymentStatus),
		CustomerID:    database.NullUUID(f.CustomerID),
		Search:        database.NullText(strings.TrimSpace(f.Search)),
		Limit:         f.Limit,
		Offset:        f.Offset,
	}
	if f.Migrated != nil {
		params.AccountMigration = pgtype.Int2{Valid: true}
		if *f.Migrated {
			params.AccountMigration.Int16 = 1
		}
	}
	invoices, err := s.store.ListInvoices(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list invoices: %w", err)
	}
	return invoices, nil
}

// Post finalises a DRAFT invoice. Only posted invoices migrate to the ledger.
func (s *InvoiceService) Post(ctx context.Context, id uuid.UUID) (database.Invoice, error) {
	return s.transition(ctx, id, triggerPost, "post", nil)
}

// Cancel is refused once any payment has been applied or while an online
// checkout for the invoice is still PENDING.
func (s *InvoiceService) Cancel(ctx context.Context, id uuid.UUID) (database.Invoice, error) {
	return s.transition(ctx, id, triggerCancel, "cancel", func(store InvoiceStore, inv database.Invoice) error {
		if inv.PaidAmount.IsPositive() {
			return apperr.InvalidState(entityInvoice, "cancel", ErrInvoiceHasPayments)
		}
		payments, err := store.ListPaymentsByInvoice(ctx, inv.ID)
		if err != nil {
			return fmt.Errorf("list invoice payments: %w", err)
		}
		for _, p := range payments {
			if p.PaymentStatus == enum.PaymentStatusPending && p.PaymentReference.Valid {
				return apperr.InvalidState(entityInvoice, "cancel", ErrPaymentInProgress)
			}
		}
		return nil
	})
}

func (s *InvoiceService) transition(ctx context.Context, id uuid.UUID, trigger, action string, check func(InvoiceStore, database.Invoice) error) (database.Invoice, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (database.Invoice, error) {
		store := s.newStore(tx)
		current, err := store.GetInvoiceForUpdate(ctx, id)
		if err != nil {
			return database.Invoice{}, notFound(err, entityInvoice)
		}
		next, err := fire(invoiceMachine(current.Status), trigger, entityInvoice, action)
		if err != nil {
			return database.Invoice{}, err
		}
		if check != nil {
			if err := check(store, current); err != nil {
				return database.Invoice{}, err
			}
		}
		inv, err := store.UpdateInvoiceStatus(ctx, database.UpdateInvoiceStatusParams{ID: id, Status: next})
		if err != nil {
			return database.Invoice{}, fmt.Errorf("%s invoice: %w", action, err)
		}
		return inv, nil
	})
}

// MigrateToAccounting posts the invoice's journal to the ledger and flips
// account_migration from 0 to 1. The ledger call is keyed by invoice id, so
// a retry after a lost response does not double-post.
func (s *InvoiceService) MigrateToAccounting(ctx context.Context, id uuid.UUID) (database.Invoice, error) {
	inv, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return database.Invoice{}, notFound(err, entityInvoice)
	}
	if inv.Status != enum.InvoiceStatusPosted {
		return database.Invoice{}, apperr.InvalidState(entityInvoice, "migrate", ErrInvoiceNotPosted)
	}
	if inv.AccountMigration == 1 {
		return database.Invoice{}, apperr.Conflict(entityInvoice, "migrate", ErrAlreadyMigrated)
	}

	posting := ledger.InvoicePosting{
		InvoiceID:     inv.ID,
		InvoiceNumber: inv.InvoiceNumber,
		Date:          inv.InvoiceDate,
		Net:           inv.Subtotal.Sub(inv.DiscountAmount),
		Tax:           inv.TaxAmount,
		Total:         inv.TotalAmount,
	}
	if err := s.ledger.PostInvoice(ctx, posting); err != nil {
		extErr := apperr.External(serviceLedger, entityInvoice, "migrate", err)
		s.logger.Warn("ledger posting failed",
			zap.String("invoice_id", id.String()),
			zap.Error(err),
		)
		if recErr := s.store.RecordInvoiceMigrationFailure(ctx, database.RecordInvoiceMigrationFailureParams{
			ID:             id,
			MigrationError: extErr.Detail(),
		}); recErr != nil {
			s.logger.Error("record migration failure",
				zap.String("invoice_id", id.String()),
				zap.Error(recErr),
			)
		}
		return database.Invoice{}, extErr
	}

	n, err := s.store.MarkInvoiceMigrated(ctx, id)
	if err != nil {
		return database.Invoice{}, fmt.Errorf("mark invoice migrated: %w", err)
	}
	if n == 0 {
		return database.Invoice{}, apperr.Conflict(entityInvoice, "migrate", ErrAlreadyMigrated)
	}

	migrated, err := s.store.GetInvoice(ctx, id)
	if err != nil {
		return database.Invoice{}, notFound(err, entityInvoice)
	}
	return migrated, nil
}

// RetryFailedMigrations re-attempts every POSTED, unmigrated invoice with
// bounded concurrency and reports per-invoice outcomes.
func (s *InvoiceService) RetryFailedMigrations(ctx context.Context) (*MigrationReport, error) {
	invoices, err := s.store.ListUnmigratedPostedInvoices(ctx)
	if err != nil {
		return nil, fmt.Errorf("list unmigrated invoices: %w", err)
	}

	report := &MigrationReport{Attempted: len(invoices), Migrated: []uuid.UUID{}, Failed: []MigrationFailure{}}
	var (
		mu   sync.Mutex
		errs *multierror.Error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(migrationConcurrency)
	for _, inv := range invoices {
		g.Go(func() error {
			_, err := s.MigrateToAccounting(gctx, inv.ID)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", inv.InvoiceNumber, err))
				report.Failed = append(report.Failed, MigrationFailure{
					InvoiceID:     inv.ID,
					InvoiceNumber: inv.InvoiceNumber,
					Error:         errorDetail(err),
				})
				return nil
			}
			report.Migrated = append(report.Migrated, inv.ID)
			return nil
		})
	}
	_ = g.Wait()

	if err := errs.ErrorOrNil(); err != nil {
		s.logger.Warn("accounting migration retry finished with failures",
			zap.Int("attempted", report.Attempted),
			zap.Int("migrated", len(report.Migrated)),
			zap.Int("failed", len(report.Failed)),
			zap.Error(err),
		)
	} else {
		s.logger.Info("accounting migration retry finished",
			zap.Int("attempted", report.Attempted),
			zap.Int("migrated", len(report.Migrated)),
		)
	}
	return report, nil
}

// errorDetail is the business reason for apperr errors and a generic text
// for anything else, so raw backend errors never reach the report.
func errorDetail(err error) string {
	if e, ok := apperr.As(err); ok {
		return e.Detail()
	}
	return "internal error"
}
