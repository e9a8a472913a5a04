package handler

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/export"
	"github.com/templedesk/api/internal/middleware"
	"github.com/templedesk/api/internal/service"
)

// InvoiceServicer defines the service methods needed by invoice handlers.
// Satisfied by *service.InvoiceService.
type InvoiceServicer interface {
	Create(ctx context.Context, req service.InvoiceRequest) (*service.InvoiceDetail, error)
	Get(ctx context.Context, id uuid.UUID) (*service.InvoiceDetail, error)
	List(ctx context.Context, f service.InvoiceFilter) ([]database.Invoice, error)
	Post(ctx context.Context, id uuid.UUID) (database.Invoice, error)
	Cancel(ctx context.Context, id uuid.UUID) (database.Invoice, error)
	RecordPayment(ctx context.Context, invoiceID uuid.UUID, req service.PaymentRequest) (*service.PaymentResult, error)
	ListPayments(ctx context.Context, invoiceID uuid.UUID) ([]database.Payment, error)
	MigrateToAccounting(ctx context.Context, id uuid.UUID) (database.Invoice, error)
	RetryFailedMigrations(ctx context.Context) (*service.MigrationReport, error)
}

// PaymentTracker reports on and closes gateway checkouts.
// Satisfied by *payment.Manager.
type PaymentTracker interface {
	Status(ctx context.Context, paymentID uuid.UUID) (database.Payment, error)
	CloseCheckout(ctx context.Context, paymentID uuid.UUID) (database.Payment, error)
}

// CustomerLookup resolves customer names for the invoice register.
type CustomerLookup interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (database.Customer, error)
}

// InvoiceHandler handles invoice and invoice payment endpoints.
type InvoiceHandler struct {
	svc       InvoiceServicer
	payments  PaymentTracker
	customers CustomerLookup
	logger    *zap.Logger
}

// NewInvoiceHandler creates a new InvoiceHandler.
func NewInvoiceHandler(svc InvoiceServicer, payments PaymentTracker, customers CustomerLookup, logger *zap.Logger) *InvoiceHandler {
	return &InvoiceHandler{svc: svc, payments: payments, customers: customers, logger: logger}
}

// RegisterRoutes registers invoice endpoints. Ledger migration is limited
// to ADMIN and MANAGER.
// Expected to be mounted at /sales/invoices.
func (h *InvoiceHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/export", h.Export)
	r.Get("/payments/{id}/status", h.PaymentStatus)
	r.Post("/payments/{id}/checkout-closed", h.CheckoutClosed)
	r.Get("/{id}", h.Get)
	r.Post("/{id}/post", h.Post)
	r.Post("/{id}/cancel", h.Cancel)
	r.Post("/{id}/payment", h.RecordPayment)
	r.Get("/{id}/payments", h.ListPayments)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(enum.StaffRoleAdmin, enum.StaffRoleManager))
		r.Post("/{id}/migrate-to-accounting", h.MigrateToAccounting)
		r.Post("/retry-failed-migrations", h.RetryFailedMigrations)
	})
}

// --- Request / Response types ---

type invoiceRequest struct {
	CustomerID      string          `json:"customer_id" validate:"omitempty,uuid"`
	SalesOrderID    string          `json:"sales_order_id" validate:"omitempty,uuid"`
	DeliveryOrderID string          `json:"delivery_order_id" validate:"omitempty,uuid"`
	InvoiceDate     string          `json:"invoice_date" validate:"omitempty,datetime=2006-01-02"`
	DueDate         string          `json:"due_date" validate:"omitempty,datetime=2006-01-02"`
	DiscountAmount  decimal.Decimal `json:"discount_amount" validate:"gte=0"`
	TaxRate         decimal.Decimal `json:"tax_rate" validate:"gte=0,lte=100"`
	Notes           string          `json:"notes"`
	Items           []lineRequest   `json:"items"`
}

type paymentRequest struct {
	PaymentModeID   string          `json:"payment_mode_id" validate:"required,uuid"`
	Amount          decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentDate     string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
	ReferenceNumber string          `json:"reference_number"`
	ChequeNumber    string          `json:"cheque_number"`
	BankName        string          `json:"bank_name"`
}

type invoiceResponse struct {
	ID                   uuid.UUID         `json:"id"`
	InvoiceNumber        string            `json:"invoice_number"`
	CustomerID           uuid.UUID         `json:"customer_id"`
	SalesOrderID         *uuid.UUID        `json:"sales_order_id"`
	DeliveryOrderID      *uuid.UUID        `json:"delivery_order_id"`
	InvoiceDate          string            `json:"invoice_date"`
	DueDate              *string           `json:"due_date"`
	Status               string            `json:"status"`
	Subtotal             string            `json:"subtotal"`
	DiscountAmount       string            `json:"discount_amount"`
	TaxRate              string            `json:"tax_rate"`
	TaxAmount            string            `json:"tax_amount"`
	TotalAmount          string            `json:"total_amount"`
	PaidAmount           string            `json:"paid_amount"`
	BalanceAmount        string            `json:"balance_amount"`
	PaymentStatus        string            `json:"payment_status"`
	AccountMigration     int16             `json:"account_migration"`
	MigrationError       *string           `json:"migration_error"`
	MigrationAttemptedAt *time.Time        `json:"migration_attempted_at"`
	MigratedAt           *time.Time        `json:"migrated_at"`
	Notes                *string           `json:"notes"`
	CreatedBy            uuid.UUID         `json:"created_by"`
	CreatedAt            time.Time         `json:"created_at"`
	UpdatedAt            time.Time         `json:"updated_at"`
	Items                []lineResponse    `json:"items,omitempty"`
	Payments             []paymentResponse `json:"payments,omitempty"`
}

type invoiceListResponse struct {
	Invoices []invoiceResponse `json:"invoices"`
	Limit    int32             `json:"limit"`
	Offset   int32             `json:"offset"`
}

type paymentResponse struct {
	ID                   uuid.UUID  `json:"id"`
	InvoiceID            uuid.UUID  `json:"invoice_id"`
	PaymentModeID        uuid.UUID  `json:"payment_mode_id"`
	Amount               string     `json:"amount"`
	PaymentDate          string     `json:"payment_date"`
	PaymentStatus        string     `json:"payment_status"`
	ReferenceNumber      *string    `json:"reference_number"`
	ChequeNumber         *string    `json:"cheque_number"`
	BankName             *string    `json:"bank_name"`
	PaymentReference     *string    `json:"payment_reference"`
	GatewayTransactionID *string    `json:"gateway_transaction_id"`
	SettledAt            *time.Time `json:"settled_at"`
	CreatedBy            uuid.UUID  `json:"created_by"`
	CreatedAt            time.Time  `json:"created_at"`
}

type checkoutResponse struct {
	PaymentID        uuid.UUID `json:"payment_id"`
	PaymentReference string    `json:"payment_reference"`
	CheckoutURL      string    `json:"checkout_url"`
	ExpiresAt        time.Time `json:"expires_at"`
}

// recordPaymentResponse carries either the applied payment and the updated
// invoice, or a checkout to open for gateway modes.
type recordPaymentResponse struct {
	Payment  *paymentResponse  `json:"payment,omitempty"`
	Invoice  *invoiceResponse  `json:"invoice,omitempty"`
	Checkout *checkoutResponse `json:"checkout,omitempty"`
}

type draftLineResponse struct {
	ProductID   *uuid.UUID `json:"product_id"`
	SalesItemID *uuid.UUID `json:"sales_item_id"`
	Description string     `json:"description"`
	Quantity    int32      `json:"quantity"`
	UnitPrice   string     `json:"unit_price"`
	LineTotal   string     `json:"line_total"`
}

type invoiceDraftResponse struct {
	CustomerID        uuid.UUID           `json:"customer_id"`
	SalesOrderID      *uuid.UUID          `json:"sales_order_id"`
	DeliveryOrderID   *uuid.UUID          `json:"delivery_order_id"`
	Items             []draftLineResponse `json:"items"`
	Subtotal          string              `json:"subtotal"`
	ExistingInvoiceID *uuid.UUID          `json:"existing_invoice_id"`
}

type migrationFailureResponse struct {
	InvoiceID     uuid.UUID `json:"invoice_id"`
	InvoiceNumber string    `json:"invoice_number"`
	Error         string    `json:"error"`
}

type migrationReportResponse struct {
	Attempted int                        `json:"attempted"`
	Migrated  []uuid.UUID                `json:"migrated"`
	Failed    []migrationFailureResponse `json:"failed"`
}

func toInvoiceResponse(inv database.Invoice) invoiceResponse {
	return invoiceResponse{
		ID:                   inv.ID,
		InvoiceNumber:        inv.InvoiceNumber,
		CustomerID:           inv.CustomerID,
		SalesOrderID:         database.UUIDPtr(inv.SalesOrderID),
		DeliveryOrderID:      database.UUIDPtr(inv.DeliveryOrderID),
		InvoiceDate:          inv.InvoiceDate.Format(dateLayout),
		DueDate:              datePtr(inv.DueDate),
		Status:               inv.Status,
		Subtotal:             money(inv.Subtotal),
		DiscountAmount:       money(inv.DiscountAmount),
		TaxRate:              inv.TaxRate.String(),
		TaxAmount:            money(inv.TaxAmount),
		TotalAmount:          money(inv.TotalAmount),
		PaidAmount:           money(inv.PaidAmount),
		BalanceAmount:        money(inv.BalanceAmount()),
		PaymentStatus:        inv.PaymentStatus,
		AccountMigration:     inv.AccountMigration,
		MigrationError:       textPtr(inv.MigrationError),
		MigrationAttemptedAt: timePtr(inv.MigrationAttemptedAt),
		MigratedAt:           timePtr(inv.MigratedAt),
		Notes:                textPtr(inv.Notes),
		CreatedBy:            inv.CreatedBy,
		CreatedAt:            inv.CreatedAt,
		UpdatedAt:            inv.UpdatedAt,
	}
}

func toInvoiceDetailResponse(d *service.InvoiceDetail) invoiceResponse {
	resp := toInvoiceResponse(d.Invoice)
	resp.Items = make([]lineResponse, len(d.Items))
	for i, it := range d.Items {
		resp.Items[i] = lineResponse{
			ID:          it.ID,
			ProductID:   database.UUIDPtr(it.ProductID),
			SalesItemID: database.UUIDPtr(it.SalesItemID),
			Description: it.Description,
			Quantity:    it.Quantity,
			UnitPrice:   money(it.UnitPrice),
			LineTotal:   money(it.LineTotal),
		}
	}
	resp.Payments = make([]paymentResponse, len(d.Payments))
	for i, p := range d.Payments {
		resp.Payments[i] = toPaymentResponse(p)
	}
	return resp
}

func toPaymentResponse(p database.Payment) paymentResponse {
	return paymentResponse{
		ID:                   p.ID,
		InvoiceID:            p.InvoiceID,
		PaymentModeID:        p.PaymentModeID,
		Amount:               money(p.Amount),
		PaymentDate:          p.PaymentDate.Format(dateLayout),
		PaymentStatus:        p.PaymentStatus,
		ReferenceNumber:      textPtr(p.ReferenceNumber),
		ChequeNumber:         textPtr(p.ChequeNumber),
		BankName:             textPtr(p.BankName),
		PaymentReference:     textPtr(p.PaymentReference),
		GatewayTransactionID: textPtr(p.GatewayTransactionID),
		SettledAt:            timePtr(p.SettledAt),
		CreatedBy:            p.CreatedBy,
		CreatedAt:            p.CreatedAt,
	}
}

func toInvoiceDraftResponse(d *service.InvoiceDraft) invoiceDraftResponse {
	lines := make([]draftLineResponse, len(d.Lines))
	for i, l := range d.Lines {
		lines[i] = draftLineResponse{
			ProductID:   l.ProductID,
			SalesItemID: l.SalesItemID,
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.UnitPrice),
			LineTotal:   money(l.LineTotal),
		}
	}
	return invoiceDraftResponse{
		CustomerID:        d.CustomerID,
		SalesOrderID:      d.SalesOrderID,
		DeliveryOrderID:   d.DeliveryOrderID,
		Items:             lines,
		Subtotal:          money(d.Subtotal),
		ExistingInvoiceID: d.ExistingInvoiceID,
	}
}

// --- Handlers ---

// filter parses the list and export query string.
func (h *InvoiceHandler) filter(r *http.Request) (service.InvoiceFilter, error) {
	q := r.URL.Query()
	f := service.InvoiceFilter{
		Status:        q.Get("status"),
		PaymentStatus: q.Get("payment_status"),
		Search:        strings.TrimSpace(q.Get("search")),
	}
	f.Limit, f.Offset = pagination(r)

	var err error
	if f.CustomerID, err = queryUUID(r, "customer_id"); err != nil {
		return f, err
	}
	if s := q.Get("migrated"); s != "" {
		migrated, err := strconv.ParseBool(s)
		if err != nil {
			return f, fmt.Errorf("invalid migrated, use true or false")
		}
		f.Migrated = &migrated
	}
	return f, nil
}

// List handles GET /sales/invoices.
func (h *InvoiceHandler) List(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	invoices, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "list invoices", err)
		return
	}

	resp := make([]invoiceResponse, len(invoices))
	for i, inv := range invoices {
		resp[i] = toInvoiceResponse(inv)
	}
	writeJSON(w, http.StatusOK, invoiceListResponse{Invoices: resp, Limit: f.Limit, Offset: f.Offset})
}

// Export handles GET /sales/invoices/export. Filters match List.
func (h *InvoiceHandler) Export(w http.ResponseWriter, r *http.Request) {
	f, err := h.filter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.Limit, f.Offset = exportRowLimit, 0

	invoices, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "export invoices", err)
		return
	}

	names := make(map[uuid.UUID]string)
	for _, inv := range invoices {
		if _, ok := names[inv.CustomerID]; ok {
			continue
		}
		c, err := h.customers.GetCustomer(r.Context(), inv.CustomerID)
		if err != nil {
			h.logger.Error("export invoices: customer", zap.String("customer_id", inv.CustomerID.String()), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "internal server error")
			return
		}
		names[inv.CustomerID] = c.Name
	}

	var buf bytes.Buffer
	if err := export.InvoiceRegister(&buf, invoices, names); err != nil {
		h.logger.Error("export invoices: render", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeXLSX(w, fmt.Sprintf("invoices-%s.xlsx", time.Now().Format("20060102")), buf.Bytes())
}

// Get handles GET /sales/invoices/{id}.
func (h *InvoiceHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice ID")
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get invoice", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDetailResponse(detail))
}

// Create handles POST /sales/invoices. The body is usually a reviewed
// invoice draft.
func (h *InvoiceHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req invoiceRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	if req.CustomerID == "" && req.SalesOrderID == "" && req.DeliveryOrderID == "" {
		writeError(w, http.StatusBadRequest, "customer_id is required for an invoice without a source document")
		return
	}

	invoiceDate, err := parseDate(req.InvoiceDate, "invoice_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	svcReq := service.InvoiceRequest{
		InvoiceDate:    invoiceDate,
		DiscountAmount: req.DiscountAmount,
		TaxRate:        req.TaxRate,
		Notes:          strings.TrimSpace(req.Notes),
		CreatedBy:      claims.StaffID,
		Items:          make([]service.LineInput, len(req.Items)),
	}
	customerID, err := parseOptionalUUID(req.CustomerID, "customer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if customerID != nil {
		svcReq.CustomerID = *customerID
	}
	if svcReq.SalesOrderID, err = parseOptionalUUID(req.SalesOrderID, "sales_order_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if svcReq.DeliveryOrderID, err = parseOptionalUUID(req.DeliveryOrderID, "delivery_order_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.DueDate != "" {
		due, err := time.Parse(dateLayout, req.DueDate)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid due_date")
			return
		}
		if due.Before(invoiceDate) {
			writeError(w, http.StatusBadRequest, "due_date cannot be before invoice_date")
			return
		}
		svcReq.DueDate = &due
	}
	for i, l := range req.Items {
		if svcReq.Items[i], err = l.toInput(i); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	detail, err := h.svc.Create(r.Context(), svcReq)
	if err != nil {
		writeServiceError(w, h.logger, "create invoice", err)
		return
	}
	writeJSON(w, http.StatusCreated, toInvoiceDetailResponse(detail))
}

// Post handles POST /sales/invoices/{id}/post.
func (h *InvoiceHandler) Post(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "post invoice", h.svc.Post)
}

// Cancel handles POST /sales/invoices/{id}/cancel.
func (h *InvoiceHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "cancel invoice", h.svc.Cancel)
}

// MigrateToAccounting handles POST /sales/invoices/{id}/migrate-to-accounting.
func (h *InvoiceHandler) MigrateToAccounting(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, "migrate invoice", h.svc.MigrateToAccounting)
}

func (h *InvoiceHandler) transition(w http.ResponseWriter, r *http.Request, op string,
	fn func(context.Context, uuid.UUID) (database.Invoice, error)) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice ID")
		return
	}

	inv, err := fn(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, op, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceResponse(inv))
}

// RetryFailedMigrations handles POST /sales/invoices/retry-failed-migrations.
// Partial success still answers 200; the report lists what failed.
func (h *InvoiceHandler) RetryFailedMigrations(w http.ResponseWriter, r *http.Request) {
	report, err := h.svc.RetryFailedMigrations(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, "retry failed migrations", err)
		return
	}

	resp := migrationReportResponse{
		Attempted: report.Attempted,
		Migrated:  report.Migrated,
		Failed:    make([]migrationFailureResponse, len(report.Failed)),
	}
	if resp.Migrated == nil {
		resp.Migrated = []uuid.UUID{}
	}
	for i, f := range report.Failed {
		resp.Failed[i] = migrationFailureResponse{InvoiceID: f.InvoiceID, InvoiceNumber: f.InvoiceNumber, Error: f.Error}
	}
	writeMessage(w, http.StatusOK, resp,
		fmt.Sprintf("%d of %d invoices migrated", len(report.Migrated), report.Attempted))
}

// RecordPayment handles POST /sales/invoices/{id}/payment. Gateway modes
// answer 202 with a checkout to open; other modes are applied at once.
func (h *InvoiceHandler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice ID")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req paymentRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	paymentDate, err := parseDate(req.PaymentDate, "payment_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.svc.RecordPayment(r.Context(), id, service.PaymentRequest{
		PaymentModeID:   uuid.MustParse(req.PaymentModeID),
		Amount:          req.Amount,
		PaymentDate:     paymentDate,
		ReferenceNumber: strings.TrimSpace(req.ReferenceNumber),
		ChequeNumber:    strings.TrimSpace(req.ChequeNumber),
		BankName:        strings.TrimSpace(req.BankName),
		CreatedBy:       claims.StaffID,
	})
	if err != nil {
		writeServiceError(w, h.logger, "record payment", err)
		return
	}

	if result.Checkout != nil {
		writeJSON(w, http.StatusAccepted, recordPaymentResponse{Checkout: &checkoutResponse{
			PaymentID:        result.Checkout.PaymentID,
			PaymentReference: result.Checkout.PaymentReference,
			CheckoutURL:      result.Checkout.CheckoutURL,
			ExpiresAt:        result.Checkout.ExpiresAt,
		}})
		return
	}

	var resp recordPaymentResponse
	if result.Payment != nil {
		p := toPaymentResponse(*result.Payment)
		resp.Payment = &p
	}
	if result.Invoice != nil {
		inv := toInvoiceResponse(*result.Invoice)
		resp.Invoice = &inv
	}
	writeJSON(w, http.StatusCreated, resp)
}

// ListPayments handles GET /sales/invoices/{id}/payments.
func (h *InvoiceHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid invoice ID")
		return
	}

	payments, err := h.svc.ListPayments(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "list payments", err)
		return
	}

	resp := make([]paymentResponse, len(payments))
	for i, p := range payments {
		resp[i] = toPaymentResponse(p)
	}
	writeJSON(w, http.StatusOK, resp)
}

// PaymentStatus handles GET /sales/invoices/payments/{id}/status. A pending
// gateway payment is checked with the gateway before answering.
func (h *InvoiceHandler) PaymentStatus(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment ID")
		return
	}

	p, err := h.payments.Status(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "payment status", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}

// CheckoutClosed handles POST /sales/invoices/payments/{id}/checkout-closed.
func (h *InvoiceHandler) CheckoutClosed(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid payment ID")
		return
	}

	p, err := h.payments.CloseCheckout(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "checkout closed", err)
		return
	}
	writeJSON(w, http.StatusOK, toPaymentResponse(p))
}
