package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/middleware"
	"github.com/templedesk/api/internal/service"
)

// SalesOrderServicer defines the service methods needed by sales order handlers.
// Satisfied by *service.SalesOrderService; narrow interface for testability.
type SalesOrderServicer interface {
	Create(ctx context.Context, req service.SalesOrderRequest) (*service.SalesOrderDetail, error)
	Update(ctx context.Context, id uuid.UUID, req service.SalesOrderRequest) (*service.SalesOrderDetail, error)
	Get(ctx context.Context, id uuid.UUID) (*service.SalesOrderDetail, error)
	List(ctx context.Context, f service.SalesOrderFilter) ([]database.SalesOrder, error)
	Submit(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	Approve(ctx context.Context, id, approver uuid.UUID) (database.SalesOrder, error)
	Reject(ctx context.Context, id, approver uuid.UUID, reason string) (database.SalesOrder, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// OrderDrafter builds invoice review drafts.
// Satisfied by *service.InvoiceService.
type OrderDrafter interface {
	DraftFromOrder(ctx context.Context, orderID uuid.UUID) (*service.InvoiceDraft, error)
}

// SalesOrderHandler handles sales order endpoints.
type SalesOrderHandler struct {
	svc     SalesOrderServicer
	drafter OrderDrafter
	logger  *zap.Logger
}

// NewSalesOrderHandler creates a new SalesOrderHandler.
func NewSalesOrderHandler(svc SalesOrderServicer, drafter OrderDrafter, logger *zap.Logger) *SalesOrderHandler {
	return &SalesOrderHandler{svc: svc, drafter: drafter, logger: logger}
}

// RegisterRoutes registers sales order endpoints.
// Expected to be mounted at /sales/orders. Approve and reject need ADMIN or
// MANAGER.
func (h *SalesOrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Put("/{id}", h.Update)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/submit", h.Submit)
	r.Get("/{id}/invoice-draft", h.InvoiceDraft)

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireRole(enum.StaffRoleAdmin, enum.StaffRoleManager))
		r.Post("/{id}/approve", h.Approve)
		r.Post("/{id}/reject", h.Reject)
	})
}

// --- Request / Response types ---

type lineRequest struct {
	ProductID   string           `json:"product_id"`
	SalesItemID string           `json:"sales_item_id"`
	Description string           `json:"description"`
	Quantity    int32            `json:"quantity"`
	UnitPrice   *decimal.Decimal `json:"unit_price"`
}

func (l lineRequest) toInput(i int) (service.LineInput, error) {
	productID, err := parseOptionalUUID(l.ProductID, "product_id")
	if err != nil {
		return service.LineInput{}, fmt.Errorf("items[%d]: %w", i, err)
	}
	salesItemID, err := parseOptionalUUID(l.SalesItemID, "sales_item_id")
	if err != nil {
		return service.LineInput{}, fmt.Errorf("items[%d]: %w", i, err)
	}
	return service.LineInput{
		ProductID:   productID,
		SalesItemID: salesItemID,
		Description: strings.TrimSpace(l.Description),
		Quantity:    l.Quantity,
		UnitPrice:   l.UnitPrice,
	}, nil
}

type salesOrderRequest struct {
	CustomerID string        `json:"customer_id" validate:"required,uuid"`
	OrderDate  string        `json:"order_date" validate:"omitempty,datetime=2006-01-02"`
	Notes      string        `json:"notes"`
	Items      []lineRequest `json:"items"`
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

type lineResponse struct {
	ID          uuid.UUID  `json:"id"`
	ProductID   *uuid.UUID `json:"product_id"`
	SalesItemID *uuid.UUID `json:"sales_item_id"`
	Description string     `json:"description"`
	Quantity    int32      `json:"quantity"`
	UnitPrice   string     `json:"unit_price"`
	LineTotal   string     `json:"line_total"`
}

type salesOrderItemResponse struct {
	lineResponse
	ReservedQuantity int32 `json:"reserved_quantity"`
}

type salesOrderResponse struct {
	ID              uuid.UUID                `json:"id"`
	OrderNumber     string                   `json:"order_number"`
	CustomerID      uuid.UUID                `json:"customer_id"`
	Status          string                   `json:"status"`
	OrderDate       string                   `json:"order_date"`
	Notes           *string                  `json:"notes"`
	TotalAmount     string                   `json:"total_amount"`
	SubmittedAt     *time.Time               `json:"submitted_at"`
	ApprovedBy      *uuid.UUID               `json:"approved_by"`
	ApprovedAt      *time.Time               `json:"approved_at"`
	RejectedBy      *uuid.UUID               `json:"rejected_by"`
	RejectedAt      *time.Time               `json:"rejected_at"`
	RejectionReason *string                  `json:"rejection_reason"`
	CancelledAt     *time.Time               `json:"cancelled_at"`
	CreatedBy       uuid.UUID                `json:"created_by"`
	CreatedAt       time.Time                `json:"created_at"`
	UpdatedAt       time.Time                `json:"updated_at"`
	Items           []salesOrderItemResponse `json:"items,omitempty"`
}

type salesOrderListResponse struct {
	Orders []salesOrderResponse `json:"orders"`
	Limit  int32                `json:"limit"`
	Offset int32                `json:"offset"`
}

func toSalesOrderResponse(o database.SalesOrder) salesOrderResponse {
	return salesOrderResponse{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		CustomerID:      o.CustomerID,
		Status:          o.Status,
		OrderDate:       o.OrderDate.Format(dateLayout),
		Notes:           textPtr(o.Notes),
		TotalAmount:     money(o.TotalAmount),
		SubmittedAt:     timePtr(o.SubmittedAt),
		ApprovedBy:      database.UUIDPtr(o.ApprovedBy),
		ApprovedAt:      timePtr(o.ApprovedAt),
		RejectedBy:      database.UUIDPtr(o.RejectedBy),
		RejectedAt:      timePtr(o.RejectedAt),
		RejectionReason: textPtr(o.RejectionReason),
		CancelledAt:     timePtr(o.CancelledAt),
		CreatedBy:       o.CreatedBy,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

func toSalesOrderDetailResponse(d *service.SalesOrderDetail) salesOrderResponse {
	resp := toSalesOrderResponse(d.Order)
	resp.Items = make([]salesOrderItemResponse, len(d.Items))
	for i, it := range d.Items {
		resp.Items[i] = salesOrderItemResponse{
			lineResponse: lineResponse{
				ID:          it.ID,
				ProductID:   database.UUIDPtr(it.ProductID),
				SalesItemID: database.UUIDPtr(it.SalesItemID),
				Description: it.Description,
				Quantity:    it.Quantity,
				UnitPrice:   money(it.UnitPrice),
				LineTotal:   money(it.LineTotal),
			},
			ReservedQuantity: it.ReservedQuantity,
		}
	}
	return resp
}

// --- Handlers ---

// List handles GET /sales/orders.
func (h *SalesOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	f := service.SalesOrderFilter{
		Status: r.URL.Query().Get("status"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
	f.Limit, f.Offset = pagination(r)

	var err error
	if f.CustomerID, err = queryUUID(r, "customer_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.StartDate, err = queryDate(r, "start_date"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.EndDate, err = queryDate(r, "end_date"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "list sales orders", err)
		return
	}

	resp := make([]salesOrderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toSalesOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, salesOrderListResponse{Orders: resp, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /sales/orders/{id}.
func (h *SalesOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderDetailResponse(detail))
}

func (h *SalesOrderHandler) decodeOrder(w http.ResponseWriter, r *http.Request) (service.SalesOrderRequest, bool) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return service.SalesOrderRequest{}, false
	}

	var req salesOrderRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return service.SalesOrderRequest{}, false
	}

	orderDate, err := parseDate(req.OrderDate, "order_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return service.SalesOrderRequest{}, false
	}

	items := make([]service.LineInput, len(req.Items))
	for i, l := range req.Items {
		if items[i], err = l.toInput(i); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return service.SalesOrderRequest{}, false
		}
	}

	return service.SalesOrderRequest{
		CustomerID: uuid.MustParse(req.CustomerID),
		OrderDate:  orderDate,
		Notes:      strings.TrimSpace(req.Notes),
		CreatedBy:  claims.StaffID,
		Items:      items,
	}, true
}

// Create handles POST /sales/orders.
func (h *SalesOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Create(r.Context(), req)
	if err != nil {
		writeServiceError(w, h.logger, "create sales order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toSalesOrderDetailResponse(detail))
}

// Update handles PUT /sales/orders/{id}. Only DRAFT orders are editable.
func (h *SalesOrderHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}
	req, ok := h.decodeOrder(w, r)
	if !ok {
		return
	}

	detail, err := h.svc.Update(r.Context(), id, req)
	if err != nil {
		writeServiceError(w, h.logger, "update sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderDetailResponse(detail))
}

// Submit handles POST /sales/orders/{id}/submit.
func (h *SalesOrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}

	order, err := h.svc.Submit(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "submit sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderResponse(order))
}

// Approve handles POST /sales/orders/{id}/approve.
func (h *SalesOrderHandler) Approve(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())

	order, err := h.svc.Approve(r.Context(), id, claims.StaffID)
	if err != nil {
		writeServiceError(w, h.logger, "approve sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderResponse(order))
}

// Reject handles POST /sales/orders/{id}/reject. The reason is required.
func (h *SalesOrderHandler) Reject(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())

	var req rejectRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	order, err := h.svc.Reject(r.Context(), id, claims.StaffID, strings.TrimSpace(req.Reason))
	if err != nil {
		writeServiceError(w, h.logger, "reject sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toSalesOrderResponse(order))
}

// Delete handles DELETE /sales/orders/{id}.
func (h *SalesOrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, "delete sales order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvoiceDraft handles GET /sales/orders/{id}/invoice-draft.
func (h *SalesOrderHandler) InvoiceDraft(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid sales order ID")
		return
	}

	draft, err := h.drafter.DraftFromOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "draft invoice from sales order", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDraftResponse(draft))
}
