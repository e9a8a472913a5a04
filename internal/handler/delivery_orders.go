package handler

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/middleware"
	"github.com/templedesk/api/internal/service"
)

// DeliveryOrderServicer defines the service methods needed by delivery order
// handlers. Satisfied by *service.DeliveryOrderService.
type DeliveryOrderServicer interface {
	Create(ctx context.Context, req service.DeliveryOrderRequest) (*service.DeliveryOrderDetail, error)
	Get(ctx context.Context, id uuid.UUID) (*service.DeliveryOrderDetail, error)
	List(ctx context.Context, f service.DeliveryOrderFilter) ([]database.DeliveryOrder, error)
	Submit(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error)
	RecordQualityCheck(ctx context.Context, id uuid.UUID, results []service.QualityCheckResult, checkedBy uuid.UUID) (*service.DeliveryOrderDetail, error)
	Complete(ctx context.Context, id uuid.UUID, opts service.CompleteOptions) (database.DeliveryOrder, error)
	Cancel(ctx context.Context, id uuid.UUID, req service.CancelDeliveryOrderRequest) (database.DeliveryOrder, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// DeliveryDrafter builds invoice review drafts from completed deliveries.
// Satisfied by *service.InvoiceService.
type DeliveryDrafter interface {
	DraftFromDeliveryOrder(ctx context.Context, doID uuid.UUID) (*service.InvoiceDraft, error)
}

// DeliveryOrderHandler handles delivery order endpoints.
type DeliveryOrderHandler struct {
	svc     DeliveryOrderServicer
	drafter DeliveryDrafter
	logger  *zap.Logger
}

// NewDeliveryOrderHandler creates a new DeliveryOrderHandler.
func NewDeliveryOrderHandler(svc DeliveryOrderServicer, drafter DeliveryDrafter, logger *zap.Logger) *DeliveryOrderHandler {
	return &DeliveryOrderHandler{svc: svc, drafter: drafter, logger: logger}
}

// RegisterRoutes registers delivery order endpoints.
// Expected to be mounted at /sales/delivery-orders.
func (h *DeliveryOrderHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.List)
	r.Post("/", h.Create)
	r.Get("/{id}", h.Get)
	r.Delete("/{id}", h.Delete)
	r.Post("/{id}/submit", h.Submit)
	r.Post("/{id}/quality-check", h.QualityCheck)
	r.Post("/{id}/complete", h.Complete)
	r.Post("/{id}/cancel", h.Cancel)
	r.Get("/{id}/invoice-draft", h.InvoiceDraft)
}

// --- Request / Response types ---

type deliveryLineRequest struct {
	SalesOrderItemID string `json:"sales_order_item_id"`
	lineRequest
}

type deliveryOrderRequest struct {
	SalesOrderID string                `json:"sales_order_id" validate:"omitempty,uuid"`
	CustomerID   string                `json:"customer_id" validate:"omitempty,uuid"`
	WarehouseID  string                `json:"warehouse_id" validate:"required,uuid"`
	DeliveryDate string                `json:"delivery_date" validate:"omitempty,datetime=2006-01-02"`
	Items        []deliveryLineRequest `json:"items"`
}

type qualityCheckRequest struct {
	Results []qualityCheckResultRequest `json:"results" validate:"required,min=1,dive"`
}

type qualityCheckResultRequest struct {
	ItemID           string `json:"item_id" validate:"required,uuid"`
	AcceptedQuantity int32  `json:"accepted_quantity"`
	Condition        string `json:"condition"`
	Remarks          string `json:"remarks"`
}

type completeRequest struct {
	BypassQualityCheck bool   `json:"bypass_quality_check"`
	BypassReason       string `json:"bypass_reason"`
}

type cancelDeliveryOrderRequest struct {
	Reason           string `json:"reason"`
	CancelSalesOrder bool   `json:"cancel_sales_order"`
}

type deliveryOrderItemResponse struct {
	ID                uuid.UUID  `json:"id"`
	SalesOrderItemID  *uuid.UUID `json:"sales_order_item_id"`
	ProductID         *uuid.UUID `json:"product_id"`
	SalesItemID       *uuid.UUID `json:"sales_item_id"`
	Description       string     `json:"description"`
	UnitPrice         string     `json:"unit_price"`
	DeliveredQuantity int32      `json:"delivered_quantity"`
	AcceptedQuantity  int32      `json:"accepted_quantity"`
	RejectedQuantity  int32      `json:"rejected_quantity"`
	Condition         *string    `json:"condition"`
	Remarks           *string    `json:"remarks"`
}

type deliveryOrderResponse struct {
	ID                   uuid.UUID                   `json:"id"`
	DoNumber             string                      `json:"do_number"`
	SalesOrderID         *uuid.UUID                  `json:"sales_order_id"`
	CustomerID           uuid.UUID                   `json:"customer_id"`
	WarehouseID          uuid.UUID                   `json:"warehouse_id"`
	Status               string                      `json:"status"`
	DeliveryDate         string                      `json:"delivery_date"`
	QualityCheckDone     bool                        `json:"quality_check_done"`
	QualityCheckStatus   *string                     `json:"quality_check_status"`
	QualityCheckedBy     *uuid.UUID                  `json:"quality_checked_by"`
	QualityCheckedAt     *time.Time                  `json:"quality_checked_at"`
	QualityCheckBypassed bool                        `json:"quality_check_bypassed"`
	BypassReason         *string                     `json:"bypass_reason"`
	CancelReason         *string                     `json:"cancel_reason"`
	CompletedAt          *time.Time                  `json:"completed_at"`
	CancelledAt          *time.Time                  `json:"cancelled_at"`
	CreatedBy            uuid.UUID                   `json:"created_by"`
	CreatedAt            time.Time                   `json:"created_at"`
	UpdatedAt            time.Time                   `json:"updated_at"`
	Items                []deliveryOrderItemResponse `json:"items,omitempty"`
}

type deliveryOrderListResponse struct {
	DeliveryOrders []deliveryOrderResponse `json:"delivery_orders"`
	Limit          int32                   `json:"limit"`
	Offset         int32                   `json:"offset"`
}

func toDeliveryOrderResponse(d database.DeliveryOrder) deliveryOrderResponse {
	return deliveryOrderResponse{
		ID:                   d.ID,
		DoNumber:             d.DoNumber,
		SalesOrderID:         database.UUIDPtr(d.SalesOrderID),
		CustomerID:           d.CustomerID,
		WarehouseID:          d.WarehouseID,
		Status:               d.Status,
		DeliveryDate:         d.DeliveryDate.Format(dateLayout),
		QualityCheckDone:     d.QualityCheckDone,
		QualityCheckStatus:   textPtr(d.QualityCheckStatus),
		QualityCheckedBy:     database.UUIDPtr(d.QualityCheckedBy),
		QualityCheckedAt:     timePtr(d.QualityCheckedAt),
		QualityCheckBypassed: d.QualityCheckBypassed,
		BypassReason:         textPtr(d.BypassReason),
		CancelReason:         textPtr(d.CancelReason),
		CompletedAt:          timePtr(d.CompletedAt),
		CancelledAt:          timePtr(d.CancelledAt),
		CreatedBy:            d.CreatedBy,
		CreatedAt:            d.CreatedAt,
		UpdatedAt:            d.UpdatedAt,
	}
}

func toDeliveryOrderDetailResponse(d *service.DeliveryOrderDetail) deliveryOrderResponse {
	resp := toDeliveryOrderResponse(d.Order)
	resp.Items = make([]deliveryOrderItemResponse, len(d.Items))
	for i, it := range d.Items {
		resp.Items[i] = deliveryOrderItemResponse{
			ID:                it.ID,
			SalesOrderItemID:  database.UUIDPtr(it.SalesOrderItemID),
			ProductID:         database.UUIDPtr(it.ProductID),
			SalesItemID:       database.UUIDPtr(it.SalesItemID),
			Description:       it.Description,
			UnitPrice:         money(it.UnitPrice),
			DeliveredQuantity: it.DeliveredQuantity,
			AcceptedQuantity:  it.AcceptedQuantity,
			RejectedQuantity:  it.RejectedQuantity,
			Condition:         textPtr(it.Condition),
			Remarks:           textPtr(it.Remarks),
		}
	}
	return resp
}

// --- Handlers ---

// List handles GET /sales/delivery-orders.
func (h *DeliveryOrderHandler) List(w http.ResponseWriter, r *http.Request) {
	f := service.DeliveryOrderFilter{
		Status: r.URL.Query().Get("status"),
		Search: strings.TrimSpace(r.URL.Query().Get("search")),
	}
	f.Limit, f.Offset = pagination(r)

	var err error
	if f.SalesOrderID, err = queryUUID(r, "sales_order_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if f.CustomerID, err = queryUUID(r, "customer_id"); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	orders, err := h.svc.List(r.Context(), f)
	if err != nil {
		writeServiceError(w, h.logger, "list delivery orders", err)
		return
	}

	resp := make([]deliveryOrderResponse, len(orders))
	for i, o := range orders {
		resp[i] = toDeliveryOrderResponse(o)
	}
	writeJSON(w, http.StatusOK, deliveryOrderListResponse{DeliveryOrders: resp, Limit: f.Limit, Offset: f.Offset})
}

// Get handles GET /sales/delivery-orders/{id}.
func (h *DeliveryOrderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}

	detail, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "get delivery order", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryOrderDetailResponse(detail))
}

// Create handles POST /sales/delivery-orders.
func (h *DeliveryOrderHandler) Create(w http.ResponseWriter, r *http.Request) {
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req deliveryOrderRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	deliveryDate, err := parseDate(req.DeliveryDate, "delivery_date")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	salesOrderID, err := parseOptionalUUID(req.SalesOrderID, "sales_order_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	customerID, err := parseOptionalUUID(req.CustomerID, "customer_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	warehouseID, err := uuid.Parse(req.WarehouseID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid warehouse_id")
		return
	}
	if salesOrderID == nil && customerID == nil {
		writeError(w, http.StatusBadRequest, "customer_id is required for a delivery order without a sales order")
		return
	}

	svcReq := service.DeliveryOrderRequest{
		SalesOrderID: salesOrderID,
		WarehouseID:  warehouseID,
		DeliveryDate: deliveryDate,
		CreatedBy:    claims.StaffID,
		Items:        make([]service.DeliveryLineInput, len(req.Items)),
	}
	if customerID != nil {
		svcReq.CustomerID = *customerID
	}
	for i, l := range req.Items {
		line, err := l.toInput(i)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		soItemID, err := parseOptionalUUID(l.SalesOrderItemID, "sales_order_item_id")
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("items[%d]: %v", i, err))
			return
		}
		svcReq.Items[i] = service.DeliveryLineInput{SalesOrderItemID: soItemID, LineInput: line}
	}

	detail, err := h.svc.Create(r.Context(), svcReq)
	if err != nil {
		writeServiceError(w, h.logger, "create delivery order", err)
		return
	}
	writeJSON(w, http.StatusCreated, toDeliveryOrderDetailResponse(detail))
}

// Submit handles POST /sales/delivery-orders/{id}/submit.
func (h *DeliveryOrderHandler) Submit(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}

	do, err := h.svc.Submit(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "submit delivery order", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryOrderResponse(do))
}

// QualityCheck handles POST /sales/delivery-orders/{id}/quality-check.
func (h *DeliveryOrderHandler) QualityCheck(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req qualityCheckRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	results := make([]service.QualityCheckResult, len(req.Results))
	for i, res := range req.Results {
		results[i] = service.QualityCheckResult{
			ItemID:           uuid.MustParse(res.ItemID),
			AcceptedQuantity: res.AcceptedQuantity,
			Condition:        strings.ToUpper(strings.TrimSpace(res.Condition)),
			Remarks:          strings.TrimSpace(res.Remarks),
		}
	}

	detail, err := h.svc.RecordQualityCheck(r.Context(), id, results, claims.StaffID)
	if err != nil {
		writeServiceError(w, h.logger, "record quality check", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryOrderDetailResponse(detail))
}

// Complete handles POST /sales/delivery-orders/{id}/complete. Only ADMIN and
// MANAGER may bypass the quality check.
func (h *DeliveryOrderHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}
	claims := middleware.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	var req completeRequest
	if r.ContentLength != 0 {
		if msg, ok := decodeAndValidate(r, &req); !ok {
			writeError(w, http.StatusBadRequest, msg)
			return
		}
	}
	if req.BypassQualityCheck && claims.Role != enum.StaffRoleAdmin && claims.Role != enum.StaffRoleManager {
		writeError(w, http.StatusForbidden, "only ADMIN or MANAGER may bypass the quality check")
		return
	}

	do, err := h.svc.Complete(r.Context(), id, service.CompleteOptions{
		BypassQualityCheck: req.BypassQualityCheck,
		BypassReason:       req.BypassReason,
	})
	if err != nil {
		writeServiceError(w, h.logger, "complete delivery order", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryOrderResponse(do))
}

// Cancel handles POST /sales/delivery-orders/{id}/cancel.
func (h *DeliveryOrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}

	var req cancelDeliveryOrderRequest
	if msg, ok := decodeAndValidate(r, &req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	do, err := h.svc.Cancel(r.Context(), id, service.CancelDeliveryOrderRequest{
		Reason:           req.Reason,
		CancelSalesOrder: req.CancelSalesOrder,
	})
	if err != nil {
		writeServiceError(w, h.logger, "cancel delivery order", err)
		return
	}
	writeJSON(w, http.StatusOK, toDeliveryOrderResponse(do))
}

// Delete handles DELETE /sales/delivery-orders/{id}. DRAFT only.
func (h *DeliveryOrderHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}

	if err := h.svc.Delete(r.Context(), id); err != nil {
		writeServiceError(w, h.logger, "delete delivery order", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// InvoiceDraft handles GET /sales/delivery-orders/{id}/invoice-draft.
func (h *DeliveryOrderHandler) InvoiceDraft(w http.ResponseWriter, r *http.Request) {
	id, err := urlUUID(r, "id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid delivery order ID")
		return
	}

	draft, err := h.drafter.DraftFromDeliveryOrder(r.Context(), id)
	if err != nil {
		writeServiceError(w, h.logger, "draft invoice from delivery order", err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoiceDraftResponse(draft))
}
