package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/events"
	"go.uber.org/zap"
)

const salesOrderNumberConstraint = "sales_orders_order_number_key"

// Errors returned by the sales order service.
var (
	ErrRejectionReason = errors.New("rejection reason is required")
)

// SalesOrderStore defines the DB methods needed by SalesOrderService.
// Satisfied by *database.Queries (and its WithTx variant).
type SalesOrderStore interface {
	CatalogReader
	CustomerReader
	GetNextSalesOrderNumber(ctx context.Context) (int32, error)
	CreateSalesOrder(ctx context.Context, arg database.CreateSalesOrderParams) (database.SalesOrder, error)
	CreateSalesOrderItem(ctx context.Context, arg database.CreateSalesOrderItemParams) (database.SalesOrderItem, error)
	UpdateSalesOrder(ctx context.Context, arg database.UpdateSalesOrderParams) (database.SalesOrder, error)
	DeleteSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) error
	GetSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	GetSalesOrderForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	ListSalesOrders(ctx context.Context, arg database.ListSalesOrdersParams) ([]database.SalesOrder, error)
	ListSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) ([]database.SalesOrderItem, error)
	SubmitSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	ApproveSalesOrder(ctx context.Context, arg database.ApproveSalesOrderParams) (database.SalesOrder, error)
	RejectSalesOrder(ctx context.Context, arg database.RejectSalesOrderParams) (database.SalesOrder, error)
	CancelSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	DeleteSalesOrder(ctx context.Context, id uuid.UUID) error
	AdjustReservedQuantity(ctx context.Context, arg database.AdjustReservedQuantityParams) (database.SalesOrderItem, error)
	ReleaseReservations(ctx context.Context, deliveryOrderID uuid.UUID) ([]database.SalesOrderReservation, error)
}

// NewSalesOrderStore creates a SalesOrderStore from a DBTX (pool or tx).
type NewSalesOrderStore func(db database.DBTX) SalesOrderStore

// SalesOrderRequest is the input for creating or editing a sales order.
type SalesOrderRequest struct {
	CustomerID uuid.UUID
	OrderDate  time.Time
	Notes      string
	CreatedBy  uuid.UUID
	Items      []LineInput
}

// SalesOrderDetail is an order with its lines.
type SalesOrderDetail struct {
	Order database.SalesOrder
	Items []database.SalesOrderItem
}

// SalesOrderFilter narrows List.
type SalesOrderFilter struct {
	Status     string
	CustomerID *uuid.UUID
	StartDate  *time.Time
	EndDate    *time.Time
	Search     string
	Limit      int32
	Offset     int32
}

// SalesOrderService owns the sales order lifecycle and the quantity
// reservations delivery orders hold against order lines.
type SalesOrderService struct {
	store    SalesOrderStore
	pool     TxBeginner
	newStore NewSalesOrderStore
	logger   *zap.Logger
}

func NewSalesOrderService(store SalesOrderStore, pool TxBeginner, newStore NewSalesOrderStore, logger *zap.Logger) *SalesOrderService {
	return &SalesOrderService{store: store, pool: pool, newStore: newStore, logger: logger}
}

// Create validates and prices the lines and stores a DRAFT order.
func (s *SalesOrderService) Create(ctx context.Context, req SalesOrderRequest) (*SalesOrderDetail, error) {
	if err := requireCustomer(ctx, s.store, req.CustomerID); err != nil {
		return nil, err
	}
	if req.OrderDate.IsZero() {
		req.OrderDate = time.Now()
	}

	return withNumberRetry(salesOrderNumberConstraint, func() (*SalesOrderDetail, error) {
		return inTx(ctx, s.pool, func(tx pgx.Tx) (*SalesOrderDetail, error) {
			store := s.newStore(tx)

			lines, total, err := resolveLines(ctx, store, req.Items)
			if err != nil {
				return nil, err
			}

			next, err := store.GetNextSalesOrderNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("get next order number: %w", err)
			}

			order, err := store.CreateSalesOrder(ctx, database.CreateSalesOrderParams{
				OrderNumber: fmt.Sprintf("SO-%04d", next),
				CustomerID:  req.CustomerID,
				OrderDate:   req.OrderDate,
				Notes:       database.NullText(req.Notes),
				TotalAmount: total,
				CreatedBy:   req.CreatedBy,
			})
			if err != nil {
				return nil, fmt.Errorf("create sales order: %w", err)
			}

			items, err := createSalesOrderItems(ctx, store, order.ID, lines)
			if err != nil {
				return nil, err
			}
			return &SalesOrderDetail{Order: order, Items: items}, nil
		})
	})
}

// Update replaces the header and every line of a DRAFT order.
func (s *SalesOrderService) Update(ctx context.Context, id uuid.UUID, req SalesOrderRequest) (*SalesOrderDetail, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (*SalesOrderDetail, error) {
		store := s.newStore(tx)

		current, err := store.GetSalesOrderForUpdate(ctx, id)
		if err != nil {
			return nil, notFound(err, entitySalesOrder)
		}
		if _, err := fire(salesOrderMachine(current.Status), triggerEdit, entitySalesOrder, "update"); err != nil {
			return nil, err
		}
		if err := requireCustomer(ctx, store, req.CustomerID); err != nil {
			return nil, err
		}

		lines, total, err := resolveLines(ctx, store, req.Items)
		if err != nil {
			return nil, err
		}

		orderDate := req.OrderDate
		if orderDate.IsZero() {
			orderDate = current.OrderDate
		}
		order, err := store.UpdateSalesOrder(ctx, database.UpdateSalesOrderParams{
			ID:          id,
			CustomerID:  req.CustomerID,
			OrderDate:   orderDate,
			Notes:       database.NullText(req.Notes),
			TotalAmount: total,
		})
		if err != nil {
			return nil, fmt.Errorf("update sales order: %w", err)
		}
		if err := store.DeleteSalesOrderItems(ctx, id); err != nil {
			return nil, fmt.Errorf("delete sales order items: %w", err)
		}

		items, err := createSalesOrderItems(ctx, store, id, lines)
		if err != nil {
			return nil, err
		}
		return &SalesOrderDetail{Order: order, Items: items}, nil
	})
}

func createSalesOrderItems(ctx context.Context, store SalesOrderStore, orderID uuid.UUID, lines []resolvedLine) ([]database.SalesOrderItem, error) {
	items := make([]database.SalesOrderItem, 0, len(lines))
	for i, line := range lines {
		item, err := store.CreateSalesOrderItem(ctx, database.CreateSalesOrderItemParams{
			SalesOrderID: orderID,
			ProductID:    line.productID,
			SalesItemID:  line.salesItemID,
			Description:  line.description,
			Quantity:     line.quantity,
			UnitPrice:    line.unitPrice,
			LineTotal:    line.lineTotal,
		})
		if err != nil {
			return nil, fmt.Errorf("item[%d]: create sales order item: %w", i, err)
		}
		items = append(items, item)
	}
	return items, nil
}

func (s *SalesOrderService) Get(ctx context.Context, id uuid.UUID) (*SalesOrderDetail, error) {
	order, err := s.store.GetSalesOrder(ctx, id)
	if err != nil {
		return nil, notFound(err, entitySalesOrder)
	}
	items, err := s.store.ListSalesOrderItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list sales order items: %w", err)
	}
	return &SalesOrderDetail{Order: order, Items: items}, nil
}

func (s *SalesOrderService) List(ctx context.Context, f SalesOrderFilter) ([]database.SalesOrder, error) {
	params := database.ListSalesOrdersParams{
		Status:     database.NullText(f.Status),
		CustomerID: database.NullUUID(f.CustomerID),
		Search:     database.NullText(strings.TrimSpace(f.Search)),
		Limit:      f.Limit,
		Offset:     f.Offset,
	}
	if f.StartDate != nil {
		params.StartDate.Time, params.StartDate.Valid = *f.StartDate, true
	}
	if f.EndDate != nil {
		params.EndDate.Time, params.EndDate.Valid = *f.EndDate, true
	}
	orders, err := s.store.ListSalesOrders(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("list sales orders: %w", err)
	}
	return orders, nil
}

// Submit moves a DRAFT order into the approval queue.
func (s *SalesOrderService) Submit(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	return s.transition(ctx, id, triggerSubmit, "submit", func(store SalesOrderStore) (database.SalesOrder, error) {
		return store.SubmitSalesOrder(ctx, id)
	})
}

// Approve is allowed from DRAFT and PENDING_APPROVAL and unlocks delivery
// order and invoice creation for the order.
func (s *SalesOrderService) Approve(ctx context.Context, id, approver uuid.UUID) (database.SalesOrder, error) {
	return s.transition(ctx, id, triggerApprove, "approve", func(store SalesOrderStore) (database.SalesOrder, error) {
		return store.ApproveSalesOrder(ctx, database.ApproveSalesOrderParams{ID: id, ApprovedBy: approver})
	})
}

func (s *SalesOrderService) Reject(ctx context.Context, id, approver uuid.UUID, reason string) (database.SalesOrder, error) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return database.SalesOrder{}, apperr.Validation("reason", ErrRejectionReason).Op(entitySalesOrder, "reject")
	}
	return s.transition(ctx, id, triggerReject, "reject", func(store SalesOrderStore) (database.SalesOrder, error) {
		return store.RejectSalesOrder(ctx, database.RejectSalesOrderParams{
			ID:              id,
			RejectedBy:      approver,
			RejectionReason: reason,
		})
	})
}

// Cancel soft-cancels an order. It is not routed; cancellation reaches an
// order through delivery order propagation.
func (s *SalesOrderService) Cancel(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	return s.transition(ctx, id, triggerCancel, "cancel", func(store SalesOrderStore) (database.SalesOrder, error) {
		return store.CancelSalesOrder(ctx, id)
	})
}

// Delete physically removes a DRAFT order and its lines.
func (s *SalesOrderService) Delete(ctx context.Context, id uuid.UUID) error {
	_, err := s.transition(ctx, id, triggerDelete, "delete", func(store SalesOrderStore) (database.SalesOrder, error) {
		return database.SalesOrder{}, store.DeleteSalesOrder(ctx, id)
	})
	return err
}

func (s *SalesOrderService) transition(
	ctx context.Context,
	id uuid.UUID,
	trigger, action string,
	apply func(store SalesOrderStore) (database.SalesOrder, error),
) (database.SalesOrder, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (database.SalesOrder, error) {
		store := s.newStore(tx)

		current, err := store.GetSalesOrderForUpdate(ctx, id)
		if err != nil {
			return database.SalesOrder{}, notFound(err, entitySalesOrder)
		}
		if _, err := fire(salesOrderMachine(current.Status), trigger, entitySalesOrder, action); err != nil {
			return database.SalesOrder{}, err
		}

		order, err := apply(store)
		if err != nil {
			return database.SalesOrder{}, fmt.Errorf("%s sales order: %w", action, err)
		}
		return order, nil
	})
}

// RegisterHandlers subscribes the reservation release to delivery order
// cancellation and deletion.
func (s *SalesOrderService) RegisterHandlers(bus EventSubscriber) {
	bus.Subscribe(events.DeliveryOrderCancelled, "sales_order.release_reservations", s.ReleaseReservations)
	bus.Subscribe(events.DeliveryOrderDeleted, "sales_order.release_reservations", s.ReleaseReservations)
}

// ReleaseReservations gives back every quantity the delivery order reserved.
// Running it again for the same event is a no-op: the reservation rows are
// gone after the first run.
func (s *SalesOrderService) ReleaseReservations(ctx context.Context, e events.Event) error {
	_, err := inTx(ctx, s.pool, func(tx pgx.Tx) (struct{}, error) {
		store := s.newStore(tx)

		released, err := store.ReleaseReservations(ctx, e.DeliveryOrderID)
		if err != nil {
			return struct{}{}, fmt.Errorf("release reservations: %w", err)
		}
		for _, r := range released {
			if _, err := store.AdjustReservedQuantity(ctx, database.AdjustReservedQuantityParams{
				ID:    r.SalesOrderItemID,
				Delta: -r.Quantity,
			}); err != nil {
				return struct{}{}, fmt.Errorf("sales order item %s: adjust reserved quantity: %w", r.SalesOrderItemID, err)
			}
		}

		if e.CancelSalesOrder && e.SalesOrderID != uuid.Nil {
			if err := cancelOrderInTx(ctx, store, e.SalesOrderID); err != nil {
				return struct{}{}, err
			}
		}

		if len(released) > 0 {
			s.logger.Info("released sales order reservations",
				zap.String("delivery_order_id", e.DeliveryOrderID.String()),
				zap.Int("lines", len(released)),
			)
		}
		return struct{}{}, nil
	})
	return err
}

func cancelOrderInTx(ctx context.Context, store SalesOrderStore, id uuid.UUID) error {
	order, err := store.GetSalesOrderForUpdate(ctx, id)
	if err != nil {
		return notFound(err, entitySalesOrder)
	}
	if order.Status == enum.SalesOrderStatusCancelled {
		return nil
	}
	if _, err := fire(salesOrderMachine(order.Status), triggerCancel, entitySalesOrder, "cancel"); err != nil {
		return err
	}
	if _, err := store.CancelSalesOrder(ctx, id); err != nil {
		return fmt.Errorf("cancel sales order: %w", err)
	}
	return nil
}
