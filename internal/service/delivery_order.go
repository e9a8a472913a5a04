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
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/events"
	"go.uber.org/zap"
)

const deliveryOrderNumberConstraint = "delivery_orders_do_number_key"

// Errors returned by the delivery order service.
var (
	ErrWarehouseRequired        = errors.New("warehouse_id is required")
	ErrSalesOrderNotApproved    = errors.New("sales order is not approved")
	ErrSalesOrderItemRequired   = errors.New("sales_order_item_id is required for lines drawn from a sales order")
	ErrSalesOrderItemMismatch   = errors.New("sales order item does not belong to the sales order")
	ErrDuplicateLine            = errors.New("sales order item appears more than once")
	ErrExceedsOutstanding       = errors.New("quantity exceeds the outstanding ordered quantity")
	ErrCancelReason             = errors.New("cancel reason is required")
	ErrBypassReason             = errors.New("bypass reason is required")
	ErrQualityCheckRequired     = errors.New("quality check has not been recorded")
	ErrQualityCheckIncomplete   = errors.New("every delivery order item needs exactly one result")
	ErrQualityCheckUnknownItem  = errors.New("item does not belong to the delivery order")
	ErrAcceptedQuantityRange    = errors.New("accepted_quantity must be between 0 and delivered_quantity")
	ErrInvalidCondition         = errors.New("condition must be one of GOOD, DAMAGED, DEFECTIVE")
	ErrDeliveryOrderNotComplete = errors.New("delivery order is not completed")
)

// DeliveryOrderStore defines the DB methods needed by DeliveryOrderService.
// Satisfied by *database.Queries (and its WithTx variant).
type DeliveryOrderStore interface {
	CatalogReader
	CustomerReader
	GetNextDeliveryOrderNumber(ctx context.Context) (int32, error)
	CreateDeliveryOrder(ctx context.Context, arg database.CreateDeliveryOrderParams) (database.DeliveryOrder, error)
	CreateDeliveryOrderItem(ctx context.Context, arg database.CreateDeliveryOrderItemParams) (database.DeliveryOrderItem, error)
	GetDeliveryOrder(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error)
	GetDeliveryOrderForUpdate(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error)
	ListDeliveryOrders(ctx context.Context, arg database.ListDeliveryOrdersParams) ([]database.DeliveryOrder, error)
	ListDeliveryOrderItems(ctx context.Context, deliveryOrderID uuid.UUID) ([]database.DeliveryOrderItem, error)
	SubmitDeliveryOrder(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error)
	RecordDeliveryOrderItemCheck(ctx context.Context, arg database.RecordDeliveryOrderItemCheckParams) (database.DeliveryOrderItem, error)
	RecordDeliveryOrderQualityCheck(ctx context.Context, arg database.RecordDeliveryOrderQualityCheckParams) (database.DeliveryOrder, error)
	CompleteDeliveryOrder(ctx context.Context, arg database.CompleteDeliveryOrderParams) (database.DeliveryOrder, error)
	CancelDeliveryOrder(ctx context.Context, arg database.CancelDeliveryOrderParams) (database.DeliveryOrder, error)
	DeleteDeliveryOrder(ctx context.Context, id uuid.UUID) error
	GetSalesOrderForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrder, error)
	GetSalesOrderItemForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrderItem, error)
	AdjustReservedQuantity(ctx context.Context, arg database.AdjustReservedQuantityParams) (database.SalesOrderItem, error)
	CreateReservation(ctx context.Context, arg database.CreateReservationParams) (database.SalesOrderReservation, error)
}

// NewDeliveryOrderStore creates a DeliveryOrderStore from a DBTX (pool or tx).
type NewDeliveryOrderStore func(db database.DBTX) DeliveryOrderStore

// DeliveryLineInput is one delivered line. Lines drawn from a sales order set
// SalesOrderItemID and Quantity only; standalone lines are priced like order
// lines.
type DeliveryLineInput struct {
	SalesOrderItemID *uuid.UUID
	LineInput
}

// DeliveryOrderRequest is the input for creating a delivery order. CustomerID
// is taken from the sales order when SalesOrderID is set.
type DeliveryOrderRequest struct {
	SalesOrderID *uuid.UUID
	CustomerID   uuid.UUID
	WarehouseID  uuid.UUID
	DeliveryDate time.Time
	CreatedBy    uuid.UUID
	Items        []DeliveryLineInput
}

// QualityCheckResult is the inspector's verdict on one delivery order item.
type QualityCheckResult struct {
	ItemID           uuid.UUID
	AcceptedQuantity int32
	Condition        string
	Remarks          string
}

// CompleteOptions allows ADMIN and MANAGER staff to complete a delivery
// order without a recorded quality check.
type CompleteOptions struct {
	BypassQualityCheck bool
	BypassReason       string
}

// CancelDeliveryOrderRequest carries the mandatory reason and whether the
// parent sales order should be cancelled along with it.
type CancelDeliveryOrderRequest struct {
	Reason           string
	CancelSalesOrder bool
}

type DeliveryOrderDetail struct {
	Order database.DeliveryOrder
	Items []database.DeliveryOrderItem
}

type DeliveryOrderFilter struct {
	Status       string
	SalesOrderID *uuid.UUID
	CustomerID   *uuid.UUID
	Search       string
	Limit        int32
	Offset       int32
}

// DeliveryOrderService tracks fulfilment: creation against approved orders,
// quality check, completion and cancellation.
type DeliveryOrderService struct {
	store     DeliveryOrderStore
	pool      TxBeginner
	newStore  NewDeliveryOrderStore
	publisher EventPublisher
	logger    *zap.Logger
}

func NewDeliveryOrderService(store DeliveryOrderStore, pool TxBeginner, newStore NewDeliveryOrderStore, publisher EventPublisher, logger *zap.Logger) *DeliveryOrderService {
	return &DeliveryOrderService{store: store, pool: pool, newStore: newStore, publisher: publisher, logger: logger}
}

func (s *DeliveryOrderService) Create(ctx context.Context, req DeliveryOrderRequest) (*DeliveryOrderDetail, error) {
	if req.WarehouseID == uuid.Nil {
		return nil, apperr.Validation("warehouse_id", ErrWarehouseRequired)
	}
	if len(req.Items) == 0 {
		return nil, apperr.Validation("items", ErrEmptyItems)
	}
	if req.DeliveryDate.IsZero() {
		req.DeliveryDate = time.Now()
	}
	if req.SalesOrderID == nil {
		if err := requireCustomer(ctx, s.store, req.CustomerID); err != nil {
			return nil, err
		}
	}

	return withNumberRetry(deliveryOrderNumberConstraint, func() (*DeliveryOrderDetail, error) {
		return inTx(ctx, s.pool, func(tx pgx.Tx) (*DeliveryOrderDetail, error) {
			store := s.newStore(tx)

			customerID := req.CustomerID
			var lines []database.CreateDeliveryOrderItemParams
			if req.SalesOrderID != nil {
				order, err := store.GetSalesOrderForUpdate(ctx, *req.SalesOrderID)
				if err != nil {
					if errors.Is(err, pgx.ErrNoRows) {
						return nil, apperr.Validation("sales_order_id", apperr.NotFound(entitySalesOrder))
					}
					return nil, fmt.Errorf("get sales order: %w", err)
				}
				if order.Status != enum.SalesOrderStatusApproved {
					return nil, apperr.InvalidState(entityDeliveryOrder, "create",
						fmt.Errorf("%w (status %s)", ErrSalesOrderNotApproved, order.Status))
				}
				customerID = order.CustomerID
				if lines, err = reserveOrderLines(ctx, store, order.ID, req.Items); err != nil {
					return nil, err
				}
			} else {
				var err error
				if lines, err = standaloneLines(ctx, store, req.Items); err != nil {
					return nil, err
				}
			}

			next, err := store.GetNextDeliveryOrderNumber(ctx)
			if err != nil {
				return nil, fmt.Errorf("get next delivery order number: %w", err)
			}
			do, err := store.CreateDeliveryOrder(ctx, database.CreateDeliveryOrderParams{
				DoNumber:     fmt.Sprintf("DO-%04d", next),
				SalesOrderID: database.NullUUID(req.SalesOrderID),
				CustomerID:   customerID,
				WarehouseID:  req.WarehouseID,
				DeliveryDate: req.DeliveryDate,
				CreatedBy:    req.CreatedBy,
			})
			if err != nil {
				return nil, fmt.Errorf("create delivery order: %w", err)
			}

			items := make([]database.DeliveryOrderItem, 0, len(lines))
			for i, line := range lines {
				line.DeliveryOrderID = do.ID
				item, err := store.CreateDeliveryOrderItem(ctx, line)
				if err != nil {
					return nil, fmt.Errorf("item[%d]: create delivery order item: %w", i, err)
				}
				if line.SalesOrderItemID.Valid {
					if _, err := store.CreateReservation(ctx, database.CreateReservationParams{
						DeliveryOrderID:  do.ID,
						SalesOrderItemID: line.SalesOrderItemID.Bytes,
						Quantity:         line.DeliveredQuantity,
					}); err != nil {
						return nil, fmt.Errorf("item[%d]: create reservation: %w", i, err)
					}
				}
				items = append(items, item)
			}
			return &DeliveryOrderDetail{Order: do, Items: items}, nil
		})
	})
}

// reserveOrderLines locks each referenced order line, checks the outstanding
// quantity and increments reserved_quantity. The matching reservation rows
// are written once the delivery order id is known.
func reserveOrderLines(ctx context.Context, store DeliveryOrderStore, orderID uuid.UUID, items []DeliveryLineInput) ([]database.CreateDeliveryOrderItemParams, error) {
	seen := make(map[uuid.UUID]bool, len(items))
	lines := make([]database.CreateDeliveryOrderItemParams, 0, len(items))
	for i, in := range items {
		field := fmt.Sprintf("items[%d]", i)
		if in.SalesOrderItemID == nil {
			return nil, apperr.Validation(field+".sales_order_item_id", ErrSalesOrderItemRequired)
		}
		if seen[*in.SalesOrderItemID] {
			return nil, apperr.Validation(field+".sales_order_item_id", ErrDuplicateLine)
		}
		seen[*in.SalesOrderItemID] = true
		if in.Quantity <= 0 {
			return nil, apperr.Validation(field+".quantity", ErrInvalidQuantity)
		}

		soi, err := store.GetSalesOrderItemForUpdate(ctx, *in.SalesOrderItemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return nil, apperr.Validation(field+".sales_order_item_id", ErrSalesOrderItemMismatch)
			}
			return nil, fmt.Errorf("%s: get sales order item: %w", field, err)
		}
		if soi.SalesOrderID != orderID {
			return nil, apperr.Validation(field+".sales_order_item_id", ErrSalesOrderItemMismatch)
		}
		if in.Quantity > soi.Quantity-soi.ReservedQuantity {
			return nil, apperr.Validation(field+".quantity",
				fmt.Errorf("%w (%d outstanding)", ErrExceedsOutstanding, soi.Quantity-soi.ReservedQuantity))
		}
		if _, err := store.AdjustReservedQuantity(ctx, database.AdjustReservedQuantityParams{
			ID:    soi.ID,
			Delta: in.Quantity,
		}); err != nil {
			return nil, fmt.Errorf("%s: reserve quantity: %w", field, err)
		}

		description := soi.Description
		if in.Description != "" {
			description = in.Description
		}
		lines = append(lines, database.CreateDeliveryOrderItemParams{
			SalesOrderItemID:  pgtype.UUID{Bytes: soi.ID, Valid: true},
			ProductID:         soi.ProductID,
			SalesItemID:       soi.SalesItemID,
			Description:       description,
			UnitPrice:         soi.UnitPrice,
			DeliveredQuantity: in.Quantity,
		})
	}
	return lines, nil
}

func standaloneLines(ctx context.Context, store DeliveryOrderStore, items []DeliveryLineInput) ([]database.CreateDeliveryOrderItemParams, error) {
	inputs := make([]LineInput, len(items))
	for i, in := range items {
		inputs[i] = in.LineInput
	}
	resolved, _, err := resolveLines(ctx, store, inputs)
	if err != nil {
		return nil, err
	}
	lines := make([]database.CreateDeliveryOrderItemParams, 0, len(resolved))
	for _, r := range resolved {
		lines = append(lines, database.CreateDeliveryOrderItemParams{
			ProductID:         r.productID,
			SalesItemID:       r.salesItemID,
			Description:       r.description,
			UnitPrice:         r.unitPrice,
			DeliveredQuantity: r.quantity,
		})
	}
	return lines, nil
}

func (s *DeliveryOrderService) Get(ctx context.Context, id uuid.UUID) (*DeliveryOrderDetail, error) {
	do, err := s.store.GetDeliveryOrder(ctx, id)
	if err != nil {
		return nil, notFound(err, entityDeliveryOrder)
	}
	items, err := s.store.ListDeliveryOrderItems(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("list delivery order items: %w", err)
	}
	return &DeliveryOrderDetail{Order: do, Items: items}, nil
}

func (s *DeliveryOrderService) List(ctx context.Context, f DeliveryOrderFilter) ([]database.DeliveryOrder, error) {
	orders, err := s.store.ListDeliveryOrders(ctx, database.ListDeliveryOrdersParams{
		Status:       database.NullText(f.Status),
		SalesOrderID: database.NullUUID(f.SalesOrderID),
		CustomerID:   database.NullUUID(f.CustomerID),
		Search:       database.NullText(strings.TrimSpace(f.Search)),
		Limit:        f.Limit,
		Offset:       f.Offset,
	})
	if err != nil {
		return nil, fmt.Errorf("list delivery orders: %w", err)
	}
	return orders, nil
}

// Submit releases a DRAFT delivery order to the warehouse.
func (s *DeliveryOrderService) Submit(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (database.DeliveryOrder, error) {
		store := s.newStore(tx)
		current, err := store.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return database.DeliveryOrder{}, notFound(err, entityDeliveryOrder)
		}
		if _, err := fire(deliveryOrderMachine(current.Status), triggerSubmit, entityDeliveryOrder, "submit"); err != nil {
			return database.DeliveryOrder{}, err
		}
		do, err := store.SubmitDeliveryOrder(ctx, id)
		if err != nil {
			return database.DeliveryOrder{}, fmt.Errorf("submit delivery order: %w", err)
		}
		return do, nil
	})
}

// RecordQualityCheck stores one result per item. rejected_quantity is always
// delivered minus accepted. Every result is validated before anything is
// written.
func (s *DeliveryOrderService) RecordQualityCheck(ctx context.Context, id uuid.UUID, results []QualityCheckResult, checkedBy uuid.UUID) (*DeliveryOrderDetail, error) {
	return inTx(ctx, s.pool, func(tx pgx.Tx) (*DeliveryOrderDetail, error) {
		store := s.newStore(tx)

		current, err := store.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return nil, notFound(err, entityDeliveryOrder)
		}
		if _, err := fire(deliveryOrderMachine(current.Status), triggerQualityCheck, entityDeliveryOrder, "record quality check for"); err != nil {
			return nil, err
		}

		items, err := store.ListDeliveryOrderItems(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("list delivery order items: %w", err)
		}
		checks, err := validateQualityCheck(items, results)
		if err != nil {
			return nil, err
		}

		updated := make([]database.DeliveryOrderItem, 0, len(checks))
		for i, check := range checks {
			item, err := store.RecordDeliveryOrderItemCheck(ctx, check)
			if err != nil {
				return nil, fmt.Errorf("item[%d]: record quality check: %w", i, err)
			}
			updated = append(updated, item)
		}

		do, err := store.RecordDeliveryOrderQualityCheck(ctx, database.RecordDeliveryOrderQualityCheckParams{
			ID:                 id,
			QualityCheckStatus: aggregateQualityCheck(updated),
			QualityCheckedBy:   checkedBy,
		})
		if err != nil {
			return nil, fmt.Errorf("record delivery order quality check: %w", err)
		}
		return &DeliveryOrderDetail{Order: do, Items: updated}, nil
	})
}

func validateQualityCheck(items []database.DeliveryOrderItem, results []QualityCheckResult) ([]database.RecordDeliveryOrderItemCheckParams, error) {
	byID := make(map[uuid.UUID]QualityCheckResult, len(results))
	for i, r := range results {
		field := fmt.Sprintf("results[%d]", i)
		if _, dup := byID[r.ItemID]; dup {
			return nil, apperr.Validation(field+".item_id", ErrQualityCheckIncomplete)
		}
		byID[r.ItemID] = r
	}
	if len(byID) != len(items) {
		return nil, apperr.Validation("results", ErrQualityCheckIncomplete)
	}

	checks := make([]database.RecordDeliveryOrderItemCheckParams, 0, len(items))
	for i, item := range items {
		field := fmt.Sprintf("results[%d]", i)
		r, ok := byID[item.ID]
		if !ok {
			return nil, apperr.Validation(field+".item_id", ErrQualityCheckUnknownItem)
		}
		if r.AcceptedQuantity < 0 || r.AcceptedQuantity > item.DeliveredQuantity {
			return nil, apperr.Validation(field+".accepted_quantity", ErrAcceptedQuantityRange)
		}
		if !enum.IsValidItemCondition(r.Condition) {
			return nil, apperr.Validation(field+".condition", ErrInvalidCondition)
		}
		checks = append(checks, database.RecordDeliveryOrderItemCheckParams{
			ID:               item.ID,
			AcceptedQuantity: r.AcceptedQuantity,
			RejectedQuantity: item.DeliveredQuantity - r.AcceptedQuantity,
			Condition:        r.Condition,
			Remarks:          database.NullText(strings.TrimSpace(r.Remarks)),
		})
	}
	return checks, nil
}

// aggregateQualityCheck is PASSED when every unit was accepted, FAILED when
// none were, PARTIAL otherwise.
func aggregateQualityCheck(items []database.DeliveryOrderItem) string {
	allAccepted, allRejected := true, true
	for _, item := range items {
		if item.RejectedQuantity > 0 {
			allAccepted = false
		}
		if item.AcceptedQuantity > 0 {
			allRejected = false
		}
	}
	switch {
	case allAccepted:
		return enum.QualityCheckPassed
	case allRejected:
		return enum.QualityCheckFailed
	default:
		return enum.QualityCheckPartial
	}
}

// Complete requires a recorded quality check unless opts bypasses it with a
// reason. Role restrictions on the bypass are enforced by the caller.
func (s *DeliveryOrderService) Complete(ctx context.Context, id uuid.UUID, opts CompleteOptions) (database.DeliveryOrder, error) {
	opts.BypassReason = strings.TrimSpace(opts.BypassReason)
	if opts.BypassQualityCheck && opts.BypassReason == "" {
		return database.DeliveryOrder{}, apperr.Validation("bypass_reason", ErrBypassReason).Op(entityDeliveryOrder, "complete")
	}

	return inTx(ctx, s.pool, func(tx pgx.Tx) (database.DeliveryOrder, error) {
		store := s.newStore(tx)
		current, err := store.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return database.DeliveryOrder{}, notFound(err, entityDeliveryOrder)
		}
		if _, err := fire(deliveryOrderMachine(current.Status), triggerComplete, entityDeliveryOrder, "complete"); err != nil {
			return database.DeliveryOrder{}, err
		}

		bypassed := !current.QualityCheckDone && opts.BypassQualityCheck
		if !current.QualityCheckDone && !bypassed {
			return database.DeliveryOrder{}, apperr.InvalidState(entityDeliveryOrder, "complete", ErrQualityCheckRequired)
		}
		params := database.CompleteDeliveryOrderParams{ID: id, QualityCheckBypassed: bypassed}
		if bypassed {
			params.BypassReason = database.NullText(opts.BypassReason)
		}

		do, err := store.CompleteDeliveryOrder(ctx, params)
		if err != nil {
			return database.DeliveryOrder{}, fmt.Errorf("complete delivery order: %w", err)
		}
		if bypassed {
			s.logger.Warn("delivery order completed without quality check",
				zap.String("delivery_order_id", id.String()),
				zap.String("reason", opts.BypassReason),
			)
		}
		return do, nil
	})
}

// Cancel moves a non-terminal delivery order to CANCELLED and publishes the
// reservation release. Cancelling an already cancelled order publishes the
// release again so a failed compensation can be retried.
func (s *DeliveryOrderService) Cancel(ctx context.Context, id uuid.UUID, req CancelDeliveryOrderRequest) (database.DeliveryOrder, error) {
	req.Reason = strings.TrimSpace(req.Reason)
	if req.Reason == "" {
		return database.DeliveryOrder{}, apperr.Validation("reason", ErrCancelReason).Op(entityDeliveryOrder, "cancel")
	}

	do, err := inTx(ctx, s.pool, func(tx pgx.Tx) (database.DeliveryOrder, error) {
		store := s.newStore(tx)
		current, err := store.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return database.DeliveryOrder{}, notFound(err, entityDeliveryOrder)
		}
		if current.Status == enum.DeliveryOrderStatusCancelled {
			return current, nil
		}
		if _, err := fire(deliveryOrderMachine(current.Status), triggerCancel, entityDeliveryOrder, "cancel"); err != nil {
			return database.DeliveryOrder{}, err
		}
		do, err := store.CancelDeliveryOrder(ctx, database.CancelDeliveryOrderParams{ID: id, CancelReason: req.Reason})
		if err != nil {
			return database.DeliveryOrder{}, fmt.Errorf("cancel delivery order: %w", err)
		}
		return do, nil
	})
	if err != nil {
		return database.DeliveryOrder{}, err
	}

	s.publisher.Publish(ctx, events.Event{
		Kind:             events.DeliveryOrderCancelled,
		DeliveryOrderID:  do.ID,
		SalesOrderID:     uuidOrNil(do.SalesOrderID),
		CancelSalesOrder: req.CancelSalesOrder,
	})
	return do, nil
}

// Delete removes a DRAFT delivery order and publishes the reservation release.
func (s *DeliveryOrderService) Delete(ctx context.Context, id uuid.UUID) error {
	do, err := inTx(ctx, s.pool, func(tx pgx.Tx) (database.DeliveryOrder, error) {
		store := s.newStore(tx)
		current, err := store.GetDeliveryOrderForUpdate(ctx, id)
		if err != nil {
			return database.DeliveryOrder{}, notFound(err, entityDeliveryOrder)
		}
		if _, err := fire(deliveryOrderMachine(current.Status), triggerDelete, entityDeliveryOrder, "delete"); err != nil {
			return database.DeliveryOrder{}, err
		}
		if err := store.DeleteDeliveryOrder(ctx, id); err != nil {
			return database.DeliveryOrder{}, fmt.Errorf("delete delivery order: %w", err)
		}
		return current, nil
	})
	if err != nil {
		return err
	}

	s.publisher.Publish(ctx, events.Event{
		Kind:            events.DeliveryOrderDeleted,
		DeliveryOrderID: do.ID,
		SalesOrderID:    uuidOrNil(do.SalesOrderID),
	})
	return nil
}

func uuidOrNil(id pgtype.UUID) uuid.UUID {
	if !id.Valid {
		return uuid.Nil
	}
	return id.Bytes
}
