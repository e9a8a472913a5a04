package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getNextSalesOrderNumber = `-- name: GetNextSalesOrderNumber :one
SELECT (COALESCE(MAX(CAST(SUBSTRING(order_number FROM 4) AS INTEGER)), 0) + 1)::int4
FROM sales_orders
`

func (q *Queries) GetNextSalesOrderNumber(ctx context.Context) (int32, error) {
	row := q.db.QueryRow(ctx, getNextSalesOrderNumber)
	var n int32
	err := row.Scan(&n)
	return n, err
}

const createSalesOrder = `-- name: CreateSalesOrder :one
INSERT INTO sales_orders (order_number, customer_id, order_date, notes, total_amount, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *
`

type CreateSalesOrderParams struct {
	OrderNumber string
	CustomerID  uuid.UUID
	OrderDate   time.Time
	Notes       pgtype.Text
	TotalAmount decimal.Decimal
	CreatedBy   uuid.UUID
}

func (q *Queries) CreateSalesOrder(ctx context.Context, arg CreateSalesOrderParams) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, createSalesOrder,
		arg.OrderNumber, arg.CustomerID, arg.OrderDate, arg.Notes, arg.TotalAmount, arg.CreatedBy))
}

const createSalesOrderItem = `-- name: CreateSalesOrderItem :one
INSERT INTO sales_order_items (sales_order_id, product_id, sales_item_id, description, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING *
`

type CreateSalesOrderItemParams struct {
	SalesOrderID uuid.UUID
	ProductID    pgtype.UUID
	SalesItemID  pgtype.UUID
	Description  string
	Quantity     int32
	UnitPrice    decimal.Decimal
	LineTotal    decimal.Decimal
}

func (q *Queries) CreateSalesOrderItem(ctx context.Context, arg CreateSalesOrderItemParams) (SalesOrderItem, error) {
	return collectOne[SalesOrderItem](q.db.Query(ctx, createSalesOrderItem,
		arg.SalesOrderID, arg.ProductID, arg.SalesItemID, arg.Description, arg.Quantity, arg.UnitPrice, arg.LineTotal))
}

const updateSalesOrder = `-- name: UpdateSalesOrder :one
UPDATE sales_orders
SET customer_id = $2, order_date = $3, notes = $4, total_amount = $5, updated_at = now()
WHERE id = $1
RETURNING *
`

type UpdateSalesOrderParams struct {
	ID          uuid.UUID
	CustomerID  uuid.UUID
	OrderDate   time.Time
	Notes       pgtype.Text
	TotalAmount decimal.Decimal
}

func (q *Queries) UpdateSalesOrder(ctx context.Context, arg UpdateSalesOrderParams) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, updateSalesOrder,
		arg.ID, arg.CustomerID, arg.OrderDate, arg.Notes, arg.TotalAmount))
}

const deleteSalesOrderItems = `-- name: DeleteSalesOrderItems :exec
DELETE FROM sales_order_items WHERE sales_order_id = $1
`

func (q *Queries) DeleteSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteSalesOrderItems, salesOrderID)
	return err
}

const getSalesOrder = `-- name: GetSalesOrder :one
SELECT * FROM sales_orders WHERE id = $1
`

func (q *Queries) GetSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, getSalesOrder, id))
}

const getSalesOrderForUpdate = `-- name: GetSalesOrderForUpdate :one
SELECT * FROM sales_orders WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetSalesOrderForUpdate(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, getSalesOrderForUpdate, id))
}

const listSalesOrders = `-- name: ListSalesOrders :many
SELECT * FROM sales_orders
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::uuid IS NULL OR customer_id = $2)
  AND ($3::date IS NULL OR order_date >= $3)
  AND ($4::date IS NULL OR order_date <= $4)
  AND ($5::text IS NULL OR order_number ILIKE '%' || $5 || '%')
ORDER BY created_at DESC
LIMIT $6 OFFSET $7
`

type ListSalesOrdersParams struct {
	Status     pgtype.Text
	CustomerID pgtype.UUID
	StartDate  pgtype.Date
	EndDate    pgtype.Date
	Search     pgtype.Text
	Limit      int32
	Offset     int32
}

func (q *Queries) ListSalesOrders(ctx context.Context, arg ListSalesOrdersParams) ([]SalesOrder, error) {
	return collectMany[SalesOrder](q.db.Query(ctx, listSalesOrders,
		arg.Status, arg.CustomerID, arg.StartDate, arg.EndDate, arg.Search, arg.Limit, arg.Offset))
}

const listSalesOrderItems = `-- name: ListSalesOrderItems :many
SELECT * FROM sales_order_items WHERE sales_order_id = $1 ORDER BY id
`

func (q *Queries) ListSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) ([]SalesOrderItem, error) {
	return collectMany[SalesOrderItem](q.db.Query(ctx, listSalesOrderItems, salesOrderID))
}

const getSalesOrderItemForUpdate = `-- name: GetSalesOrderItemForUpdate :one
SELECT * FROM sales_order_items WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetSalesOrderItemForUpdate(ctx context.Context, id uuid.UUID) (SalesOrderItem, error) {
	return collectOne[SalesOrderItem](q.db.Query(ctx, getSalesOrderItemForUpdate, id))
}

const submitSalesOrder = `-- name: SubmitSalesOrder :one
UPDATE sales_orders
SET status = 'PENDING_APPROVAL', submitted_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

func (q *Queries) SubmitSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, submitSalesOrder, id))
}

const approveSalesOrder = `-- name: ApproveSalesOrder :one
UPDATE sales_orders
SET status = 'APPROVED', approved_by = $2, approved_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

type ApproveSalesOrderParams struct {
	ID         uuid.UUID
	ApprovedBy uuid.UUID
}

func (q *Queries) ApproveSalesOrder(ctx context.Context, arg ApproveSalesOrderParams) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, approveSalesOrder, arg.ID, arg.ApprovedBy))
}

const rejectSalesOrder = `-- name: RejectSalesOrder :one
UPDATE sales_orders
SET status = 'REJECTED', rejected_by = $2, rejected_at = now(), rejection_reason = $3, updated_at = now()
WHERE id = $1
RETURNING *
`

type RejectSalesOrderParams struct {
	ID              uuid.UUID
	RejectedBy      uuid.UUID
	RejectionReason string
}

func (q *Queries) RejectSalesOrder(ctx context.Context, arg RejectSalesOrderParams) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, rejectSalesOrder, arg.ID, arg.RejectedBy, arg.RejectionReason))
}

const cancelSalesOrder = `-- name: CancelSalesOrder :one
UPDATE sales_orders
SET status = 'CANCELLED', cancelled_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

func (q *Queries) CancelSalesOrder(ctx context.Context, id uuid.UUID) (SalesOrder, error) {
	return collectOne[SalesOrder](q.db.Query(ctx, cancelSalesOrder, id))
}

const deleteSalesOrder = `-- name: DeleteSalesOrder :exec
DELETE FROM sales_orders WHERE id = $1
`

func (q *Queries) DeleteSalesOrder(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteSalesOrder, id)
	return err
}

const adjustReservedQuantity = `-- name: AdjustReservedQuantity :one
UPDATE sales_order_items
SET reserved_quantity = reserved_quantity + $2
WHERE id = $1
RETURNING *
`

type AdjustReservedQuantityParams struct {
	ID    uuid.UUID
	Delta int32
}

func (q *Queries) AdjustReservedQuantity(ctx context.Context, arg AdjustReservedQuantityParams) (SalesOrderItem, error) {
	return collectOne[SalesOrderItem](q.db.Query(ctx, adjustReservedQuantity, arg.ID, arg.Delta))
}

const createReservation = `-- name: CreateReservation :one
INSERT INTO sales_order_reservations (delivery_order_id, sales_order_item_id, quantity)
VALUES ($1, $2, $3)
RETURNING *
`

type CreateReservationParams struct {
	DeliveryOrderID  uuid.UUID
	SalesOrderItemID uuid.UUID
	Quantity         int32
}

func (q *Queries) CreateReservation(ctx context.Context, arg CreateReservationParams) (SalesOrderReservation, error) {
	return collectOne[SalesOrderReservation](q.db.Query(ctx, createReservation,
		arg.DeliveryOrderID, arg.SalesOrderItemID, arg.Quantity))
}

const releaseReservations = `-- name: ReleaseReservations :many
DELETE FROM sales_order_reservations
WHERE delivery_order_id = $1
RETURNING *
`

// ReleaseReservations removes and returns every reservation held by a
// delivery order. A repeated call returns an empty slice.
func (q *Queries) ReleaseReservations(ctx context.Context, deliveryOrderID uuid.UUID) ([]SalesOrderReservation, error) {
	return collectMany[SalesOrderReservation](q.db.Query(ctx, releaseReservations, deliveryOrderID))
}
