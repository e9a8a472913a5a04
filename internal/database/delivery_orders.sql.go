package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getNextDeliveryOrderNumber = `-- name: GetNextDeliveryOrderNumber :one
SELECT (COALESCE(MAX(CAST(SUBSTRING(do_number FROM 4) AS INTEGER)), 0) + 1)::int4
FROM delivery_orders
`

func (q *Queries) GetNextDeliveryOrderNumber(ctx context.Context) (int32, error) {
	row := q.db.QueryRow(ctx, getNextDeliveryOrderNumber)
	var n int32
	err := row.Scan(&n)
	return n, err
}

const createDeliveryOrder = `-- name: CreateDeliveryOrder :one
INSERT INTO delivery_orders (do_number, sales_order_id, customer_id, warehouse_id, delivery_date, created_by)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *
`

type CreateDeliveryOrderParams struct {
	DoNumber     string
	SalesOrderID pgtype.UUID
	CustomerID   uuid.UUID
	WarehouseID  uuid.UUID
	DeliveryDate time.Time
	CreatedBy    uuid.UUID
}

func (q *Queries) CreateDeliveryOrder(ctx context.Context, arg CreateDeliveryOrderParams) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, createDeliveryOrder,
		arg.DoNumber, arg.SalesOrderID, arg.CustomerID, arg.WarehouseID, arg.DeliveryDate, arg.CreatedBy))
}

const createDeliveryOrderItem = `-- name: CreateDeliveryOrderItem :one
INSERT INTO delivery_order_items (
    delivery_order_id, sales_order_item_id, product_id, sales_item_id, description, unit_price, delivered_quantity
) VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING *
`

type CreateDeliveryOrderItemParams struct {
	DeliveryOrderID   uuid.UUID
	SalesOrderItemID  pgtype.UUID
	ProductID         pgtype.UUID
	SalesItemID       pgtype.UUID
	Description       string
	UnitPrice         decimal.Decimal
	DeliveredQuantity int32
}

func (q *Queries) CreateDeliveryOrderItem(ctx context.Context, arg CreateDeliveryOrderItemParams) (DeliveryOrderItem, error) {
	return collectOne[DeliveryOrderItem](q.db.Query(ctx, createDeliveryOrderItem,
		arg.DeliveryOrderID, arg.SalesOrderItemID, arg.ProductID, arg.SalesItemID,
		arg.Description, arg.UnitPrice, arg.DeliveredQuantity))
}

const getDeliveryOrder = `-- name: GetDeliveryOrder :one
SELECT * FROM delivery_orders WHERE id = $1
`

func (q *Queries) GetDeliveryOrder(ctx context.Context, id uuid.UUID) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, getDeliveryOrder, id))
}

const getDeliveryOrderForUpdate = `-- name: GetDeliveryOrderForUpdate :one
SELECT * FROM delivery_orders WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetDeliveryOrderForUpdate(ctx context.Context, id uuid.UUID) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, getDeliveryOrderForUpdate, id))
}

const listDeliveryOrders = `-- name: ListDeliveryOrders :many
SELECT * FROM delivery_orders
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::uuid IS NULL OR sales_order_id = $2)
  AND ($3::uuid IS NULL OR customer_id = $3)
  AND ($4::text IS NULL OR do_number ILIKE '%' || $4 || '%')
ORDER BY created_at DESC
LIMIT $5 OFFSET $6
`

type ListDeliveryOrdersParams struct {
	Status       pgtype.Text
	SalesOrderID pgtype.UUID
	CustomerID   pgtype.UUID
	Search       pgtype.Text
	Limit        int32
	Offset       int32
}

func (q *Queries) ListDeliveryOrders(ctx context.Context, arg ListDeliveryOrdersParams) ([]DeliveryOrder, error) {
	return collectMany[DeliveryOrder](q.db.Query(ctx, listDeliveryOrders,
		arg.Status, arg.SalesOrderID, arg.CustomerID, arg.Search, arg.Limit, arg.Offset))
}

const listDeliveryOrderItems = `-- name: ListDeliveryOrderItems :many
SELECT * FROM delivery_order_items WHERE delivery_order_id = $1 ORDER BY id
`

func (q *Queries) ListDeliveryOrderItems(ctx context.Context, deliveryOrderID uuid.UUID) ([]DeliveryOrderItem, error) {
	return collectMany[DeliveryOrderItem](q.db.Query(ctx, listDeliveryOrderItems, deliveryOrderID))
}

const submitDeliveryOrder = `-- name: SubmitDeliveryOrder :one
UPDATE delivery_orders SET status = 'PENDING', updated_at = now()
WHERE id = $1
RETURNING *
`

func (q *Queries) SubmitDeliveryOrder(ctx context.Context, id uuid.UUID) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, submitDeliveryOrder, id))
}

const recordDeliveryOrderItemCheck = `-- name: RecordDeliveryOrderItemCheck :one
UPDATE delivery_order_items
SET accepted_quantity = $2, rejected_quantity = $3, condition = $4, remarks = $5
WHERE id = $1
RETURNING *
`

type RecordDeliveryOrderItemCheckParams struct {
	ID               uuid.UUID
	AcceptedQuantity int32
	RejectedQuantity int32
	Condition        string
	Remarks          pgtype.Text
}

func (q *Queries) RecordDeliveryOrderItemCheck(ctx context.Context, arg RecordDeliveryOrderItemCheckParams) (DeliveryOrderItem, error) {
	return collectOne[DeliveryOrderItem](q.db.Query(ctx, recordDeliveryOrderItemCheck,
		arg.ID, arg.AcceptedQuantity, arg.RejectedQuantity, arg.Condition, arg.Remarks))
}

const recordDeliveryOrderQualityCheck = `-- name: RecordDeliveryOrderQualityCheck :one
UPDATE delivery_orders
SET status = 'QUALITY_CHECK', quality_check_done = true, quality_check_status = $2,
    quality_checked_by = $3, quality_checked_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

type RecordDeliveryOrderQualityCheckParams struct {
	ID                 uuid.UUID
	QualityCheckStatus string
	QualityCheckedBy   uuid.UUID
}

func (q *Queries) RecordDeliveryOrderQualityCheck(ctx context.Context, arg RecordDeliveryOrderQualityCheckParams) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, recordDeliveryOrderQualityCheck,
		arg.ID, arg.QualityCheckStatus, arg.QualityCheckedBy))
}

const completeDeliveryOrder = `-- name: CompleteDeliveryOrder :one
UPDATE delivery_orders
SET status = 'COMPLETED', quality_check_bypassed = $2, bypass_reason = $3, completed_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

type CompleteDeliveryOrderParams struct {
	ID                   uuid.UUID
	QualityCheckBypassed bool
	BypassReason         pgtype.Text
}

func (q *Queries) CompleteDeliveryOrder(ctx context.Context, arg CompleteDeliveryOrderParams) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, completeDeliveryOrder,
		arg.ID, arg.QualityCheckBypassed, arg.BypassReason))
}

const cancelDeliveryOrder = `-- name: CancelDeliveryOrder :one
UPDATE delivery_orders
SET status = 'CANCELLED', cancel_reason = $2, cancelled_at = now(), updated_at = now()
WHERE id = $1
RETURNING *
`

type CancelDeliveryOrderParams struct {
	ID           uuid.UUID
	CancelReason string
}

func (q *Queries) CancelDeliveryOrder(ctx context.Context, arg CancelDeliveryOrderParams) (DeliveryOrder, error) {
	return collectOne[DeliveryOrder](q.db.Query(ctx, cancelDeliveryOrder, arg.ID, arg.CancelReason))
}

const deleteDeliveryOrder = `-- name: DeleteDeliveryOrder :exec
DELETE FROM delivery_orders WHERE id = $1
`

func (q *Queries) DeleteDeliveryOrder(ctx context.Context, id uuid.UUID) error {
	_, err := q.db.Exec(ctx, deleteDeliveryOrder, id)
	return err
}
