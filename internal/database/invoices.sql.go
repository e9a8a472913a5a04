package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getNextInvoiceNumber = `-- name: GetNextInvoiceNumber :one
SELECT (COALESCE(MAX(CAST(SUBSTRING(invoice_number FROM 5) AS INTEGER)), 0) + 1)::int4
FROM invoices
`

func (q *Queries) GetNextInvoiceNumber(ctx context.Context) (int32, error) {
	row := q.db.QueryRow(ctx, getNextInvoiceNumber)
	var n int32
	err := row.Scan(&n)
	return n, err
}

const createInvoice = `-- name: CreateInvoice :one
INSERT INTO invoices (
    invoice_number, customer_id, sales_order_id, delivery_order_id, invoice_date, due_date,
    subtotal, discount_amount, tax_rate, tax_amount, total_amount, notes, created_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING *
`

type CreateInvoiceParams struct {
	InvoiceNumber   string
	CustomerID      uuid.UUID
	SalesOrderID    pgtype.UUID
	DeliveryOrderID pgtype.UUID
	InvoiceDate     time.Time
	DueDate         pgtype.Date
	Subtotal        decimal.Decimal
	DiscountAmount  decimal.Decimal
	TaxRate         decimal.Decimal
	TaxAmount       decimal.Decimal
	TotalAmount     decimal.Decimal
	Notes           pgtype.Text
	CreatedBy       uuid.UUID
}

func (q *Queries) CreateInvoice(ctx context.Context, arg CreateInvoiceParams) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, createInvoice,
		arg.InvoiceNumber, arg.CustomerID, arg.SalesOrderID, arg.DeliveryOrderID, arg.InvoiceDate, arg.DueDate,
		arg.Subtotal, arg.DiscountAmount, arg.TaxRate, arg.TaxAmount, arg.TotalAmount, arg.Notes, arg.CreatedBy))
}

const createInvoiceItem = `-- name: CreateInvoiceItem :one
INSERT INTO invoice_items (invoice_id, product_id, sales_item_id, description, quantity, unit_price, line_total)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING *
`

type CreateInvoiceItemParams struct {
	InvoiceID   uuid.UUID
	ProductID   pgtype.UUID
	SalesItemID pgtype.UUID
	Description string
	Quantity    int32
	UnitPrice   decimal.Decimal
	LineTotal   decimal.Decimal
}

func (q *Queries) CreateInvoiceItem(ctx context.Context, arg CreateInvoiceItemParams) (InvoiceItem, error) {
	return collectOne[InvoiceItem](q.db.Query(ctx, createInvoiceItem,
		arg.InvoiceID, arg.ProductID, arg.SalesItemID, arg.Description, arg.Quantity, arg.UnitPrice, arg.LineTotal))
}

const getInvoice = `-- name: GetInvoice :one
SELECT * FROM invoices WHERE id = $1
`

func (q *Queries) GetInvoice(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, getInvoice, id))
}

const getInvoiceForUpdate = `-- name: GetInvoiceForUpdate :one
SELECT * FROM invoices WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, getInvoiceForUpdate, id))
}

const getActiveInvoiceBySalesOrder = `-- name: GetActiveInvoiceBySalesOrder :one
SELECT * FROM invoices
WHERE sales_order_id = $1 AND delivery_order_id IS NULL AND status <> 'CANCELLED'
LIMIT 1
`

// GetActiveInvoiceBySalesOrder finds the live invoice billed directly from an
// order. Invoices billed per delivery order are not considered.
func (q *Queries) GetActiveInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, getActiveInvoiceBySalesOrder, salesOrderID))
}

const getActiveDeliveryInvoiceBySalesOrder = `-- name: GetActiveDeliveryInvoiceBySalesOrder :one
SELECT * FROM invoices
WHERE sales_order_id = $1 AND delivery_order_id IS NOT NULL AND status <> 'CANCELLED'
LIMIT 1
`

// GetActiveDeliveryInvoiceBySalesOrder finds any live invoice billed through
// one of the order's delivery orders.
func (q *Queries) GetActiveDeliveryInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, getActiveDeliveryInvoiceBySalesOrder, salesOrderID))
}

const getActiveInvoiceByDeliveryOrder = `-- name: GetActiveInvoiceByDeliveryOrder :one
SELECT * FROM invoices
WHERE delivery_order_id = $1 AND status <> 'CANCELLED'
LIMIT 1
`

func (q *Queries) GetActiveInvoiceByDeliveryOrder(ctx context.Context, deliveryOrderID uuid.UUID) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, getActiveInvoiceByDeliveryOrder, deliveryOrderID))
}

const listInvoices = `-- name: ListInvoices :many
SELECT * FROM invoices
WHERE ($1::text IS NULL OR status = $1)
  AND ($2::text IS NULL OR payment_status = $2)
  AND ($3::uuid IS NULL OR customer_id = $3)
  AND ($4::int2 IS NULL OR account_migration = $4)
  AND ($5::text IS NULL OR invoice_number ILIKE '%' || $5 || '%')
ORDER BY created_at DESC
LIMIT $6 OFFSET $7
`

type ListInvoicesParams struct {
	Status           pgtype.Text
	PaymentStatus    pgtype.Text
	CustomerID       pgtype.UUID
	AccountMigration pgtype.Int2
	Search           pgtype.Text
	Limit            int32
	Offset           int32
}

func (q *Queries) ListInvoices(ctx context.Context, arg ListInvoicesParams) ([]Invoice, error) {
	return collectMany[Invoice](q.db.Query(ctx, listInvoices,
		arg.Status, arg.PaymentStatus, arg.CustomerID, arg.AccountMigration, arg.Search, arg.Limit, arg.Offset))
}

const listInvoiceItems = `-- name: ListInvoiceItems :many
SELECT * FROM invoice_items WHERE invoice_id = $1 ORDER BY id
`

func (q *Queries) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]InvoiceItem, error) {
	return collectMany[InvoiceItem](q.db.Query(ctx, listInvoiceItems, invoiceID))
}

const updateInvoiceStatus = `-- name: UpdateInvoiceStatus :one
UPDATE invoices SET status = $2, updated_at = now()
WHERE id = $1
RETURNING *
`

type UpdateInvoiceStatusParams struct {
	ID     uuid.UUID
	Status string
}

func (q *Queries) UpdateInvoiceStatus(ctx context.Context, arg UpdateInvoiceStatusParams) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, updateInvoiceStatus, arg.ID, arg.Status))
}

const applyInvoicePayment = `-- name: ApplyInvoicePayment :one
UPDATE invoices SET paid_amount = $2, payment_status = $3, updated_at = now()
WHERE id = $1
RETURNING *
`

type ApplyInvoicePaymentParams struct {
	ID            uuid.UUID
	PaidAmount    decimal.Decimal
	PaymentStatus string
}

func (q *Queries) ApplyInvoicePayment(ctx context.Context, arg ApplyInvoicePaymentParams) (Invoice, error) {
	return collectOne[Invoice](q.db.Query(ctx, applyInvoicePayment, arg.ID, arg.PaidAmount, arg.PaymentStatus))
}

const recordInvoiceMigrationFailure = `-- name: RecordInvoiceMigrationFailure :exec
UPDATE invoices SET migration_error = $2, migration_attempted_at = now(), updated_at = now()
WHERE id = $1 AND account_migration = 0
`

type RecordInvoiceMigrationFailureParams struct {
	ID             uuid.UUID
	MigrationError string
}

func (q *Queries) RecordInvoiceMigrationFailure(ctx context.Context, arg RecordInvoiceMigrationFailureParams) error {
	_, err := q.db.Exec(ctx, recordInvoiceMigrationFailure, arg.ID, arg.MigrationError)
	return err
}

const markInvoiceMigrated = `-- name: MarkInvoiceMigrated :execrows
UPDATE invoices
SET account_migration = 1, migration_error = NULL, migration_attempted_at = now(), migrated_at = now(), updated_at = now()
WHERE id = $1 AND account_migration = 0
`

// MarkInvoiceMigrated flips account_migration 0 -> 1 and reports how many rows
// changed. Zero means another caller already migrated the invoice.
func (q *Queries) MarkInvoiceMigrated(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, markInvoiceMigrated, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listUnmigratedPostedInvoices = `-- name: ListUnmigratedPostedInvoices :many
SELECT * FROM invoices
WHERE status = 'POSTED' AND account_migration = 0
ORDER BY invoice_date, invoice_number
`

func (q *Queries) ListUnmigratedPostedInvoices(ctx context.Context) ([]Invoice, error) {
	return collectMany[Invoice](q.db.Query(ctx, listUnmigratedPostedInvoices))
}
