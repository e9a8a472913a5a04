package database

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getPaymentMode = `-- name: GetPaymentMode :one
SELECT * FROM payment_modes WHERE id = $1
`

func (q *Queries) GetPaymentMode(ctx context.Context, id uuid.UUID) (PaymentMode, error) {
	return collectOne[PaymentMode](q.db.Query(ctx, getPaymentMode, id))
}

const listPaymentModes = `-- name: ListPaymentModes :many
SELECT * FROM payment_modes WHERE is_active = true ORDER BY name
`

func (q *Queries) ListPaymentModes(ctx context.Context) ([]PaymentMode, error) {
	return collectMany[PaymentMode](q.db.Query(ctx, listPaymentModes))
}

const upsertPaymentMode = `-- name: UpsertPaymentMode :one
INSERT INTO payment_modes (code, name, is_payment_gateway, requires_reference)
VALUES ($1, $2, $3, $4)
ON CONFLICT (code) DO UPDATE
SET name = EXCLUDED.name, is_payment_gateway = EXCLUDED.is_payment_gateway,
    requires_reference = EXCLUDED.requires_reference
RETURNING *
`

type UpsertPaymentModeParams struct {
	Code              string
	Name              string
	IsPaymentGateway  bool
	RequiresReference bool
}

func (q *Queries) UpsertPaymentMode(ctx context.Context, arg UpsertPaymentModeParams) (PaymentMode, error) {
	return collectOne[PaymentMode](q.db.Query(ctx, upsertPaymentMode,
		arg.Code, arg.Name, arg.IsPaymentGateway, arg.RequiresReference))
}

const createPayment = `-- name: CreatePayment :one
INSERT INTO payments (
    invoice_id, payment_mode_id, amount, payment_date, payment_status,
    reference_number, cheque_number, bank_name, payment_reference, gateway_transaction_id,
    checkout_url, settled_at, created_by
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
RETURNING *
`

type CreatePaymentParams struct {
	InvoiceID        uuid.UUID
	PaymentModeID    uuid.UUID
	Amount           decimal.Decimal
	PaymentDate      time.Time
	PaymentStatus    string
	ReferenceNumber  pgtype.Text
	ChequeNumber     pgtype.Text
	BankName         pgtype.Text
	PaymentReference pgtype.Text
	// GatewayTransactionID holds the checkout session id until settlement
	// replaces it with the gateway's payment id.
	GatewayTransactionID pgtype.Text
	CheckoutUrl          pgtype.Text
	SettledAt            pgtype.Timestamptz
	CreatedBy            uuid.UUID
}

func (q *Queries) CreatePayment(ctx context.Context, arg CreatePaymentParams) (Payment, error) {
	return collectOne[Payment](q.db.Query(ctx, createPayment,
		arg.InvoiceID, arg.PaymentModeID, arg.Amount, arg.PaymentDate, arg.PaymentStatus,
		arg.ReferenceNumber, arg.ChequeNumber, arg.BankName, arg.PaymentReference, arg.GatewayTransactionID,
		arg.CheckoutUrl, arg.SettledAt, arg.CreatedBy))
}

const getPayment = `-- name: GetPayment :one
SELECT * FROM payments WHERE id = $1
`

func (q *Queries) GetPayment(ctx context.Context, id uuid.UUID) (Payment, error) {
	return collectOne[Payment](q.db.Query(ctx, getPayment, id))
}

const getPaymentForUpdate = `-- name: GetPaymentForUpdate :one
SELECT * FROM payments WHERE id = $1 FOR UPDATE
`

func (q *Queries) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (Payment, error) {
	return collectOne[Payment](q.db.Query(ctx, getPaymentForUpdate, id))
}

const getPaymentByReference = `-- name: GetPaymentByReference :one
SELECT * FROM payments WHERE payment_reference = $1
`

func (q *Queries) GetPaymentByReference(ctx context.Context, reference string) (Payment, error) {
	return collectOne[Payment](q.db.Query(ctx, getPaymentByReference, reference))
}

const listPaymentsByInvoice = `-- name: ListPaymentsByInvoice :many
SELECT * FROM payments WHERE invoice_id = $1 ORDER BY created_at
`

func (q *Queries) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]Payment, error) {
	return collectMany[Payment](q.db.Query(ctx, listPaymentsByInvoice, invoiceID))
}

const listPendingGatewayPayments = `-- name: ListPendingGatewayPayments :many
SELECT * FROM payments
WHERE payment_status = 'PENDING' AND payment_reference IS NOT NULL
ORDER BY created_at
`

func (q *Queries) ListPendingGatewayPayments(ctx context.Context) ([]Payment, error) {
	return collectMany[Payment](q.db.Query(ctx, listPendingGatewayPayments))
}

const settlePayment = `-- name: SettlePayment :one
UPDATE payments
SET payment_status = $2, gateway_transaction_id = COALESCE($3, gateway_transaction_id), settled_at = now()
WHERE id = $1 AND payment_status = 'PENDING'
RETURNING *
`

type SettlePaymentParams struct {
	ID                   uuid.UUID
	PaymentStatus        string
	GatewayTransactionID pgtype.Text
}

// SettlePayment moves a PENDING payment to its terminal status. It returns
// pgx.ErrNoRows when the payment was already settled.
func (q *Queries) SettlePayment(ctx context.Context, arg SettlePaymentParams) (Payment, error) {
	return collectOne[Payment](q.db.Query(ctx, settlePayment, arg.ID, arg.PaymentStatus, arg.GatewayTransactionID))
}
