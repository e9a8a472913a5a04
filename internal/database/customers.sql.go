package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
)

const getCustomer = `-- name: GetCustomer :one
SELECT * FROM customers WHERE id = $1
`

func (q *Queries) GetCustomer(ctx context.Context, id uuid.UUID) (Customer, error) {
	return collectOne[Customer](q.db.Query(ctx, getCustomer, id))
}

const listCustomers = `-- name: ListCustomers :many
SELECT * FROM customers
WHERE ($1::text IS NULL OR name ILIKE '%' || $1 || '%' OR phone ILIKE '%' || $1 || '%' OR email ILIKE '%' || $1 || '%')
ORDER BY name
LIMIT $2 OFFSET $3
`

type ListCustomersParams struct {
	Search pgtype.Text
	Limit  int32
	Offset int32
}

func (q *Queries) ListCustomers(ctx context.Context, arg ListCustomersParams) ([]Customer, error) {
	return collectMany[Customer](q.db.Query(ctx, listCustomers, arg.Search, arg.Limit, arg.Offset))
}

const createCustomer = `-- name: CreateCustomer :one
INSERT INTO customers (name, email, phone, address, notes)
VALUES ($1, $2, $3, $4, $5)
RETURNING *
`

type CreateCustomerParams struct {
	Name    string
	Email   pgtype.Text
	Phone   pgtype.Text
	Address pgtype.Text
	Notes   pgtype.Text
}

func (q *Queries) CreateCustomer(ctx context.Context, arg CreateCustomerParams) (Customer, error) {
	return collectOne[Customer](q.db.Query(ctx, createCustomer, arg.Name, arg.Email, arg.Phone, arg.Address, arg.Notes))
}

const updateCustomer = `-- name: UpdateCustomer :one
UPDATE customers SET name = $2, email = $3, phone = $4, address = $5, notes = $6, updated_at = now()
WHERE id = $1
RETURNING *
`

type UpdateCustomerParams struct {
	ID      uuid.UUID
	Name    string
	Email   pgtype.Text
	Phone   pgtype.Text
	Address pgtype.Text
	Notes   pgtype.Text
}

func (q *Queries) UpdateCustomer(ctx context.Context, arg UpdateCustomerParams) (Customer, error) {
	return collectOne[Customer](q.db.Query(ctx, updateCustomer,
		arg.ID, arg.Name, arg.Email, arg.Phone, arg.Address, arg.Notes))
}
