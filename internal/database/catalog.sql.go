package database

import (
	"context"

	"github.com/google/uuid"
)

const getProduct = `-- name: GetProduct :one
SELECT * FROM products WHERE id = $1
`

func (q *Queries) GetProduct(ctx context.Context, id uuid.UUID) (Product, error) {
	return collectOne[Product](q.db.Query(ctx, getProduct, id))
}

const listActiveProducts = `-- name: ListActiveProducts :many
SELECT * FROM products WHERE is_active = true ORDER BY name
`

func (q *Queries) ListActiveProducts(ctx context.Context) ([]Product, error) {
	return collectMany[Product](q.db.Query(ctx, listActiveProducts))
}

const getSalesItem = `-- name: GetSalesItem :one
SELECT * FROM sales_items WHERE id = $1
`

func (q *Queries) GetSalesItem(ctx context.Context, id uuid.UUID) (SalesItem, error) {
	return collectOne[SalesItem](q.db.Query(ctx, getSalesItem, id))
}

const listActiveSalesItems = `-- name: ListActiveSalesItems :many
SELECT * FROM sales_items WHERE is_active = true ORDER BY name
`

func (q *Queries) ListActiveSalesItems(ctx context.Context) ([]SalesItem, error) {
	return collectMany[SalesItem](q.db.Query(ctx, listActiveSalesItems))
}
