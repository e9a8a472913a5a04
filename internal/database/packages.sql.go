package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

const getPackage = `-- name: GetPackage :one
SELECT * FROM packages WHERE id = $1
`

func (q *Queries) GetPackage(ctx context.Context, id uuid.UUID) (Package, error) {
	return collectOne[Package](q.db.Query(ctx, getPackage, id))
}

const listPackages = `-- name: ListPackages :many
SELECT * FROM packages
WHERE ($1::bool IS NULL OR is_active = $1)
  AND ($2::text IS NULL OR name ILIKE '%' || $2 || '%')
ORDER BY name
LIMIT $3 OFFSET $4
`

type ListPackagesParams struct {
	IsActive pgtype.Bool
	Search   pgtype.Text
	Limit    int32
	Offset   int32
}

func (q *Queries) ListPackages(ctx context.Context, arg ListPackagesParams) ([]Package, error) {
	return collectMany[Package](q.db.Query(ctx, listPackages, arg.IsActive, arg.Search, arg.Limit, arg.Offset))
}

const createPackage = `-- name: CreatePackage :one
INSERT INTO packages (name, description, total_amount, discount, tax_rate, is_active)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING *
`

type CreatePackageParams struct {
	Name        string
	Description pgtype.Text
	TotalAmount decimal.Decimal
	Discount    decimal.Decimal
	TaxRate     decimal.Decimal
	IsActive    bool
}

func (q *Queries) CreatePackage(ctx context.Context, arg CreatePackageParams) (Package, error) {
	return collectOne[Package](q.db.Query(ctx, createPackage,
		arg.Name, arg.Description, arg.TotalAmount, arg.Discount, arg.TaxRate, arg.IsActive))
}

const updatePackage = `-- name: UpdatePackage :one
UPDATE packages
SET name = $2, description = $3, total_amount = $4, discount = $5, tax_rate = $6, is_active = $7, updated_at = now()
WHERE id = $1
RETURNING *
`

type UpdatePackageParams struct {
	ID          uuid.UUID
	Name        string
	Description pgtype.Text
	TotalAmount decimal.Decimal
	Discount    decimal.Decimal
	TaxRate     decimal.Decimal
	IsActive    bool
}

func (q *Queries) UpdatePackage(ctx context.Context, arg UpdatePackageParams) (Package, error) {
	return collectOne[Package](q.db.Query(ctx, updatePackage,
		arg.ID, arg.Name, arg.Description, arg.TotalAmount, arg.Discount, arg.TaxRate, arg.IsActive))
}

const deletePackage = `-- name: DeletePackage :execrows
DELETE FROM packages WHERE id = $1
`

func (q *Queries) DeletePackage(ctx context.Context, id uuid.UUID) (int64, error) {
	result, err := q.db.Exec(ctx, deletePackage, id)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected(), nil
}

const listPackageItems = `-- name: ListPackageItems :many
SELECT * FROM package_items WHERE package_id = $1 ORDER BY position
`

func (q *Queries) ListPackageItems(ctx context.Context, packageID uuid.UUID) ([]PackageItem, error) {
	return collectMany[PackageItem](q.db.Query(ctx, listPackageItems, packageID))
}

const createPackageItem = `-- name: CreatePackageItem :one
INSERT INTO package_items (package_id, position, item_type, product_id, sales_item_id, quantity, uom, unit_price)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
RETURNING *
`

type CreatePackageItemParams struct {
	PackageID   uuid.UUID
	Position    int32
	ItemType    string
	ProductID   pgtype.UUID
	SalesItemID pgtype.UUID
	Quantity    int32
	Uom         string
	UnitPrice   decimal.Decimal
}

func (q *Queries) CreatePackageItem(ctx context.Context, arg CreatePackageItemParams) (PackageItem, error) {
	return collectOne[PackageItem](q.db.Query(ctx, createPackageItem,
		arg.PackageID, arg.Position, arg.ItemType, arg.ProductID, arg.SalesItemID, arg.Quantity, arg.Uom, arg.UnitPrice))
}

const deletePackageItems = `-- name: DeletePackageItems :exec
DELETE FROM package_items WHERE package_id = $1
`

func (q *Queries) DeletePackageItems(ctx context.Context, packageID uuid.UUID) error {
	_, err := q.db.Exec(ctx, deletePackageItems, packageID)
	return err
}
