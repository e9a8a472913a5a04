package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/database"
)

// Errors returned while resolving document lines.
var (
	ErrEmptyItems         = errors.New("at least one item is required")
	ErrItemReference      = errors.New("exactly one of product_id or sales_item_id is required")
	ErrInvalidQuantity    = errors.New("quantity must be > 0")
	ErrNegativeUnitPrice  = errors.New("unit_price must be >= 0")
	ErrProductNotFound    = errors.New("product not found")
	ErrSalesItemNotFound  = errors.New("sales item not found")
	ErrCatalogItemRetired = errors.New("catalog item is inactive")
	ErrCustomerNotFound   = errors.New("customer not found")
)

// LineInput is one ordered line. UnitPrice and Description default to the
// catalog entry when empty.
type LineInput struct {
	ProductID   *uuid.UUID
	SalesItemID *uuid.UUID
	Description string
	Quantity    int32
	UnitPrice   *decimal.Decimal
}

// CatalogReader resolves line references.
// Satisfied by *database.Queries.
type CatalogReader interface {
	GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error)
	GetSalesItem(ctx context.Context, id uuid.UUID) (database.SalesItem, error)
}

type resolvedLine struct {
	productID   pgtype.UUID
	salesItemID pgtype.UUID
	description string
	quantity    int32
	unitPrice   decimal.Decimal
	lineTotal   decimal.Decimal
}

func resolveLines(ctx context.Context, catalog CatalogReader, items []LineInput) ([]resolvedLine, decimal.Decimal, error) {
	if len(items) == 0 {
		return nil, decimal.Zero, apperr.Validation("items", ErrEmptyItems)
	}
	total := decimal.Zero
	lines := make([]resolvedLine, 0, len(items))
	for i, item := range items {
		line, err := resolveLine(ctx, catalog, i, item)
		if err != nil {
			return nil, decimal.Zero, err
		}
		total = total.Add(line.lineTotal)
		lines = append(lines, line)
	}
	return lines, total, nil
}

func resolveLine(ctx context.Context, catalog CatalogReader, i int, item LineInput) (resolvedLine, error) {
	field := fmt.Sprintf("items[%d]", i)
	if (item.ProductID == nil) == (item.SalesItemID == nil) {
		return resolvedLine{}, apperr.Validation(field, ErrItemReference)
	}
	if item.Quantity <= 0 {
		return resolvedLine{}, apperr.Validation(field+".quantity", ErrInvalidQuantity)
	}

	var (
		name      string
		listPrice decimal.Decimal
		active    bool
	)
	if item.ProductID != nil {
		p, err := catalog.GetProduct(ctx, *item.ProductID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return resolvedLine{}, apperr.Validation(field+".product_id", ErrProductNotFound)
			}
			return resolvedLine{}, fmt.Errorf("%s: get product: %w", field, err)
		}
		name, listPrice, active = p.Name, p.UnitPrice, p.IsActive
	} else {
		si, err := catalog.GetSalesItem(ctx, *item.SalesItemID)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return resolvedLine{}, apperr.Validation(field+".sales_item_id", ErrSalesItemNotFound)
			}
			return resolvedLine{}, fmt.Errorf("%s: get sales item: %w", field, err)
		}
		name, listPrice, active = si.Name, si.UnitPrice, si.IsActive
	}
	if !active {
		return resolvedLine{}, apperr.Validation(field, ErrCatalogItemRetired)
	}

	unitPrice := listPrice
	if item.UnitPrice != nil {
		unitPrice = *item.UnitPrice
	}
	if unitPrice.IsNegative() {
		return resolvedLine{}, apperr.Validation(field+".unit_price", ErrNegativeUnitPrice)
	}
	unitPrice = unitPrice.Round(2)

	description := item.Description
	if description == "" {
		description = name
	}

	return resolvedLine{
		productID:   database.NullUUID(item.ProductID),
		salesItemID: database.NullUUID(item.SalesItemID),
		description: description,
		quantity:    item.Quantity,
		unitPrice:   unitPrice,
		lineTotal:   lineTotal(unitPrice, item.Quantity),
	}, nil
}

func lineTotal(unitPrice decimal.Decimal, qty int32) decimal.Decimal {
	return unitPrice.Mul(decimal.NewFromInt32(qty)).Round(2)
}

// CustomerReader is satisfied by *database.Queries.
type CustomerReader interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (database.Customer, error)
}

func requireCustomer(ctx context.Context, store CustomerReader, id uuid.UUID) error {
	if id == uuid.Nil {
		return apperr.Validation("customer_id", ErrCustomerNotFound)
	}
	if _, err := store.GetCustomer(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return apperr.Validation("customer_id", ErrCustomerNotFound)
		}
		return fmt.Errorf("get customer: %w", err)
	}
	return nil
}
