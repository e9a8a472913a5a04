package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/events"
)

const maxNumberRetries = 3

const (
	entitySalesOrder    = "sales order"
	entityDeliveryOrder = "delivery order"
	entityInvoice       = "invoice"
	entityPayment       = "payment"
	entityCustomer      = "customer"

	serviceLedger  = "ledger service"
	serviceGateway = "payment gateway"
)

// TxBeginner starts a new database transaction.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// EventPublisher is satisfied by *events.Bus.
type EventPublisher interface {
	Publish(ctx context.Context, e events.Event)
}

// EventSubscriber is satisfied by *events.Bus.
type EventSubscriber interface {
	Subscribe(kind events.Kind, name string, h events.Handler)
}

// inTx runs fn inside a transaction and commits when it returns nil.
func inTx[T any](ctx context.Context, pool TxBeginner, fn func(tx pgx.Tx) (T, error)) (T, error) {
	var zero T
	tx, err := pool.Begin(ctx)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	result, err := fn(tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(ctx); err != nil {
		return zero, fmt.Errorf("commit tx: %w", err)
	}
	return result, nil
}

// withNumberRetry retries fn when a concurrent transaction took the same
// generated document number (pgconn error code 23505 on constraint).
func withNumberRetry[T any](constraint string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < maxNumberRetries; attempt++ {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		if isUniqueViolation(err, constraint) {
			lastErr = err
			continue
		}
		return zero, err
	}
	return zero, lastErr
}

func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
	}
	return false
}

// notFound converts pgx.ErrNoRows into a NotFound error for entity and wraps
// anything else with what was being loaded.
func notFound(err error, entity string) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return apperr.NotFound(entity)
	}
	return fmt.Errorf("get %s: %w", entity, err)
}
