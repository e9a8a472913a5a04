package service

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/enum"
	"github.com/templedesk/api/internal/events"
)

func TestCreateSalesOrder_Success(t *testing.T) {
	env := newTestEnv(t)
	product := env.store.addProduct("Brass Bell", "120.00")
	seva := env.store.addSalesItem("Abhishekam", "51.00")

	detail, err := env.sales.Create(context.Background(), SalesOrderRequest{
		CustomerID: env.customer,
		CreatedBy:  env.staff,
		Notes:      "Navaratri",
		Items: []LineInput{
			{ProductID: &product, Quantity: 2},
			{SalesItemID: &seva, Quantity: 1, UnitPrice: decPtr("45.00")},
		},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if detail.Order.OrderNumber != "SO-0001" {
		t.Errorf("expected SO-0001, got %s", detail.Order.OrderNumber)
	}
	if detail.Order.Status != enum.SalesOrderStatusDraft {
		t.Errorf("expected DRAFT, got %s", detail.Order.Status)
	}
	if !detail.Order.TotalAmount.Equal(dec("285.00")) {
		t.Errorf("expected total 285.00, got %s", detail.Order.TotalAmount)
	}
	if len(detail.Items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(detail.Items))
	}
	if detail.Items[1].Description != "Abhishekam" {
		t.Errorf("expected catalog description, got %q", detail.Items[1].Description)
	}
}

func TestCreateSalesOrder_UnknownCustomer(t *testing.T) {
	env := newTestEnv(t)
	product := env.store.addProduct("Brass Bell", "120.00")

	_, err := env.sales.Create(context.Background(), SalesOrderRequest{
		CustomerID: uuid.New(),
		Items:      []LineInput{{ProductID: &product, Quantity: 1}},
	})
	assertKind(t, err, apperr.KindValidation)
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestCreateSalesOrder_SequentialNumbers(t *testing.T) {
	env := newTestEnv(t)
	first := env.approvedOrder(t, 1)
	second := env.approvedOrder(t, 1)
	if first.Order.OrderNumber != "SO-0001" || second.Order.OrderNumber != "SO-0002" {
		t.Errorf("expected SO-0001 and SO-0002, got %s and %s", first.Order.OrderNumber, second.Order.OrderNumber)
	}
}

func TestUpdateSalesOrder_ReplacesLines(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.store.addProduct("Incense", "5.00")

	detail, err := env.sales.Create(ctx, SalesOrderRequest{
		CustomerID: env.customer,
		Items:      []LineInput{{ProductID: &product, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	updated, err := env.sales.Update(ctx, detail.Order.ID, SalesOrderRequest{
		CustomerID: env.customer,
		Items:      []LineInput{{ProductID: &product, Quantity: 3}},
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if !updated.Order.TotalAmount.Equal(dec("15.00")) {
		t.Errorf("expected total 15.00, got %s", updated.Order.TotalAmount)
	}

	got, err := env.sales.Get(ctx, detail.Order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Items) != 1 || got.Items[0].Quantity != 3 {
		t.Errorf("expected one line of 3, got %+v", got.Items)
	}
}

func TestSalesOrder_EditAndDeleteOnlyInDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	detail := env.approvedOrder(t, 1)
	product := env.store.addProduct("Flowers", "2.00")

	_, err := env.sales.Update(ctx, detail.Order.ID, SalesOrderRequest{
		CustomerID: env.customer,
		Items:      []LineInput{{ProductID: &product, Quantity: 1}},
	})
	assertKind(t, err, apperr.KindInvalidState)
	if !errors.Is(err, ErrTransitionNotAllowed) {
		t.Errorf("expected ErrTransitionNotAllowed, got %v", err)
	}

	err = env.sales.Delete(ctx, detail.Order.ID)
	assertKind(t, err, apperr.KindInvalidState)

	e, _ := apperr.As(err)
	if e.Message() == "" || e.Entity != entitySalesOrder || e.Action != "delete" {
		t.Errorf("expected sales order delete error, got %+v", e)
	}
}

func TestSalesOrder_DeleteDraft(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.store.addProduct("Flowers", "2.00")
	detail, err := env.sales.Create(ctx, SalesOrderRequest{
		CustomerID: env.customer,
		Items:      []LineInput{{ProductID: &product, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := env.sales.Delete(ctx, detail.Order.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	_, err = env.sales.Get(ctx, detail.Order.ID)
	assertKind(t, err, apperr.KindNotFound)
}

func TestSalesOrder_ApprovalFlow(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	product := env.store.addProduct("Flowers", "2.00")
	newDraft := func() uuid.UUID {
		d, err := env.sales.Create(ctx, SalesOrderRequest{
			CustomerID: env.customer,
			Items:      []LineInput{{ProductID: &product, Quantity: 1}},
		})
		if err != nil {
			t.Fatalf("create: %v", err)
		}
		return d.Order.ID
	}

	t.Run("approve directly from draft", func(t *testing.T) {
		order, err := env.sales.Approve(ctx, newDraft(), env.staff)
		if err != nil {
			t.Fatalf("approve: %v", err)
		}
		if order.Status != enum.SalesOrderStatusApproved {
			t.Errorf("expected APPROVED, got %s", order.Status)
		}
	})

	t.Run("reject requires a reason", func(t *testing.T) {
		_, err := env.sales.Reject(ctx, newDraft(), env.staff, "  ")
		assertKind(t, err, apperr.KindValidation)
		if !errors.Is(err, ErrRejectionReason) {
			t.Errorf("expected ErrRejectionReason, got %v", err)
		}
	})

	t.Run("reject pending order", func(t *testing.T) {
		id := newDraft()
		if _, err := env.sales.Submit(ctx, id); err != nil {
			t.Fatalf("submit: %v", err)
		}
		order, err := env.sales.Reject(ctx, id, env.staff, "duplicate booking")
		if err != nil {
			t.Fatalf("reject: %v", err)
		}
		if order.Status != enum.SalesOrderStatusRejected || order.RejectionReason.String != "duplicate booking" {
			t.Errorf("unexpected rejected order: %+v", order)
		}
	})

	t.Run("submit twice is invalid", func(t *testing.T) {
		id := newDraft()
		if _, err := env.sales.Submit(ctx, id); err != nil {
			t.Fatalf("submit: %v", err)
		}
		_, err := env.sales.Submit(ctx, id)
		assertKind(t, err, apperr.KindInvalidState)
	})

	t.Run("rejected order cannot be approved", func(t *testing.T) {
		id := newDraft()
		if _, err := env.sales.Reject(ctx, id, env.staff, "no stock"); err != nil {
			t.Fatalf("reject: %v", err)
		}
		_, err := env.sales.Approve(ctx, id, env.staff)
		assertKind(t, err, apperr.KindInvalidState)
	})

	t.Run("unknown order", func(t *testing.T) {
		_, err := env.sales.Submit(ctx, uuid.New())
		assertKind(t, err, apperr.KindNotFound)
	})
}

func TestListSalesOrders_FiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.approvedOrder(t, 1)
	product := env.store.addProduct("Flowers", "2.00")
	if _, err := env.sales.Create(ctx, SalesOrderRequest{
		CustomerID: env.customer,
		Items:      []LineInput{{ProductID: &product, Quantity: 1}},
	}); err != nil {
		t.Fatalf("create: %v", err)
	}

	orders, err := env.sales.List(ctx, SalesOrderFilter{Status: enum.SalesOrderStatusApproved})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orders) != 1 || orders[0].Status != enum.SalesOrderStatusApproved {
		t.Errorf("expected only the approved order, got %+v", orders)
	}
}

func TestReleaseReservations_IsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 10)
	line := order.Items[0].ID

	do, err := env.delivery.Create(ctx, DeliveryOrderRequest{
		SalesOrderID: &order.Order.ID,
		WarehouseID:  uuid.New(),
		Items:        []DeliveryLineInput{{SalesOrderItemID: &line, LineInput: LineInput{Quantity: 4}}},
	})
	if err != nil {
		t.Fatalf("create delivery order: %v", err)
	}
	if got := env.store.orderItem(line).ReservedQuantity; got != 4 {
		t.Fatalf("expected 4 reserved, got %d", got)
	}

	e := events.Event{Kind: events.DeliveryOrderCancelled, DeliveryOrderID: do.Order.ID, SalesOrderID: order.Order.ID}
	for i := 0; i < 2; i++ {
		if err := env.sales.ReleaseReservations(ctx, e); err != nil {
			t.Fatalf("release #%d: %v", i+1, err)
		}
		if got := env.store.orderItem(line).ReservedQuantity; got != 0 {
			t.Errorf("release #%d: expected 0 reserved, got %d", i+1, got)
		}
	}
}

func TestReleaseReservations_CancelsOrderOnRequest(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 2)

	e := events.Event{
		Kind:             events.DeliveryOrderCancelled,
		DeliveryOrderID:  uuid.New(),
		SalesOrderID:     order.Order.ID,
		CancelSalesOrder: true,
	}
	if err := env.sales.ReleaseReservations(ctx, e); err != nil {
		t.Fatalf("release: %v", err)
	}
	got, err := env.sales.Get(ctx, order.Order.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Order.Status != enum.SalesOrderStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", got.Order.Status)
	}

	// A redelivered event finds the order already cancelled.
	if err := env.sales.ReleaseReservations(ctx, e); err != nil {
		t.Errorf("second release: %v", err)
	}
}

func TestReleaseReservations_AdjustFailureIsReturned(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 5)
	line := order.Items[0].ID

	do, err := env.delivery.Create(ctx, DeliveryOrderRequest{
		SalesOrderID: &order.Order.ID,
		WarehouseID:  uuid.New(),
		Items:        []DeliveryLineInput{{SalesOrderItemID: &line, LineInput: LineInput{Quantity: 1}}},
	})
	if err != nil {
		t.Fatalf("create delivery order: %v", err)
	}

	env.store.adjustErr = errors.New("deadlock detected")
	err = env.sales.ReleaseReservations(ctx, events.Event{DeliveryOrderID: do.Order.ID})
	if err == nil {
		t.Fatal("expected error")
	}
}
