package service

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/enum"
)

func TestComputeTotals(t *testing.T) {
	tests := []struct {
		name                     string
		subtotal, discount, rate string
		wantTax, wantTotal       string
		wantErr                  error
	}{
		{"no tax", "100.00", "0", "0", "0", "100.00", nil},
		{"discount then tax", "200.00", "20.00", "6", "10.80", "190.80", nil},
		{"tax rounded to cents", "10.05", "0", "5", "0.50", "10.55", nil},
		{"full discount", "50.00", "50.00", "10", "0", "0", nil},
		{"discount above subtotal", "50.00", "50.01", "0", "", "", ErrInvalidDiscount},
		{"negative discount", "50.00", "-1", "0", "", "", ErrInvalidDiscount},
		{"rate above 100", "50.00", "0", "100.5", "", "", ErrInvalidTaxRate},
		{"negative rate", "50.00", "0", "-2", "", "", ErrInvalidTaxRate},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := computeTotals(dec(tt.subtotal), dec(tt.discount), dec(tt.rate))
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !got.tax.Equal(dec(tt.wantTax)) {
				t.Errorf("expected tax %s, got %s", tt.wantTax, got.tax)
			}
			if !got.total.Equal(dec(tt.wantTotal)) {
				t.Errorf("expected total %s, got %s", tt.wantTotal, got.total)
			}
		})
	}
}

func TestDraftFromOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 3)

	draft, err := env.invoices.DraftFromOrder(ctx, order.Order.ID)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.CustomerID != env.customer || draft.SalesOrderID == nil || *draft.SalesOrderID != order.Order.ID {
		t.Errorf("unexpected draft header: %+v", draft)
	}
	if len(draft.Lines) != 1 || draft.Lines[0].Quantity != 3 || !draft.Subtotal.Equal(dec("150.00")) {
		t.Errorf("unexpected draft lines: %+v subtotal %s", draft.Lines, draft.Subtotal)
	}
	if draft.ExistingInvoiceID != nil {
		t.Error("expected no existing invoice")
	}
	if len(env.store.invoices) != 0 {
		t.Error("draft must not store an invoice")
	}
}

func TestDraftFromOrder_NotApproved(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 1)
	if _, err := env.sales.Cancel(ctx, order.Order.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	_, err := env.invoices.DraftFromOrder(ctx, order.Order.ID)
	assertKind(t, err, apperr.KindInvalidState)

	_, err = env.invoices.DraftFromOrder(ctx, uuid.New())
	assertKind(t, err, apperr.KindNotFound)
}

func TestDraftFromDeliveryOrder_UsesAcceptedQuantity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checked := env.checkedDelivery(t)

	_, err := env.invoices.DraftFromDeliveryOrder(ctx, checked.Order.ID)
	assertKind(t, err, apperr.KindInvalidState)

	if _, err := env.delivery.Complete(ctx, checked.Order.ID, CompleteOptions{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	draft, err := env.invoices.DraftFromDeliveryOrder(ctx, checked.Order.ID)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if len(draft.Lines) != 1 || draft.Lines[0].Quantity != 7 {
		t.Fatalf("expected one line of 7 accepted units, got %+v", draft.Lines)
	}
	if !draft.Subtotal.Equal(dec("350.00")) {
		t.Errorf("expected subtotal 350.00, got %s", draft.Subtotal)
	}
	if draft.SalesOrderID == nil || draft.DeliveryOrderID == nil {
		t.Error("expected both source links")
	}
}

func TestCreateInvoice_FromOrderOnlyOnce(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 2)
	product := order.Items[0].ProductID.Bytes
	productID := uuid.UUID(product)

	req := InvoiceRequest{
		SalesOrderID:   &order.Order.ID,
		DiscountAmount: dec("10.00"),
		TaxRate:        dec("6"),
		Items:          []LineInput{{ProductID: &productID, Quantity: 2}},
	}
	detail, err := env.invoices.Create(ctx, req)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	inv := detail.Invoice
	if inv.InvoiceNumber != "INV-0001" || inv.Status != enum.InvoiceStatusDraft {
		t.Errorf("unexpected invoice header: %s %s", inv.InvoiceNumber, inv.Status)
	}
	if inv.CustomerID != env.customer {
		t.Error("expected customer taken from the sales order")
	}
	// (100 - 10) * 6% = 5.40
	if !inv.TaxAmount.Equal(dec("5.40")) || !inv.TotalAmount.Equal(dec("95.40")) {
		t.Errorf("expected tax 5.40 total 95.40, got %s %s", inv.TaxAmount, inv.TotalAmount)
	}
	if inv.PaymentStatus != enum.InvoicePaymentUnpaid {
		t.Errorf("expected UNPAID, got %s", inv.PaymentStatus)
	}

	_, err = env.invoices.Create(ctx, req)
	assertKind(t, err, apperr.KindConflict)
	if !errors.Is(err, ErrInvoiceExists) {
		t.Errorf("expected ErrInvoiceExists, got %v", err)
	}

	draft, err := env.invoices.DraftFromOrder(ctx, order.Order.ID)
	if err != nil {
		t.Fatalf("draft: %v", err)
	}
	if draft.ExistingInvoiceID == nil || *draft.ExistingInvoiceID != inv.ID {
		t.Error("expected draft to point at the existing invoice")
	}

	// A cancelled invoice frees the order for a new one.
	if _, err := env.invoices.Cancel(ctx, inv.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.invoices.Create(ctx, req); err != nil {
		t.Errorf("expected re-invoice after cancel, got %v", err)
	}
}

// completedDelivery ships qty units of order and completes the delivery
// with a bypassed quality check.
func (e *testEnv) completedDelivery(t *testing.T, order *SalesOrderDetail, qty int32) *DeliveryOrderDetail {
	t.Helper()
	ctx := context.Background()
	do := e.deliveryFromOrder(t, order, qty)
	if _, err := e.delivery.Submit(ctx, do.Order.ID); err != nil {
		t.Fatalf("submit delivery order: %v", err)
	}
	if _, err := e.delivery.Complete(ctx, do.Order.ID, CompleteOptions{BypassQualityCheck: true, BypassReason: "counted at the gate"}); err != nil {
		t.Fatalf("complete delivery order: %v", err)
	}
	return do
}

func TestCreateInvoice_DirectOrderBlocksDeliveryInvoice(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 10)
	productID := uuid.UUID(order.Items[0].ProductID.Bytes)
	do := env.completedDelivery(t, order, 7)

	direct, err := env.invoices.Create(ctx, InvoiceRequest{
		SalesOrderID: &order.Order.ID,
		Items:        []LineInput{{ProductID: &productID, Quantity: 10}},
	})
	if err != nil {
		t.Fatalf("create direct invoice: %v", err)
	}

	perDelivery := InvoiceRequest{
		DeliveryOrderID: &do.Order.ID,
		Items:           []LineInput{{ProductID: &productID, Quantity: 7}},
	}
	_, err = env.invoices.Create(ctx, perDelivery)
	assertKind(t, err, apperr.KindConflict)
	if !errors.Is(err, ErrOrderBilledDirectly) {
		t.Errorf("expected ErrOrderBilledDirectly, got %v", err)
	}
	if len(env.store.invoices) != 1 {
		t.Fatalf("expected one invoice for the order, got %d", len(env.store.invoices))
	}

	if _, err := env.invoices.Cancel(ctx, direct.Invoice.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if _, err := env.invoices.Create(ctx, perDelivery); err != nil {
		t.Errorf("expected delivery invoice once the direct one is cancelled, got %v", err)
	}
}

func TestCreateInvoice_DeliveryInvoiceBlocksDirectOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 10)
	productID := uuid.UUID(order.Items[0].ProductID.Bytes)
	first := env.completedDelivery(t, order, 6)
	second := env.completedDelivery(t, order, 4)

	// Partial deliveries of one order are each billable.
	for _, do := range []*DeliveryOrderDetail{first, second} {
		if _, err := env.invoices.Create(ctx, InvoiceRequest{
			DeliveryOrderID: &do.Order.ID,
			Items:           []LineInput{{ProductID: &productID, Quantity: do.Items[0].DeliveredQuantity}},
		}); err != nil {
			t.Fatalf("create invoice for %s: %v", do.Order.DoNumber, err)
		}
	}

	_, err := env.invoices.Create(ctx, InvoiceRequest{
		SalesOrderID: &order.Order.ID,
		Items:        []LineInput{{ProductID: &productID, Quantity: 10}},
	})
	assertKind(t, err, apperr.KindConflict)
	if !errors.Is(err, ErrOrderBilledPerDelivery) {
		t.Errorf("expected ErrOrderBilledPerDelivery, got %v", err)
	}
	if len(env.store.invoices) != 2 {
		t.Errorf("expected two invoices, got %d", len(env.store.invoices))
	}
}

func TestCreateInvoice_RaceMapsToConflict(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	order := env.approvedOrder(t, 1)
	item := env.store.addSalesItem("Seva", "5.00")
	req := InvoiceRequest{
		SalesOrderID: &order.Order.ID,
		Items:        []LineInput{{SalesItemID: &item, Quantity: 1}},
	}
	if _, err := env.invoices.Create(ctx, req); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A concurrent creator passes the lookup and trips the partial unique
	// index on insert instead.
	env.store.hideActiveInvoices = true
	_, err := env.invoices.Create(ctx, req)
	assertKind(t, err, apperr.KindConflict)
	if !errors.Is(err, ErrInvoiceExists) {
		t.Errorf("expected ErrInvoiceExists, got %v", err)
	}
}

func TestCreateInvoice_SourceChecks(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	item := env.store.addSalesItem("Seva", "5.00")
	lines := []LineInput{{SalesItemID: &item, Quantity: 1}}

	order := env.approvedOrder(t, 2)
	stranger := env.store.addCustomer("Someone Else")

	_, err := env.invoices.Create(ctx, InvoiceRequest{CustomerID: stranger, SalesOrderID: &order.Order.ID, Items: lines})
	assertKind(t, err, apperr.KindValidation)
	if !errors.Is(err, ErrCustomerMismatch) {
		t.Errorf("expected ErrCustomerMismatch, got %v", err)
	}

	do := env.deliveryFromOrder(t, order, 1)
	_, err = env.invoices.Create(ctx, InvoiceRequest{DeliveryOrderID: &do.Order.ID, Items: lines})
	assertKind(t, err, apperr.KindInvalidState)
	if !errors.Is(err, ErrDeliveryOrderNotComplete) {
		t.Errorf("expected ErrDeliveryOrderNotComplete, got %v", err)
	}

	missing := uuid.New()
	_, err = env.invoices.Create(ctx, InvoiceRequest{SalesOrderID: &missing, Items: lines})
	assertKind(t, err, apperr.KindValidation)

	_, err = env.invoices.Create(ctx, InvoiceRequest{Items: lines})
	assertKind(t, err, apperr.KindValidation)
	if !errors.Is(err, ErrCustomerNotFound) {
		t.Errorf("expected ErrCustomerNotFound, got %v", err)
	}
}

func TestCreateInvoice_FromDeliveryOrderMismatchedOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	checked := env.checkedDelivery(t)
	if _, err := env.delivery.Complete(ctx, checked.Order.ID, CompleteOptions{}); err != nil {
		t.Fatalf("complete: %v", err)
	}
	other := env.approvedOrder(t, 1)
	item := env.store.addSalesItem("Seva", "5.00")

	_, err := env.invoices.Create(ctx, InvoiceRequest{
		SalesOrderID:    &other.Order.ID,
		DeliveryOrderID: &checked.Order.ID,
		Items:           []LineInput{{SalesItemID: &item, Quantity: 1}},
	})
	assertKind(t, err, apperr.KindValidation)
	if !errors.Is(err, ErrSourceMismatch) {
		t.Errorf("expected ErrSourceMismatch, got %v", err)
	}

	detail, err := env.invoices.Create(ctx, InvoiceRequest{
		DeliveryOrderID: &checked.Order.ID,
		Items:           []LineInput{{SalesItemID: &item, Quantity: 1}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !detail.Invoice.SalesOrderID.Valid || !detail.Invoice.DeliveryOrderID.Valid {
		t.Error("expected invoice linked to both the delivery order and its sales order")
	}
}

func TestInvoiceLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.draftInvoice(t, "80.00")

	posted, err := env.invoices.Post(ctx, inv.ID)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if posted.Status != enum.InvoiceStatusPosted {
		t.Errorf("expected POSTED, got %s", posted.Status)
	}
	_, err = env.invoices.Post(ctx, inv.ID)
	assertKind(t, err, apperr.KindInvalidState)

	cancelled, err := env.invoices.Cancel(ctx, inv.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != enum.InvoiceStatusCancelled {
		t.Errorf("expected CANCELLED, got %s", cancelled.Status)
	}
	_, err = env.invoices.Cancel(ctx, inv.ID)
	assertKind(t, err, apperr.KindInvalidState)
}

func TestCancelInvoice_RefusedWithPayments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.postedInvoice(t, "100.00")
	cash := env.store.addMode(enum.PaymentModeCash, false, false)

	if _, err := env.invoices.RecordPayment(ctx, inv.ID, PaymentRequest{PaymentModeID: cash, Amount: dec("10.00")}); err != nil {
		t.Fatalf("record payment: %v", err)
	}
	_, err := env.invoices.Cancel(ctx, inv.ID)
	assertKind(t, err, apperr.KindInvalidState)
	if !errors.Is(err, ErrInvoiceHasPayments) {
		t.Errorf("expected ErrInvoiceHasPayments, got %v", err)
	}
}

func TestListInvoices_MigratedFilter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	migrated := env.postedInvoice(t, "10.00")
	env.postedInvoice(t, "20.00")
	if _, err := env.invoices.MigrateToAccounting(ctx, migrated.ID); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	yes := true
	got, err := env.invoices.List(ctx, InvoiceFilter{Migrated: &yes})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 1 || got[0].ID != migrated.ID {
		t.Errorf("expected only the migrated invoice, got %d", len(got))
	}
}

func TestMigrateToAccounting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	draft := env.draftInvoice(t, "10.00")
	_, err := env.invoices.MigrateToAccounting(ctx, draft.ID)
	assertKind(t, err, apperr.KindInvalidState)
	if !errors.Is(err, ErrInvoiceNotPosted) {
		t.Errorf("expected ErrInvoiceNotPosted, got %v", err)
	}

	inv := env.postedInvoice(t, "250.00")
	migrated, err := env.invoices.MigrateToAccounting(ctx, inv.ID)
	if err != nil {
		t.Fatalf("migrate: %v", err)
	}
	if migrated.AccountMigration != 1 {
		t.Errorf("expected account_migration 1, got %d", migrated.AccountMigration)
	}
	if len(env.ledger.posted) != 1 || !env.ledger.posted[0].Total.Equal(dec("250.00")) {
		t.Errorf("expected one ledger posting of 250.00, got %+v", env.ledger.posted)
	}

	_, err = env.invoices.MigrateToAccounting(ctx, inv.ID)
	assertKind(t, err, apperr.KindConflict)
	if !errors.Is(err, ErrAlreadyMigrated) {
		t.Errorf("expected ErrAlreadyMigrated, got %v", err)
	}
	if len(env.ledger.posted) != 1 {
		t.Errorf("expected no second posting, got %d", len(env.ledger.posted))
	}
}

func TestMigrateToAccounting_LedgerFailureIsRecorded(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.postedInvoice(t, "40.00")
	env.ledger.fail[inv.ID] = errors.New("ledger rejected INV-0001 (422): period is closed")

	_, err := env.invoices.MigrateToAccounting(ctx, inv.ID)
	assertKind(t, err, apperr.KindExternal)

	stored := env.store.invoice(inv.ID)
	if stored.AccountMigration != 0 {
		t.Error("expected invoice to stay unmigrated")
	}
	if stored.MigrationError.String == "" {
		t.Error("expected migration error recorded")
	}
}

func TestMigrateToAccounting_TransportErrorIsNotStored(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	inv := env.postedInvoice(t, "40.00")
	env.ledger.fail[inv.ID] = errors.New(`post journal: Post "http://10.0.0.5:8443/journal-entries": dial tcp 10.0.0.5:8443: connect: connection refused`)

	_, err := env.invoices.MigrateToAccounting(ctx, inv.ID)
	assertKind(t, err, apperr.KindExternal)
	e, _ := apperr.As(err)
	if e.Message() != "Failed to migrate invoice: ledger service unavailable, please retry" {
		t.Errorf("unexpected message %q", e.Message())
	}
	if got := env.store.invoice(inv.ID).MigrationError.String; got != "ledger service unavailable, please retry" {
		t.Errorf("expected the public reason stored, got %q", got)
	}

	report, err := env.invoices.RetryFailedMigrations(ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if len(report.Failed) != 1 || strings.Contains(report.Failed[0].Error, "10.0.0.5") {
		t.Errorf("report leaks transport detail: %+v", report.Failed)
	}
}

func TestRetryFailedMigrations_ReportsPartialSuccess(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	var ok []uuid.UUID
	for i := 0; i < 5; i++ {
		ok = append(ok, env.postedInvoice(t, "15.00").ID)
	}
	bad := env.postedInvoice(t, "99.00")
	env.ledger.fail[bad.ID] = errors.New("account 4000 is locked")
	env.draftInvoice(t, "1.00")

	report, err := env.invoices.RetryFailedMigrations(ctx)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if report.Attempted != 6 {
		t.Errorf("expected 6 attempted, got %d", report.Attempted)
	}
	if len(report.Migrated) != len(ok) {
		t.Errorf("expected %d migrated, got %d", len(ok), len(report.Migrated))
	}
	if len(report.Failed) != 1 || report.Failed[0].InvoiceID != bad.ID {
		t.Fatalf("expected one failure for %s, got %+v", bad.InvoiceNumber, report.Failed)
	}
	if report.Failed[0].Error == "" {
		t.Error("expected failure detail")
	}

	// Nothing left to do on the next run except the still failing invoice.
	delete(env.ledger.fail, bad.ID)
	report, err = env.invoices.RetryFailedMigrations(ctx)
	if err != nil {
		t.Fatalf("second retry: %v", err)
	}
	if report.Attempted != 1 || len(report.Migrated) != 1 || len(report.Failed) != 0 {
		t.Errorf("unexpected second report: %+v", report)
	}
}
