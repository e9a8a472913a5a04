package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/templedesk/api/internal/database"
	"github.com/templedesk/api/internal/enum"
)

// memStore is an in-memory stand-in for *database.Queries. It satisfies
// SalesOrderStore, DeliveryOrderStore and InvoiceStore. Transactions are not
// simulated: the services validate before they write, so the tests assert
// on state that was never touched.
type memStore struct {
	mu sync.Mutex

	customers  map[uuid.UUID]database.Customer
	products   map[uuid.UUID]database.Product
	salesItems map[uuid.UUID]database.SalesItem
	modes      map[uuid.UUID]database.PaymentMode

	orders       map[uuid.UUID]database.SalesOrder
	orderItems   []database.SalesOrderItem
	reservations []database.SalesOrderReservation

	deliveries    map[uuid.UUID]database.DeliveryOrder
	deliveryItems []database.DeliveryOrderItem

	invoices     map[uuid.UUID]database.Invoice
	invoiceItems []database.InvoiceItem
	payments     []database.Payment

	soSeq, doSeq, invSeq int32

	// adjustErr, when set, fails AdjustReservedQuantity.
	adjustErr error
	// hideActiveInvoices makes the active invoice lookups miss, as they do
	// for a transaction racing another creator.
	hideActiveInvoices bool
}

func newMemStore() *memStore {
	return &memStore{
		customers:  make(map[uuid.UUID]database.Customer),
		products:   make(map[uuid.UUID]database.Product),
		salesItems: make(map[uuid.UUID]database.SalesItem),
		modes:      make(map[uuid.UUID]database.PaymentMode),
		orders:     make(map[uuid.UUID]database.SalesOrder),
		deliveries: make(map[uuid.UUID]database.DeliveryOrder),
		invoices:   make(map[uuid.UUID]database.Invoice),
	}
}

// --- seed helpers ---

func (m *memStore) addCustomer(name string) uuid.UUID {
	id := uuid.New()
	m.customers[id] = database.Customer{ID: id, Name: name}
	return id
}

func (m *memStore) addProduct(name, price string) uuid.UUID {
	id := uuid.New()
	m.products[id] = database.Product{ID: id, Sku: name, Name: name, Uom: "pcs", UnitPrice: decimal.RequireFromString(price), IsActive: true}
	return id
}

func (m *memStore) addSalesItem(name, price string) uuid.UUID {
	id := uuid.New()
	m.salesItems[id] = database.SalesItem{ID: id, Code: name, Name: name, Uom: "unit", UnitPrice: decimal.RequireFromString(price), IsActive: true}
	return id
}

func (m *memStore) addMode(code string, gateway, requiresRef bool) uuid.UUID {
	id := uuid.New()
	m.modes[id] = database.PaymentMode{ID: id, Code: code, Name: code, IsPaymentGateway: gateway, RequiresReference: requiresRef, IsActive: true}
	return id
}

func (m *memStore) orderItem(id uuid.UUID) database.SalesOrderItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.orderItems {
		if it.ID == id {
			return it
		}
	}
	return database.SalesOrderItem{}
}

func (m *memStore) invoice(id uuid.UUID) database.Invoice {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invoices[id]
}

func (m *memStore) payment(id uuid.UUID) database.Payment {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			return p
		}
	}
	return database.Payment{}
}

func (m *memStore) setInvoice(inv database.Invoice) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invoices[inv.ID] = inv
}

// --- catalog / customers ---

func (m *memStore) GetProduct(ctx context.Context, id uuid.UUID) (database.Product, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.products[id]
	if !ok {
		return database.Product{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *memStore) GetSalesItem(ctx context.Context, id uuid.UUID) (database.SalesItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	si, ok := m.salesItems[id]
	if !ok {
		return database.SalesItem{}, pgx.ErrNoRows
	}
	return si, nil
}

func (m *memStore) GetCustomer(ctx context.Context, id uuid.UUID) (database.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.customers[id]
	if !ok {
		return database.Customer{}, pgx.ErrNoRows
	}
	return c, nil
}

// --- sales orders ---

func (m *memStore) GetNextSalesOrderNumber(ctx context.Context) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.soSeq + 1, nil
}

func (m *memStore) CreateSalesOrder(ctx context.Context, arg database.CreateSalesOrderParams) (database.SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.soSeq++
	now := time.Now()
	o := database.SalesOrder{
		ID:          uuid.New(),
		OrderNumber: arg.OrderNumber,
		CustomerID:  arg.CustomerID,
		Status:      enum.SalesOrderStatusDraft,
		OrderDate:   arg.OrderDate,
		Notes:       arg.Notes,
		TotalAmount: arg.TotalAmount,
		CreatedBy:   arg.CreatedBy,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) CreateSalesOrderItem(ctx context.Context, arg database.CreateSalesOrderItemParams) (database.SalesOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := database.SalesOrderItem{
		ID:           uuid.New(),
		SalesOrderID: arg.SalesOrderID,
		ProductID:    arg.ProductID,
		SalesItemID:  arg.SalesItemID,
		Description:  arg.Description,
		Quantity:     arg.Quantity,
		UnitPrice:    arg.UnitPrice,
		LineTotal:    arg.LineTotal,
	}
	m.orderItems = append(m.orderItems, it)
	return it, nil
}

func (m *memStore) UpdateSalesOrder(ctx context.Context, arg database.UpdateSalesOrderParams) (database.SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[arg.ID]
	if !ok {
		return database.SalesOrder{}, pgx.ErrNoRows
	}
	o.CustomerID, o.OrderDate, o.Notes, o.TotalAmount = arg.CustomerID, arg.OrderDate, arg.Notes, arg.TotalAmount
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) DeleteSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.orderItems[:0]
	for _, it := range m.orderItems {
		if it.SalesOrderID != salesOrderID {
			kept = append(kept, it)
		}
	}
	m.orderItems = kept
	return nil
}

func (m *memStore) GetSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return database.SalesOrder{}, pgx.ErrNoRows
	}
	return o, nil
}

func (m *memStore) GetSalesOrderForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	return m.GetSalesOrder(ctx, id)
}

func (m *memStore) ListSalesOrders(ctx context.Context, arg database.ListSalesOrdersParams) ([]database.SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.SalesOrder
	for _, o := range m.orders {
		if arg.Status.Valid && o.Status != arg.Status.String {
			continue
		}
		out = append(out, o)
	}
	return out, nil
}

func (m *memStore) ListSalesOrderItems(ctx context.Context, salesOrderID uuid.UUID) ([]database.SalesOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.SalesOrderItem
	for _, it := range m.orderItems {
		if it.SalesOrderID == salesOrderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) GetSalesOrderItemForUpdate(ctx context.Context, id uuid.UUID) (database.SalesOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, it := range m.orderItems {
		if it.ID == id {
			return it, nil
		}
	}
	return database.SalesOrderItem{}, pgx.ErrNoRows
}

func (m *memStore) setOrderStatus(id uuid.UUID, status string) (database.SalesOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return database.SalesOrder{}, pgx.ErrNoRows
	}
	o.Status = status
	m.orders[id] = o
	return o, nil
}

func (m *memStore) SubmitSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	return m.setOrderStatus(id, enum.SalesOrderStatusPendingApproval)
}

func (m *memStore) ApproveSalesOrder(ctx context.Context, arg database.ApproveSalesOrderParams) (database.SalesOrder, error) {
	o, err := m.setOrderStatus(arg.ID, enum.SalesOrderStatusApproved)
	if err != nil {
		return o, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o.ApprovedBy.Bytes, o.ApprovedBy.Valid = arg.ApprovedBy, true
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) RejectSalesOrder(ctx context.Context, arg database.RejectSalesOrderParams) (database.SalesOrder, error) {
	o, err := m.setOrderStatus(arg.ID, enum.SalesOrderStatusRejected)
	if err != nil {
		return o, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o.RejectionReason = database.NullText(arg.RejectionReason)
	m.orders[o.ID] = o
	return o, nil
}

func (m *memStore) CancelSalesOrder(ctx context.Context, id uuid.UUID) (database.SalesOrder, error) {
	return m.setOrderStatus(id, enum.SalesOrderStatusCancelled)
}

func (m *memStore) DeleteSalesOrder(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	delete(m.orders, id)
	m.mu.Unlock()
	return m.DeleteSalesOrderItems(ctx, id)
}

func (m *memStore) AdjustReservedQuantity(ctx context.Context, arg database.AdjustReservedQuantityParams) (database.SalesOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.adjustErr != nil {
		return database.SalesOrderItem{}, m.adjustErr
	}
	for i, it := range m.orderItems {
		if it.ID == arg.ID {
			m.orderItems[i].ReservedQuantity += arg.Delta
			return m.orderItems[i], nil
		}
	}
	return database.SalesOrderItem{}, pgx.ErrNoRows
}

func (m *memStore) CreateReservation(ctx context.Context, arg database.CreateReservationParams) (database.SalesOrderReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := database.SalesOrderReservation{DeliveryOrderID: arg.DeliveryOrderID, SalesOrderItemID: arg.SalesOrderItemID, Quantity: arg.Quantity}
	m.reservations = append(m.reservations, r)
	return r, nil
}

func (m *memStore) ReleaseReservations(ctx context.Context, deliveryOrderID uuid.UUID) ([]database.SalesOrderReservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var released []database.SalesOrderReservation
	kept := m.reservations[:0]
	for _, r := range m.reservations {
		if r.DeliveryOrderID == deliveryOrderID {
			released = append(released, r)
			continue
		}
		kept = append(kept, r)
	}
	m.reservations = kept
	return released, nil
}

// --- delivery orders ---

func (m *memStore) GetNextDeliveryOrderNumber(ctx context.Context) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.doSeq + 1, nil
}

func (m *memStore) CreateDeliveryOrder(ctx context.Context, arg database.CreateDeliveryOrderParams) (database.DeliveryOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doSeq++
	do := database.DeliveryOrder{
		ID:           uuid.New(),
		DoNumber:     arg.DoNumber,
		SalesOrderID: arg.SalesOrderID,
		CustomerID:   arg.CustomerID,
		WarehouseID:  arg.WarehouseID,
		Status:       enum.DeliveryOrderStatusDraft,
		DeliveryDate: arg.DeliveryDate,
		CreatedBy:    arg.CreatedBy,
	}
	m.deliveries[do.ID] = do
	return do, nil
}

func (m *memStore) CreateDeliveryOrderItem(ctx context.Context, arg database.CreateDeliveryOrderItemParams) (database.DeliveryOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := database.DeliveryOrderItem{
		ID:                uuid.New(),
		DeliveryOrderID:   arg.DeliveryOrderID,
		SalesOrderItemID:  arg.SalesOrderItemID,
		ProductID:         arg.ProductID,
		SalesItemID:       arg.SalesItemID,
		Description:       arg.Description,
		UnitPrice:         arg.UnitPrice,
		DeliveredQuantity: arg.DeliveredQuantity,
	}
	m.deliveryItems = append(m.deliveryItems, it)
	return it, nil
}

func (m *memStore) GetDeliveryOrder(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	do, ok := m.deliveries[id]
	if !ok {
		return database.DeliveryOrder{}, pgx.ErrNoRows
	}
	return do, nil
}

func (m *memStore) GetDeliveryOrderForUpdate(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error) {
	return m.GetDeliveryOrder(ctx, id)
}

func (m *memStore) ListDeliveryOrders(ctx context.Context, arg database.ListDeliveryOrdersParams) ([]database.DeliveryOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.DeliveryOrder
	for _, do := range m.deliveries {
		if arg.Status.Valid && do.Status != arg.Status.String {
			continue
		}
		out = append(out, do)
	}
	return out, nil
}

func (m *memStore) ListDeliveryOrderItems(ctx context.Context, deliveryOrderID uuid.UUID) ([]database.DeliveryOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.DeliveryOrderItem
	for _, it := range m.deliveryItems {
		if it.DeliveryOrderID == deliveryOrderID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) updateDelivery(id uuid.UUID, fn func(*database.DeliveryOrder)) (database.DeliveryOrder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	do, ok := m.deliveries[id]
	if !ok {
		return database.DeliveryOrder{}, pgx.ErrNoRows
	}
	fn(&do)
	m.deliveries[id] = do
	return do, nil
}

func (m *memStore) SubmitDeliveryOrder(ctx context.Context, id uuid.UUID) (database.DeliveryOrder, error) {
	return m.updateDelivery(id, func(do *database.DeliveryOrder) { do.Status = enum.DeliveryOrderStatusPending })
}

func (m *memStore) RecordDeliveryOrderItemCheck(ctx context.Context, arg database.RecordDeliveryOrderItemCheckParams) (database.DeliveryOrderItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, it := range m.deliveryItems {
		if it.ID == arg.ID {
			it.AcceptedQuantity = arg.AcceptedQuantity
			it.RejectedQuantity = arg.RejectedQuantity
			it.Condition = database.NullText(arg.Condition)
			it.Remarks = arg.Remarks
			m.deliveryItems[i] = it
			return it, nil
		}
	}
	return database.DeliveryOrderItem{}, pgx.ErrNoRows
}

func (m *memStore) RecordDeliveryOrderQualityCheck(ctx context.Context, arg database.RecordDeliveryOrderQualityCheckParams) (database.DeliveryOrder, error) {
	return m.updateDelivery(arg.ID, func(do *database.DeliveryOrder) {
		do.Status = enum.DeliveryOrderStatusQualityCheck
		do.QualityCheckDone = true
		do.QualityCheckStatus = database.NullText(arg.QualityCheckStatus)
		do.QualityCheckedBy.Bytes, do.QualityCheckedBy.Valid = arg.QualityCheckedBy, true
	})
}

func (m *memStore) CompleteDeliveryOrder(ctx context.Context, arg database.CompleteDeliveryOrderParams) (database.DeliveryOrder, error) {
	return m.updateDelivery(arg.ID, func(do *database.DeliveryOrder) {
		do.Status = enum.DeliveryOrderStatusCompleted
		do.QualityCheckBypassed = arg.QualityCheckBypassed
		do.BypassReason = arg.BypassReason
	})
}

func (m *memStore) CancelDeliveryOrder(ctx context.Context, arg database.CancelDeliveryOrderParams) (database.DeliveryOrder, error) {
	return m.updateDelivery(arg.ID, func(do *database.DeliveryOrder) {
		do.Status = enum.DeliveryOrderStatusCancelled
		do.CancelReason = database.NullText(arg.CancelReason)
	})
}

func (m *memStore) DeleteDeliveryOrder(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deliveries, id)
	kept := m.deliveryItems[:0]
	for _, it := range m.deliveryItems {
		if it.DeliveryOrderID != id {
			kept = append(kept, it)
		}
	}
	m.deliveryItems = kept
	return nil
}

// --- invoices ---

func (m *memStore) GetNextInvoiceNumber(ctx context.Context) (int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.invSeq + 1, nil
}

func (m *memStore) CreateInvoice(ctx context.Context, arg database.CreateInvoiceParams) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, inv := range m.invoices {
		if inv.Status == enum.InvoiceStatusCancelled {
			continue
		}
		if arg.DeliveryOrderID.Valid && inv.DeliveryOrderID == arg.DeliveryOrderID {
			return database.Invoice{}, &pgconn.PgError{Code: "23505", ConstraintName: invoiceActiveDOConstraint}
		}
		if !arg.DeliveryOrderID.Valid && arg.SalesOrderID.Valid && !inv.DeliveryOrderID.Valid && inv.SalesOrderID == arg.SalesOrderID {
			return database.Invoice{}, &pgconn.PgError{Code: "23505", ConstraintName: invoiceActiveOrderConstraint}
		}
	}
	m.invSeq++
	inv := database.Invoice{
		ID:              uuid.New(),
		InvoiceNumber:   arg.InvoiceNumber,
		CustomerID:      arg.CustomerID,
		SalesOrderID:    arg.SalesOrderID,
		DeliveryOrderID: arg.DeliveryOrderID,
		InvoiceDate:     arg.InvoiceDate,
		DueDate:         arg.DueDate,
		Status:          enum.InvoiceStatusDraft,
		Subtotal:        arg.Subtotal,
		DiscountAmount:  arg.DiscountAmount,
		TaxRate:         arg.TaxRate,
		TaxAmount:       arg.TaxAmount,
		TotalAmount:     arg.TotalAmount,
		PaidAmount:      decimal.Zero,
		PaymentStatus:   enum.DerivePaymentStatus(decimal.Zero, arg.TotalAmount),
		Notes:           arg.Notes,
		CreatedBy:       arg.CreatedBy,
	}
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *memStore) CreateInvoiceItem(ctx context.Context, arg database.CreateInvoiceItemParams) (database.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	it := database.InvoiceItem{
		ID:          uuid.New(),
		InvoiceID:   arg.InvoiceID,
		ProductID:   arg.ProductID,
		SalesItemID: arg.SalesItemID,
		Description: arg.Description,
		Quantity:    arg.Quantity,
		UnitPrice:   arg.UnitPrice,
		LineTotal:   arg.LineTotal,
	}
	m.invoiceItems = append(m.invoiceItems, it)
	return it, nil
}

func (m *memStore) GetInvoice(ctx context.Context, id uuid.UUID) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok {
		return database.Invoice{}, pgx.ErrNoRows
	}
	return inv, nil
}

func (m *memStore) GetInvoiceForUpdate(ctx context.Context, id uuid.UUID) (database.Invoice, error) {
	return m.GetInvoice(ctx, id)
}

func (m *memStore) GetActiveInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideActiveInvoices {
		return database.Invoice{}, pgx.ErrNoRows
	}
	for _, inv := range m.invoices {
		if inv.Status != enum.InvoiceStatusCancelled && !inv.DeliveryOrderID.Valid &&
			inv.SalesOrderID.Valid && uuid.UUID(inv.SalesOrderID.Bytes) == salesOrderID {
			return inv, nil
		}
	}
	return database.Invoice{}, pgx.ErrNoRows
}

func (m *memStore) GetActiveInvoiceByDeliveryOrder(ctx context.Context, deliveryOrderID uuid.UUID) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideActiveInvoices {
		return database.Invoice{}, pgx.ErrNoRows
	}
	for _, inv := range m.invoices {
		if inv.Status != enum.InvoiceStatusCancelled &&
			inv.DeliveryOrderID.Valid && uuid.UUID(inv.DeliveryOrderID.Bytes) == deliveryOrderID {
			return inv, nil
		}
	}
	return database.Invoice{}, pgx.ErrNoRows
}

func (m *memStore) GetActiveDeliveryInvoiceBySalesOrder(ctx context.Context, salesOrderID uuid.UUID) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.hideActiveInvoices {
		return database.Invoice{}, pgx.ErrNoRows
	}
	for _, inv := range m.invoices {
		if inv.Status != enum.InvoiceStatusCancelled && inv.DeliveryOrderID.Valid &&
			inv.SalesOrderID.Valid && uuid.UUID(inv.SalesOrderID.Bytes) == salesOrderID {
			return inv, nil
		}
	}
	return database.Invoice{}, pgx.ErrNoRows
}

func (m *memStore) ListInvoices(ctx context.Context, arg database.ListInvoicesParams) ([]database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Invoice
	for _, inv := range m.invoices {
		if arg.Status.Valid && inv.Status != arg.Status.String {
			continue
		}
		if arg.AccountMigration.Valid && inv.AccountMigration != arg.AccountMigration.Int16 {
			continue
		}
		out = append(out, inv)
	}
	return out, nil
}

func (m *memStore) ListInvoiceItems(ctx context.Context, invoiceID uuid.UUID) ([]database.InvoiceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.InvoiceItem
	for _, it := range m.invoiceItems {
		if it.InvoiceID == invoiceID {
			out = append(out, it)
		}
	}
	return out, nil
}

func (m *memStore) UpdateInvoiceStatus(ctx context.Context, arg database.UpdateInvoiceStatusParams) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[arg.ID]
	if !ok {
		return database.Invoice{}, pgx.ErrNoRows
	}
	inv.Status = arg.Status
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *memStore) ApplyInvoicePayment(ctx context.Context, arg database.ApplyInvoicePaymentParams) (database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[arg.ID]
	if !ok {
		return database.Invoice{}, pgx.ErrNoRows
	}
	inv.PaidAmount, inv.PaymentStatus = arg.PaidAmount, arg.PaymentStatus
	m.invoices[inv.ID] = inv
	return inv, nil
}

func (m *memStore) RecordInvoiceMigrationFailure(ctx context.Context, arg database.RecordInvoiceMigrationFailureParams) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv := m.invoices[arg.ID]
	if inv.AccountMigration == 0 {
		inv.MigrationError = database.NullText(arg.MigrationError)
		m.invoices[arg.ID] = inv
	}
	return nil
}

func (m *memStore) MarkInvoiceMigrated(ctx context.Context, id uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invoices[id]
	if !ok || inv.AccountMigration == 1 {
		return 0, nil
	}
	inv.AccountMigration = 1
	inv.MigrationError = database.NullText("")
	m.invoices[id] = inv
	return 1, nil
}

func (m *memStore) ListUnmigratedPostedInvoices(ctx context.Context) ([]database.Invoice, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Invoice
	for _, inv := range m.invoices {
		if inv.Status == enum.InvoiceStatusPosted && inv.AccountMigration == 0 {
			out = append(out, inv)
		}
	}
	return out, nil
}

// --- payments ---

func (m *memStore) GetPaymentMode(ctx context.Context, id uuid.UUID) (database.PaymentMode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pm, ok := m.modes[id]
	if !ok {
		return database.PaymentMode{}, pgx.ErrNoRows
	}
	return pm, nil
}

func (m *memStore) CreatePayment(ctx context.Context, arg database.CreatePaymentParams) (database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := database.Payment{
		ID:                   uuid.New(),
		InvoiceID:            arg.InvoiceID,
		PaymentModeID:        arg.PaymentModeID,
		Amount:               arg.Amount,
		PaymentDate:          arg.PaymentDate,
		PaymentStatus:        arg.PaymentStatus,
		ReferenceNumber:      arg.ReferenceNumber,
		ChequeNumber:         arg.ChequeNumber,
		BankName:             arg.BankName,
		PaymentReference:     arg.PaymentReference,
		GatewayTransactionID: arg.GatewayTransactionID,
		CheckoutUrl:          arg.CheckoutUrl,
		SettledAt:            arg.SettledAt,
		CreatedBy:            arg.CreatedBy,
		CreatedAt:            time.Now(),
	}
	m.payments = append(m.payments, p)
	return p, nil
}

func (m *memStore) GetPayment(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.ID == id {
			return p, nil
		}
	}
	return database.Payment{}, pgx.ErrNoRows
}

func (m *memStore) GetPaymentForUpdate(ctx context.Context, id uuid.UUID) (database.Payment, error) {
	return m.GetPayment(ctx, id)
}

func (m *memStore) GetPaymentByReference(ctx context.Context, reference string) (database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.payments {
		if p.PaymentReference.Valid && p.PaymentReference.String == reference {
			return p, nil
		}
	}
	return database.Payment{}, pgx.ErrNoRows
}

func (m *memStore) ListPaymentsByInvoice(ctx context.Context, invoiceID uuid.UUID) ([]database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Payment
	for _, p := range m.payments {
		if p.InvoiceID == invoiceID {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) ListPendingGatewayPayments(ctx context.Context) ([]database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []database.Payment
	for _, p := range m.payments {
		if p.PaymentStatus == enum.PaymentStatusPending && p.PaymentReference.Valid {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *memStore) SettlePayment(ctx context.Context, arg database.SettlePaymentParams) (database.Payment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, p := range m.payments {
		if p.ID != arg.ID {
			continue
		}
		if p.PaymentStatus != enum.PaymentStatusPending {
			return database.Payment{}, pgx.ErrNoRows
		}
		p.PaymentStatus = arg.PaymentStatus
		if arg.GatewayTransactionID.Valid {
			p.GatewayTransactionID = arg.GatewayTransactionID
		}
		p.SettledAt.Time, p.SettledAt.Valid = time.Now(), true
		m.payments[i] = p
		return p, nil
	}
	return database.Payment{}, pgx.ErrNoRows
}
