package database

import (
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

type Staff struct {
	ID                uuid.UUID   `db:"id"`
	Email             string      `db:"email"`
	FullName          string      `db:"full_name"`
	Phone             pgtype.Text `db:"phone"`
	Role              string      `db:"role"`
	Status            string      `db:"status"`
	HashedPassword    string      `db:"hashed_password"`
	JoinDate          time.Time   `db:"join_date"`
	TerminationDate   pgtype.Date `db:"termination_date"`
	TerminationReason pgtype.Text `db:"termination_reason"`
	CreatedAt         time.Time   `db:"created_at"`
	UpdatedAt         time.Time   `db:"updated_at"`
}

type Customer struct {
	ID        uuid.UUID   `db:"id"`
	Name      string      `db:"name"`
	Email     pgtype.Text `db:"email"`
	Phone     pgtype.Text `db:"phone"`
	Address   pgtype.Text `db:"address"`
	Notes     pgtype.Text `db:"notes"`
	CreatedAt time.Time   `db:"created_at"`
	UpdatedAt time.Time   `db:"updated_at"`
}

type Product struct {
	ID        uuid.UUID       `db:"id"`
	Sku       string          `db:"sku"`
	Name      string          `db:"name"`
	Uom       string          `db:"uom"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	IsActive  bool            `db:"is_active"`
}

type SalesItem struct {
	ID        uuid.UUID       `db:"id"`
	Code      string          `db:"code"`
	Name      string          `db:"name"`
	Uom       string          `db:"uom"`
	UnitPrice decimal.Decimal `db:"unit_price"`
	IsActive  bool            `db:"is_active"`
}

type PaymentMode struct {
	ID                uuid.UUID `db:"id"`
	Code              string    `db:"code"`
	Name              string    `db:"name"`
	IsPaymentGateway  bool      `db:"is_payment_gateway"`
	RequiresReference bool      `db:"requires_reference"`
	IsActive          bool      `db:"is_active"`
}

type SalesOrder struct {
	ID              uuid.UUID          `db:"id"`
	OrderNumber     string             `db:"order_number"`
	CustomerID      uuid.UUID          `db:"customer_id"`
	Status          string             `db:"status"`
	OrderDate       time.Time          `db:"order_date"`
	Notes           pgtype.Text        `db:"notes"`
	TotalAmount     decimal.Decimal    `db:"total_amount"`
	SubmittedAt     pgtype.Timestamptz `db:"submitted_at"`
	ApprovedBy      pgtype.UUID        `db:"approved_by"`
	ApprovedAt      pgtype.Timestamptz `db:"approved_at"`
	RejectedBy      pgtype.UUID        `db:"rejected_by"`
	RejectedAt      pgtype.Timestamptz `db:"rejected_at"`
	RejectionReason pgtype.Text        `db:"rejection_reason"`
	CancelledAt     pgtype.Timestamptz `db:"cancelled_at"`
	CreatedBy       uuid.UUID          `db:"created_by"`
	CreatedAt       time.Time          `db:"created_at"`
	UpdatedAt       time.Time          `db:"updated_at"`
}

type SalesOrderItem struct {
	ID               uuid.UUID       `db:"id"`
	SalesOrderID     uuid.UUID       `db:"sales_order_id"`
	ProductID        pgtype.UUID     `db:"product_id"`
	SalesItemID      pgtype.UUID     `db:"sales_item_id"`
	Description      string          `db:"description"`
	Quantity         int32           `db:"quantity"`
	UnitPrice        decimal.Decimal `db:"unit_price"`
	LineTotal        decimal.Decimal `db:"line_total"`
	ReservedQuantity int32           `db:"reserved_quantity"`
}

type SalesOrderReservation struct {
	DeliveryOrderID  uuid.UUID `db:"delivery_order_id"`
	SalesOrderItemID uuid.UUID `db:"sales_order_item_id"`
	Quantity         int32     `db:"quantity"`
}

type DeliveryOrder struct {
	ID                   uuid.UUID          `db:"id"`
	DoNumber             string             `db:"do_number"`
	SalesOrderID         pgtype.UUID        `db:"sales_order_id"`
	CustomerID           uuid.UUID          `db:"customer_id"`
	WarehouseID          uuid.UUID          `db:"warehouse_id"`
	Status               string             `db:"status"`
	DeliveryDate         time.Time          `db:"delivery_date"`
	QualityCheckDone     bool               `db:"quality_check_done"`
	QualityCheckStatus   pgtype.Text        `db:"quality_check_status"`
	QualityCheckedBy     pgtype.UUID        `db:"quality_checked_by"`
	QualityCheckedAt     pgtype.Timestamptz `db:"quality_checked_at"`
	QualityCheckBypassed bool               `db:"quality_check_bypassed"`
	BypassReason         pgtype.Text        `db:"bypass_reason"`
	CancelReason         pgtype.Text        `db:"cancel_reason"`
	CompletedAt          pgtype.Timestamptz `db:"completed_at"`
	CancelledAt          pgtype.Timestamptz `db:"cancelled_at"`
	CreatedBy            uuid.UUID          `db:"created_by"`
	CreatedAt            time.Time          `db:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

type DeliveryOrderItem struct {
	ID                uuid.UUID       `db:"id"`
	DeliveryOrderID   uuid.UUID       `db:"delivery_order_id"`
	SalesOrderItemID  pgtype.UUID     `db:"sales_order_item_id"`
	ProductID         pgtype.UUID     `db:"product_id"`
	SalesItemID       pgtype.UUID     `db:"sales_item_id"`
	Description       string          `db:"description"`
	UnitPrice         decimal.Decimal `db:"unit_price"`
	DeliveredQuantity int32           `db:"delivered_quantity"`
	AcceptedQuantity  int32           `db:"accepted_quantity"`
	RejectedQuantity  int32           `db:"rejected_quantity"`
	Condition         pgtype.Text     `db:"condition"`
	Remarks           pgtype.Text     `db:"remarks"`
}

type Invoice struct {
	ID                   uuid.UUID          `db:"id"`
	InvoiceNumber        string             `db:"invoice_number"`
	CustomerID           uuid.UUID          `db:"customer_id"`
	SalesOrderID         pgtype.UUID        `db:"sales_order_id"`
	DeliveryOrderID      pgtype.UUID        `db:"delivery_order_id"`
	InvoiceDate          time.Time          `db:"invoice_date"`
	DueDate              pgtype.Date        `db:"due_date"`
	Status               string             `db:"status"`
	Subtotal             decimal.Decimal    `db:"subtotal"`
	DiscountAmount       decimal.Decimal    `db:"discount_amount"`
	TaxRate              decimal.Decimal    `db:"tax_rate"`
	TaxAmount            decimal.Decimal    `db:"tax_amount"`
	TotalAmount          decimal.Decimal    `db:"total_amount"`
	PaidAmount           decimal.Decimal    `db:"paid_amount"`
	PaymentStatus        string             `db:"payment_status"`
	AccountMigration     int16              `db:"account_migration"`
	MigrationError       pgtype.Text        `db:"migration_error"`
	MigrationAttemptedAt pgtype.Timestamptz `db:"migration_attempted_at"`
	MigratedAt           pgtype.Timestamptz `db:"migrated_at"`
	Notes                pgtype.Text        `db:"notes"`
	CreatedBy            uuid.UUID          `db:"created_by"`
	CreatedAt            time.Time          `db:"created_at"`
	UpdatedAt            time.Time          `db:"updated_at"`
}

// BalanceAmount is total minus paid. It is never stored.
func (i Invoice) BalanceAmount() decimal.Decimal {
	return i.TotalAmount.Sub(i.PaidAmount)
}

type InvoiceItem struct {
	ID          uuid.UUID       `db:"id"`
	InvoiceID   uuid.UUID       `db:"invoice_id"`
	ProductID   pgtype.UUID     `db:"product_id"`
	SalesItemID pgtype.UUID     `db:"sales_item_id"`
	Description string          `db:"description"`
	Quantity    int32           `db:"quantity"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
	LineTotal   decimal.Decimal `db:"line_total"`
}

type Payment struct {
	ID                   uuid.UUID          `db:"id"`
	InvoiceID            uuid.UUID          `db:"invoice_id"`
	PaymentModeID        uuid.UUID          `db:"payment_mode_id"`
	Amount               decimal.Decimal    `db:"amount"`
	PaymentDate          time.Time          `db:"payment_date"`
	PaymentStatus        string             `db:"payment_status"`
	ReferenceNumber      pgtype.Text        `db:"reference_number"`
	ChequeNumber         pgtype.Text        `db:"cheque_number"`
	BankName             pgtype.Text        `db:"bank_name"`
	PaymentReference     pgtype.Text        `db:"payment_reference"`
	GatewayTransactionID pgtype.Text        `db:"gateway_transaction_id"`
	CheckoutUrl          pgtype.Text        `db:"checkout_url"`
	SettledAt            pgtype.Timestamptz `db:"settled_at"`
	CreatedBy            uuid.UUID          `db:"created_by"`
	CreatedAt            time.Time          `db:"created_at"`
}

type Package struct {
	ID          uuid.UUID       `db:"id"`
	Name        string          `db:"name"`
	Description pgtype.Text     `db:"description"`
	TotalAmount decimal.Decimal `db:"total_amount"`
	Discount    decimal.Decimal `db:"discount"`
	TaxRate     decimal.Decimal `db:"tax_rate"`
	IsActive    bool            `db:"is_active"`
	CreatedAt   time.Time       `db:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at"`
}

type PackageItem struct {
	ID          uuid.UUID       `db:"id"`
	PackageID   uuid.UUID       `db:"package_id"`
	Position    int32           `db:"position"`
	ItemType    string          `db:"item_type"`
	ProductID   pgtype.UUID     `db:"product_id"`
	SalesItemID pgtype.UUID     `db:"sales_item_id"`
	Quantity    int32           `db:"quantity"`
	Uom         string          `db:"uom"`
	UnitPrice   decimal.Decimal `db:"unit_price"`
}
