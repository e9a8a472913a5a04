package enum

import "github.com/shopspring/decimal"

// ── Group A: State machines (CHECK constrained in DB) ──

const (
	SalesOrderStatusDraft           = "DRAFT"
	SalesOrderStatusPendingApproval = "PENDING_APPROVAL"
	SalesOrderStatusApproved        = "APPROVED"
	SalesOrderStatusRejected        = "REJECTED"
	SalesOrderStatusCancelled       = "CANCELLED"
)

const (
	DeliveryOrderStatusDraft        = "DRAFT"
	DeliveryOrderStatusPending      = "PENDING"
	DeliveryOrderStatusQualityCheck = "QUALITY_CHECK"
	DeliveryOrderStatusCompleted    = "COMPLETED"
	DeliveryOrderStatusCancelled    = "CANCELLED"
)

const (
	InvoiceStatusDraft     = "DRAFT"
	InvoiceStatusPosted    = "POSTED"
	InvoiceStatusCancelled = "CANCELLED"
)

const (
	PaymentStatusPending = "PENDING"
	PaymentStatusSuccess = "SUCCESS"
	PaymentStatusFailed  = "FAILED"
)

const (
	GatewaySessionInitiated           = "INITIATED"
	GatewaySessionPendingConfirmation = "PENDING_CONFIRMATION"
	GatewaySessionSucceeded           = "SUCCEEDED"
	GatewaySessionFailed              = "FAILED"
	GatewaySessionTimedOut            = "TIMED_OUT"
)

const (
	StaffStatusActive     = "ACTIVE"
	StaffStatusInactive   = "INACTIVE"
	StaffStatusTerminated = "TERMINATED"
)

// ── Group B: Derived values (never stored independently of their inputs) ──

const (
	InvoicePaymentUnpaid  = "UNPAID"
	InvoicePaymentPartial = "PARTIAL"
	InvoicePaymentPaid    = "PAID"
)

const (
	QualityCheckPassed  = "PASSED"
	QualityCheckFailed  = "FAILED"
	QualityCheckPartial = "PARTIAL"
)

// ── Group C: Borderline (CHECK constrained in DB) ──

const (
	StaffRoleAdmin   = "ADMIN"
	StaffRoleManager = "MANAGER"
	StaffRoleStaff   = "STAFF"
)

const (
	ItemConditionGood      = "GOOD"
	ItemConditionDamaged   = "DAMAGED"
	ItemConditionDefective = "DEFECTIVE"
)

const (
	PackageItemProduct   = "PRODUCT"
	PackageItemSalesItem = "SALES_ITEM"
)

// ── Group D: Configurable labels (no DB constraint) ──

const (
	PaymentModeCash         = "CASH"
	PaymentModeCheque       = "CHEQUE"
	PaymentModeBankTransfer = "BANK_TRANSFER"
	PaymentModeOnline       = "ONLINE"
)

// DerivePaymentStatus maps paid vs total onto UNPAID/PARTIAL/PAID.
// A zero-total invoice counts as PAID.
func DerivePaymentStatus(paid, total decimal.Decimal) string {
	switch {
	case paid.GreaterThanOrEqual(total):
		return InvoicePaymentPaid
	case paid.IsZero():
		return InvoicePaymentUnpaid
	default:
		return InvoicePaymentPartial
	}
}

// IsValidItemCondition reports whether c is an accepted quality check condition tag.
func IsValidItemCondition(c string) bool {
	switch c {
	case ItemConditionGood, ItemConditionDamaged, ItemConditionDefective:
		return true
	}
	return false
}

// IsValidStaffRole reports whether r is a known staff role.
func IsValidStaffRole(r string) bool {
	switch r {
	case StaffRoleAdmin, StaffRoleManager, StaffRoleStaff:
		return true
	}
	return false
}
