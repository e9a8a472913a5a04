package service

import (
	"errors"
	"fmt"

	"github.com/qmuntal/stateless"
	"github.com/templedesk/api/internal/apperr"
	"github.com/templedesk/api/internal/enum"
)

// Triggers shared by the document state machines.
const (
	triggerEdit         = "edit"
	triggerSubmit       = "submit"
	triggerApprove      = "approve"
	triggerReject       = "reject"
	triggerCancel       = "cancel"
	triggerDelete       = "delete"
	triggerQualityCheck = "quality_check"
	triggerComplete     = "complete"
	triggerPost         = "post"
	triggerPay          = "pay"
)

// stateDeleted is the pseudo state reached by a physical delete.
const stateDeleted = "DELETED"

// ErrTransitionNotAllowed is wrapped by every InvalidState error raised from a
// state machine.
var ErrTransitionNotAllowed = errors.New("not allowed")

// salesOrderMachine: only DRAFT is editable or deletable, DRAFT and
// PENDING_APPROVAL can be approved or rejected, APPROVED can only be
// soft-cancelled.
func salesOrderMachine(status string) *stateless.StateMachine {
	m := stateless.NewStateMachine(status)

	m.Configure(enum.SalesOrderStatusDraft).
		PermitReentry(triggerEdit).
		Permit(triggerSubmit, enum.SalesOrderStatusPendingApproval).
		Permit(triggerApprove, enum.SalesOrderStatusApproved).
		Permit(triggerReject, enum.SalesOrderStatusRejected).
		Permit(triggerCancel, enum.SalesOrderStatusCancelled).
		Permit(triggerDelete, stateDeleted)

	m.Configure(enum.SalesOrderStatusPendingApproval).
		Permit(triggerApprove, enum.SalesOrderStatusApproved).
		Permit(triggerReject, enum.SalesOrderStatusRejected).
		Permit(triggerCancel, enum.SalesOrderStatusCancelled)

	m.Configure(enum.SalesOrderStatusApproved).
		Permit(triggerCancel, enum.SalesOrderStatusCancelled)

	return m
}

// deliveryOrderMachine: DRAFT -> PENDING -> QUALITY_CHECK -> COMPLETED, with
// CANCELLED reachable from every non-terminal state. Completing straight from
// PENDING is only reachable through a quality check bypass, which the service
// checks separately.
func deliveryOrderMachine(status string) *stateless.StateMachine {
	m := stateless.NewStateMachine(status)

	m.Configure(enum.DeliveryOrderStatusDraft).
		Permit(triggerSubmit, enum.DeliveryOrderStatusPending).
		Permit(triggerCancel, enum.DeliveryOrderStatusCancelled).
		Permit(triggerDelete, stateDeleted)

	m.Configure(enum.DeliveryOrderStatusPending).
		Permit(triggerQualityCheck, enum.DeliveryOrderStatusQualityCheck).
		Permit(triggerComplete, enum.DeliveryOrderStatusCompleted).
		Permit(triggerCancel, enum.DeliveryOrderStatusCancelled)

	m.Configure(enum.DeliveryOrderStatusQualityCheck).
		PermitReentry(triggerQualityCheck).
		Permit(triggerComplete, enum.DeliveryOrderStatusCompleted).
		Permit(triggerCancel, enum.DeliveryOrderStatusCancelled)

	return m
}

// invoiceMachine: payments are accepted until the invoice is cancelled.
func invoiceMachine(status string) *stateless.StateMachine {
	m := stateless.NewStateMachine(status)

	m.Configure(enum.InvoiceStatusDraft).
		PermitReentry(triggerPay).
		Permit(triggerPost, enum.InvoiceStatusPosted).
		Permit(triggerCancel, enum.InvoiceStatusCancelled)

	m.Configure(enum.InvoiceStatusPosted).
		PermitReentry(triggerPay).
		Permit(triggerCancel, enum.InvoiceStatusCancelled)

	return m
}

// fire applies trigger and returns the destination status, or an
// InvalidState error naming the entity, action and current status.
func fire(m *stateless.StateMachine, trigger, entity, action string) (string, error) {
	from := fmt.Sprint(m.MustState())
	if err := m.Fire(trigger); err != nil {
		return "", apperr.InvalidState(entity, action,
			fmt.Errorf("%w while %s", ErrTransitionNotAllowed, from))
	}
	return fmt.Sprint(m.MustState()), nil
}
