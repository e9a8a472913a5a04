// Package gateway talks to the online payment provider: it opens hosted
// checkouts, asks for their status and turns signed webhooks into
// notifications the payment manager can act on.
package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrIgnoredEvent is returned by ParseWebhook for verified events that
	// carry no payment outcome.
	ErrIgnoredEvent = errors.New("gateway: event ignored")
	// ErrInvalidSignature is returned when a webhook fails verification.
	ErrInvalidSignature = errors.New("gateway: invalid webhook signature")
)

// CheckoutRequest describes the checkout to open for one invoice payment.
type CheckoutRequest struct {
	Reference     string
	InvoiceNumber string
	Description   string
	Amount        decimal.Decimal
	ExpiresAt     time.Time
}

// Checkout is an opened hosted checkout.
type Checkout struct {
	ID        string
	URL       string
	ExpiresAt time.Time
}

// Result is the provider's view of a checkout. Status is one of the
// enum.PaymentStatus values; PENDING means the outcome is not known yet.
type Result struct {
	Status        string
	TransactionID string
}

// Notification is a verified webhook outcome.
type Notification struct {
	Reference string
	SessionID string
	Result
}

// Gateway is the payment provider. Satisfied by *Stripe.
type Gateway interface {
	CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error)
	CheckoutStatus(ctx context.Context, sessionID string) (Result, error)
	ExpireCheckout(ctx context.Context, sessionID string) error
	ParseWebhook(payload []byte, signature string) (*Notification, error)
}
