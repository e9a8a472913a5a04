package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
	"github.com/stripe/stripe-go/v74/webhook"
	"github.com/templedesk/api/internal/enum"
)

// minCheckoutLifetime is the shortest expiry Stripe accepts for a session.
const minCheckoutLifetime = 30 * time.Minute

// StripeConfig configures the Stripe gateway. Backends is nil in production
// and points at a test server in tests.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	Currency      string
	SuccessURL    string
	CancelURL     string
	Backends      *stripe.Backends
}

// Stripe opens Stripe Checkout sessions in payment mode.
type Stripe struct {
	api           *client.API
	webhookSecret string
	currency      string
	successURL    string
	cancelURL     string
	now           func() time.Time
}

func NewStripe(cfg StripeConfig) *Stripe {
	var sc client.API
	sc.Init(cfg.SecretKey, cfg.Backends)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = "myr"
	}
	return &Stripe{
		api:           &sc,
		webhookSecret: cfg.WebhookSecret,
		currency:      currency,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		now:           time.Now,
	}
}

func (s *Stripe) CreateCheckout(ctx context.Context, req CheckoutRequest) (*Checkout, error) {
	if !req.Amount.IsPositive() {
		return nil, fmt.Errorf("create checkout: amount must be positive")
	}

	expiresAt := req.ExpiresAt
	if earliest := s.now().Add(minCheckoutLifetime); expiresAt.Before(earliest) {
		expiresAt = earliest
	}

	name := req.Description
	if name == "" {
		name = "Invoice " + req.InvoiceNumber
	}

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(req.Reference),
		SuccessURL:        stripe.String(s.successURL),
		CancelURL:         stripe.String(s.cancelURL),
		ExpiresAt:         stripe.Int64(expiresAt.Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(s.currency),
					UnitAmount: stripe.Int64(req.Amount.Shift(2).Round(0).IntPart()),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(name),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
	}
	params.Context = ctx
	params.AddMetadata("payment_reference", req.Reference)
	params.AddMetadata("invoice_number", req.InvoiceNumber)

	session, err := s.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("create checkout session: %w", describe(err))
	}

	return &Checkout{
		ID:        session.ID,
		URL:       session.URL,
		ExpiresAt: time.Unix(session.ExpiresAt, 0),
	}, nil
}

func (s *Stripe) CheckoutStatus(ctx context.Context, sessionID string) (Result, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx
	params.AddExpand("payment_intent")

	session, err := s.api.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		return Result{}, fmt.Errorf("get checkout session %s: %w", sessionID, describe(err))
	}
	return sessionResult(session), nil
}

func (s *Stripe) ExpireCheckout(ctx context.Context, sessionID string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx

	if _, err := s.api.CheckoutSessions.Expire(sessionID, params); err != nil {
		return fmt.Errorf("expire checkout session %s: %w", sessionID, describe(err))
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and maps checkout
// session events to a payment outcome.
func (s *Stripe) ParseWebhook(payload []byte, signature string) (*Notification, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	var session stripe.CheckoutSession
	switch event.Type {
	case "checkout.session.completed",
		"checkout.session.async_payment_succeeded",
		"checkout.session.async_payment_failed",
		"checkout.session.expired":
		if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
			return nil, fmt.Errorf("decode %s: %w", event.Type, err)
		}
	default:
		return nil, ErrIgnoredEvent
	}

	result := sessionResult(&session)
	if event.Type == "checkout.session.async_payment_failed" {
		result.Status = enum.PaymentStatusFailed
	}

	reference := session.ClientReferenceID
	if reference == "" {
		reference = session.Metadata["payment_reference"]
	}
	return &Notification{Reference: reference, SessionID: session.ID, Result: result}, nil
}

// sessionResult maps a session onto a payment status. Anything short of a
// completed and paid session, or an expired one, is still PENDING.
func sessionResult(session *stripe.CheckoutSession) Result {
	var r Result
	if session.PaymentIntent != nil {
		r.TransactionID = session.PaymentIntent.ID
	}

	switch {
	case session.Status == stripe.CheckoutSessionStatusComplete &&
		session.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid:
		r.Status = enum.PaymentStatusSuccess
	case session.Status == stripe.CheckoutSessionStatusExpired:
		r.Status = enum.PaymentStatusFailed
	default:
		r.Status = enum.PaymentStatusPending
	}
	return r
}

func describe(err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		return fmt.Errorf("%s (%s): %w", stripeErr.Msg, stripeErr.Code, err)
	}
	return err
}
