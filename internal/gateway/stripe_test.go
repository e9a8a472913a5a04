package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/webhook"
	"github.com/templedesk/api/internal/enum"
)

const testWebhookSecret = "whsec_test"

func newTestStripe(t *testing.T, handler http.HandlerFunc) *Stripe {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	return NewStripe(StripeConfig{
		SecretKey:     "sk_test_123",
		WebhookSecret: testWebhookSecret,
		Currency:      "MYR",
		SuccessURL:    "https://console.example/paid",
		CancelURL:     "https://console.example/cancelled",
		Backends:      &stripe.Backends{API: backend, Connect: backend, Uploads: backend},
	})
}

func writeSession(w http.ResponseWriter, session map[string]any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(session) //nolint:errcheck
}

func TestCreateCheckout(t *testing.T) {
	expires := time.Now().Add(time.Hour).Truncate(time.Second)

	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		require.NoError(t, r.ParseForm())

		assert.Equal(t, "payment", r.PostForm.Get("mode"))
		assert.Equal(t, "PAY-1", r.PostForm.Get("client_reference_id"))
		assert.Equal(t, "myr", r.PostForm.Get("line_items[0][price_data][currency]"))
		assert.Equal(t, "12550", r.PostForm.Get("line_items[0][price_data][unit_amount]"))
		assert.Equal(t, "Invoice INV-0007", r.PostForm.Get("line_items[0][price_data][product_data][name]"))
		assert.Equal(t, "INV-0007", r.PostForm.Get("metadata[invoice_number]"))

		writeSession(w, map[string]any{
			"id":         "cs_test_1",
			"object":     "checkout.session",
			"url":        "https://checkout.stripe.com/c/pay/cs_test_1",
			"expires_at": expires.Unix(),
		})
	})

	checkout, err := s.CreateCheckout(context.Background(), CheckoutRequest{
		Reference:     "PAY-1",
		InvoiceNumber: "INV-0007",
		Amount:        decimal.RequireFromString("125.50"),
		ExpiresAt:     expires,
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", checkout.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/pay/cs_test_1", checkout.URL)
	assert.True(t, checkout.ExpiresAt.Equal(expires))
}

func TestCreateCheckout_ClampsShortExpiry(t *testing.T) {
	var sent int64
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		require.NoError(t, json.Unmarshal([]byte(r.PostForm.Get("expires_at")), &sent))
		writeSession(w, map[string]any{"id": "cs_test_2", "object": "checkout.session", "expires_at": sent})
	})

	_, err := s.CreateCheckout(context.Background(), CheckoutRequest{
		Reference: "PAY-2",
		Amount:    decimal.NewFromInt(10),
		ExpiresAt: time.Now().Add(5 * time.Minute),
	})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, sent, time.Now().Add(minCheckoutLifetime-time.Minute).Unix())
}

func TestCreateCheckout_RejectsNonPositiveAmount(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("gateway must not be called")
	})
	_, err := s.CreateCheckout(context.Background(), CheckoutRequest{Reference: "PAY-3", Amount: decimal.Zero})
	require.Error(t, err)
}

func TestCreateCheckout_StripeError(t *testing.T) {
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"type":"invalid_request_error","code":"parameter_invalid_integer","message":"Invalid integer"}}`)) //nolint:errcheck
	})

	_, err := s.CreateCheckout(context.Background(), CheckoutRequest{Reference: "PAY-4", Amount: decimal.NewFromInt(1)})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid integer")
}

func TestCheckoutStatus(t *testing.T) {
	tests := []struct {
		name          string
		status        string
		paymentStatus string
		want          string
	}{
		{"paid", "complete", "paid", enum.PaymentStatusSuccess},
		{"complete but unpaid", "complete", "unpaid", enum.PaymentStatusPending},
		{"still open", "open", "unpaid", enum.PaymentStatusPending},
		{"expired", "expired", "unpaid", enum.PaymentStatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
				require.Equal(t, http.MethodGet, r.Method)
				require.Equal(t, "/v1/checkout/sessions/cs_test_9", r.URL.Path)
				writeSession(w, map[string]any{
					"id":             "cs_test_9",
					"object":         "checkout.session",
					"status":         tt.status,
					"payment_status": tt.paymentStatus,
					"payment_intent": map[string]any{"id": "pi_123", "object": "payment_intent"},
				})
			})

			got, err := s.CheckoutStatus(context.Background(), "cs_test_9")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Status)
			assert.Equal(t, "pi_123", got.TransactionID)
		})
	}
}

func TestExpireCheckout(t *testing.T) {
	called := false
	s := newTestStripe(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
		assert.Equal(t, "/v1/checkout/sessions/cs_test_5/expire", r.URL.Path)
		writeSession(w, map[string]any{"id": "cs_test_5", "object": "checkout.session", "status": "expired"})
	})

	require.NoError(t, s.ExpireCheckout(context.Background(), "cs_test_5"))
	assert.True(t, called)
}

func signedEvent(t *testing.T, eventType string, session map[string]any) (payload []byte, header string) {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        eventType,
		"api_version": stripe.APIVersion,
		"data":        map[string]any{"object": session},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testWebhookSecret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestParseWebhook(t *testing.T) {
	s := NewStripe(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret})

	tests := []struct {
		name      string
		eventType string
		session   map[string]any
		want      string
	}{
		{
			name:      "completed and paid",
			eventType: "checkout.session.completed",
			session:   map[string]any{"id": "cs_1", "client_reference_id": "PAY-9", "status": "complete", "payment_status": "paid", "payment_intent": "pi_9"},
			want:      enum.PaymentStatusSuccess,
		},
		{
			name:      "completed awaiting async payment",
			eventType: "checkout.session.completed",
			session:   map[string]any{"id": "cs_1", "client_reference_id": "PAY-9", "status": "complete", "payment_status": "unpaid"},
			want:      enum.PaymentStatusPending,
		},
		{
			name:      "async payment failed",
			eventType: "checkout.session.async_payment_failed",
			session:   map[string]any{"id": "cs_1", "client_reference_id": "PAY-9", "status": "complete", "payment_status": "unpaid"},
			want:      enum.PaymentStatusFailed,
		},
		{
			name:      "expired",
			eventType: "checkout.session.expired",
			session:   map[string]any{"id": "cs_1", "metadata": map[string]string{"payment_reference": "PAY-9"}, "status": "expired"},
			want:      enum.PaymentStatusFailed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload, header := signedEvent(t, tt.eventType, tt.session)

			n, err := s.ParseWebhook(payload, header)
			require.NoError(t, err)
			assert.Equal(t, "PAY-9", n.Reference)
			assert.Equal(t, "cs_1", n.SessionID)
			assert.Equal(t, tt.want, n.Status)
		})
	}
}

func TestParseWebhook_IgnoredEvent(t *testing.T) {
	s := NewStripe(StripeConfig{SecretKey: "sk_test", WebhookSecret: testWebhookSecret})
	payload, header := signedEvent(t, "customer.created", map[string]any{"id": "cus_1"})

	_, err := s.ParseWebhook(payload, header)
	assert.ErrorIs(t, err, ErrIgnoredEvent)
}

func TestParseWebhook_BadSignature(t *testing.T) {
	s := NewStripe(StripeConfig{SecretKey: "sk_test", WebhookSecret: "whsec_other"})
	payload, header := signedEvent(t, "checkout.session.completed", map[string]any{"id": "cs_1"})

	_, err := s.ParseWebhook(payload, header)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
