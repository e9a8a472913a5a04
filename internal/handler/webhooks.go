package handler

import (
	"context"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// maxWebhookBody matches the limit Stripe documents for event payloads.
const maxWebhookBody = 64 << 10

// WebhookProcessor applies signed gateway notifications.
// Satisfied by *payment.Manager.
type WebhookProcessor interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) error
}

// WebhookHandler receives gateway callbacks. It sits outside authentication;
// the signature is the credential.
type WebhookHandler struct {
	processor WebhookProcessor
	logger    *zap.Logger
}

func NewWebhookHandler(processor WebhookProcessor, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{processor: processor, logger: logger}
}

// RegisterRoutes is expected to be mounted at /webhooks.
func (h *WebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/stripe", h.Stripe)
}

// Stripe handles POST /webhooks/stripe.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, "could not read body")
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	if signature == "" {
		writeError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	if err := h.processor.HandleWebhook(r.Context(), payload, signature); err != nil {
		writeServiceError(w, h.logger, "stripe webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}
