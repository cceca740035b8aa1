package payment_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v82"

	"ms-rentals/internal/logger"
	"ms-rentals/internal/payment"
	"ms-rentals/internal/utils"
)

// maxPayloadBytes matches the size Stripe documents as the event limit.
const maxPayloadBytes = 65536

type Verifier interface {
	VerifyEvent(payload []byte, signature string) (stripe.Event, error)
}

type EventProcessor interface {
	Process(ctx context.Context, ev payment.Event) (payment.Outcome, error)
}

type Handler struct {
	Verifier  Verifier
	Processor EventProcessor
	Logger    *logger.Logger
}

func NewHandler(verifier Verifier, processor EventProcessor, log *logger.Logger) *Handler {
	return &Handler{Verifier: verifier, Processor: processor, Logger: log}
}

// StripeWebhook handles webhook events from Stripe. 200 acknowledges the
// delivery (including duplicates), 400 rejects it, 500 asks Stripe to retry.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to read payload: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid webhook payload", "unreadable body"))
		return
	}

	event, err := h.Verifier.VerifyEvent(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		h.writeError(w, err)
		return
	}

	ev, err := payment.ParseStripeEvent(event)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: invalid event %s: %v", event.ID, err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid event data", "invalid event data"))
		return
	}
	ev.Payload = string(payload)

	outcome, err := h.Processor.Process(r.Context(), ev)
	if err != nil {
		h.writeError(w, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Webhook received", outcome))
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var webhookErr *payment.WebhookError
	if errors.As(err, &webhookErr) {
		h.Logger.Error("API", fmt.Sprintf("StripeWebhook: category=%s status=%d: %s",
			webhookErr.Category, webhookErr.StatusCode, webhookErr.InternalError))
		utils.WriteJSON(w, webhookErr.StatusCode, utils.ErrorResponse(webhookErr.PublicError, webhookErr.Category))
		return
	}

	h.Logger.Error("API", fmt.Sprintf("StripeWebhook: failed to process webhook: %v", err))
	utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Webhook processing error", "processing"))
}
