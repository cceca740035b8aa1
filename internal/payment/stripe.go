package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-rentals/internal/logger"
)

var ErrStripeNotConfigured = errors.New("stripe secret key is not configured")

// StripeGateway verifies webhook signatures and issues refunds.
type StripeGateway struct {
	client        *client.API
	webhookSecret string
	log           *logger.Logger
}

func NewStripeGateway(secretKey, webhookSecret string, log *logger.Logger) *StripeGateway {
	g := &StripeGateway{webhookSecret: webhookSecret, log: log}
	if secretKey == "" {
		log.Warn("STRIPE", "STRIPE_SECRET_KEY not set, refunds are disabled")
		return g
	}
	g.client = client.New(secretKey, nil)
	log.Info("STRIPE", "Stripe client initialized successfully")
	return g
}

// VerifyEvent checks the Stripe-Signature header against the payload.
func (g *StripeGateway) VerifyEvent(payload []byte, signature string) (stripe.Event, error) {
	if g.webhookSecret == "" {
		g.log.Error("WEBHOOK", "Stripe webhook secret is not configured")
		return stripe.Event{}, &WebhookError{
			Category:      "configuration",
			StatusCode:    http.StatusInternalServerError,
			PublicError:   "Webhook processing error",
			InternalError: "Stripe webhook secret is not configured",
		}
	}

	// Verify signature with API version mismatch tolerance
	opts := webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true}
	event, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret, opts)
	if err != nil {
		msg := "Invalid webhook signature"
		if errors.Is(err, webhook.ErrNotSigned) {
			msg = "Missing webhook signature"
		}
		g.log.LogSecurity("webhook_signature", fmt.Sprintf("%s: %v", msg, err))
		return stripe.Event{}, validationError(msg, fmt.Sprintf("%s: %v", msg, err), err)
	}
	return event, nil
}

// Refund refunds amountMinor of a payment intent. The idempotency key makes
// retries return the refund created by the first call.
func (g *StripeGateway) Refund(ctx context.Context, paymentIntentID string, amountMinor int64, idempotencyKey string) (string, error) {
	if g.client == nil {
		return "", ErrStripeNotConfigured
	}

	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(paymentIntentID),
		Amount:        stripe.Int64(amountMinor),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	params.SetIdempotencyKey(idempotencyKey)

	r, err := g.client.Refunds.New(params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) {
			g.log.Error("STRIPE", fmt.Sprintf("Refund for %s rejected: code=%s message=%s", paymentIntentID, stripeErr.Code, stripeErr.Msg))
		}
		return "", err
	}

	g.log.Info("STRIPE", fmt.Sprintf("Created refund %s for %s (%d minor units, status %s)", r.ID, paymentIntentID, amountMinor, r.Status))
	return r.ID, nil
}
