package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"ms-rentals/internal/logger"
	"ms-rentals/internal/metrics"
	"ms-rentals/internal/models"
)

// BookingTransitions applies payment outcomes to bookings. Each method reports
// whether the booking changed; a false result with a nil error is a no-op.
type BookingTransitions interface {
	ResolveBookingID(ctx context.Context, paymentIntentID string) (string, error)
	ApplyPaymentSuccess(ctx context.Context, bookingID, paymentIntentID string) (bool, error)
	ApplyPaymentFailure(ctx context.Context, bookingID string) (bool, error)
	ApplyRefund(ctx context.Context, bookingID string, refundedMinor, chargedMinor int64) (bool, error)
}

type EventStore interface {
	InsertWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (bool, error)
	GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error)
	RecordWebhookAttempt(ctx context.Context, eventID string, now time.Time) (bool, error)
	MarkWebhookProcessed(ctx context.Context, eventID, bookingID string, now time.Time) error
	MarkWebhookFailed(ctx context.Context, eventID, reason string, now time.Time) error
}

// Outcome is the result of a delivery that should be acknowledged.
type Outcome struct {
	Accepted  bool `json:"accepted"`
	Duplicate bool `json:"duplicate"`
	Applied   bool `json:"applied"`
}

// Processor applies each provider event at most once. Every delivery is
// recorded by event id before it is dispatched.
type Processor struct {
	events   EventStore
	bookings BookingTransitions
	log      *logger.Logger
	now      func() time.Time
}

func NewProcessor(events EventStore, bookings BookingTransitions, log *logger.Logger) *Processor {
	return &Processor{
		events:   events,
		bookings: bookings,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Process records ev and dispatches it. A returned error is a *WebhookError and
// leaves the event unprocessed so the provider retries it.
func (p *Processor) Process(ctx context.Context, ev Event) (Outcome, error) {
	if ev.ID == "" {
		return Outcome{}, validationError("Invalid event data", "event has no id", nil)
	}
	now := p.now()

	row := &models.WebhookEvent{
		EventID:            ev.ID,
		EventType:          ev.Type,
		ProcessingAttempts: 1,
		Payload:            ev.Payload,
		CreatedAt:          now,
		LastAttemptAt:      &now,
	}
	if ev.BookingID != "" {
		row.BookingID = &ev.BookingID
	}
	if ev.PaymentIntentID != "" {
		row.PaymentIntentID = &ev.PaymentIntentID
	}

	inserted, err := p.events.InsertWebhookEvent(ctx, row)
	if err != nil {
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		return Outcome{}, processingError("Webhook processing error",
			fmt.Sprintf("failed to record event %s: %v", ev.ID, err), err)
	}

	if !inserted {
		existing, err := p.events.GetWebhookEvent(ctx, ev.ID)
		if err != nil {
			return Outcome{}, processingError("Webhook processing error",
				fmt.Sprintf("failed to load event %s: %v", ev.ID, err), err)
		}
		if existing.Processed {
			return p.duplicate(ev), nil
		}
		fresh, err := p.events.RecordWebhookAttempt(ctx, ev.ID, now)
		if err != nil {
			return Outcome{}, processingError("Webhook processing error",
				fmt.Sprintf("failed to record attempt for event %s: %v", ev.ID, err), err)
		}
		if !fresh {
			return p.duplicate(ev), nil
		}
		p.log.LogWebhook(ev.Type, ev.ID, fmt.Sprintf("Retrying unprocessed event (attempt %d)", existing.ProcessingAttempts+1))
	}

	bookingID, applied, err := p.dispatch(ctx, ev)
	if err != nil {
		p.log.LogWebhook(ev.Type, ev.ID, fmt.Sprintf("Processing failed: %v", err))
		metrics.WebhookEvents.WithLabelValues(ev.Type, "failed").Inc()
		if markErr := p.events.MarkWebhookFailed(ctx, ev.ID, err.Error(), p.now()); markErr != nil {
			p.log.Error("WEBHOOK", fmt.Sprintf("Failed to record error for event %s: %v", ev.ID, markErr))
		}
		return Outcome{}, processingError("Failed to process webhook event",
			fmt.Sprintf("failed to process event %s: %v", ev.ID, err), err)
	}

	if err := p.events.MarkWebhookProcessed(ctx, ev.ID, bookingID, p.now()); err != nil {
		// The transition already happened; a redelivery will be a no-op.
		p.log.Error("WEBHOOK", fmt.Sprintf("Failed to mark event %s processed: %v", ev.ID, err))
	}

	outcome := "processed"
	if !applied {
		outcome = "ignored"
	}
	metrics.WebhookEvents.WithLabelValues(ev.Type, outcome).Inc()
	p.log.LogWebhook(ev.Type, ev.ID, fmt.Sprintf("Event %s (kind=%s booking=%s)", outcome, ev.Kind, bookingID))
	return Outcome{Accepted: true, Applied: applied}, nil
}

func (p *Processor) duplicate(ev Event) Outcome {
	metrics.WebhookEvents.WithLabelValues(ev.Type, "duplicate").Inc()
	p.log.LogWebhook(ev.Type, ev.ID, "Duplicate delivery, already processed")
	return Outcome{Accepted: true, Duplicate: true}
}

// dispatch routes ev to the booking transition for its kind. Events that do
// not belong to a known booking are accepted without effect.
func (p *Processor) dispatch(ctx context.Context, ev Event) (string, bool, error) {
	if ev.Kind == KindUnhandled {
		return "", false, nil
	}

	bookingID, err := p.resolve(ctx, ev)
	if err != nil {
		return "", false, err
	}
	if bookingID == "" {
		p.log.Warn("WEBHOOK", fmt.Sprintf("Event %s (%s) does not reference a known booking", ev.ID, ev.Type))
		return "", false, nil
	}

	var applied bool
	switch ev.Kind {
	case KindPaymentSucceeded:
		applied, err = p.bookings.ApplyPaymentSuccess(ctx, bookingID, ev.PaymentIntentID)
	case KindPaymentFailed:
		applied, err = p.bookings.ApplyPaymentFailure(ctx, bookingID)
	case KindRefunded:
		applied, err = p.bookings.ApplyRefund(ctx, bookingID, ev.AmountRefunded, ev.AmountCharged)
	}
	if errors.Is(err, models.ErrNotFound) {
		p.log.Warn("WEBHOOK", fmt.Sprintf("Event %s references unknown booking %s", ev.ID, bookingID))
		return bookingID, false, nil
	}
	return bookingID, applied, err
}

func (p *Processor) resolve(ctx context.Context, ev Event) (string, error) {
	if ev.BookingID != "" {
		return ev.BookingID, nil
	}
	if ev.PaymentIntentID == "" {
		return "", nil
	}
	id, err := p.bookings.ResolveBookingID(ctx, ev.PaymentIntentID)
	if errors.Is(err, models.ErrNotFound) {
		return "", nil
	}
	return id, err
}
