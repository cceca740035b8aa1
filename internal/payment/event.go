package payment

import (
	"encoding/json"
	"fmt"

	"github.com/stripe/stripe-go/v82"
)

// Kind is the booking-level meaning of a provider event.
type Kind int

const (
	KindUnhandled Kind = iota
	KindPaymentSucceeded
	KindPaymentFailed
	KindRefunded
)

func (k Kind) String() string {
	switch k {
	case KindPaymentSucceeded:
		return "payment_succeeded"
	case KindPaymentFailed:
		return "payment_failed"
	case KindRefunded:
		return "refunded"
	}
	return "unhandled"
}

// Event is a verified provider event reduced to what the booking flow needs.
type Event struct {
	ID              string
	Type            string
	Kind            Kind
	BookingID       string
	PaymentIntentID string
	// AmountCharged and AmountRefunded are in minor units. AmountRefunded is
	// cumulative for the charge.
	AmountCharged  int64
	AmountRefunded int64
	Currency       string
	Payload        string
}

const bookingMetadataKey = "booking_id"

const (
	eventCheckoutCompleted = "checkout.session.completed"
	eventPaymentSucceeded  = "payment_intent.succeeded"
	eventPaymentFailed     = "payment_intent.payment_failed"
	eventChargeRefunded    = "charge.refunded"
)

// ParseStripeEvent maps a verified stripe event onto an Event. Unknown event
// types parse to KindUnhandled without error.
func ParseStripeEvent(e stripe.Event) (Event, error) {
	ev := Event{ID: e.ID, Type: string(e.Type)}
	if e.Data == nil {
		return ev, fmt.Errorf("event %s has no data", e.ID)
	}

	switch e.Type {
	case eventCheckoutCompleted:
		var s stripe.CheckoutSession
		if err := json.Unmarshal(e.Data.Raw, &s); err != nil {
			return ev, fmt.Errorf("failed to unmarshal checkout session: %w", err)
		}
		// Delayed payment methods complete the session unpaid; the later
		// payment_intent.succeeded settles the booking.
		if s.PaymentStatus == "unpaid" {
			return ev, nil
		}
		ev.Kind = KindPaymentSucceeded
		ev.BookingID = s.Metadata[bookingMetadataKey]
		if ev.BookingID == "" {
			ev.BookingID = s.ClientReferenceID
		}
		if s.PaymentIntent != nil {
			ev.PaymentIntentID = s.PaymentIntent.ID
		}
		ev.AmountCharged = s.AmountTotal
		ev.Currency = string(s.Currency)

	case eventPaymentSucceeded, eventPaymentFailed:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(e.Data.Raw, &pi); err != nil {
			return ev, fmt.Errorf("failed to unmarshal payment intent: %w", err)
		}
		ev.Kind = KindPaymentSucceeded
		if e.Type == eventPaymentFailed {
			ev.Kind = KindPaymentFailed
		}
		ev.BookingID = pi.Metadata[bookingMetadataKey]
		ev.PaymentIntentID = pi.ID
		ev.AmountCharged = pi.Amount
		ev.Currency = string(pi.Currency)

	case eventChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(e.Data.Raw, &ch); err != nil {
			return ev, fmt.Errorf("failed to unmarshal charge: %w", err)
		}
		ev.Kind = KindRefunded
		ev.BookingID = ch.Metadata[bookingMetadataKey]
		if ch.PaymentIntent != nil {
			ev.PaymentIntentID = ch.PaymentIntent.ID
		}
		ev.AmountCharged = ch.Amount
		ev.AmountRefunded = ch.AmountRefunded
		ev.Currency = string(ch.Currency)
	}

	return ev, nil
}
