package booking

import (
	"fmt"

	"ms-rentals/internal/models"
)

// PaymentAction is what a payment event should do to a booking.
type PaymentAction int

const (
	PaymentApply PaymentAction = iota
	// PaymentSkipDuplicate means the booking already reflects the event.
	PaymentSkipDuplicate
	// PaymentSkipTerminal means the booking is cancelled or completed and must
	// not be moved by a late event.
	PaymentSkipTerminal
	// PaymentSkipIneligible means the payment status cannot take the event,
	// for example a success after a refund.
	PaymentSkipIneligible
	// PaymentDefer means the event arrived ahead of one it depends on and
	// should be redelivered later.
	PaymentDefer
)

func (a PaymentAction) String() string {
	switch a {
	case PaymentApply:
		return "apply"
	case PaymentSkipDuplicate:
		return "duplicate"
	case PaymentSkipTerminal:
		return "terminal"
	case PaymentSkipIneligible:
		return "ineligible"
	case PaymentDefer:
		return "defer"
	}
	return "unknown"
}

// CanAccept allows pending to confirmed only.
func CanAccept(b *models.Booking) error {
	if b.Status != models.BookingPending {
		return &ConflictError{Message: fmt.Sprintf("only pending bookings can be accepted, booking is %s", b.Status)}
	}
	return nil
}

func CanComplete(b *models.Booking) error {
	if b.Status != models.BookingConfirmed {
		return &ConflictError{Message: fmt.Sprintf("only confirmed bookings can be completed, booking is %s", b.Status)}
	}
	return nil
}

func CanRetryPayment(b *models.Booking) error {
	if b.Status.IsTerminal() {
		return &ConflictError{Message: fmt.Sprintf("booking is %s", b.Status)}
	}
	if b.PaymentStatus != models.PaymentFailed {
		return &ConflictError{Message: fmt.Sprintf("payment is %s, only failed payments can be retried", b.PaymentStatus)}
	}
	return nil
}

// PaymentSuccessAction decides how a successful payment applies. Pending or
// failed payments on a live booking move to paid and the booking to confirmed.
func PaymentSuccessAction(b *models.Booking) PaymentAction {
	if b.Status.IsTerminal() {
		return PaymentSkipTerminal
	}
	switch b.PaymentStatus {
	case models.PaymentPending, models.PaymentFailed:
		return PaymentApply
	case models.PaymentPaid:
		return PaymentSkipDuplicate
	default:
		return PaymentSkipIneligible
	}
}

// PaymentFailureAction decides how a failed payment applies. Only a payment
// still awaiting settlement can fail.
func PaymentFailureAction(b *models.Booking) PaymentAction {
	if b.Status.IsTerminal() {
		return PaymentSkipTerminal
	}
	switch b.PaymentStatus {
	case models.PaymentPending:
		return PaymentApply
	case models.PaymentFailed:
		return PaymentSkipDuplicate
	default:
		return PaymentSkipIneligible
	}
}

// RefundAction decides whether a provider refund can be recorded. Refunds are
// recorded on terminal bookings too since money already moved. amount is the
// cumulative refunded total, so it must exceed the recorded one.
func RefundAction(b *models.Booking, status models.PaymentStatus, amount float64) PaymentAction {
	switch b.PaymentStatus {
	case models.PaymentPaid:
		return PaymentApply
	case models.PaymentPartiallyRefunded:
		// Provider totals only grow; an equal or smaller one is a replay or
		// arrived out of order.
		if b.RefundAmount != nil && amount <= *b.RefundAmount {
			return PaymentSkipDuplicate
		}
		return PaymentApply
	case models.PaymentRefunded:
		return PaymentSkipDuplicate
	default:
		// The charge succeeded even if its success event is still in flight.
		if !b.Status.IsTerminal() {
			return PaymentDefer
		}
		return PaymentSkipIneligible
	}
}

// RefundPaymentStatus maps the cumulative refunded amount against the charge.
func RefundPaymentStatus(refundedMinor, chargedMinor int64) models.PaymentStatus {
	if chargedMinor > 0 && refundedMinor < chargedMinor {
		return models.PaymentPartiallyRefunded
	}
	return models.PaymentRefunded
}
