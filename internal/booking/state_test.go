package booking

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"ms-rentals/internal/models"
)

func TestCanAccept(t *testing.T) {
	assert.NoError(t, CanAccept(&models.Booking{Status: models.BookingPending}))

	for _, s := range []models.BookingStatus{models.BookingConfirmed, models.BookingCancelled, models.BookingCompleted} {
		err := CanAccept(&models.Booking{Status: s})
		var conflict *ConflictError
		assert.ErrorAs(t, err, &conflict, "status %s", s)
	}
}

func TestPaymentSuccessAction(t *testing.T) {
	tests := []struct {
		status  models.BookingStatus
		payment models.PaymentStatus
		want    PaymentAction
	}{
		{models.BookingPending, models.PaymentPending, PaymentApply},
		{models.BookingPending, models.PaymentFailed, PaymentApply},
		{models.BookingConfirmed, models.PaymentPending, PaymentApply},
		{models.BookingConfirmed, models.PaymentPaid, PaymentSkipDuplicate},
		{models.BookingConfirmed, models.PaymentRefunded, PaymentSkipIneligible},
		{models.BookingCancelled, models.PaymentPending, PaymentSkipTerminal},
		{models.BookingCompleted, models.PaymentPaid, PaymentSkipTerminal},
	}

	for _, tt := range tests {
		got := PaymentSuccessAction(&models.Booking{Status: tt.status, PaymentStatus: tt.payment})
		assert.Equal(t, tt.want, got, "%s/%s", tt.status, tt.payment)
	}
}

func TestPaymentFailureNeverDowngradesPaid(t *testing.T) {
	assert.Equal(t, PaymentApply, PaymentFailureAction(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentPending}))
	assert.Equal(t, PaymentSkipDuplicate, PaymentFailureAction(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentFailed}))
	assert.Equal(t, PaymentSkipIneligible, PaymentFailureAction(&models.Booking{Status: models.BookingConfirmed, PaymentStatus: models.PaymentPaid}))
	assert.Equal(t, PaymentSkipTerminal, PaymentFailureAction(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentPending}))
}

func TestRefundAction(t *testing.T) {
	half := 500.0

	assert.Equal(t, PaymentApply, RefundAction(&models.Booking{PaymentStatus: models.PaymentPaid}, models.PaymentRefunded, 1000))
	// A refund can outrun the payment success event; it waits for it.
	assert.Equal(t, PaymentDefer, RefundAction(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentPending}, models.PaymentRefunded, 1000))
	assert.Equal(t, PaymentDefer, RefundAction(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentFailed}, models.PaymentRefunded, 1000))
	assert.Equal(t, PaymentSkipIneligible, RefundAction(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentPending}, models.PaymentRefunded, 1000))
	assert.Equal(t, PaymentSkipDuplicate, RefundAction(&models.Booking{PaymentStatus: models.PaymentRefunded}, models.PaymentRefunded, 1000))

	partial := &models.Booking{PaymentStatus: models.PaymentPartiallyRefunded, RefundAmount: &half}
	assert.Equal(t, PaymentSkipDuplicate, RefundAction(partial, models.PaymentPartiallyRefunded, 500))
	assert.Equal(t, PaymentApply, RefundAction(partial, models.PaymentRefunded, 1000))
	assert.Equal(t, PaymentApply, RefundAction(partial, models.PaymentPartiallyRefunded, 700))
	// An older event carries a smaller running total.
	assert.Equal(t, PaymentSkipDuplicate, RefundAction(partial, models.PaymentPartiallyRefunded, 300))

	// Money that already moved is recorded even on a cancelled booking.
	assert.Equal(t, PaymentApply, RefundAction(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentPaid}, models.PaymentRefunded, 1000))
}

func TestRefundPaymentStatus(t *testing.T) {
	assert.Equal(t, models.PaymentRefunded, RefundPaymentStatus(100000, 100000))
	assert.Equal(t, models.PaymentPartiallyRefunded, RefundPaymentStatus(50000, 100000))
	assert.Equal(t, models.PaymentRefunded, RefundPaymentStatus(50000, 0))
}

func TestCanRetryPayment(t *testing.T) {
	assert.NoError(t, CanRetryPayment(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentFailed}))
	assert.Error(t, CanRetryPayment(&models.Booking{Status: models.BookingPending, PaymentStatus: models.PaymentPending}))
	assert.Error(t, CanRetryPayment(&models.Booking{Status: models.BookingCancelled, PaymentStatus: models.PaymentFailed}))
}

func TestValidationErrorMessageIsStable(t *testing.T) {
	err := &ValidationError{Fields: map[string]string{"guest_email": "is required", "check_in": "is required"}}
	assert.Equal(t, "validation failed: check_in: is required; guest_email: is required", err.Error())
}
