package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"ms-rentals/internal/models"
)

var checkIn = time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

func TestEvaluateRefundTiers(t *testing.T) {
	p := Default()

	tests := []struct {
		name       string
		now        time.Time
		canCancel  bool
		percentage float64
		amount     float64
	}{
		{"ten days out", checkIn.Add(-(9*24 + 14) * time.Hour), true, 100, 1000},
		{"five days out", checkIn.Add(-(4*24 + 14) * time.Hour), true, 50, 500},
		{"exactly seven days out", checkIn.AddDate(0, 0, -7), true, 50, 500},
		{"just over seven days out", checkIn.AddDate(0, 0, -7).Add(-time.Hour), true, 100, 1000},
		{"exactly three days out", checkIn.AddDate(0, 0, -3), true, 50, 500},
		{"two days out", checkIn.AddDate(0, 0, -2), true, 0, 0},
		{"one day out", checkIn.Add(-14 * time.Hour), false, 0, 0},
		{"exactly at cutoff", checkIn.Add(-24 * time.Hour), true, 0, 0},
		{"after check-in", checkIn.Add(2 * time.Hour), false, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := p.Evaluate(checkIn, tt.now, models.BookingConfirmed, 1000)
			assert.Equal(t, tt.canCancel, res.CanCancel)
			assert.Equal(t, tt.percentage, res.RefundPercentage)
			assert.InDelta(t, tt.amount, res.RefundAmount, 0.0001)
			assert.Equal(t, tt.amount > 0, res.RefundEligible)
		})
	}
}

func TestEvaluateTerminalStatuses(t *testing.T) {
	p := Default()
	now := checkIn.AddDate(0, 0, -30)

	cancelled := p.Evaluate(checkIn, now, models.BookingCancelled, 1000)
	assert.False(t, cancelled.CanCancel)
	assert.False(t, cancelled.RefundEligible)
	assert.Equal(t, "Booking is already cancelled", cancelled.Reason)

	completed := p.Evaluate(checkIn, now, models.BookingCompleted, 1000)
	assert.False(t, completed.CanCancel)
	assert.Equal(t, "Completed bookings cannot be cancelled", completed.Reason)
}

func TestEvaluateReasons(t *testing.T) {
	p := Default()

	late := p.Evaluate(checkIn, checkIn.Add(-time.Hour), models.BookingPending, 200)
	assert.Equal(t, "Cancellations must be made at least 24 hours before check-in", late.Reason)

	early := p.Evaluate(checkIn, checkIn.AddDate(0, 0, -20), models.BookingPending, 200)
	assert.Equal(t, p.Describe(), early.Reason)
	assert.Contains(t, early.Reason, "100% refund")
}

func TestEvaluateUsesConfiguredTiers(t *testing.T) {
	p := Policy{
		CutoffHours:          48,
		FullRefundDays:       14,
		PartialRefundDays:    5,
		FullRefundPercent:    90,
		PartialRefundPercent: 25,
	}

	res := p.Evaluate(checkIn, checkIn.AddDate(0, 0, -10), models.BookingConfirmed, 400)
	assert.True(t, res.CanCancel)
	assert.Equal(t, 25.0, res.RefundPercentage)
	assert.InDelta(t, 100, res.RefundAmount, 0.0001)

	res = p.Evaluate(checkIn, checkIn.Add(-30*time.Hour), models.BookingConfirmed, 400)
	assert.False(t, res.CanCancel)
}

func TestRefundAmountIsNotRoundedEarly(t *testing.T) {
	p := Default()
	p.PartialRefundPercent = 30

	res := p.Evaluate(checkIn, checkIn.AddDate(0, 0, -5), models.BookingConfirmed, 33.33)
	assert.InDelta(t, 9.999, res.RefundAmount, 1e-9)
	assert.Equal(t, int64(1000), ToMinorUnits(res.RefundAmount, "usd"))
}

func TestMinorUnits(t *testing.T) {
	assert.Equal(t, int64(40000), ToMinorUnits(400, "usd"))
	assert.Equal(t, int64(1999), ToMinorUnits(19.99, "EUR"))
	assert.Equal(t, 19.99, FromMinorUnits(1999, "usd"))
}

func TestMinorUnitsFollowCurrencyExponent(t *testing.T) {
	tests := []struct {
		currency string
		amount   float64
		minor    int64
	}{
		{"jpy", 1000, 1000},
		{"JPY", 500.4, 500},
		{"krw", 15000, 15000},
		{"kwd", 12.345, 12345},
		{"bhd", 1, 1000},
		{"gbp", 12.34, 1234},
	}
	for _, tt := range tests {
		t.Run(tt.currency, func(t *testing.T) {
			assert.Equal(t, tt.minor, ToMinorUnits(tt.amount, tt.currency))
		})
	}

	assert.Equal(t, 1000.0, FromMinorUnits(1000, "jpy"))
	assert.Equal(t, 12.345, FromMinorUnits(12345, "kwd"))
	assert.Equal(t, 0, MinorUnitExponent("vnd"))
	assert.Equal(t, 2, MinorUnitExponent("usd"))
}
