package policy

import (
	"fmt"
	"math"
	"strings"
	"time"

	"ms-rentals/internal/config"
	"ms-rentals/internal/models"
)

// Policy holds the cancellation cutoff and the refund tiers.
//
// A booking may be cancelled while at least CutoffHours remain before check-in.
// More than FullRefundDays before check-in refunds FullRefundPercent, between
// PartialRefundDays and FullRefundDays (inclusive) refunds PartialRefundPercent,
// anything closer refunds nothing.
type Policy struct {
	CutoffHours          float64
	FullRefundDays       int
	PartialRefundDays    int
	FullRefundPercent    float64
	PartialRefundPercent float64
}

type Result struct {
	CanCancel        bool    `json:"can_cancel"`
	RefundEligible   bool    `json:"refund_eligible"`
	RefundPercentage float64 `json:"refund_percentage"`
	RefundAmount     float64 `json:"refund_amount"`
	HoursUntil       float64 `json:"hours_until_check_in"`
	DaysUntil        int     `json:"days_until_check_in"`
	Reason           string  `json:"reason"`
}

func Default() Policy {
	return Policy{
		CutoffHours:          24,
		FullRefundDays:       7,
		PartialRefundDays:    3,
		FullRefundPercent:    100,
		PartialRefundPercent: 50,
	}
}

func FromConfig(cfg config.PolicyConfig) Policy {
	return Policy{
		CutoffHours:          cfg.CutoffHours,
		FullRefundDays:       cfg.FullRefundDays,
		PartialRefundDays:    cfg.PartialRefundDays,
		FullRefundPercent:    cfg.FullRefundPercent,
		PartialRefundPercent: cfg.PartialRefundPercent,
	}
}

// Evaluate computes cancellation eligibility and the refund owed. It is the only
// place refund tiers are applied; the preview and the actual cancellation both
// call it. RefundAmount is left unrounded, see ToMinorUnits.
func (p Policy) Evaluate(checkIn, now time.Time, status models.BookingStatus, totalAmount float64) Result {
	until := checkIn.Sub(now)
	res := Result{
		HoursUntil: until.Hours(),
		DaysUntil:  int(math.Ceil(until.Hours() / 24)),
	}

	switch {
	case status == models.BookingCancelled:
		res.Reason = "Booking is already cancelled"
		return res
	case status == models.BookingCompleted:
		res.Reason = "Completed bookings cannot be cancelled"
		return res
	case !status.IsActive():
		res.Reason = fmt.Sprintf("Bookings in status %q cannot be cancelled", status)
		return res
	case res.HoursUntil < p.CutoffHours:
		res.Reason = fmt.Sprintf("Cancellations must be made at least %s hours before check-in", trim(p.CutoffHours))
		return res
	}

	res.CanCancel = true
	res.Reason = p.Describe()

	switch {
	case res.DaysUntil > p.FullRefundDays:
		res.RefundPercentage = p.FullRefundPercent
	case res.DaysUntil >= p.PartialRefundDays:
		res.RefundPercentage = p.PartialRefundPercent
	default:
		res.RefundPercentage = 0
	}

	res.RefundEligible = res.RefundPercentage > 0 && totalAmount > 0
	if res.RefundEligible {
		res.RefundAmount = totalAmount * res.RefundPercentage / 100
	}
	return res
}

// IsFullRefund reports whether a refund percentage covers the whole charge.
func (p Policy) IsFullRefund(percentage float64) bool {
	return percentage >= 100
}

// Describe is the user-facing policy summary.
func (p Policy) Describe() string {
	return fmt.Sprintf(
		"%s%% refund when cancelled more than %d days before check-in, %s%% between %d and %d days, no refund within %d days",
		trim(p.FullRefundPercent), p.FullRefundDays,
		trim(p.PartialRefundPercent), p.PartialRefundDays, p.FullRefundDays,
		p.PartialRefundDays,
	)
}

// Currencies whose smallest unit is not a hundredth. Everything else uses two
// decimals. Lists follow the payment provider's currency table.
var currencyExponents = map[string]int{
	"bif": 0, "clp": 0, "djf": 0, "gnf": 0, "jpy": 0, "kmf": 0, "krw": 0,
	"mga": 0, "pyg": 0, "rwf": 0, "ugx": 0, "vnd": 0, "vuv": 0, "xaf": 0,
	"xof": 0, "xpf": 0,
	"bhd": 3, "jod": 3, "kwd": 3, "omr": 3, "tnd": 3,
}

// MinorUnitExponent is the number of decimals in currency's smallest unit.
func MinorUnitExponent(currency string) int {
	if e, ok := currencyExponents[strings.ToLower(currency)]; ok {
		return e
	}
	return 2
}

// ToMinorUnits converts an amount to the currency's smallest unit, rounding
// half away from zero. Call it only when money actually moves.
func ToMinorUnits(amount float64, currency string) int64 {
	return int64(math.Round(amount * math.Pow10(MinorUnitExponent(currency))))
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(minor int64, currency string) float64 {
	return float64(minor) / math.Pow10(MinorUnitExponent(currency))
}

func trim(f float64) string {
	if f == math.Trunc(f) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%.2f", f)
}
