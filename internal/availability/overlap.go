package availability

import (
	"errors"
	"time"

	"github.com/samber/lo"

	"ms-rentals/internal/models"
)

const DateLayout = "2006-01-02"

var (
	ErrMissingDates  = errors.New("check-in and check-out dates are required")
	ErrInvalidRange  = errors.New("check-out must be after check-in")
	ErrRangeInverted = errors.New("end date must not be before start date")
)

// Range is a half-open interval of calendar days: [Start, End).
type Range struct {
	Start time.Time `json:"check_in"`
	End   time.Time `json:"check_out"`
}

// Day truncates t to midnight UTC of its calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, err
	}
	return Day(t), nil
}

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) share at least one
// day. A stay ending on day D does not conflict with one starting on day D.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return Day(aStart).Before(Day(bEnd)) && Day(bStart).Before(Day(aEnd))
}

// Validate rejects missing, zero-length and inverted stays.
func Validate(checkIn, checkOut time.Time) error {
	if checkIn.IsZero() || checkOut.IsZero() {
		return ErrMissingDates
	}
	if !Day(checkOut).After(Day(checkIn)) {
		return ErrInvalidRange
	}
	return nil
}

// BlockedRange converts a blocked interval with an inclusive end date into a
// half-open Range.
func BlockedRange(start, endInclusive time.Time) (Range, error) {
	if start.IsZero() || endInclusive.IsZero() {
		return Range{}, ErrMissingDates
	}
	if Day(endInclusive).Before(Day(start)) {
		return Range{}, ErrRangeInverted
	}
	return Range{Start: Day(start), End: Day(endInclusive).AddDate(0, 0, 1)}, nil
}

// Conflicts returns the active bookings and blocked dates that overlap
// [checkIn, checkOut). Cancelled and completed bookings never conflict.
// excludeID skips the booking being re-validated.
func Conflicts(checkIn, checkOut time.Time, bookings []models.Booking, blocked []models.BlockedDate, excludeID string) []Range {
	active := lo.Filter(bookings, func(b models.Booking, _ int) bool {
		return b.ID != excludeID && b.Status.IsActive() && Overlaps(checkIn, checkOut, b.CheckIn, b.CheckOut)
	})
	out := lo.Map(active, func(b models.Booking, _ int) Range {
		return Range{Start: Day(b.CheckIn), End: Day(b.CheckOut)}
	})

	for _, bd := range blocked {
		r, err := BlockedRange(bd.StartDate, bd.EndDate)
		if err != nil {
			continue
		}
		if Overlaps(checkIn, checkOut, r.Start, r.End) {
			out = append(out, r)
		}
	}
	return out
}
