package models

import "errors"

var (
	ErrNotFound = errors.New("not found")
	// ErrStaleState means a conditional write matched no row because another
	// writer changed the record first.
	ErrStaleState = errors.New("record state changed concurrently")
)

// ActiveStatuses are the booking statuses that hold dates on the calendar.
var ActiveStatuses = []BookingStatus{BookingPending, BookingConfirmed}

var TerminalStatuses = []BookingStatus{BookingCancelled, BookingCompleted}
