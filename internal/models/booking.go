package models

import (
	"time"

	"github.com/uptrace/bun"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingConfirmed BookingStatus = "confirmed"
	BookingCancelled BookingStatus = "cancelled"
	BookingCompleted BookingStatus = "completed"
)

// IsTerminal reports whether no further status transition is allowed.
func (s BookingStatus) IsTerminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// IsActive reports whether a booking in this status holds its dates.
func (s BookingStatus) IsActive() bool {
	return s == BookingPending || s == BookingConfirmed
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentPaid              PaymentStatus = "paid"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

type Booking struct {
	bun.BaseModel `bun:"table:bookings"`

	ID              string        `bun:"id,pk" json:"id"`
	PropertyID      string        `bun:"property_id,notnull" json:"property_id"`
	GuestID         *string       `bun:"guest_id" json:"guest_id,omitempty"`
	HostID          string        `bun:"host_id,notnull" json:"host_id"`
	CheckIn         time.Time     `bun:"check_in,notnull" json:"check_in"`
	CheckOut        time.Time     `bun:"check_out,notnull" json:"check_out"`
	GuestName       string        `bun:"guest_name,notnull" json:"guest_name"`
	GuestEmail      string        `bun:"guest_email,notnull" json:"guest_email"`
	GuestCount      int           `bun:"guest_count,notnull" json:"guest_count"`
	SpecialRequests string        `bun:"special_requests,nullzero" json:"special_requests,omitempty"`
	Status          BookingStatus `bun:"status,notnull" json:"status"`
	PaymentStatus   PaymentStatus `bun:"payment_status,notnull" json:"payment_status"`
	TotalAmount     float64       `bun:"total_amount,notnull" json:"total_amount"`
	Currency        string        `bun:"currency,notnull" json:"currency"`

	RefundAmount *float64   `bun:"refund_amount" json:"refund_amount,omitempty"`
	RefundDate   *time.Time `bun:"refund_date" json:"refund_date,omitempty"`
	RefundReason *string    `bun:"refund_reason" json:"refund_reason,omitempty"`

	PaymentIntentID    *string    `bun:"payment_intent_id" json:"payment_intent_id,omitempty"`
	CancellationReason *string    `bun:"cancellation_reason" json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time  `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time  `bun:"updated_at,notnull" json:"updated_at"`
	CancelledAt        *time.Time `bun:"cancelled_at" json:"cancelled_at,omitempty"`
}

// IsParty reports whether profileID is the guest or the host of the booking.
func (b *Booking) IsParty(profileID string) bool {
	if profileID == "" {
		return false
	}
	if b.HostID == profileID {
		return true
	}
	return b.GuestID != nil && *b.GuestID == profileID
}

// Property is read by the booking flow to resolve the host and guest limits.
type Property struct {
	bun.BaseModel `bun:"table:properties"`

	ID          string    `bun:"id,pk" json:"id"`
	HostID      string    `bun:"host_id,notnull" json:"host_id"`
	Title       string    `bun:"title,notnull" json:"title"`
	NightlyRate float64   `bun:"nightly_rate,notnull" json:"nightly_rate"`
	Currency    string    `bun:"currency,notnull" json:"currency"`
	MaxGuests   int       `bun:"max_guests,notnull" json:"max_guests"`
	CreatedAt   time.Time `bun:"created_at,notnull" json:"created_at"`
}

// BlockedDate is a host-defined unavailable interval. EndDate is inclusive.
type BlockedDate struct {
	bun.BaseModel `bun:"table:blocked_dates"`

	ID            string    `bun:"id,pk" json:"id"`
	PropertyID    string    `bun:"property_id,notnull" json:"property_id"`
	StartDate     time.Time `bun:"start_date,notnull" json:"start_date"`
	EndDate       time.Time `bun:"end_date,notnull" json:"end_date"`
	Reason        string    `bun:"reason,nullzero" json:"reason,omitempty"`
	PriceOverride *float64  `bun:"price_override" json:"price_override,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
}
