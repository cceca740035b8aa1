package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"ms-rentals/internal/availability"
	"ms-rentals/internal/booking/db"
	"ms-rentals/internal/logger"
	"ms-rentals/internal/metrics"
	"ms-rentals/internal/models"
	"ms-rentals/internal/notify"
	"ms-rentals/internal/policy"
)

type Store interface {
	GetProperty(ctx context.Context, id string) (*models.Property, error)
	GetBooking(ctx context.Context, id string) (*models.Booking, error)
	GetBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error)
	ActiveBookings(ctx context.Context, propertyID string) ([]models.Booking, error)
	BlockedDates(ctx context.Context, propertyID string) ([]models.BlockedDate, error)

	CreateBookingIfAvailable(ctx context.Context, b *models.Booking, check db.AvailabilityCheck) error
	ConfirmIfAvailable(ctx context.Context, id string, now time.Time, check db.AvailabilityCheck) (*models.Booking, error)
	CancelBooking(ctx context.Context, id string, expected models.BookingStatus, upd db.CancelUpdate) (*models.Booking, error)
	CompleteBooking(ctx context.Context, id string, now time.Time) (*models.Booking, error)

	MarkPaid(ctx context.Context, id, paymentIntentID string, now time.Time) (bool, error)
	MarkPaymentFailed(ctx context.Context, id string, now time.Time) (bool, error)
	ResetFailedPayment(ctx context.Context, id string, now time.Time) (*models.Booking, error)
	RecordRefund(ctx context.Context, id string, status models.PaymentStatus, amount float64, reason string, now time.Time) (bool, error)
	PurgeCancelled(ctx context.Context, before time.Time) (int, error)

	GetBlockedDate(ctx context.Context, id string) (*models.BlockedDate, error)
	CreateBlockedDateIfFree(ctx context.Context, bd *models.BlockedDate, check db.AvailabilityCheck) error
	DeleteBlockedDate(ctx context.Context, id string) error
}

// RefundGateway issues refunds with the payment provider. idempotencyKey makes
// a retried refund return the original one.
type RefundGateway interface {
	Refund(ctx context.Context, paymentIntentID string, amountMinor int64, idempotencyKey string) (string, error)
}

type Notifier interface {
	Dispatch(msg notify.Message)
}

type PassGenerator interface {
	Generate(b *models.Booking) ([]byte, error)
}

type Service struct {
	store    Store
	gateway  RefundGateway
	notifier Notifier
	passes   PassGenerator
	policy   policy.Policy
	log      *logger.Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(store Store, gateway RefundGateway, notifier Notifier, passes PassGenerator, pol policy.Policy, log *logger.Logger) *Service {
	return &Service{
		store:    store,
		gateway:  gateway,
		notifier: notifier,
		passes:   passes,
		policy:   pol,
		log:      log,
		validate: newValidator(),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the time source. Tests use it to pin "now".
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) Policy() policy.Policy {
	return s.policy
}

type Availability struct {
	PropertyID string               `json:"property_id"`
	CheckIn    time.Time            `json:"check_in"`
	CheckOut   time.Time            `json:"check_out"`
	Nights     int                  `json:"nights"`
	Available  bool                 `json:"available"`
	Conflicts  []availability.Range `json:"conflicts,omitempty"`
}

type CreateBookingRequest struct {
	PropertyID      string    `json:"property_id" validate:"required"`
	CheckIn         time.Time `json:"check_in"`
	CheckOut        time.Time `json:"check_out"`
	GuestName       string    `json:"guest_name" validate:"required,max=200"`
	GuestEmail      string    `json:"guest_email" validate:"required,email"`
	GuestCount      int       `json:"guest_count" validate:"required,min=1"`
	SpecialRequests string    `json:"special_requests" validate:"max=2000"`
	TotalAmount     float64   `json:"total_amount" validate:"gt=0"`
	Currency        string    `json:"currency" validate:"omitempty,len=3,alpha"`

	// Guest is the authenticated caller, anonymous for guest checkout.
	Guest models.Actor `json:"-"`
}

type BlockDatesRequest struct {
	PropertyID    string    `json:"property_id" validate:"required"`
	StartDate     time.Time `json:"start_date"`
	EndDate       time.Time `json:"end_date"`
	Reason        string    `json:"reason" validate:"max=500"`
	PriceOverride *float64  `json:"price_override" validate:"omitempty,gte=0"`
}

type RefundResult struct {
	RefundID      string               `json:"refund_id"`
	Amount        float64              `json:"amount"`
	Percentage    float64              `json:"percentage"`
	PaymentStatus models.PaymentStatus `json:"payment_status"`
}

type CancelResult struct {
	Booking *models.Booking `json:"booking"`
	Policy  policy.Result   `json:"policy"`
	Refund  *RefundResult   `json:"refund,omitempty"`
}

// ---------------- AVAILABILITY ----------------

// CheckAvailability reports whether [checkIn, checkOut) is free on the
// property's calendar. It reads without locking; CreateBooking re-checks.
func (s *Service) CheckAvailability(ctx context.Context, propertyID string, checkIn, checkOut time.Time) (*Availability, error) {
	if err := validateStay(checkIn, checkOut); err != nil {
		return nil, err
	}
	if _, err := s.property(ctx, propertyID); err != nil {
		return nil, err
	}

	bookings, err := s.store.ActiveBookings(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	blocked, err := s.store.BlockedDates(ctx, propertyID)
	if err != nil {
		return nil, fmt.Errorf("failed to load blocked dates: %w", err)
	}

	conflicts := availability.Conflicts(checkIn, checkOut, bookings, blocked, "")
	return &Availability{
		PropertyID: propertyID,
		CheckIn:    availability.Day(checkIn),
		CheckOut:   availability.Day(checkOut),
		Nights:     nights(checkIn, checkOut),
		Available:  len(conflicts) == 0,
		Conflicts:  conflicts,
	}, nil
}

// ---------------- BOOKINGS ----------------

func (s *Service) CreateBooking(ctx context.Context, req CreateBookingRequest) (*models.Booking, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	if err := validateStay(req.CheckIn, req.CheckOut); err != nil {
		return nil, err
	}
	now := s.now()
	if availability.Day(req.CheckIn).Before(availability.Day(now)) {
		return nil, invalid("check_in", "must not be in the past")
	}

	prop, err := s.property(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if prop.MaxGuests > 0 && req.GuestCount > prop.MaxGuests {
		return nil, invalid("guest_count", fmt.Sprintf("must be at most %d for this property", prop.MaxGuests))
	}
	if !req.Guest.IsAnonymous() && req.Guest.ProfileID == prop.HostID {
		return nil, invalid("property_id", "hosts cannot book their own property")
	}

	currency := strings.ToLower(req.Currency)
	if currency == "" {
		currency = strings.ToLower(prop.Currency)
	}

	b := &models.Booking{
		ID:              uuid.New().String(),
		PropertyID:      prop.ID,
		HostID:          prop.HostID,
		CheckIn:         availability.Day(req.CheckIn),
		CheckOut:        availability.Day(req.CheckOut),
		GuestName:       strings.TrimSpace(req.GuestName),
		GuestEmail:      strings.TrimSpace(req.GuestEmail),
		GuestCount:      req.GuestCount,
		SpecialRequests: req.SpecialRequests,
		Status:          models.BookingPending,
		PaymentStatus:   models.PaymentPending,
		TotalAmount:     req.TotalAmount,
		Currency:        currency,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if !req.Guest.IsAnonymous() {
		guestID := req.Guest.ProfileID
		b.GuestID = &guestID
	}

	check := func(active []models.Booking, blocked []models.BlockedDate) error {
		if conflicts := availability.Conflicts(b.CheckIn, b.CheckOut, active, blocked, ""); len(conflicts) > 0 {
			return &ConflictError{Message: "the requested dates are not available", Conflicts: conflicts}
		}
		return nil
	}
	if err := s.store.CreateBookingIfAvailable(ctx, b, check); err != nil {
		return nil, s.conflictOr(err, "create", "failed to create booking")
	}

	metrics.BookingTransitions.WithLabelValues("none", string(models.BookingPending)).Inc()
	s.log.LogBooking("create", b.ID, fmt.Sprintf("Created pending booking for property %s (%s to %s)",
		b.PropertyID, b.CheckIn.Format(availability.DateLayout), b.CheckOut.Format(availability.DateLayout)))

	s.notifyHost(notify.BookingRequested, b, map[string]interface{}{
		"guest_name":  b.GuestName,
		"guest_count": b.GuestCount,
	})
	return b, nil
}

func (s *Service) GetBooking(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(b, actor); err != nil {
		return nil, err
	}
	return b, nil
}

// AcceptBooking confirms a pending booking on behalf of its host. Availability
// is checked again against the other active bookings and blocked dates.
func (s *Service) AcceptBooking(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(b.HostID, actor); err != nil {
		return nil, err
	}
	if err := CanAccept(b); err != nil {
		metrics.BookingConflicts.WithLabelValues("accept").Inc()
		return nil, err
	}

	check := func(active []models.Booking, blocked []models.BlockedDate) error {
		if conflicts := availability.Conflicts(b.CheckIn, b.CheckOut, active, blocked, b.ID); len(conflicts) > 0 {
			return &ConflictError{Message: "the booking dates are no longer available", Conflicts: conflicts}
		}
		return nil
	}
	confirmed, err := s.store.ConfirmIfAvailable(ctx, id, s.now(), check)
	if err != nil {
		return nil, s.conflictOr(err, "accept", "failed to accept booking")
	}

	metrics.BookingTransitions.WithLabelValues(string(models.BookingPending), string(models.BookingConfirmed)).Inc()
	s.log.LogBooking("accept", id, fmt.Sprintf("Accepted by %s", actor.ProfileID))
	s.notifyGuest(notify.BookingConfirmed, confirmed, nil)
	return confirmed, nil
}

// PreviewCancellation evaluates the cancellation policy without side effects.
func (s *Service) PreviewCancellation(ctx context.Context, id string, actor models.Actor) (*policy.Result, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(b, actor); err != nil {
		return nil, err
	}
	res := s.policy.Evaluate(b.CheckIn, s.now(), b.Status, b.TotalAmount)
	return &res, nil
}

// CancelBooking cancels a booking for its guest or host. When requestRefund is
// set and the policy allows it, the refund is issued before the booking is
// written; a failed refund leaves the booking untouched.
func (s *Service) CancelBooking(ctx context.Context, id string, actor models.Actor, reason string, requestRefund bool) (*CancelResult, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(b, actor); err != nil {
		return nil, err
	}

	now := s.now()
	res := s.policy.Evaluate(b.CheckIn, now, b.Status, b.TotalAmount)
	if b.Status.IsTerminal() || (b.Status == models.BookingConfirmed && !res.CanCancel) {
		metrics.BookingConflicts.WithLabelValues("cancel").Inc()
		return nil, &ConflictError{Message: res.Reason}
	}

	upd := db.CancelUpdate{At: now}
	if r := strings.TrimSpace(reason); r != "" {
		upd.Reason = &r
	}

	var refund *RefundResult
	if requestRefund && res.CanCancel && res.RefundEligible &&
		b.PaymentStatus == models.PaymentPaid && b.PaymentIntentID != nil {
		minor := policy.ToMinorUnits(res.RefundAmount, b.Currency)
		refundID, err := s.gateway.Refund(ctx, *b.PaymentIntentID, minor, "refund-"+b.ID)
		if err != nil {
			s.log.Error("BOOKING", fmt.Sprintf("Refund for booking %s failed: %v", b.ID, err))
			return nil, &ProviderError{Op: "refund", Err: err}
		}

		status := models.PaymentPartiallyRefunded
		if s.policy.IsFullRefund(res.RefundPercentage) {
			status = models.PaymentRefunded
		}
		amount := policy.FromMinorUnits(minor, b.Currency)
		refundReason := "Cancelled by " + cancelledBy(b, actor)
		if upd.Reason != nil {
			refundReason = *upd.Reason
		}
		upd.PaymentStatus = &status
		upd.RefundAmount = &amount
		upd.RefundReason = &refundReason

		refund = &RefundResult{
			RefundID:      refundID,
			Amount:        amount,
			Percentage:    res.RefundPercentage,
			PaymentStatus: status,
		}
	}

	cancelled, err := s.store.CancelBooking(ctx, id, b.Status, upd)
	if err != nil {
		if refund != nil {
			// The provider already moved money; the idempotency key makes a
			// retry of this cancellation reuse the same refund.
			s.log.Error("BOOKING", fmt.Sprintf("Refund %s issued but booking %s was not cancelled: %v", refund.RefundID, id, err))
		}
		return nil, s.conflictOr(err, "cancel", "failed to cancel booking")
	}

	metrics.BookingTransitions.WithLabelValues(string(b.Status), string(models.BookingCancelled)).Inc()
	s.log.LogBooking("cancel", id, fmt.Sprintf("Cancelled by %s (%s)", cancelledBy(b, actor), res.Reason))

	data := map[string]interface{}{"cancelled_by": cancelledBy(b, actor)}
	if refund != nil {
		metrics.RefundsIssued.WithLabelValues(string(refund.PaymentStatus)).Inc()
		data["refund_amount"] = refund.Amount
		data["refund_percentage"] = refund.Percentage
		s.notifyGuest(notify.RefundProcessed, cancelled, map[string]interface{}{
			"refund_id":     refund.RefundID,
			"refund_amount": refund.Amount,
		})
	}
	s.notifyGuest(notify.BookingCancelled, cancelled, data)
	s.notifyHost(notify.BookingCancelled, cancelled, data)

	return &CancelResult{Booking: cancelled, Policy: res, Refund: refund}, nil
}

// CompleteBooking closes a confirmed stay once its check-out day has come.
func (s *Service) CompleteBooking(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(b.HostID, actor); err != nil {
		return nil, err
	}
	if err := CanComplete(b); err != nil {
		return nil, err
	}
	now := s.now()
	if availability.Day(now).Before(availability.Day(b.CheckOut)) {
		return nil, &ConflictError{Message: "the stay has not ended yet"}
	}

	completed, err := s.store.CompleteBooking(ctx, id, now)
	if err != nil {
		return nil, s.conflictOr(err, "complete", "failed to complete booking")
	}

	metrics.BookingTransitions.WithLabelValues(string(models.BookingConfirmed), string(models.BookingCompleted)).Inc()
	s.log.LogBooking("complete", id, "Stay completed")
	s.notifyGuest(notify.BookingCompleted, completed, nil)
	return completed, nil
}

// RetryPayment returns a failed payment to pending so the guest can pay again.
func (s *Service) RetryPayment(ctx context.Context, id string, actor models.Actor) (*models.Booking, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(b, actor); err != nil {
		return nil, err
	}
	if err := CanRetryPayment(b); err != nil {
		return nil, err
	}

	updated, err := s.store.ResetFailedPayment(ctx, id, s.now())
	if err != nil {
		return nil, s.conflictOr(err, "retry_payment", "failed to reset payment")
	}
	s.log.LogBooking("retry_payment", id, "Payment reset to pending")
	return updated, nil
}

// ConfirmationQR renders the check-in pass of a confirmed booking.
func (s *Service) ConfirmationQR(ctx context.Context, id string, actor models.Actor) ([]byte, error) {
	b, err := s.booking(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorizeParty(b, actor); err != nil {
		return nil, err
	}
	if b.Status != models.BookingConfirmed && b.Status != models.BookingCompleted {
		return nil, &ConflictError{Message: fmt.Sprintf("booking is %s, only confirmed bookings have a confirmation code", b.Status)}
	}
	png, err := s.passes.Generate(b)
	if err != nil {
		return nil, fmt.Errorf("failed to generate confirmation code: %w", err)
	}
	return png, nil
}

// PurgeCancelled deletes bookings cancelled more than olderThan ago.
func (s *Service) PurgeCancelled(ctx context.Context, olderThan time.Duration) (int, error) {
	n, err := s.store.PurgeCancelled(ctx, s.now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("failed to purge cancelled bookings: %w", err)
	}
	if n > 0 {
		s.log.LogDatabase("purge", "bookings", fmt.Sprintf("Removed %d cancelled bookings", n))
	}
	return n, nil
}

// ---------------- BLOCKED DATES ----------------

// BlockDates marks [start, end] (end inclusive) unavailable. It is rejected
// while an active booking overlaps the interval.
func (s *Service) BlockDates(ctx context.Context, actor models.Actor, req BlockDatesRequest) (*models.BlockedDate, error) {
	if err := validateStruct(s.validate, req); err != nil {
		return nil, err
	}
	r, err := availability.BlockedRange(req.StartDate, req.EndDate)
	if err != nil {
		return nil, invalid("end_date", err.Error())
	}
	prop, err := s.property(ctx, req.PropertyID)
	if err != nil {
		return nil, err
	}
	if err := authorizeHost(prop.HostID, actor); err != nil {
		return nil, err
	}

	bd := &models.BlockedDate{
		ID:            uuid.New().String(),
		PropertyID:    prop.ID,
		StartDate:     r.Start,
		EndDate:       availability.Day(req.EndDate),
		Reason:        req.Reason,
		PriceOverride: req.PriceOverride,
		CreatedAt:     s.now(),
	}
	check := func(active []models.Booking, _ []models.BlockedDate) error {
		if conflicts := availability.Conflicts(r.Start, r.End, active, nil, ""); len(conflicts) > 0 {
			return &ConflictError{Message: "the dates overlap an active booking", Conflicts: conflicts}
		}
		return nil
	}
	if err := s.store.CreateBlockedDateIfFree(ctx, bd, check); err != nil {
		return nil, s.conflictOr(err, "block_dates", "failed to block dates")
	}

	s.log.Info("CALENDAR", fmt.Sprintf("Blocked %s to %s on property %s",
		bd.StartDate.Format(availability.DateLayout), bd.EndDate.Format(availability.DateLayout), bd.PropertyID))
	return bd, nil
}

func (s *Service) UnblockDates(ctx context.Context, actor models.Actor, propertyID, blockedDateID string) error {
	bd, err := s.store.GetBlockedDate(ctx, blockedDateID)
	if err != nil {
		return notFound("blocked date", blockedDateID, err)
	}
	if bd.PropertyID != propertyID {
		return fmt.Errorf("blocked date %s: %w", blockedDateID, ErrNotFound)
	}
	prop, err := s.property(ctx, propertyID)
	if err != nil {
		return err
	}
	if err := authorizeHost(prop.HostID, actor); err != nil {
		return err
	}
	if err := s.store.DeleteBlockedDate(ctx, blockedDateID); err != nil {
		return notFound("blocked date", blockedDateID, err)
	}
	s.log.Info("CALENDAR", fmt.Sprintf("Unblocked %s on property %s", blockedDateID, propertyID))
	return nil
}

// ---------------- PAYMENT TRANSITIONS ----------------

// ResolveBookingID finds the booking a provider payment intent belongs to.
func (s *Service) ResolveBookingID(ctx context.Context, paymentIntentID string) (string, error) {
	b, err := s.store.GetBookingByPaymentIntent(ctx, paymentIntentID)
	if err != nil {
		return "", notFound("payment intent", paymentIntentID, err)
	}
	return b.ID, nil
}

// ApplyPaymentSuccess confirms the booking and marks it paid. Replays and late
// events for cancelled or completed bookings are logged no-ops.
func (s *Service) ApplyPaymentSuccess(ctx context.Context, bookingID, paymentIntentID string) (bool, error) {
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return false, err
	}

	action := PaymentSuccessAction(b)
	if action != PaymentApply {
		s.log.LogBooking("payment_succeeded", bookingID, fmt.Sprintf("Skipped (%s): status %s, payment %s", action, b.Status, b.PaymentStatus))
		return false, nil
	}

	applied, err := s.store.MarkPaid(ctx, bookingID, paymentIntentID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to mark booking %s paid: %w", bookingID, err)
	}
	if !applied {
		s.log.LogBooking("payment_succeeded", bookingID, "Skipped: booking changed concurrently")
		return false, nil
	}

	if b.Status != models.BookingConfirmed {
		metrics.BookingTransitions.WithLabelValues(string(b.Status), string(models.BookingConfirmed)).Inc()
	}
	b.Status, b.PaymentStatus = models.BookingConfirmed, models.PaymentPaid
	s.log.LogBooking("payment_succeeded", bookingID, "Payment received, booking confirmed")
	s.notifyGuest(notify.PaymentReceived, b, map[string]interface{}{"amount": b.TotalAmount, "currency": b.Currency})
	s.notifyHost(notify.BookingConfirmed, b, nil)
	return true, nil
}

// ApplyPaymentFailure records a failed payment. A paid booking is never
// downgraded.
func (s *Service) ApplyPaymentFailure(ctx context.Context, bookingID string) (bool, error) {
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return false, err
	}

	action := PaymentFailureAction(b)
	if action != PaymentApply {
		s.log.LogBooking("payment_failed", bookingID, fmt.Sprintf("Skipped (%s): status %s, payment %s", action, b.Status, b.PaymentStatus))
		return false, nil
	}

	applied, err := s.store.MarkPaymentFailed(ctx, bookingID, s.now())
	if err != nil {
		return false, fmt.Errorf("failed to mark booking %s payment failed: %w", bookingID, err)
	}
	if !applied {
		s.log.LogBooking("payment_failed", bookingID, "Skipped: booking changed concurrently")
		return false, nil
	}

	b.Status, b.PaymentStatus = models.BookingPending, models.PaymentFailed
	s.log.LogBooking("payment_failed", bookingID, "Payment failed")
	s.notifyGuest(notify.PaymentFailed, b, nil)
	return true, nil
}

// ApplyRefund records a provider refund. refundedMinor is the cumulative
// amount refunded on the charge and chargedMinor the charge amount. A refund
// for a live booking whose payment is not recorded yet returns
// ErrPaymentNotSettled so the event is redelivered after the payment.
func (s *Service) ApplyRefund(ctx context.Context, bookingID string, refundedMinor, chargedMinor int64) (bool, error) {
	if refundedMinor <= 0 {
		return false, nil
	}
	b, err := s.booking(ctx, bookingID)
	if err != nil {
		return false, err
	}

	status := RefundPaymentStatus(refundedMinor, chargedMinor)
	amount := policy.FromMinorUnits(refundedMinor, b.Currency)
	action := RefundAction(b, status, amount)
	if action == PaymentDefer {
		s.log.LogBooking("refund", bookingID, fmt.Sprintf("Deferred: payment %s not settled", b.PaymentStatus))
		return false, fmt.Errorf("refund for booking %s: %w", bookingID, ErrPaymentNotSettled)
	}
	if action != PaymentApply {
		s.log.LogBooking("refund", bookingID, fmt.Sprintf("Skipped (%s): payment %s", action, b.PaymentStatus))
		return false, nil
	}

	applied, err := s.store.RecordRefund(ctx, bookingID, status, amount, "Refunded by payment provider", s.now())
	if err != nil {
		return false, fmt.Errorf("failed to record refund for booking %s: %w", bookingID, err)
	}
	if !applied {
		return false, nil
	}

	s.log.LogBooking("refund", bookingID, fmt.Sprintf("Recorded %s refund of %.2f", status, amount))
	s.notifyGuest(notify.RefundProcessed, b, map[string]interface{}{"refund_amount": amount})
	return true, nil
}

// ---------------- HELPERS ----------------

func (s *Service) booking(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.store.GetBooking(ctx, id)
	if err != nil {
		return nil, notFound("booking", id, err)
	}
	return b, nil
}

func (s *Service) property(ctx context.Context, id string) (*models.Property, error) {
	p, err := s.store.GetProperty(ctx, id)
	if err != nil {
		return nil, notFound("property", id, err)
	}
	return p, nil
}

func notFound(kind, id string, err error) error {
	if errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	return fmt.Errorf("failed to load %s %s: %w", kind, id, err)
}

// conflictOr passes domain errors through, turns a lost conditional write into
// a ConflictError and wraps anything else.
func (s *Service) conflictOr(err error, op, msg string) error {
	var conflict *ConflictError
	switch {
	case errors.As(err, &conflict):
		metrics.BookingConflicts.WithLabelValues(op).Inc()
		return err
	case errors.Is(err, models.ErrStaleState):
		metrics.BookingConflicts.WithLabelValues(op).Inc()
		return &ConflictError{Message: "the booking was modified by another request, reload and try again"}
	case errors.Is(err, models.ErrNotFound):
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func (s *Service) notifyGuest(t notify.Template, b *models.Booking, data map[string]interface{}) {
	s.notify(t, b.GuestEmail, notify.RecipientEmail, b, data)
}

func (s *Service) notifyHost(t notify.Template, b *models.Booking, data map[string]interface{}) {
	s.notify(t, b.HostID, notify.RecipientProfile, b, data)
}

func (s *Service) notify(t notify.Template, recipient string, kind notify.RecipientKind, b *models.Booking, data map[string]interface{}) {
	if s.notifier == nil || recipient == "" {
		return
	}
	payload := map[string]interface{}{
		"property_id": b.PropertyID,
		"check_in":    b.CheckIn.Format(availability.DateLayout),
		"check_out":   b.CheckOut.Format(availability.DateLayout),
		"status":      b.Status,
	}
	for k, v := range data {
		payload[k] = v
	}
	s.notifier.Dispatch(notify.Message{
		Template:      t,
		Recipient:     recipient,
		RecipientKind: kind,
		BookingID:     b.ID,
		Data:          payload,
	})
}

func validateStay(checkIn, checkOut time.Time) error {
	switch err := availability.Validate(checkIn, checkOut); {
	case errors.Is(err, availability.ErrMissingDates):
		fields := map[string]string{}
		if checkIn.IsZero() {
			fields["check_in"] = "is required"
		}
		if checkOut.IsZero() {
			fields["check_out"] = "is required"
		}
		return &ValidationError{Fields: fields}
	case err != nil:
		return invalid("check_out", err.Error())
	}
	return nil
}

func nights(checkIn, checkOut time.Time) int {
	return int(availability.Day(checkOut).Sub(availability.Day(checkIn)).Hours() / 24)
}

func authorizeParty(b *models.Booking, actor models.Actor) error {
	if actor.IsAdmin() || b.IsParty(actor.ProfileID) {
		return nil
	}
	return &AuthorizationError{Message: "only the guest or the host of this booking may do this"}
}

func authorizeHost(hostID string, actor models.Actor) error {
	if actor.IsAdmin() || (actor.ProfileID != "" && actor.ProfileID == hostID) {
		return nil
	}
	return &AuthorizationError{Message: "only the host of this property may do this"}
}

func cancelledBy(b *models.Booking, actor models.Actor) string {
	switch {
	case actor.ProfileID != "" && actor.ProfileID == b.HostID:
		return "host"
	case actor.IsAdmin() && !b.IsParty(actor.ProfileID):
		return "admin"
	}
	return "guest"
}
