package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/uptrace/bun"

	"ms-rentals/internal/models"
)

// serializationFailure is the postgres SQLSTATE for a serializable transaction
// that lost a conflict.
const serializationFailure = "40001"

type DB struct {
	Bun *bun.DB
	// TxIsolation is used for the check-then-write transactions. Postgres runs
	// with sql.LevelSerializable; sqlite tests leave it at the default.
	TxIsolation sql.IsolationLevel
}

func New(bunDB *bun.DB, isolation sql.IsolationLevel) *DB {
	return &DB{Bun: bunDB, TxIsolation: isolation}
}

// AvailabilityCheck inspects the active bookings and blocked dates of a
// property inside the write transaction. A non-nil error aborts the write and is
// returned to the caller unchanged.
type AvailabilityCheck func(active []models.Booking, blocked []models.BlockedDate) error

// CancelUpdate carries the columns written when a booking is cancelled.
type CancelUpdate struct {
	At            time.Time
	Reason        *string
	PaymentStatus *models.PaymentStatus
	RefundAmount  *float64
	RefundReason  *string
}

func (d *DB) txOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: d.TxIsolation}
}

func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return models.ErrNotFound
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == serializationFailure {
		return models.ErrStaleState
	}
	return err
}

func affected(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// ---------------- PROPERTIES ----------------

func (d *DB) GetProperty(ctx context.Context, id string) (*models.Property, error) {
	var p models.Property
	err := d.Bun.NewSelect().
		Model(&p).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &p, nil
}

func (d *DB) CreateProperty(ctx context.Context, p *models.Property) error {
	_, err := d.Bun.NewInsert().Model(p).Exec(ctx)
	return err
}

// ---------------- BOOKINGS ----------------

func (d *DB) GetBooking(ctx context.Context, id string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// GetBookingByPaymentIntent resolves the booking a provider payment belongs to.
func (d *DB) GetBookingByPaymentIntent(ctx context.Context, paymentIntentID string) (*models.Booking, error) {
	var b models.Booking
	err := d.Bun.NewSelect().
		Model(&b).
		Where("payment_intent_id = ?", paymentIntentID).
		OrderExpr("created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &b, nil
}

// ActiveBookings returns the pending and confirmed bookings of a property.
func (d *DB) ActiveBookings(ctx context.Context, propertyID string) ([]models.Booking, error) {
	return activeBookings(ctx, d.Bun, propertyID)
}

func (d *DB) BlockedDates(ctx context.Context, propertyID string) ([]models.BlockedDate, error) {
	return blockedDates(ctx, d.Bun, propertyID)
}

func activeBookings(ctx context.Context, idb bun.IDB, propertyID string) ([]models.Booking, error) {
	var bookings []models.Booking
	err := idb.NewSelect().
		Model(&bookings).
		Where("property_id = ?", propertyID).
		Where("status IN (?)", bun.In(models.ActiveStatuses)).
		OrderExpr("check_in ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return bookings, nil
}

func blockedDates(ctx context.Context, idb bun.IDB, propertyID string) ([]models.BlockedDate, error) {
	var blocked []models.BlockedDate
	err := idb.NewSelect().
		Model(&blocked).
		Where("property_id = ?", propertyID).
		OrderExpr("start_date ASC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return blocked, nil
}

// CreateBookingIfAvailable runs check against the property's calendar and
// inserts b in the same transaction.
func (d *DB) CreateBookingIfAvailable(ctx context.Context, b *models.Booking, check AvailabilityCheck) error {
	err := d.Bun.RunInTx(ctx, d.txOptions(), func(ctx context.Context, tx bun.Tx) error {
		active, err := activeBookings(ctx, tx, b.PropertyID)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		blocked, err := blockedDates(ctx, tx, b.PropertyID)
		if err != nil {
			return fmt.Errorf("load blocked dates: %w", err)
		}
		if err := check(active, blocked); err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(b).Exec(ctx)
		return err
	})
	return translate(err)
}

// ConfirmIfAvailable moves a pending booking to confirmed after check passes.
// The write only matches while the booking is still pending; otherwise
// ErrStaleState is returned.
func (d *DB) ConfirmIfAvailable(ctx context.Context, id string, now time.Time, check AvailabilityCheck) (*models.Booking, error) {
	var out models.Booking
	err := d.Bun.RunInTx(ctx, d.txOptions(), func(ctx context.Context, tx bun.Tx) error {
		var b models.Booking
		if err := tx.NewSelect().Model(&b).Where("id = ?", id).Limit(1).Scan(ctx); err != nil {
			return err
		}
		active, err := activeBookings(ctx, tx, b.PropertyID)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		blocked, err := blockedDates(ctx, tx, b.PropertyID)
		if err != nil {
			return fmt.Errorf("load blocked dates: %w", err)
		}
		if err := check(active, blocked); err != nil {
			return err
		}

		res, err := tx.NewUpdate().
			Model((*models.Booking)(nil)).
			Set("status = ?", models.BookingConfirmed).
			Set("updated_at = ?", now).
			Where("id = ?", id).
			Where("status = ?", models.BookingPending).
			Exec(ctx)
		if err != nil {
			return err
		}
		ok, err := affected(res)
		if err != nil {
			return err
		}
		if !ok {
			return models.ErrStaleState
		}
		return tx.NewSelect().Model(&out).Where("id = ?", id).Limit(1).Scan(ctx)
	})
	if err != nil {
		return nil, translate(err)
	}
	return &out, nil
}

// CancelBooking cancels a booking that is still in expected status.
func (d *DB) CancelBooking(ctx context.Context, id string, expected models.BookingStatus, upd CancelUpdate) (*models.Booking, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingCancelled).
		Set("cancelled_at = ?", upd.At).
		Set("updated_at = ?", upd.At).
		Set("cancellation_reason = ?", upd.Reason).
		Where("id = ?", id).
		Where("status = ?", expected)

	if upd.PaymentStatus != nil {
		q = q.Set("payment_status = ?", *upd.PaymentStatus).
			Set("refund_amount = ?", upd.RefundAmount).
			Set("refund_date = ?", upd.At).
			Set("refund_reason = ?", upd.RefundReason)
	}

	return d.conditional(ctx, id, q)
}

// CompleteBooking marks a confirmed booking as completed.
func (d *DB) CompleteBooking(ctx context.Context, id string, now time.Time) (*models.Booking, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingCompleted).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("status = ?", models.BookingConfirmed)
	return d.conditional(ctx, id, q)
}

// MarkPaid records a successful payment. It matches only bookings that are
// not terminal and not already paid, so replays and late events are no-ops.
func (d *DB) MarkPaid(ctx context.Context, id, paymentIntentID string, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingConfirmed).
		Set("payment_status = ?", models.PaymentPaid).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("payment_status IN (?)", bun.In([]models.PaymentStatus{models.PaymentPending, models.PaymentFailed})).
		Where("status NOT IN (?)", bun.In(models.TerminalStatuses))
	if paymentIntentID != "" {
		q = q.Set("payment_intent_id = ?", paymentIntentID)
	}
	return d.exec(ctx, q)
}

// MarkPaymentFailed moves a booking awaiting payment back to pending with a
// failed payment.
func (d *DB) MarkPaymentFailed(ctx context.Context, id string, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("status = ?", models.BookingPending).
		Set("payment_status = ?", models.PaymentFailed).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("payment_status = ?", models.PaymentPending).
		Where("status NOT IN (?)", bun.In(models.TerminalStatuses))
	return d.exec(ctx, q)
}

// ResetFailedPayment lets the guest retry after a failed payment.
func (d *DB) ResetFailedPayment(ctx context.Context, id string, now time.Time) (*models.Booking, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("payment_status = ?", models.PaymentPending).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("payment_status = ?", models.PaymentFailed).
		Where("status NOT IN (?)", bun.In(models.TerminalStatuses))
	return d.conditional(ctx, id, q)
}

// RecordRefund stores a provider-reported refund. Booking status is left
// untouched; only paid or partially refunded bookings match, and amount is a
// running total so it applies only when larger than the recorded one.
func (d *DB) RecordRefund(ctx context.Context, id string, status models.PaymentStatus, amount float64, reason string, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.Booking)(nil)).
		Set("payment_status = ?", status).
		Set("refund_amount = ?", amount).
		Set("refund_date = ?", now).
		Set("refund_reason = COALESCE(refund_reason, ?)", reason).
		Set("updated_at = ?", now).
		Where("id = ?", id).
		Where("payment_status IN (?)", bun.In([]models.PaymentStatus{models.PaymentPaid, models.PaymentPartiallyRefunded})).
		Where("(refund_amount IS NULL OR refund_amount < ?)", amount)
	return d.exec(ctx, q)
}

// PurgeCancelled deletes cancelled bookings whose cancellation is older than
// before and returns how many were removed.
func (d *DB) PurgeCancelled(ctx context.Context, before time.Time) (int, error) {
	res, err := d.Bun.NewDelete().
		Model((*models.Booking)(nil)).
		Where("status = ?", models.BookingCancelled).
		Where("cancelled_at < ?", before).
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (d *DB) exec(ctx context.Context, q *bun.UpdateQuery) (bool, error) {
	res, err := q.Exec(ctx)
	if err != nil {
		return false, translate(err)
	}
	return affected(res)
}

// conditional runs a guarded update and returns the fresh row. A miss is
// reported as ErrNotFound when the row is gone and ErrStaleState otherwise.
func (d *DB) conditional(ctx context.Context, id string, q *bun.UpdateQuery) (*models.Booking, error) {
	ok, err := d.exec(ctx, q)
	if err != nil {
		return nil, err
	}
	b, err := d.GetBooking(ctx, id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, models.ErrStaleState
	}
	return b, nil
}

// ---------------- BLOCKED DATES ----------------

func (d *DB) GetBlockedDate(ctx context.Context, id string) (*models.BlockedDate, error) {
	var bd models.BlockedDate
	err := d.Bun.NewSelect().
		Model(&bd).
		Where("id = ?", id).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &bd, nil
}

// CreateBlockedDateIfFree inserts bd after check accepts the calendar.
func (d *DB) CreateBlockedDateIfFree(ctx context.Context, bd *models.BlockedDate, check AvailabilityCheck) error {
	err := d.Bun.RunInTx(ctx, d.txOptions(), func(ctx context.Context, tx bun.Tx) error {
		active, err := activeBookings(ctx, tx, bd.PropertyID)
		if err != nil {
			return fmt.Errorf("load bookings: %w", err)
		}
		blocked, err := blockedDates(ctx, tx, bd.PropertyID)
		if err != nil {
			return fmt.Errorf("load blocked dates: %w", err)
		}
		if err := check(active, blocked); err != nil {
			return err
		}
		_, err = tx.NewInsert().Model(bd).Exec(ctx)
		return err
	})
	return translate(err)
}

func (d *DB) DeleteBlockedDate(ctx context.Context, id string) error {
	res, err := d.Bun.NewDelete().
		Model((*models.BlockedDate)(nil)).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return err
	}
	ok, err := affected(res)
	if err != nil {
		return err
	}
	if !ok {
		return models.ErrNotFound
	}
	return nil
}

// ---------------- WEBHOOK EVENTS ----------------

// InsertWebhookEvent stores ev unless an event with the same id exists. It
// reports whether this call created the row.
func (d *DB) InsertWebhookEvent(ctx context.Context, ev *models.WebhookEvent) (bool, error) {
	res, err := d.Bun.NewInsert().
		Model(ev).
		On("CONFLICT (event_id) DO NOTHING").
		Exec(ctx)
	if err != nil {
		return false, translate(err)
	}
	return affected(res)
}

func (d *DB) GetWebhookEvent(ctx context.Context, eventID string) (*models.WebhookEvent, error) {
	var ev models.WebhookEvent
	err := d.Bun.NewSelect().
		Model(&ev).
		Where("event_id = ?", eventID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return nil, translate(err)
	}
	return &ev, nil
}

// RecordWebhookAttempt bumps the attempt counter of an unprocessed event. It
// reports false when the event was processed in the meantime.
func (d *DB) RecordWebhookAttempt(ctx context.Context, eventID string, now time.Time) (bool, error) {
	q := d.Bun.NewUpdate().
		Model((*models.WebhookEvent)(nil)).
		Set("processing_attempts = processing_attempts + 1").
		Set("last_attempt_at = ?", now).
		Where("event_id = ?", eventID).
		Where("processed = ?", false)
	return d.exec(ctx, q)
}

func (d *DB) MarkWebhookProcessed(ctx context.Context, eventID, bookingID string, now time.Time) error {
	q := d.Bun.NewUpdate().
		Model((*models.WebhookEvent)(nil)).
		Set("processed = ?", true).
		Set("processed_at = ?", now).
		Set("last_error = NULL").
		Where("event_id = ?", eventID)
	if bookingID != "" {
		q = q.Set("booking_id = ?", bookingID)
	}
	_, err := d.exec(ctx, q)
	return err
}

func (d *DB) MarkWebhookFailed(ctx context.Context, eventID, reason string, now time.Time) error {
	q := d.Bun.NewUpdate().
		Model((*models.WebhookEvent)(nil)).
		Set("last_error = ?", reason).
		Set("last_attempt_at = ?", now).
		Where("event_id = ?", eventID).
		Where("processed = ?", false)
	_, err := d.exec(ctx, q)
	return err
}
