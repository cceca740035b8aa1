package db_test

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-rentals/internal/booking/db"
	"ms-rentals/internal/models"
)

var errTaken = errors.New("taken")

func setupTestDB(t *testing.T) *db.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// every connection to :memory: is a separate database
	sqldb.SetMaxOpenConns(1)

	bunDB := bun.NewDB(sqldb, sqlitedialect.New())
	t.Cleanup(func() { _ = bunDB.Close() })

	for _, m := range []interface{}{
		(*models.Property)(nil),
		(*models.Booking)(nil),
		(*models.BlockedDate)(nil),
		(*models.WebhookEvent)(nil),
	} {
		_, err := bunDB.NewCreateTable().Model(m).Exec(context.Background())
		require.NoError(t, err)
	}

	return db.New(bunDB, sql.LevelDefault)
}

func newBooking(propertyID string, status models.BookingStatus, checkIn time.Time, nights int) *models.Booking {
	now := time.Now().UTC()
	return &models.Booking{
		ID:            uuid.NewString(),
		PropertyID:    propertyID,
		HostID:        "host-1",
		CheckIn:       checkIn,
		CheckOut:      checkIn.AddDate(0, 0, nights),
		GuestName:     "Ada",
		GuestEmail:    "ada@example.com",
		GuestCount:    2,
		Status:        status,
		PaymentStatus: models.PaymentPending,
		TotalAmount:   400,
		Currency:      "usd",
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func insert(t *testing.T, d *db.DB, b *models.Booking) {
	t.Helper()
	_, err := d.Bun.NewInsert().Model(b).Exec(context.Background())
	require.NoError(t, err)
}

var june = time.Date(2030, 6, 1, 0, 0, 0, 0, time.UTC)

func TestGetBookingNotFound(t *testing.T) {
	d := setupTestDB(t)

	b, err := d.GetBooking(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.Nil(t, b)
}

func TestActiveBookingsSkipsInactive(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	insert(t, d, newBooking("p1", models.BookingPending, june, 3))
	insert(t, d, newBooking("p1", models.BookingConfirmed, june.AddDate(0, 0, 5), 3))
	insert(t, d, newBooking("p1", models.BookingCancelled, june, 3))
	insert(t, d, newBooking("p1", models.BookingCompleted, june, 3))
	insert(t, d, newBooking("p2", models.BookingPending, june, 3))

	active, err := d.ActiveBookings(ctx, "p1")
	require.NoError(t, err)
	assert.Len(t, active, 2)
}

func TestCreateBookingIfAvailable(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	first := newBooking("p1", models.BookingPending, june, 3)
	err := d.CreateBookingIfAvailable(ctx, first, func(active []models.Booking, _ []models.BlockedDate) error {
		assert.Empty(t, active)
		return nil
	})
	require.NoError(t, err)

	// The check sees the first booking and rejects the second.
	second := newBooking("p1", models.BookingPending, june, 3)
	err = d.CreateBookingIfAvailable(ctx, second, func(active []models.Booking, _ []models.BlockedDate) error {
		require.Len(t, active, 1)
		return errTaken
	})
	assert.ErrorIs(t, err, errTaken)

	_, err = d.GetBooking(ctx, second.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestConfirmIfAvailableOnlyFromPending(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingPending, june, 3)
	insert(t, d, b)

	ok := func([]models.Booking, []models.BlockedDate) error { return nil }

	confirmed, err := d.ConfirmIfAvailable(ctx, b.ID, time.Now().UTC(), ok)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, confirmed.Status)

	_, err = d.ConfirmIfAvailable(ctx, b.ID, time.Now().UTC(), ok)
	assert.ErrorIs(t, err, models.ErrStaleState)

	_, err = d.ConfirmIfAvailable(ctx, "missing", time.Now().UTC(), ok)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestCancelThenConfirmLosesRace(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingPending, june, 3)
	insert(t, d, b)

	reason := "plans changed"
	cancelled, err := d.CancelBooking(ctx, b.ID, models.BookingPending, db.CancelUpdate{At: time.Now().UTC(), Reason: &reason})
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancellationReason)
	assert.Equal(t, reason, *cancelled.CancellationReason)
	assert.NotNil(t, cancelled.CancelledAt)

	_, err = d.ConfirmIfAvailable(ctx, b.ID, time.Now().UTC(), func([]models.Booking, []models.BlockedDate) error { return nil })
	assert.ErrorIs(t, err, models.ErrStaleState)

	// A second cancel with the stale expected status also misses.
	_, err = d.CancelBooking(ctx, b.ID, models.BookingPending, db.CancelUpdate{At: time.Now().UTC()})
	assert.ErrorIs(t, err, models.ErrStaleState)
}

func TestCancelBookingWithRefund(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingConfirmed, june, 3)
	b.PaymentStatus = models.PaymentPaid
	insert(t, d, b)

	status := models.PaymentPartiallyRefunded
	amount := 200.0
	refundReason := "guest cancellation"
	got, err := d.CancelBooking(ctx, b.ID, models.BookingConfirmed, db.CancelUpdate{
		At:            time.Now().UTC(),
		PaymentStatus: &status,
		RefundAmount:  &amount,
		RefundReason:  &refundReason,
	})
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPartiallyRefunded, got.PaymentStatus)
	require.NotNil(t, got.RefundAmount)
	assert.Equal(t, 200.0, *got.RefundAmount)
	assert.NotNil(t, got.RefundDate)
}

func TestMarkPaidIsIdempotent(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingPending, june, 3)
	insert(t, d, b)

	applied, err := d.MarkPaid(ctx, b.ID, "pi_123", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.MarkPaid(ctx, b.ID, "pi_123", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := d.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, models.PaymentPaid, got.PaymentStatus)
	require.NotNil(t, got.PaymentIntentID)
	assert.Equal(t, "pi_123", *got.PaymentIntentID)

	byIntent, err := d.GetBookingByPaymentIntent(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, b.ID, byIntent.ID)
}

func TestMarkPaidSkipsTerminalBookings(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingCancelled, june, 3)
	insert(t, d, b)

	applied, err := d.MarkPaid(ctx, b.ID, "pi_1", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := d.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, models.BookingCancelled, got.Status)
	assert.Equal(t, models.PaymentPending, got.PaymentStatus)
}

func TestPaymentFailureAndRetry(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingPending, june, 3)
	insert(t, d, b)

	applied, err := d.MarkPaymentFailed(ctx, b.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	// Already failed, nothing to do.
	applied, err = d.MarkPaymentFailed(ctx, b.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	reset, err := d.ResetFailedPayment(ctx, b.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.PaymentPending, reset.PaymentStatus)

	_, err = d.ResetFailedPayment(ctx, b.ID, time.Now().UTC())
	assert.ErrorIs(t, err, models.ErrStaleState)

	// A late success after a failure still confirms.
	applied, err = d.MarkPaid(ctx, b.ID, "", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.MarkPaymentFailed(ctx, b.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestRecordRefund(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	unpaid := newBooking("p1", models.BookingConfirmed, june, 3)
	insert(t, d, unpaid)

	applied, err := d.RecordRefund(ctx, unpaid.ID, models.PaymentRefunded, 400, "requested_by_customer", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	paid := newBooking("p1", models.BookingConfirmed, june.AddDate(0, 1, 0), 3)
	paid.PaymentStatus = models.PaymentPaid
	insert(t, d, paid)

	applied, err = d.RecordRefund(ctx, paid.ID, models.PaymentPartiallyRefunded, 100, "requested_by_customer", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.RecordRefund(ctx, paid.ID, models.PaymentRefunded, 400, "later", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	got, err := d.GetBooking(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentRefunded, got.PaymentStatus)
	assert.Equal(t, models.BookingConfirmed, got.Status)
	assert.Equal(t, 400.0, *got.RefundAmount)
	assert.Equal(t, "requested_by_customer", *got.RefundReason)
}

func TestRecordRefundIgnoresSmallerRunningTotal(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	b := newBooking("p1", models.BookingConfirmed, june, 3)
	b.PaymentStatus = models.PaymentPaid
	insert(t, d, b)

	applied, err := d.RecordRefund(ctx, b.ID, models.PaymentPartiallyRefunded, 500, "requested_by_customer", time.Now().UTC())
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = d.RecordRefund(ctx, b.ID, models.PaymentPartiallyRefunded, 300, "requested_by_customer", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	applied, err = d.RecordRefund(ctx, b.ID, models.PaymentPartiallyRefunded, 500, "requested_by_customer", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, applied)

	got, err := d.GetBooking(ctx, b.ID)
	require.NoError(t, err)
	assert.Equal(t, 500.0, *got.RefundAmount)
	assert.Equal(t, models.PaymentPartiallyRefunded, got.PaymentStatus)
}

func TestCompleteBooking(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	pending := newBooking("p1", models.BookingPending, june, 3)
	insert(t, d, pending)

	_, err := d.CompleteBooking(ctx, pending.ID, time.Now().UTC())
	assert.ErrorIs(t, err, models.ErrStaleState)

	confirmed := newBooking("p1", models.BookingConfirmed, june.AddDate(0, 0, 5), 3)
	insert(t, d, confirmed)

	got, err := d.CompleteBooking(ctx, confirmed.ID, time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, models.BookingCompleted, got.Status)
}

func TestPurgeCancelled(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	old := newBooking("p1", models.BookingCancelled, june, 3)
	oldAt := now.AddDate(-2, 0, 0)
	old.CancelledAt = &oldAt
	insert(t, d, old)

	recent := newBooking("p1", models.BookingCancelled, june, 3)
	recentAt := now.AddDate(0, -1, 0)
	recent.CancelledAt = &recentAt
	insert(t, d, recent)

	insert(t, d, newBooking("p1", models.BookingConfirmed, june, 3))

	n, err := d.PurgeCancelled(ctx, now.AddDate(-1, 0, 0))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = d.GetBooking(ctx, old.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = d.GetBooking(ctx, recent.ID)
	assert.NoError(t, err)
}

func TestBlockedDates(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()

	bd := &models.BlockedDate{
		ID:         uuid.NewString(),
		PropertyID: "p1",
		StartDate:  june,
		EndDate:    june.AddDate(0, 0, 2),
		Reason:     "maintenance",
		CreatedAt:  time.Now().UTC(),
	}
	require.NoError(t, d.CreateBlockedDateIfFree(ctx, bd, func([]models.Booking, []models.BlockedDate) error { return nil }))

	rejected := *bd
	rejected.ID = uuid.NewString()
	err := d.CreateBlockedDateIfFree(ctx, &rejected, func(_ []models.Booking, blocked []models.BlockedDate) error {
		require.Len(t, blocked, 1)
		return errTaken
	})
	assert.ErrorIs(t, err, errTaken)

	got, err := d.GetBlockedDate(ctx, bd.ID)
	require.NoError(t, err)
	assert.Equal(t, "maintenance", got.Reason)

	require.NoError(t, d.DeleteBlockedDate(ctx, bd.ID))
	assert.ErrorIs(t, d.DeleteBlockedDate(ctx, bd.ID), models.ErrNotFound)
}

func TestWebhookEventDeduplication(t *testing.T) {
	d := setupTestDB(t)
	ctx := context.Background()
	now := time.Now().UTC()

	ev := &models.WebhookEvent{EventID: "evt_1", EventType: "payment_intent.succeeded", CreatedAt: now}
	inserted, err := d.InsertWebhookEvent(ctx, ev)
	require.NoError(t, err)
	assert.True(t, inserted)

	dup := &models.WebhookEvent{EventID: "evt_1", EventType: "payment_intent.succeeded", CreatedAt: now}
	inserted, err = d.InsertWebhookEvent(ctx, dup)
	require.NoError(t, err)
	assert.False(t, inserted)

	ok, err := d.RecordWebhookAttempt(ctx, "evt_1", now)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, d.MarkWebhookFailed(ctx, "evt_1", "boom", now))
	got, err := d.GetWebhookEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessingAttempts)
	require.NotNil(t, got.LastError)
	assert.Equal(t, "boom", *got.LastError)

	require.NoError(t, d.MarkWebhookProcessed(ctx, "evt_1", "booking-1", now))
	got, err = d.GetWebhookEvent(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, got.Processed)
	assert.Nil(t, got.LastError)
	require.NotNil(t, got.BookingID)
	assert.Equal(t, "booking-1", *got.BookingID)

	// Processed events no longer accept attempts.
	ok, err = d.RecordWebhookAttempt(ctx, "evt_1", now)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = d.GetWebhookEvent(ctx, "evt_missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}
