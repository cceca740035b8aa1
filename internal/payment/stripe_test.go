package payment_test

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/webhook"

	"ms-rentals/internal/logger"
	"ms-rentals/internal/payment"
)

const testSecret = "whsec_test"

func sign(t *testing.T, payload []byte) string {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    testSecret,
		Timestamp: time.Now(),
	})
	return signed.Header
}

func eventJSON(id, typ, object string) []byte {
	return []byte(`{"id":"` + id + `","object":"event","type":"` + typ + `","data":{"object":` + object + `}}`)
}

func TestVerifyEvent(t *testing.T) {
	g := payment.NewStripeGateway("", testSecret, logger.NewDiscardLogger())
	payload := eventJSON("evt_1", "payment_intent.succeeded", `{"id":"pi_1","object":"payment_intent","amount":1000,"metadata":{"booking_id":"b1"}}`)

	event, err := g.VerifyEvent(payload, sign(t, payload))
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)

	_, err = g.VerifyEvent(payload, "t=1,v1=deadbeef")
	var whErr *payment.WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, http.StatusBadRequest, whErr.StatusCode)
	assert.Equal(t, "validation", whErr.Category)

	_, err = g.VerifyEvent(payload, "")
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, "Missing webhook signature", whErr.PublicError)
}

func TestVerifyEventWithoutSecret(t *testing.T) {
	g := payment.NewStripeGateway("", "", logger.NewDiscardLogger())

	_, err := g.VerifyEvent([]byte(`{}`), "t=1,v1=x")
	var whErr *payment.WebhookError
	require.ErrorAs(t, err, &whErr)
	assert.Equal(t, "configuration", whErr.Category)
	assert.Equal(t, http.StatusInternalServerError, whErr.StatusCode)
}

func TestRefundWithoutClient(t *testing.T) {
	g := payment.NewStripeGateway("", testSecret, logger.NewDiscardLogger())

	_, err := g.Refund(context.Background(), "pi_1", 100, "refund-b1")
	assert.ErrorIs(t, err, payment.ErrStripeNotConfigured)
}

func parse(t *testing.T, raw []byte) payment.Event {
	t.Helper()
	var e stripe.Event
	require.NoError(t, json.Unmarshal(raw, &e))
	ev, err := payment.ParseStripeEvent(e)
	require.NoError(t, err)
	return ev
}

func TestParseStripeEvent(t *testing.T) {
	ev := parse(t, eventJSON("evt_1", "payment_intent.succeeded",
		`{"id":"pi_1","object":"payment_intent","amount":100000,"currency":"usd","metadata":{"booking_id":"b1"}}`))
	assert.Equal(t, payment.KindPaymentSucceeded, ev.Kind)
	assert.Equal(t, "b1", ev.BookingID)
	assert.Equal(t, "pi_1", ev.PaymentIntentID)
	assert.Equal(t, int64(100000), ev.AmountCharged)

	ev = parse(t, eventJSON("evt_2", "payment_intent.payment_failed",
		`{"id":"pi_2","object":"payment_intent","metadata":{"booking_id":"b2"}}`))
	assert.Equal(t, payment.KindPaymentFailed, ev.Kind)
	assert.Equal(t, "b2", ev.BookingID)

	ev = parse(t, eventJSON("evt_3", "checkout.session.completed",
		`{"id":"cs_1","object":"checkout.session","payment_status":"paid","payment_intent":"pi_3","amount_total":5000,"client_reference_id":"b3"}`))
	assert.Equal(t, payment.KindPaymentSucceeded, ev.Kind)
	assert.Equal(t, "b3", ev.BookingID)
	assert.Equal(t, "pi_3", ev.PaymentIntentID)

	ev = parse(t, eventJSON("evt_4", "checkout.session.completed",
		`{"id":"cs_2","object":"checkout.session","payment_status":"unpaid","metadata":{"booking_id":"b4"}}`))
	assert.Equal(t, payment.KindUnhandled, ev.Kind)

	ev = parse(t, eventJSON("evt_5", "charge.refunded",
		`{"id":"ch_1","object":"charge","amount":100000,"amount_refunded":50000,"payment_intent":"pi_5","metadata":{}}`))
	assert.Equal(t, payment.KindRefunded, ev.Kind)
	assert.Equal(t, "pi_5", ev.PaymentIntentID)
	assert.Equal(t, int64(50000), ev.AmountRefunded)
	assert.Empty(t, ev.BookingID)

	ev = parse(t, eventJSON("evt_6", "customer.created", `{"id":"cus_1","object":"customer"}`))
	assert.Equal(t, payment.KindUnhandled, ev.Kind)
	assert.Equal(t, "customer.created", ev.Type)
}
