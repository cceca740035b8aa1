package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"ms-rentals/internal/logger"
)

type Template string

const (
	BookingRequested Template = "booking_requested"
	BookingConfirmed Template = "booking_confirmed"
	BookingCancelled Template = "booking_cancelled"
	BookingCompleted Template = "booking_completed"
	PaymentReceived  Template = "payment_received"
	PaymentFailed    Template = "payment_failed"
	RefundProcessed  Template = "refund_processed"
)

// Templates lists every template, used to provision one topic each.
var Templates = []Template{
	BookingRequested,
	BookingConfirmed,
	BookingCancelled,
	BookingCompleted,
	PaymentReceived,
	PaymentFailed,
	RefundProcessed,
}

// RecipientKind says how Recipient is addressed. Guests may book without an
// account so they are reached by email; hosts are resolved by profile id.
type RecipientKind string

const (
	RecipientEmail   RecipientKind = "email"
	RecipientProfile RecipientKind = "profile"
)

// Message is a notification for one recipient about one booking.
type Message struct {
	Template      Template               `json:"template"`
	Recipient     string                 `json:"recipient"`
	RecipientKind RecipientKind          `json:"recipient_kind"`
	BookingID     string                 `json:"booking_id"`
	Data          map[string]interface{} `json:"data,omitempty"`
	CreatedAt     time.Time              `json:"created_at"`
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// Dispatcher delivers notifications in the background. Delivery failures are
// logged and never reach the caller.
type Dispatcher struct {
	sender  Sender
	log     *logger.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

func NewDispatcher(sender Sender, log *logger.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Dispatcher{sender: sender, log: log, timeout: timeout}
}

// Dispatch queues msg and returns immediately. The send runs on its own
// context so it outlives the request that triggered it.
func (d *Dispatcher) Dispatch(msg Message) {
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				d.log.Error("NOTIFY", fmt.Sprintf("Panic sending %s for booking %s: %v", msg.Template, msg.BookingID, r))
			}
		}()

		ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
		defer cancel()

		if err := d.sender.Send(ctx, msg); err != nil {
			d.log.Error("NOTIFY", fmt.Sprintf("Failed to send %s for booking %s: %v", msg.Template, msg.BookingID, err))
			return
		}
		d.log.Debug("NOTIFY", fmt.Sprintf("Sent %s for booking %s to %s", msg.Template, msg.BookingID, msg.Recipient))
	}()
}

// Wait blocks until every queued send has finished.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
