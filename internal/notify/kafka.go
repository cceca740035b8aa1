package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"ms-rentals/internal/logger"
)

type Publisher interface {
	Publish(ctx context.Context, topic, key string, value []byte) error
}

// KafkaSender publishes each message to "<prefix>.<template>" keyed by booking
// id, for the mailer to consume.
type KafkaSender struct {
	publisher Publisher
	prefix    string
}

func NewKafkaSender(publisher Publisher, prefix string) *KafkaSender {
	return &KafkaSender{publisher: publisher, prefix: prefix}
}

func (s *KafkaSender) Topic(t Template) string {
	return s.prefix + "." + string(t)
}

func (s *KafkaSender) Topics() []string {
	topics := make([]string, 0, len(Templates))
	for _, t := range Templates {
		topics = append(topics, s.Topic(t))
	}
	return topics
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	value, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.publisher.Publish(ctx, s.Topic(msg.Template), msg.BookingID, value)
}

// LogSender only logs messages. It is used when Kafka is disabled.
type LogSender struct {
	Log *logger.Logger
}

func (s LogSender) Send(_ context.Context, msg Message) error {
	s.Log.Info("NOTIFY", fmt.Sprintf("Kafka disabled, dropping %s for booking %s to %s", msg.Template, msg.BookingID, msg.Recipient))
	return nil
}
