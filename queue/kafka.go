package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

// kafkaMessageWriter mirrors the subset of kafka.Writer used by KafkaSender.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSender publishes to a Kafka topic, keyed by device id.
type KafkaSender struct {
	w   kafkaMessageWriter
	now func() time.Time
}

func NewKafkaSender(brokers []string, topic string) *KafkaSender {
	return newKafkaSender(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	})
}

func newKafkaSender(w kafkaMessageWriter) *KafkaSender {
	return &KafkaSender{w: w, now: time.Now}
}

func (s *KafkaSender) Send(ctx context.Context, msg Message) error {
	err := s.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(msg.Key),
		Value: []byte(msg.Body),
		Time:  s.now(),
		Headers: []kafka.Header{
			{Key: "message-id", Value: []byte(uuid.NewString())},
		},
	})
	if err != nil {
		return errors.Wrap(err, "kafka write")
	}
	return nil
}

func (s *KafkaSender) Close() error {
	return s.w.Close()
}
