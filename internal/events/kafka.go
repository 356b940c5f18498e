package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

// messageWriter is the part of *kafka.Writer the notifier relies on.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier publishes events to Kafka, one Kafka topic per event topic.
type KafkaNotifier struct {
	writer      messageWriter
	topicPrefix string
}

// NewKafkaNotifier builds a synchronous producer for the given brokers. Event topics
// are published as topicPrefix+event.Topic.
func NewKafkaNotifier(brokers []string, topicPrefix string) *KafkaNotifier {
	return &KafkaNotifier{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Balancer:               &kafka.LeastBytes{},
			RequiredAcks:           kafka.RequireOne,
			BatchTimeout:           10 * time.Millisecond,
			AllowAutoTopicCreation: true,
		},
		topicPrefix: topicPrefix,
	}
}

// Notify implements Notifier. The event key selects the partition, so updates for
// the same aggregate stay ordered.
func (k *KafkaNotifier) Notify(ctx context.Context, event Event) error {
	value, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return k.writer.WriteMessages(ctx, kafka.Message{
		Topic: k.topicPrefix + event.Topic,
		Key:   []byte(event.Key),
		Value: value,
		Time:  event.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(event.ID)},
			{Key: "content-type", Value: []byte("application/json")},
		},
	})
}

// Close flushes pending messages and closes broker connections.
func (k *KafkaNotifier) Close() error {
	return k.writer.Close()
}

// LogNotifier writes events to the structured log. It is the fallback when no
// broker is configured.
type LogNotifier struct {
	Logger zerolog.Logger
}

// Notify implements Notifier.
func (l LogNotifier) Notify(_ context.Context, event Event) error {
	l.Logger.Info().
		Str("event_id", event.ID).
		Str("topic", event.Topic).
		Str("key", event.Key).
		RawJSON("payload", event.Payload).
		Msg("domain_event")
	return nil
}
