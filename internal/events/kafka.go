package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/saurabhrjk/admin-connect-chat/internal/conversation"
)

// exportBatchTimeout bounds how long a lone event waits for batch peers.
const exportBatchTimeout = 10 * time.Millisecond

// KafkaExporter copies message events to a Kafka topic for downstream
// consumers. Typing signals are not exported. Events are keyed by
// conversation so that one conversation stays in one partition.
//
// Writes are asynchronous so a slow broker never holds up a send request;
// delivery failures are logged.
type KafkaExporter struct {
	writer *kafkago.Writer
}

func NewKafkaExporter(brokers []string, topic string, log *zap.Logger) *KafkaExporter {
	if log == nil {
		log = zap.NewNop()
	}
	return &KafkaExporter{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.Hash{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: exportBatchTimeout,
		Async:        true,
		Completion: func(messages []kafkago.Message, err error) {
			if err != nil {
				log.Warn("kafka export failed", zap.Int("events", len(messages)), zap.Error(err))
			}
		},
	}}
}

func (k *KafkaExporter) Publish(ctx context.Context, e Event) error {
	if e.Message == nil || e.Type == Typing {
		return nil
	}
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	msg := kafkago.Message{
		Key:   []byte(conversation.Key(e.Message.SenderID, e.Message.RecipientID)),
		Value: b,
		Headers: []kafkago.Header{
			{Key: "type", Value: []byte(e.Type)},
		},
	}
	if err := k.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("export event: %w", err)
	}
	return nil
}

func (k *KafkaExporter) Close() error {
	return k.writer.Close()
}
