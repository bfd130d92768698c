package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"cafeorders/internal/notify"
)

// Writer часть *kafka.Writer, которая нужна реле
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaRelay пишет события в один топик, ключ сообщения = имя события
type KafkaRelay struct {
	writer Writer
	log    *slog.Logger
}

// NewKafkaWriter writer для брокера и топика
func NewKafkaWriter(broker, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(broker),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
	}
}

func NewKafkaRelay(w Writer, log *slog.Logger) *KafkaRelay {
	return &KafkaRelay{writer: w, log: log}
}

func (r *KafkaRelay) Forward(ctx context.Context, e notify.Event) error {
	body, err := encode(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(e.Name),
		Value: body,
		Time:  e.Timestamp,
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(e.ID)},
		},
	}
	if err := r.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("kafka write %s: %w", e.Name, err)
	}
	r.log.Debug("event relayed", "transport", "kafka", "event", e.Name, "id", e.ID)
	return nil
}

func (r *KafkaRelay) Close() error {
	return r.writer.Close()
}
