package relay

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/rabbitmq/amqp091-go"

	"cafeorders/internal/notify"
)

// amqpChannel часть *amqp091.Channel, которая нужна реле
type amqpChannel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp091.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp091.Publishing) error
	Close() error
}

// AMQPRelay публикует события в topic-exchange, ключ маршрутизации = имя события
type AMQPRelay struct {
	conn     *amqp091.Connection
	ch       amqpChannel
	exchange string
	log      *slog.Logger
}

// DialAMQP подключается к RabbitMQ и объявляет exchange
func DialAMQP(url, exchange string, log *slog.Logger) (*AMQPRelay, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}
	r, err := NewAMQPRelay(ch, exchange, log)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	r.conn = conn
	log.Info("connected to RabbitMQ", "exchange", exchange)
	return r, nil
}

func NewAMQPRelay(ch amqpChannel, exchange string, log *slog.Logger) (*AMQPRelay, error) {
	err := ch.ExchangeDeclare(
		exchange, // name
		"topic",  // type
		true,     // durable
		false,    // auto-deleted
		false,    // internal
		false,    // no-wait
		nil,      // arguments
	)
	if err != nil {
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}
	return &AMQPRelay{ch: ch, exchange: exchange, log: log}, nil
}

func (r *AMQPRelay) Forward(ctx context.Context, e notify.Event) error {
	body, err := encode(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	err = r.ch.PublishWithContext(ctx,
		r.exchange, // exchange
		e.Name,     // routing key
		false,      // mandatory
		false,      // immediate
		amqp091.Publishing{
			ContentType:  "application/json",
			MessageId:    e.ID,
			Type:         e.Name,
			Body:         body,
			Timestamp:    e.Timestamp,
			DeliveryMode: amqp091.Persistent,
		},
	)
	if err != nil {
		return fmt.Errorf("failed to publish %s: %w", e.Name, err)
	}
	r.log.Debug("event relayed", "transport", "amqp", "event", e.Name, "id", e.ID)
	return nil
}

func (r *AMQPRelay) Close() error {
	err := r.ch.Close()
	if r.conn != nil {
		if cerr := r.conn.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
