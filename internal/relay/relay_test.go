package relay

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/rabbitmq/amqp091-go"
	"github.com/segmentio/kafka-go"

	"cafeorders/internal/notify"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testEvent() notify.Event {
	return notify.Event{
		ID:        "evt-1",
		Name:      notify.EventOrderValidated,
		Payload:   map[string]any{"order_id": 7},
		Timestamp: time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC),
		Channels:  []string{notify.AdminChannel, notify.UserChannel("c1@cafe.mg")},
	}
}

type fakeChannel struct {
	declared  []string
	published []amqp091.Publishing
	keys      []string
	failWith  error
	closed    bool
}

func (f *fakeChannel) ExchangeDeclare(name, kind string, _, _, _, _ bool, _ amqp091.Table) error {
	f.declared = append(f.declared, name+"/"+kind)
	return nil
}

func (f *fakeChannel) PublishWithContext(_ context.Context, _, key string, _, _ bool, msg amqp091.Publishing) error {
	if f.failWith != nil {
		return f.failWith
	}
	f.keys = append(f.keys, key)
	f.published = append(f.published, msg)
	return nil
}

func (f *fakeChannel) Close() error {
	f.closed = true
	return nil
}

func TestAMQPRelay_Forward(t *testing.T) {
	ch := &fakeChannel{}
	r, err := NewAMQPRelay(ch, "cafe.events", testLogger())
	if err != nil {
		t.Fatalf("new relay: %v", err)
	}
	if len(ch.declared) != 1 || ch.declared[0] != "cafe.events/topic" {
		t.Fatalf("exchange not declared: %v", ch.declared)
	}

	if err := r.Forward(context.Background(), testEvent()); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(ch.published) != 1 || ch.keys[0] != notify.EventOrderValidated {
		t.Fatalf("unexpected publish: %v", ch.keys)
	}
	msg := ch.published[0]
	if msg.DeliveryMode != amqp091.Persistent || msg.MessageId != "evt-1" {
		t.Fatalf("unexpected publishing: %+v", msg)
	}
	var env envelope
	if err := json.Unmarshal(msg.Body, &env); err != nil {
		t.Fatalf("body: %v", err)
	}
	if env.Type != notify.EventOrderValidated || len(env.Channels) != 2 {
		t.Fatalf("unexpected envelope: %+v", env)
	}

	if err := r.Close(); err != nil || !ch.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestAMQPRelay_ForwardError(t *testing.T) {
	boom := errors.New("channel closed")
	r, _ := NewAMQPRelay(&fakeChannel{failWith: boom}, "cafe.events", testLogger())
	if err := r.Forward(context.Background(), testEvent()); !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
}

type fakeWriter struct {
	messages []kafka.Message
	closed   bool
}

func (f *fakeWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	f.messages = append(f.messages, msgs...)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}

func TestKafkaRelay_Forward(t *testing.T) {
	w := &fakeWriter{}
	r := NewKafkaRelay(w, testLogger())

	if err := r.Forward(context.Background(), testEvent()); err != nil {
		t.Fatalf("forward: %v", err)
	}
	if len(w.messages) != 1 {
		t.Fatalf("expected 1 message, got %d", len(w.messages))
	}
	m := w.messages[0]
	if string(m.Key) != notify.EventOrderValidated || string(m.Headers[0].Value) != "evt-1" {
		t.Fatalf("unexpected message: %+v", m)
	}
	var env envelope
	if err := json.Unmarshal(m.Value, &env); err != nil || env.ID != "evt-1" {
		t.Fatalf("bad value: %v %+v", err, env)
	}
	if err := r.Close(); err != nil || !w.closed {
		t.Fatalf("close: %v", err)
	}
}

func TestNewKafkaWriter(t *testing.T) {
	w := NewKafkaWriter("localhost:9092", "cafe-events")
	if w.Topic != "cafe-events" || w.Addr == nil {
		t.Fatalf("unexpected writer: %+v", w)
	}
}
