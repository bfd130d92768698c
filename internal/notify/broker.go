package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Relay внешняя доставка событий (очередь сообщений и т.п.)
type Relay interface {
	Forward(ctx context.Context, e Event) error
	Close() error
}

// Subscriber одно соединение реального времени
type Subscriber struct {
	ID   string
	send chan Event
	// closed меняется только под Broker.mu
	closed bool
}

func NewSubscriber(buffer int) *Subscriber {
	if buffer <= 0 {
		buffer = 1
	}
	return &Subscriber{ID: uuid.NewString(), send: make(chan Event, buffer)}
}

// Events закрывается после Broker.Drop
func (s *Subscriber) Events() <-chan Event {
	return s.send
}

// Broker рассылка событий по каналам. Доставка к подписчику не блокирует издателя.
type Broker struct {
	mu          sync.RWMutex
	channels    map[string]map[*Subscriber]struct{}
	memberships map[*Subscriber]map[string]struct{}

	relay   Relay
	relayQ  chan Event
	log     *slog.Logger
	nowFunc func() time.Time
}

type Option func(*Broker)

// WithRelay включает пересылку событий во внешнюю систему через очередь размером queue
func WithRelay(r Relay, queue int) Option {
	return func(b *Broker) {
		if queue <= 0 {
			queue = 1024
		}
		b.relay = r
		b.relayQ = make(chan Event, queue)
	}
}

func NewBroker(log *slog.Logger, opts ...Option) *Broker {
	b := &Broker{
		channels:    make(map[string]map[*Subscriber]struct{}),
		memberships: make(map[*Subscriber]map[string]struct{}),
		log:         log,
		nowFunc:     time.Now,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Join подписывает на персональный канал и, для администратора, на общий. Повторный вызов ничего не меняет.
func (b *Broker) Join(sub *Subscriber, identity, role string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	if identity != "" {
		b.subscribe(sub, UserChannel(identity))
	}
	if role == "admin" {
		b.subscribe(sub, AdminChannel)
	}
}

func (b *Broker) subscribe(sub *Subscriber, channel string) {
	members, ok := b.channels[channel]
	if !ok {
		members = make(map[*Subscriber]struct{})
		b.channels[channel] = members
	}
	members[sub] = struct{}{}
	ms, ok := b.memberships[sub]
	if !ok {
		ms = make(map[string]struct{})
		b.memberships[sub] = ms
	}
	ms[channel] = struct{}{}
}

func (b *Broker) unsubscribe(sub *Subscriber, channel string) {
	if members, ok := b.channels[channel]; ok {
		delete(members, sub)
		if len(members) == 0 {
			delete(b.channels, channel)
		}
	}
	if ms, ok := b.memberships[sub]; ok {
		delete(ms, channel)
		if len(ms) == 0 {
			delete(b.memberships, sub)
		}
	}
}

// Leave снимает подписку с персонального канала identity
func (b *Broker) Leave(sub *Subscriber, identity string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unsubscribe(sub, UserChannel(identity))
}

// Drop вызывается при разрыве соединения: все подписки снимаются, канал событий закрывается
func (b *Broker) Drop(sub *Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.closed {
		return
	}
	for ch := range b.memberships[sub] {
		b.unsubscribe(sub, ch)
	}
	sub.closed = true
	close(sub.send)
}

// Channels текущие подписки соединения
func (b *Broker) Channels(sub *Subscriber) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.memberships[sub]))
	for ch := range b.memberships[sub] {
		out = append(out, ch)
	}
	return out
}

func (b *Broker) newEvent(name string, payload any, channels []string) Event {
	return Event{
		ID:        uuid.NewString(),
		Name:      name,
		Payload:   payload,
		Timestamp: b.nowFunc(),
		Channels:  channels,
	}
}

// Publish доставляет событие каждому подписчику перечисленных каналов ровно один раз.
// Ошибок не возвращает: переполненная очередь подписчика теряет событие.
func (b *Broker) Publish(name string, payload any, channels ...string) {
	e := b.newEvent(name, payload, channels)

	b.mu.RLock()
	seen := make(map[*Subscriber]struct{})
	for _, ch := range channels {
		for sub := range b.channels[ch] {
			if _, dup := seen[sub]; dup {
				continue
			}
			seen[sub] = struct{}{}
			b.deliver(sub, e)
		}
	}
	b.mu.RUnlock()

	if b.relayQ != nil {
		select {
		case b.relayQ <- e:
		default:
			b.log.Warn("relay queue full, event dropped", "event", name, "id", e.ID)
		}
	}
}

// SendTo отправляет событие одному соединению, минуя каналы и внешнюю пересылку
func (b *Broker) SendTo(sub *Subscriber, name string, payload any) {
	e := b.newEvent(name, payload, nil)
	b.mu.RLock()
	defer b.mu.RUnlock()
	if sub.closed {
		return
	}
	b.deliver(sub, e)
}

// deliver под mu (чтение)
func (b *Broker) deliver(sub *Subscriber, e Event) {
	select {
	case sub.send <- e:
	default:
		b.log.Debug("subscriber queue full, event dropped", "subscriber", sub.ID, "event", e.Name)
	}
}

// Run пересылает события во внешнюю систему до отмены ctx
func (b *Broker) Run(ctx context.Context) error {
	if b.relay == nil {
		<-ctx.Done()
		return nil
	}
	defer func() {
		if err := b.relay.Close(); err != nil {
			b.log.Error("relay close failed", "error", err)
		}
	}()
	for {
		select {
		case <-ctx.Done():
			return nil
		case e := <-b.relayQ:
			if err := b.relay.Forward(ctx, e); err != nil {
				b.log.Error("relay forward failed", "event", e.Name, "id", e.ID, "error", err)
			}
		}
	}
}
