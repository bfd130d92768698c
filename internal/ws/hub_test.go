package ws

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
	"cafeorders/internal/repository"
	"cafeorders/internal/service"
)

type received struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type env struct {
	broker *notify.Broker
	orders *service.OrderService
	server *httptest.Server
}

func setup(t *testing.T) *env {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, mem := repository.NewMemory()
	ctx := context.Background()
	if _, err := mem.UpsertAdd(ctx, "paquet", 100); err != nil {
		t.Fatal(err)
	}
	if err := store.Customers.Create(ctx, &domain.Customer{Email: "c1@cafe.mg", Name: "Rasoa"}); err != nil {
		t.Fatal(err)
	}
	if err := store.Drivers.Create(ctx, &domain.Driver{Email: "d1@cafe.mg", Name: "Rakoto", Code: "L1"}); err != nil {
		t.Fatal(err)
	}

	broker := notify.NewBroker(log)
	orders := service.NewOrderService(store, broker, log)
	chat := service.NewChatService(store.Customers, store.Messages, broker, log)
	hub := NewHub(broker, chat, orders, 16, log)

	srv := httptest.NewServer(hub)
	t.Cleanup(srv.Close)
	return &env{broker: broker, orders: orders, server: srv}
}

func (e *env) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(e.server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, typ string, payload any) {
	t.Helper()
	raw, _ := json.Marshal(payload)
	if err := conn.WriteJSON(Inbound{Type: typ, Payload: raw}); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func read(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var m received
	if err := conn.ReadJSON(&m); err != nil {
		t.Fatalf("read: %v", err)
	}
	return m
}

// roundTrip отправляет ping и ждёт pong: всё, что было отправлено раньше, уже обработано
func roundTrip(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	send(t, conn, MsgPing, nil)
	if m := read(t, conn); m.Type != MsgPong {
		t.Fatalf("expected pong, got %s", m.Type)
	}
}

func TestHub_AdminReceivesOrderEvents(t *testing.T) {
	e := setup(t)
	admin := e.dial(t)
	send(t, admin, MsgJoinAdmin, struct{}{})
	roundTrip(t, admin)

	o, err := e.orders.PlaceOrder(context.Background(), service.PlaceOrderInput{CustomerID: "c1@cafe.mg", ProductType: "paquet", Quantity: 2})
	if err != nil {
		t.Fatal(err)
	}
	m := read(t, admin)
	if m.Type != notify.EventOrderCreated || m.ID == "" {
		t.Fatalf("unexpected event: %+v", m)
	}
	var p notify.OrderCreatedPayload
	if err := json.Unmarshal(m.Payload, &p); err != nil {
		t.Fatal(err)
	}
	if p.Order.ID != o.ID || p.PendingCount != 1 {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestHub_ChatReachesCustomerAndAdmin(t *testing.T) {
	e := setup(t)
	customer := e.dial(t)
	admin := e.dial(t)
	send(t, customer, MsgJoin, joinPayload{Identity: "c1@cafe.mg", Role: "client"})
	send(t, admin, MsgJoin, joinPayload{Identity: "boss@cafe.mg", Role: domain.RoleAdmin})
	roundTrip(t, customer)
	roundTrip(t, admin)

	send(t, customer, MsgSendMessage, sendMessagePayload{CustomerID: "c1@cafe.mg", Text: "Mon colis ?"})

	for _, conn := range []*websocket.Conn{customer, admin} {
		m := read(t, conn)
		if m.Type != notify.EventChatMessage {
			t.Fatalf("expected chat.message, got %s", m.Type)
		}
		var msg domain.ChatMessage
		_ = json.Unmarshal(m.Payload, &msg)
		if msg.Text != "Mon colis ?" || msg.SentByAdmin {
			t.Fatalf("unexpected message: %+v", msg)
		}
	}
}

func TestHub_ErrorsAreEchoedToSender(t *testing.T) {
	e := setup(t)
	conn := e.dial(t)

	send(t, conn, MsgSendMessage, sendMessagePayload{CustomerID: "ghost@cafe.mg", Text: "allo"})
	m := read(t, conn)
	if m.Type != notify.EventMessageError {
		t.Fatalf("expected message.error, got %s", m.Type)
	}
	var p notify.MessageErrorPayload
	_ = json.Unmarshal(m.Payload, &p)
	if p.Error != domain.KindNotFound {
		t.Fatalf("unexpected error kind: %+v", p)
	}

	send(t, conn, "teleport", nil)
	if m := read(t, conn); m.Type != notify.EventMessageError {
		t.Fatalf("unknown types must be rejected, got %s", m.Type)
	}
}

func TestHub_DriverAccepted(t *testing.T) {
	e := setup(t)
	ctx := context.Background()
	o, _ := e.orders.PlaceOrder(ctx, service.PlaceOrderInput{CustomerID: "c1@cafe.mg", ProductType: "paquet", Quantity: 1})
	if _, err := e.orders.ValidateOrder(ctx, o.ID, "d1@cafe.mg"); err != nil {
		t.Fatal(err)
	}

	admin := e.dial(t)
	driver := e.dial(t)
	send(t, admin, MsgJoinAdmin, nil)
	send(t, driver, MsgJoin, joinPayload{Identity: "d1@cafe.mg", Role: "livreur"})
	roundTrip(t, admin)
	roundTrip(t, driver)

	send(t, driver, MsgDriverAccepted, driverAcceptedPayload{OrderID: o.ID, DriverID: "d1@cafe.mg"})
	m := read(t, admin)
	if m.Type != notify.EventDriverAccepted {
		t.Fatalf("expected driver.accepted, got %s", m.Type)
	}
}

func TestHub_DisconnectDropsSubscriptions(t *testing.T) {
	e := setup(t)
	conn := e.dial(t)
	send(t, conn, MsgJoinAdmin, nil)
	roundTrip(t, conn)
	conn.Close()

	// publishing after the peer went away must not block or panic
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		e.broker.Publish(notify.EventOrderCreated, nil, notify.AdminChannel)
		time.Sleep(10 * time.Millisecond)
	}
}
