package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Типы входящих сообщений
const (
	MsgJoin           = "join"
	MsgJoinAdmin      = "join-admin"
	MsgLeave          = "leave"
	MsgSendMessage    = "send-message"
	MsgDriverAccepted = "driver-accepted"
	MsgPing           = "ping"
	MsgPong           = "pong"
)

// ChatSender отправка сообщения чата
type ChatSender interface {
	Send(ctx context.Context, customerID, text string, sentByAdmin bool) (*domain.ChatMessage, error)
}

// DriverAcceptor уведомление о том, что курьер принял заказ
type DriverAcceptor interface {
	DriverAccepted(ctx context.Context, orderID int64, driverID, message string) error
}

// Inbound конверт входящего сообщения
type Inbound struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinPayload struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
}

type sendMessagePayload struct {
	CustomerID  string `json:"customer_id"`
	Text        string `json:"text"`
	SentByAdmin bool   `json:"sent_by_admin"`
}

type driverAcceptedPayload struct {
	OrderID  int64  `json:"order_id"`
	DriverID string `json:"driver_id"`
	Message  string `json:"message"`
}

// Hub принимает WebSocket-соединения и связывает их с брокером
type Hub struct {
	broker     *notify.Broker
	chat       ChatSender
	orders     DriverAcceptor
	upgrader   websocket.Upgrader
	sendBuffer int
	log        *slog.Logger
}

func NewHub(broker *notify.Broker, chat ChatSender, orders DriverAcceptor, sendBuffer int, log *slog.Logger) *Hub {
	return &Hub{
		broker: broker,
		chat:   chat,
		orders: orders,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		sendBuffer: sendBuffer,
		log:        log,
	}
}

// ServeHTTP апгрейд соединения и запуск насосов чтения и записи
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", "error", err)
		return
	}
	c := &Client{
		hub:  h,
		conn: conn,
		sub:  notify.NewSubscriber(h.sendBuffer),
	}
	h.log.Debug("websocket connected", "subscriber", c.sub.ID, "remote", r.RemoteAddr)

	go c.WritePump()
	c.ReadPump(r.Context())
}

// Client одно WebSocket-соединение
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *notify.Subscriber
}

// WritePump пишет события подписчика в соединение; завершается, когда брокер закрывает очередь
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case e, ok := <-c.sub.Events():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(e); err != nil {
				c.hub.log.Debug("websocket write failed", "subscriber", c.sub.ID, "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ReadPump читает входящие сообщения до разрыва соединения
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.broker.Drop(c.sub)
		c.conn.Close()
		c.hub.log.Debug("websocket disconnected", "subscriber", c.sub.ID)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg Inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.log.Warn("websocket read error", "subscriber", c.sub.ID, "error", err)
			}
			return
		}
		c.handle(ctx, msg)
	}
}

func (c *Client) handle(ctx context.Context, msg Inbound) {
	switch msg.Type {
	case MsgJoin:
		var p joinPayload
		if !c.decode(msg, &p) {
			return
		}
		c.hub.broker.Join(c.sub, p.Identity, domain.NormalizeRole(p.Role))

	case MsgJoinAdmin:
		c.hub.broker.Join(c.sub, "", domain.RoleAdmin)

	case MsgLeave:
		var p joinPayload
		if !c.decode(msg, &p) {
			return
		}
		c.hub.broker.Leave(c.sub, p.Identity)

	case MsgSendMessage:
		var p sendMessagePayload
		if !c.decode(msg, &p) {
			return
		}
		if _, err := c.hub.chat.Send(ctx, p.CustomerID, p.Text, p.SentByAdmin); err != nil {
			c.replyError(err)
		}

	case MsgDriverAccepted:
		var p driverAcceptedPayload
		if !c.decode(msg, &p) {
			return
		}
		if err := c.hub.orders.DriverAccepted(ctx, p.OrderID, p.DriverID, p.Message); err != nil {
			c.replyError(err)
		}

	case MsgPing:
		c.hub.broker.SendTo(c.sub, MsgPong, nil)

	default:
		c.hub.broker.SendTo(c.sub, notify.EventMessageError, notify.MessageErrorPayload{
			Error:   domain.KindValidation,
			Message: "unknown message type " + msg.Type,
		})
	}
}

func (c *Client) decode(msg Inbound, dst any) bool {
	if len(msg.Payload) == 0 {
		return true
	}
	if err := json.Unmarshal(msg.Payload, dst); err != nil {
		c.hub.broker.SendTo(c.sub, notify.EventMessageError, notify.MessageErrorPayload{
			Error:   domain.KindValidation,
			Message: "invalid payload for " + msg.Type,
		})
		return false
	}
	return true
}

func (c *Client) replyError(err error) {
	kind := domain.KindOf(err)
	if kind == domain.KindInternal {
		c.hub.log.Error("websocket request failed", "subscriber", c.sub.ID, "error", err)
	}
	c.hub.broker.SendTo(c.sub, notify.EventMessageError, notify.MessageErrorPayload{
		Error:   kind,
		Message: err.Error(),
	})
}
