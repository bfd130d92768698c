package notify

import (
	"time"

	"cafeorders/internal/domain"
)

// Имена событий
const (
	EventOrderCreated       = "order.created"
	EventOrderValidated     = "order.validated"
	EventOrderStatusChanged = "order.status_changed"
	EventOrderCancelled     = "order.cancelled"
	EventInvoiceGenerated   = "invoice.generated"
	EventInvoiceConfirmed   = "invoice.confirmed"
	EventDriverAccepted     = "driver.accepted"
	EventChatMessage        = "chat.message"
	EventDriverPosition     = "driver.position"
	EventMessageError       = "message.error"
)

// AdminChannel общий канал всех администраторов
const AdminChannel = "admin"

// UserChannel персональный канал клиента или курьера
func UserChannel(identity string) string {
	return "user:" + identity
}

// Event то, что получает подписчик. Сериализуется в конверт {id, type, payload, timestamp}.
type Event struct {
	ID        string    `json:"id"`
	Name      string    `json:"type"`
	Payload   any       `json:"payload"`
	Timestamp time.Time `json:"timestamp"`
	Channels  []string  `json:"-"`
}

type OrderCreatedPayload struct {
	Order        domain.Order `json:"order"`
	PendingCount int64        `json:"pending_count"`
}

// OrderValidatedPayload Products содержит остатки склада сразу после списания
type OrderValidatedPayload struct {
	OrderID      int64              `json:"order_id"`
	CustomerID   *string            `json:"customer_id"`
	Status       domain.OrderStatus `json:"status"`
	Products     []domain.Product   `json:"products"`
	DriverID     *string            `json:"driver_id"`
	PendingCount int64              `json:"pending_count"`
}

type StatusChangedPayload struct {
	OrderID int64              `json:"order_id"`
	Status  domain.OrderStatus `json:"status"`
	Message string             `json:"message"`
}

type OrderCancelledPayload struct {
	OrderID int64  `json:"order_id"`
	Message string `json:"message"`
}

type InvoicePayload struct {
	OrderID int64           `json:"order_id"`
	Invoice *domain.Invoice `json:"invoice"`
	Message string          `json:"message"`
}

type DriverAcceptedPayload struct {
	OrderID   int64     `json:"order_id"`
	DriverID  string    `json:"driver_id"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

type MessageErrorPayload struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
