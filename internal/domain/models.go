package domain

import "time"

// Product складская позиция, ключ — тип товара ("paquet", "sac")
type Product struct {
	Type     string `json:"type"`
	Quantity int64  `json:"quantity"`
}

// OrderStatus тип статуса заказа. Значения совпадают с тем, что хранится в базе.
type OrderStatus string

const (
	OrderStatusPending          OrderStatus = "En attente"
	OrderStatusValidated        OrderStatus = "Validée"
	OrderStatusInPreparation    OrderStatus = "En préparation"
	OrderStatusOutForDelivery   OrderStatus = "En route pour livraison"
	OrderStatusDelivered        OrderStatus = "Livré"
	OrderStatusInvoiceConfirmed OrderStatus = "Facture confirmée"
	OrderStatusCancelled        OrderStatus = "Annulée"
)

// Position координаты, присланные устройством курьера
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Accuracy  float64 `json:"accuracy"`
}

// Order сущность заказа. Ссылки на клиента и курьера могут быть обнулены при их удалении.
type Order struct {
	ID               int64       `json:"id"`
	CustomerID       *string     `json:"customer_id"`
	ProductType      string      `json:"product_type"`
	Quantity         int64       `json:"quantity"`
	TotalPrice       int64       `json:"total_price"`
	Status           OrderStatus `json:"status"`
	DriverID         *string     `json:"driver_id"`
	InvoiceGenerated bool        `json:"invoice_generated"`
	LastPosition     *Position   `json:"last_position,omitempty"`
	LastPositionAt   *time.Time  `json:"last_position_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// Customer клиент, идентифицируется по email
type Customer struct {
	Email   string `json:"email"`
	Name    string `json:"name"`
	Contact string `json:"contact"`
	Address string `json:"address"`
}

// Driver курьер, идентифицируется по email
type Driver struct {
	Email      string     `json:"email"`
	Name       string     `json:"name"`
	Contact    string     `json:"contact"`
	Code       string     `json:"code"`
	Position   *Position  `json:"position,omitempty"`
	PositionAt *time.Time `json:"position_at,omitempty"`
	Delivering bool       `json:"delivering"`
}

// ChatMessage сообщение в чате клиент <-> администраторы
type ChatMessage struct {
	ID          int64     `json:"id"`
	CustomerID  *string   `json:"customer_id"`
	Text        string    `json:"text"`
	SentByAdmin bool      `json:"sent_by_admin"`
	Timestamp   time.Time `json:"timestamp"`
}

// DriverPosition последняя известная позиция курьера для карты администратора
type DriverPosition struct {
	DriverID   string    `json:"driver_id"`
	Name       string    `json:"name"`
	Contact    string    `json:"contact"`
	Latitude   float64   `json:"latitude"`
	Longitude  float64   `json:"longitude"`
	Accuracy   float64   `json:"accuracy"`
	OrderID    *int64    `json:"order_id"`
	Timestamp  time.Time `json:"timestamp"`
	Delivering bool      `json:"delivering"`
}

// InvoiceParty блок клиента или курьера в счёте
type InvoiceParty struct {
	Name    string `json:"name"`
	Address string `json:"address,omitempty"`
	Contact string `json:"contact"`
}

// InvoiceLine строка счёта
type InvoiceLine struct {
	Type      string `json:"type"`
	Quantity  int64  `json:"quantity"`
	UnitPrice int64  `json:"unit_price"`
	Total     int64  `json:"total"`
}

// Invoice счёт, собирается из заказа на лету и не хранится
type Invoice struct {
	OrderID   int64         `json:"order_id"`
	OrderedAt time.Time     `json:"ordered_at"`
	IssuedAt  time.Time     `json:"issued_at"`
	Customer  InvoiceParty  `json:"customer"`
	Driver    InvoiceParty  `json:"driver"`
	Lines     []InvoiceLine `json:"lines"`
	Status    OrderStatus   `json:"status"`
}

// Tracking снимок доставки для страницы отслеживания
type Tracking struct {
	OrderID         int64       `json:"order_id"`
	Status          OrderStatus `json:"status"`
	LastPosition    *Position   `json:"last_position"`
	LastPositionAt  *time.Time  `json:"last_position_at"`
	DriverName      string      `json:"driver_name,omitempty"`
	DriverContact   string      `json:"driver_contact,omitempty"`
	CustomerName    string      `json:"customer_name,omitempty"`
	CustomerAddress string      `json:"customer_address,omitempty"`
}

// StringRef helper для nullable ссылок
func StringRef(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Deref возвращает значение ссылки или пустую строку
func Deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// ActiveDelivery заказ в работе вместе с данными клиента и курьера
type ActiveDelivery struct {
	Order
	CustomerName    string `json:"customer_name"`
	CustomerAddress string `json:"customer_address"`
	CustomerContact string `json:"customer_contact"`
	DriverName      string `json:"driver_name"`
	DriverContact   string `json:"driver_contact"`
}
