package repository

import (
	"context"
	"time"

	"cafeorders/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = domain.ErrNotFound

// OrderFilter параметры фильтрации списка заказов
type OrderFilter struct {
	Statuses   []domain.OrderStatus
	CustomerID string
	DriverID   string
}

func (f OrderFilter) matches(o domain.Order) bool {
	if len(f.Statuses) > 0 {
		ok := false
		for _, s := range f.Statuses {
			if o.Status == s {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.CustomerID != "" && domain.Deref(o.CustomerID) != f.CustomerID {
		return false
	}
	if f.DriverID != "" && domain.Deref(o.DriverID) != f.DriverID {
		return false
	}
	return true
}

// StockLedger учёт остатков по типу товара. Decrement атомарен: проверка и
// списание выполняются одной операцией.
type StockLedger interface {
	CheckAvailable(ctx context.Context, productType string, qty int64) (bool, error)
	Decrement(ctx context.Context, productType string, qty int64) error
	Increment(ctx context.Context, productType string, qty int64) error
	UpsertAdd(ctx context.Context, productType string, qty int64) (*domain.Product, error)
	Get(ctx context.Context, productType string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id int64) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	List(ctx context.Context, f OrderFilter) ([]domain.Order, error)
	CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error)
}

// DriverRepository интерфейс репозитория курьеров
type DriverRepository interface {
	Create(ctx context.Context, d *domain.Driver) error
	GetByID(ctx context.Context, email string) (*domain.Driver, error)
	UpdatePosition(ctx context.Context, email string, pos domain.Position, delivering bool, at time.Time) error
	ListWithPosition(ctx context.Context) ([]domain.Driver, error)
	// Delete обнуляет ссылки заказов на курьера
	Delete(ctx context.Context, email string) error
}

// CustomerRepository интерфейс репозитория клиентов
type CustomerRepository interface {
	Create(ctx context.Context, c *domain.Customer) error
	GetByID(ctx context.Context, email string) (*domain.Customer, error)
	// Delete обнуляет ссылки заказов и удаляет сообщения клиента
	Delete(ctx context.Context, email string) error
}

// MessageRepository интерфейс хранилища сообщений чата (только добавление)
type MessageRepository interface {
	Create(ctx context.Context, m *domain.ChatMessage) error
	ListByCustomer(ctx context.Context, customerID string) ([]domain.ChatMessage, error)
}

// TxManager абстракция транзакции. Для in-memory — глобальная блокировка записи и журнал отката.
type TxManager interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store набор репозиториев одного бэкенда
type Store struct {
	Stock     StockLedger
	Orders    OrderRepository
	Drivers   DriverRepository
	Customers CustomerRepository
	Messages  MessageRepository
	Tx        TxManager
}
