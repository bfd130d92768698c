package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
	"cafeorders/internal/repository"
)

// OrderService жизненный цикл заказа: создание, валидация, смена статуса, счёт, отмена
type OrderService struct {
	store    *repository.Store
	notifier Notifier
	log      *slog.Logger
	locks    *keyedMutex
	now      func() time.Time
}

func NewOrderService(store *repository.Store, notifier Notifier, log *slog.Logger) *OrderService {
	return &OrderService{
		store:    store,
		notifier: notifier,
		log:      log,
		locks:    newKeyedMutex(),
		now:      time.Now,
	}
}

// PlaceOrderInput данные нового заказа
type PlaceOrderInput struct {
	CustomerID  string
	ProductType string
	Quantity    int64
}

// PlaceOrder создаёт заказ в статусе "En attente". Склад не списывается.
func (s *OrderService) PlaceOrder(ctx context.Context, in PlaceOrderInput) (*domain.Order, error) {
	in.CustomerID = strings.TrimSpace(in.CustomerID)
	in.ProductType = strings.TrimSpace(in.ProductType)
	if in.CustomerID == "" {
		return nil, fmt.Errorf("%w: customer_id is required", ErrInvalidInput)
	}
	total, err := domain.TotalPrice(in.ProductType, in.Quantity)
	if err != nil {
		return nil, err
	}

	var created *domain.Order
	var pending int64
	err = s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		if _, err := s.store.Customers.GetByID(ctx, in.CustomerID); err != nil {
			return err
		}
		ok, err := s.store.Stock.CheckAvailable(ctx, in.ProductType, in.Quantity)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: not enough %q for %d", domain.ErrInsufficientStock, in.ProductType, in.Quantity)
		}
		o := domain.Order{
			CustomerID:  domain.StringRef(in.CustomerID),
			ProductType: in.ProductType,
			Quantity:    in.Quantity,
			TotalPrice:  total,
			Status:      domain.OrderStatusPending,
		}
		if err := s.store.Orders.Create(ctx, &o); err != nil {
			return err
		}
		created = &o
		pending, err = s.store.Orders.CountByStatus(ctx, domain.OrderStatusPending)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order placed", "order_id", created.ID, "customer", in.CustomerID, "total", total)
	s.notifier.Publish(notify.EventOrderCreated, notify.OrderCreatedPayload{
		Order:        *created,
		PendingCount: pending,
	}, notify.AdminChannel)
	return created, nil
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id int64) (*domain.Order, error) {
	if id <= 0 {
		return nil, fmt.Errorf("%w: bad order id", ErrInvalidInput)
	}
	return s.store.Orders.GetByID(ctx, id)
}

// ListOrders все заказы по фильтру, новые первыми
func (s *OrderService) ListOrders(ctx context.Context, f repository.OrderFilter) ([]domain.Order, error) {
	return s.store.Orders.List(ctx, f)
}

// ListPending заказы, ожидающие валидации
func (s *OrderService) ListPending(ctx context.Context) ([]domain.Order, error) {
	return s.store.Orders.List(ctx, repository.OrderFilter{Statuses: []domain.OrderStatus{domain.OrderStatusPending}})
}

// ValidateOrder переводит заказ в "Validée", списывает склад и, если указан, назначает курьера.
// Списание условное: при нехватке возвращается ErrInsufficientStock и ничего не меняется.
func (s *OrderService) ValidateOrder(ctx context.Context, id int64, driverID string) (*domain.Order, error) {
	driverID = strings.TrimSpace(driverID)
	unlock := s.locks.Lock(id)
	defer unlock()

	var updated *domain.Order
	var pending int64
	var stock []domain.Product
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(o.Status, domain.OrderStatusValidated); err != nil {
			return err
		}
		if driverID != "" {
			if _, err := s.store.Drivers.GetByID(ctx, driverID); err != nil {
				return err
			}
			o.DriverID = domain.StringRef(driverID)
		}
		if err := s.store.Stock.Decrement(ctx, o.ProductType, o.Quantity); err != nil {
			return err
		}
		if stock, err = s.store.Stock.List(ctx); err != nil {
			return err
		}
		o.Status = domain.OrderStatusValidated
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		updated = o
		pending, err = s.store.Orders.CountByStatus(ctx, domain.OrderStatusPending)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order validated", "order_id", id, "driver", driverID)
	payload := notify.OrderValidatedPayload{
		OrderID:      updated.ID,
		CustomerID:   updated.CustomerID,
		Status:       updated.Status,
		Products:     stock,
		DriverID:     updated.DriverID,
		PendingCount: pending,
	}
	s.notifier.Publish(notify.EventOrderValidated, payload, s.adminAnd(updated.CustomerID)...)
	return updated, nil
}

// UpdateStatusInput смена статуса курьером
type UpdateStatusInput struct {
	OrderID       int64
	NewStatus     domain.OrderStatus
	RequesterRole string
	RequesterID   string
}

// UpdateStatus разрешена только назначенному курьеру и только в статусы доставки
func (s *OrderService) UpdateStatus(ctx context.Context, in UpdateStatusInput) (*domain.Order, error) {
	unlock := s.locks.Lock(in.OrderID)
	defer unlock()

	var updated *domain.Order
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, in.OrderID)
		if err != nil {
			return err
		}
		if domain.NormalizeRole(in.RequesterRole) != domain.RoleDriver ||
			in.RequesterID == "" || domain.Deref(o.DriverID) != in.RequesterID {
			return fmt.Errorf("%w: order %d is not assigned to %q", domain.ErrUnauthorized, o.ID, in.RequesterID)
		}
		if !domain.IsDriverTarget(in.NewStatus) {
			return fmt.Errorf("%w: drivers cannot set %q", domain.ErrInvalidTransition, in.NewStatus)
		}
		if err := domain.CheckTransition(o.Status, in.NewStatus); err != nil {
			return err
		}
		o.Status = in.NewStatus
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order status changed", "order_id", updated.ID, "status", updated.Status, "driver", in.RequesterID)
	s.notifier.Publish(notify.EventOrderStatusChanged, notify.StatusChangedPayload{
		OrderID: updated.ID,
		Status:  updated.Status,
		Message: fmt.Sprintf("Votre commande #%d est %s.", updated.ID, strings.ToLower(string(updated.Status))),
	}, s.adminAnd(updated.CustomerID)...)
	return updated, nil
}

// GenerateInvoice выставляет счёт по валидированному заказу и переводит его в "En préparation".
// Заказ, который курьер уже перевёл в подготовку без счёта, получает счёт без смены статуса.
func (s *OrderService) GenerateInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var inv *domain.Invoice
	var order *domain.Order
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if o.Status != domain.OrderStatusInPreparation || o.InvoiceGenerated {
			if err := domain.CheckTransition(o.Status, domain.OrderStatusInPreparation); err != nil {
				return err
			}
		}
		o.Status = domain.OrderStatusInPreparation
		o.InvoiceGenerated = true
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		order = o
		inv, err = s.buildInvoice(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice generated", "order_id", id)
	s.notifier.Publish(notify.EventInvoiceGenerated, notify.InvoicePayload{
		OrderID: id,
		Invoice: inv,
		Message: fmt.Sprintf("Facture générée pour la commande #%d - Statut: %s", id, order.Status),
	}, s.adminAnd(order.DriverID)...)
	return inv, nil
}

// GetInvoice счёт собирается из текущего состояния заказа
func (s *OrderService) GetInvoice(ctx context.Context, id int64) (*domain.Invoice, error) {
	o, err := s.store.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !o.InvoiceGenerated {
		return nil, fmt.Errorf("%w: no invoice for order %d", domain.ErrNotFound, id)
	}
	return s.buildInvoice(ctx, o)
}

// ConfirmInvoice "En préparation" -> "Facture confirmée", только после GenerateInvoice
func (s *OrderService) ConfirmInvoice(ctx context.Context, id int64) (*domain.Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var updated *domain.Order
	var inv *domain.Invoice
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(o.Status, domain.OrderStatusInvoiceConfirmed); err != nil {
			return err
		}
		if !o.InvoiceGenerated {
			return fmt.Errorf("%w: no invoice generated for order %d", domain.ErrInvalidTransition, id)
		}
		o.Status = domain.OrderStatusInvoiceConfirmed
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		updated = o
		inv, err = s.buildInvoice(ctx, o)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("invoice confirmed", "order_id", id)
	s.notifier.Publish(notify.EventInvoiceConfirmed, notify.InvoicePayload{
		OrderID: id,
		Invoice: inv,
		Message: fmt.Sprintf("Facture confirmée pour la commande #%d", id),
	}, s.adminAnd(updated.DriverID)...)
	return updated, nil
}

// CancelOrder отменяет заказ. Если склад уже был списан, количество возвращается.
func (s *OrderService) CancelOrder(ctx context.Context, id int64) (*domain.Order, error) {
	unlock := s.locks.Lock(id)
	defer unlock()

	var updated *domain.Order
	var restored bool
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		o, err := s.store.Orders.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if err := domain.CheckTransition(o.Status, domain.OrderStatusCancelled); err != nil {
			return err
		}
		if domain.StockDecremented(o.Status) {
			if err := s.store.Stock.Increment(ctx, o.ProductType, o.Quantity); err != nil {
				return err
			}
			restored = true
		}
		o.Status = domain.OrderStatusCancelled
		if err := s.store.Orders.Update(ctx, o); err != nil {
			return err
		}
		updated = o
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.log.Info("order cancelled", "order_id", id, "stock_restored", restored)
	if updated.CustomerID != nil {
		s.notifier.Publish(notify.EventOrderCancelled, notify.OrderCancelledPayload{
			OrderID: id,
			Message: fmt.Sprintf("Votre commande #%d a été annulée.", id),
		}, notify.UserChannel(*updated.CustomerID))
	}
	s.notifier.Publish(notify.EventOrderCancelled, notify.OrderCancelledPayload{
		OrderID: id,
		Message: fmt.Sprintf("Commande #%d annulée par l'admin.", id),
	}, notify.AdminChannel)
	return updated, nil
}

// GetTracking снимок доставки: статус, последняя позиция, контакты
func (s *OrderService) GetTracking(ctx context.Context, id int64) (*domain.Tracking, error) {
	o, err := s.store.Orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	t := &domain.Tracking{
		OrderID:        o.ID,
		Status:         o.Status,
		LastPosition:   o.LastPosition,
		LastPositionAt: o.LastPositionAt,
	}
	if d, err := s.lookupDriver(ctx, o.DriverID); err != nil {
		return nil, err
	} else if d != nil {
		t.DriverName, t.DriverContact = d.Name, d.Contact
	}
	if c, err := s.lookupCustomer(ctx, o.CustomerID); err != nil {
		return nil, err
	} else if c != nil {
		t.CustomerName, t.CustomerAddress = c.Name, c.Address
	}
	return t, nil
}

// ListActiveDeliveries заказы в работе: сначала в пути, затем в подготовке, затем валидированные
func (s *OrderService) ListActiveDeliveries(ctx context.Context) ([]domain.ActiveDelivery, error) {
	orders, err := s.store.Orders.List(ctx, repository.OrderFilter{Statuses: []domain.OrderStatus{
		domain.OrderStatusValidated, domain.OrderStatusInPreparation, domain.OrderStatusOutForDelivery,
	}})
	if err != nil {
		return nil, err
	}
	// List уже отсортирован по дате, стабильная сортировка сохраняет этот порядок внутри ранга
	sort.SliceStable(orders, func(i, j int) bool {
		return domain.DeliveryRank(orders[i].Status) < domain.DeliveryRank(orders[j].Status)
	})

	out := make([]domain.ActiveDelivery, 0, len(orders))
	for _, o := range orders {
		d := domain.ActiveDelivery{Order: o}
		if c, err := s.lookupCustomer(ctx, o.CustomerID); err != nil {
			return nil, err
		} else if c != nil {
			d.CustomerName, d.CustomerAddress, d.CustomerContact = c.Name, c.Address, c.Contact
		}
		if dr, err := s.lookupDriver(ctx, o.DriverID); err != nil {
			return nil, err
		} else if dr != nil {
			d.DriverName, d.DriverContact = dr.Name, dr.Contact
		}
		out = append(out, d)
	}
	return out, nil
}

// DriverAccepted информирует администраторов, что курьер принял заказ. Состояние не меняется.
func (s *OrderService) DriverAccepted(ctx context.Context, orderID int64, driverID, message string) error {
	o, err := s.store.Orders.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if driverID == "" || domain.Deref(o.DriverID) != driverID {
		return fmt.Errorf("%w: order %d is not assigned to %q", domain.ErrUnauthorized, orderID, driverID)
	}
	if message == "" {
		message = fmt.Sprintf("Le livreur %s a accepté la commande #%d", driverID, orderID)
	}
	s.notifier.Publish(notify.EventDriverAccepted, notify.DriverAcceptedPayload{
		OrderID:   orderID,
		DriverID:  driverID,
		Message:   message,
		Timestamp: s.now(),
	}, notify.AdminChannel)
	return nil
}

func (s *OrderService) buildInvoice(ctx context.Context, o *domain.Order) (*domain.Invoice, error) {
	unit, _ := domain.UnitPrice(o.ProductType)
	inv := &domain.Invoice{
		OrderID:   o.ID,
		OrderedAt: o.CreatedAt,
		IssuedAt:  s.now(),
		Lines: []domain.InvoiceLine{{
			Type:      o.ProductType,
			Quantity:  o.Quantity,
			UnitPrice: unit,
			Total:     o.TotalPrice,
		}},
		Status: o.Status,
	}
	c, err := s.lookupCustomer(ctx, o.CustomerID)
	if err != nil {
		return nil, err
	}
	if c != nil {
		inv.Customer = domain.InvoiceParty{Name: c.Name, Address: c.Address, Contact: c.Contact}
	}
	d, err := s.lookupDriver(ctx, o.DriverID)
	if err != nil {
		return nil, err
	}
	if d != nil {
		inv.Driver = domain.InvoiceParty{Name: d.Name, Contact: d.Contact}
	}
	return inv, nil
}

// lookupCustomer nil без ошибки, если ссылки нет или клиент удалён
func (s *OrderService) lookupCustomer(ctx context.Context, id *string) (*domain.Customer, error) {
	if id == nil {
		return nil, nil
	}
	c, err := s.store.Customers.GetByID(ctx, *id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return c, err
}

func (s *OrderService) lookupDriver(ctx context.Context, id *string) (*domain.Driver, error) {
	if id == nil {
		return nil, nil
	}
	d, err := s.store.Drivers.GetByID(ctx, *id)
	if errors.Is(err, domain.ErrNotFound) {
		return nil, nil
	}
	return d, err
}

// adminAnd общий канал администраторов плюс персональный канал участника, если он есть
func (s *OrderService) adminAnd(identity *string) []string {
	if identity == nil {
		return []string{notify.AdminChannel}
	}
	return []string{notify.AdminChannel, notify.UserChannel(*identity)}
}
