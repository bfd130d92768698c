package domain

import (
	"fmt"
	"math"
)

// Роли участников
const (
	RoleCustomer = "customer"
	RoleDriver   = "driver"
	RoleAdmin    = "admin"
)

// NormalizeRole принимает и старые названия ролей клиента ("client", "livreur")
func NormalizeRole(role string) string {
	switch role {
	case "client":
		return RoleCustomer
	case "livreur":
		return RoleDriver
	}
	return role
}

// unitPrices цена за единицу по типу товара
var unitPrices = map[string]int64{
	"paquet": 13500,
	"sac":    405000,
}

// UnitPrice цена за единицу для типа товара
func UnitPrice(productType string) (int64, bool) {
	p, ok := unitPrices[productType]
	return p, ok
}

// TotalPrice считается один раз при создании заказа
func TotalPrice(productType string, qty int64) (int64, error) {
	if qty <= 0 {
		return 0, fmt.Errorf("%w: quantity must be positive", ErrInvalidInput)
	}
	p, ok := UnitPrice(productType)
	if !ok {
		return 0, fmt.Errorf("%w: unknown product type %q", ErrInvalidInput, productType)
	}
	if qty > math.MaxInt64/p {
		return 0, fmt.Errorf("%w: quantity %d is too large", ErrInvalidInput, qty)
	}
	return p * qty, nil
}

// transitions допустимые переходы статусов
var transitions = map[OrderStatus][]OrderStatus{
	OrderStatusPending:        {OrderStatusValidated, OrderStatusCancelled},
	OrderStatusValidated:      {OrderStatusInPreparation, OrderStatusCancelled},
	OrderStatusInPreparation:  {OrderStatusOutForDelivery, OrderStatusInvoiceConfirmed, OrderStatusCancelled},
	OrderStatusOutForDelivery: {OrderStatusDelivered, OrderStatusCancelled},
}

// driverTargets статусы, которые может выставить назначенный курьер
var driverTargets = map[OrderStatus]bool{
	OrderStatusInPreparation:  true,
	OrderStatusOutForDelivery: true,
	OrderStatusDelivered:      true,
}

// CanTransition проверяет переход по таблице
func CanTransition(from, to OrderStatus) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// CheckTransition как CanTransition, но с ошибкой для вызывающего
func CheckTransition(from, to OrderStatus) error {
	if !CanTransition(from, to) {
		return fmt.Errorf("%w: %q -> %q", ErrInvalidTransition, from, to)
	}
	return nil
}

// IsDriverTarget статус из набора, доступного курьеру
func IsDriverTarget(s OrderStatus) bool {
	return driverTargets[s]
}

// StockDecremented true, если при переходе в этот статус склад уже был списан
// и ещё не возвращён.
func StockDecremented(s OrderStatus) bool {
	switch s {
	case OrderStatusValidated, OrderStatusInPreparation, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusInvoiceConfirmed:
		return true
	}
	return false
}

// IsActiveDelivery заказ в работе у курьера
func IsActiveDelivery(s OrderStatus) bool {
	switch s {
	case OrderStatusValidated, OrderStatusInPreparation, OrderStatusOutForDelivery:
		return true
	}
	return false
}

// DeliveryRank порядок сортировки активных доставок: сначала те, что в пути
func DeliveryRank(s OrderStatus) int {
	switch s {
	case OrderStatusOutForDelivery:
		return 1
	case OrderStatusInPreparation:
		return 2
	case OrderStatusValidated:
		return 3
	default:
		return 4
	}
}

// ParseStatus принимает только известные значения
func ParseStatus(s string) (OrderStatus, bool) {
	st := OrderStatus(s)
	switch st {
	case OrderStatusPending, OrderStatusValidated, OrderStatusInPreparation, OrderStatusOutForDelivery,
		OrderStatusDelivered, OrderStatusInvoiceConfirmed, OrderStatusCancelled:
		return st, true
	}
	return "", false
}
