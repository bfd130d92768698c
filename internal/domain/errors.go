package domain

import "errors"

// Базовые ошибки. Слои оборачивают их через fmt.Errorf("%w: ...") и
// транспорт сопоставляет их со статусами через errors.Is.
var (
	ErrNotFound          = errors.New("not found")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrInvalidTransition = errors.New("invalid transition")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrInvalidInput      = errors.New("invalid input")
)

// Стабильные имена видов ошибок для ответа API
const (
	KindNotFound          = "not_found"
	KindInsufficientStock = "insufficient_stock"
	KindInvalidTransition = "invalid_transition"
	KindUnauthorized      = "unauthorized"
	KindValidation        = "validation_error"
	KindInternal          = "internal"
)

// KindOf возвращает вид ошибки
func KindOf(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInsufficientStock):
		return KindInsufficientStock
	case errors.Is(err, ErrInvalidTransition):
		return KindInvalidTransition
	case errors.Is(err, ErrUnauthorized):
		return KindUnauthorized
	case errors.Is(err, ErrInvalidInput):
		return KindValidation
	default:
		return KindInternal
	}
}
