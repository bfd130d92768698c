package service

import (
	"sync"

	"cafeorders/internal/domain"
)

// ErrInvalidInput ошибка валидации входных данных
var ErrInvalidInput = domain.ErrInvalidInput

// Notifier публикация событий после успешной записи. Ошибок не возвращает.
type Notifier interface {
	Publish(name string, payload any, channels ...string)
}

// keyedMutex сериализует изменения одного заказа внутри процесса
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int64]*refMutex
}

type refMutex struct {
	sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[int64]*refMutex)}
}

// Lock возвращает функцию освобождения
func (k *keyedMutex) Lock(id int64) func() {
	k.mu.Lock()
	m, ok := k.locks[id]
	if !ok {
		m = &refMutex{}
		k.locks[id] = m
	}
	m.refs++
	k.mu.Unlock()

	m.Lock()
	return func() {
		m.Unlock()
		k.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(k.locks, id)
		}
		k.mu.Unlock()
	}
}
