package repository

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"cafeorders/internal/domain"
)

// MemoryStore объединённое in-memory хранилище и простой генератор ID
type MemoryStore struct {
	mu              sync.RWMutex
	nextOrderID     int64
	nextMessageID   int64
	stock           map[string]int64
	ordersByID      map[int64]domain.Order
	driversByID     map[string]domain.Driver
	customersByID   map[string]domain.Customer
	messagesByID    map[int64]domain.ChatMessage
	messagesOrdered []int64
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		nextOrderID:   1,
		nextMessageID: 1,
		stock:         make(map[string]int64),
		ordersByID:    make(map[int64]domain.Order),
		driversByID:   make(map[string]domain.Driver),
		customersByID: make(map[string]domain.Customer),
		messagesByID:  make(map[int64]domain.ChatMessage),
	}
}

// NewMemory собирает Store поверх одного MemoryStore
func NewMemory() (*Store, *MemoryStore) {
	m := NewMemoryStore()
	return &Store{
		Stock:     m,
		Orders:    NewMemoryOrders(m),
		Drivers:   NewMemoryDrivers(m),
		Customers: NewMemoryCustomers(m),
		Messages:  NewMemoryMessages(m),
		Tx:        NewMemoryTx(m),
	}, m
}

// transaction-aware locking helpers
type txKey struct{}

// txState журнал отката: операции внутри транзакции записывают обратное действие
type txState struct {
	undo []func()
}

func txFrom(ctx context.Context) *txState {
	st, _ := ctx.Value(txKey{}).(*txState)
	return st
}

func isTx(ctx context.Context) bool {
	return txFrom(ctx) != nil
}

func (m *MemoryStore) rlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RLock()
	}
}
func (m *MemoryStore) runlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.RUnlock()
	}
}
func (m *MemoryStore) wlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Lock()
	}
}
func (m *MemoryStore) wunlock(ctx context.Context) {
	if !isTx(ctx) {
		m.mu.Unlock()
	}
}

// onRollback must be called with the write lock held
func (m *MemoryStore) onRollback(ctx context.Context, fn func()) {
	if st := txFrom(ctx); st != nil {
		st.undo = append(st.undo, fn)
	}
}

func (m *MemoryStore) restoreOrder(ctx context.Context, id int64) {
	prev, existed := m.ordersByID[id]
	m.onRollback(ctx, func() {
		if existed {
			m.ordersByID[id] = prev
		} else {
			delete(m.ordersByID, id)
		}
	})
}

// Ensure interfaces
var _ StockLedger = (*MemoryStore)(nil)

// StockLedger implementation

func (m *MemoryStore) CheckAvailable(ctx context.Context, productType string, qty int64) (bool, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	cur, ok := m.stock[productType]
	if !ok {
		return false, fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	return cur >= qty, nil
}

func (m *MemoryStore) Decrement(ctx context.Context, productType string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	m.wlock(ctx)
	defer m.wunlock(ctx)
	cur, ok := m.stock[productType]
	if !ok {
		return fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	if cur < qty {
		return fmt.Errorf("%w: %q has %d, need %d", domain.ErrInsufficientStock, productType, cur, qty)
	}
	m.stock[productType] = cur - qty
	m.onRollback(ctx, func() { m.stock[productType] = cur })
	return nil
}

func (m *MemoryStore) Increment(ctx context.Context, productType string, qty int64) error {
	if qty <= 0 {
		return fmt.Errorf("%w: quantity must be positive", domain.ErrInvalidInput)
	}
	m.wlock(ctx)
	defer m.wunlock(ctx)
	cur, ok := m.stock[productType]
	if !ok {
		return fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	if qty > math.MaxInt64-cur {
		return fmt.Errorf("%w: stock of %q would overflow", domain.ErrInvalidInput, productType)
	}
	m.stock[productType] = cur + qty
	m.onRollback(ctx, func() { m.stock[productType] = cur })
	return nil
}

func (m *MemoryStore) UpsertAdd(ctx context.Context, productType string, qty int64) (*domain.Product, error) {
	if qty < 0 {
		return nil, fmt.Errorf("%w: quantity must not be negative", domain.ErrInvalidInput)
	}
	m.wlock(ctx)
	defer m.wunlock(ctx)
	cur, existed := m.stock[productType]
	if qty > math.MaxInt64-cur {
		return nil, fmt.Errorf("%w: stock of %q would overflow", domain.ErrInvalidInput, productType)
	}
	m.stock[productType] = cur + qty
	m.onRollback(ctx, func() {
		if existed {
			m.stock[productType] = cur
		} else {
			delete(m.stock, productType)
		}
	})
	return &domain.Product{Type: productType, Quantity: cur + qty}, nil
}

func (m *MemoryStore) Get(ctx context.Context, productType string) (*domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	q, ok := m.stock[productType]
	if !ok {
		return nil, fmt.Errorf("%w: product %q", ErrNotFound, productType)
	}
	return &domain.Product{Type: productType, Quantity: q}, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]domain.Product, error) {
	m.rlock(ctx)
	defer m.runlock(ctx)
	out := make([]domain.Product, 0, len(m.stock))
	for t, q := range m.stock {
		out = append(out, domain.Product{Type: t, Quantity: q})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Type < out[j].Type })
	return out, nil
}

// OrderRepository implementation on wrapper type
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	o.ID = mo.store.nextOrderID
	mo.store.nextOrderID++
	if o.CreatedAt.IsZero() {
		o.CreatedAt = time.Now().UTC()
	}
	o.UpdatedAt = o.CreatedAt
	mo.store.restoreOrder(ctx, o.ID)
	mo.store.ordersByID[o.ID] = cloneOrder(*o)
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id int64) (*domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (mo *MemoryOrders) Update(ctx context.Context, o *domain.Order) error {
	mo.store.wlock(ctx)
	defer mo.store.wunlock(ctx)
	if _, ok := mo.store.ordersByID[o.ID]; !ok {
		return fmt.Errorf("%w: order %d", ErrNotFound, o.ID)
	}
	o.UpdatedAt = time.Now().UTC()
	mo.store.restoreOrder(ctx, o.ID)
	mo.store.ordersByID[o.ID] = cloneOrder(*o)
	return nil
}

func (mo *MemoryOrders) List(ctx context.Context, f OrderFilter) ([]domain.Order, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	out := make([]domain.Order, 0)
	for _, o := range mo.store.ordersByID {
		if f.matches(o) {
			out = append(out, cloneOrder(o))
		}
	}
	// newest first, like the admin lists
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (mo *MemoryOrders) CountByStatus(ctx context.Context, status domain.OrderStatus) (int64, error) {
	mo.store.rlock(ctx)
	defer mo.store.runlock(ctx)
	var n int64
	for _, o := range mo.store.ordersByID {
		if o.Status == status {
			n++
		}
	}
	return n, nil
}

// DriverRepository implementation
type MemoryDrivers struct{ store *MemoryStore }

func NewMemoryDrivers(store *MemoryStore) *MemoryDrivers { return &MemoryDrivers{store: store} }

var _ DriverRepository = (*MemoryDrivers)(nil)

func (md *MemoryDrivers) Create(ctx context.Context, d *domain.Driver) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	if d.Email == "" {
		return fmt.Errorf("%w: driver email is required", domain.ErrInvalidInput)
	}
	if _, ok := md.store.driversByID[d.Email]; ok {
		return fmt.Errorf("%w: driver %q already exists", domain.ErrInvalidInput, d.Email)
	}
	for _, other := range md.store.driversByID {
		if d.Code != "" && other.Code == d.Code {
			return fmt.Errorf("%w: driver code %q already used", domain.ErrInvalidInput, d.Code)
		}
	}
	md.store.driversByID[d.Email] = *d
	md.store.onRollback(ctx, func() { delete(md.store.driversByID, d.Email) })
	return nil
}

func (md *MemoryDrivers) GetByID(ctx context.Context, email string) (*domain.Driver, error) {
	md.store.rlock(ctx)
	defer md.store.runlock(ctx)
	d, ok := md.store.driversByID[email]
	if !ok {
		return nil, fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	return &d, nil
}

func (md *MemoryDrivers) UpdatePosition(ctx context.Context, email string, pos domain.Position, delivering bool, at time.Time) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	d, ok := md.store.driversByID[email]
	if !ok {
		return fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	prev := d
	p := pos
	d.Position = &p
	d.PositionAt = &at
	d.Delivering = delivering
	md.store.driversByID[email] = d
	md.store.onRollback(ctx, func() { md.store.driversByID[email] = prev })
	return nil
}

func (md *MemoryDrivers) ListWithPosition(ctx context.Context) ([]domain.Driver, error) {
	md.store.rlock(ctx)
	defer md.store.runlock(ctx)
	out := make([]domain.Driver, 0)
	for _, d := range md.store.driversByID {
		if d.Position != nil {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (md *MemoryDrivers) Delete(ctx context.Context, email string) error {
	md.store.wlock(ctx)
	defer md.store.wunlock(ctx)
	prev, ok := md.store.driversByID[email]
	if !ok {
		return fmt.Errorf("%w: driver %q", ErrNotFound, email)
	}
	delete(md.store.driversByID, email)
	md.store.onRollback(ctx, func() { md.store.driversByID[email] = prev })
	for id, o := range md.store.ordersByID {
		if domain.Deref(o.DriverID) == email {
			md.store.restoreOrder(ctx, id)
			o.DriverID = nil
			md.store.ordersByID[id] = o
		}
	}
	return nil
}

// CustomerRepository implementation
type MemoryCustomers struct{ store *MemoryStore }

func NewMemoryCustomers(store *MemoryStore) *MemoryCustomers { return &MemoryCustomers{store: store} }

var _ CustomerRepository = (*MemoryCustomers)(nil)

func (mc *MemoryCustomers) Create(ctx context.Context, c *domain.Customer) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	if c.Email == "" {
		return fmt.Errorf("%w: customer email is required", domain.ErrInvalidInput)
	}
	if _, ok := mc.store.customersByID[c.Email]; ok {
		return fmt.Errorf("%w: customer %q already exists", domain.ErrInvalidInput, c.Email)
	}
	mc.store.customersByID[c.Email] = *c
	mc.store.onRollback(ctx, func() { delete(mc.store.customersByID, c.Email) })
	return nil
}

func (mc *MemoryCustomers) GetByID(ctx context.Context, email string) (*domain.Customer, error) {
	mc.store.rlock(ctx)
	defer mc.store.runlock(ctx)
	c, ok := mc.store.customersByID[email]
	if !ok {
		return nil, fmt.Errorf("%w: customer %q", ErrNotFound, email)
	}
	return &c, nil
}

func (mc *MemoryCustomers) Delete(ctx context.Context, email string) error {
	mc.store.wlock(ctx)
	defer mc.store.wunlock(ctx)
	prev, ok := mc.store.customersByID[email]
	if !ok {
		return fmt.Errorf("%w: customer %q", ErrNotFound, email)
	}
	delete(mc.store.customersByID, email)
	mc.store.onRollback(ctx, func() { mc.store.customersByID[email] = prev })
	for id, o := range mc.store.ordersByID {
		if domain.Deref(o.CustomerID) == email {
			mc.store.restoreOrder(ctx, id)
			o.CustomerID = nil
			mc.store.ordersByID[id] = o
		}
	}

	prevOrdered := mc.store.messagesOrdered
	removed := make(map[int64]domain.ChatMessage)
	kept := make([]int64, 0, len(prevOrdered))
	for _, id := range prevOrdered {
		msg := mc.store.messagesByID[id]
		if domain.Deref(msg.CustomerID) == email {
			removed[id] = msg
			delete(mc.store.messagesByID, id)
			continue
		}
		kept = append(kept, id)
	}
	mc.store.messagesOrdered = kept
	mc.store.onRollback(ctx, func() {
		for id, msg := range removed {
			mc.store.messagesByID[id] = msg
		}
		mc.store.messagesOrdered = prevOrdered
	})
	return nil
}

// MessageRepository implementation
type MemoryMessages struct{ store *MemoryStore }

func NewMemoryMessages(store *MemoryStore) *MemoryMessages { return &MemoryMessages{store: store} }

var _ MessageRepository = (*MemoryMessages)(nil)

func (mm *MemoryMessages) Create(ctx context.Context, msg *domain.ChatMessage) error {
	mm.store.wlock(ctx)
	defer mm.store.wunlock(ctx)
	msg.ID = mm.store.nextMessageID
	mm.store.nextMessageID++
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	mm.store.messagesByID[msg.ID] = *msg
	prevLen := len(mm.store.messagesOrdered)
	mm.store.messagesOrdered = append(mm.store.messagesOrdered, msg.ID)
	id := msg.ID
	mm.store.onRollback(ctx, func() {
		delete(mm.store.messagesByID, id)
		mm.store.messagesOrdered = mm.store.messagesOrdered[:prevLen]
	})
	return nil
}

func (mm *MemoryMessages) ListByCustomer(ctx context.Context, customerID string) ([]domain.ChatMessage, error) {
	mm.store.rlock(ctx)
	defer mm.store.runlock(ctx)
	out := make([]domain.ChatMessage, 0)
	for _, id := range mm.store.messagesOrdered {
		msg := mm.store.messagesByID[id]
		if domain.Deref(msg.CustomerID) == customerID {
			out = append(out, msg)
		}
	}
	return out, nil
}

// Tx manager using write lock to emulate transaction boundary
type MemoryTx struct{ store *MemoryStore }

func NewMemoryTx(store *MemoryStore) *MemoryTx { return &MemoryTx{store: store} }

func (tx *MemoryTx) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if isTx(ctx) {
		return fn(ctx)
	}
	// Репозитории внутри пропускают свои локи; при ошибке журнал откатывается в обратном порядке
	tx.store.mu.Lock()
	defer tx.store.mu.Unlock()
	st := &txState{}
	err := fn(context.WithValue(ctx, txKey{}, st))
	if err != nil {
		for i := len(st.undo) - 1; i >= 0; i-- {
			st.undo[i]()
		}
	}
	return err
}

func cloneOrder(o domain.Order) domain.Order {
	if o.LastPosition != nil {
		p := *o.LastPosition
		o.LastPosition = &p
	}
	if o.LastPositionAt != nil {
		t := *o.LastPositionAt
		o.LastPositionAt = &t
	}
	if o.CustomerID != nil {
		c := *o.CustomerID
		o.CustomerID = &c
	}
	if o.DriverID != nil {
		d := *o.DriverID
		o.DriverID = &d
	}
	return o
}
