package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"cafeorders/internal/domain"
	"cafeorders/internal/repository"
)

type published struct {
	name     string
	payload  any
	channels []string
}

// recordingNotifier запоминает все публикации
type recordingNotifier struct {
	mu     sync.Mutex
	events []published
}

func (r *recordingNotifier) Publish(name string, payload any, channels ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, published{name: name, payload: payload, channels: channels})
}

func (r *recordingNotifier) byName(name string) []published {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []published
	for _, e := range r.events {
		if e.name == name {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	store    *repository.Store
	mem      *repository.MemoryStore
	notifier *recordingNotifier
	orders   *OrderService
	stock    *StockService
	chat     *ChatService
	dir      *DirectoryService
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store, mem := repository.NewMemory()
	n := &recordingNotifier{}
	log := testLogger()
	f := &fixture{
		store:    store,
		mem:      mem,
		notifier: n,
		orders:   NewOrderService(store, n, log),
		stock:    NewStockService(store.Stock, log),
		chat:     NewChatService(store.Customers, store.Messages, n, log),
		dir:      NewDirectoryService(store.Customers, store.Drivers, nil, log),
	}
	if _, err := mem.UpsertAdd(ctx, "paquet", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.UpsertAdd(ctx, "sac", 10); err != nil {
		t.Fatal(err)
	}
	mustCreate(t, store.Customers.Create(ctx, &domain.Customer{Email: "c1@cafe.mg", Name: "Rasoa", Address: "Lot II", Contact: "034"}))
	mustCreate(t, store.Drivers.Create(ctx, &domain.Driver{Email: "d1@cafe.mg", Name: "Rakoto", Code: "L1", Contact: "033"}))
	mustCreate(t, store.Drivers.Create(ctx, &domain.Driver{Email: "d2@cafe.mg", Name: "Bema", Code: "L2"}))
	return f
}

func mustCreate(t *testing.T, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func (f *fixture) quantity(t *testing.T, productType string) int64 {
	t.Helper()
	p, err := f.mem.Get(context.Background(), productType)
	if err != nil {
		t.Fatalf("get stock: %v", err)
	}
	return p.Quantity
}

func (f *fixture) place(t *testing.T, productType string, qty int64) *domain.Order {
	t.Helper()
	o, err := f.orders.PlaceOrder(context.Background(), PlaceOrderInput{CustomerID: "c1@cafe.mg", ProductType: productType, Quantity: qty})
	if err != nil {
		t.Fatalf("place order: %v", err)
	}
	return o
}
