package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
	"cafeorders/internal/repository"
	"cafeorders/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func setupServer(t *testing.T) *Server {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	store, mem := repository.NewMemory()
	ctx := context.Background()
	if _, err := mem.UpsertAdd(ctx, "paquet", 100); err != nil {
		t.Fatal(err)
	}
	if _, err := mem.UpsertAdd(ctx, "sac", 10); err != nil {
		t.Fatal(err)
	}
	broker := notify.NewBroker(log)
	s := NewServer(Services{
		Orders:    service.NewOrderService(store, broker, log),
		Stock:     service.NewStockService(store.Stock, log),
		Tracking:  service.NewTrackingService(store, nil, broker, log),
		Chat:      service.NewChatService(store.Customers, store.Messages, broker, log),
		Directory: service.NewDirectoryService(store.Customers, store.Drivers, nil, log),
	}, log)

	for _, c := range []map[string]any{
		{"email": "c1@cafe.mg", "name": "Rasoa", "address": "Lot II"},
	} {
		if w := doJSON(t, s, http.MethodPost, "/api/v1/customers", c); w.Code != http.StatusCreated {
			t.Fatalf("seed customer: %d %s", w.Code, w.Body)
		}
	}
	for _, d := range []map[string]any{
		{"email": "d1@cafe.mg", "name": "Rakoto", "code": "L1"},
		{"email": "d2@cafe.mg", "name": "Bema", "code": "L2"},
	} {
		if w := doJSON(t, s, http.MethodPost, "/api/v1/drivers", d); w.Code != http.StatusCreated {
			t.Fatalf("seed driver: %d %s", w.Code, w.Body)
		}
	}
	return s
}

func doJSON(t *testing.T, s *Server, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Engine().ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return v
}

func stockOf(t *testing.T, s *Server, productType string) int64 {
	t.Helper()
	w := doJSON(t, s, http.MethodGet, "/api/v1/products", nil)
	for _, p := range decode[[]domain.Product](t, w) {
		if p.Type == productType {
			return p.Quantity
		}
	}
	t.Fatalf("product %q not listed", productType)
	return 0
}

func TestOrderScenario(t *testing.T) {
	s := setupServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": "c1@cafe.mg", "product_type": "paquet", "quantity": 2,
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create code %v: %s", w.Code, w.Body)
	}
	created := decode[placeOrderResp](t, w)
	if created.TotalPrice != 27000 {
		t.Fatalf("expected total 27000, got %d", created.TotalPrice)
	}
	if q := stockOf(t, s, "paquet"); q != 100 {
		t.Fatalf("create must not touch stock: %d", q)
	}
	id := created.Order.ID

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/validate", id), map[string]any{"driver_id": "d1@cafe.mg"})
	if w.Code != http.StatusOK {
		t.Fatalf("validate code %v: %s", w.Code, w.Body)
	}
	if o := decode[domain.Order](t, w); o.Status != domain.OrderStatusValidated {
		t.Fatalf("expected Validée, got %q", o.Status)
	}
	if q := stockOf(t, s, "paquet"); q != 98 {
		t.Fatalf("expected 98, got %d", q)
	}

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/status", id), map[string]any{
		"new_status": "Livré", "requester_role": "driver", "requester_id": "d2@cafe.mg",
	})
	if w.Code != http.StatusForbidden {
		t.Fatalf("foreign driver must get 403, got %v", w.Code)
	}
	if e := decode[errorResponse](t, w); e.Error != domain.KindUnauthorized {
		t.Fatalf("unexpected error body: %+v", e)
	}

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/cancel", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("cancel code %v: %s", w.Code, w.Body)
	}
	if o := decode[domain.Order](t, w); o.Status != domain.OrderStatusCancelled {
		t.Fatalf("expected Annulée, got %q", o.Status)
	}
	if q := stockOf(t, s, "paquet"); q != 100 {
		t.Fatalf("expected 100 after cancel, got %d", q)
	}

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/cancel", id), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("re-cancel must be 400, got %v", w.Code)
	}
}

func TestValidate_InsufficientStock(t *testing.T) {
	s := setupServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": "c1@cafe.mg", "product_type": "sac", "quantity": 5,
	})
	big := decode[placeOrderResp](t, w).Order.ID
	w = doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": "c1@cafe.mg", "product_type": "sac", "quantity": 7,
	})
	small := decode[placeOrderResp](t, w).Order.ID
	if w := doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/validate", small), nil); w.Code != http.StatusOK {
		t.Fatalf("validate small: %v %s", w.Code, w.Body)
	}

	w = doJSON(t, s, http.MethodPut, fmt.Sprintf("/api/v1/orders/%d/validate", big), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %v", w.Code)
	}
	if e := decode[errorResponse](t, w); e.Error != domain.KindInsufficientStock {
		t.Fatalf("unexpected error: %+v", e)
	}
	if q := stockOf(t, s, "sac"); q != 3 {
		t.Fatalf("stock must stay 3, got %d", q)
	}
}

func TestOrderErrors(t *testing.T) {
	s := setupServer(t)
	cases := []struct {
		method, path string
		body         any
		code         int
	}{
		{http.MethodGet, "/api/v1/orders/999", nil, http.StatusNotFound},
		{http.MethodGet, "/api/v1/orders/abc", nil, http.StatusBadRequest},
		{http.MethodPut, "/api/v1/orders/999/validate", nil, http.StatusNotFound},
		{http.MethodPost, "/api/v1/orders", map[string]any{"customer_id": "ghost@cafe.mg", "product_type": "paquet", "quantity": 1}, http.StatusNotFound},
		{http.MethodPost, "/api/v1/orders", map[string]any{"customer_id": "c1@cafe.mg", "product_type": "paquet", "quantity": 0}, http.StatusBadRequest},
		{http.MethodPost, "/api/v1/orders", map[string]any{"customer_id": "c1@cafe.mg", "product_type": "sac", "quantity": 11}, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/orders?status=Unknown", nil, http.StatusBadRequest},
		{http.MethodGet, "/api/v1/orders/999/invoice", nil, http.StatusNotFound},
	}
	for _, c := range cases {
		if w := doJSON(t, s, c.method, c.path, c.body); w.Code != c.code {
			t.Fatalf("%s %s: expected %d, got %d (%s)", c.method, c.path, c.code, w.Code, w.Body)
		}
	}
}

func TestDeliveryFlow(t *testing.T) {
	s := setupServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": "c1@cafe.mg", "product_type": "sac", "quantity": 1,
	})
	id := decode[placeOrderResp](t, w).Order.ID
	base := fmt.Sprintf("/api/v1/orders/%d", id)

	if w := doJSON(t, s, http.MethodPost, base+"/invoice", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("invoice on pending must be 400, got %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodPut, base+"/validate", map[string]any{"driver_id": "d1@cafe.mg"}); w.Code != http.StatusOK {
		t.Fatalf("validate: %v", w.Code)
	}
	w = doJSON(t, s, http.MethodPost, base+"/invoice", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("invoice: %v %s", w.Code, w.Body)
	}
	inv := decode[invoiceResp](t, w).Invoice
	if inv == nil || inv.Lines[0].UnitPrice != 405000 || inv.Status != domain.OrderStatusInPreparation {
		t.Fatalf("unexpected invoice: %+v", inv)
	}
	if w := doJSON(t, s, http.MethodGet, base+"/invoice", nil); w.Code != http.StatusOK {
		t.Fatalf("get invoice: %v", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, "/api/v1/deliveries/active", nil)
	if list := decode[[]domain.ActiveDelivery](t, w); len(list) != 1 || list[0].DriverName != "Rakoto" {
		t.Fatalf("active deliveries: %s", w.Body)
	}

	w = doJSON(t, s, http.MethodPut, base+"/status", map[string]any{
		"new_status": "En route pour livraison", "requester_role": "livreur", "requester_id": "d1@cafe.mg",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("out for delivery: %v %s", w.Code, w.Body)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/drivers/d1@cafe.mg/position", map[string]any{
		"latitude": -18.91, "longitude": 47.52, "order_id": id,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("position: %v %s", w.Code, w.Body)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/drivers/d1@cafe.mg/position", map[string]any{"latitude": 95, "longitude": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("bad latitude must be 400, got %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/drivers/ghost@cafe.mg/position", map[string]any{"latitude": 1, "longitude": 1}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown driver must be 404, got %v", w.Code)
	}

	w = doJSON(t, s, http.MethodGet, base+"/tracking", nil)
	tr := decode[domain.Tracking](t, w)
	if tr.LastPosition == nil || tr.LastPosition.Accuracy != 10 || tr.Status != domain.OrderStatusOutForDelivery {
		t.Fatalf("tracking: %s", w.Body)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/drivers/positions", nil)
	if list := decode[[]domain.DriverPosition](t, w); len(list) != 1 || !list[0].Delivering {
		t.Fatalf("positions: %s", w.Body)
	}

	w = doJSON(t, s, http.MethodPut, base+"/status", map[string]any{
		"new_status": "Livré", "requester_role": "driver", "requester_id": "d1@cafe.mg",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("delivered: %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodPut, base+"/invoice/confirm", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("confirm after delivery must be 400, got %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodPut, base+"/cancel", nil); w.Code != http.StatusBadRequest {
		t.Fatalf("cancel after delivery must be 400, got %v", w.Code)
	}
	if q := stockOf(t, s, "sac"); q != 9 {
		t.Fatalf("expected 9, got %d", q)
	}
}

func TestListFilters(t *testing.T) {
	s := setupServer(t)
	for i := 0; i < 3; i++ {
		doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
			"customer_id": "c1@cafe.mg", "product_type": "paquet", "quantity": 1,
		})
	}
	doJSON(t, s, http.MethodPut, "/api/v1/orders/1/validate", map[string]any{"driver_id": "d2@cafe.mg"})

	w := doJSON(t, s, http.MethodGet, "/api/v1/orders/pending", nil)
	if list := decode[[]domain.Order](t, w); len(list) != 2 {
		t.Fatalf("pending: %s", w.Body)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/orders?driver=d2@cafe.mg", nil)
	if list := decode[[]domain.Order](t, w); len(list) != 1 || list[0].ID != 1 {
		t.Fatalf("driver filter: %s", w.Body)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/orders?status=En%20attente,Valid%C3%A9e&customer=c1@cafe.mg", nil)
	if list := decode[[]domain.Order](t, w); len(list) != 3 {
		t.Fatalf("status filter: %s", w.Body)
	}
}

func TestStockAndChat(t *testing.T) {
	s := setupServer(t)

	w := doJSON(t, s, http.MethodPost, "/api/v1/products", map[string]any{"type": "sac", "quantity": 5})
	if w.Code != http.StatusCreated || decode[domain.Product](t, w).Quantity != 15 {
		t.Fatalf("add stock: %v %s", w.Code, w.Body)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/products", map[string]any{"type": "sac", "quantity": 0}); w.Code != http.StatusBadRequest {
		t.Fatalf("zero stock must be 400, got %v", w.Code)
	}

	w = doJSON(t, s, http.MethodPost, "/api/v1/messages", map[string]any{"customer_id": "c1@cafe.mg", "text": "Bonjour"})
	if w.Code != http.StatusCreated {
		t.Fatalf("send: %v %s", w.Code, w.Body)
	}
	if w := doJSON(t, s, http.MethodPost, "/api/v1/messages", map[string]any{"customer_id": "ghost@cafe.mg", "text": "x"}); w.Code != http.StatusNotFound {
		t.Fatalf("unknown customer must be 404, got %v", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, "/api/v1/messages/c1@cafe.mg", nil)
	if list := decode[[]domain.ChatMessage](t, w); len(list) != 1 {
		t.Fatalf("history: %s", w.Body)
	}
}

func TestDeleteActors(t *testing.T) {
	s := setupServer(t)
	w := doJSON(t, s, http.MethodPost, "/api/v1/orders", map[string]any{
		"customer_id": "c1@cafe.mg", "product_type": "paquet", "quantity": 1,
	})
	id := decode[placeOrderResp](t, w).Order.ID

	if w := doJSON(t, s, http.MethodDelete, "/api/v1/customers/c1@cafe.mg", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete customer: %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/customers/c1@cafe.mg", nil); w.Code != http.StatusNotFound {
		t.Fatalf("second delete must be 404, got %v", w.Code)
	}
	if w := doJSON(t, s, http.MethodDelete, "/api/v1/drivers/d1@cafe.mg", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete driver: %v", w.Code)
	}
	w = doJSON(t, s, http.MethodGet, fmt.Sprintf("/api/v1/orders/%d", id), nil)
	if o := decode[domain.Order](t, w); o.CustomerID != nil {
		t.Fatalf("customer reference must be nulled: %s", w.Body)
	}
}

func TestHealthz(t *testing.T) {
	s := setupServer(t)
	if w := doJSON(t, s, http.MethodGet, "/healthz", nil); w.Code != http.StatusOK {
		t.Fatalf("healthz: %v", w.Code)
	}
}
