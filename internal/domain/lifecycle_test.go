package domain

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func TestTotalPrice(t *testing.T) {
	total, err := TotalPrice("paquet", 2)
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if total != 27000 {
		t.Fatalf("expected 27000, got %d", total)
	}
	total, err = TotalPrice("sac", 3)
	if err != nil || total != 1215000 {
		t.Fatalf("sac: %d %v", total, err)
	}
	if _, err := TotalPrice("unknown", 1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
	if _, err := TotalPrice("paquet", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input for zero qty, got %v", err)
	}
	if _, err := TotalPrice("sac", math.MaxInt64/405000+1); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("expected invalid input on overflow, got %v", err)
	}
	if total, err := TotalPrice("sac", math.MaxInt64/405000); err != nil || total <= 0 {
		t.Fatalf("largest quantity must still price: %d %v", total, err)
	}
}

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to OrderStatus
		ok       bool
	}{
		{OrderStatusPending, OrderStatusValidated, true},
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusPending, OrderStatusInPreparation, false},
		{OrderStatusValidated, OrderStatusInPreparation, true},
		{OrderStatusValidated, OrderStatusDelivered, false},
		{OrderStatusInPreparation, OrderStatusOutForDelivery, true},
		{OrderStatusInPreparation, OrderStatusInvoiceConfirmed, true},
		{OrderStatusOutForDelivery, OrderStatusDelivered, true},
		{OrderStatusOutForDelivery, OrderStatusCancelled, true},
		{OrderStatusDelivered, OrderStatusCancelled, false},
		{OrderStatusInvoiceConfirmed, OrderStatusCancelled, false},
		{OrderStatusCancelled, OrderStatusCancelled, false},
	}
	for _, c := range cases {
		if got := CanTransition(c.from, c.to); got != c.ok {
			t.Fatalf("%q -> %q: expected %v, got %v", c.from, c.to, c.ok, got)
		}
	}
	if err := CheckTransition(OrderStatusCancelled, OrderStatusValidated); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
}

func TestDriverTargets(t *testing.T) {
	for _, s := range []OrderStatus{OrderStatusInPreparation, OrderStatusOutForDelivery, OrderStatusDelivered} {
		if !IsDriverTarget(s) {
			t.Fatalf("%q should be a driver target", s)
		}
	}
	for _, s := range []OrderStatus{OrderStatusPending, OrderStatusValidated, OrderStatusCancelled, OrderStatusInvoiceConfirmed} {
		if IsDriverTarget(s) {
			t.Fatalf("%q should not be a driver target", s)
		}
	}
}

func TestStockDecremented(t *testing.T) {
	if StockDecremented(OrderStatusPending) || StockDecremented(OrderStatusCancelled) {
		t.Fatalf("pending/cancelled never hold stock")
	}
	if !StockDecremented(OrderStatusValidated) || !StockDecremented(OrderStatusOutForDelivery) {
		t.Fatalf("validated orders hold stock")
	}
}

func TestKindOf(t *testing.T) {
	wrapped := fmt.Errorf("%w: order 7", ErrNotFound)
	if KindOf(wrapped) != KindNotFound {
		t.Fatalf("wrapped not found")
	}
	if KindOf(ErrUnauthorized) != KindUnauthorized {
		t.Fatalf("unauthorized")
	}
	if KindOf(errors.New("boom")) != KindInternal {
		t.Fatalf("internal")
	}
}

func TestNormalizeRole(t *testing.T) {
	if NormalizeRole("livreur") != RoleDriver || NormalizeRole("client") != RoleCustomer {
		t.Fatalf("legacy roles not mapped")
	}
	if NormalizeRole(RoleAdmin) != RoleAdmin {
		t.Fatalf("admin changed")
	}
}
