package service

import (
	"context"
	"errors"
	"testing"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
)

func TestChat_SendAndHistory(t *testing.T) {
	ctx := context.Background()
	f := setup(t)

	if _, err := f.chat.Send(ctx, "c1@cafe.mg", "Bonjour", false); err != nil {
		t.Fatalf("send: %v", err)
	}
	m, err := f.chat.Send(ctx, "c1@cafe.mg", "Bonjour, que puis-je faire ?", true)
	if err != nil {
		t.Fatalf("admin send: %v", err)
	}
	if !m.SentByAdmin || m.ID == 0 {
		t.Fatalf("unexpected message: %+v", m)
	}

	history, err := f.chat.History(ctx, "c1@cafe.mg")
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 || history[0].Text != "Bonjour" {
		t.Fatalf("history must be oldest first: %+v", history)
	}

	events := f.notifier.byName(notify.EventChatMessage)
	if len(events) != 2 {
		t.Fatalf("expected 2 chat events, got %d", len(events))
	}
	ch := events[0].channels
	if len(ch) != 2 || ch[0] != notify.UserChannel("c1@cafe.mg") || ch[1] != notify.AdminChannel {
		t.Fatalf("chat must reach customer and admins: %v", ch)
	}
}

func TestChat_Rejects(t *testing.T) {
	ctx := context.Background()
	f := setup(t)
	if _, err := f.chat.Send(ctx, "ghost@cafe.mg", "allo", false); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if _, err := f.chat.Send(ctx, "c1@cafe.mg", "   ", false); !errors.Is(err, domain.ErrInvalidInput) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(f.notifier.byName(notify.EventChatMessage)) != 0 {
		t.Fatalf("rejected messages must not publish")
	}
}
