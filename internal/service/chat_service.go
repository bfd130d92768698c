package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
	"cafeorders/internal/repository"
)

// ChatService чат клиента с администраторами
type ChatService struct {
	customers repository.CustomerRepository
	messages  repository.MessageRepository
	notifier  Notifier
	log       *slog.Logger
}

func NewChatService(customers repository.CustomerRepository, messages repository.MessageRepository, notifier Notifier, log *slog.Logger) *ChatService {
	return &ChatService{customers: customers, messages: messages, notifier: notifier, log: log}
}

// Send сохраняет сообщение и рассылает его клиенту и администраторам
func (s *ChatService) Send(ctx context.Context, customerID, text string, sentByAdmin bool) (*domain.ChatMessage, error) {
	customerID = strings.TrimSpace(customerID)
	if customerID == "" || strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: customer_id and text are required", ErrInvalidInput)
	}
	if _, err := s.customers.GetByID(ctx, customerID); err != nil {
		return nil, err
	}
	m := domain.ChatMessage{
		CustomerID:  domain.StringRef(customerID),
		Text:        text,
		SentByAdmin: sentByAdmin,
	}
	if err := s.messages.Create(ctx, &m); err != nil {
		return nil, err
	}
	s.log.Debug("chat message stored", "id", m.ID, "customer", customerID, "admin", sentByAdmin)
	s.notifier.Publish(notify.EventChatMessage, m, notify.UserChannel(customerID), notify.AdminChannel)
	return &m, nil
}

// History сообщения клиента, старые первыми
func (s *ChatService) History(ctx context.Context, customerID string) ([]domain.ChatMessage, error) {
	if strings.TrimSpace(customerID) == "" {
		return nil, fmt.Errorf("%w: customer is required", ErrInvalidInput)
	}
	return s.messages.ListByCustomer(ctx, customerID)
}
