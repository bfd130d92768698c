package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"

	"cafeorders/internal/domain"
	"cafeorders/internal/repository"
)

// DirectoryService справочник клиентов и курьеров
type DirectoryService struct {
	customers repository.CustomerRepository
	drivers   repository.DriverRepository
	cache     PositionCache
	log       *slog.Logger
}

// NewDirectoryService cache может быть nil
func NewDirectoryService(customers repository.CustomerRepository, drivers repository.DriverRepository, cache PositionCache, log *slog.Logger) *DirectoryService {
	return &DirectoryService{customers: customers, drivers: drivers, cache: cache, log: log}
}

func validEmail(email string) bool {
	addr, err := mail.ParseAddress(email)
	return err == nil && addr.Address == email
}

func (s *DirectoryService) RegisterCustomer(ctx context.Context, c domain.Customer) (*domain.Customer, error) {
	c.Email = strings.TrimSpace(c.Email)
	if !validEmail(c.Email) || strings.TrimSpace(c.Name) == "" {
		return nil, fmt.Errorf("%w: valid email and name are required", ErrInvalidInput)
	}
	if err := s.customers.Create(ctx, &c); err != nil {
		return nil, err
	}
	s.log.Info("customer registered", "customer", c.Email)
	return &c, nil
}

func (s *DirectoryService) GetCustomer(ctx context.Context, email string) (*domain.Customer, error) {
	return s.customers.GetByID(ctx, email)
}

// DeleteCustomer заказы клиента сохраняются с пустой ссылкой, сообщения удаляются
func (s *DirectoryService) DeleteCustomer(ctx context.Context, email string) error {
	if err := s.customers.Delete(ctx, email); err != nil {
		return err
	}
	s.log.Info("customer deleted", "customer", email)
	return nil
}

func (s *DirectoryService) RegisterDriver(ctx context.Context, d domain.Driver) (*domain.Driver, error) {
	d.Email = strings.TrimSpace(d.Email)
	d.Code = strings.TrimSpace(d.Code)
	if !validEmail(d.Email) || strings.TrimSpace(d.Name) == "" || d.Code == "" {
		return nil, fmt.Errorf("%w: valid email, name and code are required", ErrInvalidInput)
	}
	d.Position, d.PositionAt, d.Delivering = nil, nil, false
	if err := s.drivers.Create(ctx, &d); err != nil {
		return nil, err
	}
	s.log.Info("driver registered", "driver", d.Email)
	return &d, nil
}

func (s *DirectoryService) GetDriver(ctx context.Context, email string) (*domain.Driver, error) {
	return s.drivers.GetByID(ctx, email)
}

// DeleteDriver заказы курьера сохраняются с пустой ссылкой
func (s *DirectoryService) DeleteDriver(ctx context.Context, email string) error {
	if err := s.drivers.Delete(ctx, email); err != nil {
		return err
	}
	if s.cache != nil {
		if err := s.cache.DeletePosition(ctx, email); err != nil {
			s.log.Warn("position cache evict failed", "driver", email, "error", err)
		}
	}
	s.log.Info("driver deleted", "driver", email)
	return nil
}
