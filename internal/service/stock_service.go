package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"cafeorders/internal/domain"
	"cafeorders/internal/repository"
)

// StockService инкапсулирует операции со складом
type StockService struct {
	stock repository.StockLedger
	log   *slog.Logger
}

func NewStockService(stock repository.StockLedger, log *slog.Logger) *StockService {
	return &StockService{stock: stock, log: log}
}

func (s *StockService) List(ctx context.Context) ([]domain.Product, error) {
	return s.stock.List(ctx)
}

// AddStock пополняет остаток, создавая позицию при её отсутствии
func (s *StockService) AddStock(ctx context.Context, productType string, qty int64) (*domain.Product, error) {
	productType = strings.TrimSpace(productType)
	if productType == "" || qty <= 0 {
		return nil, fmt.Errorf("%w: type and positive quantity are required", ErrInvalidInput)
	}
	p, err := s.stock.UpsertAdd(ctx, productType, qty)
	if err != nil {
		return nil, err
	}
	s.log.Info("stock added", "type", productType, "added", qty, "quantity", p.Quantity)
	return p, nil
}
