package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"cafeorders/internal/domain"
	"cafeorders/internal/notify"
	"cafeorders/internal/repository"
)

const defaultAccuracy = 10

// PositionCache быстрый доступ к последним позициям курьеров (Redis).
// Positions возвращает nil, пока кеш не заполнен через Backfill.
type PositionCache interface {
	PutPosition(ctx context.Context, pos domain.DriverPosition) error
	Positions(ctx context.Context) ([]domain.DriverPosition, error)
	Backfill(ctx context.Context, positions []domain.DriverPosition) error
	DeletePosition(ctx context.Context, driverID string) error
}

// PositionReport позиция, присланная устройством курьера
type PositionReport struct {
	DriverID  string
	Latitude  float64
	Longitude float64
	Accuracy  float64
	OrderID   *int64
}

// TrackingService приём и раздача позиций курьеров
type TrackingService struct {
	store    *repository.Store
	cache    PositionCache
	notifier Notifier
	log      *slog.Logger
	group    singleflight.Group
	now      func() time.Time
}

// NewTrackingService cache может быть nil
func NewTrackingService(store *repository.Store, cache PositionCache, notifier Notifier, log *slog.Logger) *TrackingService {
	return &TrackingService{store: store, cache: cache, notifier: notifier, log: log, now: time.Now}
}

func (r PositionReport) validate() error {
	if r.DriverID == "" {
		return fmt.Errorf("%w: driver is required", ErrInvalidInput)
	}
	if r.Latitude < -90 || r.Latitude > 90 {
		return fmt.Errorf("%w: latitude out of range", ErrInvalidInput)
	}
	if r.Longitude < -180 || r.Longitude > 180 {
		return fmt.Errorf("%w: longitude out of range", ErrInvalidInput)
	}
	if r.Accuracy < 0 {
		return fmt.Errorf("%w: accuracy must not be negative", ErrInvalidInput)
	}
	return nil
}

// ReportPosition сохраняет позицию курьера и, если указан заказ, позицию заказа. Последняя запись выигрывает.
func (s *TrackingService) ReportPosition(ctx context.Context, r PositionReport) (*domain.DriverPosition, error) {
	if err := r.validate(); err != nil {
		return nil, err
	}
	if r.Accuracy == 0 {
		r.Accuracy = defaultAccuracy
	}
	pos := domain.Position{Latitude: r.Latitude, Longitude: r.Longitude, Accuracy: r.Accuracy}
	at := s.now()

	var out domain.DriverPosition
	err := s.store.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		d, err := s.store.Drivers.GetByID(ctx, r.DriverID)
		if err != nil {
			return err
		}
		if err := s.store.Drivers.UpdatePosition(ctx, r.DriverID, pos, r.OrderID != nil, at); err != nil {
			return err
		}
		if r.OrderID != nil {
			o, err := s.store.Orders.GetByID(ctx, *r.OrderID)
			if err != nil {
				return err
			}
			o.LastPosition = &pos
			o.LastPositionAt = &at
			if err := s.store.Orders.Update(ctx, o); err != nil {
				return err
			}
		}
		out = domain.DriverPosition{
			DriverID:   d.Email,
			Name:       d.Name,
			Contact:    d.Contact,
			Latitude:   pos.Latitude,
			Longitude:  pos.Longitude,
			Accuracy:   pos.Accuracy,
			OrderID:    r.OrderID,
			Timestamp:  at,
			Delivering: r.OrderID != nil,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.notifier.Publish(notify.EventDriverPosition, out, notify.AdminChannel)
	if s.cache != nil {
		if err := s.cache.PutPosition(ctx, out); err != nil {
			s.log.Warn("position cache write failed", "driver", r.DriverID, "error", err)
		}
	}
	return &out, nil
}

// ListDriverPositions позиции всех курьеров. Одновременные запросы объединяются в один.
// При промахе кеш заполняется из базы.
func (s *TrackingService) ListDriverPositions(ctx context.Context) ([]domain.DriverPosition, error) {
	v, err, _ := s.group.Do("positions", func() (any, error) {
		if s.cache == nil {
			return s.positionsFromStore(ctx)
		}
		cached, err := s.cache.Positions(ctx)
		if err != nil {
			s.log.Warn("position cache read failed", "error", err)
			return s.positionsFromStore(ctx)
		}
		if cached != nil {
			return cached, nil
		}
		fresh, err := s.positionsFromStore(ctx)
		if err != nil {
			return nil, err
		}
		if err := s.cache.Backfill(ctx, fresh); err != nil {
			s.log.Warn("position cache backfill failed", "error", err)
		}
		return fresh, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.DriverPosition), nil
}

func (s *TrackingService) positionsFromStore(ctx context.Context) ([]domain.DriverPosition, error) {
	drivers, err := s.store.Drivers.ListWithPosition(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]domain.DriverPosition, 0, len(drivers))
	for _, d := range drivers {
		p := domain.DriverPosition{
			DriverID:   d.Email,
			Name:       d.Name,
			Contact:    d.Contact,
			Latitude:   d.Position.Latitude,
			Longitude:  d.Position.Longitude,
			Accuracy:   d.Position.Accuracy,
			Delivering: d.Delivering,
		}
		if d.PositionAt != nil {
			p.Timestamp = *d.PositionAt
		}
		out = append(out, p)
	}
	return out, nil
}
