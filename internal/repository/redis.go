package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"

	"cafeorders/internal/config"
	"cafeorders/internal/domain"
)

const (
	positionsKey = "driver_positions"
	positionsTTL = 24 * time.Hour
	// completeField отмечает, что хеш заполнен из базы целиком. Без '@' он не совпадёт с email курьера.
	completeField = "_complete"
)

// RedisPositionCache последние позиции курьеров в одном хеше: поле = email курьера.
// Хеш без completeField считается промахом, даже если в нём уже есть отдельные записи.
type RedisPositionCache struct {
	client *redis.Client
}

func NewRedisPositionCache(ctx context.Context, cfg config.RedisConfig) (*RedisPositionCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	if _, err := client.Ping(ctx).Result(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &RedisPositionCache{client: client}, nil
}

func (c *RedisPositionCache) Close() error {
	return c.client.Close()
}

func (c *RedisPositionCache) PutPosition(ctx context.Context, pos domain.DriverPosition) error {
	data, err := json.Marshal(pos)
	if err != nil {
		return err
	}
	pipe := c.client.TxPipeline()
	pipe.HSet(ctx, positionsKey, pos.DriverID, data)
	pipe.Expire(ctx, positionsKey, positionsTTL)
	_, err = pipe.Exec(ctx)
	return err
}

// Positions возвращает nil без ошибки, если кеш не прогрет
func (c *RedisPositionCache) Positions(ctx context.Context) ([]domain.DriverPosition, error) {
	fields, err := c.client.HGetAll(ctx, positionsKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	if _, ok := fields[completeField]; !ok {
		return nil, nil
	}
	delete(fields, completeField)

	out := make([]domain.DriverPosition, 0, len(fields))
	for _, raw := range fields {
		var pos domain.DriverPosition
		if err := json.Unmarshal([]byte(raw), &pos); err != nil {
			return nil, err
		}
		out = append(out, pos)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DriverID < out[j].DriverID })
	return out, nil
}

// Backfill заполняет хеш снимком из базы. HSETNX не затирает позиции, записанные после снимка.
func (c *RedisPositionCache) Backfill(ctx context.Context, positions []domain.DriverPosition) error {
	pipe := c.client.TxPipeline()
	for _, pos := range positions {
		data, err := json.Marshal(pos)
		if err != nil {
			return err
		}
		pipe.HSetNX(ctx, positionsKey, pos.DriverID, data)
	}
	pipe.HSet(ctx, positionsKey, completeField, "1")
	pipe.Expire(ctx, positionsKey, positionsTTL)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisPositionCache) DeletePosition(ctx context.Context, driverID string) error {
	return c.client.HDel(ctx, positionsKey, driverID).Err()
}
