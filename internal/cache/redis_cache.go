package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	redis "github.com/redis/go-redis/v9"

	"smartcredit/backend/internal/domain"
)

const creditBoardPrefix = "smartcredit:credit-board:"

type RedisCreditBoardCache struct {
	client *redis.Client
}

func NewRedisCreditBoardCache(addr string, password string, db int) *RedisCreditBoardCache {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	return &RedisCreditBoardCache{client: client}
}

func (c *RedisCreditBoardCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisCreditBoardCache) Close() error {
	return c.client.Close()
}

func (c *RedisCreditBoardCache) Get(ctx context.Context, day string) ([]domain.CreditStatus, bool, error) {
	val, err := c.client.Get(ctx, creditBoardPrefix+day).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}

	var board []domain.CreditStatus
	if err := json.Unmarshal(val, &board); err != nil {
		return nil, false, err
	}
	return board, true, nil
}

func (c *RedisCreditBoardCache) Set(ctx context.Context, day string, board []domain.CreditStatus, ttl time.Duration) error {
	payload, err := json.Marshal(board)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, creditBoardPrefix+day, payload, ttl).Err()
}

// Invalidate drops every cached day.
func (c *RedisCreditBoardCache) Invalidate(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, creditBoardPrefix+"*", 100).Iterator()
	keys := make([]string, 0)
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}
	return c.client.Del(ctx, keys...).Err()
}
