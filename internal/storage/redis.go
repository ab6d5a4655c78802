package storage

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	logx "postrelay/pkg/logx"
)

// redisDeliveries stores one key per delivery record. SETNX gives the
// check-then-claim atomicity the dispatch engine relies on.
type redisDeliveries struct {
	client *redis.Client
	prefix string
	log    logx.Logger
}

func openRedisDeliveries(cfg DeliveryConfig, log logx.Logger) (*redisDeliveries, error) {
	addr := strings.TrimSpace(cfg.RedisAddr)
	if addr == "" {
		return nil, errors.New("storage.delivery.redis_addr is required for redis driver")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return newRedisDeliveries(client, cfg.RedisPrefix, log), nil
}

func newRedisDeliveries(client *redis.Client, prefix string, log logx.Logger) *redisDeliveries {
	if prefix == "" {
		prefix = "postrelay:"
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	return &redisDeliveries{client: client, prefix: prefix, log: log}
}

func (s *redisDeliveries) key(k DeliveryKey) string {
	return s.prefix + "delivery:" + k.String()
}

func (s *redisDeliveries) Exists(ctx context.Context, k DeliveryKey) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(k)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisDeliveries) Claim(ctx context.Context, k DeliveryKey) error {
	return s.client.SetNX(ctx, s.key(k), time.Now().Unix(), 0).Err()
}

func (s *redisDeliveries) Unclaim(ctx context.Context, k DeliveryKey) error {
	return s.client.Del(ctx, s.key(k)).Err()
}

func (s *redisDeliveries) Close() error {
	return s.client.Close()
}
